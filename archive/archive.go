// Copyright 2026 The Yprocmon Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package archive keeps operations in a SQLite database, so that history
// outlives the bounded in-memory operation log and daemon restarts.
package archive

import (
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/yprocmon/yprocmon"
)

// DefaultLimit is how many rows Since returns when no limit is given.
const DefaultLimit = 1000

// row is an operation as stored in the database.
type row struct {
	ID     string `db:"id"`
	Time   int64  `db:"time"` // unix nanoseconds
	PID    int    `db:"pid"`
	Name   string `db:"name"`
	Type   string `db:"type"`
	Detail string `db:"detail"` // JSON object, or empty
}

func (r *row) operation() yprocmon.Operation {
	op := yprocmon.Operation{
		ID:   r.ID,
		Time: time.Unix(0, r.Time),
		PID:  r.PID,
		Name: r.Name,
		Type: yprocmon.OperationType(r.Type),
	}
	if r.Detail != "" {
		// Rows are only written by Record, so this does not fail.
		json.Unmarshal([]byte(r.Detail), &op.Detail)
	}
	return op
}

// Archive is an operation Sink backed by SQLite.
type Archive struct {
	db *sqlx.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Archive, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	if err := DBInit(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Archive{db: db}, nil
}

// DBInit creates the operations table and its indexes.
func DBInit(db *sqlx.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS operations (
		id TEXT PRIMARY KEY,
		time INTEGER NOT NULL,
		pid INTEGER NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		detail TEXT NOT NULL
	)
	`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_operations_time ON operations(time)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_operations_pid ON operations(pid)`)
	return err
}

// Record implements yprocmon.Sink.
func (a *Archive) Record(op yprocmon.Operation) error {
	detail := ""
	if len(op.Detail) != 0 {
		b, err := json.Marshal(op.Detail)
		if err != nil {
			return err
		}
		detail = string(b)
	}
	_, err := a.db.Exec(`
		INSERT OR REPLACE INTO operations (id, time, pid, name, type, detail)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		op.ID, op.Time.UnixNano(), op.PID, op.Name, string(op.Type), detail)
	return err
}

// Since returns up to limit operations strictly after t, oldest first.
func (a *Archive) Since(t time.Time, limit int) ([]yprocmon.Operation, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	var rows []row
	err := a.db.Select(&rows,
		"SELECT * FROM operations WHERE time > $1 ORDER BY time ASC, rowid ASC LIMIT $2",
		t.UnixNano(), limit)
	if err != nil {
		return nil, err
	}
	return operations(rows), nil
}

// ByPID returns up to limit of the most recent operations for pid, oldest
// first.
func (a *Archive) ByPID(pid int, limit int) ([]yprocmon.Operation, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	var rows []row
	err := a.db.Select(&rows, `
		SELECT id, time, pid, name, type, detail FROM (
			SELECT *, rowid AS seq FROM operations WHERE pid = $1
			ORDER BY time DESC, rowid DESC LIMIT $2
		) ORDER BY time ASC, seq ASC`,
		pid, limit)
	if err != nil {
		return nil, err
	}
	return operations(rows), nil
}

// Count returns the number of archived operations.
func (a *Archive) Count() (int, error) {
	var n int
	err := a.db.Get(&n, "SELECT COUNT(*) FROM operations")
	return n, err
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

func operations(rows []row) []yprocmon.Operation {
	rv := make([]yprocmon.Operation, 0, len(rows))
	for i := range rows {
		rv = append(rv, rows[i].operation())
	}
	return rv
}
