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

// Package samples stores files uploaded through the control API, so that
// they can be launched later.  Names never collide: a second upload with a
// name already in use is stored under name-1.ext, name-2.ext and so on.
package samples

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// MaxSuffix bounds how many renamed copies of one name are tried.
const MaxSuffix = 10000

var (
	ErrBadName  = errors.New("Invalid sample name")
	ErrNoSample = errors.New("No such sample")
	ErrTooMany  = errors.New("Too many samples with the same name")
)

// FileInfo describes a stored sample.
type FileInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Digest   string    `json:"digest,omitempty"`
}

// Store is a directory of samples.  It is safe for concurrent use; it keeps
// no state besides the directory itself.
type Store struct {
	dir  string
	mode os.FileMode
}

// NewStore returns a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Store{dir: dir, mode: 0755}, nil
}

// Dir returns the directory the store lives in.
func (s *Store) Dir() string {
	return s.dir
}

// cleanName reduces name to a plain base name, rejecting anything that
// would not be a regular entry of the directory.
func cleanName(name string) (string, error) {
	name = filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
	switch name {
	case "", ".", "..", "/":
		return "", ErrBadName
	}
	if strings.ContainsRune(name, 0) {
		return "", ErrBadName
	}
	return name, nil
}

func suffixed(name string, n int) string {
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		// Dot files like ".profile" have no stem to speak of.
		return fmt.Sprintf("%s-%d", name, n)
	}
	return fmt.Sprintf("%s-%d%s", stem, n, ext)
}

// Save stores the contents of r under name, or a suffixed variant if name is
// already taken, and returns what was stored.  A partially written file is
// removed on error.
func (s *Store) Save(name string, r io.Reader) (FileInfo, error) {
	base, err := cleanName(name)
	if err != nil {
		return FileInfo{}, err
	}

	var f *os.File
	var stored string
	for n := 0; n < MaxSuffix; n++ {
		stored = suffixed(base, n)
		f, err = os.OpenFile(filepath.Join(s.dir, stored),
			os.O_WRONLY|os.O_CREATE|os.O_EXCL, s.mode)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return FileInfo{}, err
		}
	}
	if f == nil {
		return FileInfo{}, ErrTooMany
	}

	h, _ := blake2b.New256(nil)
	size, err := io.Copy(io.MultiWriter(f, h), r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return FileInfo{}, err
	}
	fi, err := os.Stat(f.Name())
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		Name:     stored,
		Size:     size,
		Modified: fi.ModTime(),
		Digest:   hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// Digest returns the BLAKE2b-256 digest of the named sample, in hex.
func (s *Store) Digest(name string) (string, error) {
	path, err := s.Path(name)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h, _ := blake2b.New256(nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// List returns the stored samples sorted by name.  Digests are only
// computed when digests is true, as that reads every file.
func (s *Store) List(digests bool) ([]FileInfo, error) {
	ents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	rv := make([]FileInfo, 0, len(ents))
	for _, e := range ents {
		if !e.Type().IsRegular() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			// Removed while we were looking.
			continue
		}
		info := FileInfo{
			Name:     e.Name(),
			Size:     fi.Size(),
			Modified: fi.ModTime(),
		}
		if digests {
			if info.Digest, err = s.Digest(e.Name()); err != nil {
				continue
			}
		}
		rv = append(rv, info)
	}
	sort.Slice(rv, func(i, j int) bool {
		return rv[i].Name < rv[j].Name
	})
	return rv, nil
}

// Path returns the absolute path of the named sample, for launching it.
func (s *Store) Path(name string) (string, error) {
	base, err := cleanName(name)
	if err != nil {
		return "", err
	}
	path, err := filepath.Abs(filepath.Join(s.dir, base))
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return "", ErrNoSample
	}
	return path, nil
}

// Remove deletes the named sample.
func (s *Store) Remove(name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}
