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

//go:build unix

package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/yprocmon/yprocmon"
	"github.com/yprocmon/yprocmon/samples"
)

type fakeHistory struct {
	ops []yprocmon.Operation
}

func (f *fakeHistory) Since(t time.Time, limit int) ([]yprocmon.Operation, error) {
	rv := []yprocmon.Operation{}
	for _, op := range f.ops {
		if op.Time.After(t) && (limit == 0 || len(rv) < limit) {
			rv = append(rv, op)
		}
	}
	return rv, nil
}

func getJson(url string, v interface{}) (*http.Response, error) {
	res, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	return res, json.NewDecoder(res.Body).Decode(v)
}

func TestServer(t *testing.T) {
	logger, hook := test.NewNullLogger()
	ctx := context.Background()

	Convey("Given a control API server", t, func() {
		ops := yprocmon.NewOperationLog(100)
		reg := yprocmon.NewRegistry(yprocmon.WithName("test"),
			yprocmon.WithLogger(logger), yprocmon.WithOperations(ops))
		launcher := yprocmon.NewLauncher(yprocmon.WithLogger(logger),
			yprocmon.WithOperations(ops))
		tasks := yprocmon.NewTasks(launcher, reg, time.Second*5)
		store, err := samples.NewStore(filepath.Join(t.TempDir(), "samples"))
		So(err, ShouldBeNil)
		www := t.TempDir()
		So(os.WriteFile(filepath.Join(www, "index.html"), []byte("<html>hi</html>"), 0644), ShouldBeNil)

		metrics := yprocmon.NewPrometheusMetricsCollector("")
		h := NewHandler(reg, tasks,
			WithOperations(ops),
			WithSamples(store),
			WithMetrics(metrics.Handler()),
			WithStatic(www),
			WithLogger(logger))
		srv := httptest.NewServer(h)
		c := NewClient(nil, srv.URL)
		api := srv.URL + "/api/"
		Reset(func() {
			srv.Close()
			tasks.Close()
			reg.Shutdown(context.Background())
		})

		Convey("Ping answers with CORS headers", func() {
			p := &Ping{}
			res, err := getJson(api+"ping", p)
			So(err, ShouldBeNil)
			So(p.Ping, ShouldBeTrue)
			So(res.Header.Get("Access-Control-Allow-Origin"), ShouldEqual, "*")
			So(c.Ping(ctx), ShouldBeNil)
		})

		Convey("Requests are logged", func() {
			hook.Reset()
			So(c.Ping(ctx), ShouldBeNil)

			// The entry is written after the reply goes out.
			var found *logrus.Entry
			for i := 0; i < 100 && found == nil; i++ {
				for _, e := range hook.AllEntries() {
					if e.Message == "Request" && e.Data["path"] == "/api/ping" {
						found = e
					}
				}
				time.Sleep(time.Millisecond * 10)
			}
			So(found, ShouldNotBeNil)
			So(found.Data["method"], ShouldEqual, "GET")
			So(found.Data["status"], ShouldEqual, http.StatusOK)
		})

		Convey("Preflight requests are answered", func() {
			req, _ := http.NewRequest("OPTIONS", api+"run", nil)
			res, err := http.DefaultClient.Do(req)
			So(err, ShouldBeNil)
			res.Body.Close()
			So(res.StatusCode, ShouldEqual, http.StatusNoContent)
			So(res.Header.Get("Access-Control-Allow-Methods"), ShouldContainSubstring, "POST")
		})

		Convey("Status describes the registry", func() {
			info, err := c.Status(ctx)
			So(err, ShouldBeNil)
			So(info.Name, ShouldEqual, "test")
			So(info.Instances, ShouldEqual, 0)
		})

		Convey("Run without a name fails", func() {
			res, err := http.PostForm(api+"run", url.Values{"command": {"true"}})
			So(err, ShouldBeNil)
			defer res.Body.Close()
			So(res.StatusCode, ShouldEqual, http.StatusInternalServerError)
			rr := RunResult{Run: true}
			So(json.NewDecoder(res.Body).Decode(&rr), ShouldBeNil)
			So(rr.Run, ShouldBeFalse)
		})

		Convey("Run without a name fails before other arguments are checked", func() {
			res, err := http.PostForm(api+"run", url.Values{"command": {"true"}, "wait": {"maybe"}})
			So(err, ShouldBeNil)
			defer res.Body.Close()
			So(res.StatusCode, ShouldEqual, http.StatusInternalServerError)
			rr := RunResult{Run: true}
			So(json.NewDecoder(res.Body).Decode(&rr), ShouldBeNil)
			So(rr.Run, ShouldBeFalse)
			So(rr.Message, ShouldEqual, yprocmon.ErrNoName.Error())
		})

		Convey("Run of a missing binary fails and lists nothing", func() {
			_, err := c.Run(ctx, "x", "/nonexistent/binary")
			So(err, ShouldNotBeNil)
			var e *Error
			So(errors.As(err, &e), ShouldBeTrue)
			So(e.Code, ShouldEqual, http.StatusInternalServerError)
			So(e.Message, ShouldContainSubstring, "not found")

			list, err := c.Instances(ctx)
			So(err, ShouldBeNil)
			So(list, ShouldBeEmpty)
		})

		Convey("A launched instance can be listed and stopped", func() {
			info, err := c.Run(ctx, "sleeper", "sleep 30")
			So(err, ShouldBeNil)
			So(info.PID, ShouldBeGreaterThan, 0)
			So(info.Name, ShouldEqual, "sleeper")
			So(info.Status, ShouldEqual, yprocmon.StatusRunning)

			list, err := c.Instances(ctx)
			So(err, ShouldBeNil)
			So(len(list), ShouldEqual, 1)
			So(list[0].PID, ShouldEqual, info.PID)

			one, err := c.Instance(ctx, info.PID)
			So(err, ShouldBeNil)
			So(one.Command, ShouldEqual, "sleep 30")

			st, err := c.Stats(ctx, info.PID)
			So(err, ShouldBeNil)
			So(st.PID, ShouldEqual, info.PID)

			So(c.Stop(ctx, info.PID), ShouldBeNil)
			list, err = c.Instances(ctx)
			So(err, ShouldBeNil)
			So(list, ShouldBeEmpty)

			err = c.Stop(ctx, info.PID)
			var e *Error
			So(errors.As(err, &e), ShouldBeTrue)
			So(e.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Unknown instances are not found", func() {
			_, err := c.Instance(ctx, 999999)
			var e *Error
			So(errors.As(err, &e), ShouldBeTrue)
			So(e.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Stop needs a process id", func() {
			res, err := http.PostForm(api+"stop", url.Values{"pid": {"bogus"}})
			So(err, ShouldBeNil)
			res.Body.Close()
			So(res.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Launches can run as tasks", func() {
			task, err := c.Submit(ctx, "sleeper", "sleep 30")
			So(err, ShouldBeNil)
			So(task.ID, ShouldNotBeEmpty)

			deadline := time.Now().Add(time.Second * 10)
			for !task.State.Done() && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond * 20)
				task, err = c.Task(ctx, task.ID)
				So(err, ShouldBeNil)
			}
			So(task.State, ShouldEqual, yprocmon.TaskSucceeded)
			So(task.PID, ShouldBeGreaterThan, 0)

			_, err = c.Task(ctx, "nope")
			So(err, ShouldNotBeNil)
		})

		Convey("The instance list carries an Etag", func() {
			res, err := http.Get(api + "instances")
			So(err, ShouldBeNil)
			res.Body.Close()
			etag := res.Header.Get("Etag")
			So(etag, ShouldNotBeEmpty)
			lm, err := http.ParseTime(res.Header.Get("Last-Modified"))
			So(err, ShouldBeNil)
			So(lm.After(time.Now().Add(time.Minute)), ShouldBeFalse)

			req, _ := http.NewRequest("GET", api+"instances", nil)
			req.Header.Set("If-None-Match", etag)
			res, err = http.DefaultClient.Do(req)
			So(err, ShouldBeNil)
			res.Body.Close()
			So(res.StatusCode, ShouldEqual, http.StatusNotModified)
		})

		Convey("Watching the list wakes up on a change", func() {
			_, etag, err := c.WatchInstances(ctx, "")
			So(err, ShouldBeNil)
			So(etag, ShouldNotBeEmpty)

			go func() {
				time.Sleep(time.Millisecond * 50)
				reg.Insert(yprocmon.NewInstance(424242, "fake", ""))
			}()
			wctx, cancel := context.WithTimeout(ctx, time.Second*10)
			defer cancel()
			list, etag2, err := c.WatchInstances(wctx, etag)
			So(err, ShouldBeNil)
			So(etag2, ShouldNotEqual, etag)
			So(len(list), ShouldEqual, 1)
			So(list[0].PID, ShouldEqual, 424242)
			reg.Remove(424242)
		})

		Convey("Output can be read back", func() {
			info, err := c.Run(ctx, "talk", `sh -c 'echo hello; sleep 30'`)
			So(err, ShouldBeNil)

			lctx, cancel := context.WithTimeout(ctx, time.Second*10)
			defer cancel()
			log, err := c.Log(lctx, info.PID)
			So(err, ShouldBeNil)
			for len(log.Records) == 0 {
				log, err = c.WatchLog(lctx, info.PID, log)
				So(err, ShouldBeNil)
			}
			So(log.Records[0].Text, ShouldEqual, "stdout> hello")
		})

		Convey("Operations are listed and can be reported", func() {
			before := time.Now().Add(-time.Second)
			op, err := c.Report(ctx, Report{PID: 7, Type: "CreateFileW",
				Detail: map[string]string{"path": `C:\x`}})
			So(err, ShouldBeNil)
			So(op.ID, ShouldNotBeEmpty)
			So(op.Type, ShouldEqual, yprocmon.OperationType("CreateFileW"))

			list, err := c.Operations(ctx, before)
			So(err, ShouldBeNil)
			So(len(list), ShouldEqual, 1)
			So(list[0].Detail["path"], ShouldEqual, `C:\x`)

			list, err = c.Operations(ctx, op.Time.Add(time.Second))
			So(err, ShouldBeNil)
			So(list, ShouldBeEmpty)
		})

		Convey("Malformed operations are rejected", func() {
			res, err := http.Post(api+"operations", mimeJson, strings.NewReader("{"))
			So(err, ShouldBeNil)
			res.Body.Close()
			So(res.StatusCode, ShouldEqual, http.StatusBadRequest)

			res, err = http.Post(api+"operations", mimeJson, strings.NewReader(`{"pid": 1}`))
			So(err, ShouldBeNil)
			res.Body.Close()
			So(res.StatusCode, ShouldEqual, http.StatusBadRequest)

			res, err = http.Get(api + "operations?after=yesterday")
			So(err, ShouldBeNil)
			res.Body.Close()
			So(res.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("History is off without an archive", func() {
			_, err := c.History(ctx, time.Time{}, 0)
			var e *Error
			So(errors.As(err, &e), ShouldBeTrue)
			So(e.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Uploads never overwrite", func() {
			a, err := c.Upload(ctx, "sample.bin", strings.NewReader("one"))
			So(err, ShouldBeNil)
			So(a.Name, ShouldEqual, "sample.bin")
			b, err := c.Upload(ctx, "sample.bin", strings.NewReader("two"))
			So(err, ShouldBeNil)
			So(b.Name, ShouldEqual, "sample-1.bin")
			So(b.Digest, ShouldNotEqual, a.Digest)

			files, err := c.Files(ctx)
			So(err, ShouldBeNil)
			So(len(files), ShouldEqual, 2)
		})

		Convey("An upload without a file is rejected", func() {
			res, err := http.Post(api+"upload", "text/plain", strings.NewReader("x"))
			So(err, ShouldBeNil)
			defer res.Body.Close()
			So(res.StatusCode, ShouldEqual, http.StatusBadRequest)
			ue := UploadError{}
			So(json.NewDecoder(res.Body).Decode(&ue), ShouldBeNil)
			So(ue.Error, ShouldBeTrue)
		})

		Convey("An uploaded sample can be run", func() {
			_, err := c.Upload(ctx, "hello.sh", strings.NewReader("#!/bin/sh\necho sample\n"))
			So(err, ShouldBeNil)
			So(os.Chmod(filepath.Join(store.Dir(), "hello.sh"), 0755), ShouldBeNil)
			info, err := c.RunSample(ctx, "hello", "hello.sh")
			So(err, ShouldBeNil)
			So(info.Path, ShouldEndWith, "hello.sh")
		})

		Convey("Metrics are served", func() {
			res, err := http.Get(srv.URL + "/metrics")
			So(err, ShouldBeNil)
			defer res.Body.Close()
			So(res.StatusCode, ShouldEqual, http.StatusOK)
		})

		Convey("Static files are served", func() {
			res, err := http.Get(srv.URL + "/")
			So(err, ShouldBeNil)
			defer res.Body.Close()
			b, _ := io.ReadAll(res.Body)
			So(string(b), ShouldEqual, "<html>hi</html>")
		})
	})

	Convey("History comes from the archive", t, func() {
		base := time.Now().Add(-time.Hour)
		hist := &fakeHistory{ops: []yprocmon.Operation{
			{ID: "a", Time: base, Type: yprocmon.OpSpawn},
			{ID: "b", Time: base.Add(time.Minute), Type: yprocmon.OpExit},
		}}
		reg := yprocmon.NewRegistry(yprocmon.WithLogger(logger))
		tasks := yprocmon.NewTasks(yprocmon.NewLauncher(yprocmon.WithLogger(logger)), reg, 0)
		srv := httptest.NewServer(NewHandler(reg, tasks, WithHistory(hist), WithLogger(logger)))
		defer srv.Close()
		defer tasks.Close()
		c := NewClient(nil, srv.URL)

		ops, err := c.History(ctx, time.Time{}, 0)
		So(err, ShouldBeNil)
		So(len(ops), ShouldEqual, 2)

		ops, err = c.History(ctx, base.Add(time.Second), 0)
		So(err, ShouldBeNil)
		So(len(ops), ShouldEqual, 1)
		So(ops[0].ID, ShouldEqual, "b")
	})

	Convey("The after parameter takes fractional seconds", t, func() {
		r := httptest.NewRequest("GET", "/api/operations?after=1700000000.5", nil)
		ts, ok := parseAfter(r)
		So(ok, ShouldBeTrue)
		So(ts.Unix(), ShouldEqual, 1700000000)
		So(ts.Nanosecond(), ShouldEqual, 500000000)

		r = httptest.NewRequest("GET", "/api/operations", nil)
		ts, ok = parseAfter(r)
		So(ok, ShouldBeTrue)
		So(ts.IsZero(), ShouldBeTrue)
	})
}
