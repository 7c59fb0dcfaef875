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

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yprocmon/yprocmon"
	"github.com/yprocmon/yprocmon/samples"
)

// LogInfo is a cached copy of an instance log.
type LogInfo struct {
	etag    string
	Records []yprocmon.LogRecord
}

// Client talks to a yprocmond.  It caches the instance list and logs, so
// that watching them only transfers changes.
type Client struct {
	base      string // URI to root of tree on server
	client    *http.Client
	transport *http.Transport

	// Cached data
	instances []yprocmon.InstanceInfo
	etag      string // etag for list of instances
	logs      map[int]*LogInfo
	lock      sync.Mutex
}

func (c *Client) url(path string, q url.Values) string {
	u := c.base + "/api/" + path
	if len(q) != 0 {
		u += "?" + q.Encode()
	}
	return u
}

// poll issues an HTTP GET against the URL, optionally checking for a cache,
// including optionally issuing a long poll that tries to wait until the
// value changes.  The return values are the new Etag and any error.  If the
// value did not change, then the returned etag will be "", but the error will
// be nil.
func (c *Client) poll(ctx context.Context, url string, etag string, wait int, v interface{}) (string, error) {
	req, e := http.NewRequestWithContext(ctx, "GET", url, nil)
	if e != nil {
		return "", e
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
		if wait > 0 {
			req.Header.Set(PollEtagHeader, etag)
			req.Header.Set(PollTimeHeader, strconv.Itoa(wait))
		}
	}
	res, e := c.client.Do(req)
	if e != nil {
		return "", e
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotModified {
		return "", nil
	}
	if res.StatusCode != http.StatusOK {
		return "", readError(res)
	}
	if e := json.NewDecoder(res.Body).Decode(v); e != nil {
		return "", e
	}
	return res.Header.Get("Etag"), nil
}

// readError turns a failed response into an *Error, keeping the server's
// message when there is one.
func readError(res *http.Response) error {
	e := &Error{Code: res.StatusCode, Message: res.Status}
	body, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	var msg struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &msg) == nil && msg.Message != "" {
		e.Message = msg.Message
	}
	return e
}

// do sends req and decodes a response with one of the accepted status
// codes into v.
func (c *Client) do(req *http.Request, v interface{}, accept ...int) (int, error) {
	res, e := c.client.Do(req)
	if e != nil {
		return 0, e
	}
	defer res.Body.Close()
	for _, code := range accept {
		if res.StatusCode == code {
			if v == nil {
				return code, nil
			}
			return code, json.NewDecoder(res.Body).Decode(v)
		}
	}
	return res.StatusCode, readError(res)
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, v interface{}, accept ...int) (int, error) {
	req, e := http.NewRequestWithContext(ctx, "POST", c.url(path, nil),
		strings.NewReader(form.Encode()))
	if e != nil {
		return 0, e
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, v, accept...)
}

func (c *Client) get(ctx context.Context, path string, q url.Values, v interface{}) error {
	_, e := c.poll(ctx, c.url(path, q), "", 0, v)
	return e
}

// Ping checks that the server is up.
func (c *Client) Ping(ctx context.Context) error {
	p := &Ping{}
	if e := c.get(ctx, "ping", nil, p); e != nil {
		return e
	}
	if !p.Ping {
		return fmt.Errorf("server did not answer ping")
	}
	return nil
}

// Status returns the registry summary.
func (c *Client) Status(ctx context.Context) (*yprocmon.RegistryInfo, error) {
	info := &yprocmon.RegistryInfo{}
	if e := c.get(ctx, "status", nil, info); e != nil {
		return nil, e
	}
	return info, nil
}

func (c *Client) pollInstances(ctx context.Context, secs int) ([]yprocmon.InstanceInfo, string, error) {
	v := []yprocmon.InstanceInfo{}

	c.lock.Lock()
	otag := c.etag
	old := c.instances
	c.lock.Unlock()

	if otag == "" {
		secs = 0
	}
	etag, e := c.poll(ctx, c.url("instances", nil), otag, secs, &v)
	if e != nil {
		return nil, "", e
	}
	if etag == "" || etag == otag {
		return old, otag, nil
	}
	c.lock.Lock()
	c.etag = etag
	c.instances = v
	c.lock.Unlock()
	return v, etag, nil
}

// Instances returns the current instance list.
func (c *Client) Instances(ctx context.Context) ([]yprocmon.InstanceInfo, error) {
	list, _, e := c.pollInstances(ctx, 0)
	return list, e
}

// WatchInstances waits for the instance list to differ from the one tagged
// etag, and returns the new list and its tag.  An empty etag, or one that is
// already stale, returns right away.
func (c *Client) WatchInstances(ctx context.Context, etag string) ([]yprocmon.InstanceInfo, string, error) {
	c.lock.Lock()
	if c.etag != "" && c.etag != etag {
		list, tag := c.instances, c.etag
		c.lock.Unlock()
		return list, tag, nil
	}
	c.lock.Unlock()
	return c.pollInstances(ctx, MaxPollTime)
}

// Instance returns one instance.
func (c *Client) Instance(ctx context.Context, pid int) (*yprocmon.InstanceInfo, error) {
	info := &yprocmon.InstanceInfo{}
	if e := c.get(ctx, "instances/"+strconv.Itoa(pid), nil, info); e != nil {
		return nil, e
	}
	return info, nil
}

// Stats returns OS level statistics for a running instance.
func (c *Client) Stats(ctx context.Context, pid int) (*yprocmon.ProcessStats, error) {
	st := &yprocmon.ProcessStats{}
	if e := c.get(ctx, "instances/"+strconv.Itoa(pid)+"/stats", nil, st); e != nil {
		return nil, e
	}
	return st, nil
}

// Run launches command as name and waits until it is up.  An empty
// command runs name.
func (c *Client) Run(ctx context.Context, name string, command string) (*yprocmon.InstanceInfo, error) {
	info := &yprocmon.InstanceInfo{}
	form := url.Values{"name": {name}, "command": {command}}
	if _, e := c.postForm(ctx, "run", form, info, http.StatusOK); e != nil {
		return nil, e
	}
	return info, nil
}

// RunSample launches an uploaded sample.
func (c *Client) RunSample(ctx context.Context, name string, sample string) (*yprocmon.InstanceInfo, error) {
	info := &yprocmon.InstanceInfo{}
	form := url.Values{"name": {name}, "sample": {sample}}
	if _, e := c.postForm(ctx, "run", form, info, http.StatusOK); e != nil {
		return nil, e
	}
	return info, nil
}

// Submit starts a launch without waiting for it.
func (c *Client) Submit(ctx context.Context, name string, command string) (*yprocmon.TaskInfo, error) {
	task := &yprocmon.TaskInfo{}
	form := url.Values{"name": {name}, "command": {command}, "wait": {"false"}}
	if _, e := c.postForm(ctx, "run", form, task, http.StatusAccepted); e != nil {
		return nil, e
	}
	return task, nil
}

// Task returns the state of a launch task.
func (c *Client) Task(ctx context.Context, id string) (*yprocmon.TaskInfo, error) {
	task := &yprocmon.TaskInfo{}
	if e := c.get(ctx, "tasks/"+url.PathEscape(id), nil, task); e != nil {
		return nil, e
	}
	return task, nil
}

// CancelTask abandons a launch task.
func (c *Client) CancelTask(ctx context.Context, id string) (*yprocmon.TaskInfo, error) {
	task := &yprocmon.TaskInfo{}
	if _, e := c.postForm(ctx, "tasks/"+url.PathEscape(id)+"/cancel", nil, task, http.StatusOK); e != nil {
		return nil, e
	}
	return task, nil
}

// Stop terminates an instance and removes it from the registry.
func (c *Client) Stop(ctx context.Context, pid int) error {
	form := url.Values{"pid": {strconv.Itoa(pid)}}
	_, e := c.postForm(ctx, "stop", form, nil, http.StatusOK)
	return e
}

func afterParam(after time.Time) url.Values {
	if after.IsZero() {
		return nil
	}
	secs := float64(after.UnixNano()) / 1e9
	return url.Values{"after": {strconv.FormatFloat(secs, 'f', 6, 64)}}
}

// Operations returns the operations recorded after the given time.  A
// zero time returns all of them.
func (c *Client) Operations(ctx context.Context, after time.Time) ([]yprocmon.Operation, error) {
	ops := []yprocmon.Operation{}
	if e := c.get(ctx, "operations", afterParam(after), &ops); e != nil {
		return nil, e
	}
	return ops, nil
}

// WatchOperations waits for the operation log to change from etag, then
// returns the operations after the given time and the new tag.
func (c *Client) WatchOperations(ctx context.Context, after time.Time, etag string) ([]yprocmon.Operation, string, error) {
	ops := []yprocmon.Operation{}
	tag, e := c.poll(ctx, c.url("operations", afterParam(after)), etag, MaxPollTime, &ops)
	if e != nil {
		return nil, "", e
	}
	if tag == "" {
		return []yprocmon.Operation{}, etag, nil
	}
	return ops, tag, nil
}

// Report records an operation, as an instrumented process would.
func (c *Client) Report(ctx context.Context, rep Report) (*yprocmon.Operation, error) {
	b, e := json.Marshal(rep)
	if e != nil {
		return nil, e
	}
	req, e := http.NewRequestWithContext(ctx, "POST", c.url("operations", nil), bytes.NewReader(b))
	if e != nil {
		return nil, e
	}
	req.Header.Set("Content-Type", mimeJson)
	op := &yprocmon.Operation{}
	if _, e := c.do(req, op, http.StatusOK); e != nil {
		return nil, e
	}
	return op, nil
}

// History returns archived operations after the given time.
func (c *Client) History(ctx context.Context, after time.Time, limit int) ([]yprocmon.Operation, error) {
	q := afterParam(after)
	if q == nil {
		q = url.Values{}
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	ops := []yprocmon.Operation{}
	if e := c.get(ctx, "history", q, &ops); e != nil {
		return nil, e
	}
	return ops, nil
}

// Files lists the uploaded samples.
func (c *Client) Files(ctx context.Context) ([]samples.FileInfo, error) {
	files := []samples.FileInfo{}
	if e := c.get(ctx, "files", nil, &files); e != nil {
		return nil, e
	}
	return files, nil
}

// Upload stores a sample under name.  The server may pick a different name
// if that one is taken; the returned FileInfo has the name used.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (*samples.FileInfo, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, e := mw.CreateFormFile("file", name)
		if e == nil {
			_, e = io.Copy(part, r)
		}
		if e == nil {
			e = mw.Close()
		}
		pw.CloseWithError(e)
	}()

	req, e := http.NewRequestWithContext(ctx, "POST", c.url("upload", nil), pr)
	if e != nil {
		pr.Close()
		return nil, e
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	info := &samples.FileInfo{}
	if _, e := c.do(req, info, http.StatusOK); e != nil {
		pr.Close()
		return nil, e
	}
	return info, nil
}

func (c *Client) pollLog(ctx context.Context, pid int, secs int, last *LogInfo) (*LogInfo, error) {
	v := &LogInfo{}

	c.lock.Lock()
	cached, ok := c.logs[pid]
	c.lock.Unlock()

	otag := ""
	if last == nil {
		secs = 0
	} else if ok && last.etag != cached.etag {
		// The cache is already newer than what the caller has.
		return cached, nil
	} else {
		otag = last.etag
	}

	url := c.url("instances/"+strconv.Itoa(pid)+"/log", nil)
	etag, e := c.poll(ctx, url, otag, secs, &v.Records)
	if e != nil {
		c.lock.Lock()
		delete(c.logs, pid)
		c.lock.Unlock()
		return nil, e
	}
	if etag == "" {
		return last, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.logs[pid] = v
	c.lock.Unlock()

	return v, nil
}

// Log returns the captured output of an instance.
func (c *Client) Log(ctx context.Context, pid int) (*LogInfo, error) {
	return c.pollLog(ctx, pid, 0, nil)
}

// WatchLog waits for the log of pid to differ from last.
func (c *Client) WatchLog(ctx context.Context, pid int, last *LogInfo) (*LogInfo, error) {
	// Let the poll wait for up to 300 secs (5 minutes).
	return c.pollLog(ctx, pid, MaxPollTime, last)
}

// NewClient returns a Client handle.  The transport maybe nil to use
// a default transport, but it may also be adjusted to support additional
// options such as TLS.  baseURI is the base URL to use.
func NewClient(t *http.Transport, baseURI string) *Client {
	if t == nil {
		t = &http.Transport{}
	}
	c := &Client{
		transport: t,
		base:      strings.TrimRight(baseURI, "/"),
		client:    &http.Client{Transport: t},
		logs:      make(map[int]*LogInfo),
	}
	return c
}
