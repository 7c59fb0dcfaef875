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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/kballard/go-shellquote"
	"github.com/sirupsen/logrus"

	"github.com/yprocmon/yprocmon"
	"github.com/yprocmon/yprocmon/samples"
)

const (
	// MaxUploadSize bounds the size of one uploaded sample.
	MaxUploadSize = 256 << 20

	// MaxReportSize bounds the body of a posted operation.
	MaxReportSize = 64 << 10
)

// History answers queries for archived operations.
type History interface {
	Since(t time.Time, limit int) ([]yprocmon.Operation, error)
}

// Handler wraps a Registry and the launch Tasks feeding it, adding
// http.Handler functionality.
type Handler struct {
	reg     *yprocmon.Registry
	tasks   *yprocmon.Tasks
	ops     *yprocmon.OperationLog
	store   *samples.Store
	history History
	metrics http.Handler
	www     string
	logger  logrus.FieldLogger
	r       *mux.Router
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithOperations serves the given operation log.
func WithOperations(ops *yprocmon.OperationLog) HandlerOption {
	return func(h *Handler) {
		h.ops = ops
	}
}

// WithSamples enables file listing and uploads.
func WithSamples(s *samples.Store) HandlerOption {
	return func(h *Handler) {
		h.store = s
	}
}

// WithHistory enables /api/history.
func WithHistory(hist History) HandlerOption {
	return func(h *Handler) {
		h.history = hist
	}
}

// WithMetrics serves handler at /metrics.
func WithMetrics(handler http.Handler) HandlerOption {
	return func(h *Handler) {
		h.metrics = handler
	}
}

// WithStatic serves the files in dir for any path not otherwise handled.
func WithStatic(dir string) HandlerOption {
	return func(h *Handler) {
		h.www = dir
	}
}

// WithLogger sets the request logger.
func WithLogger(l logrus.FieldLogger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJsonCode(w http.ResponseWriter, code int, v interface{}) {
	if b, e := json.Marshal(v); e != nil {
		h.internalError(w, e)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(code)
		w.Write(b)
	}
}

func (h *Handler) writeJson(w http.ResponseWriter, v interface{}) {
	h.writeJsonCode(w, http.StatusOK, v)
}

// writeJsonTag writes v tagged with serial, or just 304 if the client
// already has that version.
func (h *Handler) writeJsonTag(w http.ResponseWriter, r *http.Request, v interface{}, serial int64) {
	etag := makeEtag(serial)
	w.Header().Set("Etag", etag)
	if old, ok := parseEtag(r.Header.Get("If-None-Match")); ok && old == serial {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.writeJson(w, v)
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	h.writeJsonCode(w, e.Code, e)
}

// pollWait implements the long poll: if the client sent the poll headers,
// wait for the watched serial to move away from the tag it has.
func (h *Handler) pollWait(r *http.Request, watch func(int64, time.Duration) int64) {
	old, ok := parseEtag(r.Header.Get(PollEtagHeader))
	if !ok {
		return
	}
	secs, err := strconv.Atoi(r.Header.Get(PollTimeHeader))
	if err != nil || secs <= 0 {
		return
	}
	if secs > MaxPollTime {
		secs = MaxPollTime
	}
	watch(old, time.Duration(secs)*time.Second)
}

func (h *Handler) getPid(w http.ResponseWriter, r *http.Request) (int, bool) {
	pid, err := strconv.Atoi(mux.Vars(r)["pid"])
	if err != nil || pid <= 0 {
		h.writeError(w, &Error{http.StatusBadRequest, "Bad process id"})
		return 0, false
	}
	return pid, true
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request) {
	h.writeJson(w, Ping{Ping: true})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	h.pollWait(r, h.reg.WatchSerial)
	info := h.reg.Info()
	h.writeJsonTag(w, r, info, info.Serial)
}

func (h *Handler) listInstances(w http.ResponseWriter, r *http.Request) {
	h.pollWait(r, h.reg.WatchSerial)
	list, serial, stamp := h.reg.Snapshot()
	if !stamp.IsZero() {
		w.Header().Set("Last-Modified", stamp.UTC().Format(http.TimeFormat))
	}
	h.writeJsonTag(w, r, list, serial)
}

func (h *Handler) getInstance(w http.ResponseWriter, r *http.Request) {
	pid, ok := h.getPid(w, r)
	if !ok {
		return
	}
	if info, ok := h.reg.Get(pid); !ok {
		h.writeError(w, &Error{http.StatusNotFound, yprocmon.ErrNoInstance.Error()})
	} else {
		h.writeJson(w, info)
	}
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	pid, ok := h.getPid(w, r)
	if !ok {
		return
	}
	log, ok := h.reg.Log(pid)
	if !ok {
		h.writeError(w, &Error{http.StatusNotFound, yprocmon.ErrNoInstance.Error()})
		return
	}
	h.pollWait(r, log.Watch)
	recs, id := log.Records(-1)
	h.writeJsonTag(w, r, recs, id)
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	pid, ok := h.getPid(w, r)
	if !ok {
		return
	}
	st, err := h.reg.Stats(r.Context(), pid)
	switch {
	case err == nil:
		h.writeJson(w, st)
	case errors.Is(err, yprocmon.ErrNoInstance):
		h.writeError(w, &Error{http.StatusNotFound, err.Error()})
	case errors.Is(err, yprocmon.ErrNotRunning):
		h.writeError(w, &Error{http.StatusConflict, err.Error()})
	default:
		h.writeError(w, &Error{http.StatusInternalServerError, err.Error()})
	}
}

// run launches a process.  Parameters are name (required), command
// (defaults to name), sample (run an uploaded sample) and wait (default
// true).  Without waiting the reply is the task tracking the launch.
func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue("name")
	command := r.FormValue("command")
	if name == "" {
		h.writeJsonCode(w, http.StatusInternalServerError,
			RunResult{Run: false, Message: yprocmon.ErrNoName.Error()})
		return
	}
	wait := true
	if s := r.FormValue("wait"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			h.writeError(w, &Error{http.StatusBadRequest, "Bad value for wait"})
			return
		}
		wait = v
	}
	if sample := r.FormValue("sample"); sample != "" && command == "" {
		if h.store == nil {
			h.writeError(w, &Error{http.StatusNotFound, "Samples are not enabled"})
			return
		}
		path, err := h.store.Path(sample)
		if err != nil {
			h.writeJsonCode(w, http.StatusInternalServerError,
				RunResult{Run: false, Message: err.Error()})
			return
		}
		command = shellquote.Join(path)
	}

	if !wait {
		h.writeJsonCode(w, http.StatusAccepted, h.tasks.Submit(name, command))
		return
	}
	info, err := h.tasks.Launch(r.Context(), name, command)
	if err != nil || info.Instance == nil {
		msg := info.Error
		if err != nil {
			msg = err.Error()
		}
		h.writeJsonCode(w, http.StatusInternalServerError,
			RunResult{Run: false, Message: msg})
		return
	}
	h.writeJson(w, info.Instance)
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	info, err := h.tasks.Get(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, &Error{http.StatusNotFound, err.Error()})
		return
	}
	h.writeJson(w, info)
}

func (h *Handler) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.tasks.Cancel(id); err != nil {
		h.writeError(w, &Error{http.StatusNotFound, err.Error()})
		return
	}
	info, _ := h.tasks.Get(id)
	h.writeJson(w, info)
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.Atoi(r.FormValue("pid"))
	if err != nil || pid <= 0 {
		h.writeError(w, &Error{http.StatusBadRequest, "Bad process id"})
		return
	}
	// The stop carries on past a client hanging up, bounded by the grace
	// period of the registry.
	err = h.reg.Stop(context.WithoutCancel(r.Context()), pid)
	switch {
	case err == nil:
		h.writeJson(w, StopResult{Stop: true})
	case errors.Is(err, yprocmon.ErrNoInstance):
		h.writeJsonCode(w, http.StatusNotFound, StopResult{Stop: false, Message: err.Error()})
	default:
		h.writeJsonCode(w, http.StatusInternalServerError, StopResult{Stop: false, Message: err.Error()})
	}
}

// parseAfter reads the "after" parameter: unix seconds, possibly
// fractional.  Absent means the beginning of time.
func parseAfter(r *http.Request) (time.Time, bool) {
	s := r.FormValue("after")
	if s == "" {
		return time.Time{}, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return time.Time{}, false
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec), true
}

func (h *Handler) listOperations(w http.ResponseWriter, r *http.Request) {
	after, ok := parseAfter(r)
	if !ok {
		h.writeError(w, &Error{http.StatusBadRequest, "Bad value for after"})
		return
	}
	h.pollWait(r, h.ops.Watch)
	ops, id := h.ops.Since(after)
	h.writeJsonTag(w, r, ops, id)
}

func (h *Handler) reportOperation(w http.ResponseWriter, r *http.Request) {
	rep := Report{}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxReportSize))
	if err := dec.Decode(&rep); err != nil {
		h.writeError(w, &Error{http.StatusBadRequest, "Malformed operation: " + err.Error()})
		return
	}
	if rep.Type == "" {
		h.writeError(w, &Error{http.StatusBadRequest, "Operation type is required"})
		return
	}
	if rep.Name == "" && rep.PID > 0 {
		if info, ok := h.reg.Get(rep.PID); ok {
			rep.Name = info.Name
		}
	}
	op := h.ops.Append(yprocmon.Operation{
		PID:    rep.PID,
		Name:   rep.Name,
		Type:   rep.Type,
		Detail: rep.Detail,
	})
	h.writeJson(w, op)
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeError(w, &Error{http.StatusNotFound, "History is not enabled"})
		return
	}
	after, ok := parseAfter(r)
	if !ok {
		h.writeError(w, &Error{http.StatusBadRequest, "Bad value for after"})
		return
	}
	limit := 0
	if s := r.FormValue("limit"); s != "" {
		var err error
		if limit, err = strconv.Atoi(s); err != nil || limit < 0 {
			h.writeError(w, &Error{http.StatusBadRequest, "Bad value for limit"})
			return
		}
	}
	ops, err := h.history.Since(after, limit)
	if err != nil {
		h.writeError(w, &Error{http.StatusInternalServerError, err.Error()})
		return
	}
	h.writeJson(w, ops)
}

func (h *Handler) listFiles(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeError(w, &Error{http.StatusNotFound, "Samples are not enabled"})
		return
	}
	digests := r.FormValue("digest") != "false"
	files, err := h.store.List(digests)
	if err != nil {
		h.writeError(w, &Error{http.StatusInternalServerError, err.Error()})
		return
	}
	h.writeJson(w, files)
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeError(w, &Error{http.StatusNotFound, "Samples are not enabled"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	f, hdr, err := r.FormFile("file")
	if err != nil {
		h.writeJsonCode(w, http.StatusBadRequest, UploadError{Error: true, Message: err.Error()})
		return
	}
	defer f.Close()

	info, err := h.store.Save(hdr.Filename, f)
	switch {
	case err == nil:
		h.logger.WithFields(logrus.Fields{
			"file":   info.Name,
			"size":   info.Size,
			"digest": info.Digest,
		}).Info("Sample uploaded")
		h.writeJson(w, info)
	case errors.Is(err, samples.ErrBadName):
		h.writeJsonCode(w, http.StatusBadRequest, UploadError{Error: true, Message: err.Error()})
	default:
		h.writeJsonCode(w, http.StatusInternalServerError, UploadError{Error: true, Message: err.Error()})
	}
}

// statusWriter remembers the status code, for the request log.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.code = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

	hdr := w.Header()
	hdr.Set("Access-Control-Allow-Origin", "*")
	if req.Method == http.MethodOptions {
		hdr.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		hdr.Set("Access-Control-Allow-Headers", "Content-Type, If-None-Match, "+
			PollEtagHeader+", "+PollTimeHeader)
		hdr.Set("Access-Control-Expose-Headers", "Etag")
		sw.WriteHeader(http.StatusNoContent)
	} else {
		hdr.Set("Access-Control-Expose-Headers", "Etag")
		h.r.ServeHTTP(sw, req)
	}

	h.logger.WithFields(logrus.Fields{
		"method":  req.Method,
		"path":    req.URL.Path,
		"remote":  req.RemoteAddr,
		"agent":   req.UserAgent(),
		"status":  sw.code,
		"elapsed": time.Since(start),
	}).Info("Request")
}

// NewHandler returns the control API for reg, launching through tasks.
func NewHandler(reg *yprocmon.Registry, tasks *yprocmon.Tasks, opts ...HandlerOption) *Handler {
	r := mux.NewRouter()
	h := &Handler{
		reg:    reg,
		tasks:  tasks,
		logger: logrus.StandardLogger(),
		r:      r,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.ops == nil {
		h.ops = yprocmon.NewOperationLog(0)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/ping", h.ping).Methods("GET")
	api.HandleFunc("/status", h.status).Methods("GET")
	api.HandleFunc("/instances", h.listInstances).Methods("GET")
	api.HandleFunc("/instances/{pid:[0-9]+}", h.getInstance).Methods("GET")
	api.HandleFunc("/instances/{pid:[0-9]+}/log", h.getLog).Methods("GET")
	api.HandleFunc("/instances/{pid:[0-9]+}/stats", h.getStats).Methods("GET")
	api.HandleFunc("/run", h.run).Methods("GET", "POST")
	api.HandleFunc("/stop", h.stop).Methods("POST")
	api.HandleFunc("/tasks/{id}", h.getTask).Methods("GET")
	api.HandleFunc("/tasks/{id}/cancel", h.cancelTask).Methods("POST")
	api.HandleFunc("/operations", h.listOperations).Methods("GET")
	api.HandleFunc("/operations", h.reportOperation).Methods("POST")
	api.HandleFunc("/history", h.listHistory).Methods("GET")
	api.HandleFunc("/files", h.listFiles).Methods("GET")
	api.HandleFunc("/upload", h.upload).Methods("POST")

	if h.metrics != nil {
		r.Handle("/metrics", h.metrics).Methods("GET")
	}
	if h.www != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(h.www)))
	}
	return h
}
