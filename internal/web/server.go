// Package web provides the HTTP status page, a JSON API over actuator state
// and the audit trail, and local manual/test command intake.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/sweeney/farm-controller/internal/audit"
	"github.com/sweeney/farm-controller/internal/inbox"
	"github.com/sweeney/farm-controller/internal/logging"
	"github.com/sweeney/farm-controller/internal/logic"
	"github.com/sweeney/farm-controller/internal/status"
)

// DefaultAuditLimit is the number of entries /api/audit returns without ?limit.
const DefaultAuditLimit = 50

// Commands accepts manual and test commands. inbox.Inbox implements it.
type Commands interface {
	Manual(cmd logic.ManualCommand) error
	Test(cmd logic.TestCommand) error
}

// AuditLog exposes recent audit entries. audit.Logger implements it.
type AuditLog interface {
	Recent(limit int) []audit.Entry
}

// Server serves the status page and API over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	audit      AuditLog
	commands   Commands
	now        func() time.Time
	log        zerolog.Logger
}

// New creates a Server that reads state from the given tracker. audit and
// commands may be nil, which disables the endpoints that need them.
func New(addr string, tracker *status.Tracker, auditLog AuditLog, commands Commands) *Server {
	s := &Server{
		tracker:  tracker,
		audit:    auditLog,
		commands: commands,
		now:      time.Now,
		log:      logging.WithComponent("http"),
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/actuators", s.handleActuators).Methods(http.MethodGet)
	api.HandleFunc("/actuators/{name}", s.handleActuator).Methods(http.MethodGet)
	api.HandleFunc("/actuators/{name}/command", s.handleCommand).Methods(http.MethodPost)
	api.HandleFunc("/actuators/{name}/test", s.handleTest).Methods(http.MethodPut)
	api.HandleFunc("/audit", s.handleAudit).Methods(http.MethodGet)

	var h http.Handler = r
	h = handlers.CustomLoggingHandler(io.Discard, h, s.logRequest)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{s.log}))(h)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the root handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	s.log.Debug().
		Str("method", p.Request.Method).
		Str("path", p.URL.Path).
		Int("status", p.StatusCode).
		Int("size", p.Size).
		Dur("took", time.Since(p.TimeStamp)).
		Msg("request")
}

type recoveryLogger struct{ log zerolog.Logger }

func (r recoveryLogger) Println(v ...interface{}) {
	r.log.Error().Interface("panic", v).Msg("handler panic")
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	var recent []audit.Entry
	if s.audit != nil {
		recent = s.audit.Recent(10)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap, recent)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	if !snap.Ready() {
		writeError(w, http.StatusServiceUnavailable, "no tick yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"last_tick": snap.LastTick.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleActuators(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatStates(snap.States))
}

func (s *Server) handleActuator(w http.ResponseWriter, r *http.Request) {
	name := logic.Actuator(mux.Vars(r)["name"])
	st, ok := s.tracker.Snapshot().States[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown actuator")
		return
	}
	writeJSON(w, http.StatusOK, status.FormatState(st))
}

// CommandRequest is the body of POST /api/actuators/{name}/command.
// Duration is in seconds; 0 or absent means until turned off.
type CommandRequest struct {
	On       *bool   `json:"on"`
	Duration float64 `json:"duration"`
}

// TestRequest is the body of PUT /api/actuators/{name}/test.
type TestRequest struct {
	Enabled  *bool   `json:"enabled"`
	Duration float64 `json:"duration"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if s.commands == nil {
		writeError(w, http.StatusServiceUnavailable, "commands disabled")
		return
	}
	var req CommandRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.On == nil {
		writeError(w, http.StatusBadRequest, `missing "on"`)
		return
	}
	d, ok := logic.Seconds(req.Duration)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid duration")
		return
	}
	cmd := logic.ManualCommand{
		Actuator: logic.Actuator(mux.Vars(r)["name"]),
		On:       *req.On,
		Duration: d,
		IssuedAt: s.now(),
	}
	if err := s.commands.Manual(cmd); err != nil {
		s.commandError(w, err)
		return
	}
	s.log.Info().Str("actuator", string(cmd.Actuator)).Bool("on", cmd.On).Dur("duration", d).Msg("manual command accepted")
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	if s.commands == nil {
		writeError(w, http.StatusServiceUnavailable, "commands disabled")
		return
	}
	var req TestRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, `missing "enabled"`)
		return
	}
	d, ok := logic.Seconds(req.Duration)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid duration")
		return
	}
	cmd := logic.TestCommand{
		Actuator: logic.Actuator(mux.Vars(r)["name"]),
		Enabled:  *req.Enabled,
		Duration: d,
	}
	if err := s.commands.Test(cmd); err != nil {
		s.commandError(w, err)
		return
	}
	s.log.Info().Str("actuator", string(cmd.Actuator)).Bool("enabled", cmd.Enabled).Dur("duration", d).Msg("test command accepted")
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (s *Server) commandError(w http.ResponseWriter, err error) {
	if errors.Is(err, inbox.ErrUnknownActuator) {
		writeError(w, http.StatusNotFound, "unknown actuator")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSON(w, http.StatusOK, []audit.EntryJSON{})
		return
	}
	limit := DefaultAuditLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries := s.audit.Recent(limit)
	out := make([]audit.EntryJSON, len(entries))
	for i, e := range entries {
		out[i] = audit.FormatEntry(e)
	}
	writeJSON(w, http.StatusOK, out)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
