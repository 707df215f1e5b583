// Package server exposes the running job over HTTP: start and cancel,
// polled events, a websocket event stream, job history and presets.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"video-extender/internal/domain"
	"video-extender/internal/flowshift"
	"video-extender/internal/generate"
	"video-extender/internal/jobs"
	"video-extender/internal/jobstore"
)

const (
	maxBodyBytes  = 1 << 20
	writeTimeout  = 10 * time.Second
	defaultLimit  = 50
	shutdownGrace = 5 * time.Second
)

// Service is the application surface the server drives.
type Service interface {
	StartGeneration(params domain.JobParams) (domain.Job, error)
	CancelGeneration() error
	CurrentJob() domain.Job
	JobEvents(sinceSeq int64) []jobs.Event
	EventsChanged() <-chan struct{}
	History(ctx context.Context, limit int) ([]jobstore.Record, error)
	JobDefaults() domain.JobParams
	GetDiagnostics() domain.DiagnosticReport
}

// Server routes HTTP requests to a Service.
type Server struct {
	svc      Service
	logger   *slog.Logger
	mux      *http.ServeMux
	upgrader websocket.Upgrader
}

// New builds the route table.
func New(svc Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:    svc,
		logger: logger,
		mux:    http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.mux.HandleFunc("POST /api/jobs", s.handleStart)
	s.mux.HandleFunc("POST /api/jobs/cancel", s.handleCancel)
	s.mux.HandleFunc("GET /api/jobs/current", s.handleCurrent)
	s.mux.HandleFunc("GET /api/jobs/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/jobs/history", s.handleHistory)
	s.mux.HandleFunc("GET /api/jobs/stream", s.handleStream)
	s.mux.HandleFunc("GET /api/presets", s.handlePresets)
	s.mux.HandleFunc("GET /api/diagnostics", s.handleDiagnostics)
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.mux}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// startRequest picks the content preset out of the POST /api/jobs body.
// The preset is applied to the configured defaults first, then the rest of
// the body overrides individual fields.
type startRequest struct {
	ContentPreset string `json:"contentPreset"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var req startRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	params := s.svc.JobDefaults()
	if req.ContentPreset != "" {
		params, err = domain.ApplyPreset(params, req.ContentPreset)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &params); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	job, err := s.svc.StartGeneration(params)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, _ *http.Request) {
	if err := s.svc.CancelGeneration(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.CurrentJob())
}

func (s *Server) handleCurrent(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.CurrentJob())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	since, err := queryInt(r, "since", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	events := s.svc.JobEvents(since)
	if events == nil {
		events = []jobs.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	records, err := s.svc.History(r.Context(), int(limit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []jobstore.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// presetsResponse lists both preset families.
type presetsResponse struct {
	Content []domain.ContentPreset `json:"content"`
	Flow    []flowshift.Preset     `json:"flow"`
}

func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, presetsResponse{
		Content: domain.ContentPresets(),
		Flow:    flowshift.Presets(),
	})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.GetDiagnostics())
}

// handleStream pushes every bus event after ?since=N as one websocket text
// message until the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	seq, err := queryInt(r, "since", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("server: websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	// The read side only watches for the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		changed := s.svc.EventsChanged()
		for _, ev := range s.svc.JobEvents(seq) {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("server: stream write", "error", err)
				return
			}
			seq = ev.Seq
		}

		select {
		case <-changed:
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func queryInt(r *http.Request, key string, def int64) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &domain.ValidationError{Field: key, Message: "must be an integer"}
	}
	return v, nil
}

func statusFor(err error) int {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrJobAlreadyRunning), errors.Is(err, generate.ErrRunActive):
		return http.StatusConflict
	case errors.Is(err, jobs.ErrNoRunningJob):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("server: encode response", "error", err)
	}
}
