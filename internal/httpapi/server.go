// Package httpapi exposes the console state and actions to local views over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agent-console-go/internal/console"
	"agent-console-go/internal/logger"
	"agent-console-go/internal/metrics"
	"agent-console-go/internal/report"
	"agent-console-go/internal/session"
)

// Controller is the console surface the handlers drive.
type Controller interface {
	State() session.State
	Subscribe() (<-chan session.State, func())
	SelectCall(id string) error
	Answer() error
	End() error
	Transfer(agentID string) error
	Schedule(whenISO string) error
	Reset() error
}

// TranscriptLoader serves exported transcripts; nil disables the endpoint.
type TranscriptLoader interface {
	Load(callID string) (report.Transcript, error)
}

type server struct {
	log         *logger.Logger
	console     Controller
	transcripts TranscriptLoader
}

func NewServer(log *logger.Logger, addr string, c Controller, transcripts TranscriptLoader) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewHandler(log, c, transcripts),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func NewHandler(log *logger.Logger, c Controller, transcripts TranscriptLoader) http.Handler {
	s := &server{log: log.Component("httpapi"), console: c, transcripts: transcripts}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("GET /state/stream", s.handleStateStream)
	mux.HandleFunc("POST /call/select", s.action(func(r *http.Request) error {
		return s.console.SelectCall(r.URL.Query().Get("id"))
	}))
	mux.HandleFunc("POST /call/answer", s.action(func(*http.Request) error { return s.console.Answer() }))
	mux.HandleFunc("POST /call/end", s.action(func(*http.Request) error { return s.console.End() }))
	mux.HandleFunc("POST /call/transfer", s.action(func(r *http.Request) error {
		return s.console.Transfer(r.URL.Query().Get("agent_id"))
	}))
	mux.HandleFunc("POST /call/schedule", s.action(func(r *http.Request) error {
		return s.console.Schedule(r.URL.Query().Get("when"))
	}))
	mux.HandleFunc("POST /call/reset", s.action(func(*http.Request) error { return s.console.Reset() }))
	mux.HandleFunc("GET /transcripts/{id}", s.handleTranscript)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.console.State())
}

// action runs op and answers with the resulting state.
func (s *server) action(op func(r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLog := s.log.WithRequest(r)
		if err := op(r); err != nil {
			status := statusFor(err)
			reqLog.WithField("status", status).WithError(err).Warn("console action failed")
			writeJSON(w, status, map[string]any{"error": err.Error()})
			return
		}
		reqLog.Info("console action applied")
		writeJSON(w, http.StatusOK, s.console.State())
	}
}

// handleStateStream sends every state change as a server-sent event until the client leaves.
func (s *server) handleStateStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	updates, cancel := s.console.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(st)
			if err != nil {
				s.log.WithError(err).Error("encode state event")
				return
			}
			if _, err := fmt.Fprintf(w, "event: state\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if s.transcripts == nil {
		http.Error(w, "transcript export disabled", http.StatusNotFound)
		return
	}
	tr, err := s.transcripts.Load(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, report.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.log.WithRequest(r).WithError(err).Error("load transcript")
		http.Error(w, "load transcript failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, console.ErrEmptyCallID), errors.Is(err, console.ErrInvalidSchedule):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrIllegalTransition), errors.Is(err, session.ErrStaleCall), errors.Is(err, console.ErrNoCall):
		return http.StatusConflict
	case errors.Is(err, console.ErrClosed), errors.Is(err, console.ErrNotStarted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
