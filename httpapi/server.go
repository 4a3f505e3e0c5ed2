// Package httpapi serves coordinator status, buffer snapshots and prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/temoto/adcview/coordinator"
	"github.com/temoto/adcview/log2"
)

const snapshotTimeout = 2 * time.Second

// Source is implemented by coordinator.Coordinator.
type Source interface {
	Snapshot(ctx context.Context) (coordinator.View, error)
	Channels() int
}

type Server struct {
	log    *log2.Log
	source Source
	router chi.Router
}

// New builds router. Nil gatherer disables /metrics.
func New(log *log2.Log, source Source, gatherer prometheus.Gatherer) *Server {
	s := &Server{log: log, source: source, router: chi.NewRouter()}
	s.router.Get("/api/status", s.handleStatus)
	s.router.Get("/api/snapshot", s.handleSnapshot)
	if gatherer != nil {
		s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

type statusResponse struct {
	State     string  `json:"state"`
	Mode      string  `json:"mode"`
	PushState string  `json:"push_state"`
	Now       float64 `json:"now"`
	Failures  int     `json:"pull_failures"`
	Channels  []int   `json:"buffered"`
}

type sampleJSON struct {
	T float64 `json:"t"`
	V float64 `json:"v"`
}

type channelJSON struct {
	Channel int          `json:"channel"`
	Samples []sampleJSON `json:"samples"`
}

type snapshotResponse struct {
	Mode     string        `json:"mode"`
	Now      float64       `json:"now"`
	Channels []channelJSON `json:"channels"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	v, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	resp := statusResponse{
		State:     v.State.String(),
		Mode:      v.Mode.String(),
		PushState: v.PushState.String(),
		Now:       v.Now.Seconds(),
		Failures:  v.Failures,
		Channels:  make([]int, len(v.Channels)),
	}
	for i, ss := range v.Channels {
		resp.Channels[i] = len(ss)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	only := -1
	if param := r.URL.Query().Get("channel"); param != "" {
		n, err := strconv.Atoi(param)
		if err != nil || n < 0 || n >= s.source.Channels() {
			s.writeError(w, http.StatusBadRequest, "invalid channel")
			return
		}
		only = n
	}
	v, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	resp := snapshotResponse{
		Mode:     v.Mode.String(),
		Now:      v.Now.Seconds(),
		Channels: make([]channelJSON, 0, len(v.Channels)),
	}
	for ch, ss := range v.Channels {
		if only >= 0 && ch != only {
			continue
		}
		cj := channelJSON{Channel: ch, Samples: make([]sampleJSON, len(ss))}
		for i, sample := range ss {
			cj.Samples[i] = sampleJSON{T: sample.Seconds(), V: sample.Voltage}
		}
		resp.Channels = append(resp.Channels, cj)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) (coordinator.View, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
	defer cancel()
	v, err := s.source.Snapshot(ctx)
	if err != nil {
		s.log.Errorf("http snapshot err=%v", err)
		s.writeError(w, http.StatusServiceUnavailable, "coordinator not running")
		return v, false
	}
	return v, true
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message, Code: status})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
