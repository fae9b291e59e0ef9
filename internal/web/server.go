// Package web serves the fioul-boiler status page, its JSON twin and a
// health probe, all read from a status.Tracker.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sweeney/fioul-boiler/internal/power"
	"github.com/sweeney/fioul-boiler/internal/status"
)

// Health states reported by /healthz.
const (
	HealthStarting = "starting"
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

// Server is the HTTP face of a running daemon.
type Server struct {
	tracker *status.Tracker
	logger  *slog.Logger
	http    *http.Server
}

// New builds a Server for addr. Nothing listens until Run.
func New(addr string, tracker *status.Tracker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{tracker: tracker, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.page)
	mux.HandleFunc("GET /index.html", s.page)
	mux.HandleFunc("GET /index.json", s.statusJSON)
	mux.HandleFunc("GET /healthz", s.health)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router, for mounting under httptest.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run listens on the configured address and serves until ctx ends,
// then drains open requests for up to two seconds.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("http status server listening", "addr", ln.Addr().String())

	done := make(chan error, 1)
	go func() { done <- s.http.Serve(ln) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-done; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) page(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, s.tracker.Snapshot())
}

func (s *Server) statusJSON(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.tracker.Snapshot()))
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Power     string `json:"power"`
	MQTT      string `json:"mqtt"`
	Fault     bool   `json:"fault"`
}

// health answers 503 until the engine has processed its first tick, then 200.
// A sensor that is not available or a disconnected broker reports degraded.
func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	snap := s.tracker.Snapshot()

	resp := HealthResponse{
		Status:    HealthOK,
		Timestamp: snap.Now.UTC().Format(time.RFC3339),
		Power:     snap.PowerStatus,
		MQTT:      "disconnected",
		Fault:     snap.Result.ErrorGlobal,
	}
	if resp.Power == "" {
		resp.Power = string(power.StatusUnknown)
	}
	if snap.MQTTConnected {
		resp.MQTT = "connected"
	}

	code := http.StatusOK
	switch {
	case !snap.Ready:
		resp.Status = HealthStarting
		code = http.StatusServiceUnavailable
	case resp.Power != string(power.StatusAvailable) || !snap.MQTTConnected:
		resp.Status = HealthDegraded
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("encode health response failed", "error", err)
	}
}
