package web

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	configloader "github.com/foxseedlab/vrchat-asr/external/config"
	"github.com/foxseedlab/vrchat-asr/internal/control"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	shutdownTimeout = 10 * time.Second
	workerStopWait  = 15 * time.Second
	maxSettingsBody = 1 << 20
)

//go:embed index.html
var indexHTML []byte

// Server is the settings panel: a JSON API over the controller plus the
// live feed websocket.
type Server struct {
	ctrl   *control.Controller
	feed   *Feed
	router chi.Router
}

func NewServer(ctrl *control.Controller, feed *Feed) *Server {
	s := &Server{ctrl: ctrl, feed: feed}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/ws", s.feed.ServeHTTP)
	r.Route("/api", func(r chi.Router) {
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)
		r.Get("/settings/defaults", s.handleGetDefaults)
		r.Get("/devices", s.handleGetDevices)
		r.Get("/worker", s.handleWorkerStatus)
		r.Post("/worker/start", s.handleWorkerStart)
		r.Post("/worker/stop", s.handleWorkerStop)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("web panel listening", "url", fmt.Sprintf("http://%s", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve web panel: %w", err)
	case <-ctx.Done():
	}

	s.feed.Close()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown web panel: %w", err)
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	settings, err := s.ctrl.Settings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// handlePutSettings merges a partial document into the stored one, so
// the panel may send only the fields it shows.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSettingsBody)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode settings: %w", err))
		return
	}
	current, err := s.ctrl.Settings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	next, err := configloader.DecodeOverrides(current, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode settings: %w", err))
		return
	}
	if err := s.ctrl.SaveSettings(next); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (s *Server) handleGetDefaults(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Defaults())
}

func (s *Server) handleGetDevices(w http.ResponseWriter, _ *http.Request) {
	devices, err := s.ctrl.Devices()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	type device struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	out := make([]device, 0, len(devices))
	for _, d := range devices {
		out = append(out, device{ID: d.ID, Name: d.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWorkerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleWorkerStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Start(r.Context()); err != nil {
		writeError(w, statusForControlError(err), err)
		return
	}
	_ = s.feed.Publish(FeedEvent{Type: "status", Text: "worker started"})
	writeJSON(w, http.StatusAccepted, s.ctrl.Status())
}

func (s *Server) handleWorkerStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), workerStopWait)
	defer cancel()
	if err := s.ctrl.Stop(ctx); err != nil {
		writeError(w, statusForControlError(err), err)
		return
	}
	_ = s.feed.Publish(FeedEvent{Type: "status", Text: "worker stopped"})
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func statusForControlError(err error) int {
	switch {
	case errors.Is(err, control.ErrAlreadyRunning), errors.Is(err, control.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, control.ErrInvalidSettings):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(started).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
