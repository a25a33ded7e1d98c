// Package server exposes the cameras' latest state over a small HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/s0up4200/molnus/coordinator"
	"github.com/s0up4200/molnus/entity"
)

// StateSource is the coordinator view the server reads
type StateSource interface {
	CameraID() string
	Data() *coordinator.State
	LastUpdateSuccess() bool
	LastError() error
}

// ImageSource returns the latest image bytes for a state
type ImageSource interface {
	Image(ctx context.Context, state *coordinator.State) ([]byte, error)
}

// Camera is one camera served by the API
type Camera struct {
	Name    string
	EntryID string
	Source  StateSource
	Images  ImageSource
}

// Server is the HTTP API server
type Server struct {
	cameras map[string]Camera
	order   []string
	logger  zerolog.Logger
	router  *mux.Router
}

// New creates a server for the given cameras
func New(cameras []Camera, logger zerolog.Logger) *Server {
	s := &Server{
		cameras: make(map[string]Camera, len(cameras)),
		logger:  logger.With().Str("component", "http").Logger(),
		router:  mux.NewRouter(),
	}
	for _, c := range cameras {
		id := c.Source.CameraID()
		s.cameras[id] = c
		s.order = append(s.order, id)
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(s.requestLogger)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/cameras", s.handleListCameras).Methods(http.MethodGet)
	s.router.HandleFunc("/api/cameras/{id}/latest", s.handleLatest).Methods(http.MethodGet)
	s.router.HandleFunc("/api/cameras/{id}/image", s.handleImage).Methods(http.MethodGet)
}

// ListenAndServe serves on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("HTTP API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		next.ServeHTTP(w, r)

		s.logger.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// --- Handlers ---

type cameraResponse struct {
	CameraID  string             `json:"camera_id"`
	Name      string             `json:"name,omitempty"`
	EntryID   string             `json:"entry_id,omitempty"`
	Available bool               `json:"available"`
	UpdatedAt *time.Time         `json:"updated_at,omitempty"`
	Images    int                `json:"images"`
	Error     string             `json:"error,omitempty"`
	Sensor    entity.SensorState `json:"sensor"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListCameras(w http.ResponseWriter, _ *http.Request) {
	out := make([]cameraResponse, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, describe(s.cameras[id]))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	c, ok := s.camera(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, describe(c))
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	c, ok := s.camera(w, r)
	if !ok {
		return
	}

	state := c.Source.Data()
	if state == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no data available yet")
		return
	}
	if entity.LatestURL(state) == "" || c.Images == nil {
		s.writeError(w, http.StatusNotFound, "no image available")
		return
	}

	data, err := c.Images.Image(r.Context(), state)
	if err != nil {
		s.logger.Warn().Err(err).Str("camera_id", c.Source.CameraID()).Msg("Failed to fetch image")
		s.writeError(w, http.StatusBadGateway, "failed to fetch image")
		return
	}
	if len(data) == 0 {
		s.writeError(w, http.StatusNotFound, "no image available")
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) camera(w http.ResponseWriter, r *http.Request) (Camera, bool) {
	id := mux.Vars(r)["id"]
	c, ok := s.cameras[id]
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown camera")
		return Camera{}, false
	}
	return c, true
}

func describe(c Camera) cameraResponse {
	state := c.Source.Data()
	resp := cameraResponse{
		CameraID:  c.Source.CameraID(),
		Name:      c.Name,
		EntryID:   c.EntryID,
		Available: c.Source.LastUpdateSuccess(),
		Sensor:    entity.LatestImageSensor(state, c.Source.LastUpdateSuccess()),
	}
	if state != nil {
		updated := state.UpdatedAt
		resp.UpdatedAt = &updated
		resp.Images = len(state.Images)
	}
	if err := c.Source.LastError(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}
