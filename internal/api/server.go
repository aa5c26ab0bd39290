package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/saaga0h/roomwatch/internal/roomstate"
)

const maxBodyBytes = 64 << 10

// Server exposes the room state machine over HTTP
type Server struct {
	store     *roomstate.Store
	processor *roomstate.Processor
	health    http.Handler
	metrics   http.Handler
	logger    *slog.Logger

	middleware []mux.MiddlewareFunc
	validation ValidationObserver
}

// ValidationObserver is told about every reading refused with 400
type ValidationObserver interface {
	ValidationFailed(field string)
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithMiddleware adds router middleware, applied in order
func WithMiddleware(mw ...mux.MiddlewareFunc) ServerOption {
	return func(s *Server) { s.middleware = append(s.middleware, mw...) }
}

// WithValidationObserver reports refused readings to o
func WithValidationObserver(o ValidationObserver) ServerOption {
	return func(s *Server) { s.validation = o }
}

// NewServer creates the HTTP surface. health and metrics may be nil.
func NewServer(store *roomstate.Store, processor *roomstate.Processor, health, metrics http.Handler, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:     store,
		processor: processor,
		health:    health,
		metrics:   metrics,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the route table
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	for _, mw := range s.middleware {
		r.Use(mw)
	}

	r.HandleFunc("/occupancy/update", s.handleUpdate).Methods(http.MethodPost)
	r.HandleFunc("/occupancy", s.handleListRooms).Methods(http.MethodGet)
	r.HandleFunc("/occupancy/{building_id}/{room_id}", s.handleGetRoom).Methods(http.MethodGet)
	if s.health != nil {
		r.Handle("/health", s.health).Methods(http.MethodGet)
	}
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	return r
}

// Handler wraps the router with CORS and an access log written to accessLog
func (s *Server) Handler(accessLog io.Writer) http.Handler {
	var h http.Handler = s.Router()
	h = handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(h)
	if accessLog != nil {
		h = handlers.LoggingHandler(accessLog, h)
	}
	return h
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Failed to read request body"})
		return
	}

	reading, err := roomstate.DecodeReading(body)
	if err != nil {
		s.validationFailed(err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	res, err := s.processor.Process(r.Context(), reading)
	if err != nil {
		s.logger.Warn("Update not applied", "building_id", reading.BuildingID, "room_id", reading.RoomID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}

	if !res.Accepted {
		writeJSON(w, http.StatusOK, map[string]string{"warning": res.Reason})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Update processed",
		"status":  res.Status.String(),
	})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	reading, ok := s.store.Room(vars["building_id"], vars["room_id"])
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "No data for room"})
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms := s.store.Rooms()
	if rooms == nil {
		rooms = []roomstate.AcceptedReading{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tracked_rooms": s.store.CountTrackedRooms(),
		"rooms":         rooms,
	})
}

func (s *Server) validationFailed(err error) {
	if s.validation == nil {
		return
	}
	var verr *roomstate.ValidationError
	if errors.As(err, &verr) {
		s.validation.ValidationFailed(verr.Field)
		return
	}
	s.validation.ValidationFailed("")
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		slog.Default().Error("Failed to encode response", "error", err)
	}
}
