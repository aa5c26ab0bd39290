package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/saaga0h/roomwatch/pkg/mqtt"
	"github.com/saaga0h/roomwatch/pkg/postgres"
	"github.com/saaga0h/roomwatch/pkg/redis"
)

// RoomCounter reports how many rooms have at least one accepted reading
type RoomCounter interface {
	CountTrackedRooms() int
}

// Checker provides health check functionality for the services.
// Every dependency is optional; a nil one is reported as "disabled".
type Checker struct {
	mqtt     mqtt.Client
	redis    redis.Client
	postgres postgres.Client
	rooms    RoomCounter
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures a Checker
type Option func(*Checker)

// WithMQTT includes the MQTT connection in the detailed check
func WithMQTT(c mqtt.Client) Option { return func(h *Checker) { h.mqtt = c } }

// WithRedis includes Redis in the detailed check
func WithRedis(c redis.Client) Option { return func(h *Checker) { h.redis = c } }

// WithPostgres includes Postgres in the detailed check
func WithPostgres(c postgres.Client) Option { return func(h *Checker) { h.postgres = c } }

// WithRoomCounter adds tracked_rooms to every response
func WithRoomCounter(rc RoomCounter) Option { return func(h *Checker) { h.rooms = rc } }

// NewChecker creates a new health checker with the given dependencies
func NewChecker(logger *slog.Logger, opts ...Option) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Checker{timeout: 2 * time.Second, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string    `json:"status"`
	Timestamp    string    `json:"timestamp"`
	TrackedRooms *int      `json:"tracked_rooms,omitempty"`
	Services     *Services `json:"services,omitempty"`
}

// Services represents the status of external dependencies
type Services struct {
	Redis    string `json:"redis"`
	MQTT     string `json:"mqtt"`
	Postgres string `json:"postgres"`
}

// HandlerFunc returns 200 while the process is alive without checking dependencies
func (h *Checker) HandlerFunc() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.write(w, http.StatusOK, h.response("ok", nil))
	}
}

// DetailedHandlerFunc returns a handler that checks all configured dependencies
func (h *Checker) DetailedHandlerFunc() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		services := h.CheckServices(ctx)

		status := "healthy"
		statusCode := http.StatusOK
		for _, s := range []string{services.Redis, services.MQTT, services.Postgres} {
			if s == "disconnected" {
				status = "degraded"
				statusCode = http.StatusServiceUnavailable
			}
		}

		h.write(w, statusCode, h.response(status, services))
	}
}

// CheckServices probes each configured dependency
func (h *Checker) CheckServices(ctx context.Context) *Services {
	services := &Services{Redis: "disabled", MQTT: "disabled", Postgres: "disabled"}

	if h.mqtt != nil {
		services.MQTT = connected(h.mqtt.IsConnected())
	}

	if h.redis != nil {
		err := h.redis.Ping(ctx)
		if err != nil {
			h.logger.Warn("Redis health check failed", "error", err)
		}
		services.Redis = connected(err == nil)
	}

	if h.postgres != nil {
		st, err := h.postgres.HealthCheck(ctx)
		ok := err == nil && st != nil && st.Connected
		if !ok {
			h.logger.Warn("Postgres health check failed", "error", err)
		}
		services.Postgres = connected(ok)
	}

	return services
}

func (h *Checker) response(status string, services *Services) HealthResponse {
	resp := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Services:  services,
	}
	if h.rooms != nil {
		n := h.rooms.CountTrackedRooms()
		resp.TrackedRooms = &n
	}
	return resp
}

func (h *Checker) write(w http.ResponseWriter, code int, resp HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode health response", "error", err)
	}
}

func connected(ok bool) string {
	if ok {
		return "connected"
	}
	return "disconnected"
}
