package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saaga0h/roomwatch/pkg/mqtt"
)

type mockMQTT struct{ connected bool }

func (m *mockMQTT) Connect(ctx context.Context) error { return nil }
func (m *mockMQTT) Disconnect()                       {}
func (m *mockMQTT) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	return nil
}
func (m *mockMQTT) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	return nil
}
func (m *mockMQTT) IsConnected() bool { return m.connected }

type mockRedis struct{ pingErr error }

func (m *mockRedis) SetHash(ctx context.Context, key string, fields map[string]interface{}, ttl time.Duration) error {
	return nil
}
func (m *mockRedis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return nil, nil
}
func (m *mockRedis) Keys(ctx context.Context, pattern string) ([]string, error) { return nil, nil }
func (m *mockRedis) Del(ctx context.Context, keys ...string) error            { return nil }
func (m *mockRedis) Ping(ctx context.Context) error                           { return m.pingErr }
func (m *mockRedis) Close() error                                             { return nil }

type fixedRooms int

func (f fixedRooms) CountTrackedRooms() int { return int(f) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHandlerFuncReportsTrackedRooms(t *testing.T) {
	h := NewChecker(testLogger(), WithRoomCounter(fixedRooms(3)))

	rec := httptest.NewRecorder()
	h.HandlerFunc()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decode(t, rec)
	assert.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.TrackedRooms)
	assert.Equal(t, 3, *resp.TrackedRooms)
	assert.Nil(t, resp.Services)

	_, err := time.Parse(time.RFC3339Nano, resp.Timestamp)
	assert.NoError(t, err)
}

func TestHandlerFuncWithoutCounterOmitsRooms(t *testing.T) {
	rec := httptest.NewRecorder()
	NewChecker(nil).HandlerFunc()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.NotContains(t, rec.Body.String(), "tracked_rooms")
}

func TestDetailedHandlerFunc(t *testing.T) {
	tests := []struct {
		name       string
		opts       []Option
		wantCode   int
		wantStatus string
		want       Services
	}{
		{
			name:       "nothing configured",
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			want:       Services{Redis: "disabled", MQTT: "disabled", Postgres: "disabled"},
		},
		{
			name:       "all up",
			opts:       []Option{WithMQTT(&mockMQTT{connected: true}), WithRedis(&mockRedis{})},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			want:       Services{Redis: "connected", MQTT: "connected", Postgres: "disabled"},
		},
		{
			name:       "mqtt down",
			opts:       []Option{WithMQTT(&mockMQTT{}), WithRedis(&mockRedis{})},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
			want:       Services{Redis: "connected", MQTT: "disconnected", Postgres: "disabled"},
		},
		{
			name:       "redis ping fails",
			opts:       []Option{WithRedis(&mockRedis{pingErr: errors.New("refused")})},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
			want:       Services{Redis: "disconnected", MQTT: "disabled", Postgres: "disabled"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewChecker(testLogger(), tt.opts...)

			rec := httptest.NewRecorder()
			h.DetailedHandlerFunc()(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			resp := decode(t, rec)
			assert.Equal(t, tt.wantStatus, resp.Status)
			require.NotNil(t, resp.Services)
			assert.Equal(t, tt.want, *resp.Services)
		})
	}
}
