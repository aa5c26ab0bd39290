package checker

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saaga0h/roomwatch/e2e/internal/observer"
	"github.com/saaga0h/roomwatch/e2e/internal/scenario"
)

func TestMatchesExpectation(t *testing.T) {
	tests := []struct {
		name     string
		actual   interface{}
		expected interface{}
		want     bool
	}{
		{"equal strings", "active", "active", true},
		{"different strings", "active", "fallback", false},
		{"int matches float", float64(3), 3, true},
		{"numeric string from redis", "42", 42, true},
		{"non numeric string", "abc", 1, false},
		{"greater than", float64(5), ">3", true},
		{"greater or equal fails", float64(2), ">=3", false},
		{"less or equal", "3", "<=3", true},
		{"regex", "2025-01-01T00:00:00Z", "~^2025-~", true},
		{"regex miss", "fallback", "~^Act~", false},
		{"bool", true, true, true},
		{"bool from string", "true", true, true},
		{"nil both", nil, nil, true},
		{"nil actual", nil, "x", false},
		{"nested map", map[string]interface{}{"a": "1", "b": "x"}, map[string]interface{}{"a": 1}, true},
		{"missing key", map[string]interface{}{"a": 1}, map[string]interface{}{"b": 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := MatchesExpectation(tt.actual, tt.expected)
			assert.Equal(t, tt.want, got, reason)
			if !tt.want {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestAPISource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/occupancy/b1/r1":
			w.Write([]byte(`{"building_id":"b1","room_id":"r1","occupancy_state":1,"sequence_id":7,"status":"active"}`))
		case "/occupancy/b1/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	src := &APISource{BaseURL: srv.URL}
	setup := scenario.Setup{BuildingID: "b1", RoomID: "r1"}
	ctx := context.Background()

	res := CheckState(ctx, src, setup, scenario.Check{Source: "api", Expect: map[string]interface{}{"status": "active", "sequence_id": 7}})
	assert.True(t, res.Passed, res.Reason)

	res = CheckState(ctx, src, setup, scenario.Check{Source: "api", Expect: map[string]interface{}{"status": "fallback"}})
	assert.False(t, res.Passed)

	res = CheckState(ctx, src, setup, scenario.Check{Source: "api", RoomID: "r9", Expect: map[string]interface{}{"exists": false}})
	assert.True(t, res.Passed, res.Reason)

	res = CheckState(ctx, src, setup, scenario.Check{Source: "api", Expect: map[string]interface{}{"exists": false}})
	assert.False(t, res.Passed)

	res = CheckState(ctx, src, setup, scenario.Check{Source: "api", RoomID: "broken", Expect: map[string]interface{}{"status": "active"}})
	assert.False(t, res.Passed)
	assert.Contains(t, res.Reason, "500")
}

func TestMQTTSourceMissingRoom(t *testing.T) {
	src := &MQTTSource{Observer: observer.NewObserver("tcp://unused:1883", log.New(io.Discard, "", 0))}
	_, err := src.Fetch(context.Background(), "b1", "r1")
	require.ErrorIs(t, err, ErrNoState)
}
