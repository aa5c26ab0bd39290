package executor

import (
	"context"
	"io"
	"log"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saaga0h/roomwatch/e2e/internal/scenario"
	"github.com/saaga0h/roomwatch/internal/api"
	"github.com/saaga0h/roomwatch/internal/roomstate"
)

func TestSchedule(t *testing.T) {
	s := &scenario.Scenario{
		Readings: []scenario.Reading{{AtMs: 0, Description: "a"}, {AtMs: 100, Description: "b"}},
		Checks:   []scenario.Check{{AtMs: 100, Description: "c"}, {AtMs: 50, Description: "d"}},
	}

	var order []string
	for _, st := range schedule(s) {
		if st.reading != nil {
			order = append(order, st.reading.Description)
		} else {
			order = append(order, st.check.Description)
		}
	}
	assert.Equal(t, []string{"a", "d", "b", "c"}, order)
}

func TestRunAgainstInProcessServer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := roomstate.NewStore()
	processor := roomstate.NewProcessor(store, 0, logger)
	srv := httptest.NewServer(api.NewServer(store, processor, nil, nil, logger).Handler(nil))
	defer srv.Close()

	s, err := scenario.LoadScenarioFromBytes([]byte(`
name: walkthrough
description: one room enters and repeats
setup:
  building_id: b1
  room_id: r1
readings:
  - at_ms: 0
    description: first reading
    occupancy: 1
    sequence_id: 10
    expect:
      http_status: 200
      status: active
  - at_ms: 10
    description: replay is ignored
    occupancy: 1
    sequence_id: 10
    expect:
      http_status: 200
      warning: "~(?i)duplicate~"
  - at_ms: 20
    description: bad occupancy
    occupancy: 7
    sequence_id: 11
    expect:
      http_status: 400
checks:
  - at_ms: 30
    description: room is active
    expect:
      status: active
      sequence_id: 10
      occupancy_state: 1
  - at_ms: 30
    description: other room untouched
    room_id: r2
    expect:
      exists: false
  - at_ms: 30
    description: redis not configured
    source: redis
    expect:
      status: active
`))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runner := NewRunner(Options{APIURL: srv.URL}, log.New(io.Discard, "", 0))
	result, events, err := runner.Run(ctx, s)
	require.NoError(t, err)

	require.Len(t, result.Expectations, 6)
	for _, res := range result.Expectations[:5] {
		assert.True(t, res.Passed, "%s: %s", res.Description, res.Reason)
	}
	assert.False(t, result.Expectations[5].Passed)
	assert.Contains(t, result.Expectations[5].Reason, "not configured")

	assert.Equal(t, 5, result.PassedCount)
	assert.Equal(t, 1, result.FailedCount)
	assert.False(t, result.Passed)
	assert.NotEmpty(t, events)

	assert.Error(t, runner.SaveCapture(t.TempDir()+"/mqtt.json"), "no observer without a broker")
}

func TestWaitUntilHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, WaitUntil(ctx, time.Now(), 60_000), context.Canceled)
	assert.NoError(t, WaitUntil(context.Background(), time.Now().Add(-time.Second), 10))
}
