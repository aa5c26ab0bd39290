package roomstate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweep_DemotesOnlyStaleRooms(t *testing.T) {
	clock := newFakeClock()
	store, p := newTestProcessor(clock)
	ctx := context.Background()
	sweeper := NewSweeper(store, 3*time.Second, time.Second, clock, testLogger())

	stale := reading(1)
	stale.RoomID = "stale"
	_, err := p.Process(ctx, stale)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	fresh := reading(1)
	fresh.RoomID = "fresh"
	_, err = p.Process(ctx, fresh)
	require.NoError(t, err)

	clock.Advance(1500 * time.Millisecond)
	assert.Equal(t, 1, sweeper.Sweep(ctx))

	got, _ := store.Room("B1", "stale")
	assert.Equal(t, StatusFallback, got.Status)
	got, _ = store.Room("B1", "fresh")
	assert.Equal(t, StatusActive, got.Status)
}

func TestSweep_ExactlyMaxIntervalIsNotStale(t *testing.T) {
	clock := newFakeClock()
	store, p := newTestProcessor(clock)
	ctx := context.Background()
	sweeper := NewSweeper(store, 3*time.Second, time.Second, clock, testLogger())

	_, err := p.Process(ctx, reading(1))
	require.NoError(t, err)

	clock.Advance(3 * time.Second)
	assert.Equal(t, 0, sweeper.Sweep(ctx))
}

func TestSweep_IsIdempotentAndKeepsCursors(t *testing.T) {
	clock := newFakeClock()
	listener := &recordingListener{}
	store, p := newTestProcessor(clock)
	ctx := context.Background()
	sweeper := NewSweeper(store, 3*time.Second, time.Second, clock, testLogger(), listener)

	_, err := p.Process(ctx, reading(9))
	require.NoError(t, err)
	rs, _ := store.Get(RoomKey{"B1", "R1"})
	before := rs.Snapshot()

	clock.Advance(10 * time.Second)
	assert.Equal(t, 1, sweeper.Sweep(ctx))
	demoted := rs.Snapshot()
	assert.Equal(t, 0, sweeper.Sweep(ctx))
	assert.Equal(t, 0, sweeper.Sweep(ctx))

	after := rs.Snapshot()
	assert.Equal(t, StatusFallback, after.Status)
	assert.Equal(t, StatusFallback, after.LastUpdate.Status)
	assert.Equal(t, before.LastSequenceID, after.LastSequenceID)
	assert.Equal(t, before.LastUpdateTime, after.LastUpdateTime)
	assert.Same(t, demoted.LastUpdate, after.LastUpdate)
	assert.Len(t, listener.demoted, 1)

	// The reading held before demotion is not rewritten in place
	assert.Equal(t, StatusActive, before.LastUpdate.Status)
}

func TestSweep_SkipsRoomsBeingUpdated(t *testing.T) {
	clock := newFakeClock()
	store, p := newTestProcessor(clock)
	ctx := context.Background()
	sweeper := NewSweeper(store, 3*time.Second, time.Second, clock, testLogger())

	_, err := p.Process(ctx, reading(1))
	require.NoError(t, err)
	clock.Advance(10 * time.Second)

	rs, _ := store.Get(RoomKey{"B1", "R1"})
	rs.mu.Lock()
	assert.Equal(t, 0, sweeper.Sweep(ctx))
	rs.mu.Unlock()

	assert.Equal(t, 1, sweeper.Sweep(ctx))
}

func TestSweeperRun_StopsOnCancel(t *testing.T) {
	store := NewStore()
	sweeper := NewSweeper(store, time.Second, 10*time.Millisecond, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
