package roomstate

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// recordingListener keeps every notification it receives
type recordingListener struct {
	mu         sync.Mutex
	accepted   []AcceptedReading
	duplicates []RawReading
	demoted    []AcceptedReading
}

func (l *recordingListener) OnAccepted(_ context.Context, r AcceptedReading) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accepted = append(l.accepted, r)
}

func (l *recordingListener) OnDuplicate(_ context.Context, r RawReading) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.duplicates = append(l.duplicates, r)
}

func (l *recordingListener) OnDemoted(_ context.Context, r AcceptedReading) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.demoted = append(l.demoted, r)
}

func newTestProcessor(clock Clock, ls ...Listener) (*Store, *Processor) {
	store := NewStore()
	return store, NewProcessor(store, 2*time.Second, testLogger(), WithClock(clock), WithListener(ls...))
}

func reading(seq int64) RawReading {
	r := validReading()
	r.SequenceID = seq
	return r
}

func TestProcess_IncreasingSequenceAccepted(t *testing.T) {
	clock := newFakeClock()
	store, p := newTestProcessor(clock)
	ctx := context.Background()

	for _, seq := range []int64{1, 2, 10, 11, 500} {
		clock.Advance(3 * time.Second)
		res, err := p.Process(ctx, reading(seq))
		require.NoError(t, err)
		assert.True(t, res.Accepted)
		assert.Equal(t, StatusActive, res.Status)

		rs, ok := store.Get(RoomKey{"B1", "R1"})
		require.True(t, ok)
		assert.Equal(t, seq, rs.Snapshot().LastSequenceID)
	}
}

func TestProcess_DuplicateLeavesStateUntouched(t *testing.T) {
	clock := newFakeClock()
	listener := &recordingListener{}
	store, p := newTestProcessor(clock, listener)
	ctx := context.Background()

	_, err := p.Process(ctx, reading(10))
	require.NoError(t, err)

	rs, _ := store.Get(RoomKey{"B1", "R1"})
	before := rs.Snapshot()
	beforeReading := *before.LastUpdate

	for _, seq := range []int64{10, 9, 0, -1, -100} {
		clock.Advance(500 * time.Millisecond)
		res, err := p.Process(ctx, reading(seq))
		require.NoError(t, err)
		assert.False(t, res.Accepted)
		assert.Equal(t, ReasonDuplicate, res.Reason)

		after := rs.Snapshot()
		assert.Equal(t, before.LastSequenceID, after.LastSequenceID)
		assert.Equal(t, before.LastUpdateTime, after.LastUpdateTime)
		assert.Equal(t, before.Status, after.Status)
		assert.Same(t, before.LastUpdate, after.LastUpdate)
		assert.Equal(t, beforeReading, *after.LastUpdate)
	}

	assert.Len(t, listener.accepted, 1)
	assert.Len(t, listener.duplicates, 5)
}

func TestProcess_ResubmitLastAcceptedIsDuplicate(t *testing.T) {
	clock := newFakeClock()
	_, p := newTestProcessor(clock)
	ctx := context.Background()

	r := reading(42)
	res, err := p.Process(ctx, r)
	require.NoError(t, err)
	require.True(t, res.Accepted)

	for i := 0; i < 3; i++ {
		clock.Advance(5 * time.Second)
		res, err = p.Process(ctx, r)
		require.NoError(t, err)
		assert.False(t, res.Accepted)
	}
}

func TestProcess_Pacing(t *testing.T) {
	tests := []struct {
		name       string
		gap        time.Duration
		wantStatus Status
		wantSleep  time.Duration
	}{
		{name: "inside min interval", gap: 500 * time.Millisecond, wantStatus: StatusBuffering, wantSleep: 1500 * time.Millisecond},
		{name: "just inside", gap: 1999 * time.Millisecond, wantStatus: StatusBuffering, wantSleep: time.Millisecond},
		{name: "exactly min interval", gap: 2 * time.Second, wantStatus: StatusActive},
		{name: "after min interval", gap: 3 * time.Second, wantStatus: StatusActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			store, p := newTestProcessor(clock)
			ctx := context.Background()

			res, err := p.Process(ctx, reading(1))
			require.NoError(t, err)
			assert.Equal(t, StatusActive, res.Status)
			first := clock.Now()

			clock.Advance(tt.gap)
			res, err = p.Process(ctx, reading(2))
			require.NoError(t, err)
			assert.True(t, res.Accepted)
			assert.Equal(t, tt.wantStatus, res.Status)

			snap, _ := store.Get(RoomKey{"B1", "R1"})
			s := snap.Snapshot()
			assert.Equal(t, tt.wantStatus, s.Status)
			assert.Equal(t, tt.wantStatus, s.LastUpdate.Status)

			if tt.wantSleep > 0 {
				require.Len(t, clock.slept, 1)
				assert.Equal(t, tt.wantSleep, clock.slept[0])
				assert.Equal(t, first.Add(2*time.Second), s.LastUpdateTime)
			} else {
				assert.Empty(t, clock.slept)
			}
		})
	}
}

func TestProcess_CancelledPacingCommitsNothing(t *testing.T) {
	clock := newFakeClock()
	store, p := newTestProcessor(clock)

	_, err := p.Process(context.Background(), reading(1))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Process(ctx, reading(2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	rs, _ := store.Get(RoomKey{"B1", "R1"})
	assert.Equal(t, int64(1), rs.Snapshot().LastSequenceID)
}

func TestProcess_SentinelSequenceDoesNotCreateRoom(t *testing.T) {
	store, p := newTestProcessor(newFakeClock())

	res, err := p.Process(context.Background(), reading(-1))
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, 0, store.CountTrackedRooms())
}

func TestProcess_RoomsAreIndependent(t *testing.T) {
	clock := newFakeClock()
	store, p := newTestProcessor(clock)
	ctx := context.Background()

	a := reading(100)
	b := reading(1)
	b.RoomID = "R2"

	res, err := p.Process(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, res.Status)

	res, err = p.Process(ctx, b)
	require.NoError(t, err)
	assert.True(t, res.Accepted, "a lower sequence in another room is not a duplicate")
	assert.Equal(t, StatusActive, res.Status, "pacing is per room")

	assert.Equal(t, 2, store.CountTrackedRooms())
}

func TestProcess_ConcurrentSameRoomNeverDoubleAccepts(t *testing.T) {
	store := NewStore()
	p := NewProcessor(store, 0, testLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Process(ctx, reading(7))
			if err == nil && res.Accepted {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	rs, _ := store.Get(RoomKey{"B1", "R1"})
	assert.Equal(t, int64(7), rs.Snapshot().LastSequenceID)
}

func TestSubmit(t *testing.T) {
	_, p := newTestProcessor(newFakeClock())
	ctx := context.Background()

	bad := reading(1)
	bad.OccupancyState = 3
	_, err := p.Submit(ctx, bad)
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))

	status, err := p.Submit(ctx, reading(1))
	require.NoError(t, err)
	assert.Equal(t, StatusActive, status)

	_, err = p.Submit(ctx, reading(1))
	assert.True(t, errors.Is(err, ErrDuplicate))
}

func TestScenario_AcceptRejectBufferFallback(t *testing.T) {
	clock := newFakeClock()
	listener := &recordingListener{}
	store, p := newTestProcessor(clock, listener)
	sweeper := NewSweeper(store, 3*time.Second, time.Second, clock, testLogger(), listener)
	ctx := context.Background()

	first := RawReading{
		SequenceID:     5,
		BuildingID:     "B1",
		RoomID:         "R1",
		OccupancyState: 1,
		Timestamp:      "2024-01-01T10:00:00Z",
		SourceID:       "s",
	}
	require.NoError(t, p.Validate(first))
	res, err := p.Process(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, Result{Accepted: true, Status: StatusActive}, res)

	got, ok := store.Room("B1", "R1")
	require.True(t, ok)
	assert.Equal(t, AcceptedReading{RawReading: first, Status: StatusActive}, got)

	older := first
	older.SequenceID = 3
	res, err = p.Process(ctx, older)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	got, _ = store.Room("B1", "R1")
	assert.Equal(t, int64(5), got.SequenceID)

	clock.Advance(500 * time.Millisecond)
	next := first
	next.SequenceID = 6
	res, err = p.Process(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, Result{Accepted: true, Status: StatusBuffering}, res)

	clock.Advance(4 * time.Second)
	assert.Equal(t, 1, sweeper.Sweep(ctx))

	got, _ = store.Room("B1", "R1")
	assert.Equal(t, StatusFallback, got.Status)
	assert.Equal(t, int64(6), got.SequenceID)
	require.Len(t, listener.demoted, 1)
	assert.Equal(t, StatusFallback, listener.demoted[0].Status)

	later := first
	later.SequenceID = 7
	res, err = p.Process(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, res.Status)
	got, _ = store.Room("B1", "R1")
	assert.Equal(t, StatusActive, got.Status)
}
