package roomstate

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically demotes rooms that stopped receiving readings
type Sweeper struct {
	store       *Store
	maxInterval time.Duration
	period      time.Duration
	clock       Clock
	listener    Listeners
	logger      *slog.Logger
}

// NewSweeper creates a sweeper that runs every period and demotes rooms whose
// last accept is older than maxInterval
func NewSweeper(store *Store, maxInterval, period time.Duration, clock Clock, logger *slog.Logger, listeners ...Listener) *Sweeper {
	if clock == nil {
		clock = RealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		store:       store,
		maxInterval: maxInterval,
		period:      period,
		clock:       clock,
		listener:    listeners,
		logger:      logger,
	}
}

// Sweep scans every room once and returns how many were demoted. Rooms whose
// lock is held are skipped: an update is being applied, so they are fresh.
// Sequence and time cursors are never touched.
func (s *Sweeper) Sweep(ctx context.Context) int {
	now := s.clock.Now()
	demoted := 0

	s.store.ForEach(func(key RoomKey, rs *RoomState) {
		if !rs.mu.TryLock() {
			return
		}
		defer rs.mu.Unlock()

		if rs.lastUpdateTime.IsZero() || now.Sub(rs.lastUpdateTime) <= s.maxInterval {
			return
		}

		reading, changed := rs.demote()
		if !changed {
			return
		}
		demoted++

		s.logger.Info("Room moved to fallback",
			"building_id", key.BuildingID,
			"room_id", key.RoomID,
			"idle_ms", now.Sub(rs.lastUpdateTime).Milliseconds())

		if rs.lastUpdate.Load() != nil {
			s.listener.OnDemoted(ctx, reading)
		}
	})

	return demoted
}

// Run sweeps on every tick until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	s.logger.Info("Starting fallback sweeper",
		"period_ms", s.period.Milliseconds(),
		"max_interval_ms", s.maxInterval.Milliseconds())

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			s.logger.Info("Fallback sweeper stopping")
			return
		}
	}
}
