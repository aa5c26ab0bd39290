package roomstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ReasonDuplicate is reported for readings whose sequence id does not advance
const ReasonDuplicate = "Duplicate or out-of-order sequence_id"

// ErrDuplicate marks an ordering rejection. Process reports it through
// Result, Submit returns it so callers can use errors.Is.
var ErrDuplicate = errors.New(ReasonDuplicate)

// Processor validates readings and applies them to the store
type Processor struct {
	store       *Store
	minInterval time.Duration
	clock       Clock
	listener    Listeners
	logger      *slog.Logger
}

// ProcessorOption customises a Processor
type ProcessorOption func(*Processor)

// WithClock replaces the system clock
func WithClock(c Clock) ProcessorOption {
	return func(p *Processor) { p.clock = c }
}

// WithListener registers listeners for accepts and duplicates
func WithListener(ls ...Listener) ProcessorOption {
	return func(p *Processor) { p.listener = append(p.listener, ls...) }
}

// NewProcessor creates a processor over store. Accepts for the same room
// closer together than minInterval are delayed and tagged buffering.
func NewProcessor(store *Store, minInterval time.Duration, logger *slog.Logger, opts ...ProcessorOption) *Processor {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Processor{
		store:       store,
		minInterval: minInterval,
		clock:       RealClock(),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Validate checks a reading without mutating state
func (p *Processor) Validate(r RawReading) error {
	return Validate(r)
}

// Process applies a validated reading. A reading that does not advance the
// room's sequence id is rejected and leaves state untouched. A reading that
// arrives within minInterval of the previous accept blocks until the interval
// has passed and is accepted as buffering. The only error is ctx ending
// during that wait, in which case nothing is committed.
func (p *Processor) Process(ctx context.Context, r RawReading) (Result, error) {
	key := r.Key()

	// A reading that cannot advance the sentinel never creates a room
	rs, ok := p.store.Get(key)
	if !ok {
		if r.SequenceID <= noSequence {
			p.reject(ctx, r)
			return Result{Reason: ReasonDuplicate}, nil
		}
		rs = p.store.GetOrCreate(key)
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if r.SequenceID <= rs.lastSequenceID {
		p.reject(ctx, r)
		return Result{Reason: ReasonDuplicate}, nil
	}

	status := StatusActive
	if !rs.lastUpdateTime.IsZero() {
		elapsed := p.clock.Now().Sub(rs.lastUpdateTime)
		if elapsed < p.minInterval {
			wait := p.minInterval - elapsed
			p.logger.Debug("Pacing room update",
				"building_id", r.BuildingID,
				"room_id", r.RoomID,
				"wait_ms", wait.Milliseconds())
			if err := p.clock.Sleep(ctx, wait); err != nil {
				return Result{}, fmt.Errorf("pacing wait for %s interrupted: %w", key, err)
			}
			status = StatusBuffering
		}
	}

	accepted := rs.commit(r, status, p.clock.Now())
	p.listener.OnAccepted(ctx, accepted)

	p.logger.Debug("Room update accepted",
		"building_id", r.BuildingID,
		"room_id", r.RoomID,
		"sequence_id", r.SequenceID,
		"status", status.String())

	return Result{Accepted: true, Status: status}, nil
}

// Submit validates and processes a reading in one call. Validation failures
// are returned as *ValidationError and ordering rejections as ErrDuplicate.
func (p *Processor) Submit(ctx context.Context, r RawReading) (Status, error) {
	if err := p.Validate(r); err != nil {
		return 0, err
	}

	res, err := p.Process(ctx, r)
	if err != nil {
		return 0, err
	}
	if !res.Accepted {
		return 0, ErrDuplicate
	}
	return res.Status, nil
}

func (p *Processor) reject(ctx context.Context, r RawReading) {
	p.logger.Debug("Room update rejected",
		"building_id", r.BuildingID,
		"room_id", r.RoomID,
		"sequence_id", r.SequenceID,
		"reason", ReasonDuplicate)
	p.listener.OnDuplicate(ctx, r)
}
