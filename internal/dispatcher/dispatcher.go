package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/saaga0h/roomwatch/internal/roomstate"
)

// Config holds the dispatcher's pacing and batching settings
type Config struct {
	PollInterval        time.Duration
	MinIntervalPerRoom  time.Duration
	BatchLimit          int
	SubmitTimeout       time.Duration
	ExcludedCollections []string
	SourceID            string
}

// BatchSummary counts what happened to one collection's batch in one scan
type BatchSummary struct {
	Collection string
	Fetched    int
	Processed  int
	Rejected   int
	Failed     int
	Skipped    int
}

// Observer receives dispatcher events, typically for metrics
type Observer interface {
	RecordDispatched(collection string, outcome string)
	ScanCompleted(d time.Duration)
}

type nopObserver struct{}

func (nopObserver) RecordDispatched(string, string) {}
func (nopObserver) ScanCompleted(time.Duration)     {}

// pending is a built payload waiting in its room's queue
type pending struct {
	record  Record
	payload roomstate.RawReading
}

// Dispatcher moves unsent records from a RecordSource into a Submitter,
// round-robin across rooms and paced per room
type Dispatcher struct {
	source    RecordSource
	submitter Submitter
	cfg       Config
	excluded  map[string]bool
	clock     roomstate.Clock
	observer  Observer
	logger    *slog.Logger

	// next eligible send time per room, kept across scans
	nextAllowed map[roomstate.RoomKey]time.Time
}

// Option customises a Dispatcher
type Option func(*Dispatcher)

// WithClock replaces the system clock
func WithClock(c roomstate.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithObserver registers an observer for dispatch events
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// New creates a dispatcher
func New(source RecordSource, submitter Submitter, cfg Config, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	excluded := make(map[string]bool, len(cfg.ExcludedCollections))
	for _, name := range cfg.ExcludedCollections {
		excluded[name] = true
	}

	d := &Dispatcher{
		source:      source,
		submitter:   submitter,
		cfg:         cfg,
		excluded:    excluded,
		clock:       roomstate.RealClock(),
		observer:    nopObserver{},
		logger:      logger,
		nextAllowed: make(map[roomstate.RoomKey]time.Time),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run scans the source every PollInterval until ctx is cancelled. A scan in
// progress finishes its current submission before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("Starting dispatcher",
		"poll_interval_ms", d.cfg.PollInterval.Milliseconds(),
		"min_interval_per_room_ms", d.cfg.MinIntervalPerRoom.Milliseconds(),
		"batch_limit", d.cfg.BatchLimit)

	for {
		if _, err := d.ScanOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("Dispatcher scan failed", "error", err)
		}

		if err := d.clock.Sleep(ctx, d.cfg.PollInterval); err != nil {
			d.logger.Info("Dispatcher stopping")
			return nil
		}
	}
}

// ScanOnce processes one batch from every eligible collection. A failing
// collection does not stop the others.
func (d *Dispatcher) ScanOnce(ctx context.Context) ([]BatchSummary, error) {
	start := d.clock.Now()
	defer func() { d.observer.ScanCompleted(d.clock.Now().Sub(start)) }()

	names, err := d.source.Collections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	var summaries []BatchSummary
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		if !d.eligible(name) {
			continue
		}

		summary, err := d.ProcessCollection(ctx, name)
		if err != nil {
			d.logger.Error("Failed to process collection", "collection", name, "error", err)
			continue
		}
		if summary == nil {
			continue
		}
		summaries = append(summaries, *summary)

		attrs := []any{
			"collection", name,
			"processed", summary.Processed,
			"rejected", summary.Rejected,
			"skipped", summary.Skipped,
		}
		if summary.Failed > 0 {
			d.logger.Warn("Batch summary", append(attrs, "failed", summary.Failed)...)
		} else {
			d.logger.Info("Batch summary", attrs...)
		}
	}

	return summaries, nil
}

func (d *Dispatcher) eligible(name string) bool {
	if d.excluded[name] {
		return false
	}
	return !strings.HasPrefix(name, "system.") && !strings.HasPrefix(name, "pg_")
}

// ProcessCollection fetches one batch of unsent records and delivers what the
// per-room pacing allows. It returns nil when the collection has nothing to send.
func (d *Dispatcher) ProcessCollection(ctx context.Context, name string) (*BatchSummary, error) {
	if n, err := d.source.EnsureSentMarker(ctx, name); err != nil {
		return nil, fmt.Errorf("failed to initialise sent marker: %w", err)
	} else if n > 0 {
		d.logger.Info("Initialised sent marker", "collection", name, "records", n)
	}

	records, err := d.source.FetchUnsent(ctx, name, d.cfg.BatchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent records: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	d.logger.Debug("Found unsent records", "collection", name, "count", len(records))
	summary := &BatchSummary{Collection: name, Fetched: len(records)}

	queues, order := d.group(ctx, name, records, summary)
	d.drain(ctx, name, queues, order, summary)

	return summary, nil
}

// group builds payloads and buckets them by room, keeping first-seen room
// order. Unroutable records are marked delivered on the spot.
func (d *Dispatcher) group(ctx context.Context, name string, records []Record, summary *BatchSummary) (map[roomstate.RoomKey][]pending, []roomstate.RoomKey) {
	queues := make(map[roomstate.RoomKey][]pending)
	var order []roomstate.RoomKey

	for _, rec := range records {
		payload, err := BuildPayload(rec, d.cfg.SourceID, d.clock.Now().UTC())
		if err != nil {
			d.logger.Warn("Skipping unroutable record", "collection", name, "id", rec.ID, "reason", err)
			d.mark(ctx, name, rec, Delivery{Validated: false, Reason: err.Error()})
			summary.Skipped++
			d.observer.RecordDispatched(name, "skipped")
			continue
		}

		key := payload.Key()
		if _, ok := queues[key]; !ok {
			order = append(order, key)
		}
		queues[key] = append(queues[key], pending{record: rec, payload: payload})
	}

	return queues, order
}

// drain sweeps the room queues, sending the head of each eligible queue per
// pass. It stops when no room is eligible, when every queue is empty, or on
// the first failed submission, which abandons the rest of the batch.
func (d *Dispatcher) drain(ctx context.Context, name string, queues map[roomstate.RoomKey][]pending, order []roomstate.RoomKey, summary *BatchSummary) {
	for len(order) > 0 {
		now := d.clock.Now()
		sentAny := false

		for _, key := range order {
			if ctx.Err() != nil {
				return
			}

			queue := queues[key]
			if len(queue) == 0 || now.Before(d.nextAllowed[key]) {
				continue
			}

			head := queue[0]
			queues[key] = queue[1:]

			outcome, err := d.submit(ctx, head.payload)
			if err != nil {
				summary.Failed++
				d.observer.RecordDispatched(name, "failed")
				d.logger.Warn("Submission failed, abandoning batch",
					"collection", name,
					"building_id", key.BuildingID,
					"room_id", key.RoomID,
					"sequence_id", head.payload.SequenceID,
					"error", err)
				return
			}

			d.deliver(ctx, name, head, outcome, summary)
			d.nextAllowed[key] = d.clock.Now().Add(d.cfg.MinIntervalPerRoom)
			sentAny = true
		}

		remaining := order[:0]
		for _, key := range order {
			if len(queues[key]) > 0 {
				remaining = append(remaining, key)
			}
		}
		order = remaining

		if !sentAny {
			return
		}
	}
}

// submit bounds one hand-off by SubmitTimeout. The context is detached from
// cancellation so a stop request lets the in-flight record complete.
func (d *Dispatcher) submit(ctx context.Context, r roomstate.RawReading) (Outcome, error) {
	subCtx := context.WithoutCancel(ctx)
	if d.cfg.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		subCtx, cancel = context.WithTimeout(subCtx, d.cfg.SubmitTimeout)
		defer cancel()
	}
	return d.submitter.Submit(subCtx, r)
}

func (d *Dispatcher) deliver(ctx context.Context, name string, p pending, outcome Outcome, summary *BatchSummary) {
	var delivery Delivery
	switch outcome.Kind {
	case OutcomeAccepted:
		delivery = Delivery{Validated: true, Reason: fmt.Sprintf("%s (%s)", outcome.Message, outcome.Status)}
		summary.Processed++
	case OutcomeInvalid:
		delivery = Delivery{Validated: false, Reason: outcome.Message}
		summary.Rejected++
	default:
		// OutcomeIgnored: handed off, not applied, never retried
		delivery = Delivery{Validated: false, Reason: outcome.Message}
		summary.Processed++
	}

	d.observer.RecordDispatched(name, outcome.Kind.String())
	d.mark(ctx, name, p.record, delivery)
}

// mark writes a delivery outcome. A failed write leaves the record unsent; its
// resubmission is rejected as a duplicate by the processor.
func (d *Dispatcher) mark(ctx context.Context, name string, rec Record, delivery Delivery) {
	if err := d.source.MarkDelivered(context.WithoutCancel(ctx), name, rec.ID, delivery); err != nil {
		d.logger.Error("Failed to mark record delivered",
			"collection", name,
			"id", rec.ID,
			"error", err)
	}
}
