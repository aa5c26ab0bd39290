package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/saaga0h/roomwatch/internal/roomstate"
	"github.com/saaga0h/roomwatch/pkg/redis"
)

// writeTimeout bounds every write made from a listener callback. Callbacks
// run under the room's lock.
const writeTimeout = 2 * time.Second

// RedisMirror keeps the latest accepted reading of every room in a Redis hash
// at room:latest:{building_id}:{room_id}
type RedisMirror struct {
	client redis.Client
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewRedisMirror creates the mirror. A zero ttl keeps keys forever.
func NewRedisMirror(client redis.Client, ttl time.Duration, logger *slog.Logger) *RedisMirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisMirror{client: client, ttl: ttl, now: time.Now, logger: logger}
}

// OnAccepted writes the full reading
func (m *RedisMirror) OnAccepted(ctx context.Context, r roomstate.AcceptedReading) {
	fields := map[string]interface{}{
		"timestamp":       r.Timestamp,
		"building_id":     r.BuildingID,
		"room_id":         r.RoomID,
		"occupancy_state": r.OccupancyState,
		"source_id":       r.SourceID,
		"sequence_id":     r.SequenceID,
		"status":          r.Status.String(),
		"accepted_at":     m.now().UTC().Format(time.RFC3339Nano),
	}
	m.write(ctx, r.RawReading, fields)
}

// OnDuplicate does nothing; a rejected reading changes no state
func (m *RedisMirror) OnDuplicate(ctx context.Context, r roomstate.RawReading) {}

// OnDemoted only rewrites the status field
func (m *RedisMirror) OnDemoted(ctx context.Context, r roomstate.AcceptedReading) {
	m.write(ctx, r.RawReading, map[string]interface{}{"status": r.Status.String()})
}

func (m *RedisMirror) write(ctx context.Context, r roomstate.RawReading, fields map[string]interface{}) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	key := redis.RoomStateKey(r.BuildingID, r.RoomID)
	if err := m.client.SetHash(ctx, key, fields, m.ttl); err != nil {
		m.logger.Error("Failed to mirror room state",
			"building_id", r.BuildingID,
			"room_id", r.RoomID,
			"error", err)
	}
}

// Restore loads every mirrored room into store and returns how many rooms
// were seeded. Unreadable entries are logged and skipped.
func (m *RedisMirror) Restore(ctx context.Context, store *roomstate.Store) (int, error) {
	keys, err := m.client.Keys(ctx, redis.RoomStatePattern)
	if err != nil {
		return 0, fmt.Errorf("failed to list mirrored rooms: %w", err)
	}

	restored := 0
	for _, key := range keys {
		fields, err := m.client.HGetAll(ctx, key)
		if err != nil {
			m.logger.Warn("Failed to read mirrored room", "key", key, "error", err)
			continue
		}
		r, at, err := parseMirrored(fields)
		if err != nil {
			m.logger.Warn("Discarding unreadable mirrored room", "key", key, "error", err)
			continue
		}
		if store.Restore(r, at) {
			restored++
		}
	}
	return restored, nil
}

func parseMirrored(fields map[string]string) (roomstate.AcceptedReading, time.Time, error) {
	var r roomstate.AcceptedReading
	if len(fields) == 0 {
		return r, time.Time{}, fmt.Errorf("empty hash")
	}

	r.Timestamp = fields["timestamp"]
	r.BuildingID = fields["building_id"]
	r.RoomID = fields["room_id"]
	r.SourceID = fields["source_id"]

	occupancy, err := strconv.Atoi(fields["occupancy_state"])
	if err != nil {
		return r, time.Time{}, fmt.Errorf("invalid occupancy_state: %w", err)
	}
	r.OccupancyState = occupancy

	seq, err := strconv.ParseInt(fields["sequence_id"], 10, 64)
	if err != nil {
		return r, time.Time{}, fmt.Errorf("invalid sequence_id: %w", err)
	}
	r.SequenceID = seq

	if err := r.Status.UnmarshalText([]byte(fields["status"])); err != nil {
		return r, time.Time{}, err
	}

	at, err := time.Parse(time.RFC3339Nano, fields["accepted_at"])
	if err != nil {
		return r, time.Time{}, fmt.Errorf("invalid accepted_at: %w", err)
	}

	if err := roomstate.Validate(r.RawReading); err != nil {
		return r, time.Time{}, err
	}
	return r, at, nil
}
