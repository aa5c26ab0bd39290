package dispatcher

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saaga0h/roomwatch/internal/roomstate"
)

// ReasonMissingIdentity is recorded on records that can never be routed
const ReasonMissingIdentity = "Missing building_id or room_id in raw document"

var errMissingIdentity = errors.New(ReasonMissingIdentity)

// NormalizeTimestamp converts a stored timestamp into canonical ISO-8601 UTC.
// Values already ending in Z are kept; "YYYY-MM-DD HH:MM" gains a T and ":00Z";
// any other string gains a Z. An empty value becomes now.
func NormalizeTimestamp(ts string, now time.Time) string {
	switch {
	case ts == "":
		return now.UTC().Format("2006-01-02T15:04:05.000000") + "Z"
	case strings.HasSuffix(ts, "Z"):
		return ts
	case strings.Contains(ts, " "):
		return strings.Replace(ts, " ", "T", -1) + ":00Z"
	default:
		return ts + "Z"
	}
}

// SequenceFromID derives a per-room monotonic sequence id from a UUIDv7:
// the 48-bit millisecond timestamp, then the 12-bit rand_a field, then the
// top three random bits of rand_b, packed into 63 bits.
//
// Ordering within a millisecond relies on rand_a being a sub-millisecond
// counter, as uuid.NewV7 generates it. Producers that fill rand_a randomly
// get insertion order only across milliseconds, and two of their records
// for one room in the same millisecond collide with odds of 1 in 32768.
func SequenceFromID(id uuid.UUID) (int64, error) {
	if id.Version() != 7 {
		return 0, fmt.Errorf("record id %s is version %d, want a time-ordered v7 id", id, id.Version())
	}

	var ms int64
	for _, b := range id[0:6] {
		ms = ms<<8 | int64(b)
	}
	randA := int64(id[6]&0x0f)<<8 | int64(id[7])
	// id[8] starts with the two variant bits
	randB := int64(id[8]>>3) & 0x07

	return ms<<15 | randA<<3 | randB, nil
}

// BuildPayload turns a queued record into a reading for the processor. It
// fails for records without room identity or without a time-ordered id;
// neither can be fixed by retrying.
func BuildPayload(rec Record, sourceID string, now time.Time) (roomstate.RawReading, error) {
	if rec.BuildingID == "" || rec.RoomID == "" {
		return roomstate.RawReading{}, errMissingIdentity
	}

	seq, err := SequenceFromID(rec.ID)
	if err != nil {
		return roomstate.RawReading{}, err
	}

	return roomstate.RawReading{
		Timestamp:      NormalizeTimestamp(rec.Timestamp, now),
		BuildingID:     rec.BuildingID,
		RoomID:         rec.RoomID,
		OccupancyState: rec.Occupied,
		SourceID:       sourceID,
		SequenceID:     seq,
	}, nil
}
