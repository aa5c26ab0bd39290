package roomstate

import (
	"fmt"
	"time"
)

// RoomKey identifies a trackable room. It is comparable and used as a map key.
type RoomKey struct {
	BuildingID string
	RoomID     string
}

// String returns the key as "building/room"
func (k RoomKey) String() string {
	return k.BuildingID + "/" + k.RoomID
}

// Status is the live status of a room
type Status int

const (
	StatusActive Status = iota
	StatusBuffering
	StatusFallback
)

// String returns the wire name of the status
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusBuffering:
		return "buffering"
	case StatusFallback:
		return "fallback"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText encodes the status as its wire name
func (s Status) MarshalText() ([]byte, error) {
	switch s {
	case StatusActive, StatusBuffering, StatusFallback:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("unknown status %d", int(s))
	}
}

// UnmarshalText decodes a wire name into a status
func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "active":
		*s = StatusActive
	case "buffering":
		*s = StatusBuffering
	case "fallback":
		*s = StatusFallback
	default:
		return fmt.Errorf("unknown status %q", string(b))
	}
	return nil
}

// RawReading is a single occupancy sample as submitted by a producer
type RawReading struct {
	Timestamp      string `json:"timestamp"`
	BuildingID     string `json:"building_id"`
	RoomID         string `json:"room_id"`
	OccupancyState int    `json:"occupancy_state"`
	SourceID       string `json:"source_id"`
	SequenceID     int64  `json:"sequence_id"`
}

// Key returns the room the reading belongs to
func (r RawReading) Key() RoomKey {
	return RoomKey{BuildingID: r.BuildingID, RoomID: r.RoomID}
}

// AcceptedReading is the snapshot retained for a room: the last accepted
// reading plus the room status. Values are never mutated after being stored.
type AcceptedReading struct {
	RawReading
	Status Status `json:"status"`
}

// Result is the outcome of Processor.Process
type Result struct {
	Accepted bool
	Status   Status
	Reason   string
}

// RoomSnapshot is a point-in-time copy of a room's cursors
type RoomSnapshot struct {
	LastSequenceID int64
	LastUpdateTime time.Time
	Status         Status
	LastUpdate     *AcceptedReading
}
