package dispatcher

import (
	"context"

	"github.com/google/uuid"

	"github.com/saaga0h/roomwatch/internal/roomstate"
)

// Record is one raw reading waiting in the unsent queue
type Record struct {
	// ID is the record's unique time-ordered identifier (UUIDv7)
	ID         uuid.UUID
	BuildingID string
	RoomID     string
	Occupied   int
	// Timestamp is the raw timestamp as stored; empty when absent
	Timestamp string
}

// Delivery is written back to a record once it has been handed off
type Delivery struct {
	Validated bool
	Reason    string
}

// RecordSource is the external unsent-record queue
type RecordSource interface {
	// Collections enumerates the record groupings in the source
	Collections(ctx context.Context) ([]string, error)

	// EnsureSentMarker initialises a missing sent marker to false
	EnsureSentMarker(ctx context.Context, collection string) (int64, error)

	// FetchUnsent returns up to limit unsent records in insertion order
	FetchUnsent(ctx context.Context, collection string, limit int) ([]Record, error)

	// MarkDelivered flags a record as sent with the delivery outcome
	MarkDelivered(ctx context.Context, collection string, id uuid.UUID, d Delivery) error
}

// OutcomeKind classifies a successful hand-off
type OutcomeKind int

const (
	// OutcomeAccepted means the reading was applied
	OutcomeAccepted OutcomeKind = iota
	// OutcomeIgnored means the reading was received but not applied
	// (duplicate or out-of-order, or an unrecognised success body)
	OutcomeIgnored
	// OutcomeInvalid means the reading was refused as malformed. Retrying
	// cannot change the answer.
	OutcomeInvalid
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Outcome is what a submitter reports for a delivered reading
type Outcome struct {
	Kind    OutcomeKind
	Status  roomstate.Status
	Message string
}

// Submitter hands a reading to the update processor. A non-nil error is a
// transport or processing failure and the record will be retried.
type Submitter interface {
	Submit(ctx context.Context, r roomstate.RawReading) (Outcome, error)
}
