package transport

import (
	"context"
	"errors"

	"github.com/saaga0h/roomwatch/internal/dispatcher"
	"github.com/saaga0h/roomwatch/internal/roomstate"
)

// LocalSubmitter feeds readings straight into an in-process processor
type LocalSubmitter struct {
	processor *roomstate.Processor
}

// NewLocalSubmitter wraps a processor as a dispatcher.Submitter
func NewLocalSubmitter(p *roomstate.Processor) *LocalSubmitter {
	return &LocalSubmitter{processor: p}
}

// Submit validates and applies the reading. Only an interrupted pacing wait
// is reported as an error.
func (s *LocalSubmitter) Submit(ctx context.Context, r roomstate.RawReading) (dispatcher.Outcome, error) {
	status, err := s.processor.Submit(ctx, r)

	var verr *roomstate.ValidationError
	switch {
	case err == nil:
		return dispatcher.Outcome{Kind: dispatcher.OutcomeAccepted, Status: status, Message: "Update processed"}, nil
	case errors.Is(err, roomstate.ErrDuplicate):
		return dispatcher.Outcome{Kind: dispatcher.OutcomeIgnored, Message: roomstate.ReasonDuplicate}, nil
	case errors.As(err, &verr):
		return dispatcher.Outcome{Kind: dispatcher.OutcomeInvalid, Message: verr.Message}, nil
	default:
		return dispatcher.Outcome{}, err
	}
}
