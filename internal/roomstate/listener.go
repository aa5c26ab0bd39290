package roomstate

import "context"

// Listener observes room state transitions. Calls are made while the room's
// lock is held, so one room's notifications arrive in commit order.
// Implementations must not call back into the processor for the same room.
type Listener interface {
	// OnAccepted is called after a reading has been committed
	OnAccepted(ctx context.Context, r AcceptedReading)

	// OnDuplicate is called when a reading is rejected as duplicate or out-of-order
	OnDuplicate(ctx context.Context, r RawReading)

	// OnDemoted is called when the sweeper moves a room to fallback
	OnDemoted(ctx context.Context, r AcceptedReading)
}

// Listeners fans a notification out to several listeners in order
type Listeners []Listener

func (ls Listeners) OnAccepted(ctx context.Context, r AcceptedReading) {
	for _, l := range ls {
		l.OnAccepted(ctx, r)
	}
}

func (ls Listeners) OnDuplicate(ctx context.Context, r RawReading) {
	for _, l := range ls {
		l.OnDuplicate(ctx, r)
	}
}

func (ls Listeners) OnDemoted(ctx context.Context, r AcceptedReading) {
	for _, l := range ls {
		l.OnDemoted(ctx, r)
	}
}
