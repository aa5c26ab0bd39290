package roomstate

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// noSequence is lower than any sequence id a producer can submit
const noSequence int64 = -1

// RoomState holds the ordering cursor, timing cursor and last accepted reading
// for one room. Mutations are serialised by mu; lastUpdate is swapped
// atomically so readers never see a torn snapshot.
type RoomState struct {
	mu             sync.Mutex
	lastSequenceID int64
	lastUpdateTime time.Time
	status         Status
	lastUpdate     atomic.Pointer[AcceptedReading]
}

func newRoomState() *RoomState {
	return &RoomState{
		lastSequenceID: noSequence,
		status:         StatusActive,
	}
}

// LastUpdate returns the last accepted reading, or nil if none
func (rs *RoomState) LastUpdate() *AcceptedReading {
	return rs.lastUpdate.Load()
}

// Snapshot copies the room's cursors under its lock
func (rs *RoomState) Snapshot() RoomSnapshot {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	return RoomSnapshot{
		LastSequenceID: rs.lastSequenceID,
		LastUpdateTime: rs.lastUpdateTime,
		Status:         rs.status,
		LastUpdate:     rs.lastUpdate.Load(),
	}
}

// commit records an accepted reading. Caller holds mu.
func (rs *RoomState) commit(r RawReading, status Status, at time.Time) AcceptedReading {
	accepted := AcceptedReading{RawReading: r, Status: status}
	rs.lastSequenceID = r.SequenceID
	rs.lastUpdateTime = at
	rs.status = status
	rs.lastUpdate.Store(&accepted)
	return accepted
}

// demote moves the room to fallback. Caller holds mu. Returns false when the
// room is already in fallback.
func (rs *RoomState) demote() (AcceptedReading, bool) {
	if rs.status == StatusFallback {
		return AcceptedReading{}, false
	}
	rs.status = StatusFallback

	last := rs.lastUpdate.Load()
	if last == nil {
		return AcceptedReading{}, true
	}
	demoted := *last
	demoted.Status = StatusFallback
	rs.lastUpdate.Store(&demoted)
	return demoted, true
}

// Store is the in-memory table of room states. It is created once at process
// start and shared by the processor, the sweeper and read-side queries.
type Store struct {
	mu    sync.RWMutex
	rooms map[RoomKey]*RoomState
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		rooms: make(map[RoomKey]*RoomState),
	}
}

// Get returns the state for key if it exists
func (s *Store) Get(key RoomKey) (*RoomState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rs, ok := s.rooms[key]
	return rs, ok
}

// GetOrCreate returns the state for key, creating it with defaults if absent
func (s *Store) GetOrCreate(key RoomKey) *RoomState {
	if rs, ok := s.Get(key); ok {
		return rs
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rs, ok := s.rooms[key]; ok {
		return rs
	}
	rs := newRoomState()
	s.rooms[key] = rs
	return rs
}

// ForEach calls fn for every room. The key set is copied first so fn may take
// the room's lock without holding the table lock.
func (s *Store) ForEach(fn func(RoomKey, *RoomState)) {
	s.mu.RLock()
	keys := make([]RoomKey, 0, len(s.rooms))
	states := make([]*RoomState, 0, len(s.rooms))
	for k, rs := range s.rooms {
		keys = append(keys, k)
		states = append(states, rs)
	}
	s.mu.RUnlock()

	for i := range keys {
		fn(keys[i], states[i])
	}
}

// Count returns the number of rooms in the store
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// Room returns the latest accepted reading for a room, including its current
// status. ok is false if the room never accepted a reading.
func (s *Store) Room(buildingID, roomID string) (AcceptedReading, bool) {
	rs, ok := s.Get(RoomKey{BuildingID: buildingID, RoomID: roomID})
	if !ok {
		return AcceptedReading{}, false
	}
	last := rs.LastUpdate()
	if last == nil {
		return AcceptedReading{}, false
	}
	return *last, true
}

// Rooms returns the latest accepted reading of every room, ordered by key
func (s *Store) Rooms() []AcceptedReading {
	var out []AcceptedReading
	s.ForEach(func(_ RoomKey, rs *RoomState) {
		if last := rs.LastUpdate(); last != nil {
			out = append(out, *last)
		}
	})

	sort.Slice(out, func(i, j int) bool {
		if out[i].BuildingID != out[j].BuildingID {
			return out[i].BuildingID < out[j].BuildingID
		}
		return out[i].RoomID < out[j].RoomID
	})
	return out
}

// CountTrackedRooms returns how many distinct rooms have been tracked
func (s *Store) CountTrackedRooms() int {
	return s.Count()
}

// Restore seeds a room from a previously persisted accept. It only moves the
// room forward: if the room already holds an equal or newer sequence id the
// call is a no-op and returns false.
func (s *Store) Restore(r AcceptedReading, acceptedAt time.Time) bool {
	rs := s.GetOrCreate(r.Key())

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if r.SequenceID <= rs.lastSequenceID {
		return false
	}
	rs.commit(r.RawReading, r.Status, acceptedAt)
	return true
}
