package peer

import (
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/protocol"
)

// DefaultSlotHold is how long a slot stays reserved for its occupant after
// the last frame before another occupant may take it
const DefaultSlotHold = 3 * time.Second

type slotState struct {
	occupant uint32 // 0 when free
	since    time.Time
}

// SlotLock tracks which call currently owns each of a peer's two timeslots
type SlotLock struct {
	hold  time.Duration
	slots [2]slotState
}

// NewSlotLock creates a slot lock with the given contention timeout
func NewSlotLock(hold time.Duration) *SlotLock {
	if hold <= 0 {
		hold = DefaultSlotHold
	}
	return &SlotLock{hold: hold}
}

func (l *SlotLock) state(slot int) *slotState {
	switch slot {
	case protocol.Timeslot1:
		return &l.slots[0]
	case protocol.Timeslot2:
		return &l.slots[1]
	default:
		return nil
	}
}

func (l *SlotLock) available(s *slotState, id uint32, now time.Time) bool {
	return s.occupant == id || s.occupant == 0 || expired(s.since, now, l.hold)
}

// Lock reserves slot for id. The current occupant always refreshes its hold;
// a different id only takes the slot once the hold has lapsed.
func (l *SlotLock) Lock(slot int, id uint32, now time.Time) bool {
	s := l.state(slot)
	if s == nil || id == 0 {
		return false
	}
	if !l.available(s, id, now) {
		return false
	}
	s.occupant = id
	s.since = now
	return true
}

// LockBoth reserves both slots for id or neither of them
func (l *SlotLock) LockBoth(id uint32, now time.Time) bool {
	if id == 0 {
		return false
	}
	for i := range l.slots {
		if !l.available(&l.slots[i], id, now) {
			return false
		}
	}
	for i := range l.slots {
		l.slots[i] = slotState{occupant: id, since: now}
	}
	return true
}

// Release frees slot if id still holds it
func (l *SlotLock) Release(slot int, id uint32) {
	if s := l.state(slot); s != nil && s.occupant == id {
		*s = slotState{}
	}
}

// Occupant returns the id holding slot, 0 when free
func (l *SlotLock) Occupant(slot int) uint32 {
	if s := l.state(slot); s != nil {
		return s.occupant
	}
	return 0
}

// expired reports whether more than window has passed between since and now.
// A clock that went backwards counts as expired.
func expired(since, now time.Time, window time.Duration) bool {
	age := now.Sub(since)
	return age < 0 || age > window
}
