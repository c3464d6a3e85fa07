package peer

import "time"

const (
	// DefaultUAExpiry applies to user-activated talkgroups when the peer has
	// not sent a UAT option
	DefaultUAExpiry = 900 * time.Second

	// TrafficGrace keeps an expired user-activated talkgroup alive while
	// traffic was forwarded on it this recently
	TrafficGrace = 5 * time.Second
)

// Talkgroup is one subscription of a peer
type Talkgroup struct {
	ID            uint32
	Slot          int
	UserActivated bool
	Expiry        time.Duration // 0 for static subscriptions
	LastActive    time.Time     // last frame forwarded on this subscription
	Stamp         time.Time     // created or refreshed
}

// NewStatic provisions a subscription that never expires
func NewStatic(slot int, id uint32, now time.Time) *Talkgroup {
	return &Talkgroup{ID: id, Slot: slot, Stamp: now}
}

// NewUserActivated provisions an expiring subscription. A negative expiry
// uses DefaultUAExpiry; zero lapses at the first sweep after TrafficGrace.
// Creation counts as traffic.
func NewUserActivated(slot int, id uint32, expiry time.Duration, now time.Time) *Talkgroup {
	if expiry < 0 {
		expiry = DefaultUAExpiry
	}
	return &Talkgroup{
		ID:            id,
		Slot:          slot,
		UserActivated: true,
		Expiry:        expiry,
		LastActive:    now,
		Stamp:         now,
	}
}

// Keep reports whether the subscription survives a sweep at now.
// Static subscriptions are always kept. A user-activated one past its expiry
// is kept only while it carried traffic within TrafficGrace, so the check is
// retried on a later sweep.
func (tg *Talkgroup) Keep(now time.Time) bool {
	if !tg.UserActivated {
		return true
	}
	if !expired(tg.Stamp, now, tg.Expiry) {
		return true
	}
	return !tg.LastActive.IsZero() && !expired(tg.LastActive, now, TrafficGrace)
}

// Touch records forwarded traffic
func (tg *Talkgroup) Touch(now time.Time) {
	tg.LastActive = now
}

// Refresh restarts the expiry window of a user-activated subscription
func (tg *Talkgroup) Refresh(now time.Time) {
	if tg.UserActivated {
		tg.Stamp = now
	}
}

// ExpiresAt returns when the subscription lapses, zero for static ones
func (tg *Talkgroup) ExpiresAt() time.Time {
	if !tg.UserActivated {
		return time.Time{}
	}
	return tg.Stamp.Add(tg.Expiry)
}
