package bridge

import (
	"time"
)

const (
	// DefaultStreamTimeout bounds how long one stream id may carry a call
	DefaultStreamTimeout = 300 * time.Second
	// DefaultStreamQuiescence is how long a silent stream is kept before a sweep forgets it
	DefaultStreamQuiescence = 5 * time.Second
)

// Verdict is the outcome of observing a stream id
type Verdict int

const (
	StreamNew Verdict = iota
	StreamContinue
	StreamSuppress
)

// String returns the string representation of the verdict
func (v Verdict) String() string {
	switch v {
	case StreamNew:
		return "new"
	case StreamContinue:
		return "continue"
	case StreamSuppress:
		return "suppress"
	default:
		return "unknown"
	}
}

// Stream tracks one call identified by its stream id
type Stream struct {
	ID       uint32
	Start    time.Time
	LastSeen time.Time
	TimedOut bool
}

// StreamTracker recognises continuations of a call and suppresses streams
// that ran past the stream timeout. It is owned by the receive loop.
type StreamTracker struct {
	timeout    time.Duration
	quiescence time.Duration
	streams    map[uint32]*Stream
	total      uint64
}

// NewStreamTracker creates a stream tracker. Non-positive durations use the defaults.
func NewStreamTracker(timeout, quiescence time.Duration) *StreamTracker {
	if timeout <= 0 {
		timeout = DefaultStreamTimeout
	}
	if quiescence <= 0 {
		quiescence = DefaultStreamQuiescence
	}
	return &StreamTracker{
		timeout:    timeout,
		quiescence: quiescence,
		streams:    make(map[uint32]*Stream),
	}
}

// Observe classifies one frame of stream id.
// An unknown id starts a new stream. A known id continues the call until the
// stream has run longer than the timeout. The first frame after that is
// suppressed and the timeout window restarts, so a stream that keeps going is
// suppressed once per elapsed window.
func (st *StreamTracker) Observe(id uint32, now time.Time) Verdict {
	s, ok := st.streams[id]
	if !ok {
		st.streams[id] = &Stream{ID: id, Start: now, LastSeen: now}
		st.total++
		return StreamNew
	}

	if elapsed := now.Sub(s.Start); elapsed < 0 || elapsed > st.timeout {
		s.TimedOut = true
		s.Start = now
		s.LastSeen = now
		return StreamSuppress
	}

	s.LastSeen = now
	return StreamContinue
}

// Sweep forgets streams that have been silent longer than the quiescence
// bound and returns them
func (st *StreamTracker) Sweep(now time.Time) []Stream {
	var ended []Stream
	for id, s := range st.streams {
		if quiet := now.Sub(s.LastSeen); quiet < 0 || quiet > st.quiescence {
			ended = append(ended, *s)
			delete(st.streams, id)
		}
	}
	return ended
}

// Get returns a copy of the tracked stream
func (st *StreamTracker) Get(id uint32) (Stream, bool) {
	s, ok := st.streams[id]
	if !ok {
		return Stream{}, false
	}
	return *s, true
}

// Total returns how many distinct streams have been seen
func (st *StreamTracker) Total() uint64 {
	return st.total
}

// Active returns the number of streams currently tracked
func (st *StreamTracker) Active() int {
	return len(st.streams)
}
