// Package echo records calls to the echo talkgroup and plays them back to
// the repeater they came from.
package echo

import (
	"sort"
	"time"
)

const (
	// DefaultDelay is how long a recording must be quiet before it is played back
	DefaultDelay = 2 * time.Second
	// DefaultMaxFrames caps one recording (about two minutes of voice)
	DefaultMaxFrames = 2000
)

// Frame is one recorded DMRD frame
type Frame struct {
	PeerID   uint32
	StreamID uint32
	Data     []byte
}

type recording struct {
	frames   []Frame
	lastSeen time.Time
}

// Queue holds one recording per submitting peer. It is owned by the receive
// loop and is not safe for concurrent use.
type Queue struct {
	delay      time.Duration
	maxFrames  int
	recordings map[uint32]*recording
	dropped    uint64
	played     uint64
}

// NewQueue creates an echo queue. Non-positive values use the defaults.
func NewQueue(delay time.Duration, maxFrames int) *Queue {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if maxFrames <= 0 {
		maxFrames = DefaultMaxFrames
	}
	return &Queue{
		delay:      delay,
		maxFrames:  maxFrames,
		recordings: make(map[uint32]*recording),
	}
}

// Submit appends a copy of frame to the recording of peerID
func (q *Queue) Submit(peerID uint32, frame []byte, streamID uint32, now time.Time) {
	r, ok := q.recordings[peerID]
	if !ok {
		r = &recording{}
		q.recordings[peerID] = r
	}
	r.lastSeen = now
	if len(r.frames) >= q.maxFrames {
		q.dropped++
		return
	}
	r.frames = append(r.frames, Frame{
		PeerID:   peerID,
		StreamID: streamID,
		Data:     append([]byte(nil), frame...),
	})
}

// Ready reports whether any recording has been quiet for the playback delay
func (q *Queue) Ready(now time.Time) bool {
	for _, r := range q.recordings {
		if q.quiet(r, now) {
			return true
		}
	}
	return false
}

// Drain removes the recordings that are ready and returns their frames in
// the order they were received, grouped by peer id
func (q *Queue) Drain(now time.Time) []Frame {
	var ids []uint32
	for id, r := range q.recordings {
		if q.quiet(r, now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var frames []Frame
	for _, id := range ids {
		frames = append(frames, q.recordings[id].frames...)
		delete(q.recordings, id)
	}
	q.played += uint64(len(frames))
	return frames
}

// Pending returns the number of frames waiting for playback
func (q *Queue) Pending() int {
	n := 0
	for _, r := range q.recordings {
		n += len(r.frames)
	}
	return n
}

// Dropped returns the number of frames discarded because a recording was full
func (q *Queue) Dropped() uint64 {
	return q.dropped
}

// Played returns the number of frames handed out for playback
func (q *Queue) Played() uint64 {
	return q.played
}

func (q *Queue) quiet(r *recording, now time.Time) bool {
	age := now.Sub(r.lastSeen)
	return age < 0 || age > q.delay
}
