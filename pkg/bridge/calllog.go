package bridge

import (
	"sort"
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/database"
	"github.com/dbehnke/dmr-gateway/pkg/logger"
	"github.com/dbehnke/dmr-gateway/pkg/protocol"
)

// MinCallDuration filters out calls too short to be real transmissions
const MinCallDuration = 500 * time.Millisecond

// CallStore persists finished calls
type CallStore interface {
	Create(c *database.Call) error
}

type activeCall struct {
	call     database.Call
	lastSeen time.Time
	ended    bool
}

// CallLogger aggregates frames into calls and stores the finished ones.
// Record runs on every frame, Flush only from the idle branch so database
// writes stay off the forwarding path.
type CallLogger struct {
	store  CallStore
	quiet  time.Duration
	logger *logger.Logger
	active map[uint32]*activeCall
}

// NewCallLogger creates a call logger. store may be nil, in which case
// finished calls are only returned from Flush.
func NewCallLogger(store CallStore, quiet time.Duration, log *logger.Logger) *CallLogger {
	if quiet <= 0 {
		quiet = DefaultStreamQuiescence
	}
	return &CallLogger{
		store:  store,
		quiet:  quiet,
		logger: log.WithComponent("bridge.calllog"),
		active: make(map[uint32]*activeCall),
	}
}

// Record accounts one routed frame
func (cl *CallLogger) Record(pkt *protocol.DMRDPacket, verdict Verdict, now time.Time) {
	c, ok := cl.active[pkt.StreamID]
	if !ok {
		c = &activeCall{call: database.Call{
			StreamID:    pkt.StreamID,
			SourceID:    pkt.SourceID,
			TalkgroupID: pkt.DestinationID,
			Timeslot:    pkt.Timeslot,
			RepeaterID:  pkt.RepeaterID,
			StartTime:   now,
		}}
		cl.active[pkt.StreamID] = c
		cl.logger.Debug("Started tracking call",
			logger.Uint32("stream_id", pkt.StreamID),
			logger.Uint32("source_id", pkt.SourceID),
			logger.Uint32("talkgroup_id", pkt.DestinationID))
	}

	c.lastSeen = now
	c.call.PacketCount++
	if verdict == StreamSuppress {
		c.call.TimedOut = true
	}
	if pkt.IsTerminator() {
		c.ended = true
	}
}

// Flush finishes the calls that were terminated or went quiet and stores
// those long enough to keep. It returns every finished call, oldest first.
func (cl *CallLogger) Flush(now time.Time) []database.Call {
	var finished []database.Call

	for id, c := range cl.active {
		quiet := now.Sub(c.lastSeen)
		if !c.ended && quiet >= 0 && quiet <= cl.quiet {
			continue
		}
		delete(cl.active, id)

		c.call.EndTime = c.lastSeen
		c.call.Duration = c.lastSeen.Sub(c.call.StartTime).Seconds()
		finished = append(finished, c.call)
	}

	sort.Slice(finished, func(i, j int) bool { return finished[i].StartTime.Before(finished[j].StartTime) })

	for i := range finished {
		call := &finished[i]
		if cl.store == nil {
			continue
		}
		if call.EndTime.Sub(call.StartTime) < MinCallDuration {
			cl.logger.Debug("Skipped saving very short call",
				logger.Uint32("stream_id", call.StreamID),
				logger.Int("packet_count", call.PacketCount))
			continue
		}
		if err := cl.store.Create(call); err != nil {
			cl.logger.Error("Failed to save call",
				logger.Error(err),
				logger.Uint32("stream_id", call.StreamID))
			continue
		}
		cl.logger.Debug("Saved call",
			logger.Uint32("stream_id", call.StreamID),
			logger.Uint32("source_id", call.SourceID),
			logger.Uint32("talkgroup_id", call.TalkgroupID),
			logger.Float64("duration", call.Duration))
	}

	return finished
}

// Active returns the number of calls in progress
func (cl *CallLogger) Active() int {
	return len(cl.active)
}
