package bridge

import (
	"net"
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/logger"
	"github.com/dbehnke/dmr-gateway/pkg/peer"
	"github.com/dbehnke/dmr-gateway/pkg/protocol"
)

// Reserved talkgroups
const (
	DefaultDisconnectTalkgroup = 4000 // clears the sender's user-activated talkgroups
	DefaultEchoTalkgroup       = 9990 // recorded and played back to the sender
	DefaultEchoSlot            = protocol.Timeslot2
)

// Sender transmits one datagram
type Sender interface {
	Send(data []byte, addr *net.UDPAddr) (int, error)
}

// EchoRecorder receives the frames addressed to the echo talkgroup
type EchoRecorder interface {
	Submit(peerID uint32, frame []byte, streamID uint32, now time.Time)
}

// Config holds the reserved talkgroups used by the router
type Config struct {
	DisconnectTalkgroup uint32
	EchoTalkgroup       uint32
	EchoSlot            int
}

// Result describes what routing one frame did
type Result struct {
	Verdict   Verdict
	Forwarded int    // peers the frame was sent to
	Contended int    // peers skipped because the slot was busy
	Activated bool   // a user-activated talkgroup was added to the sender
	Cleared   int    // user-activated talkgroups removed by the disconnect talkgroup
	Echoed    bool   // frame handed to the echo recorder
	Bytes     uint64 // bytes sent
}

// Stats are cumulative router counters
type Stats struct {
	Frames     uint64
	Forwarded  uint64
	Contended  uint64
	Suppressed uint64
	SendErrors uint64
}

// Router fans voice and data frames out to the peers subscribed to their
// talkgroup. Like the registry it is owned by the receive loop.
type Router struct {
	cfg      Config
	registry *peer.Registry
	streams  *StreamTracker
	sender   Sender
	echo     EchoRecorder
	logger   *logger.Logger
	stats    Stats
}

// NewRouter creates a router. echo may be nil.
func NewRouter(cfg Config, registry *peer.Registry, streams *StreamTracker, sender Sender, echo EchoRecorder, log *logger.Logger) *Router {
	if cfg.DisconnectTalkgroup == 0 {
		cfg.DisconnectTalkgroup = DefaultDisconnectTalkgroup
	}
	if cfg.EchoTalkgroup == 0 {
		cfg.EchoTalkgroup = DefaultEchoTalkgroup
	}
	if cfg.EchoSlot == 0 {
		cfg.EchoSlot = DefaultEchoSlot
	}
	return &Router{
		cfg:      cfg,
		registry: registry,
		streams:  streams,
		sender:   sender,
		echo:     echo,
		logger:   log.WithComponent("bridge.router"),
	}
}

// Route forwards one frame received from the peer from. raw is the frame as
// received and is never modified; the copy sent to the master carries the
// local node id as repeater id.
func (r *Router) Route(pkt *protocol.DMRDPacket, raw []byte, from *peer.Peer, now time.Time) Result {
	r.stats.Frames++

	res := Result{Verdict: r.streams.Observe(pkt.StreamID, now)}
	if res.Verdict == StreamSuppress {
		r.stats.Suppressed++
		r.logger.Debug("Suppressing timed out stream",
			logger.Uint32("stream_id", pkt.StreamID),
			logger.Uint32("dst", pkt.DestinationID))
		return res
	}

	src := from.Address
	dst := pkt.DestinationID

	for _, q := range r.registry.Enabled() {
		tg := q.Subscriptions.Get(dst)
		if tg == nil {
			if q != from {
				continue
			}
			if dst == r.cfg.DisconnectTalkgroup {
				res.Cleared += q.Subscriptions.ClearUserActivated()
				continue
			}
			q.Subscriptions.Add(peer.NewUserActivated(pkt.Timeslot, dst, q.UAExpiry, now))
			res.Activated = true
			r.logger.Info("Added user activated talkgroup",
				logger.Uint32("peer_id", q.ID),
				logger.String("callsign", q.Callsign),
				logger.Uint32("talkgroup", dst),
				logger.Int("slot", pkt.Timeslot))
			continue
		}

		if tg.Slot != pkt.Timeslot || q.AddressEqual(src) || !q.HasAddress() {
			tg.Refresh(now)
			continue
		}

		if !q.LockSlot(pkt.Timeslot, dst, now) {
			res.Contended++
			r.stats.Contended++
			r.logger.Debug("Slot busy",
				logger.Uint32("peer_id", q.ID),
				logger.Int("slot", pkt.Timeslot),
				logger.Uint32("talkgroup", dst))
			continue
		}

		out := raw
		if q.Self {
			out = append([]byte(nil), raw...)
			protocol.RewriteRepeaterID(out, q.ID)
		}

		n, err := r.sender.Send(out, q.Address)
		if err != nil {
			r.stats.SendErrors++
			r.logger.Error("Failed to forward frame",
				logger.Uint32("peer_id", q.ID),
				logger.Error(err))
			continue
		}
		q.RxBytes += uint64(n)
		q.PacketsSent++
		tg.Touch(now)
		res.Forwarded++
		res.Bytes += uint64(n)
		r.stats.Forwarded++
	}

	if r.echo != nil && !from.Self && dst == r.cfg.EchoTalkgroup && pkt.Timeslot == r.cfg.EchoSlot {
		r.echo.Submit(from.ID, raw, pkt.StreamID, now)
		res.Echoed = true
	}

	return res
}

// Streams returns the stream tracker used by the router
func (r *Router) Streams() *StreamTracker {
	return r.streams
}

// Stats returns a copy of the router counters
func (r *Router) Stats() Stats {
	return r.stats
}
