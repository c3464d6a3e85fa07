package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/bridge"
	"github.com/dbehnke/dmr-gateway/pkg/database"
	"github.com/dbehnke/dmr-gateway/pkg/echo"
	"github.com/dbehnke/dmr-gateway/pkg/logger"
	"github.com/dbehnke/dmr-gateway/pkg/master"
	"github.com/dbehnke/dmr-gateway/pkg/metrics"
	"github.com/dbehnke/dmr-gateway/pkg/peer"
	"github.com/dbehnke/dmr-gateway/pkg/protocol"
)

// Default loop timers
const (
	DefaultReadTimeout   = 100 * time.Millisecond
	DefaultSweepInterval = 60 * time.Second
	DefaultStatsInterval = 60 * time.Second
)

var errNotStarted = errors.New("server not started")

// Config holds the socket and loop settings of the server
type Config struct {
	ListenAddr    string        // host:port the repeaters log in to
	MasterAddr    string        // host:port of the upstream master, empty when the link is disabled
	ReadTimeout   time.Duration // receive wait before the idle branch runs
	SweepInterval time.Duration // peer keepalive and subscription sweep
	StatsInterval time.Duration
	Routing       bridge.Config
	Now           func() time.Time
}

// Components are the state machines driven by the server loop. Only Registry
// and Streams are required.
type Components struct {
	Registry *peer.Registry
	Streams  *bridge.StreamTracker
	Link     *master.Link       // nil when the master link is disabled
	Echo     *echo.Queue        // nil when echo is disabled
	Calls    *bridge.CallLogger // nil when calls are not logged
	Metrics  *metrics.Collector
}

// Events are optional callbacks fired from the server loop. They must not
// block.
type Events struct {
	PeerConnected    func(p PeerStatus)
	PeerDisconnected func(p PeerStatus, reason string)
	CallStarted      func(pkt *protocol.DMRDPacket, now time.Time)
	CallEnded        func(c database.Call)
	Talkgroup        func(ev TalkgroupEvent)
	MasterState      func(state master.State, now time.Time)
}

// TalkgroupEvent reports a change to a user-activated subscription
type TalkgroupEvent struct {
	PeerID    uint32
	Talkgroup uint32
	Slot      int
	Action    string // activated, cleared, expired
}

// Server owns the gateway socket. One goroutine receives, decodes and routes
// every datagram and runs the timers in between, so the registry, the slot
// locks, the stream table and the master link are never shared.
type Server struct {
	cfg      Config
	log      *logger.Logger
	conn     *net.UDPConn
	registry *peer.Registry
	streams  *bridge.StreamTracker
	router   *bridge.Router
	link     *master.Link
	echo     *echo.Queue
	calls    *bridge.CallLogger
	metrics  *metrics.Collector
	events   Events

	masterAddr *net.UDPAddr
	linkState  master.State
	startedAt  time.Time
	lastIdle   time.Time
	lastSweep  time.Time
	lastStats  time.Time

	// started is closed once the UDP listener is bound and ready
	started chan struct{}

	snapMu sync.RWMutex
	snap   Snapshot
}

// NewServer creates the gateway server and the router it forwards with
func NewServer(cfg Config, c Components, log *logger.Logger) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = DefaultStatsInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewCollector()
	}

	s := &Server{
		cfg:      cfg,
		log:      log.WithComponent("network.server"),
		registry: c.Registry,
		streams:  c.Streams,
		link:     c.Link,
		echo:     c.Echo,
		calls:    c.Calls,
		metrics:  c.Metrics,
		started:  make(chan struct{}),
	}

	var recorder bridge.EchoRecorder
	if c.Echo != nil {
		recorder = c.Echo
	}
	s.router = bridge.NewRouter(cfg.Routing, c.Registry, c.Streams, s, recorder, log)
	return s
}

// SetEventHandlers sets the optional event callbacks. It must be called
// before Start.
func (s *Server) SetEventHandlers(ev Events) {
	s.events = ev
}

// Start binds the socket and runs the loop until ctx is cancelled. A bind
// failure is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	localAddr, err := net.ResolveUDPAddr("udp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", s.cfg.ListenAddr, err)
	}

	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	s.conn = conn
	defer func() {
		_ = s.conn.Close()
	}()

	now := s.cfg.Now()
	s.startedAt = now
	s.lastIdle = now
	s.lastSweep = now
	s.lastStats = now

	s.log.Info("Server started",
		logger.String("addr", conn.LocalAddr().String()),
		logger.Uint32("radio_id", s.registry.Self().ID))

	if s.link != nil {
		s.startLink(now)
	}
	s.publish(now)

	// Signal that the server is ready to accept packets
	select {
	case <-s.started: // already closed
	default:
		close(s.started)
	}

	err = s.receiveLoop(ctx)
	s.closeLink()
	return err
}

// WaitStarted blocks until the server UDP listener is bound or the context is canceled.
func (s *Server) WaitStarted(ctx context.Context) error {
	select {
	case <-s.started:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the local UDP address the server is bound to. It should be called after WaitStarted.
func (s *Server) Addr() (*net.UDPAddr, error) {
	if s.conn == nil {
		return nil, errNotStarted
	}
	udpAddr, ok := s.conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("not a UDP address")
	}
	return udpAddr, nil
}

// Send writes one datagram. It implements bridge.Sender.
func (s *Server) Send(data []byte, addr *net.UDPAddr) (int, error) {
	if s.conn == nil {
		return 0, errNotStarted
	}
	n, err := s.conn.WriteToUDP(data, addr)
	if err != nil {
		s.metrics.SendError()
		return n, err
	}
	s.metrics.PacketSent(n)
	return n, nil
}

func (s *Server) startLink(now time.Time) {
	addr, err := net.ResolveUDPAddr("udp", s.cfg.MasterAddr)
	if err != nil {
		s.log.Error("Failed to resolve master address, master link disabled",
			logger.String("master", s.cfg.MasterAddr),
			logger.Error(err))
		s.link = nil
		return
	}
	s.masterAddr = addr
	s.registry.Self().Address = addr

	s.log.Info("Starting master link", logger.String("master", addr.String()))
	s.sendToMaster(s.link.Start(now))
	s.checkLink(now)
}

// closeLink tells the master the session is over on shutdown
func (s *Server) closeLink() {
	if s.link == nil || s.registry.Self().State != peer.StateConnected {
		return
	}
	bye := &protocol.PeerClosePacket{PeerID: s.registry.Self().ID}
	if _, err := s.conn.WriteToUDP(bye.Encode(), s.masterAddr); err != nil {
		s.log.Debug("Failed to send RPTCL to master", logger.Error(err))
	}
}

// receiveLoop reads one datagram at a time. A read that times out runs the
// idle branch; so does a busy loop once per read timeout.
func (s *Server) receiveLoop(ctx context.Context) error {
	buffer := make([]byte, protocol.BufferSize)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Set read deadline to allow context checking
		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			s.log.Warn("Failed to set read deadline", logger.Error(err))
		}
		n, addr, err := s.conn.ReadFromUDP(buffer)
		now := s.cfg.Now()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.idle(now)
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.log.Error("Failed to read from UDP", logger.Error(err))
			if err := backoff(ctx, s.cfg.ReadTimeout); err != nil {
				return err
			}
			continue
		}

		s.handlePacket(buffer[:n], addr, now)
		if due(s.lastIdle, now, s.cfg.ReadTimeout) {
			s.idle(now)
		}
	}
}

// handlePacket classifies one datagram and dispatches it
func (s *Server) handlePacket(data []byte, addr *net.UDPAddr, now time.Time) {
	if len(data) == 0 {
		// Empty UDP packets can happen (spurious wake-ups, etc.) - ignore silently
		return
	}

	pkt := protocol.Classify(data)
	s.metrics.PacketReceived(pkt.Type(), len(data))

	switch p := pkt.(type) {
	case *protocol.DMRDPacket:
		s.handleDMRD(p, data, addr, now)
	case *protocol.LoginPacket:
		s.handleLogin(p, addr)
	case *protocol.ChallengeResponsePacket:
		s.handleChallengeResponse(p, addr)
	case *protocol.InfoPacket:
		s.handleInfo(p, addr)
	case *protocol.OptionsPacket:
		s.handleOptions(p, addr)
	case *protocol.PingPacket:
		s.handlePing(p, addr)
	case *protocol.PeerClosePacket:
		s.handlePeerClose(p, addr)
	case *protocol.AckPacket, *protocol.PongPacket, *protocol.NakPacket, *protocol.MasterClosePacket:
		s.handleMasterPacket(pkt, addr, now)
	default:
		s.log.Debug("Unknown packet type",
			logger.String("type", pkt.Type()),
			logger.String("addr", addr.String()),
			logger.Int("size", len(data)))
	}
}

// handleLogin answers an RPTL with the login challenge
func (s *Server) handleLogin(p *protocol.LoginPacket, addr *net.UDPAddr) {
	s.log.Info("Received RPTL",
		logger.Uint32("peer_id", p.PeerID),
		logger.String("addr", addr.String()))

	salt, err := s.registry.RegisterPending(p.PeerID, addr)
	if err != nil {
		s.log.Warn("Login refused",
			logger.Uint32("peer_id", p.PeerID),
			logger.Error(err))
		s.reply(&protocol.NakPacket{PeerID: p.PeerID}, addr)
		return
	}
	s.reply(&protocol.AckPacket{PeerID: p.PeerID, Salt: salt}, addr)
}

// handleChallengeResponse checks the ACL and the passphrase hash of an RPTK
func (s *Server) handleChallengeResponse(p *protocol.ChallengeResponsePacket, addr *net.UDPAddr) {
	s.log.Info("Received RPTK",
		logger.Uint32("peer_id", p.PeerID),
		logger.String("addr", addr.String()))

	if err := s.registry.Authenticate(p.PeerID, p.Hash, addr); err != nil {
		if errors.Is(err, peer.ErrDenied) || errors.Is(err, peer.ErrBadChallenge) {
			s.metrics.PeerDenied()
		}
		s.log.Warn("Authentication failed",
			logger.Uint32("peer_id", p.PeerID),
			logger.String("addr", addr.String()),
			logger.Error(err))
		s.reply(&protocol.NakPacket{PeerID: p.PeerID}, addr)
		return
	}
	s.reply(&protocol.AckPacket{PeerID: p.PeerID}, addr)
}

// handleInfo completes a login with the repeater description
func (s *Server) handleInfo(p *protocol.InfoPacket, addr *net.UDPAddr) {
	s.log.Info("Received RPTC",
		logger.Uint32("peer_id", p.PeerID),
		logger.String("callsign", p.Callsign),
		logger.String("location", p.Location))

	wasConnected := false
	if prev := s.registry.Get(p.PeerID); prev != nil {
		wasConnected = prev.State == peer.StateConnected
	}

	q, err := s.registry.CompleteLogin(p, addr)
	if err != nil {
		s.log.Warn("RPTC refused",
			logger.Uint32("peer_id", p.PeerID),
			logger.Error(err))
		s.reply(&protocol.NakPacket{PeerID: p.PeerID}, addr)
		return
	}

	if !wasConnected {
		s.log.Info("Peer connected",
			logger.Uint32("peer_id", q.ID),
			logger.String("callsign", q.Callsign),
			logger.String("addr", addr.String()))
		s.metrics.PeerConnected(q.ID)
		if s.events.PeerConnected != nil {
			s.events.PeerConnected(peerStatus(q))
		}
	}

	// The repeater leaves its config state on this ack
	s.reply(&protocol.AckPacket{PeerID: p.PeerID}, addr)
}

// handleOptions provisions the talkgroups of an RPTO
func (s *Server) handleOptions(p *protocol.OptionsPacket, addr *net.UDPAddr) {
	s.log.Info("Received RPTO",
		logger.Uint32("peer_id", p.PeerID),
		logger.String("options", p.Options))

	if err := s.registry.ApplyOptions(p.PeerID, p.Options); err != nil {
		if errors.Is(err, peer.ErrUnknownPeer) {
			s.log.Warn("RPTO from unknown peer", logger.Uint32("peer_id", p.PeerID))
			s.reply(&protocol.NakPacket{PeerID: p.PeerID}, addr)
			return
		}
		s.log.Warn("Failed to parse OPTIONS",
			logger.Uint32("peer_id", p.PeerID),
			logger.String("options", p.Options),
			logger.Error(err))
	}

	// Acknowledge even unparsable options so the repeater finishes its login
	s.reply(&protocol.AckPacket{PeerID: p.PeerID}, addr)
}

// handlePing answers a keepalive
func (s *Server) handlePing(p *protocol.PingPacket, addr *net.UDPAddr) {
	if _, err := s.registry.TouchAlive(p.PeerID, addr); err != nil {
		// Unknown peer: the gateway restarted or the peer was swept
		s.log.Debug("Received RPTPING from unknown peer, sending MSTNAK",
			logger.Uint32("peer_id", p.PeerID),
			logger.String("addr", addr.String()))
		s.reply(&protocol.NakPacket{PeerID: p.PeerID}, addr)
		return
	}

	s.log.Debug("Received RPTPING",
		logger.Uint32("peer_id", p.PeerID),
		logger.String("addr", addr.String()))
	s.reply(&protocol.PongPacket{PeerID: p.PeerID}, addr)
}

// handlePeerClose removes a peer that logged out
func (s *Server) handlePeerClose(p *protocol.PeerClosePacket, addr *net.UDPAddr) {
	s.log.Info("Peer disconnect (RPTCL)",
		logger.Uint32("peer_id", p.PeerID),
		logger.String("addr", addr.String()))

	if q := s.registry.Remove(p.PeerID); q != nil {
		s.peerGone(q, "closed")
	}
}

// handleMasterPacket feeds the replies of the upstream master to the link
func (s *Server) handleMasterPacket(pkt protocol.Packet, addr *net.UDPAddr, now time.Time) {
	if s.link == nil || !addrEqual(addr, s.masterAddr) {
		s.log.Debug("Ignoring master packet from unexpected address",
			logger.String("type", pkt.Type()),
			logger.String("addr", addr.String()))
		return
	}

	switch p := pkt.(type) {
	case *protocol.AckPacket:
		s.sendToMaster(s.link.HandleAck(p, now))
	case *protocol.PongPacket:
		s.link.HandlePong(now)
	case *protocol.NakPacket:
		s.link.HandleNak(now)
	case *protocol.MasterClosePacket:
		s.link.HandleClose(now)
	}
	s.checkLink(now)
}

// handleDMRD routes a voice or data frame
func (s *Server) handleDMRD(pkt *protocol.DMRDPacket, raw []byte, addr *net.UDPAddr, now time.Time) {
	from := s.registry.ByAddress(addr)
	if from == nil || (!from.Enabled() && !from.Self) {
		s.metrics.PacketRejected()
		s.log.Debug("DMRD from unknown peer", logger.String("addr", addr.String()))
		return
	}

	from.TxBytes += uint64(len(raw))
	from.PacketsReceived++

	res := s.router.Route(pkt, raw, from, now)
	s.metrics.Routed(res.Forwarded, res.Contended)

	switch res.Verdict {
	case bridge.StreamNew:
		s.metrics.StreamStarted(pkt.StreamID)
		s.log.Info("Call started",
			logger.Uint32("stream_id", pkt.StreamID),
			logger.Uint32("src", pkt.SourceID),
			logger.Uint32("dst", pkt.DestinationID),
			logger.Int("slot", pkt.Timeslot),
			logger.Uint32("peer_id", from.ID))
		if s.events.CallStarted != nil {
			s.events.CallStarted(pkt, now)
		}
	case bridge.StreamSuppress:
		s.metrics.StreamSuppressed()
	}

	if res.Activated {
		s.metrics.TalkgroupActivated()
		s.talkgroupEvent(from.ID, pkt.DestinationID, pkt.Timeslot, "activated")
	}
	if res.Cleared > 0 {
		s.log.Info("Cleared user activated talkgroups",
			logger.Uint32("peer_id", from.ID),
			logger.Int("count", res.Cleared))
		s.talkgroupEvent(from.ID, pkt.DestinationID, pkt.Timeslot, "cleared")
	}

	if s.calls != nil {
		s.calls.Record(pkt, res.Verdict, now)
	}
}

// idle runs the time driven work: the master link timers, the stream and
// echo queues, finished calls and the periodic sweeps
func (s *Server) idle(now time.Time) {
	s.lastIdle = now

	if s.link != nil {
		s.sendToMaster(s.link.Tick(now))
		s.checkLink(now)
	}

	for _, st := range s.streams.Sweep(now) {
		s.metrics.StreamEnded(st.ID)
	}

	if s.echo != nil && s.echo.Ready(now) {
		s.playEcho(now)
	}

	if s.calls != nil {
		ended := s.calls.Flush(now)
		s.metrics.CallsLogged(len(ended))
		if s.events.CallEnded != nil {
			for _, c := range ended {
				s.events.CallEnded(c)
			}
		}
	}

	if due(s.lastSweep, now, s.cfg.SweepInterval) {
		s.lastSweep = now
		s.sweep(now)
	}

	if due(s.lastStats, now, s.cfg.StatsInterval) {
		s.lastStats = now
		s.logStats(now)
	}

	s.publish(now)
}

// sweep drops silent peers and expired user-activated talkgroups
func (s *Server) sweep(now time.Time) {
	res := s.registry.Sweep()

	for _, p := range res.Removed {
		s.log.Info("Peer timed out",
			logger.Uint32("peer_id", p.ID),
			logger.String("callsign", p.Callsign))
		s.peerGone(p, "timeout")
	}

	if len(res.Expired) > 0 {
		s.metrics.TalkgroupsExpired(len(res.Expired))
		s.log.Info("Expired user activated talkgroups", logger.Int("count", len(res.Expired)))
	}
	for _, e := range res.Expired {
		s.talkgroupEvent(e.PeerID, e.Talkgroup.ID, e.Talkgroup.Slot, "expired")
	}
}

// playEcho sends every finished recording back to the peer that made it
func (s *Server) playEcho(now time.Time) {
	frames := s.echo.Drain(now)
	played := 0
	for _, f := range frames {
		p := s.registry.Get(f.PeerID)
		if p == nil || !p.HasAddress() {
			continue
		}
		if _, err := s.Send(f.Data, p.Address); err != nil {
			s.log.Error("Failed to send echo frame",
				logger.Uint32("peer_id", f.PeerID),
				logger.Error(err))
			continue
		}
		played++
	}
	s.metrics.EchoPlayed(played)
	s.log.Debug("Played back echo", logger.Int("frames", played))
}

func (s *Server) logStats(now time.Time) {
	rs := s.router.Stats()
	fields := []logger.Field{
		logger.Duration("uptime", now.Sub(s.startedAt)),
		logger.Int("peers", s.registry.Count()-1),
		logger.Uint64("streams_total", s.streams.Total()),
		logger.Int("streams_active", s.streams.Active()),
		logger.Uint64("frames", rs.Frames),
		logger.Uint64("forwarded", rs.Forwarded),
		logger.Uint64("contended", rs.Contended),
		logger.Uint64("suppressed", rs.Suppressed),
		logger.Uint64("send_errors", rs.SendErrors),
	}
	if s.link != nil {
		ls := s.link.Stats()
		fields = append(fields,
			logger.String("master_state", s.link.State().String()),
			logger.Uint64("master_reconnects", ls.Reconnects),
			logger.Uint64("master_timeouts", ls.KeepaliveTimeouts))
	}
	s.log.Info("System statistics", fields...)

	for _, p := range s.registry.All() {
		if p.Self {
			continue
		}
		s.log.Info("Peer statistics",
			logger.Uint32("peer_id", p.ID),
			logger.String("callsign", p.Callsign),
			logger.String("addr", addrString(p.Address)),
			logger.Uint64("rx_bytes", p.RxBytes),
			logger.Uint64("tx_bytes", p.TxBytes),
			logger.Duration("uptime", p.Uptime(now)))
	}
}

// checkLink reports master link state changes
func (s *Server) checkLink(now time.Time) {
	state := s.link.State()
	ls := s.link.Stats()
	s.metrics.MasterCounters(ls.Reconnects, ls.KeepaliveTimeouts)
	if state == s.linkState {
		return
	}
	s.linkState = state
	s.metrics.MasterState(int(state))
	s.log.Info("Master link state", logger.String("state", state.String()))
	if s.events.MasterState != nil {
		s.events.MasterState(state, now)
	}
}

func (s *Server) peerGone(p *peer.Peer, reason string) {
	s.metrics.PeerDisconnected(p.ID)
	if s.events.PeerDisconnected != nil {
		s.events.PeerDisconnected(peerStatus(p), reason)
	}
}

func (s *Server) talkgroupEvent(peerID, tg uint32, slot int, action string) {
	if s.events.Talkgroup != nil {
		s.events.Talkgroup(TalkgroupEvent{PeerID: peerID, Talkgroup: tg, Slot: slot, Action: action})
	}
}

type encoder interface {
	Encode() []byte
}

// reply sends a handshake or keepalive answer
func (s *Server) reply(p encoder, addr *net.UDPAddr) {
	if _, err := s.Send(p.Encode(), addr); err != nil {
		s.log.Error("Failed to send reply",
			logger.String("addr", addr.String()),
			logger.Error(err))
	}
}

func (s *Server) sendToMaster(packets [][]byte) {
	for _, data := range packets {
		if _, err := s.Send(data, s.masterAddr); err != nil {
			s.log.Error("Failed to send to master", logger.Error(err))
		}
	}
}

// due reports whether interval has passed since last. A clock that moved
// backwards counts as due.
// backoff pauses the loop after a read error so a persistent socket error
// cannot spin it
func backoff(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func due(last, now time.Time, interval time.Duration) bool {
	age := now.Sub(last)
	return age < 0 || age >= interval
}

func addrEqual(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Port == b.Port && a.IP.Equal(b.IP)
}

func addrString(a *net.UDPAddr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
