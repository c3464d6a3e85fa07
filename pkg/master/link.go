package master

import (
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/logger"
	"github.com/dbehnke/dmr-gateway/pkg/peer"
	"github.com/dbehnke/dmr-gateway/pkg/protocol"
)

// Default link timers
const (
	DefaultPingInterval    = 15 * time.Second
	DefaultPongTimeout     = 30 * time.Second
	DefaultLogoutDelay     = 300 * time.Second
	DefaultLoginRetry      = 5 * time.Second
	DefaultOptionsInterval = 10 * time.Second
)

// State is the state of the gateway's session with its master
type State int

const (
	StateDisabled State = iota
	StateLoginRequest
	StateLoginPassword
	StateOptions
	StateConnected
	StateWaitingPong
	StateLogout
)

// String returns the string representation of the link state
func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateLoginRequest:
		return "login_request"
	case StateLoginPassword:
		return "login_password"
	case StateOptions:
		return "options"
	case StateConnected:
		return "connected"
	case StateWaitingPong:
		return "waiting_pong"
	case StateLogout:
		return "logout"
	default:
		return "unknown"
	}
}

// Config configures a Link
type Config struct {
	Passphrase      string
	Options         string // sent as RPTO after login when not empty
	Info            protocol.InfoPacket
	PingInterval    time.Duration // keepalive age that triggers a ping
	PongTimeout     time.Duration // keepalive age at which the link is given up
	LogoutDelay     time.Duration // wait in logout before logging in again
	LoginRetry      time.Duration
	OptionsInterval time.Duration
}

// Stats are cumulative link counters
type Stats struct {
	Logins            uint64 // completed logins
	Reconnects        uint64 // login attempts after a logout
	KeepaliveTimeouts uint64
	Naks              uint64
	Closes            uint64
	Pings             uint64
}

// Link drives the gateway's login to its master and keeps the session alive.
// It never touches the socket: every method returns the packets to send to
// the master. The keepalive clock is the LastCheck of the self peer.
// Link is owned by the receive loop and is not safe for concurrent use.
type Link struct {
	cfg      Config
	self     *peer.Peer
	state    State
	since    time.Time // entry into the current state
	lastSend time.Time // last handshake (re)send
	salt     []byte
	stats    Stats
	logger   *logger.Logger
}

// NewLink creates a disabled link for the self peer
func NewLink(cfg Config, self *peer.Peer, log *logger.Logger) *Link {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = DefaultPongTimeout
	}
	if cfg.LogoutDelay <= 0 {
		cfg.LogoutDelay = DefaultLogoutDelay
	}
	if cfg.LoginRetry <= 0 {
		cfg.LoginRetry = DefaultLoginRetry
	}
	if cfg.OptionsInterval <= 0 {
		cfg.OptionsInterval = DefaultOptionsInterval
	}
	cfg.Info.PeerID = self.ID

	return &Link{
		cfg:    cfg,
		self:   self,
		state:  StateDisabled,
		logger: log.WithComponent("master.link"),
	}
}

// State returns the current link state
func (l *Link) State() State {
	return l.state
}

// Since returns when the link entered its current state
func (l *Link) Since() time.Time {
	return l.since
}

// Stats returns a copy of the link counters
func (l *Link) Stats() Stats {
	return l.stats
}

// Start begins a login and returns the login request
func (l *Link) Start(now time.Time) [][]byte {
	l.logger.Info("Logging in to master", logger.Uint32("radio_id", l.self.ID))
	l.setState(StateLoginRequest, now)
	return l.send(now, l.login())
}

// HandleAck advances the handshake on an RPTACK from the master
func (l *Link) HandleAck(ack *protocol.AckPacket, now time.Time) [][]byte {
	switch l.state {
	case StateLoginRequest:
		l.logger.Debug("Received login challenge")
		l.salt = ack.Challenge()
		l.setState(StateLoginPassword, now)
		return l.send(now, l.challengeResponse())

	case StateLoginPassword:
		l.logger.Debug("Challenge accepted, sending repeater info")
		info := l.cfg.Info.Encode()
		if l.cfg.Options == "" {
			l.connected(now)
			return [][]byte{info}
		}
		l.setState(StateOptions, now)
		return l.send(now, info, l.options())

	case StateOptions:
		l.connected(now)
		return nil

	case StateConnected, StateLogout:
		// late acks for info or options
		return nil

	default:
		l.logger.Warn("Unexpected ack from master",
			logger.String("state", l.state.String()))
		l.setState(StateDisabled, now)
		return nil
	}
}

// HandlePong refreshes the keepalive clock
func (l *Link) HandlePong(now time.Time) {
	switch l.state {
	case StateConnected, StateWaitingPong:
		l.self.LastCheck = now
		if l.state == StateWaitingPong {
			l.setState(StateConnected, now)
		}
	default:
		l.logger.Debug("Ignoring pong", logger.String("state", l.state.String()))
	}
}

// HandleClose logs the link out when the master drops the session
func (l *Link) HandleClose(now time.Time) {
	if l.state != StateConnected && l.state != StateWaitingPong {
		return
	}
	l.stats.Closes++
	l.logger.Warn("Master closed the connection")
	l.setState(StateLogout, now)
}

// HandleNak logs the link out when the master refuses the session
func (l *Link) HandleNak(now time.Time) {
	switch l.state {
	case StateDisabled, StateLogout:
		return
	}
	l.stats.Naks++
	l.logger.Warn("Master refused the session",
		logger.String("state", l.state.String()))
	l.setState(StateLogout, now)
}

// Tick runs the time driven transitions and returns the packets due
func (l *Link) Tick(now time.Time) [][]byte {
	switch l.state {
	case StateLoginRequest:
		if l.due(now, l.cfg.LoginRetry) {
			return l.send(now, l.login())
		}

	case StateLoginPassword:
		if l.due(now, l.cfg.LoginRetry) {
			return l.send(now, l.challengeResponse())
		}

	case StateOptions:
		if l.due(now, l.cfg.OptionsInterval) {
			l.logger.Debug("Resending options")
			return l.send(now, l.options())
		}

	case StateConnected:
		if age := now.Sub(l.self.LastCheck); age < 0 || age > l.cfg.PingInterval {
			l.stats.Pings++
			l.setState(StateWaitingPong, now)
			ping := &protocol.PingPacket{PeerID: l.self.ID}
			return [][]byte{ping.Encode()}
		}

	case StateWaitingPong:
		if age := now.Sub(l.self.LastCheck); age < 0 || age > l.cfg.PongTimeout {
			l.stats.KeepaliveTimeouts++
			l.logger.Warn("Master keepalive timed out",
				logger.Duration("since_last_pong", age))
			l.setState(StateLogout, now)
		}

	case StateLogout:
		if age := now.Sub(l.since); age < 0 || age > l.cfg.LogoutDelay {
			l.stats.Reconnects++
			return l.Start(now)
		}
	}
	return nil
}

func (l *Link) connected(now time.Time) {
	l.stats.Logins++
	l.self.LastCheck = now
	l.self.ConnectedAt = now
	l.setState(StateConnected, now)
	l.logger.Info("Connected to master", logger.Uint32("radio_id", l.self.ID))
}

func (l *Link) setState(s State, now time.Time) {
	if s != l.state {
		l.logger.Debug("Master link state changed",
			logger.String("from", l.state.String()),
			logger.String("to", s.String()))
	}
	l.state = s
	l.since = now

	if s == StateConnected || s == StateWaitingPong {
		l.self.State = peer.StateConnected
	} else {
		l.self.State = peer.StateDisconnected
	}
}

// due reports whether the last handshake packet is older than interval.
// A clock that moved backwards counts as due.
func (l *Link) due(now time.Time, interval time.Duration) bool {
	age := now.Sub(l.lastSend)
	return age < 0 || age >= interval
}

func (l *Link) send(now time.Time, packets ...[]byte) [][]byte {
	l.lastSend = now
	return packets
}

func (l *Link) login() []byte {
	return (&protocol.LoginPacket{PeerID: l.self.ID}).Encode()
}

func (l *Link) challengeResponse() []byte {
	p := &protocol.ChallengeResponsePacket{
		PeerID: l.self.ID,
		Hash:   protocol.ChallengeHash(l.salt, l.cfg.Passphrase),
	}
	return p.Encode()
}

func (l *Link) options() []byte {
	return (&protocol.OptionsPacket{PeerID: l.self.ID, Options: l.cfg.Options}).Encode()
}
