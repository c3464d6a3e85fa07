package peer

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/protocol"
)

// DefaultKeepaliveTimeout is how long a peer may stay silent before a sweep
// removes it
const DefaultKeepaliveTimeout = 15 * time.Second

var (
	// ErrDenied is returned when the ACL rejects a peer or its id is reserved
	ErrDenied = errors.New("peer denied")
	// ErrNotPending is returned for a challenge response without a login request
	ErrNotPending = errors.New("peer has no pending login")
	// ErrNotAuthenticated is returned for info from a peer that did not pass the challenge
	ErrNotAuthenticated = errors.New("peer not authenticated")
	// ErrBadChallenge is returned when the challenge response hash does not match
	ErrBadChallenge = errors.New("challenge response mismatch")
	// ErrUnknownPeer is returned for operations on an id that is not registered
	ErrUnknownPeer = errors.New("unknown peer")
	// ErrRegistryFull is returned when MaxPeers peers are already registered
	ErrRegistryFull = errors.New("peer registry full")
)

// RegistryConfig configures a Registry
type RegistryConfig struct {
	SelfID               uint32 // id of the gateway's own session toward the master
	Passphrase           string // when empty every challenge response is accepted
	ACL                  *ACL
	KeepaliveTimeout     time.Duration
	SlotHold             time.Duration
	UAExpiry             time.Duration
	StaticTalkgroups     []StaticTalkgroup // provisioned on every peer at login
	SelfStaticTalkgroups []StaticTalkgroup // provisioned on the self peer
	MaxPeers             int               // 0 means unlimited
	Now                  func() time.Time
}

// Registry holds every known peer. It is owned by the receive loop and is
// not safe for concurrent use.
type Registry struct {
	cfg   RegistryConfig
	peers map[uint32]*Peer
	self  *Peer
	now   func() time.Time
}

// NewRegistry creates a registry containing only the self peer
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = DefaultKeepaliveTimeout
	}
	if cfg.UAExpiry <= 0 {
		cfg.UAExpiry = DefaultUAExpiry
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	r := &Registry{
		cfg:   cfg,
		peers: make(map[uint32]*Peer),
		now:   now,
	}

	self := NewPeer(cfg.SelfID, nil, cfg.SlotHold)
	self.Self = true
	self.UAExpiry = cfg.UAExpiry
	self.LastCheck = now()
	self.Subscribe(cfg.SelfStaticTalkgroups, self.LastCheck)
	r.self = self
	r.peers[self.ID] = self

	return r
}

// Self returns the peer representing the gateway's session with its master
func (r *Registry) Self() *Peer {
	return r.self
}

// Get returns the peer with id, nil when unknown
func (r *Registry) Get(id uint32) *Peer {
	return r.peers[id]
}

// ByAddress returns the peer currently reachable at addr, nil when none
func (r *Registry) ByAddress(addr *net.UDPAddr) *Peer {
	for _, p := range r.peers {
		if p.AddressEqual(addr) {
			return p
		}
	}
	return nil
}

// Count returns the number of registered peers, the self peer included
func (r *Registry) Count() int {
	return len(r.peers)
}

// All returns every peer ordered by id
func (r *Registry) All() []*Peer {
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers
}

// Enabled returns the forwarding targets ordered by id
func (r *Registry) Enabled() []*Peer {
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		if p.Enabled() {
			peers = append(peers, p)
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers
}

// RegisterPending records a login request and returns the challenge the peer
// must hash. A repeated login request restarts the handshake.
func (r *Registry) RegisterPending(id uint32, addr *net.UDPAddr) ([]byte, error) {
	if id == r.self.ID {
		return nil, fmt.Errorf("%w: id %d is the local node", ErrDenied, id)
	}
	if _, exists := r.peers[id]; !exists && r.cfg.MaxPeers > 0 && len(r.peers)-1 >= r.cfg.MaxPeers {
		return nil, ErrRegistryFull
	}

	salt := make([]byte, protocol.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate challenge: %w", err)
	}

	p := NewPeer(id, addr, r.cfg.SlotHold)
	p.State = StateRPTLReceived
	p.Salt = salt
	p.UAExpiry = r.cfg.UAExpiry
	p.LastCheck = r.now()
	r.peers[id] = p

	return salt, nil
}

// Authenticate checks a challenge response. Denied peers are removed from the
// registry. A repeated response from an authenticated peer succeeds again.
func (r *Registry) Authenticate(id uint32, response [protocol.ChallengeHashSize]byte, addr *net.UDPAddr) error {
	if !r.cfg.ACL.Allows(id) {
		if p := r.peers[id]; p != nil && !p.Self {
			delete(r.peers, id)
		}
		return fmt.Errorf("%w: %d", ErrDenied, id)
	}

	p := r.peers[id]
	if p == nil || p.Self {
		return fmt.Errorf("%w: %d", ErrNotPending, id)
	}
	switch p.State {
	case StateAuthenticated, StateConnected:
		// A repeated response must still carry the right hash. A bad one
		// leaves the established peer and its address alone.
		if !r.validResponse(p, response) {
			return fmt.Errorf("%w: %d", ErrBadChallenge, id)
		}
		p.Address = addr
		p.LastCheck = r.now()
		return nil
	case StateRPTLReceived:
	default:
		return fmt.Errorf("%w: %d", ErrNotPending, id)
	}

	if !r.validResponse(p, response) {
		delete(r.peers, id)
		return fmt.Errorf("%w: %d", ErrBadChallenge, id)
	}

	p.State = StateAuthenticated
	p.Address = addr
	p.LastCheck = r.now()
	return nil
}

// validResponse checks sha256(salt || passphrase). Any response passes when
// no passphrase is configured.
func (r *Registry) validResponse(p *Peer, response [protocol.ChallengeHashSize]byte) bool {
	if r.cfg.Passphrase == "" {
		return true
	}
	want := protocol.ChallengeHash(p.Salt, r.cfg.Passphrase)
	return bytes.Equal(want[:], response[:])
}

// CompleteLogin applies the repeater description and enables the peer.
// The peer must have passed the challenge first.
func (r *Registry) CompleteLogin(info *protocol.InfoPacket, addr *net.UDPAddr) (*Peer, error) {
	p := r.peers[info.PeerID]
	if p == nil || p.Self || (p.State != StateAuthenticated && p.State != StateConnected) {
		return nil, fmt.Errorf("%w: %d", ErrNotAuthenticated, info.PeerID)
	}

	now := r.now()
	p.SetInfo(info)
	p.Address = addr
	p.LastCheck = now
	if p.State != StateConnected {
		p.State = StateConnected
		p.ConnectedAt = now
		p.Subscribe(r.cfg.StaticTalkgroups, now)
	}
	return p, nil
}

// TouchAlive refreshes the keepalive clock of a peer and follows it to a new
// source address
func (r *Registry) TouchAlive(id uint32, addr *net.UDPAddr) (*Peer, error) {
	p := r.peers[id]
	if p == nil || p.Self {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPeer, id)
	}
	p.LastCheck = r.now()
	if addr != nil && !p.AddressEqual(addr) {
		p.Address = addr
	}
	return p, nil
}

// ApplyOptions provisions the static talkgroups of an options string on a
// peer and applies its user-activated expiry window
func (r *Registry) ApplyOptions(id uint32, options string) error {
	p := r.peers[id]
	if p == nil || p.Self || (p.State != StateAuthenticated && p.State != StateConnected) {
		return fmt.Errorf("%w: %d", ErrUnknownPeer, id)
	}

	opts, err := ParseOptions(options)
	if err != nil {
		return fmt.Errorf("peer %d options: %w", id, err)
	}

	p.Subscribe(opts.Static, r.now())
	if opts.HasUAExpiry {
		p.UAExpiry = opts.UAExpiry
	}
	return nil
}

// Remove drops a peer. The self peer is never removed.
func (r *Registry) Remove(id uint32) *Peer {
	p := r.peers[id]
	if p == nil || p.Self {
		return nil
	}
	delete(r.peers, id)
	return p
}

// ExpiredTalkgroup is a subscription removed by a sweep
type ExpiredTalkgroup struct {
	PeerID    uint32
	Talkgroup Talkgroup
}

// SweepResult lists what one sweep removed
type SweepResult struct {
	Removed []*Peer
	Expired []ExpiredTalkgroup
}

// Sweep removes peers whose keepalive is older than the keepalive timeout,
// never the self peer, then sweeps the subscriptions of every survivor
func (r *Registry) Sweep() SweepResult {
	now := r.now()
	var res SweepResult

	for _, p := range r.All() {
		if !p.Self && expired(p.LastCheck, now, r.cfg.KeepaliveTimeout) {
			delete(r.peers, p.ID)
			res.Removed = append(res.Removed, p)
			continue
		}
		for _, tg := range p.Subscriptions.Sweep(now) {
			res.Expired = append(res.Expired, ExpiredTalkgroup{PeerID: p.ID, Talkgroup: *tg})
		}
	}

	return res
}
