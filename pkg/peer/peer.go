package peer

import (
	"net"
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/protocol"
)

// ConnectionState represents the state of a peer connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateRPTLReceived
	StateAuthenticated
	StateConnected
)

// String returns the string representation of the connection state
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateRPTLReceived:
		return "rptl_received"
	case StateAuthenticated:
		return "authenticated"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Peer is a repeater logged in to the gateway, or the gateway's own session
// toward its master (Self). A Peer is owned by the receive loop and is not
// safe for concurrent use.
type Peer struct {
	ID      uint32
	Address *net.UDPAddr
	State   ConnectionState
	Self    bool

	// Configuration from RPTC packet
	Callsign    string
	RXFreq      string
	TXFreq      string
	TXPower     string
	ColorCode   string
	Latitude    string
	Longitude   string
	Height      string
	Location    string
	Description string
	URL         string
	SoftwareID  string
	PackageID   string
	Duplex      byte

	// Connection tracking
	ConnectedAt time.Time
	LastCheck   time.Time
	Salt        []byte

	// Statistics. RxBytes counts what the gateway forwarded to the peer,
	// TxBytes what the peer transmitted to the gateway.
	RxBytes         uint64
	TxBytes         uint64
	PacketsReceived uint64
	PacketsSent     uint64

	UAExpiry      time.Duration
	Subscriptions *Subscriptions
	Slots         *SlotLock
}

// NewPeer creates a new peer with the given ID and address
func NewPeer(id uint32, addr *net.UDPAddr, slotHold time.Duration) *Peer {
	return &Peer{
		ID:            id,
		Address:       addr,
		State:         StateDisconnected,
		UAExpiry:      DefaultUAExpiry,
		Subscriptions: NewSubscriptions(),
		Slots:         NewSlotLock(slotHold),
	}
}

// Enabled reports whether the peer is a forwarding target
func (p *Peer) Enabled() bool {
	return p.State == StateConnected
}

// SetInfo copies the repeater description from an RPTC packet
func (p *Peer) SetInfo(info *protocol.InfoPacket) {
	p.Callsign = info.Callsign
	p.RXFreq = info.RXFreq
	p.TXFreq = info.TXFreq
	p.TXPower = info.TXPower
	p.ColorCode = info.ColorCode
	p.Latitude = info.Latitude
	p.Longitude = info.Longitude
	p.Height = info.Height
	p.Location = info.Location
	p.Description = info.Description
	p.URL = info.URL
	p.SoftwareID = info.SoftwareID
	p.PackageID = info.PackageID
	p.Duplex = info.Duplex()
}

// LockSlot reserves the timeslot a frame needs on this peer. A peer whose
// duplex code is DuplexBothSlot carries one logical channel, so both slots
// are reserved together or the frame is dropped.
func (p *Peer) LockSlot(slot int, occupant uint32, now time.Time) bool {
	if slot != protocol.Timeslot1 && slot != protocol.Timeslot2 {
		return false
	}
	if p.Duplex == protocol.DuplexBothSlot {
		return p.Slots.LockBoth(occupant, now)
	}
	return p.Slots.Lock(slot, occupant, now)
}

// HasAddress reports whether the peer has a usable destination address
func (p *Peer) HasAddress() bool {
	return p.Address != nil && p.Address.Port != 0 && !p.Address.IP.IsUnspecified() && p.Address.IP != nil
}

// AddressEqual reports whether the peer's address is addr
func (p *Peer) AddressEqual(addr *net.UDPAddr) bool {
	if p.Address == nil || addr == nil {
		return p.Address == nil && addr == nil
	}
	return p.Address.Port == addr.Port && p.Address.IP.Equal(addr.IP)
}

// Uptime returns how long the peer has been connected at now
func (p *Peer) Uptime(now time.Time) time.Duration {
	if p.ConnectedAt.IsZero() || now.Before(p.ConnectedAt) {
		return 0
	}
	return now.Sub(p.ConnectedAt)
}

// Subscribe provisions a static subscription for every entry of tgs
func (p *Peer) Subscribe(tgs []StaticTalkgroup, now time.Time) {
	for _, s := range tgs {
		p.Subscriptions.Add(NewStatic(s.Slot, s.Talkgroup, now))
	}
}
