package network

import (
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/bridge"
	"github.com/dbehnke/dmr-gateway/pkg/master"
	"github.com/dbehnke/dmr-gateway/pkg/peer"
)

// Snapshot is a read-only copy of the loop state for the dashboard and the
// metrics endpoint
type Snapshot struct {
	Time      time.Time    `json:"time"`
	StartedAt time.Time    `json:"started_at"`
	Peers     []PeerStatus `json:"peers"`
	Master    MasterStatus `json:"master"`
	Streams   StreamStatus `json:"streams"`
	Router    bridge.Stats `json:"router"`
	Echo      EchoStatus   `json:"echo"`
}

// PeerStatus describes one registered peer
type PeerStatus struct {
	ID              uint32            `json:"id"`
	Self            bool              `json:"self"`
	Callsign        string            `json:"callsign"`
	Location        string            `json:"location"`
	Description     string            `json:"description"`
	Address         string            `json:"address"`
	State           string            `json:"state"`
	Duplex          int               `json:"duplex"`
	ConnectedAt     time.Time         `json:"connected_at"`
	LastCheck       time.Time         `json:"last_check"`
	RxBytes         uint64            `json:"rx_bytes"`
	TxBytes         uint64            `json:"tx_bytes"`
	PacketsReceived uint64            `json:"packets_received"`
	PacketsSent     uint64            `json:"packets_sent"`
	Talkgroups      []TalkgroupStatus `json:"talkgroups"`
}

// TalkgroupStatus describes one subscription
type TalkgroupStatus struct {
	ID            uint32    `json:"id"`
	Slot          int       `json:"slot"`
	UserActivated bool      `json:"user_activated"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
	LastActive    time.Time `json:"last_active,omitempty"`
}

// MasterStatus describes the upstream link
type MasterStatus struct {
	Enabled           bool      `json:"enabled"`
	Address           string    `json:"address"`
	State             string    `json:"state"`
	Since             time.Time `json:"since"`
	Logins            uint64    `json:"logins"`
	Reconnects        uint64    `json:"reconnects"`
	KeepaliveTimeouts uint64    `json:"keepalive_timeouts"`
}

// StreamStatus counts calls
type StreamStatus struct {
	Active int    `json:"active"`
	Total  uint64 `json:"total"`
}

// EchoStatus describes the echo queue
type EchoStatus struct {
	Enabled bool   `json:"enabled"`
	Pending int    `json:"pending"`
	Played  uint64 `json:"played"`
	Dropped uint64 `json:"dropped"`
}

// Snapshot returns the state published by the last idle pass
func (s *Server) Snapshot() Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

// publish rebuilds the snapshot. Only the loop goroutine calls it.
func (s *Server) publish(now time.Time) {
	snap := Snapshot{
		Time:      now,
		StartedAt: s.startedAt,
		Streams:   StreamStatus{Active: s.streams.Active(), Total: s.streams.Total()},
		Router:    s.router.Stats(),
	}

	for _, p := range s.registry.All() {
		snap.Peers = append(snap.Peers, peerStatus(p))
	}

	if s.link != nil {
		ls := s.link.Stats()
		snap.Master = MasterStatus{
			Enabled:           true,
			Address:           addrString(s.masterAddr),
			State:             s.link.State().String(),
			Since:             s.link.Since(),
			Logins:            ls.Logins,
			Reconnects:        ls.Reconnects,
			KeepaliveTimeouts: ls.KeepaliveTimeouts,
		}
	} else {
		snap.Master.State = master.StateDisabled.String()
	}

	if s.echo != nil {
		snap.Echo = EchoStatus{
			Enabled: true,
			Pending: s.echo.Pending(),
			Played:  s.echo.Played(),
			Dropped: s.echo.Dropped(),
		}
	}

	s.snapMu.Lock()
	s.snap = snap
	s.snapMu.Unlock()
}

func peerStatus(p *peer.Peer) PeerStatus {
	st := PeerStatus{
		ID:              p.ID,
		Self:            p.Self,
		Callsign:        p.Callsign,
		Location:        p.Location,
		Description:     p.Description,
		Address:         addrString(p.Address),
		State:           p.State.String(),
		Duplex:          int(p.Duplex),
		ConnectedAt:     p.ConnectedAt,
		LastCheck:       p.LastCheck,
		RxBytes:         p.RxBytes,
		TxBytes:         p.TxBytes,
		PacketsReceived: p.PacketsReceived,
		PacketsSent:     p.PacketsSent,
	}
	for _, tg := range p.Subscriptions.List() {
		st.Talkgroups = append(st.Talkgroups, TalkgroupStatus{
			ID:            tg.ID,
			Slot:          tg.Slot,
			UserActivated: tg.UserActivated,
			ExpiresAt:     tg.ExpiresAt(),
			LastActive:    tg.LastActive,
		})
	}
	return st
}
