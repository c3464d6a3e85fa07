package peer

import (
	"net"
	"testing"
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/protocol"
)

func TestPeer_New(t *testing.T) {
	addr := &net.UDPAddr{IP: net.ParseIP("192.168.1.100"), Port: 62031}

	peer := NewPeer(312000, addr, 0)

	if peer.ID != 312000 {
		t.Errorf("Expected peer ID 312000, got %d", peer.ID)
	}
	if peer.State != StateDisconnected {
		t.Errorf("Expected initial state StateDisconnected, got %v", peer.State)
	}
	if peer.Enabled() {
		t.Error("new peer must not be a forwarding target")
	}
	if peer.UAExpiry != DefaultUAExpiry {
		t.Errorf("UAExpiry = %v, want %v", peer.UAExpiry, DefaultUAExpiry)
	}
	if peer.Subscriptions.Len() != 0 {
		t.Error("new peer should have no subscriptions")
	}
}

func TestPeer_SetInfo(t *testing.T) {
	peer := NewPeer(312000, nil, 0)
	peer.SetInfo(&protocol.InfoPacket{
		PeerID:     312000,
		Callsign:   "W1ABC",
		RXFreq:     "449000000",
		Slots:      "4",
		SoftwareID: "MMDVM",
	})

	if peer.Callsign != "W1ABC" || peer.RXFreq != "449000000" || peer.SoftwareID != "MMDVM" {
		t.Errorf("info not copied: %+v", peer)
	}
	if peer.Duplex != 4 {
		t.Errorf("Duplex = %d, want 4", peer.Duplex)
	}
}

func TestPeer_Addresses(t *testing.T) {
	tests := []struct {
		name string
		addr *net.UDPAddr
		want bool
	}{
		{"unset", nil, false},
		{"unspecified ip", &net.UDPAddr{IP: net.IPv4zero, Port: 62031}, false},
		{"zero port", &net.UDPAddr{IP: net.ParseIP("10.0.0.1")}, false},
		{"routable", &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 62031}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPeer(1, tt.addr, 0)
			if got := p.HasAddress(); got != tt.want {
				t.Errorf("HasAddress() = %v, want %v", got, tt.want)
			}
		})
	}

	p := NewPeer(1, &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 62031}, 0)
	if !p.AddressEqual(&net.UDPAddr{IP: net.ParseIP("10.0.0.1").To4(), Port: 62031}) {
		t.Error("AddressEqual should compare IPs independent of their byte form")
	}
	if p.AddressEqual(&net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 62032}) {
		t.Error("AddressEqual should compare ports")
	}
}

func TestPeer_Uptime(t *testing.T) {
	now := time.Unix(1700000000, 0)
	p := NewPeer(1, nil, 0)
	if p.Uptime(now) != 0 {
		t.Error("uptime of a peer that never connected should be 0")
	}
	p.ConnectedAt = now.Add(-time.Minute)
	if got := p.Uptime(now); got != time.Minute {
		t.Errorf("Uptime() = %v, want 1m", got)
	}
}
