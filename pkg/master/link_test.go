package master

import (
	"bytes"
	"testing"
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/logger"
	"github.com/dbehnke/dmr-gateway/pkg/peer"
	"github.com/dbehnke/dmr-gateway/pkg/protocol"
)

const selfID = 2350001

func newTestLink(options string) (*Link, *peer.Peer) {
	self := peer.NewPeer(selfID, nil, 0)
	self.Self = true
	cfg := Config{
		Passphrase: "passw0rd",
		Options:    options,
		Info:       protocol.InfoPacket{Callsign: "M0ABC", Slots: "4"},
	}
	return NewLink(cfg, self, logger.New(logger.Config{Level: "error"})), self
}

func ack(salt []byte) *protocol.AckPacket {
	return protocol.DecodeAck(protocol.NewBuffer((&protocol.AckPacket{PeerID: selfID, Salt: salt}).Encode()))
}

func tagOf(data []byte) string {
	return protocol.Classify(data).Type()
}

// connect walks a link through the handshake and returns the time it connected
func connect(t *testing.T, l *Link, options bool) time.Time {
	t.Helper()
	now := time.Unix(1700000000, 0)
	l.Start(now)
	l.HandleAck(ack([]byte{1, 2, 3, 4}), now)
	l.HandleAck(ack(nil), now)
	if options {
		l.HandleAck(ack(nil), now)
	}
	if l.State() != StateConnected {
		t.Fatalf("State = %v after handshake, want connected", l.State())
	}
	return now
}

func TestLink_Handshake(t *testing.T) {
	l, self := newTestLink("TS1_1=91;")
	now := time.Unix(1700000000, 0)

	out := l.Start(now)
	if len(out) != 1 || tagOf(out[0]) != protocol.PacketTypeRPTL {
		t.Fatalf("Start sent %d packets, want one RPTL", len(out))
	}
	if got := protocol.PeerIDFromBytes(out[0][4:8]); got != selfID {
		t.Errorf("login id = %d, want %d", got, selfID)
	}
	if l.State() != StateLoginRequest {
		t.Fatalf("State = %v, want login_request", l.State())
	}

	salt := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	out = l.HandleAck(ack(salt), now)
	if len(out) != 1 || tagOf(out[0]) != protocol.PacketTypeRPTK {
		t.Fatalf("challenge ack answered with %d packets, want one RPTK", len(out))
	}
	rptk := protocol.DecodeChallengeResponse(protocol.NewBuffer(out[0]))
	if want := protocol.ChallengeHash(salt, "passw0rd"); rptk.Hash != want {
		t.Error("challenge response hash mismatch")
	}
	if l.State() != StateLoginPassword {
		t.Fatalf("State = %v, want login_password", l.State())
	}

	out = l.HandleAck(ack(nil), now)
	if len(out) != 2 || tagOf(out[0]) != protocol.PacketTypeRPTC || tagOf(out[1]) != protocol.PacketTypeRPTO {
		t.Fatalf("password ack answered with %d packets, want RPTC and RPTO", len(out))
	}
	info := protocol.DecodeInfo(protocol.NewBuffer(out[0]))
	if info.PeerID != selfID || info.Callsign != "M0ABC" {
		t.Errorf("info = %+v", info)
	}
	if l.State() != StateOptions {
		t.Fatalf("State = %v, want options", l.State())
	}
	if self.Enabled() {
		t.Error("self peer must not forward before the link is connected")
	}

	later := now.Add(2 * time.Second)
	l.HandleAck(ack(nil), later)
	if l.State() != StateConnected {
		t.Fatalf("State = %v, want connected", l.State())
	}
	if !self.Enabled() || !self.LastCheck.Equal(later) {
		t.Error("self peer should be enabled with a fresh keepalive")
	}
	if l.Stats().Logins != 1 {
		t.Errorf("Logins = %d", l.Stats().Logins)
	}

	l.HandleAck(ack(nil), later)
	if l.State() != StateConnected {
		t.Error("a late ack must not disturb a connected link")
	}
}

func TestLink_HandshakeWithoutOptions(t *testing.T) {
	l, _ := newTestLink("")
	now := time.Unix(1700000000, 0)
	l.Start(now)
	l.HandleAck(ack([]byte{1, 2, 3, 4}), now)

	out := l.HandleAck(ack(nil), now)
	if len(out) != 1 || tagOf(out[0]) != protocol.PacketTypeRPTC {
		t.Fatalf("sent %d packets, want only RPTC", len(out))
	}
	if l.State() != StateConnected {
		t.Errorf("State = %v, want connected", l.State())
	}
}

func TestLink_ShortAckChallenge(t *testing.T) {
	l, _ := newTestLink("")
	now := time.Unix(1700000000, 0)
	l.Start(now)

	raw := []byte{'R', 'P', 'T', 'A', 'C', 'K', 0x0A, 0x7E, 0xD4, 0x98}
	out := l.HandleAck(protocol.DecodeAck(protocol.NewBuffer(raw)), now)

	rptk := protocol.DecodeChallengeResponse(protocol.NewBuffer(out[0]))
	if want := protocol.ChallengeHash(raw[6:10], "passw0rd"); rptk.Hash != want {
		t.Error("a short ack must be hashed with the bytes after the tag")
	}
}

func TestLink_Resends(t *testing.T) {
	tests := []struct {
		name  string
		setup func(l *Link, now time.Time)
		every time.Duration
		tag   string
	}{
		{"login request", func(l *Link, now time.Time) { l.Start(now) }, DefaultLoginRetry, protocol.PacketTypeRPTL},
		{"challenge response", func(l *Link, now time.Time) {
			l.Start(now)
			l.HandleAck(ack([]byte{1, 2, 3, 4}), now)
		}, DefaultLoginRetry, protocol.PacketTypeRPTK},
		{"options", func(l *Link, now time.Time) {
			l.Start(now)
			l.HandleAck(ack([]byte{1, 2, 3, 4}), now)
			l.HandleAck(ack(nil), now)
		}, DefaultOptionsInterval, protocol.PacketTypeRPTO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := newTestLink("TS2_1=3100;")
			now := time.Unix(1700000000, 0)
			tt.setup(l, now)

			if out := l.Tick(now.Add(tt.every - time.Second)); len(out) != 0 {
				t.Fatalf("resent too early")
			}
			out := l.Tick(now.Add(tt.every))
			if len(out) != 1 || tagOf(out[0]) != tt.tag {
				t.Fatalf("Tick sent %d packets, want one %s", len(out), tt.tag)
			}
			if out := l.Tick(now.Add(tt.every + time.Second)); len(out) != 0 {
				t.Error("resend interval restarts after each send")
			}
		})
	}
}

func TestLink_KeepaliveTimeoutAndRetry(t *testing.T) {
	l, self := newTestLink("")
	t0 := connect(t, l, false)

	if out := l.Tick(t0.Add(15 * time.Second)); len(out) != 0 {
		t.Fatal("ping sent before the keepalive age exceeded the interval")
	}
	out := l.Tick(t0.Add(16 * time.Second))
	if len(out) != 1 || tagOf(out[0]) != protocol.PacketTypeRPTPING {
		t.Fatalf("Tick sent %d packets, want one RPTPING", len(out))
	}
	if l.State() != StateWaitingPong {
		t.Fatalf("State = %v, want waiting_pong", l.State())
	}
	if !self.Enabled() {
		t.Error("self peer keeps forwarding while a pong is outstanding")
	}

	l.Tick(t0.Add(30 * time.Second))
	if l.State() != StateWaitingPong {
		t.Fatalf("State = %v at 30s, want waiting_pong", l.State())
	}

	logout := t0.Add(31 * time.Second)
	l.Tick(logout)
	if l.State() != StateLogout {
		t.Fatalf("State = %v past the pong timeout, want logout", l.State())
	}
	if self.Enabled() {
		t.Error("self peer must stop forwarding after logout")
	}

	l.Tick(logout.Add(300 * time.Second))
	if l.State() != StateLogout {
		t.Fatalf("State = %v at the logout delay, want logout", l.State())
	}

	out = l.Tick(logout.Add(301 * time.Second))
	if l.State() != StateLoginRequest {
		t.Fatalf("State = %v after the logout delay, want login_request", l.State())
	}
	if len(out) != 1 || tagOf(out[0]) != protocol.PacketTypeRPTL {
		t.Error("retry must send a fresh login request")
	}

	stats := l.Stats()
	if stats.KeepaliveTimeouts != 1 || stats.Reconnects != 1 || stats.Pings != 1 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestLink_PongRestoresConnected(t *testing.T) {
	l, self := newTestLink("")
	t0 := connect(t, l, false)

	l.Tick(t0.Add(16 * time.Second))
	pong := t0.Add(17 * time.Second)
	l.HandlePong(pong)

	if l.State() != StateConnected || !self.LastCheck.Equal(pong) {
		t.Fatalf("State = %v LastCheck = %v", l.State(), self.LastCheck)
	}
	if out := l.Tick(pong.Add(10 * time.Second)); len(out) != 0 {
		t.Error("keepalive clock was not refreshed by the pong")
	}
}

func TestLink_MasterDisconnect(t *testing.T) {
	tests := []struct {
		name   string
		handle func(l *Link, now time.Time)
	}{
		{"close", func(l *Link, now time.Time) { l.HandleClose(now) }},
		{"nak", func(l *Link, now time.Time) { l.HandleNak(now) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := newTestLink("")
			t0 := connect(t, l, false)
			tt.handle(l, t0.Add(time.Second))
			if l.State() != StateLogout {
				t.Errorf("State = %v, want logout", l.State())
			}
		})
	}
}

func TestLink_CloseIgnoredWhileLoggingIn(t *testing.T) {
	l, _ := newTestLink("")
	now := time.Unix(1700000000, 0)
	l.Start(now)
	l.HandleClose(now)
	if l.State() != StateLoginRequest {
		t.Errorf("State = %v, want login_request", l.State())
	}

	l.HandleNak(now)
	if l.State() != StateLogout {
		t.Errorf("nak during login: State = %v, want logout", l.State())
	}
}

func TestLink_UnexpectedAckDisables(t *testing.T) {
	tests := []struct {
		name  string
		setup func(l *Link, now time.Time)
	}{
		{"disabled", func(l *Link, now time.Time) {}},
		{"waiting pong", func(l *Link, now time.Time) {
			l.Start(now)
			l.HandleAck(ack([]byte{1, 2, 3, 4}), now)
			l.HandleAck(ack(nil), now)
			l.Tick(now.Add(time.Minute))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := newTestLink("")
			now := time.Unix(1700000000, 0)
			tt.setup(l, now)
			l.HandleAck(ack(nil), now.Add(time.Minute))
			if l.State() != StateDisabled {
				t.Errorf("State = %v, want disabled", l.State())
			}
			if out := l.Tick(now.Add(time.Hour)); len(out) != 0 {
				t.Error("a disabled link sends nothing")
			}
		})
	}
}

func TestLink_ClockBackwards(t *testing.T) {
	l, _ := newTestLink("")
	t0 := connect(t, l, false)

	out := l.Tick(t0.Add(-time.Second))
	if len(out) != 1 || !bytes.HasPrefix(out[0], []byte(protocol.PacketTypeRPTPING)) {
		t.Error("a keepalive age below zero should be treated as expired")
	}
}

func TestState_String(t *testing.T) {
	if StateWaitingPong.String() != "waiting_pong" || State(99).String() != "unknown" {
		t.Error("unexpected state names")
	}
}
