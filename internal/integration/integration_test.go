//go:build integration
// +build integration

package integration

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/dbehnke/dmr-gateway/internal/testhelpers"
	"github.com/dbehnke/dmr-gateway/pkg/peer"
	"github.com/dbehnke/dmr-gateway/pkg/protocol"
)

const wait = 2 * time.Second

func talkgroup(t *testing.T, gw *testhelpers.Gateway, peerID, tg uint32) (found bool, ua bool, expires, lastActive time.Time) {
	t.Helper()
	p, ok := gw.Peer(peerID)
	if !ok {
		return false, false, time.Time{}, time.Time{}
	}
	for _, s := range p.Talkgroups {
		if s.ID == tg {
			return true, s.UserActivated, s.ExpiresAt, s.LastActive
		}
	}
	return false, false, time.Time{}, time.Time{}
}

// A frame for talkgroup 840 on slot 2 reaches the peer with a static
// subscription byte for byte
func TestForwardToStaticSubscriber(t *testing.T) {
	suite := testhelpers.NewIntegrationSuite(t)
	defer suite.Cleanup()

	gw := suite.StartGateway(testhelpers.GatewayOptions{})
	a := suite.ConnectMockPeer(312000, "", "W1AAA")
	b := suite.ConnectMockPeer(312001, "", "W1BBB")
	if err := b.SendOptions("TS2_1=840;", time.Second); err != nil {
		t.Fatalf("options: %v", err)
	}

	if err := a.SendDMRD(3120001, 840, protocol.Timeslot2, 0xCAFE0001, 0); err != nil {
		t.Fatalf("send: %v", err)
	}

	pkt, raw, err := b.ReceiveDMRD(wait)
	if err != nil {
		t.Fatalf("peer B received nothing: %v", err)
	}
	if len(raw) != protocol.DMRDPacketSize {
		t.Errorf("forwarded %d bytes, want %d", len(raw), protocol.DMRDPacketSize)
	}
	if pkt.DestinationID != 840 || pkt.Timeslot != protocol.Timeslot2 || pkt.RepeaterID != 312000 {
		t.Errorf("forwarded frame = %+v", pkt)
	}

	now := suite.Clock.Now()
	suite.AssertEventually(func() bool {
		found, _, _, last := talkgroup(t, gw, 312001, 840)
		return found && last.Equal(now)
	}, wait, "subscription last active updated")

	if err := a.ExpectSilence(100 * time.Millisecond); err != nil {
		t.Errorf("sender got its own frame back: %v", err)
	}
}

// Traffic to an unknown talkgroup subscribes the sender for 900 seconds
func TestAutoProvisionUserActivated(t *testing.T) {
	suite := testhelpers.NewIntegrationSuite(t)
	defer suite.Cleanup()

	gw := suite.StartGateway(testhelpers.GatewayOptions{})
	a := suite.ConnectMockPeer(312000, "", "W1AAA")

	if err := a.SendDMRD(3120001, 555, protocol.Timeslot1, 1, 0); err != nil {
		t.Fatalf("send: %v", err)
	}

	now := suite.Clock.Now()
	suite.AssertEventually(func() bool {
		found, ua, expires, _ := talkgroup(t, gw, 312000, 555)
		return found && ua && expires.Equal(now.Add(peer.DefaultUAExpiry))
	}, wait, "user activated talkgroup 555 for 900s")

	// the disconnect talkgroup clears it again
	if err := a.SendDMRD(3120001, 4000, protocol.Timeslot1, 2, 0); err != nil {
		t.Fatalf("send: %v", err)
	}
	suite.AssertEventually(func() bool {
		found, _, _, _ := talkgroup(t, gw, 312000, 555)
		return !found
	}, wait, "talkgroup 555 cleared by the disconnect talkgroup")
}

// The login ack carries the tag, the peer id and a 4 byte challenge
func TestLoginChallenge(t *testing.T) {
	suite := testhelpers.NewIntegrationSuite(t)
	defer suite.Cleanup()

	gw := suite.StartGateway(testhelpers.GatewayOptions{})
	addr, err := net.ResolveUDPAddr("udp", gw.Addr)
	if err != nil {
		t.Fatal(err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.Write((&protocol.LoginPacket{PeerID: 0x0E123456}).Encode()); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("no ack: %v", err)
	}

	if n != protocol.RPTACKSaltSize {
		t.Fatalf("ack is %d bytes, want %d", n, protocol.RPTACKSaltSize)
	}
	if string(buf[:6]) != protocol.PacketTypeRPTACK {
		t.Errorf("tag = %q", buf[:6])
	}
	if !bytes.Equal(buf[6:10], []byte{0x0E, 0x12, 0x34, 0x56}) {
		t.Errorf("peer id bytes = % x", buf[6:10])
	}
}

// A silent master is given up after the pong timeout and retried after the
// logout delay
func TestMasterKeepaliveTimeout(t *testing.T) {
	suite := testhelpers.NewIntegrationSuite(t)
	defer suite.Cleanup()

	m, err := testhelpers.NewMockMaster("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = m.Close() }()

	gw := suite.StartGateway(testhelpers.GatewayOptions{
		MasterAddr:       m.Addr(),
		MasterPassphrase: "s3cret",
	})
	suite.AssertEventually(func() bool { return gw.MasterState() == "connected" }, wait, "master connected")

	m.AnswerPings(false)
	suite.Clock.Advance(16 * time.Second)
	suite.AssertEventually(func() bool { return gw.MasterState() == "waiting_pong" }, wait, "ping sent")

	suite.Clock.Advance(15 * time.Second)
	suite.AssertEventually(func() bool { return gw.MasterState() == "logout" }, wait, "logout after 30s without pong")

	suite.Clock.Advance(301 * time.Second)
	suite.AssertEventually(func() bool { return m.Logins() == 2 }, wait, "login retried")
	suite.AssertEventually(func() bool { return gw.MasterState() == "connected" }, wait, "reconnected")
}

// Frames are exchanged with the master using the gateway's own id
func TestMasterTraffic(t *testing.T) {
	suite := testhelpers.NewIntegrationSuite(t)
	defer suite.Cleanup()

	m, err := testhelpers.NewMockMaster("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = m.Close() }()

	gw := suite.StartGateway(testhelpers.GatewayOptions{
		RadioID:          2350001,
		MasterAddr:       m.Addr(),
		MasterPassphrase: "s3cret",
		MasterOptions:    "TS2_1=3100;",
		MasterTalkgroups: []peer.StaticTalkgroup{{Slot: 2, Talkgroup: 3100}},
	})
	suite.AssertEventually(func() bool { return gw.MasterState() == "connected" }, wait, "master connected")
	suite.AssertEventually(func() bool { return len(m.Options()) > 0 }, wait, "options sent")
	if got := m.Options()[0]; got != "TS2_1=3100;" {
		t.Errorf("options = %q", got)
	}

	a := suite.ConnectMockPeer(312000, "", "W1AAA")
	if err := a.SendOptions("TS2_1=840;", time.Second); err != nil {
		t.Fatalf("options: %v", err)
	}

	if err := a.SendDMRD(3120001, 3100, protocol.Timeslot2, 7, 0); err != nil {
		t.Fatal(err)
	}
	pkt, err := m.ReceiveDMRD(wait)
	if err != nil {
		t.Fatalf("master received nothing: %v", err)
	}
	if pkt.RepeaterID != 2350001 || pkt.SourceID != 3120001 {
		t.Errorf("frame to master = %+v", pkt)
	}

	if err := m.SendDMRD(2340001, 840, protocol.Timeslot2, 8, 2340100); err != nil {
		t.Fatal(err)
	}
	in, _, err := a.ReceiveDMRD(wait)
	if err != nil {
		t.Fatalf("peer received nothing from master: %v", err)
	}
	if in.SourceID != 2340001 || in.RepeaterID != 2340100 {
		t.Errorf("frame from master = %+v", in)
	}

	if err := m.SendClose(); err != nil {
		t.Fatal(err)
	}
	suite.AssertEventually(func() bool { return gw.MasterState() == "logout" }, wait, "logout on MSTCL")
}

// Frames sent to the echo talkgroup are played back after the sender goes quiet
func TestEcho(t *testing.T) {
	suite := testhelpers.NewIntegrationSuite(t)
	defer suite.Cleanup()

	suite.StartGateway(testhelpers.GatewayOptions{Echo: true})
	a := suite.ConnectMockPeer(312000, "", "W1AAA")

	for seq := uint8(0); seq < 3; seq++ {
		if err := a.SendDMRD(3120001, 9990, protocol.Timeslot2, 42, seq); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.ExpectSilence(100 * time.Millisecond); err != nil {
		t.Fatalf("echo played before the delay: %v", err)
	}

	suite.Clock.Advance(3 * time.Second)
	for seq := uint8(0); seq < 3; seq++ {
		pkt, _, err := a.ReceiveDMRD(wait)
		if err != nil {
			t.Fatalf("echo frame %d missing: %v", seq, err)
		}
		if pkt.Sequence != seq || pkt.DestinationID != 9990 {
			t.Errorf("echo frame %d = %+v", seq, pkt)
		}
	}
}

// A peer that stops pinging is swept; one that pings stays
func TestPeerKeepaliveSweep(t *testing.T) {
	suite := testhelpers.NewIntegrationSuite(t)
	defer suite.Cleanup()

	gw := suite.StartGateway(testhelpers.GatewayOptions{})
	a := suite.ConnectMockPeer(312000, "", "W1AAA")
	b := suite.ConnectMockPeer(312001, "", "W1BBB")

	suite.Clock.Advance(10 * time.Second)
	if err := b.Ping(time.Second); err != nil {
		t.Fatalf("ping: %v", err)
	}
	suite.Clock.Advance(6 * time.Second)

	suite.AssertEventually(func() bool {
		_, ok := gw.Peer(312000)
		return !ok
	}, wait, "silent peer swept")
	if _, ok := gw.Peer(312001); !ok {
		t.Error("pinging peer was swept")
	}

	if err := a.Ping(time.Second); err == nil {
		t.Error("swept peer should get MSTNAK on ping")
	}
}

// Two calls on different talkgroups cannot share a slot of the same peer
func TestSlotContention(t *testing.T) {
	suite := testhelpers.NewIntegrationSuite(t)
	defer suite.Cleanup()

	suite.StartGateway(testhelpers.GatewayOptions{
		StaticTalkgroups: []peer.StaticTalkgroup{{Slot: 1, Talkgroup: 91}, {Slot: 1, Talkgroup: 92}},
	})
	a := suite.ConnectMockPeer(312000, "", "W1AAA")
	b := suite.ConnectMockPeer(312001, "", "W1BBB")
	c := suite.ConnectMockPeer(312002, "", "W1CCC")

	if err := a.SendDMRD(1, 91, protocol.Timeslot1, 100, 0); err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.ReceiveDMRD(wait); err != nil {
		t.Fatalf("first call not forwarded: %v", err)
	}

	if err := b.SendDMRD(2, 92, protocol.Timeslot1, 200, 0); err != nil {
		t.Fatal(err)
	}
	for {
		pkt, _, err := c.ReceiveDMRD(200 * time.Millisecond)
		if err != nil {
			break
		}
		if pkt.DestinationID == 92 {
			t.Fatal("second talkgroup forwarded onto a busy slot")
		}
	}

	suite.Clock.Advance(4 * time.Second)
	if err := b.SendDMRD(2, 92, protocol.Timeslot1, 200, 1); err != nil {
		t.Fatal(err)
	}
	for {
		pkt, _, err := c.ReceiveDMRD(wait)
		if err != nil {
			t.Fatalf("call not forwarded after the slot hold: %v", err)
		}
		if pkt.DestinationID == 92 {
			break
		}
	}
}
