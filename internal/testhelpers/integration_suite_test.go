//go:build integration
// +build integration

package testhelpers

import (
	"errors"
	"testing"
	"time"
)

// TestIntegrationSuite_Basic tests basic integration suite functionality
func TestIntegrationSuite_Basic(t *testing.T) {
	suite := NewIntegrationSuite(t)
	defer suite.Cleanup()

	if suite.Logger == nil {
		t.Error("Expected logger to be initialized")
	}

	if suite.Ctx == nil {
		t.Error("Expected context to be initialized")
	}
}

// TestIntegrationSuite_MockPeer tests creating mock peers
func TestIntegrationSuite_MockPeer(t *testing.T) {
	suite := NewIntegrationSuite(t)
	defer suite.Cleanup()

	p := suite.CreateMockPeer(312000, "password", "W1ABC")
	if p.PeerID != 312000 || p.Callsign != "W1ABC" {
		t.Errorf("Unexpected mock peer %+v", p)
	}
	if len(suite.MockPeers) != 1 {
		t.Errorf("Expected 1 mock peer, got %d", len(suite.MockPeers))
	}
	if p.IsConnected() {
		t.Error("Peer should not be connected before Connect")
	}
}

// TestIntegrationSuite_WaitFor tests the WaitFor helper
func TestIntegrationSuite_WaitFor(t *testing.T) {
	suite := NewIntegrationSuite(t)
	defer suite.Cleanup()

	counter := 0
	condition := func() bool {
		counter++
		return counter >= 5
	}

	if !suite.WaitFor(condition, time.Second, "counter >= 5") {
		t.Error("Expected WaitFor to succeed")
	}
	if suite.WaitFor(func() bool { return false }, 50*time.Millisecond, "always false") {
		t.Error("Expected WaitFor to time out")
	}
}

func TestClock_Advance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewClock(start)
	c.Advance(30 * time.Second)
	if got := c.Now().Sub(start); got != 30*time.Second {
		t.Errorf("clock advanced %v, want 30s", got)
	}
}

func TestIntegrationSuite_GatewayLogin(t *testing.T) {
	suite := NewIntegrationSuite(t)
	defer suite.Cleanup()

	suite.StartGateway(GatewayOptions{Passphrase: "passw0rd"})
	suite.ConnectMockPeer(312000, "passw0rd", "W1ABC")

	suite.AssertEventually(func() bool {
		p, ok := suite.Gateway.Peer(312000)
		return ok && p.State == "connected"
	}, time.Second, "peer 312000 connected")
}

func TestIntegrationSuite_GatewayRejectsWrongPassphrase(t *testing.T) {
	suite := NewIntegrationSuite(t)
	defer suite.Cleanup()

	suite.StartGateway(GatewayOptions{Passphrase: "passw0rd"})
	p := suite.CreateMockPeer(312000, "wrong", "W1ABC")
	if err := p.Connect(suite.Gateway.Addr); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := p.Login(time.Second); !errors.Is(err, ErrNak) {
		t.Fatalf("Login error = %v, want ErrNak", err)
	}
}

func TestMockMaster_Handshake(t *testing.T) {
	m, err := NewMockMaster("s3cret")
	if err != nil {
		t.Fatalf("NewMockMaster: %v", err)
	}
	defer func() { _ = m.Close() }()

	p := NewMockPeer(2350001, "s3cret", "M0ABC")
	if err := p.Connect(m.Addr()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() { _ = p.Close() }()

	if err := p.Login(time.Second); err != nil {
		t.Fatalf("Login against mock master: %v", err)
	}
	if !m.Connected() || m.Logins() != 1 {
		t.Errorf("master connected=%v logins=%d", m.Connected(), m.Logins())
	}
	if err := p.Ping(time.Second); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
