package testhelpers

import (
	"context"
	"testing"
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/bridge"
	"github.com/dbehnke/dmr-gateway/pkg/echo"
	"github.com/dbehnke/dmr-gateway/pkg/logger"
	"github.com/dbehnke/dmr-gateway/pkg/master"
	"github.com/dbehnke/dmr-gateway/pkg/metrics"
	"github.com/dbehnke/dmr-gateway/pkg/network"
	"github.com/dbehnke/dmr-gateway/pkg/peer"
)

// IntegrationSuite provides infrastructure for integration tests
type IntegrationSuite struct {
	T         *testing.T
	Logger    *logger.Logger
	Ctx       context.Context
	Cancel    context.CancelFunc
	Clock     *Clock
	MockPeers []*MockPeer
	Gateway   *Gateway
}

// GatewayOptions selects what a test gateway runs with
type GatewayOptions struct {
	RadioID          uint32
	Passphrase       string
	ACL              string
	StaticTalkgroups []peer.StaticTalkgroup

	// Master link, disabled when MasterAddr is empty
	MasterAddr       string
	MasterPassphrase string
	MasterOptions    string
	MasterTalkgroups []peer.StaticTalkgroup

	Echo bool
}

// Gateway is a running gateway server
type Gateway struct {
	Server  *network.Server
	Metrics *metrics.Collector
	Addr    string
	errc    chan error
	cancel  context.CancelFunc
}

// NewIntegrationSuite creates a new integration test suite
func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	log := logger.New(logger.Config{
		Level:  "debug",
		Format: "text",
	})

	return &IntegrationSuite{
		T:         t,
		Logger:    log,
		Ctx:       ctx,
		Cancel:    cancel,
		Clock:     NewClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)),
		MockPeers: make([]*MockPeer, 0),
	}
}

// CreateMockPeer creates a new mock peer and adds it to the suite
func (s *IntegrationSuite) CreateMockPeer(peerID uint32, passphrase string, callsign string) *MockPeer {
	p := NewMockPeer(peerID, passphrase, callsign)
	s.MockPeers = append(s.MockPeers, p)
	return p
}

// ConnectMockPeer creates a mock peer, connects it to the gateway and logs it in
func (s *IntegrationSuite) ConnectMockPeer(peerID uint32, passphrase string, callsign string) *MockPeer {
	s.T.Helper()
	p := s.CreateMockPeer(peerID, passphrase, callsign)
	if err := p.Connect(s.Gateway.Addr); err != nil {
		s.T.Fatalf("peer %d connect: %v", peerID, err)
	}
	if err := p.Login(time.Second); err != nil {
		s.T.Fatalf("peer %d login: %v", peerID, err)
	}
	return p
}

// StartGateway starts a gateway on a loopback port driven by the suite clock
func (s *IntegrationSuite) StartGateway(opts GatewayOptions) *Gateway {
	s.T.Helper()

	if opts.RadioID == 0 {
		opts.RadioID = 2350001
	}
	acl, err := peer.ParseACL(opts.ACL)
	if err != nil {
		s.T.Fatalf("acl: %v", err)
	}

	registry := peer.NewRegistry(peer.RegistryConfig{
		SelfID:               opts.RadioID,
		Passphrase:           opts.Passphrase,
		ACL:                  acl,
		StaticTalkgroups:     opts.StaticTalkgroups,
		SelfStaticTalkgroups: opts.MasterTalkgroups,
		Now:                  s.Clock.Now,
	})

	c := network.Components{
		Registry: registry,
		Streams:  bridge.NewStreamTracker(0, 0),
		Calls:    bridge.NewCallLogger(nil, 0, s.Logger),
		Metrics:  metrics.NewCollector(),
	}
	if opts.Echo {
		c.Echo = echo.NewQueue(echo.DefaultDelay, echo.DefaultMaxFrames)
	}
	if opts.MasterAddr != "" {
		c.Link = master.NewLink(master.Config{
			Passphrase: opts.MasterPassphrase,
			Options:    opts.MasterOptions,
		}, registry.Self(), s.Logger)
	}

	srv := network.NewServer(network.Config{
		ListenAddr:    "127.0.0.1:0",
		MasterAddr:    opts.MasterAddr,
		ReadTimeout:   10 * time.Millisecond,
		SweepInterval: time.Second,
		StatsInterval: time.Hour,
		Now:           s.Clock.Now,
	}, c, s.Logger)

	ctx, cancel := context.WithCancel(s.Ctx)
	gw := &Gateway{
		Server:  srv,
		Metrics: c.Metrics,
		errc:    make(chan error, 1),
		cancel:  cancel,
	}
	go func() {
		gw.errc <- srv.Start(ctx)
	}()

	if err := srv.WaitStarted(s.Ctx); err != nil {
		cancel()
		s.T.Fatalf("gateway failed to start: %v", err)
	}
	addr, err := srv.Addr()
	if err != nil {
		cancel()
		s.T.Fatalf("gateway address: %v", err)
	}
	gw.Addr = addr.String()

	s.Gateway = gw
	return gw
}

// Stop stops the gateway and waits for its loop to return
func (g *Gateway) Stop() error {
	g.cancel()
	err := <-g.errc
	if err == context.Canceled {
		return nil
	}
	return err
}

// Peer returns the published status of a peer
func (g *Gateway) Peer(id uint32) (network.PeerStatus, bool) {
	for _, p := range g.Server.Snapshot().Peers {
		if p.ID == id {
			return p, true
		}
	}
	return network.PeerStatus{}, false
}

// MasterState returns the published master link state
func (g *Gateway) MasterState() string {
	return g.Server.Snapshot().Master.State
}

// Cleanup cleans up resources
func (s *IntegrationSuite) Cleanup() {
	// Close all mock peers
	for _, p := range s.MockPeers {
		_ = p.Close()
	}

	if s.Gateway != nil {
		if err := s.Gateway.Stop(); err != nil {
			s.T.Errorf("gateway stopped with error: %v", err)
		}
		s.Gateway = nil
	}

	// Cancel context
	s.Cancel()
}

// WaitFor waits for a condition to be true
func (s *IntegrationSuite) WaitFor(condition func() bool, timeout time.Duration, message string) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.T.Logf("WaitFor timeout: %s", message)
	return false
}

// AssertEventually asserts that a condition becomes true within timeout
func (s *IntegrationSuite) AssertEventually(condition func() bool, timeout time.Duration, message string) {
	if !s.WaitFor(condition, timeout, message) {
		s.T.Errorf("Assertion failed: %s", message)
	}
}
