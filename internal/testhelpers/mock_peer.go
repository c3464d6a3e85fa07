package testhelpers

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/protocol"
)

// MockPeer simulates a repeater logging in to the gateway
type MockPeer struct {
	PeerID      uint32
	Passphrase  string
	Callsign    string
	Slots       string // RPTC slots code, "4" for a duplex hotspot
	conn        *net.UDPConn
	gatewayAddr *net.UDPAddr
	mu          sync.RWMutex
	packets     [][]byte
	closed      bool
}

// NewMockPeer creates a new mock peer
func NewMockPeer(peerID uint32, passphrase string, callsign string) *MockPeer {
	return &MockPeer{
		PeerID:     peerID,
		Passphrase: passphrase,
		Callsign:   callsign,
		Slots:      "3",
		packets:    make([][]byte, 0),
	}
}

// Connect opens a socket toward the gateway
func (m *MockPeer) Connect(gatewayAddr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	addr, err := net.ResolveUDPAddr("udp", gatewayAddr)
	if err != nil {
		return err
	}
	m.gatewayAddr = addr

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return err
	}
	m.conn = conn

	return nil
}

// LocalAddr returns the address the gateway sees the peer at
func (m *MockPeer) LocalAddr() *net.UDPAddr {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil {
		return nil
	}
	return m.conn.LocalAddr().(*net.UDPAddr)
}

// Login runs the RPTL, RPTK, RPTC handshake and fails on any MSTNAK
func (m *MockPeer) Login(timeout time.Duration) error {
	if err := m.write((&protocol.LoginPacket{PeerID: m.PeerID}).Encode()); err != nil {
		return err
	}
	ack, err := m.expectAck(timeout)
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}

	rptk := &protocol.ChallengeResponsePacket{
		PeerID: m.PeerID,
		Hash:   protocol.ChallengeHash(ack.Challenge(), m.Passphrase),
	}
	if err := m.write(rptk.Encode()); err != nil {
		return err
	}
	if _, err := m.expectAck(timeout); err != nil {
		return fmt.Errorf("challenge response: %w", err)
	}

	if err := m.write(m.Info().Encode()); err != nil {
		return err
	}
	if _, err := m.expectAck(timeout); err != nil {
		return fmt.Errorf("repeater info: %w", err)
	}
	return nil
}

// Info returns the RPTC description of the peer
func (m *MockPeer) Info() *protocol.InfoPacket {
	return &protocol.InfoPacket{
		PeerID:      m.PeerID,
		Callsign:    m.Callsign,
		RXFreq:      "449000000",
		TXFreq:      "444000000",
		TXPower:     "01",
		ColorCode:   "01",
		Latitude:    "38.0000",
		Longitude:   "-095.0000",
		Height:      "075",
		Location:    "Test Site",
		Description: "Mock repeater",
		Slots:       m.Slots,
		URL:         "https://example.net",
		SoftwareID:  "mock",
		PackageID:   "mock",
	}
}

// SendOptions sends an RPTO and waits for its ack
func (m *MockPeer) SendOptions(options string, timeout time.Duration) error {
	if err := m.write((&protocol.OptionsPacket{PeerID: m.PeerID, Options: options}).Encode()); err != nil {
		return err
	}
	_, err := m.expectAck(timeout)
	return err
}

// Ping sends an RPTPING and waits for the MSTPONG
func (m *MockPeer) Ping(timeout time.Duration) error {
	if err := m.write((&protocol.PingPacket{PeerID: m.PeerID}).Encode()); err != nil {
		return err
	}
	for {
		pkt, err := m.ReceivePacket(timeout)
		if err != nil {
			return err
		}
		switch protocol.Classify(pkt).(type) {
		case *protocol.PongPacket:
			return nil
		case *protocol.NakPacket:
			return ErrNak
		}
	}
}

// SendDMRD sends one group voice frame
func (m *MockPeer) SendDMRD(sourceID, destID uint32, timeslot int, streamID uint32, seq uint8) error {
	packet := &protocol.DMRDPacket{
		Sequence:      seq,
		SourceID:      sourceID,
		DestinationID: destID,
		RepeaterID:    m.PeerID,
		Control: protocol.Control{
			Timeslot: timeslot,
			CallType: protocol.CallTypeGroup,
		},
		StreamID: streamID,
	}
	for i := range packet.Payload {
		packet.Payload[i] = seq
	}
	return m.write(packet.Encode())
}

// SendClose sends an RPTCL
func (m *MockPeer) SendClose() error {
	return m.write((&protocol.PeerClosePacket{PeerID: m.PeerID}).Encode())
}

// ReceivePacket receives a packet from the gateway
func (m *MockPeer) ReceivePacket(timeout time.Duration) ([]byte, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil {
		return nil, errNotConnected
	}

	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 1500)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}

	packet := make([]byte, n)
	copy(packet, buf[:n])

	m.mu.Lock()
	m.packets = append(m.packets, packet)
	m.mu.Unlock()

	return packet, nil
}

// ReceiveDMRD waits for the next voice frame, skipping anything else
func (m *MockPeer) ReceiveDMRD(timeout time.Duration) (*protocol.DMRDPacket, []byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return nil, nil, errTimeout
		}
		pkt, err := m.ReceivePacket(left)
		if err != nil {
			return nil, nil, err
		}
		if d, ok := protocol.Classify(pkt).(*protocol.DMRDPacket); ok {
			return d, pkt, nil
		}
	}
}

// ExpectSilence fails when a voice frame arrives within d
func (m *MockPeer) ExpectSilence(d time.Duration) error {
	if _, _, err := m.ReceiveDMRD(d); err == nil {
		return errors.New("unexpected DMRD frame")
	}
	return nil
}

// GetReceivedPackets returns all received packets
func (m *MockPeer) GetReceivedPackets() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	packets := make([][]byte, len(m.packets))
	copy(packets, m.packets)
	return packets
}

// Close closes the mock peer connection
func (m *MockPeer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	if m.conn != nil {
		return m.conn.Close()
	}
	return nil
}

// IsConnected returns whether the peer is connected
func (m *MockPeer) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn != nil && !m.closed
}

func (m *MockPeer) write(data []byte) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil {
		return errNotConnected
	}
	_, err := conn.Write(data)
	return err
}

// expectAck waits for the answer to a handshake step
func (m *MockPeer) expectAck(timeout time.Duration) (*protocol.AckPacket, error) {
	for {
		pkt, err := m.ReceivePacket(timeout)
		if err != nil {
			return nil, err
		}
		switch p := protocol.Classify(pkt).(type) {
		case *protocol.AckPacket:
			return p, nil
		case *protocol.NakPacket:
			return nil, ErrNak
		}
	}
}
