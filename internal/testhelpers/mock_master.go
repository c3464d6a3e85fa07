package testhelpers

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/protocol"
)

var (
	// ErrNak is returned when the gateway refuses a handshake step
	ErrNak          = errors.New("received MSTNAK")
	errNotConnected = errors.New("not connected")
	errTimeout      = errors.New("timed out")
)

// MockMaster simulates an upstream master the gateway logs in to
type MockMaster struct {
	Passphrase string
	Salt       []byte

	conn *net.UDPConn

	mu          sync.Mutex
	gateway     *net.UDPAddr
	answerPings bool
	logins      int
	connected   bool
	options     []string
	pings       int
	closes      int
	frames      chan []byte
	done        chan struct{}
}

// NewMockMaster listens on a loopback port and starts answering
func NewMockMaster(passphrase string) (*MockMaster, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, err
	}
	m := &MockMaster{
		Passphrase:  passphrase,
		Salt:        []byte{0x01, 0x02, 0x03, 0x04},
		conn:        conn,
		answerPings: true,
		frames:      make(chan []byte, 256),
		done:        make(chan struct{}),
	}
	go m.serve()
	return m, nil
}

// Addr returns the address the gateway should use as its master
func (m *MockMaster) Addr() string {
	return m.conn.LocalAddr().String()
}

// AnswerPings controls whether RPTPING gets an MSTPONG
func (m *MockMaster) AnswerPings(answer bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answerPings = answer
}

// Connected reports whether the gateway completed a login
func (m *MockMaster) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Logins returns the number of login requests seen
func (m *MockMaster) Logins() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logins
}

// Options returns every options string received
func (m *MockMaster) Options() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.options...)
}

// Pings returns the number of keepalives received
func (m *MockMaster) Pings() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pings
}

// Closes returns the number of RPTCL received
func (m *MockMaster) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// ReceiveDMRD waits for a voice frame forwarded by the gateway
func (m *MockMaster) ReceiveDMRD(timeout time.Duration) (*protocol.DMRDPacket, error) {
	select {
	case data := <-m.frames:
		return protocol.Classify(data).(*protocol.DMRDPacket), nil
	case <-time.After(timeout):
		return nil, errTimeout
	}
}

// Send writes a datagram to the gateway
func (m *MockMaster) Send(data []byte) error {
	m.mu.Lock()
	gw := m.gateway
	m.mu.Unlock()
	if gw == nil {
		return errNotConnected
	}
	_, err := m.conn.WriteToUDP(data, gw)
	return err
}

// SendDMRD sends a group voice frame to the gateway as if it came from
// another repeater on the master
func (m *MockMaster) SendDMRD(sourceID, destID uint32, timeslot int, streamID, repeaterID uint32) error {
	p := &protocol.DMRDPacket{
		SourceID:      sourceID,
		DestinationID: destID,
		RepeaterID:    repeaterID,
		Control:       protocol.Control{Timeslot: timeslot, CallType: protocol.CallTypeGroup},
		StreamID:      streamID,
	}
	return m.Send(p.Encode())
}

// SendClose drops the gateway session with an MSTCL
func (m *MockMaster) SendClose() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return m.Send((&protocol.MasterClosePacket{}).Encode())
}

// Close stops the master
func (m *MockMaster) Close() error {
	err := m.conn.Close()
	<-m.done
	return err
}

func (m *MockMaster) serve() {
	defer close(m.done)
	buf := make([]byte, 1500)
	for {
		n, addr, err := m.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		data := append([]byte(nil), buf[:n]...)
		if reply := m.handle(data, addr); reply != nil {
			_, _ = m.conn.WriteToUDP(reply, addr)
		}
	}
}

func (m *MockMaster) handle(data []byte, addr *net.UDPAddr) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch p := protocol.Classify(data).(type) {
	case *protocol.LoginPacket:
		m.gateway = addr
		m.logins++
		m.connected = false
		return (&protocol.AckPacket{PeerID: p.PeerID, Salt: m.Salt}).Encode()
	case *protocol.ChallengeResponsePacket:
		if p.Hash != protocol.ChallengeHash(m.Salt, m.Passphrase) {
			return (&protocol.NakPacket{PeerID: p.PeerID}).Encode()
		}
		return (&protocol.AckPacket{PeerID: p.PeerID}).Encode()
	case *protocol.InfoPacket:
		m.connected = true
		return (&protocol.AckPacket{PeerID: p.PeerID}).Encode()
	case *protocol.OptionsPacket:
		m.options = append(m.options, p.Options)
		return (&protocol.AckPacket{PeerID: p.PeerID}).Encode()
	case *protocol.PingPacket:
		m.pings++
		if !m.answerPings {
			return nil
		}
		return (&protocol.PongPacket{PeerID: p.PeerID}).Encode()
	case *protocol.PeerClosePacket:
		m.closes++
		m.connected = false
	case *protocol.DMRDPacket:
		select {
		case m.frames <- data:
		default:
		}
	}
	return nil
}
