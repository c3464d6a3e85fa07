package metrics

import (
	"sort"
	"sync"
)

// Collector collects gateway metrics. The receive loop writes, HTTP
// handlers read.
type Collector struct {
	mu sync.RWMutex

	// Peer metrics
	totalPeers  uint64
	activePeers map[uint32]bool
	deniedPeers uint64

	// Packet metrics
	packetsReceived map[string]uint64 // by packet tag
	packetsSent     uint64
	bytesReceived   uint64
	bytesSent       uint64
	rejected        uint64
	sendErrors      uint64

	// Stream metrics
	streamsTotal  uint64
	activeStreams map[uint32]bool
	suppressed    uint64

	// Routing metrics
	forwarded   uint64
	contentions uint64
	activations uint64
	expirations uint64

	// Master link metrics
	masterState      int
	masterReconnects uint64
	masterTimeouts   uint64

	// Echo and call log
	echoFrames  uint64
	callsLogged uint64
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		activePeers:     make(map[uint32]bool),
		packetsReceived: make(map[string]uint64),
		activeStreams:   make(map[uint32]bool),
	}
}

// PeerConnected records a peer connection
func (c *Collector) PeerConnected(peerID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.activePeers[peerID] {
		c.totalPeers++
	}
	c.activePeers[peerID] = true
}

// PeerDisconnected records a peer disconnection
func (c *Collector) PeerDisconnected(peerID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.activePeers, peerID)
}

// PeerDenied records a login refused by the ACL or the passphrase check
func (c *Collector) PeerDenied() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deniedPeers++
}

// PacketReceived records a received packet
func (c *Collector) PacketReceived(packetType string, bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.packetsReceived[packetType]++
	c.bytesReceived += uint64(bytes)
}

// PacketSent records a sent packet
func (c *Collector) PacketSent(bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.packetsSent++
	c.bytesSent += uint64(bytes)
}

// PacketRejected records a frame from an unknown or disabled sender
func (c *Collector) PacketRejected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rejected++
}

// SendError records a failed send
func (c *Collector) SendError() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sendErrors++
}

// StreamStarted records a stream start
func (c *Collector) StreamStarted(streamID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.streamsTotal++
	c.activeStreams[streamID] = true
}

// StreamEnded records a stream end
func (c *Collector) StreamEnded(streamID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.activeStreams, streamID)
}

// StreamSuppressed records a frame dropped because its stream ran too long
func (c *Collector) StreamSuppressed() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.suppressed++
}

// Routed records the outcome of routing one frame
func (c *Collector) Routed(forwarded, contended int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.forwarded += uint64(forwarded)
	c.contentions += uint64(contended)
}

// TalkgroupActivated records a user-activated subscription
func (c *Collector) TalkgroupActivated() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activations++
}

// TalkgroupsExpired records subscriptions removed by a sweep
func (c *Collector) TalkgroupsExpired(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expirations += uint64(n)
}

// MasterState records the master link state
func (c *Collector) MasterState(state int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.masterState = state
}

// MasterCounters records the cumulative master link counters
func (c *Collector) MasterCounters(reconnects, timeouts uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.masterReconnects = reconnects
	c.masterTimeouts = timeouts
}

// EchoPlayed records frames played back on the echo talkgroup
func (c *Collector) EchoPlayed(frames int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.echoFrames += uint64(frames)
}

// CallsLogged records finished calls
func (c *Collector) CallsLogged(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.callsLogged += uint64(n)
}

// Reset resets all metrics (useful for testing)
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activePeers = make(map[uint32]bool)
	c.activeStreams = make(map[uint32]bool)
	// Note: We don't reset total counters like totalPeers, packetsReceived, etc.
	// as those are cumulative
}

// Getters for metrics

// GetTotalPeers returns total peer connections
func (c *Collector) GetTotalPeers() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalPeers
}

// GetActivePeers returns the number of active peers
func (c *Collector) GetActivePeers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.activePeers)
}

// GetDeniedPeers returns refused logins
func (c *Collector) GetDeniedPeers() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deniedPeers
}

// PacketCount is the received count of one packet type
type PacketCount struct {
	Type  string
	Count uint64
}

// GetPacketsReceivedByType returns received packets per type ordered by type
func (c *Collector) GetPacketsReceivedByType() []PacketCount {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := make([]PacketCount, 0, len(c.packetsReceived))
	for t, n := range c.packetsReceived {
		counts = append(counts, PacketCount{Type: t, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].Type < counts[j].Type })
	return counts
}

// GetPacketsReceived returns total packets received
func (c *Collector) GetPacketsReceived() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var total uint64
	for _, n := range c.packetsReceived {
		total += n
	}
	return total
}

// GetPacketsSent returns total packets sent
func (c *Collector) GetPacketsSent() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.packetsSent
}

// GetBytesReceived returns total bytes received
func (c *Collector) GetBytesReceived() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bytesReceived
}

// GetBytesSent returns total bytes sent
func (c *Collector) GetBytesSent() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bytesSent
}

// GetRejected returns frames dropped before routing
func (c *Collector) GetRejected() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rejected
}

// GetSendErrors returns failed sends
func (c *Collector) GetSendErrors() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sendErrors
}

// GetStreamsTotal returns the number of streams seen
func (c *Collector) GetStreamsTotal() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streamsTotal
}

// GetActiveStreams returns the number of active streams
func (c *Collector) GetActiveStreams() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.activeStreams)
}

// GetSuppressed returns frames dropped by the stream timeout
func (c *Collector) GetSuppressed() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.suppressed
}

// GetForwarded returns frames forwarded to peers
func (c *Collector) GetForwarded() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.forwarded
}

// GetContentions returns forwards dropped because a slot was busy
func (c *Collector) GetContentions() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.contentions
}

// GetActivations returns user-activated subscriptions created
func (c *Collector) GetActivations() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activations
}

// GetExpirations returns subscriptions removed by sweeps
func (c *Collector) GetExpirations() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expirations
}

// GetMasterState returns the last recorded master link state
func (c *Collector) GetMasterState() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.masterState
}

// GetMasterReconnects returns master login retries
func (c *Collector) GetMasterReconnects() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.masterReconnects
}

// GetMasterTimeouts returns master keepalive timeouts
func (c *Collector) GetMasterTimeouts() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.masterTimeouts
}

// GetEchoFrames returns frames played back by the echo talkgroup
func (c *Collector) GetEchoFrames() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.echoFrames
}

// GetCallsLogged returns finished calls
func (c *Collector) GetCallsLogged() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.callsLogged
}
