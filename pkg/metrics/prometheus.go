package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/logger"
)

// PrometheusConfig holds Prometheus server configuration
type PrometheusConfig struct {
	Enabled bool
	Port    int
	Path    string
}

// metric is one single-valued series of the exposition
type metric struct {
	name  string
	kind  string
	help  string
	value func(c *Collector) uint64
}

var exposition = []metric{
	{"dmr_peers_total", "counter", "Total number of peer logins", (*Collector).GetTotalPeers},
	{"dmr_peers_active", "gauge", "Number of currently connected peers", func(c *Collector) uint64 { return uint64(c.GetActivePeers()) }},
	{"dmr_peers_denied_total", "counter", "Logins refused by the ACL or passphrase check", (*Collector).GetDeniedPeers},
	{"dmr_packets_sent_total", "counter", "Total packets sent", (*Collector).GetPacketsSent},
	{"dmr_packets_rejected_total", "counter", "Frames from unknown or disabled senders", (*Collector).GetRejected},
	{"dmr_send_errors_total", "counter", "Failed sends", (*Collector).GetSendErrors},
	{"dmr_bytes_received_total", "counter", "Total bytes received", (*Collector).GetBytesReceived},
	{"dmr_bytes_sent_total", "counter", "Total bytes sent", (*Collector).GetBytesSent},
	{"dmr_streams_total", "counter", "Total voice streams seen", (*Collector).GetStreamsTotal},
	{"dmr_streams_active", "gauge", "Number of active voice streams", func(c *Collector) uint64 { return uint64(c.GetActiveStreams()) }},
	{"dmr_streams_suppressed_total", "counter", "Frames dropped by the stream timeout", (*Collector).GetSuppressed},
	{"dmr_frames_forwarded_total", "counter", "Frames forwarded to peers", (*Collector).GetForwarded},
	{"dmr_slot_contentions_total", "counter", "Forwards dropped because the slot was busy", (*Collector).GetContentions},
	{"dmr_talkgroups_activated_total", "counter", "User-activated subscriptions created", (*Collector).GetActivations},
	{"dmr_talkgroups_expired_total", "counter", "Subscriptions removed by expiry", (*Collector).GetExpirations},
	{"dmr_master_state", "gauge", "Master link state", func(c *Collector) uint64 { return uint64(c.GetMasterState()) }},
	{"dmr_master_reconnects_total", "counter", "Master login retries", (*Collector).GetMasterReconnects},
	{"dmr_master_keepalive_timeouts_total", "counter", "Master keepalive timeouts", (*Collector).GetMasterTimeouts},
	{"dmr_echo_frames_total", "counter", "Frames played back on the echo talkgroup", (*Collector).GetEchoFrames},
	{"dmr_calls_total", "counter", "Finished calls", (*Collector).GetCallsLogged},
}

// PrometheusHandler renders the collector in the Prometheus text format
type PrometheusHandler struct {
	collector *Collector
}

// NewPrometheusHandler creates a new Prometheus handler
func NewPrometheusHandler(collector *Collector) *PrometheusHandler {
	return &PrometheusHandler{collector: collector}
}

// ServeHTTP handles HTTP requests for metrics
func (h *PrometheusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(h.render()))
}

func (h *PrometheusHandler) render() string {
	var b strings.Builder
	c := h.collector

	writeHeader(&b, "dmr_packets_received_total", "counter", "Total packets received by tag")
	for _, pc := range c.GetPacketsReceivedByType() {
		fmt.Fprintf(&b, "dmr_packets_received_total{type=%q} %d\n", pc.Type, pc.Count)
	}

	for _, m := range exposition {
		writeHeader(&b, m.name, m.kind, m.help)
		fmt.Fprintf(&b, "%s %d\n", m.name, m.value(c))
	}
	return b.String()
}

func writeHeader(b *strings.Builder, name, kind, help string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

// PrometheusServer serves the metrics endpoint on its own port
type PrometheusServer struct {
	config    PrometheusConfig
	collector *Collector
	log       *logger.Logger
	server    *http.Server

	mu   sync.RWMutex
	addr string
}

// NewPrometheusServer creates a new Prometheus metrics server
func NewPrometheusServer(config PrometheusConfig, collector *Collector, log *logger.Logger) *PrometheusServer {
	if log == nil {
		log = logger.New(logger.Config{Level: "info", Format: "text"})
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}

	return &PrometheusServer{
		config:    config,
		collector: collector,
		log:       log.WithComponent("metrics"),
	}
}

// Start serves metrics until ctx is done
func (s *PrometheusServer) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.log.Info("Prometheus metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(s.config.Path, NewPrometheusHandler(s.collector))

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.config.Port, err)
	}

	s.mu.Lock()
	s.addr = listener.Addr().String()
	s.mu.Unlock()

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.log.Info("Starting Prometheus metrics server",
		logger.String("address", s.addr),
		logger.String("path", s.config.Path))

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("Shutting down Prometheus metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown error: %w", err)
		}
		return ctx.Err()
	case err := <-errChan:
		return err
	}
}

// Addr returns the listening address once Start has bound
func (s *PrometheusServer) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}
