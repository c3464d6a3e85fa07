package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/logger"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	return w.Body.String()
}

func TestPrometheusHandler_Series(t *testing.T) {
	c := NewCollector()
	c.PeerConnected(312000)
	c.PeerDenied()
	c.PacketReceived("DMRD", 55)
	c.PacketReceived("DMRD", 55)
	c.PacketReceived("RPTPING", 11)
	c.Routed(2, 1)
	c.MasterState(3)
	c.MasterCounters(4, 1)
	c.EchoPlayed(10)

	body := scrape(t, NewPrometheusHandler(c))

	tests := []string{
		"dmr_peers_total 1",
		"dmr_peers_active 1",
		"dmr_peers_denied_total 1",
		`dmr_packets_received_total{type="DMRD"} 2`,
		`dmr_packets_received_total{type="RPTPING"} 1`,
		"dmr_bytes_received_total 121",
		"dmr_frames_forwarded_total 2",
		"dmr_slot_contentions_total 1",
		"dmr_master_state 3",
		"dmr_master_reconnects_total 4",
		"dmr_master_keepalive_timeouts_total 1",
		"dmr_echo_frames_total 10",
	}
	for _, want := range tests {
		t.Run(want, func(t *testing.T) {
			if !strings.Contains(body, want+"\n") {
				t.Errorf("missing %q in:\n%s", want, body)
			}
		})
	}
}

func TestPrometheusHandler_EverySeriesHasMetadata(t *testing.T) {
	body := scrape(t, NewPrometheusHandler(NewCollector()))

	for _, m := range exposition {
		if !strings.Contains(body, "# TYPE "+m.name+" "+m.kind+"\n") {
			t.Errorf("missing TYPE line for %s", m.name)
		}
		if !strings.Contains(body, "# HELP "+m.name+" ") {
			t.Errorf("missing HELP line for %s", m.name)
		}
	}
}

func TestPrometheusHandler_MethodNotAllowed(t *testing.T) {
	w := httptest.NewRecorder()
	NewPrometheusHandler(NewCollector()).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestPrometheusServer_Scrape(t *testing.T) {
	c := NewCollector()
	c.PeerConnected(312000)

	log := logger.New(logger.Config{Level: "error"})
	server := NewPrometheusServer(PrometheusConfig{Enabled: true}, c, log)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() { errChan <- server.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for server.Addr() == "" {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("server did not bind")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get("http://" + server.Addr() + "/metrics")
	if err != nil {
		cancel()
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(body), "dmr_peers_active 1") {
		t.Errorf("scrape body missing active peer gauge:\n%s", body)
	}

	cancel()
	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("server did not stop in time")
	}
}

func TestPrometheusServer_Disabled(t *testing.T) {
	server := NewPrometheusServer(PrometheusConfig{}, NewCollector(), nil)
	if err := server.Start(context.Background()); err != nil {
		t.Errorf("disabled Start = %v, want nil", err)
	}
	if server.Addr() != "" {
		t.Errorf("disabled server bound %q", server.Addr())
	}
}
