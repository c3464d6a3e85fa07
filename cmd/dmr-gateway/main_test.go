package main

import (
	"testing"
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/config"
	"github.com/dbehnke/dmr-gateway/pkg/master"
	"github.com/dbehnke/dmr-gateway/pkg/network"
	"github.com/dbehnke/dmr-gateway/pkg/protocol"
)

func TestCombineEvents(t *testing.T) {
	var got []string
	a := network.Events{
		PeerConnected: func(p network.PeerStatus) { got = append(got, "a-connected") },
		MasterState:   func(s master.State, at time.Time) { got = append(got, "a-"+s.String()) },
	}
	b := network.Events{
		PeerConnected: func(p network.PeerStatus) { got = append(got, "b-connected") },
	}

	ev := combineEvents(a, b)
	ev.PeerConnected(network.PeerStatus{ID: 1})
	ev.MasterState(master.StateConnected, time.Now())
	// Handlers missing from every set are still safe to call
	ev.Talkgroup(network.TalkgroupEvent{})

	want := []string{"a-connected", "b-connected", "a-" + master.StateConnected.String()}
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCombineEvents_Empty(t *testing.T) {
	ev := combineEvents()
	if ev.PeerConnected != nil || ev.CallEnded != nil {
		t.Error("no handler sets should produce no handlers")
	}
}

func TestRepeaterInfo(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{ID: 2350001, Callsign: "M0ABC"},
		Master: config.MasterConfig{
			RXFreq:     449000000,
			TXFreq:     444000000,
			TXPower:    1,
			ColorCode:  1,
			Latitude:   51.5,
			Longitude:  -0.1276,
			Height:     30,
			Location:   "London",
			Slots:      4,
			SoftwareID: "dmr-gateway",
		},
	}

	info := repeaterInfo(cfg)
	info.PeerID = cfg.Global.ID
	decoded, ok := protocol.Classify(info.Encode()).(*protocol.InfoPacket)
	if !ok {
		t.Fatal("encoded info does not classify as RPTC")
	}

	tests := []struct {
		field, got, want string
	}{
		{"callsign", decoded.Callsign, "M0ABC"},
		{"rx_freq", decoded.RXFreq, "449000000"},
		{"color_code", decoded.ColorCode, "01"},
		{"latitude", decoded.Latitude, "51.5000"},
		{"longitude", decoded.Longitude, "-0.1276"},
		{"height", decoded.Height, "030"},
		{"slots", decoded.Slots, "4"},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.field, tt.got, tt.want)
			}
		})
	}
	if decoded.Duplex() != 4 {
		t.Errorf("duplex = %d, want 4", decoded.Duplex())
	}
}
