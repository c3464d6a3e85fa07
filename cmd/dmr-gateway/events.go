package main

import (
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/database"
	"github.com/dbehnke/dmr-gateway/pkg/master"
	"github.com/dbehnke/dmr-gateway/pkg/mqtt"
	"github.com/dbehnke/dmr-gateway/pkg/network"
	"github.com/dbehnke/dmr-gateway/pkg/protocol"
)

// combineEvents calls every non-nil handler of each set in order
func combineEvents(sets ...network.Events) network.Events {
	var ev network.Events
	if len(sets) == 0 {
		return ev
	}

	ev.PeerConnected = func(p network.PeerStatus) {
		for _, s := range sets {
			if s.PeerConnected != nil {
				s.PeerConnected(p)
			}
		}
	}
	ev.PeerDisconnected = func(p network.PeerStatus, reason string) {
		for _, s := range sets {
			if s.PeerDisconnected != nil {
				s.PeerDisconnected(p, reason)
			}
		}
	}
	ev.CallStarted = func(pkt *protocol.DMRDPacket, at time.Time) {
		for _, s := range sets {
			if s.CallStarted != nil {
				s.CallStarted(pkt, at)
			}
		}
	}
	ev.CallEnded = func(c database.Call) {
		for _, s := range sets {
			if s.CallEnded != nil {
				s.CallEnded(c)
			}
		}
	}
	ev.Talkgroup = func(t network.TalkgroupEvent) {
		for _, s := range sets {
			if s.Talkgroup != nil {
				s.Talkgroup(t)
			}
		}
	}
	ev.MasterState = func(st master.State, at time.Time) {
		for _, s := range sets {
			if s.MasterState != nil {
				s.MasterState(st, at)
			}
		}
	}
	return ev
}

// mqttEvents maps gateway events onto MQTT topics. Publish errors are
// logged by the publisher.
func mqttEvents(p *mqtt.Publisher) network.Events {
	return network.Events{
		PeerConnected: func(s network.PeerStatus) {
			_ = p.PublishPeerConnect(mqtt.PeerConnectEvent{
				PeerID:    s.ID,
				Callsign:  s.Callsign,
				Address:   s.Address,
				Timestamp: s.ConnectedAt,
			})
		},
		PeerDisconnected: func(s network.PeerStatus, reason string) {
			_ = p.PublishPeerDisconnect(mqtt.PeerDisconnectEvent{
				PeerID:    s.ID,
				Callsign:  s.Callsign,
				Reason:    reason,
				Timestamp: time.Now(),
			})
		},
		CallStarted: func(pkt *protocol.DMRDPacket, at time.Time) {
			_ = p.PublishCallStart(mqtt.CallEvent{
				StreamID:   pkt.StreamID,
				SourceID:   pkt.SourceID,
				DestID:     pkt.DestinationID,
				Timeslot:   pkt.Timeslot,
				RepeaterID: pkt.RepeaterID,
				Timestamp:  at,
			})
		},
		CallEnded: func(c database.Call) {
			_ = p.PublishCallEnd(mqtt.CallEvent{
				StreamID:   c.StreamID,
				SourceID:   c.SourceID,
				DestID:     c.TalkgroupID,
				Timeslot:   c.Timeslot,
				RepeaterID: c.RepeaterID,
				Duration:   c.Duration,
				TimedOut:   c.TimedOut,
				Timestamp:  c.EndTime,
			})
		},
		Talkgroup: func(t network.TalkgroupEvent) {
			_ = p.PublishTalkgroup(mqtt.TalkgroupEvent{
				PeerID:    t.PeerID,
				Talkgroup: t.Talkgroup,
				Timeslot:  t.Slot,
				Action:    t.Action,
				Timestamp: time.Now(),
			})
		},
		MasterState: func(st master.State, at time.Time) {
			_ = p.PublishMasterState(mqtt.MasterEvent{
				State:     st.String(),
				Timestamp: at,
			})
		},
	}
}
