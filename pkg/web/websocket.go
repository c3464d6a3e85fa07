package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/database"
	"github.com/dbehnke/dmr-gateway/pkg/logger"
	"github.com/dbehnke/dmr-gateway/pkg/master"
	"github.com/dbehnke/dmr-gateway/pkg/network"
	"github.com/dbehnke/dmr-gateway/pkg/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Event types sent to websocket clients
const (
	EventPeerConnected    = "peer_connected"
	EventPeerDisconnected = "peer_disconnected"
	EventCallStarted      = "call_started"
	EventCallEnded        = "call_ended"
	EventTalkgroup        = "talkgroup"
	EventMasterState      = "master_state"
	EventStatusUpdate     = "status_update"
)

const clientBufferSize = 256

// Event represents a WebSocket event to be broadcast to clients
type Event struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Marshal converts an event to JSON bytes
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Client represents a WebSocket client connection
type Client struct {
	ID       string
	conn     *websocket.Conn
	messages chan []byte
}

// WebSocketHub manages WebSocket client connections and broadcasts
type WebSocketHub struct {
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	logger     *logger.Logger
	mu         sync.RWMutex
}

// NewWebSocketHub creates a new WebSocket hub
func NewWebSocketHub(log *logger.Logger) *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     log.WithComponent("web.hub"),
	}
}

// Run starts the WebSocket hub event loop
func (h *WebSocketHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("WebSocket client registered",
				logger.String("client_id", client.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.messages)
			}
			h.mu.Unlock()
			h.logger.Debug("WebSocket client unregistered",
				logger.String("client_id", client.ID))

		case event := <-h.broadcast:
			data, err := event.Marshal()
			if err != nil {
				h.logger.Error("Failed to marshal event",
					logger.Error(err))
				continue
			}

			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.messages <- data:
				default:
					h.logger.Warn("Client message buffer full, skipping",
						logger.String("client_id", client.ID))
				}
			}
			h.mu.RUnlock()

		case <-ctx.Done():
			h.logger.Info("WebSocket hub shutting down")
			h.mu.Lock()
			for client := range h.clients {
				close(client.messages)
			}
			h.clients = make(map[*Client]bool)
			h.mu.Unlock()
			return
		}
	}
}

// Broadcast sends an event to all connected clients. It never blocks the
// caller, which is usually the gateway's receive loop.
func (h *WebSocketHub) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("Broadcast channel full, dropping event",
			logger.String("event_type", event.Type))
	}
}

// Handler returns an HTTP handler for WebSocket connections
func (h *WebSocketHub) Handler() http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Debug("WebSocket upgrade failed", logger.Error(err))
			return
		}
		client := &Client{ID: uuid.NewString(), conn: conn, messages: make(chan []byte, clientBufferSize)}

		select {
		case h.register <- client:
		case <-h.done:
			_ = conn.Close()
			return
		}

		// Reader goroutine: drain reads to detect close
		go func() {
			defer func() {
				select {
				case h.unregister <- client:
				case <-h.done:
				}
				_ = client.conn.Close()
			}()
			client.conn.SetReadLimit(1024)
			for {
				if _, _, err := client.conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		// Writer loop
		go func() {
			for msg := range client.messages {
				if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					h.logger.Debug("WebSocket write failed",
						logger.String("client_id", client.ID),
						logger.Error(err))
				}
			}
		}()
	})
}

// GetClientCount returns the number of connected clients
func (h *WebSocketHub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Events returns gateway event handlers that broadcast to the clients
func (h *WebSocketHub) Events() network.Events {
	return network.Events{
		PeerConnected:    h.BroadcastPeerConnected,
		PeerDisconnected: h.BroadcastPeerDisconnected,
		CallStarted:      h.BroadcastCallStarted,
		CallEnded:        h.BroadcastCallEnded,
		Talkgroup:        h.BroadcastTalkgroup,
		MasterState:      h.BroadcastMasterState,
	}
}

// BroadcastPeerConnected announces a peer that completed its login
func (h *WebSocketHub) BroadcastPeerConnected(p network.PeerStatus) {
	h.Broadcast(Event{
		Type: EventPeerConnected,
		Data: map[string]interface{}{
			"id":       p.ID,
			"callsign": p.Callsign,
			"addr":     p.Address,
			"location": p.Location,
		},
	})
}

// BroadcastPeerDisconnected announces a peer that logged out or timed out
func (h *WebSocketHub) BroadcastPeerDisconnected(p network.PeerStatus, reason string) {
	h.Broadcast(Event{
		Type: EventPeerDisconnected,
		Data: map[string]interface{}{
			"id":       p.ID,
			"callsign": p.Callsign,
			"reason":   reason,
		},
	})
}

func (h *WebSocketHub) BroadcastCallStarted(pkt *protocol.DMRDPacket, at time.Time) {
	h.Broadcast(Event{
		Type:      EventCallStarted,
		Timestamp: at,
		Data: map[string]interface{}{
			"stream_id":   pkt.StreamID,
			"src":         pkt.SourceID,
			"dst":         pkt.DestinationID,
			"slot":        pkt.Timeslot,
			"repeater_id": pkt.RepeaterID,
			"group":       pkt.CallType == protocol.CallTypeGroup,
		},
	})
}

func (h *WebSocketHub) BroadcastCallEnded(c database.Call) {
	h.Broadcast(Event{
		Type:      EventCallEnded,
		Timestamp: c.EndTime,
		Data: map[string]interface{}{
			"stream_id":    c.StreamID,
			"src":          c.SourceID,
			"dst":          c.TalkgroupID,
			"slot":         c.Timeslot,
			"repeater_id":  c.RepeaterID,
			"duration":     c.Duration,
			"packet_count": c.PacketCount,
			"timed_out":    c.TimedOut,
		},
	})
}

func (h *WebSocketHub) BroadcastTalkgroup(ev network.TalkgroupEvent) {
	h.Broadcast(Event{
		Type: EventTalkgroup,
		Data: map[string]interface{}{
			"peer_id":   ev.PeerID,
			"talkgroup": ev.Talkgroup,
			"slot":      ev.Slot,
			"action":    ev.Action,
		},
	})
}

func (h *WebSocketHub) BroadcastMasterState(state master.State, at time.Time) {
	h.Broadcast(Event{
		Type:      EventMasterState,
		Timestamp: at,
		Data: map[string]interface{}{
			"state": state.String(),
		},
	})
}

// BroadcastStatusUpdate sends the current gateway snapshot to all clients
func (h *WebSocketHub) BroadcastStatusUpdate(snap network.Snapshot) {
	h.Broadcast(Event{
		Type:      EventStatusUpdate,
		Timestamp: snap.Time,
		Data: map[string]interface{}{
			"peers":   snap.Peers,
			"master":  snap.Master,
			"streams": snap.Streams,
			"echo":    snap.Echo,
		},
	})
}
