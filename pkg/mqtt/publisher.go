package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/logger"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	connectTimeout = 10 * time.Second
	// connectRetry spaces first-connect attempts while the broker is down
	connectRetry = 15 * time.Second
)

// Config holds MQTT publisher configuration
type Config struct {
	Enabled     bool
	Broker      string
	TopicPrefix string
	ClientID    string
	Username    string
	Password    string
	QoS         byte
	Retained    bool
}

// client is the part of the paho client the publisher uses
type client interface {
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Publisher handles MQTT event publishing
type Publisher struct {
	config Config
	log    *logger.Logger
	retry  time.Duration
	mu     sync.RWMutex
	client client
}

// Event types for MQTT publishing

// PeerConnectEvent represents a peer login
type PeerConnectEvent struct {
	PeerID    uint32    `json:"peer_id"`
	Callsign  string    `json:"callsign"`
	Address   string    `json:"address"`
	Timestamp time.Time `json:"timestamp"`
}

// PeerDisconnectEvent represents a peer leaving
type PeerDisconnectEvent struct {
	PeerID    uint32    `json:"peer_id"`
	Callsign  string    `json:"callsign"`
	Reason    string    `json:"reason"` // closed, timeout
	Timestamp time.Time `json:"timestamp"`
}

// CallEvent represents the start or the end of a call
type CallEvent struct {
	StreamID   uint32    `json:"stream_id"`
	SourceID   uint32    `json:"source_id"`
	DestID     uint32    `json:"dest_id"`
	Timeslot   int       `json:"timeslot"`
	RepeaterID uint32    `json:"repeater_id"`
	Duration   float64   `json:"duration,omitempty"`
	TimedOut   bool      `json:"timed_out,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// TalkgroupEvent represents a user-activated subscription change
type TalkgroupEvent struct {
	PeerID    uint32    `json:"peer_id"`
	Talkgroup uint32    `json:"talkgroup"`
	Timeslot  int       `json:"timeslot"`
	Action    string    `json:"action"` // activated, expired, cleared
	Timestamp time.Time `json:"timestamp"`
}

// MasterEvent represents a master link state change
type MasterEvent struct {
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates a new MQTT publisher
func New(config Config, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.New(logger.Config{Level: "info", Format: "text"})
	}

	return &Publisher{
		config: config,
		log:    log.WithComponent("mqtt"),
		retry:  connectRetry,
	}
}

// Start connects to the broker, retrying until the first connect succeeds or
// ctx is done. Reconnects after that are handled by the client.
func (p *Publisher) Start(ctx context.Context) error {
	if !p.config.Enabled {
		p.log.Info("MQTT publisher disabled")
		return nil
	}

	clientID := p.clientID()
	p.log.Info("Starting MQTT publisher",
		logger.String("broker", p.config.Broker),
		logger.String("client_id", clientID))

	opts := paho.NewClientOptions()
	opts.AddBroker(p.config.Broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}
	opts.SetOnConnectHandler(func(paho.Client) {
		p.log.Info("Connected to MQTT broker", logger.String("broker", p.config.Broker))
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		p.log.Warn("MQTT connection lost", logger.Error(err))
	})

	return p.connectWithRetry(ctx, paho.NewClient(opts))
}

func (p *Publisher) connectWithRetry(ctx context.Context, c client) error {
	for attempt := 1; ; attempt++ {
		err := p.connect(ctx, c)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.log.Warn("MQTT broker unavailable, retrying",
			logger.Int("attempt", attempt),
			logger.Duration("retry_in", p.retry),
			logger.Error(err))

		t := time.NewTimer(p.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (p *Publisher) connect(ctx context.Context, c client) error {
	token := c.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(connectTimeout):
		return fmt.Errorf("mqtt connect to %s: timed out", p.config.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", p.config.Broker, err)
	}
	p.mu.Lock()
	p.client = c
	p.mu.Unlock()
	return nil
}

// Stop stops the MQTT publisher
func (p *Publisher) Stop() {
	p.mu.RLock()
	c := p.client
	p.mu.RUnlock()
	if !p.config.Enabled || c == nil {
		return
	}

	p.log.Info("Stopping MQTT publisher")
	c.Disconnect(250)
}

// PublishPeerConnect publishes a peer connection event
func (p *Publisher) PublishPeerConnect(event PeerConnectEvent) error {
	return p.publish("peers/connect", event)
}

// PublishPeerDisconnect publishes a peer disconnection event
func (p *Publisher) PublishPeerDisconnect(event PeerDisconnectEvent) error {
	return p.publish("peers/disconnect", event)
}

// PublishCallStart publishes the first frame of a call
func (p *Publisher) PublishCallStart(event CallEvent) error {
	return p.publish("calls/start", event)
}

// PublishCallEnd publishes a finished call
func (p *Publisher) PublishCallEnd(event CallEvent) error {
	return p.publish("calls/end", event)
}

// PublishTalkgroup publishes a user-activated subscription change
func (p *Publisher) PublishTalkgroup(event TalkgroupEvent) error {
	return p.publish("talkgroups/"+event.Action, event)
}

// PublishMasterState publishes a master link state change
func (p *Publisher) PublishMasterState(event MasterEvent) error {
	return p.publish("master/state", event)
}

// publish publishes an event without waiting for the broker
func (p *Publisher) publish(suffix string, event interface{}) error {
	if !p.config.Enabled {
		return nil
	}

	topic := p.formatTopic(suffix)
	payload, err := p.serializeEvent(event)
	if err != nil {
		p.log.Error("Failed to serialize event",
			logger.String("topic", topic),
			logger.Error(err))
		return err
	}

	p.mu.RLock()
	c := p.client
	p.mu.RUnlock()
	if c == nil || !c.IsConnected() {
		p.log.Debug("MQTT not connected, dropping event", logger.String("topic", topic))
		return nil
	}

	token := c.Publish(topic, p.config.QoS, p.config.Retained, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			p.log.Warn("MQTT publish failed",
				logger.String("topic", topic),
				logger.Error(err))
		}
	}()

	return nil
}

// serializeEvent serializes an event to JSON
func (p *Publisher) serializeEvent(event interface{}) ([]byte, error) {
	return json.Marshal(event)
}

// formatTopic formats a topic with the configured prefix
func (p *Publisher) formatTopic(suffix string) string {
	prefix := strings.TrimSuffix(p.config.TopicPrefix, "/")
	if prefix == "" {
		return suffix
	}
	return fmt.Sprintf("%s/%s", prefix, suffix)
}

// clientID makes the configured id unique per process so two gateways
// sharing a config do not kick each other off the broker
func (p *Publisher) clientID() string {
	base := p.config.ClientID
	if base == "" {
		base = "dmr-gateway"
	}
	return base + "-" + uuid.NewString()[:8]
}
