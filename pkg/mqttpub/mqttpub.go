// Package mqttpub publishes job-lifecycle events and the live detection
// feed to an MQTT broker, adapted from the teacher's telemetry publisher:
// same connect/disable/publish shape, pointed at trip-processing events
// instead of link telemetry.
package mqttpub

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/tarekm28/ouajourad/pkg/logx"
)

// Config holds MQTT publisher configuration.
type Config struct {
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         byte   `json:"qos"`
	Enabled     bool   `json:"enabled"`
}

// DefaultConfig returns default MQTT publisher configuration: disabled
// until a broker URL is supplied.
func DefaultConfig() Config {
	return Config{
		Broker:      "tcp://localhost:1883",
		ClientID:    "ouajourad",
		TopicPrefix: "ouajourad",
		QoS:         1,
		Enabled:     false,
	}
}

// Publisher wraps an MQTT client for job-lifecycle and detection-feed
// events, and fans detection events out to any number of local
// subscribers (the live-feed websocket handlers) independent of whether
// an MQTT broker is configured at all.
type Publisher struct {
	client MQTT.Client
	config Config
	logger *logx.Logger

	mu   sync.Mutex
	subs map[chan DetectionEvent]struct{}
}

// New creates a publisher. When config.Enabled is false, MQTT publish
// calls are no-ops, matching the teacher's disabled-by-default MQTT
// client; local subscriber fan-out works regardless.
func New(config Config, logger *logx.Logger) *Publisher {
	return &Publisher{config: config, logger: logger, subs: make(map[chan DetectionEvent]struct{})}
}

// Subscribe registers a channel to receive every detection event
// published from this point on. The returned cancel func must be called
// to unregister the channel when the caller is done (e.g. the websocket
// connection closes).
func (p *Publisher) Subscribe(buffer int) (ch chan DetectionEvent, cancel func()) {
	ch = make(chan DetectionEvent, buffer)

	p.mu.Lock()
	p.subs[ch] = struct{}{}
	p.mu.Unlock()

	return ch, func() {
		p.mu.Lock()
		delete(p.subs, ch)
		p.mu.Unlock()
		close(ch)
	}
}

// Connect establishes the MQTT connection. A no-op when disabled.
func (p *Publisher) Connect() error {
	if !p.config.Enabled {
		p.logger.Debug("mqtt_publisher_disabled")
		return nil
	}

	opts := MQTT.NewClientOptions().
		AddBroker(p.config.Broker).
		SetClientID(p.config.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}

	p.client = MQTT.NewClient(opts)
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqttpub: connect: %w", token.Error())
	}

	p.logger.Info("mqtt_publisher_connected", "broker", p.config.Broker)
	return nil
}

// Disconnect tears down the MQTT connection.
func (p *Publisher) Disconnect() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

// JobEvent is published at each stage of a trip-processing job's lifecycle.
type JobEvent struct {
	JobID      string    `json:"job_id"`
	TripID     string    `json:"trip_id"`
	Stage      string    `json:"stage"` // "queued", "started", "completed", "failed"
	Detections int       `json:"detections,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// PublishJobEvent publishes a job-lifecycle event. Errors are logged, not
// returned: a broker outage must never fail trip processing.
func (p *Publisher) PublishJobEvent(event JobEvent) {
	p.publishJSON(fmt.Sprintf("%s/jobs/%s", p.config.TopicPrefix, event.Stage), event)
}

// DetectionEvent is published live as C4 emits a detection, feeding a
// dashboard's live map.
type DetectionEvent struct {
	TripID    string    `json:"trip_id"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Intensity float64   `json:"intensity"`
	Timestamp time.Time `json:"timestamp"`
}

// PublishDetection publishes a single live detection to MQTT (if enabled)
// and to every local subscriber. A slow or unread subscriber channel never
// blocks processing: the event is dropped for that subscriber instead.
func (p *Publisher) PublishDetection(event DetectionEvent) {
	p.publishJSON(fmt.Sprintf("%s/detections/live", p.config.TopicPrefix), event)

	p.mu.Lock()
	defer p.mu.Unlock()
	for ch := range p.subs {
		select {
		case ch <- event:
		default:
			p.logger.Warn("live_feed_subscriber_dropped_event", "trip_id", event.TripID)
		}
	}
}

func (p *Publisher) publishJSON(topic string, payload interface{}) {
	if !p.config.Enabled || p.client == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn("mqtt_marshal_failed", "topic", topic, "error", err)
		return
	}

	token := p.client.Publish(topic, p.config.QoS, false, data)
	go func() {
		if token.Wait() && token.Error() != nil {
			p.logger.Warn("mqtt_publish_failed", "topic", topic, "error", token.Error())
		}
	}()
}
