// Package emitter publishes coordinator state to MQTT.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/reelcore/internal/config"
	"github.com/e7canasta/reelcore/modules/coordinator"
)

// DefaultQueueSize bounds the messages waiting for the broker.
const DefaultQueueSize = 256

const publishTimeout = 2 * time.Second

// publisher is the part of mqtt.Client the emitter publishes through.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// ItemMessage is the payload published on <state>/<item_id>.
type ItemMessage struct {
	coordinator.ItemView
	From      string    `json:"from"`
	Timestamp time.Time `json:"timestamp"`
}

type outbound struct {
	topic   string
	qos     byte
	payload []byte
}

// MQTTEmitter publishes item transitions and global events. It implements
// coordinator.Observer; observer calls only enqueue, Run does the I/O.
type MQTTEmitter struct {
	coordinator.NopObserver

	cfg    *config.Config
	Client mqtt.Client // Exported for control plane
	pub    publisher
	logger *slog.Logger

	queue chan outbound
	now   func() time.Time

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	dropped   uint64
	connected bool
}

// NewMQTTEmitter creates a new MQTT emitter
func NewMQTTEmitter(cfg *config.Config, logger *slog.Logger) *MQTTEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTEmitter{
		cfg:       cfg,
		logger:    logger,
		queue:     make(chan outbound, DefaultQueueSize),
		now:       time.Now,
		published: make(map[string]uint64),
	}
}

// Connect establishes connection to MQTT broker
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(e.cfg.MQTT.Broker)
	opts.SetClientID(e.cfg.MQTT.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	// Connection handlers
	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		e.logger.Info("mqtt connection established",
			"broker", e.cfg.MQTT.Broker,
			"client_id", e.cfg.MQTT.ClientID,
			"auto_reconnect", "enabled")
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		e.logger.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.MQTT.Broker,
			"max_retry_interval", "30s")
	}

	e.Client = mqtt.NewClient(opts)
	e.pub = e.Client

	e.logger.Info("connecting to mqtt broker", "broker", e.cfg.MQTT.Broker)

	token := e.Client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// Run publishes queued messages until ctx is done. Whatever is still queued
// then is flushed on a best-effort basis.
func (e *MQTTEmitter) Run(ctx context.Context) {
	for {
		select {
		case msg := <-e.queue:
			e.send(msg)
		case <-ctx.Done():
			for {
				select {
				case msg := <-e.queue:
					e.send(msg)
				default:
					return
				}
			}
		}
	}
}

// ItemTransition queues the item's new view on <state>/<item_id>.
func (e *MQTTEmitter) ItemTransition(tr coordinator.Transition) {
	msg := ItemMessage{ItemView: tr.View, From: tr.From.String(), Timestamp: e.now()}
	e.enqueue(fmt.Sprintf("%s/%s", e.cfg.MQTT.Topics.State, tr.ID), e.qos("state"), msg)
}

// GlobalChanged queues the event on <state>/global.
func (e *MQTTEmitter) GlobalChanged(ev coordinator.GlobalEvent) {
	e.enqueue(e.cfg.MQTT.Topics.State+"/global", e.qos("global"), ev)
}

// PublishHealth publishes a health message
func (e *MQTTEmitter) PublishHealth(payload []byte) error {
	if !e.isConnected() {
		return fmt.Errorf("mqtt not connected")
	}

	token := e.pub.Publish(e.cfg.MQTT.Topics.Health, e.qos("health"), false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	return token.Error()
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() error {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250) // 250ms grace period
		e.logger.Info("mqtt disconnected")
	}
	e.setConnected(false)
	return nil
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
		Dropped:   e.dropped,
		Queued:    len(e.queue),
	}
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
	Dropped   uint64            `json:"dropped"`
	Queued    int               `json:"queued"`
}

func (e *MQTTEmitter) enqueue(topic string, qos byte, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		e.logger.Error("failed to marshal state message", "topic", topic, "error", err)
		return
	}

	// Never block the coordinator's event loop.
	select {
	case e.queue <- outbound{topic: topic, qos: qos, payload: payload}:
	default:
		e.mu.Lock()
		e.dropped++
		e.mu.Unlock()
		e.logger.Warn("state message dropped, queue full", "topic", topic)
	}
}

func (e *MQTTEmitter) send(msg outbound) {
	if !e.isConnected() || e.pub == nil {
		e.countError()
		e.logger.Debug("state message not sent, mqtt not connected", "topic", msg.topic)
		return
	}

	token := e.pub.Publish(msg.topic, msg.qos, false, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		e.logger.Warn("state publish timeout", "topic", msg.topic)
		return
	}
	if err := token.Error(); err != nil {
		e.countError()
		e.logger.Warn("state publish failed", "topic", msg.topic, "error", err)
		return
	}

	e.mu.Lock()
	e.published[msg.topic]++
	e.mu.Unlock()

	e.logger.Debug("state published",
		"topic", msg.topic,
		"qos", msg.qos,
		"size", len(msg.payload),
	)
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

// isConnected returns connection status
func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) qos(stream string) byte {
	return e.cfg.MQTT.QoS[stream]
}

var _ coordinator.Observer = (*MQTTEmitter)(nil)
