// Package notify mirrors the sync indicator to an MQTT broker and accepts
// flush requests from it.
package notify

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/care-assets/internal/outbox"
)

const (
	StatusTopic = "sync/status"
	FlushTopic  = "sync/flush"

	qosAtLeastOnce = 1
	waitTimeout    = 10 * time.Second
)

// Client is the part of mqtt.Client the notifier uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Disconnect(quiesce uint)
}

// Status is the retained payload on the status topic.
type Status struct {
	Facility     string    `json:"facility,omitempty"`
	Pending      int       `json:"pending"`
	DeadLettered int       `json:"dead_lettered"`
	Syncing      bool      `json:"syncing"`
	LastFlush    time.Time `json:"last_flush,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// Notifier publishes queue state. A nil client makes every method a no-op.
type Notifier struct {
	client   Client
	prefix   string
	facility string

	mu   sync.Mutex
	last *Status
}

// New wraps an already connected client.
func New(client Client, prefix, facility string) *Notifier {
	return &Notifier{client: client, prefix: prefix, facility: facility}
}

// Connect dials the broker. An empty broker returns a disabled notifier.
// onFlush, when non-nil, is subscribed to the flush topic and resubscribed
// after every reconnect.
func Connect(broker, clientID, prefix, facility string, onFlush func()) (*Notifier, error) {
	if broker == "" {
		log.Info("MQTT broker not configured, sync notifications disabled")
		return New(nil, prefix, facility), nil
	}

	n := &Notifier{prefix: prefix, facility: facility}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(waitTimeout).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithError(err).Warn("MQTT connection lost")
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			log.WithField("broker", broker).Info("Connected to MQTT broker")
			if onFlush != nil {
				if err := n.subscribe(c, onFlush); err != nil {
					log.WithError(err).Error("Failed to subscribe to flush topic")
				}
			}
			n.republish()
		})

	client := mqtt.NewClient(opts)
	n.client = client
	token := client.Connect()
	if !token.WaitTimeout(waitTimeout) {
		// SetConnectRetry keeps trying in the background.
		log.WithField("broker", broker).Warn("MQTT broker not reachable yet, retrying in background")
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", broker, err)
	}
	return n, nil
}

// Topic joins the configured prefix and a suffix.
func (n *Notifier) Topic(suffix string) string {
	if n.prefix == "" {
		return suffix
	}
	return n.prefix + "/" + suffix
}

// Enabled reports whether a broker is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.client != nil
}

// PublishStats publishes the indicator as a retained message.
func (n *Notifier) PublishStats(stats outbox.Stats) error {
	status := Status{
		Facility:     n.facility,
		Pending:      stats.Pending,
		DeadLettered: stats.DeadLettered,
		Syncing:      stats.Syncing,
		LastFlush:    stats.LastFlush,
		LastError:    stats.LastError,
	}
	n.mu.Lock()
	n.last = &status
	n.mu.Unlock()

	if !n.Enabled() {
		return nil
	}
	return n.publish(status)
}

// Close disconnects from the broker.
func (n *Notifier) Close() {
	if n.Enabled() {
		n.client.Disconnect(250)
	}
}

func (n *Notifier) publish(status Status) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encoding sync status: %w", err)
	}
	token := n.client.Publish(n.Topic(StatusTopic), qosAtLeastOnce, true, payload)
	if !token.WaitTimeout(waitTimeout) {
		return fmt.Errorf("publishing sync status: timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing sync status: %w", err)
	}
	return nil
}

// republish sends the last known indicator after a reconnect.
func (n *Notifier) republish() {
	n.mu.Lock()
	last := n.last
	n.mu.Unlock()
	if last == nil || n.client == nil {
		return
	}
	if err := n.publish(*last); err != nil {
		log.WithError(err).Warn("Failed to republish sync status")
	}
}

type subscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

func (n *Notifier) subscribe(c subscriber, onFlush func()) error {
	topic := n.Topic(FlushTopic)
	token := c.Subscribe(topic, qosAtLeastOnce, func(_ mqtt.Client, msg mqtt.Message) {
		log.WithFields(log.Fields{
			"topic":   msg.Topic(),
			"payload": string(msg.Payload()),
		}).Info("Flush requested over MQTT")
		onFlush()
	})
	if !token.WaitTimeout(waitTimeout) {
		return fmt.Errorf("subscribing to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	return nil
}
