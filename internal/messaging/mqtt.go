package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"example.com/backstage/waterweb/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotConnected is returned by Publish while the broker link is down
	ErrNotConnected = errors.New("mqtt client not connected")
	// ErrTimeout is returned when the broker does not acknowledge in time
	ErrTimeout = errors.New("mqtt operation timed out")
)

// Handler receives one inbound message
type Handler func(topic string, payload []byte)

// Publisher sends a payload to a topic at the bus quality of service
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Subscriber registers a handler for a topic filter
type Subscriber interface {
	Subscribe(filter string, handler Handler) error
}

type subscription struct {
	filter  string
	handler Handler
}

// MQTTBus owns one broker connection. It reconnects with a fixed backoff and
// re-issues every registered subscription after each successful connect.
type MQTTBus struct {
	cfg    config.MQTTConfig
	client mqtt.Client
	log    *logrus.Logger

	mu   sync.RWMutex
	subs []subscription

	lost chan error
}

// NewMQTTBus builds the paho client. Nothing connects until Run is called.
func NewMQTTBus(cfg config.MQTTConfig, log *logrus.Logger) *MQTTBus {
	clientID := fmt.Sprintf("%s-%s", cfg.ClientID, uuid.New().String()[:8])

	b := newMQTTBus(cfg, nil, log)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(clientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetKeepAlive(30 * time.Second).
		SetConnectTimeout(b.cfg.ConnectTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectionLostHandler(b.onConnectionLost)
	b.client = mqtt.NewClient(opts)

	log.WithFields(logrus.Fields{
		"broker":    cfg.URL,
		"client_id": clientID,
	}).Info("MQTT client configured")

	return b
}

func newMQTTBus(cfg config.MQTTConfig, client mqtt.Client, log *logrus.Logger) *MQTTBus {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 3 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &MQTTBus{
		cfg:    cfg,
		client: client,
		log:    log,
		lost:   make(chan error, 1),
	}
}

func (b *MQTTBus) onConnectionLost(_ mqtt.Client, err error) {
	select {
	case b.lost <- err:
	default:
	}
}

// IsConnected reports whether the broker link is currently up
func (b *MQTTBus) IsConnected() bool {
	return b.client.IsConnectionOpen()
}

// Run keeps the connection alive until ctx is cancelled
func (b *MQTTBus) Run(ctx context.Context) error {
	for {
		if err := b.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.log.WithError(err).Warnf("MQTT connect failed, retrying in %s", b.cfg.ReconnectInterval)
		} else {
			b.log.WithField("broker", b.cfg.URL).Info("MQTT connected")

			select {
			case <-ctx.Done():
				b.log.Info("Disconnecting from MQTT broker...")
				b.client.Disconnect(250)
				return nil
			case err := <-b.lost:
				b.log.WithError(err).Warnf("MQTT connection lost, reconnecting in %s", b.cfg.ReconnectInterval)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.cfg.ReconnectInterval):
		}
	}
}

// connect opens the session and subscribes every registered filter
func (b *MQTTBus) connect(ctx context.Context) error {
	// drop a loss notification left over from the previous session
	select {
	case <-b.lost:
	default:
	}

	if err := b.wait(ctx, b.client.Connect(), b.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	b.mu.RLock()
	subs := append([]subscription(nil), b.subs...)
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := b.subscribe(ctx, sub); err != nil {
			b.client.Disconnect(0)
			return err
		}
	}
	return nil
}

// Subscribe registers the handler and subscribes right away when connected.
// Registered filters are re-subscribed on every reconnect.
func (b *MQTTBus) Subscribe(filter string, handler Handler) error {
	sub := subscription{filter: filter, handler: handler}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	if !b.client.IsConnectionOpen() {
		return nil
	}
	return b.subscribe(context.Background(), sub)
}

func (b *MQTTBus) subscribe(ctx context.Context, sub subscription) error {
	token := b.client.Subscribe(sub.filter, b.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		sub.handler(msg.Topic(), msg.Payload())
	})
	if err := b.wait(ctx, token, b.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("subscribe %s: %w", sub.filter, err)
	}
	b.log.WithFields(logrus.Fields{
		"filter": sub.filter,
		"qos":    b.cfg.QoS,
	}).Info("MQTT subscribed")
	return nil
}

// Publish sends payload and waits for the broker acknowledgement
func (b *MQTTBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if !b.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	if err := b.wait(ctx, b.client.Publish(topic, b.cfg.QoS, false, payload), b.cfg.PublishTimeout); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (b *MQTTBus) wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}
