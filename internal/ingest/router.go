package ingest

import (
	"context"
	"fmt"
	"time"

	"example.com/backstage/waterweb/internal/messaging"
	"example.com/backstage/waterweb/internal/models"
	"example.com/backstage/waterweb/internal/service"
	"example.com/backstage/waterweb/internal/tracing"

	"github.com/sirupsen/logrus"
)

// DeviceWriter is the part of the device store the router writes to
type DeviceWriter interface {
	Upsert(ctx context.Context, deviceID string, update service.StatusUpdate) error
	TouchOnTelemetry(ctx context.Context, deviceID string) error
}

// MetricAppender records telemetry samples
type MetricAppender interface {
	Append(ctx context.Context, deviceID string, payload map[string]interface{}, raw []byte) (*models.MetricSample, error)
}

// CommandHandler answers device commands
type CommandHandler interface {
	Handle(ctx context.Context, payload map[string]interface{}, fallbackDeviceID, source string) (*service.CommandResponse, error)
}

// Enqueuer accepts messages for asynchronous processing
type Enqueuer interface {
	Enqueue(msg *Message) error
}

// Topics lists the subscription filters for each message kind
type Topics struct {
	Uplink  string
	Status  string
	Command string
}

// Router turns raw bus messages into device store, metrics log and command
// correlator calls.
type Router struct {
	devices  DeviceWriter
	metrics  MetricAppender
	commands CommandHandler
	log      *logrus.Logger
}

// NewRouter creates a router over the core components
func NewRouter(devices DeviceWriter, metrics MetricAppender, commands CommandHandler, log *logrus.Logger) *Router {
	return &Router{
		devices:  devices,
		metrics:  metrics,
		commands: commands,
		log:      log,
	}
}

// Start subscribes every topic filter and hands each inbound message to queue.
// Messages the queue cannot take are dropped with a warning.
func (r *Router) Start(sub messaging.Subscriber, queue Enqueuer, topics Topics) error {
	filters := []struct {
		kind   Kind
		filter string
	}{
		{KindUplink, topics.Uplink},
		{KindStatus, topics.Status},
		{KindCommand, topics.Command},
	}

	for _, f := range filters {
		kind := f.kind
		handler := func(topic string, payload []byte) {
			msg := &Message{Kind: kind, Topic: topic, Payload: payload, Received: time.Now()}
			if err := queue.Enqueue(msg); err != nil {
				r.log.WithError(err).WithFields(logrus.Fields{
					"kind":  kind,
					"topic": topic,
				}).Warn("Failed to enqueue message")
			}
		}
		if err := sub.Subscribe(f.filter, handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", f.filter, err)
		}
		r.log.WithFields(logrus.Fields{"kind": kind, "filter": f.filter}).Debug("Registered subscription")
	}
	return nil
}

// Dispatch processes one message
func (r *Router) Dispatch(ctx context.Context, msg *Message) error {
	payload, err := Decode(msg.Topic, msg.Payload)
	if err != nil {
		return err
	}

	switch msg.Kind {
	case KindUplink:
		return r.handleUplink(ctx, msg, payload)
	case KindStatus:
		return r.handleStatus(ctx, msg, payload)
	case KindCommand:
		return r.handleCommand(ctx, msg, payload)
	default:
		return fmt.Errorf("unknown message kind %q", msg.Kind)
	}
}

func (r *Router) handleUplink(ctx context.Context, msg *Message, payload Payload) error {
	deviceID := ResolveDeviceID(msg.Topic, payload)
	if deviceID == "" {
		return ErrUnidentifiable
	}

	seg := tracing.StartSegment(ctx, "metrics.append")
	_, err := r.metrics.Append(ctx, deviceID, payload, msg.Payload)
	seg.End()
	if err != nil {
		return fmt.Errorf("append sample for %s: %w", deviceID, err)
	}

	if err := r.devices.TouchOnTelemetry(ctx, deviceID); err != nil {
		return fmt.Errorf("touch device %s: %w", deviceID, err)
	}
	return nil
}

func (r *Router) handleStatus(ctx context.Context, msg *Message, payload Payload) error {
	deviceID := ResolveDeviceID(msg.Topic, payload)
	if deviceID == "" {
		return ErrUnidentifiable
	}

	update := StatusFromPayload(payload)
	if err := r.devices.Upsert(ctx, deviceID, update); err != nil {
		return fmt.Errorf("update device %s: %w", deviceID, err)
	}

	r.log.WithFields(logrus.Fields{
		"device_id": deviceID,
		"topic":     msg.Topic,
	}).Debug("Device status updated")
	return nil
}

func (r *Router) handleCommand(ctx context.Context, msg *Message, payload Payload) error {
	_, err := r.commands.Handle(ctx, payload, TopicDeviceID(msg.Topic), service.SourceBus)
	return err
}
