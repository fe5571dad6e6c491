package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"example.com/backstage/waterweb/internal/tracing"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"
)

// ErrQueueFull is returned when a shard has no room for another message
var ErrQueueFull = errors.New("message queue is full")

// ErrProcessorStopped is returned after Stop
var ErrProcessorStopped = errors.New("message processor stopped")

// Kind tells which subscription a message arrived on
type Kind string

const (
	KindUplink  Kind = "uplink"
	KindStatus  Kind = "status"
	KindCommand Kind = "command"
)

// Message is one raw inbound bus message
type Message struct {
	Kind     Kind
	Topic    string
	Payload  []byte
	Received time.Time
}

// Dispatcher handles a single message
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *Message) error
}

// ProcessorConfig sizes the worker pool
type ProcessorConfig struct {
	Workers        int
	QueueSize      int
	MessageTimeout time.Duration
	NewRelic       *newrelic.Application
}

// Processor runs messages on a fixed set of workers. Each worker owns one
// queue and messages are routed by device, so one device is handled in order
// while different devices run in parallel.
type Processor struct {
	dispatcher Dispatcher
	log        *logrus.Logger
	nrApp      *newrelic.Application
	timeout    time.Duration

	shards []chan *Message
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	stopMonitor                 chan struct{}
	queueCapacityAlertThreshold float64
}

// NewProcessor creates the pool and starts its workers
func NewProcessor(dispatcher Dispatcher, log *logrus.Logger, cfg ProcessorConfig) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < cfg.Workers {
		cfg.QueueSize = cfg.Workers
	}
	if cfg.MessageTimeout <= 0 {
		cfg.MessageTimeout = 30 * time.Second
	}

	p := &Processor{
		dispatcher:                  dispatcher,
		log:                         log,
		nrApp:                       cfg.NewRelic,
		timeout:                     cfg.MessageTimeout,
		shards:                      make([]chan *Message, cfg.Workers),
		stopMonitor:                 make(chan struct{}),
		queueCapacityAlertThreshold: 0.8,
	}
	perShard := cfg.QueueSize / cfg.Workers
	for i := range p.shards {
		p.shards[i] = make(chan *Message, perShard)
	}

	for i := range p.shards {
		p.wg.Add(1)
		go p.worker(i)
	}
	go p.monitorQueueCapacity()

	p.log.Infof("Started message processor with %d workers", cfg.Workers)
	return p
}

func (p *Processor) shardFor(topic string) int {
	key := TopicDeviceID(topic)
	if key == "" {
		key = topic
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.shards)))
}

// Enqueue hands a message to its device's worker without blocking
func (p *Processor) Enqueue(msg *Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrProcessorStopped
	}

	select {
	case p.shards[p.shardFor(msg.Topic)] <- msg:
		return nil
	default:
		p.dropped.Add(1)
		return ErrQueueFull
	}
}

func (p *Processor) worker(id int) {
	defer p.wg.Done()

	for msg := range p.shards[id] {
		start := time.Now()
		queued := queueDelay(msg, start)
		p.process(msg, queued)
		p.log.Debugf("Worker %d processed %s message in %v after %v in queue", id, msg.Kind, time.Since(start), queued)
	}
	p.log.Debugf("Worker %d shutting down", id)
}

// process runs one message to completion. Failures and panics are logged
// with the topic and raw payload and never stop the worker.
func (p *Processor) process(msg *Message, queued time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	ctx, txn := tracing.StartMessageTransaction(ctx, p.nrApp, string(msg.Kind), msg.Topic)
	defer txn.End()
	txn.AddAttribute("queue_ms", queued.Milliseconds())

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return p.dispatcher.Dispatch(ctx, msg)
	}()

	if err != nil {
		p.failed.Add(1)
		txn.NoticeError(err)
		p.log.WithError(err).WithFields(logrus.Fields{
			"kind":     msg.Kind,
			"topic":    msg.Topic,
			"payload":  string(msg.Payload),
			"queue_ms": queued.Milliseconds(),
		}).Warn("Message dropped")
		return
	}
	p.processed.Add(1)
}

// queueDelay is how long msg waited between arrival and pickup
func queueDelay(msg *Message, pickedUp time.Time) time.Duration {
	if msg.Received.IsZero() || pickedUp.Before(msg.Received) {
		return 0
	}
	return pickedUp.Sub(msg.Received)
}

func (p *Processor) monitorQueueCapacity() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopMonitor:
			return
		case <-ticker.C:
			queueLength, queueCapacity := p.queueUsage()
			usage := float64(queueLength) / float64(queueCapacity)

			if usage >= p.queueCapacityAlertThreshold {
				p.log.Warnf("Message queue at %d%% capacity (%d/%d)!", int(usage*100), queueLength, queueCapacity)
			}
		}
	}
}

func (p *Processor) queueUsage() (length, capacity int) {
	for _, shard := range p.shards {
		length += len(shard)
		capacity += cap(shard)
	}
	return length, capacity
}

// Stop rejects new messages, lets the workers drain what is queued and waits
// for them to finish.
func (p *Processor) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, shard := range p.shards {
		close(shard)
	}
	p.mu.Unlock()

	p.log.Info("Stopping message processor...")
	close(p.stopMonitor)
	p.wg.Wait()
	p.log.Info("Message processor stopped")
}

// QueueStats returns current queue statistics
func (p *Processor) QueueStats() map[string]interface{} {
	queueLength, queueCapacity := p.queueUsage()
	return map[string]interface{}{
		"queue_length":   queueLength,
		"queue_capacity": queueCapacity,
		"worker_count":   len(p.shards),
		"processed":      p.processed.Load(),
		"failed":         p.failed.Load(),
		"dropped":        p.dropped.Load(),
	}
}
