package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	seen   map[string][]string
	block  chan struct{}
	result func(msg *Message) error
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{seen: make(map[string][]string)}
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, msg *Message) error {
	if d.block != nil {
		<-d.block
	}
	d.mu.Lock()
	d.seen[msg.Topic] = append(d.seen[msg.Topic], string(msg.Payload))
	d.mu.Unlock()
	if d.result != nil {
		return d.result(msg)
	}
	return nil
}

func (d *recordingDispatcher) payloads(topic string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.seen[topic]...)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestProcessorKeepsPerDeviceOrder(t *testing.T) {
	dispatcher := newRecordingDispatcher()
	p := NewProcessor(dispatcher, quietLogger(), ProcessorConfig{Workers: 4, QueueSize: 400})

	devices := []string{"dev1", "dev2", "dev3"}
	for i := 0; i < 50; i++ {
		for _, id := range devices {
			require.NoError(t, p.Enqueue(&Message{Kind: KindUplink, Topic: "devices/" + id + "/up", Payload: []byte(fmt.Sprint(i))}))
		}
	}
	p.Stop()

	for _, id := range devices {
		got := dispatcher.payloads("devices/" + id + "/up")
		require.Len(t, got, 50)
		for i, payload := range got {
			assert.Equal(t, fmt.Sprint(i), payload)
		}
	}
	stats := p.QueueStats()
	assert.Equal(t, int64(150), stats["processed"])
	assert.Equal(t, int64(0), stats["failed"])
	assert.Equal(t, 4, stats["worker_count"])
}

func TestProcessorSurvivesErrorsAndPanics(t *testing.T) {
	dispatcher := newRecordingDispatcher()
	dispatcher.result = func(msg *Message) error {
		switch string(msg.Payload) {
		case "fail":
			return errors.New("boom")
		case "panic":
			panic("unexpected payload")
		}
		return nil
	}
	p := NewProcessor(dispatcher, quietLogger(), ProcessorConfig{Workers: 1, QueueSize: 10})

	for _, payload := range []string{"ok", "fail", "panic", "ok"} {
		require.NoError(t, p.Enqueue(&Message{Kind: KindStatus, Topic: "devices/dev1/status", Payload: []byte(payload)}))
	}
	p.Stop()

	assert.Equal(t, []string{"ok", "fail", "panic", "ok"}, dispatcher.payloads("devices/dev1/status"))
	stats := p.QueueStats()
	assert.Equal(t, int64(2), stats["processed"])
	assert.Equal(t, int64(2), stats["failed"])
}

func TestProcessorDropsWhenFull(t *testing.T) {
	dispatcher := newRecordingDispatcher()
	dispatcher.block = make(chan struct{})
	p := NewProcessor(dispatcher, quietLogger(), ProcessorConfig{Workers: 1, QueueSize: 1})

	msg := func() *Message {
		return &Message{Kind: KindUplink, Topic: "devices/dev1/up", Payload: []byte("{}")}
	}

	// the first message is picked up by the worker and blocks it
	require.NoError(t, p.Enqueue(msg()))
	require.Eventually(t, func() bool {
		return p.QueueStats()["queue_length"] == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Enqueue(msg()))
	require.ErrorIs(t, p.Enqueue(msg()), ErrQueueFull)
	assert.Equal(t, int64(1), p.QueueStats()["dropped"])

	close(dispatcher.block)
	p.Stop()

	assert.Len(t, dispatcher.payloads("devices/dev1/up"), 2)
	require.ErrorIs(t, p.Enqueue(msg()), ErrProcessorStopped)
	p.Stop()
}

func TestShardForIsStablePerDevice(t *testing.T) {
	p := NewProcessor(newRecordingDispatcher(), quietLogger(), ProcessorConfig{Workers: 8, QueueSize: 80})
	defer p.Stop()

	assert.Equal(t, p.shardFor("devices/dev1/up"), p.shardFor("devices/dev1/status"))
	assert.Equal(t, p.shardFor("devices/dev1/up"), p.shardFor("devices/dev1/command"))
	assert.Equal(t, p.shardFor("telemetry"), p.shardFor("telemetry"))
}

func TestQueueDelay(t *testing.T) {
	received := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	assert.Equal(t, 250*time.Millisecond, queueDelay(&Message{Received: received}, received.Add(250*time.Millisecond)))
	assert.Zero(t, queueDelay(&Message{}, received))
	assert.Zero(t, queueDelay(&Message{Received: received}, received.Add(-time.Second)))
}

func TestFailedMessageLogIncludesQueueTime(t *testing.T) {
	log, hook := test.NewNullLogger()
	dispatcher := newRecordingDispatcher()
	dispatcher.result = func(msg *Message) error { return errors.New("boom") }
	p := NewProcessor(dispatcher, log, ProcessorConfig{Workers: 1, QueueSize: 1})

	require.NoError(t, p.Enqueue(&Message{
		Kind:     KindUplink,
		Topic:    "devices/dev1/up",
		Payload:  []byte(`{}`),
		Received: time.Now().Add(-2 * time.Second),
	}))
	p.Stop()

	var dropped *logrus.Entry
	for _, entry := range hook.AllEntries() {
		if entry.Message == "Message dropped" {
			dropped = entry
		}
	}
	require.NotNil(t, dropped)
	assert.GreaterOrEqual(t, dropped.Data["queue_ms"], int64(2000))
	assert.Equal(t, "devices/dev1/up", dropped.Data["topic"])
}
