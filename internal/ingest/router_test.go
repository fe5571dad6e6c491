package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"example.com/backstage/waterweb/config"
	"example.com/backstage/waterweb/internal/database"
	"example.com/backstage/waterweb/internal/messaging"
	"example.com/backstage/waterweb/internal/models"
	"example.com/backstage/waterweb/internal/repository"
	"example.com/backstage/waterweb/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *capturePublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

type fakeSubscriber struct {
	handlers map[string]messaging.Handler
}

func (s *fakeSubscriber) Subscribe(filter string, handler messaging.Handler) error {
	s.handlers[filter] = handler
	return nil
}

type sliceQueue struct {
	msgs []*Message
}

func (q *sliceQueue) Enqueue(msg *Message) error {
	q.msgs = append(q.msgs, msg)
	return nil
}

type routerEnv struct {
	repo      repository.Repository
	services  *service.Services
	publisher *capturePublisher
	router    *Router
}

func newRouterEnv(t *testing.T) *routerEnv {
	t.Helper()
	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"}, nil)
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() { _ = db.Close() })

	log := quietLogger()
	events, err := messaging.NewServiceBusClient(config.ServiceBusConfig{}, "test", log)
	require.NoError(t, err)

	env := &routerEnv{
		repo:      repository.NewRepository(db),
		publisher: &capturePublisher{},
	}
	env.services, err = service.NewService(service.ServiceConfig{
		Repository: env.repo,
		Events:     events,
		Downlink:   env.publisher,
		Logger:     log,
	})
	require.NoError(t, err)
	env.router = NewRouter(env.services.Devices, env.services.Metrics, env.services.Commands, log)
	return env
}

func (e *routerEnv) dispatch(t *testing.T, kind Kind, topic, payload string) error {
	t.Helper()
	return e.router.Dispatch(context.Background(), &Message{Kind: kind, Topic: topic, Payload: []byte(payload), Received: time.Now()})
}

func TestUplinkAppendsSampleAndTouchesDevice(t *testing.T) {
	env := newRouterEnv(t)
	ctx := context.Background()

	raw := `{"params":{"TDS":{"value":88}}}`
	require.NoError(t, env.dispatch(t, KindUplink, "devices/dev1/up", raw))

	samples, err := env.services.Metrics.Query(ctx, service.MetricQuery{DeviceID: "dev1"})
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, raw, samples[0].RawJSON)
	assert.Equal(t, 88.0, *samples[0].TDS)

	state, err := env.services.Devices.Get(ctx, "dev1")
	require.NoError(t, err)
	assert.True(t, state.Online)
	assert.Equal(t, models.StatusOffline, state.ReportedStatus)
}

func TestUplinkWithoutIdentifierChangesNothing(t *testing.T) {
	env := newRouterEnv(t)
	ctx := context.Background()

	err := env.dispatch(t, KindUplink, "telemetry", `{"TDS":5}`)
	require.ErrorIs(t, err, ErrUnidentifiable)

	samples, err := env.services.Metrics.Query(ctx, service.MetricQuery{})
	require.NoError(t, err)
	assert.Empty(t, samples)

	devices, err := env.services.Devices.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestMalformedPayloadIsRejected(t *testing.T) {
	env := newRouterEnv(t)

	err := env.dispatch(t, KindStatus, "devices/dev1/status", `{"online":`)
	var failure *DecodeFailure
	require.ErrorAs(t, err, &failure)

	devices, err := env.services.Devices.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestStatusMergesHints(t *testing.T) {
	env := newRouterEnv(t)
	ctx := context.Background()

	require.NoError(t, env.dispatch(t, KindStatus, "devices/dev1/status", `{"status":"online","runtime_seconds":300}`))
	require.NoError(t, env.dispatch(t, KindStatus, "devices/dev1/status", `{"online":false}`))

	device, err := env.repo.FindDeviceByID(ctx, "dev1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, device.Status)
	assert.Equal(t, int64(300), device.RuntimeSeconds)

	require.ErrorIs(t, env.dispatch(t, KindStatus, "status", `{"online":true}`), ErrUnidentifiable)
}

func TestCommandFromBusUsesTopicDevice(t *testing.T) {
	env := newRouterEnv(t)

	require.NoError(t, env.dispatch(t, KindCommand, "devices/dev7/command", `{"command":"time"}`))
	assert.Equal(t, []string{"devices/dev7/down"}, env.publisher.topics)

	err := env.dispatch(t, KindCommand, "devices/dev7/command", `{"command":"reboot"}`)
	require.ErrorIs(t, err, service.ErrUnsupportedCommand)

	views, err := env.services.Commands.List(context.Background(), service.CommandQuery{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "dev7", views[0].DeviceID)
}

func TestStartSubscribesAndEnqueues(t *testing.T) {
	env := newRouterEnv(t)
	sub := &fakeSubscriber{handlers: make(map[string]messaging.Handler)}
	queue := &sliceQueue{}

	require.NoError(t, env.router.Start(sub, queue, Topics{
		Uplink:  "devices/+/up",
		Status:  "devices/+/status",
		Command: "devices/+/command",
	}))
	require.Len(t, sub.handlers, 3)

	sub.handlers["devices/+/status"]("devices/dev1/status", []byte(`{"online":true}`))
	sub.handlers["devices/+/up"]("devices/dev1/up", []byte(`{}`))
	sub.handlers["devices/+/command"]("devices/dev1/command", []byte(`{"command":"time"}`))

	require.Len(t, queue.msgs, 3)
	assert.Equal(t, KindStatus, queue.msgs[0].Kind)
	assert.Equal(t, KindUplink, queue.msgs[1].Kind)
	assert.Equal(t, KindCommand, queue.msgs[2].Kind)
	assert.Equal(t, "devices/dev1/up", queue.msgs[1].Topic)
}
