package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"example.com/backstage/waterweb/internal/messaging"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func decodePayload(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var payload map[string]interface{}
	require.NoError(t, dec.Decode(&payload))
	return payload
}

func TestAppendStoresExtractedFieldsAndRawPayload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	raw := `{"id":"7","params":{"TDS":{"value":120.5},"pH":{"value":7.1},"Tur":{"value":"0.8"}},"air_temp":21}`
	sample, err := env.services.Metrics.Append(ctx, "dev1", decodePayload(t, raw), []byte(raw))
	require.NoError(t, err)
	require.NotNil(t, sample)
	require.NotZero(t, sample.ID)

	samples, err := env.services.Metrics.Query(ctx, MetricQuery{DeviceID: "dev1"})
	require.NoError(t, err)
	require.Len(t, samples, 1)

	stored := samples[0]
	require.Equal(t, raw, stored.RawJSON)
	require.Equal(t, "2024-06-01T08:00:00.000Z", stored.CreatedAt)
	require.InDelta(t, 120.5, *stored.TDS, 1e-9)
	require.InDelta(t, 7.1, *stored.PH, 1e-9)
	require.InDelta(t, 0.8, *stored.Tur, 1e-9)
	require.InDelta(t, 21, *stored.AirTemp, 1e-9)
	require.Nil(t, stored.COD)
	require.Nil(t, stored.Altitude)

	env.events.AssertCalled(t, "SendMessage", mock.Anything, mock.MatchedBy(func(e messaging.Event) bool {
		return e.Type == messaging.EventMetricSample && e.DeviceID == "dev1"
	}), "dev1")
}

func TestAppendWithoutDeviceIDIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sample, err := env.services.Metrics.Append(ctx, "", map[string]interface{}{"TDS": 1.0}, []byte(`{"TDS":1}`))
	require.NoError(t, err)
	require.Nil(t, sample)

	samples, err := env.services.Metrics.Query(ctx, MetricQuery{})
	require.NoError(t, err)
	require.Empty(t, samples)
	env.events.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestAppendSurvivesForwardingFailure(t *testing.T) {
	events := new(MockEventClient)
	events.On("SendMessage", mock.Anything, mock.Anything, "dev1").Return(errors.New("queue unavailable")).Once()

	services, err := NewService(ServiceConfig{
		Repository: newTestRepository(t),
		Events:     events,
		Downlink:   &fakePublisher{},
		Logger:     quietLogger(),
	})
	require.NoError(t, err)

	sample, err := services.Metrics.Append(context.Background(), "dev1", map[string]interface{}{}, []byte(`{}`))
	require.NoError(t, err)
	require.NotNil(t, sample)
	events.AssertExpectations(t)
}

func TestQueryClampsLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 120; i++ {
		_, err := env.services.Metrics.Append(ctx, "dev1", map[string]interface{}{}, []byte(`{}`))
		require.NoError(t, err)
		env.clock.Advance(time.Second)
	}

	samples, err := env.services.Metrics.Query(ctx, MetricQuery{Limit: 100000})
	require.NoError(t, err)
	require.Len(t, samples, 100)
	require.Greater(t, samples[0].CreatedAt, samples[99].CreatedAt)

	samples, err = env.services.Metrics.Query(ctx, MetricQuery{})
	require.NoError(t, err)
	require.Len(t, samples, 100)

	latest, err := env.services.Metrics.Latest(ctx, "dev1", 0)
	require.NoError(t, err)
	require.Len(t, latest, 10)
	require.Equal(t, samples[0].ID, latest[0].ID)
}

func TestQueryTimeWindowIsInclusive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := env.services.Metrics.Append(ctx, "dev1", map[string]interface{}{}, []byte(`{}`))
		require.NoError(t, err)
		env.clock.Advance(time.Minute)
	}

	samples, err := env.services.Metrics.Query(ctx, MetricQuery{
		Start: "2024-06-01T08:01:00.000Z",
		End:   "2024-06-01T08:03:00.000Z",
	})
	require.NoError(t, err)
	require.Len(t, samples, 3)

	// RFC3339 bounds without milliseconds are normalized first
	samples, err = env.services.Metrics.Query(ctx, MetricQuery{
		Start: "2024-06-01T08:01:00Z",
		End:   "2024-06-01T10:03:00+02:00",
	})
	require.NoError(t, err)
	require.Len(t, samples, 3)
}

func TestNormalizeBound(t *testing.T) {
	require.Equal(t, "", normalizeBound(""))
	require.Equal(t, "2024-06-01T08:01:00.000Z", normalizeBound("2024-06-01T08:01:00Z"))
	require.Equal(t, "2024-06", normalizeBound("2024-06"))
}
