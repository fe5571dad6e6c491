package service

import (
	"context"
	"fmt"
	"time"

	"example.com/backstage/waterweb/internal/messaging"
	"example.com/backstage/waterweb/internal/models"
	"example.com/backstage/waterweb/internal/repository"

	"github.com/sirupsen/logrus"
)

// MetricQuery selects samples. Start and End are inclusive bounds.
type MetricQuery struct {
	DeviceID string
	Start    string
	End      string
	Limit    int
}

// MetricsLog is the append-only store of telemetry samples
type MetricsLog interface {
	Append(ctx context.Context, deviceID string, payload map[string]interface{}, raw []byte) (*models.MetricSample, error)
	Query(ctx context.Context, query MetricQuery) ([]*models.MetricSample, error)
	Latest(ctx context.Context, deviceID string, count int) ([]*models.MetricSample, error)
}

type metricsLog struct {
	repo   repository.Repository
	events messaging.ServiceBusClient
	log    *logrus.Logger
	now    func() time.Time
}

func newMetricsLog(cfg ServiceConfig) *metricsLog {
	return &metricsLog{
		repo:   cfg.Repository,
		events: cfg.Events,
		log:    cfg.Logger,
		now:    cfg.Clock,
	}
}

// Append stores one sample. Samples without a device id are dropped and a
// nil sample is returned with no error.
func (m *metricsLog) Append(ctx context.Context, deviceID string, payload map[string]interface{}, raw []byte) (*models.MetricSample, error) {
	if deviceID == "" {
		m.log.Debug("Dropping telemetry sample without device id")
		return nil, nil
	}

	sample := &models.MetricSample{
		DeviceID:  deviceID,
		RawJSON:   string(raw),
		CreatedAt: models.FormatTimestamp(m.now()),
	}
	ExtractMetrics(sample, payload)

	if err := m.repo.CreateMetricSample(ctx, sample); err != nil {
		return nil, fmt.Errorf("save metric sample for %s: %w", deviceID, err)
	}

	event := messaging.Event{Type: messaging.EventMetricSample, DeviceID: deviceID, Data: sample}
	if err := m.events.SendMessage(ctx, event, deviceID); err != nil {
		m.log.WithError(err).Warnf("Failed to forward metric sample: %s", deviceID)
	}

	return sample, nil
}

// Query returns samples newest first, at most MaxListLimit rows
func (m *metricsLog) Query(ctx context.Context, query MetricQuery) ([]*models.MetricSample, error) {
	return m.repo.ListMetricSamples(ctx, repository.MetricFilter{
		DeviceID: query.DeviceID,
		Start:    normalizeBound(query.Start),
		End:      normalizeBound(query.End),
		Limit:    clampLimit(query.Limit, MaxListLimit),
	})
}

// Latest returns the newest count samples, 10 when count is not positive
func (m *metricsLog) Latest(ctx context.Context, deviceID string, count int) ([]*models.MetricSample, error) {
	return m.repo.ListMetricSamples(ctx, repository.MetricFilter{
		DeviceID: deviceID,
		Limit:    clampLimit(count, DefaultLatestCount),
	})
}

// normalizeBound rewrites a parseable timestamp into the stored layout so
// string comparison matches time order. Anything else is compared verbatim.
func normalizeBound(bound string) string {
	if bound == "" {
		return ""
	}
	t, err := models.ParseTimestamp(bound)
	if err != nil {
		return bound
	}
	return models.FormatTimestamp(t)
}
