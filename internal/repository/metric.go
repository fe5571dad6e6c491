package repository

import (
	"context"

	"example.com/backstage/waterweb/internal/models"
)

// MetricFilter narrows a metric sample listing. Empty strings are ignored;
// Start and End are inclusive and compared as canonical timestamp strings.
type MetricFilter struct {
	DeviceID string
	Start    string
	End      string
	Limit    int
}

func (r *repo) CreateMetricSample(ctx context.Context, sample *models.MetricSample) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Create(sample).Error
}

// ListMetricSamples returns samples newest first
func (r *repo) ListMetricSamples(ctx context.Context, filter MetricFilter) ([]*models.MetricSample, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	query := gormDB.WithContext(ctx).Model(&models.MetricSample{})
	if filter.DeviceID != "" {
		query = query.Where("device_id = ?", filter.DeviceID)
	}
	if filter.Start != "" {
		query = query.Where("created_at >= ?", filter.Start)
	}
	if filter.End != "" {
		query = query.Where("created_at <= ?", filter.End)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var samples []*models.MetricSample
	if err := query.Order("created_at DESC").Order("id DESC").Find(&samples).Error; err != nil {
		return nil, err
	}

	return samples, nil
}
