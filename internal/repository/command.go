package repository

import (
	"context"

	"example.com/backstage/waterweb/internal/models"
)

// CommandFilter narrows a command audit listing
type CommandFilter struct {
	DeviceID string
	Limit    int
}

func (r *repo) CreateCommandRecord(ctx context.Context, record *models.CommandRecord) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Create(record).Error
}

func (r *repo) ListCommandRecords(ctx context.Context, filter CommandFilter) ([]*models.CommandRecord, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	query := gormDB.WithContext(ctx).Model(&models.CommandRecord{})
	if filter.DeviceID != "" {
		query = query.Where("device_id = ?", filter.DeviceID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var records []*models.CommandRecord
	if err := query.Order("created_at DESC").Order("id DESC").Find(&records).Error; err != nil {
		return nil, err
	}

	return records, nil
}
