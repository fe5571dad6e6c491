package repository

import (
	"context"
	"fmt"

	"example.com/backstage/waterweb/internal/models"

	"gorm.io/gorm/clause"
)

// DeviceUpsert describes one write to a device record. Nil hints leave the
// stored value untouched; Now is always written to last_seen and updated_at.
type DeviceUpsert struct {
	DeviceID       string
	Status         *models.DeviceStatus
	RuntimeSeconds *int64
	Now            string
}

// UpsertDevice inserts the device or merges the supplied columns into the
// existing row. The merge is a single INSERT ... ON CONFLICT statement, so two
// writers for the same device cannot interleave.
func (r *repo) UpsertDevice(ctx context.Context, upsert DeviceUpsert) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}

	row := models.Device{
		DeviceID:  upsert.DeviceID,
		Status:    models.StatusOffline,
		LastSeen:  upsert.Now,
		UpdatedAt: upsert.Now,
	}
	assignments := map[string]interface{}{
		"last_seen":  upsert.Now,
		"updated_at": upsert.Now,
	}
	if upsert.Status != nil {
		row.Status = *upsert.Status
		assignments["status"] = string(*upsert.Status)
	}
	if upsert.RuntimeSeconds != nil {
		row.RuntimeSeconds = *upsert.RuntimeSeconds
		assignments["runtime_seconds"] = *upsert.RuntimeSeconds
	}

	err = gormDB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("%w: device %s: %v", ErrCreateFailed, upsert.DeviceID, err)
	}
	return nil
}

func (r *repo) FindDeviceByID(ctx context.Context, deviceID string) (*models.Device, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var device models.Device
	if err := gormDB.WithContext(ctx).Where("device_id = ?", deviceID).First(&device).Error; err != nil {
		return nil, translate(err)
	}

	return &device, nil
}

// ListDevices returns every device, most recently updated first
func (r *repo) ListDevices(ctx context.Context) ([]*models.Device, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var devices []*models.Device
	if err := gormDB.WithContext(ctx).Order("updated_at DESC").Order("device_id ASC").Find(&devices).Error; err != nil {
		return nil, err
	}

	return devices, nil
}
