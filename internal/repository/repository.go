package repository

import (
	"context"

	"example.com/backstage/waterweb/internal/database"
	"example.com/backstage/waterweb/internal/models"

	"gorm.io/gorm"
)

// Repository provides data access methods
type Repository interface {
	// Transaction support
	WithTransaction(ctx context.Context, fn func(ctx context.Context, txRepo Repository) error) error

	// Device operations
	UpsertDevice(ctx context.Context, upsert DeviceUpsert) error
	FindDeviceByID(ctx context.Context, deviceID string) (*models.Device, error)
	ListDevices(ctx context.Context) ([]*models.Device, error)

	// Metric sample operations
	CreateMetricSample(ctx context.Context, sample *models.MetricSample) error
	ListMetricSamples(ctx context.Context, filter MetricFilter) ([]*models.MetricSample, error)

	// Command audit operations
	CreateCommandRecord(ctx context.Context, record *models.CommandRecord) error
	ListCommandRecords(ctx context.Context, filter CommandFilter) ([]*models.CommandRecord, error)

	// Administrative operations
	ClearAll(ctx context.Context) (*ClearResult, error)
}

// repo is an implementation of the Repository interface
type repo struct {
	db database.DB
}

// Helper type for transaction support
type dbWrapper struct {
	db *gorm.DB
}

func (w *dbWrapper) DB() (*gorm.DB, error) {
	return w.db, nil
}

func (w *dbWrapper) Close() error {
	return nil
}

// NewRepository creates a new repository instance
func NewRepository(db database.DB) Repository {
	return &repo{
		db: db,
	}
}

// WithTransaction executes the given function within a database transaction
func (r *repo) WithTransaction(ctx context.Context, fn func(ctx context.Context, txRepo Repository) error) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := &repo{
			db: &dbWrapper{db: tx},
		}
		return fn(ctx, txRepo)
	})
}

// ClearResult reports how many rows the bulk clear removed per table
type ClearResult struct {
	Devices  int64 `json:"devices"`
	Metrics  int64 `json:"metrics"`
	Commands int64 `json:"commands"`
}

// ClearAll deletes every device, metric sample and command record in one
// transaction and resets sqlite autoincrement counters.
func (r *repo) ClearAll(ctx context.Context) (*ClearResult, error) {
	result := &ClearResult{}

	err := r.WithTransaction(ctx, func(ctx context.Context, txRepo Repository) error {
		gormDB, err := txRepo.(*repo).db.DB()
		if err != nil {
			return err
		}
		all := gormDB.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true})

		res := all.Delete(&models.MetricSample{})
		if res.Error != nil {
			return res.Error
		}
		result.Metrics = res.RowsAffected

		res = all.Delete(&models.Device{})
		if res.Error != nil {
			return res.Error
		}
		result.Devices = res.RowsAffected

		res = all.Delete(&models.CommandRecord{})
		if res.Error != nil {
			return res.Error
		}
		result.Commands = res.RowsAffected

		if gormDB.Dialector.Name() == "sqlite" && gormDB.Migrator().HasTable("sqlite_sequence") {
			return all.Exec("DELETE FROM sqlite_sequence WHERE name IN (?, ?)", "water_quality", "commands").Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
