package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"example.com/backstage/waterweb/config"
	"example.com/backstage/waterweb/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is an interface for database operations
type DB interface {
	DB() (*gorm.DB, error)
	Close() error
}

// GormDatabase implements the DB interface for GORM
type GormDatabase struct {
	db *gorm.DB
}

// logAdapter writes gorm log lines through logrus at a fixed level
type logAdapter struct {
	log   *logrus.Logger
	level logrus.Level
}

func (a logAdapter) Printf(format string, args ...interface{}) {
	a.log.WithField("component", "gorm").Logf(a.level, format, args...)
}

// gormLogLevel maps the service log level onto gorm's. It also returns the
// logrus level gorm output is written at. database.debug forces SQL tracing
// at info.
func gormLogLevel(level logrus.Level, debug bool) (logger.LogLevel, logrus.Level) {
	switch {
	case debug:
		return logger.Info, logrus.InfoLevel
	case level >= logrus.DebugLevel:
		return logger.Info, logrus.DebugLevel
	case level >= logrus.WarnLevel:
		return logger.Warn, logrus.WarnLevel
	case level == logrus.ErrorLevel:
		return logger.Error, logrus.ErrorLevel
	default:
		return logger.Silent, logrus.ErrorLevel
	}
}

func newGormLogger(log *logrus.Logger, debug bool) logger.Interface {
	if log == nil {
		log = logrus.StandardLogger()
	}
	gormLevel, emitLevel := gormLogLevel(log.GetLevel(), debug)
	return logger.New(
		logAdapter{log: log, level: emitLevel},
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// Connect opens the configured database and sizes its connection pool. Gorm
// logs go through log at a level derived from log's own level.
func Connect(cfg config.DatabaseConfig, log *logrus.Logger) (DB, error) {
	gormCfg := &gorm.Config{
		Logger:                                   newGormLogger(log, cfg.Debug),
		DisableForeignKeyConstraintWhenMigrating: true,
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
		)
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
	case "sqlite", "":
		dsn, derr := sqliteDSN(cfg.Path)
		if derr != nil {
			return nil, derr
		}
		db, err = gorm.Open(sqlite.Open(dsn), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get DB instance: %w", err)
	}

	if cfg.Driver == "postgres" {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	} else {
		// sqlite allows one writer; a single connection also keeps :memory: alive
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	}

	return &GormDatabase{db: db}, nil
}

// sqliteDSN prepares the database file location and appends pragmas
func sqliteDSN(path string) (string, error) {
	if path == "" {
		path = "./data/water_quality.db"
	}
	memory := path == ":memory:" || strings.Contains(path, "mode=memory")
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=busy_timeout(5000)"
	if !memory {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	return dsn, nil
}

// DB returns the underlying gorm.DB instance
func (d *GormDatabase) DB() (*gorm.DB, error) {
	return d.db, nil
}

// Close closes the database connection
func (d *GormDatabase) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate creates or updates the devices, water_quality and commands tables
func AutoMigrate(db DB) error {
	gormDB, err := db.DB()
	if err != nil {
		return err
	}

	if err := gormDB.AutoMigrate(
		&models.Device{},
		&models.MetricSample{},
		&models.CommandRecord{},
	); err != nil {
		return fmt.Errorf("failed to migrate table structures: %w", err)
	}

	return nil
}
