package service

import (
	"errors"
	"time"

	"example.com/backstage/waterweb/internal/cache"
	"example.com/backstage/waterweb/internal/messaging"
	"example.com/backstage/waterweb/internal/repository"

	"github.com/sirupsen/logrus"
)

const (
	// MaxListLimit caps every listing regardless of what the caller asks for
	MaxListLimit = 100
	// DefaultStaleThreshold is how long a device stays online after its last message
	DefaultStaleThreshold = 180 * time.Second
	// DefaultDownlinkTemplate is where command replies are published
	DefaultDownlinkTemplate = "devices/{device_id}/down"
	// DefaultLatestCount is the sample count handed to analysis consumers
	DefaultLatestCount = 10
)

// ServiceConfig holds the dependencies shared by the core components
type ServiceConfig struct {
	Repository       repository.Repository
	Cache            cache.RedisClient
	Events           messaging.ServiceBusClient
	Downlink         messaging.Publisher
	Logger           *logrus.Logger
	StaleThreshold   time.Duration
	DownlinkTemplate string
	CacheTTL         time.Duration
	Clock            func() time.Time
}

// Services groups the device store, the metrics log and the command correlator
type Services struct {
	Devices  DeviceStore
	Metrics  MetricsLog
	Commands CommandCorrelator
}

// NewService validates the configuration and wires the core components
func NewService(cfg ServiceConfig) (*Services, error) {
	if cfg.Repository == nil {
		return nil, errors.New("repository is required")
	}
	if cfg.Downlink == nil {
		return nil, errors.New("downlink publisher is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NoopClient{}
	}
	if cfg.Events == nil {
		return nil, errors.New("event client is required")
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = DefaultStaleThreshold
	}
	if cfg.DownlinkTemplate == "" {
		cfg.DownlinkTemplate = DefaultDownlinkTemplate
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Services{
		Devices:  newDeviceStore(cfg),
		Metrics:  newMetricsLog(cfg),
		Commands: newCommandCorrelator(cfg),
	}, nil
}
