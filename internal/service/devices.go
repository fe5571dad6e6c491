package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"example.com/backstage/waterweb/internal/cache"
	"example.com/backstage/waterweb/internal/models"
	"example.com/backstage/waterweb/internal/repository"

	"github.com/sirupsen/logrus"
)

// StatusUpdate carries the optional hints of a status message
type StatusUpdate struct {
	Status         *models.DeviceStatus
	RuntimeSeconds *int64
}

// DeviceState is a device record as readers see it. Status is derived from
// last_seen at read time; ReportedStatus is what the device last wrote.
type DeviceState struct {
	DeviceID       string              `json:"device_id"`
	Status         models.DeviceStatus `json:"status"`
	Online         bool                `json:"online"`
	ReportedStatus models.DeviceStatus `json:"reported_status"`
	RuntimeSeconds int64               `json:"runtime_seconds"`
	LastSeen       string              `json:"last_seen"`
	UpdatedAt      string              `json:"updated_at"`
}

// DeviceStore keeps one liveness record per device
type DeviceStore interface {
	Upsert(ctx context.Context, deviceID string, update StatusUpdate) error
	TouchOnTelemetry(ctx context.Context, deviceID string) error
	List(ctx context.Context) ([]DeviceState, error)
	Get(ctx context.Context, deviceID string) (*DeviceState, error)
}

type deviceStore struct {
	repo      repository.Repository
	cache     cache.RedisClient
	log       *logrus.Logger
	threshold time.Duration
	cacheTTL  time.Duration
	now       func() time.Time

	// writes counts committed writes per device. A cache fill is skipped when
	// a write landed between the store read and the fill.
	mu     sync.Mutex
	writes map[string]uint64
}

func newDeviceStore(cfg ServiceConfig) *deviceStore {
	return &deviceStore{
		repo:      cfg.Repository,
		cache:     cfg.Cache,
		log:       cfg.Logger,
		threshold: cfg.StaleThreshold,
		cacheTTL:  cfg.CacheTTL,
		now:       cfg.Clock,
		writes:    make(map[string]uint64),
	}
}

func (s *deviceStore) generation(deviceID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[deviceID]
}

func deviceCacheKey(deviceID string) string {
	return fmt.Sprintf("device:%s", deviceID)
}

// Upsert creates the device or merges the supplied hints into it
func (s *deviceStore) Upsert(ctx context.Context, deviceID string, update StatusUpdate) error {
	return s.write(ctx, repository.DeviceUpsert{
		DeviceID:       deviceID,
		Status:         update.Status,
		RuntimeSeconds: update.RuntimeSeconds,
	})
}

// TouchOnTelemetry creates the device if needed and refreshes last_seen and
// updated_at. Status and runtime are left alone.
func (s *deviceStore) TouchOnTelemetry(ctx context.Context, deviceID string) error {
	return s.write(ctx, repository.DeviceUpsert{DeviceID: deviceID})
}

func (s *deviceStore) write(ctx context.Context, upsert repository.DeviceUpsert) error {
	if upsert.DeviceID == "" {
		return fmt.Errorf("device id is required")
	}
	upsert.Now = models.FormatTimestamp(s.now())

	if err := s.repo.UpsertDevice(ctx, upsert); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes[upsert.DeviceID]++
	if err := s.cache.Delete(ctx, deviceCacheKey(upsert.DeviceID)); err != nil {
		s.log.WithError(err).Warnf("Failed to invalidate device cache: %s", upsert.DeviceID)
	}
	return nil
}

// List returns every device, most recently updated first, with liveness
// computed against a single instant.
func (s *deviceStore) List(ctx context.Context) ([]DeviceState, error) {
	devices, err := s.repo.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	states := make([]DeviceState, 0, len(devices))
	for _, device := range devices {
		states = append(states, deriveState(device, now, s.threshold))
	}
	return states, nil
}

// Get returns a single device. The stored record may come from the cache but
// liveness is always computed now.
func (s *deviceStore) Get(ctx context.Context, deviceID string) (*DeviceState, error) {
	key := deviceCacheKey(deviceID)

	if cached, err := s.cache.Get(ctx, key); err == nil {
		var device models.Device
		if err := json.Unmarshal([]byte(cached), &device); err == nil {
			state := deriveState(&device, s.now(), s.threshold)
			return &state, nil
		}
	} else if !cache.IsMiss(err) {
		s.log.WithError(err).Debugf("Device cache read failed: %s", deviceID)
	}

	seen := s.generation(deviceID)
	device, err := s.repo.FindDeviceByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	s.fill(ctx, key, device, seen)

	state := deriveState(device, s.now(), s.threshold)
	return &state, nil
}

// fill caches device unless it was written since seen. The check and the Set
// share the lock write holds around its invalidation, so an older row can
// never land after the delete.
func (s *deviceStore) fill(ctx context.Context, key string, device *models.Device, seen uint64) {
	data, err := json.Marshal(device)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writes[device.DeviceID] != seen {
		return
	}
	if err := s.cache.Set(ctx, key, string(data), s.cacheTTL); err != nil {
		s.log.WithError(err).Debugf("Failed to cache device: %s", device.DeviceID)
	}
}

// deriveState computes effective liveness. A record with no parseable
// last_seen is offline.
func deriveState(device *models.Device, now time.Time, threshold time.Duration) DeviceState {
	online := false
	if device.LastSeen != "" {
		if lastSeen, err := models.ParseTimestamp(device.LastSeen); err == nil {
			online = now.Sub(lastSeen) <= threshold
		}
	}

	status := models.StatusOffline
	if online {
		status = models.StatusOnline
	}

	return DeviceState{
		DeviceID:       device.DeviceID,
		Status:         status,
		Online:         online,
		ReportedStatus: device.Status,
		RuntimeSeconds: device.RuntimeSeconds,
		LastSeen:       device.LastSeen,
		UpdatedAt:      device.UpdatedAt,
	}
}
