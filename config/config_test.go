package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	setDefaults()

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 3000, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "./data/water_quality.db", cfg.Database.Path)
	require.Equal(t, "devices/+/up", cfg.MQTT.UplinkTopic)
	require.Equal(t, "devices/+/status", cfg.MQTT.StatusTopic)
	require.Equal(t, "devices/+/command", cfg.MQTT.CommandTopic)
	require.Equal(t, "devices/{device_id}/down", cfg.MQTT.DownlinkTemplate)
	require.Equal(t, byte(1), cfg.MQTT.QoS)
	require.Equal(t, 3*time.Second, cfg.MQTT.ReconnectInterval)
	require.Equal(t, 180*time.Second, cfg.Devices.StaleThreshold)
	require.Equal(t, 10000, cfg.Ingest.QueueSize)
	require.False(t, cfg.Redis.Enabled)
}

func TestLoadEnvOverride(t *testing.T) {
	viper.Reset()
	t.Setenv("WATERWEB_MQTT_URL", "mqtt://broker.internal:1884")
	t.Setenv("WATERWEB_DEVICES_STALETHRESHOLD", "2m")
	setDefaults()
	bindEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "mqtt://broker.internal:1884", cfg.MQTT.URL)
	require.Equal(t, 2*time.Minute, cfg.Devices.StaleThreshold)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	viper.Reset()
	setDefaults()
	viper.Set("database.driver", "mysql")

	_, err := Load()
	require.Error(t, err)
}
