package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the service configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	ServiceBus ServiceBusConfig
	NewRelic   NewRelicConfig
	MQTT       MQTTConfig
	Ingest     IngestConfig
	Devices    DevicesConfig
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Port int
	Mode string // debug, release, test
}

// DatabaseConfig holds the database configuration.
// Driver selects between the embedded sqlite file and a postgres server.
type DatabaseConfig struct {
	Driver   string // sqlite, postgres
	Path     string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	Debug    bool
}

// RedisConfig holds the Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

// ServiceBusConfig holds the Azure Service Bus configuration
type ServiceBusConfig struct {
	ConnectionString string
	QueueName        string
}

// NewRelicConfig holds the New Relic configuration
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// MQTTConfig holds the broker connection and topic layout
type MQTTConfig struct {
	URL               string
	Username          string
	Password          string
	ClientID          string
	UplinkTopic       string
	StatusTopic       string
	CommandTopic      string
	DownlinkTemplate  string
	QoS               byte
	ReconnectInterval time.Duration
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
}

// IngestConfig sizes the inbound message worker pool
type IngestConfig struct {
	Workers   int
	QueueSize int
}

// DevicesConfig holds device liveness settings
type DevicesConfig struct {
	StaleThreshold time.Duration
}

// InitConfig initializes the configuration using Viper
func InitConfig(cfgFile string) error {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/waterweb")
		viper.SetConfigName("config")
	}

	bindEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("No config file found, using defaults and environment variables")
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}

	return nil
}

// bindEnv enables environment overrides, e.g. WATERWEB_MQTT_URL for mqtt.url
func bindEnv() {
	viper.SetEnvPrefix("WATERWEB")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// setDefaults sets default values for configuration
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 3000)
	viper.SetDefault("server.mode", "release")

	// Database defaults
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.path", "./data/water_quality.db")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "waterweb")
	viper.SetDefault("database.password", "waterweb")
	viper.SetDefault("database.dbname", "water_quality")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.debug", false)

	// Redis defaults
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttl", "30s")

	// Service Bus defaults - no default connection string for security
	viper.SetDefault("servicebus.queuename", "water-telemetry")

	// New Relic defaults
	viper.SetDefault("newrelic.appname", "WaterWeb Local")
	viper.SetDefault("newrelic.enabled", false)

	// MQTT defaults
	viper.SetDefault("mqtt.url", "mqtt://localhost:1883")
	viper.SetDefault("mqtt.clientid", "water-platform-server")
	viper.SetDefault("mqtt.uplinktopic", "devices/+/up")
	viper.SetDefault("mqtt.statustopic", "devices/+/status")
	viper.SetDefault("mqtt.commandtopic", "devices/+/command")
	viper.SetDefault("mqtt.downlinktemplate", "devices/{device_id}/down")
	viper.SetDefault("mqtt.qos", 1)
	viper.SetDefault("mqtt.reconnectinterval", "3s")
	viper.SetDefault("mqtt.connecttimeout", "10s")
	viper.SetDefault("mqtt.publishtimeout", "5s")

	// Ingest defaults
	viper.SetDefault("ingest.workers", 8)
	viper.SetDefault("ingest.queuesize", 10000)

	// Device liveness
	viper.SetDefault("devices.stalethreshold", "180s")
}

// Load loads the configuration
func Load() (*Config, error) {
	serverConfig := ServerConfig{
		Port: viper.GetInt("server.port"),
		Mode: viper.GetString("server.mode"),
	}

	dbConfig := DatabaseConfig{
		Driver:   strings.ToLower(viper.GetString("database.driver")),
		Path:     viper.GetString("database.path"),
		Host:     viper.GetString("database.host"),
		Port:     viper.GetInt("database.port"),
		User:     viper.GetString("database.user"),
		Password: viper.GetString("database.password"),
		DBName:   viper.GetString("database.dbname"),
		SSLMode:  viper.GetString("database.sslmode"),
		Debug:    viper.GetBool("database.debug"),
	}
	if dbConfig.Driver != "sqlite" && dbConfig.Driver != "postgres" {
		return nil, fmt.Errorf("unsupported database driver %q", dbConfig.Driver)
	}

	redisConfig := RedisConfig{
		Enabled:  viper.GetBool("redis.enabled"),
		Host:     viper.GetString("redis.host"),
		Port:     viper.GetInt("redis.port"),
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
		TTL:      viper.GetDuration("redis.ttl"),
	}

	serviceBusConfig := ServiceBusConfig{
		ConnectionString: viper.GetString("servicebus.connectionstring"),
		QueueName:        viper.GetString("servicebus.queuename"),
	}

	newRelicConfig := NewRelicConfig{
		AppName:    viper.GetString("newrelic.appname"),
		LicenseKey: viper.GetString("newrelic.licensekey"),
		Enabled:    viper.GetBool("newrelic.enabled"),
	}

	qos := viper.GetInt("mqtt.qos")
	if qos < 0 || qos > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", qos)
	}
	mqttConfig := MQTTConfig{
		URL:               viper.GetString("mqtt.url"),
		Username:          viper.GetString("mqtt.username"),
		Password:          viper.GetString("mqtt.password"),
		ClientID:          viper.GetString("mqtt.clientid"),
		UplinkTopic:       viper.GetString("mqtt.uplinktopic"),
		StatusTopic:       viper.GetString("mqtt.statustopic"),
		CommandTopic:      viper.GetString("mqtt.commandtopic"),
		DownlinkTemplate:  viper.GetString("mqtt.downlinktemplate"),
		QoS:               byte(qos),
		ReconnectInterval: viper.GetDuration("mqtt.reconnectinterval"),
		ConnectTimeout:    viper.GetDuration("mqtt.connecttimeout"),
		PublishTimeout:    viper.GetDuration("mqtt.publishtimeout"),
	}

	ingestConfig := IngestConfig{
		Workers:   viper.GetInt("ingest.workers"),
		QueueSize: viper.GetInt("ingest.queuesize"),
	}

	devicesConfig := DevicesConfig{
		StaleThreshold: viper.GetDuration("devices.stalethreshold"),
	}

	return &Config{
		Server:     serverConfig,
		Database:   dbConfig,
		Redis:      redisConfig,
		ServiceBus: serviceBusConfig,
		NewRelic:   newRelicConfig,
		MQTT:       mqttConfig,
		Ingest:     ingestConfig,
		Devices:    devicesConfig,
	}, nil
}
