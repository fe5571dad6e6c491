package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/backstage/waterweb/api"
	"example.com/backstage/waterweb/config"
	"example.com/backstage/waterweb/internal/cache"
	"example.com/backstage/waterweb/internal/database"
	"example.com/backstage/waterweb/internal/ingest"
	"example.com/backstage/waterweb/internal/messaging"
	"example.com/backstage/waterweb/internal/repository"
	"example.com/backstage/waterweb/internal/service"
	"example.com/backstage/waterweb/internal/tracing"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	// Serve command flags
	disableNewRelic bool
	serverPort      int
	gracefulTimeout int
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ingestion router and the API server",
	Long: `Connects to the MQTT broker, routes uplink, status and command messages into
the store, and serves the administrative REST API.

The server respects the configuration in config.yaml or specified via the --config flag.
It will gracefully shut down on receiving SIGINT or SIGTERM signals.`,
	Run: func(cmd *cobra.Command, args []string) {
		startServer()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&disableNewRelic, "disable-newrelic", false, "Disable New Relic monitoring")
	serveCmd.Flags().IntVar(&serverPort, "port", 0, "Server port (overrides config file)")
	serveCmd.Flags().IntVar(&gracefulTimeout, "graceful-timeout", 30, "Graceful shutdown timeout in seconds")
}

// connectWithRetry opens the database, backing off exponentially between attempts
func connectWithRetry(cfg config.DatabaseConfig) (database.DB, error) {
	var (
		db  database.DB
		err error
	)
	maxRetries := 5
	retryInterval := time.Second

	for i := 0; i < maxRetries; i++ {
		log.WithField("attempt", i+1).Info("Connecting to database...")
		db, err = database.Connect(cfg, log)
		if err == nil {
			return db, nil
		}

		log.WithFields(logrus.Fields{
			"error":         err.Error(),
			"retry_attempt": i + 1,
			"max_retries":   maxRetries,
		}).Error("Failed to connect to database, retrying...")

		if i < maxRetries-1 {
			time.Sleep(retryInterval)
			retryInterval *= 2
		}
	}
	return nil, err
}

func startServer() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if serverPort > 0 {
		cfg.Server.Port = serverPort
	}

	log.WithFields(logrus.Fields{
		"port":             cfg.Server.Port,
		"database_driver":  cfg.Database.Driver,
		"mqtt_broker":      cfg.MQTT.URL,
		"newrelic_enabled": cfg.NewRelic.Enabled && !disableNewRelic,
	}).Info("Initializing service components...")

	db, err := connectWithRetry(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Info("Successfully connected to database")
	defer func() {
		log.Info("Closing database connection...")
		if err := db.Close(); err != nil {
			log.WithField("error", err.Error()).Error("Error closing database connection")
		}
	}()

	log.Info("Running database migrations...")
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	redisClient, err := cache.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Warnf("Failed to connect to Redis, device cache disabled: %v", err)
		redisClient = cache.NoopClient{}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.WithField("error", err.Error()).Error("Error closing Redis connection")
		}
	}()

	log.Info("Connecting to event forwarding queue...")
	events, err := messaging.NewServiceBusClient(cfg.ServiceBus, "waterweb", log)
	if err != nil {
		log.Fatalf("Failed to connect to Azure Service Bus: %v", err)
	}
	defer func() {
		log.Info("Closing messaging connection...")
		if err := events.Close(); err != nil {
			log.WithField("error", err.Error()).Error("Error closing messaging connection")
		}
	}()

	var nrApp *newrelic.Application
	if !disableNewRelic {
		nrApp, err = tracing.InitNewRelic(cfg.NewRelic)
		if err != nil {
			log.Warnf("Failed to initialize New Relic: %v", err)
			nrApp = nil
		} else if nrApp != nil {
			log.Info("New Relic monitoring initialized successfully")
			defer nrApp.Shutdown(5 * time.Second)
		}
	}

	bus := messaging.NewMQTTBus(cfg.MQTT, log)

	log.Info("Initializing service layer...")
	svc, err := service.NewService(service.ServiceConfig{
		Repository:       repository.NewRepository(db),
		Cache:            redisClient,
		Events:           events,
		Downlink:         bus,
		Logger:           log,
		StaleThreshold:   cfg.Devices.StaleThreshold,
		DownlinkTemplate: cfg.MQTT.DownlinkTemplate,
		CacheTTL:         cfg.Redis.TTL,
	})
	if err != nil {
		log.Fatalf("Failed to initialize service: %v", err)
	}

	router := ingest.NewRouter(svc.Devices, svc.Metrics, svc.Commands, log)
	processor := ingest.NewProcessor(router, log, ingest.ProcessorConfig{
		Workers:   cfg.Ingest.Workers,
		QueueSize: cfg.Ingest.QueueSize,
		NewRelic:  nrApp,
	})
	err = router.Start(bus, processor, ingest.Topics{
		Uplink:  cfg.MQTT.UplinkTopic,
		Status:  cfg.MQTT.StatusTopic,
		Command: cfg.MQTT.CommandTopic,
	})
	if err != nil {
		log.Fatalf("Failed to register subscriptions: %v", err)
	}

	server := api.NewServer(cfg, log, nrApp, svc, processor, bus)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bus.Run(gctx)
	})
	g.Go(func() error {
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(gracefulTimeout)*time.Second)
		defer cancel()

		log.Info("Shutting down HTTP server...")
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.WithError(err).Error("Server stopped with error")
	}

	// The bus is disconnected by now, so no new messages arrive while the
	// queue drains.
	processor.Stop()

	log.Info("Server shutdown complete")
}
