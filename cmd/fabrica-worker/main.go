package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/drivers"
	"github.com/ternarybob/fabrica/internal/queue"
	"github.com/ternarybob/fabrica/internal/services/events"
	"github.com/ternarybob/fabrica/internal/services/jobs"
	"github.com/ternarybob/fabrica/internal/services/tenant"
	"github.com/ternarybob/fabrica/internal/storage/badger"
	"github.com/ternarybob/fabrica/internal/workers"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles configPaths
	queueFlags  configPaths
	showVersion = flag.Bool("version", false, "Print version information")

	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
	flag.Var(&queueFlags, "queue", "Queue to consume (can be specified multiple times, overrides config)")
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Fabrica worker version %s\n", common.GetVersion())
		os.Exit(0)
	}

	if len(configFiles) == 0 {
		if _, err := os.Stat("fabrica.toml"); err == nil {
			configFiles = append(configFiles, "fabrica.toml")
		} else if _, err := os.Stat("deployments/local/fabrica.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/fabrica.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}
	if len(queueFlags) > 0 {
		config.Workers.Queues = queueFlags
	}

	logger = common.InitLogger(config)
	common.PrintBanner("Fabrica Worker", common.GetVersion())

	if err := config.ValidateSecrets(); err != nil {
		logger.Fatal().Err(err).Msg("Configuration is incomplete")
		os.Exit(1)
	}

	stores, err := badger.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize storage")
		os.Exit(1)
	}
	defer stores.Close()

	broker, err := queue.NewBroker(stores.DB().Store().Badger(), logger, &config.Broker)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize broker")
		os.Exit(1)
	}
	defer broker.Close()

	eventService := events.NewService(logger)
	defer eventService.Close()

	tenants, err := tenant.NewService(stores.Users, stores.Customers, stores.IPRanges, &config.Auth, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize tenant service")
		os.Exit(1)
	}

	registry := jobs.NewRegistry()
	jobService := jobs.NewService(
		stores.Jobs,
		stores.JobLogs,
		stores.Regions,
		stores.Customers,
		stores.Devices,
		broker,
		eventService,
		registry,
		config.Broker.DefaultQueue,
		logger,
	)

	driver := drivers.NewSSHDriver(logger, common.Duration(config.Workers.DriverTimeout, 30*time.Second))

	processor := workers.NewProcessor(broker, jobService, stores, tenants, eventService, driver, config, logger)
	processor.ReconcileStartup(context.Background())
	if err := processor.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start worker processor")
		os.Exit(1)
	}

	logger.Info().
		Strs("queues", config.Workers.Queues).
		Str("default_queue", config.Broker.DefaultQueue).
		Msg("Worker ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info().Msg("Interrupt signal received")

	processor.Stop()
	logger.Info().Msg("Worker stopped")
}
