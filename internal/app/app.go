package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/drivers"
	"github.com/ternarybob/fabrica/internal/handlers"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
	"github.com/ternarybob/fabrica/internal/queue"
	"github.com/ternarybob/fabrica/internal/services/events"
	"github.com/ternarybob/fabrica/internal/services/jobs"
	"github.com/ternarybob/fabrica/internal/services/publisher"
	"github.com/ternarybob/fabrica/internal/services/scheduler"
	"github.com/ternarybob/fabrica/internal/services/tenant"
	"github.com/ternarybob/fabrica/internal/storage/badger"
	"github.com/ternarybob/fabrica/internal/workers"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Stores *badger.Manager
	Broker interfaces.Broker

	EventService interfaces.EventService
	Tenants      *tenant.Service
	Registry     *jobs.Registry
	JobService   *jobs.Service
	Scheduler    *scheduler.Service
	Publisher    *publisher.Service
	Processor    *workers.Processor
	Driver       interfaces.DeviceDriver

	// HTTP handlers
	APIHandler          *handlers.APIHandler
	AuthHandler         *handlers.AuthHandler
	JobHandler          *handlers.JobHandler
	DeviceHandler       *handlers.DeviceHandler
	ScheduleHandler     *handlers.ScheduleHandler
	RegionHandler       *handlers.RegionHandler
	SubscriptionHandler *handlers.SubscriptionHandler
	AdminHandler        *handlers.AdminHandler
	WSHandler           *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	stores, err := badger.NewManager(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.Stores = stores

	broker, err := queue.NewBroker(stores.DB().Store().Badger(), logger, &cfg.Broker)
	if err != nil {
		stores.Close()
		return nil, fmt.Errorf("failed to initialize broker: %w", err)
	}
	app.Broker = broker

	app.EventService = events.NewService(logger)

	tenants, err := tenant.NewService(stores.Users, stores.Customers, stores.IPRanges, &cfg.Auth, logger)
	if err != nil {
		stores.Close()
		return nil, fmt.Errorf("failed to initialize tenant service: %w", err)
	}
	app.Tenants = tenants

	app.Registry = jobs.NewRegistry()
	app.JobService = jobs.NewService(
		stores.Jobs,
		stores.JobLogs,
		stores.Regions,
		stores.Customers,
		stores.Devices,
		broker,
		app.EventService,
		app.Registry,
		cfg.Broker.DefaultQueue,
		logger,
	)

	app.Scheduler = scheduler.NewService(
		app.JobService,
		stores.Jobs,
		stores.JobLogs,
		stores.Schedules,
		&cfg.Scheduler,
		logger,
	)

	app.Publisher = publisher.NewService(
		stores.Subscriptions,
		stores.Deliveries,
		app.EventService,
		&cfg.Publisher,
		logger,
	)

	app.Driver = drivers.NewSSHDriver(logger, common.Duration(cfg.Workers.DriverTimeout, 30*time.Second))

	// Badger is single-process, so a colocated worker shares the store by
	// running inside the API process.
	if cfg.Workers.Embedded {
		app.Processor = workers.NewProcessor(broker, app.JobService, stores, tenants, app.EventService, app.Driver, cfg, logger)
	}

	app.APIHandler = handlers.NewAPIHandler(broker, stores.Regions, logger)
	app.AuthHandler = handlers.NewAuthHandler(tenants, logger)
	app.JobHandler = handlers.NewJobHandler(app.JobService, logger)
	app.DeviceHandler = handlers.NewDeviceHandler(stores.Devices, stores.Discovered, tenants, app.EventService, logger)
	app.ScheduleHandler = handlers.NewScheduleHandler(stores.Schedules, app.Registry, logger)
	app.RegionHandler = handlers.NewRegionHandler(stores.Regions, logger)
	app.SubscriptionHandler = handlers.NewSubscriptionHandler(stores.Subscriptions, logger)
	app.AdminHandler = handlers.NewAdminHandler(stores.Customers, stores.Users, stores.Credentials, stores.IPRanges, tenants, logger)
	app.WSHandler = handlers.NewWebSocketHandler(app.JobService, stores.Devices, stores.Credentials, tenants, app.Driver, cfg, logger)

	if err := app.seed(context.Background()); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to seed initial data: %w", err)
	}

	return app, nil
}

// Start launches the background services that run alongside the API
func (a *App) Start(ctx context.Context) error {
	if err := a.Scheduler.Start(); err != nil {
		return err
	}
	if err := a.Publisher.Start(); err != nil {
		a.Scheduler.Stop()
		return err
	}
	if a.Processor != nil {
		a.Processor.ReconcileStartup(ctx)
		if err := a.Processor.Start(); err != nil {
			a.Publisher.Stop()
			a.Scheduler.Stop()
			return err
		}
	}
	return nil
}

// Close stops background services and releases storage
func (a *App) Close() {
	if a.Processor != nil {
		a.Processor.Stop()
	}
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Publisher != nil {
		a.Publisher.Stop()
	}
	if a.EventService != nil {
		a.EventService.Close()
	}
	if a.Broker != nil {
		a.Broker.Close()
	}
	if a.Stores != nil {
		if err := a.Stores.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
		}
	}
}

// seed bootstraps the admin account and loads optional seed files. Runs on
// every start; every write is skipped when the row already exists.
func (a *App) seed(ctx context.Context) error {
	if err := a.seedAdminUser(ctx); err != nil {
		return err
	}
	if a.Config.Seed.Dir == "" {
		return nil
	}
	if err := a.seedCustomers(ctx, filepath.Join(a.Config.Seed.Dir, "customers.toml")); err != nil {
		return err
	}
	return a.seedRegions(ctx, filepath.Join(a.Config.Seed.Dir, "regions.toml"))
}

// seedAdminUser creates the bootstrap admin when configured and absent. A
// fresh deployment is unusable without at least one admin.
func (a *App) seedAdminUser(ctx context.Context) error {
	email := a.Config.Auth.SeedAdminUser
	password := a.Config.Auth.SeedAdminPass
	if email == "" || password == "" {
		return nil
	}

	if _, err := a.Stores.Users.GetUserByEmail(ctx, email); err == nil {
		return nil
	}

	hash, err := a.Tenants.HashPassword(password)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	user := &models.User{
		ID:           common.NewID(),
		Email:        email,
		Name:         "Administrator",
		Role:         models.RoleAdmin,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.Stores.Users.CreateUser(ctx, user); err != nil {
		return err
	}
	a.Logger.Info().Str("email", email).Msg("Bootstrap admin user created")
	return nil
}

func (a *App) seedCustomers(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var file struct {
		Customers []struct {
			Name string `toml:"name"`
		} `toml:"customers"`
	}
	if err := toml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	existing, err := a.Stores.Customers.ListCustomers(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(existing))
	for _, c := range existing {
		known[c.Name] = true
	}

	for _, entry := range file.Customers {
		if entry.Name == "" || known[entry.Name] {
			continue
		}
		now := time.Now().UTC()
		customer := &models.Customer{
			ID:        common.NewID(),
			Name:      entry.Name,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := a.Stores.Customers.CreateCustomer(ctx, customer); err != nil {
			return err
		}
		a.Logger.Info().Str("name", entry.Name).Msg("Seed customer created")
	}
	return nil
}

func (a *App) seedRegions(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var file struct {
		Regions []struct {
			Name       string `toml:"name"`
			Identifier string `toml:"identifier"`
			Priority   int    `toml:"priority"`
		} `toml:"regions"`
	}
	if err := toml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	for _, entry := range file.Regions {
		if entry.Identifier == "" {
			continue
		}
		if _, err := a.Stores.Regions.GetRegionByIdentifier(ctx, entry.Identifier); err == nil {
			continue
		}
		now := time.Now().UTC()
		region := &models.Region{
			ID:         common.NewID(),
			Name:       entry.Name,
			Identifier: entry.Identifier,
			Priority:   entry.Priority,
			Enabled:    true,
			Health:     models.RegionHealthy,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := a.Stores.Regions.CreateRegion(ctx, region); err != nil {
			return err
		}
		a.Logger.Info().Str("region", entry.Identifier).Msg("Seed region created")
	}
	return nil
}
