// Package app wires configuration into the store, services and transports
// shared by the server and the cronjob runner.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	httpapi "powerbank-rental-backend/internal/api/http"
	"powerbank-rental-backend/internal/config"
	"powerbank-rental-backend/internal/device"
	"powerbank-rental-backend/internal/domain"
	"powerbank-rental-backend/internal/events"
	"powerbank-rental-backend/internal/jobs"
	"powerbank-rental-backend/internal/logger"
	"powerbank-rental-backend/internal/metrics"
	"powerbank-rental-backend/internal/repository"
	"powerbank-rental-backend/internal/repository/memory"
	"powerbank-rental-backend/internal/repository/postgres"
	"powerbank-rental-backend/internal/repository/postgres/migrations"
	"powerbank-rental-backend/internal/security"
	"powerbank-rental-backend/internal/service"
)

type App struct {
	Config  *config.Config
	DB      *sql.DB // nil with the memory driver
	Store   repository.Store
	Metrics *metrics.Metrics
	Tokens  security.TokenManager

	Ledger        service.LedgerService
	Rentals       service.RentalService
	Catalog       service.CatalogService
	Notifications service.NotificationService
}

// New connects the store and builds every service. With the memory driver
// the store is seeded with a demo station.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New(cfg.Metrics.Namespace)
	}

	var demo *memory.Store
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("Using in-memory store; state is lost on exit")
		demo = memory.NewStore()
		a.Store = demo
	default:
		logger.Info("Connecting to database...", "host", cfg.Database.Host, "port", cfg.Database.Port, "database", cfg.Database.Database)
		db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if cfg.Database.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		}
		if cfg.Database.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		logger.Info("Database connection established")
		a.DB = db
		a.Store = postgres.NewStore(db)
	}

	a.Tokens = security.NewTokenManager(
		cfg.JWT.Secret,
		cfg.JWT.DeviceSecret,
		cfg.JWT.Issuer,
		cfg.Device.ServiceID,
		time.Duration(cfg.JWT.AccessTokenExpiry)*time.Minute,
	)

	var gateway device.Gateway
	switch cfg.Device.Type {
	case "http":
		logger.Info("Using HTTP device gateway", "base_url", cfg.Device.BaseURL)
		gateway = device.NewHTTPGateway(cfg.Device.BaseURL, a.Tokens, cfg.Device.DispenseTimeout())
	default:
		logger.Info("Using mock device gateway", "failure_rate", cfg.Device.MockFailureRate)
		gateway = device.NewMockGateway(200*time.Millisecond, cfg.Device.MockFailureRate)
	}

	publisher, err := a.publisher(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Ledger = service.NewLedgerService(a.Store, a.Metrics)
	a.Rentals = service.NewRentalService(
		a.Store,
		a.Ledger,
		service.NewReservationService(),
		gateway,
		publisher,
		service.PolicyFromConfig(cfg),
		service.WithMetrics(a.Metrics),
	)
	a.Catalog = service.NewCatalogService(a.Store, cfg.Rental.MinBatteryLevel)
	a.Notifications = service.NewNotificationService(a.Store.Notifications())

	if demo != nil {
		if err := SeedDemo(ctx, demo, a.Ledger); err != nil {
			return nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
	}
	return a, nil
}

// publisher builds the event pipeline. The inbox outbox is always written
// unless events are only logged; SQS is added on top of it.
func (a *App) publisher(ctx context.Context) (events.Publisher, error) {
	switch a.Config.Events.Type {
	case "log":
		return events.LogPublisher{}, nil
	case "sqs":
		sqsPub, err := events.NewSQSPublisherFromEnv(ctx, a.Config.Events.AWSRegion, a.Config.Events.SQSQueueURL)
		if err != nil {
			return nil, err
		}
		logger.Info("Publishing events to SQS", "queue", a.Config.Events.SQSQueueURL)
		return events.Fanout{events.NewOutboxPublisher(a.Store.Notifications()), sqsPub}, nil
	default:
		return events.NewOutboxPublisher(a.Store.Notifications()), nil
	}
}

// Migrate applies the embedded schema. A no-op with the memory driver.
func (a *App) Migrate(ctx context.Context) error {
	if a.DB == nil {
		return nil
	}
	logger.Info("Applying database migrations")
	return migrations.Apply(ctx, a.DB)
}

func (a *App) Router() *mux.Router {
	var limiter *httpapi.RateLimiter
	if a.Config.RateLimit.Enabled {
		limiter = httpapi.NewRateLimiter(a.Config.RateLimit.RequestsPerSecond, a.Config.RateLimit.Burst)
	}
	return httpapi.NewRouter(httpapi.Services{
		Rentals:       a.Rentals,
		Ledger:        a.Ledger,
		Catalog:       a.Catalog,
		Notifications: a.Notifications,
	}, httpapi.RouterOptions{
		TokenManager:  a.Tokens,
		Metrics:       a.Metrics,
		MetricsPath:   a.Config.Metrics.Path,
		RateLimiter:   limiter,
		PointsPerUnit: a.Config.Rental.PointsPerCurrencyUnit,
	})
}

func (a *App) JobRunner() *jobs.JobRunner {
	return jobs.NewJobRunner(a.Store, &jobs.Services{Rental: a.Rentals, Ledger: a.Ledger}, a.Config, a.Metrics)
}

func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
}

// SeedDemo loads one online station with charged banks, the standard
// packages and a funded demo user (id 1).
func SeedDemo(ctx context.Context, store *memory.Store, ledger service.LedgerService) error {
	station := store.AddStation("ST-DEMO-01", "Demo Station", domain.StationStatusOnline)
	for i := int32(1); i <= 6; i++ {
		store.AddPowerBank(station.ID, i, fmt.Sprintf("PB-DEMO-%02d", i), 100-i*5)
	}
	store.AddSlot(station.ID, 7)
	store.AddSlot(station.ID, 8)

	store.AddPackage("1 hour", 60, decimal.RequireFromString("5.00"), domain.PaymentModelPrepaid)
	store.AddPackage("3 hours", 180, decimal.RequireFromString("12.00"), domain.PaymentModelPrepaid)
	store.AddPackage("Pay as you go", 60, decimal.RequireFromString("4.00"), domain.PaymentModelPostpaid)
	store.AddPackage("30 more minutes", 30, decimal.RequireFromString("3.00"), domain.PaymentModelPrepaid)

	if _, err := ledger.TopUp(ctx, 1, decimal.RequireFromString("50.00"), "Demo top-up"); err != nil {
		return err
	}
	logger.Info("Seeded demo data", "station", station.SerialNumber, "userID", 1)
	return nil
}
