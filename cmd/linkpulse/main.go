// LinkPulse - Campaign Link Analytics
//
// This is the main entry point for the LinkPulse server. LinkPulse issues
// short tracking links for marketing campaigns, records every click with
// geo-location and device details, and streams clicks live to the owners
// watching them.
//
// Only SQLite is required. Postgres, Redis, MQTT and InfluxDB are optional
// and switched on in configuration.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	_ "github.com/nerrad567/linkpulse/migrations"

	"github.com/nerrad567/linkpulse/internal/api"
	"github.com/nerrad567/linkpulse/internal/audit"
	"github.com/nerrad567/linkpulse/internal/auth"
	"github.com/nerrad567/linkpulse/internal/billing"
	"github.com/nerrad567/linkpulse/internal/infrastructure/config"
	"github.com/nerrad567/linkpulse/internal/infrastructure/database"
	"github.com/nerrad567/linkpulse/internal/infrastructure/influxdb"
	"github.com/nerrad567/linkpulse/internal/infrastructure/logging"
	"github.com/nerrad567/linkpulse/internal/infrastructure/mqtt"
	"github.com/nerrad567/linkpulse/internal/link"
	"github.com/nerrad567/linkpulse/internal/notify"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting LinkPulse",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"environment", cfg.App.Environment,
	)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Credential store: Postgres when enabled, otherwise the SQLite file
	var users auth.UserRepository
	if cfg.Postgres.Enabled {
		pgUsers, pgErr := auth.NewPostgresUserRepository(ctx, cfg.Postgres.URL)
		if pgErr != nil {
			return fmt.Errorf("connecting to postgres: %w", pgErr)
		}
		defer func() {
			log.Info("closing postgres pool")
			pgUsers.Close()
		}()
		users = pgUsers
		log.Info("postgres credential store connected")
	} else {
		users = auth.NewUserRepository(db.DB)
	}

	// Rate limiting is skipped entirely without Redis
	var limiter *auth.RateLimiter
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			log.Info("closing redis")
			if closeErr := rdb.Close(); closeErr != nil {
				log.Error("error closing redis", "error", closeErr)
			}
		}()
		if pingErr := rdb.Ping(ctx).Err(); pingErr != nil {
			log.Warn("redis unreachable, rate limits fail open", "addr", cfg.Redis.Addr, "error", pingErr)
		}
		limiter = auth.NewRateLimiter(rdb, cfg.Security.RateLimit, log.Logger)
		log.Info("rate limiting enabled", "addr", cfg.Redis.Addr)
	} else {
		log.Info("redis disabled, rate limiting off")
	}

	mqttClient, err := connectMQTT(cfg.MQTT, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	influxClient, err := connectInfluxDB(cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	authDeps := auth.ServiceDeps{
		Users:   users,
		Tokens:  auth.NewTokenIssuer(cfg.Security.JWT),
		Limiter: limiter,
		Logger:  log.With("component", "auth").Logger,
	}
	if cfg.Google.ClientID != "" {
		verifier := auth.NewGoogleVerifier(cfg.Google)
		defer verifier.Close()
		authDeps.Google = verifier
		if cfg.Google.ClientSecret != "" {
			authDeps.Exchanger = auth.NewOAuthCodeExchanger(cfg.Google)
		}
		log.Info("google sign-in enabled")
	}
	if mqttClient != nil {
		authDeps.Mailer = notify.NewMQTTMailer(mqttClient, cfg.Mail, log.With("component", "mail").Logger)
	} else {
		authDeps.Mailer = notify.NewLogMailer(log.With("component", "mail").Logger)
	}

	linkDeps := link.ServiceDeps{
		Links:  link.NewSQLiteRepository(db.Sqlx()),
		Users:  users,
		Geo:    link.NewGeoLocator(cfg.Geo),
		Logger: log.With("component", "links").Logger,
	}
	if !cfg.App.IsProduction() {
		linkDeps.DevIP = cfg.Geo.DevIP
	}
	if mqttClient != nil {
		linkDeps.Publisher = link.NewMQTTClickPublisher(mqttClient)
	}

	// Assigned only when connected so the interfaces never hold a nil pointer
	var refreshMetrics auth.MetricsWriter
	if influxClient != nil {
		authDeps.Metrics = influxClient
		linkDeps.Metrics = influxClient
		refreshMetrics = influxClient
	}

	authService := auth.NewService(authDeps)
	linkService := link.NewService(linkDeps)
	billingService := billing.NewService(users, billing.NewSQLiteLedger(db.Sqlx()), cfg.Payments, log.With("component", "billing").Logger)

	if _, seedErr := auth.SeedAdmin(ctx, users, cfg.Security.BootstrapAdmin, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding admin: %w", seedErr)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		App:       cfg.App,
		Logger:    log,
		Auth:      authService,
		Tokens:    authDeps.Tokens,
		Refresher: auth.NewSessionRefresher(users, authDeps.Tokens, refreshMetrics),
		Links:     linkService,
		Billing:   billingService,
		AuditRepo: audit.NewSQLiteRepository(db.DB),
		MQTT:      mqttClient,
		DB:        db.DB,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, InfluxDB, MQTT, Redis, Postgres, database.

	log.Info("LinkPulse stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses LINKPULSE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("LINKPULSE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectMQTT connects to the broker when enabled. A nil client means the
// live click feed and mail outbox are off.
func connectMQTT(cfg config.MQTTConfig, log *logging.Logger) (*mqtt.Client, error) {
	if !cfg.Enabled {
		log.Info("MQTT disabled, live click feed off")
		return nil, nil //nolint:nilnil // nil client is a valid "disabled" result
	}

	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)
	return client, nil
}

// connectInfluxDB connects to InfluxDB when enabled.
func connectInfluxDB(cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil //nolint:nilnil // nil client is a valid "disabled" result
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return client, nil
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
