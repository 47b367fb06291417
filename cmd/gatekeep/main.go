// Gatekeep Core - Authentication and Authorization Service
//
// This is the main entry point for the Gatekeep Core application.
// Gatekeep provides multi-tenant identity management:
//   - Password-based login with throttling and lockout
//   - Rotating short-lived session credentials
//   - One-time activation and password reset tokens
//   - Role- and organisation-scoped authorization policy
//   - Audit trail and security event streaming
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gatekeep-core/migrations"

	"github.com/nerrad567/gatekeep-core/internal/api"
	"github.com/nerrad567/gatekeep-core/internal/audit"
	"github.com/nerrad567/gatekeep-core/internal/auth"
	"github.com/nerrad567/gatekeep-core/internal/events"
	"github.com/nerrad567/gatekeep-core/internal/infrastructure/config"
	"github.com/nerrad567/gatekeep-core/internal/infrastructure/database"
	"github.com/nerrad567/gatekeep-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/gatekeep-core/internal/infrastructure/logging"
	"github.com/nerrad567/gatekeep-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/gatekeep-core/internal/notify"
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

// expiredSweepInterval is how often expired sessions and one-time tokens
// are purged in the background.
const expiredSweepInterval = 15 * time.Minute

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo,maintidx // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gatekeep Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Build repositories
	accounts := auth.NewAccountRepository(db.DB)
	sessions := auth.NewSessionRepository(db.DB)
	oneTime := auth.NewOneTimeTokenRepository(db.DB)
	memberships := auth.NewMembershipRepository(db.DB)
	attempts := auth.NewAttemptRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	// Seed the bootstrap admin on an empty database
	if seedPassword, seedErr := auth.SeedAdmin(ctx, accounts, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding admin account: %w", seedErr)
	} else if seedPassword != "" {
		log.Warn("seed admin created; change this password immediately",
			"handle", auth.SeedAdminHandle,
			"password", seedPassword,
		)
	}

	// Login throttle guard
	guard := auth.NewGuard(attempts, auth.GuardConfig{
		AccountFailLimit: cfg.Security.Throttle.AccountFailLimit,
		AddressFailLimit: cfg.Security.Throttle.AddressFailLimit,
		LockDuration:     cfg.LockDuration(),
		AttemptRetention: cfg.AttemptRetention(),
	}, log.Logger)

	// Token lifecycle manager
	manager, err := auth.NewManager(accounts, sessions, oneTime, memberships, guard, auth.ManagerConfig{
		Secret:           cfg.Security.JWT.Secret,
		SessionWindow:    cfg.SessionWindow(),
		RefreshThreshold: cfg.RefreshThreshold(),
		ActivationTTL:    cfg.ActivationTTL(),
		ResetTTL:         cfg.ResetTTL(),
	}, log.Logger)
	if err != nil {
		return fmt.Errorf("creating auth manager: %w", err)
	}

	// Authorization policy engine
	policy := auth.NewPolicy(memberships)

	// Notification dispatcher
	var dispatcher notify.Dispatcher
	switch cfg.Notify.Mode {
	case "smtp":
		dispatcher = notify.NewSMTPDispatcher(
			cfg.Notify.SMTP.Host,
			cfg.Notify.SMTP.Port,
			cfg.Notify.SMTP.Username,
			cfg.Notify.SMTP.Password,
			cfg.Notify.FromAddress,
			log.Logger,
		)
		log.Info("SMTP notification dispatcher configured", "host", cfg.Notify.SMTP.Host)
	default:
		dispatcher = notify.NewLogDispatcher(log.Logger)
		log.Info("log notification dispatcher configured")
	}
	links := notify.NewBuilder(cfg.Notify.BaseURL)

	// Security event publisher with optional sinks
	publisher := events.NewPublisher(log.Logger)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		publisher.SetMQTT(mqttClient, byte(cfg.MQTT.QoS))
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		publisher.SetInflux(influxClient)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Create and start the API server
	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Logger:      log,
		Manager:     manager,
		Policy:      policy,
		Accounts:    accounts,
		Orgs:        auth.NewOrgRepository(db.DB),
		Memberships: memberships,
		AuditRepo:   auditRepo,
		Notifier:    dispatcher,
		Links:       links,
		Events:      publisher,
		DB:          db,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	// WebSocket clients receive the same events as MQTT and InfluxDB
	publisher.SetBroadcaster(server.Hub())

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Background purge of expired sessions and one-time tokens
	go sweepExpired(ctx, sessions, oneTime, influxClient, log)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server (drains audit queue, closes WebSocket clients)
	// 2. InfluxDB (if enabled)
	// 3. MQTT (if enabled)
	// 4. Database

	log.Info("Gatekeep Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GATEKEEP_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GATEKEEP_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// sweepExpired periodically deletes expired session and one-time token
// rows. Expiry is enforced at read time regardless; the sweep only keeps
// the tables from growing without bound. When telemetry is enabled the
// active session count is gauged on the same interval.
func sweepExpired(ctx context.Context, sessions auth.SessionRepository, oneTime auth.OneTimeTokenRepository, influxClient *influxdb.Client, log *logging.Logger) {
	ticker := time.NewTicker(expiredSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := sessions.DeleteExpired(ctx); err != nil {
				log.Error("sweeping expired sessions failed", "error", err)
			} else if n > 0 {
				log.Debug("swept expired sessions", "count", n)
			}
			if n, err := oneTime.DeleteExpired(ctx); err != nil {
				log.Error("sweeping expired one-time tokens failed", "error", err)
			} else if n > 0 {
				log.Debug("swept expired one-time tokens", "count", n)
			}
			if influxClient != nil {
				if active, err := sessions.CountActive(ctx); err != nil {
					log.Error("counting active sessions failed", "error", err)
				} else {
					influxClient.WriteSessionGauge(active)
				}
			}
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
// The MQTT and InfluxDB clients may be nil when disabled.
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
