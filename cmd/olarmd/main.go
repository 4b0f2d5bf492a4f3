// olarmd - Olarm cloud session and state daemon
//
// This is the main entry point for olarmd. The daemon:
//   - Acquires and maintains vendor API credentials (login, refresh)
//   - Holds one persistent pub/sub connection per alarm device
//   - Folds inbound payloads into canonical per-area state
//   - Dispatches area commands over the live connections
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/imprisonedmind/olarmd/internal/alarm"
	"github.com/imprisonedmind/olarmd/internal/cloud"
	"github.com/imprisonedmind/olarmd/internal/connpool"
	"github.com/imprisonedmind/olarmd/internal/dispatch"
	"github.com/imprisonedmind/olarmd/internal/history"
	"github.com/imprisonedmind/olarmd/internal/infrastructure/config"
	"github.com/imprisonedmind/olarmd/internal/infrastructure/database"
	"github.com/imprisonedmind/olarmd/internal/infrastructure/logging"
	"github.com/imprisonedmind/olarmd/internal/session"
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
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting olarmd",
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

	// Open the session database
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

	// Session persistence and lifecycle
	sessionStore, err := session.NewSQLiteStore(ctx, db.DB)
	if err != nil {
		return fmt.Errorf("initialising session store: %w", err)
	}

	api := cloud.New(cloud.Config{
		AuthBaseURL: cfg.API.AuthBaseURL,
		APIBaseURL:  cfg.API.APIBaseURL,
		Timeout:     cfg.GetAPITimeout(),
	})

	sessions := session.NewManager(api, sessionStore, session.Credentials{
		EmailPhone: cfg.Credentials.UserEmailPhone,
		Password:   cfg.Credentials.UserPass,
	})
	sessions.SetLogger(log)

	// Establish a session up front so misconfigured credentials fail fast
	sess, err := sessions.EnsureValid(ctx)
	if err != nil {
		return fmt.Errorf("establishing session: %w", err)
	}
	log.Info("session established", "user_index", sess.UserIndex)

	// Enumerate the account's alarm devices
	devices, err := api.FetchDevices(ctx, sess.AccessToken, sess.UserIndex)
	if err != nil {
		return fmt.Errorf("fetching devices: %w", err)
	}
	if len(devices) == 0 {
		return errors.New("no alarm devices on account")
	}
	log.Info("devices enumerated", "count", len(devices))

	// Canonical area state, seeded from the device profiles so state is
	// available before the first live payload arrives
	stateStore := alarm.NewStateStore()
	stateStore.SetLogger(log)
	for _, dev := range devices {
		stateStore.ApplyFrame(dev.ID, alarm.EncodeFrame(dev.AreaStates, dev.AreaLabels))
	}

	// State-history recording (optional)
	var recorder *history.Recorder
	if cfg.History.Enabled {
		recorder, err = history.Connect(cfg.History)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing history recorder")
			if closeErr := recorder.Close(); closeErr != nil {
				log.Error("error closing history recorder", "error", closeErr)
			}
		}()
		recorder.SetOnError(func(err error) {
			log.Error("history write error", "error", err)
		})
		log.Info("history recording enabled",
			"url", cfg.History.URL,
			"org", cfg.History.Org,
			"bucket", cfg.History.Bucket,
		)
	} else {
		log.Info("history recording disabled")
	}

	stateStore.SetOnChange(func(cs alarm.ChangeSet) {
		for _, area := range cs.Areas {
			log.Info("area state",
				"device_id", area.DeviceID,
				"area", area.Number,
				"name", area.Name,
				"state", string(area.State),
			)
		}
		if recorder != nil {
			recorder.RecordChange(cs)
		}
	})

	// Per-device persistent connections
	tokens := &sessionTokens{mgr: sessions}
	pool := connpool.NewPool(connpool.Config{
		Host:         cfg.MQTT.Broker.Host,
		Port:         cfg.MQTT.Broker.Port,
		QoS:          byte(cfg.MQTT.QoS),
		InitialDelay: cfg.GetReconnectInitialDelay(),
		MaxDelay:     cfg.GetReconnectMaxDelay(),
	}, tokens, func(deviceID string, payload []byte) {
		stateStore.ApplyFrame(deviceID, payload)
	})
	pool.SetLogger(log)
	defer func() {
		log.Info("closing connection pool")
		pool.Close()
	}()

	poolDevices := make([]connpool.Device, 0, len(devices))
	for _, dev := range devices {
		pd := connpool.Device{ID: dev.ID, IMEI: dev.IMEI}
		poolDevices = append(poolDevices, pd)
		if connErr := pool.EnsureConnected(pd); connErr != nil {
			return fmt.Errorf("connecting device %s: %w", dev.ID, connErr)
		}
		log.Info("device connection started", "device_id", dev.ID, "name", dev.Name)
	}

	// Command dispatch over the live connections, HTTP as the alternate path
	dispatcher := dispatch.New(pool)
	dispatcher.SetDevices(poolDevices)
	dispatcher.SetHTTPFallback(tokens, api)

	// Dispatcher is consumed by the control surface once one lands; the
	// daemon currently mirrors state only.
	_ = dispatcher

	// Verify infrastructure is healthy before settling in
	if err := healthCheck(ctx, db, recorder); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. Connection pool
	// 2. History recorder (if enabled)
	// 3. Database

	log.Info("olarmd stopped")
	return nil
}

// sessionTokens adapts the session manager to the token interfaces used by
// the connection pool and the dispatcher's HTTP fallback.
type sessionTokens struct {
	mgr *session.Manager
}

// Token returns a currently valid access token, refreshing or logging in
// as needed.
func (s *sessionTokens) Token(ctx context.Context) (string, error) {
	sess, err := s.mgr.EnsureValid(ctx)
	if err != nil {
		return "", err
	}
	return sess.AccessToken, nil
}

// Invalidate marks the current access token as rejected by the broker so
// the next Token call refreshes it.
func (s *sessionTokens) Invalidate() {
	s.mgr.Invalidate()
}

// getConfigPath returns the configuration file path.
// Uses OLARMD_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("OLARMD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - recorder: History recorder to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, recorder *history.Recorder) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if recorder != nil {
		if err := recorder.HealthCheck(ctx); err != nil {
			return fmt.Errorf("history: %w", err)
		}
	}

	// Pub/sub connections are supervised by the pool itself; each one
	// reconnects with backoff, so a device being offline at startup is
	// not fatal.

	return nil
}
