// NodeLink Core - radio node coordinator
//
// This is the main entry point for the NodeLink Core application. It owns
// the serial link to the coordinator radio, discovers remote nodes and
// their function catalogs, and exposes them over MQTT and an optional
// HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	_ "github.com/nerrad567/nodelink-core/migrations"

	"github.com/nerrad567/nodelink-core/internal/api"
	"github.com/nerrad567/nodelink-core/internal/bridge"
	"github.com/nerrad567/nodelink-core/internal/dispatch"
	"github.com/nerrad567/nodelink-core/internal/infrastructure/config"
	"github.com/nerrad567/nodelink-core/internal/infrastructure/database"
	"github.com/nerrad567/nodelink-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/nodelink-core/internal/infrastructure/logging"
	"github.com/nerrad567/nodelink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/nodelink-core/internal/logsink"
	"github.com/nerrad567/nodelink-core/internal/node"
	"github.com/nerrad567/nodelink-core/internal/serialport"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// shutdownSaveTimeout bounds the final registry save.
const shutdownSaveTimeout = 5 * time.Second

func main() {
	issueFor := flag.String("issue-token", "", "print an API token for `subject` and exit")
	role := flag.String("role", api.RoleViewer, "role for -issue-token (viewer or operator)")
	flag.Parse()

	if *issueFor != "" {
		if err := issueToken(config.PathFromEnv(), *issueFor, *role, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting NodeLink Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := config.PathFromEnv()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // Flushes the rotating file; nothing to report to
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
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
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Dispatcher first: the serial read loop delivers into it.
	transport := &portTransport{}
	dispatcher := dispatch.New(transport, log.Component("dispatch"))

	if cfg.LogSink.Enabled {
		sink, sinkErr := logsink.New(logsink.Config{
			Address:   cfg.LogSink.Address,
			QueueSize: cfg.LogSink.QueueSize,
		}, log.Component("logsink"))
		if sinkErr != nil {
			return fmt.Errorf("starting log sink: %w", sinkErr)
		}
		defer sink.Close() //nolint:errcheck // UDP socket, nothing to flush
		dispatcher.SetMirror(sink)
		log.Info("log sink enabled", "address", cfg.LogSink.Address, "session", sink.Session())
	}

	// Device registry, populated from the last snapshot
	repo := node.NewSQLiteRepository(db.DB)
	registry := node.NewRegistry(dispatcher, node.Config{
		RoundTimeout:    cfg.Discovery.RoundTimeout,
		RoundAttempts:   cfg.Discovery.RoundAttempts,
		RefreshInterval: cfg.Discovery.RefreshInterval,
		InvokeTimeout:   cfg.Discovery.InvokeTimeout,
	})
	registry.SetLogger(log.Component("registry"))
	dispatcher.SetSink(registry)

	loaded, err := loadRegistry(ctx, repo, registry)
	if err != nil {
		return fmt.Errorf("loading device registry: %w", err)
	}
	log.Info("device registry loaded", "devices", loaded)

	if startErr := dispatcher.Start(); startErr != nil {
		return fmt.Errorf("starting dispatcher: %w", startErr)
	}
	defer dispatcher.Stop()

	// Open the serial port
	port, err := serialport.Open(ctx, serialport.Config{
		Device:            cfg.Serial.Device,
		BaudRate:          cfg.Serial.BaudRate,
		ReadTimeout:       cfg.Serial.ReadTimeout,
		ReconnectInterval: cfg.Serial.ReconnectInterval,
	}, dispatcher.ReceiveFrame, serialport.WithLogger(log.Component("serial")))
	if err != nil {
		return fmt.Errorf("opening serial port: %w", err)
	}
	transport.set(port)
	defer func() {
		transport.set(nil)
		if closeErr := port.Close(); closeErr != nil {
			log.Error("error closing serial port", "error", closeErr)
		}
	}()

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	var publisher bridge.HealthPublisher
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			st := mqttClient.Stats()
			log.Info("disconnecting from MQTT",
				"published", st.Published,
				"publish_errors", st.PublishErrors,
				"received", st.Received,
				"reconnects", st.Reconnects,
			)
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		publisher = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	var metrics bridge.Metrics
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection", "failed_batches", influxClient.Failures())
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		metrics = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT event bridge
	if mqttClient != nil {
		b, bridgeErr := bridge.New(bridge.Options{
			MQTT:     mqttClient,
			Registry: registry,
			Metrics:  metrics,
			Logger:   log.Component("bridge"),
			QoS:      byte(cfg.MQTT.QoS), //nolint:gosec // validated 0-2
		})
		if bridgeErr != nil {
			return fmt.Errorf("creating MQTT bridge: %w", bridgeErr)
		}
		registry.AddObserver(b)
		if startErr := b.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer b.Stop()
	}

	// Health reporting
	health := bridge.NewHealthReporter(bridge.HealthReporterConfig{
		Version:    version,
		Device:     cfg.Serial.Device,
		Publisher:  publisher,
		Serial:     port,
		Dispatcher: dispatcher,
		Devices:    registry,
		Metrics:    metrics,
	})
	health.SetLogger(log.Component("health"))
	if pubErr := health.PublishStarting(); pubErr != nil {
		log.Warn("publishing starting health failed", "error", pubErr)
	}

	// HTTP API (optional)
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			Logger:   log.Component("api"),
			Registry: registry,
			Health:   health,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		registry.AddObserver(server)
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("HTTP API disabled")
	}

	// Registry workers. Stopped before the final save so no investigation
	// mutates devices while they are written.
	if startErr := registry.Start(ctx); startErr != nil {
		return fmt.Errorf("starting registry: %w", startErr)
	}
	defer func() {
		registry.Stop()
		saveCtx, done := context.WithTimeout(context.Background(), shutdownSaveTimeout)
		defer done()
		if saveErr := saveRegistry(saveCtx, repo, registry); saveErr != nil {
			log.Error("error saving device registry", "error", saveErr)
			return
		}
		log.Info("device registry saved", "devices", registry.Count())
	}()

	// The coordinator's own address only decorates health reports.
	if addr, addrErr := dispatcher.CoordinatorAddress(ctx, cfg.Discovery.CoordinatorTimeout); addrErr != nil {
		log.Warn("coordinator address unavailable", "error", addrErr)
	} else {
		health.SetCoordinator(addr)
		log.Info("coordinator radio identified", "address", bridge.FormatDeviceID(addr))
	}

	health.Start(ctx)
	defer health.Stop()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	if cfg.Discovery.SaveInterval > 0 {
		go saveLoop(ctx, cfg.Discovery.SaveInterval, repo, registry, log)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: health reporter, registry
	// (with final save), API, bridge, InfluxDB, MQTT, serial port,
	// dispatcher, log sink, database.
	return nil
}

// portTransport lets the dispatcher exist before the serial port is open.
// Writes fail with serialport.ErrNotConnected until a port is set.
type portTransport struct {
	port atomic.Pointer[serialport.Client]
}

func (t *portTransport) set(c *serialport.Client) {
	t.port.Store(c)
}

// Write implements dispatch.Transport.
func (t *portTransport) Write(frame []byte) error {
	c := t.port.Load()
	if c == nil {
		return serialport.ErrNotConnected
	}
	return c.Write(frame)
}

// snapshotStore is the persistence side of node.Repository.
type snapshotStore interface {
	Save(ctx context.Context, snaps []node.Snapshot) error
	Load(ctx context.Context) ([]node.Snapshot, error)
}

// loadRegistry populates reg from the store and returns the number of
// devices added.
func loadRegistry(ctx context.Context, store snapshotStore, reg *node.Registry) (int, error) {
	snaps, err := store.Load(ctx)
	if err != nil {
		return 0, err
	}
	return reg.Load(snaps), nil
}

// saveRegistry writes the current registry contents to the store.
func saveRegistry(ctx context.Context, store snapshotStore, reg *node.Registry) error {
	return store.Save(ctx, reg.Snapshot())
}

// saveLoop persists the registry every interval until ctx is cancelled.
func saveLoop(ctx context.Context, interval time.Duration, store snapshotStore, reg *node.Registry, log *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := saveRegistry(ctx, store, reg); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("periodic registry save failed", "error", err)
				continue
			}
			log.Debug("device registry saved", "devices", reg.Count())
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
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
	// The serial port is not checked: a missing radio is reported as
	// degraded health and reopened in the background.
	return nil
}

// issueToken prints a signed API token for subject using the configured
// secret.
func issueToken(configPath, subject, role string, w io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.API.Auth.JWTSecret == "" {
		return errors.New("api.auth.jwt_secret is not set")
	}
	if role != api.RoleViewer && role != api.RoleOperator {
		return fmt.Errorf("unknown role %q", role)
	}

	token, err := api.IssueToken(cfg.API.Auth.JWTSecret, subject, role, cfg.API.Auth.TokenTTL)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}
