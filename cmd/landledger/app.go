package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/landledger/config"
	"github.com/c360studio/landledger/notify"
	"github.com/c360studio/landledger/registry"
	"github.com/c360studio/landledger/storage"
	"github.com/c360studio/landledger/storage/sqlite"
	"github.com/c360studio/landledger/telemetry"
)

// keyLister is implemented by stores that can enumerate their keys.
type keyLister interface {
	Keys(ctx context.Context) ([]registry.RecordKey, error)
}

// App wires configuration, storage, event publishing and the registry.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// NATS
	embeddedServer *server.Server
	natsConn       *nats.Conn
	natsClient     *natsclient.Client
	js             jetstream.JetStream

	// Storage
	store  registry.Store
	sqlite *sqlite.Store

	// Observability
	metricsRegistry   *prometheus.Registry
	telemetryShutdown func(context.Context) error

	registry *registry.Registry
}

// NewApp creates a new application instance.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		cfg:             cfg,
		logger:          logger,
		metricsRegistry: prometheus.NewRegistry(),
	}, nil
}

// Start initializes and starts all components.
func (a *App) Start(ctx context.Context) error {
	shutdown, err := telemetry.Setup(ctx, a.cfg.Telemetry, Version)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	a.telemetryShutdown = shutdown

	if a.needsNATS() {
		if err := a.startNATS(ctx); err != nil {
			return fmt.Errorf("start NATS: %w", err)
		}
	}

	if err := a.openStore(ctx); err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}

	sink, err := a.eventSink()
	if err != nil {
		return fmt.Errorf("initialize events: %w", err)
	}

	a.registry = registry.New(a.store,
		registry.WithEventSink(sink),
		registry.WithLogger(a.logger),
		registry.WithMetrics(registry.NewMetrics(a.metricsRegistry)),
	)

	a.logger.Debug("Land registry ready", slog.String("backend", a.cfg.Storage.Backend))
	return nil
}

// needsNATS reports whether a NATS connection is required: for KV storage, or
// for publishing events to an external server.
func (a *App) needsNATS() bool {
	if a.cfg.Storage.Backend == config.BackendNATS {
		return true
	}
	return a.cfg.Events.Enabled && a.cfg.NATS.URL != ""
}

func (a *App) startNATS(ctx context.Context) error {
	if a.cfg.NATS.URL != "" {
		return a.connectExternal(ctx)
	}

	// Start embedded NATS server
	a.logger.Debug("Starting embedded NATS server", slog.String("store_dir", a.cfg.NATS.StoreDir))
	opts := &server.Options{
		Port:      -1, // Random available port
		JetStream: true,
		StoreDir:  a.cfg.NATS.StoreDir,
		NoLog:     true,
		NoSigs:    true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()

	// Wait for server to be ready
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return fmt.Errorf("embedded NATS server failed to start")
	}

	a.embeddedServer = ns

	// Connect to embedded server
	conn, err := nats.Connect(ns.ClientURL(), nats.Name(appName))
	if err != nil {
		ns.Shutdown()
		return fmt.Errorf("connect to embedded NATS: %w", err)
	}
	a.natsConn = conn

	js, err := jetstream.New(conn)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	a.js = js
	return nil
}

func (a *App) connectExternal(ctx context.Context) error {
	url := a.cfg.NATS.URL
	a.logger.Info("Connecting to NATS", slog.String("url", url))

	client, err := natsclient.NewClient(url,
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(5),
		natsclient.WithReconnectWait(time.Second),
		natsclient.WithCircuitBreakerThreshold(5),
		natsclient.WithHealthInterval(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return wrapNATSError(err, url)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(ctx)
		return wrapNATSError(err, url)
	}
	a.natsClient = client

	js, err := client.JetStream()
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	a.js = js

	a.logger.Info("Connected to NATS", slog.String("url", url))
	return nil
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	// Check for common connection errors
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

To start NATS:
  docker compose up -d nats

Or unset nats.url (LANDLEDGER_NATS_URL) to use the embedded server.`, err, url)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}

func (a *App) openStore(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendMemory:
		a.store = registry.NewMemoryStore()
	case config.BackendNATS:
		kv, err := storage.NewKVStore(ctx, a.js, a.cfg.Storage.Bucket)
		if err != nil {
			return err
		}
		a.store = kv
	case config.BackendSQLite:
		db, err := sqlite.Open(ctx, a.cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		a.sqlite = db
		a.store = db
	default:
		return fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
	return nil
}

// eventSink always logs events and publishes them on NATS when a connection
// is available and events are enabled.
func (a *App) eventSink() (registry.EventSink, error) {
	sinks := registry.MultiSink{registry.LogSink{Logger: a.logger}}
	if !a.cfg.Events.Enabled {
		return sinks, nil
	}

	var client notify.Client
	switch {
	case a.natsClient != nil:
		client = a.natsClient
	case a.natsConn != nil:
		client = notify.ConnClient{Conn: a.natsConn}
	default:
		return sinks, nil
	}

	publisher, err := notify.NewPublisher(client,
		notify.WithSubjectPrefix(a.cfg.Events.SubjectPrefix),
		notify.WithLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}
	return append(sinks, publisher), nil
}

// Registry returns the wired registry. Start must have succeeded.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Keys lists registered keys when the backend supports it.
func (a *App) Keys(ctx context.Context) ([]registry.RecordKey, error) {
	lister, ok := a.store.(keyLister)
	if !ok {
		return nil, fmt.Errorf("storage backend %q cannot list records", a.cfg.Storage.Backend)
	}
	return lister.Keys(ctx)
}

// logMetrics writes the operation counters at debug level.
func (a *App) logMetrics() {
	families, err := a.metricsRegistry.Gather()
	if err != nil {
		a.logger.Debug("Failed to gather metrics", slog.String("error", err.Error()))
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			attrs := []any{slog.String("metric", mf.GetName())}
			for _, lp := range m.GetLabel() {
				attrs = append(attrs, slog.String(lp.GetName(), lp.GetValue()))
			}
			attrs = append(attrs, slog.Float64("value", m.GetCounter().GetValue()))
			a.logger.Debug("Registry metric", attrs...)
		}
	}
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.metricsRegistry != nil {
		a.logMetrics()
	}

	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			a.logger.Warn("Failed to close SQLite store", slog.String("error", err.Error()))
		}
	}

	// Close NATS connection
	if a.natsClient != nil {
		if err := a.natsClient.Close(ctx); err != nil {
			a.logger.Warn("Failed to close NATS client", slog.String("error", err.Error()))
		}
	}
	if a.natsConn != nil {
		_ = a.natsConn.Drain()
		a.natsConn.Close()
	}

	// Shutdown embedded server
	if a.embeddedServer != nil {
		a.embeddedServer.Shutdown()
		a.embeddedServer.WaitForShutdown()
	}

	if a.telemetryShutdown != nil {
		if err := a.telemetryShutdown(ctx); err != nil {
			a.logger.Warn("Failed to flush traces", slog.String("error", err.Error()))
		}
	}
}
