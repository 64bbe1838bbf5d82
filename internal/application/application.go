package application

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/eugenenazirov/shelf-monitor/internal/api"
	"github.com/eugenenazirov/shelf-monitor/internal/broker"
	"github.com/eugenenazirov/shelf-monitor/internal/config"
	"github.com/eugenenazirov/shelf-monitor/internal/storage"
	"github.com/eugenenazirov/shelf-monitor/internal/warehouse"
)

//go:embed web
var webFS embed.FS

// Subscriber is the broker side of the application.
type Subscriber interface {
	Start(ctx context.Context) error
	Stop()
}

// App encapsulates the application dependencies and HTTP server.
type App struct {
	storage    storage.Storage
	monitor    *warehouse.Monitor
	alarm      *warehouse.PatternAlarm
	subscriber Subscriber
	handler    *api.Handler
	router     http.Handler
	logger     *zap.Logger
	server     *http.Server
}

// Option configures App construction.
type Option func(*options)

type options struct {
	brokerOpts []broker.Option
}

// WithBrokerOptions passes options through to the MQTT subscriber.
func WithBrokerOptions(opts ...broker.Option) Option {
	return func(o *options) {
		o.brokerOpts = append(o.brokerOpts, opts...)
	}
}

// New initializes the application with all dependencies from the provided configuration.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	store, err := OpenStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	alarm := warehouse.NewPatternAlarm(warehouse.LogSignal{Logger: logger}, cfg.Warehouse.AlarmCycles, cfg.Warehouse.AlarmPeriod)
	monitor, err := warehouse.New(warehouse.Settings{
		LowStockKg:  cfg.Warehouse.LowStockKg,
		KgPerItem:   cfg.Warehouse.KgPerItem,
		MaxWeightKg: cfg.Warehouse.MaxWeightKg,
		AlertBuffer: cfg.Warehouse.AlertBuffer,
		MaxShelves:  cfg.Warehouse.MaxShelves,
	}, store, logger, warehouse.WithAlarm(alarm))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create monitor: %w", err)
	}

	creds := cfg.Credentials()
	subscriber := broker.NewSubscriber(broker.Config{
		Broker:               creds.Broker,
		ClientID:             cfg.MQTT.ClientID,
		Username:             cfg.MQTT.Username,
		Password:             cfg.MQTT.Password,
		Topic:                cfg.MQTT.Topic,
		KeepAlive:            cfg.MQTT.KeepAlive,
		ConnectTimeout:       cfg.MQTT.ConnectTimeout,
		MaxReconnectInterval: cfg.MQTT.MaxReconnectInterval,
		Workers:              cfg.MQTT.Workers,
	}, monitor, logger, o.brokerOpts...)

	handler := api.NewHandler(monitor, api.ConnectionInfo{
		BrokerAddress:  creds.Broker.Address(),
		WiFiSSID:       creds.WiFi.SSID,
		WiFiConfigured: creds.Configured(),
		MaxWeightKg:    cfg.Warehouse.MaxWeightKg,
	})
	apiRouter := api.NewRouter(handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	rootHandler, err := BuildRootHandler(apiRouter, promhttp.Handler())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to build HTTP handler: %w", err)
	}

	return &App{
		storage:    store,
		monitor:    monitor,
		alarm:      alarm,
		subscriber: subscriber,
		handler:    handler,
		router:     apiRouter,
		logger:     logger,
		server:     NewServer(cfg, rootHandler),
	}, nil
}

// OpenStorage opens the configured storage backend.
func OpenStorage(ctx context.Context, cfg config.Storage) (storage.Storage, error) {
	switch cfg.Driver {
	case config.StorageMemory:
		return storage.NewMemoryStorage(), nil
	case config.StorageSQLite, "":
		store, err := storage.OpenSQLite(ctx, cfg.Path, storage.DefaultSQLiteConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// BuildRootHandler constructs the root HTTP handler that serves the embedded
// dashboard, metrics and API requests.
func BuildRootHandler(apiHandler, metricsHandler http.Handler) (http.Handler, error) {
	mux := http.NewServeMux()

	staticFS, err := fs.Sub(webFS, "web/static")
	if err != nil {
		return nil, err
	}
	index, err := webFS.ReadFile("web/index.html")
	if err != nil {
		return nil, err
	}

	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))
	mux.Handle("/api/", apiHandler)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(index)
	}))

	return mux, nil
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start connects to the broker and starts the HTTP server in a goroutine.
func (a *App) Start(ctx context.Context) error {
	if err := a.subscriber.Start(ctx); err != nil {
		return fmt.Errorf("failed to start broker subscriber: %w", err)
	}

	go func() {
		a.logger.Info("server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the HTTP server down, then the subscriber, the alarm and storage.
func (a *App) Stop(ctx context.Context) error {
	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := a.server.Close(); closeErr != nil {
			errs = append(errs, closeErr)
		}
	}
	a.subscriber.Stop()
	a.alarm.Close()
	if err := a.storage.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	return errors.Join(errs...)
}

// Server returns the HTTP server instance.
func (a *App) Server() *http.Server {
	return a.server
}

// Monitor returns the warehouse monitor fed by the broker.
func (a *App) Monitor() *warehouse.Monitor {
	return a.monitor
}
