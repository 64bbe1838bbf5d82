package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/shelf-monitor/internal/application"
	"github.com/eugenenazirov/shelf-monitor/internal/config"
	"github.com/eugenenazirov/shelf-monitor/internal/logging"
)

var signalNotify = signal.Notify

type stopper interface {
	Stop(ctx context.Context) error
}

type flags struct {
	configFile     *string
	port           *string
	logLevel       *string
	mqttHost       *string
	mqttPort       *int
	storageDriver  *string
	dbPath         *string
	rateLimitRPS   *float64
	rateLimitBurst *int
}

func main() {
	kingpinApp := kingpin.New("shelf-monitor", "Warehouse shelf monitor - consumes shelf sensor readings over MQTT and serves the dashboard")
	f := registerFlags(kingpinApp)
	kingpin.MustParse(kingpinApp.Parse(os.Args[1:]))

	cfg, err := config.Load(f.overrides())
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx := context.Background()
	app, err := application.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	logger.Info("connecting to broker",
		zap.String("broker", cfg.Credentials().Broker.Address()),
		zap.String("topic", cfg.MQTT.Topic),
	)
	if err := app.Start(ctx); err != nil {
		_ = app.Stop(ctx)
		logger.Fatal("failed to start", zap.Error(err))
	}

	shutdown(app, cfg.ShutdownGracePeriod, logger)
}

func registerFlags(app *kingpin.Application) *flags {
	return &flags{
		configFile:     app.Flag("config", "Path to YAML configuration file").String(),
		port:           app.Flag("port", "HTTP port exposed by the dashboard").String(),
		logLevel:       app.Flag("log-level", "Log level (debug, info, warn, error)").String(),
		mqttHost:       app.Flag("mqtt-host", "MQTT broker host or IP literal").String(),
		mqttPort:       app.Flag("mqtt-port", "MQTT broker port").Default("0").Int(),
		storageDriver:  app.Flag("storage", "Storage driver (sqlite, memory)").String(),
		dbPath:         app.Flag("db-path", "SQLite database path").String(),
		rateLimitRPS:   app.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("-1").Float64(),
		rateLimitBurst: app.Flag("rate-limit-burst", "Burst capacity for rate limiter (set 0 to disable)").Default("-1").Int(),
	}
}

func (f *flags) overrides() *config.CLIOverrides {
	overrides := &config.CLIOverrides{
		ConfigFile: *f.configFile,
	}

	if *f.port != "" {
		overrides.Port = f.port
	}
	if *f.logLevel != "" {
		overrides.LogLevel = f.logLevel
	}
	if *f.mqttHost != "" {
		overrides.MQTTHost = f.mqttHost
	}
	if *f.mqttPort != 0 {
		overrides.MQTTPort = f.mqttPort
	}
	if *f.storageDriver != "" {
		overrides.StorageDriver = f.storageDriver
	}
	if *f.dbPath != "" {
		overrides.DBPath = f.dbPath
	}
	if *f.rateLimitRPS >= 0 {
		overrides.RateLimitRPS = f.rateLimitRPS
	}
	if *f.rateLimitBurst >= 0 {
		overrides.RateLimitBurst = f.rateLimitBurst
	}

	return overrides
}

func shutdown(app stopper, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.Stop(ctx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}
