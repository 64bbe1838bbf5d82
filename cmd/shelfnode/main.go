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

	"github.com/eugenenazirov/shelf-monitor/internal/config"
	"github.com/eugenenazirov/shelf-monitor/internal/logging"
	"github.com/eugenenazirov/shelf-monitor/internal/node"
	"github.com/eugenenazirov/shelf-monitor/internal/wifi"
)

func main() {
	kingpinApp := kingpin.New("shelfnode", "Shelf node - joins WiFi and publishes simulated shelf readings to the MQTT broker")
	configFile := kingpinApp.Flag("config", "Path to YAML configuration file").String()
	ssid := kingpinApp.Flag("wifi-ssid", "WiFi network SSID").String()
	password := kingpinApp.Flag("wifi-password", "WiFi network password").String()
	mqttHost := kingpinApp.Flag("mqtt-host", "MQTT broker host or IP literal").String()
	mqttPort := kingpinApp.Flag("mqtt-port", "MQTT broker port").Default("0").Int()
	shelfID := kingpinApp.Flag("shelf", "Shelf identifier used in topics").String()
	logLevel := kingpinApp.Flag("log-level", "Log level (debug, info, warn, error)").String()
	seed := kingpinApp.Flag("seed", "Seed for the simulated sensor").Default("0").Uint64()

	kingpin.MustParse(kingpinApp.Parse(os.Args[1:]))

	overrides := &config.CLIOverrides{
		ConfigFile:  *configFile,
		RequireWiFi: true,
	}
	if *ssid != "" {
		overrides.WiFiSSID = ssid
	}
	if *password != "" {
		overrides.WiFiPassword = password
	}
	if *mqttHost != "" {
		overrides.MQTTHost = mqttHost
	}
	if *mqttPort != 0 {
		overrides.MQTTPort = mqttPort
	}
	if *shelfID != "" {
		overrides.ShelfID = shelfID
	}
	if *logLevel != "" {
		overrides.LogLevel = logLevel
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	if *seed == 0 {
		*seed = uint64(time.Now().UnixNano())
	}

	n := node.New(node.Config{
		Credentials:     cfg.Credentials(),
		ShelfID:         cfg.Node.ShelfID,
		TopicPrefix:     cfg.Node.TopicPrefix,
		PublishInterval: cfg.Node.PublishInterval,
		RetryInterval:   cfg.Node.RetryInterval,
	},
		wifi.NewHostJoiner(logger),
		&node.NatiuConnector{
			ClientID:       cfg.MQTT.ClientID + "-" + cfg.Node.ShelfID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			KeepAlive:      cfg.MQTT.KeepAlive,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
			Logger:         logger,
		},
		node.NewSimulatedShelf(cfg.Warehouse.MaxWeightKg, 100, *seed),
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := n.Run(ctx); err != nil {
		logger.Error("shelf node stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("shelf node stopped")
}
