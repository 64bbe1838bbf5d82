package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/shelf-monitor/internal/credentials"
)

const (
	defaultPort           = "5000"
	defaultRateLimitRPS   = 25.0
	defaultRateLimitBurst = 50
	defaultTopic          = "warehouse/#"
	defaultTopicPrefix    = "warehouse"
	defaultClientID       = "shelf-monitor"
	defaultDBPath         = "warehouse.db"
)

// MaxKeepAlive is the largest keep-alive an MQTT CONNECT packet can carry.
const MaxKeepAlive = 65535 * time.Second

// Storage drivers.
const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > Environment variables > YAML config > Defaults
type Config struct {
	Port                 string
	ShutdownGracePeriod  time.Duration
	ReadHeaderTimeout    time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
	EnableRequestLogging bool
	RateLimitRPS         float64
	RateLimitBurst       int
	LogLevel             string

	// RequireWiFi makes validation reject unconfigured WiFi credentials.
	RequireWiFi bool

	WiFi      credentials.WiFi
	MQTT      MQTT
	Storage   Storage
	Warehouse Warehouse
	Node      Node
}

// MQTT holds the broker connection settings.
type MQTT struct {
	Host                 string
	Port                 int
	ClientID             string
	Username             string
	Password             string
	Topic                string
	KeepAlive            time.Duration
	ConnectTimeout       time.Duration
	MaxReconnectInterval time.Duration
	Workers              int
}

// Storage selects where readings and alerts are kept.
type Storage struct {
	Driver string
	Path   string
}

// Warehouse carries the monitoring thresholds.
type Warehouse struct {
	LowStockKg  float64
	KgPerItem   float64
	MaxWeightKg float64
	AlertBuffer int
	MaxShelves  int
	AlarmCycles int
	AlarmPeriod time.Duration
}

// Node configures the shelf device simulator.
type Node struct {
	ShelfID         string
	TopicPrefix     string
	PublishInterval time.Duration
	RetryInterval   time.Duration
}

// yamlConfig represents the YAML configuration file structure.
type yamlConfig struct {
	Port                 string        `yaml:"port"`
	ShutdownGracePeriod  string        `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    string        `yaml:"read_header_timeout"`
	WriteTimeout         string        `yaml:"write_timeout"`
	IdleTimeout          string        `yaml:"idle_timeout"`
	EnableRequestLogging *bool         `yaml:"enable_request_logging"`
	LogLevel             string        `yaml:"log_level"`
	RateLimit            yamlRateLimit `yaml:"rate_limit"`
	WiFi                 yamlWiFi      `yaml:"wifi"`
	MQTT                 yamlMQTT      `yaml:"mqtt"`
	Storage              yamlStorage   `yaml:"storage"`
	Warehouse            yamlWarehouse `yaml:"warehouse"`
	Node                 yamlNode      `yaml:"node"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS   *float64 `yaml:"rps"`
	Burst *int     `yaml:"burst"`
}

type yamlWiFi struct {
	SSID     string `yaml:"ssid"`
	Password string `yaml:"password"`
}

type yamlMQTT struct {
	Host                 string `yaml:"host"`
	Port                 int    `yaml:"port"`
	ClientID             string `yaml:"client_id"`
	Username             string `yaml:"username"`
	Password             string `yaml:"password"`
	Topic                string `yaml:"topic"`
	KeepAlive            string `yaml:"keep_alive"`
	ConnectTimeout       string `yaml:"connect_timeout"`
	MaxReconnectInterval string `yaml:"max_reconnect_interval"`
	Workers              int    `yaml:"workers"`
}

type yamlStorage struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type yamlWarehouse struct {
	LowStockKg  float64 `yaml:"low_stock_kg"`
	KgPerItem   float64 `yaml:"kg_per_item"`
	MaxWeightKg float64 `yaml:"max_weight_kg"`
	AlertBuffer int     `yaml:"alert_buffer"`
	MaxShelves  int     `yaml:"max_shelves"`
	AlarmCycles int     `yaml:"alarm_cycles"`
	AlarmPeriod string  `yaml:"alarm_period"`
}

type yamlNode struct {
	ShelfID         string `yaml:"shelf_id"`
	TopicPrefix     string `yaml:"topic_prefix"`
	PublishInterval string `yaml:"publish_interval"`
	RetryInterval   string `yaml:"retry_interval"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile     string
	Port           *string
	RateLimitRPS   *float64
	RateLimitBurst *int
	LogLevel       *string
	MQTTHost       *string
	MQTTPort       *int
	WiFiSSID       *string
	WiFiPassword   *string
	StorageDriver  *string
	DBPath         *string
	ShelfID        *string
	RequireWiFi    bool
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > Environment variables > YAML config > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	// Load from YAML file if specified
	if overrides != nil && overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		if err := applyYAMLConfig(&cfg, yamlCfg); err != nil {
			return Config{}, fmt.Errorf("apply YAML config: %w", err)
		}
	}

	// Apply environment variables (override YAML)
	if err := applyEnvConfig(&cfg); err != nil {
		return Config{}, fmt.Errorf("apply environment config: %w", err)
	}

	// Apply CLI overrides (highest precedence)
	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	// Validate final configuration
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Default returns a Config populated with defaults only.
func Default() Config {
	return defaultConfig()
}

// defaultConfig returns a Config with default values. Credentials start from
// the compiled-in constants.
func defaultConfig() Config {
	compiled := credentials.Default()
	return Config{
		Port:                 defaultPort,
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
		LogLevel:             "info",
		WiFi:                 compiled.WiFi,
		MQTT: MQTT{
			Host:                 compiled.Broker.Host,
			Port:                 compiled.Broker.Port,
			ClientID:             defaultClientID,
			Topic:                defaultTopic,
			KeepAlive:            60 * time.Second,
			ConnectTimeout:       10 * time.Second,
			MaxReconnectInterval: 30 * time.Second,
			Workers:              4,
		},
		Storage: Storage{
			Driver: StorageSQLite,
			Path:   defaultDBPath,
		},
		Warehouse: Warehouse{
			LowStockKg:  2.0,
			KgPerItem:   0.5,
			MaxWeightKg: 10,
			AlertBuffer: 50,
			MaxShelves:  32,
			AlarmCycles: 10,
			AlarmPeriod: time.Second,
		},
		Node: Node{
			ShelfID:         "shelf1",
			TopicPrefix:     defaultTopicPrefix,
			PublishInterval: 5 * time.Second,
			RetryInterval:   2 * time.Second,
		},
	}
}

// Credentials returns the resolved WiFi and broker values.
func (c Config) Credentials() credentials.Credentials {
	return credentials.Credentials{
		WiFi:   c.WiFi,
		Broker: credentials.Broker{Host: c.MQTT.Host, Port: c.MQTT.Port},
	}
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies YAML configuration to the Config struct.
func applyYAMLConfig(cfg *Config, yamlCfg *yamlConfig) error {
	if yamlCfg.Port != "" {
		cfg.Port = yamlCfg.Port
	}

	durations := []struct {
		raw string
		dst *time.Duration
	}{
		{yamlCfg.ShutdownGracePeriod, &cfg.ShutdownGracePeriod},
		{yamlCfg.ReadHeaderTimeout, &cfg.ReadHeaderTimeout},
		{yamlCfg.WriteTimeout, &cfg.WriteTimeout},
		{yamlCfg.IdleTimeout, &cfg.IdleTimeout},
		{yamlCfg.MQTT.KeepAlive, &cfg.MQTT.KeepAlive},
		{yamlCfg.MQTT.ConnectTimeout, &cfg.MQTT.ConnectTimeout},
		{yamlCfg.MQTT.MaxReconnectInterval, &cfg.MQTT.MaxReconnectInterval},
		{yamlCfg.Warehouse.AlarmPeriod, &cfg.Warehouse.AlarmPeriod},
		{yamlCfg.Node.PublishInterval, &cfg.Node.PublishInterval},
		{yamlCfg.Node.RetryInterval, &cfg.Node.RetryInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", d.raw, err)
		}
		*d.dst = parsed
	}

	if yamlCfg.EnableRequestLogging != nil {
		cfg.EnableRequestLogging = *yamlCfg.EnableRequestLogging
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.RateLimit.RPS != nil && *yamlCfg.RateLimit.RPS >= 0 {
		cfg.RateLimitRPS = *yamlCfg.RateLimit.RPS
	}
	if yamlCfg.RateLimit.Burst != nil && *yamlCfg.RateLimit.Burst >= 0 {
		cfg.RateLimitBurst = *yamlCfg.RateLimit.Burst
	}

	setString(&cfg.WiFi.SSID, yamlCfg.WiFi.SSID)
	if yamlCfg.WiFi.Password != "" {
		cfg.WiFi.Password = yamlCfg.WiFi.Password
	}

	setString(&cfg.MQTT.Host, yamlCfg.MQTT.Host)
	if yamlCfg.MQTT.Port != 0 {
		cfg.MQTT.Port = yamlCfg.MQTT.Port
	}
	setString(&cfg.MQTT.ClientID, yamlCfg.MQTT.ClientID)
	setString(&cfg.MQTT.Username, yamlCfg.MQTT.Username)
	if yamlCfg.MQTT.Password != "" {
		cfg.MQTT.Password = yamlCfg.MQTT.Password
	}
	setString(&cfg.MQTT.Topic, yamlCfg.MQTT.Topic)
	if yamlCfg.MQTT.Workers > 0 {
		cfg.MQTT.Workers = yamlCfg.MQTT.Workers
	}

	setString(&cfg.Storage.Driver, yamlCfg.Storage.Driver)
	setString(&cfg.Storage.Path, yamlCfg.Storage.Path)

	if yamlCfg.Warehouse.LowStockKg > 0 {
		cfg.Warehouse.LowStockKg = yamlCfg.Warehouse.LowStockKg
	}
	if yamlCfg.Warehouse.KgPerItem > 0 {
		cfg.Warehouse.KgPerItem = yamlCfg.Warehouse.KgPerItem
	}
	if yamlCfg.Warehouse.MaxWeightKg > 0 {
		cfg.Warehouse.MaxWeightKg = yamlCfg.Warehouse.MaxWeightKg
	}
	if yamlCfg.Warehouse.AlertBuffer > 0 {
		cfg.Warehouse.AlertBuffer = yamlCfg.Warehouse.AlertBuffer
	}
	if yamlCfg.Warehouse.MaxShelves > 0 {
		cfg.Warehouse.MaxShelves = yamlCfg.Warehouse.MaxShelves
	}
	if yamlCfg.Warehouse.AlarmCycles > 0 {
		cfg.Warehouse.AlarmCycles = yamlCfg.Warehouse.AlarmCycles
	}

	setString(&cfg.Node.ShelfID, yamlCfg.Node.ShelfID)
	setString(&cfg.Node.TopicPrefix, yamlCfg.Node.TopicPrefix)

	return nil
}

// applyEnvConfig applies environment variable configuration. Rate limits keep
// their previous value on a parse failure; a malformed broker port is an error.
func applyEnvConfig(cfg *Config) error {
	if port := env("PORT"); port != "" {
		cfg.Port = port
	}

	if rps := env("RATE_LIMIT_RPS"); rps != "" {
		if value, err := strconv.ParseFloat(rps, 64); err == nil && value >= 0 {
			cfg.RateLimitRPS = value
		}
	}

	if burst := env("RATE_LIMIT_BURST"); burst != "" {
		if value, err := strconv.Atoi(burst); err == nil && value >= 0 {
			cfg.RateLimitBurst = value
		}
	}

	setString(&cfg.LogLevel, env("LOG_LEVEL"))

	// Secrets are not trimmed: whitespace may be significant in a passphrase.
	if ssid := env("WIFI_SSID"); ssid != "" {
		cfg.WiFi.SSID = ssid
	}
	if pass := os.Getenv("WIFI_PASSWORD"); pass != "" {
		cfg.WiFi.Password = pass
	}

	setString(&cfg.MQTT.Host, env("MQTT_HOST"))
	if port := env("MQTT_PORT"); port != "" {
		value, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("MQTT_PORT %q: %w", port, credentials.ErrInvalidPort)
		}
		cfg.MQTT.Port = value
	}
	setString(&cfg.MQTT.ClientID, env("MQTT_CLIENT_ID"))
	setString(&cfg.MQTT.Username, env("MQTT_USERNAME"))
	if pass := os.Getenv("MQTT_PASSWORD"); pass != "" {
		cfg.MQTT.Password = pass
	}

	setString(&cfg.Storage.Driver, env("STORAGE_DRIVER"))
	setString(&cfg.Storage.Path, env("DB_PATH"))
	setString(&cfg.Node.ShelfID, env("SHELF_ID"))
	return nil
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) {
	if overrides.Port != nil && *overrides.Port != "" {
		cfg.Port = *overrides.Port
	}

	if overrides.RateLimitRPS != nil && *overrides.RateLimitRPS >= 0 {
		cfg.RateLimitRPS = *overrides.RateLimitRPS
	}

	if overrides.RateLimitBurst != nil && *overrides.RateLimitBurst >= 0 {
		cfg.RateLimitBurst = *overrides.RateLimitBurst
	}

	setStringPtr(&cfg.LogLevel, overrides.LogLevel)
	setStringPtr(&cfg.MQTT.Host, overrides.MQTTHost)
	if overrides.MQTTPort != nil && *overrides.MQTTPort != 0 {
		cfg.MQTT.Port = *overrides.MQTTPort
	}
	setStringPtr(&cfg.WiFi.SSID, overrides.WiFiSSID)
	if overrides.WiFiPassword != nil && *overrides.WiFiPassword != "" {
		cfg.WiFi.Password = *overrides.WiFiPassword
	}
	setStringPtr(&cfg.Storage.Driver, overrides.StorageDriver)
	setStringPtr(&cfg.Storage.Path, overrides.DBPath)
	setStringPtr(&cfg.Node.ShelfID, overrides.ShelfID)

	if overrides.RequireWiFi {
		cfg.RequireWiFi = true
	}
}

// Validate validates the final configuration.
func (c Config) Validate() error {
	var errs []error

	if c.RateLimitRPS < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS must be >= 0"))
	}
	if c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_BURST must be >= 0"))
	}

	creds := c.Credentials()
	if err := creds.Broker.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("mqtt: %w", err))
	}
	if c.RequireWiFi {
		if err := creds.WiFi.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(c.MQTT.Topic) == "" {
		errs = append(errs, errors.New("mqtt topic cannot be empty"))
	}
	if c.MQTT.KeepAlive < 0 || c.MQTT.KeepAlive > MaxKeepAlive {
		errs = append(errs, fmt.Errorf("mqtt keep alive must be between 0 and %s", MaxKeepAlive))
	}
	// The node sends no PINGREQ, so its publishes have to keep the session alive.
	if c.RequireWiFi && c.MQTT.KeepAlive > 0 && c.Node.PublishInterval > c.MQTT.KeepAlive {
		errs = append(errs, fmt.Errorf("node publish interval %s exceeds mqtt keep alive %s", c.Node.PublishInterval, c.MQTT.KeepAlive))
	}
	if c.MQTT.Workers < 1 {
		errs = append(errs, errors.New("mqtt workers must be >= 1"))
	}

	switch c.Storage.Driver {
	case StorageMemory:
	case StorageSQLite:
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, errors.New("sqlite storage requires a path"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}

	if c.Warehouse.KgPerItem <= 0 {
		errs = append(errs, errors.New("kg per item must be positive"))
	}
	if c.Warehouse.MaxShelves < 1 {
		errs = append(errs, errors.New("max shelves must be >= 1"))
	}
	if c.Warehouse.AlertBuffer < 1 {
		errs = append(errs, errors.New("alert buffer must be >= 1"))
	}
	if c.Node.PublishInterval <= 0 {
		errs = append(errs, errors.New("publish interval must be positive"))
	}

	return errors.Join(errs...)
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setStringPtr(dst *string, v *string) {
	if v != nil {
		setString(dst, *v)
	}
}
