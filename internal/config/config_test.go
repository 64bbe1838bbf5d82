package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eugenenazirov/shelf-monitor/internal/credentials"
)

var envKeys = []string{
	"PORT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "LOG_LEVEL",
	"WIFI_SSID", "WIFI_PASSWORD", "MQTT_HOST", "MQTT_PORT", "MQTT_CLIENT_ID",
	"MQTT_USERNAME", "MQTT_PASSWORD", "STORAGE_DRIVER", "DB_PATH", "SHELF_ID",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Port != defaultPort {
		t.Fatalf("expected default port %s, got %s", defaultPort, cfg.Port)
	}
	if cfg.ShutdownGracePeriod != 10*time.Second {
		t.Fatalf("unexpected shutdown grace period: %s", cfg.ShutdownGracePeriod)
	}
	if got, want := cfg.Credentials(), credentials.Default(); got != want {
		t.Fatalf("expected compiled credentials %+v, got %+v", want, got)
	}
	if cfg.MQTT.Topic != "warehouse/#" {
		t.Fatalf("unexpected topic %s", cfg.MQTT.Topic)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("WIFI_SSID", "HomeNet")
	t.Setenv("WIFI_PASSWORD", "secret123")
	t.Setenv("MQTT_HOST", "10.0.0.5")
	t.Setenv("MQTT_PORT", "1883")

	cfg, err := Load(&CLIOverrides{RequireWiFi: true})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Port != "9000" {
		t.Fatalf("expected overridden port, got %s", cfg.Port)
	}
	want := credentials.Credentials{
		WiFi:   credentials.WiFi{SSID: "HomeNet", Password: "secret123"},
		Broker: credentials.Broker{Host: "10.0.0.5", Port: 1883},
	}
	if got := cfg.Credentials(); got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestLoadPrecedence(t *testing.T) {
	clearEnv(t)
	path := writeYAML(t, `
port: "7000"
log_level: debug
wifi:
  ssid: yaml-net
  password: yaml-pass
mqtt:
  host: broker.yaml
  port: 8883
  keep_alive: 30s
  workers: 2
storage:
  driver: memory
warehouse:
  low_stock_kg: 3.5
rate_limit:
  rps: 0
`)
	t.Setenv("MQTT_HOST", "broker.env")

	cliHost := "broker.cli"
	cfg, err := Load(&CLIOverrides{ConfigFile: path, MQTTHost: &cliHost})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Port != "7000" || cfg.LogLevel != "debug" {
		t.Fatalf("yaml values not applied: port=%s level=%s", cfg.Port, cfg.LogLevel)
	}
	if cfg.MQTT.Host != "broker.cli" {
		t.Fatalf("expected CLI to win, got %s", cfg.MQTT.Host)
	}
	if cfg.MQTT.Port != 8883 || cfg.MQTT.KeepAlive != 30*time.Second || cfg.MQTT.Workers != 2 {
		t.Fatalf("unexpected mqtt section: %+v", cfg.MQTT)
	}
	if cfg.WiFi.SSID != "yaml-net" || cfg.WiFi.Password != "yaml-pass" {
		t.Fatalf("unexpected wifi section: %+v", cfg.WiFi)
	}
	if cfg.Storage.Driver != StorageMemory {
		t.Fatalf("unexpected storage driver %s", cfg.Storage.Driver)
	}
	if cfg.Warehouse.LowStockKg != 3.5 || cfg.Warehouse.KgPerItem != 0.5 {
		t.Fatalf("unexpected warehouse section: %+v", cfg.Warehouse)
	}
	if cfg.RateLimitRPS != 0 {
		t.Fatalf("expected rate limit disabled, got %v", cfg.RateLimitRPS)
	}

	t.Run("env beats yaml", func(t *testing.T) {
		cfg, err := Load(&CLIOverrides{ConfigFile: path})
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.MQTT.Host != "broker.env" {
			t.Fatalf("expected env host, got %s", cfg.MQTT.Host)
		}
	})
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Run("bad port", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("MQTT_PORT", "70000")
		_, err := Load(nil)
		if !errors.Is(err, credentials.ErrInvalidPort) {
			t.Fatalf("expected ErrInvalidPort, got %v", err)
		}
	})

	t.Run("malformed port", func(t *testing.T) {
		for _, port := range []string{"abc", "88o3", "1883.0"} {
			clearEnv(t)
			t.Setenv("MQTT_PORT", port)
			cfg, err := Load(nil)
			if !errors.Is(err, credentials.ErrInvalidPort) {
				t.Fatalf("MQTT_PORT=%q: expected ErrInvalidPort, got cfg.MQTT.Port=%d err=%v", port, cfg.MQTT.Port, err)
			}
		}
	})

	t.Run("keep alive out of range", func(t *testing.T) {
		clearEnv(t)
		path := writeYAML(t, "mqtt:\n  keep_alive: 19h\n")
		if _, err := Load(&CLIOverrides{ConfigFile: path}); err == nil {
			t.Fatalf("expected error for keep alive above %s", MaxKeepAlive)
		}
	})

	t.Run("publish interval beyond keep alive in device mode", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("WIFI_SSID", "HomeNet")
		t.Setenv("WIFI_PASSWORD", "secret123")
		path := writeYAML(t, "mqtt:\n  keep_alive: 30s\nnode:\n  publish_interval: 2m\n")

		if _, err := Load(&CLIOverrides{ConfigFile: path, RequireWiFi: true}); err == nil {
			t.Fatalf("expected error when publish interval exceeds keep alive")
		}
		if _, err := Load(&CLIOverrides{ConfigFile: path}); err != nil {
			t.Fatalf("backend mode should not check node timing: %v", err)
		}
	})

	t.Run("placeholder wifi in device mode", func(t *testing.T) {
		clearEnv(t)
		_, err := Load(&CLIOverrides{RequireWiFi: true})
		if !errors.Is(err, credentials.ErrUnconfigured) {
			t.Fatalf("expected ErrUnconfigured, got %v", err)
		}
	})

	t.Run("bad duration", func(t *testing.T) {
		clearEnv(t)
		path := writeYAML(t, "mqtt:\n  keep_alive: soon\n")
		if _, err := Load(&CLIOverrides{ConfigFile: path}); err == nil {
			t.Fatalf("expected error for invalid duration")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		clearEnv(t)
		if _, err := Load(&CLIOverrides{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")}); err == nil {
			t.Fatalf("expected error for missing file")
		}
	})

	t.Run("unknown storage", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STORAGE_DRIVER", "postgres")
		if _, err := Load(nil); err == nil {
			t.Fatalf("expected error for unknown storage driver")
		}
	})
}

func TestPasswordsKeepWhitespace(t *testing.T) {
	clearEnv(t)
	t.Setenv("WIFI_PASSWORD", " spaced pass ")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.WiFi.Password != " spaced pass " {
		t.Fatalf("password was altered: %q", cfg.WiFi.Password)
	}
}
