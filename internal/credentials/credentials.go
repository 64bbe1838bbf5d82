package credentials

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// WiFi Credentials - UPDATE THESE
const (
	SSID     = "YOUR_WIFI_SSID"
	Password = "YOUR_WIFI_PASSWORD"
)

// MQTT Broker Details
const (
	MQTTServer = "192.168.1.100" // Raspberry Pi IP address
	MQTTPort   = 1883
)

// MQTTTLSPort is the conventional port for MQTT over TLS.
const MQTTTLSPort = 8883

var (
	// ErrUnconfigured is returned when a value still holds its placeholder.
	ErrUnconfigured = errors.New("credentials: placeholder value not replaced")
	// ErrEmptyValue is returned when a required value is empty.
	ErrEmptyValue = errors.New("credentials: value is empty")
	// ErrInvalidPort is returned when the broker port is outside 1-65535.
	ErrInvalidPort = errors.New("credentials: broker port must be between 1 and 65535")
	// ErrInvalidHost is returned when the broker address is neither an IP literal nor a hostname.
	ErrInvalidHost = errors.New("credentials: broker address is not a valid IP or hostname")
)

var placeholders = map[string]struct{}{
	SSID:     {},
	Password: {},
}

// WiFi is what a WiFi connection manager consumes.
type WiFi struct {
	SSID     string
	Password string
}

// Broker is what an MQTT client consumes.
type Broker struct {
	Host string
	Port int
}

// Credentials groups both halves.
type Credentials struct {
	WiFi   WiFi
	Broker Broker
}

// Default returns the compiled-in values.
func Default() Credentials {
	return Credentials{
		WiFi:   WiFi{SSID: SSID, Password: Password},
		Broker: Broker{Host: MQTTServer, Port: MQTTPort},
	}
}

// IsPlaceholder reports whether v is one of the shipped placeholder strings.
func IsPlaceholder(v string) bool {
	_, ok := placeholders[strings.TrimSpace(v)]
	return ok
}

// Address joins host and port, bracketing IPv6 literals.
func (b Broker) Address() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// Validate checks the broker half.
func (b Broker) Validate() error {
	if b.Port < 1 || b.Port > 65535 {
		return fmt.Errorf("%w: got %d", ErrInvalidPort, b.Port)
	}
	host := strings.TrimSpace(b.Host)
	if host == "" {
		return fmt.Errorf("broker address: %w", ErrEmptyValue)
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return nil
	}
	if !validHostname(host) {
		return fmt.Errorf("%w: %q", ErrInvalidHost, b.Host)
	}
	return nil
}

// Validate checks the WiFi half. Placeholders count as unconfigured.
func (w WiFi) Validate() error {
	if strings.TrimSpace(w.SSID) == "" {
		return fmt.Errorf("wifi ssid: %w", ErrEmptyValue)
	}
	if IsPlaceholder(w.SSID) {
		return fmt.Errorf("wifi ssid: %w", ErrUnconfigured)
	}
	if w.Password == "" {
		return fmt.Errorf("wifi password: %w", ErrEmptyValue)
	}
	if IsPlaceholder(w.Password) {
		return fmt.Errorf("wifi password: %w", ErrUnconfigured)
	}
	return nil
}

// Validate checks all four values and joins every failure.
func (c Credentials) Validate() error {
	return errors.Join(c.WiFi.Validate(), c.Broker.Validate())
}

// Configured reports whether the WiFi half has been filled in.
func (c Credentials) Configured() bool {
	return c.WiFi.Validate() == nil
}

// validHostname applies RFC 1123 label rules.
func validHostname(host string) bool {
	host = strings.TrimSuffix(host, ".")
	if len(host) == 0 || len(host) > 253 {
		return false
	}
	labels := strings.Split(host, ".")
	if allDigits(labels[len(labels)-1]) {
		return false
	}
	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			switch {
			case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
			default:
				return false
			}
		}
	}
	return true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
