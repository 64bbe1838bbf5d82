package warehouse

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/shelf-monitor/internal/metrics"
	"github.com/eugenenazirov/shelf-monitor/internal/storage"
)

const (
	dashboardAlerts = 10
	initialDistance = 100
	statusOnline    = "online"
	maxShelfIDLen   = 32
)

// Monitor keeps the live shelf state and reacts to sensor messages.
type Monitor struct {
	settings Settings
	store    storage.Storage
	alarm    Alarm
	logger   *zap.Logger
	clock    func() time.Time

	mu       sync.RWMutex
	shelves  map[string]*Shelf
	lowStock map[string]bool
	alerts   []Alert
}

// Option configures Monitor behaviour.
type Option func(*Monitor)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Monitor) {
		m.clock = clock
	}
}

// WithAlarm sets the alarm fired on motion.
func WithAlarm(alarm Alarm) Option {
	return func(m *Monitor) {
		m.alarm = alarm
	}
}

// New constructs a Monitor seeded with the default shelf.
func New(settings Settings, store storage.Storage, logger *zap.Logger, opts ...Option) (*Monitor, error) {
	if settings.KgPerItem <= 0 || settings.AlertBuffer < 1 || settings.MaxShelves < 0 {
		return nil, ErrInvalidSettings
	}
	if settings.MaxShelves == 0 {
		settings.MaxShelves = DefaultMaxShelves
	}
	if store == nil {
		return nil, fmt.Errorf("%w: storage is required", ErrInvalidSettings)
	}

	m := &Monitor{
		settings: settings,
		store:    store,
		alarm:    nopAlarm{},
		logger:   logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
		shelves:  make(map[string]*Shelf),
		lowStock: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.shelves[DefaultShelfID] = &Shelf{ID: DefaultShelfID, DistanceCm: initialDistance}
	return m, nil
}

// HandleMessage routes one sensor message by topic. Topics look like
// "warehouse/<kind>" or "warehouse/<shelf>/<kind>". Unknown kinds are ignored.
//
// A low-stock alert is raised when a shelf's weight crosses below
// Settings.LowStockKg, not on every low reading; it re-arms once the shelf is
// restocked. Shelf ids must be at most 32 letters, digits, '-' or '_', and at
// most Settings.MaxShelves distinct shelves are tracked; other messages fail
// with ErrShelfRejected.
func (m *Monitor) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	shelfID, kind := ParseTopic(topic)
	value := strings.TrimSpace(string(payload))

	if kind != "" && kind != KindPIR && !validShelfID(shelfID) {
		metrics.IncHandlerError(kind)
		return fmt.Errorf("%w: malformed id in %q", ErrShelfRejected, topic)
	}

	var err error
	switch kind {
	case KindWeight:
		err = m.handleWeight(ctx, shelfID, value)
	case KindDistance:
		err = m.handleDistance(shelfID, value)
	case KindPIR:
		err = m.handleMotion(ctx, value)
	case KindRFID:
		err = m.handleRFID(ctx, shelfID, value)
	default:
		m.logger.Debug("ignoring message", zap.String("topic", topic))
		return nil
	}

	metrics.IncMessage(kind)
	if err != nil {
		metrics.IncHandlerError(kind)
		return fmt.Errorf("handle %s message on %q: %w", kind, topic, err)
	}
	return nil
}

// ParseTopic extracts the shelf id and sensor kind from a topic.
func ParseTopic(topic string) (shelfID, kind string) {
	segments := strings.Split(strings.Trim(topic, "/"), "/")
	last := strings.ToLower(segments[len(segments)-1])

	for _, k := range []string{KindWeight, KindDistance, KindPIR, KindRFID} {
		if strings.Contains(last, k) {
			kind = k
			break
		}
	}

	shelfID = DefaultShelfID
	if len(segments) >= 3 && segments[len(segments)-2] != "" {
		shelfID = segments[len(segments)-2]
	}
	return shelfID, kind
}

func (m *Monitor) handleWeight(ctx context.Context, shelfID, raw string) error {
	weight, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(weight) || math.IsInf(weight, 0) {
		return fmt.Errorf("%w: weight %q", ErrInvalidPayload, raw)
	}

	now := m.clock()
	m.mu.Lock()
	shelf, err := m.shelfLocked(shelfID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	shelf.WeightKg = weight
	shelf.Items = int(weight / m.settings.KgPerItem)
	shelf.LastUpdate = now
	distance := shelf.DistanceCm
	low := weight < m.settings.LowStockKg
	enteredLow := low && !m.lowStock[shelfID]
	m.lowStock[shelfID] = low
	m.mu.Unlock()

	metrics.SetShelfWeight(shelfID, weight)

	if err := m.store.SaveReading(ctx, storage.Reading{
		ShelfID:    shelfID,
		WeightKg:   weight,
		DistanceCm: distance,
		Timestamp:  now,
	}); err != nil {
		return fmt.Errorf("save reading: %w", err)
	}

	if enteredLow {
		msg := fmt.Sprintf("%s is low on stock! Current weight: %gkg", shelfLabel(shelfID), weight)
		return m.raise(ctx, AlertStock, msg)
	}
	return nil
}

func (m *Monitor) handleDistance(shelfID, raw string) error {
	distance, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%w: distance %q", ErrInvalidPayload, raw)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	shelf, err := m.shelfLocked(shelfID)
	if err != nil {
		return err
	}
	shelf.DistanceCm = distance
	shelf.LastUpdate = m.clock()
	return nil
}

func (m *Monitor) handleMotion(ctx context.Context, raw string) error {
	if raw != "1" {
		return nil
	}
	if err := m.raise(ctx, AlertSecurity, "Unauthorized motion detected in warehouse!"); err != nil {
		return err
	}
	m.alarm.Trigger()
	return nil
}

func (m *Monitor) handleRFID(ctx context.Context, shelfID, tag string) error {
	if tag == "" {
		return fmt.Errorf("%w: empty rfid tag", ErrInvalidPayload)
	}
	m.logger.Info("rfid scan", zap.String("shelf", shelfID), zap.String("tag", tag))
	metrics.IncAlert(AlertRFID)

	// Scans go to storage only; they are not dashboard alerts.
	return m.store.SaveAlert(ctx, storage.Alert{
		Type:      AlertRFID,
		Message:   fmt.Sprintf("RFID scan on %s: %s", shelfID, tag),
		Timestamp: m.clock(),
	})
}

func (m *Monitor) raise(ctx context.Context, alertType, msg string) error {
	alert := Alert{Type: alertType, Message: msg, Timestamp: m.clock()}

	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	if over := len(m.alerts) - m.settings.AlertBuffer; over > 0 {
		m.alerts = append([]Alert(nil), m.alerts[over:]...)
	}
	m.mu.Unlock()

	metrics.IncAlert(alertType)
	m.logger.Warn("alert raised", zap.String("type", alertType), zap.String("message", msg))

	if err := m.store.SaveAlert(ctx, storage.Alert{
		Type:      alert.Type,
		Message:   alert.Message,
		Timestamp: alert.Timestamp,
	}); err != nil {
		return fmt.Errorf("save alert: %w", err)
	}
	return nil
}

// Dashboard returns every shelf ordered by id, the newest alerts (oldest
// first, at most 10) and the system status.
func (m *Monitor) Dashboard() Dashboard {
	m.mu.RLock()
	defer m.mu.RUnlock()

	shelves := make([]Shelf, 0, len(m.shelves))
	for _, s := range m.shelves {
		shelves = append(shelves, *s)
	}
	sort.Slice(shelves, func(i, j int) bool { return shelves[i].ID < shelves[j].ID })

	start := len(m.alerts) - dashboardAlerts
	if start < 0 {
		start = 0
	}
	alerts := make([]Alert, len(m.alerts)-start)
	copy(alerts, m.alerts[start:])

	return Dashboard{Shelves: shelves, Alerts: alerts, Status: statusOnline}
}

// History proxies to storage for one shelf.
func (m *Monitor) History(ctx context.Context, shelfID string, limit int) ([]storage.Reading, error) {
	return m.store.History(ctx, shelfID, limit)
}

// Settings returns the thresholds in use.
func (m *Monitor) Settings() Settings {
	return m.settings
}

func (m *Monitor) shelfLocked(id string) (*Shelf, error) {
	if shelf, ok := m.shelves[id]; ok {
		return shelf, nil
	}
	if len(m.shelves) >= m.settings.MaxShelves {
		return nil, fmt.Errorf("%w: limit of %d shelves reached, dropping %q", ErrShelfRejected, m.settings.MaxShelves, id)
	}
	shelf := &Shelf{ID: id, DistanceCm: initialDistance}
	m.shelves[id] = shelf
	return shelf, nil
}

func validShelfID(id string) bool {
	if id == "" || len(id) > maxShelfIDLen {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// shelfLabel renders "shelf1" as "Shelf 1" for alert text.
func shelfLabel(id string) string {
	if rest, ok := strings.CutPrefix(id, "shelf"); ok && rest != "" {
		if _, err := strconv.Atoi(rest); err == nil {
			return "Shelf " + rest
		}
	}
	return id
}
