package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultHistoryLimit is the number of rows returned when no limit is given.
const DefaultHistoryLimit = 50

var (
	// ErrInvalidReading indicates the reading is missing its shelf id.
	ErrInvalidReading = errors.New("reading requires a shelf id")
	// ErrInvalidAlert indicates the alert is missing its type or message.
	ErrInvalidAlert = errors.New("alert requires a type and message")
)

// Reading is a persisted shelf sample.
type Reading struct {
	ShelfID    string
	WeightKg   float64
	DistanceCm int
	Timestamp  time.Time
}

// Alert is a persisted alert entry.
type Alert struct {
	Type      string
	Message   string
	Timestamp time.Time
}

// Storage persists shelf readings and alerts.
type Storage interface {
	SaveReading(ctx context.Context, r Reading) error
	SaveAlert(ctx context.Context, a Alert) error
	// History returns the newest readings for a shelf, newest first.
	History(ctx context.Context, shelfID string, limit int) ([]Reading, error)
	// RecentAlerts returns the newest alerts, newest first.
	RecentAlerts(ctx context.Context, limit int) ([]Alert, error)
	Close() error
}

// MemoryStorage keeps readings and alerts in-memory and guards access with a RWMutex.
type MemoryStorage struct {
	mu       sync.RWMutex
	readings map[string][]Reading
	alerts   []Alert
	clock    func() time.Time
}

// NewMemoryStorage initialises an empty store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		readings: make(map[string][]Reading),
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// SaveReading appends a reading, stamping it when Timestamp is zero.
func (s *MemoryStorage) SaveReading(_ context.Context, r Reading) error {
	if err := validateReading(&r, s.clock); err != nil {
		return err
	}

	s.mu.Lock()
	s.readings[r.ShelfID] = append(s.readings[r.ShelfID], r)
	s.mu.Unlock()

	return nil
}

// SaveAlert appends an alert, stamping it when Timestamp is zero.
func (s *MemoryStorage) SaveAlert(_ context.Context, a Alert) error {
	if err := validateAlert(&a, s.clock); err != nil {
		return err
	}

	s.mu.Lock()
	s.alerts = append(s.alerts, a)
	s.mu.Unlock()

	return nil
}

// History returns a defensive copy of the newest readings for shelfID.
func (s *MemoryStorage) History(_ context.Context, shelfID string, limit int) ([]Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Reading, len(s.readings[shelfID]))
	copy(out, s.readings[shelfID])
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return truncate(out, limit), nil
}

// RecentAlerts returns a defensive copy of the newest alerts.
func (s *MemoryStorage) RecentAlerts(_ context.Context, limit int) ([]Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Alert, len(s.alerts))
	for i, a := range s.alerts {
		out[len(s.alerts)-1-i] = a
	}
	return truncate(out, limit), nil
}

// Close is a no-op for the memory store.
func (s *MemoryStorage) Close() error {
	return nil
}

func validateReading(r *Reading, clock func() time.Time) error {
	r.ShelfID = strings.TrimSpace(r.ShelfID)
	if r.ShelfID == "" {
		return ErrInvalidReading
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = clock()
	}
	return nil
}

func validateAlert(a *Alert, clock func() time.Time) error {
	if strings.TrimSpace(a.Type) == "" || strings.TrimSpace(a.Message) == "" {
		return ErrInvalidAlert
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = clock()
	}
	return nil
}

func truncate[T any](items []T, limit int) []T {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if len(items) > limit {
		return items[:limit]
	}
	return items
}
