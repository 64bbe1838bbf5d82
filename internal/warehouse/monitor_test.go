package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/shelf-monitor/internal/storage"
)

type countingAlarm struct {
	n atomic.Int32
}

func (c *countingAlarm) Trigger() { c.n.Add(1) }

type failingStore struct {
	*storage.MemoryStorage
}

func (failingStore) SaveReading(context.Context, storage.Reading) error {
	return errors.New("disk full")
}

func newTestMonitor(t *testing.T, opts ...Option) (*Monitor, *storage.MemoryStorage) {
	t.Helper()

	store := storage.NewMemoryStorage()
	now := time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	m, err := New(DefaultSettings(), store, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return m, store
}

func TestParseTopic(t *testing.T) {
	tests := []struct {
		topic     string
		wantShelf string
		wantKind  string
	}{
		{topic: "warehouse/weight", wantShelf: "shelf1", wantKind: KindWeight},
		{topic: "warehouse/shelf2/distance", wantShelf: "shelf2", wantKind: KindDistance},
		{topic: "warehouse/pir", wantShelf: "shelf1", wantKind: KindPIR},
		{topic: "warehouse/shelf3/rfid", wantShelf: "shelf3", wantKind: KindRFID},
		{topic: "warehouse/shelf1/weight_kg", wantShelf: "shelf1", wantKind: KindWeight},
		{topic: "warehouse/temperature", wantShelf: "shelf1", wantKind: ""},
	}

	for _, tc := range tests {
		t.Run(tc.topic, func(t *testing.T) {
			shelf, kind := ParseTopic(tc.topic)
			require.Equal(t, tc.wantShelf, shelf)
			require.Equal(t, tc.wantKind, kind)
		})
	}
}

func TestNewRejectsInvalidSettings(t *testing.T) {
	logger := zaptest.NewLogger(t)
	_, err := New(Settings{KgPerItem: 0, AlertBuffer: 1}, storage.NewMemoryStorage(), logger)
	require.ErrorIs(t, err, ErrInvalidSettings)

	_, err = New(DefaultSettings(), nil, logger)
	require.ErrorIs(t, err, ErrInvalidSettings)
}

func TestWeightUpdatesShelfAndPersists(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMonitor(t)

	require.NoError(t, m.HandleMessage(ctx, "warehouse/distance", []byte("42")))
	require.NoError(t, m.HandleMessage(ctx, "warehouse/weight", []byte(" 5.25 ")))

	dash := m.Dashboard()
	require.Len(t, dash.Shelves, 1)
	shelf := dash.Shelves[0]
	require.Equal(t, "shelf1", shelf.ID)
	require.Equal(t, 5.25, shelf.WeightKg)
	require.Equal(t, 10, shelf.Items)
	require.Equal(t, 42, shelf.DistanceCm)
	require.False(t, shelf.LastUpdate.IsZero())
	require.Empty(t, dash.Alerts)
	require.Equal(t, "online", dash.Status)

	history, err := store.History(ctx, "shelf1", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, 42, history[0].DistanceCm)
}

func TestLowStockAlertOnTransition(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMonitor(t)

	require.NoError(t, m.HandleMessage(ctx, "warehouse/weight", []byte("1.5")))
	require.NoError(t, m.HandleMessage(ctx, "warehouse/weight", []byte("1.0")))

	dash := m.Dashboard()
	require.Len(t, dash.Alerts, 1)
	require.Equal(t, AlertStock, dash.Alerts[0].Type)
	require.Equal(t, "Shelf 1 is low on stock! Current weight: 1.5kg", dash.Alerts[0].Message)

	// Restocking re-arms the alert.
	require.NoError(t, m.HandleMessage(ctx, "warehouse/weight", []byte("6")))
	require.NoError(t, m.HandleMessage(ctx, "warehouse/weight", []byte("0.5")))
	require.Len(t, m.Dashboard().Alerts, 2)

	stored, err := store.RecentAlerts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, stored, 2)
}

func TestMotionRaisesSecurityAlertAndAlarm(t *testing.T) {
	ctx := context.Background()
	alarm := &countingAlarm{}
	m, _ := newTestMonitor(t, WithAlarm(alarm))

	require.NoError(t, m.HandleMessage(ctx, "warehouse/pir", []byte("0")))
	require.Equal(t, int32(0), alarm.n.Load())

	require.NoError(t, m.HandleMessage(ctx, "warehouse/pir", []byte("1")))
	require.Equal(t, int32(1), alarm.n.Load())

	alerts := m.Dashboard().Alerts
	require.Len(t, alerts, 1)
	require.Equal(t, AlertSecurity, alerts[0].Type)
}

func TestRFIDStoredButNotOnDashboard(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMonitor(t)

	require.NoError(t, m.HandleMessage(ctx, "warehouse/shelf2/rfid", []byte("04A1B2C3")))
	require.Empty(t, m.Dashboard().Alerts)

	stored, err := store.RecentAlerts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, AlertRFID, stored[0].Type)
	require.Contains(t, stored[0].Message, "04A1B2C3")

	require.ErrorIs(t, m.HandleMessage(ctx, "warehouse/rfid", []byte(" ")), ErrInvalidPayload)
}

func TestInvalidPayloads(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMonitor(t)

	for _, tc := range []struct{ topic, payload string }{
		{"warehouse/weight", "heavy"},
		{"warehouse/weight", "NaN"},
		{"warehouse/distance", "1.5"},
	} {
		err := m.HandleMessage(ctx, tc.topic, []byte(tc.payload))
		require.ErrorIs(t, err, ErrInvalidPayload, "%s=%s", tc.topic, tc.payload)
	}

	require.NoError(t, m.HandleMessage(ctx, "warehouse/humidity", []byte("80")))
}

func TestStorageFailureIsReturned(t *testing.T) {
	store := failingStore{storage.NewMemoryStorage()}
	m, err := New(DefaultSettings(), store, zaptest.NewLogger(t))
	require.NoError(t, err)

	err = m.HandleMessage(context.Background(), "warehouse/weight", []byte("5"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk full")
	require.Equal(t, 5.0, m.Dashboard().Shelves[0].WeightKg)
}

func TestAlertBufferIsBounded(t *testing.T) {
	ctx := context.Background()
	settings := DefaultSettings()
	settings.AlertBuffer = 3
	m, err := New(settings, storage.NewMemoryStorage(), zaptest.NewLogger(t))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.HandleMessage(ctx, "warehouse/pir", []byte("1")))
	}
	require.Len(t, m.Dashboard().Alerts, 3)
}

func TestDashboardShowsLastTenAlerts(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMonitor(t)

	for i := 0; i < 12; i++ {
		shelf := fmt.Sprintf("warehouse/shelf%d/weight", i)
		require.NoError(t, m.HandleMessage(ctx, shelf, []byte("1")))
	}

	dash := m.Dashboard()
	require.Len(t, dash.Alerts, 10)
	require.Contains(t, dash.Alerts[9].Message, "Shelf 11")
	require.Len(t, dash.Shelves, 12)
}

func TestConcurrentMessages(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMonitor(t)
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = m.HandleMessage(ctx, "warehouse/weight", []byte(fmt.Sprintf("%d", i+3)))
		}(i)
		go func() {
			defer wg.Done()
			_ = m.Dashboard()
		}()
	}
	wg.Wait()
}

func TestShelvesAreBounded(t *testing.T) {
	ctx := context.Background()
	settings := DefaultSettings()
	settings.MaxShelves = 3
	store := storage.NewMemoryStorage()
	m, err := New(settings, store, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, m.HandleMessage(ctx, "warehouse/shelf2/weight", []byte("5")))
	require.NoError(t, m.HandleMessage(ctx, "warehouse/shelf3/distance", []byte("40")))

	err = m.HandleMessage(ctx, "warehouse/shelf4/weight", []byte("5"))
	require.ErrorIs(t, err, ErrShelfRejected)
	err = m.HandleMessage(ctx, "warehouse/shelf5/distance", []byte("40"))
	require.ErrorIs(t, err, ErrShelfRejected)

	require.NoError(t, m.HandleMessage(ctx, "warehouse/shelf2/weight", []byte("6")), "known shelves keep updating")
	require.Len(t, m.Dashboard().Shelves, 3)

	rejected, err := store.History(ctx, "shelf4", 0)
	require.NoError(t, err)
	require.Empty(t, rejected)
}

func TestMalformedShelfIDsRejected(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMonitor(t)

	for _, topic := range []string{
		"warehouse/shelf 1/weight",
		"warehouse/" + strings.Repeat("x", 33) + "/weight",
		"warehouse/shelf.1/distance",
		"warehouse/shelf#1/rfid",
	} {
		require.ErrorIs(t, m.HandleMessage(ctx, topic, []byte("5")), ErrShelfRejected, topic)
	}

	require.NoError(t, m.HandleMessage(ctx, "warehouse/aisle-3_B/weight", []byte("5")))
	require.NoError(t, m.HandleMessage(ctx, "site one/pir", []byte("0")), "motion topics carry no shelf")
	require.Len(t, m.Dashboard().Shelves, 2)
}

func TestNewRejectsNegativeShelfLimit(t *testing.T) {
	settings := DefaultSettings()
	settings.MaxShelves = -1
	_, err := New(settings, storage.NewMemoryStorage(), zaptest.NewLogger(t))
	require.ErrorIs(t, err, ErrInvalidSettings)

	settings.MaxShelves = 0
	m, err := New(settings, storage.NewMemoryStorage(), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Equal(t, DefaultMaxShelves, m.Settings().MaxShelves)
}
