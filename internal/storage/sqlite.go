package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

// storedTimeLayout is fixed width so text ordering matches time ordering,
// including rows written as CURRENT_TIMESTAMP by older deployments.
const storedTimeLayout = "2006-01-02 15:04:05.000000000"

// SQLiteConfig defines SQLite operational parameters.
type SQLiteConfig struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultSQLiteConfig returns the configuration used by the server.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 4,
	}
}

// SQLiteStorage persists readings and alerts in a SQLite database.
type SQLiteStorage struct {
	db    *sql.DB
	clock func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and runs migrations.
func OpenSQLite(ctx context.Context, path string, cfg SQLiteConfig) (*SQLiteStorage, error) {
	// PRAGMAs go in the DSN so they apply to every pooled connection.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		(&url.URL{Path: path}).EscapedPath(), cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	s := &SQLiteStorage{
		db:    db,
		clock: func() time.Time { return time.Now().UTC() },
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: run migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStorage) migrate(ctx context.Context) error {
	// Column types match databases created by the earlier dashboard service,
	// so an existing warehouse.db is reused as is.
	schema := `
	CREATE TABLE IF NOT EXISTS sensor_data (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		shelf_id TEXT,
		weight REAL,
		distance INTEGER,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT,
		message TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_sensor_data_shelf_ts ON sensor_data(shelf_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(timestamp);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveReading inserts a reading.
func (s *SQLiteStorage) SaveReading(ctx context.Context, r Reading) error {
	if err := validateReading(&r, s.clock); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sensor_data (shelf_id, weight, distance, timestamp) VALUES (?, ?, ?, ?)`,
		r.ShelfID, r.WeightKg, r.DistanceCm, formatStoredTime(r.Timestamp))
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// SaveAlert inserts an alert.
func (s *SQLiteStorage) SaveAlert(ctx context.Context, a Alert) error {
	if err := validateAlert(&a, s.clock); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (type, message, timestamp) VALUES (?, ?, ?)`,
		a.Type, a.Message, formatStoredTime(a.Timestamp))
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// History returns the newest readings for shelfID.
func (s *SQLiteStorage) History(ctx context.Context, shelfID string, limit int) ([]Reading, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT shelf_id, weight, distance, timestamp
	FROM sensor_data
	WHERE shelf_id = ?
	ORDER BY timestamp DESC, id DESC
	LIMIT ?`, shelfID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Reading{}
	for rows.Next() {
		var (
			r  Reading
			ts storedTime
		)
		if err := rows.Scan(&r.ShelfID, &r.WeightKg, &r.DistanceCm, &ts); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		r.Timestamp = ts.Time
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentAlerts returns the newest alerts.
func (s *SQLiteStorage) RecentAlerts(ctx context.Context, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT type, message, timestamp
	FROM alerts
	ORDER BY timestamp DESC, id DESC
	LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Alert{}
	for rows.Next() {
		var (
			a  Alert
			ts storedTime
		)
		if err := rows.Scan(&a.Type, &a.Message, &ts); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Timestamp = ts.Time
		out = append(out, a)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func formatStoredTime(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}

// storedTime scans a DATETIME column. The driver yields time.Time for values it
// recognises and the raw text otherwise; both are normalised to UTC.
type storedTime struct {
	time.Time
}

var storedTimeParseLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
}

func (s *storedTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		s.Time = time.Time{}
		return nil
	case time.Time:
		s.Time = v.UTC()
		return nil
	case int64:
		s.Time = time.Unix(v, 0).UTC()
		return nil
	case []byte:
		return s.parse(string(v))
	case string:
		return s.parse(v)
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (s *storedTime) parse(v string) error {
	for _, layout := range storedTimeParseLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			s.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", v)
}
