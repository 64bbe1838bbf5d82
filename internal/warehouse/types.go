package warehouse

import "time"

// Alert types.
const (
	AlertStock    = "stock"
	AlertSecurity = "security"
	AlertRFID     = "rfid"
)

// Sensor kinds, matched against the last topic segment.
const (
	KindWeight   = "weight"
	KindDistance = "distance"
	KindPIR      = "pir"
	KindRFID     = "rfid"
)

// DefaultShelfID is used when the topic does not name a shelf.
const DefaultShelfID = "shelf1"

// DefaultMaxShelves bounds how many shelves topics may create.
const DefaultMaxShelves = 32

// Shelf is the latest known state of one shelf.
type Shelf struct {
	ID         string
	WeightKg   float64
	DistanceCm int
	Items      int
	LastUpdate time.Time
}

// Alert is an in-memory alert as shown on the dashboard.
type Alert struct {
	Type      string
	Message   string
	Timestamp time.Time
}

// Dashboard is a point-in-time snapshot for the dashboard API.
type Dashboard struct {
	Shelves []Shelf
	Alerts  []Alert
	Status  string
}

// Settings are the monitoring thresholds.
type Settings struct {
	LowStockKg  float64
	KgPerItem   float64
	MaxWeightKg float64
	AlertBuffer int
	// MaxShelves caps tracked shelves; zero means DefaultMaxShelves.
	MaxShelves int
}

// DefaultSettings mirrors the thresholds the dashboard was designed around.
func DefaultSettings() Settings {
	return Settings{
		LowStockKg:  2.0,
		KgPerItem:   0.5,
		MaxWeightKg: 10,
		AlertBuffer: 50,
		MaxShelves:  DefaultMaxShelves,
	}
}
