package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/eugenenazirov/shelf-monitor/internal/storage"
	"github.com/eugenenazirov/shelf-monitor/internal/warehouse"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

const (
	timestampLayout = "2006-01-02 15:04:05"
	maxHistoryLimit = 500
)

// Monitor is the read side of the warehouse monitor.
type Monitor interface {
	Dashboard() warehouse.Dashboard
	History(ctx context.Context, shelfID string, limit int) ([]storage.Reading, error)
}

// ConnectionInfo describes the resolved credentials without secrets.
type ConnectionInfo struct {
	BrokerAddress  string
	WiFiSSID       string
	WiFiConfigured bool
	MaxWeightKg    float64
}

// Handler wires the monitor into HTTP handlers.
type Handler struct {
	monitor Monitor
	info    ConnectionInfo

	clock func() time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(monitor Monitor, info ConnectionInfo, opts ...HandlerOption) *Handler {
	h := &Handler{
		monitor: monitor,
		info:    info,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	dash := h.monitor.Dashboard()

	resp := dashboardResponse{
		SensorData:   make(map[string]shelfResponse, len(dash.Shelves)),
		Alerts:       make([]alertResponse, 0, len(dash.Alerts)),
		SystemStatus: dash.Status,
		MaxWeightKg:  h.info.MaxWeightKg,
	}
	for _, s := range dash.Shelves {
		shelf := shelfResponse{
			Weight:   s.WeightKg,
			Distance: s.DistanceCm,
			Items:    s.Items,
		}
		if !s.LastUpdate.IsZero() {
			ts := float64(s.LastUpdate.UnixMilli()) / 1000
			shelf.LastUpdate = &ts
		}
		resp.SensorData[s.ID] = shelf
	}
	for _, a := range dash.Alerts {
		resp.Alerts = append(resp.Alerts, alertResponse{
			Type:      a.Type,
			Message:   a.Message,
			Timestamp: a.Timestamp.Format(timestampLayout),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	shelfID := strings.TrimSpace(r.PathValue("shelf_id"))
	if shelfID == "" {
		writeError(w, http.StatusBadRequest, "Invalid request", "shelf id is required")
		return
	}

	limit := storage.DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 1 || value > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, "Invalid request", "limit must be an integer between 1 and 500")
			return
		}
		limit = value
	}

	readings, err := h.monitor.History(r.Context(), shelfID, limit)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	resp := make([]historyEntry, 0, len(readings))
	for _, rd := range readings {
		resp = append(resp, historyEntry{
			Weight:    rd.WeightKg,
			Distance:  rd.DistanceCm,
			Timestamp: rd.Timestamp.Format(timestampLayout),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, configResponse{
		BrokerAddress:  h.info.BrokerAddress,
		WiFiSSID:       h.info.WiFiSSID,
		WiFiConfigured: h.info.WiFiConfigured,
	})
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type shelfResponse struct {
	Weight     float64  `json:"weight"`
	Distance   int      `json:"distance"`
	Items      int      `json:"items"`
	LastUpdate *float64 `json:"last_update"`
}

type alertResponse struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type dashboardResponse struct {
	SensorData   map[string]shelfResponse `json:"sensor_data"`
	Alerts       []alertResponse          `json:"alerts"`
	SystemStatus string                   `json:"system_status"`
	MaxWeightKg  float64                  `json:"max_weight_kg"`
}

type historyEntry struct {
	Weight    float64 `json:"weight"`
	Distance  int     `json:"distance"`
	Timestamp string  `json:"timestamp"`
}

type configResponse struct {
	BrokerAddress  string `json:"broker_address"`
	WiFiSSID       string `json:"wifi_ssid"`
	WiFiConfigured bool   `json:"wifi_configured"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
