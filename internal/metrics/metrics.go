package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shelfmon_mqtt_messages_total",
		Help: "Total number of MQTT messages handled by sensor kind",
	}, []string{"kind"})

	handlerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shelfmon_mqtt_handler_errors_total",
		Help: "Total number of MQTT messages the monitor failed to process",
	}, []string{"kind"})

	alertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shelfmon_alerts_total",
		Help: "Total number of alerts raised by type",
	}, []string{"type"})

	shelfWeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shelfmon_shelf_weight_kg",
		Help: "Last reported shelf weight in kilograms",
	}, []string{"shelf"})

	brokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shelfmon_broker_connected",
		Help: "1 while the MQTT subscriber holds a broker connection",
	})
)

// IncMessage counts a handled message. Kind is normalized to a known label.
func IncMessage(kind string) {
	messagesTotal.WithLabelValues(normalizeKind(kind)).Inc()
}

// IncHandlerError counts a message that failed processing.
func IncHandlerError(kind string) {
	handlerErrorsTotal.WithLabelValues(normalizeKind(kind)).Inc()
}

// IncAlert counts a raised alert.
func IncAlert(alertType string) {
	alertsTotal.WithLabelValues(normalizeAlertType(alertType)).Inc()
}

// SetShelfWeight records the latest weight for a shelf.
func SetShelfWeight(shelfID string, kg float64) {
	shelfWeight.WithLabelValues(shelfID).Set(kg)
}

// SetBrokerConnected flips the connection gauge.
func SetBrokerConnected(connected bool) {
	if connected {
		brokerConnected.Set(1)
		return
	}
	brokerConnected.Set(0)
}

// normalizeKind caps label cardinality: kind ∈ {weight,distance,pir,rfid,unknown}
func normalizeKind(kind string) string {
	switch k := strings.ToLower(strings.TrimSpace(kind)); k {
	case "weight", "distance", "pir", "rfid":
		return k
	default:
		return "unknown"
	}
}

func normalizeAlertType(t string) string {
	switch a := strings.ToLower(strings.TrimSpace(t)); a {
	case "stock", "security", "rfid":
		return a
	default:
		return "unknown"
	}
}
