package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_messages_sent_total",
		Help: "Messages accepted by the router.",
	})
	FanoutPushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_fanout_pushes_total",
		Help: "Per-recipient push attempts by result.",
	}, []string{"result"})
	ReceiptTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_receipt_transitions_total",
		Help: "Receipt state transitions by target status.",
	}, []string{"status"})
	OpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_open_connections",
		Help: "Currently open realtime connections.",
	})
)

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
