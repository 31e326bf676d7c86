package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	drainSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "safeping",
			Name:      "drain_submissions_total",
			Help:      "Replayed submissions by collection and outcome.",
		},
		[]string{"collection", "outcome"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "safeping",
			Name:      "queue_depth",
			Help:      "Items currently waiting in each durable collection.",
		},
		[]string{"collection"},
	)

	notificationsShown = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "safeping",
			Name:      "notifications_shown_total",
			Help:      "Alerts presented, by urgency.",
		},
		[]string{"urgency"},
	)

	signalsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "safeping",
			Name:      "signals_dispatched_total",
			Help:      "Wake signals dispatched by kind and outcome.",
		},
		[]string{"signal", "outcome"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "safeping",
			Name:      "http_requests_total",
			Help:      "Message API requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(drainSubmissions, queueDepth, notificationsShown, signalsDispatched, httpRequests)
	})
}

// IncDrain counts one replayed submission outcome for a collection.
func IncDrain(collection, outcome string) {
	drainSubmissions.WithLabelValues(collection, outcome).Inc()
}

// SetQueueDepth records the current depth of a collection.
func SetQueueDepth(collection string, depth int) {
	queueDepth.WithLabelValues(collection).Set(float64(depth))
}

// IncNotification counts a presented alert by urgency label.
func IncNotification(urgency string) {
	notificationsShown.WithLabelValues(urgency).Inc()
}

// IncSignal counts a dispatched wake signal.
func IncSignal(signal, outcome string) {
	signalsDispatched.WithLabelValues(signal, outcome).Inc()
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
