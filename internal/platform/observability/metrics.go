package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "storefront"

// Metrics holds the Prometheus collectors shared by handlers, services and jobs.
// All methods are safe on a nil receiver so tests can omit metrics entirely.
type Metrics struct {
	registry *prometheus.Registry

	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec

	OrdersCreated   *prometheus.CounterVec
	PaymentEvents   *prometheus.CounterVec
	StockShortfalls prometheus.Counter
	SyncRuns        *prometheus.CounterVec
	SyncChanges     prometheus.Counter
	Notifications   *prometheus.CounterVec
}

// NewMetrics registers all collectors on a private registry with Go and process collectors.
func NewMetrics(service string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: service,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: service,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: service,
			Name:      "orders_created_total",
			Help:      "Orders persisted, by payment method.",
		}, []string{"payment_method"}),
		PaymentEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: service,
			Name:      "payment_events_total",
			Help:      "Payment gateway events by processing outcome.",
		}, []string{"outcome"}),
		StockShortfalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: service,
			Name:      "stock_shortfall_units_total",
			Help:      "Units sold on paid orders that stock could not cover.",
		}),
		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: service,
			Name:      "shipping_sync_runs_total",
			Help:      "Carrier synchronisation runs by mode and outcome.",
		}, []string{"mode", "outcome"}),
		SyncChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: service,
			Name:      "shipping_sync_changes_total",
			Help:      "Orders updated by carrier synchronisation.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: service,
			Name:      "notifications_total",
			Help:      "Notification publish attempts by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Requests, m.LatencyMS,
		m.OrdersCreated, m.PaymentEvents, m.StockShortfalls,
		m.SyncRuns, m.SyncChanges, m.Notifications,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(route string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(route).Observe(float64(latency.Milliseconds()))
}

// OrderCreated counts a persisted order.
func (m *Metrics) OrderCreated(paymentMethod string) {
	if m == nil {
		return
	}
	m.OrdersCreated.WithLabelValues(paymentMethod).Inc()
}

// PaymentEvent counts a processed gateway event.
func (m *Metrics) PaymentEvent(outcome string) {
	if m == nil {
		return
	}
	m.PaymentEvents.WithLabelValues(outcome).Inc()
}

// StockShortfall adds units that could not be covered by stock.
func (m *Metrics) StockShortfall(units int64) {
	if m == nil || units <= 0 {
		return
	}
	m.StockShortfalls.Add(float64(units))
}

// SyncRun records a carrier synchronisation run and how many orders changed.
func (m *Metrics) SyncRun(mode, outcome string, changed int) {
	if m == nil {
		return
	}
	m.SyncRuns.WithLabelValues(mode, outcome).Inc()
	if changed > 0 {
		m.SyncChanges.Add(float64(changed))
	}
}

// Notification counts a notification publish attempt.
func (m *Metrics) Notification(outcome string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(outcome).Inc()
}
