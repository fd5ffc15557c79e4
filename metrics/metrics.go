// Package metrics defines the Prometheus metrics of the server.
package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	namespace = "kanban_studio"
)

// Metrics holds all application metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Business metrics
	CardsCreatedTotal      prometheus.Counter
	CardsMovedTotal        prometheus.Counter
	CardsDeletedTotal      prometheus.Counter
	ColumnsRenamedTotal    prometheus.Counter
	AssistantRequestsTotal *prometheus.CounterVec

	registerer prometheus.Registerer
	logger     *zap.Logger
}

// New creates and registers all metrics with the default registry
func New(logger *zap.Logger) *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer, logger)
}

// NewWithRegistry creates and registers all metrics with a custom registry
func NewWithRegistry(registerer prometheus.Registerer, logger *zap.Logger) *Metrics {
	factory := promauto.With(registerer)

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "endpoint"},
		),

		CardsCreatedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cards_created_total",
				Help:      "Total number of cards created",
			},
		),
		CardsMovedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cards_moved_total",
				Help:      "Total number of card position updates",
			},
		),
		CardsDeletedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cards_deleted_total",
				Help:      "Total number of cards deleted",
			},
		),
		ColumnsRenamedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "columns_renamed_total",
				Help:      "Total number of column renames",
			},
		),
		AssistantRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assistant_requests_total",
				Help:      "Total number of assistant chat requests by outcome",
			},
			[]string{"outcome"},
		),

		registerer: registerer,
		logger:     logger,
	}
}

// RegisterWebsocketClients exposes the number of open change-feed
// connections, read from count at scrape time.
func (m *Metrics) RegisterWebsocketClients(count func() int) {
	m.safeExecute("RegisterWebsocketClients", func() {
		promauto.With(m.registerer).NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_clients",
				Help:      "Current number of open websocket connections",
			},
			func() float64 { return float64(count()) },
		)
	})
}

// RegisterDBStats exposes connection pool statistics of db.
func (m *Metrics) RegisterDBStats(db *sql.DB) {
	m.safeExecute("RegisterDBStats", func() {
		m.registerer.MustRegister(collectors.NewDBStatsCollector(db, namespace))
	})
}

// safeExecute keeps a metrics failure from taking down a request.
func (m *Metrics) safeExecute(operation string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Panic in metrics operation",
				zap.String("operation", operation),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}
