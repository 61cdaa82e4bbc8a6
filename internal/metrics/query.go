package metrics

import "github.com/prometheus/client_golang/prometheus"

// Query and cursor Prometheus metrics.
var (
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "textdex",
			Name:      "commands_total",
			Help:      "Total number of commands processed",
		},
		[]string{"command", "status"},
	)

	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "textdex",
			Name:      "command_duration_seconds",
			Help:      "Command handling duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"command"},
	)

	RowsEmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "textdex",
			Name:      "rows_emitted_total",
			Help:      "Total result rows serialized to clients",
		},
	)

	CursorsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "textdex",
			Name:      "cursors_active",
			Help:      "Live cursors per index",
		},
		[]string{"index"},
	)

	CursorReads = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "textdex",
			Name:      "cursor_reads_total",
			Help:      "Total FT.CURSOR READ invocations",
		},
	)

	CursorsReclaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "textdex",
			Name:      "cursors_reclaimed_total",
			Help:      "Cursors disposed by idle reclamation",
		},
	)
)

var queryMetricsRegistered bool

// RegisterQueryMetrics registers Prometheus query metrics. Must be called once from main.
func RegisterQueryMetrics() {
	if queryMetricsRegistered {
		return
	}
	prometheus.MustRegister(CommandsTotal)
	prometheus.MustRegister(CommandDuration)
	prometheus.MustRegister(RowsEmitted)
	prometheus.MustRegister(CursorsActive)
	prometheus.MustRegister(CursorReads)
	prometheus.MustRegister(CursorsReclaimed)
	queryMetricsRegistered = true
}
