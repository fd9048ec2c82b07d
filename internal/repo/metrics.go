package repo

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what the writers do. A nil *Metrics records nothing.
type Metrics struct {
	rowsWritten *prometheus.CounterVec
	statements  *prometheus.CounterVec
	units       *prometheus.CounterVec
	unitLatency prometheus.Histogram
}

// NewMetrics registers the repo collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rowsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "chainsync_rows_written_total", Help: "Rows sent to insert statements"},
			[]string{"table"},
		),
		statements: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "chainsync_insert_statements_total", Help: "Chunked insert statements executed"},
			[]string{"table"},
		),
		units: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "chainsync_units_of_work_total", Help: "Units of work by outcome"},
			[]string{"status"},
		),
		unitLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{Name: "chainsync_unit_of_work_duration_seconds", Help: "Unit of work latency", Buckets: prometheus.DefBuckets},
		),
	}
	reg.MustRegister(m.rowsWritten, m.statements, m.units, m.unitLatency)
	return m
}

func (m *Metrics) observeChunk(table string, rows int) {
	if m == nil {
		return
	}
	m.statements.WithLabelValues(table).Inc()
	m.rowsWritten.WithLabelValues(table).Add(float64(rows))
}

func (m *Metrics) observeUnitOfWork(err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "commit"
	if err != nil {
		status = "rollback"
	}
	m.units.WithLabelValues(status).Inc()
	m.unitLatency.Observe(d.Seconds())
}
