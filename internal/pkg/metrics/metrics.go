package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WatcherEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "lastcall_watcher_events_total", Help: "Ledger events handled by the watcher"},
		[]string{"stream", "result"},
	)
	WatcherReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "lastcall_watcher_reconnects_total", Help: "Ledger subscription reconnects"},
		[]string{"stream"},
	)
	ReconcilerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "lastcall_reconciler_operations_total", Help: "Pending operations processed per tick"},
		[]string{"kind", "result"},
	)
	ReconcilerTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "lastcall_reconciler_tick_duration_seconds", Help: "Reconciliation tick latency", Buckets: prometheus.DefBuckets},
	)
	ReconcilerTicksSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "lastcall_reconciler_ticks_skipped_total", Help: "Ticks skipped because a previous tick was still running"},
	)
)

const (
	ResultApplied   = "applied"
	ResultDuplicate = "duplicate"
	ResultInvalid   = "invalid"
	ResultError     = "error"
	ResultConfirmed = "confirmed"
	ResultRetry     = "retry"
	ResultFailed    = "failed"
)

func init() {
	prometheus.MustRegister(
		WatcherEvents,
		WatcherReconnects,
		ReconcilerOperations,
		ReconcilerTickDuration,
		ReconcilerTicksSkipped,
	)
}
