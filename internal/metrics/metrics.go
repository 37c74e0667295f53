package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	PollAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oobsign_poll_attempts_total",
			Help: "Result endpoint poll attempts by outcome",
		},
		[]string{"outcome"}, // empty|data|transient
	)

	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oobsign_operations_total",
			Help: "Out-of-band operations by kind and final state",
		},
		[]string{"kind", "state"}, // connect|sign|send , completed|timed_out|cancelled
	)

	RelaySessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oobsign_relay_sessions_total",
			Help: "Relay session transitions by stage",
		},
		[]string{"stage"}, // preconnected|completed
	)

	AuditFlushedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "oobsign_audit_rows_flushed_total",
			Help: "Session audit rows written by the audit worker",
		},
	)
)

var registerOnce sync.Once

// MustRegister registers the collectors once; later calls are no-ops so
// servers built repeatedly in tests do not panic.
func MustRegister(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(
			PollAttemptsTotal,
			OperationsTotal,
			RelaySessionsTotal,
			AuditFlushedTotal,
		)
	})
}
