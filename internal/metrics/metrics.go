package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	custodyTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keyroom_custody_transitions_total",
		Help: "Custody events appended to the ledger, by action",
	}, []string{"action"})
	custodyRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keyroom_custody_rejections_total",
		Help: "Take/return requests rejected by the custody engine, by reason",
	}, []string{"reason"})
	keysIssued = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "keyroom_keys_issued",
		Help: "Keys currently held by an employee",
	})
	projectionDriftTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keyroom_projection_drift_total",
		Help: "Keys whose cached availability disagreed with the ledger during reconciliation",
	})
	loginFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keyroom_login_failures_total",
		Help: "Rejected operator logins",
	})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry prometheus.Registerer) {
	registry.MustRegister(
		custodyTransitionsTotal,
		custodyRejectionsTotal,
		keysIssued,
		projectionDriftTotal,
		loginFailuresTotal,
	)
}

// IncTransition counts an appended ledger event.
func IncTransition(action string) { custodyTransitionsTotal.WithLabelValues(action).Inc() }

// IncRejection counts a refused take or return.
func IncRejection(reason string) { custodyRejectionsTotal.WithLabelValues(reason).Inc() }

// SetKeysIssued records the number of keys currently out.
func SetKeysIssued(n int) { keysIssued.Set(float64(n)) }

// AdjustKeysIssued moves the issued gauge after a single transition.
func AdjustKeysIssued(delta int) { keysIssued.Add(float64(delta)) }

// AddProjectionDrift counts repaired availability flags.
func AddProjectionDrift(n int) { projectionDriftTotal.Add(float64(n)) }

// IncLoginFailure counts a failed credential check.
func IncLoginFailure() { loginFailuresTotal.Inc() }
