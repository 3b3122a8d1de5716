package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the metering counters exported on /metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	admissions     *prometheus.CounterVec
	charges        *prometheus.CounterVec
	alarms         prometheus.Counter
	chargeDuration prometheus.Histogram
	chargedCost    *prometheus.CounterVec
}

// NewMetrics creates the metering metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_admissions_total",
			Help: "Admission decisions by outcome.",
		}, []string{"outcome"}),
		charges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_charges_total",
			Help: "Charge transactions by result.",
		}, []string{"result"}),
		alarms: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_reconciliation_alarms_total",
			Help: "Completed generations whose charge did not commit.",
		}),
		chargeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tally_charge_duration_seconds",
			Help:    "Latency of the charge-and-log transaction.",
			Buckets: prometheus.DefBuckets,
		}),
		chargedCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_charged_cost_usd_total",
			Help: "Charged cost per model. Approximate, for dashboards only.",
		}, []string{"model"}),
	}

	for _, c := range []prometheus.Collector{m.admissions, m.charges, m.alarms, m.chargeDuration, m.chargedCost} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return m, nil
}

// ObserveAdmission counts an admission decision.
func (m *Metrics) ObserveAdmission(outcome string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(outcome).Inc()
}

// ObserveCharge records a charge transaction result and latency.
func (m *Metrics) ObserveCharge(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.charges.WithLabelValues(result).Inc()
	m.chargeDuration.Observe(elapsed.Seconds())
}

// AddChargedCost adds a charged amount to the per-model dashboard counter.
func (m *Metrics) AddChargedCost(model string, cost float64) {
	if m == nil {
		return
	}
	m.chargedCost.WithLabelValues(model).Add(cost)
}

// ReconciliationAlarm counts a charge that must be replayed.
func (m *Metrics) ReconciliationAlarm() {
	if m == nil {
		return
	}
	m.alarms.Inc()
}
