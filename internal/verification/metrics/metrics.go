package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Step labels for external call latency.
const (
	StepExchange = "identity_exchange"
	StepOracle   = "risk_oracle"
	StepNonce    = "state_nonce"
	StepDecide   = "decide"
)

// Metrics provides observability for the verification gate.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Outcomes             *prometheus.CounterVec
	Failures             *prometheus.CounterVec
	InvitesAccepted      prometheus.Counter
	StepDuration         *prometheus.HistogramVec
	OracleBreakerOpen    prometheus.Gauge
	AuditEventsDropped   prometheus.Counter
	AuditPublishFailures prometheus.Counter
}

// New registers the verification metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the metrics with reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guildgate_verification_outcomes_total",
			Help: "Committed verification decisions by outcome",
		}, []string{"outcome"}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guildgate_verification_failures_total",
			Help: "Verification attempts that ended before a decision, by reason",
		}, []string{"reason"}),
		InvitesAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "guildgate_invites_accepted_total",
			Help: "Invitation links that passed signature verification",
		}),
		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "guildgate_verification_step_duration_seconds",
			Help:    "Duration of external calls made while completing a verification",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"step"}),
		OracleBreakerOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "guildgate_risk_oracle_breaker_open",
			Help: "1 while the risk oracle circuit breaker is open",
		}),
		AuditEventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "guildgate_audit_events_dropped_total",
			Help: "Outcome events dropped because the publish queue was full",
		}),
		AuditPublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "guildgate_audit_publish_failures_total",
			Help: "Outcome events the publisher failed to deliver",
		}),
	}
}

func (m *Metrics) IncOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncFailure(reason string) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncInviteAccepted() {
	if m == nil {
		return
	}
	m.InvitesAccepted.Inc()
}

// ObserveStep records the duration of step since start.
func (m *Metrics) ObserveStep(step string, start time.Time) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())
}

func (m *Metrics) SetOracleBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.OracleBreakerOpen.Set(1)
		return
	}
	m.OracleBreakerOpen.Set(0)
}

func (m *Metrics) IncAuditDropped() {
	if m == nil {
		return
	}
	m.AuditEventsDropped.Inc()
}

func (m *Metrics) IncAuditPublishFailure() {
	if m == nil {
		return
	}
	m.AuditPublishFailures.Inc()
}
