package metrics

import "github.com/prometheus/client_golang/prometheus"

// Enrollment outcomes reported by RecordRedemption.
const (
	OutcomeEnrolled   = "enrolled"
	OutcomeReenrolled = "reenrolled"
	OutcomeRejected   = "rejected"
	OutcomeFailed     = "failed"
)

// EnrollmentMetrics counts token mints and redemption outcomes.
type EnrollmentMetrics struct {
	minted      prometheus.Counter
	redemptions *prometheus.CounterVec
}

// NewEnrollmentMetrics registers the enrollment counters on reg. A nil
// registerer yields a no-op recorder.
func NewEnrollmentMetrics(reg prometheus.Registerer) *EnrollmentMetrics {
	if reg == nil {
		return &EnrollmentMetrics{}
	}
	minted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enrollment_tokens_minted_total",
		Help:      "Enrollment tokens issued to resellers.",
	})
	redemptions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enrollment_redemptions_total",
		Help:      "Enrollment token redemptions by outcome and reason.",
	}, []string{"outcome", "reason"})
	reg.MustRegister(minted, redemptions)
	return &EnrollmentMetrics{minted: minted, redemptions: redemptions}
}

// IncMinted counts one issued token.
func (m *EnrollmentMetrics) IncMinted() {
	if m == nil || m.minted == nil {
		return
	}
	m.minted.Inc()
}

// RecordRedemption counts one redemption attempt. reason is empty for
// successful outcomes.
func (m *EnrollmentMetrics) RecordRedemption(outcome, reason string) {
	if m == nil || m.redemptions == nil {
		return
	}
	m.redemptions.WithLabelValues(normalizeLabel(outcome), reason).Inc()
}
