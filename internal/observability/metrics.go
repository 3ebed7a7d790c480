package observability

import "github.com/prometheus/client_golang/prometheus"

// Domain counters. Labels are closed enums (result, outcome, pathway) so
// cardinality stays bounded; no principal, session, or contact values are
// ever used as label values.
var (
	// OTPIssued counts issuance attempts by result: "issued", "rate_limited",
	// or "invalid".
	OTPIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otp_issue_total",
			Help: "One-time code issuance attempts by result.",
		},
		[]string{"result"},
	)

	// OTPVerified counts verification attempts by outcome.
	OTPVerified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otp_verify_total",
			Help: "One-time code verification attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// OTPDeliveryFailures counts sender errors after a challenge was stored.
	OTPDeliveryFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "otp_delivery_failures_total",
			Help: "One-time code deliveries the sender rejected.",
		},
	)

	// SessionsCreated counts new questionnaire sessions.
	SessionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "form_sessions_created_total",
			Help: "Questionnaire sessions created.",
		},
	)

	// EligibilityScored counts scoring runs by resulting pathway.
	EligibilityScored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eligibility_scored_total",
			Help: "Eligibility scoring runs by pathway.",
		},
		[]string{"pathway"},
	)

	// ReferralsIssued counts referral codes handed out, labeled "new" or
	// "reused".
	ReferralsIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_codes_issued_total",
			Help: "Referral code issuance by kind.",
		},
		[]string{"kind"},
	)

	// ReferralsRedeemed counts redemption attempts by result.
	ReferralsRedeemed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_codes_redeemed_total",
			Help: "Referral code redemption attempts by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		OTPIssued,
		OTPVerified,
		OTPDeliveryFailures,
		SessionsCreated,
		EligibilityScored,
		ReferralsIssued,
		ReferralsRedeemed,
	)
}
