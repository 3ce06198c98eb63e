// Package metrics holds the Prometheus collectors shared by the auth flow and
// the HTTP layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	OTPIssued        *prometheus.CounterVec
	OTPVerifications *prometheus.CounterVec
	AdminLogins      *prometheus.CounterVec
	RateLimited      *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
}

// New registers the collectors on reg. Tests pass a fresh registry so
// repeated construction does not collide.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OTPIssued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_otp_issued_total",
				Help: "Total number of OTP codes issued",
			},
			[]string{"purpose"},
		),
		OTPVerifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_otp_verifications_total",
				Help: "Total number of OTP verification attempts",
			},
			[]string{"result"},
		),
		AdminLogins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_admin_logins_total",
				Help: "Total number of admin password logins",
			},
			[]string{"result"},
		),
		RateLimited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_rate_limited_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
			[]string{"route"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
			},
			[]string{"route", "method", "status"},
		),
	}
}
