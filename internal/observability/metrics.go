// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for registration and login counters.
const (
	ResultSuccess   = "success"
	ResultRejected  = "rejected"
	ResultDuplicate = "duplicate"
	ResultError     = "error"
)

// Metrics holds the keysmith application counters. A nil *Metrics records
// nothing, so components can run without an observability server.
type Metrics struct {
	HTTPRequests       *prometheus.CounterVec
	Registrations      *prometheus.CounterVec
	Logins             *prometheus.CounterVec
	Logouts            prometheus.Counter
	PasswordsGenerated prometheus.Counter
	SessionsSwept      prometheus.Counter
	AuditDropped       prometheus.Counter
	AuditFailures      *prometheus.CounterVec
	AuditWALEntries    prometheus.Gauge
}

// NewMetrics creates and registers the keysmith metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keysmith_http_requests_total",
				Help: "Total number of API requests by route and status code",
			},
			[]string{"route", "code"},
		),
		Registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keysmith_registrations_total",
				Help: "Total number of registration attempts by result",
			},
			[]string{"result"},
		),
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keysmith_logins_total",
				Help: "Total number of login attempts by result",
			},
			[]string{"result"},
		),
		Logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keysmith_logouts_total",
			Help: "Total number of logout requests",
		}),
		PasswordsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keysmith_passwords_generated_total",
			Help: "Total number of passwords generated through the API",
		}),
		SessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keysmith_sessions_swept_total",
			Help: "Total number of expired sessions removed by the sweeper",
		}),
		AuditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keysmith_audit_dropped_total",
			Help: "Total number of audit entries dropped because the async queue was full",
		}),
		AuditFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keysmith_audit_failures_total",
				Help: "Total number of audit logging failures by reason",
			},
			[]string{"reason"},
		),
		AuditWALEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "keysmith_audit_wal_entries",
			Help: "Current number of audit entries waiting in the write-ahead log",
		}),
	}

	reg.MustRegister(
		m.HTTPRequests,
		m.Registrations,
		m.Logins,
		m.Logouts,
		m.PasswordsGenerated,
		m.SessionsSwept,
		m.AuditDropped,
		m.AuditFailures,
		m.AuditWALEntries,
	)
	return m
}

// ObserveRequest counts one API response.
func (m *Metrics) ObserveRequest(route string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// RecordRegistration counts a registration attempt.
func (m *Metrics) RecordRegistration(result string) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(result).Inc()
}

// RecordLogin counts a login attempt.
func (m *Metrics) RecordLogin(result string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(result).Inc()
}

// RecordLogout counts a logout.
func (m *Metrics) RecordLogout() {
	if m == nil {
		return
	}
	m.Logouts.Inc()
}

// RecordPasswordGenerated counts a generated password.
func (m *Metrics) RecordPasswordGenerated() {
	if m == nil {
		return
	}
	m.PasswordsGenerated.Inc()
}

// RecordSessionsSwept adds n to the swept sessions counter. It has the shape
// of an auth.WithSweepHook callback.
func (m *Metrics) RecordSessionsSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsSwept.Add(float64(n))
}

// RecordAuditDropped counts an audit entry lost to a full queue.
func (m *Metrics) RecordAuditDropped() {
	if m == nil {
		return
	}
	m.AuditDropped.Inc()
}

// RecordAuditFailure counts an audit write failure.
func (m *Metrics) RecordAuditFailure(reason string) {
	if m == nil {
		return
	}
	m.AuditFailures.WithLabelValues(reason).Inc()
}

// AddAuditWALEntries moves the WAL gauge by delta.
func (m *Metrics) AddAuditWALEntries(delta float64) {
	if m == nil {
		return
	}
	m.AuditWALEntries.Add(delta)
}

// ResetAuditWALEntries zeroes the WAL gauge after a replay.
func (m *Metrics) ResetAuditWALEntries() {
	if m == nil {
		return
	}
	m.AuditWALEntries.Set(0)
}
