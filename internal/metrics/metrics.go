/**
 * @description
 * Prometheus instrumentation for the billing service: webhook deliveries,
 * reconciliation outcomes, card validations, emails and gateway latency.
 */
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const maxLabelLen = 64

// sanitizeLabel keeps label values short and non-empty.
func sanitizeLabel(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) > maxLabelLen {
		s = s[:maxLabelLen]
	}
	return s
}

// BillingMetrics holds the service's collectors.
type BillingMetrics struct {
	webhooksReceived *prometheus.CounterVec
	reconciliations  *prometheus.CounterVec
	cardValidations  *prometheus.CounterVec
	emailsSent       *prometheus.CounterVec
	jobRuns          *prometheus.CounterVec
	gatewayLatency   *prometheus.HistogramVec
}

var (
	instance *BillingMetrics
	once     sync.Once
)

// Get returns the process-wide metrics, registering them on first use.
func Get() *BillingMetrics {
	once.Do(func() {
		instance = newBillingMetrics(prometheus.DefaultRegisterer)
	})
	return instance
}

func newBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	m := &BillingMetrics{
		webhooksReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billing",
				Subsystem: "webhook",
				Name:      "received_total",
				Help:      "Webhook deliveries by provider and whether they were processed",
			},
			[]string{"provider", "processed"},
		),
		reconciliations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billing",
				Subsystem: "reconcile",
				Name:      "outcomes_total",
				Help:      "Reconciliation outcomes by source and result",
			},
			[]string{"source", "result"},
		),
		cardValidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billing",
				Subsystem: "card",
				Name:      "validations_total",
				Help:      "Card validations by result",
			},
			[]string{"result"},
		),
		emailsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billing",
				Subsystem: "email",
				Name:      "sent_total",
				Help:      "Transactional emails by template and result",
			},
			[]string{"template", "result"},
		),
		jobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billing",
				Subsystem: "jobs",
				Name:      "runs_total",
				Help:      "Scheduled job runs by job and result",
			},
			[]string{"job", "result"},
		),
		gatewayLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "billing",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency of payment gateway calls by provider and operation",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider", "op"},
		),
	}

	reg.MustRegister(
		m.webhooksReceived,
		m.reconciliations,
		m.cardValidations,
		m.emailsSent,
		m.jobRuns,
		m.gatewayLatency,
	)

	return m
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

// RecordWebhook counts one webhook delivery.
func (m *BillingMetrics) RecordWebhook(provider string, processed bool) {
	m.webhooksReceived.WithLabelValues(sanitizeLabel(provider), boolLabel(processed)).Inc()
}

// RecordReconciliation counts one reconciliation. source is webhook, poller or sweep.
func (m *BillingMetrics) RecordReconciliation(source, result string) {
	m.reconciliations.WithLabelValues(sanitizeLabel(source), sanitizeLabel(result)).Inc()
}

// RecordCardValidation counts one card validation attempt.
func (m *BillingMetrics) RecordCardValidation(result string) {
	m.cardValidations.WithLabelValues(sanitizeLabel(result)).Inc()
}

// RecordEmail counts one email send attempt.
func (m *BillingMetrics) RecordEmail(template string, err error) {
	result := "sent"
	if err != nil {
		result = "error"
	}
	m.emailsSent.WithLabelValues(sanitizeLabel(template), result).Inc()
}

// RecordJobRun counts one scheduled job run.
func (m *BillingMetrics) RecordJobRun(job string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobRuns.WithLabelValues(sanitizeLabel(job), result).Inc()
}

// ObserveGateway records the duration of a gateway call started at start.
func (m *BillingMetrics) ObserveGateway(provider, op string, start time.Time) {
	m.gatewayLatency.WithLabelValues(sanitizeLabel(provider), sanitizeLabel(op)).Observe(time.Since(start).Seconds())
}
