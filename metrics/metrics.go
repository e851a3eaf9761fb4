/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package metrics exposes Prometheus collectors for the call bridge. Every
// method is safe on a nil *Metrics, which records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wacall"

// Webhook delivery outcomes.
const (
	DeliveryAccepted = "accepted"
	DeliveryIgnored  = "ignored"
	DeliveryRejected = "rejected"
	DeliveryFailed   = "failed"
)

// Metrics holds the bridge collectors.
type Metrics struct {
	activeCalls       prometheus.Gauge
	callsTotal        prometheus.Counter
	terminations      *prometheus.CounterVec
	actions           *prometheus.CounterVec
	answerLatency     prometheus.Histogram
	callDuration      prometheus.Histogram
	webhookDeliveries *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		activeCalls: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Call sessions currently in the registry.",
		}),
		callsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Inbound calls registered.",
		}),
		terminations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_terminations_total",
			Help:      "Call sessions torn down, by cause.",
		}, []string{"cause"}),
		actions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_actions_total",
			Help:      "Control-plane call actions sent, by action and result.",
		}, []string{"action", "result"}),
		answerLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "answer_latency_seconds",
			Help:      "Time from connect webhook to an active call.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60},
		}),
		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Lifetime of call sessions from connect to teardown.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		webhookDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook deliveries, by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	m.callsTotal.Inc()
	m.activeCalls.Inc()
}

func (m *Metrics) CallActivated(sinceConnect time.Duration) {
	if m == nil {
		return
	}
	m.answerLatency.Observe(sinceConnect.Seconds())
}

func (m *Metrics) CallEnded(cause string, lifetime time.Duration) {
	if m == nil {
		return
	}
	m.activeCalls.Dec()
	m.terminations.WithLabelValues(cause).Inc()
	m.callDuration.Observe(lifetime.Seconds())
}

func (m *Metrics) ActionSent(action string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.actions.WithLabelValues(action, result).Inc()
}

func (m *Metrics) WebhookDelivery(outcome string) {
	if m == nil {
		return
	}
	m.webhookDeliveries.WithLabelValues(outcome).Inc()
}
