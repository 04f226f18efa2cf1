// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package lab

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// ResultSuccess labels metrics of operations that succeeded.
	ResultSuccess = "success"
	// ResultFailure labels metrics of operations that failed.
	ResultFailure = "failure"
)

// Metrics are the lab lifecycle metrics.
type Metrics struct {
	creations *prometheus.CounterVec
	deletions *prometheus.CounterVec
	active    prometheus.Gauge
}

// NewMetrics registers and returns the lab lifecycle metrics.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		creations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nublado_lab_creations_total",
			Help: "Number of lab creations by result.",
		}, []string{"result"}),
		deletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nublado_lab_deletions_total",
			Help: "Number of lab deletions by result.",
		}, []string{"result"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nublado_labs_running",
			Help: "Number of labs currently running.",
		}),
	}

	registry.MustRegister(m.creations, m.deletions, m.active)
	return m
}

// ObserveCreation counts one finished lab creation.
func (m *Metrics) ObserveCreation(result string) {
	if m == nil {
		return
	}
	m.creations.WithLabelValues(result).Inc()
}

// ObserveDeletion counts one finished lab deletion.
func (m *Metrics) ObserveDeletion(result string) {
	if m == nil {
		return
	}
	m.deletions.WithLabelValues(result).Inc()
}

// SetRunning tracks the number of running labs.
func (m *Metrics) SetRunning(count int) {
	if m == nil {
		return
	}
	m.active.Set(float64(count))
}
