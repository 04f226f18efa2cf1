// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package prepuller

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// ResultSuccess labels metrics of pulls that succeeded.
	ResultSuccess = "success"
	// ResultFailure labels metrics of pulls that failed.
	ResultFailure = "failure"
)

// Metrics are the prepull reconciler metrics.
type Metrics struct {
	campaigns prometheus.Counter
	pulls     *prometheus.CounterVec
}

// NewMetrics registers and returns the prepull reconciler metrics.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		campaigns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nublado_prepull_campaigns_total",
			Help: "Number of pull campaigns started.",
		}),
		pulls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nublado_prepull_pods_total",
			Help: "Number of pull pods run by result.",
		}, []string{"result"}),
	}

	registry.MustRegister(m.campaigns, m.pulls)
	return m
}

// ObserveCampaign counts one started pull campaign.
func (m *Metrics) ObserveCampaign() {
	if m == nil {
		return
	}
	m.campaigns.Inc()
}

// ObservePull counts one finished pull pod.
func (m *Metrics) ObservePull(result string) {
	if m == nil {
		return
	}
	m.pulls.WithLabelValues(result).Inc()
}
