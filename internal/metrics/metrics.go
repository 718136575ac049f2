// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics holds the Prometheus collectors of the app monitor.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// transactions tracks binder transactions received by the monitor service
	transactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waydroid_appmonitor_transactions_total",
			Help: "Total binder transactions received by event kind and reply status",
		},
		[]string{"event", "status"},
	)

	// registrations tracks service manager registrations
	registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waydroid_appmonitor_registrations_total",
			Help: "Total binder service registrations by result",
		},
		[]string{"result"},
	)

	// forwards tracks events relayed to app endpoints
	forwards = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waydroid_appmonitor_forwards_total",
			Help: "Total lifecycle events forwarded to bus endpoints by event kind and result",
		},
		[]string{"event", "result"},
	)

	// claims tracks endpoint claim attempts
	claims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waydroid_appmonitor_claims_total",
			Help: "Total endpoint claim attempts by result",
		},
		[]string{"result"},
	)

	// broadcastCloses tracks OnClose deliveries made while stopping a session
	broadcastCloses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "waydroid_appmonitor_broadcast_closes_total",
			Help: "Total OnClose deliveries made by session shutdown broadcasts",
		},
	)

	// launches tracks launch outcomes
	launches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waydroid_appmonitor_launches_total",
			Help: "Total launches by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	// launchOpenLatency tracks how long apps take to report that they opened
	launchOpenLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "waydroid_appmonitor_launch_open_seconds",
			Help:    "Time from launch to the app reporting that it opened",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
	)
)

// RecordTransaction increments the transaction counter.
func RecordTransaction(event, status string) {
	transactions.WithLabelValues(event, status).Inc()
}

// RecordRegistration increments the registration counter.
func RecordRegistration(result string) {
	registrations.WithLabelValues(result).Inc()
}

// RecordForward increments the forward counter.
func RecordForward(event, result string) {
	forwards.WithLabelValues(event, result).Inc()
}

// RecordClaim increments the claim counter.
func RecordClaim(result string) {
	claims.WithLabelValues(result).Inc()
}

// RecordBroadcastClose adds n delivered OnClose calls.
func RecordBroadcastClose(n int) {
	broadcastCloses.Add(float64(n))
}

// RecordLaunch increments the launch counter.
func RecordLaunch(strategy, outcome string) {
	launches.WithLabelValues(strategy, outcome).Inc()
}

// ObserveOpenLatency records the seconds between launch and OnOpen.
func ObserveOpenLatency(seconds float64) {
	launchOpenLatency.Observe(seconds)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
