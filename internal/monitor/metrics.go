// Copyright The TrustTunnel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MetricsHTTPRequestRt = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_rt_us",
		Help:    "The time of each http request",
		Buckets: []float64{1000, 2000, 3000, 5000, 8000, 30000, 100000},
	}, []string{"path", "method"})

	MetricsHTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "The count of http requests by path, method and status code",
	}, []string{"path", "method", "code"})

	MetricsHTTPCurrentRequests = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "http_current_requests_total",
		Help: "The count of in-flight http requests",
	}, []string{"path", "method"})

	MetricsCommandsExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commands_executed_total",
		Help: "The count of shell commands executed, by session and exit status",
	}, []string{"session_id", "status"})

	MetricsCommandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "command_duration_seconds",
		Help:    "The wall-clock duration of executed shell commands",
		Buckets: prometheus.DefBuckets,
	}, []string{"session_id"})

	MetricsProcessesStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "background_processes_started_total",
		Help: "The count of background processes started",
	}, []string{"session_id"})

	MetricsProcessesKilled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "background_processes_killed_total",
		Help: "The count of background processes killed, by reason",
	}, []string{"reason"})

	MetricsProcessesRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "background_processes_running",
		Help: "The count of currently running background processes",
	})

	MetricsSessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sessions_active",
		Help: "The count of currently active shell sessions",
	})

	MetricsCodeContextsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "code_contexts_active",
		Help: "The count of currently active code execution contexts, by language",
	}, []string{"language"})

	MetricsPortsExposed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ports_exposed",
		Help: "The count of currently exposed ports",
	})

	MetricsPortsSweptInactive = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ports_swept_inactive_total",
		Help: "The count of exposed ports reclaimed for inactivity",
	}, []string{})

	MetricsPtySessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pty_sessions_active",
		Help: "The count of currently allocated PTY sessions",
	})

	MetricsPtyReconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pty_reconnects_total",
		Help: "The count of PTY peer reconnects served from the replay buffer",
	}, []string{})

	MetricsBucketMounts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bucket_mounts_total",
		Help: "The count of bucket mount attempts, by outcome",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		MetricsHTTPRequestRt,
		MetricsHTTPRequests,
		MetricsHTTPCurrentRequests,
		MetricsCommandsExecuted,
		MetricsCommandDuration,
		MetricsProcessesStarted,
		MetricsProcessesKilled,
		MetricsProcessesRunning,
		MetricsSessionsActive,
		MetricsCodeContextsActive,
		MetricsPortsExposed,
		MetricsPortsSweptInactive,
		MetricsPtySessionsActive,
		MetricsPtyReconnects,
		MetricsBucketMounts,
	)
}
