// Copyright 2026 The Yprocmon Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package yprocmon

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetricsCollector implements MetricsCollector with Prometheus
// metrics kept in a private registry.
type PrometheusMetricsCollector struct {
	launches       *prometheus.CounterVec
	launchDuration prometheus.Histogram
	instances      prometheus.Gauge
	exits          *prometheus.CounterVec
	stops          prometheus.Counter
	operations     *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewPrometheusMetricsCollector creates a collector.  The namespace
// defaults to "yprocmon".
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "yprocmon"
	}

	pmc := &PrometheusMetricsCollector{
		registry: prometheus.NewRegistry(),
	}

	pmc.launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "launches_total",
			Help:      "Total number of launch attempts",
		},
		[]string{"result", "reason"},
	)

	pmc.launchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "launch_duration_seconds",
			Help:      "Time from launch request to an attached, running process",
			Buckets:   prometheus.DefBuckets,
		},
	)

	pmc.instances = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instances",
			Help:      "Number of instances in the registry",
		},
	)

	pmc.exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instance_exits_total",
			Help:      "Total number of instance exits, by exit code",
		},
		[]string{"code"},
	)

	pmc.stops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instance_stops_total",
			Help:      "Total number of explicit instance stops",
		},
	)

	pmc.operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total number of recorded operations, by type",
		},
		[]string{"type"},
	)

	pmc.registry.MustRegister(
		pmc.launches,
		pmc.launchDuration,
		pmc.instances,
		pmc.exits,
		pmc.stops,
		pmc.operations,
	)

	return pmc
}

func (pmc *PrometheusMetricsCollector) LaunchSucceeded(d time.Duration) {
	pmc.launches.WithLabelValues("success", "").Inc()
	pmc.launchDuration.Observe(d.Seconds())
}

func (pmc *PrometheusMetricsCollector) LaunchFailed(reason string) {
	pmc.launches.WithLabelValues("failure", reason).Inc()
}

func (pmc *PrometheusMetricsCollector) InstanceCount(n int) {
	pmc.instances.Set(float64(n))
}

func (pmc *PrometheusMetricsCollector) InstanceExited(code int) {
	pmc.exits.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (pmc *PrometheusMetricsCollector) InstanceStopped() {
	pmc.stops.Inc()
}

func (pmc *PrometheusMetricsCollector) OperationRecorded(t OperationType) {
	pmc.operations.WithLabelValues(string(t)).Inc()
}

// Registry returns the Prometheus registry.
func (pmc *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return pmc.registry
}

// Handler returns an http.Handler serving the collected metrics.
func (pmc *PrometheusMetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(pmc.registry, promhttp.HandlerOpts{})
}

var _ MetricsCollector = (*PrometheusMetricsCollector)(nil)
