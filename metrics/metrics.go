/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hotellisting"

// Commit outcomes.
const (
	CommitOK     = "ok"
	CommitFailed = "failed"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	UowCommits = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "uow_commits_total", Help: "Unit of work commits."},
		[]string{"outcome"}, // ok|failed
	)
	UowCommitLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "uow_commit_duration_seconds",
			Help:    "Unit of work commit duration seconds, retries included.",
			Buckets: prometheus.DefBuckets,
		},
	)
	TokenValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "token_validations_total", Help: "Token validations by result."},
		[]string{"result"}, // valid or a rejection reason
	)
)

var (
	registryOnce sync.Once
	registry     *prometheus.Registry
)

// InitRegistry returns the process registry with every collector registered.
// Repeated calls return the same registry.
func InitRegistry() *prometheus.Registry {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			HTTPRequests, HTTPLatency, UowCommits, UowCommitLatency, TokenValidations,
		)
	})
	return registry
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveCommit(outcome string, dur time.Duration) {
	UowCommits.WithLabelValues(outcome).Inc()
	UowCommitLatency.Observe(dur.Seconds())
}

func ObserveTokenValidation(result string) {
	TokenValidations.WithLabelValues(result).Inc()
}
