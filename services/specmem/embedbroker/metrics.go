// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedbroker

import "github.com/prometheus/client_golang/prometheus"

// metrics are registered once per Broker instance against the registry
// passed to New, rather than the global default registry, so tests can
// construct multiple brokers without a "duplicate metrics collector"
// panic.
type metrics struct {
	jobsTotal       *prometheus.CounterVec
	jobLatency      *prometheus.HistogramVec
	queueDepth      prometheus.Gauge
	workerState     prometheus.Gauge
	workerRestarts  prometheus.Counter
	heartbeatsTotal prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, projectHash string) *metrics {
	labels := prometheus.Labels{"project": projectHash}

	m := &metrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "specmem",
			Subsystem:   "embedbroker",
			Name:        "jobs_total",
			Help:        "Embedding jobs by terminal outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		jobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "specmem",
			Subsystem:   "embedbroker",
			Name:        "job_duration_seconds",
			Help:        "Time from job submission to terminal reply.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "specmem",
			Subsystem:   "embedbroker",
			Name:        "queue_depth",
			Help:        "Pending jobs not yet dispatched to the worker.",
			ConstLabels: labels,
		}),
		workerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "specmem",
			Subsystem:   "embedbroker",
			Name:        "worker_state",
			Help:        "Current WorkerState as an integer (see state.go).",
			ConstLabels: labels,
		}),
		workerRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "specmem",
			Subsystem:   "embedbroker",
			Name:        "worker_restarts_total",
			Help:        "Times the supervisor has restarted the worker process.",
			ConstLabels: labels,
		}),
		heartbeatsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "specmem",
			Subsystem:   "embedbroker",
			Name:        "heartbeats_total",
			Help:        "Processing heartbeat frames received across all requests.",
			ConstLabels: labels,
		}),
	}

	if reg != nil {
		reg.MustRegister(m.jobsTotal, m.jobLatency, m.queueDepth, m.workerState, m.workerRestarts, m.heartbeatsTotal)
	}
	return m
}
