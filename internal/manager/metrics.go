// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

package manager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var lifecycleTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "plugify_lifecycle_events_total",
		Help: "Total number of module/plugin lifecycle outcomes by event",
	},
	[]string{"event"},
)

// observeLifecycle records one lifecycle outcome.
func observeLifecycle(event string) {
	lifecycleTotal.WithLabelValues(event).Inc()
}
