// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

package pkgmanager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var installsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "plugify_package_operations_total",
		Help: "Total number of package install/uninstall outcomes by result",
	},
	[]string{"result"},
)

// observeInstall records one package operation outcome.
func observeInstall(result string) {
	installsTotal.WithLabelValues(result).Inc()
}
