// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

package download

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plugify_downloads_total",
			Help: "Total number of download requests by result",
		},
		[]string{"result"},
	)

	downloadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plugify_download_bytes_total",
			Help: "Total bytes received by completed downloads",
		},
	)
)

// observeDownload records one finished request.
func observeDownload(result string, bytes int) {
	downloadsTotal.WithLabelValues(result).Inc()
	if bytes > 0 {
		downloadBytes.Add(float64(bytes))
	}
}
