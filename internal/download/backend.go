// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

package download

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// transportAttempts bounds transport-level retries per request.
const transportAttempts = 3

// HTTPBackend is the default Backend on net/http. Transport-level failures
// are retried with fibonacci backoff before being reported.
type HTTPBackend struct {
	client *http.Client
}

// NewHTTPBackend creates a backend whose requests are bounded by timeout.
func NewHTTPBackend(timeout time.Duration) *HTTPBackend {
	return &HTTPBackend{
		client: &http.Client{Timeout: timeout},
	}
}

// Do performs a single GET. HTTP-level errors (any status) are returned as a
// result, not an error; only transport failures produce an error.
func (b *HTTPBackend) Do(ctx context.Context, url string) (int, string, []byte, error) {
	var status int
	var contentType string
	var body []byte

	backoff := retry.WithMaxRetries(transportAttempts-1, retry.NewFibonacci(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return oops.Code("DOWNLOAD_BAD_REQUEST").Wrapf(err, "build request for %q", url)
		}

		resp, err := b.client.Do(req)
		if err != nil {
			return retry.RetryableError(oops.Code("DOWNLOAD_TRANSPORT").Wrapf(err, "GET %q", url))
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(oops.Code("DOWNLOAD_TRANSPORT").Wrapf(err, "read body of %q", url))
		}

		status = resp.StatusCode
		contentType = resp.Header.Get("Content-Type")
		return nil
	})
	if err != nil {
		return 0, "", nil, err
	}
	return status, contentType, body, nil
}
