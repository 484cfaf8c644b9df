// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

// Package download provides an asynchronous HTTP downloader with completion
// callbacks, a wait-for-all barrier and a pluggable transport backend.
package download

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// StatusTransportError is the sentinel status reported when a request failed
// below the HTTP layer. It is distinct from every valid HTTP status code.
const StatusTransportError = -1

// StatusOK mirrors http.StatusOK for callers that avoid importing net/http.
const StatusOK = 200

// CompletionFunc receives the outcome of a request. It is invoked exactly
// once per request, on an arbitrary worker goroutine. A callback may enqueue
// further requests.
type CompletionFunc func(statusCode int, contentType string, data []byte)

// Backend performs a single blocking GET. Implementations are expected to be
// safe for concurrent use.
type Backend interface {
	Do(ctx context.Context, url string) (statusCode int, contentType string, data []byte, err error)
}

// request is one queued download.
type request struct {
	id         string
	url        string
	onComplete CompletionFunc
	startedAt  time.Time
}

// Downloader fans download requests out to a fixed worker pool. Callbacks
// fire on worker goroutines; WaitForAllRequests blocks until every callback
// has returned.
type Downloader struct {
	backend Backend
	timeout time.Duration
	log     *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*request
	inflight int
	closed   bool

	workers sync.WaitGroup
	entropy *ulid.MonotonicEntropy
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithBackend replaces the default net/http backend.
func WithBackend(b Backend) Option {
	return func(d *Downloader) { d.backend = b }
}

// WithTimeout sets the per-request timeout enforced by the backend.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Downloader) { d.timeout = timeout }
}

// WithLogger sets the logger used for per-request progress.
func WithLogger(log *slog.Logger) Option {
	return func(d *Downloader) { d.log = log }
}

// defaultWorkers bounds concurrent transfers.
const defaultWorkers = 4

// defaultTimeout bounds a single request end to end.
const defaultTimeout = 30 * time.Second

// NewDownloader creates a downloader and starts its worker pool.
func NewDownloader(opts ...Option) *Downloader {
	d := &Downloader{
		timeout: defaultTimeout,
		log:     slog.Default(),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0), //nolint:gosec // ids, not secrets
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.backend == nil {
		d.backend = NewHTTPBackend(d.timeout)
	}
	d.cond = sync.NewCond(&d.mu)

	for i := 0; i < defaultWorkers; i++ {
		d.workers.Add(1)
		go d.worker()
	}
	return d
}

// CreateRequest enqueues a GET for url. onComplete fires exactly once,
// whether the request succeeds, fails with an HTTP error, or fails at the
// transport level (reported as StatusTransportError).
func (d *Downloader) CreateRequest(url string, onComplete CompletionFunc) {
	req := &request{
		url:        url,
		onComplete: onComplete,
		startedAt:  time.Now(),
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.log.Warn("request on closed downloader dropped", "url", url)
		return
	}
	req.id = ulid.MustNew(ulid.Timestamp(req.startedAt), d.entropy).String()
	d.inflight++
	d.queue = append(d.queue, req)
	d.cond.Broadcast()
}

// WaitForAllRequests blocks until every outstanding request's callback has
// returned, including requests enqueued by callbacks themselves.
func (d *Downloader) WaitForAllRequests() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.inflight != 0 {
		d.cond.Wait()
	}
}

// Close drains the queue, stops the workers and waits for them to exit.
// Pending requests still receive their callbacks.
func (d *Downloader) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()

	d.workers.Wait()
}

// worker pops requests until the downloader closes and its queue is empty.
func (d *Downloader) worker() {
	defer d.workers.Done()
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.closed {
			d.mu.Unlock()
			return
		}
		req := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.process(req)

		d.mu.Lock()
		d.inflight--
		d.cond.Broadcast()
		d.mu.Unlock()
	}
}

// process performs one transfer and fires its callback.
func (d *Downloader) process(req *request) {
	ctx, cancel := context.WithDeadline(context.Background(), req.startedAt.Add(d.timeout))
	defer cancel()

	status, contentType, data, err := d.backend.Do(ctx, req.url)
	if err != nil {
		d.log.Debug("download transport failure",
			"request", req.id,
			"url", req.url,
			"error", err)
		observeDownload("transport_error", 0)
		req.onComplete(StatusTransportError, "", nil)
		return
	}

	if status == StatusOK {
		observeDownload("ok", len(data))
	} else {
		observeDownload("http_error", len(data))
	}
	d.log.Debug("download complete",
		"request", req.id,
		"url", req.url,
		"status", status,
		"bytes", len(data),
		"elapsed", time.Since(req.startedAt))
	req.onComplete(status, contentType, data)
}
