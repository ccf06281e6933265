// Package webhook implements an HTTP POST subscriber adapter.
//
// Publishes security-event notifications as JSON to a configurable URL.
// Retries with a deadline-aware, doubling backoff (adapter.BackoffSchedule)
// on transient failures -- since Publish runs inside a single dispatcher
// tick bounded by adapter.PublishTimeout (spec.md §4.4's synchronous,
// registration-order subscriber invariant), a retry schedule that ignored
// the caller's context deadline could stall every subscriber queued behind
// this one.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chenlehua/vnidsd/adapter"
	"github.com/chenlehua/vnidsd/iox"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 10 * time.Second

// DefaultRetries is the conventional retry count. New does not apply it; a
// zero Config.Retries means no retries.
const DefaultRetries = 3

// Config configures the webhook adapter.
type Config struct {
	// URL is the HTTP endpoint to POST to (required).
	URL string
	// Headers are custom HTTP headers added to each request.
	Headers map[string]string
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// Retries is the number of retry attempts after a failed request; zero
	// (the zero value) means no retries.
	Retries int
	// BackoffBase and BackoffCap tune the retry delay; both default to
	// adapter.DefaultBackoffBase/DefaultBackoffCap.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Adapter publishes security-event notifications via HTTP POST.
type Adapter struct {
	config Config
	client *http.Client
}

// New creates a webhook adapter from the given config.
// Returns an error if the URL is empty.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Adapter{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Publish sends the event as a JSON POST request. Retries on 5xx responses
// and network errors using a deadline-aware doubling backoff; 4xx responses
// are non-retriable and fail immediately. A retry is skipped, and the last
// error returned, if the next backoff would outlive ctx's deadline -- this
// call is one subscriber's share of a single PublishTimeout-bounded
// dispatcher tick, not an independent budget.
func (a *Adapter) Publish(ctx context.Context, event *adapter.EventNotification) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	schedule := adapter.BackoffSchedule{Base: a.config.BackoffBase, Cap: a.config.BackoffCap}
	var lastErr error
	// attempts = 1 initial + retries
	attempts := 1 + a.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("webhook: context canceled: %w", err)
		}

		if i > 0 {
			backoff := schedule.Next(i)
			if !adapter.FitsBeforeDeadline(ctx, backoff) {
				return fmt.Errorf("webhook: giving up after %d attempt(s), insufficient time before deadline: %w", i, lastErr)
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("webhook: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = a.doRequest(ctx, body)
		if lastErr == nil {
			return nil
		}

		// 4xx errors are non-retriable — stop immediately
		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500 {
			return fmt.Errorf("webhook: non-retriable error: %w", lastErr)
		}
	}

	return fmt.Errorf("webhook: failed after %d attempts: %w", attempts, lastErr)
}

// StatusError is returned for non-2xx HTTP responses.
// Wrapping the status code allows callers to distinguish retriable (5xx)
// from non-retriable (4xx) failures.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// doRequest performs a single HTTP POST and returns nil on 2xx.
func (a *Adapter) doRequest(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range a.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}

	return nil
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

// Verify Adapter implements the adapter interface.
var _ adapter.Adapter = (*Adapter)(nil)
