// Package redis implements a Redis pub/sub subscriber adapter.
//
// Publishes security-event notifications as JSON to a configurable Redis
// channel. Retries with a deadline-aware, doubling backoff
// (adapter.BackoffSchedule) on connection errors -- see webhook's package
// doc for why the retry budget must respect the caller's context deadline
// rather than run to a fixed attempt count regardless of it.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/chenlehua/vnidsd/adapter"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "vnidsd:events"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the conventional retry count. New does not apply it; a
// zero Config.Retries means no retries.
const DefaultRetries = 3

// Config configures the Redis pub/sub adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: vnidsd:events).
	Channel string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts after a failed publish; zero
	// (the zero value) means no retries.
	Retries int
	// BackoffBase and BackoffCap tune the retry delay; both default to
	// adapter.DefaultBackoffBase/DefaultBackoffCap.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Adapter publishes security-event notifications via Redis PUBLISH.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis pub/sub adapter from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Publish sends the event as a JSON PUBLISH to the configured channel.
// Retries on failure using a deadline-aware doubling backoff, giving up
// early (rather than sleeping past it) if ctx's deadline -- the single
// PublishTimeout-bounded dispatcher tick shared with every subscriber
// queued behind this one -- wouldn't survive the wait.
func (a *Adapter) Publish(ctx context.Context, event *adapter.EventNotification) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	schedule := adapter.BackoffSchedule{Base: a.config.BackoffBase, Cap: a.config.BackoffCap}
	var lastErr error
	// attempts = 1 initial + retries
	attempts := 1 + a.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: context canceled: %w", err)
		}

		if i > 0 {
			backoff := schedule.Next(i)
			if !adapter.FitsBeforeDeadline(ctx, backoff) {
				return fmt.Errorf("redis: giving up after %d attempt(s), insufficient time before deadline: %w", i, lastErr)
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("redis: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		lastErr = a.client.Publish(publishCtx, a.config.Channel, body).Err()
		cancel()

		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// Verify Adapter implements the adapter interface.
var _ adapter.Adapter = (*Adapter)(nil)
