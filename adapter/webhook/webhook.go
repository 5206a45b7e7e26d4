// Package webhook posts joint states as JSON to an HTTP endpoint.
//
// Joint feedback arrives at controller rate; MinInterval thins the stream so
// slow consumers only see one state per interval. Retries with exponential
// backoff on transient failures.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pithecene-io/armlink/adapter"
	"github.com/pithecene-io/armlink/iox"
	"github.com/pithecene-io/armlink/types"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 5 * time.Second

// DefaultBackoff is the delay before the first retry; it doubles per retry.
const DefaultBackoff = 250 * time.Millisecond

// Config configures the webhook publisher.
type Config struct {
	// URL is the HTTP endpoint to POST to (required).
	URL string
	// Headers are custom HTTP headers added to each request.
	Headers map[string]string
	// Timeout is the per-request timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 0).
	Retries int
	// Backoff is the delay before the first retry (default 250ms).
	Backoff time.Duration
	// MinInterval drops states arriving sooner than this after the last
	// posted state. Zero posts every state.
	MinInterval time.Duration
}

// Publisher posts joint states via HTTP POST.
type Publisher struct {
	config Config
	client *http.Client
	now    func() time.Time

	mu       sync.Mutex
	lastPost time.Time
}

// New creates a webhook publisher from the given config.
// Returns an error if the URL is empty.
func New(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook publisher requires a URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.MinInterval < 0 {
		return nil, fmt.Errorf("min interval must be >= 0, got %v", cfg.MinInterval)
	}

	return &Publisher{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
	}, nil
}

// due reports whether a state may be posted now and reserves the slot.
func (p *Publisher) due() bool {
	if p.config.MinInterval == 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if !p.lastPost.IsZero() && now.Sub(p.lastPost) < p.config.MinInterval {
		return false
	}
	p.lastPost = now
	return true
}

// Publish sends the state as a JSON POST request.
// Retries with exponential backoff on 5xx responses and network errors.
// 4xx responses are non-retriable and fail immediately.
// States throttled by MinInterval are dropped without error.
func (p *Publisher) Publish(ctx context.Context, state *types.JointState) error {
	if !p.due() {
		return nil
	}

	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("webhook: marshal state: %w", err)
	}

	var lastErr error
	// attempts = 1 initial + retries
	attempts := 1 + p.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("webhook: context canceled: %w", err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * p.config.Backoff
			select {
			case <-ctx.Done():
				return fmt.Errorf("webhook: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = p.doRequest(ctx, body)
		if lastErr == nil {
			return nil
		}

		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500 {
			return fmt.Errorf("webhook: non-retriable error: %w", lastErr)
		}
	}

	return fmt.Errorf("webhook: failed after %d attempts: %w", attempts, lastErr)
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// doRequest performs a single HTTP POST and returns nil on 2xx.
func (p *Publisher) doRequest(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
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

// Close releases publisher resources.
func (p *Publisher) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// Verify Publisher implements the adapter interface.
var _ adapter.Publisher = (*Publisher)(nil)
