// Package redis publishes joint states over Redis pub/sub.
//
// Each state is encoded (msgpack by default, JSON on request) and PUBLISHed
// to a channel. When LatestKey is set the same payload is also stored under
// "<LatestKey>:<robot_id>" so late subscribers can read the current pose.
// Retries with exponential backoff on connection errors.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/armlink/adapter"
	"github.com/pithecene-io/armlink/types"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "armlink:joint_state"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 2 * time.Second

// DefaultBackoff is the delay before the first retry; it doubles per retry.
const DefaultBackoff = 100 * time.Millisecond

// Encoding names.
const (
	EncodingMsgpack = "msgpack"
	EncodingJSON    = "json"
)

// Config configures the Redis publisher.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: armlink:joint_state).
	Channel string
	// LatestKey, when set, is the key prefix under which the latest state
	// of each robot is stored.
	LatestKey string
	// LatestTTL expires the latest-state key. Zero keeps it forever.
	LatestTTL time.Duration
	// Encoding is msgpack (default) or json.
	Encoding string
	// Timeout is the per-publish timeout (default 2s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 0).
	Retries int
	// Backoff is the delay before the first retry (default 100ms).
	Backoff time.Duration
}

// Publisher publishes joint states via Redis PUBLISH.
type Publisher struct {
	config Config
	client *goredis.Client
	encode func(any) ([]byte, error)
}

// New creates a Redis publisher from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis publisher requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis publisher: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
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

	var encode func(any) ([]byte, error)
	switch cfg.Encoding {
	case "", EncodingMsgpack:
		cfg.Encoding = EncodingMsgpack
		encode = msgpack.Marshal
	case EncodingJSON:
		encode = json.Marshal
	default:
		return nil, fmt.Errorf("redis publisher: unknown encoding %q (want msgpack or json)", cfg.Encoding)
	}

	return &Publisher{
		config: cfg,
		client: goredis.NewClient(opts),
		encode: encode,
	}, nil
}

// Decode decodes a payload produced by a publisher with the given encoding.
func Decode(encoding string, payload []byte) (*types.JointState, error) {
	var state types.JointState
	var err error
	switch encoding {
	case "", EncodingMsgpack:
		err = msgpack.Unmarshal(payload, &state)
	case EncodingJSON:
		err = json.Unmarshal(payload, &state)
	default:
		return nil, fmt.Errorf("unknown encoding %q", encoding)
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// LatestKeyFor returns the latest-state key for a robot.
func (p *Publisher) LatestKeyFor(robotID string) string {
	return p.config.LatestKey + ":" + robotID
}

// Publish sends the state to the configured channel.
// Retries with exponential backoff on failures.
func (p *Publisher) Publish(ctx context.Context, state *types.JointState) error {
	body, err := p.encode(state)
	if err != nil {
		return fmt.Errorf("redis: encode state: %w", err)
	}

	var lastErr error
	// attempts = 1 initial + retries
	attempts := 1 + p.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: context canceled: %w", err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * p.config.Backoff
			select {
			case <-ctx.Done():
				return fmt.Errorf("redis: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		publishCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		_, lastErr = p.client.Pipelined(publishCtx, func(pipe goredis.Pipeliner) error {
			pipe.Publish(publishCtx, p.config.Channel, body)
			if p.config.LatestKey != "" {
				pipe.Set(publishCtx, p.LatestKeyFor(state.RobotID), body, p.config.LatestTTL)
			}
			return nil
		})
		cancel()

		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

// Close releases publisher resources.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// Verify Publisher implements the adapter interface.
var _ adapter.Publisher = (*Publisher)(nil)
