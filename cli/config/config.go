package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/armlink/motion"
	"github.com/pithecene-io/armlink/relay"
	"github.com/pithecene-io/armlink/retry"
	"github.com/pithecene-io/armlink/wire"
)

// Default controller ports.
const (
	DefaultStatePort  = 50241
	DefaultMotionPort = 50240
)

// Config represents an armlink.yaml configuration file.
// All values are optional and act as defaults for command flags.
// CLI flags always override config values.
type Config struct {
	RobotID string `yaml:"robot_id"`
	// ByteOrder is "little" (default) or "big".
	ByteOrder string          `yaml:"byte_order"`
	State     StateConfig     `yaml:"state"`
	Motion    MotionConfig    `yaml:"motion"`
	Joints    *relay.JointMap `yaml:"joints,omitempty"`
	Publisher PublisherConfig `yaml:"publisher"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// StateConfig configures the state channel.
type StateConfig struct {
	Address     string     `yaml:"address"`
	DialTimeout Duration   `yaml:"dial_timeout"`
	Reconnect   PollConfig `yaml:"reconnect"`
}

// MotionConfig configures the motion channel and the ring layout. Zero
// fields take motion.DefaultConfig values.
type MotionConfig struct {
	Address               string     `yaml:"address"`
	DialTimeout           Duration   `yaml:"dial_timeout"`
	QueueSize             int        `yaml:"queue_size"`
	LookAhead             *int       `yaml:"look_ahead,omitempty"`
	MaxBufferSize         int        `yaml:"max_buffer_size"`
	MotionPointer         int        `yaml:"motion_pointer"`
	BufferPointer         int        `yaml:"buffer_pointer"`
	MinBufferStartPointer int        `yaml:"min_buffer_start_pointer"`
	DefaultVelocity       float64    `yaml:"default_velocity"`
	BufferPoll            PollConfig `yaml:"buffer_poll"`
	VarPoll               PollConfig `yaml:"var_poll"`
}

// PollConfig is the file form of retry.Policy.
type PollConfig struct {
	Interval    Duration `yaml:"interval"`
	MaxInterval Duration `yaml:"max_interval"`
	MaxAttempts int      `yaml:"max_attempts"`
	MaxDuration Duration `yaml:"max_duration"`
}

// Policy converts to a retry.Policy, using def for an unset interval.
func (p PollConfig) Policy(def time.Duration) retry.Policy {
	interval := p.Interval.Duration
	if interval == 0 {
		interval = def
	}
	return retry.Policy{
		Interval:    interval,
		MaxInterval: p.MaxInterval.Duration,
		MaxAttempts: p.MaxAttempts,
		MaxDuration: p.MaxDuration.Duration,
	}
}

// PublisherConfig selects and configures the telemetry sink.
type PublisherConfig struct {
	// Type is none, stub, redis, webhook or lode.
	Type string `yaml:"type"`
	// QueueSize enables an async drop-oldest queue in front of the sink. 0 publishes inline.
	QueueSize int           `yaml:"queue_size"`
	Redis     RedisConfig   `yaml:"redis"`
	Webhook   WebhookConfig `yaml:"webhook"`
	Lode      LodeConfig    `yaml:"lode"`
}

// RedisConfig configures the Redis publisher.
type RedisConfig struct {
	URL       string   `yaml:"url"`
	Channel   string   `yaml:"channel,omitempty"`
	LatestKey string   `yaml:"latest_key,omitempty"`
	LatestTTL Duration `yaml:"latest_ttl,omitempty"`
	Encoding  string   `yaml:"encoding,omitempty"`
	Timeout   Duration `yaml:"timeout,omitempty"`
	Retries   *int     `yaml:"retries,omitempty"`
}

// WebhookConfig configures the webhook publisher.
type WebhookConfig struct {
	URL         string            `yaml:"url"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	Timeout     Duration          `yaml:"timeout,omitempty"`
	Retries     *int              `yaml:"retries,omitempty"`
	MinInterval Duration          `yaml:"min_interval,omitempty"`
}

// LodeConfig configures the Lode recorder.
type LodeConfig struct {
	Dataset string `yaml:"dataset"`
	// Backend is fs (default), s3 or memory.
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
	BatchSize   int    `yaml:"batch_size"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address, e.g. ":9464". Empty disables it.
	Addr string `yaml:"addr"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", s)
	}
	d.Duration = parsed
	return nil
}

// Publisher types.
const (
	PublisherNone    = "none"
	PublisherStub    = "stub"
	PublisherRedis   = "redis"
	PublisherWebhook = "webhook"
	PublisherLode    = "lode"
)

// Validate checks values that can be checked without dialing anything.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Codec(); err != nil {
		errs = append(errs, err)
	}
	if c.Joints != nil {
		if err := c.Joints.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := c.MotionBuffer(); err != nil {
		errs = append(errs, err)
	}
	if c.Publisher.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("publisher.queue_size must be >= 0, got %d", c.Publisher.QueueSize))
	}
	switch c.Publisher.Type {
	case "", PublisherNone, PublisherStub:
	case PublisherRedis:
		if c.Publisher.Redis.URL == "" {
			errs = append(errs, errors.New("publisher.redis.url is required"))
		}
	case PublisherWebhook:
		if c.Publisher.Webhook.URL == "" {
			errs = append(errs, errors.New("publisher.webhook.url is required"))
		}
	case PublisherLode:
		switch c.Publisher.Lode.Backend {
		case "", "fs", "memory":
		case "s3":
			if c.Publisher.Lode.Path == "" {
				errs = append(errs, errors.New("publisher.lode.path is required for s3 (bucket/prefix)"))
			}
		default:
			errs = append(errs, fmt.Errorf("publisher.lode.backend %q: want fs, s3 or memory", c.Publisher.Lode.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("publisher.type %q: want none, stub, redis, webhook or lode", c.Publisher.Type))
	}
	return errors.Join(errs...)
}

// Codec returns the wire codec for ByteOrder.
func (c *Config) Codec() (*wire.Codec, error) {
	order, err := wire.ParseByteOrder(c.ByteOrder)
	if err != nil {
		return nil, fmt.Errorf("byte_order: %w", err)
	}
	return wire.NewCodec(order), nil
}

// MotionBuffer returns the validated ring layout, file values over
// motion.DefaultConfig.
func (c *Config) MotionBuffer() (motion.Config, error) {
	cfg := motion.DefaultConfig()
	m := c.Motion
	if m.QueueSize != 0 {
		cfg.QueueSize = m.QueueSize
	}
	if m.LookAhead != nil {
		cfg.LookAhead = *m.LookAhead
	}
	if m.MaxBufferSize != 0 {
		cfg.MaxBufferSize = m.MaxBufferSize
	}
	if m.MotionPointer != 0 {
		cfg.MotionPointer = m.MotionPointer
	}
	if m.BufferPointer != 0 {
		cfg.BufferPointer = m.BufferPointer
	}
	if m.MinBufferStartPointer != 0 {
		cfg.MinBufferStartPointer = m.MinBufferStartPointer
	}
	if m.DefaultVelocity != 0 {
		cfg.DefaultVelocity = m.DefaultVelocity
	}
	cfg.BufferPoll = m.BufferPoll.Policy(cfg.BufferPoll.Interval)
	cfg.VarPoll = m.VarPoll.Policy(cfg.VarPoll.Interval)
	if err := cfg.Validate(); err != nil {
		return motion.Config{}, err
	}
	return cfg, nil
}

// ReconnectPolicy returns the state channel's reconnect policy. The
// default backs off from 500ms to 10s without bound.
func (c *Config) ReconnectPolicy() retry.Policy {
	p := c.State.Reconnect.Policy(500 * time.Millisecond)
	if p.MaxInterval == 0 {
		p.MaxInterval = 10 * time.Second
	}
	return p
}

// JointMap returns the configured joint map, or the default for n joints.
func (c *Config) JointMap(n int) relay.JointMap {
	if c.Joints != nil {
		return *c.Joints
	}
	return relay.DefaultJointMap(n)
}

// StateAddress returns the state address, defaulting the port.
func (c *Config) StateAddress(host string) string {
	return addressOr(c.State.Address, host, DefaultStatePort)
}

// MotionAddress returns the motion address, defaulting the port.
func (c *Config) MotionAddress(host string) string {
	return addressOr(c.Motion.Address, host, DefaultMotionPort)
}

func addressOr(addr, host string, port int) string {
	if addr != "" {
		return addr
	}
	if host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", host, port)
}
