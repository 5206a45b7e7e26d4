package motion

import (
	"fmt"
	"time"

	"github.com/pithecene-io/armlink/retry"
)

// RetryPolicy bounds buffer-full waits and controller write retries.
// Zero MaxAttempts and MaxDuration wait indefinitely.
type RetryPolicy = retry.Policy

// ErrRetryExhausted is returned when a RetryPolicy bound is hit.
var ErrRetryExhausted = retry.ErrExhausted

// Defaults for a controller with 100 position variables.
const (
	DefaultQueueSize             = 100
	DefaultLookAhead             = 5
	DefaultMaxBufferSize         = 50
	DefaultMotionPointer         = 101
	DefaultBufferPointer         = 102
	DefaultMinBufferStartPointer = 103
	DefaultVelocity              = 10.0
)

// Config describes the ring layout in controller memory.
//
// Slot i of the ring is position variable i, with its velocity in integer
// variable i. The three pointer registers are integer variables placed
// beyond the ring so they never alias a velocity.
type Config struct {
	// QueueSize is the number of slots (QSIZE).
	QueueSize int `yaml:"queue_size"`
	// LookAhead is the number of buffered points the executor waits for
	// before it starts moving.
	LookAhead int `yaml:"look_ahead"`
	// MaxBufferSize caps occupancy so the producer never laps the consumer.
	MaxBufferSize int `yaml:"max_buffer_size"`
	// MotionPointer is the register holding the executor's cursor.
	MotionPointer int `yaml:"motion_pointer"`
	// BufferPointer is the register holding the producer's cursor.
	BufferPointer int `yaml:"buffer_pointer"`
	// MinBufferStartPointer is the register the executor reads LookAhead from.
	MinBufferStartPointer int `yaml:"min_buffer_start_pointer"`
	// BufferPoll paces waits while the buffer is full.
	BufferPoll RetryPolicy `yaml:"buffer_poll"`
	// VarPoll paces retries of rejected variable reads and writes.
	VarPoll RetryPolicy `yaml:"var_poll"`
	// DefaultVelocity is the velocity percent used for points without one.
	DefaultVelocity float64 `yaml:"default_velocity"`
}

// DefaultConfig returns the default layout.
func DefaultConfig() Config {
	return Config{
		QueueSize:             DefaultQueueSize,
		LookAhead:             DefaultLookAhead,
		MaxBufferSize:         DefaultMaxBufferSize,
		MotionPointer:         DefaultMotionPointer,
		BufferPointer:         DefaultBufferPointer,
		MinBufferStartPointer: DefaultMinBufferStartPointer,
		BufferPoll:            RetryPolicy{Interval: 10 * time.Millisecond},
		VarPoll:               RetryPolicy{Interval: 10 * time.Millisecond},
		DefaultVelocity:       DefaultVelocity,
	}
}

// ConfigError reports an inconsistent ring layout.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("motion buffer config: %s: %s", e.Field, e.Msg)
}

// Validate checks the layout invariants.
func (c Config) Validate() error {
	if c.QueueSize <= 0 {
		return &ConfigError{Field: "queue_size", Msg: fmt.Sprintf("must be > 0, got %d", c.QueueSize)}
	}
	if c.LookAhead < 0 {
		return &ConfigError{Field: "look_ahead", Msg: fmt.Sprintf("must be >= 0, got %d", c.LookAhead)}
	}
	if c.QueueSize <= c.LookAhead {
		return &ConfigError{Field: "queue_size", Msg: fmt.Sprintf("%d must exceed look_ahead %d", c.QueueSize, c.LookAhead)}
	}
	pointers := []struct {
		field string
		value int
	}{
		{"motion_pointer", c.MotionPointer},
		{"buffer_pointer", c.BufferPointer},
		{"min_buffer_start_pointer", c.MinBufferStartPointer},
	}
	seen := make(map[int]string, len(pointers))
	for _, p := range pointers {
		if p.value <= c.QueueSize {
			return &ConfigError{Field: p.field, Msg: fmt.Sprintf("%d must lie beyond queue_size %d", p.value, c.QueueSize)}
		}
		if other, ok := seen[p.value]; ok {
			return &ConfigError{Field: p.field, Msg: fmt.Sprintf("register %d already used by %s", p.value, other)}
		}
		seen[p.value] = p.field
	}
	if c.MaxBufferSize <= 0 || c.MaxBufferSize >= c.QueueSize {
		return &ConfigError{Field: "max_buffer_size", Msg: fmt.Sprintf("%d must be in (0, %d)", c.MaxBufferSize, c.QueueSize)}
	}
	if c.LookAhead > c.MaxBufferSize {
		return &ConfigError{Field: "look_ahead", Msg: fmt.Sprintf("%d exceeds max_buffer_size %d", c.LookAhead, c.MaxBufferSize)}
	}
	if _, err := VelocityToInt(c.DefaultVelocity); err != nil {
		return &ConfigError{Field: "default_velocity", Msg: err.Error()}
	}
	if err := c.BufferPoll.Validate(); err != nil {
		return &ConfigError{Field: "buffer_poll", Msg: err.Error()}
	}
	if err := c.VarPoll.Validate(); err != nil {
		return &ConfigError{Field: "var_poll", Msg: err.Error()}
	}
	return nil
}
