// Package lode records joint-state telemetry and session metrics into a
// Lode dataset.
//
// Records are Hive-partitioned by robot_id/day/session/record_kind and
// encoded as JSON lines. The same layout is used for reading back.
package lode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/armlink/adapter"
	"github.com/pithecene-io/armlink/metrics"
	"github.com/pithecene-io/armlink/types"
)

// DefaultDataset is the dataset ID used when none is configured.
const DefaultDataset = "armlink"

// DefaultBatchSize is the number of joint states buffered per write.
const DefaultBatchSize = 100

// partitionKeys is the Hive layout shared by the write and read paths.
var partitionKeys = []string{"robot_id", "day", "session", "record_kind"}

// ErrRecorderClosed is returned by Publish after Close.
var ErrRecorderClosed = errors.New("recorder closed")

// DeriveDay computes the partition day (YYYY-MM-DD, UTC) from the session
// start time.
func DeriveDay(start time.Time) string {
	return start.UTC().Format("2006-01-02")
}

// Config holds the recorder's dataset and partition values.
type Config struct {
	// Dataset is the Lode dataset ID. Defaults to DefaultDataset.
	Dataset string
	// RobotID is the robot partition key.
	RobotID string
	// Day is the day partition key. See DeriveDay.
	Day string
	// Session identifies one armlink process run.
	Session string
	// BatchSize is the number of states buffered before a write.
	// Defaults to DefaultBatchSize; 1 writes every state.
	BatchSize int
}

// Validate checks that every partition key is set.
func (c *Config) Validate() error {
	switch {
	case c.RobotID == "":
		return errors.New("lode recorder: robot_id is required")
	case c.Day == "":
		return errors.New("lode recorder: day is required")
	case c.Session == "":
		return errors.New("lode recorder: session is required")
	case c.BatchSize < 0:
		return fmt.Errorf("lode recorder: batch size must be >= 0, got %d", c.BatchSize)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Dataset == "" {
		c.Dataset = DefaultDataset
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	return c
}

// Recorder is an adapter.Publisher that appends joint states to a Lode
// dataset in batches.
type Recorder struct {
	dataset lode.Dataset
	config  Config

	storeFactory lode.StoreFactory
	storeOnce    sync.Once
	store        lode.Store
	storeErr     error

	mu      sync.Mutex // guards pending and closed
	pending []any
	closed  bool
}

var _ adapter.Publisher = (*Recorder)(nil)

// NewRecorder creates a recorder with filesystem storage under root.
func NewRecorder(cfg Config, root string) (*Recorder, error) {
	return NewRecorderWithFactory(cfg, lode.NewFSFactory(root))
}

// NewMemoryRecorder creates a recorder over process memory. Records are
// lost on exit.
func NewMemoryRecorder(cfg Config) (*Recorder, error) {
	return NewRecorderWithFactory(cfg, lode.NewMemoryFactory())
}

// NewRecorderWithFactory creates a recorder over a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewRecorderWithFactory(cfg Config, factory lode.StoreFactory) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	ds, err := newDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return &Recorder{
		dataset:      ds,
		config:       cfg,
		storeFactory: factory,
		pending:      make([]any, 0, cfg.BatchSize),
	}, nil
}

func newDataset(id string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(id),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// Config returns the recorder configuration with defaults applied.
func (r *Recorder) Config() Config {
	return r.config
}

// Publish buffers s and writes the batch once it is full.
func (r *Recorder) Publish(ctx context.Context, s *types.JointState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRecorderClosed
	}
	r.pending = append(r.pending, toJointStateRecordMap(s, r.config))
	if len(r.pending) < r.config.BatchSize {
		return nil
	}
	return r.flushLocked(ctx)
}

// Flush writes buffered states.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked(ctx)
}

// flushLocked writes pending records. They are kept for the next attempt
// when the write fails.
func (r *Recorder) flushLocked(ctx context.Context) error {
	if len(r.pending) == 0 {
		return nil
	}
	if _, err := r.dataset.Write(ctx, r.pending, lode.Metadata{}); err != nil {
		return WrapWriteError(err, r.partitionPath(RecordKindJointState))
	}
	r.pending = make([]any, 0, r.config.BatchSize)
	return nil
}

// Pending returns the number of buffered states.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// WriteMetrics writes a metrics record for the session.
func (r *Recorder) WriteMetrics(ctx context.Context, snap metrics.Snapshot, completedAt time.Time) error {
	record := toMetricsRecordMap(snap, completedAt, r.config)
	if _, err := r.dataset.Write(ctx, []any{record}, lode.Metadata{}); err != nil {
		return WrapWriteError(err, r.partitionPath(RecordKindMetrics))
	}
	return nil
}

// Close flushes buffered states. Publish fails afterwards.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.flushLocked(context.Background())
}

// partitionPath is the Hive path of this session's partition for kind.
func (r *Recorder) partitionPath(kind string) string {
	return fmt.Sprintf("%s/robot_id=%s/day=%s/session=%s/record_kind=%s",
		r.config.Dataset, r.config.RobotID, r.config.Day, r.config.Session, kind)
}
