// Package motion streams joint set-points into a ring of position variables
// in controller memory, consumed by the controller's own motion executor.
//
// The ring has two cursors held in controller integer registers. The
// executor owns the motion cursor; this package owns the buffer cursor and
// advances it by one only after the slot it points to has been written. No
// lock is shared with the executor: write-then-advance is the only ordering
// guarantee. Cursors grow without bound; slot = cursor mod QueueSize.
package motion

import (
	"context"
	"errors"
	"fmt"

	"github.com/pithecene-io/armlink/log"
	"github.com/pithecene-io/armlink/metrics"
	"github.com/pithecene-io/armlink/retry"
	"github.com/pithecene-io/armlink/types"
)

// AlarmCursorDesync tags the log entry emitted when the motion cursor is
// observed ahead of the buffer cursor.
const AlarmCursorDesync = "cursor_desync"

// Buffer is the producer side of the ring. One Buffer per ring; it is not
// safe for concurrent AddPoint calls.
type Buffer struct {
	cfg       Config
	ctrl      Controller
	logger    *log.Logger
	collector *metrics.Collector
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithLogger sets the logger. Defaults to log.Nop().
func WithLogger(l *log.Logger) Option {
	return func(b *Buffer) { b.logger = l }
}

// WithCollector sets the metrics collector.
func WithCollector(c *metrics.Collector) Option {
	return func(b *Buffer) { b.collector = c }
}

// New validates cfg and returns a Buffer writing through ctrl.
// A layout error is returned as *ConfigError.
func New(ctrl Controller, cfg Config, opts ...Option) (*Buffer, error) {
	if ctrl == nil {
		return nil, errors.New("motion buffer requires a controller")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Buffer{cfg: cfg, ctrl: ctrl, logger: log.Nop()}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Config returns the ring layout.
func (b *Buffer) Config() Config {
	return b.cfg
}

// MotionIndex reads the executor's cursor.
func (b *Buffer) MotionIndex(ctx context.Context) (int, error) {
	return b.getInteger(ctx, b.cfg.MotionPointer)
}

// BufferIndex reads the producer's cursor.
func (b *Buffer) BufferIndex(ctx context.Context) (int, error) {
	return b.getInteger(ctx, b.cfg.BufferPointer)
}

// Occupancy returns bufferIndex - motionIndex clamped to [0, MaxBufferSize].
// A motion cursor ahead of the buffer cursor raises the cursor_desync alarm
// and reads as empty.
func (b *Buffer) Occupancy(ctx context.Context) (int, error) {
	motionIdx, err := b.MotionIndex(ctx)
	if err != nil {
		return 0, err
	}
	bufferIdx, err := b.BufferIndex(ctx)
	if err != nil {
		return 0, err
	}
	return b.occupancy(motionIdx, bufferIdx), nil
}

func (b *Buffer) occupancy(motionIdx, bufferIdx int) int {
	switch {
	case motionIdx > bufferIdx:
		b.collector.IncCursorDesync()
		b.logger.Alarm(AlarmCursorDesync, "motion index ahead of buffer index, reporting empty buffer", map[string]any{
			"motion_index": motionIdx,
			"buffer_index": bufferIdx,
		})
		return 0
	case bufferIdx-motionIdx > b.cfg.MaxBufferSize:
		b.logger.Warn("occupancy above max buffer size, clamping", map[string]any{
			"motion_index":    motionIdx,
			"buffer_index":    bufferIdx,
			"max_buffer_size": b.cfg.MaxBufferSize,
		})
		return b.cfg.MaxBufferSize
	default:
		return bufferIdx - motionIdx
	}
}

// Full reports whether occupancy has reached MaxBufferSize.
func (b *Buffer) Full(ctx context.Context) (bool, error) {
	n, err := b.Occupancy(ctx)
	return n >= b.cfg.MaxBufferSize, err
}

// Empty reports whether no points are waiting.
func (b *Buffer) Empty(ctx context.Context) (bool, error) {
	n, err := b.Occupancy(ctx)
	return n <= 0, err
}

// MotionSlot returns the slot the executor is on.
func (b *Buffer) MotionSlot(ctx context.Context) (int, error) {
	idx, err := b.MotionIndex(ctx)
	return b.slot(idx), err
}

// BufferSlot returns the slot last written by the producer.
func (b *Buffer) BufferSlot(ctx context.Context) (int, error) {
	idx, err := b.BufferIndex(ctx)
	return b.slot(idx), err
}

// NextBufferSlot returns the slot the next AddPoint writes.
func (b *Buffer) NextBufferSlot(ctx context.Context) (int, error) {
	idx, err := b.BufferIndex(ctx)
	return b.slot(idx + 1), err
}

func (b *Buffer) slot(cursor int) int {
	s := cursor % b.cfg.QueueSize
	if s < 0 {
		s += b.cfg.QueueSize
	}
	return s
}

// Init seeds slot 0 with pos and sets the executor's look-ahead register.
// The cursors are left as they are.
func (b *Buffer) Init(ctx context.Context, seed types.JointPosition, velocityPercent float64) error {
	if err := b.writeSlot(ctx, 0, seed, velocityPercent); err != nil {
		return fmt.Errorf("seed slot 0: %w", err)
	}
	if err := b.setInteger(ctx, b.cfg.MinBufferStartPointer, b.cfg.LookAhead); err != nil {
		return fmt.Errorf("set min buffer start: %w", err)
	}
	b.logger.Debug("motion buffer initialized", map[string]any{"look_ahead": b.cfg.LookAhead})
	return nil
}

// AddPoint waits for room, writes pos into the next slot and then advances
// the buffer cursor by one. A zero velocityPercent uses the configured
// default.
//
// Errors:
//   - ErrVelocityRange, types.ErrEmptyPosition or types.ErrNonFiniteJoint:
//     rejected before any write
//   - ctx.Err(): cancelled while waiting or retrying
//   - ErrRetryExhausted: a bounded BufferPoll or VarPoll policy gave up
//   - any non-rejection error from the Controller
func (b *Buffer) AddPoint(ctx context.Context, pos types.JointPosition, velocityPercent float64) error {
	if pos.Len() == 0 {
		return types.ErrEmptyPosition
	}
	if err := types.CheckFinite(pos.Joints); err != nil {
		return err
	}
	if velocityPercent == 0 {
		velocityPercent = b.cfg.DefaultVelocity
	}
	if _, err := VelocityToInt(velocityPercent); err != nil {
		return err
	}

	var bufferIdx int
	err := b.cfg.BufferPoll.Poll(ctx, func() (bool, error) {
		motionIdx, err := b.MotionIndex(ctx)
		if err != nil {
			return false, err
		}
		bufferIdx, err = b.BufferIndex(ctx)
		if err != nil {
			return false, err
		}
		return b.occupancy(motionIdx, bufferIdx) < b.cfg.MaxBufferSize, nil
	}, b.collector.IncBufferFullWaits)
	if err != nil {
		return fmt.Errorf("wait for buffer space: %w", err)
	}

	slot := b.slot(bufferIdx + 1)
	if err := b.writeSlot(ctx, slot, pos, velocityPercent); err != nil {
		return fmt.Errorf("write slot %d: %w", slot, err)
	}
	if err := b.setInteger(ctx, b.cfg.BufferPointer, bufferIdx+1); err != nil {
		return fmt.Errorf("advance buffer index to %d: %w", bufferIdx+1, err)
	}
	b.collector.IncPointsStreamed()
	return nil
}

// Stream seeds the ring with the first point of traj and adds the rest in
// order. It returns the number of points committed, seed included.
// The whole trajectory is validated before the first write.
func (b *Buffer) Stream(ctx context.Context, traj *types.Trajectory, defaultVelocity float64) (int, error) {
	if traj == nil {
		return 0, types.ErrEmptyTrajectory
	}
	if err := traj.Validate(); err != nil {
		return 0, err
	}
	if defaultVelocity == 0 {
		defaultVelocity = b.cfg.DefaultVelocity
	}
	if err := types.CheckVelocity(defaultVelocity); err != nil {
		return 0, fmt.Errorf("default velocity: %w", err)
	}

	first := traj.Points[0]
	if err := b.Init(ctx, first, first.VelocityOr(defaultVelocity)); err != nil {
		return 0, err
	}
	committed := 1
	for i, p := range traj.Points[1:] {
		if err := b.AddPoint(ctx, p, p.VelocityOr(defaultVelocity)); err != nil {
			return committed, fmt.Errorf("point %d: %w", i+1, err)
		}
		committed++
	}
	b.logger.Info("trajectory streamed", map[string]any{"name": traj.Name, "points": committed})
	return committed, nil
}

// writeSlot writes the position and then the velocity of one slot.
func (b *Buffer) writeSlot(ctx context.Context, slot int, pos types.JointPosition, velocityPercent float64) error {
	vel, err := VelocityToInt(velocityPercent)
	if err != nil {
		return err
	}
	if pos.Len() == 0 {
		return types.ErrEmptyPosition
	}
	if err := types.CheckFinite(pos.Joints); err != nil {
		return err
	}
	err = b.withVarRetry(ctx, "put_position", slot, func() error {
		return b.ctrl.PutPosition(ctx, slot, pos.Joints)
	})
	if err != nil {
		return err
	}
	return b.setInteger(ctx, slot, vel)
}

func (b *Buffer) setInteger(ctx context.Context, index, value int) error {
	return b.withVarRetry(ctx, "set_integer", index, func() error {
		return b.ctrl.SetInteger(ctx, index, value)
	})
}

func (b *Buffer) getInteger(ctx context.Context, index int) (int, error) {
	var v int
	err := b.withVarRetry(ctx, "get_integer", index, func() error {
		var err error
		v, err = b.ctrl.GetInteger(ctx, index)
		return err
	})
	return v, err
}

// withVarRetry retries rejected accesses on the VarPoll policy. Any other
// error is returned at once.
func (b *Buffer) withVarRetry(ctx context.Context, op string, index int, fn func() error) error {
	return b.cfg.VarPoll.Do(ctx, func(attempt int) error {
		if attempt > 1 {
			b.collector.IncWriteRetries()
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrRejected) {
			return retry.Permanent(err)
		}
		b.logger.Warn("variable access rejected, retrying", map[string]any{
			"op":      op,
			"index":   index,
			"attempt": attempt,
		})
		return err
	})
}
