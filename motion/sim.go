package motion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/pithecene-io/armlink/dispatch"
	"github.com/pithecene-io/armlink/log"
	"github.com/pithecene-io/armlink/transport"
	"github.com/pithecene-io/armlink/wire"
)

// SimController is an in-memory controller with a motion executor that
// drains the ring the way the controller job does. It backs tests and the
// simulate mode of the CLI.
type SimController struct {
	cfg Config

	mu            sync.Mutex
	ints          map[int]int
	positions     map[int][]float64
	writeFailures int
	started       bool
	consumed      [][]float64
	maxOccupancy  int
}

var _ Controller = (*SimController)(nil)

// NewSimController returns a simulated controller using cfg's register
// layout. Every variable starts at zero.
func NewSimController(cfg Config) *SimController {
	return &SimController{
		cfg:       cfg,
		ints:      make(map[int]int),
		positions: make(map[int][]float64),
	}
}

// InjectWriteFailures makes the next n writes fail with ErrRejected.
func (s *SimController) InjectWriteFailures(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeFailures = n
}

// GetInteger implements Controller.
func (s *SimController) GetInteger(ctx context.Context, index int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ints[index], nil
}

// SetInteger implements Controller.
func (s *SimController) SetInteger(ctx context.Context, index, value int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rejectLocked(); err != nil {
		return err
	}
	s.ints[index] = value
	if index == s.cfg.BufferPointer {
		s.maxOccupancy = max(s.maxOccupancy, value-s.ints[s.cfg.MotionPointer])
	}
	return nil
}

// PutPosition implements Controller.
func (s *SimController) PutPosition(ctx context.Context, index int, joints []float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rejectLocked(); err != nil {
		return err
	}
	s.positions[index] = slices.Clone(joints)
	return nil
}

func (s *SimController) rejectLocked() error {
	if s.writeFailures > 0 {
		s.writeFailures--
		return fmt.Errorf("%w: injected failure", ErrRejected)
	}
	return nil
}

// Step runs one executor cycle and reports whether a point was consumed.
// The executor starts once occupancy reaches the look-ahead register and
// keeps moving until the ring drains.
func (s *SimController) Step() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	motionIdx := s.ints[s.cfg.MotionPointer]
	occupancy := s.ints[s.cfg.BufferPointer] - motionIdx
	if occupancy <= 0 {
		s.started = false
		return false
	}
	if !s.started && occupancy < s.ints[s.cfg.MinBufferStartPointer] {
		return false
	}
	s.started = true

	slot := (motionIdx + 1) % s.cfg.QueueSize
	s.consumed = append(s.consumed, slices.Clone(s.positions[slot]))
	s.ints[s.cfg.MotionPointer] = motionIdx + 1
	return true
}

// Run steps the executor every tick until ctx is done.
func (s *SimController) Run(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Step()
		}
	}
}

// Consumed returns the positions executed so far, in order.
func (s *SimController) Consumed() [][]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]float64, len(s.consumed))
	for i, p := range s.consumed {
		out[i] = slices.Clone(p)
	}
	return out
}

// MaxOccupancy returns the highest occupancy observed after a buffer
// cursor write.
func (s *SimController) MaxOccupancy() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxOccupancy
}

// Integer returns integer variable index.
func (s *SimController) Integer(index int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ints[index]
}

// Position returns a copy of position variable index.
func (s *SimController) Position(index int) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.positions[index])
}

// ServeConn answers VAR_* requests on conn from the simulated variables
// until ctx ends or the connection fails. Unknown requests get FAILURE.
func (s *SimController) ServeConn(ctx context.Context, conn *transport.Conn, logger *log.Logger) error {
	if logger == nil {
		logger = log.Nop()
	}
	m := dispatch.NewManager(dispatch.WithLogger(logger), dispatch.WithCodec(conn.Codec()))
	for _, h := range VarHandlers(s, conn.Codec()) {
		if err := m.Add(h, false); err != nil {
			return err
		}
	}
	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if wire.IsDecodeError(err) {
				logger.Warn("dropping undecodable frame", map[string]any{"error": err.Error()})
				continue
			}
			if errors.Is(err, transport.ErrClosed) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		_ = m.Dispatch(ctx, msg, conn)
	}
}
