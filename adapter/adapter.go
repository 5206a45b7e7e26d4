// Package adapter defines the telemetry sink boundary.
//
// Publishers receive normalized joint states from the relay. The state
// interface owns publisher lifecycle; users provide configuration only.
package adapter

import (
	"context"
	"errors"
	"sync"

	"github.com/pithecene-io/armlink/types"
)

// Publisher sends joint states to a downstream system.
type Publisher interface {
	// Publish sends one joint state.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, state *types.JointState) error

	// Close flushes and releases publisher resources.
	Close() error
}

// StubPublisher keeps published states in memory.
// Used by tests and as the sink when no publisher is configured.
type StubPublisher struct {
	mu     sync.Mutex
	states []*types.JointState
	// Limit caps retained states; older entries are discarded first.
	// Zero keeps everything.
	Limit  int
	closed bool
}

// NewStubPublisher creates an in-memory publisher.
func NewStubPublisher(limit int) *StubPublisher {
	return &StubPublisher{Limit: limit}
}

// Publish records a copy of state.
func (s *StubPublisher) Publish(ctx context.Context, state *types.JointState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stub publisher closed")
	}
	s.states = append(s.states, state.Clone())
	if s.Limit > 0 && len(s.states) > s.Limit {
		s.states = s.states[len(s.states)-s.Limit:]
	}
	return nil
}

// States returns the recorded states, oldest first.
func (s *StubPublisher) States() []*types.JointState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.JointState, len(s.states))
	copy(out, s.states)
	return out
}

// Last returns the most recent state, or nil.
func (s *StubPublisher) Last() *types.JointState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) == 0 {
		return nil
	}
	return s.states[len(s.states)-1]
}

// Close marks the publisher closed.
func (s *StubPublisher) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// MultiSink fans a state out to several publishers in order.
// Every publisher is attempted; their errors are joined.
type MultiSink []Publisher

// Publish implements Publisher.
func (m MultiSink) Publish(ctx context.Context, state *types.JointState) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, state); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every publisher.
func (m MultiSink) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Publisher = (*StubPublisher)(nil)
	_ Publisher = MultiSink(nil)
)
