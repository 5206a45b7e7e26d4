// Package dispatch routes decoded messages to handlers by message type.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pithecene-io/armlink/log"
	"github.com/pithecene-io/armlink/metrics"
	"github.com/pithecene-io/armlink/transport"
	"github.com/pithecene-io/armlink/wire"
)

// ErrHandlerExists is returned by Add when the message type already has a
// handler and replacement was not allowed.
var ErrHandlerExists = errors.New("handler already registered")

// Handler processes messages of one type.
// Handlers run on the receive loop goroutine and must not modify msg.
type Handler interface {
	MsgType() wire.MsgType
	Handle(ctx context.Context, msg *wire.Message, out transport.Sender) error
}

// HandlerFunc adapts a function to Handler for a fixed message type.
type HandlerFunc struct {
	Type wire.MsgType
	Fn   func(ctx context.Context, msg *wire.Message, out transport.Sender) error
}

// MsgType implements Handler.
func (f HandlerFunc) MsgType() wire.MsgType { return f.Type }

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, msg *wire.Message, out transport.Sender) error {
	return f.Fn(ctx, msg, out)
}

// UnhandledFunc is invoked for messages without a registered handler.
type UnhandledFunc func(ctx context.Context, msg *wire.Message, out transport.Sender) error

// Manager owns a handler registry.
type Manager struct {
	mu        sync.RWMutex
	handlers  map[wire.MsgType]Handler
	unhandled UnhandledFunc
	codec     *wire.Codec
	logger    *log.Logger
	collector *metrics.Collector
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to log.Nop().
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithCollector sets the metrics collector.
func WithCollector(c *metrics.Collector) Option {
	return func(m *Manager) { m.collector = c }
}

// WithCodec sets the codec used to build FAILURE replies.
func WithCodec(c *wire.Codec) Option {
	return func(m *Manager) { m.codec = c }
}

// WithUnhandled replaces the unhandled-message policy.
func WithUnhandled(fn UnhandledFunc) Option {
	return func(m *Manager) { m.unhandled = fn }
}

// NewManager creates an empty registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		handlers: make(map[wire.MsgType]Handler),
		codec:    wire.Default,
		logger:   log.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.unhandled == nil {
		m.unhandled = m.rejectUnhandled
	}
	return m
}

// Add registers h for h.MsgType(). When the type is taken and allowReplace
// is false the existing handler is kept and ErrHandlerExists is returned.
func (m *Manager) Add(h Handler, allowReplace bool) error {
	if h == nil {
		return errors.New("nil handler")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t := h.MsgType()
	if _, ok := m.handlers[t]; ok && !allowReplace {
		return fmt.Errorf("%w: %s", ErrHandlerExists, t)
	}
	m.handlers[t] = h
	return nil
}

// Handler returns the handler registered for t.
func (m *Manager) Handler(t wire.MsgType) (Handler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handlers[t]
	return h, ok
}

// Types returns the registered message types in ascending order.
func (m *Manager) Types() []wire.MsgType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]wire.MsgType, 0, len(m.handlers))
	for t := range m.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dispatch routes msg to its handler, or to the unhandled policy.
// The returned error is the handler's; it has already been logged and
// counted, and callers continue with the next message.
func (m *Manager) Dispatch(ctx context.Context, msg *wire.Message, out transport.Sender) error {
	h, ok := m.Handler(msg.Type)
	if !ok {
		m.collector.IncUnhandled(msg.Type.String())
		if err := m.unhandled(ctx, msg, out); err != nil {
			m.logger.Warn("unhandled message policy failed", map[string]any{
				"msg_type": msg.Type.String(),
				"error":    err.Error(),
			})
			return err
		}
		return nil
	}

	if err := h.Handle(ctx, msg, out); err != nil {
		m.collector.IncHandlerFailures()
		m.logger.Error("handler failed", map[string]any{
			"msg_type":  msg.Type.String(),
			"comm_type": msg.Comm.String(),
			"error":     err.Error(),
		})
		return err
	}
	return nil
}

// rejectUnhandled logs the message and answers requests with FAILURE so
// the controller is not left waiting.
func (m *Manager) rejectUnhandled(ctx context.Context, msg *wire.Message, out transport.Sender) error {
	m.logger.Warn("unhandled message", map[string]any{
		"msg_type":  msg.Type.String(),
		"comm_type": msg.Comm.String(),
		"size":      len(msg.Body),
	})
	if msg.Comm != wire.CommRequest || out == nil {
		return nil
	}
	reply := &wire.Message{Header: wire.Header{Type: msg.Type, Comm: wire.CommReply, Reply: wire.ReplyFailure}}
	if size, ok := wire.PayloadSize(msg.Type); ok && size > 0 {
		// Known layouts must keep their size on the reply.
		reply.Body = make([]byte, size)
	}
	return out.Send(ctx, reply)
}
