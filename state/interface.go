// Package state runs the controller state channel: it owns the connection,
// the handler registry and the default handlers, and drives the
// receive, decode and dispatch loop.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pithecene-io/armlink/dispatch"
	"github.com/pithecene-io/armlink/iox"
	"github.com/pithecene-io/armlink/log"
	"github.com/pithecene-io/armlink/metrics"
	"github.com/pithecene-io/armlink/relay"
	"github.com/pithecene-io/armlink/retry"
	"github.com/pithecene-io/armlink/transport"
	"github.com/pithecene-io/armlink/wire"
)

// DialFunc opens a fresh connection. Used to redial after a transport
// failure.
type DialFunc func(ctx context.Context) (*transport.Conn, error)

// Config configures an Interface.
type Config struct {
	// Conn is the established state connection (required).
	Conn *transport.Conn
	// Relay, when set, is registered for JOINT_POSITION and JOINT_FEEDBACK.
	Relay *relay.JointRelay
	// Dial enables reconnection. Nil makes transport failures terminal.
	Dial DialFunc
	// Reconnect bounds redial attempts after a failure.
	Reconnect retry.Policy
	// OnLink, when set, is called with the cause when the connection fails
	// and with nil once a redial succeeds.
	OnLink    func(err error)
	Logger    *log.Logger
	Collector *metrics.Collector
	// DispatchOptions are passed to the handler registry.
	DispatchOptions []dispatch.Option
}

// Interface is the composition root of the state channel.
type Interface struct {
	mu        sync.Mutex
	conn      *transport.Conn
	manager   *dispatch.Manager
	dial      DialFunc
	reconnect retry.Policy
	onLink    func(error)
	logger    *log.Logger
	collector *metrics.Collector
}

// New wires the connection to a fresh handler registry and registers the
// default handlers.
func New(cfg Config) (*Interface, error) {
	if cfg.Conn == nil {
		return nil, errors.New("state interface requires a connection")
	}
	if err := cfg.Reconnect.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	if cfg.OnLink == nil {
		cfg.OnLink = func(error) {}
	}

	opts := append([]dispatch.Option{
		dispatch.WithLogger(cfg.Logger),
		dispatch.WithCollector(cfg.Collector),
		dispatch.WithCodec(cfg.Conn.Codec()),
	}, cfg.DispatchOptions...)

	s := &Interface{
		conn:      cfg.Conn,
		manager:   dispatch.NewManager(opts...),
		dial:      cfg.Dial,
		reconnect: cfg.Reconnect,
		onLink:    cfg.OnLink,
		logger:    cfg.Logger,
		collector: cfg.Collector,
	}

	defaults := []dispatch.Handler{PingHandler{}}
	if cfg.Relay != nil {
		defaults = append(defaults, cfg.Relay.Handlers()...)
	}
	for _, h := range defaults {
		if err := s.manager.Add(h, false); err != nil {
			return nil, fmt.Errorf("register default handler: %w", err)
		}
	}
	return s, nil
}

// AddHandler registers an additional handler.
func (s *Interface) AddHandler(h dispatch.Handler, allowReplace bool) error {
	return s.manager.Add(h, allowReplace)
}

// Manager returns the handler registry.
func (s *Interface) Manager() *dispatch.Manager {
	return s.manager
}

// Conn returns the current connection.
func (s *Interface) Conn() *transport.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Send sends a message on the current connection.
func (s *Interface) Send(ctx context.Context, msg *wire.Message) error {
	return s.Conn().Send(ctx, msg)
}

// Run receives and dispatches messages until ctx ends or the connection
// fails without a way to redial.
//
// Returns:
//   - *RunError with Kind=RunErrorCanceled: context canceled
//   - *RunError with Kind=RunErrorTransport: connection lost
func (s *Interface) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return &RunError{Kind: RunErrorCanceled, Err: ctx.Err()}
		default:
		}

		conn := s.Conn()
		msg, err := conn.Receive(ctx)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return &RunError{Kind: RunErrorCanceled, Err: ctxErr}
		}

		if err != nil {
			if wire.IsDecodeError(err) {
				s.logger.Warn("discarding malformed message", map[string]any{"error": err.Error()})
				s.collector.IncDecodeErrors()
				continue
			}

			s.collector.IncTransportFailures()
			s.logger.Error("state connection failed", map[string]any{"error": err.Error()})
			s.onLink(err)
			if rerr := s.redial(ctx, conn, err); rerr != nil {
				return rerr
			}
			continue
		}

		// Handler errors are logged and counted by the manager.
		_ = s.manager.Dispatch(ctx, msg, conn)
	}
}

// redial replaces the failed connection. It returns a *RunError when no
// dialer is configured or the reconnect policy gives up.
func (s *Interface) redial(ctx context.Context, failed *transport.Conn, cause error) error {
	iox.DiscardClose(failed)
	if s.dial == nil {
		return &RunError{Kind: RunErrorTransport, Err: fmt.Errorf("state connection lost: %w", cause)}
	}

	var next *transport.Conn
	err := s.reconnect.Do(ctx, func(attempt int) error {
		conn, err := s.dial(ctx)
		if err != nil {
			s.logger.Warn("redial failed", map[string]any{"attempt": attempt, "error": err.Error()})
			return err
		}
		next = conn
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &RunError{Kind: RunErrorCanceled, Err: ctxErr}
		}
		return &RunError{Kind: RunErrorTransport, Err: fmt.Errorf("reconnect state channel: %w", err)}
	}

	s.mu.Lock()
	s.conn = next
	s.mu.Unlock()
	s.collector.IncReconnects()
	s.logger.Info("state connection re-established", nil)
	s.onLink(nil)
	return nil
}

// Close closes the current connection.
func (s *Interface) Close() error {
	return s.Conn().Close()
}
