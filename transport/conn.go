// Package transport carries single wire messages over a stream connection.
//
// A Conn serializes writes, pairs requests with replies by call order and
// unblocks in-flight I/O when a context is cancelled. It never reconnects:
// a *Error leaves the Conn unusable and the owner decides whether to redial.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pithecene-io/armlink/log"
	"github.com/pithecene-io/armlink/metrics"
	"github.com/pithecene-io/armlink/wire"
)

// Sender sends one message. Handlers receive a Sender to answer requests.
type Sender interface {
	Send(ctx context.Context, msg *wire.Message) error
}

// deadliner is implemented by net.Conn and net.Pipe ends.
type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Options configures a Conn.
type Options struct {
	// Codec selects the byte order. Defaults to wire.Default.
	Codec *wire.Codec
	// Logger receives connection lifecycle events. Defaults to log.Nop().
	Logger *log.Logger
	// Collector counts frames sent and received. May be nil.
	Collector *metrics.Collector
	// DialTimeout bounds Dial when ctx has no earlier deadline.
	DialTimeout time.Duration
	// KeepAlive is the TCP keep-alive period. Zero uses the OS default.
	KeepAlive time.Duration
}

func (o Options) withDefaults() Options {
	if o.Codec == nil {
		o.Codec = wire.Default
	}
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = 5 * time.Second
	}
	return o
}

// Conn is a message connection to one controller port.
type Conn struct {
	rwc       io.ReadWriteCloser
	codec     *wire.Codec
	reader    *wire.FrameReader
	logger    *log.Logger
	collector *metrics.Collector

	// pairMu is held across a request/reply pair so at most one request
	// is outstanding. readMu and writeMu serialize each direction.
	pairMu  sync.Mutex
	readMu  sync.Mutex
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

var _ Sender = (*Conn)(nil)

// New wraps an established stream. Tests use one end of net.Pipe.
func New(rwc io.ReadWriteCloser, opts Options) *Conn {
	opts = opts.withDefaults()
	return &Conn{
		rwc:       rwc,
		codec:     opts.Codec,
		reader:    wire.NewFrameReader(rwc, opts.Codec),
		logger:    opts.Logger,
		collector: opts.Collector,
		done:      make(chan struct{}),
	}
}

// Dial opens a TCP connection to addr.
func Dial(ctx context.Context, addr string, opts Options) (*Conn, error) {
	opts = opts.withDefaults()

	dialCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()

	d := net.Dialer{KeepAlive: opts.KeepAlive}
	nc, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &Error{Op: "dial", Kind: ErrorIO, Err: err}
	}
	if tcp, ok := nc.(*net.TCPConn); ok {
		// Set-points are small and latency bound.
		_ = tcp.SetNoDelay(true)
	}

	opts.Logger.Info("connected", map[string]any{"addr": addr})
	return New(nc, opts), nil
}

// Codec returns the codec used by the connection.
func (c *Conn) Codec() *wire.Codec {
	return c.codec
}

// Send encodes and writes one message.
func (c *Conn) Send(ctx context.Context, msg *wire.Message) error {
	frame, err := c.codec.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.checkOpen("send"); err != nil {
		return err
	}

	stop := c.watch(ctx, func(t time.Time) error {
		if d, ok := c.rwc.(deadliner); ok {
			return d.SetWriteDeadline(t)
		}
		return nil
	})
	n, err := c.rwc.Write(frame)
	stop()

	if err != nil {
		err = c.ioError(ctx, "send", err)
		if n > 0 {
			// The peer holds a partial frame and cannot resynchronize.
			_ = c.Close()
		}
		return err
	}
	c.collector.IncMessagesSent()
	return nil
}

// Receive blocks until one message arrives.
//
// Errors:
//   - context error: ctx was cancelled while waiting; the connection is
//     closed if part of a frame had already been read
//   - *wire.FrameError with Kind=FrameErrorDecode: malformed message,
//     discarded; the connection stays usable
//   - *Error: the connection failed and must not be reused
func (c *Conn) Receive(ctx context.Context) (*wire.Message, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	return c.receiveLocked(ctx)
}

func (c *Conn) receiveLocked(ctx context.Context) (*wire.Message, error) {
	if err := c.checkOpen("receive"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stop := c.watch(ctx, func(t time.Time) error {
		if d, ok := c.rwc.(deadliner); ok {
			return d.SetReadDeadline(t)
		}
		return nil
	})
	msg, err := c.reader.ReadMessage()
	stop()

	if err != nil {
		if wire.IsDecodeError(err) {
			c.collector.IncMessagesReceived()
			return nil, err
		}
		if wire.IsFatalFrameError(err) {
			err = &Error{Op: "receive", Kind: ErrorProtocol, Err: err}
		} else {
			err = c.ioError(ctx, "receive", err)
		}
		if c.reader.MidFrame() {
			// The rest of the frame is still in flight; nothing after it
			// can be framed reliably.
			_ = c.Close()
		}
		return nil, err
	}
	c.collector.IncMessagesReceived()
	return msg, nil
}

// SendAndReceive sends a request and returns the next message, which must
// be a reply of the same message type. Concurrent callers are serialized.
//
// Any other message means the reply stream is out of step with requests:
// the connection is closed and a *Error wrapping ErrUnexpectedReply is
// returned along with the message that was read.
func (c *Conn) SendAndReceive(ctx context.Context, req *wire.Message) (*wire.Message, error) {
	c.pairMu.Lock()
	defer c.pairMu.Unlock()

	if err := c.Send(ctx, req); err != nil {
		return nil, err
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	reply, err := c.receiveLocked(ctx)
	if err != nil {
		return nil, err
	}
	if !reply.IsReply() || reply.Type != req.Type {
		c.logger.Warn("unexpected reply", map[string]any{
			"request": req.Type.String(),
			"got":     reply.String(),
		})
		_ = c.Close()
		return reply, &Error{
			Op:   "receive",
			Kind: ErrorProtocol,
			Err:  fmt.Errorf("%w: sent %s, got %s", ErrUnexpectedReply, req.Type, reply),
		}
	}
	return reply, nil
}

// Close closes the underlying stream. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}

func (c *Conn) checkOpen(op string) error {
	select {
	case <-c.done:
		return &Error{Op: op, Kind: ErrorClosed, Err: ErrClosed}
	default:
		return nil
	}
}

// watch applies ctx's deadline to the stream and forces an immediate
// deadline when ctx is cancelled mid-operation. The returned func clears
// both and must be called once the operation returns.
func (c *Conn) watch(ctx context.Context, setDeadline func(time.Time) error) func() {
	if deadline, ok := ctx.Deadline(); ok {
		_ = setDeadline(deadline)
	}
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		_ = setDeadline(time.Unix(1, 0))
	})
	return func() {
		if !stop() {
			<-fired
		}
		_ = setDeadline(time.Time{})
	}
}

// ioError maps a stream error to the caller-visible error: the context
// error when ctx ended the operation, otherwise a *Error.
func (c *Conn) ioError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return ctxErr
	}
	select {
	case <-c.done:
		return &Error{Op: op, Kind: ErrorClosed, Err: ErrClosed}
	default:
	}
	return &Error{Op: op, Kind: ErrorIO, Err: err}
}
