package tui

import (
	"context"
	"errors"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/armlink/adapter"
	"github.com/pithecene-io/armlink/types"
)

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("tui publisher closed")

// Sender delivers messages to a running program. *tea.Program satisfies it.
type Sender interface {
	Send(msg tea.Msg)
}

// Publisher forwards joint states to the monitor.
type Publisher struct {
	send   Sender
	mu     sync.Mutex
	closed bool
}

var _ adapter.Publisher = (*Publisher)(nil)

// NewPublisher creates a publisher feeding send.
func NewPublisher(send Sender) *Publisher {
	return &Publisher{send: send}
}

// Publish sends a copy of state to the monitor.
func (p *Publisher) Publish(ctx context.Context, state *types.JointState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPublisherClosed
	}
	p.send.Send(StateMsg{State: state.Clone()})
	return nil
}

// Link reports the state channel status to the monitor.
func (p *Publisher) Link(err error) {
	p.send.Send(LinkMsg{Err: err})
}

// Close stops forwarding. The program itself is not stopped.
func (p *Publisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// NewProgram creates the monitor program bound to ctx.
func NewProgram(ctx context.Context, m Monitor, opts ...tea.ProgramOption) *tea.Program {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}, opts...)
	return tea.NewProgram(m, opts...)
}

// RenderStatic renders the monitor without running a program.
func RenderStatic(m Monitor) string {
	m.width = 80
	m.height = 24
	return m.View()
}
