package job

import (
	"bytes"
	"fmt"
	"strconv"
)

// Buffer is a fixed-capacity job text destination. Lines are appended
// whole or not at all.
type Buffer struct {
	data     []byte
	capacity int
	lines    int
}

// NewBuffer returns an empty buffer holding at most capacity bytes,
// newlines included.
func NewBuffer(capacity int) *Buffer {
	capacity = max(capacity, 0)
	return &Buffer{data: make([]byte, 0, capacity), capacity: capacity}
}

// Reset empties the buffer, keeping its capacity.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.lines = 0
}

// Len returns the bytes written.
func (b *Buffer) Len() int { return len(b.data) }

// Cap returns the capacity.
func (b *Buffer) Cap() int { return b.capacity }

// Remaining returns the free capacity.
func (b *Buffer) Remaining() int { return b.capacity - len(b.data) }

// Lines returns the number of committed lines.
func (b *Buffer) Lines() int { return b.lines }

// Bytes returns the committed text. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte { return b.data }

func (b *Buffer) String() string { return string(b.data) }

// appendLine commits line plus a newline if both fit.
func (b *Buffer) appendLine(line []byte) error {
	need := len(line) + 1
	if need > b.Remaining() {
		return fmt.Errorf("%w: line %d needs %d bytes, %d remaining",
			ErrCapacityExceeded, b.lines+1, need, b.Remaining())
	}
	b.data = append(b.data, line...)
	b.data = append(b.data, '\n')
	b.lines++
	return nil
}

// lineBuffer formats a single line into fixed storage.
type lineBuffer struct {
	storage [LineCapacity]byte
	n       int
}

func (l *lineBuffer) bytes() []byte {
	return l.storage[:l.n]
}

func (l *lineBuffer) set(out []byte) error {
	if len(out) > LineCapacity {
		l.n = 0
		return fmt.Errorf("%w: %d bytes, limit %d", ErrLineTooLong, len(out), LineCapacity)
	}
	if bytes.IndexByte(out, '\n') >= 0 {
		l.n = 0
		return fmt.Errorf("%w: embedded newline", ErrLineTooLong)
	}
	l.n = copy(l.storage[:], out)
	return nil
}

func (l *lineBuffer) printf(format string, args ...any) error {
	return l.set(fmt.Appendf(l.storage[:0], format, args...))
}

// movj formats a joint move: MOVJ J=<j1>,<j2>,... VJ=<velocity>.
func (l *lineBuffer) movj(joints []float64, velocity float64) error {
	out := append(l.storage[:0], "MOVJ J="...)
	for i, v := range joints {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendFloat(out, v, 'f', 4, 64)
	}
	out = append(out, " VJ="...)
	out = strconv.AppendFloat(out, velocity, 'f', 2, 64)
	return l.set(out)
}
