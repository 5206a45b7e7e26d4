package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// Frame size constants.
const (
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
	// HeaderSize is the size of the message header in bytes.
	HeaderSize = 12
	// MaxPayloadSize bounds the payload of a single message. The largest
	// standard payload is JOINT_FEEDBACK (132 bytes); the bound leaves room
	// for vendor messages without letting a corrupt prefix allocate freely.
	MaxPayloadSize = 4096
	// MaxFrameSize is the maximum frame size, including the length prefix.
	MaxFrameSize = LengthPrefixSize + HeaderSize + MaxPayloadSize
)

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a declared length above the frame limit.
	FrameErrorTooLarge
	// FrameErrorLength indicates a declared length shorter than the header
	// or disagreeing with the bytes supplied.
	FrameErrorLength
	// FrameErrorDecode indicates a payload that does not match the fixed
	// layout of its message type.
	FrameErrorDecode
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameErrorPartial:
		return "partial"
	case FrameErrorTooLarge:
		return "too_large"
	case FrameErrorLength:
		return "length"
	case FrameErrorDecode:
		return "decode"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FrameError represents a frame decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the stream cannot be resynchronized after this
// error. Partial, oversized and mis-sized frames are fatal; a payload that
// fails to decode only costs that one message.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorPartial || e.Kind == FrameErrorTooLarge || e.Kind == FrameErrorLength
}

// IsFatalFrameError returns true if the error is a fatal frame error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// IsDecodeError returns true if the error is a non-fatal payload decode error.
func IsDecodeError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.Kind == FrameErrorDecode
	}
	return false
}

// FrameReader reads length-prefixed frames from a stream.
type FrameReader struct {
	reader *bufio.Reader
	codec  *Codec
	// midFrame is set when the last read failed after consuming part of a
	// frame.
	midFrame bool
}

// NewFrameReader creates a frame reader using the codec's byte order.
func NewFrameReader(r io.Reader, codec *Codec) *FrameReader {
	return &FrameReader{reader: bufio.NewReader(r), codec: codec}
}

// MidFrame reports whether the last ReadFrame failed part way through a
// frame. The stream is out of sync afterwards and must not be read again.
func (r *FrameReader) MidFrame() bool {
	return r.midFrame
}

// ReadFrame reads a single frame from the stream.
// Returns the bytes following the length prefix (header and payload).
//
// Errors:
//   - io.EOF: stream ended cleanly on a frame boundary
//   - *FrameError with Kind=FrameErrorPartial: stream ended inside a frame (fatal)
//   - *FrameError with Kind=FrameErrorTooLarge: frame exceeds limit (fatal)
//   - *FrameError with Kind=FrameErrorLength: length shorter than a header (fatal)
//   - any other error from the underlying reader, wrapped
func (r *FrameReader) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	n, err := io.ReadFull(r.reader, lengthBuf[:])
	if err != nil {
		r.midFrame = n > 0
		if n == 0 && err == io.EOF {
			return nil, io.EOF
		}
		return nil, readError("length prefix", err)
	}

	length := int32(r.codec.order.Uint32(lengthBuf[:]))
	if length < HeaderSize {
		r.midFrame = true
		return nil, &FrameError{
			Kind: FrameErrorLength,
			Msg:  fmt.Sprintf("declared length %d is shorter than header size %d", length, HeaderSize),
		}
	}
	if length > HeaderSize+MaxPayloadSize {
		r.midFrame = true
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("declared length %d exceeds maximum %d", length, HeaderSize+MaxPayloadSize),
		}
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(r.reader, frame); err != nil {
		r.midFrame = true
		return nil, readError("frame body", err)
	}
	r.midFrame = false
	return frame, nil
}

// readError classifies a failed read. A stream that ends inside a frame is
// a partial frame; anything else is the reader's own failure.
func readError(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "truncated " + what,
			Err:  err,
		}
	}
	return fmt.Errorf("read %s: %w", what, err)
}

// ReadMessage reads and decodes the next message.
// A FrameErrorDecode result leaves the stream positioned at the next frame.
func (r *FrameReader) ReadMessage() (*Message, error) {
	frame, err := r.ReadFrame()
	if err != nil {
		return nil, err
	}
	return r.codec.DecodeBody(frame)
}
