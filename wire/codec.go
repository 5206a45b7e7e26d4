package wire

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Codec encodes and decodes messages with a fixed byte order.
// A Codec is stateless and safe for concurrent use.
type Codec struct {
	order binary.ByteOrder
}

// NewCodec returns a codec for the given byte order.
// A nil order selects little endian.
func NewCodec(order binary.ByteOrder) *Codec {
	if order == nil {
		order = binary.LittleEndian
	}
	return &Codec{order: order}
}

// ParseByteOrder maps "little" or "big" to a byte order.
// The empty string selects little endian.
func ParseByteOrder(s string) (binary.ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "little", "little_endian", "le":
		return binary.LittleEndian, nil
	case "big", "big_endian", "be":
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("unknown byte order %q (want little or big)", s)
	}
}

// ByteOrder returns the codec's byte order.
func (c *Codec) ByteOrder() binary.ByteOrder {
	return c.order
}

// Encode encodes a message into a complete frame, length prefix included.
func (c *Codec) Encode(msg *Message) ([]byte, error) {
	if len(msg.Body) > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(msg.Body), MaxPayloadSize),
		}
	}
	if size, ok := PayloadSize(msg.Type); ok && size != len(msg.Body) {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  fmt.Sprintf("%s payload is %d bytes, want %d", msg.Type, len(msg.Body), size),
		}
	}

	frame := make([]byte, LengthPrefixSize+HeaderSize+len(msg.Body))
	c.order.PutUint32(frame[0:4], uint32(HeaderSize+len(msg.Body)))
	c.order.PutUint32(frame[4:8], uint32(msg.Type))
	c.order.PutUint32(frame[8:12], uint32(msg.Comm))
	c.order.PutUint32(frame[12:16], uint32(msg.Reply))
	copy(frame[LengthPrefixSize+HeaderSize:], msg.Body)
	return frame, nil
}

// Decode decodes a complete frame, length prefix included.
// The declared length must match the bytes supplied exactly.
func (c *Codec) Decode(frame []byte) (*Message, error) {
	if len(frame) < LengthPrefixSize {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  fmt.Sprintf("frame of %d bytes has no length prefix", len(frame)),
		}
	}
	declared := int64(int32(c.order.Uint32(frame)))
	if declared != int64(len(frame)-LengthPrefixSize) {
		return nil, &FrameError{
			Kind: FrameErrorLength,
			Msg:  fmt.Sprintf("declared length %d does not match %d bytes supplied", declared, len(frame)-LengthPrefixSize),
		}
	}
	return c.DecodeBody(frame[LengthPrefixSize:])
}

// DecodeBody decodes the bytes that follow a length prefix.
// The returned message's Body aliases b.
func (c *Codec) DecodeBody(b []byte) (*Message, error) {
	if len(b) < HeaderSize {
		return nil, &FrameError{
			Kind: FrameErrorLength,
			Msg:  fmt.Sprintf("frame of %d bytes is shorter than header size %d", len(b), HeaderSize),
		}
	}
	if len(b) > HeaderSize+MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("frame of %d bytes exceeds maximum %d", len(b), HeaderSize+MaxPayloadSize),
		}
	}

	msg := &Message{
		Header: Header{
			Type:  MsgType(int32(c.order.Uint32(b[0:4]))),
			Comm:  CommType(int32(c.order.Uint32(b[4:8]))),
			Reply: ReplyCode(int32(c.order.Uint32(b[8:12]))),
		},
		Body: b[HeaderSize:],
	}

	if size, ok := PayloadSize(msg.Type); ok && size != len(msg.Body) {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  fmt.Sprintf("%s payload is %d bytes, want %d", msg.Type, len(msg.Body), size),
		}
	}
	return msg, nil
}

// NewMessage builds a message with the payload v encoded in the codec's
// byte order. v must be one of the fixed-layout payload types, or nil for
// an empty payload.
func (c *Codec) NewMessage(t MsgType, comm CommType, reply ReplyCode, v any) (*Message, error) {
	msg := &Message{Header: Header{Type: t, Comm: comm, Reply: reply}}
	if v == nil {
		return msg, nil
	}
	body, err := binary.Append(nil, c.order, v)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	msg.Body = body
	return msg, nil
}

// Reply builds a reply to req with the given code and payload.
func (c *Codec) Reply(req *Message, code ReplyCode, v any) (*Message, error) {
	return c.NewMessage(req.Type, CommReply, code, v)
}

// DecodePayload decodes msg.Body into v, which must point to a fixed-layout
// payload type whose size matches the body exactly.
func (c *Codec) DecodePayload(msg *Message, v any) error {
	size := binary.Size(v)
	if size < 0 {
		return &FrameError{
			Kind: FrameErrorDecode,
			Msg:  fmt.Sprintf("%T is not a fixed-layout payload", v),
		}
	}
	if size != len(msg.Body) {
		return &FrameError{
			Kind: FrameErrorDecode,
			Msg:  fmt.Sprintf("%s payload is %d bytes, %T needs %d", msg.Type, len(msg.Body), v, size),
		}
	}
	if _, err := binary.Decode(msg.Body, c.order, v); err != nil {
		return &FrameError{
			Kind: FrameErrorDecode,
			Msg:  fmt.Sprintf("failed to decode %s payload", msg.Type),
			Err:  err,
		}
	}
	return nil
}

// StopCommand builds the JOINT_TRAJ_PT request that halts a running
// trajectory.
func (c *Codec) StopCommand() *Message {
	msg, err := c.NewMessage(MsgTypeJointTrajPt, CommRequest, ReplyInvalid, &JointTrajPt{Sequence: SeqStopTrajectory})
	if err != nil {
		// JointTrajPt is fixed-layout; encoding cannot fail.
		panic(err)
	}
	return msg
}

// Ping builds a PING request.
func (c *Codec) Ping() *Message {
	return &Message{Header: Header{Type: MsgTypePing, Comm: CommRequest, Reply: ReplyInvalid}}
}

// Default is the little-endian codec used when no byte order is configured.
var Default = NewCodec(nil)

// StopCommand builds the stop request with the default codec.
func StopCommand() *Message {
	return Default.StopCommand()
}
