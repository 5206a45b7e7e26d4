// Package wire implements the fixed-layout binary message protocol spoken
// with the robot controller.
//
// A frame is a 4-byte length prefix (the number of bytes that follow it), a
// 12-byte header {msg type, comm type, reply code} and a payload whose layout
// is fixed per message type. All fields are 32-bit; byte order is a
// per-deployment contract carried by the Codec.
package wire

import "fmt"

// MsgType identifies the payload layout of a message.
type MsgType int32

// Standard message types.
const (
	MsgTypeInvalid         MsgType = 0
	MsgTypePing            MsgType = 1
	MsgTypeJointPosition   MsgType = 10
	MsgTypeJointTrajPt     MsgType = 11
	MsgTypeStatus          MsgType = 13
	MsgTypeJointTrajPtFull MsgType = 14
	MsgTypeJointFeedback   MsgType = 15
)

// Vendor message types for controller variable access.
const (
	MsgTypeVarReadInt       MsgType = 2100
	MsgTypeVarWriteInt      MsgType = 2101
	MsgTypeVarWritePosition MsgType = 2102
)

var msgTypeNames = map[MsgType]string{
	MsgTypeInvalid:          "INVALID",
	MsgTypePing:             "PING",
	MsgTypeJointPosition:    "JOINT_POSITION",
	MsgTypeJointTrajPt:      "JOINT_TRAJ_PT",
	MsgTypeStatus:           "STATUS",
	MsgTypeJointTrajPtFull:  "JOINT_TRAJ_PT_FULL",
	MsgTypeJointFeedback:    "JOINT_FEEDBACK",
	MsgTypeVarReadInt:       "VAR_READ_INT",
	MsgTypeVarWriteInt:      "VAR_WRITE_INT",
	MsgTypeVarWritePosition: "VAR_WRITE_POSITION",
}

func (t MsgType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MSG_TYPE(%d)", int32(t))
}

// CommType classifies a message as one-way, a request or a reply.
type CommType int32

// Comm types.
const (
	CommInvalid CommType = 0
	CommTopic   CommType = 1
	CommRequest CommType = 2
	CommReply   CommType = 3
)

func (c CommType) String() string {
	switch c {
	case CommInvalid:
		return "INVALID"
	case CommTopic:
		return "TOPIC"
	case CommRequest:
		return "REQUEST"
	case CommReply:
		return "REPLY"
	default:
		return fmt.Sprintf("COMM_TYPE(%d)", int32(c))
	}
}

// Valid reports whether c is a known comm type other than CommInvalid.
func (c CommType) Valid() bool {
	return c == CommTopic || c == CommRequest || c == CommReply
}

// ReplyCode is the outcome carried by a reply.
// Non-reply messages carry ReplyInvalid.
type ReplyCode int32

// Reply codes.
const (
	ReplyInvalid ReplyCode = 0
	ReplySuccess ReplyCode = 1
	ReplyFailure ReplyCode = 2
)

func (r ReplyCode) String() string {
	switch r {
	case ReplyInvalid:
		return "INVALID"
	case ReplySuccess:
		return "SUCCESS"
	case ReplyFailure:
		return "FAILURE"
	default:
		return fmt.Sprintf("REPLY_CODE(%d)", int32(r))
	}
}

// Header is the fixed header that precedes every payload.
type Header struct {
	Type  MsgType
	Comm  CommType
	Reply ReplyCode
}

// Message is a decoded frame. Body holds the raw fixed-layout payload.
// A Message is immutable once decoded; handlers must not modify Body.
type Message struct {
	Header
	Body []byte
}

func (m *Message) String() string {
	return fmt.Sprintf("%s/%s/%s (%d bytes)", m.Type, m.Comm, m.Reply, len(m.Body))
}

// IsReply reports whether m is a reply.
func (m *Message) IsReply() bool {
	return m.Comm == CommReply
}

// Succeeded reports whether m is a successful reply.
func (m *Message) Succeeded() bool {
	return m.Comm == CommReply && m.Reply == ReplySuccess
}
