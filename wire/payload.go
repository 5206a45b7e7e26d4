package wire

import (
	"encoding/binary"
	"fmt"
)

// MaxJoints is the fixed joint array width of every joint payload.
// Groups with fewer axes pad the remainder with zeros.
const MaxJoints = 10

// Special JointTrajPt sequence values.
const (
	SeqStartTrajectoryDownload  int32 = -1
	SeqStartTrajectoryStreaming int32 = -2
	SeqEndTrajectory            int32 = -3
	SeqStopTrajectory           int32 = -4
)

// JointFeedback valid-field bits.
const (
	ValidTime         int32 = 0x01
	ValidPosition     int32 = 0x02
	ValidVelocity     int32 = 0x04
	ValidAcceleration int32 = 0x08
)

// Tri-state values used by RobotStatus.
const (
	TriStateUnknown int32 = -1
	TriStateOff     int32 = 0
	TriStateOn      int32 = 1
)

// Joints is the fixed-width joint array.
type Joints [MaxJoints]float32

// NewJoints packs values into a Joints array.
// Returns an error if more than MaxJoints values are given.
func NewJoints(values []float64) (Joints, error) {
	var j Joints
	if len(values) > MaxJoints {
		return j, fmt.Errorf("%d joints exceeds wire limit %d", len(values), MaxJoints)
	}
	for i, v := range values {
		j[i] = float32(v)
	}
	return j, nil
}

// Slice returns the first n joints as float64.
func (j Joints) Slice(n int) []float64 {
	n = min(max(n, 0), MaxJoints)
	out := make([]float64, n)
	for i := range n {
		out[i] = float64(j[i])
	}
	return out
}

// JointPosition is the JOINT_POSITION payload.
type JointPosition struct {
	Sequence int32
	Joints   Joints
}

// JointTrajPt is the JOINT_TRAJ_PT payload.
type JointTrajPt struct {
	Sequence int32
	Joints   Joints
	Velocity float32
	Duration float32
}

// JointFeedback is the JOINT_FEEDBACK payload.
type JointFeedback struct {
	RobotID       int32
	ValidFields   int32
	Time          float32
	Positions     Joints
	Velocities    Joints
	Accelerations Joints
}

// Has reports whether the given valid-field bit is set.
func (f *JointFeedback) Has(field int32) bool {
	return f.ValidFields&field != 0
}

// RobotStatus is the STATUS payload.
type RobotStatus struct {
	DrivesPowered  int32
	EStopped       int32
	ErrorCode      int32
	InError        int32
	InMotion       int32
	Mode           int32
	MotionPossible int32
}

// VarInt is the payload of VAR_READ_INT and VAR_WRITE_INT.
// Reads ignore Value in the request and carry the result in the reply.
type VarInt struct {
	Index int32
	Value int32
}

// VarPosition is the VAR_WRITE_POSITION payload.
type VarPosition struct {
	Index  int32
	Joints Joints
}

// payloadSizes holds the fixed payload size of every known message type.
var payloadSizes = map[MsgType]int{
	MsgTypePing:             0,
	MsgTypeJointPosition:    binary.Size(JointPosition{}),
	MsgTypeJointTrajPt:      binary.Size(JointTrajPt{}),
	MsgTypeStatus:           binary.Size(RobotStatus{}),
	MsgTypeJointFeedback:    binary.Size(JointFeedback{}),
	MsgTypeVarReadInt:       binary.Size(VarInt{}),
	MsgTypeVarWriteInt:      binary.Size(VarInt{}),
	MsgTypeVarWritePosition: binary.Size(VarPosition{}),
}

// PayloadSize returns the fixed payload size for t.
// ok is false for message types without a registered layout.
func PayloadSize(t MsgType) (size int, ok bool) {
	size, ok = payloadSizes[t]
	return size, ok
}
