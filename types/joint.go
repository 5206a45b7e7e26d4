// Package types defines the joint-space data model shared by the motion
// buffer, the job serializer and the telemetry relay.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ContractVersion is the telemetry record contract version.
// It is stamped into every published JointState.
const ContractVersion = "0.3.0"

// Joint position errors.
var (
	ErrEmptyPosition  = errors.New("joint position has no joints")
	ErrNonFiniteJoint = errors.New("joint value is not finite")
	ErrVelocityRange  = errors.New("velocity percent out of range [0, 100]")
)

// JointPosition is an ordered set of joint values for one robot group.
// Arity is fixed per group; values are in controller-native units.
type JointPosition struct {
	// Joints holds one value per axis, in controller order.
	Joints []float64 `yaml:"joints" json:"joints" msgpack:"joints"`
	// Velocity is the velocity scale in percent. Zero means "use the default".
	Velocity float64 `yaml:"velocity,omitempty" json:"velocity,omitempty" msgpack:"velocity,omitempty"`
}

// Len returns the number of joints.
func (p JointPosition) Len() int {
	return len(p.Joints)
}

// VelocityOr returns the point velocity, or def when none was set.
func (p JointPosition) VelocityOr(def float64) float64 {
	if p.Velocity > 0 {
		return p.Velocity
	}
	return def
}

// Validate checks that p has joints, that every joint is finite and that
// the velocity is a percent in [0, 100].
func (p JointPosition) Validate() error {
	if p.Len() == 0 {
		return ErrEmptyPosition
	}
	if err := CheckFinite(p.Joints); err != nil {
		return err
	}
	return CheckVelocity(p.Velocity)
}

// CheckFinite returns ErrNonFiniteJoint for the first NaN or infinite value.
func CheckFinite(joints []float64) error {
	for i, v := range joints {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: joint %d is %v", ErrNonFiniteJoint, i, v)
		}
	}
	return nil
}

// CheckVelocity returns ErrVelocityRange unless percent is in [0, 100].
func CheckVelocity(percent float64) error {
	if math.IsNaN(percent) || percent < 0 || percent > 100 {
		return fmt.Errorf("%w: %v", ErrVelocityRange, percent)
	}
	return nil
}

// Clone returns a deep copy.
func (p JointPosition) Clone() JointPosition {
	joints := make([]float64, len(p.Joints))
	copy(joints, p.Joints)
	return JointPosition{Joints: joints, Velocity: p.Velocity}
}

// JointState is the normalized joint-state record published to telemetry
// consumers. Names, Positions, Velocities and Accelerations are index aligned.
type JointState struct {
	ContractVersion string    `json:"contract_version" msgpack:"contract_version"`
	RobotID         string    `json:"robot_id" msgpack:"robot_id"`
	Seq             int64     `json:"seq" msgpack:"seq"`
	Source          string    `json:"source" msgpack:"source"`
	ControllerTime  float64   `json:"controller_time,omitempty" msgpack:"controller_time,omitempty"`
	Names           []string  `json:"names" msgpack:"names"`
	Positions       []float64 `json:"positions" msgpack:"positions"`
	Velocities      []float64 `json:"velocities,omitempty" msgpack:"velocities,omitempty"`
	Accelerations   []float64 `json:"accelerations,omitempty" msgpack:"accelerations,omitempty"`
	ReceivedAt      time.Time `json:"received_at" msgpack:"received_at"`
}

// Validate checks the index alignment of the record.
func (s *JointState) Validate() error {
	if len(s.Names) != len(s.Positions) {
		return fmt.Errorf("joint state: %d names for %d positions", len(s.Names), len(s.Positions))
	}
	if len(s.Velocities) != 0 && len(s.Velocities) != len(s.Positions) {
		return fmt.Errorf("joint state: %d velocities for %d positions", len(s.Velocities), len(s.Positions))
	}
	if len(s.Accelerations) != 0 && len(s.Accelerations) != len(s.Positions) {
		return fmt.Errorf("joint state: %d accelerations for %d positions", len(s.Accelerations), len(s.Positions))
	}
	return nil
}

// Clone returns a deep copy.
func (s *JointState) Clone() *JointState {
	out := *s
	out.Names = append([]string(nil), s.Names...)
	out.Positions = append([]float64(nil), s.Positions...)
	out.Velocities = append([]float64(nil), s.Velocities...)
	out.Accelerations = append([]float64(nil), s.Accelerations...)
	return &out
}
