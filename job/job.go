// Package job renders joint trajectories into controller job files.
//
// Output follows the controller's line-oriented job grammar: a fixed header,
// one MOVJ instruction per trajectory point, then END. Rendering writes into
// a fixed-capacity Buffer one line at a time; the first line that does not
// fit fails the render and every line before it stays in the buffer.
package job

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/pithecene-io/armlink/types"
)

// Controller limits.
const (
	// NameCapacity is the longest job name the controller accepts.
	NameCapacity = 20
	// LineCapacity is the longest job line, excluding the newline.
	LineCapacity = 128
)

// DefaultVelocity is the MOVJ velocity percent for points and trajectories
// that carry none.
const DefaultVelocity = 10.0

var (
	// ErrInvalidName is returned for empty, oversized or whitespace names.
	ErrInvalidName = errors.New("invalid job name")
	// ErrLineTooLong is returned when a rendered line exceeds LineCapacity.
	ErrLineTooLong = errors.New("job line exceeds line capacity")
	// ErrCapacityExceeded is returned when a line does not fit in the
	// destination Buffer.
	ErrCapacityExceeded = errors.New("job buffer capacity exceeded")
)

// HeaderLines is the number of lines rendered before the first instruction.
// FooterLines is the number rendered after the last.
const (
	HeaderLines = 8
	FooterLines = 1
)

// TrajectoryJob is a named trajectory ready to render. It is not safe for
// concurrent use; it owns a single line buffer.
type TrajectoryJob struct {
	name     string
	points   []types.JointPosition
	velocity float64
	line     lineBuffer
}

// NewTrajectoryJob validates name and traj and returns a job over a copy of
// the trajectory.
func NewTrajectoryJob(name string, traj *types.Trajectory) (*TrajectoryJob, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if traj == nil {
		return nil, types.ErrEmptyTrajectory
	}
	if err := traj.Validate(); err != nil {
		return nil, err
	}
	points := make([]types.JointPosition, len(traj.Points))
	for i, p := range traj.Points {
		points[i] = p.Clone()
	}
	velocity := traj.Velocity
	if velocity <= 0 {
		velocity = DefaultVelocity
	}
	return &TrajectoryJob{name: name, points: points, velocity: velocity}, nil
}

// ValidateName checks a job name against the controller's naming rules.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case len(name) > NameCapacity:
		return fmt.Errorf("%w: %q is %d bytes, limit %d", ErrInvalidName, name, len(name), NameCapacity)
	case strings.ContainsFunc(name, func(r rune) bool { return unicode.IsSpace(r) || !unicode.IsPrint(r) }):
		return fmt.Errorf("%w: %q contains whitespace or control characters", ErrInvalidName, name)
	}
	return nil
}

// Name returns the job name.
func (j *TrajectoryJob) Name() string {
	return j.name
}

// Len returns the number of points.
func (j *TrajectoryJob) Len() int {
	return len(j.points)
}

// LineCount returns the number of lines a successful render produces.
func (j *TrajectoryJob) LineCount() int {
	return HeaderLines + len(j.points) + FooterLines
}

// ToJobString resets dst and renders the job into it.
//
// Errors:
//   - ErrLineTooLong: a line does not fit LineCapacity; dst holds the lines
//     before it
//   - ErrCapacityExceeded: a line does not fit dst; dst holds the lines
//     before it
func (j *TrajectoryJob) ToJobString(dst *Buffer) error {
	dst.Reset()

	header := []struct {
		format string
		args   []any
	}{
		{"/JOB", nil},
		{"//NAME %s", []any{j.name}},
		{"//POS", nil},
		{"///NPOS 0,0,0,0,0,0", nil},
		{"//INST", nil},
		{"///ATTR SC,RW", nil},
		{"///GROUP1 RB1", nil},
		{"NOP", nil},
	}
	for _, h := range header {
		if err := j.emit(dst, h.format, h.args...); err != nil {
			return err
		}
	}

	for i, p := range j.points {
		if err := j.line.movj(p.Joints, p.VelocityOr(j.velocity)); err != nil {
			return fmt.Errorf("point %d: %w", i, err)
		}
		if err := dst.appendLine(j.line.bytes()); err != nil {
			return fmt.Errorf("point %d: %w", i, err)
		}
	}

	return j.emit(dst, "END")
}

func (j *TrajectoryJob) emit(dst *Buffer, format string, args ...any) error {
	if err := j.line.printf(format, args...); err != nil {
		return err
	}
	return dst.appendLine(j.line.bytes())
}

// String renders the job into a buffer sized for it.
func (j *TrajectoryJob) String() string {
	dst := NewBuffer(j.LineCount() * (LineCapacity + 1))
	if err := j.ToJobString(dst); err != nil {
		return ""
	}
	return dst.String()
}
