package types

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrEmptyTrajectory is returned when a trajectory has no points.
var ErrEmptyTrajectory = errors.New("trajectory has no points")

// Trajectory is a named, ordered sequence of joint set-points.
type Trajectory struct {
	Name string `yaml:"name" json:"name"`
	// Velocity is the default velocity percent for points that carry none.
	Velocity float64         `yaml:"velocity,omitempty" json:"velocity,omitempty"`
	Points   []JointPosition `yaml:"points" json:"points"`
}

// Validate checks the whole trajectory before any of it is used: it must be
// non-empty, every point must pass JointPosition.Validate with the same
// arity, and the default velocity must be in range.
func (t *Trajectory) Validate() error {
	if len(t.Points) == 0 {
		return ErrEmptyTrajectory
	}
	if err := CheckVelocity(t.Velocity); err != nil {
		return fmt.Errorf("default velocity: %w", err)
	}
	arity := t.Points[0].Len()
	for i, p := range t.Points {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("point %d: %w", i, err)
		}
		if p.Len() != arity {
			return fmt.Errorf("point %d: arity %d, want %d", i, p.Len(), arity)
		}
	}
	return nil
}

// Arity returns the joint count of the first point, or zero.
func (t *Trajectory) Arity() int {
	if len(t.Points) == 0 {
		return 0
	}
	return t.Points[0].Len()
}

// LoadTrajectory reads and validates a YAML trajectory file.
func LoadTrajectory(path string) (*Trajectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("trajectory file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read trajectory file %q: %w", path, err)
	}

	var traj Trajectory
	if err := yaml.Unmarshal(data, &traj); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	if err := traj.Validate(); err != nil {
		return nil, fmt.Errorf("invalid trajectory %s: %w", path, err)
	}
	return &traj, nil
}
