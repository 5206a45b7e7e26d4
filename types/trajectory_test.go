package types //nolint:revive // types is a valid package name

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestTrajectory_Validate(t *testing.T) {
	tests := []struct {
		name    string
		traj    Trajectory
		wantErr bool
	}{
		{
			name:    "empty",
			traj:    Trajectory{Name: "T"},
			wantErr: true,
		},
		{
			name: "consistent arity",
			traj: Trajectory{Name: "T", Points: []JointPosition{
				{Joints: []float64{0, 1, 2}},
				{Joints: []float64{3, 4, 5}},
			}},
		},
		{
			name: "mismatched arity",
			traj: Trajectory{Name: "T", Points: []JointPosition{
				{Joints: []float64{0, 1, 2}},
				{Joints: []float64{3, 4}},
			}},
			wantErr: true,
		},
		{
			name: "zero joints",
			traj: Trajectory{Name: "T", Points: []JointPosition{
				{Joints: nil},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.traj.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTrajectory_ValidateRejectsBadValues(t *testing.T) {
	points := func(mutate func([]JointPosition)) []JointPosition {
		pts := []JointPosition{
			{Joints: []float64{0, 1}},
			{Joints: []float64{2, 3}},
			{Joints: []float64{4, 5}, Velocity: 50},
		}
		mutate(pts)
		return pts
	}
	tests := []struct {
		name    string
		traj    Trajectory
		wantErr error
	}{
		{"NaN joint", Trajectory{Points: points(func(p []JointPosition) { p[1].Joints[0] = math.NaN() })}, ErrNonFiniteJoint},
		{"+Inf joint", Trajectory{Points: points(func(p []JointPosition) { p[2].Joints[1] = math.Inf(1) })}, ErrNonFiniteJoint},
		{"-Inf joint", Trajectory{Points: points(func(p []JointPosition) { p[0].Joints[0] = math.Inf(-1) })}, ErrNonFiniteJoint},
		{"point velocity above 100", Trajectory{Points: points(func(p []JointPosition) { p[2].Velocity = 150 })}, ErrVelocityRange},
		{"negative point velocity", Trajectory{Points: points(func(p []JointPosition) { p[1].Velocity = -5 })}, ErrVelocityRange},
		{"NaN point velocity", Trajectory{Points: points(func(p []JointPosition) { p[1].Velocity = math.NaN() })}, ErrVelocityRange},
		{"default velocity above 100", Trajectory{Velocity: 100.01, Points: points(func([]JointPosition) {})}, ErrVelocityRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.traj.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	ok := Trajectory{Velocity: 100, Points: points(func(p []JointPosition) { p[0].Velocity = 0 })}
	if err := ok.Validate(); err != nil {
		t.Errorf("Validate() on boundary velocities = %v", err)
	}
}

func TestTrajectory_ValidateEmptyIsSentinel(t *testing.T) {
	traj := Trajectory{}
	if err := traj.Validate(); !errors.Is(err, ErrEmptyTrajectory) {
		t.Errorf("expected ErrEmptyTrajectory, got %v", err)
	}
}

func TestLoadTrajectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pick.yaml")
	content := `name: PICK01
velocity: 12.5
points:
  - joints: [0, 0.1, 0.2, 0, 0, 0]
  - joints: [0.1, 0.2, 0.3, 0, 0, 0]
    velocity: 50
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	traj, err := LoadTrajectory(path)
	if err != nil {
		t.Fatalf("LoadTrajectory failed: %v", err)
	}
	if traj.Name != "PICK01" {
		t.Errorf("Name = %q, want PICK01", traj.Name)
	}
	if len(traj.Points) != 2 {
		t.Fatalf("len(Points) = %d, want 2", len(traj.Points))
	}
	if traj.Arity() != 6 {
		t.Errorf("Arity() = %d, want 6", traj.Arity())
	}
	if got := traj.Points[0].VelocityOr(traj.Velocity); got != 12.5 {
		t.Errorf("point 0 velocity = %v, want 12.5", got)
	}
	if got := traj.Points[1].VelocityOr(traj.Velocity); got != 50 {
		t.Errorf("point 1 velocity = %v, want 50", got)
	}
}

func TestLoadTrajectory_Missing(t *testing.T) {
	_, err := LoadTrajectory(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
