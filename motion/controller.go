package motion

import (
	"context"
	"errors"
	"math"

	"github.com/pithecene-io/armlink/types"
)

// ErrRejected marks a controller refusing a variable access. Rejections
// are transient and retried on the VarPoll policy.
var ErrRejected = errors.New("controller rejected variable access")

// ErrVelocityRange is returned for velocities outside [0, 100] percent.
var ErrVelocityRange = types.ErrVelocityRange

// VelocityScale converts velocity percent to the controller integer.
const VelocityScale = 100.0

// Controller reads and writes controller-resident variables.
type Controller interface {
	// GetInteger reads integer variable index.
	GetInteger(ctx context.Context, index int) (int, error)
	// SetInteger writes integer variable index.
	SetInteger(ctx context.Context, index, value int) error
	// PutPosition writes joint values into position variable index.
	PutPosition(ctx context.Context, index int, joints []float64) error
}

// VelocityToInt converts a velocity percent to the controller's integer
// representation, rounding to the nearest hundredth of a percent.
func VelocityToInt(percent float64) (int, error) {
	if err := types.CheckVelocity(percent); err != nil {
		return 0, err
	}
	return int(math.Round(percent * VelocityScale)), nil
}
