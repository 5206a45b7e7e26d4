// Package relay normalizes controller joint-state messages into published
// JointState records.
package relay

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/armlink/adapter"
	"github.com/pithecene-io/armlink/dispatch"
	"github.com/pithecene-io/armlink/log"
	"github.com/pithecene-io/armlink/metrics"
	"github.com/pithecene-io/armlink/transport"
	"github.com/pithecene-io/armlink/types"
	"github.com/pithecene-io/armlink/wire"
)

// Config configures a JointRelay.
type Config struct {
	RobotID   string
	JointMap  JointMap
	Publisher adapter.Publisher
	Codec     *wire.Codec
	Logger    *log.Logger
	Collector *metrics.Collector
	// Now stamps ReceivedAt. Defaults to time.Now.
	Now func() time.Time
}

// JointRelay converts JOINT_POSITION and JOINT_FEEDBACK messages and
// forwards them to a publisher.
type JointRelay struct {
	robotID   string
	transform *transform
	publisher adapter.Publisher
	codec     *wire.Codec
	logger    *log.Logger
	collector *metrics.Collector
	now       func() time.Time
	seq       atomic.Int64
}

// New validates the joint map and creates a relay.
func New(cfg Config) (*JointRelay, error) {
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("joint relay requires a publisher")
	}
	t, err := cfg.JointMap.compile()
	if err != nil {
		return nil, err
	}
	if cfg.Codec == nil {
		cfg.Codec = wire.Default
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &JointRelay{
		robotID:   cfg.RobotID,
		transform: t,
		publisher: cfg.Publisher,
		codec:     cfg.Codec,
		logger:    cfg.Logger,
		collector: cfg.Collector,
		now:       cfg.Now,
	}, nil
}

// Names returns the published joint names in output order.
func (r *JointRelay) Names() []string {
	return append([]string(nil), r.transform.names...)
}

// Handlers returns one handler per joint-state message type.
func (r *JointRelay) Handlers() []dispatch.Handler {
	return []dispatch.Handler{
		dispatch.HandlerFunc{Type: wire.MsgTypeJointPosition, Fn: r.handle},
		dispatch.HandlerFunc{Type: wire.MsgTypeJointFeedback, Fn: r.handle},
	}
}

func (r *JointRelay) handle(ctx context.Context, msg *wire.Message, out transport.Sender) error {
	state, err := r.Convert(msg)
	if err == nil && state != nil {
		err = r.publish(ctx, state)
	}
	if msg.Comm == wire.CommRequest && out != nil {
		code := wire.ReplySuccess
		if err != nil {
			code = wire.ReplyFailure
		}
		reply := &wire.Message{
			Header: wire.Header{Type: msg.Type, Comm: wire.CommReply, Reply: code},
			Body:   make([]byte, len(msg.Body)),
		}
		if sendErr := out.Send(ctx, reply); sendErr != nil && err == nil {
			err = sendErr
		}
	}
	return err
}

// Convert builds a JointState from a joint-state message. It returns nil
// without error for feedback that carries no positions.
func (r *JointRelay) Convert(msg *wire.Message) (*types.JointState, error) {
	state := &types.JointState{
		ContractVersion: types.ContractVersion,
		RobotID:         r.robotID,
		Source:          msg.Type.String(),
		Names:           r.Names(),
		ReceivedAt:      r.now().UTC(),
	}

	switch msg.Type {
	case wire.MsgTypeJointPosition:
		var p wire.JointPosition
		if err := r.codec.DecodePayload(msg, &p); err != nil {
			return nil, err
		}
		state.Positions = r.transform.apply(p.Joints, false)

	case wire.MsgTypeJointFeedback:
		var f wire.JointFeedback
		if err := r.codec.DecodePayload(msg, &f); err != nil {
			return nil, err
		}
		if !f.Has(wire.ValidPosition) {
			r.logger.Debug("feedback without positions skipped", map[string]any{"valid_fields": f.ValidFields})
			return nil, nil
		}
		state.Positions = r.transform.apply(f.Positions, false)
		if f.Has(wire.ValidTime) {
			state.ControllerTime = float64(f.Time)
		}
		if f.Has(wire.ValidVelocity) {
			state.Velocities = r.transform.apply(f.Velocities, true)
		}
		if f.Has(wire.ValidAcceleration) {
			state.Accelerations = r.transform.apply(f.Accelerations, true)
		}

	default:
		return nil, fmt.Errorf("joint relay: unsupported message type %s", msg.Type)
	}

	state.Seq = r.seq.Add(1)
	return state, state.Validate()
}

func (r *JointRelay) publish(ctx context.Context, state *types.JointState) error {
	if err := r.publisher.Publish(ctx, state); err != nil {
		r.collector.IncPublishFailures()
		return fmt.Errorf("publish joint state: %w", err)
	}
	r.collector.IncStatesPublished()
	return nil
}
