package motion

import (
	"context"
	"fmt"

	"github.com/pithecene-io/armlink/dispatch"
	"github.com/pithecene-io/armlink/transport"
	"github.com/pithecene-io/armlink/wire"
)

// Requester performs one request/reply exchange. *transport.Conn
// implements it.
type Requester interface {
	SendAndReceive(ctx context.Context, req *wire.Message) (*wire.Message, error)
	Codec() *wire.Codec
}

var _ Requester = (*transport.Conn)(nil)

// RemoteController accesses controller variables with VAR_* requests.
type RemoteController struct {
	conn Requester
}

var _ Controller = (*RemoteController)(nil)

// NewRemoteController returns a Controller speaking over conn.
func NewRemoteController(conn Requester) *RemoteController {
	return &RemoteController{conn: conn}
}

// GetInteger implements Controller.
func (r *RemoteController) GetInteger(ctx context.Context, index int) (int, error) {
	reply, err := r.request(ctx, wire.MsgTypeVarReadInt, &wire.VarInt{Index: int32(index)})
	if err != nil {
		return 0, err
	}
	var v wire.VarInt
	if err := r.conn.Codec().DecodePayload(reply, &v); err != nil {
		return 0, fmt.Errorf("read integer %d: %w", index, err)
	}
	return int(v.Value), nil
}

// SetInteger implements Controller.
func (r *RemoteController) SetInteger(ctx context.Context, index, value int) error {
	_, err := r.request(ctx, wire.MsgTypeVarWriteInt, &wire.VarInt{Index: int32(index), Value: int32(value)})
	return err
}

// PutPosition implements Controller.
func (r *RemoteController) PutPosition(ctx context.Context, index int, joints []float64) error {
	packed, err := wire.NewJoints(joints)
	if err != nil {
		return fmt.Errorf("write position %d: %w", index, err)
	}
	_, err = r.request(ctx, wire.MsgTypeVarWritePosition, &wire.VarPosition{Index: int32(index), Joints: packed})
	return err
}

func (r *RemoteController) request(ctx context.Context, t wire.MsgType, payload any) (*wire.Message, error) {
	req, err := r.conn.Codec().NewMessage(t, wire.CommRequest, wire.ReplyInvalid, payload)
	if err != nil {
		return nil, err
	}
	reply, err := r.conn.SendAndReceive(ctx, req)
	if err != nil {
		return nil, err
	}
	if !reply.Succeeded() {
		return nil, fmt.Errorf("%w: %s replied %s", ErrRejected, t, reply.Reply)
	}
	return reply, nil
}

// VarHandlers serves VAR_* requests from ctrl. A controller error is
// answered with a FAILURE reply.
func VarHandlers(ctrl Controller, codec *wire.Codec) []dispatch.Handler {
	if codec == nil {
		codec = wire.Default
	}
	serve := func(t wire.MsgType, fn func(ctx context.Context, msg *wire.Message) (any, error)) dispatch.Handler {
		return dispatch.HandlerFunc{
			Type: t,
			Fn: func(ctx context.Context, msg *wire.Message, out transport.Sender) error {
				if msg.Comm != wire.CommRequest {
					return nil
				}
				payload, err := fn(ctx, msg)
				code := wire.ReplySuccess
				if err != nil {
					code = wire.ReplyFailure
					payload = zeroPayload(t)
				}
				reply, rerr := codec.Reply(msg, code, payload)
				if rerr != nil {
					return rerr
				}
				if serr := out.Send(ctx, reply); serr != nil {
					return serr
				}
				return err
			},
		}
	}

	return []dispatch.Handler{
		serve(wire.MsgTypeVarReadInt, func(ctx context.Context, msg *wire.Message) (any, error) {
			var req wire.VarInt
			if err := codec.DecodePayload(msg, &req); err != nil {
				return nil, err
			}
			v, err := ctrl.GetInteger(ctx, int(req.Index))
			if err != nil {
				return nil, err
			}
			return &wire.VarInt{Index: req.Index, Value: int32(v)}, nil
		}),
		serve(wire.MsgTypeVarWriteInt, func(ctx context.Context, msg *wire.Message) (any, error) {
			var req wire.VarInt
			if err := codec.DecodePayload(msg, &req); err != nil {
				return nil, err
			}
			return &req, ctrl.SetInteger(ctx, int(req.Index), int(req.Value))
		}),
		serve(wire.MsgTypeVarWritePosition, func(ctx context.Context, msg *wire.Message) (any, error) {
			var req wire.VarPosition
			if err := codec.DecodePayload(msg, &req); err != nil {
				return nil, err
			}
			return &req, ctrl.PutPosition(ctx, int(req.Index), req.Joints.Slice(wire.MaxJoints))
		}),
	}
}

func zeroPayload(t wire.MsgType) any {
	if t == wire.MsgTypeVarWritePosition {
		return &wire.VarPosition{}
	}
	return &wire.VarInt{}
}
