package state

import (
	"context"

	"github.com/pithecene-io/armlink/transport"
	"github.com/pithecene-io/armlink/wire"
)

// PingHandler answers PING requests with an empty SUCCESS reply.
// Ping topics are accepted silently.
type PingHandler struct{}

// MsgType implements dispatch.Handler.
func (PingHandler) MsgType() wire.MsgType { return wire.MsgTypePing }

// Handle implements dispatch.Handler.
func (PingHandler) Handle(ctx context.Context, msg *wire.Message, out transport.Sender) error {
	if msg.Comm != wire.CommRequest {
		return nil
	}
	return out.Send(ctx, &wire.Message{Header: wire.Header{
		Type:  wire.MsgTypePing,
		Comm:  wire.CommReply,
		Reply: wire.ReplySuccess,
	}})
}
