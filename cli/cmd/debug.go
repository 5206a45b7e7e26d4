package cmd

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/armlink/cli/render"
	"github.com/pithecene-io/armlink/iox"
	"github.com/pithecene-io/armlink/motion"
	"github.com/pithecene-io/armlink/transport"
	"github.com/pithecene-io/armlink/wire"
)

// ExchangeResponse describes one request/reply exchange.
type ExchangeResponse struct {
	Address string        `json:"address"`
	Request string        `json:"request"`
	Reply   string        `json:"reply"`
	RTT     time.Duration `json:"rtt"`
}

// VarResponse is the response for debug var.
type VarResponse struct {
	Address string `json:"address"`
	Index   int    `json:"index"`
	Value   int    `json:"value"`
}

// FrameResponse is the response for debug decode.
type FrameResponse struct {
	Type    string `json:"type"`
	Comm    string `json:"comm"`
	Reply   string `json:"reply"`
	Length  int    `json:"length"`
	Payload any    `json:"payload,omitempty"`
}

// DebugCommand returns the debug command with subcommands.
// Debug commands are opt-in diagnostic tools. Only stop changes
// controller state.
func DebugCommand() *cli.Command {
	return &cli.Command{
		Name:  "debug",
		Usage: "Diagnostic tools (ping, stop, var, decode)",
		Subcommands: []*cli.Command{
			debugPingCommand(),
			debugStopCommand(),
			debugVarCommand(),
			debugDecodeCommand(),
		},
	}
}

func addrFlag(channel string) cli.Flag {
	return &cli.StringFlag{
		Name:  "addr",
		Usage: fmt.Sprintf("%s channel address host:port (overrides --host)", channel),
	}
}

func debugPingCommand() *cli.Command {
	return &cli.Command{
		Name:   "ping",
		Usage:  "Send a PING request on the state channel",
		Flags:  withFlags(ReadOnlyFlags(), ControllerFlags(), []cli.Flag{addrFlag("State")}),
		Action: exchangeAction("state", func(codec *wire.Codec) *wire.Message { return codec.Ping() }),
	}
}

func debugStopCommand() *cli.Command {
	return &cli.Command{
		Name:   "stop",
		Usage:  "Send the stop-trajectory command on the motion channel",
		Flags:  withFlags(ReadOnlyFlags(), ControllerFlags(), []cli.Flag{addrFlag("Motion")}),
		Action: exchangeAction("motion", func(codec *wire.Codec) *wire.Message { return codec.StopCommand() }),
	}
}

func exchangeAction(channel string, build func(*wire.Codec) *wire.Message) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}
		conn, addr, err := debugDial(c, channel)
		if err != nil {
			return err
		}
		defer iox.DiscardClose(conn)

		req := build(conn.Codec())
		start := time.Now()
		reply, err := conn.SendAndReceive(c.Context, req)
		if err != nil {
			return transportExit(channel+" exchange", err)
		}
		resp := ExchangeResponse{
			Address: addr,
			Request: req.String(),
			Reply:   reply.String(),
			RTT:     time.Since(start),
		}
		if err := r.Render(resp); err != nil {
			return err
		}
		if !reply.Succeeded() {
			return cli.Exit("", exitFailure)
		}
		return nil
	}
}

func debugVarCommand() *cli.Command {
	return &cli.Command{
		Name:      "var",
		Usage:     "Read an integer variable on the motion channel",
		ArgsUsage: "<index>",
		Flags:     withFlags(ReadOnlyFlags(), ControllerFlags(), []cli.Flag{addrFlag("Motion")}),
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return cli.Exit("variable index required", exitUsage)
			}
			index, err := strconv.Atoi(c.Args().First())
			if err != nil || index < 0 {
				return cli.Exit(fmt.Sprintf("invalid variable index %q", c.Args().First()), exitUsage)
			}
			r, err := render.NewRenderer(c)
			if err != nil {
				return err
			}
			conn, addr, err := debugDial(c, "motion")
			if err != nil {
				return err
			}
			defer iox.DiscardClose(conn)

			value, err := motion.NewRemoteController(conn).GetInteger(c.Context, index)
			if err != nil {
				if errors.Is(err, motion.ErrRejected) {
					return cli.Exit(err.Error(), exitFailure)
				}
				return transportExit("read variable", err)
			}
			return r.Render(VarResponse{Address: addr, Index: index, Value: value})
		},
	}
}

func debugDial(c *cli.Context, channel string) (*transport.Conn, string, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, "", err
	}
	codec, err := cfg.Codec()
	if err != nil {
		return nil, "", cli.Exit(err.Error(), exitUsage)
	}
	addr := c.String("addr")
	if addr == "" {
		if channel == "state" {
			addr = cfg.StateAddress(c.String("host"))
		} else {
			addr = cfg.MotionAddress(c.String("host"))
		}
	}
	if addr == "" {
		return nil, "", cli.Exit(fmt.Sprintf("%s address required: set --addr or --host", channel), exitUsage)
	}
	conn, err := transport.Dial(c.Context, addr, transport.Options{
		Codec:  codec,
		Logger: newLogger(c, cfg.RobotID, channel, nil),
	})
	if err != nil {
		return nil, "", transportExit("connect "+channel+" channel", err)
	}
	return conn, addr, nil
}

func debugDecodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Usage:     "Decode a hex-encoded frame, length prefix included",
		ArgsUsage: "<hex>",
		Flags: withFlags(ReadOnlyFlags(), []cli.Flag{
			ByteOrderFlag,
		}),
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return cli.Exit("hex frame required", exitUsage)
			}
			raw, err := hex.DecodeString(strings.Join(strings.Fields(strings.Join(c.Args().Slice(), " ")), ""))
			if err != nil {
				return cli.Exit(fmt.Sprintf("invalid hex: %v", err), exitUsage)
			}
			order, err := wire.ParseByteOrder(c.String("byte-order"))
			if err != nil {
				return cli.Exit(err.Error(), exitUsage)
			}
			r, err := render.NewRenderer(c)
			if err != nil {
				return err
			}

			resp, err := decodeFrame(wire.NewCodec(order), raw)
			if err != nil {
				return cli.Exit(err.Error(), exitFailure)
			}
			return r.Render(resp)
		},
	}
}

// decodeFrame reads exactly one frame from raw.
func decodeFrame(codec *wire.Codec, raw []byte) (*FrameResponse, error) {
	fr := wire.NewFrameReader(bytes.NewReader(raw), codec)
	msg, err := fr.ReadMessage()
	if err != nil {
		return nil, err
	}
	if _, err := fr.ReadFrame(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing bytes after the first frame")
	}

	resp := &FrameResponse{
		Type:   msg.Type.String(),
		Comm:   msg.Comm.String(),
		Reply:  msg.Reply.String(),
		Length: wire.HeaderSize + len(msg.Body),
	}
	if len(msg.Body) > 0 {
		if v := payloadFor(msg.Type); v != nil {
			if err := codec.DecodePayload(msg, v); err != nil {
				return nil, err
			}
			resp.Payload = v
		}
	}
	return resp, nil
}

func payloadFor(t wire.MsgType) any {
	switch t {
	case wire.MsgTypeJointPosition:
		return &wire.JointPosition{}
	case wire.MsgTypeJointTrajPt:
		return &wire.JointTrajPt{}
	case wire.MsgTypeStatus:
		return &wire.RobotStatus{}
	case wire.MsgTypeJointFeedback:
		return &wire.JointFeedback{}
	case wire.MsgTypeVarReadInt, wire.MsgTypeVarWriteInt:
		return &wire.VarInt{}
	case wire.MsgTypeVarWritePosition:
		return &wire.VarPosition{}
	}
	return nil
}
