package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/armlink/cli/config"
	"github.com/pithecene-io/armlink/log"
	"github.com/pithecene-io/armlink/transport"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitFailure   = 1
	exitUsage     = 2
	exitTransport = 3
)

// defaultRobotID is used when neither --robot nor robot_id is set.
const defaultRobotID = "robot"

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// loadConfig reads --config (or ./armlink.yaml) and applies flag
// overrides. CLI flags always win over file values.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(c.String("config"))
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUsage)
	}
	if v := c.String("robot"); v != "" {
		cfg.RobotID = v
	}
	if cfg.RobotID == "" {
		cfg.RobotID = defaultRobotID
	}
	if v := c.String("byte-order"); v != "" {
		cfg.ByteOrder = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitUsage)
	}
	return cfg, nil
}

// newLogger returns a logger for one channel writing to w, or stderr when
// w is nil. Debug entries are dropped unless --verbose is set.
func newLogger(c *cli.Context, robotID, channel string, w io.Writer) *log.Logger {
	level := zapcore.InfoLevel
	if c.Bool("verbose") {
		level = zapcore.DebugLevel
	}
	if w == nil {
		w = os.Stderr
	}
	return log.NewLoggerTo(log.Session{RobotID: robotID, Channel: channel}, w).WithLevel(level)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// dialer returns a function dialing addr with the config's codec.
func dialer(addr string, opts transport.Options) func(ctx context.Context) (*transport.Conn, error) {
	return func(ctx context.Context) (*transport.Conn, error) {
		return transport.Dial(ctx, addr, opts)
	}
}

// transportExit maps a connection error to the transport exit code.
func transportExit(what string, err error) error {
	return cli.Exit(fmt.Sprintf("%s: %v", what, err), exitTransport)
}
