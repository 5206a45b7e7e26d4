package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/armlink/cli/config"
	"github.com/pithecene-io/armlink/iox"
	"github.com/pithecene-io/armlink/log"
	"github.com/pithecene-io/armlink/motion"
	"github.com/pithecene-io/armlink/transport"
)

// SimCommand returns the sim command.
// It serves a simulated motion controller so stream can run without a robot.
func SimCommand() *cli.Command {
	return &cli.Command{
		Name:  "sim",
		Usage: "Serve a simulated motion controller",
		Flags: withFlags(ControllerFlags(), []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Listen address",
				Value: fmt.Sprintf("127.0.0.1:%d", config.DefaultMotionPort),
			},
			&cli.DurationFlag{
				Name:  "tick",
				Usage: "Simulated executor period",
				Value: defaultSimTick,
			},
		}),
		Action: simAction,
	}
}

func simAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	mcfg, err := cfg.MotionBuffer()
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid motion configuration: %v", err), exitUsage)
	}
	codec, err := cfg.Codec()
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	logger := newLogger(c, cfg.RobotID, "sim", nil)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signalContext(c.Context)
	defer cancel()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", c.String("listen"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("listen: %v", err), exitTransport)
	}
	logger.Info("simulated controller listening", map[string]any{"addr": ln.Addr().String()})

	sim := motion.NewSimController(mcfg)
	go sim.Run(ctx, c.Duration("tick"))

	return serveSim(ctx, ln, sim, transport.Options{Codec: codec, Logger: logger}, logger)
}

// serveSim accepts connections on ln until ctx ends and answers each with
// sim. It closes ln.
func serveSim(ctx context.Context, ln net.Listener, sim *motion.SimController, opts transport.Options, logger *log.Logger) error {
	if logger == nil {
		logger = log.Nop()
	}
	stop := context.AfterFunc(ctx, func() { iox.DiscardClose(ln) })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		conn := transport.New(nc, opts)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer iox.DiscardClose(conn)
			if err := sim.ServeConn(ctx, conn, logger); err != nil && ctx.Err() == nil {
				logger.Warn("simulated connection ended", map[string]any{"error": err.Error()})
			}
		}()
	}
}
