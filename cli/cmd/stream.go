package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/armlink/cli/render"
	"github.com/pithecene-io/armlink/iox"
	"github.com/pithecene-io/armlink/metrics"
	"github.com/pithecene-io/armlink/motion"
	"github.com/pithecene-io/armlink/transport"
	"github.com/pithecene-io/armlink/types"
)

// defaultSimTick is the simulated executor period.
const defaultSimTick = 5 * time.Millisecond

// StreamSummary is rendered after a trajectory is streamed.
type StreamSummary struct {
	RobotID    string           `json:"robot_id"`
	Trajectory string           `json:"trajectory"`
	Points     int              `json:"points"`
	Committed  int              `json:"committed"`
	Simulated  bool             `json:"simulated"`
	Executed   int              `json:"executed,omitempty"`
	Duration   time.Duration    `json:"duration"`
	Error      string           `json:"error,omitempty"`
	Metrics    metrics.Snapshot `json:"metrics"`
}

// StreamCommand returns the stream command.
func StreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "stream",
		Usage: "Stream a trajectory through the motion buffer",
		Flags: withFlags(ControllerFlags(), ReadOnlyFlags(), []cli.Flag{
			&cli.StringFlag{
				Name:     "trajectory",
				Aliases:  []string{"t"},
				Usage:    "Path to a trajectory YAML file",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Motion channel address host:port (overrides --host)",
			},
			&cli.Float64Flag{
				Name:  "velocity",
				Usage: "Default velocity percent for points that carry none",
			},
			&cli.BoolFlag{
				Name:  "simulate",
				Usage: "Stream into an in-process simulated controller",
			},
			&cli.DurationFlag{
				Name:  "sim-tick",
				Usage: "Simulated executor period",
				Value: defaultSimTick,
			},
		}),
		Action: streamAction,
	}
}

func streamAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for stream command", exitUsage)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	mcfg, err := cfg.MotionBuffer()
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid motion configuration: %v", err), exitUsage)
	}
	traj, err := types.LoadTrajectory(c.String("trajectory"))
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	logger := newLogger(c, cfg.RobotID, "motion", nil)
	defer func() { _ = logger.Sync() }()
	collector := metrics.NewCollector(cfg.RobotID, "")

	ctx, cancel := signalContext(c.Context)
	defer cancel()

	var (
		ctrl motion.Controller
		sim  *motion.SimController
	)
	if c.Bool("simulate") {
		sim = motion.NewSimController(mcfg)
		simCtx, stopSim := context.WithCancel(ctx)
		defer stopSim()
		go sim.Run(simCtx, c.Duration("sim-tick"))
		ctrl = sim
	} else {
		addr := c.String("addr")
		if addr == "" {
			addr = cfg.MotionAddress(c.String("host"))
		}
		if addr == "" {
			return cli.Exit("motion address required: set --addr, --host, motion.address or --simulate", exitUsage)
		}
		codec, err := cfg.Codec()
		if err != nil {
			return cli.Exit(err.Error(), exitUsage)
		}
		conn, err := transport.Dial(ctx, addr, transport.Options{
			Codec:       codec,
			Logger:      logger,
			Collector:   collector,
			DialTimeout: cfg.Motion.DialTimeout.Duration,
		})
		if err != nil {
			return transportExit("connect motion channel", err)
		}
		defer iox.DiscardClose(conn)
		ctrl = motion.NewRemoteController(conn)
	}

	buf, err := motion.New(ctrl, mcfg, motion.WithLogger(logger), motion.WithCollector(collector))
	if err != nil {
		return err
	}

	start := time.Now()
	committed, streamErr := buf.Stream(ctx, traj, c.Float64("velocity"))

	summary := StreamSummary{
		RobotID:    cfg.RobotID,
		Trajectory: traj.Name,
		Points:     len(traj.Points),
		Committed:  committed,
		Simulated:  sim != nil,
	}
	if streamErr == nil && sim != nil {
		// The executor only starts once the look-ahead is reached.
		if committed-1 >= mcfg.LookAhead {
			if err := waitDrained(ctx, buf, mcfg.BufferPoll); err != nil {
				streamErr = err
			}
		}
		summary.Executed = len(sim.Consumed())
	}
	summary.Duration = time.Since(start).Round(time.Millisecond)
	summary.Metrics = collector.Snapshot()
	if streamErr != nil {
		summary.Error = streamErr.Error()
	}

	if err := r.Render(summary); err != nil {
		return err
	}
	switch {
	case streamErr == nil:
		return nil
	case errors.Is(streamErr, context.Canceled):
		return cli.Exit("stream interrupted", exitFailure)
	case transport.IsTransportError(streamErr):
		return cli.Exit("", exitTransport)
	default:
		return cli.Exit("", exitFailure)
	}
}

// waitDrained polls until the executor has consumed every committed point.
func waitDrained(ctx context.Context, buf *motion.Buffer, poll motion.RetryPolicy) error {
	err := poll.Poll(ctx, func() (bool, error) {
		return buf.Empty(ctx)
	}, nil)
	if err != nil {
		return fmt.Errorf("wait for executor: %w", err)
	}
	return nil
}
