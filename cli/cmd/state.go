package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/armlink/adapter"
	"github.com/pithecene-io/armlink/cli/render"
	"github.com/pithecene-io/armlink/cli/tui"
	"github.com/pithecene-io/armlink/iox"
	"github.com/pithecene-io/armlink/log"
	"github.com/pithecene-io/armlink/metrics"
	"github.com/pithecene-io/armlink/relay"
	"github.com/pithecene-io/armlink/state"
	"github.com/pithecene-io/armlink/transport"
)

// queueFlushTimeout bounds the shutdown wait for queued states.
const queueFlushTimeout = 5 * time.Second

// StateSummary is rendered when the state command stops.
type StateSummary struct {
	RobotID   string           `json:"robot_id"`
	Session   string           `json:"session"`
	Address   string           `json:"address"`
	Publisher string           `json:"publisher"`
	Duration  time.Duration    `json:"duration"`
	Stopped   string           `json:"stopped"`
	Metrics   metrics.Snapshot `json:"metrics"`
}

// StateCommand returns the state command.
// It runs the state channel and publishes joint states until interrupted.
func StateCommand() *cli.Command {
	return &cli.Command{
		Name:  "state",
		Usage: "Connect the state channel and publish joint states",
		Flags: withFlags(ControllerFlags(), ReadOnlyFlags(), []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "State channel address host:port (overrides --host)",
			},
			&cli.StringFlag{
				Name:  "publisher",
				Usage: "Publisher type: none, stub, redis, webhook, lode",
			},
			&cli.IntFlag{
				Name:  "joints",
				Usage: "Joint count for the default joint map",
				Value: 6,
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address (e.g. :9464)",
			},
			&cli.DurationFlag{
				Name:  "duration",
				Usage: "Stop after this long (0 runs until interrupted)",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Write logs to this file (logs are discarded with --tui otherwise)",
			},
		}),
		Action: stateAction,
	}
}

func stateAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if p := c.String("publisher"); p != "" {
		cfg.Publisher.Type = p
		if err := cfg.Validate(); err != nil {
			return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitUsage)
		}
	}

	addr := c.String("addr")
	if addr == "" {
		addr = cfg.StateAddress(c.String("host"))
	}
	if addr == "" {
		return cli.Exit("state address required: set --addr, --host or state.address", exitUsage)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	codec, err := cfg.Codec()
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	logger, closeLog, err := stateLogger(c, cfg.RobotID)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := signalContext(c.Context)
	defer cancel()
	if d := c.Duration("duration"); d > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, d)
		defer cancelTimeout()
	}

	start := time.Now()
	session := sessionID(start)
	s, err := buildSink(ctx, cfg, session, start)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to create publisher: %v", err), exitUsage)
	}
	collector := metrics.NewCollector(cfg.RobotID, s.name)
	var queue *adapter.Queue
	if n := cfg.Publisher.QueueSize; n > 0 {
		queue, err = adapter.NewQueue(s.publisher, adapter.QueueConfig{Size: n, Logger: logger, Collector: collector})
		if err != nil {
			iox.DiscardClose(s.publisher)
			return cli.Exit(fmt.Sprintf("failed to create publish queue: %v", err), exitUsage)
		}
		s.publisher = queue
	}

	opts := transport.Options{
		Codec:       codec,
		Logger:      logger,
		Collector:   collector,
		DialTimeout: cfg.State.DialTimeout.Duration,
	}
	dial := dialer(addr, opts)
	conn, err := dial(ctx)
	if err != nil {
		iox.DiscardClose(s.publisher)
		return transportExit("connect state channel", err)
	}

	var (
		program *tea.Program
		monitor *tui.Publisher
	)
	publisher := s.publisher
	onLink := func(error) {}
	if c.Bool("tui") {
		program = tui.NewProgram(ctx, tui.NewMonitor(cfg.RobotID, nil))
		monitor = tui.NewPublisher(program)
		publisher = adapter.MultiSink{s.publisher, monitor}
		onLink = monitor.Link
	}

	jr, err := relay.New(relay.Config{
		RobotID:   cfg.RobotID,
		JointMap:  cfg.JointMap(c.Int("joints")),
		Publisher: publisher,
		Codec:     codec,
		Logger:    logger,
		Collector: collector,
	})
	if err != nil {
		iox.DiscardClose(conn)
		iox.DiscardClose(s.publisher)
		return cli.Exit(fmt.Sprintf("invalid joint map: %v", err), exitUsage)
	}

	iface, err := state.New(state.Config{
		Conn:      conn,
		Relay:     jr,
		Dial:      dial,
		Reconnect: cfg.ReconnectPolicy(),
		OnLink:    onLink,
		Logger:    logger,
		Collector: collector,
	})
	if err != nil {
		iox.DiscardClose(conn)
		iox.DiscardClose(s.publisher)
		return err
	}
	defer iox.DiscardClose(iface)

	metricsAddr := c.String("metrics-addr")
	if metricsAddr == "" {
		metricsAddr = cfg.Metrics.Addr
	}
	if metricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, metricsAddr, metrics.NewRegistry(collector)); err != nil {
				logger.Error("metrics server failed", map[string]any{"addr": metricsAddr, "error": err.Error()})
			}
		}()
	}

	logger.Info("state channel running", map[string]any{"addr": addr, "publisher": s.name, "session": session})

	var runErr error
	if program != nil {
		runErr = runWithMonitor(ctx, cancel, iface, program)
	} else {
		runErr = iface.Run(ctx)
	}

	if monitor != nil {
		iox.DiscardClose(monitor)
	}
	if queue != nil {
		flushCtx, cancelFlush := context.WithTimeout(context.Background(), queueFlushTimeout)
		if err := queue.Flush(flushCtx); err != nil {
			logger.Warn("publish queue not drained", map[string]any{"error": err.Error()})
		}
		cancelFlush()
		logger.Info("publish queue stats", map[string]any{"stats": queue.Stats()})
	}
	if s.recorder != nil {
		if err := s.recorder.WriteMetrics(context.Background(), collector.Snapshot(), time.Now()); err != nil {
			logger.Error("failed to write session metrics", map[string]any{"error": err.Error()})
		}
	}
	if err := s.publisher.Close(); err != nil {
		logger.Error("failed to close publisher", map[string]any{"error": err.Error()})
	}

	summary := StateSummary{
		RobotID:   cfg.RobotID,
		Session:   session,
		Address:   addr,
		Publisher: s.name,
		Duration:  time.Since(start).Round(time.Millisecond),
		Stopped:   stopReason(runErr),
		Metrics:   collector.Snapshot(),
	}
	if err := r.Render(summary); err != nil {
		return err
	}

	if state.IsTransportFailure(runErr) {
		return cli.Exit("", exitTransport)
	}
	return nil
}

// runWithMonitor runs the state loop behind the TUI. Quitting the TUI
// stops the loop; the loop ending quits the TUI.
func runWithMonitor(ctx context.Context, cancel context.CancelFunc, iface *state.Interface, program *tea.Program) error {
	done := make(chan error, 1)
	go func() {
		done <- iface.Run(ctx)
		program.Quit()
	}()
	_, _ = program.Run()
	cancel()
	return <-done
}

// stateLogger builds the state channel logger. The TUI owns the terminal,
// so logs go to --log-file or nowhere while it runs.
func stateLogger(c *cli.Context, robotID string) (*log.Logger, func(), error) {
	path := c.String("log-file")
	if path == "" {
		if c.Bool("tui") {
			return log.Nop(), func() {}, nil
		}
		logger := newLogger(c, robotID, "state", nil)
		return logger, func() { _ = logger.Sync() }, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := newLogger(c, robotID, "state", f)
	return logger, func() {
		_ = logger.Sync()
		iox.DiscardClose(f)
	}, nil
}

func stopReason(err error) string {
	switch {
	case err == nil, state.IsCanceledError(err):
		return "stopped"
	case state.IsTransportFailure(err):
		return "connection lost: " + err.Error()
	default:
		return err.Error()
	}
}
