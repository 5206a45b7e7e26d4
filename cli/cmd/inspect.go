package cmd

import (
	"context"
	"errors"
	"fmt"

	lodelib "github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/armlink/cli/config"
	"github.com/pithecene-io/armlink/cli/render"
	"github.com/pithecene-io/armlink/lode"
)

// InspectCommand returns the inspect command with subcommands.
// Inspect reads back the newest record a lode recorder wrote.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect recorded telemetry (state, metrics)",
		Subcommands: []*cli.Command{
			inspectCommand("state", "Show the latest recorded joint state", lode.QueryLatestState),
			inspectCommand("metrics", "Show the latest recorded session metrics", lode.QueryLatestMetrics),
		},
	}
}

type queryFunc func(ctx context.Context, ds lodelib.Dataset, f lode.Filter) (map[string]any, error)

func inspectCommand(name, usage string, query queryFunc) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: withFlags(ReadOnlyFlags(), []cli.Flag{
			ConfigFlag,
			RobotFlag,
			&cli.StringFlag{
				Name:  "session",
				Usage: "Session to read (default: any)",
			},
			&cli.StringFlag{
				Name:  "dataset",
				Usage: "Lode dataset ID (default: publisher.lode.dataset or armlink)",
			},
			&cli.StringFlag{
				Name:  "lode-backend",
				Usage: "Lode storage backend: fs or s3 (default: publisher.lode.backend)",
			},
			&cli.StringFlag{
				Name:  "lode-path",
				Usage: "Lode storage path (fs: directory, s3: bucket/prefix)",
			},
		}),
		Action: func(c *cli.Context) error {
			if c.Bool("tui") {
				return cli.Exit(fmt.Sprintf("--tui is not supported for inspect %s", name), exitUsage)
			}
			r, err := render.NewRenderer(c)
			if err != nil {
				return err
			}
			cfg, err := config.LoadOrDefault(c.String("config"))
			if err != nil {
				return cli.Exit(err.Error(), exitUsage)
			}
			ds, err := openDataset(c, cfg.Publisher.Lode)
			if err != nil {
				return cli.Exit(err.Error(), exitUsage)
			}

			robot := c.String("robot")
			if robot == "" {
				robot = cfg.RobotID
			}
			record, err := query(c.Context, ds, lode.Filter{RobotID: robot, Session: c.String("session")})
			if errors.Is(err, lode.ErrNoRecordsFound) {
				return cli.Exit("no matching records", exitFailure)
			}
			if err != nil {
				return err
			}
			return r.Render(record)
		},
	}
}

// openDataset opens the recorder dataset for reading, flags over config.
func openDataset(c *cli.Context, lc config.LodeConfig) (lodelib.Dataset, error) {
	if v := c.String("lode-backend"); v != "" {
		lc.Backend = v
	}
	if v := c.String("lode-path"); v != "" {
		lc.Path = v
	}
	if v := c.String("dataset"); v != "" {
		lc.Dataset = v
	}

	switch lc.Backend {
	case "", "fs":
		path := lc.Path
		if path == "" {
			path = defaultLodePath
		}
		return lode.NewReadDatasetFS(lc.Dataset, path)
	case "s3":
		return lode.NewReadDatasetS3(c.Context, lc.Dataset, s3Config(lc))
	default:
		return nil, fmt.Errorf("lode backend %q cannot be inspected (must be fs or s3)", lc.Backend)
	}
}
