package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/armlink/cli/config"
	"github.com/pithecene-io/armlink/cli/render"
	"github.com/pithecene-io/armlink/iox"
	"github.com/pithecene-io/armlink/job"
	"github.com/pithecene-io/armlink/types"
)

// JobSummary is rendered after a job file is written.
type JobSummary struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Points int    `json:"points"`
	Lines  int    `json:"lines"`
	Bytes  int    `json:"bytes"`
	Stored string `json:"stored,omitempty"`
}

// JobCommand returns the job command.
func JobCommand() *cli.Command {
	return &cli.Command{
		Name:  "job",
		Usage: "Render a trajectory into a controller job file",
		Flags: withFlags(ReadOnlyFlags(), []cli.Flag{
			&cli.StringFlag{
				Name:     "trajectory",
				Aliases:  []string{"t"},
				Usage:    "Path to a trajectory YAML file",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "Job name (default: upper-cased trajectory name)",
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Output directory",
				Value:   ".",
			},
			&cli.IntFlag{
				Name:  "capacity",
				Usage: "Job buffer capacity in bytes (0 sizes it for the job)",
			},
			&cli.BoolFlag{
				Name:  "store",
				Usage: "Also store the job file with the configured lode recorder",
			},
			ConfigFlag,
			RobotFlag,
		}),
		Action: jobAction,
	}
}

func jobAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for job command", exitUsage)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	trajPath := c.String("trajectory")
	traj, err := types.LoadTrajectory(trajPath)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	name := c.String("name")
	if name == "" {
		name = defaultJobName(traj, trajPath)
	}
	j, err := job.NewTrajectoryJob(name, traj)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid job: %v", err), exitUsage)
	}

	path := filepath.Join(c.String("out"), job.FileName(j))
	if err := job.WriteFile(path, j, c.Int("capacity")); err != nil {
		if errors.Is(err, job.ErrCapacityExceeded) || errors.Is(err, job.ErrLineTooLong) {
			return cli.Exit(err.Error(), exitFailure)
		}
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read back job file: %w", err)
	}

	summary := JobSummary{
		Name:   j.Name(),
		Path:   path,
		Points: j.Len(),
		Lines:  j.LineCount(),
		Bytes:  len(data),
	}

	if c.Bool("store") {
		stored, err := storeJob(c, job.FileName(j), data)
		if err != nil {
			return cli.Exit(fmt.Sprintf("store job file: %v", err), exitFailure)
		}
		summary.Stored = stored
	}

	return r.Render(summary)
}

// storeJob writes data as a sidecar file of a new lode session.
func storeJob(c *cli.Context, filename string, data []byte) (string, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return "", err
	}
	if cfg.Publisher.Type != config.PublisherLode {
		return "", errors.New("--store requires publisher.type lode")
	}
	start := time.Now()
	rec, err := buildRecorder(c.Context, cfg, sessionID(start), start)
	if err != nil {
		return "", err
	}
	defer iox.DiscardClose(rec)
	if err := rec.PutFile(c.Context, filename, data); err != nil {
		return "", err
	}
	return rec.FilePath(filename), nil
}

// defaultJobName upper-cases the trajectory name, falling back to the file
// name.
func defaultJobName(traj *types.Trajectory, path string) string {
	name := traj.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return strings.ToUpper(name)
}
