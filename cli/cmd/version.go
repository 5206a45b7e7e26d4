package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/armlink/cli/render"
	"github.com/pithecene-io/armlink/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version         string `json:"version"`
	Commit          string `json:"commit"`
	ContractVersion string `json:"contract_version"`
}

// VersionCommand returns the version command.
// It must not contact a controller.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  ReadOnlyFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}

		if c.Bool("tui") {
			return cli.Exit("--tui is not supported for version command", exitUsage)
		}

		resp := VersionResponse{
			Version:         types.Version,
			Commit:          commit,
			ContractVersion: types.ContractVersion,
		}

		return r.Render(resp)
	}
}
