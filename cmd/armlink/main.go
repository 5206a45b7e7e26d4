// Package main provides the armlink CLI entrypoint.
//
// Usage:
//
//	armlink <command> [subcommand] [options]
//
// Exit codes:
//   - 0: success
//   - 1: command failed (stream error, job render error, rejected request)
//   - 2: usage or configuration error
//   - 3: controller connection failure
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/armlink/cli/cmd"
	"github.com/pithecene-io/armlink/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "armlink",
		Usage:          "Industrial robot driver: joint-state relay, motion streaming and job files",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.StateCommand(),
			cmd.StreamCommand(),
			cmd.JobCommand(),
			cmd.SimCommand(),
			cmd.InspectCommand(),
			cmd.DebugCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		os.Exit(1)
	}
}

// exitErrHandler handles errors from the CLI, preserving exit codes from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	code, msg := exitStatus(err)
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}

// exitStatus returns the exit code for err and the message to print.
// cli.Exit("", N).Error() returns "exit status N"; those are not printed.
func exitStatus(err error) (int, string) {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg == fmt.Sprintf("exit status %d", code) {
			msg = ""
		}
		return code, msg
	}
	return 1, fmt.Sprintf("Error: %v", err)
}
