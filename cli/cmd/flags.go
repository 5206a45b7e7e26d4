// Package cmd provides CLI commands for the armlink binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared output flags.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables the Bubble Tea joint monitor.
	// Only the state command supports it.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Show the live joint monitor (state only)",
	}
)

// Shared controller flags.
var (
	// ConfigFlag points at an armlink.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to armlink.yaml (default: ./armlink.yaml when present)",
		EnvVars: []string{"ARMLINK_CONFIG"},
	}

	// RobotFlag overrides robot_id.
	RobotFlag = &cli.StringFlag{
		Name:    "robot",
		Usage:   "Robot identifier",
		EnvVars: []string{"ARMLINK_ROBOT"},
	}

	// HostFlag sets the controller host; ports come from config or defaults.
	HostFlag = &cli.StringFlag{
		Name:    "host",
		Usage:   "Controller host (state and motion ports use their defaults)",
		EnvVars: []string{"ARMLINK_HOST"},
	}

	// ByteOrderFlag overrides byte_order.
	ByteOrderFlag = &cli.StringFlag{
		Name:  "byte-order",
		Usage: "Wire byte order: little or big",
	}

	// VerboseFlag enables debug logging.
	VerboseFlag = &cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "Enable debug logging",
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// ControllerFlags returns the flags shared by commands that talk to a
// controller.
func ControllerFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		RobotFlag,
		HostFlag,
		ByteOrderFlag,
		VerboseFlag,
	}
}

func withFlags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
