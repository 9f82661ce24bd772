// Command experience runs the personalization event pipeline: an HTTP
// bridge for page scripts, a replay tool for captured events, and an
// offline variant calculator.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "experience",
		Short: "Consent-gated event pipeline for experiments and personalization",
		Long: `experience routes visitor events through a consent gate, assigns visitors
to experiment variants, and fans events out to destination plugins.

Configuration is read from a YAML or JSON file and may be overridden with
EXPERIENCE_* environment variables.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file (.yaml, .yml, .json)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override the configured log level")

	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newReplayCmd(flags))
	root.AddCommand(newAssignCmd(flags))
	return root
}
