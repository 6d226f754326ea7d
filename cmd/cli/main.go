package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/coderunr/evaluator/internal/cli"
	"github.com/spf13/cobra"
)

var (
	version = "1.0.0"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "coderunr",
		Short:         "CodeRunr CLI - Evaluate TypeScript submissions against test cases",
		Long:          `A command line interface for the CodeRunr evaluation engine.`,
		Version:       fmt.Sprintf("%s (%s) built at %s", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringP("url", "u", "http://localhost:2000", "CodeRunr API URL")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().String("output", "auto", "Output format (auto, json)")

	// Add subcommands
	rootCmd.AddCommand(
		cli.NewEvaluateCommand(),
		cli.NewChallengesCommand(),
		cli.NewListCommand(),
		cli.NewVersionCommand(version),
	)

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, cli.ErrTestsFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
