package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/coderunr/evaluator/internal/runtime"
	"github.com/coderunr/evaluator/internal/types"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func NewListCommand() *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls", "runtimes"},
		Short:   "List supported source dialects",
		Long: `List the source dialects the evaluator compiles.

Examples:
  # List the runtimes built into this binary
  coderunr list

  # List the runtimes of a server
  coderunr list --remote -u http://localhost:2000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")

			if !remote {
				return printRuntimeList(localRuntimes(), verbose)
			}

			baseURL, _ := cmd.Flags().GetString("url")
			var runtimes []types.RuntimeInfo
			if err := getJSON(baseURL+"/api/v2/runtimes", &runtimes); err != nil {
				return fmt.Errorf("failed to fetch runtimes: %w", err)
			}
			return printRuntimeList(runtimes, verbose)
		},
	}

	cmd.Flags().BoolVarP(&remote, "remote", "r", false, "Query the server instead of the local registry")

	return cmd
}

func localRuntimes() []types.RuntimeInfo {
	runtimes := runtime.NewManager().GetRuntimes()
	infos := make([]types.RuntimeInfo, len(runtimes))
	for i, rt := range runtimes {
		infos[i] = types.RuntimeInfo{
			Language: rt.Language,
			Version:  rt.Version.String(),
			Aliases:  rt.Aliases,
			Target:   rt.Target,
		}
	}
	return infos
}

func printRuntimeList(runtimes []types.RuntimeInfo, verbose bool) error {
	if len(runtimes) == 0 {
		fmt.Println("No runtimes available")
		return nil
	}

	bold := color.New(color.Bold)
	cyan := color.New(color.FgCyan)

	if verbose {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LANGUAGE\tVERSION\tTARGET\tALIASES")
		fmt.Fprintln(w, "--------\t-------\t------\t-------")
		for _, rt := range runtimes {
			aliases := strings.Join(rt.Aliases, ", ")
			if aliases == "" {
				aliases = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rt.Language, rt.Version, rt.Target, aliases)
		}
		return w.Flush()
	}

	fmt.Printf("Available runtimes (%d):\n\n", len(runtimes))
	for _, rt := range runtimes {
		bold.Printf("%-15s", rt.Language+":")
		cyan.Printf(" %s\n", rt.Version)
	}
	fmt.Println("\nUse --verbose flag for targets and aliases.")
	return nil
}
