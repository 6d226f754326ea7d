package cli

import (
	"fmt"

	"github.com/coderunr/evaluator/internal/runtime"
	"github.com/spf13/cobra"
)

func NewVersionCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display version information for the CodeRunr evaluator CLI.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("CodeRunr evaluator CLI v%s\n", version)
			fmt.Println("Compatible with CodeRunr evaluator API v2")
			fmt.Printf("Compiles %s %s to %s\n", runtime.DefaultLanguage, runtime.DialectVersion, runtime.Target)
		},
	}

	return cmd
}
