package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/coderunr/evaluator/internal/types"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func NewChallengesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "challenges",
		Aliases: []string{"challenge", "ch"},
		Short:   "Browse the server's challenge catalog",
		Long: `Browse the challenge catalog configured on the server.

Available actions:
  list     - List all challenges
  show     - Show one challenge with its starter code and test cases
  refresh  - Reload the catalog on the server`,
	}

	cmd.AddCommand(NewChallengeListCommand())
	cmd.AddCommand(NewChallengeShowCommand())
	cmd.AddCommand(NewChallengeRefreshCommand())

	return cmd
}

func NewChallengeListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List challenges",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, _ := cmd.Flags().GetString("url")

			var infos []types.ChallengeInfo
			if err := getJSON(baseURL+"/api/v2/challenges", &infos); err != nil {
				return err
			}

			if len(infos) == 0 {
				fmt.Println("No challenges available")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tDIFFICULTY\tTESTS")
			fmt.Fprintln(w, "--\t-----\t----------\t-----")
			for _, info := range infos {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", info.ID, info.Title, difficulty(info.Difficulty), info.TestCount)
			}
			return w.Flush()
		},
	}
}

func NewChallengeShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a challenge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, _ := cmd.Flags().GetString("url")
			output, _ := cmd.Flags().GetString("output")

			var challenge types.Challenge
			if err := getJSON(baseURL+"/api/v2/challenges/"+url.PathEscape(args[0]), &challenge); err != nil {
				return err
			}

			if output == "json" {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(challenge)
			}

			bold := color.New(color.Bold)
			bold.Printf("%s ", challenge.Title)
			fmt.Printf("(%s)\n\n", difficulty(challenge.Difficulty))

			bold.Println("Starter code")
			fmt.Print(indentLines(challenge.StarterCode))

			bold.Println("\nTest cases")
			for _, tc := range challenge.TestCases {
				fmt.Printf("  %s: %s -> %s\n", tc.Name, tc.Input, tc.ExpectedOutput)
			}
			return nil
		},
	}
}

func NewChallengeRefreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Reload the catalog on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, _ := cmd.Flags().GetString("url")

			client := &http.Client{Timeout: 60 * time.Second}
			resp, err := client.Post(baseURL+"/api/v2/challenges/refresh", "application/json", strings.NewReader("{}"))
			if err != nil {
				return fmt.Errorf("failed to refresh catalog: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("refresh failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			}

			var result map[string]int
			if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}

			color.New(color.FgGreen).Printf("Loaded %d challenges\n", result["count"])
			return nil
		},
	}
}

func difficulty(level string) string {
	switch strings.ToLower(level) {
	case "easy":
		return color.GreenString(level)
	case "medium":
		return color.YellowString(level)
	case "hard":
		return color.RedString(level)
	default:
		return level
	}
}

func getJSON(endpoint string, v interface{}) error {
	client := &http.Client{Timeout: 30 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
