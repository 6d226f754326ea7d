package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/coderunr/evaluator/internal/config"
	"github.com/coderunr/evaluator/internal/job"
	"github.com/coderunr/evaluator/internal/types"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// ErrTestsFailed is returned when an evaluation did not pass every case
var ErrTestsFailed = errors.New("evaluation did not pass")

type evaluateOptions struct {
	testsFile  string
	entryPoint string
	challenge  string
	language   string
	version    string
	remote     bool
	stream     bool
}

func NewEvaluateCommand() *cobra.Command {
	var opts evaluateOptions

	cmd := &cobra.Command{
		Use:     "evaluate <file>",
		Aliases: []string{"eval", "run"},
		Short:   "Evaluate a TypeScript submission against test cases",
		Long: `Compile a TypeScript file, run its entry point against each test case
and report a pass/fail verdict per case.

Test cases are a JSON array of {"name", "input", "expectedOutput"} where
input and expectedOutput hold JSON text.

Examples:
  # Evaluate locally
  coderunr evaluate solution.ts --tests cases.json

  # Use a different entry point
  coderunr evaluate solution.ts --tests cases.json -e reverse

  # Evaluate on a server, streaming results over WebSocket
  coderunr evaluate solution.ts --tests cases.json --remote --stream

  # Evaluate against a catalog challenge on a server
  coderunr evaluate solution.ts --challenge strip-spaces`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read file %s: %w", args[0], err)
			}

			baseURL, _ := cmd.Flags().GetString("url")
			verbose, _ := cmd.Flags().GetBool("verbose")
			output, _ := cmd.Flags().GetString("output")

			if opts.challenge != "" {
				response, err := evaluateChallenge(baseURL, opts.challenge, string(code))
				if err != nil {
					return err
				}
				return report(response, output, verbose)
			}

			if opts.testsFile == "" {
				return fmt.Errorf("--tests is required unless --challenge is given")
			}
			cases, err := readTestCases(opts.testsFile)
			if err != nil {
				return err
			}

			request := types.EvaluateRequest{
				Language:   opts.language,
				Version:    opts.version,
				Code:       string(code),
				EntryPoint: opts.entryPoint,
				TestCases:  cases,
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			var response *types.ExecutionResponse
			switch {
			case opts.remote && opts.stream:
				response, err = evaluateStream(ctx, baseURL, request, output != "json", verbose)
			case opts.remote:
				response, err = evaluateRemote(ctx, baseURL, request)
			default:
				response, err = evaluateLocal(ctx, request, opts.stream && output != "json", verbose)
			}
			if err != nil {
				return err
			}

			if opts.stream && output != "json" {
				// Results were already printed as they arrived
				return summarize(response)
			}
			return report(response, output, verbose)
		},
	}

	cmd.Flags().StringVarP(&opts.testsFile, "tests", "t", "", "JSON file with test cases")
	cmd.Flags().StringVarP(&opts.entryPoint, "entry-point", "e", "", "Name of the function to test")
	cmd.Flags().StringVarP(&opts.challenge, "challenge", "c", "", "Evaluate against a catalog challenge (remote)")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Source language")
	cmd.Flags().StringVar(&opts.version, "language-version", "", "Language version constraint")
	cmd.Flags().BoolVarP(&opts.remote, "remote", "r", false, "Evaluate on the server instead of in-process")
	cmd.Flags().BoolVarP(&opts.stream, "stream", "s", false, "Print results as they complete")

	return cmd
}

func readTestCases(path string) ([]types.TestCase, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read test cases: %w", err)
	}

	var cases []types.TestCase
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("failed to parse test cases: %w", err)
	}
	return cases, nil
}

// evaluateLocal runs the engine in-process
func evaluateLocal(ctx context.Context, request types.EvaluateRequest, stream, verbose bool) (*types.ExecutionResponse, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if !verbose {
		logrus.SetLevel(logrus.WarnLevel)
	}

	manager := job.NewManager(cfg)
	submission := types.Submission{
		Code:       request.Code,
		EntryPoint: request.EntryPoint,
		TestCases:  request.TestCases,
	}
	if err := manager.Validate(submission); err != nil {
		return nil, err
	}

	var listener func(int, types.TestResult)
	if stream {
		color.New(color.Bold).Println("== Results ==")
		listener = func(_ int, result types.TestResult) {
			printResult(result, verbose)
		}
	}

	response := manager.NewJob(submission).Execute(ctx, listener)
	return &response, nil
}

func evaluateRemote(ctx context.Context, baseURL string, request types.EvaluateRequest) (*types.ExecutionResponse, error) {
	reqBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return postEvaluation(ctx, baseURL+"/api/v2/evaluate", reqBody)
}

func evaluateChallenge(baseURL, id, code string) (*types.ExecutionResponse, error) {
	reqBody, err := json.Marshal(types.ChallengeEvaluateRequest{Code: code})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return postEvaluation(context.Background(), baseURL+"/api/v2/challenges/"+id+"/evaluate", reqBody)
}

func postEvaluation(ctx context.Context, endpoint string, body []byte) (*types.ExecutionResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 90 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("evaluation failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var response types.ExecutionResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &response, nil
}

// report prints a response in the requested format
func report(response *types.ExecutionResponse, output string, verbose bool) error {
	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(response); err != nil {
			return err
		}
		if !response.Passed() {
			return ErrTestsFailed
		}
		return nil
	}

	if response.Success {
		bold := color.New(color.Bold)
		bold.Println("== Results ==")
		for _, result := range response.Results {
			printResult(result, verbose)
		}
	}
	return summarize(response)
}

// summarize prints the failure banner or the pass count
func summarize(response *types.ExecutionResponse) error {
	red := color.New(color.FgRed, color.Bold)
	green := color.New(color.FgGreen, color.Bold)

	if !response.Success {
		red.Println("Evaluation failed")
		fmt.Print(indentLines(response.Error))
		return ErrTestsFailed
	}

	passed := 0
	for _, result := range response.Results {
		if result.Passed {
			passed++
		}
	}

	fmt.Println()
	if passed == len(response.Results) {
		green.Printf("Passed %d/%d\n", passed, len(response.Results))
		return nil
	}
	red.Printf("Passed %d/%d\n", passed, len(response.Results))
	return ErrTestsFailed
}

func printResult(result types.TestResult, verbose bool) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	faint := color.New(color.Faint)

	if result.Passed {
		green.Print("  ✓ ")
	} else {
		red.Print("  ✗ ")
	}
	fmt.Print(result.Name)
	if verbose {
		faint.Printf(" (%dms)", result.DurationMs)
	}
	fmt.Println()

	if result.Error != "" {
		red.Print(indentLines(result.Error))
	}
	if verbose && result.Output != "" {
		faint.Print(indentLines(result.Output))
	}
}

func indentLines(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		lines[i] = "    " + line
	}
	return strings.Join(lines, "\n") + "\n"
}
