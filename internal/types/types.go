package types

import (
	"encoding/json"
	"time"

	"github.com/Masterminds/semver/v3"
)

// JobState represents the state of an evaluation job
type JobState int

const (
	JobStateReady JobState = iota
	JobStateCompiled
	JobStateMaterialized
	JobStateExecuted
)

// String returns the lowercase name of the state
func (s JobState) String() string {
	switch s {
	case JobStateReady:
		return "ready"
	case JobStateCompiled:
		return "compiled"
	case JobStateMaterialized:
		return "materialized"
	case JobStateExecuted:
		return "executed"
	default:
		return "unknown"
	}
}

// TestCase is a declarative test. Input and ExpectedOutput hold JSON text,
// not decoded values.
type TestCase struct {
	Name           string `json:"name"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
}

// TestResult is the verdict for one test case
type TestResult struct {
	Name       string `json:"name"`
	Passed     bool   `json:"passed"`
	Error      string `json:"error,omitempty"`
	Output     string `json:"output,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

// ExecutionResponse is the envelope returned for every evaluation.
// Results is nil whenever Success is false.
type ExecutionResponse struct {
	Success bool         `json:"success"`
	Results []TestResult `json:"results,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// MarshalJSON always emits results on success, even an empty list, and never
// on failure.
func (r ExecutionResponse) MarshalJSON() ([]byte, error) {
	var results *[]TestResult
	if r.Success {
		list := r.Results
		if list == nil {
			list = []TestResult{}
		}
		results = &list
	}
	return json.Marshal(struct {
		Success bool          `json:"success"`
		Results *[]TestResult `json:"results,omitempty"`
		Error   string        `json:"error,omitempty"`
	}{r.Success, results, r.Error})
}

// Passed reports whether every test case passed
func (r *ExecutionResponse) Passed() bool {
	if !r.Success {
		return false
	}
	for _, res := range r.Results {
		if !res.Passed {
			return false
		}
	}
	return true
}

// Submission is one learner run: source text plus the cases to verify
type Submission struct {
	Code       string
	EntryPoint string
	TestCases  []TestCase
}

// Limits holds the wall-clock budgets of a single evaluation
type Limits struct {
	Compile time.Duration `json:"compile"`
	Run     time.Duration `json:"run"`
}

// Runtime represents the source dialect the engine compiles
type Runtime struct {
	Language string          `json:"language"`
	Version  *semver.Version `json:"version"`
	Aliases  []string        `json:"aliases"`
	Target   string          `json:"target"`
}

// EvaluateRequest represents an incoming evaluation request
type EvaluateRequest struct {
	Language   string     `json:"language,omitempty"`
	Version    string     `json:"version,omitempty"`
	Code       string     `json:"code"`
	EntryPoint string     `json:"entryPoint,omitempty"`
	TestCases  []TestCase `json:"testCases"`
}

// ChallengeEvaluateRequest evaluates code against a catalog challenge
type ChallengeEvaluateRequest struct {
	Code string `json:"code"`
}

// Challenge is a catalog record. Only TestCases, EntryPoint and the code
// fields are consumed by the engine.
type Challenge struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Difficulty  string     `json:"difficulty"`
	StarterCode string     `json:"starterCode"`
	Solution    string     `json:"solution,omitempty"`
	EntryPoint  string     `json:"entryPoint,omitempty"`
	TestCases   []TestCase `json:"testCases"`
}

// ChallengeInfo is the catalog listing entry for API responses
type ChallengeInfo struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Difficulty string `json:"difficulty"`
	TestCount  int    `json:"testCount"`
}

// RuntimeInfo represents runtime information for API responses
type RuntimeInfo struct {
	Language string   `json:"language"`
	Version  string   `json:"version"`
	Aliases  []string `json:"aliases"`
	Target   string   `json:"target,omitempty"`
}

// WebSocketMessage represents a WebSocket message
type WebSocketMessage struct {
	Type     string      `json:"type"`
	Error    string      `json:"error,omitempty"`
	Index    *int        `json:"index,omitempty"`
	Language string      `json:"language,omitempty"`
	Version  string      `json:"version,omitempty"`
	Payload  interface{} `json:"payload,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}
