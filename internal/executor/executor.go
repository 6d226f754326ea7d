package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coderunr/evaluator/internal/metrics"
	"github.com/coderunr/evaluator/internal/sandbox"
	"github.com/coderunr/evaluator/internal/types"
	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"
)

// Verdict kinds recorded per test case
const (
	VerdictPassed     = "passed"
	VerdictDecode     = "decode_error"
	VerdictInvocation = "invocation_error"
	VerdictTimeout    = "timeout"
	VerdictMismatch   = "mismatch"
	VerdictInternal   = "internal_error"
)

// Callable is the part of a sandbox the executor drives
type Callable interface {
	Call(ctx context.Context, arg goja.Value) (goja.Value, error)
	Decode(ctx context.Context, text string) (goja.Value, error)
	Compare(ctx context.Context, actual, expected goja.Value) (bool, string, error)
	TakeOutput() string
}

// Listener receives each result as soon as it is known
type Listener func(index int, result types.TestResult)

// Executor runs test cases against a materialized entry point
type Executor struct {
	timeout time.Duration
	logger  *logrus.Entry
}

// New creates an executor giving every case the timeout budget.
// A non-positive timeout leaves cases bounded only by the caller's context.
func New(timeout time.Duration, logger *logrus.Entry) *Executor {
	if logger == nil {
		logger = logrus.WithField("component", "executor")
	}
	return &Executor{
		timeout: timeout,
		logger:  logger,
	}
}

// Run evaluates every case in order. It never fails as a whole: each
// failure is recorded on its own result.
func (e *Executor) Run(ctx context.Context, fn Callable, cases []types.TestCase, listener Listener) []types.TestResult {
	results := make([]types.TestResult, len(cases))
	for i, tc := range cases {
		result, verdict := e.runCase(ctx, fn, tc)
		results[i] = result
		metrics.TestVerdicts.WithLabelValues(verdict).Inc()

		e.logger.WithFields(logrus.Fields{
			"case":    tc.Name,
			"verdict": verdict,
		}).Debug("Test case evaluated")

		if listener != nil {
			listener(i, result)
		}
	}
	return results
}

// runCase decodes, invokes, decodes and compares, in that order
func (e *Executor) runCase(ctx context.Context, fn Callable, tc types.TestCase) (result types.TestResult, verdict string) {
	result.Name = tc.Name
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			e.logger.WithField("panic", r).Error("Test case panicked")
			result.Passed = false
			result.Error = fmt.Sprintf("internal error: %v", r)
			verdict = VerdictInternal
		}
		result.DurationMs = time.Since(start).Milliseconds()
		result.Output = fn.TakeOutput()
	}()

	// One budget covers decode, call and compare
	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	input, err := fn.Decode(callCtx, tc.Input)
	if err != nil {
		return e.fail(result, err, "invalid input: ", VerdictDecode)
	}

	actual, err := fn.Call(callCtx, input)
	if err != nil {
		return e.fail(result, err, "", VerdictInvocation)
	}

	expected, err := fn.Decode(callCtx, tc.ExpectedOutput)
	if err != nil {
		return e.fail(result, err, "invalid expected output: ", VerdictDecode)
	}

	equal, reason, err := fn.Compare(callCtx, actual, expected)
	if err != nil {
		return e.fail(result, err, "", VerdictInvocation)
	}
	if !equal {
		result.Error = reason
		return result, VerdictMismatch
	}

	result.Passed = true
	return result, VerdictPassed
}

// fail records err on result. Timeouts and cancellation take precedence over
// the stage's own verdict.
func (e *Executor) fail(result types.TestResult, err error, prefix, verdict string) (types.TestResult, string) {
	switch {
	case errors.Is(err, sandbox.ErrTimeout):
		result.Error = e.timeoutMessage()
		return result, VerdictTimeout
	case errors.Is(err, sandbox.ErrCanceled):
		result.Error = "evaluation canceled"
		return result, VerdictTimeout
	default:
		result.Error = prefix + err.Error()
		return result, verdict
	}
}

func (e *Executor) timeoutMessage() string {
	if e.timeout > 0 {
		return fmt.Sprintf("TimeoutError: execution exceeded %v", e.timeout)
	}
	return "TimeoutError: evaluation deadline exceeded"
}
