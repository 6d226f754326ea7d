package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coderunr/evaluator/internal/compiler"
	"github.com/coderunr/evaluator/internal/config"
	"github.com/coderunr/evaluator/internal/executor"
	"github.com/coderunr/evaluator/internal/metrics"
	"github.com/coderunr/evaluator/internal/sandbox"
	"github.com/coderunr/evaluator/internal/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrInvalidSubmission is returned by Validate for requests that must not
// reach the engine
var ErrInvalidSubmission = errors.New("invalid submission")

// Manager handles job execution
type Manager struct {
	config   *config.Config
	compiler *compiler.Compiler
	slots    chan struct{}
	logger   *logrus.Entry
}

// NewManager creates a new job manager
func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		config:   cfg,
		compiler: compiler.New(sandbox.InjectedGlobals...),
		slots:    make(chan struct{}, cfg.MaxConcurrentJobs),
		logger:   logrus.WithField("component", "job"),
	}
}

// Job represents one evaluation of a submission
type Job struct {
	ID         string
	Code       string
	EntryPoint string
	TestCases  []types.TestCase
	Limits     types.Limits
	State      types.JobState
	logger     *logrus.Entry
	manager    *Manager
}

// Validate checks a submission against the configured limits
func (m *Manager) Validate(submission types.Submission) error {
	if submission.Code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidSubmission)
	}
	if m.config.MaxSourceSize > 0 && len(submission.Code) > m.config.MaxSourceSize {
		return fmt.Errorf("%w: code exceeds %d bytes", ErrInvalidSubmission, m.config.MaxSourceSize)
	}
	if m.config.MaxTestCases > 0 && len(submission.TestCases) > m.config.MaxTestCases {
		return fmt.Errorf("%w: at most %d test cases are allowed", ErrInvalidSubmission, m.config.MaxTestCases)
	}
	if submission.EntryPoint != "" && !config.IsIdentifier(submission.EntryPoint) {
		return fmt.Errorf("%w: entry point %q is not a valid identifier", ErrInvalidSubmission, submission.EntryPoint)
	}
	return nil
}

// NewJob creates a new job from a submission
func (m *Manager) NewJob(submission types.Submission) *Job {
	jobID := uuid.New().String()

	entryPoint := submission.EntryPoint
	if entryPoint == "" {
		entryPoint = m.config.DefaultEntryPoint
	}

	cases := make([]types.TestCase, len(submission.TestCases))
	copy(cases, submission.TestCases)

	return &Job{
		ID:         jobID,
		Code:       submission.Code,
		EntryPoint: entryPoint,
		TestCases:  cases,
		Limits: types.Limits{
			Compile: m.config.CompileTimeout,
			Run:     m.config.RunTimeout,
		},
		State:   types.JobStateReady,
		logger:  logrus.WithField("job_id", jobID),
		manager: m,
	}
}

// Evaluate runs a submission end to end. It never fails: every error is
// folded into the response.
func (m *Manager) Evaluate(ctx context.Context, submission types.Submission) types.ExecutionResponse {
	return m.NewJob(submission).Execute(ctx, nil)
}

// Execute executes the job on a worker and returns its response. listener,
// if set, receives each test result as soon as it is known.
func (j *Job) Execute(ctx context.Context, listener executor.Listener) types.ExecutionResponse {
	if err := j.manager.Validate(types.Submission{Code: j.Code, EntryPoint: j.EntryPoint, TestCases: j.TestCases}); err != nil {
		return j.fail(metrics.OutcomeInternalError, err)
	}

	// Wait for available slot
	if err := j.waitForSlot(ctx); err != nil {
		return j.fail(metrics.OutcomeInternalError, fmt.Errorf("failed to acquire job slot: %w", err))
	}
	defer j.releaseSlot()

	j.logger.WithField("cases", len(j.TestCases)).Info("Executing job")
	start := time.Now()

	done := make(chan types.ExecutionResponse, 1)
	go j.work(ctx, listener, done)
	response := <-done

	metrics.StageDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())
	j.logger.WithFields(logrus.Fields{
		"success":  response.Success,
		"duration": time.Since(start),
	}).Info("Job finished")
	return response
}

// work runs the pipeline and recovers any panic into a failed response
func (j *Job) work(ctx context.Context, listener executor.Listener, done chan<- types.ExecutionResponse) {
	defer func() {
		if r := recover(); r != nil {
			j.logger.WithField("panic", r).Error("Evaluation worker panicked")
			done <- j.fail(metrics.OutcomeInternalError, fmt.Errorf("internal error: %v", r))
		}
	}()
	done <- j.run(ctx, listener)
}

// run compiles, materializes and executes, short-circuiting on the first two
func (j *Job) run(ctx context.Context, listener executor.Listener) types.ExecutionResponse {
	prepareCtx, cancel := context.WithTimeout(ctx, j.Limits.Compile)
	defer cancel()

	j.logger.Debug("Running compile stage")
	stageStart := time.Now()
	code, err := j.manager.compiler.Compile(j.Code)
	metrics.StageDuration.WithLabelValues("compile").Observe(time.Since(stageStart).Seconds())
	if err != nil {
		return j.fail(metrics.OutcomeCompileError, err)
	}
	if prepareCtx.Err() != nil {
		if ctx.Err() != nil {
			return j.fail(metrics.OutcomeInternalError, fmt.Errorf("evaluation canceled: %w", ctx.Err()))
		}
		return j.fail(metrics.OutcomeCompileError, fmt.Errorf("compilation exceeded %v", j.Limits.Compile))
	}
	j.State = types.JobStateCompiled

	j.logger.Debug("Running materialize stage")
	stageStart = time.Now()
	sb, err := sandbox.Materialize(prepareCtx, code, j.EntryPoint, sandbox.Options{
		MaxCallStackSize: j.manager.config.MaxCallStackSize,
		OutputMaxSize:    j.manager.config.OutputMaxSize,
	})
	metrics.StageDuration.WithLabelValues("materialize").Observe(time.Since(stageStart).Seconds())
	if err != nil {
		return j.fail(metrics.OutcomeConstructionError, err)
	}
	j.State = types.JobStateMaterialized

	j.logger.Debug("Running execution stage")
	stageStart = time.Now()
	results := executor.New(j.Limits.Run, j.logger).Run(ctx, sb, j.TestCases, listener)
	metrics.StageDuration.WithLabelValues("execute").Observe(time.Since(stageStart).Seconds())
	j.State = types.JobStateExecuted

	response := types.ExecutionResponse{Success: true, Results: results}
	if response.Passed() {
		metrics.Evaluations.WithLabelValues(metrics.OutcomePassed).Inc()
	} else {
		metrics.Evaluations.WithLabelValues(metrics.OutcomeFailed).Inc()
	}
	return response
}

// fail records a whole-evaluation failure
func (j *Job) fail(outcome string, err error) types.ExecutionResponse {
	metrics.Evaluations.WithLabelValues(outcome).Inc()
	j.logger.WithError(err).WithField("outcome", outcome).Info("Evaluation failed")
	return types.ExecutionResponse{Success: false, Error: err.Error()}
}

// waitForSlot waits for an available job slot or for ctx to end
func (j *Job) waitForSlot(ctx context.Context) error {
	select {
	case j.manager.slots <- struct{}{}:
		metrics.InFlight.Inc()
		return nil
	default:
	}

	j.logger.Info("Waiting for available job slot")
	metrics.Waiting.Inc()
	defer metrics.Waiting.Dec()

	select {
	case j.manager.slots <- struct{}{}:
		metrics.InFlight.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// releaseSlot releases a job slot
func (j *Job) releaseSlot() {
	<-j.manager.slots
	metrics.InFlight.Dec()
}
