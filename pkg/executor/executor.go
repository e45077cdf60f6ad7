package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Step is a common base interface for every unit of ordered work.
type Step interface {
	// Execute performs the step's main operation
	Execute(ctx context.Context) error

	// IsCompleted checks if the step has nothing left to do
	IsCompleted(ctx context.Context) bool

	// GetName returns the step name
	GetName() string
}

// ValidatingStep is a Step with preconditions checked before Execute.
type ValidatingStep interface {
	Step

	// Validate validates preconditions before execution
	Validate(ctx context.Context) error
}

// Mode selects how a run reacts to a failing step.
type Mode int

const (
	// FailFast stops at the first failing step and returns its error.
	FailFast Mode = iota
	// ContinueOnError records failures and runs the remaining steps.
	ContinueOnError
)

// ExecutionResult represents the result of one ordered run
type ExecutionResult struct {
	Success     bool          `json:"success"`
	StepCount   int           `json:"step_count"`
	Duration    time.Duration `json:"duration"`
	StepResults []StepResult  `json:"step_results"`
	Error       string        `json:"error,omitempty"`
}

// StepResult represents the result of a single step
type StepResult struct {
	StepName string        `json:"step_name"`
	Success  bool          `json:"success"`
	Skipped  bool          `json:"skipped,omitempty"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Err      error         `json:"-"`
}

// Errors returns the errors of the failed steps in order.
func (r *ExecutionResult) Errors() []error {
	var errs []error
	for _, s := range r.StepResults {
		if s.Err != nil {
			errs = append(errs, s.Err)
		}
	}
	return errs
}

// Runner executes steps sequentially on the caller's goroutine.
type Runner struct {
	logger *logrus.Logger
}

// NewRunner creates a new runner
func NewRunner(logger *logrus.Logger) *Runner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Runner{logger: logger}
}

// Run executes steps in order and returns per-step results.
// In FailFast mode the first failure aborts the run and is returned wrapped, so callers can still
// match the underlying error with errors.As. Steps that already ran are never undone.
func (r *Runner) Run(ctx context.Context, steps []Step, operation string, mode Mode) (*ExecutionResult, error) {
	r.logger.Infof("Starting %s (%d steps)", operation, len(steps))

	startTime := time.Now()
	result := &ExecutionResult{
		StepResults: make([]StepResult, 0, len(steps)),
	}

	for _, step := range steps {
		stepResult := r.executeStep(ctx, step, operation)
		result.StepResults = append(result.StepResults, stepResult)

		if stepResult.Success {
			continue
		}
		if mode == FailFast {
			result.Success = false
			result.Error = stepResult.Error
			result.Duration = time.Since(startTime)
			result.StepCount = len(result.StepResults)

			r.logger.Errorf("%s failed at step %s: %s (completedSteps: %d, totalSteps: %d)",
				operation, stepResult.StepName, stepResult.Error, len(result.StepResults), len(steps))

			return result, fmt.Errorf("%s failed at step %s: %w", operation, stepResult.StepName, stepResult.Err)
		}
		r.logger.Warnf("%s step %s failed: %s (continuing with remaining steps)",
			operation, stepResult.StepName, stepResult.Error)
	}

	successfulSteps := countSuccessfulSteps(result.StepResults)
	result.Success = successfulSteps == len(steps)
	result.Duration = time.Since(startTime)
	result.StepCount = len(result.StepResults)

	if result.Success {
		r.logger.Infof("%s completed successfully (duration: %v, stepCount: %d)",
			operation, result.Duration, result.StepCount)
	} else {
		r.logger.Warnf("%s completed with some failures (duration: %v, successfulSteps: %d, totalSteps: %d)",
			operation, result.Duration, successfulSteps, len(steps))
		result.Error = fmt.Sprintf("completed with %d failed steps out of %d total steps",
			len(steps)-successfulSteps, len(steps))
	}

	return result, nil
}

func (r *Runner) executeStep(ctx context.Context, step Step, operation string) StepResult {
	stepName := step.GetName()
	startTime := time.Now()

	r.logger.Infof("Executing %s step %s", operation, stepName)

	if step.IsCompleted(ctx) {
		r.logger.Infof("%s step %s has nothing to do", operation, stepName)
		res := newStepResult(stepName, startTime, nil)
		res.Skipped = true
		return res
	}

	if validating, ok := step.(ValidatingStep); ok {
		if err := validating.Validate(ctx); err != nil {
			r.logger.Errorf("%s step %s validation failed with error: %s", operation, stepName, err)
			return newStepResult(stepName, startTime, fmt.Errorf("validation failed: %w", err))
		}
	}

	if err := step.Execute(ctx); err != nil {
		r.logger.Errorf("%s step %s failed with error: %s with duration %s", operation, stepName, err, time.Since(startTime))
		return newStepResult(stepName, startTime, err)
	}

	r.logger.Infof("%s step %s completed successfully with duration %s", operation, stepName, time.Since(startTime))
	return newStepResult(stepName, startTime, nil)
}

func newStepResult(stepName string, startTime time.Time, err error) StepResult {
	res := StepResult{
		StepName: stepName,
		Success:  err == nil,
		Duration: time.Since(startTime),
		Err:      err,
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func countSuccessfulSteps(stepResults []StepResult) int {
	count := 0
	for _, result := range stepResults {
		if result.Success {
			count++
		}
	}
	return count
}
