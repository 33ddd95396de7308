// Package runner drives test cases through an executor adapter in fixed-size groups.
package runner

import (
	"context"
	"fmt"
	"time"

	"ojeval/internal/common/metrics"
	"ojeval/internal/judge/executor"
	"ojeval/internal/judge/model"
	"ojeval/internal/judge/validator"
	pkgerrors "ojeval/pkg/errors"
	"ojeval/pkg/utils/logger"

	"go.uber.org/zap"
)

const DefaultBatchSize = 20

// Policy decides whether later groups run after a failing group.
type Policy string

const (
	PolicyFailFast   Policy = "fail_fast"
	PolicyExhaustive Policy = "exhaustive"
)

// Config holds runner settings.
type Config struct {
	BatchSize int    `yaml:"batchSize"`
	Policy    Policy `yaml:"policy"`
}

// Runner executes groups sequentially; tests inside a group run concurrently
// inside the adapter.
type Runner struct {
	adapter   executor.Adapter
	batchSize int
	policy    Policy
}

func New(adapter executor.Adapter, cfg Config) (*Runner, error) {
	if adapter == nil {
		return nil, pkgerrors.New(pkgerrors.ExecutorNotConfigured)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	switch cfg.Policy {
	case "":
		cfg.Policy = PolicyFailFast
	case PolicyFailFast, PolicyExhaustive:
	default:
		return nil, pkgerrors.ValidationError("runner.policy", fmt.Sprintf("unknown policy %q", cfg.Policy))
	}
	return &Runner{adapter: adapter, batchSize: cfg.BatchSize, policy: cfg.Policy}, nil
}

// Adapter returns the strategy the runner was built with.
func (r *Runner) Adapter() executor.Adapter {
	return r.adapter
}

// Job is one program evaluated against a problem's test cases.
type Job struct {
	SubmissionID string
	Code         string
	Language     model.Language
	TestCases    []model.TestCase
	Limits       model.Limits
}

// Run returns one result per executed test, in test order. Under the
// fail-fast policy it stops after the first group containing a non-pass,
// so the result list may be shorter than the test list.
func (r *Runner) Run(ctx context.Context, job Job) ([]model.TestResult, error) {
	if len(job.TestCases) == 0 {
		return nil, pkgerrors.New(pkgerrors.NoTestCases)
	}

	results := make([]model.TestResult, 0, len(job.TestCases))
	for start := 0; start < len(job.TestCases); start += r.batchSize {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		end := min(start+r.batchSize, len(job.TestCases))
		group := r.runGroup(ctx, job, start, end)
		results = append(results, group...)

		if r.policy == PolicyFailFast && anyFailed(group) {
			logger.Info(ctx, "stopping after failing group",
				zap.String("submission_id", job.SubmissionID),
				zap.Int("executed", len(results)),
				zap.Int("total", len(job.TestCases)),
			)
			break
		}
	}
	return results, nil
}

func (r *Runner) runGroup(ctx context.Context, job Job, start, end int) []model.TestResult {
	indexes := make([]int, end-start)
	for i := range indexes {
		indexes[i] = start + i
	}
	req := executor.Request{
		SubmissionID: job.SubmissionID,
		Code:         job.Code,
		Language:     job.Language,
		TestCases:    job.TestCases[start:end],
		Indexes:      indexes,
		Limits:       job.Limits,
	}

	began := time.Now()
	raw, err := r.execute(ctx, req)
	metrics.BatchDuration.WithLabelValues(r.adapter.Name()).Observe(time.Since(began).Seconds())
	if err != nil {
		metrics.ExecutorCallsTotal.WithLabelValues(r.adapter.Name(), "error").Inc()
		logger.Warn(ctx, "executor group failed",
			zap.String("submission_id", job.SubmissionID),
			zap.Int("from", start),
			zap.Int("to", end),
			zap.Error(err),
		)
	} else {
		metrics.ExecutorCallsTotal.WithLabelValues(r.adapter.Name(), "ok").Inc()
	}

	byIndex := make(map[int]executor.Result, len(raw))
	for _, res := range raw {
		byIndex[res.TestCaseIndex] = res
	}

	out := make([]model.TestResult, 0, end-start)
	for i := start; i < end; i++ {
		tc := job.TestCases[i]
		res, ok := byIndex[i]
		switch {
		case err != nil:
			out = append(out, faulted(i, tc, err))
		case !ok:
			out = append(out, faulted(i, tc, pkgerrors.ExecutorFault(nil, "executor returned no result for test %d", i+1)))
		case res.Fault != nil:
			out = append(out, faulted(i, tc, res.Fault))
		default:
			out = append(out, classify(i, tc, res))
		}
	}
	return out
}

// execute shields the group from adapter panics.
func (r *Runner) execute(ctx context.Context, req executor.Request) (results []executor.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = pkgerrors.ExecutorFault(nil, "executor panicked: %v", rec)
		}
	}()
	return r.adapter.Execute(ctx, req)
}

func classify(index int, tc model.TestCase, res executor.Result) model.TestResult {
	out := model.TestResult{
		TestCaseIndex:   index,
		Input:           tc.Input,
		ExpectedOutput:  tc.ExpectedOutput,
		ActualOutput:    res.ActualOutput,
		ExecutionTimeMs: res.ExecutionTimeMs,
		MemoryUsageKB:   res.MemoryUsageKB,
		Points:          tc.Points,
		Hidden:          tc.Hidden,
	}
	if status, decided := res.RawStatus.Domain(); decided {
		out.Status = status
		out.ErrorMessage = errorMessage(res)
		return out
	}
	if validator.Compare(res.ActualOutput, tc.ExpectedOutput) {
		out.Status = model.TestPassed
	} else {
		out.Status = model.TestWrongAnswer
	}
	return out
}

func errorMessage(res executor.Result) string {
	switch {
	case res.CompileOutput != "":
		return res.CompileOutput
	case res.Stderr != "":
		return res.Stderr
	}
	return res.RawStatus.String()
}

func faulted(index int, tc model.TestCase, err error) model.TestResult {
	return model.TestResult{
		TestCaseIndex:  index,
		Input:          tc.Input,
		ExpectedOutput: tc.ExpectedOutput,
		Status:         model.TestRuntimeError,
		ErrorMessage:   err.Error(),
		Points:         tc.Points,
		Hidden:         tc.Hidden,
	}
}

func anyFailed(results []model.TestResult) bool {
	for _, r := range results {
		if !r.Passed() {
			return true
		}
	}
	return false
}
