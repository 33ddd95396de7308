// Package verdict aggregates per-test outcomes into a submission verdict.
package verdict

import (
	"fmt"
	"math"

	"ojeval/internal/judge/model"
)

// Verdict is the aggregate outcome of one run.
type Verdict struct {
	Status  model.SubmissionStatus
	Score   int
	Stats   model.TestCaseStats
	Message string
}

// priority lists decided failure categories from most to least severe.
var priority = []struct {
	test   model.TestStatus
	status model.SubmissionStatus
}{
	{model.TestCompileError, model.StatusCompileError},
	{model.TestRuntimeError, model.StatusRuntimeError},
	{model.TestTLE, model.StatusTimeLimitExceeded},
	{model.TestMLE, model.StatusMemoryLimitExceeded},
}

// Resolve aggregates results. visibleCount is the number of non-hidden test
// cases handed to the runner; hidden cases always follow the visible ones.
func Resolve(results []model.TestResult, visibleCount int) Verdict {
	if len(results) == 0 {
		return Verdict{Status: model.StatusSystemError, Message: "No test results were produced."}
	}

	seen := make(map[model.TestStatus]bool, len(priority)+2)
	var stats model.TestCaseStats
	firstFailure := -1
	for i, r := range results {
		seen[r.Status] = true
		bucket := &stats.Hidden
		if r.TestCaseIndex < visibleCount {
			bucket = &stats.Visible
		}
		bucket.Total++
		if r.Passed() {
			bucket.Passed++
		} else {
			bucket.Failed++
			if firstFailure < 0 {
				firstFailure = i
			}
		}
	}
	stats.Total = len(results)
	stats.Passed = stats.Visible.Passed + stats.Hidden.Passed
	stats.Failed = stats.Total - stats.Passed

	v := Verdict{
		Status: model.StatusWrongAnswer,
		Score:  Score(stats.Passed, stats.Total),
		Stats:  stats,
	}
	if firstFailure < 0 {
		v.Status = model.StatusAccepted
		v.Message = fmt.Sprintf("All %d test cases passed (%d visible, %d hidden).",
			stats.Total, stats.Visible.Passed, stats.Hidden.Passed)
		return v
	}
	for _, p := range priority {
		if seen[p.test] {
			v.Status = p.status
			break
		}
	}
	failed := results[firstFailure]
	v.Message = fmt.Sprintf("Test case %d failed: %s.", failed.TestCaseIndex+1, failed.Status.Describe())
	return v
}

// Score is round(100 * passed / total), 0 when nothing ran.
func Score(passed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(passed) / float64(total)))
}

// SystemError is the single synthetic result recorded when evaluation itself
// failed before any test produced an outcome.
func SystemError(err error) (model.TestResult, Verdict) {
	msg := "Evaluation failed"
	if err != nil {
		msg = err.Error()
	}
	result := model.TestResult{
		TestCaseIndex: 0,
		Status:        model.TestRuntimeError,
		ErrorMessage:  msg,
	}
	return result, Verdict{
		Status: model.StatusSystemError,
		Score:  0,
		Stats: model.TestCaseStats{
			Total:   1,
			Failed:  1,
			Visible: model.Counts{Total: 1, Failed: 1},
		},
		Message: fmt.Sprintf("System error: %s.", msg),
	}
}
