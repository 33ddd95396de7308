package runner_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"ojeval/internal/judge/executor"
	"ojeval/internal/judge/model"
	"ojeval/internal/judge/runner"
)

// scriptedAdapter answers from a per-index table and records every call.
type scriptedAdapter struct {
	mu      sync.Mutex
	calls   [][]int
	outputs map[int]string
	raw     map[int]executor.RawStatus
	faults  map[int]error
	drop    map[int]bool
	panicOn int
	failAll error
}

func (a *scriptedAdapter) Name() string { return "scripted" }

func (a *scriptedAdapter) Execute(ctx context.Context, req executor.Request) ([]executor.Result, error) {
	a.mu.Lock()
	a.calls = append(a.calls, append([]int(nil), req.Indexes...))
	a.mu.Unlock()

	if a.failAll != nil {
		return nil, a.failAll
	}
	var out []executor.Result
	for i, tc := range req.TestCases {
		idx := req.IndexOf(i)
		if a.panicOn == idx+1 {
			panic("boom")
		}
		if a.drop[idx] {
			continue
		}
		res := executor.Result{TestCaseIndex: idx, RawStatus: executor.RawAccepted, ActualOutput: tc.ExpectedOutput}
		if s, ok := a.outputs[idx]; ok {
			res.ActualOutput = s
		}
		if s, ok := a.raw[idx]; ok {
			res.RawStatus = s
		}
		res.Fault = a.faults[idx]
		out = append(out, res)
	}
	return out, nil
}

func makeCases(n int) []model.TestCase {
	out := make([]model.TestCase, n)
	for i := range out {
		out[i] = model.TestCase{Input: "in", ExpectedOutput: "ok", Points: 1}
	}
	return out
}

func newRunner(t *testing.T, a executor.Adapter, cfg runner.Config) *runner.Runner {
	t.Helper()
	r, err := runner.New(a, cfg)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return r
}

func TestRunFailFastStopsAfterFailingGroup(t *testing.T) {
	t.Parallel()
	adapter := &scriptedAdapter{outputs: map[int]string{1: "wrong"}}
	r := newRunner(t, adapter, runner.Config{BatchSize: 2})

	results, err := r.Run(context.Background(), runner.Job{Code: "x", Language: model.LanguagePython, TestCases: makeCases(6)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if len(adapter.calls) != 1 {
		t.Fatalf("later groups must not run, got calls %v", adapter.calls)
	}
	if results[0].Status != model.TestPassed || results[1].Status != model.TestWrongAnswer {
		t.Fatalf("unexpected statuses %s %s", results[0].Status, results[1].Status)
	}
}

func TestRunExhaustiveRunsEveryGroup(t *testing.T) {
	t.Parallel()
	adapter := &scriptedAdapter{outputs: map[int]string{1: "wrong"}}
	r := newRunner(t, adapter, runner.Config{BatchSize: 2, Policy: runner.PolicyExhaustive})

	results, err := r.Run(context.Background(), runner.Job{TestCases: makeCases(5)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 5 || len(adapter.calls) != 3 {
		t.Fatalf("expected 5 results over 3 calls, got %d over %d", len(results), len(adapter.calls))
	}
	if got := adapter.calls[2]; len(got) != 1 || got[0] != 4 {
		t.Fatalf("last group should carry index 4, got %v", got)
	}
	for i, res := range results {
		if res.TestCaseIndex != i {
			t.Fatalf("results out of order at %d: %d", i, res.TestCaseIndex)
		}
	}
}

func TestRunSynthesizesRuntimeErrors(t *testing.T) {
	t.Parallel()
	adapter := &scriptedAdapter{
		faults: map[int]error{0: errors.New("connection refused")},
		drop:   map[int]bool{2: true},
		raw:    map[int]executor.RawStatus{3: executor.RawTimeLimit},
	}
	r := newRunner(t, adapter, runner.Config{BatchSize: 4})

	results, err := r.Run(context.Background(), runner.Job{TestCases: makeCases(4)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []model.TestStatus{model.TestRuntimeError, model.TestPassed, model.TestRuntimeError, model.TestTLE}
	for i, res := range results {
		if res.Status != want[i] {
			t.Fatalf("result %d: got %s want %s", i, res.Status, want[i])
		}
	}
	if !strings.Contains(results[0].ErrorMessage, "connection refused") {
		t.Fatalf("fault message not carried: %q", results[0].ErrorMessage)
	}
}

func TestRunRecoversAdapterPanic(t *testing.T) {
	t.Parallel()
	adapter := &scriptedAdapter{panicOn: 1}
	r := newRunner(t, adapter, runner.Config{BatchSize: 3})

	results, err := r.Run(context.Background(), runner.Job{TestCases: makeCases(3)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected whole group to be synthesized, got %d", len(results))
	}
	for _, res := range results {
		if res.Status != model.TestRuntimeError {
			t.Fatalf("expected runtime_error, got %s", res.Status)
		}
	}
}

func TestRunRejectsEmptyTestList(t *testing.T) {
	r := newRunner(t, &scriptedAdapter{}, runner.Config{})
	if _, err := r.Run(context.Background(), runner.Job{}); err == nil {
		t.Fatalf("expected error for empty test list")
	}
}

func TestNewRejectsUnknownPolicy(t *testing.T) {
	if _, err := runner.New(&scriptedAdapter{}, runner.Config{Policy: "sometimes"}); err == nil {
		t.Fatalf("expected validation error")
	}
}
