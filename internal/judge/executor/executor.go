// Package executor runs submitted code against test cases on a sandbox backend.
//
// Every backend is wrapped in an Adapter that returns one Result per test case,
// in input order, with the backend's status translated into RawStatus.
package executor

import (
	"context"
	"fmt"

	"ojeval/internal/judge/model"
)

// RawStatus is the engine status table shared by every adapter.
// Numbering follows the Judge0 status ids, plus RawMemoryLimit.
type RawStatus int

const (
	RawInQueue       RawStatus = 1
	RawProcessing    RawStatus = 2
	RawAccepted      RawStatus = 3
	RawWrongAnswer   RawStatus = 4
	RawTimeLimit     RawStatus = 5
	RawCompileError  RawStatus = 6
	RawSIGSEGV       RawStatus = 7
	RawSIGXFSZ       RawStatus = 8
	RawSIGFPE        RawStatus = 9
	RawSIGABRT       RawStatus = 10
	RawNZEC          RawStatus = 11
	RawRuntimeOther  RawStatus = 12
	RawInternalError RawStatus = 13
	RawExecFormat    RawStatus = 14
	RawMemoryLimit   RawStatus = 15
)

// Domain maps a raw status to a test status. ok is false for the success
// codes, whose verdict comes from comparing output instead.
func (s RawStatus) Domain() (status model.TestStatus, ok bool) {
	switch {
	case s == RawAccepted || s == RawWrongAnswer:
		return "", false
	case s == RawCompileError:
		return model.TestCompileError, true
	case s == RawTimeLimit:
		return model.TestTLE, true
	case s == RawMemoryLimit:
		return model.TestMLE, true
	case s >= RawSIGSEGV && s <= RawRuntimeOther:
		return model.TestRuntimeError, true
	}
	// Internal errors and unfinished states are executor faults.
	return model.TestRuntimeError, true
}

func (s RawStatus) String() string {
	switch s {
	case RawInQueue:
		return "In Queue"
	case RawProcessing:
		return "Processing"
	case RawAccepted:
		return "Accepted"
	case RawWrongAnswer:
		return "Wrong Answer"
	case RawTimeLimit:
		return "Time Limit Exceeded"
	case RawCompileError:
		return "Compilation Error"
	case RawSIGSEGV:
		return "Runtime Error (SIGSEGV)"
	case RawSIGXFSZ:
		return "Runtime Error (SIGXFSZ)"
	case RawSIGFPE:
		return "Runtime Error (SIGFPE)"
	case RawSIGABRT:
		return "Runtime Error (SIGABRT)"
	case RawNZEC:
		return "Runtime Error (NZEC)"
	case RawRuntimeOther:
		return "Runtime Error (Other)"
	case RawInternalError:
		return "Internal Error"
	case RawExecFormat:
		return "Exec Format Error"
	case RawMemoryLimit:
		return "Memory Limit Exceeded"
	}
	return fmt.Sprintf("Unknown (%d)", int(s))
}

// Request is one batch of test cases for a single program.
type Request struct {
	SubmissionID string
	Code         string
	Language     model.Language
	TestCases    []model.TestCase
	// Indexes holds the global index of each entry in TestCases.
	Indexes []int
	Limits  model.Limits
}

// IndexOf returns the global index of the i-th test case in the batch.
func (r Request) IndexOf(i int) int {
	if i < len(r.Indexes) {
		return r.Indexes[i]
	}
	return i
}

// Result is the raw outcome of one test case.
type Result struct {
	TestCaseIndex   int
	ActualOutput    string
	RawStatus       RawStatus
	ExecutionTimeMs *int64
	MemoryUsageKB   *int64
	Stderr          string
	CompileOutput   string
	// Fault is set when the executor could not be reached or answered
	// nonsense for this test case.
	Fault error
}

// Adapter is a sandbox backend.
type Adapter interface {
	Name() string
	Execute(ctx context.Context, req Request) ([]Result, error)
}

func int64Ptr(v int64) *int64 {
	return &v
}

func faultResults(req Request, err error) []Result {
	out := make([]Result, len(req.TestCases))
	for i := range out {
		out[i] = Result{TestCaseIndex: req.IndexOf(i), RawStatus: RawInternalError, Fault: err}
	}
	return out
}
