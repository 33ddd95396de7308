// Package model holds the value types shared by the evaluation stages.
package model

import (
	"strings"

	pkgerrors "ojeval/pkg/errors"
)

// Language is a supported submission language.
type Language string

const (
	LanguagePython     Language = "python"
	LanguageJavaScript Language = "javascript"
	LanguageJava       Language = "java"
	LanguageCPP        Language = "cpp"
	LanguageC          Language = "c"
)

// Languages lists every supported language.
var Languages = []Language{LanguagePython, LanguageJavaScript, LanguageJava, LanguageCPP, LanguageC}

// ParseLanguage accepts the canonical names plus a few common aliases.
func ParseLanguage(raw string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "python", "python3", "py":
		return LanguagePython, nil
	case "javascript", "js", "node":
		return LanguageJavaScript, nil
	case "java":
		return LanguageJava, nil
	case "cpp", "c++", "cxx":
		return LanguageCPP, nil
	case "c":
		return LanguageC, nil
	}
	return "", pkgerrors.Newf(pkgerrors.LanguageNotSupported, "language %q is not supported", raw)
}

// TestCase is the canonical test case record consumed by the pipeline.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
	Hidden         bool   `json:"isHidden"`
	Points         int    `json:"points"`
}

// Limits are the logical resource limits enforced by the sandbox.
type Limits struct {
	TimeLimitSec  float64 `json:"timeLimit"`
	MemoryLimitMB int     `json:"memoryLimit"`
}

// TestStatus is the per-test outcome.
type TestStatus string

const (
	TestPassed       TestStatus = "passed"
	TestWrongAnswer  TestStatus = "wrong_answer"
	TestCompileError TestStatus = "compile_error"
	TestRuntimeError TestStatus = "runtime_error"
	TestTLE          TestStatus = "tle"
	TestMLE          TestStatus = "mle"
)

// Describe returns the human form used in status messages.
func (s TestStatus) Describe() string {
	switch s {
	case TestPassed:
		return "passed"
	case TestWrongAnswer:
		return "wrong answer"
	case TestCompileError:
		return "compilation error"
	case TestRuntimeError:
		return "runtime error"
	case TestTLE:
		return "time limit exceeded"
	case TestMLE:
		return "memory limit exceeded"
	}
	return string(s)
}

// TestResult is one evaluated test case.
type TestResult struct {
	TestCaseIndex   int        `json:"testCaseIndex"`
	Input           string     `json:"input"`
	ExpectedOutput  string     `json:"expectedOutput"`
	ActualOutput    string     `json:"actualOutput"`
	Status          TestStatus `json:"status"`
	ExecutionTimeMs *int64     `json:"executionTimeMs"`
	MemoryUsageKB   *int64     `json:"memoryUsageKB"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	Points          int        `json:"points"`
	Hidden          bool       `json:"isHidden"`
}

// Passed reports whether the test passed.
func (r TestResult) Passed() bool {
	return r.Status == TestPassed
}

// Withheld returns a copy with hidden bodies blanked.
func (r TestResult) Withheld() TestResult {
	if !r.Hidden {
		return r
	}
	r.Input = ""
	r.ExpectedOutput = ""
	r.ActualOutput = ""
	r.ErrorMessage = ""
	return r
}

// SubmissionStatus is the submission lifecycle state on the wire.
type SubmissionStatus string

const (
	StatusPending             SubmissionStatus = "pending"
	StatusRunning             SubmissionStatus = "running"
	StatusAccepted            SubmissionStatus = "accepted"
	StatusWrongAnswer         SubmissionStatus = "wrong_answer"
	StatusCompileError        SubmissionStatus = "compile_error"
	StatusRuntimeError        SubmissionStatus = "runtime_error"
	StatusTimeLimitExceeded   SubmissionStatus = "time_limit_exceeded"
	StatusMemoryLimitExceeded SubmissionStatus = "memory_limit_exceeded"
	StatusSystemError         SubmissionStatus = "system_error"
)

// Terminal reports whether the status ends a run. system_error counts.
func (s SubmissionStatus) Terminal() bool {
	switch s {
	case StatusPending, StatusRunning, "":
		return false
	}
	return true
}

// Verdict reports whether the status is a judged outcome of the code.
func (s SubmissionStatus) Verdict() bool {
	return s.Terminal() && s != StatusSystemError
}

// Counts is a total/passed/failed triple.
type Counts struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// TestCaseStats summarizes executed tests, split by visibility.
type TestCaseStats struct {
	Total   int    `json:"total"`
	Passed  int    `json:"passed"`
	Failed  int    `json:"failed"`
	Visible Counts `json:"visible"`
	Hidden  Counts `json:"hidden"`
}
