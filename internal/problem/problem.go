// Package problem loads problems and normalizes their test case records.
package problem

import (
	"bytes"
	"encoding/json"

	"ojeval/internal/judge/model"
	pkgerrors "ojeval/pkg/errors"
)

const (
	DefaultTimeLimitSec  = 2.0
	DefaultMemoryLimitMB = 256
	defaultPoints        = 1
)

// Problem is the evaluation view of a problem. It is immutable for the
// duration of one evaluation.
type Problem struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	TestCases []model.TestCase `json:"testCases"`
	Limits    model.Limits     `json:"limits"`
}

// VisibleCount returns the number of non-hidden test cases. Visible cases
// always precede hidden ones.
func (p *Problem) VisibleCount() int {
	n := 0
	for _, tc := range p.TestCases {
		if !tc.Hidden {
			n++
		}
	}
	return n
}

// rawTestCase accepts every field spelling found in stored problems.
type rawTestCase struct {
	Input          *string `json:"input"`
	ExpectedOutput *string `json:"expectedOutput"`
	Output         *string `json:"output"`
	IsHidden       *bool   `json:"isHidden"`
	IsPublic       *bool   `json:"isPublic"`
	Points         *int    `json:"points"`
}

type splitTestCases struct {
	Visible []rawTestCase `json:"visibleTestCases"`
	Hidden  []rawTestCase `json:"hiddenTestCases"`
}

// ParseTestCases converts stored test case JSON into canonical records.
// Two layouts are accepted: a flat array, or an object with
// visibleTestCases and hiddenTestCases. Visible cases come first.
func ParseTestCases(data []byte) ([]model.TestCase, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	var (
		cases []model.TestCase
		err   error
	)
	switch data[0] {
	case '[':
		var flat []rawTestCase
		if err := json.Unmarshal(data, &flat); err != nil {
			return nil, pkgerrors.Wrapf(err, pkgerrors.TestCaseInvalid, "decode test cases")
		}
		cases, err = canonicalize(flat, nil)
	case '{':
		var split splitTestCases
		if err := json.Unmarshal(data, &split); err != nil {
			return nil, pkgerrors.Wrapf(err, pkgerrors.TestCaseInvalid, "decode test cases")
		}
		visible, hidden := false, true
		cases, err = canonicalize(split.Visible, &visible)
		if err == nil {
			var more []model.TestCase
			more, err = canonicalize(split.Hidden, &hidden)
			cases = append(cases, more...)
		}
	default:
		return nil, pkgerrors.Newf(pkgerrors.TestCaseInvalid, "test cases must be an array or object")
	}
	if err != nil {
		return nil, err
	}
	return orderVisibleFirst(cases), nil
}

func canonicalize(raw []rawTestCase, forceHidden *bool) ([]model.TestCase, error) {
	out := make([]model.TestCase, 0, len(raw))
	for i, r := range raw {
		tc := model.TestCase{Points: defaultPoints}
		if r.Input != nil {
			tc.Input = *r.Input
		}
		switch {
		case r.ExpectedOutput != nil:
			tc.ExpectedOutput = *r.ExpectedOutput
		case r.Output != nil:
			tc.ExpectedOutput = *r.Output
		default:
			return nil, pkgerrors.Newf(pkgerrors.TestCaseInvalid, "test case %d has no expected output", i+1)
		}
		switch {
		case forceHidden != nil:
			tc.Hidden = *forceHidden
		case r.IsHidden != nil:
			tc.Hidden = *r.IsHidden
		case r.IsPublic != nil:
			tc.Hidden = !*r.IsPublic
		}
		if r.Points != nil {
			if *r.Points < 0 {
				return nil, pkgerrors.Newf(pkgerrors.TestCaseInvalid, "test case %d has negative points", i+1)
			}
			tc.Points = *r.Points
		}
		out = append(out, tc)
	}
	return out, nil
}

func orderVisibleFirst(cases []model.TestCase) []model.TestCase {
	out := make([]model.TestCase, 0, len(cases))
	for _, tc := range cases {
		if !tc.Hidden {
			out = append(out, tc)
		}
	}
	for _, tc := range cases {
		if tc.Hidden {
			out = append(out, tc)
		}
	}
	return out
}

// NormalizeLimits fills defaults for unset limits.
func NormalizeLimits(timeLimitSec float64, memoryLimitMB int) model.Limits {
	if timeLimitSec <= 0 {
		timeLimitSec = DefaultTimeLimitSec
	}
	if memoryLimitMB <= 0 {
		memoryLimitMB = DefaultMemoryLimitMB
	}
	return model.Limits{TimeLimitSec: timeLimitSec, MemoryLimitMB: memoryLimitMB}
}
