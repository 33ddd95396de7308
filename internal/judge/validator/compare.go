// Package validator decides whether a program's output matches the expected output.
package validator

import (
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
)

const (
	relativeTolerance = 1e-5
	absoluteTolerance = 1e-5
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	numericLit    = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)
	bracketList   = regexp.MustCompile(`^\[\s*(.*?)\s*\]$`)
	spaceInts     = regexp.MustCompile(`^[+-]?\d+( [+-]?\d+)*$`)
	commaInts     = regexp.MustCompile(`^[+-]?\d+( ?, ?[+-]?\d+)+$`)
	listSep       = regexp.MustCompile(` ?, ?| `)
)

// Normalize strips carriage returns, trims, and collapses whitespace runs to one space.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return whitespaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
}

// Compare reports whether actual matches expected. Unrecognized shapes never match.
func Compare(actual, expected string) bool {
	a, e := Normalize(actual), Normalize(expected)

	if a == "" && e == "" {
		return true
	}
	if a == e {
		return true
	}
	if x, ok := parseNumber(a); ok {
		if y, ok := parseNumber(e); ok {
			return numbersClose(x, y)
		}
	}
	if xs, ok := parseIntList(a); ok {
		if ys, ok := parseIntList(e); ok {
			return intListsEqual(xs, ys)
		}
	}
	if x, ok := parseBool(a); ok {
		if y, ok := parseBool(e); ok {
			return x == y
		}
	}
	return false
}

func parseNumber(s string) (float64, bool) {
	if !numericLit.MatchString(s) {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// The relative bound uses the larger magnitude so Compare stays symmetric.
func numbersClose(a, b float64) bool {
	scale := math.Max(math.Abs(a), math.Abs(b))
	return math.Abs(a-b) <= math.Max(scale*relativeTolerance, absoluteTolerance)
}

func parseIntList(s string) ([]*big.Int, bool) {
	body := s
	if m := bracketList.FindStringSubmatch(s); m != nil {
		body = m[1]
		if body == "" {
			return []*big.Int{}, true
		}
		if !spaceInts.MatchString(body) && !commaInts.MatchString(body) {
			return nil, false
		}
	} else if !spaceInts.MatchString(body) && !commaInts.MatchString(body) {
		return nil, false
	}

	parts := listSep.Split(body, -1)
	out := make([]*big.Int, 0, len(parts))
	for _, p := range parts {
		n, ok := new(big.Int).SetString(strings.TrimPrefix(p, "+"), 10)
		if !ok {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}

func intListsEqual(a, b []*big.Int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Cmp(b[i]) != 0 {
			return false
		}
	}
	return true
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true", "yes", "1":
		return true, true
	case "false", "no", "0":
		return false, true
	}
	return false, false
}
