package validator_test

import (
	"testing"

	"ojeval/internal/judge/validator"
)

func TestCompare(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		actual   string
		expected string
		want     bool
	}{
		{name: "both empty", actual: "  \r\n", expected: "", want: true},
		{name: "exact", actual: "hello world", expected: "hello world", want: true},
		{name: "whitespace collapsed", actual: "hello   world\r\n", expected: " hello\tworld", want: true},
		{name: "multiline collapsed", actual: "1\n2\n3\n", expected: "1 2 3", want: true},
		{name: "float within tolerance", actual: "3.00000000005", expected: "3", want: true},
		{name: "float outside tolerance", actual: "3.1", expected: "3", want: false},
		{name: "relative tolerance on large values", actual: "1000000.5", expected: "1000000", want: true},
		{name: "absolute tolerance near zero", actual: "0.000001", expected: "0", want: true},
		{name: "exponent form", actual: "1e3", expected: "1000", want: true},
		{name: "list order matters", actual: "[1,2]", expected: "[2,1]", want: false},
		{name: "bracket agnostic", actual: "[0,1]", expected: "0 1", want: true},
		{name: "comma list", actual: "1, 2, 3", expected: "[1 2 3]", want: true},
		{name: "list length differs", actual: "[1,2,3]", expected: "1 2", want: false},
		{name: "big integers", actual: "[123456789012345678901234567890]", expected: "123456789012345678901234567890", want: true},
		{name: "yes true", actual: "yes", expected: "true", want: true},
		{name: "zero false", actual: "0", expected: "false", want: true},
		{name: "case insensitive bool", actual: "NO", expected: "False", want: true},
		{name: "bool mismatch", actual: "yes", expected: "false", want: false},
		{name: "unrecognized shape", actual: "abc", expected: "abd", want: false},
		{name: "one side empty", actual: "", expected: "0", want: false},
		{name: "text vs number", actual: "three", expected: "3", want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := validator.Compare(tt.actual, tt.expected); got != tt.want {
				t.Fatalf("Compare(%q, %q): expected %v, got %v", tt.actual, tt.expected, tt.want, got)
			}
		})
	}
}

func TestCompareSymmetric(t *testing.T) {
	t.Parallel()

	samples := []string{
		"", "0", "1", "-1", "3", "3.00000000005", "3.1", "1e-6", "0.00002",
		"999999", "1000000", "1000009", "[1,2]", "[2,1]", "1 2", "1,2", "[]",
		"true", "False", "yes", "no", "abc", "1 2 3", "[0,1]", "0 1",
	}
	for _, a := range samples {
		for _, b := range samples {
			if validator.Compare(a, b) != validator.Compare(b, a) {
				t.Fatalf("Compare not symmetric for %q and %q", a, b)
			}
		}
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	if got := validator.Normalize("  a\r\n\t b  \n"); got != "a b" {
		t.Fatalf("expected %q, got %q", "a b", got)
	}
}
