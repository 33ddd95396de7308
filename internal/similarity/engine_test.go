package similarity_test

import (
	"reflect"
	"testing"

	judgemodel "ojeval/internal/judge/model"
	"ojeval/internal/similarity"
	pkgerrors "ojeval/pkg/errors"
)

const sumOfSquares = `def solve(n):
    # sum of squares
    total = 0
    for i in range(n):
        total += i * i
    return total

print(solve(int(input())))
`

const sumOfSquaresRenamed = `def compute(m):
    # renamed copy
    acc = 0
    for k in range(m):
        acc += k * k
    return acc

print(compute(int(input())))
`

const wordCount = `import sys
data = sys.stdin.read().split()
words = {}
for w in data:
    words[w] = words.get(w, 0) + 1
best = max(words, key=words.get)
print(best, words[best])
`

func TestNormalizedLines(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		lang judgemodel.Language
		code string
		want []string
	}{
		{
			name: "c comments and strings",
			lang: judgemodel.LanguageJavaScript,
			code: "x = \"hi // no\"; // c\n/* b */ y = 42;",
			want: []string{"ID = STR ;", "ID = NUM ;"},
		},
		{
			name: "python hash comment",
			lang: judgemodel.LanguagePython,
			code: "s = 'a # b'  # comment\n\nprint(s)",
			want: []string{"ID = STR", "print ( ID )"},
		},
		{
			name: "preprocessor directive",
			lang: judgemodel.LanguageCPP,
			code: "#include <bits/stdc++.h>\nint x = 1;",
			want: []string{"#include", "int ID = NUM ;"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := similarity.NormalizedLines(similarity.Tokenize(tt.code, tt.lang))
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestCompareCanonical(t *testing.T) {
	t.Parallel()
	engine := similarity.NewEngine(similarity.Profile{})
	py := func(code string) similarity.Source {
		return similarity.Source{Code: code, Language: judgemodel.LanguagePython}
	}

	same := engine.Compare(py(sumOfSquares), py(sumOfSquares))
	if same.Score != 100 || same.Confidence != similarity.ConfidenceFull {
		t.Fatalf("identical code: %+v", same)
	}

	renamed := engine.Compare(py(sumOfSquares), py(sumOfSquaresRenamed))
	if renamed.Metrics[similarity.MetricStructural] != 100 {
		t.Fatalf("renaming changed structure: %+v", renamed)
	}
	if renamed.Score < 70 || renamed.Score >= 100 {
		t.Fatalf("unexpected renamed score %v", renamed.Score)
	}

	different := engine.Compare(py(sumOfSquares), py(wordCount))
	if different.Score >= 50 {
		t.Fatalf("unrelated programs scored %v (%+v)", different.Score, different.Metrics)
	}
}

func TestCompareFallsBackOnUnparsableCode(t *testing.T) {
	t.Parallel()
	engine := similarity.NewEngine(similarity.Profile{})
	broken := similarity.Source{Code: "int main() {\n  return 0;\n", Language: judgemodel.LanguageC}
	res := engine.Compare(broken, broken)
	if res.Confidence != similarity.ConfidenceReduced {
		t.Fatalf("expected reduced confidence, got %+v", res)
	}
	if res.Score != 100 {
		t.Fatalf("identical sources should still match, got %v", res.Score)
	}
}

func TestNewProfile(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     similarity.ProfileConfig
		want    map[similarity.Metric]float64
		wantErr bool
	}{
		{
			name: "default is canonical",
			want: map[similarity.Metric]float64{"structural": 0.4, "token": 0.4, "ast": 0.2},
		},
		{
			name: "hybrid",
			cfg:  similarity.ProfileConfig{Name: "hybrid"},
			want: map[similarity.Metric]float64{"levenshtein": 0.25, "ngram": 0.25, "ast": 0.35, "heuristic": 0.15},
		},
		{
			name: "custom weights are normalized",
			cfg:  similarity.ProfileConfig{Weights: map[string]float64{"token": 1, "AST": 3}},
			want: map[similarity.Metric]float64{"token": 0.25, "ast": 0.75},
		},
		{name: "unknown profile", cfg: similarity.ProfileConfig{Name: "fuzzy"}, wantErr: true},
		{name: "unknown metric", cfg: similarity.ProfileConfig{Weights: map[string]float64{"vibes": 1}}, wantErr: true},
		{name: "zero weights", cfg: similarity.ProfileConfig{Weights: map[string]float64{"token": 0}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := similarity.NewProfile(tt.cfg)
			if tt.wantErr {
				if !pkgerrors.Is(err, pkgerrors.SimilarityProfileBad) {
					t.Fatalf("expected profile error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(p.Weights) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, p.Weights)
			}
			for m, w := range tt.want {
				if diff := p.Weights[m] - w; diff > 1e-9 || diff < -1e-9 {
					t.Fatalf("weight of %s: expected %v, got %v", m, w, p.Weights[m])
				}
			}
		})
	}
}

func TestHybridProfileScoresIdenticalCode(t *testing.T) {
	t.Parallel()
	p, err := similarity.NewProfile(similarity.ProfileConfig{Name: similarity.ProfileHybrid})
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	src := similarity.Source{Code: sumOfSquares, Language: judgemodel.LanguagePython}
	res := similarity.NewEngine(p).Compare(src, src)
	if res.Score != 100 || len(res.Metrics) != 4 {
		t.Fatalf("unexpected hybrid result %+v", res)
	}
}
