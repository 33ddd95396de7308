package similarity

import (
	"math"

	judgemodel "ojeval/internal/judge/model"

	mapset "github.com/deckarep/golang-set/v2"
)

const (
	ConfidenceFull    = "full"
	ConfidenceReduced = "reduced"
)

// Source is code to compare.
type Source struct {
	Code     string
	Language judgemodel.Language
}

// Result is the outcome of one pairwise comparison.
type Result struct {
	Score      float64            `json:"score"`
	Metrics    map[Metric]float64 `json:"metrics"`
	Confidence string             `json:"confidence"`
}

// Engine compares sources under a weight profile. It is safe for
// concurrent use.
type Engine struct {
	profile Profile
}

func NewEngine(profile Profile) *Engine {
	if len(profile.Weights) == 0 {
		profile, _ = NewProfile(ProfileConfig{})
	}
	return &Engine{profile: profile}
}

func (e *Engine) Profile() Profile {
	return e.profile
}

type fingerprint struct {
	tokens      []Token
	lines       []string
	set         mapset.Set[string]
	outline     Histogram
	identifiers int
	keywords    int
}

func newFingerprint(src Source) *fingerprint {
	tokens := Tokenize(src.Code, src.Language)
	fp := &fingerprint{
		tokens: tokens,
		lines:  NormalizedLines(tokens),
		set:    TokenSet(tokens),
	}
	if h, ok := Outline(src.Code, tokens, src.Language); ok {
		fp.outline = h
	}
	idents := mapset.NewThreadUnsafeSet[string]()
	for _, t := range tokens {
		switch t.Kind {
		case TokenIdent:
			idents.Add(t.Text)
		case TokenKeyword:
			fp.keywords++
		}
	}
	fp.identifiers = idents.Cardinality()
	return fp
}

// Compare scores a against b from 0 to 100, rounded to two decimals.
func (e *Engine) Compare(a, b Source) Result {
	return e.compare(newFingerprint(a), newFingerprint(b))
}

func (e *Engine) compare(a, b *fingerprint) Result {
	res := Result{Metrics: make(map[Metric]float64, len(e.profile.Weights)), Confidence: ConfidenceFull}
	for _, m := range e.profile.Metrics() {
		var v float64
		switch m {
		case MetricStructural:
			v = Structural(a.lines, b.lines)
		case MetricToken:
			v = Jaccard(a.set, b.set)
		case MetricAST:
			if a.outline != nil && b.outline != nil {
				v = Overlap(a.outline, b.outline)
			} else {
				v = Overlap(TokenHistogram(a.tokens), TokenHistogram(b.tokens))
				res.Confidence = ConfidenceReduced
			}
		case MetricLevenshtein:
			v = TokenEdit(a.tokens, b.tokens)
		case MetricNGram:
			v = Jaccard(NGrams(a.tokens, ngramSize), NGrams(b.tokens, ngramSize))
		case MetricHeuristic:
			v = Heuristic(a, b)
		}
		res.Metrics[m] = round2(v)
		res.Score += v * e.profile.Weights[m]
	}
	res.Score = round2(math.Min(100, math.Max(0, res.Score)))
	return res
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
