package similarity

import (
	"sort"
	"strings"

	pkgerrors "ojeval/pkg/errors"
)

// Metric names one similarity measure.
type Metric string

const (
	MetricStructural  Metric = "structural"
	MetricToken       Metric = "token"
	MetricAST         Metric = "ast"
	MetricLevenshtein Metric = "levenshtein"
	MetricNGram       Metric = "ngram"
	MetricHeuristic   Metric = "heuristic"
)

var knownMetrics = map[Metric]struct{}{
	MetricStructural:  {},
	MetricToken:       {},
	MetricAST:         {},
	MetricLevenshtein: {},
	MetricNGram:       {},
	MetricHeuristic:   {},
}

const (
	ProfileCanonical = "canonical"
	ProfileHybrid    = "hybrid"
)

// Profile is a normalized weight per metric.
type Profile struct {
	Name    string
	Weights map[Metric]float64
}

// ProfileConfig selects a profile by name or gives explicit weights, which
// win when set.
type ProfileConfig struct {
	Name    string             `yaml:"profile"`
	Weights map[string]float64 `yaml:"weights"`
}

// NewProfile resolves cfg. An empty config yields the canonical profile.
func NewProfile(cfg ProfileConfig) (Profile, error) {
	if len(cfg.Weights) > 0 {
		weights := make(map[Metric]float64, len(cfg.Weights))
		for name, w := range cfg.Weights {
			m := Metric(strings.ToLower(strings.TrimSpace(name)))
			if _, ok := knownMetrics[m]; !ok {
				return Profile{}, pkgerrors.Newf(pkgerrors.SimilarityProfileBad, "unknown metric %q", name)
			}
			if w < 0 {
				return Profile{}, pkgerrors.Newf(pkgerrors.SimilarityProfileBad, "negative weight for %s", name)
			}
			weights[m] += w
		}
		name := cfg.Name
		if name == "" {
			name = "custom"
		}
		return normalize(name, weights)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "", ProfileCanonical:
		return normalize(ProfileCanonical, map[Metric]float64{
			MetricStructural: 0.4,
			MetricToken:      0.4,
			MetricAST:        0.2,
		})
	case ProfileHybrid:
		return normalize(ProfileHybrid, map[Metric]float64{
			MetricLevenshtein: 0.25,
			MetricNGram:       0.25,
			MetricAST:         0.35,
			MetricHeuristic:   0.15,
		})
	}
	return Profile{}, pkgerrors.Newf(pkgerrors.SimilarityProfileBad, "unknown profile %q", cfg.Name)
}

func normalize(name string, weights map[Metric]float64) (Profile, error) {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return Profile{}, pkgerrors.Newf(pkgerrors.SimilarityProfileBad, "profile %s has no weight", name)
	}
	out := make(map[Metric]float64, len(weights))
	for m, w := range weights {
		if w > 0 {
			out[m] = w / sum
		}
	}
	return Profile{Name: name, Weights: out}, nil
}

// Metrics returns the weighted metrics in a stable order.
func (p Profile) Metrics() []Metric {
	out := make([]Metric, 0, len(p.Weights))
	for m := range p.Weights {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
