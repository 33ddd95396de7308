package similarity

import (
	"github.com/agnivade/levenshtein"
	mapset "github.com/deckarep/golang-set/v2"
)

const (
	lineMatchThreshold = 0.8
	ngramSize          = 3
	// maxEditTokens bounds the quadratic edit distance on long sources.
	maxEditTokens = 4000
)

// editRatio is 1 - distance/maxLen over runes; two empty strings are equal.
func editRatio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 && lb == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(max(la, lb))
}

// Structural matches each normalized line of a to an unused line of b
// whose edit similarity exceeds 0.8. The result is matched lines over the
// longer line count.
func Structural(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 100
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	used := make([]bool, len(b))
	matched := 0
	for _, la := range a {
		for j, lb := range b {
			if used[j] {
				continue
			}
			if la == lb || editRatio(la, lb) > lineMatchThreshold {
				used[j] = true
				matched++
				break
			}
		}
	}
	return 100 * float64(matched) / float64(max(len(a), len(b)))
}

// TokenSet collects identifier, operator and punctuation texts. Keywords
// and literals are left out.
func TokenSet(tokens []Token) mapset.Set[string] {
	set := mapset.NewThreadUnsafeSet[string]()
	for _, t := range tokens {
		switch t.Kind {
		case TokenIdent, TokenOperator, TokenPunct:
			set.Add(t.Text)
		}
	}
	return set
}

// Jaccard is |a∩b| / |a∪b| as a percentage; two empty sets are equal.
func Jaccard(a, b mapset.Set[string]) float64 {
	union := a.Union(b).Cardinality()
	if union == 0 {
		return 100
	}
	return 100 * float64(a.Intersect(b).Cardinality()) / float64(union)
}

// NGrams returns the set of n-token windows over the normalized stream.
func NGrams(tokens []Token, n int) mapset.Set[string] {
	set := mapset.NewThreadUnsafeSet[string]()
	if len(tokens) < n {
		if len(tokens) > 0 {
			set.Add(joinPlaceholders(tokens))
		}
		return set
	}
	for i := 0; i+n <= len(tokens); i++ {
		set.Add(joinPlaceholders(tokens[i : i+n]))
	}
	return set
}

func joinPlaceholders(tokens []Token) string {
	out := make([]byte, 0, len(tokens)*4)
	for i, t := range tokens {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, placeholder(t)...)
	}
	return string(out)
}

// TokenEdit is the edit similarity of the normalized token streams. Each
// distinct token is mapped to one rune so the distance counts tokens, not
// characters.
func TokenEdit(a, b []Token) float64 {
	alphabet := make(map[string]rune)
	encode := func(tokens []Token) string {
		if len(tokens) > maxEditTokens {
			tokens = tokens[:maxEditTokens]
		}
		out := make([]rune, len(tokens))
		for i, t := range tokens {
			p := placeholder(t)
			r, ok := alphabet[p]
			if !ok {
				r = rune(0xE000 + len(alphabet))
				alphabet[p] = r
			}
			out[i] = r
		}
		return string(out)
	}
	return 100 * editRatio(encode(a), encode(b))
}

// Heuristic compares coarse size features: lines, tokens, distinct
// identifiers and keyword count.
func Heuristic(a, b *fingerprint) float64 {
	pairs := [][2]int{
		{len(a.lines), len(b.lines)},
		{len(a.tokens), len(b.tokens)},
		{a.identifiers, b.identifiers},
		{a.keywords, b.keywords},
	}
	total := 0.0
	for _, p := range pairs {
		total += ratio(p[0], p[1])
	}
	return 100 * total / float64(len(pairs))
}

func ratio(a, b int) float64 {
	if a == 0 && b == 0 {
		return 1
	}
	return float64(min(a, b)) / float64(max(a, b))
}
