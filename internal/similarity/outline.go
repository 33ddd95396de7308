package similarity

import (
	"strings"

	judgemodel "ojeval/internal/judge/model"
)

// Histogram counts syntax node types.
type Histogram map[string]int

func (h Histogram) add(key string) {
	h[key]++
}

// statementKinds maps leading keywords to statement node types.
var statementKinds = map[string]string{
	"if": "if", "elif": "if", "else": "else", "for": "loop", "while": "loop", "do": "loop",
	"switch": "switch", "case": "case", "default": "case", "match": "switch",
	"return": "return", "break": "jump", "continue": "jump", "goto": "jump", "pass": "jump",
	"try": "try", "catch": "catch", "except": "catch", "finally": "finally", "throw": "raise", "raise": "raise",
	"class": "class", "struct": "class", "interface": "class", "enum": "class",
	"def": "func", "function": "func", "lambda": "lambda",
	"import": "import", "from": "import", "using": "import", "#include": "import", "package": "import",
	"with": "with", "yield": "yield", "assert": "assert",
}

// Outline parses code into a coarse syntax tree of statements nested by
// block and returns the node-type histogram. It reports false when the
// block structure does not parse, e.g. unbalanced braces or a dedent to an
// unknown indentation level.
func Outline(code string, tokens []Token, lang judgemodel.Language) (Histogram, bool) {
	var stmts []statement
	var ok bool
	if lang == judgemodel.LanguagePython {
		stmts, ok = indentStatements(code, tokens)
	} else {
		stmts, ok = braceStatements(tokens)
	}
	if !ok || len(stmts) == 0 {
		return nil, false
	}
	h := make(Histogram)
	for _, s := range stmts {
		kind := classify(s.tokens)
		h.add(kind)
		h.add(kind + "/" + depthBucket(s.depth))
		for i, t := range s.tokens {
			switch {
			case t.Kind == TokenOperator:
				h.add("op:" + t.Text)
			case t.Kind == TokenIdent && i+1 < len(s.tokens) && s.tokens[i+1].Text == "(":
				h.add("call")
			case t.Text == "[":
				h.add("index")
			}
		}
	}
	return h, true
}

type statement struct {
	tokens []Token
	depth  int
}

func braceStatements(tokens []Token) ([]statement, bool) {
	var (
		out   []statement
		cur   []Token
		depth int
		paren int
	)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, statement{tokens: cur, depth: depth})
			cur = nil
		}
	}
	for _, t := range tokens {
		switch t.Text {
		case "(":
			paren++
		case ")":
			paren--
			if paren < 0 {
				return nil, false
			}
		}
		switch {
		case t.Kind == TokenKeyword && strings.HasPrefix(t.Text, "#"):
			flush()
			cur = []Token{t}
			flush()
		case t.Text == "{" && paren == 0:
			flush()
			depth++
		case t.Text == "}" && paren == 0:
			flush()
			depth--
			if depth < 0 {
				return nil, false
			}
		case t.Text == ";" && paren == 0:
			flush()
		default:
			cur = append(cur, t)
		}
	}
	flush()
	return out, depth == 0 && paren == 0
}

func indentStatements(code string, tokens []Token) ([]statement, bool) {
	indents := lineIndents(code)
	var (
		out   []statement
		cur   []Token
		depth int
		open  int
		stack = []int{0}
	)
	for i, t := range tokens {
		if len(cur) == 0 {
			width := indents[t.Line]
			switch top := stack[len(stack)-1]; {
			case width > top:
				stack = append(stack, width)
			case width < top:
				for len(stack) > 1 && stack[len(stack)-1] > width {
					stack = stack[:len(stack)-1]
				}
				if stack[len(stack)-1] != width {
					return nil, false
				}
			}
			depth = len(stack) - 1
		}
		cur = append(cur, t)
		switch t.Text {
		case "(", "[", "{":
			open++
		case ")", "]", "}":
			open--
			if open < 0 {
				return nil, false
			}
		}
		last := i+1 == len(tokens)
		if open == 0 && (last || tokens[i+1].Line != t.Line || t.Text == ";") {
			if t.Text == ";" {
				cur = cur[:len(cur)-1]
			}
			if len(cur) > 0 {
				out = append(out, statement{tokens: cur, depth: depth})
			}
			cur = nil
		}
	}
	return out, open == 0
}

func lineIndents(code string) map[int]int {
	out := make(map[int]int)
	for i, line := range strings.Split(code, "\n") {
		width := 0
		for _, c := range line {
			if c == ' ' {
				width++
			} else if c == '\t' {
				width += 4
			} else {
				break
			}
		}
		out[i+1] = width
	}
	return out
}

func classify(tokens []Token) string {
	first := tokens[0]
	if kind, ok := statementKinds[first.Text]; ok {
		return kind
	}
	hasCall := false
	for i, t := range tokens {
		if t.Kind == TokenOperator && isAssignment(t.Text) {
			return "assign"
		}
		if t.Kind == TokenIdent && i+1 < len(tokens) && tokens[i+1].Text == "(" {
			hasCall = true
		}
	}
	if hasCall {
		last := tokens[len(tokens)-1]
		if last.Text == ")" && len(tokens) > 3 && tokens[0].Kind != TokenIdent {
			// "int solve(int n)" ahead of a block.
			return "func"
		}
		return "call"
	}
	if len(tokens) >= 2 && tokens[0].Kind != TokenOperator && tokens[1].Kind == TokenIdent {
		return "decl"
	}
	return "expr"
}

func isAssignment(op string) bool {
	switch op {
	case "=", "+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "<<=", ">>=", ">>>=", "**=", "//=", ":=":
		return true
	}
	return false
}

func depthBucket(depth int) string {
	switch {
	case depth <= 0:
		return "0"
	case depth == 1:
		return "1"
	case depth == 2:
		return "2"
	}
	return "3+"
}

// TokenHistogram is the fallback histogram used when Outline fails.
// Keywords, operators and punctuation count by text, the rest by kind.
func TokenHistogram(tokens []Token) Histogram {
	h := make(Histogram)
	for _, t := range tokens {
		switch t.Kind {
		case TokenKeyword, TokenOperator, TokenPunct:
			h.add(t.Text)
		case TokenIdent:
			h.add("ident")
		case TokenNumber:
			h.add("number")
		case TokenString:
			h.add("string")
		}
	}
	return h
}

// Overlap is Σmin/Σmax over all keys, as a percentage.
func Overlap(a, b Histogram) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 100
	}
	var lo, hi int
	for k, av := range a {
		bv := b[k]
		lo += min(av, bv)
		hi += max(av, bv)
	}
	for k, bv := range b {
		if _, seen := a[k]; !seen {
			hi += bv
		}
	}
	if hi == 0 {
		return 100
	}
	return 100 * float64(lo) / float64(hi)
}
