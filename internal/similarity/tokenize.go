// Package similarity scores how alike two accepted submissions are and
// records integrity flags.
package similarity

import (
	"strings"
	"unicode"

	judgemodel "ojeval/internal/judge/model"
)

// TokenKind classifies a lexical token.
type TokenKind int

const (
	TokenIdent TokenKind = iota
	TokenKeyword
	TokenNumber
	TokenString
	TokenOperator
	TokenPunct
)

// Token is one lexical unit with its 1-based source line.
type Token struct {
	Kind TokenKind
	Text string
	Line int
}

var keywords = map[judgemodel.Language]map[string]struct{}{
	judgemodel.LanguagePython: wordSet(`False None True and as assert async await break class continue def del
		elif else except finally for from global if import in is lambda nonlocal not or pass raise return try
		while with yield print range len input int str float list dict set`),
	judgemodel.LanguageJavaScript: wordSet(`break case catch class const continue debugger default delete do else
		export extends false finally for function if import in instanceof let new null return super switch this
		throw true try typeof undefined var void while with yield async await of console log require`),
	judgemodel.LanguageJava: wordSet(`abstract assert boolean break byte case catch char class const continue
		default do double else enum extends final finally float for goto if implements import instanceof int
		interface long native new null package private protected public return short static strictfp super
		switch synchronized this throw throws transient try void volatile while true false String System out
		println Scanner`),
	judgemodel.LanguageCPP: wordSet(`auto bool break case catch char class const constexpr continue default
		delete do double else enum explicit extern false float for friend goto if inline int long namespace new
		nullptr operator private protected public return short signed sizeof static struct switch template this
		throw true try typedef typename union unsigned using virtual void volatile while include std cin cout
		endl vector string main`),
	judgemodel.LanguageC: wordSet(`auto break case char const continue default do double else enum extern float
		for goto if inline int long register restrict return short signed sizeof static struct switch typedef
		union unsigned void volatile while include printf scanf main NULL`),
}

func wordSet(words string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(words) {
		out[w] = struct{}{}
	}
	return out
}

// IsKeyword reports whether word is reserved (or a ubiquitous builtin) in lang.
func IsKeyword(lang judgemodel.Language, word string) bool {
	_, ok := keywords[lang][word]
	return ok
}

var multiCharOps = []string{
	">>>=", "<<=", ">>=", "===", "!==", "**=", "//=", "...", ">>>",
	"==", "!=", "<=", ">=", "&&", "||", "++", "--", "+=", "-=", "*=", "/=", "%=",
	"&=", "|=", "^=", "<<", ">>", "->", "::", "**", "//", "=>", ":=",
}

// Tokenize splits code into tokens, dropping comments and whitespace.
// Unterminated strings and comments run to the end of input.
func Tokenize(code string, lang judgemodel.Language) []Token {
	src := []rune(code)
	var out []Token
	line := 1
	hashComments := lang == judgemodel.LanguagePython
	cComments := lang != judgemodel.LanguagePython

	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '\n':
			line++
			i++
		case unicode.IsSpace(c):
			i++
		case hashComments && c == '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case lang != judgemodel.LanguagePython && c == '#':
			// Preprocessor directives are kept as a single token.
			start := i
			for i < len(src) && src[i] != '\n' {
				i++
			}
			out = append(out, Token{Kind: TokenKeyword, Text: directive(string(src[start:i])), Line: line})
		case cComments && c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case cComments && c == '/' && i+1 < len(src) && src[i+1] == '*':
			i += 2
			for i < len(src) && !(src[i] == '*' && i+1 < len(src) && src[i+1] == '/') {
				if src[i] == '\n' {
					line++
				}
				i++
			}
			i += 2
		case c == '"' || c == '\'' || (c == '`' && lang == judgemodel.LanguageJavaScript):
			start := line
			n, lines := scanString(src[i:], lang)
			out = append(out, Token{Kind: TokenString, Text: "STR", Line: start})
			i += n
			line += lines
		case unicode.IsDigit(c) || (c == '.' && i+1 < len(src) && unicode.IsDigit(src[i+1])):
			start := i
			for i < len(src) && (unicode.IsLetter(src[i]) || unicode.IsDigit(src[i]) || src[i] == '.' || src[i] == '_') {
				i++
			}
			out = append(out, Token{Kind: TokenNumber, Text: string(src[start:i]), Line: line})
		case c == '_' || unicode.IsLetter(c):
			start := i
			for i < len(src) && (src[i] == '_' || unicode.IsLetter(src[i]) || unicode.IsDigit(src[i])) {
				i++
			}
			word := string(src[start:i])
			kind := TokenIdent
			if IsKeyword(lang, word) {
				kind = TokenKeyword
			}
			out = append(out, Token{Kind: kind, Text: word, Line: line})
		default:
			if op := matchOperator(src[i:]); op != "" {
				out = append(out, Token{Kind: TokenOperator, Text: op, Line: line})
				i += len([]rune(op))
				continue
			}
			kind := TokenPunct
			if strings.ContainsRune("+-*/%=<>!&|^~?:", c) {
				kind = TokenOperator
			}
			out = append(out, Token{Kind: kind, Text: string(c), Line: line})
			i++
		}
	}
	return out
}

func directive(text string) string {
	fields := strings.Fields(strings.TrimPrefix(text, "#"))
	if len(fields) == 0 {
		return "#"
	}
	return "#" + fields[0]
}

// scanString returns the rune length of the literal at the start of src and
// the number of newlines it spans.
func scanString(src []rune, lang judgemodel.Language) (int, int) {
	quote := src[0]
	if lang == judgemodel.LanguagePython && len(src) >= 3 && src[1] == quote && src[2] == quote {
		lines := 0
		for i := 3; i < len(src); i++ {
			if src[i] == '\n' {
				lines++
			}
			if i+2 < len(src) && src[i] == quote && src[i+1] == quote && src[i+2] == quote {
				return i + 3, lines
			}
		}
		return len(src), lines
	}
	lines := 0
	for i := 1; i < len(src); i++ {
		switch src[i] {
		case '\\':
			i++
		case '\n':
			if quote != '`' {
				return i, lines
			}
			lines++
		case quote:
			return i + 1, lines
		}
	}
	return len(src), lines
}

func matchOperator(src []rune) string {
	for _, op := range multiCharOps {
		n := len(op)
		if len(src) >= n && string(src[:n]) == op {
			return op
		}
	}
	return ""
}

// NormalizedLines renders tokens line by line with identifiers, numbers and
// string literals replaced by placeholders. Blank lines are dropped.
func NormalizedLines(tokens []Token) []string {
	var (
		out  []string
		cur  []string
		line = -1
	)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.Join(cur, " "))
			cur = cur[:0]
		}
	}
	for _, t := range tokens {
		if t.Line != line {
			flush()
			line = t.Line
		}
		cur = append(cur, placeholder(t))
	}
	flush()
	return out
}

func placeholder(t Token) string {
	switch t.Kind {
	case TokenIdent:
		return "ID"
	case TokenNumber:
		return "NUM"
	case TokenString:
		return "STR"
	}
	return t.Text
}
