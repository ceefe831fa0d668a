package netlist

import (
	"sort"

	"github.com/viant/parsly"
	"github.com/viant/parsly/matcher"
)

// Verilog token codes.
const (
	whitespaceToken = iota
	lineCommentToken
	blockCommentToken
	openCommentToken
	attributeToken
	stringToken
	directiveToken
	escapedIdentToken
	identToken
	systemIdentToken
	numberToken
	operatorToken
)

var (
	whitespaceMatcher   = parsly.NewToken(whitespaceToken, "Whitespace", matcher.NewWhiteSpace())
	lineCommentMatcher  = parsly.NewToken(lineCommentToken, "LineComment", &lineCommentMatch{})
	blockCommentMatcher = parsly.NewToken(blockCommentToken, "BlockComment", matcher.NewSeqBlock("/*", "*/"))
	openCommentMatcher  = parsly.NewToken(openCommentToken, "UnterminatedComment", &openCommentMatch{})
	attributeMatcher    = parsly.NewToken(attributeToken, "Attribute", &attributeMatch{})
	stringMatcher       = parsly.NewToken(stringToken, "String", matcher.NewBlock('"', '"', '\\'))
	directiveMatcher    = parsly.NewToken(directiveToken, "Directive", &directiveMatch{})
	escapedIdentMatcher = parsly.NewToken(escapedIdentToken, "EscapedIdentifier", &escapedIdentMatch{})
	identMatcher        = parsly.NewToken(identToken, "Identifier", &identMatch{})
	systemIdentMatcher  = parsly.NewToken(systemIdentToken, "SystemIdentifier", &systemIdentMatch{})
	numberMatcher       = parsly.NewToken(numberToken, "Number", &numberMatch{})
	operatorMatcher     = parsly.NewToken(operatorToken, "Operator", &operatorMatch{})
)

var verilogTokens = []*parsly.Token{
	lineCommentMatcher,
	blockCommentMatcher,
	openCommentMatcher,
	attributeMatcher,
	stringMatcher,
	directiveMatcher,
	escapedIdentMatcher,
	identMatcher,
	systemIdentMatcher,
	numberMatcher,
	operatorMatcher,
}

type tokenKind int

const (
	kindIdent tokenKind = iota
	kindEscaped
	kindSystem
	kindNumber
	kindString
	kindDirective
	kindOperator
)

// token is one lexeme of a Verilog source. Offset and End are byte offsets
// into the file the token came from.
type token struct {
	Kind   tokenKind
	Text   string
	File   string
	Line   int
	Offset int
	End    int
}

func (t token) is(text string) bool {
	return (t.Kind == kindOperator || t.Kind == kindIdent) && t.Text == text
}

// isName reports whether the token can name a module, instance or net.
func (t token) isName() bool {
	return t.Kind == kindIdent || t.Kind == kindEscaped
}

// lexVerilog splits src into tokens, dropping whitespace, comments and
// attribute instances.
func lexVerilog(file string, src []byte) ([]token, error) {
	cursor := parsly.NewCursor(file, src, 0)
	lines := newLineIndex(src)
	var tokens []token
	for {
		matched := cursor.MatchAfterOptional(whitespaceMatcher, verilogTokens...)
		switch matched.Code {
		case parsly.EOF:
			return tokens, nil
		case parsly.Invalid:
			return nil, parseErrorf(file, lines.line(cursor.Pos), "unexpected character %q", src[cursor.Pos])
		case lineCommentToken, blockCommentToken, attributeToken:
			continue
		case openCommentToken:
			return nil, parseErrorf(file, lines.line(cursor.Pos), "unterminated block comment")
		}
		text := matched.Text(cursor)
		offset := cursor.Pos - len(text)
		tokens = append(tokens, token{
			Kind:   kindOf(matched.Code),
			Text:   text,
			File:   file,
			Line:   lines.line(offset),
			Offset: offset,
			End:    cursor.Pos,
		})
	}
}

func kindOf(code int) tokenKind {
	switch code {
	case identToken:
		return kindIdent
	case escapedIdentToken:
		return kindEscaped
	case systemIdentToken:
		return kindSystem
	case numberToken:
		return kindNumber
	case stringToken:
		return kindString
	case directiveToken:
		return kindDirective
	}
	return kindOperator
}

// lineIndex maps byte offsets to 1-based line numbers.
type lineIndex []int

func newLineIndex(src []byte) lineIndex {
	idx := lineIndex{0}
	for i, b := range src {
		if b == '\n' {
			idx = append(idx, i+1)
		}
	}
	return idx
}

func (l lineIndex) line(offset int) int {
	return sort.Search(len(l), func(i int) bool { return l[i] > offset })
}

type lineCommentMatch struct{}

func (m *lineCommentMatch) Match(cursor *parsly.Cursor) int {
	if !hasPrefixAt(cursor, "//") {
		return 0
	}
	pos := cursor.Pos
	for pos < cursor.InputSize && cursor.Input[pos] != '\n' {
		pos++
	}
	return pos - cursor.Pos
}

type openCommentMatch struct{}

func (m *openCommentMatch) Match(cursor *parsly.Cursor) int {
	if hasPrefixAt(cursor, "/*") {
		return cursor.InputSize - cursor.Pos
	}
	return 0
}

// attributeMatch consumes (* ... *) attribute instances. "(*)" is an event
// control, not an attribute.
type attributeMatch struct{}

func (m *attributeMatch) Match(cursor *parsly.Cursor) int {
	if !hasPrefixAt(cursor, "(*") {
		return 0
	}
	pos := cursor.Pos + 2
	if pos < cursor.InputSize && cursor.Input[pos] == ')' {
		return 0
	}
	for pos+1 < cursor.InputSize {
		if cursor.Input[pos] == '*' && cursor.Input[pos+1] == ')' {
			return pos + 2 - cursor.Pos
		}
		pos++
	}
	return 0
}

type directiveMatch struct{}

func (m *directiveMatch) Match(cursor *parsly.Cursor) int {
	if cursor.Pos >= cursor.InputSize || cursor.Input[cursor.Pos] != '`' {
		return 0
	}
	pos := cursor.Pos + 1
	if pos >= cursor.InputSize || !isIdentStart(cursor.Input[pos]) {
		return 0
	}
	for pos < cursor.InputSize && isIdentPart(cursor.Input[pos]) {
		pos++
	}
	return pos - cursor.Pos
}

// escapedIdentMatch consumes \name up to the next whitespace.
type escapedIdentMatch struct{}

func (m *escapedIdentMatch) Match(cursor *parsly.Cursor) int {
	if cursor.Pos >= cursor.InputSize || cursor.Input[cursor.Pos] != '\\' {
		return 0
	}
	pos := cursor.Pos + 1
	for pos < cursor.InputSize && !isSpace(cursor.Input[pos]) {
		pos++
	}
	if pos == cursor.Pos+1 {
		return 0
	}
	return pos - cursor.Pos
}

type identMatch struct{}

func (m *identMatch) Match(cursor *parsly.Cursor) int {
	if cursor.Pos >= cursor.InputSize || !isIdentStart(cursor.Input[cursor.Pos]) {
		return 0
	}
	pos := cursor.Pos + 1
	for pos < cursor.InputSize && isIdentPart(cursor.Input[pos]) {
		pos++
	}
	return pos - cursor.Pos
}

type systemIdentMatch struct{}

func (m *systemIdentMatch) Match(cursor *parsly.Cursor) int {
	if cursor.Pos+1 >= cursor.InputSize || cursor.Input[cursor.Pos] != '$' || !isIdentStart(cursor.Input[cursor.Pos+1]) {
		return 0
	}
	pos := cursor.Pos + 2
	for pos < cursor.InputSize && isIdentPart(cursor.Input[pos]) {
		pos++
	}
	return pos - cursor.Pos
}

// numberMatch consumes decimal, real and based literals such as 8'hFF,
// 'b0, 1'sb1 and 3.5e-2.
type numberMatch struct{}

func (m *numberMatch) Match(cursor *parsly.Cursor) int {
	in, pos := cursor.Input, cursor.Pos
	for pos < cursor.InputSize && (isDigit(in[pos]) || (pos > cursor.Pos && in[pos] == '_')) {
		pos++
	}
	sized := pos > cursor.Pos
	if sized && pos+1 < cursor.InputSize && in[pos] == '.' && isDigit(in[pos+1]) {
		pos += 2
		for pos < cursor.InputSize && (isDigit(in[pos]) || in[pos] == '_') {
			pos++
		}
	}
	if sized && pos < cursor.InputSize && (in[pos] == 'e' || in[pos] == 'E') {
		exp := pos + 1
		if exp < cursor.InputSize && (in[exp] == '+' || in[exp] == '-') {
			exp++
		}
		if exp < cursor.InputSize && isDigit(in[exp]) {
			pos = exp
			for pos < cursor.InputSize && isDigit(in[pos]) {
				pos++
			}
		}
	}
	if pos < cursor.InputSize && in[pos] == '\'' {
		base := pos + 1
		if base < cursor.InputSize && (in[base] == 's' || in[base] == 'S') {
			base++
		}
		if base < cursor.InputSize && isBaseChar(in[base]) {
			pos = base + 1
			for pos < cursor.InputSize && isSpace(in[pos]) && in[pos] != '\n' {
				pos++
			}
			start := pos
			for pos < cursor.InputSize && isBasedDigit(in[pos]) {
				pos++
			}
			if pos == start {
				return 0
			}
			return pos - cursor.Pos
		}
		if !sized && base < cursor.InputSize && strchr("01xXzZ", in[base]) {
			return 2
		}
	}
	return pos - cursor.Pos
}

var multiCharOperators = []string{
	"<<<", ">>>", "===", "!==",
	"**", "<<", ">>", "==", "!=", "<=", ">=", "&&", "||",
	"~&", "~|", "~^", "^~", "->", "+:", "-:", "::",
}

// operatorMatch consumes the longest operator at the cursor, or any single
// remaining byte.
type operatorMatch struct{}

func (m *operatorMatch) Match(cursor *parsly.Cursor) int {
	if cursor.Pos >= cursor.InputSize {
		return 0
	}
	for _, op := range multiCharOperators {
		if hasPrefixAt(cursor, op) {
			return len(op)
		}
	}
	return 1
}

func hasPrefixAt(cursor *parsly.Cursor, prefix string) bool {
	if cursor.Pos+len(prefix) > cursor.InputSize {
		return false
	}
	return string(cursor.Input[cursor.Pos:cursor.Pos+len(prefix)]) == prefix
}

func isIdentStart(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b == '_'
}

func isIdentPart(b byte) bool {
	return isIdentStart(b) || isDigit(b) || b == '$'
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f' || b == '\v'
}

func isBaseChar(b byte) bool {
	return strchr("bBoOdDhH", b)
}

func isBasedDigit(b byte) bool {
	return isDigit(b) || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F') || strchr("xXzZ?_", b)
}

func strchr(set string, b byte) bool {
	for i := 0; i < len(set); i++ {
		if set[i] == b {
			return true
		}
	}
	return false
}
