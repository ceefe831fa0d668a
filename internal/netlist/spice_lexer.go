package netlist

import (
	"bytes"
	"strings"

	"github.com/viant/parsly"
	"github.com/viant/parsly/matcher"
)

const (
	spiceSpaceToken = iota
	spiceCommentToken
	spiceFieldToken
)

var (
	spiceSpaceMatcher   = parsly.NewToken(spiceSpaceToken, "Whitespace", matcher.NewWhiteSpace())
	spiceCommentMatcher = parsly.NewToken(spiceCommentToken, "Comment", &spiceCommentMatch{})
	spiceFieldMatcher   = parsly.NewToken(spiceFieldToken, "Field", &spiceFieldMatch{})
)

// spiceLine is one logical SPICE line: a card with its continuation lines
// joined, comments removed.
type spiceLine struct {
	Fields []string
	Line   int
}

func (l spiceLine) keyword() string {
	return strings.ToLower(l.Fields[0])
}

// lexSpice splits src into logical lines. Lines starting with '*' are
// comments; '$', ';' and '//' start a comment at a field boundary; a line
// starting with '+' continues the previous card.
func lexSpice(src []byte) []spiceLine {
	var lines []spiceLine
	for n, raw := range bytes.Split(src, []byte("\n")) {
		raw = bytes.TrimRight(raw, "\r")
		trimmed := bytes.TrimLeft(raw, " \t")
		if len(trimmed) == 0 || trimmed[0] == '*' {
			continue
		}
		continuation := trimmed[0] == '+'
		if continuation {
			trimmed = trimmed[1:]
		}
		fields := spiceFields(trimmed)
		switch {
		case continuation && len(lines) > 0:
			last := &lines[len(lines)-1]
			last.Fields = append(last.Fields, fields...)
		case len(fields) > 0:
			lines = append(lines, spiceLine{Fields: fields, Line: n + 1})
		}
	}
	return lines
}

func spiceFields(line []byte) []string {
	cursor := parsly.NewCursor("", line, 0)
	var fields []string
	for {
		matched := cursor.MatchAfterOptional(spiceSpaceMatcher, spiceCommentMatcher, spiceFieldMatcher)
		switch matched.Code {
		case spiceFieldToken:
			fields = append(fields, matched.Text(cursor))
		default:
			// EOF or a comment running to the end of the line.
			return fields
		}
	}
}

type spiceCommentMatch struct{}

func (m *spiceCommentMatch) Match(cursor *parsly.Cursor) int {
	if cursor.Pos >= cursor.InputSize {
		return 0
	}
	switch c := cursor.Input[cursor.Pos]; {
	case c == '$' || c == ';':
	case c == '/' && hasPrefixAt(cursor, "//"):
	default:
		return 0
	}
	return cursor.InputSize - cursor.Pos
}

type spiceFieldMatch struct{}

func (m *spiceFieldMatch) Match(cursor *parsly.Cursor) int {
	pos := cursor.Pos
	for pos < cursor.InputSize && !isSpace(cursor.Input[pos]) {
		pos++
	}
	return pos - cursor.Pos
}
