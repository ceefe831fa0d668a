package netlist

import (
	"bytes"
	"context"
	"fmt"

	"github.com/viant/afs/file"
)

// Keywords that end a module item without a semicolon.
var itemBoundaries = map[string]bool{
	"begin": true, "end": true, "endcase": true, "endfunction": true, "endtask": true,
	"generate": true, "endgenerate": true, "endspecify": true, "endmodule": true,
}

type span struct{ start, end int }

// RemoveInstances rewrites the netlist at in into out without the
// instantiations whose module type matches one of patterns. It returns the
// number of instances removed. A statement that would cut through a
// conditional-compilation block is left in place.
func RemoveInstances(ctx context.Context, in, out string, patterns []string) (int, error) {
	matcher, err := CompilePatterns(patterns)
	if err != nil {
		return 0, err
	}
	src, err := readLocation(ctx, in)
	if err != nil {
		return 0, &ParseError{File: in, Message: err.Error()}
	}
	tokens, err := lexVerilog(in, src)
	if err != nil {
		return 0, err
	}

	var removed []span
	for i := 0; i < len(tokens); {
		start := skipDirectives(tokens, i)
		end := start
		for end < len(tokens) && !tokens[end].is(";") && !(tokens[end].Kind == kindIdent && itemBoundaries[tokens[end].Text]) {
			end++
		}
		if end >= len(tokens) {
			break
		}
		if tokens[end].is(";") && start < end && isInstantiation(tokens[start:end]) &&
			matcher.Match(tokens[start].Text) && directivesBalanced(tokens[start:end]) {
			removed = append(removed, span{tokens[start].Offset, tokens[end].End})
		}
		i = end + 1
	}

	var buf bytes.Buffer
	last := 0
	for _, s := range removed {
		buf.Write(src[last:s.start])
		last = s.end
	}
	buf.Write(src[last:])
	if len(bytes.TrimSpace(buf.Bytes())) == 0 {
		return 0, &ParseError{File: in, Message: "netlist is empty after removing instances"}
	}

	if err := fs.Upload(ctx, Location(out), file.DefaultFileOsMode, bytes.NewReader(buf.Bytes())); err != nil {
		return 0, fmt.Errorf("writing %s: %w", out, err)
	}
	return len(removed), nil
}

// skipDirectives moves past compiler directives, and their arguments, that
// sit between module items.
func skipDirectives(tokens []token, i int) int {
	for i < len(tokens) && tokens[i].Kind == kindDirective {
		switch tokens[i].Text[1:] {
		case "ifdef", "ifndef", "elsif", "undef":
			i += 2
		case "define", "include", "timescale", "default_nettype":
			_, i = lineTokens(tokens, i)
		default:
			i++
		}
	}
	return i
}

// isInstantiation reports whether a statement has the shape
// "type [#(...)] name (...)".
func isInstantiation(stmt []token) bool {
	if len(stmt) < 3 || !stmt[0].isName() {
		return false
	}
	if _, ok := directionKeywords[stmt[0].Text]; ok && stmt[0].Kind == kindIdent {
		return false
	}
	if stmt[0].Kind == kindIdent && (netTypeKeywords[stmt[0].Text] || variableKeywords[stmt[0].Text] ||
		skippedItems[stmt[0].Text] || processKeywords[stmt[0].Text] || statementKeywords[stmt[0].Text] ||
		stmt[0].Text == "module" || stmt[0].Text == "parameter" || stmt[0].Text == "localparam") {
		return false
	}
	return stmt[1].isName() || stmt[1].is("#")
}

func directivesBalanced(stmt []token) bool {
	depth := 0
	for _, t := range stmt {
		if t.Kind != kindDirective {
			continue
		}
		switch t.Text[1:] {
		case "ifdef", "ifndef":
			depth++
		case "endif":
			depth--
			if depth < 0 {
				return false
			}
		case "else", "elsif":
			if depth == 0 {
				return false
			}
		}
	}
	return depth == 0
}
