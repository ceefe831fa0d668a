package netlist

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
)

const maxIncludeDepth = 16

// Directives that carry no meaning for a structural netlist. The value is
// true when the directive takes the rest of its line as arguments.
var ignoredDirectives = map[string]bool{
	"timescale":               true,
	"default_nettype":         true,
	"unconnected_drive":       true,
	"nounconnected_drive":     false,
	"celldefine":              false,
	"endcelldefine":           false,
	"resetall":                false,
	"begin_keywords":          true,
	"end_keywords":            false,
	"default_decay_time":      true,
	"default_trireg_strength": true,
}

type macro struct {
	params   []string
	function bool
	body     []token
}

type condFrame struct {
	parentActive bool
	active       bool
	taken        bool
	line         int
}

type preprocessor struct {
	ctx         context.Context
	macros      map[string]*macro
	includeDirs []string
	depth       int
}

func newPreprocessor(ctx context.Context, defines []string, includeDirs []string) (*preprocessor, error) {
	p := &preprocessor{
		ctx:         ctx,
		macros:      make(map[string]*macro),
		includeDirs: includeDirs,
	}
	for _, def := range defines {
		name, value, _ := strings.Cut(def, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		body, err := lexVerilog("<define "+name+">", []byte(value))
		if err != nil {
			return nil, err
		}
		p.macros[name] = &macro{body: body}
	}
	return p, nil
}

// run resolves directives and macro uses in the tokens of one file.
func (p *preprocessor) run(file string, tokens []token) ([]token, error) {
	var out []token
	var stack []condFrame
	active := func() bool {
		return len(stack) == 0 || stack[len(stack)-1].active
	}

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if tok.Kind != kindDirective {
			if active() {
				out = append(out, tok)
			}
			continue
		}

		name := tok.Text[1:]
		switch name {
		case "ifdef", "ifndef":
			if i+1 >= len(tokens) || !tokens[i+1].isName() {
				return nil, parseErrorf(file, tok.Line, "`%s without a macro name", name)
			}
			i++
			_, defined := p.macros[tokens[i].Text]
			cond := defined == (name == "ifdef")
			parent := active()
			stack = append(stack, condFrame{parentActive: parent, active: parent && cond, taken: cond, line: tok.Line})

		case "elsif":
			if len(stack) == 0 {
				return nil, parseErrorf(file, tok.Line, "`elsif without `ifdef")
			}
			if i+1 >= len(tokens) || !tokens[i+1].isName() {
				return nil, parseErrorf(file, tok.Line, "`elsif without a macro name")
			}
			i++
			top := &stack[len(stack)-1]
			_, defined := p.macros[tokens[i].Text]
			top.active = top.parentActive && !top.taken && defined
			top.taken = top.taken || defined

		case "else":
			if len(stack) == 0 {
				return nil, parseErrorf(file, tok.Line, "`else without `ifdef")
			}
			top := &stack[len(stack)-1]
			top.active = top.parentActive && !top.taken
			top.taken = true

		case "endif":
			if len(stack) == 0 {
				return nil, parseErrorf(file, tok.Line, "`endif without `ifdef")
			}
			stack = stack[:len(stack)-1]

		case "define":
			body, next := lineTokens(tokens, i)
			i = next - 1
			if !active() {
				continue
			}
			if err := p.define(file, tok, body); err != nil {
				return nil, err
			}

		case "undef":
			if i+1 < len(tokens) && tokens[i+1].isName() {
				i++
				if active() {
					delete(p.macros, tokens[i].Text)
				}
			}

		case "include":
			if i+1 >= len(tokens) || tokens[i+1].Kind != kindString {
				return nil, parseErrorf(file, tok.Line, "`include without a file name")
			}
			i++
			if !active() {
				continue
			}
			included, err := p.include(file, tokens[i])
			if err != nil {
				return nil, err
			}
			out = append(out, included...)

		default:
			if takesArgs, ok := ignoredDirectives[name]; ok {
				if takesArgs {
					_, next := lineTokens(tokens, i)
					i = next - 1
				}
				continue
			}
			if !active() {
				continue
			}
			expanded, next, err := p.expand(file, tokens, i, 0)
			if err != nil {
				return nil, err
			}
			out = append(out, expanded...)
			i = next - 1
		}
	}

	if len(stack) > 0 {
		return nil, parseErrorf(file, stack[len(stack)-1].line, "unterminated `ifdef")
	}
	return out, nil
}

// lineTokens returns the tokens following tokens[i] on the same logical
// line, honouring backslash continuations, and the index after them.
func lineTokens(tokens []token, i int) ([]token, int) {
	line := tokens[i].Line
	j := i + 1
	var body []token
	for j < len(tokens) && tokens[j].Line == line {
		if tokens[j].Kind == kindOperator && tokens[j].Text == `\` {
			j++
			if j < len(tokens) {
				line = tokens[j].Line
			}
			continue
		}
		body = append(body, tokens[j])
		j++
	}
	return body, j
}

func (p *preprocessor) define(file string, directive token, line []token) error {
	if len(line) == 0 || !line[0].isName() {
		return parseErrorf(file, directive.Line, "`define without a macro name")
	}
	name := line[0]
	m := &macro{}
	rest := line[1:]
	if len(rest) > 0 && rest[0].is("(") && rest[0].Offset == name.End {
		m.function = true
		j := 1
		for ; j < len(rest) && !rest[j].is(")"); j++ {
			if rest[j].isName() {
				m.params = append(m.params, rest[j].Text)
			}
		}
		if j == len(rest) {
			return parseErrorf(file, directive.Line, "unterminated parameter list in `define %s", name.Text)
		}
		rest = rest[j+1:]
	}
	m.body = rest
	p.macros[name.Text] = m
	return nil
}

// expand substitutes the macro used at tokens[i] and returns the expansion
// together with the index of the first token after the use.
func (p *preprocessor) expand(file string, tokens []token, i, depth int) ([]token, int, error) {
	use := tokens[i]
	if depth > maxIncludeDepth {
		return nil, 0, parseErrorf(file, use.Line, "macro %s expands recursively", use.Text)
	}
	m, ok := p.macros[use.Text[1:]]
	if !ok {
		return nil, 0, parseErrorf(file, use.Line, "undefined macro %s", use.Text)
	}
	next := i + 1
	body := m.body
	if m.function {
		args, after, err := macroArgs(file, tokens, next)
		if err != nil {
			return nil, 0, err
		}
		next = after
		bound := make(map[string][]token, len(m.params))
		for k, param := range m.params {
			if k < len(args) {
				bound[param] = args[k]
			}
		}
		body = nil
		for _, t := range m.body {
			if arg, ok := bound[t.Text]; ok && t.Kind == kindIdent {
				body = append(body, arg...)
				continue
			}
			body = append(body, t)
		}
	}

	var out []token
	for k := 0; k < len(body); k++ {
		t := body[k]
		t.Line = use.Line
		t.File = use.File
		if t.Kind == kindDirective {
			nested, after, err := p.expand(file, body, k, depth+1)
			if err != nil {
				return nil, 0, err
			}
			out = append(out, nested...)
			k = after - 1
			continue
		}
		out = append(out, t)
	}
	return out, next, nil
}

func macroArgs(file string, tokens []token, i int) ([][]token, int, error) {
	if i >= len(tokens) || !tokens[i].is("(") {
		line := 0
		if i > 0 {
			line = tokens[i-1].Line
		}
		return nil, 0, parseErrorf(file, line, "macro call without arguments")
	}
	var args [][]token
	var cur []token
	depth := 0
	for j := i + 1; j < len(tokens); j++ {
		t := tokens[j]
		switch {
		case t.is("(") || t.is("{") || t.is("["):
			depth++
		case t.is(")") && depth == 0:
			return append(args, cur), j + 1, nil
		case t.is(")") || t.is("}") || t.is("]"):
			depth--
		case t.is(",") && depth == 0:
			args = append(args, cur)
			cur = nil
			continue
		}
		cur = append(cur, t)
	}
	return nil, 0, parseErrorf(file, tokens[i].Line, "unterminated macro arguments")
}

func (p *preprocessor) include(file string, name token) ([]token, error) {
	if p.depth >= maxIncludeDepth {
		return nil, parseErrorf(file, name.Line, "includes nested too deeply")
	}
	rel, err := strconv.Unquote(name.Text)
	if err != nil {
		rel = strings.Trim(name.Text, `"`)
	}
	candidates := []string{rel}
	if !filepath.IsAbs(rel) {
		candidates = []string{filepath.Join(filepath.Dir(file), rel)}
		for _, dir := range p.includeDirs {
			candidates = append(candidates, filepath.Join(dir, rel))
		}
	}
	for _, path := range candidates {
		ok, err := exists(p.ctx, path)
		if err != nil || !ok {
			continue
		}
		p.depth++
		tokens, err := p.file(path)
		p.depth--
		return tokens, err
	}
	return nil, parseErrorf(file, name.Line, "include file %q not found", rel)
}

// file reads, lexes and preprocesses one source file.
func (p *preprocessor) file(path string) ([]token, error) {
	src, err := readLocation(p.ctx, path)
	if err != nil {
		return nil, &ParseError{File: path, Message: err.Error()}
	}
	tokens, err := lexVerilog(path, src)
	if err != nil {
		return nil, err
	}
	return p.run(path, tokens)
}
