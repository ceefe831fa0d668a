package netlist

import (
	"context"
	"fmt"
	"strings"
)

// VerilogOptions controls how the translation unit of a Verilog netlist is
// assembled and classified.
type VerilogOptions struct {
	// IncludeFiles are parsed before the netlist itself, in order.
	IncludeFiles []string `json:"include_files,omitempty"`

	// IncludeDirs are searched for `include files after the including file's directory.
	IncludeDirs []string `json:"include_dirs,omitempty"`

	// Defines are preprocessor macros given as NAME or NAME=VALUE.
	Defines []string `json:"defines,omitempty"`
}

var directionKeywords = map[string]Direction{
	"input":  Input,
	"output": Output,
	"inout":  Inout,
}

var netTypeKeywords = map[string]bool{
	"wire": true, "wand": true, "wor": true, "tri": true, "tri0": true, "tri1": true,
	"triand": true, "trior": true, "trireg": true, "uwire": true, "supply0": true,
	"supply1": true, "logic": true, "var": true, "signed": true, "unsigned": true,
}

// Declarations that are neither ports nor instances nor behavioral.
var skippedItems = map[string]bool{
	"assign": true, "defparam": true, "genvar": true, "specparam": true,
	"timeunit": true, "timeprecision": true, "import": true,
}

// Variable declarations only exist in procedural code.
var variableKeywords = map[string]bool{
	"reg": true, "integer": true, "real": true, "realtime": true, "time": true, "event": true,
}

var processKeywords = map[string]bool{
	"always": true, "always_comb": true, "always_ff": true, "always_latch": true,
	"initial": true, "final": true,
}

// Drive and charge strengths of gate primitives.
var strengthKeywords = map[string]bool{
	"supply0": true, "strong0": true, "pull0": true, "weak0": true, "highz0": true,
	"supply1": true, "strong1": true, "pull1": true, "weak1": true, "highz1": true,
	"small": true, "medium": true, "large": true,
}

var statementKeywords = map[string]bool{
	"begin": true, "fork": true, "case": true, "casex": true, "casez": true,
	"if": true, "for": true, "while": true, "repeat": true, "forever": true,
	"wait": true, "force": true, "release": true, "#": true, "@": true, "->": true,
}

// ParseVerilog extracts the module named top from a gate-level Verilog
// netlist. The translation unit is the include files followed by path,
// after macro substitution.
func ParseVerilog(ctx context.Context, path, top string, opts VerilogOptions) (*Netlist, error) {
	pp, err := newPreprocessor(ctx, opts.Defines, opts.IncludeDirs)
	if err != nil {
		return nil, err
	}
	var tokens []token
	for _, inc := range opts.IncludeFiles {
		included, err := pp.file(inc)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, included...)
	}
	main, err := pp.file(path)
	if err != nil {
		return nil, err
	}
	tokens = append(tokens, main...)

	unit, err := newUnit(path, tokens)
	if err != nil {
		return nil, err
	}
	span, ok := unit.modules[StripBackslashes(top)]
	if !ok {
		return nil, &ModuleNotFoundError{File: path, Module: top}
	}

	mp := unit.parser(span)
	n, err := mp.parse()
	if err != nil {
		return nil, err
	}
	n.Source = path
	return n, nil
}

type moduleSpan struct {
	name       string
	start, end int
}

// unit is a preprocessed translation unit with its modules located.
type unit struct {
	file    string
	tokens  []token
	modules map[string]moduleSpan
	formals map[string][]string
}

func newUnit(file string, tokens []token) (*unit, error) {
	u := &unit{
		file:    file,
		tokens:  tokens,
		modules: make(map[string]moduleSpan),
		formals: make(map[string][]string),
	}
	for i := 0; i < len(tokens); i++ {
		if !tokens[i].is("module") && !tokens[i].is("macromodule") {
			continue
		}
		if i+1 >= len(tokens) || !tokens[i+1].isName() {
			return nil, parseErrorf(tokens[i].File, tokens[i].Line, "module without a name")
		}
		end := i + 2
		for end < len(tokens) && !tokens[end].is("endmodule") {
			if tokens[end].is("module") || tokens[end].is("macromodule") {
				break
			}
			end++
		}
		if end >= len(tokens) || !tokens[end].is("endmodule") {
			return nil, parseErrorf(tokens[i].File, tokens[i].Line, "module %s has no endmodule", tokens[i+1].Text)
		}
		key := StripBackslashes(tokens[i+1].Text)
		if _, dup := u.modules[key]; !dup {
			u.modules[key] = moduleSpan{name: tokens[i+1].Text, start: i, end: end}
		}
		i = end
	}
	return u, nil
}

func (u *unit) parser(span moduleSpan) *moduleParser {
	return &moduleParser{
		unit:   u,
		file:   u.file,
		toks:   u.tokens[span.start : span.end+1],
		params: make(map[string]int),
	}
}

// formalsOf returns the header port order of a module defined in the unit,
// or nil when it is not defined there.
func (u *unit) formalsOf(moduleType string) []string {
	key := StripBackslashes(moduleType)
	if names, ok := u.formals[key]; ok {
		return names
	}
	span, ok := u.modules[key]
	if !ok {
		return nil
	}
	mp := u.parser(span)
	var names []string
	if err := mp.parseHeader(); err == nil {
		names = mp.headerOrder
	}
	u.formals[key] = names
	return names
}

type moduleParser struct {
	unit   *unit
	file   string
	toks   []token
	pos    int
	params map[string]int

	headerOrder []string
	headerPorts []Port
	bodyPorts   []Port
	instances   []Instance
	constructs  []string

	// generate is the nesting depth of generate regions at the cursor.
	generate int
}

func (p *moduleParser) cur() token {
	if p.pos >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos]
}

func (p *moduleParser) errorf(format string, args ...any) error {
	t := p.cur()
	return parseErrorf(t.File, t.Line, format, args...)
}

func (p *moduleParser) expect(text string) error {
	if !p.cur().is(text) {
		return p.errorf("expected %q, found %q", text, p.cur().Text)
	}
	p.pos++
	return nil
}

func (p *moduleParser) construct(kind string, t token) {
	p.constructs = append(p.constructs, fmt.Sprintf("%s@%d", kind, t.Line))
}

func (p *moduleParser) parse() (*Netlist, error) {
	if err := p.parseHeader(); err != nil {
		return nil, err
	}
	if err := p.parseBody(); err != nil {
		return nil, err
	}
	ports := p.bodyPorts
	if len(ports) == 0 {
		ports = p.headerPorts
	}
	if ports == nil {
		ports = []Port{}
	}
	instances := p.instances
	if instances == nil {
		instances = []Instance{}
	}
	return &Netlist{
		TopModule:    StripBackslashes(p.toks[1].Text),
		Ports:        ports,
		Instances:    instances,
		IsBehavioral: len(p.constructs) > 0,
		Constructs:   p.constructs,
	}, nil
}

// parseHeader consumes "module name #(...) (...);".
func (p *moduleParser) parseHeader() error {
	p.pos = 2
	if p.cur().is("#") {
		p.pos++
		group, err := p.group("(", ")")
		if err != nil {
			return err
		}
		for _, item := range splitTopLevel(group, ",") {
			p.bindParam(item)
		}
	}
	if p.cur().is("(") {
		group, err := p.group("(", ")")
		if err != nil {
			return err
		}
		if err := p.parsePortList(group); err != nil {
			return err
		}
	}
	return p.expect(";")
}

// group returns the tokens between a balanced open/close pair starting at
// the cursor and moves past the close.
func (p *moduleParser) group(open, close string) ([]token, error) {
	if err := p.expect(open); err != nil {
		return nil, err
	}
	start, depth := p.pos, 1
	for ; p.pos < len(p.toks); p.pos++ {
		t := p.toks[p.pos]
		if t.is(open) {
			depth++
		} else if t.is(close) {
			depth--
			if depth == 0 {
				p.pos++
				return p.toks[start : p.pos-1], nil
			}
		}
	}
	return nil, parseErrorf(p.toks[start-1].File, p.toks[start-1].Line, "unbalanced %q", open)
}

func (p *moduleParser) parsePortList(group []token) error {
	items := splitTopLevel(group, ",")
	ansi := false
	for _, item := range items {
		if len(item) > 0 {
			if _, ok := directionKeywords[item[0].Text]; ok {
				ansi = true
				break
			}
		}
	}
	var dir Direction
	var bounds []int
	for _, item := range items {
		if len(item) == 0 {
			continue
		}
		if !ansi {
			if name := firstName(item); name != "" {
				p.headerOrder = append(p.headerOrder, StripBackslashes(name))
			}
			continue
		}
		k := 0
		if d, ok := directionKeywords[item[0].Text]; ok {
			dir, bounds = d, nil
			k++
		}
		for k < len(item) && (netTypeKeywords[item[k].Text] || variableKeywords[item[k].Text]) {
			if variableKeywords[item[k].Text] {
				p.construct(item[k].Text, item[k])
			}
			bounds = nil
			k++
		}
		if k < len(item) && item[k].is("[") {
			r, next, err := p.rangeAt(item, k)
			if err != nil {
				return err
			}
			bounds, k = r, next
		}
		if k >= len(item) || !item[k].isName() {
			return parseErrorf(item[0].File, item[0].Line, "malformed port declaration")
		}
		name := StripBackslashes(item[k].Text)
		p.headerOrder = append(p.headerOrder, name)
		p.headerPorts = append(p.headerPorts, makePort(name, dir, bounds))
	}
	return nil
}

func isDirection(t token) bool {
	_, ok := directionKeywords[t.Text]
	return ok && t.Kind == kindIdent
}

func makePort(name string, dir Direction, bounds []int) Port {
	if bounds == nil {
		return Port{Name: name, Direction: dir}
	}
	return NewBusPort(name, dir, bounds[0], bounds[1])
}

// rangeAt folds the [msb:lsb] range starting at item[k].
func (p *moduleParser) rangeAt(item []token, k int) ([]int, int, error) {
	depth := 0
	end := k
	for ; end < len(item); end++ {
		if item[end].is("[") {
			depth++
		} else if item[end].is("]") {
			depth--
			if depth == 0 {
				break
			}
		}
	}
	if end == len(item) {
		return nil, 0, parseErrorf(item[k].File, item[k].Line, "unterminated range")
	}
	parts := splitTopLevel(item[k+1:end], ":")
	if len(parts) != 2 {
		return nil, 0, parseErrorf(item[k].File, item[k].Line, "range is not of the form [msb:lsb]")
	}
	msb, err := evalConst(parts[0], p.params)
	if err != nil {
		return nil, 0, parseErrorf(item[k].File, item[k].Line, "%v", err)
	}
	lsb, err := evalConst(parts[1], p.params)
	if err != nil {
		return nil, 0, parseErrorf(item[k].File, item[k].Line, "%v", err)
	}
	if uint64(max(msb, lsb))-uint64(min(msb, lsb)) >= MaxBusWidth {
		return nil, 0, parseErrorf(item[k].File, item[k].Line, "range [%d:%d] is wider than %d bits", msb, lsb, MaxBusWidth)
	}
	return []int{msb, lsb}, end + 1, nil
}

// bindParam records "[parameter] [type] NAME = expr" when expr folds.
func (p *moduleParser) bindParam(item []token) {
	for k := 1; k < len(item); k++ {
		if item[k].is("=") && item[k-1].isName() {
			if v, err := evalConst(item[k+1:], p.params); err == nil {
				p.params[item[k-1].Text] = v
			}
			return
		}
	}
}

func (p *moduleParser) parseBody() error {
	for p.pos < len(p.toks) {
		t := p.cur()
		switch {
		case t.is("endmodule"):
			return nil
		case t.is(";"):
			p.pos++
		case isDirection(t):
			if err := p.parsePortDecl(); err != nil {
				return err
			}
		case t.Kind == kindIdent && (t.Text == "parameter" || t.Text == "localparam"):
			p.pos++
			stmt, err := p.untilSemicolon()
			if err != nil {
				return err
			}
			for _, item := range splitTopLevel(stmt, ",") {
				p.bindParam(append([]token{t}, item...))
			}
		case t.Kind == kindIdent && (netTypeKeywords[t.Text] || skippedItems[t.Text]):
			if _, err := p.untilSemicolon(); err != nil {
				return err
			}
		case t.Kind == kindIdent && variableKeywords[t.Text]:
			p.construct(t.Text, t)
			if _, err := p.untilSemicolon(); err != nil {
				return err
			}
		case t.Kind == kindIdent && processKeywords[t.Text]:
			p.construct(t.Text, t)
			p.pos++
			if err := p.skipStatement(); err != nil {
				return err
			}
		case t.is("function") || t.is("task"):
			p.construct(t.Text, t)
			if err := p.skipPast("end" + t.Text); err != nil {
				return err
			}
		case t.is("specify"):
			if err := p.skipPast("endspecify"); err != nil {
				return err
			}
		case t.is("generate"):
			p.generate++
			p.pos++
		case t.is("endgenerate"):
			p.generate--
			p.pos++
		case p.generate > 0 && (t.is("for") || t.is("if")):
			// Generate loops and conditionals elaborate structure; only
			// their control header is skipped.
			p.pos++
			if _, err := p.group("(", ")"); err != nil {
				return err
			}
		case p.generate > 0 && t.is("else"):
			p.pos++
		case p.generate > 0 && (t.is("begin") || t.is("end")):
			p.pos++
			if p.cur().is(":") {
				p.pos += 2
			}
		case statementKeywords[t.Text] && (t.Kind == kindIdent || t.Kind == kindOperator):
			p.construct(t.Text, t)
			if err := p.skipStatement(); err != nil {
				return err
			}
		case t.isName():
			if err := p.parseInstantiation(); err != nil {
				return err
			}
		default:
			return p.errorf("unexpected %q in module body", t.Text)
		}
	}
	return p.errorf("missing endmodule")
}

// parsePortDecl consumes "input [wire] [signed] [msb:lsb] a, b;".
func (p *moduleParser) parsePortDecl() error {
	dir := directionKeywords[p.cur().Text]
	p.pos++
	stmt, err := p.untilSemicolon()
	if err != nil {
		return err
	}
	k := 0
	for k < len(stmt) && (netTypeKeywords[stmt[k].Text] || variableKeywords[stmt[k].Text]) {
		if variableKeywords[stmt[k].Text] {
			p.construct(stmt[k].Text, stmt[k])
		}
		k++
	}
	var bounds []int
	if k < len(stmt) && stmt[k].is("[") {
		if bounds, k, err = p.rangeAt(stmt, k); err != nil {
			return err
		}
	}
	for _, item := range splitTopLevel(stmt[k:], ",") {
		name := firstName(item)
		if name == "" {
			return parseErrorf(stmt[0].File, stmt[0].Line, "malformed %s declaration", dir)
		}
		p.bodyPorts = append(p.bodyPorts, makePort(StripBackslashes(name), dir, bounds))
	}
	return nil
}

// untilSemicolon returns the tokens up to the next ";" and moves past it.
func (p *moduleParser) untilSemicolon() ([]token, error) {
	start := p.pos
	for ; p.pos < len(p.toks); p.pos++ {
		if p.toks[p.pos].is(";") {
			p.pos++
			return p.toks[start : p.pos-1], nil
		}
		if p.toks[p.pos].is("endmodule") {
			break
		}
	}
	return nil, p.errorf("missing ;")
}

func (p *moduleParser) skipPast(keyword string) error {
	for ; p.pos < len(p.toks); p.pos++ {
		if p.toks[p.pos].is(keyword) {
			p.pos++
			return nil
		}
	}
	return p.errorf("missing %s", keyword)
}

// skipBlock moves past a block opened at the cursor, honouring nesting.
func (p *moduleParser) skipBlock(opens []string, closes ...string) error {
	depth := 0
	for ; p.pos < len(p.toks); p.pos++ {
		t := p.toks[p.pos]
		if isAny(t, opens) {
			depth++
			continue
		}
		if isAny(t, closes) {
			depth--
		}
		if depth == 0 {
			p.pos++
			return nil
		}
		if t.is("endmodule") {
			break
		}
	}
	return p.errorf("missing %s", closes[0])
}

// skipStatement moves past one procedural statement.
func (p *moduleParser) skipStatement() error {
	t := p.cur()
	switch {
	case t.is("begin"):
		return p.skipBlock([]string{"begin"}, "end")
	case t.is("fork"):
		return p.skipBlock([]string{"fork"}, "join", "join_any", "join_none")
	case isAny(t, caseKeywords):
		return p.skipBlock(caseKeywords, "endcase")
	case t.is("if"):
		p.pos++
		if _, err := p.group("(", ")"); err != nil {
			return err
		}
		if err := p.skipStatement(); err != nil {
			return err
		}
		if p.cur().is("else") {
			p.pos++
			return p.skipStatement()
		}
		return nil
	case t.is("for") || t.is("while") || t.is("repeat") || t.is("wait"):
		p.pos++
		if _, err := p.group("(", ")"); err != nil {
			return err
		}
		return p.skipStatement()
	case t.is("forever"):
		p.pos++
		return p.skipStatement()
	case t.is("@") || t.is("#"):
		p.pos++
		if p.cur().is("(") {
			if _, err := p.group("(", ")"); err != nil {
				return err
			}
		} else {
			p.pos++
		}
		return p.skipStatement()
	}
	_, err := p.untilSemicolon()
	return err
}

// parseInstantiation consumes
// "type [(strength)] [#(...)] name [range] (conns) {, name (conns)};".
func (p *moduleParser) parseInstantiation() error {
	typeTok := p.cur()
	p.pos++
	if p.cur().is("(") && p.pos+1 < len(p.toks) && strengthKeywords[p.toks[p.pos+1].Text] {
		if _, err := p.group("(", ")"); err != nil {
			return err
		}
	}
	if p.cur().is("#") {
		p.pos++
		if p.cur().is("(") {
			if _, err := p.group("(", ")"); err != nil {
				return err
			}
		} else {
			p.pos++
		}
	}
	for {
		nameTok := p.cur()
		name := ""
		if nameTok.isName() {
			name = nameTok.Text
			p.pos++
		}
		if p.cur().is("[") {
			if _, err := p.group("[", "]"); err != nil {
				return err
			}
		}
		if !p.cur().is("(") {
			return p.errorf("expected connection list for instance of %s, found %q", typeTok.Text, p.cur().Text)
		}
		group, err := p.group("(", ")")
		if err != nil {
			return err
		}
		inst := Instance{RawName: name, RawModuleType: typeTok.Text, Line: typeTok.Line}
		if err := p.connect(&inst, group); err != nil {
			return err
		}
		p.instances = append(p.instances, inst)

		if p.cur().is(",") {
			p.pos++
			continue
		}
		return p.expect(";")
	}
}

func (p *moduleParser) connect(inst *Instance, group []token) error {
	items := splitTopLevel(group, ",")
	if len(items) == 1 && len(items[0]) == 0 {
		items = nil
	}
	named := len(items) > 0 && len(items[0]) > 0 && items[0][0].is(".")
	if named {
		for _, item := range items {
			if len(item) == 0 {
				continue
			}
			if len(item) < 2 || !item[0].is(".") {
				return parseErrorf(item[0].File, item[0].Line, "mixed named and positional connections on %s", inst.RawName)
			}
			if item[1].is("*") {
				inst.Warnings = append(inst.Warnings, fmt.Sprintf("instance %s (%s): wildcard .* connection not expanded", inst.Name(), inst.ModuleType()))
				continue
			}
			formal := StripBackslashes(item[1].Text)
			actual := item[1:2]
			if len(item) > 2 {
				if !item[2].is("(") || !item[len(item)-1].is(")") {
					return parseErrorf(item[0].File, item[0].Line, "malformed connection .%s", formal)
				}
				actual = item[3 : len(item)-1]
			}
			if err := p.bind(inst, formal, actual); err != nil {
				return err
			}
		}
		return nil
	}

	formals := p.unit.formalsOf(inst.RawModuleType)
	n := max(len(items), len(formals))
	var missing []string
	for k := 0; k < n; k++ {
		formal := fmt.Sprintf("$%d", k)
		if k < len(formals) {
			formal = formals[k]
		}
		if k >= len(items) {
			missing = append(missing, formal)
			inst.Connections = append(inst.Connections, Connection{Formal: formal})
			continue
		}
		if err := p.bind(inst, formal, items[k]); err != nil {
			return err
		}
	}
	inst.Warnings = append(inst.Warnings, connectionWarnings(inst, missing, len(formals), len(items))...)
	return nil
}

// bind adds the connection of one formal, expanding a concatenation into
// formal[0], formal[1], ... in source order.
func (p *moduleParser) bind(inst *Instance, formal string, actual []token) error {
	if len(actual) > 0 && actual[0].is("{") {
		elems, err := p.concatElements(actual)
		if err != nil {
			return err
		}
		for k, e := range elems {
			inst.Connections = append(inst.Connections, Connection{Formal: fmt.Sprintf("%s[%d]", formal, k), Actual: e})
		}
		return nil
	}
	inst.Connections = append(inst.Connections, Connection{Formal: formal, Actual: renderExpr(actual)})
	return nil
}

// concatElements flattens {a, {b, c}, 2{d}} into its leaf expressions.
func (p *moduleParser) concatElements(expr []token) ([]string, error) {
	if len(expr) < 2 || !expr[0].is("{") || !expr[len(expr)-1].is("}") {
		return []string{renderExpr(expr)}, nil
	}
	var out []string
	for _, elem := range splitTopLevel(expr[1:len(expr)-1], ",") {
		if len(elem) == 0 {
			continue
		}
		if brace := indexOf(elem, "{"); brace > 0 && elem[len(elem)-1].is("}") {
			count, err := evalConst(elem[:brace], p.params)
			if err != nil {
				return nil, parseErrorf(elem[0].File, elem[0].Line, "replication count: %v", err)
			}
			inner, err := p.concatElements(elem[brace:])
			if err != nil {
				return nil, err
			}
			if count > 0 && len(out)+count*max(len(inner), 1) > MaxBusWidth {
				return nil, parseErrorf(elem[0].File, elem[0].Line, "replication of %d is wider than %d bits", count, MaxBusWidth)
			}
			for ; count > 0; count-- {
				out = append(out, inner...)
			}
			continue
		}
		inner, err := p.concatElements(elem)
		if err != nil {
			return nil, err
		}
		out = append(out, inner...)
	}
	return out, nil
}

// splitTopLevel splits tokens on sep outside any bracket nesting.
func splitTopLevel(tokens []token, sep string) [][]token {
	var parts [][]token
	depth, start := 0, 0
	for k, t := range tokens {
		switch {
		case t.is("(") || t.is("[") || t.is("{"):
			depth++
		case t.is(")") || t.is("]") || t.is("}"):
			depth--
		case depth == 0 && t.is(sep):
			parts = append(parts, tokens[start:k])
			start = k + 1
		}
	}
	return append(parts, tokens[start:])
}

func firstName(item []token) string {
	for _, t := range item {
		if t.isName() && !netTypeKeywords[t.Text] && !variableKeywords[t.Text] {
			return t.Text
		}
		if t.is("[") || t.is("=") {
			break
		}
	}
	return ""
}

var caseKeywords = []string{"case", "casex", "casez"}

func isAny(t token, texts []string) bool {
	for _, text := range texts {
		if t.is(text) {
			return true
		}
	}
	return false
}

func indexOf(tokens []token, text string) int {
	for k, t := range tokens {
		if t.is(text) {
			return k
		}
	}
	return -1
}

// renderExpr joins an expression back into compact source form.
func renderExpr(tokens []token) string {
	var sb strings.Builder
	for k, t := range tokens {
		if k > 0 && (t.isName() || t.Kind == kindNumber) && (tokens[k-1].isName() || tokens[k-1].Kind == kindNumber) {
			sb.WriteByte(' ')
		}
		sb.WriteString(t.Text)
	}
	return sb.String()
}
