package netlist

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Patterns matches cell and module names against a list of glob patterns
// such as "sky130_fd_sc_*__decap_*". A pattern without wildcards matches
// only the identical name.
type Patterns struct {
	raw   []string
	globs []glob.Glob
}

// CompilePatterns compiles every pattern, failing on the first bad one.
func CompilePatterns(patterns []string) (*Patterns, error) {
	p := &Patterns{raw: patterns}
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling pattern %q: %w", pattern, err)
		}
		p.globs = append(p.globs, g)
	}
	return p, nil
}

// Match reports whether name matches any pattern. Backslashes are ignored.
func (p *Patterns) Match(name string) bool {
	if p == nil {
		return false
	}
	name = StripBackslashes(name)
	for _, g := range p.globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Expand returns the names that match, without duplicates, in input order.
func (p *Patterns) Expand(names []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, name := range names {
		if !seen[name] && p.Match(name) {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// Strings returns the source patterns.
func (p *Patterns) Strings() []string {
	if p == nil {
		return nil
	}
	return p.raw
}
