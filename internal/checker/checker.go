// Package checker runs the structural consistency checks over a parsed
// netlist, an optional golden wrapper and an optional layout hierarchy.
package checker

import (
	"errors"
	"fmt"

	"github.com/efabless/mpw-precheck/internal/layout"
	"github.com/efabless/mpw-precheck/internal/netlist"
)

// Name identifies a check.
type Name string

const (
	Ports          Name = "ports"
	PortTypes      Name = "port_types"
	Hierarchy      Name = "hierarchy"
	Complexity     Name = "complexity"
	Modeling       Name = "modeling"
	Power          Name = "power"
	SubmoduleHooks Name = "submodule_hooks"
	Layout         Name = "layout"
	LayoutSubcell  Name = "layout_subcell"
)

// Names lists every check in a stable order.
var Names = []Name{Ports, PortTypes, Hierarchy, Complexity, Modeling, Power, SubmoduleHooks, Layout, LayoutSubcell}

var (
	// ErrUnknownCheck is wrapped by errors for check names Run does not know.
	ErrUnknownCheck = errors.New("unknown check")
	// ErrMissingInput is wrapped by errors for a check whose golden IR,
	// layout, reference IR or parameter is absent.
	ErrMissingInput = errors.New("missing checker input")
)

// ParseName validates a check name.
func ParseName(s string) (Name, error) {
	for _, n := range Names {
		if string(n) == s {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCheck, s)
}

// ParseNames validates a list of check names.
func ParseNames(names []string) ([]Name, error) {
	out := make([]Name, 0, len(names))
	for _, s := range names {
		n, err := ParseName(s)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// Params carries the per-check parameters. Ignored instance and cell lists
// are glob patterns; a plain name matches only itself.
type Params struct {
	MinInstances             int              `json:"min_instances"`
	PowerNets                []string         `json:"power_nets,omitempty"`
	IgnoredInstances         []string         `json:"ignored_instances,omitempty"`
	Submodule                string           `json:"submodule,omitempty"`
	SubmodulePowerPins       []string         `json:"submodule_power_pins,omitempty"`
	SubmoduleBannedPowerNets []string         `json:"submodule_banned_power_nets,omitempty"`
	IgnoredCells             []string         `json:"ignored_cells,omitempty"`
	SubcellTarget            string           `json:"subcell_target,omitempty"`
	SubcellReference         *netlist.Netlist `json:"-"`
}

// Result is the outcome of one check. Mismatches are the offending
// identifiers; Warnings carry connection-count notes of the instances the
// check inspected.
type Result struct {
	Passed     bool     `json:"passed"`
	Message    string   `json:"message"`
	Mismatches []string `json:"mismatches"`
	Warnings   []string `json:"warnings"`
}

func pass(format string, args ...interface{}) *Result {
	return &Result{Passed: true, Message: fmt.Sprintf(format, args...), Mismatches: []string{}, Warnings: []string{}}
}

func fail(mismatches []string, format string, args ...interface{}) *Result {
	if mismatches == nil {
		mismatches = []string{}
	}
	return &Result{Message: fmt.Sprintf(format, args...), Mismatches: mismatches, Warnings: []string{}}
}

// Report aggregates the results of one Run. Checks keeps the requested order.
type Report struct {
	Module        string           `json:"module"`
	Checks        []Name           `json:"checks"`
	PerCheck      map[Name]*Result `json:"per_check"`
	OverallPassed bool             `json:"overall_passed"`
}

// Failed returns the names of the failed checks in requested order.
func (r *Report) Failed() []Name {
	failed := []Name{}
	for _, name := range r.Checks {
		if res := r.PerCheck[name]; res != nil && !res.Passed {
			failed = append(failed, name)
		}
	}
	return failed
}

// Sink receives every result as soon as its check finishes.
type Sink interface {
	CheckDone(module string, name Name, result *Result)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(module string, name Name, result *Result)

func (f SinkFunc) CheckDone(module string, name Name, result *Result) { f(module, name, result) }

// Checker binds a subject netlist to its optional golden wrapper and layout.
// It holds no state between runs.
type Checker struct {
	subject *netlist.Netlist
	golden  *netlist.Netlist
	layout  *layout.Hierarchy
}

// Option configures a Checker.
type Option func(*Checker)

// WithGolden sets the golden wrapper the ports, port_types and
// submodule_hooks checks compare against.
func WithGolden(golden *netlist.Netlist) Option {
	return func(c *Checker) { c.golden = golden }
}

// WithLayout sets the layout hierarchy of the subject.
func WithLayout(h *layout.Hierarchy) Option {
	return func(c *Checker) { c.layout = h }
}

// New returns a Checker over subject.
func New(subject *netlist.Netlist, opts ...Option) *Checker {
	c := &Checker{subject: subject}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes checks in order and reports every one of them, whatever the
// outcome of the others. Inputs are validated before any check runs: an
// unknown name or a missing input aborts the whole run with an error.
func (c *Checker) Run(checks []Name, params Params, sinks ...Sink) (*Report, error) {
	if c.subject == nil {
		return nil, fmt.Errorf("%w: subject netlist", ErrMissingInput)
	}
	if err := c.validate(checks, params); err != nil {
		return nil, err
	}
	ignoredInstances, err := netlist.CompilePatterns(params.IgnoredInstances)
	if err != nil {
		return nil, fmt.Errorf("ignored instances: %w", err)
	}
	ignoredCells, err := netlist.CompilePatterns(params.IgnoredCells)
	if err != nil {
		return nil, fmt.Errorf("ignored cells: %w", err)
	}

	report := &Report{
		Module:        c.subject.TopModule,
		Checks:        []Name{},
		PerCheck:      make(map[Name]*Result, len(checks)),
		OverallPassed: true,
	}
	for _, name := range checks {
		if _, done := report.PerCheck[name]; done {
			continue
		}
		var res *Result
		switch name {
		case Ports:
			res = c.checkPorts()
		case PortTypes:
			res = c.checkPortTypes()
		case Hierarchy:
			res = c.checkHierarchy(params.Submodule)
		case Complexity:
			res = c.checkComplexity(params.MinInstances)
		case Modeling:
			res = c.checkModeling()
		case Power:
			res = c.checkPower(params.PowerNets, ignoredInstances)
		case SubmoduleHooks:
			res = c.checkSubmoduleHooks(params.Submodule, params.SubmodulePowerPins, params.SubmoduleBannedPowerNets)
		case Layout:
			res = c.checkLayout(ignoredCells)
		case LayoutSubcell:
			res = c.checkLayoutSubcell(params.SubcellTarget, params.SubcellReference)
		}
		report.Checks = append(report.Checks, name)
		report.PerCheck[name] = res
		report.OverallPassed = report.OverallPassed && res.Passed
		for _, sink := range sinks {
			sink.CheckDone(report.Module, name, res)
		}
	}
	return report, nil
}

func (c *Checker) validate(checks []Name, params Params) error {
	for _, name := range checks {
		if _, err := ParseName(string(name)); err != nil {
			return err
		}
		switch name {
		case Ports, PortTypes:
			if c.golden == nil {
				return fmt.Errorf("%w: %s needs a golden wrapper", ErrMissingInput, name)
			}
		case Hierarchy:
			if params.Submodule == "" {
				return fmt.Errorf("%w: %s needs a submodule name", ErrMissingInput, name)
			}
		case SubmoduleHooks:
			if c.golden == nil {
				return fmt.Errorf("%w: %s needs a golden wrapper", ErrMissingInput, name)
			}
			if params.Submodule == "" {
				return fmt.Errorf("%w: %s needs a submodule name", ErrMissingInput, name)
			}
		case Layout:
			if c.layout == nil {
				return fmt.Errorf("%w: %s needs a layout", ErrMissingInput, name)
			}
		case LayoutSubcell:
			if c.layout == nil {
				return fmt.Errorf("%w: %s needs a layout", ErrMissingInput, name)
			}
			if params.SubcellTarget == "" || params.SubcellReference == nil {
				return fmt.Errorf("%w: %s needs a target cell and its reference netlist", ErrMissingInput, name)
			}
		}
	}
	return nil
}
