package checker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/efabless/mpw-precheck/internal/netlist"
)

func (c *Checker) checkPorts() *Result {
	subject := toSet(c.subject.PortNames())
	golden := toSet(c.golden.PortNames())
	extra := difference(subject, golden)
	missing := difference(golden, subject)
	if len(extra) == 0 && len(missing) == 0 {
		return pass("%s ports match the golden wrapper ports", c.subject.TopModule)
	}
	mismatches := append(extra, missing...)
	sort.Strings(mismatches)
	return fail(mismatches, "%s ports do not match the golden wrapper: %d not in golden, %d missing",
		c.subject.TopModule, len(extra), len(missing))
}

func (c *Checker) checkPortTypes() *Result {
	subject := c.subject.PortDirections()
	var mismatches []string
	for _, port := range c.golden.Ports {
		if port.Direction == netlist.Inout {
			continue
		}
		for _, name := range port.Split() {
			got, ok := subject[name]
			if ok && got != port.Direction {
				mismatches = append(mismatches, fmt.Sprintf("%s: expected %s, got %s", name, port.Direction, got))
			}
		}
	}
	if len(mismatches) == 0 {
		return pass("%s port types match the golden wrapper port types", c.subject.TopModule)
	}
	return fail(mismatches, "%d ports of %s have the wrong direction", len(mismatches), c.subject.TopModule)
}

func (c *Checker) checkHierarchy(submodule string) *Result {
	if inst := c.subject.FindInstanceOf(submodule); inst != nil {
		return pass("module %s is instantiated in %s as %s", submodule, c.subject.TopModule, inst.Name())
	}
	return fail([]string{submodule}, "module %s is not instantiated in %s", submodule, c.subject.TopModule)
}

func (c *Checker) checkComplexity(minInstances int) *Result {
	n := len(c.subject.Instances)
	if n >= minInstances {
		return pass("%s contains %d instances (at least %d)", c.subject.TopModule, n, minInstances)
	}
	return fail(nil, "%s contains %d instances, fewer than %d", c.subject.TopModule, n, minInstances)
}

func (c *Checker) checkModeling() *Result {
	if !c.subject.IsBehavioral {
		return pass("%s is structural", c.subject.TopModule)
	}
	constructs := append([]string{}, c.subject.Constructs...)
	return fail(constructs, "%s contains behavioral code", c.subject.TopModule)
}

// checkPower requires every instance that is not ignored, by instance name
// or by module type, to connect at least one pin to a power net.
func (c *Checker) checkPower(powerNets []string, ignored *netlist.Patterns) *Result {
	nets := toSet(powerNets)
	var offenders, warnings []string
	for i := range c.subject.Instances {
		inst := &c.subject.Instances[i]
		if ignored.Match(inst.Name()) || ignored.Match(inst.ModuleType()) {
			continue
		}
		warnings = append(warnings, inst.Warnings...)
		connected := false
		for _, actual := range inst.Actuals() {
			if nets[netlist.StripBackslashes(actual)] {
				connected = true
				break
			}
		}
		if !connected {
			offenders = append(offenders, inst.Name())
		}
	}

	var res *Result
	if len(offenders) == 0 {
		res = pass("all instances in %s are connected to power", c.subject.TopModule)
	} else {
		res = fail(offenders, "instance %s in %s is not connected to any of %s",
			offenders[0], c.subject.TopModule, strings.Join(powerNets, ", "))
		if len(offenders) > 1 {
			res.Message += fmt.Sprintf(" (%d instances in total)", len(offenders))
		}
	}
	res.Warnings = appendWarnings(res.Warnings, warnings)
	return res
}

// checkSubmoduleHooks inspects the instance of submodule: every golden port
// must be hooked up, each user power pin must be tied to its "_core" net, and
// no power pin may touch a banned net.
func (c *Checker) checkSubmoduleHooks(submodule string, powerPins, bannedNets []string) *Result {
	inst := c.subject.FindInstanceOf(submodule)
	if inst == nil {
		return fail([]string{submodule}, "module %s is not instantiated in %s", submodule, c.subject.TopModule)
	}
	hooks := make(map[string]string)
	for formal, actual := range inst.Hooks() {
		hooks[formal] = netlist.StripBackslashes(actual)
	}
	pins := toSet(powerPins)
	banned := toSet(bannedNets)

	var mismatches []string
	for _, port := range c.golden.PortNames() {
		actual, ok := lookupHook(hooks, port)
		if !ok {
			mismatches = append(mismatches, fmt.Sprintf("%s: not connected", port))
			continue
		}
		if pins[port] && banned[actual] {
			mismatches = append(mismatches, fmt.Sprintf("%s: tied to management net %s", port, actual))
		}
	}
	for _, pin := range powerPins {
		expected := pin + "_core"
		actual, ok := hooks[pin]
		switch {
		case !ok || actual == "":
			mismatches = append(mismatches, fmt.Sprintf("%s: expected %s, not connected", pin, expected))
		case actual != expected:
			mismatches = append(mismatches, fmt.Sprintf("%s: expected %s, got %s", pin, expected, actual))
		}
	}
	mismatches = dedupe(mismatches)

	var res *Result
	if len(mismatches) == 0 {
		res = pass("all ports of %s are correctly connected in %s", submodule, c.subject.TopModule)
	} else {
		res = fail(mismatches, "%d connection problems on %s (%s) in %s",
			len(mismatches), inst.Name(), submodule, c.subject.TopModule)
	}
	res.Warnings = appendWarnings(res.Warnings, inst.Warnings)
	return res
}

// lookupHook finds the net on a golden scalar port. A bit name[i] is also
// satisfied by a formal that names the whole bus.
func lookupHook(hooks map[string]string, port string) (string, bool) {
	if actual, ok := hooks[port]; ok {
		return actual, true
	}
	if idx := strings.IndexByte(port, '['); idx > 0 {
		if actual, ok := hooks[port[:idx]]; ok {
			return actual, true
		}
	}
	return "", false
}

func (c *Checker) checkLayout(ignored *netlist.Patterns) *Result {
	modules := toSet(c.subject.ModuleTypes())
	var missing []string
	for _, cell := range c.layout.ChildCells {
		if ignored.Match(cell) {
			continue
		}
		if !modules[cell] {
			missing = append(missing, cell)
		}
	}
	if len(missing) == 0 {
		return pass("the layout of %s matches its structural netlist", c.subject.TopModule)
	}
	sort.Strings(missing)
	return fail(missing, "%d layout cells of %s have no module in the netlist", len(missing), c.subject.TopModule)
}

// checkLayoutSubcell compares the cells below target in the layout with the
// module types the reference netlist of target instantiates.
func (c *Checker) checkLayoutSubcell(target string, reference *netlist.Netlist) *Result {
	cells := c.layout.Grandchildren(target)
	if len(cells) == 0 {
		return fail([]string{target}, "no subcells found: cell %s in %s does not contain any subcells", target, c.subject.TopModule)
	}
	layoutSet := toSet(cells)
	netlistSet := toSet(reference.ModuleTypes())
	mismatches := append(difference(layoutSet, netlistSet), difference(netlistSet, layoutSet)...)
	if len(mismatches) == 0 {
		return pass("cell %s in the layout of %s matches its structural netlist", target, c.subject.TopModule)
	}
	sort.Strings(mismatches)
	return fail(mismatches, "cell %s in the layout of %s does not match its structural netlist", target, c.subject.TopModule)
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

// difference returns the sorted members of a that are not in b.
func difference(a, b map[string]bool) []string {
	var out []string
	for item := range a {
		if !b[item] {
			out = append(out, item)
		}
	}
	sort.Strings(out)
	return out
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}

func appendWarnings(dst, src []string) []string {
	for _, w := range src {
		found := false
		for _, have := range dst {
			if have == w {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, w)
		}
	}
	return dst
}
