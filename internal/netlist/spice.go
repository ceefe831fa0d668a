package netlist

import (
	"context"
	"fmt"
	"strings"
)

type subcktDef struct {
	name  string
	ports []string
	line  int
}

// ParseSpice extracts the subcircuit named top from a flattened SPICE
// netlist. Only X cards become instances; their pins are mapped onto the
// node list of the referenced .subckt when it is defined in the same file.
func ParseSpice(ctx context.Context, path, top string) (*Netlist, error) {
	src, err := readLocation(ctx, path)
	if err != nil {
		return nil, &ParseError{File: path, Message: err.Error()}
	}
	lines := lexSpice(src)

	defs := make(map[string]subcktDef)
	for _, l := range lines {
		if l.keyword() != ".subckt" {
			continue
		}
		if len(l.Fields) < 2 {
			return nil, parseErrorf(path, l.Line, ".subckt without a name")
		}
		if _, dup := defs[l.Fields[1]]; !dup {
			defs[l.Fields[1]] = subcktDef{name: l.Fields[1], ports: subcktPorts(l.Fields[2:]), line: l.Line}
		}
	}

	def, ok := lookupSubckt(defs, top)
	if !ok {
		return nil, &ModuleNotFoundError{File: path, Module: top}
	}

	n := &Netlist{
		TopModule: def.name,
		Source:    path,
		Ports:     make([]Port, 0, len(def.ports)),
		Instances: []Instance{},
	}
	for _, name := range def.ports {
		n.Ports = append(n.Ports, Port{Name: name, Direction: Inout})
	}

	depth := 0
	closed := false
	for _, l := range lines {
		if l.Line < def.line {
			continue
		}
		switch l.keyword() {
		case ".subckt":
			depth++
			continue
		case ".ends":
			depth--
		}
		if depth == 0 {
			closed = true
			break
		}
		if depth > 1 || !isInstanceCard(l) {
			continue
		}
		inst, err := spiceInstance(path, l, defs)
		if err != nil {
			return nil, err
		}
		n.Instances = append(n.Instances, inst)
	}
	if !closed {
		return nil, parseErrorf(path, def.line, ".subckt %s has no .ends", def.name)
	}
	return n, nil
}

func lookupSubckt(defs map[string]subcktDef, name string) (subcktDef, bool) {
	if def, ok := defs[name]; ok {
		return def, true
	}
	var found []subcktDef
	for key, def := range defs {
		if strings.EqualFold(key, name) {
			found = append(found, def)
		}
	}
	if len(found) == 1 {
		return found[0], true
	}
	return subcktDef{}, false
}

// subcktPorts drops the parameter part of a .subckt node list.
func subcktPorts(fields []string) []string {
	var ports []string
	for _, f := range fields {
		if strings.EqualFold(f, "params:") || strings.Contains(f, "=") {
			break
		}
		ports = append(ports, f)
	}
	return ports
}

func isInstanceCard(l spiceLine) bool {
	c := l.Fields[0][0]
	return c == 'X' || c == 'x'
}

func spiceInstance(path string, l spiceLine, defs map[string]subcktDef) (Instance, error) {
	var rest []string
	for _, f := range l.Fields[1:] {
		if strings.EqualFold(f, "params:") || strings.Contains(f, "=") {
			break
		}
		rest = append(rest, f)
	}
	if len(rest) == 0 {
		return Instance{}, parseErrorf(path, l.Line, "instance %s names no subcircuit", l.Fields[0])
	}
	inst := Instance{
		RawName:       l.Fields[0][1:],
		RawModuleType: rest[len(rest)-1],
		Line:          l.Line,
	}
	nodes := rest[:len(rest)-1]

	var formals []string
	if def, ok := defs[inst.RawModuleType]; ok {
		formals = def.ports
	}
	var missing []string
	for k := 0; k < max(len(nodes), len(formals)); k++ {
		formal := fmt.Sprintf("$%d", k)
		if k < len(formals) {
			formal = formals[k]
		}
		if k >= len(nodes) {
			missing = append(missing, formal)
			inst.Connections = append(inst.Connections, Connection{Formal: formal})
			continue
		}
		inst.Connections = append(inst.Connections, Connection{Formal: formal, Actual: nodes[k]})
	}
	inst.Warnings = append(inst.Warnings, connectionWarnings(&inst, missing, len(formals), len(nodes))...)
	return inst, nil
}

// connectionWarnings describes a positional connection list whose length
// differs from the formal port list.
func connectionWarnings(inst *Instance, missing []string, formals, actuals int) []string {
	var warnings []string
	if len(missing) > 0 {
		warnings = append(warnings, fmt.Sprintf("instance %s (%s): %d of %d pins unconnected: %s",
			inst.Name(), inst.ModuleType(), len(missing), formals, strings.Join(missing, ", ")))
	}
	if formals > 0 && actuals > formals {
		warnings = append(warnings, fmt.Sprintf("instance %s (%s): %d surplus connections",
			inst.Name(), inst.ModuleType(), actuals-formals))
	}
	return warnings
}
