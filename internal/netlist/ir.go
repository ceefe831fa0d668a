package netlist

import (
	"fmt"
	"strings"
)

// Direction is the declared direction of a port.
type Direction int

const (
	Input Direction = iota
	Output
	Inout
)

func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	case Inout:
		return "inout"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// MarshalText encodes the direction as its Verilog keyword.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText accepts the Verilog keyword of a direction.
func (d *Direction) UnmarshalText(text []byte) error {
	dir, ok := ParseDirection(string(text))
	if !ok {
		return fmt.Errorf("unknown port direction %q", string(text))
	}
	*d = dir
	return nil
}

// ParseDirection maps input/output/inout (any case) to a Direction.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(s) {
	case "input":
		return Input, true
	case "output":
		return Output, true
	case "inout":
		return Inout, true
	}
	return Input, false
}

// Port is a declared port of a module or subcircuit. Lsb and Msb are both
// nil for a scalar port.
type Port struct {
	Name      string    `json:"name"`
	Direction Direction `json:"direction"`
	Lsb       *int      `json:"lsb,omitempty"`
	Msb       *int      `json:"msb,omitempty"`
}

// MaxBusWidth bounds the bit count of a folded range or replication.
const MaxBusWidth = 1 << 20

// NewBusPort builds a vector port. The bounds may be given in either order.
func NewBusPort(name string, dir Direction, a, b int) Port {
	lsb, msb := min(a, b), max(a, b)
	return Port{Name: name, Direction: dir, Lsb: &lsb, Msb: &msb}
}

// IsBus reports whether the port has a bit range.
func (p Port) IsBus() bool {
	return p.Lsb != nil && p.Msb != nil
}

// Width is the number of scalar bits of the port.
func (p Port) Width() int {
	if !p.IsBus() {
		return 1
	}
	return *p.Msb - *p.Lsb + 1
}

// Split expands a vector port into its scalar bit names, lsb first.
// A scalar port yields its own name.
func (p Port) Split() []string {
	if !p.IsBus() {
		return []string{p.Name}
	}
	names := make([]string, 0, p.Width())
	for i := *p.Lsb; i <= *p.Msb; i++ {
		names = append(names, fmt.Sprintf("%s[%d]", p.Name, i))
	}
	return names
}

// Connection binds a formal pin of an instance to an actual net expression.
// An empty Actual means the pin is unconnected.
type Connection struct {
	Formal string `json:"formal"`
	Actual string `json:"actual"`
}

// Instance is one instantiation inside the top module. RawName and
// RawModuleType keep the identifiers exactly as written in the source.
type Instance struct {
	RawName       string       `json:"name"`
	RawModuleType string       `json:"module_type"`
	Connections   []Connection `json:"connections"`
	Line          int          `json:"line,omitempty"`
	Warnings      []string     `json:"warnings,omitempty"`
}

// Name returns the instance name with escape backslashes removed.
func (i *Instance) Name() string {
	return StripBackslashes(i.RawName)
}

// ModuleType returns the instantiated module name with escape backslashes removed.
func (i *Instance) ModuleType() string {
	return StripBackslashes(i.RawModuleType)
}

// Hooks returns the connection map from formal pin to actual net.
func (i *Instance) Hooks() map[string]string {
	hooks := make(map[string]string, len(i.Connections))
	for _, c := range i.Connections {
		hooks[c.Formal] = c.Actual
	}
	return hooks
}

// Actuals returns the connected nets in pin order, skipping unconnected pins.
func (i *Instance) Actuals() []string {
	nets := make([]string, 0, len(i.Connections))
	for _, c := range i.Connections {
		if c.Actual != "" {
			nets = append(nets, c.Actual)
		}
	}
	return nets
}

// Netlist is the format-neutral view of one module or subcircuit.
type Netlist struct {
	TopModule    string     `json:"top_module"`
	Source       string     `json:"source,omitempty"`
	Ports        []Port     `json:"ports"`
	Instances    []Instance `json:"instances"`
	IsBehavioral bool       `json:"is_behavioral"`

	// Constructs lists the non-structural constructs that made the module
	// behavioral, as "kind@line".
	Constructs []string `json:"constructs,omitempty"`
}

// PortNames returns the scalar names of all ports after bus splitting.
func (n *Netlist) PortNames() []string {
	var names []string
	for _, p := range n.Ports {
		names = append(names, p.Split()...)
	}
	return names
}

// PortDirections maps every scalar port name to its declared direction.
func (n *Netlist) PortDirections() map[string]Direction {
	dirs := make(map[string]Direction)
	for _, p := range n.Ports {
		for _, name := range p.Split() {
			dirs[name] = p.Direction
		}
	}
	return dirs
}

// ModuleTypes returns the distinct instantiated module types in first-use order.
func (n *Netlist) ModuleTypes() []string {
	seen := make(map[string]bool)
	var types []string
	for i := range n.Instances {
		t := n.Instances[i].ModuleType()
		if !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	return types
}

// FindInstanceOf returns the first instance whose module type is name.
func (n *Netlist) FindInstanceOf(name string) *Instance {
	want := StripBackslashes(name)
	for i := range n.Instances {
		if n.Instances[i].ModuleType() == want {
			return &n.Instances[i]
		}
	}
	return nil
}

// StripBackslashes removes every backslash from an identifier.
func StripBackslashes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	return strings.ReplaceAll(s, `\`, "")
}
