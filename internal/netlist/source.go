package netlist

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
)

var fs = afs.New()

// Kind names a netlist format.
type Kind string

const (
	KindVerilog Kind = "verilog"
	KindSpice   Kind = "spice"
)

// KindFromPath infers the netlist format from a file extension.
func KindFromPath(path string) (Kind, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".v", ".sv", ".vh", ".vg":
		return KindVerilog, nil
	case ".spice", ".spi", ".sp", ".cir", ".cdl":
		return KindSpice, nil
	}
	return "", fmt.Errorf("cannot infer netlist type of %s", path)
}

// Source produces the IR of one module from a netlist file.
type Source interface {
	Path() string
	Kind() Kind
	Parse(ctx context.Context, top string) (*Netlist, error)
}

// Verilog is a gate-level Verilog netlist.
type Verilog struct {
	File    string
	Options VerilogOptions
}

func (v Verilog) Path() string { return v.File }
func (v Verilog) Kind() Kind   { return KindVerilog }

func (v Verilog) Parse(ctx context.Context, top string) (*Netlist, error) {
	return ParseVerilog(ctx, v.File, top, v.Options)
}

// Spice is a flattened SPICE subcircuit netlist.
type Spice struct {
	File string
}

func (s Spice) Path() string { return s.File }
func (s Spice) Kind() Kind   { return KindSpice }

func (s Spice) Parse(ctx context.Context, top string) (*Netlist, error) {
	return ParseSpice(ctx, s.File, top)
}

// SourceFor returns the Source for path. An empty kind is inferred from the
// file extension.
func SourceFor(path string, kind Kind, opts VerilogOptions) (Source, error) {
	if kind == "" {
		var err error
		if kind, err = KindFromPath(path); err != nil {
			return nil, err
		}
	}
	switch kind {
	case KindVerilog:
		return Verilog{File: path, Options: opts}, nil
	case KindSpice:
		return Spice{File: path}, nil
	}
	return nil, fmt.Errorf("unknown netlist type %q", kind)
}

// Location turns a local path into an absolute one; URLs are returned as is.
func Location(path string) string {
	if strings.Contains(path, "://") {
		return path
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func readLocation(ctx context.Context, path string) ([]byte, error) {
	data, err := fs.DownloadWithURL(ctx, Location(path))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func exists(ctx context.Context, path string) (bool, error) {
	return fs.Exists(ctx, Location(path))
}
