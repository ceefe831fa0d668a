// netlist-ir parses one netlist or layout and prints its IR as JSON. It is
// the first tool to reach for when a consistency check looks wrong.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/efabless/mpw-precheck/internal/layout"
	"github.com/efabless/mpw-precheck/internal/netlist"
)

// Options are the command line options.
type Options struct {
	Type        string   `short:"T" long:"type" choice:"verilog" choice:"spice" choice:"gds" description:"input format (default: from the file extension)"`
	Top         string   `short:"t" long:"top" description:"module, subcircuit or top cell to extract"`
	Defines     []string `short:"D" long:"define" description:"preprocessor macro NAME or NAME=VALUE (repeatable)"`
	IncludeDirs []string `short:"I" long:"include-dir" description:"directory searched for include files (repeatable)"`
	Include     []string `short:"i" long:"include" description:"file parsed before the netlist (repeatable)"`
	Strip       []string `short:"s" long:"strip" description:"remove instances whose module type matches this glob (repeatable); needs --out"`
	Out         string   `short:"o" long:"out" description:"write the stripped netlist here"`
	Args        struct {
		File string `positional-arg-name:"file" required:"yes"`
	} `positional-args:"yes"`
}

func main() {
	options := &Options{}
	if _, err := flags.ParseArgs(options, os.Args[1:]); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if err := run(context.Background(), options); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run strips when --strip is given, otherwise dumps the IR of --top.
func run(ctx context.Context, options *Options) error {
	file := options.Args.File

	if len(options.Strip) > 0 {
		if options.Out == "" {
			return fmt.Errorf("--strip needs --out")
		}
		removed, err := netlist.RemoveInstances(ctx, file, options.Out, options.Strip)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "removed %d instances into %s\n", removed, options.Out)
		return nil
	}
	if options.Top == "" {
		return fmt.Errorf("--top is required")
	}

	var out interface{}
	if options.Type == "gds" {
		h, err := layout.Parse(ctx, file, options.Top)
		if err != nil {
			return err
		}
		out = h
	} else {
		src, err := netlist.SourceFor(file, netlist.Kind(options.Type), netlist.VerilogOptions{
			IncludeFiles: options.Include,
			IncludeDirs:  options.IncludeDirs,
			Defines:      options.Defines,
		})
		if err != nil {
			return err
		}
		ir, err := src.Parse(ctx, options.Top)
		if err != nil {
			return err
		}
		out = ir
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
