// =============================================================================
// Netlist Consistency Check - Main Entry Point
// =============================================================================
//
// Checks that a user project fits the caravel harness before tapeout:
// the user wrapper, the harness that instantiates it and the layout of the
// wrapper must all describe the same structure.
//
// THE PIPELINE:
//   1. Physical cells are stripped from the gate-level user netlist
//   2. Verilog or SPICE netlists are parsed into a common IR
//   3. The GDSII layout is read down to its cell hierarchy
//   4. The checker runs the top and user check batteries
//   5. CUE validates every report against the data contract
//   6. The Rego policy maps results and severities to verdicts
//
// WHEN A CHECK LOOKS WRONG:
//   Dump the IR with netlist-ir first. A wrong IR is a parser bug, not a
//   checker bug.
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/efabless/mpw-precheck/internal/config"
	"github.com/efabless/mpw-precheck/internal/consistency"
	"github.com/efabless/mpw-precheck/internal/watch"
)

// Options are the command line options.
type Options struct {
	Config   string   `short:"c" long:"config" description:"configuration file (JSON or YAML); searched for when omitted"`
	Verbose  bool     `short:"v" long:"verbose" description:"debug logging"`
	JSON     bool     `short:"j" long:"json" description:"JSON logs on stderr, result documents on stdout"`
	Timing   string   `short:"t" long:"timing" description:"append stage timings to this JSONL file"`
	Watch    bool     `short:"w" long:"watch" description:"re-run whenever an input file changes"`
	Projects []string `short:"p" long:"project" description:"only run the named project (repeatable)"`
	Args     struct {
		Root string `positional-arg-name:"root" description:"project root; used as the only project when the config lists none"`
	} `positional-args:"yes"`
}

const (
	exitPassed = 0
	exitFailed = 1
	exitError  = 2
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		os.Exit(runInit())
	}

	options := &Options{}
	if _, err := flags.ParseArgs(options, os.Args[1:]); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(exitPassed)
		}
		os.Exit(exitError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(run(ctx, options))
}

func runInit() int {
	configPath := "precheck.json"

	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config file %s already exists. Overwrite? [y/N]: ", configPath)
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return exitPassed
		}
	}

	cfg := config.DefaultConfig()
	cfg.Projects = append(cfg.Projects, config.ProjectConfig{InputDirectory: "."})
	if err := cfg.Save(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating config: %v\n", err)
		return exitError
	}

	fmt.Printf("Created %s\n", configPath)
	fmt.Println("\nEdit this file to configure:")
	fmt.Println("  - Project directories, netlists and the golden wrapper")
	fmt.Println("  - Check lists for the harness and the user wrapper")
	fmt.Println("  - Check severities")
	return exitPassed
}

func newLogger(options *Options) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if options.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if options.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

func loadConfig(options *Options) (*config.Config, error) {
	root := options.Args.Root
	if root == "" {
		root = "."
	}
	var cfg *config.Config
	var err error
	if options.Config != "" {
		cfg, err = config.LoadFile(options.Config)
	} else {
		cfg, err = config.Load(root)
	}
	if err != nil {
		return nil, err
	}

	if len(cfg.Projects) == 0 && options.Args.Root != "" {
		cfg.Projects = []config.ProjectConfig{{InputDirectory: options.Args.Root}}
	}
	if len(options.Projects) > 0 {
		wanted := make(map[string]bool, len(options.Projects))
		for _, name := range options.Projects {
			wanted[name] = true
		}
		resolved, err := cfg.ResolveProjects(root)
		if err != nil {
			return nil, err
		}
		var kept []config.ProjectConfig
		for i, p := range resolved {
			if wanted[p.Name] {
				kept = append(kept, cfg.Projects[i])
				delete(wanted, p.Name)
			}
		}
		if len(wanted) > 0 {
			var missing []string
			for name := range wanted {
				missing = append(missing, name)
			}
			return nil, fmt.Errorf("unknown project(s): %s", strings.Join(missing, ", "))
		}
		cfg.Projects = kept
	}
	if len(cfg.Projects) == 0 {
		return nil, fmt.Errorf("no projects configured; pass a project root or run 'consistency-check init'")
	}
	return cfg, nil
}

func run(ctx context.Context, options *Options) int {
	logger := newLogger(options)

	cfg, err := loadConfig(options)
	if err != nil {
		logger.WithError(err).Error("loading configuration")
		return exitError
	}

	runner, err := consistency.New(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("preparing the pipeline")
		return exitError
	}
	runner.Root = options.Args.Root
	runner.TimingPath = options.Timing

	code, last := runOnce(ctx, runner, options, logger)
	if !options.Watch {
		return code
	}

	projects, err := runner.Projects()
	if err != nil {
		logger.WithError(err).Error("resolving projects")
		return exitError
	}
	var files []string
	for _, p := range projects {
		files = append(files, p.InputFiles()...)
	}
	w, err := watch.New(files, logger)
	if err != nil {
		logger.WithError(err).Error("starting watch mode")
		return exitError
	}
	defer w.Close()

	logger.WithField("files", len(w.Files())).Info("watching inputs, interrupt to stop")
	err = w.Run(ctx, func(ctx context.Context, changed []string) error {
		logger.WithField("changed", changed).Info("inputs changed, re-running")
		var results []*consistency.Result
		code, results = runOnce(ctx, runner, options, logger)
		logDelta(logger, consistency.ComputeDelta(last, results))
		last = results
		return nil
	})
	if err != nil {
		logger.WithError(err).Error("watch mode")
		return exitError
	}
	return code
}

func runOnce(ctx context.Context, runner *consistency.Runner, options *Options, logger *logrus.Logger) (int, []*consistency.Result) {
	results, err := runner.RunAll(ctx)

	code := exitPassed
	for _, res := range results {
		if res != nil && !res.Passed {
			code = exitFailed
		}
	}
	if options.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		var done []*consistency.Result
		for _, res := range results {
			if res != nil {
				done = append(done, res)
			}
		}
		if encErr := enc.Encode(done); encErr != nil {
			logger.WithError(encErr).Error("writing results")
			return exitError, results
		}
	}
	if err != nil {
		logger.WithError(err).Error("pipeline error")
		return exitError, results
	}
	return code, results
}

func logDelta(logger *logrus.Logger, delta consistency.Delta) {
	if delta.Empty() {
		logger.Info("no change in findings")
		return
	}
	for _, f := range delta.Removed {
		logger.WithFields(logrus.Fields{"project": f.Project, "module": f.Module, "check": f.Check}).Infof("resolved: %s", f.Mismatch)
	}
	for _, f := range delta.Added {
		logger.WithFields(logrus.Fields{"project": f.Project, "module": f.Module, "check": f.Check, "level": f.Level}).Warnf("new: %s", f.Mismatch)
	}
}
