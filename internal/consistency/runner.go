package consistency

// =============================================================================
// PIPELINE: STRIP, PARSE, CHECK, VALIDATE, DECIDE
// =============================================================================
//
// The runner owns every side effect of a precheck run: reading files,
// writing the stripped netlist, caching, timing and logging. The netlist,
// layout and checker packages below it stay pure and only return data and
// typed errors.
//
// A parse failure is never reported as a failing check. The project fails
// with reason "parse_error" and the failures are listed with the stage and
// file that produced them.
//
// Both reports and the final result go through the CUE contract before and
// after the Rego policy reads them. A contract failure is a bug in this
// repository, so it is returned as an error instead of a verdict.
// =============================================================================

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/efabless/mpw-precheck/internal/checker"
	"github.com/efabless/mpw-precheck/internal/config"
	"github.com/efabless/mpw-precheck/internal/layout"
	"github.com/efabless/mpw-precheck/internal/netlist"
	"github.com/efabless/mpw-precheck/internal/policy"
	"github.com/efabless/mpw-precheck/internal/validator"
)

// Reasons a project result carries.
const (
	ReasonPassed      = "passed"
	ReasonParseError  = "parse_error"
	ReasonCheckFailed = "check_failed"
)

// Pipeline stages a parse failure is attributed to.
const (
	StageStrip  = "strip"
	StageParse  = "parse"
	StageGolden = "golden"
	StageLayout = "layout"
)

// Banner lines closing every project run.
const (
	PassedBanner = "{{NETLIST CONSISTENCY CHECK PASSED}}"
	FailedBanner = "{{NETLIST CONSISTENCY CHECK FAILED}}"
)

// Runner drives the consistency pipeline over configured projects.
type Runner struct {
	// Config is the validated configuration, defaults applied.
	Config *config.Config

	// Root resolves relative project directories and the cache directory.
	Root string

	// TimingPath receives JSONL stage timings (overridden by PRECHECK_TIMING_JSONL).
	TimingPath string

	logger  *logrus.Logger
	reports *validator.ReportValidator
	engine  *policy.Engine

	cacheMu     sync.Mutex
	cache       *irCache
	cacheBroken bool
}

// Result is the outcome of one project.
type Result struct {
	Project           string           `json:"project"`
	Passed            bool             `json:"passed"`
	Reason            string           `json:"reason"`
	Top               *checker.Report  `json:"top,omitempty"`
	User              *checker.Report  `json:"user,omitempty"`
	StrippedInstances int              `json:"stripped_instances"`
	ParseErrors       []ParseFailure   `json:"parse_errors"`
	Verdicts          []policy.Verdict `json:"verdicts"`
}

// ParseFailure is an input that could not be turned into an IR or a hierarchy.
type ParseFailure struct {
	Stage   string `json:"stage"`
	File    string `json:"file"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// New validates cfg and prepares the report contract and the verdict policy.
func New(cfg *config.Config, logger *logrus.Logger) (*Runner, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	cv, err := validator.NewConfigValidator()
	if err != nil {
		return nil, fmt.Errorf("config contract: %w", err)
	}
	if err := cv.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if _, err := checker.ParseNames(cfg.Checks.Top); err != nil {
		return nil, fmt.Errorf("checks.top: %w", err)
	}
	if _, err := checker.ParseNames(cfg.Checks.User); err != nil {
		return nil, fmt.Errorf("checks.user: %w", err)
	}

	reports, err := validator.NewReportValidator()
	if err != nil {
		return nil, fmt.Errorf("report contract: %w", err)
	}
	var engine *policy.Engine
	if dir := cfg.Analysis.PolicyDir; dir != "" {
		engine, err = policy.NewFromDir(dir)
	} else {
		engine, err = policy.New()
	}
	if err != nil {
		return nil, fmt.Errorf("verdict policy: %w", err)
	}

	return &Runner{
		Config:  cfg,
		logger:  logger,
		reports: reports,
		engine:  engine,
	}, nil
}

// Projects resolves the configured projects against Root.
func (r *Runner) Projects() ([]config.Project, error) {
	return r.Config.ResolveProjects(r.Root)
}

// RunAll runs every configured project, at most maxParallelProjects at a
// time. Results are in configuration order; a project whose pipeline broke
// has a nil result and contributes to the returned error.
func (r *Runner) RunAll(ctx context.Context) ([]*Result, error) {
	projects, err := r.Projects()
	if err != nil {
		return nil, fmt.Errorf("resolve projects: %w", err)
	}

	tr := r.openRunTrace()
	defer tr.Close()

	workers := r.Config.Analysis.MaxParallelProjects
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	sem := make(chan struct{}, workers)

	results := make([]*Result, len(projects))
	errs := make([]error, len(projects))
	var wg sync.WaitGroup
	for i, p := range projects {
		wg.Add(1)
		go func(i int, p config.Project) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				errs[i] = fmt.Errorf("%s: %w", p.Name, ctx.Err())
				return
			}
			defer func() { <-sem }()

			res, err := r.run(ctx, p, tr)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", p.Name, err)
				return
			}
			results[i] = res
		}(i, p)
	}
	wg.Wait()

	return results, errors.Join(errs...)
}

// Run checks one resolved project.
func (r *Runner) Run(ctx context.Context, p config.Project) (*Result, error) {
	tr := r.openRunTrace()
	defer tr.Close()
	return r.run(ctx, p, tr)
}

// inputs are the parsed artifacts of one project.
type inputs struct {
	top, user, golden, subcell *netlist.Netlist
	layout                     *layout.Hierarchy
}

func (r *Runner) run(ctx context.Context, p config.Project, tr *trace) (*Result, error) {
	runStart := time.Now()
	log := r.logger.WithField("project", p.Name)
	result := &Result{
		Project:     p.Name,
		ParseErrors: []ParseFailure{},
		Verdicts:    []policy.Verdict{},
	}

	// 1. Strip physical cells from the user netlist.
	userNetlist := p.UserNetlist
	if p.Verilog && r.Config.StripEnabled() {
		stageStart := time.Now()
		out := filepath.Join(p.OutputDirectory, "tmp", p.UserModule+".v")
		removed, err := r.strip(ctx, p.UserNetlist, out)
		r.stageDone(log, tr, span{Project: p.Name, Stage: StageStrip, File: p.UserNetlist}, stageStart, err)
		if err != nil {
			result.ParseErrors = append(result.ParseErrors, classify(StageStrip, p.UserNetlist, err))
		} else {
			result.StrippedInstances = removed
			userNetlist = out
			log.WithField("removed", removed).Debugf("stripped physical cells into %s", out)
		}
	}

	// 2. Parse netlists and the layout.
	topChecks, userChecks, err := r.configuredChecks(p)
	if err != nil {
		return nil, err
	}
	in := r.parseAll(ctx, p, userNetlist, requiredInputs(topChecks, userChecks), tr, log, result)
	if len(result.ParseErrors) > 0 {
		result.Reason = ReasonParseError
		for _, f := range result.ParseErrors {
			log.WithFields(logrus.Fields{"stage": f.Stage, "file": f.File, "kind": f.Kind}).Error(f.Message)
		}
		return r.finish(log, tr, p.Name, runStart, result)
	}

	// 3. Run the checks.
	stageStart := time.Now()
	userChecks = r.selectChecks(p, in, userChecks, log)
	sink := logSink(log, r.Config.IsRuleEnabled)
	params := r.Config.Params
	logIgnored(log, params.UserIgnoredCells(), in.user.ModuleTypes(), in.layout)

	topReport, err := checker.New(in.top, checker.WithGolden(in.golden)).Run(topChecks, checker.Params{
		MinInstances:             params.TopMinInstances,
		PowerNets:                params.CoreSidePower,
		IgnoredInstances:         params.TopIgnoredInstances(),
		Submodule:                p.UserModule,
		SubmodulePowerPins:       params.UserPowerPins,
		SubmoduleBannedPowerNets: params.BannedPowerNets(),
	}, sink)
	if err != nil {
		return nil, fmt.Errorf("top checks: %w", err)
	}

	opts := []checker.Option{checker.WithGolden(in.golden)}
	if in.layout != nil {
		opts = append(opts, checker.WithLayout(in.layout))
	}
	userReport, err := checker.New(in.user, opts...).Run(userChecks, checker.Params{
		MinInstances:     params.UserMinInstances,
		PowerNets:        params.UserPowerPins,
		IgnoredInstances: params.UserIgnoredCells(),
		IgnoredCells:     params.UserIgnoredCells(),
		SubcellTarget:    p.SubcellTarget,
		SubcellReference: in.subcell,
	}, sink)
	if err != nil {
		return nil, fmt.Errorf("user checks: %w", err)
	}
	r.stageDone(log, tr, span{Project: p.Name, Stage: "check"}, stageStart, nil)
	result.Top, result.User = topReport, userReport

	// 4. Contract, then policy.
	for _, report := range []*checker.Report{topReport, userReport} {
		if err := r.reports.Validate(report); err != nil {
			return nil, fmt.Errorf("report of %s: %w", report.Module, err)
		}
	}

	stageStart = time.Now()
	blocking := 0
	for _, report := range []*checker.Report{topReport, userReport} {
		decided, err := r.engine.Evaluate(ctx, policy.InputFromReport(report, r.severities(report)))
		if err != nil {
			return nil, fmt.Errorf("policy on %s: %w", report.Module, err)
		}
		result.Verdicts = append(result.Verdicts, decided.Verdicts...)
		blocking += len(decided.Blocking)
	}
	r.stageDone(log, tr, span{Project: p.Name, Stage: "policy"}, stageStart, nil)
	logVerdicts(log, result.Verdicts)

	result.Passed = blocking == 0
	result.Reason = ReasonPassed
	if !result.Passed {
		result.Reason = ReasonCheckFailed
	}
	return r.finish(log, tr, p.Name, runStart, result)
}

func (r *Runner) finish(log *logrus.Entry, tr *trace, project string, start time.Time, result *Result) (*Result, error) {
	if err := r.reports.ValidateResult(result); err != nil {
		return nil, fmt.Errorf("project result: %w", err)
	}
	r.saveCache(log)

	outcome := "passed"
	if !result.Passed {
		outcome = "failed"
	}
	tr.emit(span{Project: project, Stage: "total", Outcome: outcome}, start)
	if result.Passed {
		log.Info(PassedBanner)
	} else {
		log.WithField("reason", result.Reason).Error(FailedBanner)
	}
	return result, nil
}

func (r *Runner) strip(ctx context.Context, in, out string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return 0, fmt.Errorf("creating %s: %w", filepath.Dir(out), err)
	}
	return netlist.RemoveInstances(ctx, in, out, r.Config.Params.PhysicalCells)
}

// needs names the optional inputs the configured checks compare against.
type needs struct {
	golden, layout bool
}

func requiredInputs(top, user []checker.Name) needs {
	var n needs
	for _, name := range append(append([]checker.Name{}, top...), user...) {
		switch name {
		case checker.Ports, checker.PortTypes, checker.SubmoduleHooks:
			n.golden = true
		case checker.Layout:
			n.layout = true
		}
	}
	return n
}

func (r *Runner) parseAll(ctx context.Context, p config.Project, userNetlist string, need needs, tr *trace, log *logrus.Entry, result *Result) inputs {
	var in inputs
	kind := netlist.KindSpice
	if p.Verilog {
		kind = netlist.KindVerilog
	}
	opts := netlist.VerilogOptions{
		IncludeFiles: p.IncludeFiles,
		// The stripped copy lives elsewhere; keep its `include lookups working.
		IncludeDirs:  append(append([]string{}, p.IncludeDirs...), filepath.Dir(p.UserNetlist)),
		Defines:      p.Defines,
	}

	parse := func(stage, path, top string, kind netlist.Kind) *netlist.Netlist {
		start := time.Now()
		ir, source, err := r.parseNetlist(ctx, path, top, kind, opts)
		r.stageDone(log, tr, span{Project: p.Name, Stage: stage, File: path, Source: source}, start, err)
		if err != nil {
			result.ParseErrors = append(result.ParseErrors, classify(stage, path, err))
			return nil
		}
		return ir
	}

	in.top = parse(StageParse, p.TopNetlist, p.TopModule, kind)
	in.user = parse(StageParse, userNetlist, p.UserModule, kind)
	missing := func(stage, path, message string) {
		result.ParseErrors = append(result.ParseErrors, ParseFailure{Stage: stage, File: path, Kind: "io", Message: message})
	}

	if need.golden {
		if p.GoldenWrapper == "" {
			missing(StageGolden, "", "golden wrapper not configured")
		} else {
			in.golden = parse(StageGolden, p.GoldenWrapper, p.UserModule, "")
		}
	}
	if p.SubcellTarget != "" && p.SubcellNetlist != "" {
		in.subcell = parse(StageParse, p.SubcellNetlist, p.SubcellTarget, "")
	}

	switch {
	case layoutPresent(p.Layout):
		start := time.Now()
		h, err := layout.Parse(ctx, p.Layout, p.UserModule)
		r.stageDone(log, tr, span{Project: p.Name, Stage: StageLayout, File: p.Layout}, start, err)
		if err != nil {
			result.ParseErrors = append(result.ParseErrors, classify(StageLayout, p.Layout, err))
		} else {
			in.layout = h
		}
	case need.layout:
		missing(StageLayout, p.Layout, "layout not found")
	}
	return in
}

// parseNetlist parses through the IR cache when it is enabled. The returned
// source is "parsed" or "cache_hit", empty on failure.
func (r *Runner) parseNetlist(ctx context.Context, path, top string, kind netlist.Kind, opts netlist.VerilogOptions) (*netlist.Netlist, string, error) {
	src, err := netlist.SourceFor(path, kind, opts)
	if err != nil {
		return nil, "", err
	}

	cache := r.irCache()
	var hash string
	if cache != nil && !strings.Contains(path, "://") {
		files := []string{path}
		if src.Kind() == netlist.KindVerilog {
			files = append(files, opts.IncludeFiles...)
		}
		if h, err := hashInputs(struct {
			Kind    netlist.Kind
			Options netlist.VerilogOptions
		}{src.Kind(), opts}, files...); err == nil {
			hash = h
			ir, ok, err := cache.Get(path, top, hash)
			if err != nil {
				r.logger.WithError(err).Warn("cache read failed")
			} else if ok {
				return ir, "cache_hit", nil
			}
		}
	}

	ir, err := src.Parse(ctx, top)
	if err != nil {
		return nil, "", err
	}
	if hash != "" {
		if err := cache.Put(path, top, hash, ir); err != nil {
			r.logger.WithError(err).Warn("cache write failed")
		}
	}
	return ir, "parsed", nil
}

func (r *Runner) irCache() *irCache {
	if !r.Config.CacheEnabled() {
		return nil
	}
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	if r.cache == nil && !r.cacheBroken {
		c := newIRCache(resolveCacheDir(r.Root, r.Config.Analysis.Cache.Dir))
		if err := c.Load(); err != nil {
			r.logger.WithError(err).Warn("cache disabled")
			r.cacheBroken = true
			return nil
		}
		r.cache = c
	}
	return r.cache
}

func (r *Runner) saveCache(log *logrus.Entry) {
	r.cacheMu.Lock()
	c := r.cache
	r.cacheMu.Unlock()
	if c == nil {
		return
	}
	if err := c.Save(); err != nil {
		log.WithError(err).Warn("cache index not saved")
	}
}

// configuredChecks parses the check lists of the config. Verilog user
// netlists also get port_types.
func (r *Runner) configuredChecks(p config.Project) ([]checker.Name, []checker.Name, error) {
	top, err := checker.ParseNames(r.Config.Checks.Top)
	if err != nil {
		return nil, nil, err
	}
	user, err := checker.ParseNames(r.Config.Checks.User)
	if err != nil {
		return nil, nil, err
	}
	if p.Verilog && !contains(user, checker.PortTypes) {
		user = append(user, checker.PortTypes)
	}
	return top, user, nil
}

// selectChecks settles layout_subcell, the only check whose inputs are
// optional: it is added when a subcell netlist and the layout are both
// present and dropped with a warning when either is absent.
func (r *Runner) selectChecks(p config.Project, in inputs, user []checker.Name, log *logrus.Entry) []checker.Name {
	ready := in.subcell != nil && in.layout != nil
	if ready && !contains(user, checker.LayoutSubcell) {
		return append(user, checker.LayoutSubcell)
	}
	if ready || !contains(user, checker.LayoutSubcell) {
		return user
	}
	out := make([]checker.Name, 0, len(user))
	for _, name := range user {
		if name == checker.LayoutSubcell {
			log.WithFields(logrus.Fields{"module": p.UserModule, "check": name}).Warn("check skipped: input not provided")
			continue
		}
		out = append(out, name)
	}
	return out
}

// severities resolves the configured severity of every check in report.
func (r *Runner) severities(report *checker.Report) map[string]string {
	out := make(map[string]string, len(report.Checks))
	for _, name := range report.Checks {
		out[string(name)] = r.Config.GetRuleSeverity(string(name), "error")
	}
	return out
}

func (r *Runner) stageDone(log *logrus.Entry, tr *trace, s span, start time.Time, err error) {
	s.Outcome = "ok"
	if err != nil {
		s.Outcome = "failed"
	}
	tr.emit(s, start)
	fields := logrus.Fields{"stage": s.Stage, "duration_ms": millis(time.Since(start))}
	if s.File != "" {
		fields["file"] = s.File
	}
	if s.Source != "" {
		fields["source"] = s.Source
	}
	log.WithFields(fields).Debug(s.Outcome)
}

// classify maps a stage error onto its parse failure kind.
func classify(stage, file string, err error) ParseFailure {
	f := ParseFailure{Stage: stage, File: file, Kind: "io", Message: err.Error()}

	var parseErr *netlist.ParseError
	var notFound *netlist.ModuleNotFoundError
	var layoutErr *layout.ParseError
	var mismatch *layout.TopCellMismatchError
	var defect *layout.EmptyOrGhostCellError
	switch {
	case errors.As(err, &parseErr), errors.As(err, &layoutErr):
		f.Kind = "parse_error"
	case errors.As(err, &notFound):
		f.Kind = "module_not_found"
	case errors.As(err, &mismatch):
		f.Kind = "top_cell_mismatch"
	case errors.As(err, &defect):
		f.Kind = "empty_or_ghost_cell"
	}
	return f
}

func layoutPresent(path string) bool {
	if path == "" {
		return false
	}
	if strings.Contains(path, "://") {
		return true
	}
	_, err := os.Stat(path)
	return err == nil
}

func contains(names []checker.Name, name checker.Name) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
