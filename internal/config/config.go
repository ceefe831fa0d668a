package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the consistency checker
type Config struct {
	// Projects lists the designs to check
	Projects []ProjectConfig `json:"projects" yaml:"projects"`

	// Checks selects the checks run on the top and the user netlist
	Checks ChecksConfig `json:"checks" yaml:"checks"`

	// Params holds the power domains and cell lists of the harness
	Params ParamsConfig `json:"params" yaml:"params"`

	// Lint contains per-check severities
	Lint LintConfig `json:"lint" yaml:"lint"`

	// Analysis contains pipeline options
	Analysis AnalysisConfig `json:"analysis" yaml:"analysis"`
}

// ProjectConfig describes one user project inside the harness
type ProjectConfig struct {
	Name           string `json:"name,omitempty" yaml:"name,omitempty"`
	InputDirectory string `json:"input_directory" yaml:"input_directory"`

	// OutputDirectory receives the stripped netlist (default <input_directory>/precheck_results)
	OutputDirectory string `json:"output_directory,omitempty" yaml:"output_directory,omitempty"`

	// NetlistType is "verilog", "spice" or empty to infer it from the file extension
	NetlistType string `json:"netlist_type,omitempty" yaml:"netlist_type,omitempty"`

	TopNetlist  string `json:"top_netlist,omitempty" yaml:"top_netlist,omitempty"`
	UserNetlist string `json:"user_netlist,omitempty" yaml:"user_netlist,omitempty"`
	TopModule   string `json:"top_module,omitempty" yaml:"top_module,omitempty"`
	UserModule  string `json:"user_module,omitempty" yaml:"user_module,omitempty"`
	Layout      string `json:"layout,omitempty" yaml:"layout,omitempty"`

	// GoldenWrapper is the empty reference wrapper, a path or a URL (default
	// the published caravel wrapper of UserModule)
	GoldenWrapper string `json:"golden_wrapper,omitempty" yaml:"golden_wrapper,omitempty"`

	// SubcellTarget names a child of the user layout whose cells are compared
	// with SubcellNetlist by the layout_subcell check
	SubcellTarget  string `json:"subcell_target,omitempty" yaml:"subcell_target,omitempty"`
	SubcellNetlist string `json:"subcell_netlist,omitempty" yaml:"subcell_netlist,omitempty"`

	// IncludeFiles are glob patterns of files prepended to every Verilog netlist
	IncludeFiles []string `json:"include_files,omitempty" yaml:"include_files,omitempty"`
	IncludeDirs  []string `json:"include_dirs,omitempty" yaml:"include_dirs,omitempty"`
	Defines      []string `json:"defines,omitempty" yaml:"defines,omitempty"`

	// Analog selects the caravan harness instead of caravel
	Analog bool `json:"analog,omitempty" yaml:"analog,omitempty"`
}

// ChecksConfig lists check names per netlist
type ChecksConfig struct {
	Top  []string `json:"top" yaml:"top"`
	User []string `json:"user" yaml:"user"`
}

// ParamsConfig holds the check parameters of the harness
type ParamsConfig struct {
	TopMinInstances  int `json:"top_min_instances" yaml:"top_min_instances"`
	UserMinInstances int `json:"user_min_instances" yaml:"user_min_instances"`

	// CoreSidePower are the nets every top-level instance must touch
	CoreSidePower []string `json:"core_side_power" yaml:"core_side_power"`

	// UserPowerPins are the power pins of the user wrapper
	UserPowerPins []string `json:"user_power_pins" yaml:"user_power_pins"`

	// ManagementPower are the management rails the user wrapper must not touch
	ManagementPower []string `json:"management_power" yaml:"management_power"`

	IgnoredPowerCells []string `json:"ignored_power_cells" yaml:"ignored_power_cells"`
	IgnoredTextBlocks []string `json:"ignored_text_blocks" yaml:"ignored_text_blocks"`

	// PhysicalCells are glob patterns of filler, decap, tap and diode cells
	PhysicalCells []string `json:"physical_cells" yaml:"physical_cells"`

	// IgnoredCells are extra glob patterns skipped by the power and layout checks
	IgnoredCells []string `json:"ignored_cells,omitempty" yaml:"ignored_cells,omitempty"`
}

// LintConfig contains per-check severities
type LintConfig struct {
	// Rules maps check names to severity: "off", "warning", "error"
	Rules map[string]string `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// CacheConfig controls the parsed netlist cache
type CacheConfig struct {
	// Enabled turns on cache usage
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`

	// Dir is the cache directory (relative to the working directory if not absolute)
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// AnalysisConfig contains pipeline options
type AnalysisConfig struct {
	// MaxParallelProjects limits concurrent project runs (0 = auto)
	MaxParallelProjects int `json:"maxParallelProjects,omitempty" yaml:"maxParallelProjects,omitempty"`

	// StripPhysicalCells removes physical cells from Verilog user netlists before parsing
	StripPhysicalCells *bool `json:"strip_physical_cells,omitempty" yaml:"strip_physical_cells,omitempty"`

	// Cache controls the parsed netlist cache
	Cache CacheConfig `json:"cache,omitempty" yaml:"cache,omitempty"`

	// Timing is the JSONL file stage timings are appended to
	Timing string `json:"timing,omitempty" yaml:"timing,omitempty"`

	// PolicyDir replaces the built-in verdict policy with the .rego files it holds
	PolicyDir string `json:"policy_dir,omitempty" yaml:"policy_dir,omitempty"`
}

// Sky130 standard cell libraries searched for physical cells.
var standardCellLibraries = []string{"hd", "hdll", "hs", "lp", "ls", "ms", "hvl"}

var physicalCellKinds = []string{"decap", "diode", "fakediode", "fill", "fill_diode", "tapvpwrvgnd"}

func physicalCellPatterns() []string {
	var patterns []string
	for _, kind := range physicalCellKinds {
		for _, lib := range standardCellLibraries {
			patterns = append(patterns, fmt.Sprintf("sky130_fd_sc_%s__%s_*", lib, kind))
		}
	}
	return patterns
}

func coreSidePower() []string {
	var nets []string
	for _, net := range []string{"vccd", "vccd1", "vccd2", "vdda1", "vdda2", "vssa", "vssa1", "vssa2", "vssd", "vssd1", "vssd2"} {
		nets = append(nets, net+"_core")
	}
	return nets
}

// DefaultParams returns the caravel harness constants
func DefaultParams() ParamsConfig {
	return ParamsConfig{
		TopMinInstances:   8,
		UserMinInstances:  1,
		CoreSidePower:     coreSidePower(),
		UserPowerPins:     []string{"vccd1", "vccd2", "vdda1", "vdda2", "vssa1", "vssa2", "vssd1", "vssd2"},
		ManagementPower:   []string{"vccd", "vdda", "vddio", "vssa", "vssd", "vssio"},
		IgnoredPowerCells: []string{"caravan_power_routing", "caravel_power_routing"},
		IgnoredTextBlocks: []string{"copyright_block", "copyright_block_a", "open_source", "user_id_textblock"},
		PhysicalCells:     physicalCellPatterns(),
		IgnoredCells:      []string{},
	}
}

// DefaultChecks returns the check lists of the caravel flow. port_types is
// added to the user list at run time for Verilog netlists.
func DefaultChecks() ChecksConfig {
	return ChecksConfig{
		Top:  []string{"power", "hierarchy", "complexity", "modeling", "submodule_hooks"},
		User: []string{"power", "ports", "complexity", "modeling", "layout"},
	}
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Projects: []ProjectConfig{},
		Checks:   DefaultChecks(),
		Params:   DefaultParams(),
		Lint: LintConfig{
			Rules: map[string]string{},
		},
		Analysis: AnalysisConfig{
			MaxParallelProjects: 0, // auto
			StripPhysicalCells:  boolPtr(true),
			Cache: CacheConfig{
				Enabled: boolPtr(true),
				Dir:     ".precheck_cache",
			},
		},
	}
}

func boolPtr(v bool) *bool {
	return &v
}

// configNames are the file names Load looks for, in order.
var configNames = []string{"precheck.json", ".precheck.json", "precheck.yaml", ".precheck.yaml"}

// Load finds and loads the configuration file
// Search order:
//  1. ./precheck.json, ./.precheck.json, ./precheck.yaml, ./.precheck.yaml
//  2. the same names under <rootPath> (if different from cwd)
//  3. ~/.config/mpw_precheck/config.json
//
// Returns DefaultConfig if no config file is found
func Load(rootPath string) (*Config, error) {
	cwd, _ := os.Getwd()

	var searchPaths []string
	for _, name := range configNames {
		searchPaths = append(searchPaths, filepath.Join(cwd, name))
	}

	if info, err := os.Stat(rootPath); err == nil && info.IsDir() {
		absRoot, _ := filepath.Abs(rootPath)
		if absRoot != cwd {
			for _, name := range configNames {
				searchPaths = append(searchPaths, filepath.Join(rootPath, name))
			}
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "mpw_precheck", "config.json"))
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}

	return DefaultConfig(), nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadFile loads configuration from a specific file, JSON or YAML by extension
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if isYAML(path) {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults fills in missing configuration with defaults
func (c *Config) applyDefaults() {
	if c.Projects == nil {
		c.Projects = []ProjectConfig{}
	}

	checks := DefaultChecks()
	if c.Checks.Top == nil {
		c.Checks.Top = checks.Top
	}
	if c.Checks.User == nil {
		c.Checks.User = checks.User
	}

	params := DefaultParams()
	if c.Params.TopMinInstances == 0 {
		c.Params.TopMinInstances = params.TopMinInstances
	}
	if c.Params.UserMinInstances == 0 {
		c.Params.UserMinInstances = params.UserMinInstances
	}
	if c.Params.CoreSidePower == nil {
		c.Params.CoreSidePower = params.CoreSidePower
	}
	if c.Params.UserPowerPins == nil {
		c.Params.UserPowerPins = params.UserPowerPins
	}
	if c.Params.ManagementPower == nil {
		c.Params.ManagementPower = params.ManagementPower
	}
	if c.Params.IgnoredPowerCells == nil {
		c.Params.IgnoredPowerCells = params.IgnoredPowerCells
	}
	if c.Params.IgnoredTextBlocks == nil {
		c.Params.IgnoredTextBlocks = params.IgnoredTextBlocks
	}
	if c.Params.PhysicalCells == nil {
		c.Params.PhysicalCells = params.PhysicalCells
	}
	if c.Params.IgnoredCells == nil {
		c.Params.IgnoredCells = []string{}
	}

	if c.Lint.Rules == nil {
		c.Lint.Rules = make(map[string]string)
	}

	if c.Analysis.StripPhysicalCells == nil {
		c.Analysis.StripPhysicalCells = boolPtr(true)
	}
	if c.Analysis.Cache.Dir == "" {
		c.Analysis.Cache.Dir = ".precheck_cache"
	}
	if c.Analysis.Cache.Enabled == nil {
		c.Analysis.Cache.Enabled = boolPtr(true)
	}
}

// Save writes the configuration to a file, JSON or YAML by extension
func (c *Config) Save(path string) error {
	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// GetRuleSeverity returns the severity for a check, or the default if not configured
func (c *Config) GetRuleSeverity(rule string, defaultSeverity string) string {
	if severity, ok := c.Lint.Rules[rule]; ok {
		return severity
	}
	return defaultSeverity
}

// IsRuleEnabled returns true if the check is not set to "off"
func (c *Config) IsRuleEnabled(rule string) bool {
	if severity, ok := c.Lint.Rules[rule]; ok {
		return severity != "off"
	}
	return true // enabled by default
}

// CacheEnabled reports whether parsed netlists are cached
func (c *Config) CacheEnabled() bool {
	return c.Analysis.Cache.Enabled == nil || *c.Analysis.Cache.Enabled
}

// StripEnabled reports whether physical cells are stripped before parsing
func (c *Config) StripEnabled() bool {
	return c.Analysis.StripPhysicalCells == nil || *c.Analysis.StripPhysicalCells
}

// BannedPowerNets returns the management rails and their core-side names
func (p ParamsConfig) BannedPowerNets() []string {
	nets := append([]string{}, p.ManagementPower...)
	for _, net := range p.ManagementPower {
		nets = append(nets, net+"_core")
	}
	return nets
}

// TopIgnoredInstances returns the instances exempt from the top power check
func (p ParamsConfig) TopIgnoredInstances() []string {
	out := append([]string{}, p.IgnoredPowerCells...)
	out = append(out, p.IgnoredTextBlocks...)
	return append(out, p.IgnoredCells...)
}

// UserIgnoredCells returns the cells exempt from the user power and layout checks
func (p ParamsConfig) UserIgnoredCells() []string {
	out := append([]string{}, p.PhysicalCells...)
	return append(out, p.IgnoredCells...)
}
