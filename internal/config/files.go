package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// GoldenPrefix is where the empty wrapper of every harness is published.
const GoldenPrefix = "https://raw.githubusercontent.com/efabless/caravel/master/verilog/rtl"

// Project is a ProjectConfig with every default applied and every local path
// made absolute.
type Project struct {
	ProjectConfig
	// Verilog reports whether the netlists are Verilog (false means SPICE).
	Verilog bool
}

// ResolveProjects applies harness defaults to every project and expands
// include file patterns relative to rootPath.
func (c *Config) ResolveProjects(rootPath string) ([]Project, error) {
	projects := make([]Project, 0, len(c.Projects))
	for i, p := range c.Projects {
		resolved, err := resolveProject(p, rootPath)
		if err != nil {
			name := p.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return nil, fmt.Errorf("project %s: %w", name, err)
		}
		projects = append(projects, resolved)
	}
	return projects, nil
}

func resolveProject(p ProjectConfig, rootPath string) (Project, error) {
	if p.InputDirectory == "" {
		return Project{}, fmt.Errorf("input_directory is required")
	}
	p.InputDirectory = absolute(rootPath, p.InputDirectory)
	if p.Name == "" {
		p.Name = filepath.Base(p.InputDirectory)
	}

	if p.TopModule == "" {
		p.TopModule = "caravel"
		if p.Analog {
			p.TopModule = "caravan"
		}
	}
	if p.UserModule == "" {
		p.UserModule = "user_project_wrapper"
		if p.Analog {
			p.UserModule = "user_analog_project_wrapper"
		}
	}

	ext := ".v"
	if p.NetlistType == "spice" {
		ext = ".spice"
	}
	gl := filepath.Join(p.InputDirectory, "verilog", "gl")
	if p.NetlistType == "spice" {
		gl = filepath.Join(p.InputDirectory, "spi", "lvs")
	}
	if p.TopNetlist == "" {
		p.TopNetlist = filepath.Join(gl, p.TopModule+ext)
	}
	if p.UserNetlist == "" {
		p.UserNetlist = filepath.Join(gl, p.UserModule+ext)
	}
	if p.Layout == "" {
		p.Layout = filepath.Join(p.InputDirectory, "gds", p.UserModule+".gds")
	}
	if p.GoldenWrapper == "" {
		p.GoldenWrapper = GoldenPrefix + "/__" + p.UserModule + ".v"
	}
	if p.OutputDirectory == "" {
		p.OutputDirectory = filepath.Join(p.InputDirectory, "precheck_results")
	}
	if p.Defines == nil {
		p.Defines = []string{"USE_POWER_PINS"}
	}

	p.TopNetlist = absolute(p.InputDirectory, p.TopNetlist)
	p.UserNetlist = absolute(p.InputDirectory, p.UserNetlist)
	p.Layout = absolute(p.InputDirectory, p.Layout)
	p.OutputDirectory = absolute(p.InputDirectory, p.OutputDirectory)
	if p.GoldenWrapper != "" {
		p.GoldenWrapper = absolute(p.InputDirectory, p.GoldenWrapper)
	}
	if p.SubcellNetlist != "" {
		p.SubcellNetlist = absolute(p.InputDirectory, p.SubcellNetlist)
	}
	dirs := make([]string, 0, len(p.IncludeDirs))
	for _, dir := range p.IncludeDirs {
		dirs = append(dirs, absolute(p.InputDirectory, dir))
	}
	p.IncludeDirs = dirs

	var includes []string
	for _, pattern := range p.IncludeFiles {
		matches, err := expandGlob(absolute(p.InputDirectory, pattern))
		if err != nil {
			return Project{}, fmt.Errorf("include_files %q: %w", pattern, err)
		}
		if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[{") {
			return Project{}, fmt.Errorf("include file %s not found", pattern)
		}
		includes = append(includes, matches...)
	}
	p.IncludeFiles = includes

	verilog, err := netlistIsVerilog(p)
	if err != nil {
		return Project{}, err
	}
	return Project{ProjectConfig: p, Verilog: verilog}, nil
}

// netlistIsVerilog settles the netlist type: an explicit netlist_type wins,
// otherwise both netlists must share a .v or a .spice extension.
func netlistIsVerilog(p ProjectConfig) (bool, error) {
	switch p.NetlistType {
	case "verilog":
		return true, nil
	case "spice":
		return false, nil
	case "":
	default:
		return false, fmt.Errorf("unknown netlist_type %q", p.NetlistType)
	}
	top := strings.ToLower(filepath.Ext(p.TopNetlist))
	user := strings.ToLower(filepath.Ext(p.UserNetlist))
	switch {
	case top == ".v" && user == ".v":
		return true, nil
	case top == ".spice" && user == ".spice":
		return false, nil
	}
	return false, fmt.Errorf("netlists must both be verilog (.v) or spice (.spice), got %s and %s", top, user)
}

// InputFiles lists the local files a run of p reads.
func (p Project) InputFiles() []string {
	files := []string{p.TopNetlist, p.UserNetlist, p.Layout}
	if p.GoldenWrapper != "" {
		files = append(files, p.GoldenWrapper)
	}
	if p.SubcellNetlist != "" {
		files = append(files, p.SubcellNetlist)
	}
	files = append(files, p.IncludeFiles...)

	var local []string
	for _, f := range files {
		if !strings.Contains(f, "://") {
			local = append(local, f)
		}
	}
	return local
}

func absolute(base, path string) string {
	if strings.Contains(path, "://") || filepath.IsAbs(path) {
		return path
	}
	if base == "" {
		if abs, err := filepath.Abs(path); err == nil {
			return abs
		}
		return path
	}
	return filepath.Join(base, path)
}

// expandGlob expands a glob pattern, handling ** for recursive matching
func expandGlob(pattern string) ([]string, error) {
	if !strings.Contains(pattern, "**") {
		matches, err := filepath.Glob(pattern)
		sort.Strings(matches)
		return matches, err
	}
	return expandDoubleStarGlob(pattern)
}

// expandDoubleStarGlob handles ** patterns by walking the directory tree
func expandDoubleStarGlob(pattern string) ([]string, error) {
	parts := strings.SplitN(pattern, "**", 2)
	baseDir := filepath.Clean(parts[0])
	if baseDir == "" {
		baseDir = "."
	}
	suffix := strings.TrimPrefix(parts[1], string(filepath.Separator))

	matcher, err := glob.Compile("**"+string(filepath.Separator)+suffix, filepath.Separator)
	if err != nil {
		return nil, err
	}

	var results []string
	err = filepath.Walk(baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors, continue walking
		}
		if info.IsDir() {
			return nil
		}
		relPath, err := filepath.Rel(baseDir, path)
		if err != nil {
			return nil
		}
		if suffix == "" || matcher.Match(relPath) || matcher.Match(string(filepath.Separator)+relPath) {
			results = append(results, path)
		}
		return nil
	})
	sort.Strings(results)
	return results, err
}
