package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestResolveProjectDefaults(t *testing.T) {
	root := t.TempDir()
	cfg := Config{Projects: []ProjectConfig{{InputDirectory: "caravel_user_project"}}}

	projects, err := cfg.ResolveProjects(root)
	if err != nil {
		t.Fatalf("ResolveProjects: %v", err)
	}
	if len(projects) != 1 {
		t.Fatalf("expected 1 project, got %d", len(projects))
	}
	p := projects[0]
	input := filepath.Join(root, "caravel_user_project")

	if p.Name != "caravel_user_project" {
		t.Fatalf("expected name from input directory, got %q", p.Name)
	}
	if p.TopModule != "caravel" || p.UserModule != "user_project_wrapper" {
		t.Fatalf("expected caravel/user_project_wrapper, got %s/%s", p.TopModule, p.UserModule)
	}
	if want := filepath.Join(input, "verilog", "gl", "caravel.v"); p.TopNetlist != want {
		t.Fatalf("expected top netlist %s, got %s", want, p.TopNetlist)
	}
	if want := filepath.Join(input, "gds", "user_project_wrapper.gds"); p.Layout != want {
		t.Fatalf("expected layout %s, got %s", want, p.Layout)
	}
	if want := GoldenPrefix + "/__user_project_wrapper.v"; p.GoldenWrapper != want {
		t.Fatalf("expected golden wrapper %s, got %s", want, p.GoldenWrapper)
	}
	if !reflect.DeepEqual(p.Defines, []string{"USE_POWER_PINS"}) {
		t.Fatalf("expected USE_POWER_PINS define, got %v", p.Defines)
	}
	if !p.Verilog {
		t.Fatalf("expected verilog netlists")
	}
}

func TestResolveAnalogSpiceProject(t *testing.T) {
	root := t.TempDir()
	cfg := Config{Projects: []ProjectConfig{{InputDirectory: root, Analog: true, NetlistType: "spice"}}}

	projects, err := cfg.ResolveProjects(root)
	if err != nil {
		t.Fatalf("ResolveProjects: %v", err)
	}
	p := projects[0]
	if p.TopModule != "caravan" || p.UserModule != "user_analog_project_wrapper" {
		t.Fatalf("expected caravan/user_analog_project_wrapper, got %s/%s", p.TopModule, p.UserModule)
	}
	if !strings.HasSuffix(p.UserNetlist, "user_analog_project_wrapper.spice") {
		t.Fatalf("expected spice user netlist, got %s", p.UserNetlist)
	}
	if p.Verilog {
		t.Fatalf("expected spice netlists")
	}
	if !strings.HasSuffix(p.GoldenWrapper, "/__user_analog_project_wrapper.v") {
		t.Fatalf("expected the analog golden wrapper, got %s", p.GoldenWrapper)
	}
}

func TestResolveProjectErrors(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		name    string
		project ProjectConfig
	}{
		{name: "no input directory", project: ProjectConfig{}},
		{name: "mixed netlist types", project: ProjectConfig{InputDirectory: root, TopNetlist: "a.v", UserNetlist: "b.spice"}},
		{name: "unknown netlist type", project: ProjectConfig{InputDirectory: root, NetlistType: "edif"}},
		{name: "missing include file", project: ProjectConfig{InputDirectory: root, IncludeFiles: []string{"defines.v"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Projects: []ProjectConfig{tt.project}}
			if _, err := cfg.ResolveProjects(root); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestResolveIncludeFiles(t *testing.T) {
	root := t.TempDir()
	defines := filepath.Join(root, "verilog", "rtl", "defines.v")
	nested := filepath.Join(root, "verilog", "rtl", "sub", "user_defines.v")
	writeFile(t, defines, "`define X\n")
	writeFile(t, nested, "`define Y\n")
	writeFile(t, filepath.Join(root, "verilog", "rtl", "sub", "notes.txt"), "")

	cfg := Config{Projects: []ProjectConfig{{
		InputDirectory: root,
		IncludeFiles:   []string{"verilog/rtl/**/*.v"},
		IncludeDirs:    []string{"verilog/rtl"},
	}}}
	projects, err := cfg.ResolveProjects(root)
	if err != nil {
		t.Fatalf("ResolveProjects: %v", err)
	}
	p := projects[0]
	if want := []string{defines, nested}; !reflect.DeepEqual(p.IncludeFiles, want) {
		t.Fatalf("expected include files %v, got %v", want, p.IncludeFiles)
	}
	if want := []string{filepath.Join(root, "verilog", "rtl")}; !reflect.DeepEqual(p.IncludeDirs, want) {
		t.Fatalf("expected include dirs %v, got %v", want, p.IncludeDirs)
	}
	if cfg.Projects[0].IncludeDirs[0] != "verilog/rtl" {
		t.Fatalf("expected the source config to stay untouched")
	}

	inputs := p.InputFiles()
	if len(inputs) != 5 {
		t.Fatalf("expected netlists, layout and includes as inputs, got %v", inputs)
	}
}

func TestInputFilesSkipURLs(t *testing.T) {
	p := Project{ProjectConfig: ProjectConfig{
		TopNetlist:    "/p/caravel.v",
		UserNetlist:   "/p/user.v",
		Layout:        "/p/user.gds",
		GoldenWrapper: "https://example.com/golden.v",
	}}
	if got := p.InputFiles(); len(got) != 3 {
		t.Fatalf("expected only local files, got %v", got)
	}
}
