package validator

import (
	"strings"
	"testing"

	"github.com/efabless/mpw-precheck/internal/checker"
	"github.com/efabless/mpw-precheck/internal/config"
)

func passingReport() *checker.Report {
	return &checker.Report{
		Module: "user_project_wrapper",
		Checks: []checker.Name{checker.Ports},
		PerCheck: map[checker.Name]*checker.Result{
			checker.Ports: {Passed: true, Message: "ports match", Mismatches: []string{}, Warnings: []string{}},
		},
		OverallPassed: true,
	}
}

// TestReportContract makes sure a report the policy cannot read never
// reaches it.
func TestReportContract(t *testing.T) {
	v, err := NewReportValidator()
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}

	tests := []struct {
		name    string
		data    interface{}
		wantErr bool
	}{
		{
			name:    "valid_report",
			data:    passingReport(),
			wantErr: false,
		},
		{
			name: "overall_disagrees_with_checks",
			data: func() *checker.Report {
				r := passingReport()
				r.PerCheck[checker.Ports].Passed = false
				return r
			}(),
			wantErr: true,
		},
		{
			name: "unknown_check_name",
			data: map[string]interface{}{
				"module":         "m",
				"checks":         []interface{}{"xor"},
				"per_check":      map[string]interface{}{},
				"overall_passed": true,
			},
			wantErr: true,
		},
		{
			name: "null_mismatches",
			data: map[string]interface{}{
				"module": "m",
				"checks": []interface{}{"power"},
				"per_check": map[string]interface{}{
					"power": map[string]interface{}{"passed": true, "message": "ok", "mismatches": nil, "warnings": []interface{}{}},
				},
				"overall_passed": true,
			},
			wantErr: true,
		},
		{
			name: "empty_message",
			data: func() *checker.Report {
				r := passingReport()
				r.PerCheck[checker.Ports].Message = ""
				return r
			}(),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestReportValidationErrors(t *testing.T) {
	v, err := NewReportValidator()
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}

	empty := map[string]interface{}{"module": "m", "checks": []interface{}{}, "per_check": map[string]interface{}{}, "overall_passed": true}
	if errs := v.ValidationErrors(empty); errs != nil {
		t.Fatalf("expected empty report to validate, got %v", errs)
	}
	empty["extra"] = 1
	if errs := v.ValidationErrors(empty); len(errs) == 0 {
		t.Fatalf("expected unknown field to be rejected")
	}

	errs := v.ValidationErrors(map[string]interface{}{"module": "", "checks": []interface{}{}, "per_check": map[string]interface{}{}, "overall_passed": true})
	if len(errs) == 0 {
		t.Fatalf("expected validation errors for an empty module name")
	}
	if v.ValidationErrors(passingReport()) != nil {
		t.Fatalf("expected no errors for a valid report")
	}

	bad := passingReport()
	bad.Module = ""
	err = v.Validate(bad)
	if err == nil || !strings.Contains(err.Error(), "schema validation failed") || !strings.Contains(err.Error(), "module") {
		t.Fatalf("expected the violation listed in the error, got %v", err)
	}
}

func TestProjectResultContract(t *testing.T) {
	v, err := NewReportValidator()
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}

	ok := map[string]interface{}{
		"project":            "demo",
		"passed":             true,
		"reason":             "passed",
		"user":               passingReport(),
		"stripped_instances": 12,
		"parse_errors":       []interface{}{},
		"verdicts": []interface{}{
			map[string]interface{}{"check": "ports", "module": "user_project_wrapper", "level": "pass", "message": "ports match", "mismatches": []interface{}{}},
		},
	}
	if err := v.ValidateResult(ok); err != nil {
		t.Fatalf("expected valid result: %v", err)
	}

	failure := map[string]interface{}{"stage": "layout", "file": "user.gds", "kind": "io", "message": "layout not found"}
	tests := []struct {
		name    string
		mutate  func(r map[string]interface{})
		wantErr bool
	}{
		{name: "passed", mutate: func(r map[string]interface{}) {}},
		{name: "check_failed", mutate: func(r map[string]interface{}) {
			r["passed"], r["reason"] = false, "check_failed"
		}},
		{name: "parse_error", mutate: func(r map[string]interface{}) {
			r["passed"], r["reason"] = false, "parse_error"
			r["parse_errors"] = []interface{}{failure}
			r["verdicts"] = []interface{}{}
			delete(r, "user")
		}},
		{name: "parse_error_without_failures", wantErr: true, mutate: func(r map[string]interface{}) {
			r["passed"], r["reason"] = false, "parse_error"
			r["verdicts"] = []interface{}{}
		}},
		{name: "passed_flag_disagrees", wantErr: true, mutate: func(r map[string]interface{}) {
			r["passed"] = false
		}},
		{name: "failed_with_parse_errors", wantErr: true, mutate: func(r map[string]interface{}) {
			r["passed"], r["reason"] = false, "check_failed"
			r["parse_errors"] = []interface{}{failure}
		}},
		{name: "unknown_reason", wantErr: true, mutate: func(r map[string]interface{}) {
			r["reason"] = "skipped"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := make(map[string]interface{}, len(ok))
			for k, val := range ok {
				r[k] = val
			}
			tt.mutate(r)
			err := v.ValidateResult(r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateResult() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), "schema validation failed") {
				t.Fatalf("expected wrapped schema error, got %v", err)
			}
		})
	}
}

func TestConfigContract(t *testing.T) {
	v, err := NewConfigValidator()
	if err != nil {
		t.Fatalf("Failed to create config validator: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Projects = append(cfg.Projects, config.ProjectConfig{InputDirectory: "/tmp/demo", NetlistType: "spice"})
	if err := v.Validate(cfg); err != nil {
		t.Fatalf("expected default config to validate: %v", err)
	}

	bad := config.DefaultConfig()
	bad.Lint.Rules["power"] = "fatal"
	if err := v.Validate(bad); err == nil {
		t.Fatalf("expected unknown severity to be rejected")
	}

	bad = config.DefaultConfig()
	bad.Checks.User = append(bad.Checks.User, "drc")
	if err := v.Validate(bad); err == nil {
		t.Fatalf("expected unknown check to be rejected")
	}
}
