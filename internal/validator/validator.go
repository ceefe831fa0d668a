package validator

// =============================================================================
// CONTRACT GUARD
// =============================================================================
//
// The CUE schemas are the contract between the checker, the policy engine and
// whoever consumes the JSON result document.
//
// Without validation a renamed field or a wrong type reaches the Rego policy
// as `undefined`, the rule silently does not fire and a broken project looks
// clean. With validation the run stops with "field 'per_chek' not allowed"
// and the fix is obvious.
//
// WHEN VALIDATION FAILS:
// 1. DON'T relax the schema to make the error go away
// 2. DO find out whether the checker, the driver or the config is wrong
// =============================================================================

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed report_schema.cue
var reportSchemaFS embed.FS

//go:embed config_schema.cue
var configSchemaFS embed.FS

// schema is one compiled CUE file.
type schema struct {
	ctx   *cue.Context
	value cue.Value
}

func loadSchema(fs embed.FS, name string) (*schema, error) {
	ctx := cuecontext.New()

	schemaBytes, err := fs.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("loading embedded schema %s: %w", name, err)
	}

	value := ctx.CompileBytes(schemaBytes)
	if value.Err() != nil {
		return nil, fmt.Errorf("compiling schema %s: %w", name, value.Err())
	}

	return &schema{ctx: ctx, value: value}, nil
}

// unify checks JSON data against the named definition.
func (s *schema) unify(jsonBytes []byte, path string) error {
	dataValue := s.ctx.CompileBytes(jsonBytes)
	if dataValue.Err() != nil {
		return fmt.Errorf("compiling data as CUE: %w", dataValue.Err())
	}

	def := s.value.LookupPath(cue.ParsePath(path))
	if def.Err() != nil {
		return fmt.Errorf("looking up %s definition: %w", path, def.Err())
	}

	unified := def.Unify(dataValue)
	return unified.Validate(cue.Concrete(true))
}

func (s *schema) validate(data interface{}, path string) error {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling data to JSON: %w", err)
	}
	if err := s.unify(jsonBytes, path); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// ReportValidator validates checker reports and pipeline results.
type ReportValidator struct {
	schema *schema
}

// NewReportValidator creates a validator with the embedded report schema
func NewReportValidator() (*ReportValidator, error) {
	s, err := loadSchema(reportSchemaFS, "report_schema.cue")
	if err != nil {
		return nil, err
	}
	return &ReportValidator{schema: s}, nil
}

// Validate checks a checker.Report and lists every violation in the error.
func (v *ReportValidator) Validate(report interface{}) error {
	if errs := v.ValidationErrors(report); len(errs) > 0 {
		return fmt.Errorf("schema validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateResult checks the result document of one project run.
func (v *ReportValidator) ValidateResult(result interface{}) error {
	return v.schema.validate(result, "#ProjectResult")
}

// ValidationErrors returns every violation of the report schema, one per entry
func (v *ReportValidator) ValidationErrors(report interface{}) []string {
	jsonBytes, err := json.Marshal(report)
	if err != nil {
		return []string{fmt.Sprintf("marshal error: %v", err)}
	}

	err = v.schema.unify(jsonBytes, "#Report")
	if err == nil {
		return nil
	}

	var errs []string
	for _, e := range errors.Errors(err) {
		errs = append(errs, e.Error())
	}
	return errs
}

// ConfigValidator validates a loaded project configuration.
type ConfigValidator struct {
	schema *schema
}

// NewConfigValidator creates a validator with the embedded config schema
func NewConfigValidator() (*ConfigValidator, error) {
	s, err := loadSchema(configSchemaFS, "config_schema.cue")
	if err != nil {
		return nil, err
	}
	return &ConfigValidator{schema: s}, nil
}

// Validate checks a config.Config after defaults have been applied.
func (v *ConfigValidator) Validate(cfg interface{}) error {
	return v.schema.validate(cfg, "#Config")
}
