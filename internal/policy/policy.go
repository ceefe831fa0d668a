package policy

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/open-policy-agent/opa/rego"

	"github.com/efabless/mpw-precheck/internal/checker"
)

//go:embed verdicts.rego
var verdictsModule string

const packagePath = "data.precheck.consistency"

// Levels a verdict can carry.
const (
	LevelPass = "pass"
	LevelWarn = "warn"
	LevelFail = "fail"
	LevelOff  = "off"
)

// Engine evaluates the verdict policy against checker reports
type Engine struct {
	queries map[string]rego.PreparedEvalQuery
}

// Verdict is the policy's reading of one check result
type Verdict struct {
	Check      string   `json:"check"`
	Module     string   `json:"module"`
	Level      string   `json:"level"`
	Message    string   `json:"message"`
	Mismatches []string `json:"mismatches"`
}

// Result contains the evaluation results
type Result struct {
	// Verdicts are in the order the checks ran.
	Verdicts []Verdict
	// Blocking names the checks whose verdict is fail.
	Blocking []string
	Summary  Summary
}

// Summary provides aggregate counts
type Summary struct {
	Total    int `json:"total"`
	Passed   int `json:"passed"`
	Warnings int `json:"warnings"`
	Failures int `json:"failures"`
	Off      int `json:"off"`
}

// Input is the data structure passed to OPA
type Input struct {
	Module     string            `json:"module"`
	Checks     []Check           `json:"checks"`
	Severities map[string]string `json:"severities"`
}

// Check is one check result as the policy sees it.
type Check struct {
	Name       string   `json:"name"`
	Passed     bool     `json:"passed"`
	Message    string   `json:"message"`
	Mismatches []string `json:"mismatches"`
}

// InputFromReport flattens a report in run order. severities maps check names
// to off, warning or error; missing checks default to error.
func InputFromReport(report *checker.Report, severities map[string]string) Input {
	in := Input{
		Module:     report.Module,
		Checks:     make([]Check, 0, len(report.Checks)),
		Severities: map[string]string{},
	}
	for name, sev := range severities {
		in.Severities[name] = sev
	}
	for _, name := range report.Checks {
		r, ok := report.PerCheck[name]
		if !ok {
			continue
		}
		mismatches := r.Mismatches
		if mismatches == nil {
			mismatches = []string{}
		}
		in.Checks = append(in.Checks, Check{
			Name:       string(name),
			Passed:     r.Passed,
			Message:    r.Message,
			Mismatches: mismatches,
		})
	}
	return in
}

// New creates an engine from the embedded verdict policy.
func New() (*Engine, error) {
	return newEngine([]func(*rego.Rego){rego.Module("verdicts.rego", verdictsModule)})
}

// NewFromDir creates an engine from the .rego files in policyDir. The files
// must define the precheck.consistency package in place of the embedded one.
func NewFromDir(policyDir string) (*Engine, error) {
	files, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
	if err != nil {
		return nil, fmt.Errorf("finding policy files: %w", err)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no policy files found in %s", policyDir)
	}

	var modules []func(*rego.Rego)
	for _, f := range files {
		content, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f, err)
		}
		modules = append(modules, rego.Module(f, string(content)))
	}
	return newEngine(modules)
}

func newEngine(modules []func(*rego.Rego)) (*Engine, error) {
	engine := &Engine{
		queries: make(map[string]rego.PreparedEvalQuery),
	}

	for _, rule := range []string{"verdicts", "blocking", "summary"} {
		opts := append(append([]func(*rego.Rego){}, modules...), rego.Query(packagePath+"."+rule))
		query, err := rego.New(opts...).PrepareForEval(context.Background())
		if err != nil {
			return nil, fmt.Errorf("preparing %s query: %w", rule, err)
		}
		engine.queries[rule] = query
	}

	return engine, nil
}

// Evaluate runs the policy against the input data
func (e *Engine) Evaluate(ctx context.Context, input Input) (*Result, error) {
	inputMap, err := structToMap(input)
	if err != nil {
		return nil, fmt.Errorf("converting input: %w", err)
	}

	result := &Result{Verdicts: []Verdict{}, Blocking: []string{}}

	value, err := e.eval(ctx, "verdicts", inputMap)
	if err != nil {
		return nil, err
	}
	if verdicts, ok := value.([]interface{}); ok {
		for _, v := range verdicts {
			vmap, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			result.Verdicts = append(result.Verdicts, Verdict{
				Check:      getString(vmap, "check"),
				Module:     getString(vmap, "module"),
				Level:      getString(vmap, "level"),
				Message:    getString(vmap, "message"),
				Mismatches: getStrings(vmap, "mismatches"),
			})
		}
	}

	// Rego sets carry no order; restore the run order of the input.
	order := make(map[string]int, len(input.Checks))
	for i, c := range input.Checks {
		if _, seen := order[c.Name]; !seen {
			order[c.Name] = i
		}
	}
	sort.SliceStable(result.Verdicts, func(i, j int) bool {
		return order[result.Verdicts[i].Check] < order[result.Verdicts[j].Check]
	})

	value, err = e.eval(ctx, "blocking", inputMap)
	if err != nil {
		return nil, err
	}
	if names, ok := value.([]interface{}); ok {
		for _, n := range names {
			if s, ok := n.(string); ok {
				result.Blocking = append(result.Blocking, s)
			}
		}
	}
	sort.SliceStable(result.Blocking, func(i, j int) bool {
		return order[result.Blocking[i]] < order[result.Blocking[j]]
	})

	value, err = e.eval(ctx, "summary", inputMap)
	if err != nil {
		return nil, err
	}
	if smap, ok := value.(map[string]interface{}); ok {
		result.Summary = Summary{
			Total:    getInt(smap, "total"),
			Passed:   getInt(smap, "passed"),
			Warnings: getInt(smap, "warnings"),
			Failures: getInt(smap, "failures"),
			Off:      getInt(smap, "off"),
		}
	}

	return result, nil
}

// Passed reports whether no verdict blocks.
func (r *Result) Passed() bool {
	return len(r.Blocking) == 0
}

func (e *Engine) eval(ctx context.Context, rule string, input map[string]interface{}) (interface{}, error) {
	rs, err := e.queries[rule].Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluating %s: %w", rule, err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}
	return rs[0].Expressions[0].Value, nil
}

// Helper functions
func structToMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	err = json.Unmarshal(data, &result)
	return result, err
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getStrings(m map[string]interface{}, key string) []string {
	out := []string{}
	if v, ok := m[key].([]interface{}); ok {
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func getInt(m map[string]interface{}, key string) int {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		case json.Number:
			i, _ := n.Int64()
			return int(i)
		}
	}
	return 0
}
