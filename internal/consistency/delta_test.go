package consistency

import (
	"testing"

	"github.com/efabless/mpw-precheck/internal/policy"
)

func TestComputeDeltaAddsAndRemoves(t *testing.T) {
	prev := []*Result{{
		Project: "demo",
		Verdicts: []policy.Verdict{
			{Check: "power", Module: "caravel", Level: "fail", Mismatches: []string{"soc", "pll"}},
			{Check: "ports", Module: "user_project_wrapper", Level: "pass", Mismatches: []string{}},
		},
	}}
	next := []*Result{{
		Project: "demo",
		Verdicts: []policy.Verdict{
			{Check: "power", Module: "caravel", Level: "fail", Mismatches: []string{"pll"}},
			{Check: "modeling", Module: "user_project_wrapper", Level: "warn", Mismatches: []string{}},
		},
	}, nil}

	delta := ComputeDelta(prev, next)

	if len(delta.Removed) != 1 || delta.Removed[0].Mismatch != "soc" {
		t.Fatalf("expected soc resolved, got %+v", delta.Removed)
	}
	if len(delta.Added) != 1 || delta.Added[0].Check != "modeling" || delta.Added[0].Mismatch != "" {
		t.Fatalf("expected the modeling warning added, got %+v", delta.Added)
	}
	if ComputeDelta(next, next).Empty() != true {
		t.Fatalf("expected no delta between identical runs")
	}
}

func TestComputeDeltaParseFailures(t *testing.T) {
	next := []*Result{{
		Project:     "demo",
		ParseErrors: []ParseFailure{{Stage: StageLayout, File: "user.gds", Kind: "top_cell_mismatch", Message: "x"}},
	}}

	delta := ComputeDelta(nil, next)
	if len(delta.Added) != 1 || delta.Added[0].Check != StageLayout || delta.Added[0].Mismatch != "top_cell_mismatch" {
		t.Fatalf("expected the layout failure as a finding, got %+v", delta.Added)
	}
	if delta.Removed == nil {
		t.Fatalf("expected an empty, non-nil removed list")
	}
}
