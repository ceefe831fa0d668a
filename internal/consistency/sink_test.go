package consistency

import (
	"reflect"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/efabless/mpw-precheck/internal/checker"
	"github.com/efabless/mpw-precheck/internal/config"
	"github.com/efabless/mpw-precheck/internal/layout"
)

func TestLogSinkWarningLevels(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Lint.Rules["hierarchy"] = "off"

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	sink := logSink(logrus.NewEntry(logger), cfg.IsRuleEnabled)

	res := &checker.Result{Passed: true, Message: "ok", Mismatches: []string{}, Warnings: []string{"instance u1 (buf): 1 of 2 pins unconnected: A"}}
	sink.CheckDone("caravel", checker.Power, res)
	sink.CheckDone("caravel", checker.Hierarchy, res)

	var levels []logrus.Level
	for _, e := range hook.AllEntries() {
		if e.Message == res.Warnings[0] {
			levels = append(levels, e.Level)
		}
	}
	want := []logrus.Level{logrus.WarnLevel, logrus.DebugLevel}
	if !reflect.DeepEqual(levels, want) {
		t.Fatalf("expected warning levels %v, got %v", want, levels)
	}
}

func TestLogIgnoredListsPresentCells(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	log := logrus.NewEntry(logger)

	h := &layout.Hierarchy{TopCell: "user_project_wrapper", ChildCells: []string{"user_proj", "sky130_fd_sc_hd__decap_4"}}
	logIgnored(log, []string{"sky130_fd_sc_*__decap_*", "caravel_power_routing"}, []string{"user_proj", "sky130_fd_sc_hd__decap_4"}, h)

	entry := hook.LastEntry()
	if entry == nil || entry.Message != "ignored cells present" {
		t.Fatalf("expected an ignored cells entry, got %+v", entry)
	}
	if got := entry.Data["cells"]; !reflect.DeepEqual(got, []string{"sky130_fd_sc_hd__decap_4"}) {
		t.Fatalf("expected the decap cell once, got %v", got)
	}

	hook.Reset()
	logIgnored(log, []string{"caravel_power_routing"}, []string{"user_proj"}, nil)
	if len(hook.AllEntries()) != 0 {
		t.Fatalf("expected nothing logged without matches")
	}
}
