package consistency

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/efabless/mpw-precheck/internal/config"
)

func readSpans(t *testing.T, path string) []span {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open timing: %v", err)
	}
	defer f.Close()
	var spans []span
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var s span
		if err := json.Unmarshal(scanner.Bytes(), &s); err != nil {
			t.Fatalf("parse span %q: %v", scanner.Text(), err)
		}
		spans = append(spans, s)
	}
	return spans
}

func TestTraceWritesSpans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timing.jsonl")
	tr, err := openTrace(path)
	if err != nil || tr == nil {
		t.Fatalf("expected a trace, err=%v", err)
	}
	start := time.Now()
	tr.emit(span{Project: "demo", Stage: StageParse, File: "caravel.v", Source: "cache_hit", Outcome: "ok"}, start)
	tr.emit(span{Project: "demo", Stage: "total", Outcome: "passed"}, start)
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	spans := readSpans(t, path)
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if s := spans[0]; s.File != "caravel.v" || s.Source != "cache_hit" || s.OffsetMS < 0 || s.ElapsedMS < 0 {
		t.Fatalf("unexpected parse span %+v", s)
	}
	if s := spans[1]; s.Stage != "total" || s.Outcome != "passed" || s.File != "" || s.Source != "" {
		t.Fatalf("unexpected total span %+v", s)
	}
}

func TestTraceDisabled(t *testing.T) {
	tr, err := openTrace("")
	if tr != nil || err != nil {
		t.Fatalf("expected no trace without a path")
	}
	tr.emit(span{Project: "demo", Stage: "total"}, time.Now())
	if err := tr.Close(); err != nil {
		t.Fatalf("close of a nil trace: %v", err)
	}

	if _, err := openTrace(filepath.Join(t.TempDir(), "missing", "timing.jsonl")); err == nil {
		t.Fatalf("expected an error for an unwritable path")
	}
}

func TestOpenRunTracePrecedence(t *testing.T) {
	dir := t.TempDir()
	fromConfig := filepath.Join(dir, "config.jsonl")
	fromFlag := filepath.Join(dir, "flag.jsonl")
	fromEnv := filepath.Join(dir, "env.jsonl")

	cfg := config.DefaultConfig()
	cfg.Analysis.Timing = fromConfig
	r, _ := newTestRunner(t, cfg)

	open := func(want string) {
		t.Helper()
		tr := r.openRunTrace()
		if tr == nil {
			t.Fatalf("expected a trace")
		}
		defer tr.Close()
		if tr.file.Name() != want {
			t.Fatalf("expected %s, got %s", want, tr.file.Name())
		}
	}

	t.Setenv(TimingEnv, "")
	open(fromConfig)
	r.TimingPath = fromFlag
	open(fromFlag)
	t.Setenv(TimingEnv, fromEnv)
	open(fromEnv)

	r.TimingPath, r.Config.Analysis.Timing = "", ""
	t.Setenv(TimingEnv, filepath.Join(dir, "missing", "timing.jsonl"))
	if tr := r.openRunTrace(); tr != nil {
		t.Fatalf("expected timing disabled for an unwritable path")
	}
}
