package consistency

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// TimingEnv overrides the timing output path of every run.
const TimingEnv = "PRECHECK_TIMING_JSONL"

// span is one finished pipeline stage of a project. Parse stages carry the
// source of the netlist: freshly parsed or taken from the IR cache.
type span struct {
	Project   string  `json:"project"`
	Stage     string  `json:"stage"`
	File      string  `json:"file,omitempty"`
	Source    string  `json:"source,omitempty"`
	Outcome   string  `json:"outcome"`
	OffsetMS  float64 `json:"offset_ms"`
	ElapsedMS float64 `json:"elapsed_ms"`
}

// trace writes spans as JSON lines through its own logger so concurrent
// projects never interleave a line. A nil trace drops everything.
type trace struct {
	epoch time.Time
	out   *logrus.Logger
	file  *os.File
}

func openTrace(path string) (*trace, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	out := logrus.New()
	out.SetOutput(f)
	out.SetFormatter(&logrus.JSONFormatter{DisableTimestamp: true})
	return &trace{epoch: time.Now(), out: out, file: f}, nil
}

func (t *trace) emit(s span, start time.Time) {
	if t == nil {
		return
	}
	s.OffsetMS = millis(start.Sub(t.epoch))
	s.ElapsedMS = millis(time.Since(start))
	fields := logrus.Fields{
		"project":    s.Project,
		"stage":      s.Stage,
		"outcome":    s.Outcome,
		"offset_ms":  s.OffsetMS,
		"elapsed_ms": s.ElapsedMS,
	}
	if s.File != "" {
		fields["file"] = s.File
	}
	if s.Source != "" {
		fields["source"] = s.Source
	}
	t.out.WithFields(fields).Info("span")
}

func (t *trace) Close() error {
	if t == nil {
		return nil
	}
	return t.file.Close()
}

func millis(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e6
}

// openRunTrace opens the timing output of one Run or RunAll call. The
// environment wins over the runner option, which wins over the config.
func (r *Runner) openRunTrace() *trace {
	path := os.Getenv(TimingEnv)
	if path == "" {
		path = r.TimingPath
	}
	if path == "" {
		path = r.Config.Analysis.Timing
	}
	t, err := openTrace(path)
	if err != nil {
		r.logger.WithError(err).Warn("timing output disabled")
	}
	return t
}
