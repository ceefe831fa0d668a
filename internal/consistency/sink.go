package consistency

import (
	"github.com/sirupsen/logrus"

	"github.com/efabless/mpw-precheck/internal/checker"
	"github.com/efabless/mpw-precheck/internal/layout"
	"github.com/efabless/mpw-precheck/internal/netlist"
	"github.com/efabless/mpw-precheck/internal/policy"
)

// logSink reports every finished check at debug level, with its warnings.
// Warnings of a check configured off stay at debug level.
func logSink(log *logrus.Entry, enabled func(check string) bool) checker.Sink {
	return checker.SinkFunc(func(module string, name checker.Name, res *checker.Result) {
		entry := log.WithFields(logrus.Fields{"module": module, "check": string(name)})
		entry.WithField("passed", res.Passed).Debug(res.Message)
		on := enabled == nil || enabled(string(name))
		for _, w := range res.Warnings {
			if on {
				entry.Warn(w)
			} else {
				entry.Debug(w)
			}
		}
	})
}

// logIgnored lists the cells the ignore patterns actually hit in the user
// netlist and below the layout top cell.
func logIgnored(log *logrus.Entry, patterns, cells []string, h *layout.Hierarchy) {
	ignored, err := netlist.CompilePatterns(patterns)
	if err != nil {
		// The checker reports the same compile error.
		return
	}
	present := append([]string{}, cells...)
	if h != nil {
		present = append(present, h.ChildCells...)
	}
	matched := ignored.Expand(present)
	if len(matched) == 0 {
		return
	}
	log.WithFields(logrus.Fields{"patterns": ignored.Strings(), "cells": matched}).Debug("ignored cells present")
}

func logVerdicts(log *logrus.Entry, verdicts []policy.Verdict) {
	for _, v := range verdicts {
		entry := log.WithFields(logrus.Fields{
			"module":     v.Module,
			"check":      v.Check,
			"mismatches": v.Mismatches,
		})
		switch v.Level {
		case policy.LevelPass:
			entry.Info(v.Message)
		case policy.LevelWarn:
			entry.Warn(v.Message)
		case policy.LevelFail:
			entry.Error(v.Message)
		default:
			entry.Debug(v.Message)
		}
	}
}
