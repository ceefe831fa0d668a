package consistency

import "sort"

// Finding is one non-passing verdict row: a mismatch of a check, or the
// check itself when it failed without mismatches.
type Finding struct {
	Project  string `json:"project"`
	Module   string `json:"module"`
	Check    string `json:"check"`
	Level    string `json:"level"`
	Mismatch string `json:"mismatch,omitempty"`
}

// Delta captures findings that appeared and disappeared between two runs.
type Delta struct {
	Added   []Finding `json:"added"`
	Removed []Finding `json:"removed"`
}

// Empty reports whether nothing changed.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// ComputeDelta computes finding-level additions and removals between two runs.
func ComputeDelta(prev, next []*Result) Delta {
	from, to := findings(prev), findings(next)
	return Delta{
		Added:   diffRows(from, to, findingKey),
		Removed: diffRows(to, from, findingKey),
	}
}

// findings flattens the warn and fail verdicts of results, sorted. Parse
// failures become findings of a pseudo check named after their stage.
func findings(results []*Result) []Finding {
	var out []Finding
	for _, res := range results {
		if res == nil {
			continue
		}
		for _, f := range res.ParseErrors {
			out = append(out, Finding{Project: res.Project, Module: f.File, Check: f.Stage, Level: "fail", Mismatch: f.Kind})
		}
		for _, v := range res.Verdicts {
			if v.Level != "warn" && v.Level != "fail" {
				continue
			}
			if len(v.Mismatches) == 0 {
				out = append(out, Finding{Project: res.Project, Module: v.Module, Check: v.Check, Level: v.Level})
				continue
			}
			for _, m := range v.Mismatches {
				out = append(out, Finding{Project: res.Project, Module: v.Module, Check: v.Check, Level: v.Level, Mismatch: m})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return findingKey(out[i]) < findingKey(out[j]) })
	return out
}

func findingKey(f Finding) string {
	return f.Project + "|" + f.Module + "|" + f.Check + "|" + f.Level + "|" + f.Mismatch
}

func diffRows[T any](from, to []T, key func(T) string) []T {
	fromSet := make(map[string]T, len(from))
	for _, row := range from {
		fromSet[key(row)] = row
	}
	var diff []T
	for _, row := range to {
		rowKey := key(row)
		if _, ok := fromSet[rowKey]; !ok {
			diff = append(diff, row)
		}
	}
	if diff == nil {
		diff = []T{}
	}
	return diff
}
