package inspect

import "github.com/roach88/qrecall/internal/pipeline"

// Timings is the per-operation time breakdown of a trace.
type Timings struct {
	// PerOp sums the seconds of every "time" event by op name.
	PerOp map[string]float64 `json:"per_op"`

	// Overall is the seconds of the first "time_overall" event, nil when the
	// trace has none.
	Overall *float64 `json:"overall"`
}

// SummarizeTimings totals the "time" events of trace. Events without a name
// count as "unknown".
func SummarizeTimings(trace []pipeline.TraceEvent) Timings {
	t := Timings{PerOp: map[string]float64{}}
	for _, ev := range trace {
		switch ev.Op {
		case "time":
			name, _ := ev.Payload["name"].(string)
			if name == "" {
				name = "unknown"
			}
			secs, _ := number(ev.Payload["seconds"])
			t.PerOp[name] += secs
		case "time_overall":
			if t.Overall == nil {
				if secs, ok := number(ev.Payload["seconds"]); ok {
					t.Overall = &secs
				}
			}
		}
	}
	return t
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
