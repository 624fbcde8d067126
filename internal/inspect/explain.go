package inspect

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/roach88/qrecall/internal/pipeline"
)

// Explain writes a text timeline of trace to w: one line per event with its
// index, offset from the first event, op and payload (sorted keys).
//
//	[0]   +0.000s  term_extract  {terms=[lease, renewal]}
//	[1]   +0.012s  grep          {engine=go, matches=3}
func Explain(w io.Writer, trace []pipeline.TraceEvent) error {
	if len(trace) == 0 {
		_, err := fmt.Fprintln(w, "  (no events)")
		return err
	}

	width := 0
	for _, ev := range trace {
		width = max(width, len(ev.Op))
	}
	t0 := trace[0].Time
	for i, ev := range trace {
		delta := ev.Time.Sub(t0).Seconds()
		if _, err := fmt.Fprintf(w, "%-5s %+.3fs  %-*s  %s\n",
			fmt.Sprintf("[%d]", i), delta, width, ev.Op, FormatPayload(ev.Payload)); err != nil {
			return err
		}
	}
	return nil
}

// FormatPayload formats a payload for display.
// Uses sorted keys to ensure deterministic output.
func FormatPayload(p map[string]any) string {
	if len(p) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(p[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// formatValue formats a single value, handling nested structures deterministically.
func formatValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		return FormatPayload(val)
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []string:
		return "[" + strings.Join(val, ", ") + "]"
	case string:
		return val
	case nil:
		return "null"
	case float64:
		return fmt.Sprintf("%.4g", val)
	default:
		return fmt.Sprintf("%v", v)
	}
}
