package inspect

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"sort"
	"time"

	"github.com/roach88/qrecall/internal/pipeline"
)

//go:embed templates/trace.html.tmpl
var traceTemplateText string

var traceTemplate = template.Must(template.New("trace").Parse(traceTemplateText))

// htmlEvent is one event as the viewer sees it.
type htmlEvent struct {
	ID          int            `json:"id"`
	Op          string         `json:"op"`
	ISO         string         `json:"iso"`
	Delta       float64        `json:"delta"`
	Payload     map[string]any `json:"payload"`
	PayloadText string         `json:"-"`
}

type htmlPage struct {
	Title       string
	Events      []htmlEvent
	Ops         []string
	Duration    float64
	TokensSpent int
	Range       string
}

// RenderHTML writes a standalone HTML page showing trace: summary cards, an
// event list with pretty-printed payloads and a client-side op filter.
// Payload values are escaped by html/template.
func RenderHTML(w io.Writer, title string, trace []pipeline.TraceEvent) error {
	page := htmlPage{Title: title, Events: make([]htmlEvent, 0, len(trace))}
	if page.Title == "" {
		page.Title = "Trace"
	}

	ops := map[string]bool{}
	var t0 time.Time
	for i, ev := range trace {
		if i == 0 {
			t0 = ev.Time
		}
		text, err := prettyPayload(ev.Payload)
		if err != nil {
			return fmt.Errorf("event %d (%s): %w", i, ev.Op, err)
		}
		delta := ev.Time.Sub(t0).Seconds()
		page.Events = append(page.Events, htmlEvent{
			ID:          i,
			Op:          ev.Op,
			ISO:         ev.Time.UTC().Format(time.RFC3339Nano),
			Delta:       delta,
			Payload:     ev.Payload,
			PayloadText: text,
		})
		page.Duration = delta
		ops[ev.Op] = true
		if spent, ok := number(ev.Payload["tokens_spent"]); ok {
			page.TokensSpent = max(page.TokensSpent, int(spent))
		}
	}
	for op := range ops {
		page.Ops = append(page.Ops, op)
	}
	sort.Strings(page.Ops)
	if len(trace) > 0 {
		page.Range = fmt.Sprintf("%s -> %s",
			trace[0].Time.UTC().Format(time.DateTime),
			trace[len(trace)-1].Time.UTC().Format(time.DateTime))
	}

	return traceTemplate.Execute(w, page)
}

func prettyPayload(p map[string]any) (string, error) {
	if p == nil {
		p = map[string]any{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return "", err
	}
	return buf.String(), nil
}
