package history

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/roach88/qrecall/internal/pipeline"
)

// DefaultMaxText is the clip length for snippet and evidence text.
const DefaultMaxText = 20_000

// Record is the persisted form of one pipeline run.
//
// Candidates, Evidence and Trace are omitted entirely when excluded and are
// empty arrays when included but empty.
type Record struct {
	TS         time.Time         `json:"ts"`
	RunID      string            `json:"run_id,omitempty"`
	Query      QueryRecord       `json:"query"`
	Answer     *string           `json:"answer"`
	Budget     BudgetRecord      `json:"budget"`
	Candidates []CandidateRecord `json:"candidates,omitzero"`
	Evidence   []EvidenceRecord  `json:"evidence,omitzero"`
	Trace      []EventRecord     `json:"trace,omitzero"`
}

// QueryRecord is the persisted query.
type QueryRecord struct {
	Text string         `json:"text"`
	Lang string         `json:"lang"`
	Meta map[string]any `json:"meta"`
}

// BudgetRecord is the persisted budget.
type BudgetRecord struct {
	Tokens          int       `json:"tokens"`
	TokensSpent     int       `json:"tokens_spent"`
	DeadlineSeconds float64   `json:"deadline_seconds,omitempty"`
	Start           time.Time `json:"start,omitzero"`
}

// CandidateRecord is a persisted candidate.
type CandidateRecord struct {
	URI     string         `json:"uri"`
	Score   float64        `json:"score"`
	Snippet string         `json:"snippet,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// EvidenceRecord is a persisted evidence fragment.
type EvidenceRecord struct {
	URI  string         `json:"uri,omitempty"`
	Text string         `json:"text"`
	Meta map[string]any `json:"meta,omitempty"`
}

// EventRecord is a persisted trace event.
type EventRecord struct {
	Op      string         `json:"op"`
	Payload map[string]any `json:"payload"`
	T       time.Time      `json:"t"`
}

// Include selects which parts of a State a Record carries.
type Include struct {
	Candidates bool
	Evidence   bool
	Trace      bool
	MaxText    int
}

// IncludeAll carries everything, clipping text at DefaultMaxText.
var IncludeAll = Include{Candidates: true, Evidence: true, Trace: true, MaxText: DefaultMaxText}

// NewRecord builds the Record for s at time ts.
func NewRecord(s *pipeline.State, inc Include, ts time.Time) Record {
	rec := Record{
		TS:    ts.UTC(),
		RunID: s.RunID,
		Query: QueryRecord{
			Text: s.Query.Text,
			Lang: s.Query.Lang,
			Meta: queryMeta(s.Query.Meta),
		},
		Budget: BudgetRecord{
			Tokens:          s.Budget.Tokens,
			TokensSpent:     s.Budget.TokensSpent,
			DeadlineSeconds: s.Budget.Deadline.Seconds(),
			Start:           s.Budget.Start.UTC(),
		},
	}
	if s.HasAnswer {
		answer := s.Answer
		rec.Answer = &answer
	}

	if inc.Candidates {
		rec.Candidates = make([]CandidateRecord, 0, len(s.Candidates))
		for _, c := range s.Candidates {
			rec.Candidates = append(rec.Candidates, CandidateRecord{
				URI:     c.URI,
				Score:   c.Score,
				Snippet: clip(c.Snippet, inc.MaxText),
				Meta:    safeMap(c.Meta),
			})
		}
	}
	if inc.Evidence {
		rec.Evidence = make([]EvidenceRecord, 0, len(s.Evidence))
		for _, e := range s.Evidence {
			rec.Evidence = append(rec.Evidence, EvidenceRecord{
				URI:  e.URI,
				Text: clip(e.Text, inc.MaxText),
				Meta: safeMap(e.Meta),
			})
		}
	}
	if inc.Trace {
		rec.Trace = make([]EventRecord, 0, len(s.Trace))
		for _, ev := range s.Trace {
			rec.Trace = append(rec.Trace, EventRecord{
				Op:      ev.Op,
				Payload: safeMap(ev.Payload),
				T:       ev.Time.UTC(),
			})
		}
	}
	return rec
}

// Events converts the recorded trace back into trace events.
func (r Record) Events() []pipeline.TraceEvent {
	out := make([]pipeline.TraceEvent, 0, len(r.Trace))
	for _, ev := range r.Trace {
		out = append(out, pipeline.TraceEvent{Op: ev.Op, Payload: ev.Payload, Time: ev.T})
	}
	return out
}

func queryMeta(m pipeline.QueryMeta) map[string]any {
	out := map[string]any{}
	if len(m.SearchTerms) > 0 {
		out["search_terms"] = append([]string(nil), m.SearchTerms...)
	}
	if len(m.PathHints) > 0 {
		out["path_hints"] = append([]string(nil), m.PathHints...)
	}
	if m.Route != "" {
		out["route"] = m.Route
	}
	for k, v := range m.Extra {
		out[k] = safe(v)
	}
	return out
}

// clip truncates text to max characters. max <= 0 disables clipping.
func clip(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	i := 0
	for pos := range text {
		if i == max {
			return text[:pos]
		}
		i++
	}
	return text
}

func safeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = safe(v)
	}
	return out
}

// safe makes v JSON-encodable: known shapes are kept, anything the encoder
// rejects is replaced by its %v rendering.
func safe(v any) any {
	switch val := v.(type) {
	case nil, string, bool, int, int64, float64, []string:
		return val
	case float32, int32, uint, uint32, uint64:
		return val
	case map[string]any:
		return safeMap(val)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = safe(elem)
		}
		return out
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return val.Seconds()
	case error:
		return val.Error()
	}
	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return v
}
