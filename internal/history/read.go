package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/qrecall/internal/pipeline"
)

// RunSummary is one row of ListRuns.
type RunSummary struct {
	ID          string
	TS          time.Time
	Query       string
	Lang        string
	Answered    bool
	TokensSpent int
	Candidates  int
	Evidence    int
}

// ListRuns returns the most recent runs, newest first.
// Results are ordered deterministically: ORDER BY ts DESC, id ASC COLLATE BINARY.
// limit <= 0 returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, query, lang, answer IS NOT NULL, tokens_spent, candidates, evidence
		FROM runs
		ORDER BY ts DESC, id COLLATE BINARY ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	out := []RunSummary{}
	for rows.Next() {
		var r RunSummary
		var ts string
		if err := rows.Scan(&r.ID, &ts, &r.Query, &r.Lang, &r.Answered, &r.TokensSpent, &r.Candidates, &r.Evidence); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.TS, err = time.Parse(tsLayout, ts); err != nil {
			return nil, fmt.Errorf("run %s: parse ts: %w", r.ID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// ReadRun returns the full record of a run.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRun(ctx context.Context, id string) (Record, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM runs WHERE id = ?`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return Record{}, err
	}
	if err != nil {
		return Record{}, fmt.Errorf("read run: %w", err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return Record{}, fmt.Errorf("read run %s: %w", id, err)
	}
	return rec, nil
}

// ReadTrace returns the trace events of a run in logged order.
// Returns an empty slice (not nil) when the run has no events.
func (s *Store) ReadTrace(ctx context.Context, id string) ([]pipeline.TraceEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT op, payload, t
		FROM trace_events
		WHERE run_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query trace: %w", err)
	}
	defer rows.Close()

	out := []pipeline.TraceEvent{}
	for rows.Next() {
		var op, payload, ts string
		if err := rows.Scan(&op, &payload, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev := pipeline.TraceEvent{Op: op}
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, fmt.Errorf("event payload: %w", err)
		}
		if ev.Time, err = time.Parse(tsLayout, ts); err != nil {
			return nil, fmt.Errorf("event time: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace: %w", err)
	}
	return out, nil
}

// CountByOp returns how many events each op logged across all runs.
func (s *Store) CountByOp(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT op, COUNT(*) FROM trace_events GROUP BY op`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var op string
		var n int
		if err := rows.Scan(&op, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[op] = n
	}
	return out, rows.Err()
}

func marshalPayload(p map[string]any) (string, error) {
	if p == nil {
		p = map[string]any{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}
