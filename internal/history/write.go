package history

import (
	"context"
	"fmt"
)

// tsLayout has fixed-width fractions so stored timestamps sort as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Append stores rec and its trace events in one transaction.
//
// A record without a run ID is assigned a fresh UUIDv7. Uses
// ON CONFLICT(id) DO NOTHING for idempotency: writing the same run twice
// keeps the first copy.
func (s *Store) Append(ctx context.Context, rec Record) error {
	if rec.RunID == "" {
		rec.RunID = s.ids.Generate()
	}
	body, err := marshalRecord(rec)
	if err != nil {
		return fmt.Errorf("append run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append run: begin: %w", err)
	}
	defer tx.Rollback()

	var answer any
	if rec.Answer != nil {
		answer = *rec.Answer
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, ts, query, lang, answer, tokens, tokens_spent, candidates, evidence, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.RunID,
		rec.TS.UTC().Format(tsLayout),
		rec.Query.Text,
		rec.Query.Lang,
		answer,
		rec.Budget.Tokens,
		rec.Budget.TokensSpent,
		len(rec.Candidates),
		len(rec.Evidence),
		string(body),
	)
	if err != nil {
		return fmt.Errorf("append run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit()
	}

	for seq, ev := range rec.Trace {
		payload, err := marshalPayload(ev.Payload)
		if err != nil {
			return fmt.Errorf("append run: event %d: %w", seq, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO trace_events (run_id, seq, op, payload, t)
			VALUES (?, ?, ?, ?, ?)
		`,
			rec.RunID,
			seq,
			ev.Op,
			payload,
			ev.T.UTC().Format(tsLayout),
		)
		if err != nil {
			return fmt.Errorf("append run: event %d: %w", seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append run: commit: %w", err)
	}
	return nil
}
