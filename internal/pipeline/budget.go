package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// charsPerToken is the divisor of the character-count token proxy.
const charsPerToken = 4

// BudgetGuard wraps an operation with a token cap and a wall-clock deadline.
//
// Both limits default to the values in State.Budget unless overridden with
// WithTokenCap and WithDeadline. Limits are checked only before the inner
// operation runs; a running operation is never interrupted.
//
// Exhaustion is not an error: the guard logs an "exhausted" event and returns
// the State unchanged.
type BudgetGuard struct {
	name     string
	inner    Operation
	tokenCap int
	deadline time.Duration
	clock    Clock
}

// NewBudgetGuard wraps inner.
func NewBudgetGuard(inner Operation, opts ...Option) (*BudgetGuard, error) {
	cfg := newSettings("BudgetGuard", opts)
	if inner == nil {
		return nil, NewConfigError(cfg.name, "budget guard needs an inner operation")
	}
	if cfg.tokenCap < 0 || cfg.deadline < 0 {
		return nil, NewConfigError(cfg.name, "budget limits must not be negative")
	}
	return &BudgetGuard{
		name:     cfg.name,
		inner:    inner,
		tokenCap: cfg.tokenCap,
		deadline: cfg.deadline,
		clock:    cfg.clock,
	}, nil
}

// Name returns the guard name.
func (b *BudgetGuard) Name() string { return b.name }

// EstimateTokens returns the character-count token proxy for s.
func EstimateTokens(s *State) int {
	return s.TextChars() / charsPerToken
}

// Apply checks the budget, then runs the inner operation and charges the
// tokens it added.
func (b *BudgetGuard) Apply(ctx context.Context, s *State) (*State, error) {
	tokenCap := b.tokenCap
	if tokenCap == 0 {
		tokenCap = s.Budget.Tokens
	}
	deadline := b.deadline
	if deadline == 0 {
		deadline = s.Budget.Deadline
	}

	now := b.clock.Now()
	if s.Budget.Start.IsZero() {
		s.Budget.Start = now
	}

	if reason := exhausted(s, now, tokenCap, deadline); reason != "" {
		s.Log(b.name, map[string]any{
			"exhausted":    true,
			"reason":       reason,
			"tokens_spent": s.Budget.TokensSpent,
		})
		BudgetExhausted.WithLabelValues(reason).Inc()
		slog.Info("budget exhausted",
			"guard", b.name,
			"reason", reason,
			"tokens_spent", s.Budget.TokensSpent)
		return s, nil
	}

	before := EstimateTokens(s)
	out, err := b.inner.Apply(ctx, s)
	if out == nil {
		out = s
	}
	delta := EstimateTokens(out) - before
	if delta > 0 {
		out.Budget.TokensSpent += delta
	}

	out.Log(b.name, map[string]any{
		"seconds":      since(b.clock, now),
		"tokens_delta": delta,
		"tokens_spent": out.Budget.TokensSpent,
		"tokens":       tokenCap,
		"deadline":     deadline.Seconds(),
	})
	return out, err
}

func exhausted(s *State, now time.Time, tokenCap int, deadline time.Duration) string {
	if deadline > 0 && now.Sub(s.Budget.Start) >= deadline {
		return "deadline"
	}
	if tokenCap > 0 && s.Budget.TokensSpent >= tokenCap {
		return "tokens"
	}
	return ""
}
