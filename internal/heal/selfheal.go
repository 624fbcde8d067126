package heal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/qrecall/internal/pipeline"
)

// Defaults for SelfHeal.
const (
	DefaultRetries          = 2
	DefaultBreakerThreshold = 4
)

// Health describes the outcome of one SelfHeal invocation.
type Health struct {
	OK        bool
	Attempts  int
	Recovered bool
	Refined   bool
	LastError string
}

// SelfHeal wraps an operation with retries, a fallback, a circuit breaker
// and post-condition refinement.
//
// Each attempt runs against State.Clone(), so a failed attempt never leaks
// partial mutations into the next one. The breaker state (consecutive failure
// count and open-until instant) persists across invocations of the same
// instance and is guarded by a mutex.
//
// SelfHeal absorbs the wrapped operation's failures: Apply only returns an
// error when the context is cancelled.
type SelfHeal struct {
	name             string
	op               pipeline.Operation
	retries          int
	backoff          time.Duration
	fallback         pipeline.Operation
	postCondition    func(*pipeline.State) bool
	onWeak           pipeline.Operation
	breakerThreshold int
	breakerCooldown  time.Duration
	clock            pipeline.Clock

	mu          sync.Mutex
	failCount   int
	breakerOpen time.Time
	last        Health
}

// Option configures a SelfHeal.
type Option func(*SelfHeal)

// WithName overrides the name used for trace events.
func WithName(name string) Option {
	return func(h *SelfHeal) {
		h.name = name
	}
}

// WithRetries sets how many times a failed attempt is retried.
//
// Default: 2 (three attempts in total)
func WithRetries(n int) Option {
	return func(h *SelfHeal) {
		h.retries = n
	}
}

// WithBackoff sets the base backoff. Attempt i waits base * 2^i after failing.
// Zero (the default) disables sleeping.
func WithBackoff(base time.Duration) Option {
	return func(h *SelfHeal) {
		h.backoff = base
	}
}

// WithFallback sets the operation run once when every attempt failed.
func WithFallback(op pipeline.Operation) Option {
	return func(h *SelfHeal) {
		h.fallback = op
	}
}

// WithPostCondition sets the quality check a result must pass to be accepted.
func WithPostCondition(cond func(*pipeline.State) bool) Option {
	return func(h *SelfHeal) {
		h.postCondition = cond
	}
}

// WithOnWeak sets the refiner applied to a result that ran cleanly but
// still fails the post-condition.
func WithOnWeak(op pipeline.Operation) Option {
	return func(h *SelfHeal) {
		h.onWeak = op
	}
}

// WithBreaker sets the consecutive-failure threshold and how long the breaker
// stays open once tripped.
//
// Default: threshold 4, cooldown 0 (the breaker never rejects a call)
func WithBreaker(threshold int, cooldown time.Duration) Option {
	return func(h *SelfHeal) {
		h.breakerThreshold = threshold
		h.breakerCooldown = cooldown
	}
}

// WithClock sets the clock used for breaker timing and backoff sleeps.
func WithClock(c pipeline.Clock) Option {
	return func(h *SelfHeal) {
		h.clock = c
	}
}

// New wraps op. It returns a ConfigError for a nil op or negative settings.
func New(op pipeline.Operation, opts ...Option) (*SelfHeal, error) {
	h := &SelfHeal{
		name:             "SelfHeal",
		op:               op,
		retries:          DefaultRetries,
		breakerThreshold: DefaultBreakerThreshold,
		clock:            pipeline.SystemClock{},
	}
	for _, opt := range opts {
		opt(h)
	}

	if op == nil {
		return nil, pipeline.NewConfigError(h.name, "self-heal needs an operation to wrap")
	}
	if h.retries < 0 {
		return nil, pipeline.NewConfigError(h.name, "retries must be >= 0, got %d", h.retries)
	}
	if h.backoff < 0 || h.breakerCooldown < 0 {
		return nil, pipeline.NewConfigError(h.name, "backoff and cooldown must not be negative")
	}
	if h.breakerThreshold < 1 {
		return nil, pipeline.NewConfigError(h.name, "breaker threshold must be >= 1, got %d", h.breakerThreshold)
	}
	return h, nil
}

// Name returns the wrapper name.
func (h *SelfHeal) Name() string { return h.name }

// FailCount returns the current consecutive failure count.
func (h *SelfHeal) FailCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failCount
}

// LastHealth returns the Health of the most recent invocation.
func (h *SelfHeal) LastHealth() Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// attemptResult is one run of the wrapped or fallback operation.
type attemptResult struct {
	state *pipeline.State
	base  int // len(input trace) when the clone was taken
	err   error
}

// Apply runs the wrapped operation under the healing policy.
func (h *SelfHeal) Apply(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
	now := h.clock.Now()

	h.mu.Lock()
	openUntil := h.breakerOpen
	h.mu.Unlock()

	if now.Before(openUntil) {
		rejected := pipeline.NewCircuitOpenError(h.name)
		s.Log(h.name, map[string]any{
			"breaker": "open",
			"kind":    string(pipeline.KindOf(rejected)),
			"error":   rejected.Error(),
			"until":   openUntil.Format(time.RFC3339Nano),
		})
		breakerRejects.WithLabelValues(h.name).Inc()
		slog.Debug("breaker open, skipping call",
			"op", h.name,
			"until", openUntil,
			"error", rejected)
		return s, nil
	}

	health := Health{}
	var accepted, lastTried *attemptResult

	for attempt := 0; attempt <= h.retries; attempt++ {
		health.Attempts = attempt + 1
		r := h.try(ctx, h.op, s)
		if r.err == nil {
			accepted = &r
			health.OK = true
			attemptsTotal.WithLabelValues(h.name, "ok").Inc()
			break
		}
		if r.state != nil {
			lastTried = &r
		}

		health.LastError = r.err.Error()
		attemptsTotal.WithLabelValues(h.name, string(pipeline.KindOf(r.err))).Inc()
		s.Log(h.name, map[string]any{
			"error":   health.LastError,
			"kind":    string(pipeline.KindOf(r.err)),
			"attempt": attempt + 1,
		})
		slog.Debug("self-heal attempt failed",
			"op", h.name,
			"attempt", attempt+1,
			"error", r.err)

		if !pipeline.IsRetryable(r.err) {
			if pipeline.KindOf(r.err) == pipeline.KindCanceled {
				return s, r.err
			}
			break
		}
		if h.backoff > 0 {
			if err := h.clock.Sleep(ctx, h.backoff*time.Duration(1<<attempt)); err != nil {
				s.Log(h.name, map[string]any{"error": err.Error(), "kind": string(pipeline.KindCanceled)})
				return s, err
			}
		}
	}

	failed := false
	if !health.OK && h.fallback != nil {
		s.Log(h.name, map[string]any{"fallback": h.fallback.Name()})
		r := h.try(ctx, h.fallback, s)
		if r.err == nil {
			accepted = &r
			health.OK = true
			health.Recovered = true
		} else {
			failed = true
			if r.state != nil {
				lastTried = &r
			}
			health.LastError = r.err.Error()
			s.Log(h.name, map[string]any{"fallback_error": health.LastError})
		}
	} else if !health.OK {
		failed = true
	}

	h.mu.Lock()
	if failed {
		h.failCount++
	} else {
		h.failCount = 0
	}
	failCount := h.failCount
	breakerSet := false
	if h.failCount >= h.breakerThreshold {
		h.breakerOpen = h.clock.Now().Add(h.breakerCooldown)
		breakerSet = true
	}
	h.mu.Unlock()

	out := s
	weak := false
	switch {
	case accepted != nil:
		out = adopt(s, accepted)
		weak = true
	case lastTried != nil:
		out = adopt(s, lastTried)
		weak = pipeline.IsPostCondition(lastTried.err)
	}

	if breakerSet {
		breakerOpens.WithLabelValues(h.name).Inc()
		out.Log(h.name, map[string]any{"breaker": "open_set", "fail_count": failCount})
		slog.Warn("circuit breaker opened",
			"op", h.name,
			"fail_count", failCount,
			"cooldown", h.breakerCooldown)
	}

	if weak && h.onWeak != nil && h.postCondition != nil && !h.postCondition(out) {
		refined, err := h.onWeak.Apply(ctx, out)
		if refined != nil {
			out = refined
		}
		if err != nil {
			out.Log(h.name, map[string]any{"refine_error": err.Error()})
		} else {
			health.Refined = true
			health.OK = h.postCondition(out)
			out.Log(h.name, map[string]any{"refined": true})
		}
	}

	out.Log(h.name, map[string]any{
		"ok":         health.OK,
		"attempts":   health.Attempts,
		"recovered":  health.Recovered,
		"refined":    health.Refined,
		"fail_count": failCount,
	})

	h.mu.Lock()
	h.last = health
	h.mu.Unlock()
	return out, nil
}

// try runs op on a clone of s and applies the post-condition.
// A post-condition failure is reported as a KindPostCondition error while
// keeping the produced state.
func (h *SelfHeal) try(ctx context.Context, op pipeline.Operation, s *pipeline.State) attemptResult {
	base := len(s.Trace)
	if err := ctx.Err(); err != nil {
		return attemptResult{base: base, err: err}
	}
	out, err := op.Apply(ctx, s.Clone())
	if err == nil && out == nil {
		err = &pipeline.OpError{Kind: pipeline.KindTransient, Op: op.Name(), Message: "operation returned no state"}
	}
	if err == nil && h.postCondition != nil && !h.postCondition(out) {
		err = pipeline.NewPostConditionError(op.Name())
	}
	return attemptResult{state: out, base: base, err: err}
}

// adopt makes r's state the result, carrying over events that were logged
// on s after r's clone was taken.
func adopt(s *pipeline.State, r *attemptResult) *pipeline.State {
	if r.base < len(s.Trace) {
		r.state.Trace = append(r.state.Trace, s.Trace[r.base:]...)
	}
	return r.state
}
