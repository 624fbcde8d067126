package pipeline

import "time"

// DefaultMaxIters is the default iteration cap for Loop.
const DefaultMaxIters = 8

// Option configures a composition operator.
//
// Options are shared across operators; each constructor reads only the
// settings that apply to it (for example WithMaxIters is ignored by Gate).
type Option func(*settings)

type settings struct {
	name         string
	clock        Clock
	sequential   bool
	limit        int
	maxIters     int
	onFail       Operation
	raiseOnFail  bool
	tokenCap     int
	deadline     time.Duration
	defaultRoute Operation
	requireMatch bool
}

func newSettings(name string, opts []Option) settings {
	s := settings{
		name:        name,
		clock:       SystemClock{},
		maxIters:    DefaultMaxIters,
		raiseOnFail: true,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithName overrides the operator name used in trace events.
func WithName(name string) Option {
	return func(s *settings) {
		s.name = name
	}
}

// WithClock sets the clock used for timing and deadlines.
// Tests pass a fake clock for deterministic durations.
func WithClock(c Clock) Option {
	return func(s *settings) {
		s.clock = c
	}
}

// WithSequential makes a Branch run its sub-pipelines one after another
// instead of concurrently.
func WithSequential() Option {
	return func(s *settings) {
		s.sequential = true
	}
}

// WithConcurrencyLimit caps how many Branch sub-pipelines run at once.
// Zero (the default) means one goroutine per branch.
func WithConcurrencyLimit(n int) Option {
	return func(s *settings) {
		s.limit = n
	}
}

// WithMaxIters sets the Loop iteration cap.
//
// Default: 8 (DefaultMaxIters)
func WithMaxIters(n int) Option {
	return func(s *settings) {
		s.maxIters = n
	}
}

// WithOnFail sets the recovery operation a Gate runs when its predicate fails.
func WithOnFail(op Operation) Option {
	return func(s *settings) {
		s.onFail = op
	}
}

// WithRaiseOnFail controls whether a Gate without recovery returns a
// GateFailure (true, the default) or passes the State through.
func WithRaiseOnFail(raise bool) Option {
	return func(s *settings) {
		s.raiseOnFail = raise
	}
}

// WithTokenCap overrides the token cap a BudgetGuard enforces.
func WithTokenCap(tokens int) Option {
	return func(s *settings) {
		s.tokenCap = tokens
	}
}

// WithDeadline overrides the wall-clock window a BudgetGuard enforces,
// measured from State.Budget.Start.
func WithDeadline(d time.Duration) Option {
	return func(s *settings) {
		s.deadline = d
	}
}

// WithDefaultRoute sets the operation a QueryRouter runs when no route matches.
func WithDefaultRoute(op Operation) Option {
	return func(s *settings) {
		s.defaultRoute = op
	}
}

// WithRequireMatch makes a QueryRouter without a default return
// NoRouteMatched instead of passing the State through.
func WithRequireMatch() Option {
	return func(s *settings) {
		s.requireMatch = true
	}
}
