package heal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/qrecall/internal/pipeline"
	fake "github.com/roach88/qrecall/internal/testutil"
)

var errFlaky = errors.New("flaky")

// counting returns an op that fails until call number succeedOn (1-based;
// 0 = never succeeds) and appends a candidate on success.
func counting(calls *int, succeedOn int) pipeline.Operation {
	return pipeline.NewFunc("work", func(_ context.Context, s *pipeline.State) (*pipeline.State, error) {
		*calls++
		s.Candidates = append(s.Candidates, pipeline.Candidate{URI: "attempt"})
		if succeedOn == 0 || *calls < succeedOn {
			return s, errFlaky
		}
		return s, nil
	})
}

func lastEvent(s *pipeline.State) pipeline.TraceEvent {
	return s.Trace[len(s.Trace)-1]
}

func TestSelfHeal_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	h, err := New(counting(&calls, 2))
	require.NoError(t, err)

	out, err := h.Apply(context.Background(), pipeline.NewState("q"))

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, out.Candidates, 1, "failed attempt's mutations are discarded")
	final := lastEvent(out)
	assert.Equal(t, true, final.Payload["ok"])
	assert.Equal(t, 2, final.Payload["attempts"])
	assert.Equal(t, 0, final.Payload["fail_count"])
	assert.Equal(t, 0, h.FailCount())
}

func TestSelfHeal_ExactAttemptCount(t *testing.T) {
	calls := 0
	h, err := New(counting(&calls, 0), WithRetries(1))
	require.NoError(t, err)

	out, err := h.Apply(context.Background(), pipeline.NewState("q"))

	require.NoError(t, err, "self-heal absorbs operation failures")
	assert.Equal(t, 2, calls)
	final := lastEvent(out)
	assert.Equal(t, false, final.Payload["ok"])
	assert.Equal(t, 2, final.Payload["attempts"])
	assert.Equal(t, 1, final.Payload["fail_count"])

	health := h.LastHealth()
	assert.False(t, health.OK)
	assert.Equal(t, "flaky", health.LastError)
}

func TestSelfHeal_LastAttemptedResultKept(t *testing.T) {
	calls := 0
	h, err := New(counting(&calls, 0), WithRetries(0))
	require.NoError(t, err)

	s := pipeline.NewState("q")
	s.Log("seed", nil)
	out, err := h.Apply(context.Background(), s)

	require.NoError(t, err)
	assert.Len(t, out.Candidates, 1, "state is the last attempted result")
	assert.Equal(t, "seed", out.Trace[0].Op)
	assert.Greater(t, len(out.Trace), 1)
}

func TestSelfHeal_ExponentialBackoff(t *testing.T) {
	clock := fake.NewFakeClock()
	calls := 0
	h, err := New(counting(&calls, 0),
		WithRetries(2),
		WithBackoff(100*time.Millisecond),
		WithClock(clock))
	require.NoError(t, err)

	_, err = h.Apply(context.Background(), pipeline.NewState("q"))

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	}, clock.Sleeps())
}

func TestSelfHeal_ZeroBackoffDoesNotSleep(t *testing.T) {
	clock := fake.NewFakeClock()
	calls := 0
	h, err := New(counting(&calls, 0), WithClock(clock))
	require.NoError(t, err)

	_, err = h.Apply(context.Background(), pipeline.NewState("q"))

	require.NoError(t, err)
	assert.Empty(t, clock.Sleeps())
}

func TestSelfHeal_FallbackRecovers(t *testing.T) {
	calls := 0
	fallback := pipeline.NewFunc("backup", func(_ context.Context, s *pipeline.State) (*pipeline.State, error) {
		s.Candidates = append(s.Candidates, pipeline.Candidate{URI: "backup"})
		return s, nil
	})
	h, err := New(counting(&calls, 0), WithRetries(1), WithFallback(fallback))
	require.NoError(t, err)

	out, err := h.Apply(context.Background(), pipeline.NewState("q"))

	require.NoError(t, err)
	require.Len(t, out.Candidates, 1)
	assert.Equal(t, "backup", out.Candidates[0].URI, "fallback runs on the original state")
	final := lastEvent(out)
	assert.Equal(t, true, final.Payload["ok"])
	assert.Equal(t, true, final.Payload["recovered"])
	assert.Equal(t, 0, h.FailCount())

	var sawFallback bool
	for _, ev := range out.Trace {
		if ev.Payload["fallback"] == "backup" {
			sawFallback = true
		}
	}
	assert.True(t, sawFallback)
}

func TestSelfHeal_FailingFallbackCountsFailure(t *testing.T) {
	calls := 0
	fallback := pipeline.NewFunc("backup", func(_ context.Context, s *pipeline.State) (*pipeline.State, error) {
		return s, errors.New("backup down")
	})
	h, err := New(counting(&calls, 0), WithRetries(0), WithFallback(fallback))
	require.NoError(t, err)

	out, err := h.Apply(context.Background(), pipeline.NewState("q"))

	require.NoError(t, err)
	assert.Equal(t, 1, h.FailCount())
	assert.Equal(t, false, lastEvent(out).Payload["ok"])
}

func TestSelfHeal_BreakerOpensAndHalfOpens(t *testing.T) {
	clock := fake.NewFakeClock()
	calls := 0
	h, err := New(counting(&calls, 0),
		WithName("FlakySearch"),
		WithRetries(0),
		WithBreaker(2, 30*time.Second),
		WithClock(clock))
	require.NoError(t, err)
	ctx := context.Background()
	opens := testutil.ToFloat64(breakerOpens.WithLabelValues("FlakySearch"))

	_, err = h.Apply(ctx, pipeline.NewState("q"))
	require.NoError(t, err)
	out, err := h.Apply(ctx, pipeline.NewState("q"))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, opens+1, testutil.ToFloat64(breakerOpens.WithLabelValues("FlakySearch")))

	var openSet bool
	for _, ev := range out.Trace {
		if ev.Payload["breaker"] == "open_set" {
			openSet = true
		}
	}
	assert.True(t, openSet)

	out, err = h.Apply(ctx, pipeline.NewState("q"))
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "open breaker does not invoke the operation")
	require.Len(t, out.Trace, 1)
	assert.Equal(t, "open", out.Trace[0].Payload["breaker"])
	assert.Equal(t, string(pipeline.KindCircuitOpen), out.Trace[0].Payload["kind"])

	clock.Advance(31 * time.Second)
	_, err = h.Apply(ctx, pipeline.NewState("q"))
	require.NoError(t, err)
	assert.Equal(t, 3, calls, "after cooldown the breaker allows another attempt")
}

func TestSelfHeal_ZeroCooldownNeverRejects(t *testing.T) {
	calls := 0
	h, err := New(counting(&calls, 0), WithRetries(0), WithBreaker(1, 0))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := h.Apply(context.Background(), pipeline.NewState("q"))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)
}

func TestSelfHeal_PostConditionTriggersRetry(t *testing.T) {
	calls := 0
	op := pipeline.NewFunc("search", func(_ context.Context, s *pipeline.State) (*pipeline.State, error) {
		calls++
		if calls >= 2 {
			s.Candidates = append(s.Candidates, pipeline.Candidate{URI: "hit"})
		}
		return s, nil
	})
	h, err := New(op, WithPostCondition(HasCandidates(1)))
	require.NoError(t, err)

	out, err := h.Apply(context.Background(), pipeline.NewState("q"))

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, out.Candidates, 1)
	assert.Equal(t, string(pipeline.KindPostCondition), out.Trace[0].Payload["kind"])
}

func TestSelfHeal_WeakResultIsRefined(t *testing.T) {
	empty := pipeline.NewFunc("search", func(_ context.Context, s *pipeline.State) (*pipeline.State, error) {
		return s, nil
	})
	h, err := New(empty,
		WithRetries(0),
		WithPostCondition(HasCandidates(1)),
		WithOnWeak(NewWidenSearchTerms("overview")))
	require.NoError(t, err)

	out, err := h.Apply(context.Background(), pipeline.NewState("q"))

	require.NoError(t, err)
	assert.Equal(t, []string{"overview"}, out.Query.Meta.SearchTerms)
	final := lastEvent(out)
	assert.Equal(t, true, final.Payload["refined"])
	assert.Equal(t, false, final.Payload["ok"], "refinement alone does not satisfy the post-condition")
	assert.True(t, h.LastHealth().Refined)
}

func TestSelfHeal_ErroringResultIsNotRefined(t *testing.T) {
	calls := 0
	h, err := New(counting(&calls, 0),
		WithRetries(0),
		WithPostCondition(HasCandidates(5)),
		WithOnWeak(NewWidenSearchTerms("overview")))
	require.NoError(t, err)

	out, err := h.Apply(context.Background(), pipeline.NewState("q"))

	require.NoError(t, err)
	assert.Empty(t, out.Query.Meta.SearchTerms)
	assert.Equal(t, false, lastEvent(out).Payload["refined"])
}

func TestSelfHeal_CancelledContextStops(t *testing.T) {
	calls := 0
	h, err := New(counting(&calls, 0), WithRetries(5))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = h.Apply(ctx, pipeline.NewState("q"))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestSelfHeal_AttemptsAreIsolated(t *testing.T) {
	var seen []int
	op := pipeline.NewFunc("grow", func(_ context.Context, s *pipeline.State) (*pipeline.State, error) {
		seen = append(seen, len(s.Candidates))
		s.Candidates = append(s.Candidates, pipeline.Candidate{URI: "x"})
		return s, errFlaky
	})
	h, err := New(op, WithRetries(2))
	require.NoError(t, err)

	_, err = h.Apply(context.Background(), pipeline.NewState("q"))

	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0}, seen, "each attempt starts from the original state")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.True(t, pipeline.IsConfigError(err))

	_, err = New(pipeline.Identity{}, WithRetries(-1))
	assert.True(t, pipeline.IsConfigError(err))

	_, err = New(pipeline.Identity{}, WithBreaker(0, time.Second))
	assert.True(t, pipeline.IsConfigError(err))

	_, err = New(pipeline.Identity{}, WithBackoff(-time.Second))
	assert.True(t, pipeline.IsConfigError(err))
}
