package recipe

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/roach88/qrecall/internal/answer"
	"github.com/roach88/qrecall/internal/fpcache"
	"github.com/roach88/qrecall/internal/heal"
	"github.com/roach88/qrecall/internal/history"
	"github.com/roach88/qrecall/internal/pipeline"
	"github.com/roach88/qrecall/internal/rank"
	"github.com/roach88/qrecall/internal/search"
)

// Compiler turns recipe nodes into operations.
//
// One Compiler shares a line cache across every search and cache node it
// builds. Relative directories and paths resolve against the root.
type Compiler struct {
	root  string
	clock pipeline.Clock
	lines *search.LineCache
	sink  history.Sink
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithRoot sets the directory relative paths resolve against.
//
// Default: "."
func WithRoot(dir string) CompilerOption {
	return func(c *Compiler) {
		c.root = dir
	}
}

// WithClock sets the clock handed to timed operations.
func WithClock(clock pipeline.Clock) CompilerOption {
	return func(c *Compiler) {
		c.clock = clock
	}
}

// WithLineCache shares an existing line cache.
func WithLineCache(lines *search.LineCache) CompilerOption {
	return func(c *Compiler) {
		c.lines = lines
	}
}

// WithHistorySink sets the sink persist nodes write to when they name no
// path of their own. Without one they append to history.DefaultPath under
// the root.
func WithHistorySink(sink history.Sink) CompilerOption {
	return func(c *Compiler) {
		c.sink = sink
	}
}

// NewCompiler creates a Compiler.
func NewCompiler(opts ...CompilerOption) (*Compiler, error) {
	c := &Compiler{root: ".", clock: pipeline.SystemClock{}}
	for _, opt := range opts {
		opt(c)
	}
	if c.lines == nil {
		lines, err := search.NewLineCache(search.DefaultLineCacheSize)
		if err != nil {
			return nil, err
		}
		c.lines = lines
	}
	return c, nil
}

// Compile builds the operation tree of r.
func (c *Compiler) Compile(r Recipe) (pipeline.Operation, error) {
	return c.compileNode("recipe."+r.Name+".pipeline", &r.Pipeline)
}

// CompileString parses src and compiles the recipe called name. An empty
// name is allowed when src declares exactly one recipe.
func (c *Compiler) CompileString(src, name string) (pipeline.Operation, error) {
	recipes, err := Parse([]byte(src), "recipe.cue")
	if err != nil {
		return nil, err
	}
	if name == "" {
		if len(recipes) != 1 {
			return nil, fmt.Errorf("source declares %d recipes, name one", len(recipes))
		}
		return c.Compile(recipes[0])
	}
	r, err := Find(recipes, name)
	if err != nil {
		return nil, err
	}
	return c.Compile(r)
}

func (c *Compiler) compileNode(field string, n *Node) (pipeline.Operation, error) {
	op, err := c.build(field, n)
	if err != nil {
		var ce *CompileError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, &CompileError{Field: field, Message: err.Error()}
	}
	return op, nil
}

// child compiles an optional nested node. A nil node yields nil.
func (c *Compiler) child(field string, n *Node) (pipeline.Operation, error) {
	if n == nil {
		return nil, nil
	}
	return c.compileNode(field, n)
}

func (c *Compiler) children(field string, nodes []Node) ([]pipeline.Operation, error) {
	ops := make([]pipeline.Operation, 0, len(nodes))
	for i := range nodes {
		op, err := c.compileNode(fmt.Sprintf("%s[%d]", field, i), &nodes[i])
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (c *Compiler) required(field string, n *Node) (pipeline.Operation, error) {
	if n == nil {
		return nil, &CompileError{Field: field, Message: "is required"}
	}
	return c.compileNode(field, n)
}

func (c *Compiler) build(field string, n *Node) (pipeline.Operation, error) {
	opts := []pipeline.Option{pipeline.WithClock(c.clock)}
	if n.Name != "" {
		opts = append(opts, pipeline.WithName(n.Name))
	}

	switch n.Op {
	case "sequence":
		steps, err := c.children(field+".steps", n.Steps)
		if err != nil {
			return nil, err
		}
		return pipeline.NewSequence(steps, opts...), nil

	case "branch":
		branches, err := c.children(field+".branches", n.Branches)
		if err != nil {
			return nil, err
		}
		if n.Sequential {
			opts = append(opts, pipeline.WithSequential())
		}
		if n.Concurrency > 0 {
			opts = append(opts, pipeline.WithConcurrencyLimit(n.Concurrency))
		}
		return pipeline.NewBranch(pipeline.MergePolicy(n.Merge), branches, opts...)

	case "loop":
		body, err := c.required(field+".body", n.Body)
		if err != nil {
			return nil, err
		}
		until, err := untilFunc(field+".until", n.Until)
		if err != nil {
			return nil, err
		}
		if n.MaxIters > 0 {
			opts = append(opts, pipeline.WithMaxIters(n.MaxIters))
		}
		return pipeline.NewLoop(body, until, opts...)

	case "gate":
		if n.Predicate == nil {
			return nil, &CompileError{Field: field + ".predicate", Message: "is required"}
		}
		pred, err := statePredicate(field+".predicate", n.Predicate)
		if err != nil {
			return nil, err
		}
		onFail, err := c.child(field+".on_fail", n.OnFail)
		if err != nil {
			return nil, err
		}
		if onFail != nil {
			opts = append(opts, pipeline.WithOnFail(onFail))
		}
		if n.Raise != nil {
			opts = append(opts, pipeline.WithRaiseOnFail(*n.Raise))
		}
		return pipeline.NewGate(pipeline.Check(pred), opts...)

	case "router":
		routes := make([]pipeline.Route, 0, len(n.Routes))
		for i := range n.Routes {
			rf := fmt.Sprintf("%s.routes[%d]", field, i)
			when, err := statePredicate(rf+".when", &n.Routes[i].When)
			if err != nil {
				return nil, err
			}
			op, err := c.compileNode(rf+".do", &n.Routes[i].Do)
			if err != nil {
				return nil, err
			}
			routes = append(routes, pipeline.Route{Label: n.Routes[i].Label, When: pipeline.Check(when), Op: op})
		}
		def, err := c.child(field+".default", n.Default)
		if err != nil {
			return nil, err
		}
		if def != nil {
			opts = append(opts, pipeline.WithDefaultRoute(def))
		}
		if n.RequireMatch {
			opts = append(opts, pipeline.WithRequireMatch())
		}
		return pipeline.NewQueryRouter(routes, opts...)

	case "budget":
		inner, err := c.required(field+".inner", n.Inner)
		if err != nil {
			return nil, err
		}
		deadline, err := duration(field+".deadline", n.Deadline)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithTokenCap(n.Tokens), pipeline.WithDeadline(deadline))
		return pipeline.NewBudgetGuard(inner, opts...)

	case "heal":
		return c.buildHeal(field, n)

	case "auto_heal":
		recovery, err := c.required(field+".inner", n.Inner)
		if err != nil {
			return nil, err
		}
		if n.Predicate == nil {
			return nil, &CompileError{Field: field + ".predicate", Message: "is required"}
		}
		weak, err := statePredicate(field+".predicate", n.Predicate)
		if err != nil {
			return nil, err
		}
		return heal.NewAutoHealPass(recovery, weak, n.Label)

	case "identity":
		return pipeline.Identity{}, nil

	case "grep":
		return search.NewGrep(c.resolve(n.Dir), c.grepOptions(n)...)

	case "safe_grep":
		return heal.NewSafeGrep(c.resolve(n.Dir), c.grepOptions(n)...)

	case "glob":
		return search.NewGlob(c.resolve(n.Dir), n.Pattern)

	case "follow_refs":
		return c.buildFollowRefs(n)

	case "rank":
		return rank.NewRanking(n.K, n.Keywords...), nil

	case "concat":
		return rank.NewConcat(n.MaxWindow), nil

	case "adaptive_concat":
		return heal.NewAdaptiveConcat(n.MaxWindow), nil

	case "enrich":
		return rank.NewContextEnricher(n.MaxTokens, nil), nil

	case "dedup":
		return rank.Deduplicate{}, nil

	case "fpcache":
		return c.buildCache(field, n)

	case "answer":
		return answer.NewComposeAnswer(n.Prompt), nil

	case "term_extract":
		return answer.NewTermExtractor(n.Extra...), nil

	case "lang_norm":
		return answer.LangNormalizer{}, nil

	case "widen_terms":
		return heal.NewWidenSearchTerms(n.Extra...), nil

	case "stagnation_guard":
		onStall, err := c.child(field+".on_stall", n.OnStall)
		if err != nil {
			return nil, err
		}
		var opts []heal.GuardOption
		if n.Name != "" {
			opts = append(opts, heal.WithGuardName(n.Name))
		}
		return heal.NewStagnationGuard(n.MinGain, onStall, opts...), nil

	case "persist":
		return c.buildPersist(n), nil

	default:
		return nil, &CompileError{Field: field + ".op", Message: fmt.Sprintf("unknown operation %q", n.Op)}
	}
}

func (c *Compiler) buildHeal(field string, n *Node) (pipeline.Operation, error) {
	inner, err := c.required(field+".inner", n.Inner)
	if err != nil {
		return nil, err
	}
	opts := []heal.Option{heal.WithClock(c.clock)}
	if n.Name != "" {
		opts = append(opts, heal.WithName(n.Name))
	}
	if n.Retries != nil {
		opts = append(opts, heal.WithRetries(*n.Retries))
	}
	backoff, err := duration(field+".backoff", n.Backoff)
	if err != nil {
		return nil, err
	}
	if n.Backoff != "" {
		opts = append(opts, heal.WithBackoff(backoff))
	}
	fallback, err := c.child(field+".fallback", n.Fallback)
	if err != nil {
		return nil, err
	}
	if fallback != nil {
		opts = append(opts, heal.WithFallback(fallback))
	}
	if n.Post != nil {
		post, err := statePredicate(field+".post", n.Post)
		if err != nil {
			return nil, err
		}
		opts = append(opts, heal.WithPostCondition(post))
	}
	onWeak, err := c.child(field+".on_weak", n.OnWeak)
	if err != nil {
		return nil, err
	}
	if onWeak != nil {
		opts = append(opts, heal.WithOnWeak(onWeak))
	}
	if n.Breaker != nil {
		cooldown, err := duration(field+".breaker.cooldown", n.Breaker.Cooldown)
		if err != nil {
			return nil, err
		}
		opts = append(opts, heal.WithBreaker(n.Breaker.Threshold, cooldown))
	}
	return heal.New(inner, opts...)
}

func (c *Compiler) buildCache(field string, n *Node) (pipeline.Operation, error) {
	opts := []fpcache.Option{
		fpcache.WithClock(c.clock),
		fpcache.WithReader(fpcache.NewFileReader(c.lines)),
	}
	if n.Name != "" {
		opts = append(opts, fpcache.WithName(n.Name))
	}
	if n.Mode != "" {
		opts = append(opts, fpcache.WithMode(fpcache.Mode(n.Mode)))
	}
	ttl, err := duration(field+".ttl", n.TTL)
	if err != nil {
		return nil, err
	}
	if ttl > 0 {
		opts = append(opts, fpcache.WithTTL(ttl))
	}
	if n.MaxEntries > 0 {
		opts = append(opts, fpcache.WithMaxEntries(n.MaxEntries))
	}
	if n.MinSimilarity > 0 {
		opts = append(opts, fpcache.WithMinSimilarity(n.MinSimilarity))
	}
	return fpcache.New(opts...)
}

func (c *Compiler) buildPersist(n *Node) pipeline.Operation {
	sink := c.sink
	switch {
	case n.Path != "":
		sink = history.NewJSONLSink(c.resolve(n.Path))
	case sink == nil:
		sink = history.NewJSONLSink(c.resolve(history.DefaultPath))
	}
	opts := []history.PersistOption{history.WithClock(c.clock)}
	if n.Trace != nil && !*n.Trace {
		opts = append(opts, history.WithoutTrace())
	}
	if n.Candidates != nil && !*n.Candidates {
		opts = append(opts, history.WithoutCandidates())
	}
	if n.Evidence != nil && !*n.Evidence {
		opts = append(opts, history.WithoutEvidence())
	}
	if n.MaxText != nil {
		opts = append(opts, history.WithMaxText(*n.MaxText))
	}
	return history.NewPersistHistory(sink, opts...)
}

func (c *Compiler) buildFollowRefs(n *Node) (pipeline.Operation, error) {
	opts := []search.RefOption{
		search.WithRefGrep(search.WithLineCache(c.lines)),
		search.WithMaxHops(n.MaxHops),
		search.WithMaxTargets(n.MaxTargets),
	}
	if n.Mode != "" {
		opts = append(opts, search.WithRefMode(search.RefMode(n.Mode)))
	}
	if n.Boost != nil {
		opts = append(opts, search.WithTargetBoost(*n.Boost))
	}
	if n.Prune != nil {
		opts = append(opts, search.WithPrune(*n.Prune))
	}
	if len(n.Patterns) > 0 {
		opts = append(opts, search.WithRefPatterns(n.Patterns...))
	}
	if n.Name != "" {
		opts = append(opts, search.WithRefName(n.Name))
	}
	return search.NewReferenceFollower(c.resolve(n.Dir), opts...)
}

func (c *Compiler) grepOptions(n *Node) []search.GrepOption {
	opts := []search.GrepOption{search.WithLineCache(c.lines)}
	if n.Pattern != "" {
		opts = append(opts, search.WithFileGlob(n.Pattern))
	}
	if n.Ignore != "" {
		opts = append(opts, search.WithIgnore(n.Ignore))
	}
	if n.Context != nil {
		opts = append(opts, search.WithContextLines(*n.Context))
	}
	if n.CaseSensitive {
		opts = append(opts, search.WithCaseSensitive())
	}
	if n.Name != "" && n.Op == "grep" {
		opts = append(opts, search.WithGrepName(n.Name))
	}
	return opts
}

// resolve joins a relative path onto the compiler root. An empty path
// resolves to the root itself.
func (c *Compiler) resolve(p string) string {
	if p == "" {
		return c.root
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.root, p)
}

func duration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &CompileError{Field: field, Message: err.Error()}
	}
	return d, nil
}
