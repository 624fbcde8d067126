package search

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/roach88/qrecall/internal/pipeline"
)

// RefMode selects a ReferenceFollower preset.
type RefMode string

const (
	RefModeLight      RefMode = "light"
	RefModeBalanced   RefMode = "balanced"
	RefModeAggressive RefMode = "aggressive"
)

type refPreset struct {
	maxTargets int
	boost      float64
	maxHops    int
	heuristics bool
}

var refPresets = map[RefMode]refPreset{
	RefModeLight:      {maxTargets: 32, boost: 0.25, maxHops: 1},
	RefModeBalanced:   {maxTargets: 64, boost: 0.4, maxHops: 2, heuristics: true},
	RefModeAggressive: {maxTargets: 96, boost: 0.5, maxHops: 4, heuristics: true},
}

// DefaultRefPatterns match the cross-references common in long documents:
// notes, items, sections, appendices, exhibits, tables, figures, schedules,
// bracketed footnotes and markdown anchors.
var DefaultRefPatterns = []string{
	`See\s+Note\s+\d+[A-Za-z]?`,
	`Note\s+\d+[A-Za-z]?`,
	`Item\s+\d+[A-Za-z]?`,
	`(?:Section|Sec\.|§)\s+\d+(?:\.\d+)*`,
	`Appendix\s+[A-Z]\b`,
	`Exhibit\s+\d+(?:\.\d+)*`,
	`Table\s+\d+(?:\.\d+)*`,
	`Figure\s+\d+(?:\.\d+)*`,
	`Schedule\s+[A-Z0-9.]+`,
	`\[\s*\d+[A-Za-z]?\s*\]`,
	`#[A-Za-z][\w-]{2,}`,
}

var (
	sectionRef = regexp.MustCompile(`(?i)^(?:section|sec\.|§)\s+(\d+(?:\.\d+)*)`)
	noteRef    = regexp.MustCompile(`(?i)^note\s+(\d+[A-Za-z]?)`)
	itemRef    = regexp.MustCompile(`(?i)^item\s+(\d+[A-Za-z]?)`)
	pathish    = regexp.MustCompile(`(?:[A-Za-z0-9_.-]+/)+[A-Za-z0-9_.-]+|[A-Za-z0-9_.-]+\.(?:py|js|ts|md|txt|rst|ini|ya?ml|json)`)
	spaces     = regexp.MustCompile(`\s+`)
)

// ReferenceFollower follows textual cross-references ("See Note 12",
// "Section 2.3", "[4]") to the files that define them.
//
// Each hop scans the evidence (or, before any evidence exists, the candidate
// snippets) for references, turns every new target into a Grep over the
// root and merges the hits as candidates. Hits get the per-target score
// boost and record the target in Meta["ref_hit"] and the hop in
// Meta["ref_hop"]. URIs already present are never added twice.
//
// With pruning on, the follower stops at the first hop that adds nothing.
type ReferenceFollower struct {
	name       string
	root       string
	mode       RefMode
	patterns   []*regexp.Regexp
	maxTargets int
	boost      float64
	maxHops    int
	prune      bool
	heuristics bool
	grepOpts   []GrepOption
}

// RefOption configures a ReferenceFollower.
type RefOption func(*refConfig)

type refConfig struct {
	name       string
	mode       RefMode
	patterns   []string
	maxTargets int
	boost      *float64
	maxHops    int
	prune      *bool
	grepOpts   []GrepOption
}

// WithRefMode selects the light, balanced or aggressive preset.
//
// Default: balanced
func WithRefMode(m RefMode) RefOption {
	return func(c *refConfig) {
		c.mode = m
	}
}

// WithRefPatterns replaces DefaultRefPatterns. Patterns match
// case-insensitively.
func WithRefPatterns(patterns ...string) RefOption {
	return func(c *refConfig) {
		c.patterns = patterns
	}
}

// WithMaxTargets caps the targets searched per hop.
func WithMaxTargets(n int) RefOption {
	return func(c *refConfig) {
		c.maxTargets = n
	}
}

// WithTargetBoost sets the score added to every hit.
func WithTargetBoost(b float64) RefOption {
	return func(c *refConfig) {
		c.boost = &b
	}
}

// WithMaxHops bounds how many times references are followed.
func WithMaxHops(n int) RefOption {
	return func(c *refConfig) {
		c.maxHops = n
	}
}

// WithPrune sets whether a hop that adds nothing ends the search.
//
// Default: true
func WithPrune(prune bool) RefOption {
	return func(c *refConfig) {
		c.prune = &prune
	}
}

// WithRefGrep passes options to the per-target Grep.
func WithRefGrep(opts ...GrepOption) RefOption {
	return func(c *refConfig) {
		c.grepOpts = append(c.grepOpts, opts...)
	}
}

// WithRefName overrides the operation name.
func WithRefName(name string) RefOption {
	return func(c *refConfig) {
		c.name = name
	}
}

// NewReferenceFollower creates a follower searching under dir. An empty dir
// searches the common parent directory of the state's file:// URIs.
func NewReferenceFollower(dir string, opts ...RefOption) (*ReferenceFollower, error) {
	cfg := refConfig{name: "ReferenceFollower", mode: RefModeBalanced}
	for _, opt := range opts {
		opt(&cfg)
	}

	preset, ok := refPresets[cfg.mode]
	if !ok {
		return nil, pipeline.NewConfigError(cfg.name, "unknown reference mode %q", cfg.mode)
	}
	if cfg.maxTargets < 0 || cfg.maxHops < 0 {
		return nil, pipeline.NewConfigError(cfg.name, "max targets and max hops must not be negative")
	}

	f := &ReferenceFollower{
		name:       cfg.name,
		mode:       cfg.mode,
		maxTargets: preset.maxTargets,
		boost:      preset.boost,
		maxHops:    preset.maxHops,
		prune:      true,
		heuristics: preset.heuristics,
		grepOpts:   append([]GrepOption{WithGrepName(cfg.name)}, cfg.grepOpts...),
	}
	if cfg.maxTargets > 0 {
		f.maxTargets = cfg.maxTargets
	}
	if cfg.boost != nil {
		f.boost = *cfg.boost
	}
	if cfg.maxHops > 0 {
		f.maxHops = cfg.maxHops
	}
	if cfg.prune != nil {
		f.prune = *cfg.prune
	}

	patterns := cfg.patterns
	if len(patterns) == 0 {
		patterns = DefaultRefPatterns
	}
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, pipeline.NewConfigError(cfg.name, "invalid reference pattern %q: %v", p, err)
		}
		f.patterns = append(f.patterns, re)
	}

	if dir != "" {
		root, err := filepath.Abs(dir)
		if err != nil {
			return nil, pipeline.NewConfigError(cfg.name, "resolve root: %v", err)
		}
		f.root = root
	}
	return f, nil
}

// Name returns the operation name.
func (f *ReferenceFollower) Name() string { return f.name }

// Apply follows references for up to the configured number of hops and logs
// one "follow_refs" event.
func (f *ReferenceFollower) Apply(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
	root := f.resolveRoot(s)
	seenURIs := make(map[string]bool, len(s.Candidates))
	for _, c := range s.Candidates {
		seenURIs[c.URI] = true
	}
	seenQueries := make(map[string]bool)

	var totalTargets, totalQueries, added, hop int
	for hop < f.maxHops {
		targets := f.extractTargets(collectText(s))
		if f.heuristics {
			targets = appendUnique(targets, heuristicTargets(s)...)
		}

		var queries []string
		for _, q := range normalizeTargets(targets) {
			key := strings.ToLower(q)
			if seenQueries[key] {
				continue
			}
			seenQueries[key] = true
			queries = append(queries, q)
			if len(queries) >= f.maxTargets {
				break
			}
		}
		totalTargets += len(targets)
		totalQueries += len(queries)
		if len(queries) == 0 {
			break
		}

		found, err := f.searchQueries(ctx, root, queries, s, hop)
		if err != nil {
			return s, err
		}
		var fresh []pipeline.Candidate
		for _, c := range found {
			if seenURIs[c.URI] {
				continue
			}
			seenURIs[c.URI] = true
			fresh = append(fresh, c)
		}

		hop++
		if len(fresh) == 0 {
			if f.prune {
				break
			}
			continue
		}
		added += len(fresh)
		s.Candidates = pipeline.DedupCandidates(append(s.Candidates, fresh...))
	}

	s.Log("follow_refs", map[string]any{
		"targets": totalTargets,
		"queries": totalQueries,
		"added":   added,
		"hops":    hop,
		"mode":    string(f.mode),
	})
	return s, nil
}

func (f *ReferenceFollower) searchQueries(ctx context.Context, root string, queries []string, s *pipeline.State, hop int) ([]pipeline.Candidate, error) {
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, nil
	}
	grep, err := NewGrep(root, f.grepOpts...)
	if err != nil {
		return nil, err
	}

	var out []pipeline.Candidate
	for _, q := range queries {
		qs := pipeline.NewState(q)
		qs.Query.Lang = s.Query.Lang
		qs.Query.Meta.SearchTerms = []string{q}
		qs.Query.Meta.PathHints = append([]string(nil), s.Query.Meta.PathHints...)

		res, err := grep.Apply(ctx, qs)
		if err != nil {
			return nil, err
		}
		for _, c := range res.Candidates {
			c.Score += f.boost
			hits, _ := c.Meta["ref_hit"].([]string)
			c.Meta["ref_hit"] = append(hits, q)
			c.Meta["ref_hop"] = hop
			out = append(out, c)
		}
	}
	return out, nil
}

// resolveRoot returns the configured root, else the deepest directory
// containing every file:// URI in the state, else the working directory.
func (f *ReferenceFollower) resolveRoot(s *pipeline.State) string {
	if f.root != "" {
		return f.root
	}
	var dirs []string
	for _, c := range s.Candidates {
		if p, ok := PathFromURI(c.URI); ok {
			dirs = append(dirs, filepath.Dir(p))
		}
	}
	for _, e := range s.Evidence {
		if p, ok := PathFromURI(e.URI); ok {
			dirs = append(dirs, filepath.Dir(p))
		}
	}
	if len(dirs) == 0 {
		root, _ := filepath.Abs(".")
		return root
	}
	return commonDir(dirs)
}

func commonDir(dirs []string) string {
	common := filepath.Clean(dirs[0])
	for _, d := range dirs[1:] {
		d = filepath.Clean(d)
		for common != d && !strings.HasPrefix(d, common+string(filepath.Separator)) {
			parent := filepath.Dir(common)
			if parent == common {
				return common
			}
			common = parent
		}
	}
	return common
}

func (f *ReferenceFollower) extractTargets(text string) []string {
	var found []string
	for _, re := range f.patterns {
		for _, m := range re.FindAllString(text, -1) {
			found = appendUnique(found, normalizeToken(m))
		}
	}
	return found
}

// collectText joins the evidence texts, or the candidate snippets when
// there is no evidence yet.
func collectText(s *pipeline.State) string {
	var parts []string
	if len(s.Evidence) > 0 {
		for _, e := range s.Evidence {
			if e.Text != "" {
				parts = append(parts, e.Text)
			}
		}
	} else {
		for _, c := range s.Candidates {
			if c.HasSnippet() {
				parts = append(parts, c.Snippet)
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

// heuristicTargets guesses targets from file-like tokens in snippets and
// from the candidates' own path names.
func heuristicTargets(s *pipeline.State) []string {
	var targets []string
	add := func(t string) {
		if t = normalizeToken(t); len(t) > 3 {
			targets = appendUnique(targets, t)
		}
	}
	for _, c := range s.Candidates {
		for _, m := range pathish.FindAllString(c.Snippet, -1) {
			add(m)
		}
		if p, ok := PathFromURI(c.URI); ok {
			base := filepath.Base(p)
			add(strings.TrimSuffix(base, filepath.Ext(base)))
			add(base)
			add(filepath.Base(filepath.Dir(p)))
		}
	}
	return targets
}

// normalizeTargets adds the spelling variants of section, note and item
// references. The result is unique case-insensitively and keeps order.
func normalizeTargets(tokens []string) []string {
	var out []string
	for _, t := range tokens {
		out = append(out, t)
		if m := sectionRef.FindStringSubmatch(t); m != nil {
			out = append(out, "Section "+m[1], "§ "+m[1], "Sec. "+m[1])
		}
		if m := noteRef.FindStringSubmatch(t); m != nil {
			out = append(out, "Note "+m[1], "See Note "+m[1])
		}
		if m := itemRef.FindStringSubmatch(t); m != nil {
			out = append(out, "Item "+m[1])
		}
	}

	seen := make(map[string]bool, len(out))
	uniq := out[:0]
	for _, q := range out {
		key := strings.ToLower(q)
		if seen[key] {
			continue
		}
		seen[key] = true
		uniq = append(uniq, q)
	}
	return uniq
}

func normalizeToken(t string) string {
	return strings.TrimSpace(spaces.ReplaceAllString(t, " "))
}

func appendUnique(list []string, items ...string) []string {
	for _, it := range items {
		dup := false
		for _, have := range list {
			if have == it {
				dup = true
				break
			}
		}
		if !dup {
			list = append(list, it)
		}
	}
	return list
}
