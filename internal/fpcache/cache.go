// Package fpcache is an approximate content-addressed cache for pipeline
// fragments.
//
// Fragments are identified by bottom-k shingle fingerprints rather than
// exact hashes, so near-duplicate text (re-wrapped lines, a changed word) is
// still recognised. Candidates that hit the cache get their snippet
// backfilled from the cached text; evidence that hits is dropped as a
// duplicate.
package fpcache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/roach88/qrecall/internal/pipeline"
)

// Mode selects the default similarity threshold.
type Mode string

const (
	// ModeSimilarBlocks matches near-duplicates (threshold 0.72).
	ModeSimilarBlocks Mode = "similar_blocks"

	// ModeExact matches only near-identical text (threshold 0.95).
	ModeExact Mode = "exact"
)

// Defaults and floors for the cache settings.
const (
	DefaultShingleSize   = 5
	DefaultSignatureSize = 32
	DefaultSampleChars   = 4000
	DefaultMaxEntries    = 4096

	minShingleSize   = 2
	minSignatureSize = 4
	minSampleChars   = 200

	similarBlocksThreshold = 0.72
	exactThreshold         = 0.95
)

// MetaKey is the candidate/evidence meta key holding the cache annotation.
const MetaKey = "fingerprint_cache"

type entry struct {
	signature []uint64
	text      string
	uri       string
	ts        time.Time
}

// Cache remembers fragments by fingerprint across pipeline calls.
//
// Entries live in insertion order and the oldest are evicted once
// MaxEntries is exceeded; a hit refreshes an entry's timestamp for TTL
// purposes but not its eviction position. A TTL of zero keeps entries for
// the lifetime of the cache.
//
// Thread-safety: one mutex covers each whole Apply call, so lookup and
// insert are atomic with respect to concurrent pipelines sharing the cache.
type Cache struct {
	name          string
	mode          Mode
	ttl           time.Duration
	shingleSize   int
	signatureSize int
	minSimilarity float64
	sampleChars   int
	maxEntries    int
	clock         pipeline.Clock
	reader        Reader

	mu      sync.Mutex
	nextID  uint64
	entries *simplelru.LRU[uint64, *entry]
	byURI   map[string][]*entry
}

// Option configures a Cache.
type Option func(*Cache)

// WithMode selects similar_blocks or exact matching.
func WithMode(m Mode) Option {
	return func(c *Cache) {
		c.mode = m
	}
}

// WithTTL expires entries not touched within d. Zero keeps them for the
// session.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		c.ttl = d
	}
}

// WithShingleSize sets the token window per shingle (minimum 2).
func WithShingleSize(n int) Option {
	return func(c *Cache) {
		c.shingleSize = n
	}
}

// WithSignatureSize sets how many hashes a signature keeps (minimum 4).
func WithSignatureSize(n int) Option {
	return func(c *Cache) {
		c.signatureSize = n
	}
}

// WithMinSimilarity overrides the mode's similarity threshold.
func WithMinSimilarity(f float64) Option {
	return func(c *Cache) {
		c.minSimilarity = f
	}
}

// WithSampleChars sets how much of each fragment is fingerprinted
// (minimum 200).
func WithSampleChars(n int) Option {
	return func(c *Cache) {
		c.sampleChars = n
	}
}

// WithMaxEntries caps the number of live entries.
//
// Default: 4096 (DefaultMaxEntries)
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		c.maxEntries = n
	}
}

// WithClock sets the clock used for entry timestamps.
func WithClock(clock pipeline.Clock) Option {
	return func(c *Cache) {
		c.clock = clock
	}
}

// WithReader sets how snippet-less candidates are loaded.
func WithReader(r Reader) Option {
	return func(c *Cache) {
		c.reader = r
	}
}

// WithName overrides the operation name.
func WithName(name string) Option {
	return func(c *Cache) {
		c.name = name
	}
}

// New creates a Cache. Sizes below their floors are raised to the floor.
func New(opts ...Option) (*Cache, error) {
	c := &Cache{
		name:          "FingerprintCache",
		mode:          ModeSimilarBlocks,
		shingleSize:   DefaultShingleSize,
		signatureSize: DefaultSignatureSize,
		sampleChars:   DefaultSampleChars,
		maxEntries:    DefaultMaxEntries,
		clock:         pipeline.SystemClock{},
		byURI:         make(map[string][]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}

	switch c.mode {
	case ModeSimilarBlocks:
		if c.minSimilarity == 0 {
			c.minSimilarity = similarBlocksThreshold
		}
	case ModeExact:
		if c.minSimilarity == 0 {
			c.minSimilarity = exactThreshold
		}
	default:
		return nil, pipeline.NewConfigError(c.name, "unknown match mode %q", c.mode)
	}
	if c.minSimilarity < 0 || c.minSimilarity > 1 {
		return nil, pipeline.NewConfigError(c.name, "min similarity must be within [0, 1], got %v", c.minSimilarity)
	}
	if c.ttl < 0 {
		return nil, pipeline.NewConfigError(c.name, "ttl must not be negative")
	}
	if c.maxEntries < 1 {
		return nil, pipeline.NewConfigError(c.name, "max entries must be >= 1, got %d", c.maxEntries)
	}
	c.shingleSize = max(c.shingleSize, minShingleSize)
	c.signatureSize = max(c.signatureSize, minSignatureSize)
	c.sampleChars = max(c.sampleChars, minSampleChars)
	if c.reader == nil {
		c.reader = NewFileReader(nil)
	}

	entries, err := simplelru.NewLRU[uint64, *entry](c.maxEntries, c.onRemove)
	if err != nil {
		return nil, err
	}
	c.entries = entries
	return c, nil
}

// Name returns the operation name.
func (c *Cache) Name() string { return c.name }

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Threshold returns the effective similarity threshold.
func (c *Cache) Threshold() float64 { return c.minSimilarity }

// onRemove drops the locator link of an entry leaving the list, whether by
// capacity eviction or TTL pruning.
func (c *Cache) onRemove(_ uint64, e *entry) {
	if e.uri == "" {
		return
	}
	bucket := c.byURI[e.uri]
	for i, other := range bucket {
		if other == e {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(c.byURI, e.uri)
	} else {
		c.byURI[e.uri] = bucket
	}
}

type callStats struct {
	hits, misses, reused, dropped int
}

// Apply annotates candidates, backfills their snippets from cache hits and
// drops evidence the cache has already seen.
func (c *Cache) Apply(_ context.Context, s *pipeline.State) (*pipeline.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	pruned := c.prune(now)
	var st callStats

	for i := range s.Candidates {
		c.lookupCandidate(&s.Candidates[i], now, &st)
	}

	kept := make([]pipeline.Evidence, 0, len(s.Evidence))
	for _, ev := range s.Evidence {
		if c.lookupEvidence(&ev, now) {
			st.dropped++
			continue
		}
		kept = append(kept, ev)
	}
	s.Evidence = kept

	entriesGauge.Set(float64(c.entries.Len()))
	s.Log(c.name, map[string]any{
		"hits":             st.hits,
		"misses":           st.misses,
		"reused":           st.reused,
		"evidence_dropped": st.dropped,
		"cache":            c.entries.Len(),
		"pruned":           pruned,
		"mode":             string(c.mode),
	})
	slog.Debug("fingerprint cache pass",
		"hits", st.hits,
		"misses", st.misses,
		"reused", st.reused,
		"evidence_dropped", st.dropped,
		"entries", c.entries.Len())
	return s, nil
}

func (c *Cache) lookupCandidate(cand *pipeline.Candidate, now time.Time, st *callStats) {
	text, ok := c.resolveText(*cand)
	if !ok {
		return
	}
	sig := Fingerprint(text, c.shingleSize, c.signatureSize)
	if len(sig) == 0 {
		return
	}

	match, sim := c.bestMatch(sig)
	if match != nil && sim >= c.minSimilarity {
		st.hits++
		lookups.WithLabelValues("candidate", "hit").Inc()
		if !cand.HasSnippet() {
			cand.Snippet = match.text
			st.reused++
		}
		annotate(&cand.Meta, map[string]any{"hit": true, "similarity": sim, "source": match.uri})
		match.ts = now
		return
	}

	st.misses++
	lookups.WithLabelValues("candidate", "miss").Inc()
	annotate(&cand.Meta, map[string]any{"hit": false})
	c.remember(sig, text, cand.URI, now)
}

// lookupEvidence reports whether ev duplicates a cached fragment.
func (c *Cache) lookupEvidence(ev *pipeline.Evidence, now time.Time) bool {
	text := truncate(ev.Text, c.sampleChars)
	if text == "" {
		return false
	}
	sig := Fingerprint(text, c.shingleSize, c.signatureSize)
	if len(sig) == 0 {
		return false
	}

	match, sim := c.bestMatch(sig)
	if match != nil && sim >= c.minSimilarity {
		lookups.WithLabelValues("evidence", "hit").Inc()
		annotate(&ev.Meta, map[string]any{"hit": true, "similarity": sim, "source": match.uri})
		match.ts = now
		return true
	}

	lookups.WithLabelValues("evidence", "miss").Inc()
	c.remember(sig, text, ev.URI, now)
	return false
}

// resolveText finds the text to fingerprint: the snippet, else the newest
// cached text for the URI, else one read through the Reader.
func (c *Cache) resolveText(cand pipeline.Candidate) (string, bool) {
	if cand.HasSnippet() {
		return truncate(cand.Snippet, c.sampleChars), true
	}
	if bucket := c.byURI[cand.URI]; cand.URI != "" && len(bucket) > 0 {
		return bucket[len(bucket)-1].text, true
	}
	text, ok := c.reader.ReadCandidate(cand)
	if !ok || text == "" {
		return "", false
	}
	return truncate(text, c.sampleChars), true
}

// bestMatch returns the live entry most similar to sig. Ties go to the
// oldest entry.
func (c *Cache) bestMatch(sig []uint64) (*entry, float64) {
	var best *entry
	bestSim := 0.0
	for _, e := range c.entries.Values() {
		if sim := Jaccard(sig, e.signature); sim > bestSim {
			best, bestSim = e, sim
		}
	}
	return best, bestSim
}

func (c *Cache) remember(sig []uint64, text, uri string, now time.Time) {
	e := &entry{signature: sig, text: text, uri: uri, ts: now}
	c.nextID++
	if uri != "" {
		c.byURI[uri] = append(c.byURI[uri], e)
	}
	if evicted := c.entries.Add(c.nextID, e); evicted {
		evictions.WithLabelValues("capacity").Inc()
	}
}

// prune removes entries whose timestamp is older than now - ttl.
func (c *Cache) prune(now time.Time) int {
	if c.ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-c.ttl)
	pruned := 0
	for _, id := range c.entries.Keys() {
		e, ok := c.entries.Peek(id)
		if ok && e.ts.Before(cutoff) {
			c.entries.Remove(id)
			pruned++
		}
	}
	if pruned > 0 {
		evictions.WithLabelValues("ttl").Add(float64(pruned))
	}
	return pruned
}

func annotate(meta *map[string]any, fields map[string]any) {
	if *meta == nil {
		*meta = make(map[string]any)
	}
	ann, ok := (*meta)[MetaKey].(map[string]any)
	if !ok {
		ann = make(map[string]any, len(fields))
		(*meta)[MetaKey] = ann
	}
	for k, v := range fields {
		ann[k] = v
	}
}

func truncate(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
