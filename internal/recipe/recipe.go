// Package recipe loads pipeline recipes written in CUE and compiles them
// into operation trees.
//
// A recipe file holds a top-level "recipe" struct of named pipelines. Each
// recipe is validated against an embedded schema (schema.cue) before its
// node tree is compiled:
//
//	recipe: lease: {
//		description: "Lease questions over ./docs"
//		pipeline: {
//			op: "sequence"
//			steps: [
//				{op: "term_extract"},
//				{op: "heal", retries: 2, backoff: "100ms",
//					inner: {op: "grep", dir: "docs"},
//					fallback: {op: "glob", dir: "docs", pattern: "**/*.md"},
//					post: {has_candidates: 1}},
//				{op: "fpcache"},
//				{op: "rank", k: 20},
//				{op: "concat"},
//				{op: "answer"},
//			]
//		}
//	}
package recipe

// Recipe is one named pipeline declaration.
type Recipe struct {
	Name        string `json:"-"`
	Description string `json:"description,omitempty"`
	Pipeline    Node   `json:"pipeline"`
}

// Node is one operation in a recipe tree. Which fields apply depends on Op.
type Node struct {
	Op   string `json:"op"`
	Name string `json:"name,omitempty"`

	Steps        []Node     `json:"steps,omitempty"`
	Branches     []Node     `json:"branches,omitempty"`
	Merge        string     `json:"merge,omitempty"`
	Concurrency  int        `json:"concurrency,omitempty"`
	Sequential   bool       `json:"sequential,omitempty"`
	Body         *Node      `json:"body,omitempty"`
	Until        *Predicate `json:"until,omitempty"`
	MaxIters     int        `json:"max_iters,omitempty"`
	Predicate    *Predicate `json:"predicate,omitempty"`
	OnFail       *Node      `json:"on_fail,omitempty"`
	Raise        *bool      `json:"raise,omitempty"`
	Routes       []Route    `json:"routes,omitempty"`
	Default      *Node      `json:"default,omitempty"`
	RequireMatch bool       `json:"require_match,omitempty"`
	Tokens       int        `json:"tokens,omitempty"`
	Deadline     string     `json:"deadline,omitempty"`

	Inner    *Node      `json:"inner,omitempty"`
	Retries  *int       `json:"retries,omitempty"`
	Backoff  string     `json:"backoff,omitempty"`
	Fallback *Node      `json:"fallback,omitempty"`
	Post     *Predicate `json:"post,omitempty"`
	OnWeak   *Node      `json:"on_weak,omitempty"`
	Breaker  *Breaker   `json:"breaker,omitempty"`
	MinGain  int        `json:"min_gain,omitempty"`
	OnStall  *Node      `json:"on_stall,omitempty"`
	Label    string     `json:"label,omitempty"`

	Dir           string   `json:"dir,omitempty"`
	Pattern       string   `json:"pattern,omitempty"`
	Ignore        string   `json:"ignore,omitempty"`
	Context       *int     `json:"context,omitempty"`
	CaseSensitive bool     `json:"case_sensitive,omitempty"`
	K             int      `json:"k,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
	MaxWindow     int      `json:"max_window,omitempty"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
	Mode          string   `json:"mode,omitempty"`
	TTL           string   `json:"ttl,omitempty"`
	MaxEntries    int      `json:"max_entries,omitempty"`
	MinSimilarity float64  `json:"min_similarity,omitempty"`
	Prompt        string   `json:"prompt,omitempty"`
	Extra         []string `json:"extra,omitempty"`
	Path          string   `json:"path,omitempty"`
	Trace         *bool    `json:"trace,omitempty"`
	Candidates    *bool    `json:"candidates,omitempty"`
	Evidence      *bool    `json:"evidence,omitempty"`
	MaxText       *int     `json:"max_text,omitempty"`
	MaxHops       int      `json:"max_hops,omitempty"`
	MaxTargets    int      `json:"max_targets,omitempty"`
	Boost         *float64 `json:"boost,omitempty"`
	Prune         *bool    `json:"prune,omitempty"`
	Patterns      []string `json:"patterns,omitempty"`
}

// Route is one QueryRouter branch.
type Route struct {
	Label string    `json:"label"`
	When  Predicate `json:"when"`
	Do    Node      `json:"do"`
}

// Breaker configures the SelfHeal circuit breaker.
type Breaker struct {
	Threshold int    `json:"threshold"`
	Cooldown  string `json:"cooldown,omitempty"`
}

// Predicate is a conjunction of state conditions. Every set field must hold.
type Predicate struct {
	HasCandidates *int       `json:"has_candidates,omitempty"`
	HasEvidence   *int       `json:"has_evidence,omitempty"`
	Lang          string     `json:"lang,omitempty"`
	QueryMatches  string     `json:"query_matches,omitempty"`
	Stagnant      bool       `json:"stagnant,omitempty"`
	Not           *Predicate `json:"not,omitempty"`
}
