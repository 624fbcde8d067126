package pipeline

// QueryMeta holds the typed hints operations exchange through the query.
//
// SearchTerms and PathHints are read by search operations and widened by
// refinement operations. Route records the label chosen by a QueryRouter.
// Extra carries caller-defined keys that have no typed home.
type QueryMeta struct {
	SearchTerms []string
	PathHints   []string
	Route       string
	Extra       map[string]any
}

// Clone returns a copy of m whose slices and Extra map are not aliased.
func (m QueryMeta) Clone() QueryMeta {
	out := QueryMeta{Route: m.Route}
	if m.SearchTerms != nil {
		out.SearchTerms = append([]string(nil), m.SearchTerms...)
	}
	if m.PathHints != nil {
		out.PathHints = append([]string(nil), m.PathHints...)
	}
	out.Extra = cloneMap(m.Extra)
	return out
}

// AddSearchTerms appends terms not already present, preserving order.
// It returns the terms that were actually added.
func (m *QueryMeta) AddSearchTerms(terms ...string) []string {
	seen := make(map[string]bool, len(m.SearchTerms))
	for _, t := range m.SearchTerms {
		seen[t] = true
	}
	var added []string
	for _, t := range terms {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		m.SearchTerms = append(m.SearchTerms, t)
		added = append(added, t)
	}
	return added
}

// AddPathHints appends path hints not already present, preserving order.
func (m *QueryMeta) AddPathHints(hints ...string) {
	seen := make(map[string]bool, len(m.PathHints))
	for _, h := range m.PathHints {
		seen[h] = true
	}
	for _, h := range hints {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		m.PathHints = append(m.PathHints, h)
	}
}

// SetExtra stores a caller-defined value, allocating the map on first use.
func (m *QueryMeta) SetExtra(key string, value any) {
	if m.Extra == nil {
		m.Extra = make(map[string]any)
	}
	m.Extra[key] = value
}
