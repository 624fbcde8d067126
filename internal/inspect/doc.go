// Package inspect renders recorded traces for people: a plain-text
// timeline (Explain), per-op timing totals (SummarizeTimings) and a
// standalone HTML viewer (RenderHTML).
package inspect
