// Package heal adds resilience around pipeline operations.
//
// SelfHeal is the central wrapper: retries with exponential backoff, a
// fallback operation, a circuit breaker that persists across calls, and a
// refinement hook for results that run cleanly but fail a quality check.
//
// The package also provides the predicates and refiners commonly paired
// with it (HasCandidates, HasEvidence, WidenSearchTerms, StagnationGuard,
// AutoHealPass) and failure-tolerant variants of leaf operations (SafeGrep,
// AdaptiveConcat).
package heal
