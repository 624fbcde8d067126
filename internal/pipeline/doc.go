// Package pipeline is the composition engine for retrieval workflows.
//
// A pipeline is a tree of Operations applied to a State. Leaves search, rank
// and compose; interior nodes decide how the State flows:
//
//   - Sequence: children in order, each seeing the previous mutations
//   - Branch: sub-pipelines on independent clones, merged by concat or best
//   - Loop: a body repeated until a condition holds or a cap is reached
//   - Gate: a predicate check with optional recovery
//   - QueryRouter: first-match dispatch over labelled routes
//   - BudgetGuard: token and wall-clock limits around an inner operation
//
// Every operation appends to State.Trace and never removes events, so the
// trace of a finished run is the complete audit log of what happened.
//
// Thread-safety: a State must only be touched by one goroutine at a time.
// Branch enforces this by giving each concurrent sub-pipeline its own deep
// copy via State.Clone.
package pipeline
