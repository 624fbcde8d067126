// Package history persists compact records of finished pipeline runs.
//
// A Record captures the query, answer, budget and optionally the
// candidates, evidence and trace of a State, with long text fields clipped.
// Records go to a Sink: an append-only JSONL file (JSONLSink) or the SQLite
// run store (Store). The PersistHistory operation writes one record per call
// and never fails the pipeline; write errors are reported in the trace.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Trace events are stored one row per event, ordered by their position in
// the run (seq), never by timestamp.
package history
