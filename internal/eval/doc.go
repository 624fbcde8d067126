// Package eval scores pipelines against hand-written cases.
//
// A Suite is a named list of Cases, usually loaded from YAML. Each case runs
// the pipeline on its query and checks:
//
//   - must_include: terms the answer must mention (case-insensitive)
//   - must_hit_files: substrings some candidate URI must contain
//   - relevant: ground-truth IDs scored with precision, recall, F1 and MRR
//     against the candidate URIs in rank order
//   - assertions: trace_contains, trace_order and trace_count checks over the
//     trace events
//
// Trace snapshots (golden.go) pin the op/payload sequence of a run with
// goldie golden files.
//
// # Suite files
//
//	name: lease-docs
//	description: Lease questions answered from the docs tree
//	cases:
//	  - name: renewal
//	    query: when is the renewal deadline
//	    must_include: [renewal]
//	    must_hit_files: [lease.md]
//	    relevant: [docs/lease.md]
//	    assertions:
//	      - type: trace_order
//	        ops: [grep, concat, answer]
package eval
