// Package orgs maintains the organization tree and the members each
// organization owns.
//
// # Materialized paths
//
// Every organization stores its depth and the path of codes from the root:
//
//	R       depth 0  /R/
//	C1      depth 1  /R/C1/
//	C2      depth 2  /R/C1/C2/
//
// Subtree queries match on the path prefix, so "all organizations under C1" is
// a single indexed scan. Moving a node rewrites the path of the node and all of
// its descendants breadth first inside one transaction. On PostgreSQL the
// transaction also holds an advisory lock so two moves touching overlapping
// subtrees run one after the other.
//
// # Deletion
//
// Delete is a soft delete. An organization with an active child or an active
// member cannot be disabled.
//
// # Integrity
//
// Verify recomputes every path from the parent links and reports drift. The
// server runs it on a schedule and exports the count as a gauge.
package orgs
