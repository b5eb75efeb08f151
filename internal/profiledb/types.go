// Package profiledb implements the sparse-metric formatter and profile.db
// writer: it turns one thread's per-context metric accumulators into the
// (value, metric-id) / (context-id, index) byte blocks profile.db stores,
// and lays out the file's prof-info and id-tuple sections collectively
// across ranks.
package profiledb

import "github.com/perftools/sparsedb-core/pkg/wire"

// MetricID identifies a wire-format metric slot — the "2 B metric id" of
// §4.1's value/metric pair — within a context's accumulated values. A
// caller-facing, scope-agnostic metric (e.g. "cycles") occupies two of
// these: see FunctionScopeID and ExecutionScopeID.
type MetricID = uint16

// ContextID identifies a node in the calling-context tree.
type ContextID = uint32

// SummaryProfileIndex is the reserved profile index for the rank-0 summary
// profile; no real thread ever has this index.
const SummaryProfileIndex uint32 = 0

// FunctionScopeID and ExecutionScopeID derive the two wire-format metric
// ids one base metric occupies in a context's block: the id under which
// the value attributed to the enclosing function is stored, and the id
// under which the value attributed to the precise execution point is
// stored. Both ids live in the *same* context's ci-pair — it is the
// metric id that encodes scope, never the context id (see Format and the
// line-scope HACK it implements).
func FunctionScopeID(base MetricID) MetricID { return base * 2 }

// ExecutionScopeID is FunctionScopeID's execution-scope counterpart; see
// its doc comment.
func ExecutionScopeID(base MetricID) MetricID { return base*2 + 1 }

// ScopedValue holds the two scopes a metric's value can carry within one
// context: the value attributed to the enclosing function, and the value
// attributed to the precise execution point.
type ScopedValue struct {
	Function     float64
	HasFunction  bool
	Execution    float64
	HasExecution bool
}

// ContextAccum is one source context's accumulated metric values for one
// thread (or, for the summary profile, across all threads). Metrics is
// keyed by base metric id; IsLineScope marks the context whose flat scope
// is a "line" scope, in which the function-scope value must be duplicated
// verbatim under the execution-scope id too rather than the execution
// scope contributing its own independent value (see Format).
type ContextAccum struct {
	CtxID       ContextID
	IsLineScope bool
	Metrics     map[MetricID]ScopedValue
}

// Accumulators is one thread's (or the summary profile's) full set of
// per-context accumulated values.
type Accumulators []ContextAccum

// ThreadAttrs identifies one thread contributing a profile to profile.db.
type ThreadAttrs struct {
	ProfIndex uint32
	IDTuple   []wire.IDTupleElem
}
