package query

import (
	"time"

	"github.com/kailas-cloud/textdex/internal/lookup"
)

// SortKey is one component of an ORDER BY arrangement.
type SortKey struct {
	Field string
	Desc  bool
}

// ArrangeStep describes sorting and pagination. SortKeysLK is resolved
// against the schema during context apply; its first entry is the primary
// sort key used for WITHSORTKEYS serialization.
type ArrangeStep struct {
	SortBy     []SortKey
	Offset     int64
	Num        int64 // -1 means unlimited
	SortKeysLK []*lookup.Key
}

// Limit returns the effective row budget after offset, or -1 for unlimited.
func (a *ArrangeStep) Limit() int64 {
	if a.Num < 0 {
		return -1
	}
	return a.Offset + a.Num
}

// ReducerKind enumerates GROUPBY reducers.
type ReducerKind string

const (
	ReduceCount ReducerKind = "COUNT"
	ReduceSum   ReducerKind = "SUM"
	ReduceAvg   ReducerKind = "AVG"
	ReduceMin   ReducerKind = "MIN"
	ReduceMax   ReducerKind = "MAX"
)

// Reducer is one REDUCE clause of a GROUPBY step.
type Reducer struct {
	Kind     ReducerKind
	Property string // source property; empty for COUNT
	Alias    string // output name
}

// GroupStep describes a GROUPBY projection.
type GroupStep struct {
	Properties []string
	Reducers   []Reducer
}

// Plan is the compiled form of a search or aggregate request.
type Plan struct {
	Query *Node

	Verbatim     bool
	NoContent    bool
	WithScores   bool
	WithPayloads bool
	WithSortKeys bool

	// Return restricts loaded fields; nil loads every schema field.
	Return []string

	Arrange *ArrangeStep
	Group   *GroupStep

	WithCursor    bool
	CursorCount   int
	CursorMaxIdle time.Duration
}
