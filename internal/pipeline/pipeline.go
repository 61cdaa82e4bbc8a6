// Package pipeline implements the pull-based result processor chain. Stages
// are composed linearly at build time; each Next call on a stage pulls from
// its upstream and transforms. Errors travel out-of-band on the Chain.
package pipeline

import (
	"github.com/kailas-cloud/textdex/internal/domain"
	"github.com/kailas-cloud/textdex/internal/index"
	"github.com/kailas-cloud/textdex/internal/lookup"
)

// Code is the status of one Next pull.
type Code int

const (
	// CodeOK means the output result is populated and owned by the caller.
	CodeOK Code = iota
	// CodeEOF signals end of stream; no further calls expected.
	CodeEOF
	// CodePaused is a cooperative yield; the chain is resumable.
	CodePaused
	// CodeError signals a stage failure; the error is on the Chain.
	CodeError
)

// SearchResult is the per-document record flowing through the chain.
type SearchResult struct {
	DocID uint32
	Score float64
	Meta  *index.DocMeta
	Row   lookup.Row
}

// Clear resets the result for reuse after serialization.
func (r *SearchResult) Clear() {
	r.DocID = 0
	r.Score = 0
	r.Meta = nil
	r.Row.Clear()
}

func (r *SearchResult) copyFrom(src *SearchResult) {
	r.DocID = src.DocID
	r.Score = src.Score
	r.Meta = src.Meta
	r.Row = src.Row
}

// Processor is one stage of the chain.
type Processor interface {
	Next(out *SearchResult) Code
}

// Chain carries the cross-stage execution state: the tail processor, the
// running total of documents the deepest reader encountered, and the
// out-of-band error slot.
type Chain struct {
	End          Processor
	TotalResults uint64
	Err          *domain.QueryError
}

// Fail records err on the chain and returns CodeError.
func (c *Chain) Fail(err error) Code {
	if c.Err == nil {
		c.Err = domain.AsQueryError(err)
	}
	return CodeError
}
