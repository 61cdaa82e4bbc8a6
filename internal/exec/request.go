// Package exec drives query execution: it builds a request from command
// arguments, composes the result-processor pipeline, serializes replies, and
// hands cursor-mode requests over to the registry.
package exec

import (
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/textdex/internal/domain"
	"github.com/kailas-cloud/textdex/internal/index"
	"github.com/kailas-cloud/textdex/internal/lookup"
	"github.com/kailas-cloud/textdex/internal/pipeline"
	"github.com/kailas-cloud/textdex/internal/query"
)

// Flags control request execution and reply layout.
type Flags uint32

const (
	// IsSearch marks FT.SEARCH semantics (document keys in the reply).
	IsSearch Flags = 1 << iota
	// IsCursor defers execution to the cursor registry.
	IsCursor
	// SendScores includes the relevance score per result.
	SendScores
	// SendPayloads includes the document payload per result.
	SendPayloads
	// SendSortKeys includes the encoded primary sort key per result.
	SendSortKeys
	// SendNoFields suppresses the per-result field block.
	SendNoFields
	// NoRows emits only the total, no result rows.
	NoRows
)

// StateFlags track execution progress.
type StateFlags uint32

const (
	// IterDone is monotonic: once set, Next is never called again.
	IterDone StateFlags = 1 << iota
	// Failed marks a pipeline runtime error.
	Failed
)

// defaultSearchLimit bounds FT.SEARCH results when no LIMIT is given.
const defaultSearchLimit = 10

// Request is the per-command execution object (one FT.SEARCH or
// FT.AGGREGATE invocation). It owns the compiled plan and the pipeline;
// ownership is exclusive: either a command handler holds it, or exactly one
// cursor does.
type Request struct {
	Flags Flags
	State StateFlags

	plan    *query.Plan
	chain   *pipeline.Chain
	conc    *index.ConcurrentCtx
	baseLK  *lookup.Lookup
	groupLK *lookup.Lookup
	loads   []pipeline.LoadField

	// ChunkSize persists the cursor chunk size across reads; a READ without
	// COUNT reuses the previous size.
	ChunkSize int
	MaxIdle   time.Duration

	logger *zap.Logger
	closed bool
}

// NewRequest allocates a request.
func NewRequest(isSearch bool, logger *zap.Logger) *Request {
	r := &Request{logger: logger}
	if isSearch {
		r.Flags |= IsSearch
	}
	return r
}

// Compile parses the argument vector after the index name into the plan and
// derives the request flags.
func (r *Request) Compile(args []string) error {
	plan, err := query.Compile(args)
	if err != nil {
		return err
	}
	r.plan = plan
	if plan.WithScores {
		r.Flags |= SendScores
	}
	if plan.WithPayloads {
		r.Flags |= SendPayloads
	}
	if plan.WithSortKeys {
		r.Flags |= SendSortKeys
	}
	if plan.NoContent {
		r.Flags |= SendNoFields
	}
	// LIMIT 0 0 is a count-only query: emit the total, no rows.
	if plan.Arrange != nil && plan.Arrange.Offset == 0 && plan.Arrange.Num == 0 {
		r.Flags |= NoRows
	}
	if plan.WithCursor {
		r.Flags |= IsCursor
		r.ChunkSize = plan.CursorCount
		r.MaxIdle = plan.CursorMaxIdle
	}
	return nil
}

// ApplyContext resolves the plan against the index schema: builds the
// lookup scopes, fixes up sort-key pointers, and validates field references.
func (r *Request) ApplyContext(conc *index.ConcurrentCtx) error {
	r.conc = conc
	ix := conc.Index()
	schema := ix.Schema()

	r.baseLK = lookup.New()
	loadFields := r.plan.Return
	if loadFields == nil {
		for _, f := range schema.Fields() {
			loadFields = append(loadFields, f.Name)
		}
	}
	for _, name := range loadFields {
		f, ok := schema.FieldByName(name)
		if !ok {
			return domain.NewQueryError(domain.CodeContext, "property `%s` not in schema", name)
		}
		k := r.baseLK.AddKey(name, 0)
		r.loads = append(r.loads, pipeline.LoadField{Key: k, Field: f})
	}

	if r.plan.Group != nil {
		if err := r.applyGroupContext(schema); err != nil {
			return err
		}
	}
	if r.plan.Arrange != nil && len(r.plan.Arrange.SortBy) > 0 {
		if err := r.applyArrangeContext(schema); err != nil {
			return err
		}
	}
	return nil
}

// applyGroupContext resolves GROUPBY properties in the base scope and
// creates the output scope the grouper writes into.
func (r *Request) applyGroupContext(schema *index.Schema) error {
	g := r.plan.Group
	r.groupLK = lookup.New()
	for _, prop := range g.Properties {
		if _, err := r.resolveSource(schema, prop); err != nil {
			return err
		}
		r.groupLK.AddKey(prop, 0)
	}
	for _, red := range g.Reducers {
		if red.Property != "" {
			if _, err := r.resolveSource(schema, red.Property); err != nil {
				return err
			}
		}
		r.groupLK.AddKey(red.Alias, 0)
	}
	return nil
}

// applyArrangeContext resolves the SORTBY keys in the serialization scope.
// Keys for sortable schema fields read from the packed sort vector.
func (r *Request) applyArrangeContext(schema *index.Schema) error {
	a := r.plan.Arrange
	scope := r.lastLookup()
	for _, sk := range a.SortBy {
		var k *lookup.Key
		if r.groupLK != nil {
			if k = scope.GetKey(sk.Field); k == nil {
				return domain.NewQueryError(domain.CodeContext,
					"sort property `%s` not in GROUPBY scope", sk.Field)
			}
		} else {
			var err error
			if k, err = r.resolveSource(schema, sk.Field); err != nil {
				return err
			}
		}
		a.SortKeysLK = append(a.SortKeysLK, k)
	}
	return nil
}

// resolveSource returns a base-scope key for a schema property, flagging it
// to read from the sort vector when the field is sortable. Keys added only
// for sorting stay hidden from the field block.
func (r *Request) resolveSource(schema *index.Schema, name string) (*lookup.Key, error) {
	f, ok := schema.FieldByName(name)
	if !ok {
		return nil, domain.NewQueryError(domain.CodeContext, "property `%s` not in schema", name)
	}
	if k := r.baseLK.GetKey(name); k != nil {
		return k, nil
	}
	if f.SortIdx >= 0 {
		k := r.baseLK.AddKey(name, lookup.SortVectorSource|lookup.Hidden)
		k.SVIdx = f.SortIdx
		return k, nil
	}
	k := r.baseLK.AddKey(name, lookup.Hidden)
	r.loads = append(r.loads, pipeline.LoadField{Key: k, Field: f})
	return k, nil
}

// lastLookup returns the scope field serialization iterates: the grouper's
// output scope when grouping, the base scope otherwise.
func (r *Request) lastLookup() *lookup.Lookup {
	if r.groupLK != nil {
		return r.groupLK
	}
	return r.baseLK
}

// BuildPipeline instantiates the processors in dependency order. After a
// successful build the chain's tail is Next-callable.
func (r *Request) BuildPipeline() error {
	ix := r.conc.Index()
	matches := r.plan.Query.Eval(ix)
	r.chain = &pipeline.Chain{}

	var p pipeline.Processor = pipeline.NewIndexIterator(r.chain, r.conc, matches.IDs)
	if r.Flags&IsSearch != 0 || r.Flags&SendScores != 0 {
		p = pipeline.NewScorer(r.chain, p, r.conc, matches.Terms)
	}
	if len(r.loads) > 0 {
		p = pipeline.NewLoader(p, r.loads)
	}
	if g := r.plan.Group; g != nil {
		p = pipeline.NewGrouper(p, r.groupProps(g), r.groupReducers(g))
	}

	arrange := r.plan.Arrange
	sortKeys := 0
	if arrange != nil {
		sortKeys = len(arrange.SortKeysLK)
	}
	if sortKeys > 0 || r.Flags&IsSearch != 0 {
		var keys []*lookup.Key
		var desc []bool
		var bufCap int64 = -1
		if arrange != nil {
			keys = arrange.SortKeysLK
			for _, sk := range arrange.SortBy {
				desc = append(desc, sk.Desc)
			}
			bufCap = arrange.Limit()
		}
		p = pipeline.NewSorter(p, keys, desc, bufCap)
	}

	offset, num := int64(0), int64(-1)
	if arrange != nil {
		offset, num = arrange.Offset, arrange.Num
	}
	if num < 0 && r.Flags&IsSearch != 0 {
		num = defaultSearchLimit
	}
	// Count-only queries drain the upstream for the total; a pager would
	// cut the enumeration short.
	if r.Flags&NoRows == 0 && (offset > 0 || num >= 0) {
		p = pipeline.NewPager(p, offset, num)
	}

	r.chain.End = p
	return nil
}

func (r *Request) groupProps(g *query.GroupStep) []pipeline.GroupProperty {
	props := make([]pipeline.GroupProperty, len(g.Properties))
	for i, name := range g.Properties {
		props[i] = pipeline.GroupProperty{
			Src: r.baseLK.GetKey(name),
			Out: r.groupLK.GetKey(name),
		}
	}
	return props
}

func (r *Request) groupReducers(g *query.GroupStep) []pipeline.GroupReducer {
	reds := make([]pipeline.GroupReducer, len(g.Reducers))
	for i, red := range g.Reducers {
		reds[i] = pipeline.GroupReducer{
			Kind: red.Kind,
			Src:  r.baseLK.GetKey(red.Property),
			Out:  r.groupLK.GetKey(red.Alias),
		}
	}
	return reds
}

// Close releases the request. Safe against double disposal: the second call
// is a no-op, satisfying the freed-exactly-once invariant for every path
// (inline execution, cursor disposal, build failure).
func (r *Request) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.chain = nil
	r.conc = nil
}

// Closed reports whether the request has been released.
func (r *Request) Closed() bool { return r.closed }
