package pipeline

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/kailas-cloud/textdex/internal/domain"
	"github.com/kailas-cloud/textdex/internal/index"
	"github.com/kailas-cloud/textdex/internal/lookup"
)

// IndexIterator is the root stage: it walks the materialized doc-id set,
// resolves document metadata, and counts every live document it encounters
// into Chain.TotalResults.
type IndexIterator struct {
	chain *Chain
	conc  *index.ConcurrentCtx
	it    roaring.IntIterable
}

// NewIndexIterator creates the root stage over a matched doc-id set.
func NewIndexIterator(chain *Chain, conc *index.ConcurrentCtx, ids *roaring.Bitmap) *IndexIterator {
	return &IndexIterator{chain: chain, conc: conc, it: ids.Iterator()}
}

func (p *IndexIterator) Next(out *SearchResult) Code {
	ix := p.conc.Index()
	if ix == nil {
		return p.chain.Fail(domain.WrapQueryError(domain.CodeRuntime, domain.ErrIndexDropped))
	}
	for p.it.HasNext() {
		id := p.it.Next()
		meta := ix.Doc(id)
		if meta == nil {
			// Deleted since the snapshot was taken.
			continue
		}
		p.chain.TotalResults++
		out.DocID = id
		out.Meta = meta
		out.Row.SortVec = meta.SortVec
		return CodeOK
	}
	return CodeEOF
}

// Scorer computes the relevance score for each document.
type Scorer struct {
	chain *Chain
	up    Processor
	conc  *index.ConcurrentCtx
	terms []string
}

// NewScorer creates a scoring stage over the query terms.
func NewScorer(chain *Chain, up Processor, conc *index.ConcurrentCtx, terms []string) *Scorer {
	return &Scorer{chain: chain, up: up, conc: conc, terms: terms}
}

func (p *Scorer) Next(out *SearchResult) Code {
	rc := p.up.Next(out)
	if rc != CodeOK {
		return rc
	}
	ix := p.conc.Index()
	if ix == nil {
		return p.chain.Fail(domain.WrapQueryError(domain.CodeRuntime, domain.ErrIndexDropped))
	}
	out.Score = ix.Score(out.DocID, p.terms)
	return CodeOK
}

// Sorter buffers the full upstream, orders it, then emits. With no sort keys
// it orders by score descending (the search default), doc id ascending as a
// tiebreak.
type Sorter struct {
	up    Processor
	keys  []*lookup.Key
	desc  []bool
	max   int64 // cap on buffered results, -1 for unlimited

	buf     []*SearchResult
	sorted  bool
	emitPos int
}

// NewSorter creates a sorting stage. max bounds the buffer (offset+num of
// the arrangement) or is -1 for unlimited.
func NewSorter(up Processor, keys []*lookup.Key, desc []bool, max int64) *Sorter {
	return &Sorter{up: up, keys: keys, desc: desc, max: max}
}

func (p *Sorter) Next(out *SearchResult) Code {
	if !p.sorted {
		for {
			r := &SearchResult{}
			rc := p.up.Next(r)
			if rc == CodeOK {
				p.buf = append(p.buf, r)
				continue
			}
			if rc == CodePaused {
				return CodePaused
			}
			if rc == CodeError {
				return CodeError
			}
			break // EOF: buffer complete
		}
		sort.SliceStable(p.buf, func(i, j int) bool { return p.less(p.buf[i], p.buf[j]) })
		if p.max >= 0 && int64(len(p.buf)) > p.max {
			p.buf = p.buf[:p.max]
		}
		p.sorted = true
	}
	if p.emitPos >= len(p.buf) {
		return CodeEOF
	}
	out.copyFrom(p.buf[p.emitPos])
	p.emitPos++
	return CodeOK
}

func (p *Sorter) less(a, b *SearchResult) bool {
	if len(p.keys) == 0 {
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.DocID < b.DocID
	}
	for i, k := range p.keys {
		va, vb := a.Row.Get(k), b.Row.Get(k)
		c := compareValues(va, vb)
		if c == 0 {
			continue
		}
		if p.desc[i] {
			return c > 0
		}
		return c < 0
	}
	return a.DocID < b.DocID
}

// compareValues orders Null first, then numbers, then strings.
func compareValues(a, b domain.Value) int {
	an, aIsNum := a.AsNumber()
	bn, bIsNum := b.AsNumber()
	switch {
	case a.IsNull() && b.IsNull():
		return 0
	case a.IsNull():
		return -1
	case b.IsNull():
		return 1
	case aIsNum && bIsNum:
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	case aIsNum:
		return -1
	case bIsNum:
		return 1
	default:
		as, bs := a.Str(), b.Str()
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	}
}

// Pager applies offset/limit pagination.
type Pager struct {
	up      Processor
	offset  int64
	num     int64 // -1 for unlimited
	skipped int64
	emitted int64
}

// NewPager creates a pagination stage.
func NewPager(up Processor, offset, num int64) *Pager {
	return &Pager{up: up, offset: offset, num: num}
}

func (p *Pager) Next(out *SearchResult) Code {
	if p.num >= 0 && p.emitted >= p.num {
		return CodeEOF
	}
	for {
		rc := p.up.Next(out)
		if rc != CodeOK {
			return rc
		}
		if p.skipped < p.offset {
			p.skipped++
			out.Clear()
			continue
		}
		p.emitted++
		return CodeOK
	}
}

// LoadField binds a document field to its output lookup key.
type LoadField struct {
	Key   *lookup.Key
	Field index.Field
}

// Loader populates row values from document metadata.
type Loader struct {
	up     Processor
	fields []LoadField
}

// NewLoader creates a field-loading stage.
func NewLoader(up Processor, fields []LoadField) *Loader {
	return &Loader{up: up, fields: fields}
}

func (p *Loader) Next(out *SearchResult) Code {
	rc := p.up.Next(out)
	if rc != CodeOK {
		return rc
	}
	if out.Meta == nil {
		return CodeOK
	}
	for _, lf := range p.fields {
		raw, ok := out.Meta.Fields[lf.Field.Name]
		if !ok {
			continue
		}
		out.Row.Set(lf.Key, fieldValue(lf.Field, raw))
	}
	return CodeOK
}

func fieldValue(f index.Field, raw string) domain.Value {
	if f.Type == index.Numeric {
		if n, ok := domain.String(raw).AsNumber(); ok {
			return domain.Number(n)
		}
		return domain.Null
	}
	return domain.StoreString(raw)
}
