package pipeline

import (
	"strings"

	"github.com/kailas-cloud/textdex/internal/domain"
	"github.com/kailas-cloud/textdex/internal/lookup"
	"github.com/kailas-cloud/textdex/internal/query"
)

// GroupProperty binds a grouped property's source key to its output key in
// the grouper's own lookup scope.
type GroupProperty struct {
	Src *lookup.Key
	Out *lookup.Key
}

// GroupReducer is one instantiated REDUCE clause.
type GroupReducer struct {
	Kind query.ReducerKind
	Src  *lookup.Key
	Out  *lookup.Key
}

type groupAccum struct {
	props []domain.Value
	count int64
	sums  []float64
	ns    []int64
	mins  []float64
	maxs  []float64
}

// Grouper consumes the full upstream, hash-groups rows by property values,
// applies reducers, and emits one row per group.
type Grouper struct {
	up    Processor
	props []GroupProperty
	reds  []GroupReducer

	built  bool
	groups map[string]*groupAccum
	order  []string
	pos    int
}

// NewGrouper creates a grouping stage.
func NewGrouper(up Processor, props []GroupProperty, reds []GroupReducer) *Grouper {
	return &Grouper{up: up, props: props, reds: reds, groups: map[string]*groupAccum{}}
}

func (p *Grouper) Next(out *SearchResult) Code {
	if !p.built {
		for {
			r := &SearchResult{}
			rc := p.up.Next(r)
			if rc == CodeOK {
				p.accumulate(r)
				continue
			}
			if rc == CodePaused || rc == CodeError {
				return rc
			}
			break
		}
		p.built = true
	}
	if p.pos >= len(p.order) {
		return CodeEOF
	}
	acc := p.groups[p.order[p.pos]]
	p.pos++
	p.emit(acc, out)
	return CodeOK
}

func (p *Grouper) accumulate(r *SearchResult) {
	var kb strings.Builder
	props := make([]domain.Value, len(p.props))
	for i, gp := range p.props {
		v := r.Row.Get(gp.Src)
		props[i] = v
		kb.WriteString(v.Format())
		kb.WriteByte(0)
	}
	key := kb.String()
	acc := p.groups[key]
	if acc == nil {
		acc = &groupAccum{
			props: props,
			sums:  make([]float64, len(p.reds)),
			ns:    make([]int64, len(p.reds)),
			mins:  make([]float64, len(p.reds)),
			maxs:  make([]float64, len(p.reds)),
		}
		p.groups[key] = acc
		p.order = append(p.order, key)
	}
	acc.count++
	for i, red := range p.reds {
		if red.Kind == query.ReduceCount {
			continue
		}
		n, ok := r.Row.Get(red.Src).AsNumber()
		if !ok {
			continue
		}
		if acc.ns[i] == 0 || n < acc.mins[i] {
			acc.mins[i] = n
		}
		if acc.ns[i] == 0 || n > acc.maxs[i] {
			acc.maxs[i] = n
		}
		acc.sums[i] += n
		acc.ns[i]++
	}
}

func (p *Grouper) emit(acc *groupAccum, out *SearchResult) {
	for i, gp := range p.props {
		out.Row.Set(gp.Out, acc.props[i])
	}
	for i, red := range p.reds {
		out.Row.Set(red.Out, reduce(red.Kind, acc, i))
	}
}

func reduce(kind query.ReducerKind, acc *groupAccum, i int) domain.Value {
	switch kind {
	case query.ReduceCount:
		return domain.Number(float64(acc.count))
	case query.ReduceSum:
		return domain.Number(acc.sums[i])
	case query.ReduceAvg:
		if acc.ns[i] == 0 {
			return domain.Null
		}
		return domain.Number(acc.sums[i] / float64(acc.ns[i]))
	case query.ReduceMin:
		if acc.ns[i] == 0 {
			return domain.Null
		}
		return domain.Number(acc.mins[i])
	case query.ReduceMax:
		if acc.ns[i] == 0 {
			return domain.Null
		}
		return domain.Number(acc.maxs[i])
	default:
		return domain.Null
	}
}
