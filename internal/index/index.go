// Package index implements the in-memory inverted index and document
// metadata store the query pipeline reads from. Posting sets are roaring
// bitmaps of document ids; per-document term frequencies back the scorer.
package index

import (
	"math"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/kailas-cloud/textdex/internal/domain"
)

// DocMeta is the metadata record of one indexed document.
type DocMeta struct {
	ID      uint32
	Key     string
	Payload []byte
	Fields  map[string]string
	// SortVec is the packed vector of sortable field values, laid out per
	// the schema's sort indexes.
	SortVec []domain.Value
}

type posting struct {
	bm    *roaring.Bitmap
	freqs map[uint32]uint16
}

// Index is a single named full-text index.
type Index struct {
	name   string
	schema *Schema

	mu       sync.RWMutex
	nextID   uint32
	docs     map[uint32]*DocMeta
	byKey    map[string]uint32
	postings map[string]*posting
	// generation increments on every mutation. Cursor resumption does not
	// read it: ReopenKeys re-resolves the index by name, and documents
	// deleted since a snapshot are skipped when their Doc lookup misses.
	generation uint64
}

// NewIndex creates an empty index with the given schema.
func NewIndex(name string, schema *Schema) *Index {
	return &Index{
		name:     name,
		schema:   schema,
		docs:     map[uint32]*DocMeta{},
		byKey:    map[string]uint32{},
		postings: map[string]*posting{},
	}
}

// Name returns the index name.
func (ix *Index) Name() string { return ix.name }

// Schema returns the index schema.
func (ix *Index) Schema() *Schema { return ix.schema }

// Generation returns the current mutation counter.
func (ix *Index) Generation() uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.generation
}

// NumDocs returns the live document count.
func (ix *Index) NumDocs() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

// Put indexes a document under key, replacing any previous version. Payload
// is stored verbatim and never indexed.
func (ix *Index) Put(key string, fields map[string]string, payload []byte) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if old, ok := ix.byKey[key]; ok {
		ix.removeLocked(old)
	}

	ix.nextID++
	id := ix.nextID
	meta := &DocMeta{
		ID:      id,
		Key:     key,
		Payload: payload,
		Fields:  fields,
		SortVec: make([]domain.Value, ix.schema.SortableWidth()),
	}
	for i := range meta.SortVec {
		meta.SortVec[i] = domain.Null
	}

	for name, raw := range fields {
		f, ok := ix.schema.FieldByName(name)
		if !ok {
			continue
		}
		switch f.Type {
		case Text:
			for term, n := range tokenize(raw) {
				ix.addPostingLocked(term, id, n)
			}
		case Tag:
			ix.addPostingLocked(tagTerm(name, raw), id, 1)
		case Numeric:
			// Numeric fields are sortable/loadable only; range trees are
			// out of scope for this engine.
		}
		if f.SortIdx >= 0 {
			meta.SortVec[f.SortIdx] = sortableValue(f, raw)
		}
	}

	ix.docs[id] = meta
	ix.byKey[key] = id
	ix.generation++
}

// Delete removes the document stored under key. Returns false when absent.
func (ix *Index) Delete(key string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	id, ok := ix.byKey[key]
	if !ok {
		return false
	}
	ix.removeLocked(id)
	ix.generation++
	return true
}

func (ix *Index) removeLocked(id uint32) {
	meta := ix.docs[id]
	if meta == nil {
		return
	}
	for term, p := range ix.postings {
		if p.bm.Contains(id) {
			p.bm.Remove(id)
			delete(p.freqs, id)
			if p.bm.IsEmpty() {
				delete(ix.postings, term)
			}
		}
	}
	delete(ix.byKey, meta.Key)
	delete(ix.docs, id)
}

func (ix *Index) addPostingLocked(term string, id uint32, freq int) {
	p := ix.postings[term]
	if p == nil {
		p = &posting{bm: roaring.New(), freqs: map[uint32]uint16{}}
		ix.postings[term] = p
	}
	p.bm.Add(id)
	n := int(p.freqs[id]) + freq
	if n > math.MaxUint16 {
		n = math.MaxUint16
	}
	p.freqs[id] = uint16(n)
}

// PostingSet returns a copy of the doc-id set for term. Unknown terms return
// an empty bitmap.
func (ix *Index) PostingSet(term string) *roaring.Bitmap {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if p, ok := ix.postings[term]; ok {
		return p.bm.Clone()
	}
	return roaring.New()
}

// TagSet returns a copy of the doc-id set for an exact tag value.
func (ix *Index) TagSet(field, value string) *roaring.Bitmap {
	return ix.PostingSet(tagTerm(field, value))
}

// AllDocs returns a copy of the full live doc-id set.
func (ix *Index) AllDocs() *roaring.Bitmap {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	bm := roaring.New()
	for id := range ix.docs {
		bm.Add(id)
	}
	return bm
}

// Doc returns the metadata record for id, or nil when the document was
// deleted after the caller's snapshot was taken.
func (ix *Index) Doc(id uint32) *DocMeta {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.docs[id]
}

// Score computes a tf-idf relevance score for doc id over the query terms.
func (ix *Index) Score(id uint32, terms []string) float64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n := float64(len(ix.docs))
	var score float64
	for _, t := range terms {
		p, ok := ix.postings[t]
		if !ok {
			continue
		}
		tf := float64(p.freqs[id])
		if tf == 0 {
			continue
		}
		df := float64(p.bm.GetCardinality())
		score += tf * math.Log1p(n/df)
	}
	return score
}

func tagTerm(field, value string) string {
	return "\x00tag:" + field + ":" + strings.ToLower(strings.TrimSpace(value))
}

func sortableValue(f Field, raw string) domain.Value {
	if f.Type == Numeric {
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			return domain.Number(n)
		}
		return domain.Null
	}
	return domain.StoreString(raw)
}

// tokenize lowercases and splits on non-alphanumeric runes, returning term
// frequencies.
func tokenize(text string) map[string]int {
	freqs := map[string]int{}
	var sb strings.Builder
	flush := func() {
		if sb.Len() > 0 {
			freqs[sb.String()]++
			sb.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return freqs
}
