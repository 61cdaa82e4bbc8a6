package exec

import (
	"strconv"

	"go.uber.org/zap"

	"github.com/kailas-cloud/textdex/internal/domain"
	"github.com/kailas-cloud/textdex/internal/lookup"
	"github.com/kailas-cloud/textdex/internal/metrics"
	"github.com/kailas-cloud/textdex/internal/pipeline"
	"github.com/kailas-cloud/textdex/internal/resp"
)

// unlimited is the chunk limit for inline (non-cursor) execution.
const unlimited = int64(1<<63 - 1)

// Execute runs the request to completion on w and releases it.
func Execute(r *Request, w *resp.Writer) {
	SendChunk(r, w, unlimited)
	r.Close()
}

// SendChunk streams up to limit result rows as one deferred-length batch
// reply: the running total first, then each serialized row. Any non-OK pull
// other than a cooperative pause marks the iteration done.
func SendChunk(r *Request, w *resp.Writer, limit int64) {
	var res pipeline.SearchResult
	rp := r.chain.End

	w.BeginDeferred()

	rc := rp.Next(&res)
	if r.Flags&NoRows != 0 {
		// Count-only: drain the chain first so the total covers the whole
		// enumeration, then emit nothing but that total.
		for rc == pipeline.CodeOK {
			res.Clear()
			rc = rp.Next(&res)
		}
	}
	w.Int(int64(r.chain.TotalResults))

	var rows int64
	if rc == pipeline.CodeOK && limit > 0 && r.Flags&NoRows == 0 {
		serializeResult(r, w, &res)
		res.Clear()
		rows++
		for rows < limit {
			if rc = rp.Next(&res); rc != pipeline.CodeOK {
				break
			}
			serializeResult(r, w, &res)
			res.Clear()
			rows++
		}
	}

	if rc != pipeline.CodeOK && rc != pipeline.CodePaused {
		r.State |= IterDone
	}
	if rc == pipeline.CodeError {
		r.State |= Failed
		if qe := r.chain.Err; qe != nil {
			r.logger.Warn("pipeline error", zap.String("code", string(qe.Code)), zap.Error(qe))
		}
	}
	metrics.RowsEmitted.Add(float64(rows))
	w.EndDeferred()
}

// serializeResult emits the flag-controlled sections of one result, in
// fixed order: document key, score, payload, sort key, field block. Returns
// the number of sections written.
func serializeResult(r *Request, w *resp.Writer, res *pipeline.SearchResult) int {
	count := 0

	if r.Flags&IsSearch != 0 && res.Meta != nil {
		w.BulkString(res.Meta.Key)
		count++
	}
	if r.Flags&SendScores != 0 {
		w.Double(res.Score)
		count++
	}
	if r.Flags&SendPayloads != 0 {
		count++
		if res.Meta != nil && res.Meta.Payload != nil {
			w.BulkBytes(res.Meta.Payload)
		} else {
			w.Null()
		}
	}
	if r.Flags&SendSortKeys != 0 {
		count++
		writeSortKey(w, sortKeyValue(r, res))
	}
	if r.Flags&SendNoFields == 0 {
		count++
		writeFields(w, r.lastLookup(), &res.Row)
	}
	return count
}

// sortKeyValue reads the primary sort key of a result: the first arranged
// lookup key, from the packed sort vector when the key is flagged so.
// Missing arrangement means no sort key.
func sortKeyValue(r *Request, res *pipeline.SearchResult) domain.Value {
	a := r.plan.Arrange
	if a == nil || len(a.SortKeysLK) == 0 {
		return domain.Null
	}
	return res.Row.Get(a.SortKeysLK[0])
}

// writeSortKey encodes a sort key for the wire. Numbers are prefixed `#`,
// strings `$`, so clients and coordinators can discriminate by first byte.
func writeSortKey(w *resp.Writer, v domain.Value) {
	switch v.Kind() {
	case domain.KindNumber:
		w.BulkString("#" + strconv.FormatFloat(v.Num(), 'e', 17, 64))
	case domain.KindString, domain.KindStoreString:
		w.BulkString("$" + v.Str())
	default:
		w.Null()
	}
}

// writeFields emits the name/value pairs of the last lookup scope in
// insertion order, skipping hidden keys. Missing values emit null.
func writeFields(w *resp.Writer, lk *lookup.Lookup, row *lookup.Row) {
	visible := 0
	for k := lk.Head(); k != nil; k = k.Next() {
		if k.Flags&lookup.Hidden == 0 {
			visible++
		}
	}
	w.ArrayHeader(visible * 2)
	for k := lk.Head(); k != nil; k = k.Next() {
		if k.Flags&lookup.Hidden != 0 {
			continue
		}
		w.SimpleString(k.Name)
		v := row.Get(k)
		switch v.Kind() {
		case domain.KindNull:
			w.Null()
		case domain.KindNumber:
			w.BulkString(v.Format())
		default:
			w.BulkString(v.Str())
		}
	}
}
