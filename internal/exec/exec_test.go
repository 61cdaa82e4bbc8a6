package exec

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/textdex/internal/cursor"
	"github.com/kailas-cloud/textdex/internal/index"
	"github.com/kailas-cloud/textdex/internal/resp"
)

// --- Test harness ---

type respError string

// decodeAll parses raw RESP output into Go values: int64, string, nil,
// respError, and []any for arrays.
func decodeAll(t *testing.T, raw []byte) []any {
	t.Helper()
	r := bufio.NewReader(bytes.NewReader(raw))
	var out []any
	for {
		v, err := decodeValue(r)
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("decode reply: %v (raw %q)", err, raw)
		}
		out = append(out, v)
	}
}

func decodeValue(r *bufio.Reader) (any, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, fmt.Errorf("empty line")
	}
	body := line[1:]
	switch line[0] {
	case ':':
		return strconv.ParseInt(body, 10, 64)
	case '+':
		return body, nil
	case '-':
		return respError(body), nil
	case '$':
		n, err := strconv.Atoi(body)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, nil
		}
		buf := make([]byte, n+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return string(buf[:n]), nil
	case '*':
		n, err := strconv.Atoi(body)
		if err != nil {
			return nil, err
		}
		arr := make([]any, 0, n)
		for i := 0; i < n; i++ {
			v, err := decodeValue(r)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unknown type byte %q", line[0])
	}
}

type testEnv struct {
	store    *index.Store
	registry *cursor.Registry
	cmds     *Commands
}

func newTestEnv(t *testing.T, perIndexCap int) *testEnv {
	t.Helper()
	store := index.NewStore()
	registry := cursor.NewRegistry(cursor.Config{
		PerIndexCap:     perIndexCap,
		DefaultMaxIdle:  time.Minute,
		DefaultReadSize: 100,
	}, zap.NewNop())
	return &testEnv{
		store:    store,
		registry: registry,
		cmds:     NewCommands(store, registry, zap.NewNop()),
	}
}

func (e *testEnv) createIndex(t *testing.T, name string, fields ...index.Field) *index.Index {
	t.Helper()
	schema, err := index.NewSchema(fields)
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	ix, err := e.store.Create(name, schema)
	if err != nil {
		t.Fatalf("create index: %v", err)
	}
	return ix
}

// run dispatches one command the way the server would and decodes the reply.
func (e *testEnv) run(t *testing.T, args ...string) any {
	t.Helper()
	var buf bytes.Buffer
	w := resp.NewWriter(&buf)

	switch strings.ToUpper(args[0]) {
	case "FT.SEARCH":
		e.cmds.execCommand(context.Background(), w, args, true)
	case "FT.AGGREGATE":
		e.cmds.execCommand(context.Background(), w, args, false)
	case "FT.CURSOR":
		e.cmds.CursorCommand(w, args)
	case "FT.EXPLAIN":
		e.cmds.Explain(w, args)
	default:
		t.Fatalf("unhandled command %q", args[0])
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	replies := decodeAll(t, buf.Bytes())
	if len(replies) != 1 {
		t.Fatalf("expected one top-level reply, got %d (%v)", len(replies), replies)
	}
	return replies[0]
}

func asArray(t *testing.T, v any) []any {
	t.Helper()
	arr, ok := v.([]any)
	if !ok {
		t.Fatalf("expected array reply, got %T (%v)", v, v)
	}
	return arr
}

// --- Scenarios ---

// Simple search: two matching docs, scores descending, no field content.
func TestSearch_ScoresAndOrder(t *testing.T) {
	e := newTestEnv(t, 10)
	ix := e.createIndex(t, "idx", index.Field{Name: "title", Type: index.Text})
	ix.Put("d1", map[string]string{"title": "hello hello"}, nil)
	ix.Put("d2", map[string]string{"title": "hello"}, nil)

	arr := asArray(t, e.run(t, "FT.SEARCH", "idx", "hello", "WITHSCORES", "NOCONTENT"))
	if len(arr) != 5 {
		t.Fatalf("expected [total, key, score, key, score], got %v", arr)
	}
	if arr[0] != int64(2) {
		t.Errorf("expected total 2, got %v", arr[0])
	}
	if arr[1] != "d1" || arr[3] != "d2" {
		t.Errorf("expected d1 before d2, got %v / %v", arr[1], arr[3])
	}
	s1, _ := strconv.ParseFloat(arr[2].(string), 64)
	s2, _ := strconv.ParseFloat(arr[4].(string), 64)
	if s1 <= s2 {
		t.Errorf("expected descending scores, got %f then %f", s1, s2)
	}
}

// Aggregate with sort-key encoding: numeric sort key uses the `#` prefix and
// 17-digit exponent form; the field block follows.
func TestAggregate_SortKeyEncoding(t *testing.T) {
	e := newTestEnv(t, 10)
	ix := e.createIndex(t, "idx",
		index.Field{Name: "name", Type: index.Text},
		index.Field{Name: "n", Type: index.Numeric, Sortable: true},
	)
	ix.Put("doc", map[string]string{"name": "alice", "n": "2.5"}, nil)

	arr := asArray(t, e.run(t,
		"FT.AGGREGATE", "idx", "*", "WITHSORTKEYS", "SORTBY", "n", "RETURN", "1", "name",
	))
	if len(arr) != 3 {
		t.Fatalf("expected [total, sortkey, fields], got %v", arr)
	}
	if arr[0] != int64(1) {
		t.Errorf("expected total 1, got %v", arr[0])
	}
	if arr[1] != "#2.50000000000000000e+00" {
		t.Errorf("unexpected sort key encoding: %v", arr[1])
	}
	fields := asArray(t, arr[2])
	if len(fields) != 2 || fields[0] != "name" || fields[1] != "alice" {
		t.Errorf("unexpected field block: %v", fields)
	}
}

// String sort keys carry the `$` prefix.
func TestSearch_StringSortKey(t *testing.T) {
	e := newTestEnv(t, 10)
	ix := e.createIndex(t, "idx",
		index.Field{Name: "title", Type: index.Text},
		index.Field{Name: "label", Type: index.Tag, Sortable: true},
	)
	ix.Put("d1", map[string]string{"title": "hello", "label": "zebra"}, nil)

	arr := asArray(t, e.run(t,
		"FT.SEARCH", "idx", "hello", "WITHSORTKEYS", "SORTBY", "label", "NOCONTENT",
	))
	if len(arr) != 3 {
		t.Fatalf("expected [total, key, sortkey], got %v", arr)
	}
	if arr[2] != "$zebra" {
		t.Errorf("expected $-prefixed sort key, got %v", arr[2])
	}
}

// No arrangement means a null sort key even when WITHSORTKEYS is set.
func TestSearch_NullSortKeyWithoutArrange(t *testing.T) {
	e := newTestEnv(t, 10)
	ix := e.createIndex(t, "idx", index.Field{Name: "title", Type: index.Text})
	ix.Put("d1", map[string]string{"title": "hello"}, nil)

	arr := asArray(t, e.run(t, "FT.SEARCH", "idx", "hello", "WITHSORTKEYS", "NOCONTENT"))
	if len(arr) != 3 {
		t.Fatalf("expected [total, key, null], got %v", arr)
	}
	if arr[2] != nil {
		t.Errorf("expected null sort key, got %v", arr[2])
	}
}

// Cursor pagination: 5 results read in chunks of 2, final chunk replies
// cursor id 0 and the cursor is gone.
func TestCursor_Pagination(t *testing.T) {
	e := newTestEnv(t, 10)
	ix := e.createIndex(t, "idx",
		index.Field{Name: "title", Type: index.Text},
		index.Field{Name: "ord", Type: index.Numeric, Sortable: true},
	)
	for i := 1; i <= 5; i++ {
		ix.Put(fmt.Sprintf("d%d", i), map[string]string{
			"title": "hello", "ord": strconv.Itoa(i),
		}, nil)
	}

	outer := asArray(t, e.run(t,
		"FT.AGGREGATE", "idx", "hello",
		"SORTBY", "ord", "RETURN", "1", "ord",
		"WITHCURSOR", "COUNT", "2",
	))
	if len(outer) != 2 {
		t.Fatalf("expected [chunk, cid], got %v", outer)
	}
	chunk := asArray(t, outer[0])
	if chunk[0] != int64(5) || len(chunk) != 3 {
		t.Fatalf("expected [5, r1, r2], got %v", chunk)
	}
	cid, ok := outer[1].(int64)
	if !ok || cid == 0 {
		t.Fatalf("expected live cursor id, got %v", outer[1])
	}

	cidStr := strconv.FormatInt(cid, 10)
	outer = asArray(t, e.run(t, "FT.CURSOR", "READ", "idx", cidStr, "COUNT", "2"))
	chunk = asArray(t, outer[0])
	if chunk[0] != int64(5) || len(chunk) != 3 {
		t.Fatalf("expected [5, r3, r4], got %v", chunk)
	}
	if outer[1] != cid {
		t.Fatalf("expected same cursor id, got %v", outer[1])
	}

	outer = asArray(t, e.run(t, "FT.CURSOR", "READ", "idx", cidStr, "COUNT", "2"))
	chunk = asArray(t, outer[0])
	if chunk[0] != int64(5) || len(chunk) != 2 {
		t.Fatalf("expected [5, r5], got %v", chunk)
	}
	if outer[1] != int64(0) {
		t.Fatalf("expected terminal cursor id 0, got %v", outer[1])
	}

	// Disposed before the reply returned: DEL reports a missing cursor.
	if v := e.run(t, "FT.CURSOR", "DEL", "idx", cidStr); v != respError("Cursor does not exist") {
		t.Errorf("expected missing-cursor error, got %v", v)
	}
	if e.registry.Len("idx") != 0 {
		t.Errorf("expected no live cursors, got %d", e.registry.Len("idx"))
	}
}

// A cursor whose pipeline finishes on the first chunk replies [chunk, 0]
// and is disposed before the reply returns.
func TestCursor_FinishesFirstChunk(t *testing.T) {
	e := newTestEnv(t, 10)
	ix := e.createIndex(t, "idx", index.Field{Name: "title", Type: index.Text})
	ix.Put("d1", map[string]string{"title": "hello"}, nil)
	ix.Put("d2", map[string]string{"title": "hello"}, nil)

	outer := asArray(t, e.run(t,
		"FT.AGGREGATE", "idx", "hello", "WITHCURSOR", "COUNT", "10",
	))
	if outer[1] != int64(0) {
		t.Fatalf("expected terminal id on first chunk, got %v", outer[1])
	}
	if e.registry.Len("idx") != 0 {
		t.Errorf("expected cursor disposed, got %d live", e.registry.Len("idx"))
	}
}

// Cursor cap: with cap 1 and one active cursor, a second WITHCURSOR request
// fails and the count stays 1.
func TestCursor_CapExceeded(t *testing.T) {
	e := newTestEnv(t, 1)
	ix := e.createIndex(t, "idx", index.Field{Name: "title", Type: index.Text})
	for i := 0; i < 5; i++ {
		ix.Put(fmt.Sprintf("d%d", i), map[string]string{"title": "hello"}, nil)
	}

	outer := asArray(t, e.run(t, "FT.AGGREGATE", "idx", "hello", "WITHCURSOR", "COUNT", "1"))
	if outer[1] == int64(0) {
		t.Fatal("expected first cursor to stay live")
	}

	v := e.run(t, "FT.AGGREGATE", "idx", "hello", "WITHCURSOR", "COUNT", "1")
	if v != respError("Too many cursors allocated for index") {
		t.Fatalf("expected cap error, got %v", v)
	}
	if e.registry.Len("idx") != 1 {
		t.Errorf("expected registry count to stay 1, got %d", e.registry.Len("idx"))
	}
}

// Idle GC: an expired cursor is reclaimed by FT.CURSOR GC and a subsequent
// READ misses.
func TestCursor_IdleGC(t *testing.T) {
	e := newTestEnv(t, 10)
	ix := e.createIndex(t, "idx", index.Field{Name: "title", Type: index.Text})
	for i := 0; i < 5; i++ {
		ix.Put(fmt.Sprintf("d%d", i), map[string]string{"title": "hello"}, nil)
	}

	outer := asArray(t, e.run(t,
		"FT.AGGREGATE", "idx", "hello", "WITHCURSOR", "COUNT", "1", "MAXIDLE", "30",
	))
	cid, _ := outer[1].(int64)
	if cid == 0 {
		t.Fatal("expected live cursor")
	}

	time.Sleep(50 * time.Millisecond)

	if v := e.run(t, "FT.CURSOR", "GC", "idx", "0"); v != int64(1) {
		t.Fatalf("expected 1 reclaimed, got %v", v)
	}
	// Round-trip: an immediate second GC reclaims nothing.
	if v := e.run(t, "FT.CURSOR", "GC", "idx", "0"); v != int64(0) {
		t.Fatalf("expected 0 on second GC, got %v", v)
	}

	v := e.run(t, "FT.CURSOR", "READ", "idx", strconv.FormatInt(cid, 10))
	if v != respError("Cursor not found") {
		t.Errorf("expected missing cursor on READ, got %v", v)
	}
}

// Hidden field: a key pulled in only for sorting stays out of the field
// block.
func TestSearch_HiddenSortField(t *testing.T) {
	e := newTestEnv(t, 10)
	ix := e.createIndex(t, "idx",
		index.Field{Name: "a", Type: index.Text},
		index.Field{Name: "b", Type: index.Numeric, Sortable: true},
	)
	ix.Put("d1", map[string]string{"a": "visible", "b": "1"}, nil)

	arr := asArray(t, e.run(t,
		"FT.SEARCH", "idx", "visible", "RETURN", "1", "a", "SORTBY", "b",
	))
	if len(arr) != 3 {
		t.Fatalf("expected [total, key, fields], got %v", arr)
	}
	fields := asArray(t, arr[2])
	if len(fields) != 2 || fields[0] != "a" {
		t.Errorf("expected exactly [a, value], got %v", fields)
	}
}

// --- Boundaries ---

func TestSendChunk_ZeroLimit(t *testing.T) {
	e := newTestEnv(t, 10)
	ix := e.createIndex(t, "idx", index.Field{Name: "title", Type: index.Text})
	ix.Put("d1", map[string]string{"title": "hello"}, nil)

	r, err := e.cmds.buildRequest([]string{"FT.SEARCH", "idx", "hello"}, true)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer r.Close()

	var buf bytes.Buffer
	w := resp.NewWriter(&buf)
	SendChunk(r, w, 0)
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	arr := asArray(t, decodeAll(t, buf.Bytes())[0])
	if len(arr) != 1 {
		t.Fatalf("expected only the total, got %v", arr)
	}
}

// LIMIT 0 0 is a count-only query: the total covers every match, no rows.
func TestSearch_CountOnly(t *testing.T) {
	e := newTestEnv(t, 10)
	ix := e.createIndex(t, "idx", index.Field{Name: "title", Type: index.Text})
	ix.Put("d1", map[string]string{"title": "hello"}, nil)
	ix.Put("d2", map[string]string{"title": "hello"}, nil)

	arr := asArray(t, e.run(t, "FT.SEARCH", "idx", "hello", "LIMIT", "0", "0"))
	if len(arr) != 1 || arr[0] != int64(2) {
		t.Fatalf("expected [2], got %v", arr)
	}
}

func TestSearch_NoMatches(t *testing.T) {
	e := newTestEnv(t, 10)
	ix := e.createIndex(t, "idx", index.Field{Name: "title", Type: index.Text})
	ix.Put("d1", map[string]string{"title": "hello"}, nil)

	arr := asArray(t, e.run(t, "FT.SEARCH", "idx", "nomatch"))
	if len(arr) != 1 || arr[0] != int64(0) {
		t.Fatalf("expected [0], got %v", arr)
	}
}

func TestSearch_NoIndex(t *testing.T) {
	e := newTestEnv(t, 10)
	v := e.run(t, "FT.SEARCH", "ghost", "hello")
	if v != respError("ghost: no such index") {
		t.Errorf("expected no-such-index error, got %v", v)
	}
}

func TestExecute_FreesRequest(t *testing.T) {
	e := newTestEnv(t, 10)
	ix := e.createIndex(t, "idx", index.Field{Name: "title", Type: index.Text})
	ix.Put("d1", map[string]string{"title": "hello"}, nil)

	r, err := e.cmds.buildRequest([]string{"FT.SEARCH", "idx", "hello"}, true)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var buf bytes.Buffer
	Execute(r, resp.NewWriter(&buf))
	if !r.Closed() {
		t.Error("expected request released after execute")
	}
}

func TestCursor_ArgumentErrors(t *testing.T) {
	e := newTestEnv(t, 10)
	e.createIndex(t, "idx", index.Field{Name: "title", Type: index.Text})

	cases := []struct {
		args []string
		want respError
	}{
		{[]string{"FT.CURSOR", "READ", "idx", "notanumber"}, "Bad cursor ID"},
		{[]string{"FT.CURSOR", "READ", "idx", "1", "COUNT", "xyz"}, "Bad value for COUNT"},
		{[]string{"FT.CURSOR", "READ", "idx", "1", "COUNT"}, "Bad value for COUNT"},
		{[]string{"FT.CURSOR", "READ", "idx", "1", "KOUNT", "2"}, "Unknown argument `KOUNT`"},
		{[]string{"FT.CURSOR", "BLAH", "idx", "1"}, "Unknown subcommand"},
		{[]string{"FT.CURSOR", "READ", "idx", "99999"}, "Cursor not found"},
		{[]string{"FT.CURSOR", "DEL", "idx", "99999"}, "Cursor does not exist"},
	}
	for _, tc := range cases {
		if v := e.run(t, tc.args...); v != tc.want {
			t.Errorf("args %v: expected %q, got %v", tc.args, tc.want, v)
		}
	}
}

// A dropped index surfaces on the next cursor read: the chunk fails, the
// reply carries cursor id 0, and the cursor is disposed.
func TestCursor_IndexDroppedBetweenReads(t *testing.T) {
	e := newTestEnv(t, 10)
	ix := e.createIndex(t, "idx", index.Field{Name: "title", Type: index.Text})
	for i := 0; i < 5; i++ {
		ix.Put(fmt.Sprintf("d%d", i), map[string]string{"title": "hello"}, nil)
	}

	outer := asArray(t, e.run(t, "FT.AGGREGATE", "idx", "hello", "WITHCURSOR", "COUNT", "2"))
	cid, _ := outer[1].(int64)
	if cid == 0 {
		t.Fatal("expected live cursor")
	}

	if err := e.store.Drop("idx"); err != nil {
		t.Fatalf("drop: %v", err)
	}

	outer = asArray(t, e.run(t, "FT.CURSOR", "READ", "idx", strconv.FormatInt(cid, 10)))
	if outer[1] != int64(0) {
		t.Fatalf("expected terminal id after index drop, got %v", outer[1])
	}
	if e.registry.Len("idx") != 0 {
		t.Errorf("expected cursor disposed, got %d live", e.registry.Len("idx"))
	}
}

func TestExplain_RendersQuery(t *testing.T) {
	e := newTestEnv(t, 10)
	e.createIndex(t, "idx", index.Field{Name: "title", Type: index.Text})

	v := e.run(t, "FT.EXPLAIN", "idx", "hello world")
	s, ok := v.(string)
	if !ok || !strings.Contains(s, "INTERSECT {") {
		t.Errorf("unexpected explain output: %v", v)
	}
}

func TestAggregate_GroupByReply(t *testing.T) {
	e := newTestEnv(t, 10)
	ix := e.createIndex(t, "idx",
		index.Field{Name: "title", Type: index.Text},
		index.Field{Name: "category", Type: index.Tag, Sortable: true},
		index.Field{Name: "price", Type: index.Numeric, Sortable: true},
	)
	ix.Put("d1", map[string]string{"title": "x", "category": "a", "price": "10"}, nil)
	ix.Put("d2", map[string]string{"title": "x", "category": "a", "price": "20"}, nil)
	ix.Put("d3", map[string]string{"title": "x", "category": "b", "price": "1"}, nil)

	arr := asArray(t, e.run(t,
		"FT.AGGREGATE", "idx", "*",
		"GROUPBY", "1", "@category",
		"REDUCE", "COUNT", "0", "AS", "n",
		"REDUCE", "SUM", "1", "@price", "AS", "total",
		"SORTBY", "n", "DESC",
	))
	if arr[0] != int64(3) {
		t.Fatalf("expected total 3, got %v", arr)
	}
	if len(arr) != 3 {
		t.Fatalf("expected two group rows, got %v", arr)
	}

	first := asArray(t, arr[1])
	// [category, a, n, 2, total, 30]
	if len(first) != 6 {
		t.Fatalf("unexpected group row: %v", first)
	}
	if first[1] != "a" || first[3] != "2" || first[5] != "30" {
		t.Errorf("unexpected group values: %v", first)
	}
	second := asArray(t, arr[2])
	if second[1] != "b" || second[3] != "1" {
		t.Errorf("unexpected second group: %v", second)
	}
}

func TestSearch_WithPayloads(t *testing.T) {
	e := newTestEnv(t, 10)
	ix := e.createIndex(t, "idx", index.Field{Name: "title", Type: index.Text})
	ix.Put("d1", map[string]string{"title": "hello"}, []byte("meta1"))
	ix.Put("d2", map[string]string{"title": "hello"}, nil)

	arr := asArray(t, e.run(t, "FT.SEARCH", "idx", "hello", "WITHPAYLOADS", "NOCONTENT"))
	// [total, key, payload, key, payload]
	if len(arr) != 5 {
		t.Fatalf("unexpected reply shape: %v", arr)
	}
	payloads := map[any]bool{arr[2]: true, arr[4]: true}
	if !payloads["meta1"] || !payloads[nil] {
		t.Errorf("expected one payload and one null, got %v / %v", arr[2], arr[4])
	}
}
