package exec

import (
	"context"
	"strconv"
	"strings"

	"github.com/kailas-cloud/textdex/internal/index"
	"github.com/kailas-cloud/textdex/internal/resp"
)

// registerAdmin installs the index administration and ingestion commands.
func (c *Commands) registerAdmin(s *resp.Server) {
	s.Handle("FT.CREATE", 5, func(_ context.Context, w *resp.Writer, args []string) {
		c.createIndex(w, args)
	})
	s.Handle("FT.DROPINDEX", 2, func(_ context.Context, w *resp.Writer, args []string) {
		c.dropIndex(w, args)
	})
	s.Handle("FT.INFO", 2, func(_ context.Context, w *resp.Writer, args []string) {
		c.indexInfo(w, args)
	})
	s.Handle("FT.ADD", 7, func(_ context.Context, w *resp.Writer, args []string) {
		c.addDocument(w, args)
	})
	s.Handle("FT.DEL", 3, func(_ context.Context, w *resp.Writer, args []string) {
		c.delDocument(w, args)
	})
}

// createIndex handles FT.CREATE <index> SCHEMA <field> <type> [SORTABLE] ...
func (c *Commands) createIndex(w *resp.Writer, args []string) {
	name := args[1]
	if !strings.EqualFold(args[2], "SCHEMA") {
		w.Errorf("Unknown argument `%s`, expected SCHEMA", args[2])
		return
	}

	var fields []index.Field
	i := 3
	for i < len(args) {
		if i+1 >= len(args) {
			w.Errorf("Field `%s` has no type", args[i])
			return
		}
		f := index.Field{Name: args[i], Type: index.FieldType(strings.ToUpper(args[i+1]))}
		i += 2
		if i < len(args) && strings.EqualFold(args[i], "SORTABLE") {
			f.Sortable = true
			i++
		}
		fields = append(fields, f)
	}

	schema, err := index.NewSchema(fields)
	if err != nil {
		w.Error(err.Error())
		return
	}
	if _, err := c.store.Create(name, schema); err != nil {
		w.Error("Index already exists")
		return
	}
	w.SimpleString("OK")
}

func (c *Commands) dropIndex(w *resp.Writer, args []string) {
	if err := c.store.Drop(args[1]); err != nil {
		w.Errorf("%s: no such index", args[1])
		return
	}
	w.SimpleString("OK")
}

// indexInfo handles FT.INFO, replying a flat name/value array.
func (c *Commands) indexInfo(w *resp.Writer, args []string) {
	ix, err := c.store.Get(args[1])
	if err != nil {
		w.Errorf("%s: no such index", args[1])
		return
	}
	fields := ix.Schema().Fields()

	w.ArrayHeader(6)
	w.SimpleString("index_name")
	w.BulkString(ix.Name())
	w.SimpleString("num_docs")
	w.Int(int64(ix.NumDocs()))
	w.SimpleString("fields")
	w.ArrayHeader(len(fields))
	for _, f := range fields {
		n := 2
		if f.Sortable {
			n = 3
		}
		w.ArrayHeader(n)
		w.BulkString(f.Name)
		w.BulkString(string(f.Type))
		if f.Sortable {
			w.BulkString("SORTABLE")
		}
	}
}

// addDocument handles
// FT.ADD <index> <key> <score> [PAYLOAD <payload>] FIELDS <field> <value> ...
// The score argument is accepted for wire compatibility; relevance is
// recomputed per query.
func (c *Commands) addDocument(w *resp.Writer, args []string) {
	ix, err := c.store.Get(args[1])
	if err != nil {
		w.Errorf("%s: no such index", args[1])
		return
	}
	key := args[2]
	if _, err := strconv.ParseFloat(args[3], 64); err != nil {
		w.Error("Bad score value")
		return
	}

	i := 4
	var payload []byte
	if strings.EqualFold(args[i], "PAYLOAD") {
		if i+1 >= len(args) {
			w.Error("Missing payload value")
			return
		}
		payload = []byte(args[i+1])
		i += 2
	}
	if i >= len(args) || !strings.EqualFold(args[i], "FIELDS") {
		w.Error("Missing FIELDS section")
		return
	}
	i++
	if (len(args)-i)%2 != 0 || len(args) == i {
		w.Error("FIELDS must be name/value pairs")
		return
	}
	fields := make(map[string]string, (len(args)-i)/2)
	for ; i+1 < len(args); i += 2 {
		fields[args[i]] = args[i+1]
	}

	ix.Put(key, fields, payload)
	w.SimpleString("OK")
}

func (c *Commands) delDocument(w *resp.Writer, args []string) {
	ix, err := c.store.Get(args[1])
	if err != nil {
		w.Errorf("%s: no such index", args[1])
		return
	}
	if ix.Delete(args[2]) {
		w.Int(1)
	} else {
		w.Int(0)
	}
}
