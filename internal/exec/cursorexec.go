package exec

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/textdex/internal/cursor"
	"github.com/kailas-cloud/textdex/internal/metrics"
	"github.com/kailas-cloud/textdex/internal/resp"
)

// startCursor reserves a cursor for a freshly-built cursor-mode request and
// streams the first chunk. On reservation failure the caller still owns the
// request.
func (c *Commands) startCursor(r *Request, indexName string, w *resp.Writer) error {
	cur, err := c.cursors.Reserve(indexName, r.MaxIdle)
	if err != nil {
		return err
	}
	cur.SetExec(r)
	c.runCursor(w, cur, 0)
	return nil
}

// runCursor streams one chunk of a leased cursor and either pauses it
// (replying its id) or disposes it (replying 0). num overrides the chunk
// size for this and subsequent reads; zero reuses the request's size, then
// the registry default.
func (c *Commands) runCursor(w *resp.Writer, cur *cursor.Cursor, num int) {
	req := cur.Exec().(*Request)
	if num == 0 {
		num = req.ChunkSize
		if num == 0 {
			num = c.cursors.DefaultReadSize()
		}
	}
	req.ChunkSize = num

	w.ArrayHeader(2)
	SendChunk(req, w, int64(num))

	if req.State&Failed != 0 {
		// Cursor id zero is terminal.
		w.Int(0)
		c.cursors.Dispose(cur)
		return
	}
	if req.State&IterDone != 0 {
		w.Int(0)
		c.cursors.Dispose(cur)
		return
	}
	w.Int(int64(cur.ID))
	c.cursors.Pause(cur)
}

// cursorRead leases the cursor, reopens the request's host resources, and
// streams the next chunk. Reopening is mandatory between reads: the index
// may have been dropped or replaced while the cursor was paused; the
// pipeline surfaces that as a runtime error on the next pull.
func (c *Commands) cursorRead(w *resp.Writer, cid uint64, count int) {
	cur, err := c.cursors.TakeForExecution(cid)
	if err != nil {
		w.Error("Cursor not found")
		return
	}
	metrics.CursorReads.Inc()
	req := cur.Exec().(*Request)
	if err := req.conc.ReopenKeys(); err != nil {
		c.logger.Warn("cursor reopen failed", zap.Uint64("cursor", cid), zap.Error(err))
	}
	c.runCursor(w, cur, count)
}

// CursorCommand handles FT.CURSOR READ/DEL/GC. The subcommand dispatches on
// its uppercased first letter; the cursor id is argv[3] as a signed 64-bit
// integer.
func (c *Commands) CursorCommand(w *resp.Writer, args []string) {
	sub := args[1]
	cid, err := strconv.ParseInt(args[3], 10, 64)
	if err != nil {
		w.Error("Bad cursor ID")
		return
	}

	switch first := upperFirst(sub); first {
	case 'R':
		count := 0
		if len(args) > 4 {
			// Stricter than lenient parsing: the keyword must be COUNT.
			if !strings.EqualFold(args[4], "COUNT") {
				w.Errorf("Unknown argument `%s`", args[4])
				return
			}
			if len(args) < 6 {
				w.Error("Bad value for COUNT")
				return
			}
			n, err := strconv.ParseInt(args[5], 10, 64)
			if err != nil || n < 0 {
				w.Error("Bad value for COUNT")
				return
			}
			count = int(n)
		}
		c.cursorRead(w, uint64(cid), count)

	case 'D':
		if err := c.cursors.Purge(uint64(cid)); err != nil {
			w.Error("Cursor does not exist")
		} else {
			w.SimpleString("OK")
		}

	case 'G':
		w.Int(int64(c.cursors.CollectIdle()))

	default:
		w.Error("Unknown subcommand")
	}
}

func upperFirst(s string) byte {
	if s == "" {
		return 0
	}
	b := s[0]
	if b >= 'a' && b <= 'z' {
		b -= 'a' - 'A'
	}
	return b
}
