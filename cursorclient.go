package textdex

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/rueidis"
)

// CursorReply is one decoded cursor batch plus the id for the next read.
// A zero CursorID is terminal: the server disposed the cursor.
type CursorReply struct {
	Batch    *SearchReply
	CursorID int64
}

// Done reports whether the cursor is exhausted.
func (r *CursorReply) Done() bool { return r.CursorID == 0 }

// AggregateWithCursor starts a cursor-mode aggregation and decodes the
// first chunk. count and maxIdleMs are optional (0 omits them).
func (c *Client) AggregateWithCursor(
	ctx context.Context, index, query string, opts *SearchOptions,
	count int, maxIdleMs int, ops ...string,
) (*CursorReply, error) {
	if opts == nil {
		opts = &SearchOptions{}
	}
	args := buildQueryArgs(index, query, opts, ops)
	args = append(args, "WITHCURSOR")
	if count > 0 {
		args = append(args, "COUNT", strconv.Itoa(count))
	}
	if maxIdleMs > 0 {
		args = append(args, "MAXIDLE", strconv.Itoa(maxIdleMs))
	}

	cmd := c.conn.B().Arbitrary("FT.AGGREGATE").Args(args...).Build()
	raw, err := c.conn.Do(ctx, cmd).ToArray()
	if err != nil {
		return nil, fmt.Errorf("aggregate with cursor: %w", err)
	}
	return parseCursorReply(raw, opts)
}

// ReadCursor fetches the next chunk from a paused cursor. count is optional
// (0 reuses the previous chunk size).
func (c *Client) ReadCursor(
	ctx context.Context, index string, cid int64, count int, opts *SearchOptions,
) (*CursorReply, error) {
	if opts == nil {
		opts = &SearchOptions{}
	}
	args := []string{"READ", index, strconv.FormatInt(cid, 10)}
	if count > 0 {
		args = append(args, "COUNT", strconv.Itoa(count))
	}
	cmd := c.conn.B().Arbitrary("FT.CURSOR").Args(args...).Build()
	raw, err := c.conn.Do(ctx, cmd).ToArray()
	if err != nil {
		return nil, fmt.Errorf("cursor read: %w", err)
	}
	return parseCursorReply(raw, opts)
}

// DelCursor disposes a cursor on demand.
func (c *Client) DelCursor(ctx context.Context, index string, cid int64) error {
	cmd := c.conn.B().Arbitrary("FT.CURSOR").
		Args("DEL", index, strconv.FormatInt(cid, 10)).Build()
	if err := c.conn.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cursor del: %w", err)
	}
	return nil
}

// GCCursors triggers idle-cursor reclamation and returns the freed count.
func (c *Client) GCCursors(ctx context.Context, index string) (int64, error) {
	cmd := c.conn.B().Arbitrary("FT.CURSOR").Args("GC", index, "0").Build()
	n, err := c.conn.Do(ctx, cmd).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("cursor gc: %w", err)
	}
	return n, nil
}

// parseCursorReply decodes the two-element [batch, next-cid] envelope.
func parseCursorReply(raw []rueidis.RedisMessage, opts *SearchOptions) (*CursorReply, error) {
	if len(raw) != 2 {
		return nil, fmt.Errorf("bad cursor reply: %d elements", len(raw))
	}
	batchRaw, err := raw[0].ToArray()
	if err != nil {
		return nil, fmt.Errorf("parse cursor batch: %w", err)
	}
	batch, err := parseBatch(batchRaw, opts, false)
	if err != nil {
		return nil, err
	}
	cid, err := raw[1].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse cursor id: %w", err)
	}
	return &CursorReply{Batch: batch, CursorID: cid}, nil
}
