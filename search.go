package textdex

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/rueidis"
)

// SearchOptions configures a search or aggregate query.
type SearchOptions struct {
	NoContent    bool
	WithScores   bool
	WithPayloads bool
	WithSortKeys bool

	Return   []string
	SortBy   string
	SortDesc bool

	Offset int64
	Num    int64 // 0 with Offset 0 means server default; 0 with Offset > 0 returns no rows
}

// Doc is one decoded result.
type Doc struct {
	Key     string
	Score   float64
	Payload []byte
	SortKey *SortKey
	Fields  map[string]string
}

// SearchReply is a decoded search or aggregate batch.
type SearchReply struct {
	Total int64
	Docs  []Doc
}

// Search executes FT.SEARCH and decodes the reply.
func (c *Client) Search(
	ctx context.Context, index, query string, opts *SearchOptions,
) (*SearchReply, error) {
	if opts == nil {
		opts = &SearchOptions{}
	}
	args := buildQueryArgs(index, query, opts, nil)
	cmd := c.conn.B().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := c.conn.Do(ctx, cmd).ToArray()
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return parseBatch(raw, opts, true)
}

// Aggregate executes FT.AGGREGATE and decodes the reply. ops carries the
// raw pipeline arguments (GROUPBY, REDUCE, SORTBY, ...) appended verbatim.
func (c *Client) Aggregate(
	ctx context.Context, index, query string, opts *SearchOptions, ops ...string,
) (*SearchReply, error) {
	if opts == nil {
		opts = &SearchOptions{}
	}
	args := buildQueryArgs(index, query, opts, ops)
	cmd := c.conn.B().Arbitrary("FT.AGGREGATE").Args(args...).Build()
	raw, err := c.conn.Do(ctx, cmd).ToArray()
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	return parseBatch(raw, opts, false)
}

func buildQueryArgs(index, query string, opts *SearchOptions, extra []string) []string {
	args := []string{index, query}
	if opts.NoContent {
		args = append(args, "NOCONTENT")
	}
	if opts.WithScores {
		args = append(args, "WITHSCORES")
	}
	if opts.WithPayloads {
		args = append(args, "WITHPAYLOADS")
	}
	if opts.WithSortKeys {
		args = append(args, "WITHSORTKEYS")
	}
	if len(opts.Return) > 0 {
		args = append(args, "RETURN", strconv.Itoa(len(opts.Return)))
		args = append(args, opts.Return...)
	}
	if opts.SortBy != "" {
		args = append(args, "SORTBY", opts.SortBy)
		if opts.SortDesc {
			args = append(args, "DESC")
		}
	}
	if opts.Offset > 0 || opts.Num > 0 {
		args = append(args,
			"LIMIT",
			strconv.FormatInt(opts.Offset, 10),
			strconv.FormatInt(opts.Num, 10),
		)
	}
	return append(args, extra...)
}

// parseBatch decodes the position-dependent batch layout: the total first,
// then per result the sections selected by the request flags.
func parseBatch(raw []rueidis.RedisMessage, opts *SearchOptions, isSearch bool) (*SearchReply, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty reply")
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	reply := &SearchReply{Total: total}

	i := 1
	for i < len(raw) {
		start := i
		var doc Doc
		if isSearch {
			key, err := raw[i].ToString()
			if err != nil {
				return nil, fmt.Errorf("parse document key: %w", err)
			}
			doc.Key = key
			i++
		}
		if opts.WithScores {
			if i >= len(raw) {
				return nil, fmt.Errorf("truncated reply: missing score")
			}
			s, err := raw[i].ToString()
			if err != nil {
				return nil, fmt.Errorf("parse score: %w", err)
			}
			if doc.Score, err = strconv.ParseFloat(s, 64); err != nil {
				return nil, fmt.Errorf("parse score %q: %w", s, err)
			}
			i++
		}
		if opts.WithPayloads {
			if i >= len(raw) {
				return nil, fmt.Errorf("truncated reply: missing payload")
			}
			if !raw[i].IsNil() {
				p, err := raw[i].ToString()
				if err != nil {
					return nil, fmt.Errorf("parse payload: %w", err)
				}
				doc.Payload = []byte(p)
			}
			i++
		}
		if opts.WithSortKeys {
			if i >= len(raw) {
				return nil, fmt.Errorf("truncated reply: missing sort key")
			}
			if !raw[i].IsNil() {
				s, err := raw[i].ToString()
				if err != nil {
					return nil, fmt.Errorf("parse sort key: %w", err)
				}
				sk, err := ParseSortKey(s)
				if err != nil {
					return nil, err
				}
				doc.SortKey = &sk
			}
			i++
		}
		if !opts.NoContent {
			if i >= len(raw) {
				return nil, fmt.Errorf("truncated reply: missing fields")
			}
			fields, err := raw[i].ToArray()
			if err != nil {
				return nil, fmt.Errorf("parse fields: %w", err)
			}
			doc.Fields = parseFieldPairs(fields)
			i++
		}
		if i == start {
			return nil, fmt.Errorf("reply row carries no sections for the given options")
		}
		reply.Docs = append(reply.Docs, doc)
	}
	return reply, nil
}

func parseFieldPairs(fields []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(fields)/2)
	for j := 0; j+1 < len(fields); j += 2 {
		name, err := fields[j].ToString()
		if err != nil {
			continue
		}
		if fields[j+1].IsNil() {
			m[name] = ""
			continue
		}
		value, err := fields[j+1].ToString()
		if err != nil {
			continue
		}
		m[name] = value
	}
	return m
}
