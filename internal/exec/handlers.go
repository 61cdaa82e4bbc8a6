package exec

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/kailas-cloud/textdex/internal/cursor"
	"github.com/kailas-cloud/textdex/internal/domain"
	"github.com/kailas-cloud/textdex/internal/index"
	logpkg "github.com/kailas-cloud/textdex/internal/logger"
	"github.com/kailas-cloud/textdex/internal/resp"
)

// Commands wires the query and cursor command handlers to their
// collaborators. One instance serves the whole process; the cursor registry
// is the only shared mutable state and guards itself.
type Commands struct {
	store   *index.Store
	cursors *cursor.Registry
	logger  *zap.Logger
}

// NewCommands creates the command handler set.
func NewCommands(store *index.Store, cursors *cursor.Registry, logger *zap.Logger) *Commands {
	return &Commands{store: store, cursors: cursors, logger: logger}
}

// Register installs all handlers on the server. Minimum arities include the
// command name.
func (c *Commands) Register(s *resp.Server) {
	s.Handle("FT.SEARCH", 3, func(ctx context.Context, w *resp.Writer, args []string) {
		c.execCommand(ctx, w, args, true)
	})
	s.Handle("FT.AGGREGATE", 3, func(ctx context.Context, w *resp.Writer, args []string) {
		c.execCommand(ctx, w, args, false)
	})
	s.Handle("FT.CURSOR", 4, func(_ context.Context, w *resp.Writer, args []string) {
		c.CursorCommand(w, args)
	})
	s.Handle("FT.EXPLAIN", 3, func(_ context.Context, w *resp.Writer, args []string) {
		c.Explain(w, args)
	})
	c.registerAdmin(s)
}

// buildRequest runs the build protocol: allocate, compile, open the search
// context, apply it, build the pipeline. On failure the request is already
// released and the error describes why.
func (c *Commands) buildRequest(args []string, isSearch bool) (*Request, error) {
	indexName := args[1]
	r := NewRequest(isSearch, c.logger)

	if err := r.Compile(args[2:]); err != nil {
		r.Close()
		return nil, err
	}

	ix, err := c.store.Get(indexName)
	if err != nil {
		r.Close()
		return nil, domain.NewQueryError(domain.CodeNoIndex, "%s: no such index", indexName)
	}

	// Cursor-mode requests outlive this command call, so they bind a
	// long-lived context that re-resolves the index between reads.
	conc := index.NewConcurrentCtx(c.store, ix)

	if err := r.ApplyContext(conc); err != nil {
		r.Close()
		return nil, err
	}
	if err := r.BuildPipeline(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// execCommand is the shared FT.SEARCH / FT.AGGREGATE entry point.
func (c *Commands) execCommand(ctx context.Context, w *resp.Writer, args []string, isSearch bool) {
	r, err := c.buildRequest(args, isSearch)
	if err != nil {
		logpkg.FromContext(ctx).Debug("request build failed",
			zap.String("index", args[1]), zap.Error(err))
		replyError(w, err)
		return
	}

	if r.Flags&IsCursor != 0 {
		if err := c.startCursor(r, args[1], w); err != nil {
			r.Close()
			replyError(w, err)
		}
		return
	}
	// Execute releases the request when done.
	Execute(r, w)
}

// Explain builds a request and renders the parsed query instead of
// executing it.
func (c *Commands) Explain(w *resp.Writer, args []string) {
	r, err := c.buildRequest(args, false)
	if err != nil {
		replyError(w, err)
		return
	}
	w.BulkString(r.plan.Query.Explain())
	r.Close()
}

// replyError maps build and registry errors to their wire messages.
func replyError(w *resp.Writer, err error) {
	switch {
	case errors.Is(err, domain.ErrCursorCapExceeded):
		w.Error("Too many cursors allocated for index")
	case errors.Is(err, domain.ErrCursorNotFound):
		w.Error("Cursor not found")
	default:
		w.Error(domain.AsQueryError(err).Msg)
	}
}
