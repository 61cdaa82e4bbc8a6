package resp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	logpkg "github.com/kailas-cloud/textdex/internal/logger"
	"github.com/kailas-cloud/textdex/internal/metrics"
)

// HandlerFunc processes one command; replies go to w.
type HandlerFunc func(ctx context.Context, w *Writer, args []string)

// Handler binds a command to its minimum argument count (including the
// command name itself).
type Handler struct {
	Fn       HandlerFunc
	MinArity int
}

// Server is the TCP command server.
type Server struct {
	addr     string
	logger   *zap.Logger
	handlers map[string]Handler
}

// NewServer creates a command server listening on addr.
func NewServer(addr string, logger *zap.Logger) *Server {
	return &Server{addr: addr, logger: logger, handlers: map[string]Handler{}}
}

// Handle registers a command. Names are matched case-insensitively.
func (s *Server) Handle(name string, minArity int, fn HandlerFunc) {
	s.handlers[strings.ToUpper(name)] = Handler{Fn: fn, MinArity: minArity}
}

// Serve accepts connections until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.logger.Info("listening", zap.String("addr", s.addr))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}
			go s.serveConn(ctx, conn)
		}
	})
	if err := g.Wait(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	logger := s.logger.With(zap.String("peer", conn.RemoteAddr().String()))
	ctx = logpkg.ContextWithLogger(ctx, logger)
	r := NewReader(conn)
	w := NewWriter(conn)

	for {
		args, err := r.ReadCommand()
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				logger.Warn("read command", zap.Error(err))
			}
			return
		}
		if len(args) == 0 {
			continue
		}
		if !s.dispatch(ctx, logger, w, args) {
			return
		}
		if err := w.Flush(); err != nil {
			logger.Warn("write reply", zap.Error(err))
			return
		}
	}
}

// dispatch runs one command; returns false when the connection should close.
func (s *Server) dispatch(ctx context.Context, logger *zap.Logger, w *Writer, args []string) bool {
	name := strings.ToUpper(args[0])
	switch name {
	case "PING":
		w.SimpleString("PONG")
		return true
	case "QUIT":
		w.SimpleString("OK")
		_ = w.Flush()
		return false
	}

	h, ok := s.handlers[name]
	if !ok {
		w.Errorf("ERR unknown command '%s'", args[0])
		metrics.CommandsTotal.WithLabelValues(name, "unknown").Inc()
		return true
	}
	if len(args) < h.MinArity {
		w.Errorf("ERR wrong number of arguments for '%s' command", strings.ToLower(args[0]))
		metrics.CommandsTotal.WithLabelValues(name, "arity").Inc()
		return true
	}

	start := time.Now()
	h.Fn(ctx, w, args)
	elapsed := time.Since(start)

	metrics.CommandsTotal.WithLabelValues(name, "ok").Inc()
	metrics.CommandDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	logger.Debug("command",
		zap.String("cmd", name),
		zap.Int("argc", len(args)),
		zap.Duration("latency", elapsed),
	)
	return true
}
