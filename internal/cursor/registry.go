package cursor

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/textdex/internal/domain"
	"github.com/kailas-cloud/textdex/internal/metrics"
)

// Config tunes the registry.
type Config struct {
	// PerIndexCap bounds live cursors per index.
	PerIndexCap int
	// DefaultMaxIdle applies when a request does not set MAXIDLE.
	DefaultMaxIdle time.Duration
	// DefaultReadSize is the chunk size when neither the READ command nor
	// the request carries a COUNT.
	DefaultReadSize int
}

// Registry is the process-wide cursor table. All map and counter mutations
// happen under a single mutex; execution-state release happens outside it.
type Registry struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	byID     map[uint64]*Cursor
	perIndex map[string]int
	nextID   uint64

	// now is swappable for tests.
	now func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		logger:   logger,
		byID:     map[uint64]*Cursor{},
		perIndex: map[string]int{},
		now:      time.Now,
	}
}

// DefaultReadSize returns the configured fallback chunk size.
func (r *Registry) DefaultReadSize() int { return r.cfg.DefaultReadSize }

// Reserve allocates a cursor for indexName, leased to the caller. Fails when
// the per-index cap is reached.
func (r *Registry) Reserve(indexName string, maxIdle time.Duration) (*Cursor, error) {
	if maxIdle <= 0 {
		maxIdle = r.cfg.DefaultMaxIdle
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.PerIndexCap > 0 && r.perIndex[indexName] >= r.cfg.PerIndexCap {
		return nil, domain.ErrCursorCapExceeded
	}
	r.nextID++
	c := &Cursor{
		ID:        r.nextID,
		IndexName: indexName,
		state:     StateLeased,
		lastUsed:  r.now(),
		maxIdle:   maxIdle,
	}
	r.byID[c.ID] = c
	r.perIndex[indexName]++
	metrics.CursorsActive.WithLabelValues(indexName).Inc()
	return c, nil
}

// TakeForExecution atomically transitions a cursor from Paused to Leased.
// A cursor already leased to another caller is an error, not a wait.
func (r *Registry) TakeForExecution(id uint64) (*Cursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok || c.state == StateDisposed {
		return nil, domain.ErrCursorNotFound
	}
	if c.state == StateLeased {
		return nil, domain.ErrCursorLeased
	}
	c.state = StateLeased
	return c, nil
}

// Pause releases the lease and refreshes the idle clock. If a delete arrived
// while the cursor was leased, disposal happens now instead.
func (r *Registry) Pause(c *Cursor) {
	r.mu.Lock()
	if c.delPending {
		exec := r.disposeLocked(c)
		r.mu.Unlock()
		release(exec)
		return
	}
	c.state = StatePaused
	c.lastUsed = r.now()
	r.mu.Unlock()
}

// Dispose frees a cursor the caller holds leased (end of iteration or
// execution error).
func (r *Registry) Dispose(c *Cursor) {
	r.mu.Lock()
	exec := r.disposeLocked(c)
	r.mu.Unlock()
	release(exec)
}

// Purge disposes a cursor by id on client demand. Purging a leased cursor
// records a disposal intent observed at the next Pause.
func (r *Registry) Purge(id uint64) error {
	r.mu.Lock()
	c, ok := r.byID[id]
	if !ok || c.state == StateDisposed {
		r.mu.Unlock()
		return domain.ErrCursorNotFound
	}
	if c.state == StateLeased {
		c.delPending = true
		r.mu.Unlock()
		return nil
	}
	exec := r.disposeLocked(c)
	r.mu.Unlock()
	release(exec)
	return nil
}

// CollectIdle disposes every paused cursor whose idle window has expired and
// returns the count.
func (r *Registry) CollectIdle() int {
	now := r.now()
	var freed []ExecState

	r.mu.Lock()
	for _, c := range r.byID {
		if c.state != StatePaused {
			continue
		}
		if now.Sub(c.lastUsed) >= c.maxIdle {
			freed = append(freed, r.disposeLocked(c))
			metrics.CursorsReclaimed.Inc()
		}
	}
	n := len(freed)
	r.mu.Unlock()

	for _, exec := range freed {
		release(exec)
	}
	if n > 0 {
		r.logger.Info("reclaimed idle cursors", zap.Int("count", n))
	}
	return n
}

// Len returns the number of live cursors for an index.
func (r *Registry) Len(indexName string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.perIndex[indexName]
}

// disposeLocked detaches the execution state, removes the cursor from the
// table, and decrements the index counter. The caller releases the returned
// exec state outside the lock. Detach-before-release is what makes the
// request free exactly-once.
func (r *Registry) disposeLocked(c *Cursor) ExecState {
	if c.state == StateDisposed {
		return nil
	}
	exec := c.exec
	c.exec = nil
	c.state = StateDisposed
	delete(r.byID, c.ID)
	if n := r.perIndex[c.IndexName]; n > 1 {
		r.perIndex[c.IndexName] = n - 1
	} else {
		delete(r.perIndex, c.IndexName)
	}
	metrics.CursorsActive.WithLabelValues(c.IndexName).Dec()
	return exec
}

func release(exec ExecState) {
	if exec != nil {
		exec.Close()
	}
}

// RunGC invokes CollectIdle on every tick until the stop channel closes.
// This backs the background reclamation loop; the FT.CURSOR GC command calls
// CollectIdle directly.
func (r *Registry) RunGC(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			r.CollectIdle()
		case <-stop:
			return
		}
	}
}
