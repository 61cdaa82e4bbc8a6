// Package cursor implements the registry of paused query executions: id
// allocation, exclusive leasing for reads, per-index accounting against a
// configured cap, idle-timeout reclamation, and exactly-once disposal of the
// execution state a cursor owns.
package cursor

import (
	"time"
)

// ExecState is the paused execution a cursor owns. Close releases it; the
// registry guarantees Close is called exactly once per cursor.
type ExecState interface {
	Close()
}

// State is the lease state of a cursor.
type State uint8

const (
	// StatePaused means the cursor is at rest and available for leasing.
	StatePaused State = iota
	// StateLeased means exactly one caller is driving the cursor's pipeline.
	StateLeased
	// StateDisposed means the cursor has been freed; the id is dead.
	StateDisposed
)

// Cursor is a persistent handle to a paused execution.
type Cursor struct {
	ID        uint64
	IndexName string

	exec       ExecState
	state      State
	lastUsed   time.Time
	maxIdle    time.Duration
	delPending bool
}

// Exec returns the owned execution state.
func (c *Cursor) Exec() ExecState { return c.exec }

// SetExec attaches the execution state. Called once by the reserver while
// the cursor is still leased to it.
func (c *Cursor) SetExec(e ExecState) { c.exec = e }

// State returns the current lease state.
func (c *Cursor) State() State { return c.state }
