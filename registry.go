package ctcp

import (
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"github.com/soypat/ctcp/internal/ilist"
)

// Engine is the process-wide registry of active connections. It owns every
// Connection's lifecycle from registration to destruction and fans the
// periodic timer tick out across all of them. Engine itself holds no
// connection-level protocol state; it only tracks membership.
type Engine struct {
	conns ilist.List
	log   logger
}

// NewEngine returns an empty Engine ready to register connections.
func NewEngine(slogger *slog.Logger) *Engine {
	return &Engine{log: newLogger(slogger)}
}

// Register adds conn to the registry. The caller retains ownership; conn
// must not already belong to another Engine.
func (e *Engine) Register(conn *Connection) {
	e.conns.PushBack(conn)
}

// Remove unlinks conn from the registry without otherwise touching it.
func (e *Engine) Remove(conn *Connection) {
	e.conns.Remove(conn)
}

// Tick runs OnTimer on every registered connection, removing any that reach
// StateClosed. It does not stop at the first connection's error: a single
// abortive teardown must not starve the timer sweep of every connection
// enumerated after it, so errors are aggregated and returned together.
func (e *Engine) Tick(now timeInstant) error {
	var errs *multierror.Error
	var dead []*Connection

	for l := e.conns.Front(); l != nil; l = l.Next() {
		conn := l.(*Connection)
		if err := conn.OnTimer(now); err != nil {
			errs = multierror.Append(errs, err)
		}
		if conn.State().IsClosed() {
			dead = append(dead, conn)
		}
	}
	for _, conn := range dead {
		e.Remove(conn)
		e.log.debug("connection destroyed", slog.String("conn", conn.ID()))
	}
	return errs.ErrorOrNil()
}

// Len reports the number of registered connections.
func (e *Engine) Len() int {
	n := 0
	for l := e.conns.Front(); l != nil; l = l.Next() {
		n++
	}
	return n
}

// Connections calls fn for every registered connection, in registration
// order. fn must not register or remove connections from e.
func (e *Engine) Connections(fn func(*Connection)) {
	for l := e.conns.Front(); l != nil; l = l.Next() {
		fn(l.(*Connection))
	}
}
