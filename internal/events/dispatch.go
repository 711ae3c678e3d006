// Package events implements safe invocation for the three user-visible
// lifecycle callbacks: on_process_registered, on_process_unregistered and
// resolve_registry_conflict.
//
// Every caller that might fail or panic goes through one guarded entry
// point that logs the failure and substitutes a safe default instead of
// propagating it into the actor's event loop.
package events

import (
	"log"

	"procregd/internal/procid"
)

// Entry describes the before/after (Pid, Meta) a lifecycle callback
// receives. A zero Pid means "no prior entry" / "no subsequent entry".
type Entry struct {
	Pid  procid.Pid
	Meta any
}

// Handler is the full set of user-implementable callbacks for one scope.
// Every field is optional — a nil field means "no side effect" for the
// lifecycle hooks, and "keep local pid" for the resolver.
type Handler struct {
	OnRegistered   func(scope, name string, before, after Entry)
	OnUnregistered func(scope, name string, pid procid.Pid, meta any)

	// ResolveConflict returns which of incoming/table should win, or the
	// zero Pid for "invalid/none". A nil ResolveConflict uses the
	// default: keep table.Pid (the local pid).
	ResolveConflict func(scope, name string, incoming, table Conflicting) procid.Pid
}

// Conflicting is one side of a registry conflict passed to the resolver.
type Conflicting struct {
	Pid  procid.Pid
	Meta any
	Time procid.Time
}

// Dispatcher wraps a Handler with the catch-log-default behavior. The
// zero Dispatcher (nil Handler) is valid and behaves as "no callbacks
// configured".
type Dispatcher struct {
	scope   string
	handler *Handler
}

// New builds a Dispatcher for scope. handler may be nil.
func New(scope string, handler *Handler) *Dispatcher {
	return &Dispatcher{scope: scope, handler: handler}
}

// Registered invokes OnRegistered, catching and logging any panic.
func (d *Dispatcher) Registered(name string, before, after Entry) {
	if d == nil || d.handler == nil || d.handler.OnRegistered == nil {
		return
	}
	defer d.recover("on_process_registered", name)
	d.handler.OnRegistered(d.scope, name, before, after)
}

// Unregistered invokes OnUnregistered, catching and logging any panic.
func (d *Dispatcher) Unregistered(name string, pid procid.Pid, meta any) {
	if d == nil || d.handler == nil || d.handler.OnUnregistered == nil {
		return
	}
	defer d.recover("on_process_unregistered", name)
	d.handler.OnUnregistered(d.scope, name, pid, meta)
}

// ResolveConflict invokes the resolver callback, substituting the default
// policy (keep the local/table pid) when none is configured or the
// configured one panics.
func (d *Dispatcher) ResolveConflict(name string, incoming, table Conflicting) (winner procid.Pid) {
	resolve := DefaultResolver
	if d != nil && d.handler != nil && d.handler.ResolveConflict != nil {
		resolve = d.handler.ResolveConflict
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[events] resolve_registry_conflict panicked for %s/%s: %v; falling back to default resolver", d.scopeName(), name, r)
			winner = DefaultResolver(d.scopeName(), name, incoming, table)
		}
	}()
	return resolve(d.scopeName(), name, incoming, table)
}

func (d *Dispatcher) scopeName() string {
	if d == nil {
		return ""
	}
	return d.scope
}

func (d *Dispatcher) recover(callback, name string) {
	if r := recover(); r != nil {
		log.Printf("[events] %s panicked for scope=%s name=%s: %v", callback, d.scope, name, r)
	}
}

// DefaultResolver keeps the table (local) pid and kills neither pid. Run
// unmodified on both sides of a symmetric two-node conflict, each node
// keeps its own pid and rebroadcasts it with a fresh Time, and each
// rebroadcast puts the other node back into its conflict path, so the two
// nodes do not converge on a single entry for the name; production
// deployments are expected to supply their own ResolveConflict.
func DefaultResolver(scope, name string, incoming, table Conflicting) procid.Pid {
	return table.Pid
}
