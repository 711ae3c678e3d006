// Package table implements the indexed by-name/by-pid in-memory storage
// each scope keeps: point lookup and selection-by-node on the by-name
// index, iteration by pid on the by-pid index.
//
// A single table instance is single-writer — only the owning scope actor
// ever mutates it — which is why these types take no lock of their own;
// callers needing concurrent reads from outside the actor loop should
// wrap access in a sync.RWMutex.
package table

import (
	"fmt"

	"procregd/internal/procid"
)

// ErrInvalidScope is panicked by every table operation against a scope
// that was never registered with NewScope. Addressing an unknown scope
// is a programming error, not something callers are expected to recover
// from at the call site.
type ErrInvalidScope string

func (e ErrInvalidScope) Error() string { return fmt.Sprintf("invalid_scope(%s)", string(e)) }

// RegistryRow is one entry in a registry scope's by-name table.
type RegistryRow struct {
	Name       string
	Pid        procid.Pid
	Meta       any
	Time       procid.Time
	MonitorRef procid.MonitorRef
	HasMonitor bool // MonitorRef is only meaningful when HasMonitor; only local rows carry one
	Node       procid.NodeID
}

// RegistryTable holds the by-name and by-pid indexes for one registry
// scope. Both indexes are kept consistent by construction: every mutating
// method updates both, never one alone.
type RegistryTable struct {
	byName map[string]*RegistryRow
	byPid  map[procid.Pid]map[string]*RegistryRow // pid -> name -> row (same pointer as byName's)
}

func newRegistryTable() *RegistryTable {
	return &RegistryTable{
		byName: make(map[string]*RegistryRow),
		byPid:  make(map[procid.Pid]map[string]*RegistryRow),
	}
}

// Lookup returns the row stored under name, if any.
func (t *RegistryTable) Lookup(name string) (RegistryRow, bool) {
	row, ok := t.byName[name]
	if !ok {
		return RegistryRow{}, false
	}
	return *row, true
}

// Put inserts or overwrites the row for name, keeping both indexes
// consistent.
func (t *RegistryTable) Put(row RegistryRow) {
	if old, ok := t.byName[row.Name]; ok && old.Pid != row.Pid {
		t.removeFromPidIndex(old)
	}
	r := row
	t.byName[row.Name] = &r
	if t.byPid[row.Pid] == nil {
		t.byPid[row.Pid] = make(map[string]*RegistryRow)
	}
	t.byPid[row.Pid][row.Name] = &r
}

// Delete removes the row under name iff its pid equals pid (no-op
// otherwise — callers check this themselves for the race_condition/
// undefined distinction, this is just the raw index operation).
func (t *RegistryTable) Delete(nameKey string, pid procid.Pid) bool {
	row, ok := t.byName[nameKey]
	if !ok || row.Pid != pid {
		return false
	}
	delete(t.byName, nameKey)
	t.removeFromPidIndex(row)
	return true
}

func (t *RegistryTable) removeFromPidIndex(row *RegistryRow) {
	names := t.byPid[row.Pid]
	delete(names, row.Name)
	if len(names) == 0 {
		delete(t.byPid, row.Pid)
	}
}

// RowsForPid returns every row currently held by pid (used by the DOWN
// handler, and by the monitor-refcount check: len(result) <= 1 means the
// last local name for pid is being removed).
func (t *RegistryTable) RowsForPid(pid procid.Pid) []RegistryRow {
	names := t.byPid[pid]
	out := make([]RegistryRow, 0, len(names))
	for _, r := range names {
		out = append(out, *r)
	}
	return out
}

// RowsForNode returns every row whose Node equals node — used by
// get_local_data (snapshot export) and by purge-on-peer-down.
func (t *RegistryTable) RowsForNode(node procid.NodeID) []RegistryRow {
	var out []RegistryRow
	for _, r := range t.byName {
		if r.Node == node {
			out = append(out, *r)
		}
	}
	return out
}

// DeleteAll removes every row currently stored under the name/pid pairs
// in rows, applying Delete to each.
func (t *RegistryTable) DeleteAll(rows []RegistryRow) {
	for _, r := range rows {
		t.Delete(r.Name, r.Pid)
	}
}

// Count returns the number of names registered, optionally restricted to
// a single node.
func (t *RegistryTable) Count(node *procid.NodeID) int {
	if node == nil {
		return len(t.byName)
	}
	n := 0
	for _, r := range t.byName {
		if r.Node == *node {
			n++
		}
	}
	return n
}

// Registry is the top-level, multi-scope container. invalid_scope panics
// originate here.
type Registry struct {
	scopes map[string]*RegistryTable
}

// NewRegistry creates an empty multi-scope registry container.
func NewRegistry() *Registry {
	return &Registry{scopes: make(map[string]*RegistryTable)}
}

// NewScope registers scope, creating its tables. Calling it twice for the
// same scope is a no-op (idempotent bring-up, safe to call on every
// startup).
func (r *Registry) NewScope(scope string) {
	if _, ok := r.scopes[scope]; ok {
		return
	}
	r.scopes[scope] = newRegistryTable()
}

// Scope returns the table for scope, panicking with ErrInvalidScope if it
// was never registered.
func (r *Registry) Scope(scope string) *RegistryTable {
	t, ok := r.scopes[scope]
	if !ok {
		panic(ErrInvalidScope(scope))
	}
	return t
}

// HasScope reports whether scope has been registered, without panicking.
func (r *Registry) HasScope(scope string) bool {
	_, ok := r.scopes[scope]
	return ok
}
