package table

import "procregd/internal/procid"

// GroupKey is the compound key of a groups entry: (GroupName, Pid).
// Uniqueness is per-key — a pid may belong to many groups, and a group
// may hold many pids, but a pid appears in a given group at most once.
type GroupKey struct {
	Group string
	Pid   procid.Pid
}

// GroupRow is one (GroupName, Pid) entry.
type GroupRow struct {
	Key        GroupKey
	Meta       any
	Time       procid.Time
	MonitorRef procid.MonitorRef
	HasMonitor bool
	Node       procid.NodeID
}

// GroupsTable indexes group rows by-name (keyed by the full GroupKey,
// point lookup plus "all members of group" scan) and by-pid (keyed by
// Pid, for the DOWN handler's "every row this pid holds").
type GroupsTable struct {
	byName map[GroupKey]*GroupRow
	byPid  map[procid.Pid]map[GroupKey]*GroupRow
}

func newGroupsTable() *GroupsTable {
	return &GroupsTable{
		byName: make(map[GroupKey]*GroupRow),
		byPid:  make(map[procid.Pid]map[GroupKey]*GroupRow),
	}
}

// Lookup returns the row for key, if any.
func (t *GroupsTable) Lookup(key GroupKey) (GroupRow, bool) {
	r, ok := t.byName[key]
	if !ok {
		return GroupRow{}, false
	}
	return *r, true
}

// Put inserts or overwrites the row for key.
func (t *GroupsTable) Put(row GroupRow) {
	r := row
	t.byName[row.Key] = &r
	if t.byPid[row.Key.Pid] == nil {
		t.byPid[row.Key.Pid] = make(map[GroupKey]*GroupRow)
	}
	t.byPid[row.Key.Pid][row.Key] = &r
}

// Delete removes the row for key.
func (t *GroupsTable) Delete(key GroupKey) bool {
	if _, ok := t.byName[key]; !ok {
		return false
	}
	delete(t.byName, key)
	names := t.byPid[key.Pid]
	delete(names, key)
	if len(names) == 0 {
		delete(t.byPid, key.Pid)
	}
	return true
}

// RowsForPid returns every row pid currently holds, across all groups.
func (t *GroupsTable) RowsForPid(pid procid.Pid) []GroupRow {
	names := t.byPid[pid]
	out := make([]GroupRow, 0, len(names))
	for _, r := range names {
		out = append(out, *r)
	}
	return out
}

// RowsForNode returns every row whose Node equals node.
func (t *GroupsTable) RowsForNode(node procid.NodeID) []GroupRow {
	var out []GroupRow
	for _, r := range t.byName {
		if r.Node == node {
			out = append(out, *r)
		}
	}
	return out
}

// Members returns every row for the given group name, projected as
// (pid, meta) pairs — backs get_members(scope, groupname).
func (t *GroupsTable) Members(group string) []GroupRow {
	var out []GroupRow
	for k, r := range t.byName {
		if k.Group == group {
			out = append(out, *r)
		}
	}
	return out
}

// Count returns the number of distinct group names, optionally
// restricted to rows belonging to a single node.
func (t *GroupsTable) Count(node *procid.NodeID) int {
	seen := make(map[string]struct{})
	for k, r := range t.byName {
		if node != nil && r.Node != *node {
			continue
		}
		seen[k.Group] = struct{}{}
	}
	return len(seen)
}

// Groups is the top-level, multi-scope container for group tables,
// mirroring Registry's invalid_scope behavior.
type Groups struct {
	scopes map[string]*GroupsTable
}

// NewGroups creates an empty multi-scope groups container.
func NewGroups() *Groups {
	return &Groups{scopes: make(map[string]*GroupsTable)}
}

// NewScope registers scope, creating its table. Idempotent.
func (g *Groups) NewScope(scope string) {
	if _, ok := g.scopes[scope]; ok {
		return
	}
	g.scopes[scope] = newGroupsTable()
}

// Scope returns the table for scope, panicking with ErrInvalidScope if it
// was never registered.
func (g *Groups) Scope(scope string) *GroupsTable {
	t, ok := g.scopes[scope]
	if !ok {
		panic(ErrInvalidScope(scope))
	}
	return t
}

// HasScope reports whether scope has been registered.
func (g *Groups) HasScope(scope string) bool {
	_, ok := g.scopes[scope]
	return ok
}
