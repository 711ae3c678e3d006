// Package cluster is the top-level facade: it owns every scope's registry
// and groups actors on this node and exposes the state-machine-agnostic
// public API (lookup/register/unregister/count/join/get_members),
// grounded on internal/ha's Manager — a single struct under one lock that
// owns per-node state and is brought up with NewManager/NewScope and
// halted with Stop.
package cluster

import (
	"fmt"
	"sync"

	"procregd/internal/audit"
	"procregd/internal/events"
	"procregd/internal/eventfeed"
	"procregd/internal/groups"
	"procregd/internal/procid"
	"procregd/internal/registry"
	"procregd/internal/scope"
	"procregd/internal/table"
)

// DefaultScope is the reserved namespace the convenience overloads use.
const DefaultScope = "default"

// Member is one (Pid, Meta) pair returned by GetMembers.
type Member struct {
	Pid  procid.Pid
	Meta any
}

// Manager is this node's view of the cluster: every scope it has brought
// up, each with its own registry actor and groups actor sharing one
// liveness service, one clock, and one mesh connection.
type Manager struct {
	node procid.NodeID
	mesh *scope.Mesh

	liveness *procid.Liveness
	clock    *procid.Clock

	mu             sync.Mutex
	registryTables *table.Registry
	groupsTables   *table.Groups
	registryActors map[string]*scope.Actor
	groupsActors   map[string]*scope.Actor

	// Audit, if non-nil, trails every lifecycle callback fired in any
	// scope brought up after it is set.
	Audit *audit.Recorder

	// EventFeed, if non-nil, fans out every lifecycle callback fired in
	// any scope brought up after it is set to connected WebSocket
	// clients.
	EventFeed *eventfeed.Hub
}

// NewManager creates a cluster manager for this node. mesh must be shared
// by every node's Manager in the same simulated cluster.
func NewManager(node procid.NodeID, mesh *scope.Mesh) *Manager {
	mesh.JoinNode(node)
	return &Manager{
		node:           node,
		mesh:           mesh,
		liveness:       procid.NewLiveness(node),
		clock:          &procid.Clock{},
		registryTables: table.NewRegistry(),
		groupsTables:   table.NewGroups(),
		registryActors: make(map[string]*scope.Actor),
		groupsActors:   make(map[string]*scope.Actor),
	}
}

// Spawn allocates and marks alive a new local Pid, ready to be registered
// or joined to a group.
func (m *Manager) Spawn() procid.Pid { return m.liveness.Spawn() }

// Kill marks a locally-owned pid dead, triggering its DOWN handlers.
func (m *Manager) Kill(pid procid.Pid, reason string) { m.liveness.Kill(pid, reason) }

// NewScope brings up a registry and groups actor pair for scopeName on
// this node. Idempotent: calling it twice for the same scope is a no-op.
func (m *Manager) NewScope(scopeName string, registryHandler, groupsHandler *events.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registryTables.HasScope(scopeName) {
		return
	}
	m.registryTables.NewScope(scopeName)
	m.groupsTables.NewScope(scopeName)

	if m.Audit != nil {
		registryHandler = m.Audit.Wrap(registryHandler)
		groupsHandler = m.Audit.Wrap(groupsHandler)
	}
	if m.EventFeed != nil {
		registryHandler = m.EventFeed.Wrap(registryHandler)
		groupsHandler = m.EventFeed.Wrap(groupsHandler)
	}

	rm := registry.New(m.node, scopeName, m.registryTables.Scope(scopeName), m.liveness, m.clock, events.New(scopeName, registryHandler))
	gm := groups.New(m.node, scopeName, m.groupsTables.Scope(scopeName), m.liveness, m.clock, events.New(scopeName, groupsHandler))

	ra := scope.NewActor(m.node, scopeName, "registry", rm, m.mesh)
	ga := scope.NewActor(m.node, scopeName, "groups", gm, m.mesh)
	m.registryActors[scopeName] = ra
	m.groupsActors[scopeName] = ga

	ra.Start()
	ga.Start()
	go ra.Run()
	go ga.Run()
}

// Stop halts every scope actor this node owns, deregistering them from
// the mesh and firing DOWN to anyone monitoring them.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.registryActors {
		a.Stop()
	}
	for _, a := range m.groupsActors {
		a.Stop()
	}
}

// HasScope reports whether scopeName has been brought up on this node,
// without panicking — used by callers taking scope names from untrusted
// input (e.g. the HTTP control plane) that must not crash the process on
// a typo the way the internal API's invalid_scope panic would.
func (m *Manager) HasScope(scopeName string) bool {
	return m.registryTables.HasScope(scopeName)
}

func (m *Manager) registryActor(scopeName string) *scope.Actor {
	m.registryTables.Scope(scopeName) // panics ErrInvalidScope if unknown
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registryActors[scopeName]
}

func (m *Manager) groupsActor(scopeName string) *scope.Actor {
	m.groupsTables.Scope(scopeName) // panics ErrInvalidScope if unknown
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groupsActors[scopeName]
}

// Lookup reads the registry directly against the table, bypassing the
// actor — concurrent-read-safe because only the owning actor ever
// mutates it.
func (m *Manager) Lookup(scopeName, name string) (procid.Pid, any, bool) {
	row, found := m.registryTables.Scope(scopeName).Lookup(name)
	if !found {
		return procid.Pid{}, nil, false
	}
	return row.Pid, row.Meta, true
}

// Register forwards to pid's owner-node actor and, if that owner is not
// this node, mirrors the result locally for read-your-writes visibility.
func (m *Manager) Register(scopeName, name string, pid procid.Pid, meta any) (string, error) {
	ra := m.registryActor(scopeName)
	handle := scope.Handle{Node: pid.Node, ID: ra.ProcessName}
	reply, err := ra.Call(handle, scope.KindRegisterCall, registry.RegisterRequest{Name: name, Pid: pid, Meta: meta})
	if err != nil {
		return "", fmt.Errorf("register %s/%s: %w", scopeName, name, err)
	}
	rep, _ := reply.(registry.RegisterReply)
	if pid.Node != m.node {
		ra.ApplyLocal(scope.KindRegisterCall, rep)
	}
	return rep.Status, nil
}

// Unregister first looks up the currently-registered pid locally, then
// routes the unregister request to its owner node.
func (m *Manager) Unregister(scopeName, name string) (string, error) {
	row, found := m.registryTables.Scope(scopeName).Lookup(name)
	if !found {
		return registry.StatusUndefined, nil
	}

	ra := m.registryActor(scopeName)
	handle := scope.Handle{Node: row.Pid.Node, ID: ra.ProcessName}
	reply, err := ra.Call(handle, scope.KindUnregisterCall, registry.UnregisterRequest{Name: name, Pid: row.Pid})
	if err != nil {
		return "", fmt.Errorf("unregister %s/%s: %w", scopeName, name, err)
	}
	rep, _ := reply.(registry.UnregisterReply)
	if row.Pid.Node != m.node {
		ra.ApplyLocal(scope.KindUnregisterCall, rep)
	}
	return rep.Status, nil
}

// Peers returns every node currently visible on the mesh, including this
// one.
func (m *Manager) Peers() []procid.NodeID {
	return m.mesh.VisibleNodes()
}

// Scopes returns the names of every scope this node has brought up.
func (m *Manager) Scopes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.registryActors))
	for name := range m.registryActors {
		names = append(names, name)
	}
	return names
}

// Count returns the number of registered names in scopeName, optionally
// restricted to a single node.
func (m *Manager) Count(scopeName string, node *procid.NodeID) int {
	return m.registryTables.Scope(scopeName).Count(node)
}

// Join forwards to pid's owner-node groups actor and mirrors the result
// locally when the owner is remote.
func (m *Manager) Join(scopeName, group string, pid procid.Pid, meta any) (string, error) {
	ga := m.groupsActor(scopeName)
	handle := scope.Handle{Node: pid.Node, ID: ga.ProcessName}
	reply, err := ga.Call(handle, scope.KindJoinCall, groups.JoinRequest{Group: group, Pid: pid, Meta: meta})
	if err != nil {
		return "", fmt.Errorf("join %s/%s: %w", scopeName, group, err)
	}
	rep, _ := reply.(groups.JoinReply)
	if pid.Node != m.node {
		ga.ApplyLocal(scope.KindJoinCall, rep)
	}
	return rep.Status, nil
}

// GetMembers reads group membership directly against the table.
func (m *Manager) GetMembers(scopeName, group string) []Member {
	rows := m.groupsTables.Scope(scopeName).Members(group)
	out := make([]Member, len(rows))
	for i, r := range rows {
		out[i] = Member{Pid: r.Key.Pid, Meta: r.Meta}
	}
	return out
}

// GroupCount returns the number of distinct group names in scopeName.
func (m *Manager) GroupCount(scopeName string, node *procid.NodeID) int {
	return m.groupsTables.Scope(scopeName).Count(node)
}

// --- default-scope convenience overloads ---

func (m *Manager) LookupDefault(name string) (procid.Pid, any, bool) {
	return m.Lookup(DefaultScope, name)
}

func (m *Manager) RegisterDefault(name string, pid procid.Pid, meta any) (string, error) {
	return m.Register(DefaultScope, name, pid, meta)
}

func (m *Manager) UnregisterDefault(name string) (string, error) {
	return m.Unregister(DefaultScope, name)
}

func (m *Manager) JoinDefault(group string, pid procid.Pid, meta any) (string, error) {
	return m.Join(DefaultScope, group, pid, meta)
}

func (m *Manager) GetMembersDefault(group string) []Member {
	return m.GetMembers(DefaultScope, group)
}
