// Package groups implements the per-scope groups state machine: a
// many-to-many GroupName <-> Pid membership set, replicated across every
// node that runs the same scope. Unlike the registry there is no
// uniqueness conflict — (GroupName, Pid) is the key, so two different
// pids under the same group simply coexist.
package groups

import (
	"procregd/internal/events"
	"procregd/internal/procid"
	"procregd/internal/scope"
	"procregd/internal/table"
)

// JoinRequest is the body of a CALL_JOIN sent to the owner of Pid.
type JoinRequest struct {
	Group string
	Pid   procid.Pid
	Meta  any
}

// JoinReply carries enough of the mutation to let the requester mirror it
// locally.
type JoinReply struct {
	Status string
	Group  string
	Pid    procid.Pid
	Meta   any
	Time   procid.Time
}

// Status values returned by join.
const (
	StatusOK       = "ok"
	StatusNotAlive = "not_alive"
)

// Groups is one scope's groups state machine on one node.
type Groups struct {
	node  procid.NodeID
	scope string

	table    *table.GroupsTable
	liveness *procid.Liveness
	clock    *procid.Clock
	dispatch *events.Dispatcher

	forwardDown func(procid.Pid)
	monitors    map[procid.Pid]procid.MonitorRef
}

// New builds a Groups state machine for scopeName on node.
func New(node procid.NodeID, scopeName string, t *table.GroupsTable, liveness *procid.Liveness, clock *procid.Clock, dispatch *events.Dispatcher) *Groups {
	return &Groups{
		node:     node,
		scope:    scopeName,
		table:    t,
		liveness: liveness,
		clock:    clock,
		dispatch: dispatch,
		monitors: make(map[procid.Pid]procid.MonitorRef),
	}
}

// Bind implements scope.StateMachine.
func (g *Groups) Bind(forwardDown func(procid.Pid)) { g.forwardDown = forwardDown }

func (g *Groups) ensureMonitor(pid procid.Pid) procid.MonitorRef {
	if ref, ok := g.monitors[pid]; ok {
		return ref
	}
	ref := g.liveness.Monitor(pid)
	g.monitors[pid] = ref
	go func() {
		notice := <-ref.Chan()
		g.forwardDown(notice.Pid)
	}()
	return ref
}

func (g *Groups) releaseMonitor(pid procid.Pid, flush bool) {
	ref, ok := g.monitors[pid]
	if !ok {
		return
	}
	delete(g.monitors, pid)
	g.liveness.Demonitor(ref, flush)
}

// HandleCall implements scope.StateMachine: owner-node join.
func (g *Groups) HandleCall(env scope.Envelope, requester procid.NodeID) (any, []scope.Broadcast) {
	if env.Kind != scope.KindJoinCall {
		return nil, nil
	}
	req, _ := env.Body.(JoinRequest)
	return g.handleJoinCall(req, requester)
}

func (g *Groups) handleJoinCall(req JoinRequest, requester procid.NodeID) (any, []scope.Broadcast) {
	if !g.liveness.IsAlive(req.Pid) {
		return JoinReply{Status: StatusNotAlive}, nil
	}

	ref := g.ensureMonitor(req.Pid)
	now := g.clock.Now()
	key := table.GroupKey{Group: req.Group, Pid: req.Pid}
	g.table.Put(table.GroupRow{
		Key: key, Meta: req.Meta, Time: now,
		MonitorRef: ref, HasMonitor: true, Node: req.Pid.Node,
	})

	reply := JoinReply{Status: StatusOK, Group: req.Group, Pid: req.Pid, Meta: req.Meta, Time: now}
	bcast := scope.Broadcast{
		Envelope: scope.Envelope{
			Version: scope.ProtocolVersion, Kind: scope.KindSyncJoin, From: g.node,
			Body: scope.SyncJoinBody{Group: req.Group, Pid: req.Pid, Meta: req.Meta, Time: now},
		},
		Exclude: requester,
	}
	return reply, []scope.Broadcast{bcast}
}

// HandleSync implements scope.StateMachine.
func (g *Groups) HandleSync(env scope.Envelope) []scope.Broadcast {
	switch env.Kind {
	case scope.KindSyncJoin:
		body, _ := env.Body.(scope.SyncJoinBody)
		g.applySyncJoin(body.Group, body.Pid, body.Meta, body.Time)
	case scope.KindSyncLeave:
		body, _ := env.Body.(scope.SyncLeaveBody)
		g.applySyncLeave(body.Group, body.Pid)
	}
	return nil
}

func (g *Groups) applySyncJoin(group string, pid procid.Pid, meta any, t procid.Time) {
	key := table.GroupKey{Group: group, Pid: pid}
	row, found := g.table.Lookup(key)
	if !found || row.Time < t {
		g.table.Put(table.GroupRow{Key: key, Meta: meta, Time: t, Node: pid.Node})
	}
	// Otherwise: our record is as-new or newer, drop the incoming update.
}

func (g *Groups) applySyncLeave(group string, pid procid.Pid) {
	g.table.Delete(table.GroupKey{Group: group, Pid: pid})
}

// MirrorLocal implements scope.StateMachine.
func (g *Groups) MirrorLocal(kind scope.Kind, reply any) {
	if kind != scope.KindJoinCall {
		return
	}
	rep, ok := reply.(JoinReply)
	if !ok || rep.Status != StatusOK {
		return
	}
	key := table.GroupKey{Group: rep.Group, Pid: rep.Pid}
	g.table.Put(table.GroupRow{Key: key, Meta: rep.Meta, Time: rep.Time, Node: rep.Pid.Node})
}

// PurgeNode implements scope.StateMachine: drop every row owned by a peer
// node whose scope actor has gone down.
func (g *Groups) PurgeNode(node procid.NodeID) {
	for _, row := range g.table.RowsForNode(node) {
		g.table.Delete(row.Key)
	}
}

// Rebuild implements scope.StateMachine: called once when this scope's
// actor starts, reconciling this node's own membership rows against
// current liveness the same way HandleDown would — monitors from a prior
// actor instance do not survive a restart, only the table might.
func (g *Groups) Rebuild() []scope.Broadcast {
	var broadcasts []scope.Broadcast
	for _, row := range g.table.RowsForNode(g.node) {
		if g.liveness.IsAlive(row.Key.Pid) {
			ref := g.ensureMonitor(row.Key.Pid)
			row.MonitorRef = ref
			row.HasMonitor = true
			g.table.Put(row)
			continue
		}
		g.table.Delete(row.Key)
		broadcasts = append(broadcasts, scope.Broadcast{Envelope: scope.Envelope{
			Version: scope.ProtocolVersion, Kind: scope.KindSyncLeave, From: g.node,
			Body: scope.SyncLeaveBody{Group: row.Key.Group, Pid: row.Key.Pid},
		}})
	}
	return broadcasts
}

// HandleDown implements scope.StateMachine for a locally-monitored pid.
//
// The broadcast of SYNC_LEAVE here is a deliberate departure from a
// groups module that only drops the local rows and relies on peers
// noticing via a dead scope actor: without it, a pid that dies without
// its whole node going down would leave stale membership rows on every
// other node forever. Broadcasting SYNC_LEAVE, symmetric to the
// registry's SYNC_UNREGISTER, is the fix.
func (g *Groups) HandleDown(pid procid.Pid) []scope.Broadcast {
	g.releaseMonitor(pid, false)

	var broadcasts []scope.Broadcast
	for _, row := range g.table.RowsForPid(pid) {
		g.table.Delete(row.Key)
		broadcasts = append(broadcasts, scope.Broadcast{Envelope: scope.Envelope{
			Version: scope.ProtocolVersion, Kind: scope.KindSyncLeave, From: g.node,
			Body: scope.SyncLeaveBody{Group: row.Key.Group, Pid: pid},
		}})
	}
	return broadcasts
}

// GetLocalData implements scope.StateMachine.
func (g *Groups) GetLocalData() []any {
	rows := g.table.RowsForNode(g.node)
	out := make([]any, len(rows))
	for i, row := range rows {
		out[i] = scope.SyncJoinBody{Group: row.Key.Group, Pid: row.Key.Pid, Meta: row.Meta, Time: row.Time}
	}
	return out
}

// SaveRemoteData implements scope.StateMachine.
func (g *Groups) SaveRemoteData(data []any) {
	for _, d := range data {
		body, ok := d.(scope.SyncJoinBody)
		if !ok {
			continue
		}
		g.applySyncJoin(body.Group, body.Pid, body.Meta, body.Time)
	}
}

// Members returns every (Pid, Meta) currently in group.
func (g *Groups) Members(group string) []table.GroupRow {
	return g.table.Members(group)
}

// Count returns the distinct group count, optionally restricted to node.
func (g *Groups) Count(node *procid.NodeID) int {
	return g.table.Count(node)
}
