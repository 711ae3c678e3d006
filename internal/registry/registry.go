// Package registry implements the per-scope registry state machine: a
// unique Name -> Pid mapping, replicated across every node that runs the
// same scope, with owner-node writes, anti-entropy replay, and liveness-
// driven eviction. One Registry instance exists per (node, scope) and
// implements scope.StateMachine so it can be hosted by a scope.Actor.
package registry

import (
	"fmt"

	"procregd/internal/events"
	"procregd/internal/procid"
	"procregd/internal/scope"
	"procregd/internal/table"
)

// Status values returned by register/unregister.
const (
	StatusOK            = "ok"
	StatusTaken         = "taken"
	StatusNotAlive      = "not_alive"
	StatusRaceCondition = "race_condition"
	StatusUndefined     = "undefined"
)

// RegisterRequest is the body of a CALL_REGISTER sent to the owner of Pid.
type RegisterRequest struct {
	Name string
	Pid  procid.Pid
	Meta any
}

// RegisterReply carries enough of the mutation to let the requester mirror
// it locally without a second round trip, alongside the status the public
// API surfaces to its caller.
type RegisterReply struct {
	Status   string
	Name     string
	Pid      procid.Pid
	Meta     any
	PrevPid  procid.Pid
	PrevMeta any
	Time     procid.Time
}

// UnregisterRequest is the body of a CALL_UNREGISTER sent to the owner of
// the name's currently-registered pid.
type UnregisterRequest struct {
	Name string
	Pid  procid.Pid
}

// UnregisterReply mirrors RegisterReply's shape for the unregister path.
type UnregisterReply struct {
	Status string
	Name   string
	Pid    procid.Pid
	Meta   any
}

// Registry is one scope's registry state machine on one node.
type Registry struct {
	node  procid.NodeID
	scope string

	table    *table.RegistryTable
	liveness *procid.Liveness
	clock    *procid.Clock
	dispatch *events.Dispatcher

	forwardDown func(procid.Pid)
	monitors    map[procid.Pid]procid.MonitorRef
}

// New builds a Registry for scopeName on node, backed by t, using liveness
// for monitor installation, clock for timestamps, and dispatch for user
// callbacks.
func New(node procid.NodeID, scopeName string, t *table.RegistryTable, liveness *procid.Liveness, clock *procid.Clock, dispatch *events.Dispatcher) *Registry {
	return &Registry{
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
func (r *Registry) Bind(forwardDown func(procid.Pid)) { r.forwardDown = forwardDown }

// ensureMonitor installs a monitor for pid if one isn't already held,
// coalescing across every name that pid holds in this scope.
func (r *Registry) ensureMonitor(pid procid.Pid) procid.MonitorRef {
	if ref, ok := r.monitors[pid]; ok {
		return ref
	}
	ref := r.liveness.Monitor(pid)
	r.monitors[pid] = ref
	go func() {
		notice := <-ref.Chan()
		r.forwardDown(notice.Pid)
	}()
	return ref
}

// releaseMonitor drops the shared monitor for pid, if one exists.
func (r *Registry) releaseMonitor(pid procid.Pid, flush bool) {
	ref, ok := r.monitors[pid]
	if !ok {
		return
	}
	delete(r.monitors, pid)
	r.liveness.Demonitor(ref, flush)
}

// HandleCall implements scope.StateMachine: owner-node register/unregister.
func (r *Registry) HandleCall(env scope.Envelope, requester procid.NodeID) (any, []scope.Broadcast) {
	switch env.Kind {
	case scope.KindRegisterCall:
		req, _ := env.Body.(RegisterRequest)
		return r.handleRegisterCall(req, requester)
	case scope.KindUnregisterCall:
		req, _ := env.Body.(UnregisterRequest)
		return r.handleUnregisterCall(req, requester)
	default:
		return nil, nil
	}
}

func (r *Registry) handleRegisterCall(req RegisterRequest, requester procid.NodeID) (any, []scope.Broadcast) {
	if !r.liveness.IsAlive(req.Pid) {
		return RegisterReply{Status: StatusNotAlive}, nil
	}

	row, found := r.table.Lookup(req.Name)
	now := r.clock.Now()

	if !found {
		ref := r.ensureMonitor(req.Pid)
		r.table.Put(table.RegistryRow{
			Name: req.Name, Pid: req.Pid, Meta: req.Meta, Time: now,
			MonitorRef: ref, HasMonitor: true, Node: req.Pid.Node,
		})
		r.dispatch.Registered(req.Name, events.Entry{}, events.Entry{Pid: req.Pid, Meta: req.Meta})

		reply := RegisterReply{Status: StatusOK, Name: req.Name, Pid: req.Pid, Meta: req.Meta, Time: now}
		bcast := r.syncRegisterBroadcast(req.Name, req.Pid, req.Meta, now, requester)
		return reply, []scope.Broadcast{bcast}
	}

	if row.Pid == req.Pid {
		prevMeta := row.Meta
		updated := row
		updated.Meta = req.Meta
		updated.Time = now
		r.table.Put(updated)
		r.dispatch.Registered(req.Name, events.Entry{Pid: row.Pid, Meta: prevMeta}, events.Entry{Pid: req.Pid, Meta: req.Meta})

		reply := RegisterReply{Status: StatusOK, Name: req.Name, Pid: req.Pid, Meta: req.Meta, PrevPid: row.Pid, PrevMeta: prevMeta, Time: now}
		// Re-registration is a consistency update: every peer gets it,
		// including the requester (no Exclude).
		bcast := scope.Broadcast{Envelope: scope.Envelope{
			Version: scope.ProtocolVersion, Kind: scope.KindSyncRegister, From: r.node,
			Body: scope.SyncRegisterBody{Scope: r.scope, Name: req.Name, Pid: req.Pid, Meta: req.Meta, Time: now},
		}}
		return reply, []scope.Broadcast{bcast}
	}

	return RegisterReply{Status: StatusTaken}, nil
}

func (r *Registry) syncRegisterBroadcast(name string, pid procid.Pid, meta any, t procid.Time, exclude procid.NodeID) scope.Broadcast {
	return scope.Broadcast{
		Envelope: scope.Envelope{
			Version: scope.ProtocolVersion, Kind: scope.KindSyncRegister, From: r.node,
			Body: scope.SyncRegisterBody{Scope: r.scope, Name: name, Pid: pid, Meta: meta, Time: t},
		},
		Exclude: exclude,
	}
}

func (r *Registry) handleUnregisterCall(req UnregisterRequest, requester procid.NodeID) (any, []scope.Broadcast) {
	row, found := r.table.Lookup(req.Name)
	if !found {
		return UnregisterReply{Status: StatusUndefined}, nil
	}
	if row.Pid != req.Pid {
		return UnregisterReply{Status: StatusRaceCondition}, nil
	}

	if len(r.table.RowsForPid(row.Pid)) <= 1 {
		r.releaseMonitor(row.Pid, true)
	}
	r.table.Delete(req.Name, row.Pid)
	r.dispatch.Unregistered(req.Name, row.Pid, row.Meta)

	reply := UnregisterReply{Status: StatusOK, Name: req.Name, Pid: row.Pid, Meta: row.Meta}
	bcast := scope.Broadcast{
		Envelope: scope.Envelope{
			Version: scope.ProtocolVersion, Kind: scope.KindSyncUnregister, From: r.node,
			Body: scope.SyncUnregisterBody{Name: req.Name, Pid: row.Pid, Meta: row.Meta},
		},
		Exclude: requester,
	}
	return reply, []scope.Broadcast{bcast}
}

// HandleSync implements scope.StateMachine.
func (r *Registry) HandleSync(env scope.Envelope) []scope.Broadcast {
	switch env.Kind {
	case scope.KindSyncRegister:
		body, _ := env.Body.(scope.SyncRegisterBody)
		return r.applySyncRegister(body.Name, body.Pid, body.Meta, body.Time)
	case scope.KindSyncUnregister:
		body, _ := env.Body.(scope.SyncUnregisterBody)
		return r.applySyncUnregister(body.Name, body.Pid, body.Meta)
	default:
		return nil
	}
}

func (r *Registry) applySyncRegister(name string, pid procid.Pid, meta any, t procid.Time) []scope.Broadcast {
	row, found := r.table.Lookup(name)

	if !found {
		r.table.Put(table.RegistryRow{Name: name, Pid: pid, Meta: meta, Time: t, Node: pid.Node})
		r.dispatch.Registered(name, events.Entry{}, events.Entry{Pid: pid, Meta: meta})
		return nil
	}

	if row.Pid == pid {
		prevMeta := row.Meta
		updated := row
		updated.Meta = meta
		updated.Time = t
		r.table.Put(updated)
		r.dispatch.Registered(name, events.Entry{Pid: row.Pid, Meta: prevMeta}, events.Entry{Pid: pid, Meta: meta})
		return nil
	}

	if row.HasMonitor {
		// We own row.Pid: this is a genuine conflict, both sides will
		// observe it independently.
		return r.resolveConflict(name, row, pid, meta, t)
	}

	if row.Time < t {
		r.dispatch.Unregistered(name, row.Pid, row.Meta)
		r.table.Put(table.RegistryRow{Name: name, Pid: pid, Meta: meta, Time: t, Node: pid.Node})
		r.dispatch.Registered(name, events.Entry{}, events.Entry{Pid: pid, Meta: meta})
		return nil
	}

	// Our record is as-new or newer: drop the incoming update.
	return nil
}

func (r *Registry) applySyncUnregister(name string, pid procid.Pid, meta any) []scope.Broadcast {
	r.table.Delete(name, pid)
	r.dispatch.Unregistered(name, pid, meta)
	return nil
}

// MirrorLocal implements scope.StateMachine: the requester-node,
// non-owner application of a successful remote call's result.
func (r *Registry) MirrorLocal(kind scope.Kind, reply any) {
	switch kind {
	case scope.KindRegisterCall:
		rep, ok := reply.(RegisterReply)
		if !ok || rep.Status != StatusOK {
			return
		}
		r.table.Put(table.RegistryRow{Name: rep.Name, Pid: rep.Pid, Meta: rep.Meta, Time: rep.Time, Node: rep.Pid.Node})
	case scope.KindUnregisterCall:
		rep, ok := reply.(UnregisterReply)
		if !ok || rep.Status != StatusOK {
			return
		}
		r.table.Delete(rep.Name, rep.Pid)
	}
}

// PurgeNode implements scope.StateMachine: drop every row owned by a peer
// node whose scope actor has gone down. The deletes run synchronously, on
// the caller's (the actor's single-writer) goroutine; only the resulting
// on_process_unregistered callbacks are dispatched from a separate
// goroutine, so a slow or panicking callback cannot stall the actor's
// mailbox.
func (r *Registry) PurgeNode(node procid.NodeID) {
	rows := r.table.RowsForNode(node)
	for _, row := range rows {
		r.table.Delete(row.Name, row.Pid)
	}
	go func() {
		for _, row := range rows {
			r.dispatch.Unregistered(row.Name, row.Pid, row.Meta)
		}
	}()
}

// Rebuild implements scope.StateMachine: called once when this scope's
// actor starts, before any DISCOVER goes out, to reconcile this node's own
// rows against current liveness — monitors installed by a prior actor
// instance do not survive a restart, only the table (and the pids it
// names) might. Alive pids get a fresh monitor; rows for pids that died
// while no actor was running are evicted the same way HandleDown would
// evict them, including the broadcast so peers converge.
func (r *Registry) Rebuild() []scope.Broadcast {
	var broadcasts []scope.Broadcast
	for _, row := range r.table.RowsForNode(r.node) {
		if r.liveness.IsAlive(row.Pid) {
			ref := r.ensureMonitor(row.Pid)
			row.MonitorRef = ref
			row.HasMonitor = true
			r.table.Put(row)
			continue
		}
		r.table.Delete(row.Name, row.Pid)
		r.dispatch.Unregistered(row.Name, row.Pid, row.Meta)
		broadcasts = append(broadcasts, scope.Broadcast{Envelope: scope.Envelope{
			Version: scope.ProtocolVersion, Kind: scope.KindSyncUnregister, From: r.node,
			Body: scope.SyncUnregisterBody{Name: row.Name, Pid: row.Pid, Meta: row.Meta},
		}})
	}
	return broadcasts
}

// HandleDown implements scope.StateMachine: a locally-monitored pid died.
func (r *Registry) HandleDown(pid procid.Pid) []scope.Broadcast {
	r.releaseMonitor(pid, false)

	var broadcasts []scope.Broadcast
	for _, row := range r.table.RowsForPid(pid) {
		r.table.Delete(row.Name, pid)
		r.dispatch.Unregistered(row.Name, pid, row.Meta)
		broadcasts = append(broadcasts, scope.Broadcast{Envelope: scope.Envelope{
			Version: scope.ProtocolVersion, Kind: scope.KindSyncUnregister, From: r.node,
			Body: scope.SyncUnregisterBody{Name: row.Name, Pid: pid, Meta: row.Meta},
		}})
	}
	return broadcasts
}

// GetLocalData implements scope.StateMachine: the initial snapshot for a
// newly-discovered peer.
func (r *Registry) GetLocalData() []any {
	rows := r.table.RowsForNode(r.node)
	out := make([]any, len(rows))
	for i, row := range rows {
		out[i] = scope.SyncRegisterBody{Scope: r.scope, Name: row.Name, Pid: row.Pid, Meta: row.Meta, Time: row.Time}
	}
	return out
}

// SaveRemoteData implements scope.StateMachine: replay a peer's snapshot
// as a sequence of SYNC_REGISTERs. Any broadcast a conflict during replay
// would trigger is dropped — at snapshot time there is no requester node
// to exclude from it, and the peer that owns the incoming pid will
// independently reach the same conflict via its own SYNC_REGISTER receipt.
func (r *Registry) SaveRemoteData(data []any) {
	for _, d := range data {
		body, ok := d.(scope.SyncRegisterBody)
		if !ok {
			continue
		}
		r.applySyncRegister(body.Name, body.Pid, body.Meta, body.Time)
	}
}

func killReason(name string, meta any) string {
	return fmt.Sprintf("resolve_kill %s %v", name, meta)
}
