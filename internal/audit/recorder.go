package audit

import (
	"procregd/internal/events"
	"procregd/internal/procid"
)

// Recorder trails every lifecycle callback to the buffered SQLite chain
// and, if lineLog is non-nil, to a parallel JSON-lines file. It never
// participates in the registry's own decisions — Wrap only observes.
type Recorder struct {
	node    procid.NodeID
	buffer  *BufferedLogger
	lineLog *Logger
	now     func() int64
}

// NewRecorder builds a Recorder for node. buffer must not be nil; lineLog
// may be nil to skip the JSON-lines tail.
func NewRecorder(node procid.NodeID, buffer *BufferedLogger, lineLog *Logger, now func() int64) *Recorder {
	return &Recorder{node: node, buffer: buffer, lineLog: lineLog, now: now}
}

// Wrap returns a new *events.Handler that calls through to inner (which
// may be nil) and then records the event. Install the wrapped handler in
// place of inner when bringing up a scope.
func (r *Recorder) Wrap(inner *events.Handler) *events.Handler {
	var onRegistered func(scope, name string, before, after events.Entry)
	var onUnregistered func(scope, name string, pid procid.Pid, meta any)
	var resolveConflict func(scope, name string, incoming, table events.Conflicting) procid.Pid

	if inner != nil {
		onRegistered = inner.OnRegistered
		onUnregistered = inner.OnUnregistered
		resolveConflict = inner.ResolveConflict
	}

	return &events.Handler{
		OnRegistered: func(scope, name string, before, after events.Entry) {
			if onRegistered != nil {
				onRegistered(scope, name, before, after)
			}
			action := "register"
			if !before.Pid.IsZero() {
				action = "reregister"
			}
			r.record(Event{
				Timestamp: r.now(), Node: string(r.node), Scope: scope,
				Action: action, Name: name, Pid: after.Pid.String(), Success: true,
			})
		},
		OnUnregistered: func(scope, name string, pid procid.Pid, meta any) {
			if onUnregistered != nil {
				onUnregistered(scope, name, pid, meta)
			}
			r.record(Event{
				Timestamp: r.now(), Node: string(r.node), Scope: scope,
				Action: "unregister", Name: name, Pid: pid.String(), Success: true,
			})
		},
		ResolveConflict: func(scope, name string, incoming, table events.Conflicting) procid.Pid {
			var winner procid.Pid
			if resolveConflict != nil {
				winner = resolveConflict(scope, name, incoming, table)
			} else {
				winner = events.DefaultResolver(scope, name, incoming, table)
			}
			r.record(Event{
				Timestamp: r.now(), Node: string(r.node), Scope: scope,
				Action: "conflict_resolved", Name: name, Pid: winner.String(),
				Details: "incoming=" + incoming.Pid.String() + " table=" + table.Pid.String(),
				Success: true,
			})
			return winner
		},
	}
}

func (r *Recorder) record(e Event) {
	if r.buffer != nil {
		_ = r.buffer.Log(e)
	}
	if r.lineLog != nil {
		_ = r.lineLog.Log(LogLine{
			Level: LevelInfo, Node: e.Node, Scope: e.Scope,
			Action: e.Action, Name: e.Name, Pid: e.Pid, Success: e.Success, Error: e.Details,
		})
	}
}
