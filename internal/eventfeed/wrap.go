package eventfeed

import (
	"procregd/internal/events"
	"procregd/internal/procid"
)

// Wrap returns a new *events.Handler that calls through to inner (which
// may be nil) and then emits the event on the hub.
func (h *Hub) Wrap(inner *events.Handler) *events.Handler {
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
			h.Emit("registered", scope, name, map[string]any{
				"pid": after.Pid.String(), "meta": after.Meta,
			})
		},
		OnUnregistered: func(scope, name string, pid procid.Pid, meta any) {
			if onUnregistered != nil {
				onUnregistered(scope, name, pid, meta)
			}
			h.Emit("unregistered", scope, name, map[string]any{
				"pid": pid.String(), "meta": meta,
			})
		},
		ResolveConflict: func(scope, name string, incoming, table events.Conflicting) procid.Pid {
			var winner procid.Pid
			if resolveConflict != nil {
				winner = resolveConflict(scope, name, incoming, table)
			} else {
				winner = events.DefaultResolver(scope, name, incoming, table)
			}
			h.Emit("conflict_resolved", scope, name, map[string]any{
				"incoming": incoming.Pid.String(),
				"table":    table.Pid.String(),
				"winner":   winner.String(),
			})
			return winner
		},
	}
}
