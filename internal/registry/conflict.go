package registry

import (
	"procregd/internal/events"
	"procregd/internal/procid"
	"procregd/internal/scope"
	"procregd/internal/table"
)

// resolveConflict implements the owner-of-tableRow.Pid side of a registry
// conflict: both nodes holding a conflicting pid independently observe
// the other's SYNC_REGISTER and both enter this path, so the outcome must
// be deterministic without a cross-node transaction.
func (r *Registry) resolveConflict(name string, tableRow table.RegistryRow, incomingPid procid.Pid, incomingMeta any, incomingTime procid.Time) []scope.Broadcast {
	incoming := events.Conflicting{Pid: incomingPid, Meta: incomingMeta, Time: incomingTime}
	local := events.Conflicting{Pid: tableRow.Pid, Meta: tableRow.Meta, Time: tableRow.Time}
	winner := r.dispatch.ResolveConflict(name, incoming, local)

	switch winner {
	case incomingPid:
		r.releaseMonitor(tableRow.Pid, true)
		r.liveness.Kill(tableRow.Pid, killReason(name, tableRow.Meta))
		r.table.Put(table.RegistryRow{Name: name, Pid: incomingPid, Meta: incomingMeta, Time: incomingTime, Node: incomingPid.Node})
		r.dispatch.Unregistered(name, tableRow.Pid, tableRow.Meta)
		r.dispatch.Registered(name, events.Entry{Pid: tableRow.Pid, Meta: tableRow.Meta}, events.Entry{Pid: incomingPid, Meta: incomingMeta})
		return nil

	case tableRow.Pid:
		now := r.clock.Now()
		updated := tableRow
		updated.Time = now
		r.table.Put(updated)
		return []scope.Broadcast{r.syncRegisterBroadcast(name, tableRow.Pid, tableRow.Meta, now, "")}

	default:
		// Invalid/none: evict the local pid too. The remote side will
		// symmetrically evict incomingPid via the same branch.
		r.releaseMonitor(tableRow.Pid, true)
		r.liveness.Kill(tableRow.Pid, killReason(name, tableRow.Meta))
		r.table.Delete(name, tableRow.Pid)
		r.dispatch.Unregistered(name, tableRow.Pid, tableRow.Meta)
		return nil
	}
}
