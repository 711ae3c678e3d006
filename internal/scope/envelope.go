package scope

import "procregd/internal/procid"

// ProtocolVersion tags every inter-node message.
const ProtocolVersion = "3.0"

// Kind is the wire message tag.
type Kind string

const (
	KindDiscover       Kind = "DISCOVER"
	KindAckSync        Kind = "ACK_SYNC"
	KindSyncRegister   Kind = "SYNC_REGISTER"
	KindSyncUnregister Kind = "SYNC_UNREGISTER"
	KindSyncJoin       Kind = "SYNC_JOIN"
	KindSyncLeave      Kind = "SYNC_LEAVE" // symmetric counterpart to SYNC_UNREGISTER, see DESIGN.md

	// KindRegisterCall/KindUnregisterCall/KindJoinCall are synchronous
	// owner-node requests, not broadcast messages — Mesh.Call delivers an
	// Envelope of one of these kinds together with a reply channel,
	// instead of as a fire-and-forget Envelope.
	KindRegisterCall   Kind = "CALL_REGISTER"
	KindUnregisterCall Kind = "CALL_UNREGISTER"
	KindJoinCall       Kind = "CALL_JOIN"
)

// Envelope is one inter-node message.
type Envelope struct {
	Version string
	Kind    Kind
	From    procid.NodeID
	Body    any
}

// DiscoverBody carries the sender's own actor handle.
type DiscoverBody struct {
	Sender Handle
}

// AckSyncBody carries the sender's handle plus its local data snapshot.
type AckSyncBody struct {
	Sender Handle
	Data   any
}

// SyncRegisterBody replicates one registry row: (scope, name, pid, meta,
// time).
type SyncRegisterBody struct {
	Scope string
	Name  string
	Pid   procid.Pid
	Meta  any
	Time  procid.Time
}

// SyncUnregisterBody replicates one registry row removal: (name, pid,
// meta).
type SyncUnregisterBody struct {
	Name string
	Pid  procid.Pid
	Meta any
}

// SyncJoinBody replicates one group membership: (group, pid, meta, time).
type SyncJoinBody struct {
	Group string
	Pid   procid.Pid
	Meta  any
	Time  procid.Time
}

// SyncLeaveBody replicates one group membership removal. It is the
// symmetric counterpart to SyncUnregisterBody for groups — see
// DESIGN.md's note on the groups DOWN handler.
type SyncLeaveBody struct {
	Group string
	Pid   procid.Pid
}

func newEnvelope(from procid.NodeID, kind Kind, body any) Envelope {
	return Envelope{Version: ProtocolVersion, Kind: kind, From: from, Body: body}
}
