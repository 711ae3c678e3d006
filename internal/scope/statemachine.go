package scope

import "procregd/internal/procid"

// Broadcast is one outbound fire-and-forget message a StateMachine asks
// its hosting Actor to send to peers, optionally excluding one node (the
// node that originated the request being replicated, so it doesn't
// receive its own write back as a sync message).
type Broadcast struct {
	Envelope Envelope
	Exclude  procid.NodeID // zero value: no exclusion
}

// StateMachine is what a registry or groups scope exposes to the Actor
// hosting it. Registry and Groups each implement one instance of this per
// scope; the Actor itself is the same generic event loop for both — local
// API calls and remote sync messages have the identical shape regardless
// of which domain they carry.
type StateMachine interface {
	// Bind wires the forwarder the state machine must call whenever a
	// locally-monitored pid goes DOWN, so the notice is funneled back
	// through the actor's single mailbox instead of racing its writes.
	Bind(forwardDown func(procid.Pid))

	// GetLocalData returns this node's own rows for the initial
	// DISCOVER/ACK_SYNC snapshot exchange.
	GetLocalData() []any

	// SaveRemoteData replays each element of data as though it were
	// individually received via the corresponding SYNC message.
	SaveRemoteData(data []any)

	// HandleSync applies one broadcast SYNC_* envelope and returns any
	// further broadcasts it triggers (e.g. a conflict resolver that
	// keeps the table pid must rebroadcast with a fresh Time).
	HandleSync(env Envelope) []Broadcast

	// HandleCall applies one synchronous owner-node request
	// (register/unregister/join) issued by requester, returning the
	// reply value for the caller and any broadcasts the mutation
	// triggers.
	HandleCall(env Envelope, requester procid.NodeID) (reply any, broadcasts []Broadcast)

	// MirrorLocal applies a successful remote call's result to this
	// node's own tables without installing a monitor and without
	// invoking lifecycle callbacks — the one path where a non-owner
	// mutates its tables directly, to give the caller read-your-writes
	// visibility without waiting on the replicated sync message.
	MirrorLocal(kind Kind, reply any)

	// PurgeNode drops every row owned by node, synchronously, on the
	// actor's own goroutine. The registry also fires the unregister
	// callback for each from a separate goroutine so a slow or panicking
	// callback cannot stall the mailbox; groups fire no callbacks.
	PurgeNode(node procid.NodeID)

	// HandleDown applies the DOWN handler for a locally-monitored pid
	// and returns any broadcasts it triggers.
	HandleDown(pid procid.Pid) []Broadcast

	// Rebuild re-establishes liveness monitors for every locally-owned
	// row still alive, and evicts (with the usual broadcast, plus the
	// unregister callback in the registry) every locally-owned row whose
	// pid has already died —
	// called once, synchronously, when the actor starts over a table
	// that may already hold this node's rows from before a restart.
	Rebuild() []Broadcast
}
