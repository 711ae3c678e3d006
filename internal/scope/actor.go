package scope

import (
	"log"

	"procregd/internal/procid"
)

// internal mailbox kinds, never sent over the wire — they carry events
// the actor must process serially alongside real Envelopes so that every
// mutation to its tables happens from the one event loop.
const (
	kindPeerDown  Kind = "_peer_down"
	kindNodeEvent Kind = "_node_event"
	kindPidDown   Kind = "_pid_down"
	kindMirror    Kind = "_mirror_local"
)

type peerDownBody struct{ Handle Handle }
type nodeEventBody struct{ Event NodeEvent }
type pidDownBody struct{ Pid procid.Pid }

// Actor is the generic scope actor framework: discovery, peer tracking,
// anti-entropy sync and broadcast, hosting a registry or groups
// StateMachine. Its Run loop is a single goroutine draining one channel
// of register/unregister/broadcast-shaped events, the same hub shape
// used elsewhere in this codebase for fanning out to subscribers,
// generalized here from websocket clients to cluster peers.
type Actor struct {
	Scope       string
	ProcessName string // "<handler>_<scope>", e.g. "registry_s1"
	Node        procid.NodeID

	mesh *Mesh
	sm   StateMachine

	inbox Inbox
	peers map[procid.NodeID]Handle

	done chan struct{}
}

// NewActor builds an actor for the given scope and handler kind ("registry"
// or "groups"), hosting sm, wired to mesh. Call Run to start its event
// loop; Run blocks until Stop is called.
func NewActor(node procid.NodeID, scope, handlerKind string, sm StateMachine, mesh *Mesh) *Actor {
	a := &Actor{
		Scope:       scope,
		ProcessName: handlerKind + "_" + scope,
		Node:        node,
		mesh:        mesh,
		sm:          sm,
		inbox:       make(Inbox, 256),
		peers:       make(map[procid.NodeID]Handle),
		done:        make(chan struct{}),
	}
	sm.Bind(a.forwardPidDown)
	return a
}

// Handle returns this actor's own (node, process name) address.
func (a *Actor) Handle() Handle {
	return Handle{Node: a.Node, ID: a.ProcessName}
}

func (a *Actor) forwardPidDown(pid procid.Pid) {
	a.inbox <- Delivery{Envelope: newEnvelope(a.Node, kindPidDown, pidDownBody{Pid: pid})}
}

// Start registers the actor with its mesh, rebuilds monitors/evicts dead
// rows over whatever this node's table already holds, subscribes to node
// events, and sends the initial DISCOVER broadcast to every
// currently-visible peer node. It returns immediately; Run must be called
// (typically in its own goroutine) to actually process the mailbox.
func (a *Actor) Start() {
	a.mesh.Register(a.Handle(), a.inbox)

	// Rebuild runs before peers are known, so its broadcasts (if any) go
	// straight to every currently-visible node's same-named actor rather
	// than through a.peers/broadcastAll, which would silently drop them.
	visible := a.mesh.VisibleNodes()
	for _, b := range a.sm.Rebuild() {
		for _, node := range visible {
			if node == a.Node || node == b.Exclude {
				continue
			}
			if err := a.mesh.Send(Handle{Node: node, ID: a.ProcessName}, b.Envelope); err != nil {
				log.Printf("[scope] %s: rebuild broadcast %s to %s failed: %v", a.ProcessName, b.Envelope.Kind, node, err)
			}
		}
	}

	nodeEvents := a.mesh.SubscribeNodeEvents()
	go func() {
		for ev := range nodeEvents {
			select {
			case a.inbox <- Delivery{Envelope: newEnvelope(a.Node, kindNodeEvent, nodeEventBody{Event: ev})}:
			case <-a.done:
				return
			}
		}
	}()

	for _, node := range visible {
		if node == a.Node {
			continue
		}
		a.sendDiscover(node)
	}
}

// Stop deregisters the actor from its mesh (firing DOWN to anyone
// monitoring it) and halts the Run loop. Calling it again is a no-op.
func (a *Actor) Stop() {
	select {
	case <-a.done:
		return
	default:
	}
	close(a.done)
	a.mesh.Deregister(a.Handle(), "normal")
}

func (a *Actor) sendDiscover(node procid.NodeID) {
	handle := Handle{Node: node, ID: a.ProcessName}
	env := newEnvelope(a.Node, KindDiscover, DiscoverBody{Sender: a.Handle()})
	if err := a.mesh.Send(handle, env); err != nil {
		log.Printf("[scope] %s: DISCOVER to %s failed: %v", a.ProcessName, node, err)
	}
}

// Run processes the mailbox one message at a time until Stop is called.
// This is the single-writer event loop: every mutation to this scope's
// tables happens from this loop, never from a caller goroutine directly.
func (a *Actor) Run() {
	for {
		select {
		case d := <-a.inbox:
			a.handle(d)
		case <-a.done:
			return
		}
	}
}

func (a *Actor) handle(d Delivery) {
	if d.ReplyTo != nil {
		reply, broadcasts := a.sm.HandleCall(d.Envelope, d.Envelope.From)
		d.ReplyTo <- reply
		a.broadcastAll(broadcasts)
		return
	}

	switch d.Envelope.Kind {
	case KindDiscover:
		a.onDiscover(d.Envelope)
	case KindAckSync:
		a.onAckSync(d.Envelope)
	case kindNodeEvent:
		a.onNodeEvent(d.Envelope)
	case kindPeerDown:
		a.onPeerDown(d.Envelope)
	case kindPidDown:
		body := d.Envelope.Body.(pidDownBody)
		a.broadcastAll(a.sm.HandleDown(body.Pid))
	case kindMirror:
		body := d.Envelope.Body.(mirrorBody)
		a.sm.MirrorLocal(body.Kind, body.Reply)
	default:
		a.broadcastAll(a.sm.HandleSync(d.Envelope))
	}
}

// onDiscover records the remote handle (monitoring it if new) and replies
// with ACK_SYNC carrying our local data.
func (a *Actor) onDiscover(env Envelope) {
	body := env.Body.(DiscoverBody)
	a.recordPeer(body.Sender)

	reply := newEnvelope(a.Node, KindAckSync, AckSyncBody{Sender: a.Handle(), Data: a.sm.GetLocalData()})
	if err := a.mesh.Send(body.Sender, reply); err != nil {
		log.Printf("[scope] %s: ACK_SYNC to %s failed: %v", a.ProcessName, body.Sender, err)
	}
}

// onAckSync records the remote handle (monitoring it if new), saves its
// data, and if it was newly discovered replies with our own ACK_SYNC so
// both sides converge even if DISCOVER was lost one way.
func (a *Actor) onAckSync(env Envelope) {
	body := env.Body.(AckSyncBody)
	isNew := a.recordPeer(body.Sender)
	a.sm.SaveRemoteData(body.Data.([]any))

	if isNew {
		reply := newEnvelope(a.Node, KindAckSync, AckSyncBody{Sender: a.Handle(), Data: a.sm.GetLocalData()})
		if err := a.mesh.Send(body.Sender, reply); err != nil {
			log.Printf("[scope] %s: reciprocal ACK_SYNC to %s failed: %v", a.ProcessName, body.Sender, err)
		}
	}
}

// recordPeer adds handle to the peer map and installs a liveness monitor
// on it if it wasn't already known. Returns whether it was new.
func (a *Actor) recordPeer(handle Handle) bool {
	if _, ok := a.peers[handle.Node]; ok {
		return false
	}
	a.peers[handle.Node] = handle
	ch, _ := a.mesh.Monitor(handle)
	go func() {
		notice := <-ch
		select {
		case a.inbox <- Delivery{Envelope: newEnvelope(a.Node, kindPeerDown, peerDownBody{Handle: notice.Pid})}:
		case <-a.done:
		}
	}()
	return true
}

// onNodeEvent reacts to cluster membership changes: on node-up, send
// DISCOVER; on node-down, do nothing — the monitor DOWN on the peer
// actor handle is the authoritative signal.
func (a *Actor) onNodeEvent(env Envelope) {
	body := env.Body.(nodeEventBody)
	if body.Event.Node == a.Node {
		return
	}
	if body.Event.Up {
		a.sendDiscover(body.Event.Node)
	}
}

// onPeerDown handles a monitor DOWN for a peer actor: remove it from
// peers and purge its data. The row deletions happen synchronously here,
// on the actor's own goroutine — PurgeNode is a StateMachine method and
// must run on the single writer like HandleCall/HandleSync do; only the
// resulting user-callback invocations are offloaded so a slow or
// misbehaving callback cannot stall this actor's mailbox. Any other
// DOWN — a registered/joined process monitored for the registry's own
// DOWN handler — never reaches here, those arrive as kindPidDown
// deliveries instead.
func (a *Actor) onPeerDown(env Envelope) {
	body := env.Body.(peerDownBody)
	node := body.Handle.Node
	if peer, ok := a.peers[node]; !ok || peer != body.Handle {
		return
	}
	delete(a.peers, node)
	a.sm.PurgeNode(node)
}

func (a *Actor) broadcastAll(bs []Broadcast) {
	for _, b := range bs {
		a.broadcast(b)
	}
}

// broadcast is the fire-and-forget primitive: send to every peer except
// Exclude, no acknowledgement, no retry.
func (a *Actor) broadcast(b Broadcast) {
	for node, handle := range a.peers {
		if node == b.Exclude {
			continue
		}
		if err := a.mesh.Send(handle, b.Envelope); err != nil {
			log.Printf("[scope] %s: broadcast %s to %s failed: %v", a.ProcessName, b.Envelope.Kind, node, err)
		}
	}
}

// Call issues a synchronous request to the scope actor owning handle and
// returns its reply — the path an API caller takes to reach the node
// that owns a given registration or group.
func (a *Actor) Call(handle Handle, kind Kind, body any) (any, error) {
	return a.mesh.Call(handle, newEnvelope(a.Node, kind, body))
}

// ApplyLocal sends a MirrorLocal request into this actor's own mailbox —
// the read-your-writes path for a remote call's result, applied via the
// mailbox so it still only ever runs in this scope's single writer
// goroutine.
func (a *Actor) ApplyLocal(kind Kind, reply any) {
	a.inbox <- Delivery{Envelope: newEnvelope(a.Node, kindMirror, mirrorBody{Kind: kind, Reply: reply})}
}

type mirrorBody struct {
	Kind  Kind
	Reply any
}
