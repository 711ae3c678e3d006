// Package procid defines the cluster's process identity primitives: a
// cluster-unique Pid scoped to the node that minted it, and the per-node
// liveness subscription service the rest of the registry builds on.
package procid

import (
	"fmt"

	"github.com/google/uuid"
)

// NodeID names a cluster node. Every Pid embeds the NodeID of the node
// that spawned it, so liveness can only ever be observed by that node.
type NodeID string

// Pid is an opaque, cluster-unique process handle. It is a comparable
// struct so it can be used directly as a map key in the by-pid tables.
type Pid struct {
	Node NodeID
	ID   string
}

// String renders a Pid the way log lines and audit rows expect it.
func (p Pid) String() string {
	return fmt.Sprintf("<%s.%s>", p.Node, p.ID)
}

// IsZero reports whether p is the zero Pid, used as the "no prior entry"
// sentinel in event-handler callbacks.
func (p Pid) IsZero() bool {
	return p.Node == "" && p.ID == ""
}

// New mints a fresh, cluster-unique Pid owned by node. Callers needing a
// process to register must first obtain one of these from a Liveness
// table so the registry can monitor it.
func New(node NodeID) Pid {
	return Pid{Node: node, ID: uuid.NewString()}
}
