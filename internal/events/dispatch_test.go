package events

import (
	"testing"

	"procregd/internal/procid"
)

func TestNilHandlerIsNoOp(t *testing.T) {
	d := New("s1", nil)
	d.Registered("alpha", Entry{}, Entry{Pid: procid.Pid{Node: "a", ID: "1"}})
	d.Unregistered("alpha", procid.Pid{Node: "a", ID: "1"}, nil)
	// must not panic
}

func TestResolveConflictDefaultKeepsTable(t *testing.T) {
	d := New("s1", nil)
	table := Conflicting{Pid: procid.Pid{Node: "a", ID: "1"}}
	incoming := Conflicting{Pid: procid.Pid{Node: "b", ID: "2"}}
	got := d.ResolveConflict("alpha", incoming, table)
	if got != table.Pid {
		t.Fatalf("expected default resolver to keep table pid, got %v", got)
	}
}

func TestResolveConflictPanicFallsBackToDefault(t *testing.T) {
	h := &Handler{
		ResolveConflict: func(scope, name string, incoming, table Conflicting) procid.Pid {
			panic("boom")
		},
	}
	d := New("s1", h)
	table := Conflicting{Pid: procid.Pid{Node: "a", ID: "1"}}
	incoming := Conflicting{Pid: procid.Pid{Node: "b", ID: "2"}}
	got := d.ResolveConflict("alpha", incoming, table)
	if got != table.Pid {
		t.Fatalf("expected fallback to default resolver, got %v", got)
	}
}

func TestOnRegisteredPanicIsSwallowed(t *testing.T) {
	h := &Handler{
		OnRegistered: func(scope, name string, before, after Entry) {
			panic("boom")
		},
	}
	d := New("s1", h)
	d.Registered("alpha", Entry{}, Entry{Pid: procid.Pid{Node: "a", ID: "1"}})
}
