package table

import (
	"testing"

	"procregd/internal/procid"
)

func TestRegistryCrossIndexConsistency(t *testing.T) {
	r := NewRegistry()
	r.NewScope("s1")
	tbl := r.Scope("s1")

	pid := procid.Pid{Node: "a", ID: "1"}
	tbl.Put(RegistryRow{Name: "alpha", Pid: pid, Node: "a"})

	if _, ok := tbl.Lookup("alpha"); !ok {
		t.Fatal("expected alpha in by-name")
	}
	if rows := tbl.RowsForPid(pid); len(rows) != 1 {
		t.Fatalf("expected 1 row for pid, got %d", len(rows))
	}

	tbl.Delete("alpha", pid)
	if _, ok := tbl.Lookup("alpha"); ok {
		t.Fatal("expected alpha removed from by-name")
	}
	if rows := tbl.RowsForPid(pid); len(rows) != 0 {
		t.Fatalf("expected 0 rows for pid after delete, got %d", len(rows))
	}
}

func TestRegistryPutReassignsPidIndex(t *testing.T) {
	tblContainer := NewRegistry()
	tblContainer.NewScope("s1")
	tbl := tblContainer.Scope("s1")

	p1 := procid.Pid{Node: "a", ID: "1"}
	p2 := procid.Pid{Node: "a", ID: "2"}

	tbl.Put(RegistryRow{Name: "alpha", Pid: p1, Node: "a"})
	tbl.Put(RegistryRow{Name: "alpha", Pid: p2, Node: "a"}) // conflict resolution overwrite

	if rows := tbl.RowsForPid(p1); len(rows) != 0 {
		t.Fatalf("expected p1 fully evicted from by-pid, got %d rows", len(rows))
	}
	if rows := tbl.RowsForPid(p2); len(rows) != 1 {
		t.Fatalf("expected p2 to own alpha, got %d rows", len(rows))
	}
}

func TestInvalidScopePanics(t *testing.T) {
	r := NewRegistry()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unknown scope")
		}
	}()
	r.Scope("nope")
}

func TestGroupsMembersAndCount(t *testing.T) {
	g := NewGroups()
	g.NewScope("s1")
	tbl := g.Scope("s1")

	pa := procid.Pid{Node: "a", ID: "1"}
	pb := procid.Pid{Node: "b", ID: "2"}
	tbl.Put(GroupRow{Key: GroupKey{Group: "g", Pid: pa}, Node: "a"})
	tbl.Put(GroupRow{Key: GroupKey{Group: "g", Pid: pb}, Node: "b"})

	members := tbl.Members("g")
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}

	if n := tbl.Count(nil); n != 1 {
		t.Fatalf("expected 1 distinct group, got %d", n)
	}

	tbl.Delete(GroupKey{Group: "g", Pid: pa})
	if rows := tbl.RowsForPid(pa); len(rows) != 0 {
		t.Fatalf("expected pa's rows gone, got %d", len(rows))
	}
	if members := tbl.Members("g"); len(members) != 1 {
		t.Fatalf("expected 1 member left, got %d", len(members))
	}
}

func TestGroupsRowsForNode(t *testing.T) {
	g := NewGroups()
	g.NewScope("s1")
	tbl := g.Scope("s1")
	pa := procid.Pid{Node: "a", ID: "1"}
	pb := procid.Pid{Node: "b", ID: "2"}
	tbl.Put(GroupRow{Key: GroupKey{Group: "g", Pid: pa}, Node: "a"})
	tbl.Put(GroupRow{Key: GroupKey{Group: "g", Pid: pb}, Node: "b"})

	rows := tbl.RowsForNode("b")
	if len(rows) != 1 || rows[0].Node != "b" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}
