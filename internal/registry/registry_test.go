package registry

import (
	"testing"

	"procregd/internal/events"
	"procregd/internal/procid"
	"procregd/internal/scope"
	"procregd/internal/table"
)

func newTestRegistry(t *testing.T, node procid.NodeID, liveness *procid.Liveness, handler *events.Handler) *Registry {
	t.Helper()
	tbl := table.NewRegistry()
	tbl.NewScope("s1")
	return New(node, "s1", tbl.Scope("s1"), liveness, &procid.Clock{}, events.New("s1", handler))
}

func TestRegisterFreshName(t *testing.T) {
	liveness := procid.NewLiveness("a")
	pid := liveness.Spawn()
	r := newTestRegistry(t, "a", liveness, nil)

	reply, bcasts := r.HandleCall(scope.Envelope{Kind: scope.KindRegisterCall, From: "a",
		Body: RegisterRequest{Name: "alpha", Pid: pid, Meta: "m1"}}, "a")

	rep := reply.(RegisterReply)
	if rep.Status != StatusOK {
		t.Fatalf("expected ok, got %s", rep.Status)
	}
	if len(bcasts) != 1 || bcasts[0].Exclude != "a" {
		t.Fatalf("expected one broadcast excluding requester, got %+v", bcasts)
	}

	row, found := r.table.Lookup("alpha")
	if !found || row.Pid != pid || row.Meta != "m1" {
		t.Fatalf("unexpected row: %+v found=%v", row, found)
	}
}

func TestRegisterDeadPidNotAlive(t *testing.T) {
	liveness := procid.NewLiveness("a")
	pid := liveness.Spawn()
	liveness.Kill(pid, "normal")
	r := newTestRegistry(t, "a", liveness, nil)

	reply, _ := r.HandleCall(scope.Envelope{Kind: scope.KindRegisterCall, From: "a",
		Body: RegisterRequest{Name: "alpha", Pid: pid}}, "a")

	if reply.(RegisterReply).Status != StatusNotAlive {
		t.Fatalf("expected not_alive, got %+v", reply)
	}
}

func TestRegisterTaken(t *testing.T) {
	liveness := procid.NewLiveness("a")
	pid1 := liveness.Spawn()
	pid2 := liveness.Spawn()
	r := newTestRegistry(t, "a", liveness, nil)

	r.HandleCall(scope.Envelope{Kind: scope.KindRegisterCall, From: "a", Body: RegisterRequest{Name: "alpha", Pid: pid1}}, "a")
	reply, bcasts := r.HandleCall(scope.Envelope{Kind: scope.KindRegisterCall, From: "a", Body: RegisterRequest{Name: "alpha", Pid: pid2}}, "a")

	if reply.(RegisterReply).Status != StatusTaken {
		t.Fatalf("expected taken, got %+v", reply)
	}
	if bcasts != nil {
		t.Fatalf("taken must not broadcast")
	}
	row, _ := r.table.Lookup("alpha")
	if row.Pid != pid1 {
		t.Fatalf("taken must not mutate table, got %+v", row)
	}
}

func TestUnregisterRoundTrip(t *testing.T) {
	liveness := procid.NewLiveness("a")
	pid := liveness.Spawn()
	r := newTestRegistry(t, "a", liveness, nil)

	r.HandleCall(scope.Envelope{Kind: scope.KindRegisterCall, From: "a", Body: RegisterRequest{Name: "alpha", Pid: pid}}, "a")
	reply, bcasts := r.HandleCall(scope.Envelope{Kind: scope.KindUnregisterCall, From: "a", Body: UnregisterRequest{Name: "alpha", Pid: pid}}, "a")

	if reply.(UnregisterReply).Status != StatusOK {
		t.Fatalf("expected ok, got %+v", reply)
	}
	if len(bcasts) != 1 {
		t.Fatalf("expected one broadcast, got %+v", bcasts)
	}
	if _, found := r.table.Lookup("alpha"); found {
		t.Fatal("expected alpha to be gone after unregister")
	}
	if len(r.monitors) != 0 {
		t.Fatal("expected monitor released after last name removed")
	}
}

func TestUnregisterUndefinedAndRaceCondition(t *testing.T) {
	liveness := procid.NewLiveness("a")
	pid1 := liveness.Spawn()
	pid2 := liveness.Spawn()
	r := newTestRegistry(t, "a", liveness, nil)

	reply, _ := r.HandleCall(scope.Envelope{Kind: scope.KindUnregisterCall, From: "a", Body: UnregisterRequest{Name: "ghost", Pid: pid1}}, "a")
	if reply.(UnregisterReply).Status != StatusUndefined {
		t.Fatalf("expected undefined, got %+v", reply)
	}

	r.HandleCall(scope.Envelope{Kind: scope.KindRegisterCall, From: "a", Body: RegisterRequest{Name: "alpha", Pid: pid1}}, "a")
	reply, _ = r.HandleCall(scope.Envelope{Kind: scope.KindUnregisterCall, From: "a", Body: UnregisterRequest{Name: "alpha", Pid: pid2}}, "a")
	if reply.(UnregisterReply).Status != StatusRaceCondition {
		t.Fatalf("expected race_condition, got %+v", reply)
	}
}

func TestSyncRegisterFreshAndUpdateInPlace(t *testing.T) {
	liveness := procid.NewLiveness("a")
	r := newTestRegistry(t, "a", liveness, nil)
	remotePid := procid.Pid{Node: "b", ID: "1"}

	bcasts := r.HandleSync(scope.Envelope{Kind: scope.KindSyncRegister, From: "b",
		Body: scope.SyncRegisterBody{Name: "alpha", Pid: remotePid, Meta: "m1", Time: 10}})
	if bcasts != nil {
		t.Fatalf("fresh sync register should not rebroadcast")
	}
	row, found := r.table.Lookup("alpha")
	if !found || row.Pid != remotePid || row.HasMonitor {
		t.Fatalf("unexpected row after sync register: %+v found=%v", row, found)
	}

	r.HandleSync(scope.Envelope{Kind: scope.KindSyncRegister, From: "b",
		Body: scope.SyncRegisterBody{Name: "alpha", Pid: remotePid, Meta: "m2", Time: 11}})
	row, _ = r.table.Lookup("alpha")
	if row.Meta != "m2" || row.Time != 11 {
		t.Fatalf("expected in-place update, got %+v", row)
	}
}

func TestSyncRegisterTimestampArbitration(t *testing.T) {
	liveness := procid.NewLiveness("a")
	r := newTestRegistry(t, "a", liveness, nil)
	pidC := procid.Pid{Node: "c", ID: "1"}
	pidD := procid.Pid{Node: "d", ID: "1"}

	r.HandleSync(scope.Envelope{Kind: scope.KindSyncRegister, From: "c",
		Body: scope.SyncRegisterBody{Name: "alpha", Pid: pidC, Meta: "c", Time: 20}})

	// Older incoming timestamp: our record wins, nothing changes.
	r.HandleSync(scope.Envelope{Kind: scope.KindSyncRegister, From: "d",
		Body: scope.SyncRegisterBody{Name: "alpha", Pid: pidD, Meta: "d", Time: 5}})
	row, _ := r.table.Lookup("alpha")
	if row.Pid != pidC {
		t.Fatalf("older incoming update must not override, got %+v", row)
	}

	// Newer incoming timestamp: incoming wins.
	r.HandleSync(scope.Envelope{Kind: scope.KindSyncRegister, From: "d",
		Body: scope.SyncRegisterBody{Name: "alpha", Pid: pidD, Meta: "d", Time: 30}})
	row, _ = r.table.Lookup("alpha")
	if row.Pid != pidD {
		t.Fatalf("newer incoming update must override, got %+v", row)
	}
}

func TestConflictDefaultResolverKeepsLocalAndRebroadcasts(t *testing.T) {
	liveness := procid.NewLiveness("a")
	localPid := liveness.Spawn()
	r := newTestRegistry(t, "a", liveness, nil)
	r.HandleCall(scope.Envelope{Kind: scope.KindRegisterCall, From: "a", Body: RegisterRequest{Name: "alpha", Pid: localPid, Meta: "keepthis"}}, "a")

	remotePid := procid.Pid{Node: "b", ID: "9"}
	bcasts := r.HandleSync(scope.Envelope{Kind: scope.KindSyncRegister, From: "b",
		Body: scope.SyncRegisterBody{Name: "alpha", Pid: remotePid, Meta: "other", Time: 999}})

	if len(bcasts) != 1 {
		t.Fatalf("default resolver keeping local must rebroadcast, got %+v", bcasts)
	}
	row, _ := r.table.Lookup("alpha")
	if row.Pid != localPid || row.Meta != "keepthis" {
		t.Fatalf("expected local pid kept, got %+v", row)
	}
}

func TestConflictCustomResolverPicksIncoming(t *testing.T) {
	liveness := procid.NewLiveness("a")
	localPid := liveness.Spawn()
	handler := &events.Handler{
		ResolveConflict: func(scope, name string, incoming, table events.Conflicting) procid.Pid {
			return incoming.Pid
		},
	}
	r := newTestRegistry(t, "a", liveness, handler)
	r.HandleCall(scope.Envelope{Kind: scope.KindRegisterCall, From: "a", Body: RegisterRequest{Name: "alpha", Pid: localPid}}, "a")

	remotePid := procid.Pid{Node: "b", ID: "9"}
	bcasts := r.HandleSync(scope.Envelope{Kind: scope.KindSyncRegister, From: "b",
		Body: scope.SyncRegisterBody{Name: "alpha", Pid: remotePid, Meta: "other", Time: 999}})

	if bcasts != nil {
		t.Fatalf("picking incoming must not rebroadcast, got %+v", bcasts)
	}
	row, _ := r.table.Lookup("alpha")
	if row.Pid != remotePid {
		t.Fatalf("expected incoming pid to win, got %+v", row)
	}
	if liveness.IsAlive(localPid) {
		t.Fatal("expected evicted local pid to be killed")
	}
}

func TestHandleDownBroadcastsUnregister(t *testing.T) {
	liveness := procid.NewLiveness("a")
	pid := liveness.Spawn()
	r := newTestRegistry(t, "a", liveness, nil)
	r.HandleCall(scope.Envelope{Kind: scope.KindRegisterCall, From: "a", Body: RegisterRequest{Name: "alpha", Pid: pid}}, "a")

	bcasts := r.HandleDown(pid)
	if len(bcasts) != 1 {
		t.Fatalf("expected one broadcast, got %+v", bcasts)
	}
	if _, found := r.table.Lookup("alpha"); found {
		t.Fatal("expected row removed after down")
	}
}

func TestPurgeNodeRemovesOnlyThatNodesRows(t *testing.T) {
	liveness := procid.NewLiveness("a")
	r := newTestRegistry(t, "a", liveness, nil)
	r.HandleSync(scope.Envelope{Kind: scope.KindSyncRegister, From: "b",
		Body: scope.SyncRegisterBody{Name: "alpha", Pid: procid.Pid{Node: "b", ID: "1"}, Time: 1}})
	r.HandleSync(scope.Envelope{Kind: scope.KindSyncRegister, From: "c",
		Body: scope.SyncRegisterBody{Name: "beta", Pid: procid.Pid{Node: "c", ID: "1"}, Time: 1}})

	r.PurgeNode("b")

	if _, found := r.table.Lookup("alpha"); found {
		t.Fatal("expected b's row purged")
	}
	if _, found := r.table.Lookup("beta"); !found {
		t.Fatal("expected c's row untouched")
	}
}

func TestMirrorLocalAppliesSuccessfulRegisterOnly(t *testing.T) {
	liveness := procid.NewLiveness("a")
	r := newTestRegistry(t, "a", liveness, nil)
	remotePid := procid.Pid{Node: "b", ID: "1"}

	r.MirrorLocal(scope.KindRegisterCall, RegisterReply{Status: StatusTaken, Name: "alpha", Pid: remotePid})
	if _, found := r.table.Lookup("alpha"); found {
		t.Fatal("a non-ok reply must not be mirrored")
	}

	r.MirrorLocal(scope.KindRegisterCall, RegisterReply{Status: StatusOK, Name: "alpha", Pid: remotePid, Meta: "m", Time: 5})
	row, found := r.table.Lookup("alpha")
	if !found || row.Pid != remotePid || row.HasMonitor {
		t.Fatalf("expected mirrored row without monitor, got %+v found=%v", row, found)
	}
}

func TestGetLocalDataOnlyLocalRows(t *testing.T) {
	liveness := procid.NewLiveness("a")
	pid := liveness.Spawn()
	r := newTestRegistry(t, "a", liveness, nil)
	r.HandleCall(scope.Envelope{Kind: scope.KindRegisterCall, From: "a", Body: RegisterRequest{Name: "alpha", Pid: pid}}, "a")
	r.HandleSync(scope.Envelope{Kind: scope.KindSyncRegister, From: "b",
		Body: scope.SyncRegisterBody{Name: "beta", Pid: procid.Pid{Node: "b", ID: "1"}, Time: 1}})

	data := r.GetLocalData()
	if len(data) != 1 {
		t.Fatalf("expected only local rows, got %+v", data)
	}
	body := data[0].(scope.SyncRegisterBody)
	if body.Name != "alpha" {
		t.Fatalf("expected alpha, got %+v", body)
	}
}

func TestRebuildReinstallsMonitorsAndEvictsDead(t *testing.T) {
	liveness := procid.NewLiveness("a")
	alivePid := liveness.Spawn()
	deadPid := liveness.Spawn()
	liveness.Kill(deadPid, "normal")

	r := newTestRegistry(t, "a", liveness, nil)
	r.table.Put(table.RegistryRow{Name: "alpha", Pid: alivePid, Time: 1, Node: "a"})
	r.table.Put(table.RegistryRow{Name: "beta", Pid: deadPid, Time: 1, Node: "a"})

	bcasts := r.Rebuild()

	row, found := r.table.Lookup("alpha")
	if !found || !row.HasMonitor {
		t.Fatalf("expected alpha to survive rebuild with a fresh monitor, got %+v found=%v", row, found)
	}
	if _, found := r.table.Lookup("beta"); found {
		t.Fatal("expected beta (dead pid) evicted by rebuild")
	}
	if len(bcasts) != 1 {
		t.Fatalf("expected one SYNC_UNREGISTER for the evicted row, got %d", len(bcasts))
	}
	if bcasts[0].Envelope.Kind != scope.KindSyncUnregister {
		t.Fatalf("expected SYNC_UNREGISTER, got %v", bcasts[0].Envelope.Kind)
	}
}
