package knowledge

import (
	"reflect"
	"testing"

	"github.com/UngaBanana9000/CPRbai/internal/sim/geom"
)

func TestMergeResources_KeepsMinimum(t *testing.T) {
	s := NewStore(1)
	a := geom.Position{X: 1, Y: 1}
	b := geom.Position{X: 2, Y: 2}
	s.Observe(a, 3)
	s.MergeResources(map[geom.Position]int{a: 5, b: 2})
	if q, _ := s.Known(a); q != 3 {
		t.Fatalf("a=%d want 3", q)
	}
	s.MergeResources(map[geom.Position]int{a: 1})
	if q, _ := s.Known(a); q != 1 {
		t.Fatalf("a=%d want 1", q)
	}
	if q, ok := s.Known(b); !ok || q != 2 {
		t.Fatalf("b=%d ok=%v want 2", q, ok)
	}
}

func TestObserve_ZeroIsTombstone(t *testing.T) {
	s := NewStore(1)
	p := geom.Position{X: 4, Y: 0}
	s.Observe(p, 0)
	s.MergeResources(map[geom.Position]int{p: 2})
	if q, ok := s.Known(p); !ok || q != 0 {
		t.Fatalf("stale gossip resurrected cell: q=%d ok=%v", q, ok)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	res := map[geom.Position]int{{X: 1}: 2, {Y: 3}: 1}
	team := map[ID]Status{
		2: {ID: 2, State: Paired, Partner: 3, HasPartner: true, Stamp: 7},
		3: {ID: 3, State: Paired, Partner: 2, HasPartner: true, Stamp: 7},
	}

	once := NewStore(1)
	once.MergeResources(res)
	once.MergeTeam(team)

	twice := NewStore(1)
	twice.MergeResources(res)
	twice.MergeTeam(team)
	twice.MergeResources(res)
	twice.MergeTeam(team)

	if !reflect.DeepEqual(once.Resources(), twice.Resources()) {
		t.Fatalf("resources differ: %v vs %v", once.Resources(), twice.Resources())
	}
	if !reflect.DeepEqual(once.Team(), twice.Team()) {
		t.Fatalf("team differs: %v vs %v", once.Team(), twice.Team())
	}
}

func TestMergeTeam_NeverOverwritesSelfAndPrefersNewer(t *testing.T) {
	s := NewStore(1)
	s.SetSelf(Status{State: Carrying, Stamp: 4})
	s.MergeTeam(map[ID]Status{
		1: {ID: 1, State: Idle, Stamp: 99},
		2: {ID: 2, State: Paired, Stamp: 5},
	})
	if st, _ := s.Status(1); st.State != Carrying {
		t.Fatalf("self entry overwritten: %v", st.State)
	}
	s.MergeTeam(map[ID]Status{2: {ID: 2, State: Idle, Stamp: 3}})
	if st, _ := s.Status(2); st.State != Paired {
		t.Fatalf("older snapshot replaced newer: %v", st.State)
	}
	s.MergeTeam(map[ID]Status{2: {ID: 2, State: Carrying, Stamp: 6}})
	if st, _ := s.Status(2); st.State != Carrying {
		t.Fatalf("newer snapshot ignored: %v", st.State)
	}
}

func TestForget_KeepsDepartedOut(t *testing.T) {
	s := NewStore(1)
	s.MergeTeam(map[ID]Status{2: {ID: 2, Stamp: 1}})
	s.Forget(2)
	s.MergeTeam(map[ID]Status{2: {ID: 2, Stamp: 10}})
	if _, ok := s.Status(2); ok {
		t.Fatalf("departed agent re-added by gossip")
	}
	if !s.Departed(2) {
		t.Fatalf("expected departed flag")
	}
}

func TestHear_DirectSnapshotWinsOnEqualStamp(t *testing.T) {
	s := NewStore(1)
	relayed := Status{ID: 2, State: Paired, Partner: 3, HasPartner: true, Stamp: 7}
	s.MergeTeam(map[ID]Status{2: relayed})

	direct := Status{ID: 2, State: Idle, Stamp: 7}
	s.Hear(direct)
	if st, _ := s.Status(2); st.State != Idle {
		t.Fatalf("direct snapshot lost to relayed gossip: %+v", st)
	}
	s.Hear(Status{ID: 2, State: Carrying, Stamp: 4})
	if st, _ := s.Status(2); st.State != Idle {
		t.Fatalf("older snapshot applied: %+v", st)
	}

	s.Hear(Status{ID: 1, State: Carrying, Stamp: 9})
	if _, ok := s.Status(1); ok {
		t.Fatalf("own entry written by Hear")
	}
	s.Forget(2)
	s.Hear(Status{ID: 2, Stamp: 10})
	if _, ok := s.Status(2); ok {
		t.Fatalf("departed teammate resurrected")
	}
}

func TestStatusChanged_IgnoresMovement(t *testing.T) {
	a := Status{ID: 2, State: Paired, Partner: 1, HasPartner: true, Stamp: 3}
	b := a
	b.Pos = geom.Position{X: 4, Y: 4}
	b.Stamp = 6
	if a.Changed(b) {
		t.Fatalf("movement reported as a change")
	}
	b.State = Carrying
	if !a.Changed(b) {
		t.Fatalf("state change not reported")
	}
}
