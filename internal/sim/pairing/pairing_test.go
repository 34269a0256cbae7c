package pairing

import (
	"testing"

	"github.com/UngaBanana9000/CPRbai/internal/sim/geom"
	"github.com/UngaBanana9000/CPRbai/internal/sim/knowledge"
)

func idle(id knowledge.ID, x, y int, facing geom.Orientation) knowledge.Status {
	return knowledge.Status{ID: id, Pos: geom.Position{X: x, Y: y}, Facing: facing, State: knowledge.Idle}
}

func teamOf(sts ...knowledge.Status) map[knowledge.ID]knowledge.Status {
	out := map[knowledge.ID]knowledge.Status{}
	for _, st := range sts {
		out[st.ID] = st
	}
	return out
}

func TestMatchAll_StackedCellGetsOnePairPerUnit(t *testing.T) {
	cell := geom.Position{X: 5, Y: 5}
	v := View{
		Self:      1,
		Resources: map[geom.Position]int{cell: 2},
		Team: teamOf(
			idle(1, 0, 0, geom.North),
			idle(2, 1, 0, geom.North),
			idle(3, 2, 0, geom.North),
			idle(4, 3, 0, geom.North),
		),
	}
	got := MatchAll(v)
	if len(got) != 2 {
		t.Fatalf("matches=%d want 2: %+v", len(got), got)
	}
	seen := map[knowledge.ID]bool{}
	for _, m := range got {
		if m.Target != cell {
			t.Fatalf("unexpected target %v", m.Target)
		}
		if m.Leader >= m.Partner {
			t.Fatalf("leader %d not lower than partner %d", m.Leader, m.Partner)
		}
		if seen[m.Leader] || seen[m.Partner] {
			t.Fatalf("agent matched twice: %+v", got)
		}
		seen[m.Leader], seen[m.Partner] = true, true
	}
}

func TestMatchAll_ExistingCommitmentsConsumeCapacity(t *testing.T) {
	cell := geom.Position{X: 5, Y: 5}
	committed := knowledge.Status{ID: 7, State: knowledge.Paired, Leader: true, Target: cell, HasTarget: true, Partner: 8, HasPartner: true}
	follower := knowledge.Status{ID: 8, State: knowledge.Paired, Target: cell, HasTarget: true, Partner: 7, HasPartner: true}
	v := View{
		Self:      1,
		Resources: map[geom.Position]int{cell: 1},
		Team:      teamOf(idle(1, 0, 0, geom.North), idle(2, 1, 0, geom.North), committed, follower),
	}
	if got := MatchAll(v); len(got) != 0 {
		t.Fatalf("over-committed cell: %+v", got)
	}
}

func TestPlan_PicksNearestCellAndNearestPartner(t *testing.T) {
	near := geom.Position{X: 2, Y: 0}
	far := geom.Position{X: 10, Y: 10}
	v := View{
		Self:      1,
		Resources: map[geom.Position]int{near: 1, far: 1},
		Team: teamOf(
			idle(1, 0, 0, geom.East),
			idle(2, 9, 9, geom.North),
			idle(3, 3, 0, geom.West),
		),
	}
	m, ok := Plan(v)
	if !ok {
		t.Fatalf("expected a match")
	}
	if m.Target != near || m.Leader != 1 || m.Partner != 3 {
		t.Fatalf("got %+v", m)
	}

	v.Self = 2
	m, ok = Plan(v)
	if ok {
		t.Fatalf("agent 2 should stay unmatched, got %+v", m)
	}
}

func TestPlan_TieBreaksOnLowerID(t *testing.T) {
	cell := geom.Position{X: 2, Y: 2}
	v := View{
		Self:      1,
		Resources: map[geom.Position]int{cell: 1},
		Team: teamOf(
			idle(1, 2, 0, geom.North),
			idle(5, 0, 2, geom.East),
			idle(4, 4, 2, geom.West),
		),
	}
	m, ok := Plan(v)
	if !ok || m.Partner != 4 {
		t.Fatalf("expected partner 4 on equal cost, got %+v ok=%v", m, ok)
	}
}

func TestPlan_NoIdleTeammateAborts(t *testing.T) {
	v := View{
		Self:      1,
		Resources: map[geom.Position]int{{X: 1, Y: 1}: 3},
		Team:      teamOf(idle(1, 0, 0, geom.North)),
	}
	if _, ok := Plan(v); ok {
		t.Fatalf("expected no match without a partner")
	}
}

func TestPlan_IgnoresEmptyBeliefs(t *testing.T) {
	v := View{
		Self:      1,
		Resources: map[geom.Position]int{{X: 1, Y: 1}: 0},
		Team:      teamOf(idle(1, 0, 0, geom.North), idle(2, 0, 1, geom.North)),
	}
	if _, ok := Plan(v); ok {
		t.Fatalf("matched against a depleted cell")
	}
}
