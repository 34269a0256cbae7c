package cycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/UngaBanana9000/CPRbai/internal/protocol"
	"github.com/UngaBanana9000/CPRbai/internal/sim/agent"
	"github.com/UngaBanana9000/CPRbai/internal/sim/geom"
	"github.com/UngaBanana9000/CPRbai/internal/sim/grid"
	"github.com/UngaBanana9000/CPRbai/internal/sim/knowledge"
	"github.com/UngaBanana9000/CPRbai/internal/sim/messaging"
	"github.com/UngaBanana9000/CPRbai/internal/sim/tuning"
	"github.com/UngaBanana9000/CPRbai/internal/sim/worldgen"
)

type spawn struct {
	id     knowledge.ID
	pos    geom.Position
	facing geom.Orientation
}

func newTeamOne(t *testing.T, w, h int, gold map[geom.Position]int, spawns ...spawn) *Orchestrator {
	t.Helper()
	return newTeamOneWith(t, messaging.PolicyLatestPerSender, w, h, gold, spawns...)
}

func newTeamOneWith(t *testing.T, policy messaging.Policy, w, h int, gold map[geom.Position]int, spawns ...spawn) *Orchestrator {
	t.Helper()
	m := grid.NewMap(geom.Bounds{Width: w, Height: h})
	dep := geom.Position{}
	if err := m.SetDeposit(grid.TeamOne, dep); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	for p, q := range gold {
		if err := m.Place(p, q); err != nil {
			t.Fatalf("place: %v", err)
		}
	}
	var agents []*agent.Agent
	for _, s := range spawns {
		agents = append(agents, agent.New(agent.Config{
			ID: s.id, Team: grid.TeamOne, Pos: s.pos, Facing: s.facing, Deposit: dep, Seed: 3, Policy: policy,
		}))
	}
	o, err := New(Config{RunID: "test", Seed: 3}, m, agents)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return o
}

func mustCycle(t *testing.T, o *Orchestrator) protocol.Frame {
	t.Helper()
	f, err := o.RunCycle()
	if err != nil {
		t.Fatalf("cycle %d: %v", o.CurrentCycle(), err)
	}
	return f
}

// checkNoDoubleClaim asserts that no cell has more pairs heading to it
// than units on it.
func checkNoDoubleClaim(t *testing.T, o *Orchestrator) {
	t.Helper()
	claims := map[geom.Position]int{}
	for _, a := range o.Agents() {
		if a.State() != knowledge.Paired || !a.Leader() {
			continue
		}
		if tgt, ok := a.Target(); ok {
			claims[tgt]++
		}
	}
	for pos, n := range claims {
		if q := o.World().ResourceAt(pos); n > q {
			t.Fatalf("cycle %d: %d pairs claim %v holding %d", o.CurrentCycle(), n, pos, q)
		}
	}
}

func countEvents(f protocol.Frame, kind agent.EventKind) int {
	n := 0
	for _, e := range f.Events {
		if e.Kind == string(kind) {
			n++
		}
	}
	return n
}

func TestRunCycle_TwoAgentRoundTrip(t *testing.T) {
	cell := geom.Position{X: 2, Y: 0}
	o := newTeamOne(t, 5, 5, map[geom.Position]int{cell: 1},
		spawn{1, geom.Position{X: 0, Y: 0}, geom.East},
		spawn{2, geom.Position{X: 1, Y: 0}, geom.East},
	)

	pickups, deposits := 0, 0
	sawCarrying := map[int]bool{}
	for i := 0; i < 15; i++ {
		f := mustCycle(t, o)
		pickups += countEvents(f, agent.EventPickup)
		deposits += countEvents(f, agent.EventDeposit)
		for _, af := range f.Agents {
			if af.Carrying {
				sawCarrying[af.ID] = true
			}
		}
		if o.World().ResourceAt(cell) < 0 {
			t.Fatalf("cell below zero at cycle %d", f.Cycle)
		}
		checkNoDoubleClaim(t, o)
	}
	if pickups != 1 || deposits != 1 {
		t.Fatalf("pickups=%d deposits=%d", pickups, deposits)
	}
	if !sawCarrying[1] || !sawCarrying[2] {
		t.Fatalf("both agents should have carried: %v", sawCarrying)
	}
	f, ok := o.LatestFrame()
	if !ok {
		t.Fatalf("no frame published")
	}
	if f.Scores["team1"] != 1 || len(f.Resources) != 0 {
		t.Fatalf("scores=%v resources=%v", f.Scores, f.Resources)
	}
	if len(f.Digest) != 64 {
		t.Fatalf("digest=%q", f.Digest)
	}
}

func TestRunCycle_StackedCellGetsTwoPairs(t *testing.T) {
	cell := geom.Position{X: 0, Y: 2}
	o := newTeamOne(t, 10, 10, map[geom.Position]int{cell: 2},
		spawn{1, geom.Position{}, geom.North},
		spawn{2, geom.Position{}, geom.North},
		spawn{3, geom.Position{}, geom.North},
		spawn{4, geom.Position{}, geom.North},
	)

	f := mustCycle(t, o)
	if countEvents(f, agent.EventPair) != 2 {
		t.Fatalf("pair events=%d want 2", countEvents(f, agent.EventPair))
	}
	leaders := 0
	for _, a := range o.Agents() {
		if a.State() != knowledge.Paired {
			t.Fatalf("agent %d is %v", a.ID(), a.State())
		}
		if tgt, _ := a.Target(); tgt != cell {
			t.Fatalf("agent %d targets %v", a.ID(), tgt)
		}
		if a.Leader() {
			leaders++
		}
	}
	if leaders != 2 {
		t.Fatalf("leaders=%d want 2", leaders)
	}

	pickups := 0
	for i := 0; i < 30; i++ {
		f := mustCycle(t, o)
		pickups += countEvents(f, agent.EventPickup)
		checkNoDoubleClaim(t, o)
	}
	if pickups != 2 {
		t.Fatalf("pickups=%d want 2", pickups)
	}
	if got := o.World().Score(grid.TeamOne); got != 2 {
		t.Fatalf("score=%d want 2", got)
	}
}

// Under the latest policy each drain keeps one gossip message per kind, so
// the pair must settle on notices alone.
func TestRunCycle_LatestPolicyStillDelivers(t *testing.T) {
	cell := geom.Position{X: 2, Y: 0}
	o := newTeamOneWith(t, messaging.PolicyLatest, 5, 5, map[geom.Position]int{cell: 1},
		spawn{1, geom.Position{X: 0, Y: 0}, geom.East},
		spawn{2, geom.Position{X: 1, Y: 0}, geom.East},
		spawn{3, geom.Position{X: 0, Y: 1}, geom.East},
		spawn{4, geom.Position{X: 1, Y: 1}, geom.East},
	)

	busyFor := map[knowledge.ID]int{}
	longest := 0
	for i := 0; i < 100; i++ {
		mustCycle(t, o)
		for _, a := range o.Agents() {
			if a.State() == knowledge.Idle {
				busyFor[a.ID()] = 0
				continue
			}
			busyFor[a.ID()]++
			if busyFor[a.ID()] > longest {
				longest = busyFor[a.ID()]
			}
		}
	}
	if got := o.World().Score(grid.TeamOne); got != 1 {
		t.Fatalf("score=%d want 1", got)
	}
	if o.World().TotalResources() != 0 {
		t.Fatalf("unit still on the map")
	}
	if longest > 30 {
		t.Fatalf("an agent stayed committed for %d cycles", longest)
	}
}

func TestRunCycle_LatestPolicyGeneratedWorldScores(t *testing.T) {
	tu := tuning.Defaults()
	tu.Width, tu.Height = 12, 12
	tu.Gold = 12
	tu.AgentsPerTeam = 4
	tu.Seed = 99
	tu.InboxPolicy = messaging.PolicyLatest.String()
	tu.Normalize()
	m, spawns, err := worldgen.Build(tu)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	o, err := New(Config{RunID: "latest", Seed: tu.Seed}, m, worldgen.Agents(spawns, tu, nil))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	busyFor := map[knowledge.ID]int{}
	for i := 0; i < 400; i++ {
		mustCycle(t, o)
		for _, a := range o.Agents() {
			if a.State() == knowledge.Idle {
				busyFor[a.ID()] = 0
				continue
			}
			busyFor[a.ID()]++
			if busyFor[a.ID()] > 150 {
				t.Fatalf("cycle %d: agent %d committed for %d cycles", o.CurrentCycle(), a.ID(), busyFor[a.ID()])
			}
		}
	}
	total := 0
	for _, s := range o.World().Scores() {
		total += s
	}
	if total == 0 {
		t.Fatalf("nothing delivered in 400 cycles under the latest policy")
	}
}

func TestAbortCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("deposit: %w", grid.ErrUnknownTeam), protocol.ErrUnknownTeam},
		{fmt.Errorf("pickup: %w", grid.ErrInvalidState), protocol.ErrInvalidState},
		{errors.New("boom"), protocol.ErrInternal},
	}
	for _, c := range cases {
		if got := abortCode(c.err); got != c.want {
			t.Fatalf("abortCode(%v)=%s want %s", c.err, got, c.want)
		}
	}
}

func TestRemoveAgent_PartnerRevertsToIdle(t *testing.T) {
	o := newTeamOne(t, 10, 10, map[geom.Position]int{{X: 5, Y: 5}: 1},
		spawn{1, geom.Position{X: 5, Y: 3}, geom.North},
		spawn{2, geom.Position{X: 4, Y: 3}, geom.North},
	)
	mustCycle(t, o)
	a1, _ := o.Agent(1)
	if a1.State() != knowledge.Paired {
		t.Fatalf("expected a pair first, got %v", a1.State())
	}
	if err := o.RemoveAgent(2); err != nil {
		t.Fatalf("remove: %v", err)
	}
	f := mustCycle(t, o)
	if len(f.Agents) != 1 {
		t.Fatalf("roster=%d", len(f.Agents))
	}
	if a1.State() != knowledge.Idle {
		t.Fatalf("partner still %v", a1.State())
	}
	if !a1.Knowledge().Departed(2) {
		t.Fatalf("departure not recorded")
	}
	if countEvents(f, agent.EventRelease) != 1 {
		t.Fatalf("release events=%d", countEvents(f, agent.EventRelease))
	}
}

func TestNew_RejectsTeamWithoutDeposit(t *testing.T) {
	m := grid.NewMap(geom.Bounds{Width: 4, Height: 4})
	a := agent.New(agent.Config{ID: 1, Team: grid.TeamTwo})
	if _, err := New(Config{}, m, []*agent.Agent{a}); !errors.Is(err, grid.ErrUnknownTeam) {
		t.Fatalf("expected ErrUnknownTeam, got %v", err)
	}
}

func generated(t *testing.T) *Orchestrator {
	t.Helper()
	tu := tuning.Defaults()
	tu.Width, tu.Height = 12, 12
	tu.Gold = 12
	tu.AgentsPerTeam = 4
	tu.Seed = 99
	tu.Normalize()
	m, spawns, err := worldgen.Build(tu)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	o, err := New(Config{RunID: "det", Seed: tu.Seed}, m, worldgen.Agents(spawns, tu, nil))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return o
}

func TestRunCycle_DeterministicAndConserving(t *testing.T) {
	a, b := generated(t), generated(t)
	initial := a.World().TotalResources()
	prev := map[grid.Team]int{}
	for i := 0; i < 120; i++ {
		ca, da, err := a.StepOnce(nil)
		if err != nil {
			t.Fatalf("a: %v", err)
		}
		cb, db, err := b.StepOnce(nil)
		if err != nil {
			t.Fatalf("b: %v", err)
		}
		if ca != cb || da != db {
			t.Fatalf("diverged at cycle %d: %s vs %s", ca, da, db)
		}

		scores := a.World().Scores()
		total := 0
		for team, s := range scores {
			if s < prev[team] {
				t.Fatalf("%v score dropped %d -> %d", team, prev[team], s)
			}
			total += s
		}
		prev = scores
		carried := 0
		for _, ag := range a.Agents() {
			if ag.Carrying() && ag.Leader() {
				carried++
			}
		}
		if got := a.World().TotalResources() + total + carried; got > initial {
			t.Fatalf("cycle %d: %d units accounted for, started with %d", ca, got, initial)
		}
	}
}

func TestSubscribe_ReceivesLatestFrame(t *testing.T) {
	o := newTeamOne(t, 5, 5, nil,
		spawn{1, geom.Position{}, geom.North},
		spawn{2, geom.Position{X: 1}, geom.North},
	)
	out := make(chan []byte, 1)
	o.Subscribe("O1", out, Subscription{})
	mustCycle(t, o)
	mustCycle(t, o)

	var f protocol.Frame
	select {
	case b := <-out:
		if err := json.Unmarshal(b, &f); err != nil {
			t.Fatalf("decode: %v", err)
		}
	default:
		t.Fatalf("no frame delivered")
	}
	if f.Cycle != 1 || f.Type != protocol.TypeFrame || len(f.Agents) != 2 {
		t.Fatalf("unexpected frame: %+v", f)
	}

	o.Unsubscribe("O1")
	mustCycle(t, o)
	select {
	case <-out:
		t.Fatalf("frame after unsubscribe")
	default:
	}
}

func TestRun_StopsAfterMaxCycles(t *testing.T) {
	o := newTeamOne(t, 5, 5, nil, spawn{1, geom.Position{}, geom.North}, spawn{2, geom.Position{}, geom.North})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Run(ctx, 7); err != nil {
		t.Fatalf("run: %v", err)
	}
	if o.CurrentCycle() != 7 {
		t.Fatalf("cycles=%d", o.CurrentCycle())
	}
}

func TestRun_HonorsContext(t *testing.T) {
	o := newTeamOne(t, 5, 5, nil, spawn{1, geom.Position{}, geom.North}, spawn{2, geom.Position{}, geom.North})
	o.cfg.CycleRateHz = 1000
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := o.Run(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStateDigest_CoversWorldNotBeliefs(t *testing.T) {
	cell := geom.Position{X: 3, Y: 3}
	o := newTeamOne(t, 6, 6, map[geom.Position]int{cell: 2},
		spawn{1, geom.Position{}, geom.North},
		spawn{2, geom.Position{X: 1}, geom.North},
	)
	before := o.stateDigest(0)

	a1, _ := o.Agent(1)
	a1.Knowledge().Observe(geom.Position{X: 5, Y: 5}, 9)
	if got := o.stateDigest(0); got != before {
		t.Fatalf("belief change moved the digest")
	}

	if _, err := o.World().TakeResource(cell); err != nil {
		t.Fatalf("take: %v", err)
	}
	if got := o.stateDigest(0); got == before {
		t.Fatalf("resource change left the digest unchanged")
	}
}
