package agent

import (
	"fmt"
	"sort"

	"github.com/UngaBanana9000/CPRbai/internal/sim/geom"
	"github.com/UngaBanana9000/CPRbai/internal/sim/knowledge"
	"github.com/UngaBanana9000/CPRbai/internal/sim/messaging"
	"github.com/UngaBanana9000/CPRbai/internal/sim/pairing"
	"github.com/UngaBanana9000/CPRbai/internal/sim/perception"
)

// Start drains the inbox, senses the cone ahead and gossips.
func (a *Agent) Start(env Env) {
	a.absorb(env)
	for _, p := range perception.Sense(a.pos, a.facing, env.World.Bounds()) {
		a.know.Observe(p, env.World.ResourceAt(p))
	}
	a.publish(env)
}

// Decide drains the inbox and picks or re-validates a commitment.
func (a *Agent) Decide(env Env) {
	a.absorb(env)
	switch a.state {
	case knowledge.Idle:
		a.choose(env)
	case knowledge.Paired:
		a.recheckCommitment(env)
	case knowledge.Carrying:
		a.recheckCarry(env)
	}
	a.publish(env)
}

// Act drains the inbox and moves one step. Pickups and deposits happen
// here, performed by the leader only. A rejected world mutation is returned.
func (a *Agent) Act(env Env) error {
	a.absorb(env)
	var err error
	switch a.state {
	case knowledge.Idle:
		a.wander(env.World.Bounds())
	case knowledge.Paired:
		a.moveTogether(a.target, env.World.Bounds())
		if a.pos == a.target {
			err = a.atTarget(env)
		}
	case knowledge.Carrying:
		a.moveTogether(a.deposit, env.World.Bounds())
		if a.leader && a.pos == a.deposit {
			err = a.tryDeposit(env)
		}
	}
	a.publish(env)
	return err
}

func (a *Agent) view() pairing.View {
	return pairing.View{Self: a.id, Resources: a.know.Resources(), Team: a.know.Team()}
}

func (a *Agent) choose(env Env) {
	m, ok := pairing.Plan(a.view())
	if !ok || m.Leader != a.id {
		// The partner side waits for the leader's pair notice.
		return
	}
	a.commit(m.Partner, m.Target, env.Stamp)
	if !a.notify(env, m.Partner, messaging.CmdPair, m.Target) {
		a.know.Forget(m.Partner)
		a.reset()
		return
	}
	// Until the partner speaks for itself, gossip shows it taken.
	if st, ok := a.know.Status(m.Partner); ok {
		st.State = knowledge.Paired
		st.Partner, st.HasPartner = a.id, true
		st.Target, st.HasTarget = m.Target, true
		st.Carrying, st.Leader = false, false
		st.Stamp = env.Stamp
		a.know.MergeTeam(map[knowledge.ID]knowledge.Status{m.Partner: st})
	}
	a.log.Printf("agent %d: paired with %d on %v", a.id, m.Partner, m.Target)
	a.emit(env, EventPair, m.Target, "")
}

// partnerStatus returns the last known partner snapshot, reporting false
// when the partner is gone from the view.
func (a *Agent) partnerStatus() (knowledge.Status, bool) {
	if !a.hasPartner || a.know.Departed(a.partner) {
		return knowledge.Status{}, false
	}
	return a.know.Status(a.partner)
}

func (a *Agent) recheckCommitment(env Env) {
	st, ok := a.partnerStatus()
	if !ok {
		a.release(env, "partner unreachable")
		return
	}
	if st.Stamp > a.committedAt && (!st.PairedWith(a.id) || st.State != knowledge.Paired || st.Target != a.target) {
		a.release(env, "partner disagrees")
		return
	}
	qty, known := a.know.Known(a.target)
	if !known {
		// A follower may never have seen the cell; the leader's view stands.
		return
	}
	if qty <= 0 {
		a.release(env, "target exhausted")
		return
	}
	if a.rank() >= qty {
		a.release(env, "target over-committed")
	}
}

// rank orders this pair among all pairs the view shows on the same target.
// Pairs are ranked by leader ID; only the first qty keep their claim.
func (a *Agent) rank() int {
	mine := a.id
	if !a.leader {
		mine = a.partner
	}
	leaders := []knowledge.ID{mine}
	for id, st := range a.know.Team() {
		if id == a.id || id == a.partner {
			continue
		}
		if st.State == knowledge.Paired && st.Leader && st.HasTarget && st.Target == a.target {
			leaders = append(leaders, id)
		}
	}
	sort.Slice(leaders, func(i, j int) bool { return leaders[i] < leaders[j] })
	for i, id := range leaders {
		if id == mine {
			return i
		}
	}
	return len(leaders)
}

func (a *Agent) recheckCarry(env Env) {
	st, ok := a.partnerStatus()
	if !ok {
		a.abandon(env, "partner unreachable")
		return
	}
	if st.Stamp > a.committedAt && (!st.PairedWith(a.id) || st.State != knowledge.Carrying) {
		a.release(env, "partner not carrying")
	}
}

// atTarget handles a paired agent standing on its target cell.
func (a *Agent) atTarget(env Env) error {
	qty := env.World.ResourceAt(a.target)
	a.know.Observe(a.target, qty)
	if !a.leader {
		// The leader acts earlier in the phase and may have just taken
		// the unit; its carry notice settles it.
		return nil
	}
	if qty == 0 {
		a.release(env, "target exhausted")
		return nil
	}
	st, ok := a.partnerStatus()
	if !ok || st.Pos != a.target || !st.PairedWith(a.id) || st.State != knowledge.Paired || st.Target != a.target {
		return nil
	}
	left, err := env.World.TakeResource(a.target)
	if err != nil {
		return fmt.Errorf("agent %d pickup at %v: %w", a.id, a.target, err)
	}
	a.know.Observe(a.target, left)
	pickup := a.target
	a.state = knowledge.Carrying
	a.carrying = true
	a.hasTarget = false
	a.target = geom.Position{}
	a.committedAt = env.Stamp
	a.emit(env, EventPickup, pickup, "")
	if !a.notify(env, a.partner, messaging.CmdCarry, pickup) {
		a.abandon(env, "partner unreachable")
	}
	return nil
}

// tryDeposit scores once both carriers stand on the deposit.
func (a *Agent) tryDeposit(env Env) error {
	st, ok := a.partnerStatus()
	if !ok || st.Pos != a.deposit || !st.PairedWith(a.id) || st.State != knowledge.Carrying {
		return nil
	}
	if err := env.World.RecordScore(a.team); err != nil {
		return fmt.Errorf("agent %d deposit for %v: %w", a.id, a.team, err)
	}
	a.emit(env, EventDeposit, a.deposit, "")
	partner := a.partner
	a.reset()
	a.notify(env, partner, messaging.CmdDeposited, a.deposit)
	return nil
}
