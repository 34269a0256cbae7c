package agent

import (
	"github.com/UngaBanana9000/CPRbai/internal/protocol"
	"github.com/UngaBanana9000/CPRbai/internal/sim/geom"
	"github.com/UngaBanana9000/CPRbai/internal/sim/knowledge"
	"github.com/UngaBanana9000/CPRbai/internal/sim/messaging"
)

// absorb drains the inbox: gossip is merged, then transition notices are
// applied in arrival order, each exactly once.
func (a *Agent) absorb(env Env) {
	batch := messaging.Reduce(env.Mail.Drain(a.id), a.team, a.policy)
	for _, err := range batch.Malformed {
		a.log.Printf("WARN agent %d: %s: %v", a.id, protocol.ErrMalformed, err)
		a.emit(env, EventMalformed, a.pos, err.Error())
	}
	for _, e := range batch.Gossip {
		switch p := e.Payload.(type) {
		case messaging.KnowledgeUpdate:
			a.know.MergeResources(p.Resources)
		case messaging.StatusUpdate:
			a.know.MergeTeam(p.Team)
		}
	}
	for _, e := range batch.Notices {
		if n, ok := e.Payload.(messaging.TransitionNotice); ok {
			a.apply(env, e.From, n)
		}
	}
}

func (a *Agent) apply(env Env, from knowledge.ID, n messaging.TransitionNotice) {
	if n.Status != nil && n.Status.ID == from {
		a.know.Hear(*n.Status)
	}
	switch n.Command {
	case messaging.CmdPair:
		switch {
		case a.state == knowledge.Idle:
			a.commit(from, n.Target, env.Stamp)
		case a.state == knowledge.Paired && a.partner == from:
			// Both picked each other; the lower ID's target stands.
			if from < a.id {
				a.target = n.Target
			}
			a.committedAt = env.Stamp
		default:
			a.log.Printf("agent %d: %s: pair from %d on %v refused, committed to %d", a.id, protocol.ErrStale, from, n.Target, a.partner)
			a.notify(env, from, messaging.CmdRelease, n.Target)
		}

	case messaging.CmdCarry:
		if a.state == knowledge.Paired && a.partner == from {
			a.state = knowledge.Carrying
			a.carrying = true
			a.hasTarget = false
			a.target = geom.Position{}
			a.committedAt = env.Stamp
			return
		}
		a.notify(env, from, messaging.CmdRelease, n.Target)

	case messaging.CmdDeposited:
		if a.state == knowledge.Carrying && a.partner == from {
			a.reset()
		}

	case messaging.CmdRelease:
		if !a.hasPartner || a.partner != from || a.state == knowledge.Idle {
			return
		}
		if a.state == knowledge.Paired && n.Target != a.target {
			return
		}
		if a.state == knowledge.Carrying {
			a.emit(env, EventDrop, a.pos, "partner released")
		} else {
			a.emit(env, EventRelease, a.target, "partner released")
		}
		a.reset()

	case messaging.CmdDeparted:
		a.know.Forget(n.Subject)
		if a.hasPartner && a.partner == n.Subject {
			a.abandon(env, "partner departed")
		}
	}
}

// notify sends a transition notice to one teammate. A missing recipient
// means it left the roster.
func (a *Agent) notify(env Env, to knowledge.ID, cmd messaging.Command, target geom.Position) bool {
	st := a.Status(env.Stamp)
	err := env.Mail.Send(messaging.Envelope{
		From:    a.id,
		To:      to,
		Team:    a.team,
		Stamp:   env.Stamp,
		Payload: messaging.TransitionNotice{Command: cmd, Target: target, Status: &st},
	})
	if err != nil {
		a.log.Printf("agent %d: %s to %d: %v", a.id, cmd, to, err)
		return false
	}
	return true
}

// release breaks the current commitment on both sides. The partner hears
// about it after the local revert so the notice carries the idle status.
func (a *Agent) release(env Env, reason string) {
	partner, hasPartner, target := a.partner, a.hasPartner, a.target
	a.abandon(env, reason)
	if hasPartner {
		a.notify(env, partner, messaging.CmdRelease, target)
	}
}

// abandon reverts to idle locally, dropping the unit when carrying.
func (a *Agent) abandon(env Env, reason string) {
	if a.state == knowledge.Carrying {
		a.emit(env, EventDrop, a.pos, reason)
	} else {
		a.emit(env, EventRelease, a.target, reason)
	}
	a.reset()
}

// publish refreshes the own status entry and gossips the full merged view.
// Gossip may be collapsed by the receiver's inbox policy, so state changes
// are also announced to the team as a notice, and a committed agent sends
// its partner a fresh snapshot every phase.
func (a *Agent) publish(env Env) {
	st := a.Status(env.Stamp)
	a.know.SetSelf(st)
	env.Mail.Broadcast(messaging.Envelope{
		From:    a.id,
		Team:    a.team,
		Stamp:   env.Stamp,
		Payload: messaging.KnowledgeUpdate{Resources: a.know.Resources()},
	})
	env.Mail.Broadcast(messaging.Envelope{
		From:    a.id,
		Team:    a.team,
		Stamp:   env.Stamp,
		Payload: messaging.StatusUpdate{Team: a.know.Team()},
	})
	switch {
	case !a.hasAnnounced || a.announced.Changed(st):
		env.Mail.Broadcast(messaging.Envelope{
			From:    a.id,
			Team:    a.team,
			Stamp:   env.Stamp,
			Payload: messaging.TransitionNotice{Command: messaging.CmdStatus, Status: &st},
		})
		a.announced, a.hasAnnounced = st, true
	case a.hasPartner:
		a.notify(env, a.partner, messaging.CmdStatus, a.target)
	}
}
