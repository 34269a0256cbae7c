// Package agent implements the per-agent lifecycle: idle, paired with a
// teammate on a resource cell, and carrying a unit to the team deposit.
//
// An agent only changes through its own phase methods. Everything it learns
// about the world comes from its sensor cone and its inbox; everything it
// does to teammates goes through messages.
package agent

import (
	"io"
	"log"
	"math/rand"

	"github.com/UngaBanana9000/CPRbai/internal/sim/geom"
	"github.com/UngaBanana9000/CPRbai/internal/sim/grid"
	"github.com/UngaBanana9000/CPRbai/internal/sim/knowledge"
	"github.com/UngaBanana9000/CPRbai/internal/sim/messaging"
)

type Config struct {
	ID      knowledge.ID
	Team    grid.Team
	Pos     geom.Position
	Facing  geom.Orientation
	Deposit geom.Position
	// Seed drives the idle random walk.
	Seed   int64
	Policy messaging.Policy
	Logger *log.Logger
}

type Agent struct {
	id      knowledge.ID
	team    grid.Team
	deposit geom.Position

	pos    geom.Position
	facing geom.Orientation

	state      knowledge.State
	partner    knowledge.ID
	hasPartner bool
	target     geom.Position
	hasTarget  bool
	carrying   bool
	leader     bool
	// committedAt is the stamp of the last transition that involved the
	// partner; partner snapshots at or before it predate the commitment.
	committedAt knowledge.Stamp
	// announced is the last status broadcast to the whole team.
	announced    knowledge.Status
	hasAnnounced bool

	know   *knowledge.Store
	rng    *rand.Rand
	policy messaging.Policy
	log    *log.Logger
}

func New(cfg Config) *Agent {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Agent{
		id:      cfg.ID,
		team:    cfg.Team,
		deposit: cfg.Deposit,
		pos:     cfg.Pos,
		facing:  cfg.Facing,
		state:   knowledge.Idle,
		know:    knowledge.NewStore(cfg.ID),
		rng:     rand.New(rand.NewSource(cfg.Seed ^ int64(cfg.ID)*0x9E3779B1)),
		policy:  cfg.Policy,
		log:     logger,
	}
}

func (a *Agent) ID() knowledge.ID            { return a.id }
func (a *Agent) Team() grid.Team             { return a.team }
func (a *Agent) Pos() geom.Position          { return a.pos }
func (a *Agent) Facing() geom.Orientation    { return a.facing }
func (a *Agent) State() knowledge.State      { return a.state }
func (a *Agent) Carrying() bool              { return a.carrying }
func (a *Agent) Leader() bool                { return a.leader }
func (a *Agent) Deposit() geom.Position      { return a.deposit }
func (a *Agent) Knowledge() *knowledge.Store { return a.know }

func (a *Agent) Partner() (knowledge.ID, bool) { return a.partner, a.hasPartner }
func (a *Agent) Target() (geom.Position, bool) { return a.target, a.hasTarget }

// Status snapshots the agent's true local state.
func (a *Agent) Status(stamp knowledge.Stamp) knowledge.Status {
	return knowledge.Status{
		ID:         a.id,
		Team:       a.team,
		Pos:        a.pos,
		Facing:     a.facing,
		State:      a.state,
		Partner:    a.partner,
		HasPartner: a.hasPartner,
		Target:     a.target,
		HasTarget:  a.hasTarget,
		Carrying:   a.carrying,
		Leader:     a.leader,
		Stamp:      stamp,
	}
}

// Mailbox is the messaging surface an agent needs.
type Mailbox interface {
	Drain(id knowledge.ID) []messaging.Envelope
	Send(env messaging.Envelope) error
	Broadcast(env messaging.Envelope)
}

// Env is what a phase runs against.
type Env struct {
	World grid.World
	Mail  Mailbox
	Stamp knowledge.Stamp
	// Emit receives protocol events; may be nil.
	Emit func(Event)
}

type EventKind string

const (
	EventPair      EventKind = "pair"
	EventPickup    EventKind = "pickup"
	EventDeposit   EventKind = "deposit"
	EventRelease   EventKind = "release"
	EventDrop      EventKind = "drop"
	EventMalformed EventKind = "malformed"
)

type Event struct {
	Kind    EventKind
	Agent   knowledge.ID
	Partner knowledge.ID
	Team    grid.Team
	Pos     geom.Position
	Reason  string
}

func (a *Agent) emit(env Env, kind EventKind, pos geom.Position, reason string) {
	if env.Emit == nil {
		return
	}
	env.Emit(Event{Kind: kind, Agent: a.id, Partner: a.partner, Team: a.team, Pos: pos, Reason: reason})
}

func (a *Agent) commit(partner knowledge.ID, target geom.Position, stamp knowledge.Stamp) {
	a.state = knowledge.Paired
	a.partner = partner
	a.hasPartner = true
	a.target = target
	a.hasTarget = true
	a.carrying = false
	a.leader = a.id < partner
	a.committedAt = stamp
}

func (a *Agent) reset() {
	a.state = knowledge.Idle
	a.partner = 0
	a.hasPartner = false
	a.target = geom.Position{}
	a.hasTarget = false
	a.carrying = false
	a.leader = false
}
