package messaging

import (
	"errors"
	"fmt"
	"sort"

	"github.com/UngaBanana9000/CPRbai/internal/sim/grid"
	"github.com/UngaBanana9000/CPRbai/internal/sim/knowledge"
)

var ErrUnknownRecipient = errors.New("unknown recipient")

// Bus holds one append-only inbox per agent. Messages sent during a phase
// are parked until Deliver is called at the phase boundary, so no agent
// sees a message in the same phase it was sent.
type Bus struct {
	members map[knowledge.ID]grid.Team
	pending map[knowledge.ID][]Envelope
	inbox   map[knowledge.ID][]Envelope

	stats Stats
}

// Stats counts traffic since the bus was created.
type Stats struct {
	Sent      uint64
	Delivered uint64
	ByKind    map[Kind]uint64
}

func NewBus() *Bus {
	return &Bus{
		members: map[knowledge.ID]grid.Team{},
		pending: map[knowledge.ID][]Envelope{},
		inbox:   map[knowledge.ID][]Envelope{},
		stats:   Stats{ByKind: map[Kind]uint64{}},
	}
}

func (b *Bus) Register(id knowledge.ID, team grid.Team) error {
	if _, ok := b.members[id]; ok {
		return fmt.Errorf("register %d: already a member", id)
	}
	b.members[id] = team
	return nil
}

// Remove drops id and anything queued for it.
func (b *Bus) Remove(id knowledge.ID) {
	delete(b.members, id)
	delete(b.pending, id)
	delete(b.inbox, id)
}

func (b *Bus) TeamOf(id knowledge.ID) (grid.Team, bool) {
	t, ok := b.members[id]
	return t, ok
}

// Members lists the agents of team in ascending ID order.
func (b *Bus) Members(team grid.Team) []knowledge.ID {
	out := make([]knowledge.ID, 0, len(b.members))
	for id, t := range b.members {
		if t == team {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Send queues a point-to-point message.
func (b *Bus) Send(env Envelope) error {
	if _, ok := b.members[env.To]; !ok {
		return fmt.Errorf("send %s to %d: %w", kindOf(env), env.To, ErrUnknownRecipient)
	}
	b.enqueue(env.To, env)
	return nil
}

// Broadcast queues env for every member of env.Team except the sender.
func (b *Bus) Broadcast(env Envelope) {
	for _, id := range b.Members(env.Team) {
		if id == env.From {
			continue
		}
		e := env
		e.To = id
		b.enqueue(id, e)
	}
}

func (b *Bus) enqueue(to knowledge.ID, env Envelope) {
	b.pending[to] = append(b.pending[to], env)
	b.stats.Sent++
	b.stats.ByKind[kindOf(env)]++
}

// Deliver moves everything sent so far into the recipients' inboxes,
// keeping per-sender send order.
func (b *Bus) Deliver() {
	for id, envs := range b.pending {
		if len(envs) == 0 {
			continue
		}
		b.inbox[id] = append(b.inbox[id], envs...)
		b.stats.Delivered += uint64(len(envs))
		b.pending[id] = envs[:0]
	}
}

// Drain empties and returns id's inbox in arrival order.
func (b *Bus) Drain(id knowledge.ID) []Envelope {
	envs := b.inbox[id]
	if len(envs) == 0 {
		return nil
	}
	b.inbox[id] = nil
	return envs
}

// Pending reports how many messages wait for delivery or draining.
func (b *Bus) Pending() int {
	n := 0
	for _, envs := range b.pending {
		n += len(envs)
	}
	for _, envs := range b.inbox {
		n += len(envs)
	}
	return n
}

func (b *Bus) Stats() Stats {
	out := Stats{Sent: b.stats.Sent, Delivered: b.stats.Delivered, ByKind: map[Kind]uint64{}}
	for k, v := range b.stats.ByKind {
		out.ByKind[k] = v
	}
	return out
}

func kindOf(env Envelope) Kind {
	if env.Payload == nil {
		return 0
	}
	return env.Payload.Kind()
}
