package messaging

import (
	"fmt"
	"strings"

	"github.com/UngaBanana9000/CPRbai/internal/sim/grid"
	"github.com/UngaBanana9000/CPRbai/internal/sim/knowledge"
)

// Policy decides which gossip survives an inbox drain. Transition notices
// are never discarded.
type Policy uint8

const (
	// PolicyLatestPerSender keeps the newest gossip of each kind per sender.
	PolicyLatestPerSender Policy = iota
	// PolicyLatest keeps only the newest gossip of each kind overall.
	PolicyLatest
)

func (p Policy) String() string {
	if p == PolicyLatest {
		return "latest"
	}
	return "latest_per_sender"
}

func ParsePolicy(s string) (Policy, error) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "", "latest_per_sender":
		return PolicyLatestPerSender, nil
	case "latest":
		return PolicyLatest, nil
	}
	return 0, fmt.Errorf("unknown inbox policy %q", s)
}

// Batch is a drained inbox after reduction.
type Batch struct {
	// Gossip holds surviving knowledge/status envelopes in arrival order.
	Gossip []Envelope
	// Notices holds every transition notice in arrival order.
	Notices []Envelope
	// Malformed holds one error per rejected envelope.
	Malformed []error
	// Discarded counts gossip dropped unread by the policy.
	Discarded int
}

// Reduce validates envs for a member of team and applies policy.
func Reduce(envs []Envelope, team grid.Team, policy Policy) Batch {
	var b Batch
	type key struct {
		from knowledge.ID
		kind Kind
	}
	keep := map[key]int{}
	valid := make([]Envelope, 0, len(envs))
	for _, env := range envs {
		if err := env.Validate(team); err != nil {
			b.Malformed = append(b.Malformed, err)
			continue
		}
		if env.Payload.Kind() == KindTransition {
			b.Notices = append(b.Notices, env)
			continue
		}
		k := key{from: env.From, kind: env.Payload.Kind()}
		if policy == PolicyLatest {
			k.from = 0
		}
		keep[k] = len(valid)
		valid = append(valid, env)
	}
	for i, env := range valid {
		k := key{from: env.From, kind: env.Payload.Kind()}
		if policy == PolicyLatest {
			k.from = 0
		}
		if keep[k] != i {
			b.Discarded++
			continue
		}
		b.Gossip = append(b.Gossip, env)
	}
	return b
}
