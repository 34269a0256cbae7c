// Package worldgen builds the initial world from tuning: team deposits, a
// seeded scatter of gold and the agents spawned on their deposits.
package worldgen

import (
	"fmt"
	"log"
	"math/rand"

	"github.com/UngaBanana9000/CPRbai/internal/sim/agent"
	"github.com/UngaBanana9000/CPRbai/internal/sim/geom"
	"github.com/UngaBanana9000/CPRbai/internal/sim/grid"
	"github.com/UngaBanana9000/CPRbai/internal/sim/knowledge"
	"github.com/UngaBanana9000/CPRbai/internal/sim/tuning"
)

type Spawn struct {
	ID      knowledge.ID
	Team    grid.Team
	Pos     geom.Position
	Facing  geom.Orientation
	Deposit geom.Position
}

// Build lays out deposits and gold. Units never land on a deposit; several
// units may land on the same cell. IDs are assigned team by team from 1.
func Build(t tuning.Tuning) (*grid.Map, []Spawn, error) {
	b := t.Bounds()
	m := grid.NewMap(b)
	deposits := map[geom.Position]bool{}
	var spawns []Spawn
	next := knowledge.ID(1)
	for _, ts := range t.Teams {
		team := grid.Team(ts.ID)
		pos := geom.Position{X: ts.Deposit[0], Y: ts.Deposit[1]}
		facing, err := geom.ParseOrientation(ts.Facing)
		if err != nil {
			return nil, nil, fmt.Errorf("team %d: %w", ts.ID, err)
		}
		if err := m.SetDeposit(team, pos); err != nil {
			return nil, nil, err
		}
		deposits[pos] = true
		for i := 0; i < t.AgentsPerTeam; i++ {
			spawns = append(spawns, Spawn{ID: next, Team: team, Pos: pos, Facing: facing, Deposit: pos})
			next++
		}
	}

	if t.Gold > 0 && len(deposits) >= b.Width*b.Height {
		return nil, nil, fmt.Errorf("no free cell for %d gold on a %dx%d grid", t.Gold, b.Width, b.Height)
	}
	rng := rand.New(rand.NewSource(t.Seed))
	for placed := 0; placed < t.Gold; {
		p := geom.Position{X: rng.Intn(b.Width), Y: rng.Intn(b.Height)}
		if deposits[p] {
			continue
		}
		if err := m.Place(p, 1); err != nil {
			return nil, nil, err
		}
		placed++
	}
	return m, spawns, nil
}

// Agents instantiates one agent per spawn.
func Agents(spawns []Spawn, t tuning.Tuning, logger *log.Logger) []*agent.Agent {
	out := make([]*agent.Agent, 0, len(spawns))
	for _, s := range spawns {
		out = append(out, agent.New(agent.Config{
			ID:      s.ID,
			Team:    s.Team,
			Pos:     s.Pos,
			Facing:  s.Facing,
			Deposit: s.Deposit,
			Seed:    t.Seed,
			Policy:  t.Policy(),
			Logger:  logger,
		}))
	}
	return out
}
