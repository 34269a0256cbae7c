// Package pairing decides which two idle teammates commit to which
// resource cell.
//
// The matcher is greedy and local: it only looks at one agent's view. Every
// teammate runs the same deterministic procedure, so agents holding the
// same view agree on the outcome without talking; diverging views produce
// conflicts that the agents resolve afterwards.
package pairing

import (
	"sort"

	"github.com/UngaBanana9000/CPRbai/internal/sim/geom"
	"github.com/UngaBanana9000/CPRbai/internal/sim/knowledge"
)

// View is the slice of an agent's knowledge the matcher needs.
type View struct {
	Self      knowledge.ID
	Resources map[geom.Position]int
	Team      map[knowledge.ID]knowledge.Status
}

// Match commits Leader and Partner to Target. Leader is always the lower ID
// and performs the world mutations for the pair.
type Match struct {
	Leader  knowledge.ID
	Partner knowledge.ID
	Target  geom.Position
}

func (m Match) Involves(id knowledge.ID) bool { return m.Leader == id || m.Partner == id }

// Committed counts the pairs already heading to each cell, one per leader.
func Committed(team map[knowledge.ID]knowledge.Status) map[geom.Position]int {
	out := map[geom.Position]int{}
	for _, st := range team {
		if st.State == knowledge.Paired && st.Leader && st.HasTarget {
			out[st.Target]++
		}
	}
	return out
}

// Capacity is the number of further pairs each known cell can absorb.
func Capacity(v View) map[geom.Position]int {
	committed := Committed(v.Team)
	out := map[geom.Position]int{}
	for pos, qty := range v.Resources {
		if c := qty - committed[pos]; c > 0 {
			out[pos] = c
		}
	}
	return out
}

// MatchAll runs the greedy assignment over every idle teammate in the view.
// Idle agents are visited in ascending ID order; each unmatched one picks
// the cheapest cell with spare capacity, then the unmatched idle teammate
// with the cheapest route to that cell. Ties break on cell order and on ID.
func MatchAll(v View) []Match {
	capacity := Capacity(v)
	cells := make([]geom.Position, 0, len(capacity))
	for pos := range capacity {
		cells = append(cells, pos)
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].Less(cells[j]) })

	idle := make([]knowledge.Status, 0, len(v.Team))
	for _, st := range v.Team {
		if st.State == knowledge.Idle {
			idle = append(idle, st)
		}
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].ID < idle[j].ID })

	matched := map[knowledge.ID]bool{}
	var out []Match
	for _, chooser := range idle {
		if matched[chooser.ID] {
			continue
		}
		target, ok := nearestCell(chooser, cells, capacity)
		if !ok {
			break
		}
		partner, ok := nearestTeammate(chooser.ID, target, idle, matched)
		if !ok {
			break
		}
		matched[chooser.ID] = true
		matched[partner] = true
		capacity[target]--
		out = append(out, Match{Leader: chooser.ID, Partner: partner, Target: target})
	}
	return out
}

// Plan returns the match that involves the viewing agent, if any.
func Plan(v View) (Match, bool) {
	for _, m := range MatchAll(v) {
		if m.Involves(v.Self) {
			return m, true
		}
	}
	return Match{}, false
}

func nearestCell(from knowledge.Status, cells []geom.Position, capacity map[geom.Position]int) (geom.Position, bool) {
	best := geom.Position{}
	bestCost := -1
	for _, pos := range cells {
		if capacity[pos] <= 0 {
			continue
		}
		c := geom.Cost(from.Pos, from.Facing, pos)
		if bestCost < 0 || c < bestCost {
			best, bestCost = pos, c
		}
	}
	return best, bestCost >= 0
}

func nearestTeammate(self knowledge.ID, target geom.Position, idle []knowledge.Status, matched map[knowledge.ID]bool) (knowledge.ID, bool) {
	var best knowledge.ID
	bestCost := -1
	for _, st := range idle {
		if st.ID == self || matched[st.ID] {
			continue
		}
		c := geom.Cost(st.Pos, st.Facing, target)
		if bestCost < 0 || c < bestCost {
			best, bestCost = st.ID, c
		}
	}
	return best, bestCost >= 0
}
