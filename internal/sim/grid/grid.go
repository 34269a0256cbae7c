// Package grid holds the shared world the agents act upon: resource
// quantities per cell, one deposit cell per team and the team scores.
//
// Map is not safe for concurrent use. The cycle orchestrator is its only
// writer and touches it from a single goroutine, one agent at a time.
package grid

import (
	"errors"
	"fmt"
	"sort"

	"github.com/UngaBanana9000/CPRbai/internal/sim/geom"
)

var (
	// ErrInvalidState marks a world mutation whose precondition does not
	// hold (taking from an empty cell). It signals a protocol bug.
	ErrInvalidState = errors.New("invalid world state")
	ErrUnknownTeam  = errors.New("unknown team")
)

type Team uint8

const (
	TeamOne Team = 1
	TeamTwo Team = 2
)

func (t Team) String() string { return fmt.Sprintf("team%d", uint8(t)) }

// World is the contract the agents consume.
type World interface {
	ResourceAt(pos geom.Position) int
	TakeResource(pos geom.Position) (int, error)
	DepositFor(team Team) (geom.Position, bool)
	RecordScore(team Team) error
	Bounds() geom.Bounds
}

type Map struct {
	bounds    geom.Bounds
	resources map[geom.Position]int
	deposits  map[Team]geom.Position
	scores    map[Team]int
}

func NewMap(b geom.Bounds) *Map {
	return &Map{
		bounds:    b,
		resources: map[geom.Position]int{},
		deposits:  map[Team]geom.Position{},
		scores:    map[Team]int{},
	}
}

func (m *Map) Bounds() geom.Bounds { return m.bounds }

// SetDeposit registers team with its deposit cell and a zero score.
func (m *Map) SetDeposit(team Team, pos geom.Position) error {
	if !m.bounds.Contains(pos) {
		return fmt.Errorf("deposit %v for %v: out of bounds", pos, team)
	}
	m.deposits[team] = pos
	if _, ok := m.scores[team]; !ok {
		m.scores[team] = 0
	}
	return nil
}

// Place adds qty units at pos.
func (m *Map) Place(pos geom.Position, qty int) error {
	if !m.bounds.Contains(pos) {
		return fmt.Errorf("place %v: out of bounds", pos)
	}
	if qty < 0 {
		return fmt.Errorf("place %v: negative quantity %d", pos, qty)
	}
	if qty == 0 {
		return nil
	}
	m.resources[pos] += qty
	return nil
}

func (m *Map) ResourceAt(pos geom.Position) int { return m.resources[pos] }

func (m *Map) TakeResource(pos geom.Position) (int, error) {
	q := m.resources[pos]
	if q <= 0 {
		return 0, fmt.Errorf("take %v: quantity is 0: %w", pos, ErrInvalidState)
	}
	q--
	if q == 0 {
		delete(m.resources, pos)
	} else {
		m.resources[pos] = q
	}
	return q, nil
}

func (m *Map) DepositFor(team Team) (geom.Position, bool) {
	p, ok := m.deposits[team]
	return p, ok
}

func (m *Map) RecordScore(team Team) error {
	if _, ok := m.deposits[team]; !ok {
		return fmt.Errorf("record score for %v: %w", team, ErrUnknownTeam)
	}
	m.scores[team]++
	return nil
}

func (m *Map) Score(team Team) int { return m.scores[team] }

// Scores returns a copy of the per-team counters.
func (m *Map) Scores() map[Team]int {
	out := make(map[Team]int, len(m.scores))
	for k, v := range m.scores {
		out[k] = v
	}
	return out
}

// Teams returns the registered teams in ascending order.
func (m *Map) Teams() []Team {
	out := make([]Team, 0, len(m.deposits))
	for t := range m.deposits {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type Cell struct {
	Pos geom.Position
	Qty int
}

// Resources lists the non-empty cells in row-major order.
func (m *Map) Resources() []Cell {
	out := make([]Cell, 0, len(m.resources))
	for p, q := range m.resources {
		out = append(out, Cell{Pos: p, Qty: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pos.Less(out[j].Pos) })
	return out
}

// TotalResources is the number of units still on the grid.
func (m *Map) TotalResources() int {
	n := 0
	for _, q := range m.resources {
		n += q
	}
	return n
}
