// Package knowledge is an agent's local, possibly stale, belief about the
// world: believed resource quantities per cell and the last known status
// of every teammate.
package knowledge

import (
	"fmt"

	"github.com/UngaBanana9000/CPRbai/internal/sim/geom"
	"github.com/UngaBanana9000/CPRbai/internal/sim/grid"
)

type ID int

type State uint8

const (
	Idle State = iota
	Paired
	Carrying
)

var stateNames = [...]string{"idle", "paired", "carrying"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

func (s State) Valid() bool { return s <= Carrying }

// Stamp orders broadcasts in simulation time: three phases per cycle.
type Stamp uint64

func MakeStamp(cycle uint64, phase uint8) Stamp { return Stamp(cycle*3 + uint64(phase)) }

// Status is the snapshot an agent broadcasts about itself.
type Status struct {
	ID         ID
	Team       grid.Team
	Pos        geom.Position
	Facing     geom.Orientation
	State      State
	Partner    ID
	HasPartner bool
	Target     geom.Position
	HasTarget  bool
	Carrying   bool
	Leader     bool
	Stamp      Stamp
}

// PairedWith reports whether s claims an active commitment with id.
func (s Status) PairedWith(id ID) bool {
	return s.HasPartner && s.Partner == id && s.State != Idle
}

// Changed reports whether next differs from s in anything a teammate
// pairs on. Position and facing are ignored.
func (s Status) Changed(next Status) bool {
	return s.State != next.State || s.Partner != next.Partner || s.HasPartner != next.HasPartner ||
		s.Target != next.Target || s.HasTarget != next.HasTarget || s.Carrying != next.Carrying
}

type Store struct {
	self      ID
	resources map[geom.Position]int
	team      map[ID]Status
	departed  map[ID]bool
}

func NewStore(self ID) *Store {
	return &Store{
		self:      self,
		resources: map[geom.Position]int{},
		team:      map[ID]Status{},
		departed:  map[ID]bool{},
	}
}

func (s *Store) Self() ID { return s.self }

// Observe records ground truth for a cell. Zero is kept as a tombstone so
// older, higher gossip cannot bring the cell back.
func (s *Store) Observe(pos geom.Position, qty int) {
	if qty < 0 {
		qty = 0
	}
	s.resources[pos] = qty
}

// Known returns the believed quantity at pos.
func (s *Store) Known(pos geom.Position) (int, bool) {
	q, ok := s.resources[pos]
	return q, ok
}

// MergeResources folds incoming beliefs in, keeping the minimum per cell.
func (s *Store) MergeResources(in map[geom.Position]int) {
	for pos, qty := range in {
		if qty < 0 {
			qty = 0
		}
		if cur, ok := s.resources[pos]; ok && cur <= qty {
			continue
		}
		s.resources[pos] = qty
	}
}

// MergeTeam replaces entries for teammates when the incoming snapshot is
// newer. The own entry and departed agents are never touched.
func (s *Store) MergeTeam(in map[ID]Status) {
	for id, st := range in {
		if id == s.self || s.departed[id] || st.ID != id {
			continue
		}
		if cur, ok := s.team[id]; ok && cur.Stamp >= st.Stamp {
			continue
		}
		s.team[id] = st
	}
}

// Hear records a snapshot the teammate sent about itself. It wins over
// relayed gossip carrying the same stamp.
func (s *Store) Hear(st Status) {
	if st.ID == s.self || s.departed[st.ID] {
		return
	}
	if cur, ok := s.team[st.ID]; ok && cur.Stamp > st.Stamp {
		return
	}
	s.team[st.ID] = st
}

// SetSelf refreshes the own entry from true local state.
func (s *Store) SetSelf(st Status) {
	st.ID = s.self
	s.team[s.self] = st
}

func (s *Store) Status(id ID) (Status, bool) {
	st, ok := s.team[id]
	return st, ok
}

// Forget drops a teammate that left the roster and keeps it out.
func (s *Store) Forget(id ID) {
	if id == s.self {
		return
	}
	delete(s.team, id)
	s.departed[id] = true
}

func (s *Store) Departed(id ID) bool { return s.departed[id] }

// Resources returns a copy of the believed quantities.
func (s *Store) Resources() map[geom.Position]int {
	out := make(map[geom.Position]int, len(s.resources))
	for p, q := range s.resources {
		out[p] = q
	}
	return out
}

// Team returns a copy of the status mapping, own entry included.
func (s *Store) Team() map[ID]Status {
	out := make(map[ID]Status, len(s.team))
	for id, st := range s.team {
		out[id] = st
	}
	return out
}
