package messaging

import (
	"errors"
	"fmt"

	"github.com/UngaBanana9000/CPRbai/internal/sim/geom"
	"github.com/UngaBanana9000/CPRbai/internal/sim/grid"
	"github.com/UngaBanana9000/CPRbai/internal/sim/knowledge"
)

var ErrMalformed = errors.New("malformed message")

type Kind uint8

const (
	KindKnowledge Kind = iota + 1
	KindStatus
	KindTransition
)

func (k Kind) String() string {
	switch k {
	case KindKnowledge:
		return "knowledge"
	case KindStatus:
		return "status"
	case KindTransition:
		return "transition"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Payload is a closed set of message bodies; receivers type-switch on it.
type Payload interface {
	Kind() Kind
	validate(team grid.Team) error
}

// KnowledgeUpdate carries the sender's believed resource quantities.
type KnowledgeUpdate struct {
	Resources map[geom.Position]int
}

// StatusUpdate carries the sender's view of its team, own entry included.
type StatusUpdate struct {
	Team map[knowledge.ID]knowledge.Status
}

type Command uint8

const (
	// CmdPair asks the recipient to commit to Target with the sender.
	CmdPair Command = iota + 1
	// CmdCarry tells the partner the leader picked the unit up.
	CmdCarry
	// CmdRelease cancels the commitment between sender and recipient.
	CmdRelease
	// CmdDeposited tells the partner the leader scored the unit.
	CmdDeposited
	// CmdDeparted announces that Subject left the roster.
	CmdDeparted
	// CmdStatus only carries the sender's own snapshot.
	CmdStatus
)

var commandNames = map[Command]string{
	CmdPair:      "pair",
	CmdCarry:     "carry",
	CmdRelease:   "release",
	CmdDeposited: "deposited",
	CmdDeparted:  "departed",
	CmdStatus:    "status",
}

func (c Command) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Command(%d)", uint8(c))
}

// TransitionNotice is a command the recipient applies exactly once.
// Agents attach their own status as of sending; notices relayed on behalf
// of someone else, like departures, carry none.
type TransitionNotice struct {
	Command Command
	Target  geom.Position
	Subject knowledge.ID
	Status  *knowledge.Status
}

func (KnowledgeUpdate) Kind() Kind  { return KindKnowledge }
func (StatusUpdate) Kind() Kind     { return KindStatus }
func (TransitionNotice) Kind() Kind { return KindTransition }

func (m KnowledgeUpdate) validate(grid.Team) error {
	if m.Resources == nil {
		return errors.New("knowledge update without resources")
	}
	for p, q := range m.Resources {
		if q < 0 {
			return fmt.Errorf("negative quantity %d at %v", q, p)
		}
	}
	return nil
}

func (m StatusUpdate) validate(team grid.Team) error {
	if m.Team == nil {
		return errors.New("status update without entries")
	}
	for id, st := range m.Team {
		if st.ID != id {
			return fmt.Errorf("status keyed %d describes %d", id, st.ID)
		}
		if st.Team != team {
			return fmt.Errorf("status for %d belongs to %v", id, st.Team)
		}
		if !st.State.Valid() || !st.Facing.Valid() {
			return fmt.Errorf("status for %d has invalid state/facing", id)
		}
	}
	return nil
}

func (m TransitionNotice) validate(team grid.Team) error {
	if _, ok := commandNames[m.Command]; !ok {
		return fmt.Errorf("unknown command %d", m.Command)
	}
	if st := m.Status; st != nil {
		if st.Team != team {
			return fmt.Errorf("%s notice status belongs to %v", m.Command, st.Team)
		}
		if !st.State.Valid() || !st.Facing.Valid() {
			return fmt.Errorf("%s notice status has invalid state/facing", m.Command)
		}
	} else if m.Command == CmdStatus {
		return errors.New("status notice without status")
	}
	return nil
}

// Envelope routes a payload. To is zero for team broadcasts.
type Envelope struct {
	From    knowledge.ID
	To      knowledge.ID
	Team    grid.Team
	Stamp   knowledge.Stamp
	Payload Payload
}

// Validate reports why an envelope cannot be processed by a member of team.
func (e Envelope) Validate(team grid.Team) error {
	if e.Payload == nil {
		return fmt.Errorf("%w: nil payload from %d", ErrMalformed, e.From)
	}
	if e.Team != team {
		return fmt.Errorf("%w: %v message delivered to %v", ErrMalformed, e.Team, team)
	}
	switch e.Payload.(type) {
	case KnowledgeUpdate, StatusUpdate, TransitionNotice:
	default:
		return fmt.Errorf("%w: unexpected payload %T", ErrMalformed, e.Payload)
	}
	if err := e.Payload.validate(team); err != nil {
		return fmt.Errorf("%w: %s from %d: %v", ErrMalformed, e.Payload.Kind(), e.From, err)
	}
	return nil
}
