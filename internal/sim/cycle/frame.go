package cycle

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/UngaBanana9000/CPRbai/internal/protocol"
	"github.com/UngaBanana9000/CPRbai/internal/sim/geom"
	"github.com/UngaBanana9000/CPRbai/internal/sim/grid"
)

func posFrame(p geom.Position) [2]int { return [2]int{p.X, p.Y} }

func (o *Orchestrator) buildFrame(nowCycle uint64, digest string) protocol.Frame {
	f := protocol.Frame{
		Type:            protocol.TypeFrame,
		ProtocolVersion: protocol.Version,
		RunID:           o.cfg.RunID,
		Cycle:           nowCycle,
		Agents:          make([]protocol.AgentFrame, 0, len(o.agents)),
		Scores:          map[string]int{},
		Resources:       []protocol.ResourceFrame{},
		Deposits:        []protocol.DepositFrame{},
		Digest:          digest,
	}
	for _, a := range o.agents {
		af := protocol.AgentFrame{
			ID:       int(a.ID()),
			Team:     int(a.Team()),
			Pos:      posFrame(a.Pos()),
			Facing:   a.Facing().String(),
			State:    a.State().String(),
			Carrying: a.Carrying(),
		}
		if p, ok := a.Partner(); ok {
			af.Partner = int(p)
		}
		if t, ok := a.Target(); ok {
			tp := posFrame(t)
			af.Target = &tp
		}
		f.Agents = append(f.Agents, af)
	}
	for team, score := range o.world.Scores() {
		f.Scores[team.String()] = score
	}
	for _, c := range o.world.Resources() {
		f.Resources = append(f.Resources, protocol.ResourceFrame{Pos: posFrame(c.Pos), Qty: c.Qty})
	}
	for _, team := range o.world.Teams() {
		pos, _ := o.world.DepositFor(team)
		f.Deposits = append(f.Deposits, protocol.DepositFrame{Team: int(team), Pos: posFrame(pos)})
	}
	for _, e := range o.events {
		f.Events = append(f.Events, protocol.EventFrame{
			Kind:    string(e.Kind),
			Agent:   int(e.Agent),
			Partner: int(e.Partner),
			Team:    int(e.Team),
			Pos:     posFrame(e.Pos),
			Reason:  e.Reason,
		})
	}
	return f
}

// stateDigest hashes the observable run state: roster, positions and
// commitments, resources and scores. Agent beliefs, walk RNG state and
// queued messages are not hashed.
func (o *Orchestrator) stateDigest(nowCycle uint64) string {
	h := sha256.New()
	var tmp [8]byte
	writeInt := func(v int64) {
		binary.LittleEndian.PutUint64(tmp[:], uint64(v))
		h.Write(tmp[:])
	}
	writeInt(int64(nowCycle))
	writeInt(o.cfg.Seed)

	for _, a := range o.agents {
		writeInt(int64(a.ID()))
		writeInt(int64(a.Team()))
		writeInt(int64(a.Pos().X))
		writeInt(int64(a.Pos().Y))
		h.Write([]byte{byte(a.Facing()), byte(a.State()), boolByte(a.Carrying()), boolByte(a.Leader())})
		p, ok := a.Partner()
		h.Write([]byte{boolByte(ok)})
		writeInt(int64(p))
		t, ok := a.Target()
		h.Write([]byte{boolByte(ok)})
		writeInt(int64(t.X))
		writeInt(int64(t.Y))
	}

	for _, c := range o.world.Resources() {
		writeInt(int64(c.Pos.X))
		writeInt(int64(c.Pos.Y))
		writeInt(int64(c.Qty))
	}

	scores := o.world.Scores()
	teams := make([]grid.Team, 0, len(scores))
	for t := range scores {
		teams = append(teams, t)
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i] < teams[j] })
	for _, t := range teams {
		writeInt(int64(t))
		writeInt(int64(scores[t]))
	}

	return hex.EncodeToString(h.Sum(nil))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

type observer struct {
	out    chan []byte
	events bool
	everyN int
}

// Subscription tunes what an observer receives.
type Subscription struct {
	IncludeEvents bool
	// EveryN sends one frame per N cycles; values below 2 send every frame.
	EveryN int
}

// Subscribe registers out under id, replacing any earlier registration.
// Frames are delivered latest-wins: a slow reader loses old frames, never
// blocks the cycle loop.
func (o *Orchestrator) Subscribe(id string, out chan []byte, sub Subscription) {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()
	o.observers[id] = &observer{out: out, events: sub.IncludeEvents, everyN: sub.EveryN}
}

func (o *Orchestrator) Unsubscribe(id string) {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()
	delete(o.observers, id)
}

func (o *Orchestrator) publish(f protocol.Frame) {
	o.latest.Store(&f)

	o.obsMu.Lock()
	defer o.obsMu.Unlock()
	if len(o.observers) == 0 {
		return
	}
	var full, bare []byte
	for id, obs := range o.observers {
		if obs.everyN > 1 && f.Cycle%uint64(obs.everyN) != 0 {
			continue
		}
		var b []byte
		if obs.events {
			if full == nil {
				full = o.encode(f)
			}
			b = full
		} else {
			if bare == nil {
				g := f
				g.Events = nil
				bare = o.encode(g)
			}
			b = bare
		}
		if b == nil {
			o.log.Printf("observer %s: frame %d not encodable", id, f.Cycle)
			continue
		}
		sendLatest(obs.out, b)
	}
}

func (o *Orchestrator) encode(f protocol.Frame) []byte {
	b, err := json.Marshal(f)
	if err != nil {
		return nil
	}
	return b
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
