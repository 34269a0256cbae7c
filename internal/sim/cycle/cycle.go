// Package cycle drives the simulation: every cycle runs the Start, Decision
// and Action phases over all agents in ascending ID order, delivering
// messages at each phase boundary, then publishes a telemetry frame.
//
// The orchestrator is single-threaded. Only Subscribe, Unsubscribe,
// LatestFrame, RemoveAgent, CurrentCycle and Stop may be called from other
// goroutines while Run is active.
package cycle

import (
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/UngaBanana9000/CPRbai/internal/protocol"
	"github.com/UngaBanana9000/CPRbai/internal/sim/agent"
	"github.com/UngaBanana9000/CPRbai/internal/sim/grid"
	"github.com/UngaBanana9000/CPRbai/internal/sim/knowledge"
	"github.com/UngaBanana9000/CPRbai/internal/sim/messaging"
)

type Phase uint8

const (
	PhaseStart Phase = iota
	PhaseDecision
	PhaseAction
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseDecision:
		return "decision"
	case PhaseAction:
		return "action"
	}
	return fmt.Sprintf("Phase(%d)", uint8(p))
}

type Config struct {
	RunID string
	Seed  int64
	// CycleRateHz paces Run; 0 runs cycles back to back.
	CycleRateHz int
	Logger      *log.Logger
}

// LogEntry is the durable record of one cycle.
type LogEntry struct {
	Cycle     uint64                `json:"cycle"`
	Removed   []int                 `json:"removed,omitempty"`
	Events    []protocol.EventFrame `json:"events,omitempty"`
	Scores    map[string]int        `json:"scores"`
	Resources int                   `json:"resources"`
	Digest    string                `json:"digest"`
}

type CycleLogger interface {
	WriteCycle(entry LogEntry) error
}

// Indexer receives every entry; implementations must not block.
type Indexer interface {
	RecordCycle(entry LogEntry)
}

// Stats summarizes a cycle for metrics.
type Stats struct {
	Cycle     uint64
	Duration  time.Duration
	Events    map[agent.EventKind]int
	States    map[knowledge.State]int
	Scores    map[grid.Team]int
	Resources int
	Messages  messaging.Stats
	Pending   int
}

type Recorder interface {
	ObserveCycle(s Stats)
}

type Orchestrator struct {
	cfg   Config
	world *grid.Map
	bus   *messaging.Bus

	// agents is kept sorted by ID; it fixes the phase order.
	agents []*agent.Agent

	cycle atomic.Uint64
	leave chan knowledge.ID
	stop  chan struct{}
	once  sync.Once

	events []agent.Event

	latest    atomic.Pointer[protocol.Frame]
	obsMu     sync.Mutex
	observers map[string]*observer

	cycleLogger CycleLogger
	index       Indexer
	metrics     Recorder

	log *log.Logger
}

// New registers agents on a fresh bus. Every agent's team needs a deposit
// on world.
func New(cfg Config, world *grid.Map, agents []*agent.Agent) (*Orchestrator, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	o := &Orchestrator{
		cfg:       cfg,
		world:     world,
		bus:       messaging.NewBus(),
		agents:    append([]*agent.Agent(nil), agents...),
		leave:     make(chan knowledge.ID, 64),
		stop:      make(chan struct{}),
		observers: map[string]*observer{},
		log:       logger,
	}
	sort.Slice(o.agents, func(i, j int) bool { return o.agents[i].ID() < o.agents[j].ID() })
	for _, a := range o.agents {
		if _, ok := world.DepositFor(a.Team()); !ok {
			return nil, fmt.Errorf("agent %d: %v: %w", a.ID(), a.Team(), grid.ErrUnknownTeam)
		}
		if err := o.bus.Register(a.ID(), a.Team()); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Orchestrator) SetCycleLogger(l CycleLogger) { o.cycleLogger = l }
func (o *Orchestrator) SetIndex(ix Indexer)          { o.index = ix }
func (o *Orchestrator) SetMetrics(m Recorder)        { o.metrics = m }

func (o *Orchestrator) Config() Config       { return o.cfg }
func (o *Orchestrator) World() *grid.Map     { return o.world }
func (o *Orchestrator) Bus() *messaging.Bus  { return o.bus }
func (o *Orchestrator) CurrentCycle() uint64 { return o.cycle.Load() }

// Agents returns the roster in phase order.
func (o *Orchestrator) Agents() []*agent.Agent {
	return append([]*agent.Agent(nil), o.agents...)
}

func (o *Orchestrator) Agent(id knowledge.ID) (*agent.Agent, bool) {
	i := sort.Search(len(o.agents), func(i int) bool { return o.agents[i].ID() >= id })
	if i < len(o.agents) && o.agents[i].ID() == id {
		return o.agents[i], true
	}
	return nil, false
}

// LatestFrame returns the frame of the last completed cycle.
func (o *Orchestrator) LatestFrame() (protocol.Frame, bool) {
	f := o.latest.Load()
	if f == nil {
		return protocol.Frame{}, false
	}
	return *f, true
}

func (o *Orchestrator) Stop() { o.once.Do(func() { close(o.stop) }) }
