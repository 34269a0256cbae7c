package cycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/UngaBanana9000/CPRbai/internal/protocol"
	"github.com/UngaBanana9000/CPRbai/internal/sim/agent"
	"github.com/UngaBanana9000/CPRbai/internal/sim/grid"
	"github.com/UngaBanana9000/CPRbai/internal/sim/knowledge"
	"github.com/UngaBanana9000/CPRbai/internal/sim/messaging"
)

var ErrLeaveQueueFull = errors.New("leave queue full")

// Run executes cycles until ctx is done, Stop is called or maxCycles
// cycles have run (maxCycles <= 0 means no limit).
func (o *Orchestrator) Run(ctx context.Context, maxCycles int) error {
	var tick <-chan time.Time
	if o.cfg.CycleRateHz > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(o.cfg.CycleRateHz))
		defer ticker.Stop()
		tick = ticker.C
	}

	for ran := 0; maxCycles <= 0 || ran < maxCycles; ran++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-o.stop:
				return nil
			case <-tick:
			}
		} else {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-o.stop:
				return nil
			default:
			}
		}
		if _, err := o.RunCycle(); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAgent queues id to leave the roster at the next cycle boundary.
func (o *Orchestrator) RemoveAgent(id knowledge.ID) error {
	select {
	case o.leave <- id:
		return nil
	default:
		return fmt.Errorf("remove %d: %w", id, ErrLeaveQueueFull)
	}
}

// RunCycle executes one Start/Decision/Action round for all agents. An
// invalid world mutation aborts the cycle; the error wraps the world's
// sentinel.
func (o *Orchestrator) RunCycle() (protocol.Frame, error) {
	return o.step(o.takeLeaves())
}

// StepOnce advances one cycle with an explicit list of departures, using
// the same ordering as Run. It is intended for replays and tests.
func (o *Orchestrator) StepOnce(leaves []knowledge.ID) (cycle uint64, digest string, err error) {
	cycle = o.cycle.Load()
	f, err := o.step(leaves)
	return cycle, f.Digest, err
}

func (o *Orchestrator) takeLeaves() []knowledge.ID {
	var out []knowledge.ID
	for {
		select {
		case id := <-o.leave:
			out = append(out, id)
		default:
			return out
		}
	}
}

func (o *Orchestrator) step(leaves []knowledge.ID) (protocol.Frame, error) {
	started := time.Now()
	nowCycle := o.cycle.Load()

	// Roster changes apply at the cycle boundary.
	removed := o.applyLeaves(nowCycle, leaves)

	o.events = o.events[:0]
	emit := func(e agent.Event) { o.events = append(o.events, e) }
	for phase := PhaseStart; phase <= PhaseAction; phase++ {
		env := agent.Env{
			World: o.world,
			Mail:  o.bus,
			Stamp: knowledge.MakeStamp(nowCycle, uint8(phase)),
			Emit:  emit,
		}
		for _, a := range o.agents {
			switch phase {
			case PhaseStart:
				a.Start(env)
			case PhaseDecision:
				a.Decide(env)
			case PhaseAction:
				if err := a.Act(env); err != nil {
					o.log.Printf("cycle %d aborted: %s: %v", nowCycle, abortCode(err), err)
					return protocol.Frame{}, fmt.Errorf("cycle %d %s: %w", nowCycle, phase, err)
				}
			}
		}
		o.bus.Deliver()
	}

	digest := o.stateDigest(nowCycle)
	frame := o.buildFrame(nowCycle, digest)

	entry := LogEntry{
		Cycle:     nowCycle,
		Removed:   removed,
		Events:    frame.Events,
		Scores:    frame.Scores,
		Resources: o.world.TotalResources(),
		Digest:    digest,
	}
	if o.cycleLogger != nil {
		if err := o.cycleLogger.WriteCycle(entry); err != nil {
			o.log.Printf("cycle log: %v", err)
		}
	}
	if o.index != nil {
		o.index.RecordCycle(entry)
	}
	if o.metrics != nil {
		o.metrics.ObserveCycle(o.stats(nowCycle, time.Since(started)))
	}

	o.publish(frame)
	o.cycle.Add(1)
	return frame, nil
}

// abortCode maps a rejected world mutation to its wire error code.
func abortCode(err error) string {
	switch {
	case errors.Is(err, grid.ErrUnknownTeam):
		return protocol.ErrUnknownTeam
	case errors.Is(err, grid.ErrInvalidState):
		return protocol.ErrInvalidState
	}
	return protocol.ErrInternal
}

func (o *Orchestrator) applyLeaves(nowCycle uint64, ids []knowledge.ID) []int {
	var removed []int
	for _, id := range ids {
		a, ok := o.Agent(id)
		if !ok {
			continue
		}
		kept := o.agents[:0]
		for _, x := range o.agents {
			if x.ID() != id {
				kept = append(kept, x)
			}
		}
		o.agents = kept
		o.bus.Remove(id)
		o.bus.Broadcast(messaging.Envelope{
			From:    id,
			Team:    a.Team(),
			Stamp:   knowledge.MakeStamp(nowCycle, uint8(PhaseStart)),
			Payload: messaging.TransitionNotice{Command: messaging.CmdDeparted, Subject: id},
		})
		removed = append(removed, int(id))
		o.log.Printf("agent %d left %v at cycle %d", id, a.Team(), nowCycle)
	}
	if len(removed) > 0 {
		o.bus.Deliver()
	}
	return removed
}

func (o *Orchestrator) stats(nowCycle uint64, d time.Duration) Stats {
	s := Stats{
		Cycle:     nowCycle,
		Duration:  d,
		Events:    map[agent.EventKind]int{},
		States:    map[knowledge.State]int{},
		Scores:    o.world.Scores(),
		Resources: o.world.TotalResources(),
		Messages:  o.bus.Stats(),
		Pending:   o.bus.Pending(),
	}
	for _, e := range o.events {
		s.Events[e.Kind]++
	}
	for _, a := range o.agents {
		s.States[a.State()]++
	}
	return s
}
