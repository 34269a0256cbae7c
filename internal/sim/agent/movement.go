package agent

import (
	"github.com/UngaBanana9000/CPRbai/internal/sim/geom"
)

// stepToward either turns toward to or steps forward; one action per call.
func (a *Agent) stepToward(to geom.Position, b geom.Bounds) {
	h, ok := geom.HeadingToward(a.pos, to)
	if !ok {
		return
	}
	if a.facing != h {
		a.facing = h
		return
	}
	a.pos = geom.Forward(a.pos, a.facing, b)
}

// wander is the idle walk: a coin flip between stepping forward and
// turning, never turning toward the grid edge.
func (a *Agent) wander(b geom.Bounds) {
	safe := geom.SafeHeadings(a.pos, b)
	if len(safe) == 0 {
		return
	}
	if a.rng.Intn(2) == 0 {
		next := geom.Forward(a.pos, a.facing, b)
		if next != a.pos {
			a.pos = next
			return
		}
	}
	a.facing = safe[a.rng.Intn(len(safe))]
}

// moveTogether keeps the pair together on the way to dest, the target cell
// while paired and the deposit while carrying. The leader holds while the
// partner is more than one cell away; the partner closes the gap before
// heading for dest itself.
func (a *Agent) moveTogether(dest geom.Position, b geom.Bounds) {
	st, ok := a.partnerStatus()
	if !ok {
		a.stepToward(dest, b)
		return
	}
	gap := geom.Manhattan(a.pos, st.Pos)
	switch {
	case a.leader && gap > 1:
	case !a.leader && gap > 1:
		a.stepToward(st.Pos, b)
	default:
		a.stepToward(dest, b)
	}
}
