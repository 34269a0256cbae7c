package perception

import "github.com/UngaBanana9000/CPRbai/internal/sim/geom"

// Sense returns the cells in front of an agent: a band of 3 cells one step
// ahead and a band of 5 cells two steps ahead, spread perpendicular to the
// heading and clipped to b. Order is fixed: near band first, each band from
// the lower to the higher perpendicular coordinate.
func Sense(pos geom.Position, facing geom.Orientation, b geom.Bounds) []geom.Position {
	fwd := facing.Delta()
	// Perpendicular axis: X for N/S headings, Y for E/W headings.
	side := geom.Position{X: 1}
	if fwd.X != 0 {
		side = geom.Position{Y: 1}
	}

	out := make([]geom.Position, 0, 8)
	bands := []struct{ dist, half int }{{1, 1}, {2, 2}}
	for _, band := range bands {
		for off := -band.half; off <= band.half; off++ {
			p := geom.Position{
				X: pos.X + fwd.X*band.dist + side.X*off,
				Y: pos.Y + fwd.Y*band.dist + side.Y*off,
			}
			if b.Contains(p) {
				out = append(out, p)
			}
		}
	}
	return out
}
