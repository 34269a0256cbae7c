package geom

import "fmt"

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Position) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// Less orders positions row-major (Y, then X). Used wherever a stable
// iteration order over cells is needed.
func (p Position) Less(o Position) bool {
	if p.Y != o.Y {
		return p.Y < o.Y
	}
	return p.X < o.X
}

// Orientation is a cardinal heading. North increases Y, East increases X.
type Orientation uint8

const (
	North Orientation = iota
	East
	South
	West
)

var orientationNames = [...]string{"N", "E", "S", "W"}

func (o Orientation) String() string {
	if int(o) < len(orientationNames) {
		return orientationNames[o]
	}
	return fmt.Sprintf("Orientation(%d)", uint8(o))
}

func (o Orientation) Valid() bool { return o <= West }

// ParseOrientation accepts the single-letter form used in configs and frames.
func ParseOrientation(s string) (Orientation, error) {
	for i, n := range orientationNames {
		if n == s {
			return Orientation(i), nil
		}
	}
	return 0, fmt.Errorf("unknown orientation %q", s)
}

// Delta is the unit step taken when moving forward with this heading.
func (o Orientation) Delta() Position {
	switch o {
	case North:
		return Position{Y: 1}
	case East:
		return Position{X: 1}
	case South:
		return Position{Y: -1}
	case West:
		return Position{X: -1}
	}
	return Position{}
}

type Bounds struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (b Bounds) Contains(p Position) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < b.Width && p.Y < b.Height
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func Manhattan(a, b Position) int {
	return abs(a.X-b.X) + abs(a.Y-b.Y)
}

// Cost estimates the number of cycles an agent at from, heading facing,
// needs to reach to: one cycle per forward step plus one per required turn.
// Each axis with a nonzero offset costs a turn unless the agent already
// faces along it in the right direction.
func Cost(from Position, facing Orientation, to Position) int {
	dx := to.X - from.X
	dy := to.Y - from.Y
	turns := 0
	if dy > 0 && facing != North {
		turns++
	} else if dy < 0 && facing != South {
		turns++
	}
	if dx > 0 && facing != East {
		turns++
	} else if dx < 0 && facing != West {
		turns++
	}
	return abs(dx) + abs(dy) + turns
}

// HeadingToward returns the heading an agent should take to approach to,
// resolving the Y axis before the X axis. ok is false when from == to.
func HeadingToward(from, to Position) (Orientation, bool) {
	switch {
	case from.Y < to.Y:
		return North, true
	case from.Y > to.Y:
		return South, true
	case from.X < to.X:
		return East, true
	case from.X > to.X:
		return West, true
	}
	return 0, false
}

// Forward returns the cell one step ahead, or pos itself when the step
// would leave the grid.
func Forward(pos Position, facing Orientation, b Bounds) Position {
	d := facing.Delta()
	next := Position{X: pos.X + d.X, Y: pos.Y + d.Y}
	if !b.Contains(next) {
		return pos
	}
	return next
}

// SafeHeadings lists, in fixed N/S/E/W order, the headings that keep a
// forward step inside the grid.
func SafeHeadings(pos Position, b Bounds) []Orientation {
	out := make([]Orientation, 0, 4)
	if pos.Y < b.Height-1 {
		out = append(out, North)
	}
	if pos.Y > 0 {
		out = append(out, South)
	}
	if pos.X < b.Width-1 {
		out = append(out, East)
	}
	if pos.X > 0 {
		out = append(out, West)
	}
	return out
}
