package geom

import "testing"

func TestCost_CountsStepsAndTurns(t *testing.T) {
	cases := []struct {
		from   Position
		facing Orientation
		to     Position
		want   int
	}{
		{Position{0, 0}, East, Position{2, 0}, 2},
		{Position{0, 0}, North, Position{2, 0}, 3},
		{Position{0, 0}, North, Position{2, 3}, 6},
		{Position{0, 0}, South, Position{2, 3}, 7},
		{Position{5, 5}, West, Position{5, 5}, 0},
		{Position{5, 5}, West, Position{3, 1}, 7},
	}
	for _, c := range cases {
		if got := Cost(c.from, c.facing, c.to); got != c.want {
			t.Fatalf("Cost(%v,%v,%v)=%d want %d", c.from, c.facing, c.to, got, c.want)
		}
	}
}

func TestHeadingToward_ResolvesYFirst(t *testing.T) {
	h, ok := HeadingToward(Position{0, 0}, Position{3, 2})
	if !ok || h != North {
		t.Fatalf("got %v ok=%v want N", h, ok)
	}
	h, ok = HeadingToward(Position{0, 2}, Position{3, 2})
	if !ok || h != East {
		t.Fatalf("got %v ok=%v want E", h, ok)
	}
	if _, ok := HeadingToward(Position{1, 1}, Position{1, 1}); ok {
		t.Fatalf("expected no heading at target")
	}
}

func TestForward_StaysInBounds(t *testing.T) {
	b := Bounds{Width: 3, Height: 3}
	if got := Forward(Position{0, 0}, South, b); got != (Position{0, 0}) {
		t.Fatalf("expected blocked step, got %v", got)
	}
	if got := Forward(Position{0, 0}, North, b); got != (Position{0, 1}) {
		t.Fatalf("got %v", got)
	}
}

func TestSafeHeadings_Corner(t *testing.T) {
	got := SafeHeadings(Position{0, 0}, Bounds{Width: 4, Height: 4})
	if len(got) != 2 || got[0] != North || got[1] != East {
		t.Fatalf("got %v want [N E]", got)
	}
}

func TestParseOrientation(t *testing.T) {
	for _, o := range []Orientation{North, East, South, West} {
		got, err := ParseOrientation(o.String())
		if err != nil || got != o {
			t.Fatalf("round trip %v: got %v err=%v", o, got, err)
		}
	}
	if _, err := ParseOrientation("Q"); err == nil {
		t.Fatalf("expected error for unknown orientation")
	}
}
