package tuning

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/UngaBanana9000/CPRbai/internal/sim/geom"
	"github.com/UngaBanana9000/CPRbai/internal/sim/messaging"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	// Gold is the number of units scattered at start; cells may stack.
	Gold          int    `yaml:"gold"`
	AgentsPerTeam int    `yaml:"agents_per_team"`
	Seed          int64  `yaml:"seed"`
	Cycles        int    `yaml:"cycles"`
	CycleRateHz   int    `yaml:"cycle_rate_hz"`
	InboxPolicy   string `yaml:"inbox_policy"`

	Teams []TeamSpec `yaml:"teams"`
}

// TeamSpec places a team's deposit; its agents spawn on it facing Facing.
type TeamSpec struct {
	ID      int    `yaml:"id"`
	Deposit [2]int `yaml:"deposit"`
	Facing  string `yaml:"facing"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		Width:           20,
		Height:          20,
		Gold:            10,
		AgentsPerTeam:   10,
		Seed:            1,
		Cycles:          1000,
		InboxPolicy:     messaging.PolicyLatestPerSender.String(),
	}
}

// Load reads path over Defaults, fills derived values and validates.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize places the two default deposits at opposite corners when no
// team is configured.
func (t *Tuning) Normalize() {
	if len(t.Teams) == 0 {
		t.Teams = []TeamSpec{
			{ID: 1, Deposit: [2]int{0, 0}, Facing: geom.North.String()},
			{ID: 2, Deposit: [2]int{t.Width - 1, t.Height - 1}, Facing: geom.South.String()},
		}
	}
	if t.InboxPolicy == "" {
		t.InboxPolicy = messaging.PolicyLatestPerSender.String()
	}
}

func (t Tuning) Validate() error {
	var errs []error
	if t.Width <= 0 || t.Height <= 0 {
		errs = append(errs, fmt.Errorf("grid must be positive, got %dx%d", t.Width, t.Height))
	}
	if t.Gold < 0 {
		errs = append(errs, fmt.Errorf("gold must be >= 0, got %d", t.Gold))
	}
	if t.AgentsPerTeam < 2 {
		errs = append(errs, fmt.Errorf("agents_per_team must be >= 2, got %d", t.AgentsPerTeam))
	}
	if t.Cycles < 0 || t.CycleRateHz < 0 {
		errs = append(errs, errors.New("cycles and cycle_rate_hz must be >= 0"))
	}
	if _, err := messaging.ParsePolicy(t.InboxPolicy); err != nil {
		errs = append(errs, err)
	}
	b := t.Bounds()
	seen := map[int]bool{}
	for _, ts := range t.Teams {
		if ts.ID <= 0 || ts.ID > 255 || seen[ts.ID] {
			errs = append(errs, fmt.Errorf("team id %d invalid or duplicated", ts.ID))
		}
		seen[ts.ID] = true
		if !b.Contains(geom.Position{X: ts.Deposit[0], Y: ts.Deposit[1]}) {
			errs = append(errs, fmt.Errorf("team %d deposit %v outside grid", ts.ID, ts.Deposit))
		}
		if _, err := geom.ParseOrientation(ts.Facing); err != nil {
			errs = append(errs, fmt.Errorf("team %d: %w", ts.ID, err))
		}
	}
	if len(t.Teams) == 0 {
		errs = append(errs, errors.New("at least one team required"))
	}
	return errors.Join(errs...)
}

func (t Tuning) Bounds() geom.Bounds { return geom.Bounds{Width: t.Width, Height: t.Height} }

func (t Tuning) Policy() messaging.Policy {
	p, _ := messaging.ParsePolicy(t.InboxPolicy)
	return p
}
