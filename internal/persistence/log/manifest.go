package log

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/UngaBanana9000/CPRbai/internal/sim/tuning"
)

const manifestName = "manifest.yaml"

// Manifest records what a run was started with, enough to rebuild its
// initial world for replay.
type Manifest struct {
	RunID     string        `yaml:"run_id"`
	StartedAt time.Time     `yaml:"started_at"`
	Tuning    tuning.Tuning `yaml:"tuning"`
}

func WriteManifest(runDir string, m Manifest) error {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(runDir, manifestName), b, 0o644)
}

func ReadManifest(runDir string) (Manifest, error) {
	var m Manifest
	raw, err := os.ReadFile(filepath.Join(runDir, manifestName))
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("%s: %w", manifestName, err)
	}
	if err := m.Tuning.Validate(); err != nil {
		return m, fmt.Errorf("%s: %w", manifestName, err)
	}
	return m, nil
}
