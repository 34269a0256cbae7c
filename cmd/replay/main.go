package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	persistlog "github.com/UngaBanana9000/CPRbai/internal/persistence/log"
	"github.com/UngaBanana9000/CPRbai/internal/sim/cycle"
	"github.com/UngaBanana9000/CPRbai/internal/sim/knowledge"
	"github.com/UngaBanana9000/CPRbai/internal/sim/worldgen"
)

func main() {
	var (
		runDir  = flag.String("run", "", "run directory containing manifest.yaml and cycles/")
		toCycle = flag.Uint64("to_cycle", 0, "stop after this cycle (inclusive, optional)")
	)
	flag.Parse()

	if *runDir == "" {
		fmt.Fprintln(os.Stderr, "missing -run")
		os.Exit(2)
	}

	res, err := verify(*runDir, *toCycle)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("OK: run=%s verified %d cycles (last=%d)\n", res.RunID, res.Verified, res.Last)
}

type result struct {
	RunID    string
	Verified int
	Last     uint64
}

var errStop = errors.New("stop")

// verify rebuilds the run from its manifest and re-simulates every logged
// cycle, comparing digests.
func verify(runDir string, toCycle uint64) (result, error) {
	man, err := persistlog.ReadManifest(runDir)
	if err != nil {
		return result{}, fmt.Errorf("read manifest: %w", err)
	}
	res := result{RunID: man.RunID}

	m, spawns, err := worldgen.Build(man.Tuning)
	if err != nil {
		return res, fmt.Errorf("build world: %w", err)
	}
	quiet := log.New(io.Discard, "", 0)
	orch, err := cycle.New(cycle.Config{RunID: man.RunID, Seed: man.Tuning.Seed, Logger: quiet},
		m, worldgen.Agents(spawns, man.Tuning, quiet))
	if err != nil {
		return res, fmt.Errorf("new run: %w", err)
	}

	files, err := persistlog.ListFiles(persistlog.CyclesDir(runDir), "cycles")
	if err != nil {
		return res, err
	}
	if len(files) == 0 {
		return res, fmt.Errorf("no cycle logs under %s", persistlog.CyclesDir(runDir))
	}

	var stepErr error
	for _, path := range files {
		err := persistlog.ReadCycles(path, func(e cycle.LogEntry) bool {
			if want := orch.CurrentCycle(); e.Cycle != want {
				stepErr = fmt.Errorf("log out of order: got cycle %d, expected %d", e.Cycle, want)
				return false
			}
			leaves := make([]knowledge.ID, 0, len(e.Removed))
			for _, id := range e.Removed {
				leaves = append(leaves, knowledge.ID(id))
			}
			c, digest, err := orch.StepOnce(leaves)
			if err != nil {
				stepErr = fmt.Errorf("cycle %d: %w", c, err)
				return false
			}
			if digest != e.Digest {
				stepErr = fmt.Errorf("digest mismatch at cycle %d: replay=%s log=%s", c, digest, e.Digest)
				return false
			}
			res.Verified++
			res.Last = c
			if toCycle != 0 && c >= toCycle {
				stepErr = errStop
				return false
			}
			return true
		})
		if err != nil {
			return res, err
		}
		if stepErr != nil {
			break
		}
	}
	if stepErr != nil && !errors.Is(stepErr, errStop) {
		return res, stepErr
	}
	return res, nil
}
