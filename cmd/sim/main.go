package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/UngaBanana9000/CPRbai/internal/observability/metrics"
	"github.com/UngaBanana9000/CPRbai/internal/persistence/indexdb"
	persistlog "github.com/UngaBanana9000/CPRbai/internal/persistence/log"
	"github.com/UngaBanana9000/CPRbai/internal/protocol"
	"github.com/UngaBanana9000/CPRbai/internal/sim/cycle"
	"github.com/UngaBanana9000/CPRbai/internal/sim/tuning"
	"github.com/UngaBanana9000/CPRbai/internal/sim/worldgen"
	"github.com/UngaBanana9000/CPRbai/internal/transport/observer"
)

func main() {
	var (
		addr       = flag.String("addr", "127.0.0.1:8080", "http listen address for observer and metrics (empty to disable)")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		runID      = flag.String("run", "", "run id (default: random uuid)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite cycle index")

		seed   = flag.Int64("seed", 0, "override tuning seed (0 keeps tuning)")
		cycles = flag.Int("cycles", -1, "override number of cycles (0 runs until interrupted)")
		rate   = flag.Int("rate", -1, "override cycle rate in Hz (0 runs unpaced)")
		agents = flag.Int("agents", 0, "override agents per team")
		gold   = flag.Int("gold", 0, "override gold units")
		policy = flag.String("policy", "", "override inbox policy (latest_per_sender|latest)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[sim] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}
	if *seed != 0 {
		tune.Seed = *seed
	}
	if *cycles >= 0 {
		tune.Cycles = *cycles
	}
	if *rate >= 0 {
		tune.CycleRateHz = *rate
	}
	if *agents > 0 {
		tune.AgentsPerTeam = *agents
	}
	if *gold > 0 {
		tune.Gold = *gold
	}
	if p := strings.TrimSpace(*policy); p != "" {
		tune.InboxPolicy = p
	}
	tune.Normalize()
	if err := tune.Validate(); err != nil {
		logger.Fatalf("tuning: %v", err)
	}

	id := strings.TrimSpace(*runID)
	if id == "" {
		id = uuid.NewString()
	}
	runDir := filepath.Join(*dataDir, "runs", id)
	if err := persistlog.WriteManifest(runDir, persistlog.Manifest{
		RunID:     id,
		StartedAt: time.Now().UTC(),
		Tuning:    tune,
	}); err != nil {
		logger.Fatalf("write manifest: %v", err)
	}

	m, spawns, err := worldgen.Build(tune)
	if err != nil {
		logger.Fatalf("build world: %v", err)
	}
	agentLog := log.New(os.Stdout, "[agent] ", log.LstdFlags|log.Lmicroseconds)
	orch, err := cycle.New(cycle.Config{
		RunID:       id,
		Seed:        tune.Seed,
		CycleRateHz: tune.CycleRateHz,
		Logger:      log.New(os.Stdout, "[cycle] ", log.LstdFlags|log.Lmicroseconds),
	}, m, worldgen.Agents(spawns, tune, agentLog))
	if err != nil {
		logger.Fatalf("new run: %v", err)
	}

	cycleLog := persistlog.NewCycleLogger(runDir)
	defer cycleLog.Close()
	orch.SetCycleLogger(cycleLog)

	if !*disableDB {
		idx, err := indexdb.OpenSQLite(filepath.Join(runDir, "index.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer func() {
			st := idx.Stats()
			if st.DropTotal > 0 || st.WriteFailures > 0 {
				logger.Printf("index: dropped=%d write_failures=%d", st.DropTotal, st.WriteFailures)
			}
			_ = idx.Close()
		}()
		if err := idx.PutRun(id, tune); err != nil {
			logger.Printf("index: put run: %v", err)
		}
		orch.SetIndex(idx)
	}

	rec := metrics.New()
	orch.SetMetrics(rec)

	ctx, cancel := signalContext()
	defer cancel()

	var srv *http.Server
	if a := strings.TrimSpace(*addr); a != "" {
		obs := observer.NewServer(orch, protocol.RunParams{
			Width:         tune.Width,
			Height:        tune.Height,
			AgentsPerTeam: tune.AgentsPerTeam,
			Gold:          tune.Gold,
			Seed:          tune.Seed,
			CycleRateHz:   tune.CycleRateHz,
			InboxPolicy:   tune.InboxPolicy,
		}, log.New(os.Stdout, "[observer] ", log.LstdFlags|log.Lmicroseconds))
		srv = &http.Server{
			Addr:              a,
			Handler:           newMux(obs, rec, envBool("CPR_ENABLE_PPROF_HTTP", false)),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Printf("listening on %s", a)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("ListenAndServe: %v", err)
				cancel()
			}
		}()
	}

	logger.Printf("run %s: %dx%d gold=%d agents/team=%d seed=%d cycles=%d policy=%s",
		id, tune.Width, tune.Height, tune.Gold, tune.AgentsPerTeam, tune.Seed, tune.Cycles, tune.InboxPolicy)
	runErr := orch.Run(ctx, tune.Cycles)

	if srv != nil {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(ctx2)
		cancel2()
	}

	scores := orch.World().Scores()
	teams := make([]string, 0, len(scores))
	for team, s := range scores {
		teams = append(teams, team.String()+"="+strconv.Itoa(s))
	}
	sort.Strings(teams)
	logger.Printf("finished at cycle %d: scores %s, %d units left", orch.CurrentCycle(), strings.Join(teams, " "), orch.World().TotalResources())

	if runErr != nil && runErr != context.Canceled {
		_ = cycleLog.Close()
		logger.Fatalf("run: %v", runErr)
	}
}

func newMux(obs *observer.Server, rec *metrics.Recorder, withPprof bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/bootstrap", obs.BootstrapHandler())
	mux.HandleFunc("/v1/observe", obs.WSHandler())
	mux.HandleFunc("/admin/v1/agents/remove", obs.RemoveHandler())
	mux.Handle("/metrics", rec.Handler())
	if withPprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
