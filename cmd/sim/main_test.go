package main

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/UngaBanana9000/CPRbai/internal/observability/metrics"
	"github.com/UngaBanana9000/CPRbai/internal/protocol"
	"github.com/UngaBanana9000/CPRbai/internal/sim/cycle"
	"github.com/UngaBanana9000/CPRbai/internal/sim/tuning"
	"github.com/UngaBanana9000/CPRbai/internal/sim/worldgen"
	"github.com/UngaBanana9000/CPRbai/internal/transport/observer"
)

func TestNewMux_MountsAdminRemove(t *testing.T) {
	tu := tuning.Defaults()
	tu.Width, tu.Height = 8, 8
	tu.Gold = 4
	tu.AgentsPerTeam = 2
	tu.Normalize()
	m, spawns, err := worldgen.Build(tu)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	orch, err := cycle.New(cycle.Config{RunID: "mux", Seed: tu.Seed}, m, worldgen.Agents(spawns, tu, nil))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	obs := observer.NewServer(orch, protocol.RunParams{Width: tu.Width, Height: tu.Height}, log.New(io.Discard, "", 0))
	srv := httptest.NewServer(newMux(obs, metrics.New(), false))
	defer srv.Close()

	cases := []struct {
		path string
		want int
	}{
		{"/admin/v1/agents/remove?id=1", http.StatusAccepted},
		{"/v1/agents/remove?id=1", http.StatusNotFound},
	}
	for _, c := range cases {
		resp, err := http.Post(srv.URL+c.path, "text/plain", nil)
		if err != nil {
			t.Fatalf("post %s: %v", c.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != c.want {
			t.Fatalf("POST %s status=%d want %d", c.path, resp.StatusCode, c.want)
		}
	}
}
