// Package metrics exports per-cycle simulation statistics to Prometheus.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/UngaBanana9000/CPRbai/internal/sim/agent"
	"github.com/UngaBanana9000/CPRbai/internal/sim/cycle"
	"github.com/UngaBanana9000/CPRbai/internal/sim/knowledge"
	"github.com/UngaBanana9000/CPRbai/internal/sim/messaging"
)

// Recorder implements cycle.Recorder.
type Recorder struct {
	reg *prometheus.Registry

	cycles        prometheus.Counter
	cycleDuration prometheus.Histogram
	events        *prometheus.CounterVec
	agentStates   *prometheus.GaugeVec
	scores        *prometheus.GaugeVec
	resources     prometheus.Gauge
	messages      *prometheus.CounterVec
	pending       prometheus.Gauge

	mu       sync.Mutex
	lastKind map[messaging.Kind]uint64
}

var _ cycle.Recorder = (*Recorder)(nil)

func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cprbai_cycles_total",
			Help: "Total number of completed cycles",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cprbai_cycle_duration_seconds",
			Help:    "Wall time spent running one cycle",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cprbai_events_total",
			Help: "Agent events by kind",
		}, []string{"kind"}),
		agentStates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cprbai_agents",
			Help: "Agents per FSM state at the end of the last cycle",
		}, []string{"state"}),
		scores: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cprbai_team_score",
			Help: "Units delivered per team",
		}, []string{"team"}),
		resources: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cprbai_resources_remaining",
			Help: "Units left on the map",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cprbai_messages_sent_total",
			Help: "Messages handed to the bus by kind",
		}, []string{"kind"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cprbai_messages_pending",
			Help: "Messages awaiting delivery at the end of the last cycle",
		}),
		lastKind: map[messaging.Kind]uint64{},
	}
	r.reg.MustRegister(
		r.cycles,
		r.cycleDuration,
		r.events,
		r.agentStates,
		r.scores,
		r.resources,
		r.messages,
		r.pending,
		collectors.NewGoCollector(),
	)
	// Zero series so dashboards see every label from the first scrape.
	for _, k := range []agent.EventKind{agent.EventPair, agent.EventPickup, agent.EventDeposit, agent.EventRelease, agent.EventDrop, agent.EventMalformed} {
		r.events.WithLabelValues(string(k))
	}
	return r
}

func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func (r *Recorder) ObserveCycle(s cycle.Stats) {
	r.cycles.Inc()
	r.cycleDuration.Observe(s.Duration.Seconds())
	for kind, n := range s.Events {
		r.events.WithLabelValues(string(kind)).Add(float64(n))
	}
	for _, st := range []knowledge.State{knowledge.Idle, knowledge.Paired, knowledge.Carrying} {
		r.agentStates.WithLabelValues(st.String()).Set(float64(s.States[st]))
	}
	for team, score := range s.Scores {
		r.scores.WithLabelValues(team.String()).Set(float64(score))
	}
	r.resources.Set(float64(s.Resources))
	r.pending.Set(float64(s.Pending))

	// Bus counters are cumulative.
	r.mu.Lock()
	defer r.mu.Unlock()
	for kind, total := range s.Messages.ByKind {
		if last := r.lastKind[kind]; total > last {
			r.messages.WithLabelValues(kind.String()).Add(float64(total - last))
		}
		r.lastKind[kind] = total
	}
}
