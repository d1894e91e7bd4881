package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	agentsRegistered = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swarm_agents_registered",
		Help: "Agents registered with the monitor",
	})

	agentsLost = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swarm_agents_lost_total",
		Help: "Agents that stopped answering heartbeats",
	})

	ticksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_ticks_total",
		Help: "Progress ticks reported by agents",
	}, []string{"scenario"})

	measurementsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swarm_measurements_total",
		Help: "Measurements appended to the log",
	})

	agentErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_agent_errors_total",
		Help: "Errors reported by agents at completion",
	}, []string{"agent"})

	agentStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "swarm_agent_status",
		Help: "Last numeric fields of each agent's status snapshot",
	}, []string{"agent", "field"})

	runDuration = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "swarm_run_duration_seconds",
		Help: "Wall-clock duration of each completed generation",
	}, []string{"generation"})
)

func init() {
	prometheus.MustRegister(agentsRegistered)
	prometheus.MustRegister(agentsLost)
	prometheus.MustRegister(ticksTotal)
	prometheus.MustRegister(measurementsTotal)
	prometheus.MustRegister(agentErrorsTotal)
	prometheus.MustRegister(agentStatus)
	prometheus.MustRegister(runDuration)
}
