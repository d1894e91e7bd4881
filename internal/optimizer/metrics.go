package optimizer

import "github.com/prometheus/client_golang/prometheus"

var generationGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "swarm_optimizer_generation",
	Help: "Last generation evaluated by the optimizer",
})

func init() {
	prometheus.MustRegister(generationGauge)
}
