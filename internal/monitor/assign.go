package monitor

import (
	"github.com/wesleyorama2/swarm/internal/config"
)

// Assign splits schemas across n agents round-robin.
//
// With a single scenario or a single agent every agent gets everything.
// Otherwise agent i gets the scenarios j with j % n == i, and when agents
// outnumber scenarios the spare agents wrap around to scenario i % len.
// Each agent's slice keeps the input order.
func Assign(schemas []config.SchemaConfig, n int) [][]config.SchemaConfig {
	if n <= 0 {
		return nil
	}
	out := make([][]config.SchemaConfig, n)

	if len(schemas) <= 1 || n == 1 {
		for i := range out {
			out[i] = config.CloneSchemas(schemas)
		}
		return out
	}

	for j, sc := range schemas {
		i := j % n
		out[i] = append(out[i], sc.Clone())
	}
	for i := range out {
		if len(out[i]) == 0 {
			out[i] = []config.SchemaConfig{schemas[i%len(schemas)].Clone()}
		}
	}
	return out
}
