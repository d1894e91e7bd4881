// Package report writes the run report: report.json plus one
// topology-<name>-<server>.json file per sampled server.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/swarm/internal/config"
	"github.com/wesleyorama2/swarm/internal/measure"
	"github.com/wesleyorama2/swarm/internal/metrics"
	"github.com/wesleyorama2/swarm/internal/monitor"
	"github.com/wesleyorama2/swarm/internal/optimizer"
	"github.com/wesleyorama2/swarm/internal/topology"
)

// FileName is the report file written to the output directory.
const FileName = "report.json"

// Run statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Report is the content of report.json.
type Report struct {
	RunID      string    `json:"runId"`
	Simulation string    `json:"simulation"`
	Target     string    `json:"target,omitempty"`
	Status     string    `json:"status"`
	Generation int       `json:"generation"`
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
	ElapsedMS  int64     `json:"elapsedMs"`

	// Measurements is the store the stats were computed from
	Measurements string `json:"measurements,omitempty"`

	Agents    []AgentSummary    `json:"agents"`
	Scenarios []ScenarioSummary `json:"scenarios"`
	Stats     []metrics.Stats   `json:"stats"`
	Errors    []string          `json:"errors"`

	Optimizer *optimizer.Result `json:"optimizer,omitempty"`
	Topology  []TopologyFile    `json:"topology,omitempty"`
}

// AgentSummary is one agent's part of the run.
type AgentSummary struct {
	ID          string   `json:"id"`
	Hostname    string   `json:"hostname,omitempty"`
	PID         int      `json:"pid,omitempty"`
	Scenarios   []string `json:"scenarios"`
	Lost        bool     `json:"lost,omitempty"`
	SetupErrors []string `json:"setupErrors,omitempty"`
	Errors      []string `json:"errors,omitempty"`
}

// ScenarioSummary is the config and totals of one scenario.
type ScenarioSummary struct {
	Scenario   string               `json:"scenario"`
	Params     map[string]any       `json:"params,omitempty"`
	Execution  config.ExecutionPlan `json:"execution"`
	Executions int64                `json:"executions"`
	Errors     int                  `json:"errors"`
}

// TopologyFile references one topology snapshot file.
type TopologyFile struct {
	Name    string `json:"name"`
	Server  string `json:"server"`
	File    string `json:"file"`
	Samples int    `json:"samples"`
}

// Input is everything a report is built from.
type Input struct {
	// RunID defaults to a fresh uuid
	RunID string

	Simulation *config.SimulationConfig
	Target     string
	Run        *monitor.RunResult
	Store      measure.Store
	StorePath  string
	Optimizer  *optimizer.Result
}

// Build assembles a report from a finished run.
func Build(ctx context.Context, in Input) (*Report, error) {
	if in.Simulation == nil || in.Run == nil {
		return nil, errors.New("report needs a simulation and a run")
	}
	runID := in.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	r := &Report{
		RunID:        runID,
		Simulation:   in.Simulation.Name,
		Target:       in.Target,
		Status:       StatusSuccess,
		Generation:   in.Run.Generation,
		StartTime:    in.Run.Start,
		EndTime:      in.Run.End,
		ElapsedMS:    in.Run.Elapsed().Milliseconds(),
		Measurements: in.StorePath,
		Errors:       append([]string{}, in.Run.Errors...),
		Optimizer:    in.Optimizer,
	}
	if in.Run.Failed {
		r.Status = StatusFailed
	}

	schemas := in.Simulation.Scenarios
	if in.Optimizer != nil && len(in.Optimizer.Schemas) > 0 {
		schemas = in.Optimizer.Schemas
	}
	r.Scenarios = summarizeScenarios(schemas, in.Run)

	for _, a := range in.Run.Agents {
		s := AgentSummary{
			ID:          a.Info.ID,
			Hostname:    a.Info.Hostname,
			PID:         a.Info.PID,
			Lost:        a.Lost,
			SetupErrors: a.SetupErrors,
			Errors:      a.Errors,
		}
		for _, sc := range a.Schemas {
			s.Scenarios = append(s.Scenarios, sc.Scenario)
		}
		r.Agents = append(r.Agents, s)
	}

	if in.Store != nil {
		stats, err := Stats(ctx, in.Store)
		if err != nil {
			return nil, err
		}
		r.Stats = stats
	}
	return r, nil
}

func summarizeScenarios(schemas []config.SchemaConfig, run *monitor.RunResult) []ScenarioSummary {
	out := make([]ScenarioSummary, len(schemas))
	index := make(map[string]int, len(schemas))
	for i, sc := range schemas {
		out[i] = ScenarioSummary{Scenario: sc.Scenario, Params: sc.Params, Execution: sc.Execution}
		if _, seen := index[sc.Scenario]; !seen {
			index[sc.Scenario] = i
		}
	}
	for _, a := range run.Agents {
		if a.Result == nil {
			continue
		}
		for _, res := range a.Result.Scenarios {
			i, ok := index[res.Name]
			if !ok {
				continue
			}
			out[i].Executions += res.Executions
			out[i].Errors += len(res.Errors)
		}
	}
	return out
}

// Stats computes per-tag latency statistics over every stored measurement.
func Stats(ctx context.Context, store measure.Store) ([]metrics.Stats, error) {
	events, err := store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read measurements: %w", err)
	}
	agg := metrics.NewAggregator()
	for _, ev := range events {
		agg.Record(ev.Tag, ev.ElapsedMicros)
	}
	return agg.All(), nil
}

// TopologyFileName returns the snapshot file name for one series.
func TopologyFileName(name, server string) string {
	clean := strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(server)
	return fmt.Sprintf("topology-%s-%s.json", name, clean)
}

// Write writes report.json and, when buf holds samples, one topology file per
// series to dir. The report's Topology references are filled in.
func Write(dir string, r *Report, buf *topology.Buffer) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if buf != nil {
		r.Topology = nil
		for _, k := range buf.Keys() {
			samples := buf.Samples(k)
			file := TopologyFileName(k.Name, k.Server)
			if err := writeJSON(filepath.Join(dir, file), samples); err != nil {
				return err
			}
			r.Topology = append(r.Topology, TopologyFile{Name: k.Name, Server: k.Server, File: file, Samples: len(samples)})
		}
	}

	return writeJSON(filepath.Join(dir, FileName), r)
}

// Read loads report.json from dir.
func Read(dir string) (*Report, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return &r, nil
}

// Regenerate recomputes the stats of an existing report from the
// measurement store it references and rewrites report.json. Topology files
// are left untouched.
func Regenerate(ctx context.Context, dir string) (*Report, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%s is not valid JSON", path)
	}

	storePath := gjson.GetBytes(data, "measurements").String()
	if storePath == "" {
		storePath = measure.GenerationPath(dir, int(gjson.GetBytes(data, "generation").Int()))
	} else if !filepath.IsAbs(storePath) {
		storePath = filepath.Join(dir, filepath.Base(storePath))
	}
	if _, err := os.Stat(storePath); err != nil {
		return nil, fmt.Errorf("measurement store for report: %w", err)
	}

	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}

	store, err := measure.NewSQLiteStore(storePath)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	stats, err := Stats(ctx, store)
	if err != nil {
		return nil, err
	}
	r.Stats = stats
	r.Measurements = storePath

	if err := writeJSON(path, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
