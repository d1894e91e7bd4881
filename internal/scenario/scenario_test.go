package scenario

import (
	"errors"
	"testing"
	"time"

	"github.com/wesleyorama2/swarm/internal/config"
)

type tagRecorder struct {
	tags []string
}

func (r *tagRecorder) Record(tag string, start, end time.Time) {
	r.tags = append(r.tags, tag)
}

func TestMeasure_RecordsOnError(t *testing.T) {
	rec := &tagRecorder{}
	boom := errors.New("boom")

	err := Measure(rec, "op", func() error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("Measure() error = %v, want boom", err)
	}
	if len(rec.tags) != 1 || rec.tags[0] != "op" {
		t.Errorf("recorded tags = %v, want [op]", rec.tags)
	}
}

func TestContext_ParamAccessors(t *testing.T) {
	sc := &Context{Schema: config.SchemaConfig{Params: map[string]any{
		"yamlInt":  3,
		"jsonInt":  float64(4),
		"dur":      "15ms",
		"durMs":    float64(20),
		"name":     "x",
		"notAName": 9,
	}}}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"yaml int", sc.Int("yamlInt"), 3},
		{"json int", sc.Int("jsonInt"), 4},
		{"missing int", sc.Int("missing"), 0},
		{"duration string", sc.Duration("dur"), 15 * time.Millisecond},
		{"duration millis", sc.Duration("durMs"), 20 * time.Millisecond},
		{"string", sc.String("name"), "x"},
		{"string from int", sc.String("notAName"), "9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestScenarioExecutionError_Unwrap(t *testing.T) {
	boom := errors.New("boom")
	err := &ScenarioExecutionError{Scenario: "s", Tick: 3, Err: boom}
	if !errors.Is(err, boom) {
		t.Error("ScenarioExecutionError should unwrap to its cause")
	}
}
