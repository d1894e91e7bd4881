// Package metrics aggregates measurement latencies per tag using HDR histograms.
package metrics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Histogram bounds: 1 microsecond to 1 hour, 3 significant figures.
const (
	histogramMin     = 1
	histogramMax     = 3600000000
	histogramSigFigs = 3
)

// Aggregator collects elapsed times per tag.
//
// # Thread Safety
//
// Aggregator is safe for concurrent use. HDR histogram RecordValue is NOT
// thread-safe, so every access holds the mutex.
type Aggregator struct {
	mu    sync.Mutex
	hists map[string]*hdrhistogram.Histogram
	order []string
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		hists: make(map[string]*hdrhistogram.Histogram),
	}
}

// Record adds one elapsed time in microseconds under tag.
func (a *Aggregator) Record(tag string, elapsedMicros int64) {
	if elapsedMicros < histogramMin {
		elapsedMicros = histogramMin
	}
	if elapsedMicros > histogramMax {
		elapsedMicros = histogramMax
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	hist, ok := a.hists[tag]
	if !ok {
		hist = hdrhistogram.New(histogramMin, histogramMax, histogramSigFigs)
		a.hists[tag] = hist
		a.order = append(a.order, tag)
	}
	_ = hist.RecordValue(elapsedMicros)
}

// Tags returns tags in first-seen order.
func (a *Aggregator) Tags() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}

// Stats returns the statistics for tag, or false if nothing was recorded.
func (a *Aggregator) Stats(tag string) (Stats, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	hist, ok := a.hists[tag]
	if !ok {
		return Stats{}, false
	}
	return statsFrom(tag, hist), true
}

// All returns statistics for every tag sorted by tag name.
func (a *Aggregator) All() []Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Stats, 0, len(a.hists))
	for tag, hist := range a.hists {
		out = append(out, statsFrom(tag, hist))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// Reset drops all histograms.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hists = make(map[string]*hdrhistogram.Histogram)
	a.order = nil
}

func statsFrom(tag string, hist *hdrhistogram.Histogram) Stats {
	return Stats{
		Tag:    tag,
		Count:  hist.TotalCount(),
		Min:    float64(hist.Min()) / 1000,
		Max:    float64(hist.Max()) / 1000,
		Mean:   hist.Mean() / 1000,
		StdDev: hist.StdDev() / 1000,
		P50:    float64(hist.ValueAtQuantile(50)) / 1000,
		P75:    float64(hist.ValueAtQuantile(75)) / 1000,
		P95:    float64(hist.ValueAtQuantile(95)) / 1000,
		P99:    float64(hist.ValueAtQuantile(99)) / 1000,
	}
}

// Stats contains latency statistics for one tag. All values are milliseconds.
type Stats struct {
	Tag    string  `json:"tag"`
	Count  int64   `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	P50    float64 `json:"p50"`
	P75    float64 `json:"p75"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}

// Value returns the named statistic: min, max, mean, stddev, p50, p75, p95 or p99.
func (s Stats) Value(name string) (float64, error) {
	switch strings.ToLower(name) {
	case "min":
		return s.Min, nil
	case "max":
		return s.Max, nil
	case "mean", "avg":
		return s.Mean, nil
	case "stddev":
		return s.StdDev, nil
	case "p50", "50", "median":
		return s.P50, nil
	case "p75", "75":
		return s.P75, nil
	case "p95", "95":
		return s.P95, nil
	case "p99", "99":
		return s.P99, nil
	default:
		return math.NaN(), fmt.Errorf("unknown statistic: %s", name)
	}
}
