package metrics

import (
	"sync"
	"testing"
)

func TestAggregator_Percentiles(t *testing.T) {
	agg := NewAggregator()

	// 10ms..100ms in 10ms steps
	for i := int64(1); i <= 10; i++ {
		agg.Record("checkout", i*10000)
	}

	stats, ok := agg.Stats("checkout")
	if !ok {
		t.Fatal("Stats() returned ok=false for a recorded tag")
	}

	if stats.Count != 10 {
		t.Errorf("Count = %d, want 10", stats.Count)
	}
	if stats.Min < 9.9 || stats.Min > 10.1 {
		t.Errorf("Min = %v, want ~10ms", stats.Min)
	}
	if stats.Max < 99 || stats.Max > 101 {
		t.Errorf("Max = %v, want ~100ms", stats.Max)
	}
	if stats.P50 < 40 || stats.P50 > 60 {
		t.Errorf("P50 = %v, want ~50ms (±10ms)", stats.P50)
	}
	if stats.P99 < 90 || stats.P99 > 110 {
		t.Errorf("P99 = %v, want ~100ms (±10ms)", stats.P99)
	}
	if stats.Mean < 54 || stats.Mean > 56 {
		t.Errorf("Mean = %v, want ~55ms", stats.Mean)
	}
}

func TestAggregator_TagsKeepFirstSeenOrder(t *testing.T) {
	agg := NewAggregator()
	agg.Record("b", 1)
	agg.Record("a", 1)
	agg.Record("b", 1)

	tags := agg.Tags()
	if len(tags) != 2 || tags[0] != "b" || tags[1] != "a" {
		t.Errorf("Tags() = %v, want [b a]", tags)
	}

	all := agg.All()
	if len(all) != 2 || all[0].Tag != "a" {
		t.Errorf("All() should be sorted by tag, got %+v", all)
	}
}

func TestAggregator_UnknownTag(t *testing.T) {
	agg := NewAggregator()
	if _, ok := agg.Stats("missing"); ok {
		t.Error("Stats() should return ok=false for an unknown tag")
	}
}

func TestAggregator_ConcurrentRecord(t *testing.T) {
	agg := NewAggregator()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				agg.Record("t", int64(i+1))
			}
		}()
	}
	wg.Wait()

	stats, _ := agg.Stats("t")
	if stats.Count != 8000 {
		t.Errorf("Count = %d, want 8000", stats.Count)
	}
}

func TestStats_Value(t *testing.T) {
	s := Stats{Mean: 1, P75: 2, P95: 3, P99: 4, Min: 5, Max: 6}

	tests := map[string]float64{"mean": 1, "p75": 2, "95": 3, "P99": 4, "min": 5, "max": 6}
	for name, want := range tests {
		got, err := s.Value(name)
		if err != nil {
			t.Errorf("Value(%q) error = %v", name, err)
			continue
		}
		if got != want {
			t.Errorf("Value(%q) = %v, want %v", name, got, want)
		}
	}

	if _, err := s.Value("p42"); err == nil {
		t.Error("Value(p42) should fail")
	}
}

func TestAggregator_Reset(t *testing.T) {
	agg := NewAggregator()
	agg.Record("x", 10)
	agg.Reset()
	if len(agg.Tags()) != 0 {
		t.Error("Reset() should drop all tags")
	}
}
