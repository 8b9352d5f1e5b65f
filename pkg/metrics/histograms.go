package metrics

import (
	"sort"
	"sync"
	"time"
)

// HistogramBucket stores counts at or below a latency bound in seconds.
type HistogramBucket struct {
	Le    float64
	Count int64
}

var defaultBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
}

// Histogram tracks a latency distribution. Counts are kept per bucket and
// cumulated only when a snapshot is taken.
type Histogram struct {
	mu       sync.Mutex
	name     string
	counts   []int64
	overflow int64
	sum      float64
	total    int64
}

func NewHistogram(name string) *Histogram {
	return &Histogram{
		name:   name,
		counts: make([]int64, len(defaultBuckets)),
	}
}

func (h *Histogram) Observe(d time.Duration) {
	sec := d.Seconds()
	idx := sort.SearchFloat64s(defaultBuckets, sec)

	h.mu.Lock()
	h.sum += sec
	h.total++
	if idx < len(h.counts) {
		h.counts[idx]++
	} else {
		h.overflow++
	}
	h.mu.Unlock()
}

type HistogramSnapshot struct {
	Name    string
	Buckets []HistogramBucket
	Sum     float64
	Count   int64
	P50     float64
	P95     float64
	P99     float64
}

func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	buckets := make([]HistogramBucket, len(defaultBuckets))
	var cumulative int64
	for i, le := range defaultBuckets {
		cumulative += h.counts[i]
		buckets[i] = HistogramBucket{Le: le, Count: cumulative}
	}
	snap := HistogramSnapshot{
		Name:    h.name,
		Buckets: buckets,
		Sum:     h.sum,
		Count:   h.total,
	}
	snap.P50 = snap.percentile(0.50)
	snap.P95 = snap.percentile(0.95)
	snap.P99 = snap.percentile(0.99)
	return snap
}

// percentile returns the upper bound of the first bucket containing the
// requested quantile. Observations past the last bucket clamp to its bound.
func (s HistogramSnapshot) percentile(p float64) float64 {
	if s.Count == 0 || len(s.Buckets) == 0 {
		return 0
	}
	target := int64(p * float64(s.Count))
	for _, b := range s.Buckets {
		if b.Count >= target {
			return b.Le
		}
	}
	return s.Buckets[len(s.Buckets)-1].Le
}

// HistogramRegistry manages named histograms.
type HistogramRegistry struct {
	mu         sync.RWMutex
	histograms map[string]*Histogram
}

func NewHistogramRegistry() *HistogramRegistry {
	return &HistogramRegistry{histograms: make(map[string]*Histogram)}
}

func (r *HistogramRegistry) Get(name string) *Histogram {
	r.mu.RLock()
	h, ok := r.histograms[name]
	r.mu.RUnlock()
	if ok {
		return h
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok = r.histograms[name]; ok {
		return h
	}
	h = NewHistogram(name)
	r.histograms[name] = h
	return h
}

func (r *HistogramRegistry) ObserveDuration(name string, d time.Duration) {
	r.Get(name).Observe(d)
}

// Snapshots returns all histograms sorted by name for stable exposition.
func (r *HistogramRegistry) Snapshots() []HistogramSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]HistogramSnapshot, 0, len(r.histograms))
	for _, h := range r.histograms {
		out = append(out, h.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
