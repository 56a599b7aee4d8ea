package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// family is one labelled Prometheus metric family held in memory.
type family struct {
	name       string
	help       string
	kind       string
	labelNames []string
	mu         sync.RWMutex
	values     map[string]float64
}

func newFamily(name, help, kind string, labels []string) family {
	return family{name: name, help: help, kind: kind, labelNames: labels, values: map[string]float64{}}
}

func (f *family) add(v float64, labels []string) {
	lbl := labelString(f.labelNames, labels)
	f.mu.Lock()
	f.values[lbl] += v
	f.mu.Unlock()
}

func (f *family) set(v float64, labels []string) {
	lbl := labelString(f.labelNames, labels)
	f.mu.Lock()
	f.values[lbl] = v
	f.mu.Unlock()
}

func (f *family) get(labels []string) float64 {
	lbl := labelString(f.labelNames, labels)
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.values[lbl]
}

func (f *family) WritePrometheus(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.kind); err != nil {
		return err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, k := range sortedKeys(f.values) {
		if _, err := fmt.Fprintf(w, "%s%s %g\n", f.name, k, f.values[k]); err != nil {
			return err
		}
	}
	return nil
}

type CounterVec struct{ family }

func NewCounterVec(name, help string, labels []string) *CounterVec {
	return &CounterVec{newFamily(name, help, "counter", labels)}
}

func (c *CounterVec) Inc(values ...string) {
	if c != nil {
		c.add(1, values)
	}
}

func (c *CounterVec) Value(values ...string) float64 {
	if c == nil {
		return 0
	}
	return c.get(values)
}

type Gauge struct{ family }

func NewGauge(name, help string) *Gauge {
	return &Gauge{newFamily(name, help, "gauge", nil)}
}

func (g *Gauge) Inc() {
	if g != nil {
		g.add(1, nil)
	}
}

func (g *Gauge) Dec() {
	if g != nil {
		g.add(-1, nil)
	}
}

type GaugeVec struct{ family }

func NewGaugeVec(name, help string, labels []string) *GaugeVec {
	return &GaugeVec{newFamily(name, help, "gauge", labels)}
}

func (g *GaugeVec) Set(v float64, values ...string) {
	if g != nil {
		g.set(v, values)
	}
}

type HistogramVec struct {
	name       string
	help       string
	labelNames []string
	buckets    []float64
	mu         sync.RWMutex
	values     map[string]*histogram
}

type histogram struct {
	counts []uint64
	sum    float64
	total  uint64
}

func NewHistogramVec(name, help string, labels []string, buckets []float64) *HistogramVec {
	if len(buckets) == 0 {
		buckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}
	}
	return &HistogramVec{name: name, help: help, labelNames: labels, buckets: buckets, values: map[string]*histogram{}}
}

func (h *HistogramVec) Observe(v float64, values ...string) {
	if h == nil {
		return
	}
	lbl := labelString(h.labelNames, values)
	h.mu.Lock()
	defer h.mu.Unlock()
	hist, ok := h.values[lbl]
	if !ok {
		hist = &histogram{counts: make([]uint64, len(h.buckets))}
		h.values[lbl] = hist
	}
	hist.sum += v
	hist.total++
	for i, b := range h.buckets {
		if v <= b {
			hist.counts[i]++
		}
	}
}

func (h *HistogramVec) WritePrometheus(w io.Writer) error {
	if h == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	keys := make([]string, 0, len(h.values))
	for k := range h.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := h.values[k]
		for i, b := range h.buckets {
			if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLe(k, fmt.Sprintf("%g", b)), v.counts[i]); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n%s_sum%s %g\n%s_count%s %d\n",
			h.name, withLe(k, "+Inf"), v.total, h.name, k, v.sum, h.name, k, v.total); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func labelString(names []string, values []string) string {
	if len(names) == 0 {
		return ""
	}
	parts := make([]string, len(names))
	for i, name := range names {
		val := "unknown"
		if i < len(values) && values[i] != "" {
			val = values[i]
		}
		parts[i] = name + "=\"" + escapeLabel(val) + "\""
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func escapeLabel(v string) string {
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	return strings.ReplaceAll(v, "\n", "\\n")
}

func withLe(labels string, le string) string {
	if labels == "" {
		return "{le=\"" + le + "\"}"
	}
	return strings.TrimSuffix(labels, "}") + ",le=\"" + le + "\"}"
}
