package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// PrometheusExporter accumulates exported DataPoints into an in-memory
// view keyed by metric name and label set, and serves it as Prometheus
// text exposition format.
type PrometheusExporter struct {
	mu     sync.RWMutex
	series map[string]map[string]promSeries
}

type promSeries struct {
	kind  Kind
	value float64
}

// NewPrometheusExporter creates an empty exporter.
func NewPrometheusExporter() *PrometheusExporter {
	return &PrometheusExporter{series: make(map[string]map[string]promSeries)}
}

// Name implements Exporter.
func (p *PrometheusExporter) Name() string { return "prometheus" }

// Flush is a no-op: the exporter is pull-based, so Export already leaves
// every sample visible to the next scrape.
func (p *PrometheusExporter) Flush(ctx context.Context) error { return nil }

// Shutdown is a no-op: the exporter holds no resources beyond its
// in-memory series, which is safe to drop with the process.
func (p *PrometheusExporter) Shutdown(ctx context.Context) error { return nil }

// Export implements Exporter: counters accumulate per label set, gauges
// and histogram observations are overwritten with the latest value.
func (p *PrometheusExporter) Export(ctx context.Context, points []DataPoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, dp := range points {
		byLabel, ok := p.series[dp.Name]
		if !ok {
			byLabel = make(map[string]promSeries)
			p.series[dp.Name] = byLabel
		}
		lk := labelKey(dp.Tags)
		if dp.Kind == KindCounter {
			cur := byLabel[lk]
			byLabel[lk] = promSeries{kind: dp.Kind, value: cur.value + dp.Value}
		} else {
			byLabel[lk] = promSeries{kind: dp.Kind, value: dp.Value}
		}
	}
	return nil
}

func labelKey(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, tags[k]))
	}
	return strings.Join(parts, ",")
}

// Handler returns an http.HandlerFunc serving the current view in
// Prometheus text exposition format.
func (p *PrometheusExporter) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.mu.RLock()
		defer p.mu.RUnlock()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		names := make([]string, 0, len(p.series))
		for name := range p.series {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			byLabel := p.series[name]
			metricName := sanitizeName(name)
			typeName := "gauge"
			for _, s := range byLabel {
				typeName = promType(s.kind)
				break
			}
			fmt.Fprintf(w, "# TYPE %s %s\n", metricName, typeName)

			labelKeys := make([]string, 0, len(byLabel))
			for lk := range byLabel {
				labelKeys = append(labelKeys, lk)
			}
			sort.Strings(labelKeys)
			for _, lk := range labelKeys {
				s := byLabel[lk]
				if lk == "" {
					fmt.Fprintf(w, "%s %v\n", metricName, s.value)
				} else {
					fmt.Fprintf(w, "%s{%s} %v\n", metricName, lk, s.value)
				}
			}
		}
	}
}

func sanitizeName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(name)
}

// promType maps a Kind onto one of Prometheus's text-exposition type
// tokens (counter, gauge, histogram, summary, untyped). Timer samples are
// exposed as a summary, the closest Prometheus native to "duration
// observation" when the full histogram bucket layout isn't tracked.
func promType(k Kind) string {
	switch k {
	case KindCounter:
		return "counter"
	case KindGauge:
		return "gauge"
	case KindHistogram:
		return "histogram"
	case KindTimer:
		return "summary"
	default:
		return "untyped"
	}
}
