package prometrics

import (
	"github.com/Zhima-Mochi/minishop-allocation/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
)

type descriptor struct {
	help    string
	labels  []string
	buckets []float64 // nil for counters
}

// catalog lists every metric the service emits.
var catalog = map[observability.MetricKey]descriptor{
	observability.MBusMessages: {
		help: "Messages processed by the bus.", labels: []string{"kind", "message", "outcome"},
	},
	observability.MUowCommits: {
		help: "Unit of work commit attempts.", labels: []string{"outcome"},
	},
	observability.MHTTPRequests: {
		help: "HTTP requests served.", labels: []string{"method", "route", "status"},
	},
	observability.MExternalRequests: {
		help: "Calls to external peers.", labels: []string{"peer", "endpoint", "outcome"},
	},
	observability.MBusHandlerDuration: {
		help: "Duration of a single bus handler invocation in seconds.", labels: []string{"message", "handler"},
		buckets: prometheus.DefBuckets,
	},
	observability.MHTTPRequestDuration: {
		help: "Duration of HTTP requests in seconds.", labels: []string{"method", "route", "status"},
		buckets: prometheus.DefBuckets,
	},
	observability.MExternalRequestDuration: {
		help: "Duration of calls to external peers in seconds.", labels: []string{"peer", "endpoint"},
		buckets: prometheus.DefBuckets,
	},
}

// Registry registers the catalog on a prometheus registerer and serves it
// through the observability.Metrics port.
type Registry struct {
	counters   map[observability.MetricKey]*prometheus.CounterVec
	histograms map[observability.MetricKey]*prometheus.HistogramVec
}

// New registers every catalog metric on reg; a nil reg means the process-wide
// default registerer. It panics if a metric is already registered on reg.
func New(reg prometheus.Registerer, namespace string) *Registry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Registry{
		counters:   make(map[observability.MetricKey]*prometheus.CounterVec),
		histograms: make(map[observability.MetricKey]*prometheus.HistogramVec),
	}
	for key, d := range catalog {
		if d.buckets == nil {
			cv := prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace, Name: string(key), Help: d.help,
			}, d.labels)
			reg.MustRegister(cv)
			r.counters[key] = cv
			continue
		}
		hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: string(key), Help: d.help, Buckets: d.buckets,
		}, d.labels)
		reg.MustRegister(hv)
		r.histograms[key] = hv
	}
	return r
}

// Counter returns the counter for key, or a no-op for keys outside the catalog.
func (r *Registry) Counter(key observability.MetricKey) observability.Counter {
	if cv, ok := r.counters[key]; ok {
		return counter{v: cv}
	}
	return observability.NopCounter()
}

// Histogram returns the histogram for key, or a no-op for keys outside the catalog.
func (r *Registry) Histogram(key observability.MetricKey) observability.Histogram {
	if hv, ok := r.histograms[key]; ok {
		return histogram{v: hv}
	}
	return observability.NopHistogram()
}

type counter struct{ v *prometheus.CounterVec }

func (c counter) Add(d float64, labels ...observability.Label) {
	c.v.With(labelMap(labels)).Add(d)
}

type histogram struct{ v *prometheus.HistogramVec }

func (h histogram) Observe(v float64, labels ...observability.Label) {
	h.v.With(labelMap(labels)).Observe(v)
}

func labelMap(ls []observability.Label) prometheus.Labels {
	m := make(prometheus.Labels, len(ls))
	for _, l := range ls {
		m[l.Key] = l.Value
	}
	return m
}

var _ observability.Metrics = (*Registry)(nil)
