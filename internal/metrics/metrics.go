// Package metrics exports scheduler activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"sort"
	"sync"

	// Packages
	prometheus "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/billie-coop/jobq/internal/queue"
)

///////////////////////////////////////////////////////////////////////////////
// CONSTANTS

const (
	namespace = "jobq"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// StatsFunc returns a point-in-time view of a scheduler. Scheduler.Stats
// satisfies it.
type StatsFunc func() queue.Stats

// Collector counts scheduler events and samples scheduler state on scrape.
// It is a queue.Observer and a prometheus.Collector.
type Collector struct {
	events  *prometheus.CounterVec
	pending *prometheus.GaugeVec

	slack      *prometheus.Desc
	watermarks *prometheus.Desc
	draining   *prometheus.Desc

	mu      sync.Mutex
	sources map[string]StatsFunc
}

var (
	_ queue.Observer       = (*Collector)(nil)
	_ prometheus.Collector = (*Collector)(nil)
)

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// New creates a collector. Register it with a prometheus.Registerer or use
// Handler.
func New() *Collector {
	return &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Scheduler events by kind",
		}, []string{"scheduler", "kind"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_items",
			Help:      "Live work items in the heap after the last event",
		}, []string{"scheduler"}),
		slack: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "heap_slack"),
			"Popped slots still allocated by the heap",
			[]string{"scheduler"}, nil,
		),
		watermarks: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "cancellation_watermarks"),
			"Contexts with a recorded cancellation watermark",
			[]string{"scheduler"}, nil,
		),
		draining: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "draining"),
			"1 while a drain episode is in flight",
			[]string{"scheduler"}, nil,
		),
		sources: make(map[string]StatsFunc),
	}
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Observe counts the event and updates the pending gauge.
func (c *Collector) Observe(ev queue.Event) {
	c.events.WithLabelValues(ev.Scheduler, string(ev.Kind)).Inc()
	switch ev.Kind {
	case queue.KindQueued, queue.KindDispatched, queue.KindCancelled, queue.KindSettled, queue.KindSinkPanic:
		c.pending.WithLabelValues(ev.Scheduler).Set(float64(ev.Pending))
	}
}

// Track samples stats on every scrape under the given scheduler name.
// Tracking the same name again replaces the previous source.
func (c *Collector) Track(scheduler string, stats StatsFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[scheduler] = stats
}

// Handler returns an HTTP handler serving the collector from a private
// registry.
func Handler(c *Collector) http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(c)
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead:
			handler.ServeHTTP(w, r)
		default:
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		}
	})
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - COLLECTOR

// Describe sends metric descriptors to the channel
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.events.Describe(ch)
	c.pending.Describe(ch)
	ch <- c.slack
	ch <- c.watermarks
	ch <- c.draining
}

// Collect sends counters and samples every tracked scheduler
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.events.Collect(ch)
	c.pending.Collect(ch)

	c.mu.Lock()
	names := make([]string, 0, len(c.sources))
	for name := range c.sources {
		names = append(names, name)
	}
	sources := make([]StatsFunc, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		sources = append(sources, c.sources[name])
	}
	c.mu.Unlock()

	for i, stats := range sources {
		st := stats()
		ch <- prometheus.MustNewConstMetric(c.slack, prometheus.GaugeValue, float64(st.Slack), names[i])
		ch <- prometheus.MustNewConstMetric(c.watermarks, prometheus.GaugeValue, float64(st.Watermarks), names[i])
		ch <- prometheus.MustNewConstMetric(c.draining, prometheus.GaugeValue, boolValue(st.Draining), names[i])
	}
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
