// Package metrics exposes cache and upstream counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "homeboard"

// Collector implements coordinator.Metrics on a private registry.
type Collector struct {
	reg *prometheus.Registry

	hits        *prometheus.CounterVec
	misses      *prometheus.CounterVec
	fetchErrors *prometheus.CounterVec
	refreshes   *prometheus.CounterVec
	quoteServes *prometheus.CounterVec
	purged      prometheus.Counter
}

func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total",
			Help: "Requests answered from the cache store.",
		}, []string{"domain"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total",
			Help: "Requests that required an upstream fetch.",
		}, []string{"domain"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "upstream", Name: "errors_total",
			Help: "Failed upstream fetches or cache writes.",
		}, []string{"domain"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "refreshes_total",
			Help: "Forced refreshes.",
		}, []string{"domain"}),
		quoteServes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "quotes", Name: "served_total",
			Help: "Quote responses by source (fresh, cached, stale).",
		}, []string{"source"}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "purged_total",
			Help: "Entries physically removed by the purger.",
		}),
	}
	c.reg.MustRegister(
		c.hits, c.misses, c.fetchErrors, c.refreshes, c.quoteServes, c.purged,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Hit(domain string)        { c.hits.WithLabelValues(domain).Inc() }
func (c *Collector) Miss(domain string)       { c.misses.WithLabelValues(domain).Inc() }
func (c *Collector) FetchError(domain string) { c.fetchErrors.WithLabelValues(domain).Inc() }
func (c *Collector) Refresh(domain string)    { c.refreshes.WithLabelValues(domain).Inc() }

// QuoteServed counts a /quotes response by where it came from.
func (c *Collector) QuoteServed(source string) { c.quoteServes.WithLabelValues(source).Inc() }

// Purged adds n to the purged entries counter.
func (c *Collector) Purged(n int64) {
	if n > 0 {
		c.purged.Add(float64(n))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}
