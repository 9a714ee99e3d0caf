// Package metrics exports coordinator activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/e7canasta/reelcore/modules/coordinator"
	"github.com/e7canasta/reelcore/modules/prefetch"
)

const namespace = "reel"

// Collector implements coordinator.Observer on top of its own registry.
type Collector struct {
	registry *prometheus.Registry

	transitions  *prometheus.CounterVec
	requests     *prometheus.CounterVec
	completions  *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	releases     *prometheus.CounterVec
	violations   prometheus.Counter
	systemReady  prometheus.Gauge
	globalEvents prometheus.Counter
	planned      prometheus.Histogram
}

// New creates a Collector. A nil registry gets a fresh one with the Go and
// process collectors registered.
func New(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "item",
			Name:      "transitions_total",
			Help:      "Published item phase transitions by target phase.",
		}, []string{"phase"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handle",
			Name:      "requests_total",
			Help:      "Handle creation requests by purpose and depth.",
		}, []string{"purpose", "depth"}),
		completions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handle",
			Name:      "completions_total",
			Help:      "Handle creation completions by purpose and result.",
		}, []string{"purpose", "result"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "handle",
			Name:      "create_seconds",
			Help:      "Time from handle request to completion.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"purpose"}),
		releases: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handle",
			Name:      "releases_total",
			Help:      "Released handles by reason.",
		}, []string{"reason"}),
		violations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Rejected attempts to activate an item that is not the target.",
		}),
		systemReady: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "system_ready",
			Help:      "1 when the host process is active and focused.",
		}),
		globalEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "global_events_total",
			Help:      "Settled system-ready changes.",
		}),
		planned: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "prefetch",
			Name:      "hints",
			Help:      "Prefetch hints per planning pass.",
			Buckets:   prometheus.LinearBuckets(0, 1, 9),
		}),
	}
}

// Registry returns the registry metrics are registered on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// SetSystemReady seeds the gauge before the first global event.
func (c *Collector) SetSystemReady(ready bool) {
	c.systemReady.Set(boolGauge(ready))
}

func (c *Collector) ItemTransition(tr coordinator.Transition) {
	c.transitions.WithLabelValues(tr.To.String()).Inc()
}

func (c *Collector) GlobalChanged(ev coordinator.GlobalEvent) {
	c.globalEvents.Inc()
	c.systemReady.Set(boolGauge(ev.SystemReady))
}

func (c *Collector) HandleRequested(purpose coordinator.Purpose, depth prefetch.Depth) {
	c.requests.WithLabelValues(purpose.String(), depth.String()).Inc()
}

func (c *Collector) HandleCompleted(purpose coordinator.Purpose, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.completions.WithLabelValues(purpose.String(), result).Inc()
	c.latency.WithLabelValues(purpose.String()).Observe(elapsed.Seconds())
}

func (c *Collector) HandleReleased(reason string) {
	c.releases.WithLabelValues(reason).Inc()
}

func (c *Collector) InvariantViolation(string) {
	c.violations.Inc()
}

func (c *Collector) Planned(hints int) {
	c.planned.Observe(float64(hints))
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

var _ coordinator.Observer = (*Collector)(nil)
