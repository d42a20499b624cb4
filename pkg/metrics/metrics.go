// Package metrics exposes daemon counters for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bracket_qos"

// Shaper holds the collectors updated by the build pipeline and the
// reconciliation loop.
type Shaper struct {
	Registry *prometheus.Registry

	Builds          *prometheus.CounterVec // result: ok, error
	Ticks           *prometheus.CounterVec // outcome: applied, skipped, fallback, failed
	CompileFailures prometheus.Counter
	ClassesApplied  prometheus.Gauge
	BindingsApplied prometheus.Gauge
	ShapedClients   prometheus.Gauge
	DuplicateIPs    prometheus.Gauge
	UnmappedClients prometheus.Gauge
	LastApply       prometheus.Gauge
}

// New registers a fresh set of collectors on their own registry.
func New() *Shaper {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Shaper{
		Registry: reg,
		Builds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "builds_total", Help: "Queue tree builds by result.",
		}, []string{"result"}),
		Ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconcile_ticks_total", Help: "Reconciliation cycles by outcome.",
		}, []string{"outcome"}),
		CompileFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "compile_subtree_failures_total", Help: "Subtrees skipped because a kernel operation failed.",
		}),
		ClassesApplied: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "classes_applied", Help: "Classes created by the last apply.",
		}),
		BindingsApplied: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ip_bindings_applied", Help: "IP to class bindings created by the last apply.",
		}),
		ShapedClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "shaped_clients", Help: "Client queues in the applied tree.",
		}),
		DuplicateIPs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "duplicate_ips", Help: "Addresses claimed by more than one client in the last build.",
		}),
		UnmappedClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "unmapped_clients", Help: "Clients without a tower parent in the last build.",
		}),
		LastApply: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_apply_timestamp_seconds", Help: "Unix time of the last successful apply.",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (s *Shaper) Handler() http.Handler {
	return promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{Registry: s.Registry})
}
