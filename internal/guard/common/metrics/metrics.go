package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "egress_guard"

// Event outcomes recorded by the monitor loop.
const (
	OutcomeSkipped    = "parse_skip"
	OutcomeTrusted    = "trusted"
	OutcomeSuspicious = "suspicious"
)

// Recorder receives counters from the monitor loop. A nil *Registry is a valid no-op Recorder.
type Recorder interface {
	Event(outcome string)
	Resolution(ok bool)
	Firewall(result string)
	AuditFailure()
}

// Registry owns an isolated Prometheus registry and the guard's collectors.
type Registry struct {
	reg          *prometheus.Registry
	events       *prometheus.CounterVec
	resolutions  *prometheus.CounterVec
	firewall     *prometheus.CounterVec
	auditFailure prometheus.Counter
}

// New builds a Registry with all collectors registered.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Flow events processed, by classification outcome.",
		}, []string{"outcome"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Hostname resolutions attempted, by result.",
		}, []string{"result"}),
		firewall: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "firewall_actions_total",
			Help:      "Firewall block attempts, by result.",
		}, []string{"result"}),
		auditFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_failures_total",
			Help:      "Audit log appends that failed.",
		}),
	}
	r.reg.MustRegister(r.events, r.resolutions, r.firewall, r.auditFailure)
	return r
}

func (r *Registry) Event(outcome string) {
	if r == nil {
		return
	}
	r.events.WithLabelValues(outcome).Inc()
}

func (r *Registry) Resolution(ok bool) {
	if r == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	r.resolutions.WithLabelValues(result).Inc()
}

func (r *Registry) Firewall(result string) {
	if r == nil {
		return
	}
	r.firewall.WithLabelValues(result).Inc()
}

func (r *Registry) AuditFailure() {
	if r == nil {
		return
	}
	r.auditFailure.Inc()
}

// Gatherer exposes the underlying registry, mostly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// NewServer creates an HTTP server serving /metrics and /healthz.
func (r *Registry) NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:    addr,
		Handler: mux,
	}
}
