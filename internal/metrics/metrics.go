package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records service activity.
type Metrics interface {
	RequestServed(endpoint string)
	RequestDenied(endpoint, reason string)
	CreditsDebited(amount int64)
	CreditsReconciled(amount int64, transactions int)
	SampleRecorded()
	ObserveOracle(d time.Duration, err error)
}

// Denial reasons.
const (
	ReasonIPLimit      = "ip_limit"
	ReasonNoCredit     = "no_credit"
	ReasonOrigin       = "origin"
	ReasonUnauthorized = "unauthorized"
	ReasonNoIdentity   = "no_identity"
	ReasonSession      = "session"
	ReasonThrottled    = "throttled"
)

// Prometheus exports metrics on its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	served       *prometheus.CounterVec
	denied       *prometheus.CounterVec
	debited      prometheus.Counter
	reconciled   prometheus.Counter
	transactions prometheus.Counter
	samples      prometheus.Counter
	oracle       *prometheus.HistogramVec
}

// NewPrometheus creates and registers all collectors, plus Go runtime and process collectors.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		served: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gas_oracle_requests_served_total",
			Help: "Metered requests served by endpoint",
		}, []string{"endpoint"}),
		denied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gas_oracle_requests_denied_total",
			Help: "Metered requests denied by endpoint and reason",
		}, []string{"endpoint", "reason"}),
		debited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gas_oracle_credits_debited_total",
			Help: "Credits charged for requests over the free limit",
		}),
		reconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gas_oracle_credits_reconciled_total",
			Help: "Credits added from on-chain deposits",
		}),
		transactions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gas_oracle_deposits_reconciled_total",
			Help: "On-chain deposit transactions applied",
		}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gas_oracle_history_samples_total",
			Help: "Price samples written to history",
		}),
		oracle: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gas_oracle_upstream_latency_seconds",
			Help:    "Latency of price oracle fetches",
			Buckets: prometheus.ExponentialBuckets(0.005, 2.0, 12),
		}, []string{"result"}),
	}

	p.registry.MustRegister(
		p.served,
		p.denied,
		p.debited,
		p.reconciled,
		p.transactions,
		p.samples,
		p.oracle,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *Prometheus) RequestServed(endpoint string) {
	p.served.WithLabelValues(endpoint).Inc()
}

func (p *Prometheus) RequestDenied(endpoint, reason string) {
	p.denied.WithLabelValues(endpoint, reason).Inc()
}

func (p *Prometheus) CreditsDebited(amount int64) {
	p.debited.Add(float64(amount))
}

func (p *Prometheus) CreditsReconciled(amount int64, transactions int) {
	p.reconciled.Add(float64(amount))
	p.transactions.Add(float64(transactions))
}

func (p *Prometheus) SampleRecorded() {
	p.samples.Inc()
}

func (p *Prometheus) ObserveOracle(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.oracle.WithLabelValues(result).Observe(d.Seconds())
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (NoopMetrics) RequestServed(string)               {}
func (NoopMetrics) RequestDenied(string, string)       {}
func (NoopMetrics) CreditsDebited(int64)               {}
func (NoopMetrics) CreditsReconciled(int64, int)       {}
func (NoopMetrics) SampleRecorded()                    {}
func (NoopMetrics) ObserveOracle(time.Duration, error) {}
