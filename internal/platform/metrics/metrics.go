package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sendwatch/go-backend/internal/domains/sendresult"
)

const namespace = "sendwatch"

// Recorder implements sendresult.Metrics on prometheus collectors.
type Recorder struct {
	gatherer      prometheus.Gatherer
	outcomes      *prometheus.CounterVec
	ignored       *prometheus.CounterVec
	active        prometheus.Gauge
	duration      *prometheus.HistogramVec
	rpcRequests   *prometheus.CounterVec
	rateLimited   prometheus.Counter
	streamClients prometheus.Gauge
}

var _ sendresult.Metrics = (*Recorder)(nil)

// New registers the collectors on a fresh registry. Use NewWithRegistry to
// share one.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg, reg)
}

func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Recorder {
	r := &Recorder{
		gatherer: gatherer,
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_outcomes_total",
			Help:      "Send results delivered, by outcome. Caller aborts count as none.",
		}, []string{"outcome"}),
		ignored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_changes_ignored_total",
			Help:      "Store change notifications that did not end a watch, by reason.",
		}, []string{"reason"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watches_active",
			Help:      "Watches currently armed.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "watch_duration_seconds",
			Help:      "Time from arming a watch to its outcome.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
		rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "JSON-RPC requests by method and result.",
		}, []string{"method", "result"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_rate_limited_total",
			Help:      "Requests rejected by the per-client rate limit.",
		}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outcome_stream_clients",
			Help:      "Connected outcome stream clients.",
		}),
	}
	reg.MustRegister(r.outcomes, r.ignored, r.active, r.duration, r.rpcRequests, r.rateLimited, r.streamClients)
	return r
}

func (r *Recorder) WatchStarted() {
	r.active.Inc()
}

func (r *Recorder) WatchFinished(outcome sendresult.Outcome, elapsed time.Duration) {
	r.active.Dec()
	label := outcome.String()
	r.outcomes.WithLabelValues(label).Inc()
	r.duration.WithLabelValues(label).Observe(elapsed.Seconds())
}

func (r *Recorder) ChangeIgnored(reason string) {
	r.ignored.WithLabelValues(reason).Inc()
}

func (r *Recorder) RPCRequest(method string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	r.rpcRequests.WithLabelValues(method, result).Inc()
}

func (r *Recorder) RateLimited() {
	r.rateLimited.Inc()
}

func (r *Recorder) StreamClientConnected() {
	r.streamClients.Inc()
}

func (r *Recorder) StreamClientDisconnected() {
	r.streamClients.Dec()
}

// Handler serves the registry in the prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
