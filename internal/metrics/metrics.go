// Package metrics records GitHub API calls and pipeline outcomes in Prometheus format.
// A CLI process exits after one run, so metrics are exported with WriteTextfile
// for the node_exporter textfile collector rather than served over HTTP.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OutcomeSuccess labels a run that produced a token
const OutcomeSuccess = "success"

// Coder is implemented by errors that carry a stable code (ghapptoken.ClientError)
type Coder interface {
	error
	ErrorCode() string
}

// Recorder holds the tool's metrics on a private registry
type Recorder struct {
	registry *prometheus.Registry

	// requestsTotal counts HTTP calls by call and status ("error" when no response arrived)
	requestsTotal *prometheus.CounterVec

	// requestFailures counts HTTP calls that returned an error, including non-2xx responses
	requestFailures *prometheus.CounterVec

	// requestDuration observes HTTP call latency by call
	requestDuration *prometheus.HistogramVec

	// exchangesTotal counts pipeline runs by outcome
	exchangesTotal *prometheus.CounterVec

	// lastSuccess is the unix time of the last successful run
	lastSuccess prometheus.Gauge
}

// NewRecorder creates a Recorder with its own registry
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghapp_token_http_requests_total",
				Help: "GitHub API requests issued by ghapp-token",
			},
			[]string{"call", "status"},
		),
		requestFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghapp_token_http_request_failures_total",
				Help: "GitHub API requests that failed, by call",
			},
			[]string{"call"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ghapp_token_http_request_duration_seconds",
				Help:    "Duration of GitHub API requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"call"},
		),
		exchangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghapp_token_exchanges_total",
				Help: "Token pipeline runs by outcome",
			},
			[]string{"outcome"},
		),
		lastSuccess: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ghapp_token_last_success_timestamp_seconds",
				Help: "Unix time of the last successful token issue",
			},
		),
	}
}

// ObserveRequest implements ghapptoken.Observer
func (r *Recorder) ObserveRequest(call string, duration time.Duration, statusCode int, err error) {
	status := "error"
	if statusCode != 0 {
		status = strconv.Itoa(statusCode)
	}
	r.requestsTotal.WithLabelValues(call, status).Inc()
	if err != nil {
		r.requestFailures.WithLabelValues(call).Inc()
	}
	r.requestDuration.WithLabelValues(call).Observe(duration.Seconds())
}

// ObserveExchange records a finished run. Errors are labelled by their code when they carry one.
func (r *Recorder) ObserveExchange(now time.Time, err error) {
	if err == nil {
		r.exchangesTotal.WithLabelValues(OutcomeSuccess).Inc()
		r.lastSuccess.Set(float64(now.Unix()))
		return
	}

	outcome := "UNKNOWN_ERROR"
	var coder Coder
	if errors.As(err, &coder) {
		outcome = coder.ErrorCode()
	}
	r.exchangesTotal.WithLabelValues(outcome).Inc()
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile atomically writes all metrics to path
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
