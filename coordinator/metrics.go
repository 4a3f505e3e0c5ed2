package coordinator

import (
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/temoto/adcview/helpers"
	"github.com/temoto/adcview/telemetry"
)

const metricsNamespace = "adcview"

type Metrics struct {
	Samples      *prometheus.CounterVec // by mode
	Discarded    *prometheus.CounterVec // by reason
	PullFailures prometheus.Counter
	PullSkipped  prometheus.Counter
	Fallbacks    *prometheus.CounterVec // by reason
	State        prometheus.Gauge
	Buffered     *prometheus.GaugeVec // by channel
}

// NewMetrics creates collectors and registers them in reg. Nil reg skips registration.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "samples_total",
			Help:      "Samples inserted into channel buffers",
		}, []string{"mode"}),
		Discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "samples_discarded_total",
			Help:      "Samples not inserted into channel buffers",
		}, []string{"reason"}),
		PullFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pull_failures_total",
			Help:      "Failed pull requests",
		}),
		PullSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pull_backoff_skipped_ticks_total",
			Help:      "Ticks without pull request due to failure back-off",
		}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fallbacks_total",
			Help:      "Switches from push to pull transport",
		}, []string{"reason"}),
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "coordinator_state",
			Help:      "0=attempting-push 1=push-active 2=polling-fallback 3=session-ended",
		}),
		Buffered: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "buffered_samples",
			Help:      "Samples currently in channel window",
		}, []string{"channel"}),
	}
	if reg == nil {
		return m, nil
	}
	errs := make([]error, 0)
	for _, c := range []prometheus.Collector{m.Samples, m.Discarded, m.PullFailures, m.PullSkipped, m.Fallbacks, m.State, m.Buffered} {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	if err := helpers.FoldErrors(errs); err != nil {
		return nil, errors.Annotate(err, "metrics register")
	}
	return m, nil
}

// RegisterTransportStat exports expvar transport counters as prometheus counters.
func RegisterTransportStat(reg prometheus.Registerer, transport string, stat *telemetry.TransportStat) error {
	labels := prometheus.Labels{"transport": transport}
	counter := func(name, help string, fun func() int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return float64(fun()) })
	}
	errs := make([]error, 0)
	for _, c := range []prometheus.Collector{
		counter("transport_frames_total", "Frames or responses received", stat.Frames.Value),
		counter("transport_bytes_total", "Payload bytes received", stat.Bytes.Value),
		counter("transport_samples_total", "Samples decoded", stat.Samples.Value),
		counter("transport_malformed_total", "Undecodable frames", stat.Malformed.Value),
		counter("transport_ignored_total", "Frames or keys without samples", stat.Ignored.Value),
		counter("transport_errors_total", "Transport failures", stat.Errors.Value),
	} {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Annotatef(helpers.FoldErrors(errs), "metrics register transport=%s", transport)
}

func RegisterQueue(reg prometheus.Registerer, q *telemetry.Queue) error {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "queue_depth",
		Help:      "Events waiting in ingestion queue",
	}, func() float64 { return float64(q.Len()) })
	return errors.Annotate(reg.Register(g), "metrics register queue")
}
