// Package monitoring exposes the hub's prometheus metrics
package monitoring

import (
	"net/http"
	"time"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/bus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	nuts "github.com/vaudience/go-nuts"
)

// Service holds the hub metrics in a private registry
type Service struct {
	registry *prometheus.Registry

	payloads       *prometheus.CounterVec
	measures       *prometheus.CounterVec
	flushes        *prometheus.CounterVec
	flushDocuments *prometheus.HistogramVec
	flushLatency   *prometheus.HistogramVec
	links          *prometheus.CounterVec
	reconcileQueue prometheus.Gauge
	pendingWrites  prometheus.GaugeFunc
}

// NewService registers the hub metrics. pending, when set, reports the
// number of documents waiting in the batch buffer.
func NewService(pending func() int) *Service {
	s := &Service{
		registry: prometheus.NewRegistry(),
		payloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicehub_payloads_total",
			Help: "Payload ingestion attempts by recorded state.",
		}, []string{"state"}),
		measures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicehub_measures_registered_total",
			Help: "Measurements registered by origin type.",
		}, []string{"origin"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicehub_batch_flushes_total",
			Help: "Bulk calls made by the write buffer, by operation and result.",
		}, []string{"op", "result"}),
		flushDocuments: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "devicehub_batch_flush_documents",
			Help:    "Documents per bulk call.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 6),
		}, []string{"op"}),
		flushLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "devicehub_batch_flush_seconds",
			Help:    "Duration of bulk calls.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"op"}),
		links: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicehub_link_operations_total",
			Help: "Completed device state transitions.",
		}, []string{"operation"}),
		reconcileQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "devicehub_reconcile_queue_length",
			Help: "Devices waiting for their tenant copy to be reconciled.",
		}),
	}
	s.registry.MustRegister(s.payloads, s.measures, s.flushes, s.flushDocuments, s.flushLatency, s.links, s.reconcileQueue)
	if pending != nil {
		s.pendingWrites = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "devicehub_batch_pending_documents",
			Help: "Documents waiting in the write buffer.",
		}, func() float64 { return float64(pending()) })
		s.registry.MustRegister(s.pendingWrites)
	}
	return s
}

// Registry is the registry the metrics live in
func (s *Service) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the metrics in the prometheus text format
func (s *Service) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

// ObserveFlush implements batch.Observer
func (s *Service) ObserveFlush(op string, documents int, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.flushes.WithLabelValues(op, result).Inc()
	s.flushDocuments.WithLabelValues(op).Observe(float64(documents))
	s.flushLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// SetReconcileQueue matches reconcile.Options.OnQueue
func (s *Service) SetReconcileQueue(depth int) {
	s.reconcileQueue.Set(float64(depth))
}

// Subscribe counts the hub events published on b
func (s *Service) Subscribe(b *bus.Bus) {
	const listener = "monitoring"
	b.On(bus.EventPayloadRecorded, listener, func(args ...interface{}) {
		if state, ok := firstString(args); ok {
			s.payloads.WithLabelValues(state).Inc()
		}
	})
	b.On(bus.EventMeasuresIngested, listener, func(args ...interface{}) {
		origin, ok := firstString(args)
		if !ok || len(args) < 2 {
			return
		}
		if n, ok := args[1].(int); ok {
			s.measures.WithLabelValues(origin).Add(float64(n))
		}
	})
	for _, event := range []string{
		bus.EventDeviceProvisioned,
		bus.EventDeviceAttached,
		bus.EventDeviceDetached,
		bus.EventDeviceLinked,
		bus.EventDeviceUnlinked,
		bus.EventAssetDeleted,
	} {
		event := event
		b.On(event, listener, func(args ...interface{}) {
			s.links.WithLabelValues(event).Inc()
			if id, ok := firstString(args); ok {
				nuts.L.Debugf("[Monitoring] %s %s", event, id)
			}
		})
	}
}

func firstString(args []interface{}) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	s, ok := args[0].(string)
	return s, ok
}
