package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Event names recorded by the relay and its transports.
const (
	ConnectionsOpened = "connections_opened"
	ConnectionsClosed = "connections_closed"

	Searches      = "searches"
	SearchStops   = "search_stops"
	Skips         = "skips"
	PairsFormed   = "pairs_formed"
	PartnersLeft  = "partners_left"
	Relayed       = "relayed"
	SendFailures  = "send_failures"
	UnknownTarget = "unknown_connection"

	MessagesMalformed = "messages_malformed"
	MessagesNonText   = "messages_non_text"
)

// Drop reasons.
const (
	DropReasonTooManyConnections = "too_many_connections"
	DropReasonNoPartner          = "relay_no_partner"
	DropReasonOversized          = "message_oversized"
	DropReasonOriginRejected     = "origin_rejected"
)

const (
	eventsMetricName = "aero_roulette_relay_events_total"
	namespace        = "aero_roulette_relay"
)

// Metrics is a concurrency-safe event counter registry backed by a private
// Prometheus registry.
//
// A nil *Metrics is valid and discards everything.
type Metrics struct {
	reg    *prometheus.Registry
	events *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: eventsMetricName,
		Help: "Internal event counters.",
	}, []string{"event"})
	reg.MustRegister(
		events,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Metrics{reg: reg, events: events}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.events.WithLabelValues(name).Add(float64(n))
}

// Get returns the current value of the named counter, or 0 if it was never
// incremented.
func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	return m.Snapshot()[name]
}

// Snapshot returns every event counter that has been touched so far.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	ch := make(chan prometheus.Metric)
	go func() {
		m.events.Collect(ch)
		close(ch)
	}()
	for metric := range ch {
		var pb dto.Metric
		if err := metric.Write(&pb); err != nil {
			continue
		}
		for _, lp := range pb.GetLabel() {
			if lp.GetName() == "event" {
				out[lp.GetValue()] = uint64(pb.GetCounter().GetValue())
			}
		}
	}
	return out
}

// GaugeFunc registers a gauge whose value is read from fn at scrape time.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) error {
	if m == nil {
		return nil
	}
	return m.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// PrometheusHandler exposes m in Prometheus' text exposition format.
func PrometheusHandler(m *Metrics) http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
		})
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
