package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type counterKey struct {
	resource string
	event    string
}

type gaugeKey struct {
	resource  string
	event     string
	partition string
}

// Store is the metrics sink: counters and gauges addressed by
// (resource id, event name[, partition]). It keeps its own values
// because the dropped_queue_full correction needs a negative counter
// add, which prometheus CounterVec refuses; the store exposes the
// result as const metrics through the Collector interface instead.
type Store struct {
	mu       sync.Mutex
	counters map[counterKey]int64
	gauges   map[gaugeKey]int64

	counterDesc *prometheus.Desc
	gaugeDesc   *prometheus.Desc
}

func NewStore(reg prometheus.Registerer) *Store {
	s := &Store{
		counters: make(map[counterKey]int64),
		gauges:   make(map[gaugeKey]int64),
		counterDesc: prometheus.NewDesc(
			"kbridge_events_total",
			"Producer bridge event counters.",
			[]string{"resource", "event"}, nil,
		),
		gaugeDesc: prometheus.NewDesc(
			"kbridge_state",
			"Producer bridge state gauges.",
			[]string{"resource", "event", "partition"}, nil,
		),
	}
	if reg != nil {
		reg.MustRegister(s)
	}
	return s
}

func (s *Store) CounterAdd(resource, event string, v int64) {
	s.mu.Lock()
	s.counters[counterKey{resource, event}] += v
	s.mu.Unlock()
}

func (s *Store) GaugeSet(resource, event, partition string, v int64) {
	s.mu.Lock()
	s.gauges[gaugeKey{resource, event, partition}] = v
	s.mu.Unlock()
}

func (s *Store) Counter(resource, event string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[counterKey{resource, event}]
}

func (s *Store) Gauge(resource, event, partition string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gauges[gaugeKey{resource, event, partition}]
}

// Forget drops every series of a resource; called after a bridge is
// torn down for good.
func (s *Store) Forget(resource string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.counters {
		if k.resource == resource {
			delete(s.counters, k)
		}
	}
	for k := range s.gauges {
		if k.resource == resource {
			delete(s.gauges, k)
		}
	}
}

// ---------------------------------------------------------------------------
// prometheus.Collector
// ---------------------------------------------------------------------------

func (s *Store) Describe(ch chan<- *prometheus.Desc) {
	ch <- s.counterDesc
	ch <- s.gaugeDesc
}

func (s *Store) Collect(ch chan<- prometheus.Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.counters {
		ch <- prometheus.MustNewConstMetric(
			s.counterDesc, prometheus.CounterValue, float64(v), k.resource, k.event)
	}
	for k, v := range s.gauges {
		ch <- prometheus.MustNewConstMetric(
			s.gaugeDesc, prometheus.GaugeValue, float64(v), k.resource, k.event, k.partition)
	}
}
