package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bmsevents/event-ingestor/internal/progress"
)

// PrometheusSink turns progress events into cycle and backend collectors.
type PrometheusSink struct {
	cyclesStarted   prometheus.Counter
	cyclesCompleted *prometheus.CounterVec
	cyclesRunning   prometheus.Gauge
	cycleRuntime    *prometheus.HistogramVec

	backendBatches  *prometheus.CounterVec
	backendRecords  *prometheus.CounterVec
	backendBytes    *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec

	mu      sync.Mutex
	running map[[16]byte]struct{}
}

// NewPrometheusSink registers the collectors on reg (default registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		cyclesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestor_cycles_started_total",
			Help: "Scrape cycles started.",
		}),
		cyclesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestor_cycles_completed_total",
			Help: "Scrape cycles completed by result.",
		}, []string{"result"}),
		cyclesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingestor_cycles_running",
			Help: "Scrape cycles currently running.",
		}),
		cycleRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingestor_cycle_runtime_seconds",
			Help:    "Wall time per completed cycle.",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400},
		}, []string{"result"}),
		backendBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestor_backend_batches_total",
			Help: "Backend batches finished by backend and result.",
		}, []string{"backend", "result"}),
		backendRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestor_backend_records_total",
			Help: "Events saved per backend.",
		}, []string{"backend"}),
		backendBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestor_backend_bytes_total",
			Help: "Response bytes received per backend.",
		}, []string{"backend"}),
		backendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingestor_backend_duration_seconds",
			Help:    "Backend task duration by result.",
			Buckets: []float64{0.1, 1, 10, 60, 300, 900, 3600, 14400},
		}, []string{"backend", "result"}),
		running: make(map[[16]byte]struct{}),
	}
	for _, c := range []prometheus.Collector{
		s.cyclesStarted, s.cyclesCompleted, s.cyclesRunning, s.cycleRuntime,
		s.backendBatches, s.backendRecords, s.backendBytes, s.backendDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageCycleStart:
			s.cyclesStarted.Inc()
			if s.track(evt.CycleID, true) {
				s.cyclesRunning.Inc()
			}
		case progress.StageCycleDone:
			s.finishCycle(evt, "success")
		case progress.StageCycleError:
			s.finishCycle(evt, "error")
		case progress.StageBackendDone:
			s.finishBackend(evt, "success")
		case progress.StageBackendError:
			s.finishBackend(evt, "error")
		}
	}
	return nil
}

func (s *PrometheusSink) finishCycle(evt progress.Event, result string) {
	s.cyclesCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.cycleRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.track(evt.CycleID, false) {
		s.cyclesRunning.Dec()
	}
}

func (s *PrometheusSink) finishBackend(evt progress.Event, result string) {
	s.backendBatches.WithLabelValues(evt.Backend, result).Inc()
	if evt.Records > 0 {
		s.backendRecords.WithLabelValues(evt.Backend).Add(float64(evt.Records))
	}
	if evt.Bytes > 0 {
		s.backendBytes.WithLabelValues(evt.Backend).Add(float64(evt.Bytes))
	}
	s.backendDuration.WithLabelValues(evt.Backend, result).Observe(evt.Dur.Seconds())
}

// track adds or removes a running cycle and reports whether the set changed.
func (s *PrometheusSink) track(id [16]byte, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	if start {
		if ok {
			return false
		}
		s.running[id] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.running, id)
	return true
}

// Close is a no-op.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
