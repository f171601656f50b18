package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/page-provenance-crawler/internal/progress"
)

// PrometheusSink exports run progress via Prometheus. It owns the run,
// discovery and extraction collectors.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	pagesVisited    prometheus.Counter
	pagesSkipped    *prometheus.CounterVec
	pagesDiscovered prometheus.Counter

	extractions       *prometheus.CounterVec
	extractAttempts   prometheus.Histogram
	extractionSeconds *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provenance_runs_started_total",
			Help: "Runs started partitioned by job.",
		}, []string{"job"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provenance_runs_completed_total",
			Help: "Runs completed partitioned by job.",
		}, []string{"job"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provenance_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 2400, 3600},
		}, []string{"job"}),
		pagesVisited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "provenance_crawl_pages_visited_total",
			Help: "Pages rendered during discovery.",
		}),
		pagesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provenance_crawl_pages_skipped_total",
			Help: "Pages skipped during discovery partitioned by failure class.",
		}, []string{"class"}),
		pagesDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "provenance_crawl_pages_discovered_total",
			Help: "Routed pages recorded during discovery.",
		}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provenance_extractions_total",
			Help: "Extractions partitioned by outcome.",
		}, []string{"outcome"}),
		extractAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "provenance_extraction_attempts",
			Help:    "Oracle attempts spent per extraction.",
			Buckets: []float64{1, 2, 3, 4, 6, 9},
		}),
		extractionSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provenance_extraction_duration_seconds",
			Help:    "Extraction latency partitioned by outcome.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40},
		}, []string{"outcome"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runDuration,
		s.pagesVisited,
		s.pagesSkipped,
		s.pagesDiscovered,
		s.extractions,
		s.extractAttempts,
		s.extractionSeconds,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	job := string(evt.Job)
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.WithLabelValues(job).Inc()
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues(job).Inc()
		if evt.Dur > 0 {
			s.runDuration.WithLabelValues(job).Observe(evt.Dur.Seconds())
		}
	case progress.StagePageVisit:
		s.pagesVisited.Inc()
	case progress.StagePageSkip:
		class := evt.Class
		if class == "" {
			class = "unexpected"
		}
		s.pagesSkipped.WithLabelValues(class).Inc()
	case progress.StagePageFound:
		s.pagesDiscovered.Inc()
	case progress.StageExtractDone:
		outcome := string(evt.Outcome)
		s.extractions.WithLabelValues(outcome).Inc()
		if evt.Attempts > 0 {
			s.extractAttempts.Observe(float64(evt.Attempts))
		}
		if evt.Dur > 0 {
			s.extractionSeconds.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
