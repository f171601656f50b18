package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/page-provenance-crawler/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms follow the event stream.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Job: progress.JobExtract},
		{
			RunID:    runID,
			TS:       now,
			Stage:    progress.StageExtractDone,
			Job:      progress.JobExtract,
			PageID:   "about",
			Outcome:  progress.OutcomeExtracted,
			Attempts: 2,
			Dur:      1500 * time.Millisecond,
		},
		{
			RunID:   runID,
			TS:      now,
			Stage:   progress.StageExtractDone,
			Job:     progress.JobExtract,
			PageID:  "contact",
			Outcome: progress.OutcomeFailed,
			Class:   "timeout",
		},
		{RunID: runID, TS: now, Stage: progress.StagePageVisit, Job: progress.JobCrawl, URL: "https://s/#!/a"},
		{RunID: runID, TS: now, Stage: progress.StagePageSkip, Job: progress.JobCrawl, URL: "https://s/#!/b", Class: "timeout"},
		{RunID: runID, TS: now, Stage: progress.StagePageFound, Job: progress.JobCrawl, URL: "https://s/#!/a"},
		{RunID: runID, TS: now, Stage: progress.StageRunDone, Job: progress.JobExtract, Dur: time.Minute},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted.WithLabelValues("extract")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("extract")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.extractions.WithLabelValues("extracted")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.extractions.WithLabelValues("failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pagesVisited))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pagesSkipped.WithLabelValues("timeout")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pagesDiscovered))
	require.Equal(t, 1, testutil.CollectAndCount(sink.extractAttempts, "provenance_extraction_attempts"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestLogSinkWritesFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	evt := progress.Event{
		RunID:  progress.UUIDToBytes(uuid.New()),
		TS:     time.Now(),
		Stage:  progress.StagePageFound,
		Job:    progress.JobCrawl,
		URL:    "https://s/#!/about",
		PageID: "about",
	}
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{evt}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.FilterMessage("progress event").All()
	require.Len(t, entries, 1)
	require.Equal(t, "about", entries[0].ContextMap()["page_id"])
}
