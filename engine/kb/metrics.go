package kb

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce          sync.Once
	metricsMu            sync.Mutex
	metricsInitErr       error
	ingestDurationHist   metric.Float64Histogram
	chunkCounter         metric.Int64Counter
	duplicateCounter     metric.Int64Counter
	embedFailureCounter  metric.Int64Counter
	queryLatencyHist     metric.Float64Histogram
	retrievalEmptyCtr    metric.Int64Counter
	jobTerminalCounter   metric.Int64Counter
)

func metricName(name string) string {
	return "inquira_kb_" + name
}

func RecordIngestDuration(ctx context.Context, jobID string, d time.Duration) {
	if err := ensureMetrics(); err != nil || ingestDurationHist == nil {
		return
	}
	ingestDurationHist.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("job_id", jobID)))
}

func RecordChunks(ctx context.Context, jobID string, chunks int) {
	if chunks <= 0 {
		return
	}
	if err := ensureMetrics(); err != nil || chunkCounter == nil {
		return
	}
	chunkCounter.Add(ctx, int64(chunks), metric.WithAttributes(attribute.String("job_id", jobID)))
}

func RecordDuplicates(ctx context.Context, jobID string, skipped int) {
	if skipped <= 0 {
		return
	}
	if err := ensureMetrics(); err != nil || duplicateCounter == nil {
		return
	}
	duplicateCounter.Add(ctx, int64(skipped), metric.WithAttributes(attribute.String("job_id", jobID)))
}

func RecordEmbedFailures(ctx context.Context, failed int) {
	if failed <= 0 {
		return
	}
	if err := ensureMetrics(); err != nil || embedFailureCounter == nil {
		return
	}
	embedFailureCounter.Add(ctx, int64(failed))
}

func RecordQueryLatency(ctx context.Context, stage string, d time.Duration) {
	if err := ensureMetrics(); err != nil || queryLatencyHist == nil {
		return
	}
	queryLatencyHist.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

func RecordRetrievalEmpty(ctx context.Context, stage string) {
	if err := ensureMetrics(); err != nil || retrievalEmptyCtr == nil {
		return
	}
	retrievalEmptyCtr.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func RecordJobTerminal(ctx context.Context, status string) {
	if err := ensureMetrics(); err != nil || jobTerminalCounter == nil {
		return
	}
	jobTerminalCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func ResetMetricsForTesting() {
	metricsMu.Lock()
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	ingestDurationHist = nil
	chunkCounter = nil
	duplicateCounter = nil
	embedFailureCounter = nil
	queryLatencyHist = nil
	retrievalEmptyCtr = nil
	jobTerminalCounter = nil
	metricsMu.Unlock()
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("inquira.kb")
		if err := initIngestMetrics(meter); err != nil {
			metricsInitErr = err
			return
		}
		if err := initQueryMetrics(meter); err != nil {
			metricsInitErr = err
		}
	})
	return metricsInitErr
}

func initIngestMetrics(meter metric.Meter) error {
	var err error
	ingestDurationHist, err = meter.Float64Histogram(
		metricName("ingest_duration_seconds"),
		metric.WithDescription("Latency of ingestion jobs end to end"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return err
	}
	chunkCounter, err = meter.Int64Counter(
		metricName("chunks_total"),
		metric.WithDescription("Number of chunks created per ingestion job"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	duplicateCounter, err = meter.Int64Counter(
		metricName("duplicates_skipped_total"),
		metric.WithDescription("Number of duplicate files and chunks skipped"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	embedFailureCounter, err = meter.Int64Counter(
		metricName("embed_failures_total"),
		metric.WithDescription("Number of chunk embeddings that failed after retries"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	jobTerminalCounter, err = meter.Int64Counter(
		metricName("jobs_terminal_total"),
		metric.WithDescription("Number of jobs reaching a terminal state by status"),
		metric.WithUnit("1"),
	)
	return err
}

func initQueryMetrics(meter metric.Meter) error {
	var err error
	queryLatencyHist, err = meter.Float64Histogram(
		metricName("query_latency_seconds"),
		metric.WithDescription("Latency of retrieval query stages"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5),
	)
	if err != nil {
		return err
	}
	retrievalEmptyCtr, err = meter.Int64Counter(
		metricName("retrieval_empty_total"),
		metric.WithDescription("Number of retrieval stages that returned no results"),
		metric.WithUnit("1"),
	)
	return err
}
