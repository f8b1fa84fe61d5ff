package vectordb

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments are created on first use so importing the package stays free
// of side effects and tests without a meter provider pay nothing.
var (
	vectorMetricsOnce   sync.Once
	vectorMetricsErr    error
	vectorSearchLatency metric.Float64Histogram
	vectorSearchResults metric.Float64Histogram
	vectorErrorsTotal   metric.Int64Counter
	vectorConnGauge     metric.Int64ObservableGauge
	vectorConnGaugeReg  metric.Registration
	vectorPools         sync.Map
)

const labelUnknown = "unknown"

func ensureVectorMetrics() error {
	vectorMetricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("inquira.kb.vectordb")
		if vectorSearchLatency, vectorMetricsErr = meter.Float64Histogram(
			"inquira_vectordb_similarity_search_seconds",
			metric.WithDescription("Vector similarity search latency"),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2),
		); vectorMetricsErr != nil {
			return
		}
		if vectorSearchResults, vectorMetricsErr = meter.Float64Histogram(
			"inquira_vectordb_similarity_results_per_search",
			metric.WithDescription("Number of results returned per search"),
			metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 200),
		); vectorMetricsErr != nil {
			return
		}
		if vectorErrorsTotal, vectorMetricsErr = meter.Int64Counter(
			"inquira_vectordb_store_errors_total",
			metric.WithDescription("Vector store operation errors"),
		); vectorMetricsErr != nil {
			return
		}
		if vectorConnGauge, vectorMetricsErr = meter.Int64ObservableGauge(
			"inquira_vectordb_store_connections_active",
			metric.WithDescription("Active vector database connections"),
		); vectorMetricsErr != nil {
			return
		}
		vectorConnGaugeReg, vectorMetricsErr = meter.RegisterCallback(observePools, vectorConnGauge)
	})
	return vectorMetricsErr
}

// observePools reports acquired-connection counts for every tracked pgx pool.
func observePools(_ context.Context, observer metric.Observer) error {
	vectorPools.Range(func(key, value any) bool {
		pool, ok := value.(*pgxpool.Pool)
		if !ok || pool == nil {
			return true
		}
		id, _ := key.(string)
		if strings.TrimSpace(id) == "" {
			id = labelUnknown
		}
		observer.ObserveInt64(
			vectorConnGauge,
			int64(pool.Stat().AcquiredConns()),
			metric.WithAttributes(attribute.String("vector_db_id", id)),
		)
		return true
	})
	return nil
}

// ShutdownVectorMetrics unregisters the connection gauge callback.
func ShutdownVectorMetrics() {
	if vectorConnGaugeReg != nil {
		_ = vectorConnGaugeReg.Unregister()
	}
}

func recordVectorSearch(ctx context.Context, provider string, topK int, elapsed time.Duration, results int) {
	if ensureVectorMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", labelValue(provider)),
		attribute.Int("top_k", topK),
	)
	vectorSearchLatency.Record(ctx, elapsed.Seconds(), attrs)
	vectorSearchResults.Record(ctx, float64(results), attrs)
}

func recordVectorError(ctx context.Context, operation string, provider string) {
	if ensureVectorMetrics() != nil || vectorErrorsTotal == nil {
		return
	}
	vectorErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", labelValue(operation)),
		attribute.String("provider", labelValue(provider)),
	))
}

// trackVectorPool registers a pgx pool for connection observation. Paired
// with untrackVectorPool on close.
func trackVectorPool(id string, pool *pgxpool.Pool) {
	if pool == nil || ensureVectorMetrics() != nil {
		return
	}
	vectorPools.Store(labelValue(id), pool)
}

func untrackVectorPool(id string) {
	vectorPools.Delete(labelValue(id))
}

func labelValue(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return labelUnknown
	}
	return strings.ToLower(trimmed)
}
