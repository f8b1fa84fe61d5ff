package embedder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/inquira/inquira/pkg/logger"
)

// ProgressFunc receives coarse embedding progress. It fires roughly every 2%
// of the total and once on completion, so event volume stays bounded on
// large inputs.
type ProgressFunc func(completed, total, failed int)

// BatchSettings tunes batch partitioning and retry behavior.
type BatchSettings struct {
	BatchSize   int
	Parallelism int
	MaxRetries  int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

// BatchResult reconciles per-item outcomes back to their original indices.
// Vectors has one slot per input text; a nil slot marks an item that failed
// after exhausting retries.
type BatchResult struct {
	Vectors       [][]float32
	FailedIndices []int
}

// Compact returns only the successful vectors, preserving original relative
// order.
func (r *BatchResult) Compact() [][]float32 {
	out := make([][]float32, 0, len(r.Vectors))
	for _, v := range r.Vectors {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}

// BatchManager converts chunk text into vectors through bounded-concurrency,
// retrying batches. Item failures inside a batch are isolated: they become
// nil outcomes, never batch aborts.
type BatchManager struct {
	provider Provider
	settings BatchSettings
}

// NewBatchManager validates settings and builds a manager.
func NewBatchManager(provider Provider, settings BatchSettings) (*BatchManager, error) {
	if provider == nil {
		return nil, errors.New("embedder: provider is required")
	}
	if settings.BatchSize <= 0 {
		return nil, errors.New("embedder: batch size must be greater than zero")
	}
	if settings.Parallelism <= 0 {
		return nil, errors.New("embedder: parallelism must be greater than zero")
	}
	if settings.MaxRetries <= 0 {
		return nil, errors.New("embedder: max retries must be greater than zero")
	}
	if settings.Backoff <= 0 {
		settings.Backoff = 200 * time.Millisecond
	}
	if settings.MaxBackoff < settings.Backoff {
		settings.MaxBackoff = settings.Backoff
	}
	return &BatchManager{provider: provider, settings: settings}, nil
}

// EmbedOne embeds a single text, retried with exponential backoff. It
// returns a terminal error only after exhausting retries.
func (m *BatchManager) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := retry.Do(ctx, m.backoff(), func(ctx context.Context) error {
		out, err := m.provider.EmbedQuery(ctx, text)
		if err != nil {
			return retry.RetryableError(err)
		}
		vector = out
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embedder: embed failed after %d attempts: %w", m.settings.MaxRetries, err)
	}
	return vector, nil
}

// EmbedMany partitions texts into fixed-size batches and executes them in
// groups of at most Parallelism concurrent batches. Groups run sequentially;
// item results map deterministically back to their original index regardless
// of completion order.
func (m *BatchManager) EmbedMany(ctx context.Context, texts []string, onProgress ProgressFunc) (*BatchResult, error) {
	result := &BatchResult{Vectors: make([][]float32, len(texts))}
	if len(texts) == 0 {
		return result, nil
	}
	tracker := newProgressTracker(len(texts), onProgress)
	batches := partition(len(texts), m.settings.BatchSize)
	for group := 0; group < len(batches); group += m.settings.Parallelism {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		grp, grpCtx := errgroup.WithContext(ctx)
		end := group + m.settings.Parallelism
		if end > len(batches) {
			end = len(batches)
		}
		for _, batch := range batches[group:end] {
			grp.Go(func() error {
				m.runBatch(grpCtx, texts, batch, result, tracker)
				return grpCtx.Err()
			})
		}
		if err := grp.Wait(); err != nil {
			return nil, err
		}
	}
	tracker.finish()
	sort.Ints(result.FailedIndices)
	return result, nil
}

// EmbedWithFallback degrades to strictly sequential per-item calls,
// substituting a zero vector for any item that still fails so indexing can
// proceed without aborting the job. Failed indices are still reported so
// callers can track the failure rate.
func (m *BatchManager) EmbedWithFallback(ctx context.Context, texts []string, onProgress ProgressFunc) (*BatchResult, error) {
	result := &BatchResult{Vectors: make([][]float32, len(texts))}
	tracker := newProgressTracker(len(texts), onProgress)
	dimension := m.provider.Dimension()
	for i := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vector, err := m.EmbedOne(ctx, texts[i])
		if err != nil {
			logger.FromContext(ctx).Warn("Embedding failed, substituting zero vector", "index", i, "error", err)
			result.Vectors[i] = make([]float32, dimension)
			result.FailedIndices = append(result.FailedIndices, i)
			tracker.record(true)
			continue
		}
		result.Vectors[i] = vector
		tracker.record(false)
	}
	tracker.finish()
	return result, nil
}

// ZeroFallbackManager routes EmbedMany through the sequential zero-vector
// path, so every input text ends up with a vector and ingestion never loses
// a chunk to a flaky provider. Selected with the embedder on_failure=zero
// setting.
type ZeroFallbackManager struct {
	manager *BatchManager
}

// ZeroFallback wraps a batch manager in the zero-vector failure mode.
func ZeroFallback(manager *BatchManager) *ZeroFallbackManager {
	return &ZeroFallbackManager{manager: manager}
}

func (z *ZeroFallbackManager) EmbedMany(
	ctx context.Context,
	texts []string,
	onProgress ProgressFunc,
) (*BatchResult, error) {
	return z.manager.EmbedWithFallback(ctx, texts, onProgress)
}

// runBatch issues per-item calls for one batch. Individual failures become
// nil slots and failed-index entries; they never abort the batch.
func (m *BatchManager) runBatch(
	ctx context.Context,
	texts []string,
	batch [2]int,
	result *BatchResult,
	tracker *progressTracker,
) {
	for i := batch[0]; i < batch[1]; i++ {
		if ctx.Err() != nil {
			return
		}
		vector, err := m.EmbedOne(ctx, texts[i])
		if err != nil {
			logger.FromContext(ctx).Warn("Embedding failed for item, skipping", "index", i, "error", err)
			tracker.fail(i, result)
			continue
		}
		tracker.succeed(i, vector, result)
	}
}

func (m *BatchManager) backoff() retry.Backoff {
	b := retry.NewExponential(m.settings.Backoff)
	b = retry.WithCappedDuration(m.settings.MaxBackoff, b)
	// MaxRetries counts attempts after the first, matching the retry policy
	// of the embedding stage: N retries means N+1 calls total.
	return retry.WithMaxRetries(uint64(m.settings.MaxRetries), b)
}

// partition returns [start, end) index pairs covering n items in batches of
// size batchSize.
func partition(n, batchSize int) [][2]int {
	batches := make([][2]int, 0, (n+batchSize-1)/batchSize)
	for start := 0; start < n; start += batchSize {
		end := start + batchSize
		if end > n {
			end = n
		}
		batches = append(batches, [2]int{start, end})
	}
	return batches
}

// progressTracker serializes result writes from concurrent batches and
// throttles progress callbacks to a coarse cadence.
type progressTracker struct {
	mu         sync.Mutex
	onProgress ProgressFunc
	total      int
	completed  int
	failed     int
	stride     int
}

func newProgressTracker(total int, onProgress ProgressFunc) *progressTracker {
	stride := total / 50
	if stride < 1 {
		stride = 1
	}
	return &progressTracker{onProgress: onProgress, total: total, stride: stride}
}

func (t *progressTracker) succeed(index int, vector []float32, result *BatchResult) {
	t.mu.Lock()
	result.Vectors[index] = vector
	t.completed++
	t.emitLocked(false)
	t.mu.Unlock()
}

func (t *progressTracker) fail(index int, result *BatchResult) {
	t.mu.Lock()
	result.FailedIndices = append(result.FailedIndices, index)
	t.completed++
	t.failed++
	t.emitLocked(false)
	t.mu.Unlock()
}

func (t *progressTracker) record(failed bool) {
	t.mu.Lock()
	t.completed++
	if failed {
		t.failed++
	}
	t.emitLocked(false)
	t.mu.Unlock()
}

func (t *progressTracker) finish() {
	t.mu.Lock()
	t.emitLocked(true)
	t.mu.Unlock()
}

func (t *progressTracker) emitLocked(force bool) {
	if t.onProgress == nil {
		return
	}
	if force || t.completed == t.total || t.completed%t.stride == 0 {
		t.onProgress(t.completed, t.total, t.failed)
	}
}
