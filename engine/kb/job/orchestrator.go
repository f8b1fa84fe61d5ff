package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/inquira/inquira/engine/core"
	"github.com/inquira/inquira/engine/kb"
	"github.com/inquira/inquira/engine/kb/dedup"
	"github.com/inquira/inquira/engine/kb/embedder"
	"github.com/inquira/inquira/engine/kb/events"
	"github.com/inquira/inquira/engine/kb/vectordb"
	"github.com/inquira/inquira/pkg/logger"
)

// Extractor is the text extraction boundary consumed by the pipeline.
type Extractor interface {
	Extract(ctx context.Context, content []byte, filename string, mediaType string) (string, error)
}

// Chunker splits extracted text into document chunks.
type Chunker interface {
	Process(ctx context.Context, text string, base kb.ChunkMetadata) ([]kb.DocumentChunk, error)
}

// BatchEmbedder embeds chunk texts with partial-failure reporting.
type BatchEmbedder interface {
	EmbedMany(ctx context.Context, texts []string, onProgress embedder.ProgressFunc) (*embedder.BatchResult, error)
}

// Settings bounds the orchestrator's queue and retention behavior.
type Settings struct {
	MaxConcurrency int
	MaxJobs        int
	RetentionAge   time.Duration
	SweepSpec      string
}

// DefaultSettings mirrors the configuration surface defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxConcurrency: 2,
		MaxJobs:        100,
		RetentionAge:   24 * time.Hour,
		SweepSpec:      "@hourly",
	}
}

// Deps wires the pipeline stages.
type Deps struct {
	Store     Store
	Dedup     *dedup.Cache
	Extractor Extractor
	Chunker   Chunker
	Embedder  BatchEmbedder
	Index     vectordb.Store
	Bus       *events.Bus
}

// Orchestrator owns job records and sequences
// Dedup -> Extract -> Chunk -> Embed -> Index for each submitted batch
// under a bounded worker pool fed by a FIFO queue.
type Orchestrator struct {
	store     Store
	dedup     *dedup.Cache
	extractor Extractor
	chunker   Chunker
	embedder  BatchEmbedder
	index     vectordb.Store
	bus       *events.Bus
	settings  Settings
	now       func() time.Time

	mu      sync.Mutex
	queue   []core.ID
	queued  map[core.ID]struct{}
	running int

	baseCtx context.Context
	cron    *cron.Cron
	wg      sync.WaitGroup
	started bool
}

// Option customizes orchestrator construction.
type Option func(*Orchestrator)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New validates the dependency graph and builds an orchestrator.
func New(deps Deps, settings Settings, opts ...Option) (*Orchestrator, error) {
	if deps.Dedup == nil {
		return nil, errors.New("job: dedup cache is required")
	}
	if deps.Extractor == nil {
		return nil, errors.New("job: extractor is required")
	}
	if deps.Chunker == nil {
		return nil, errors.New("job: chunker is required")
	}
	if deps.Embedder == nil {
		return nil, errors.New("job: batch embedder is required")
	}
	if deps.Index == nil {
		return nil, errors.New("job: vector index is required")
	}
	if deps.Store == nil {
		deps.Store = NewMemoryStore()
	}
	if deps.Bus == nil {
		deps.Bus = events.NewBus()
	}
	defaults := DefaultSettings()
	if settings.MaxConcurrency <= 0 {
		settings.MaxConcurrency = defaults.MaxConcurrency
	}
	if settings.MaxJobs <= 0 {
		settings.MaxJobs = defaults.MaxJobs
	}
	if settings.RetentionAge <= 0 {
		settings.RetentionAge = defaults.RetentionAge
	}
	if settings.SweepSpec == "" {
		settings.SweepSpec = defaults.SweepSpec
	}
	o := &Orchestrator{
		store:     deps.Store,
		dedup:     deps.Dedup,
		extractor: deps.Extractor,
		chunker:   deps.Chunker,
		embedder:  deps.Embedder,
		index:     deps.Index,
		bus:       deps.Bus,
		settings:  settings,
		now:       time.Now,
		queued:    make(map[core.ID]struct{}),
		baseCtx:   context.Background(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Bus exposes the progress event bus for status consumers.
func (o *Orchestrator) Bus() *events.Bus {
	return o.bus
}

// Start binds the background context and schedules the retention sweep.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return errors.New("job: orchestrator already started")
	}
	o.baseCtx = ctx
	o.cron = cron.New()
	if _, err := o.cron.AddFunc(o.settings.SweepSpec, func() {
		o.Sweep(ctx)
	}); err != nil {
		return fmt.Errorf("job: schedule retention sweep: %w", err)
	}
	o.cron.Start()
	o.started = true
	return nil
}

// Stop halts the sweep schedule and waits for running jobs to finish their
// current stage work.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.cron != nil {
		o.cron.Stop()
	}
	o.started = false
	o.mu.Unlock()
	o.wg.Wait()
}

// Submit validates the upload batch, enqueues a PENDING job, and pulls
// work immediately if a worker slot is free.
func (o *Orchestrator) Submit(ctx context.Context, files []kb.UploadedFile) (Job, error) {
	if len(files) == 0 {
		return Job{}, kb.NewError(kb.ErrKindValidation, "at least one file is required", nil)
	}
	for i := range files {
		if files[i].Name == "" {
			return Job{}, kb.NewError(kb.ErrKindValidation, "file name is required", nil)
		}
		if len(files[i].Content) == 0 && files[i].Text == "" {
			return Job{}, kb.NewError(
				kb.ErrKindValidation,
				fmt.Sprintf("file %q has no content", files[i].Name),
				nil,
			)
		}
	}
	record := Job{
		ID:        core.MustNewID(),
		Files:     files,
		Status:    StatusPending,
		Message:   "queued",
		CreatedAt: o.now().UTC(),
	}
	o.store.Put(record)
	o.enforceCap()
	o.mu.Lock()
	o.queue = append(o.queue, record.ID)
	o.queued[record.ID] = struct{}{}
	o.dispatchLocked()
	o.mu.Unlock()
	o.publish(ctx, record)
	return record, nil
}

// Get returns a snapshot of the job record.
func (o *Orchestrator) Get(id core.ID) (Job, bool) {
	return o.store.Get(id)
}

// List returns snapshots of all retained jobs, oldest first.
func (o *Orchestrator) List() []Job {
	return o.store.List()
}

// Cancel requests cancellation. A queued job is removed from the queue and
// never executes; a running job finishes its current stage before the
// cancelled status takes effect.
func (o *Orchestrator) Cancel(ctx context.Context, id core.ID) error {
	record, ok := o.store.Get(id)
	if !ok {
		return kb.NewError(kb.ErrKindJob, fmt.Sprintf("job %s not found", id), nil)
	}
	if record.Status.Terminal() {
		return kb.NewError(kb.ErrKindJob, fmt.Sprintf("job %s already %s", id, record.Status), nil)
	}
	o.mu.Lock()
	if _, pending := o.queued[id]; pending {
		delete(o.queued, id)
		o.removeFromQueueLocked(id)
		o.mu.Unlock()
		o.markTerminal(ctx, id, StatusCancelled, "cancelled before start")
		return nil
	}
	o.mu.Unlock()
	o.update(id, func(j *Job) {
		j.cancelRequested = true
	})
	return nil
}

// Sweep evicts terminal jobs past the retention age, then enforces the
// retained-count cap.
func (o *Orchestrator) Sweep(ctx context.Context) {
	cutoff := o.now().UTC().Add(-o.settings.RetentionAge)
	removed := 0
	for _, record := range o.store.List() {
		if record.Status.Terminal() && !record.EndedAt.IsZero() && record.EndedAt.Before(cutoff) {
			o.store.Delete(record.ID)
			removed++
		}
	}
	o.enforceCap()
	if removed > 0 {
		logger.FromContext(ctx).Debug("Swept expired jobs", "removed", removed)
	}
}

// enforceCap evicts the oldest terminal jobs once the total exceeds
// MaxJobs. Non-terminal jobs are never evicted.
func (o *Orchestrator) enforceCap() {
	excess := o.store.Len() - o.settings.MaxJobs
	if excess <= 0 {
		return
	}
	for _, record := range o.store.List() {
		if excess <= 0 {
			return
		}
		if !record.Status.Terminal() {
			continue
		}
		o.store.Delete(record.ID)
		excess--
	}
}

func (o *Orchestrator) removeFromQueueLocked(id core.ID) {
	for i, queued := range o.queue {
		if queued == id {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			return
		}
	}
}

// dispatchLocked pulls queued jobs into free worker slots. Callers hold
// o.mu.
func (o *Orchestrator) dispatchLocked() {
	for o.running < o.settings.MaxConcurrency && len(o.queue) > 0 {
		id := o.queue[0]
		o.queue = o.queue[1:]
		if _, ok := o.queued[id]; !ok {
			continue
		}
		delete(o.queued, id)
		o.running++
		o.wg.Add(1)
		go o.runJob(id)
	}
}

func (o *Orchestrator) finishWorker() {
	o.mu.Lock()
	o.running--
	o.dispatchLocked()
	o.mu.Unlock()
	o.wg.Done()
}

// update applies fn to the stored record under the orchestrator lock and
// returns the new snapshot.
func (o *Orchestrator) update(id core.ID, fn func(*Job)) Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	record, ok := o.store.Get(id)
	if !ok {
		return Job{}
	}
	fn(&record)
	o.store.Put(record)
	return record
}

func (o *Orchestrator) publish(ctx context.Context, record Job) {
	o.bus.Publish(ctx, events.Event{
		JobID:    record.ID,
		Status:   string(record.Status),
		Progress: record.Progress,
		Message:  record.Message,
	})
}

// setStage advances status and progress and emits a progress event.
func (o *Orchestrator) setStage(ctx context.Context, id core.ID, status Status, progress int, message string) Job {
	record := o.update(id, func(j *Job) {
		j.Status = status
		if progress > j.Progress {
			j.Progress = progress
		}
		j.Message = message
	})
	o.publish(ctx, record)
	return record
}

func (o *Orchestrator) markTerminal(ctx context.Context, id core.ID, status Status, message string) {
	record := o.update(id, func(j *Job) {
		j.Status = status
		j.Message = message
		j.EndedAt = o.now().UTC()
		switch status {
		case StatusComplete:
			j.Progress = progressComplete
		case StatusCancelled:
			// progress resets to zero on cancellation
			j.Progress = 0
		}
	})
	kb.RecordJobTerminal(ctx, string(status))
	o.publish(ctx, record)
}

func (o *Orchestrator) markFailed(ctx context.Context, id core.ID, err error) {
	record := o.update(id, func(j *Job) {
		j.Status = StatusFailed
		j.Message = "ingestion failed"
		j.Error = err.Error()
		j.EndedAt = o.now().UTC()
	})
	kb.RecordJobTerminal(ctx, string(StatusFailed))
	logger.FromContext(ctx).Error("Job failed", "job_id", id, "error", err)
	o.publish(ctx, record)
}

func (o *Orchestrator) cancelledAt(ctx context.Context, id core.ID) bool {
	record, ok := o.store.Get(id)
	if !ok {
		return true
	}
	if !record.CancelRequested() {
		return false
	}
	o.markTerminal(ctx, id, StatusCancelled, "cancelled")
	return true
}
