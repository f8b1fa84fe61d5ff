package job

import (
	"time"

	"github.com/inquira/inquira/engine/core"
	"github.com/inquira/inquira/engine/kb"
)

// Status is the job state machine:
// PENDING -> UPLOADING -> EXTRACTING -> CHUNKING -> EMBEDDING -> INDEXING -> COMPLETE,
// with FAILED and CANCELLED reachable from any non-terminal state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusUploading  Status = "UPLOADING"
	StatusExtracting Status = "EXTRACTING"
	StatusChunking   Status = "CHUNKING"
	StatusEmbedding  Status = "EMBEDDING"
	StatusIndexing   Status = "INDEXING"
	StatusComplete   Status = "COMPLETE"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCancelled
}

// Progress bands per stage. Within a stage, progress interpolates across
// the band; it never moves backwards except for the cancellation reset.
const (
	progressUploadDone  = 10
	progressExtractDone = 20
	progressChunkDone   = 30
	progressEmbedDone   = 70
	progressIndexDone   = 95
	progressComplete    = 100
)

// Counters accumulates per-stage accounting for one job.
type Counters struct {
	FilesProcessed    int
	ChunksCreated     int
	ChunksEmbedded    int
	ChunksIndexed     int
	TokensProcessed   int
	DuplicatesSkipped int
}

// Result summarizes a completed job.
type Result struct {
	Documents int
	Chunks    int
	Indexed   int
}

// Job is one asynchronous ingestion unit. Records are mutated only through
// the orchestrator; callers observe value snapshots.
type Job struct {
	ID              core.ID
	Files           []kb.UploadedFile
	Status          Status
	Progress        int
	Message         string
	Counters        Counters
	CreatedAt       time.Time
	StartedAt       time.Time
	EndedAt         time.Time
	Error           string
	Result          *Result
	cancelRequested bool
}

// CancelRequested reports whether a cooperative cancel is pending.
func (j *Job) CancelRequested() bool {
	return j.cancelRequested
}
