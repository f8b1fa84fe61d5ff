package job

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/inquira/inquira/engine/core"
	"github.com/inquira/inquira/engine/kb"
	"github.com/inquira/inquira/engine/kb/vectordb"
	"github.com/inquira/inquira/pkg/logger"
)

// extracted pairs an upload with its plain text ahead of chunking.
type extracted struct {
	file kb.UploadedFile
	text string
}

// runJob executes the staged pipeline for one job. Every stage boundary
// checks for a cooperative cancellation request; only indexing errors and
// panics fail the job outright.
func (o *Orchestrator) runJob(id core.ID) {
	defer o.finishWorker()
	ctx := o.baseCtx
	log := logger.FromContext(ctx)
	start := o.now()
	defer func() {
		if r := recover(); r != nil {
			o.markFailed(ctx, id, fmt.Errorf("pipeline panic: %v", r))
		}
	}()

	record := o.update(id, func(j *Job) {
		j.StartedAt = start.UTC()
	})
	if len(record.Files) == 0 {
		o.markFailed(ctx, id, fmt.Errorf("job %s has no files", id))
		return
	}

	o.setStage(ctx, id, StatusUploading, 0, "receiving files")
	unique, duplicates := o.dedup.FilterBatch(record.Files)
	o.update(id, func(j *Job) {
		j.Counters.DuplicatesSkipped += len(duplicates)
	})
	if len(duplicates) > 0 {
		kb.RecordDuplicates(ctx, id.String(), len(duplicates))
		log.Info("Skipped duplicate files", "job_id", id, "skipped", len(duplicates))
	}
	o.setStage(ctx, id, StatusUploading, progressUploadDone, "files received")
	if o.cancelledAt(ctx, id) {
		return
	}
	if len(unique) == 0 {
		o.finalize(ctx, id, start, nil, nil, nil)
		return
	}

	docs := o.extractStage(ctx, id, unique)
	if o.cancelledAt(ctx, id) {
		return
	}
	if len(docs) == 0 {
		o.markFailed(ctx, id, fmt.Errorf("no file yielded extractable text"))
		return
	}

	chunks, survived := o.chunkStage(ctx, id, docs)
	if o.cancelledAt(ctx, id) {
		return
	}
	if len(chunks) == 0 {
		o.finalize(ctx, id, start, docs, survived, nil)
		return
	}

	embedded, err := o.embedStage(ctx, id, chunks)
	if err != nil {
		o.markFailed(ctx, id, err)
		return
	}
	if o.cancelledAt(ctx, id) {
		return
	}

	if err := o.indexStage(ctx, id, embedded); err != nil {
		o.markFailed(ctx, id, err)
		return
	}
	if o.cancelledAt(ctx, id) {
		return
	}
	o.finalize(ctx, id, start, docs, survived, embedded)
}

// extractStage resolves each unique file to plain text. A file that fails
// extraction is logged and skipped rather than failing the batch.
func (o *Orchestrator) extractStage(ctx context.Context, id core.ID, files []kb.UploadedFile) []extracted {
	o.setStage(ctx, id, StatusExtracting, progressUploadDone, "extracting text")
	log := logger.FromContext(ctx)
	docs := make([]extracted, 0, len(files))
	for _, file := range files {
		text := file.Text
		if text == "" {
			var err error
			text, err = o.extractor.Extract(ctx, file.Content, file.Name, file.MediaType)
			if err != nil {
				log.Warn("Extraction failed, skipping file",
					"job_id", id,
					"file", file.Name,
					"error", err,
				)
				continue
			}
		}
		docs = append(docs, extracted{file: file, text: text})
		o.update(id, func(j *Job) {
			j.Counters.FilesProcessed++
		})
	}
	o.setStage(ctx, id, StatusExtracting, progressExtractDone, "text extracted")
	return docs
}

// chunkStage splits each document and drops chunk-level duplicates. It
// returns the surviving chunks plus a per-file survivor count used when
// deciding which files may be registered after indexing.
func (o *Orchestrator) chunkStage(
	ctx context.Context,
	id core.ID,
	docs []extracted,
) ([]kb.DocumentChunk, map[string]int) {
	o.setStage(ctx, id, StatusChunking, progressExtractDone, "chunking documents")
	log := logger.FromContext(ctx)
	all := make([]kb.DocumentChunk, 0)
	tokens := 0
	for _, doc := range docs {
		base := kb.ChunkMetadata{
			Source:     doc.file.Name,
			Title:      titleFromName(doc.file.Name),
			DocumentID: core.MustNewID(),
			Timestamp:  o.now().UTC(),
			FileType:   fileType(doc.file),
		}
		chunks, err := o.chunker.Process(ctx, doc.text, base)
		if err != nil {
			log.Warn("Chunking failed, skipping file",
				"job_id", id,
				"file", doc.file.Name,
				"error", err,
			)
			continue
		}
		for i := range chunks {
			tokens += chunks[i].Metadata.TokenCount
		}
		all = append(all, chunks...)
	}
	unique, dupCount := o.dedup.FilterDuplicateChunks(all)
	if dupCount > 0 {
		kb.RecordDuplicates(ctx, id.String(), dupCount)
	}
	survived := make(map[string]int, len(docs))
	for i := range unique {
		survived[unique[i].Metadata.Source]++
	}
	o.update(id, func(j *Job) {
		j.Counters.ChunksCreated += len(all)
		j.Counters.DuplicatesSkipped += dupCount
		j.Counters.TokensProcessed += tokens
	})
	kb.RecordChunks(ctx, id.String(), len(unique))
	o.setStage(ctx, id, StatusChunking, progressChunkDone, "documents chunked")
	return unique, survived
}

// embedStage embeds chunk texts in batches, mapping batch progress onto
// the embedding band of the job progress bar. Chunks left without a vector
// are dropped; a zero-fallback embedder substitutes vectors for failed
// items instead, so those chunks carry on to indexing.
func (o *Orchestrator) embedStage(
	ctx context.Context,
	id core.ID,
	chunks []kb.DocumentChunk,
) ([]kb.DocumentChunk, error) {
	o.setStage(ctx, id, StatusEmbedding, progressChunkDone, "embedding chunks")
	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Content
	}
	band := progressEmbedDone - progressChunkDone
	result, err := o.embedder.EmbedMany(ctx, texts, func(completed, total, failed int) {
		if total == 0 {
			return
		}
		progress := progressChunkDone + completed*band/total
		record := o.update(id, func(j *Job) {
			if progress > j.Progress {
				j.Progress = progress
			}
		})
		o.publish(ctx, record)
	})
	if err != nil {
		return nil, kb.NewError(kb.ErrKindEmbedding, "failed to embed chunks", err)
	}
	embedded := make([]kb.DocumentChunk, 0, len(chunks))
	for i := range chunks {
		if result.Vectors[i] == nil {
			continue
		}
		chunks[i].Embedding = result.Vectors[i]
		embedded = append(embedded, chunks[i])
	}
	if failures := len(result.FailedIndices); failures > 0 {
		kb.RecordEmbedFailures(ctx, failures)
	}
	o.update(id, func(j *Job) {
		j.Counters.ChunksEmbedded += len(embedded)
	})
	o.setStage(ctx, id, StatusEmbedding, progressEmbedDone, "chunks embedded")
	return embedded, nil
}

// indexStage upserts embedded chunks into the vector store. Index errors
// are fatal for the job.
func (o *Orchestrator) indexStage(ctx context.Context, id core.ID, chunks []kb.DocumentChunk) error {
	o.setStage(ctx, id, StatusIndexing, progressEmbedDone, "indexing chunks")
	if len(chunks) == 0 {
		o.setStage(ctx, id, StatusIndexing, progressIndexDone, "nothing to index")
		return nil
	}
	records := make([]vectordb.Record, len(chunks))
	for i, chunk := range chunks {
		records[i] = vectordb.Record{
			ID:        chunk.ID.String(),
			Text:      chunk.Content,
			Embedding: chunk.Embedding,
			Metadata:  chunk.Metadata.AsMap(),
		}
	}
	if err := o.index.Upsert(ctx, records); err != nil {
		return kb.NewError(kb.ErrKindIndexing, "failed to index chunks", err)
	}
	o.update(id, func(j *Job) {
		j.Counters.ChunksIndexed += len(records)
	})
	o.setStage(ctx, id, StatusIndexing, progressIndexDone, "chunks indexed")
	return nil
}

// finalize registers dedup entries and marks the job complete. Only chunks
// that reached the index are registered; a file whose surviving chunks were
// all dropped before indexing stays unregistered so resubmitting it retries
// ingestion instead of being skipped as a duplicate.
func (o *Orchestrator) finalize(
	ctx context.Context,
	id core.ID,
	start time.Time,
	docs []extracted,
	survived map[string]int,
	indexed []kb.DocumentChunk,
) {
	byFile := make(map[string][]kb.DocumentChunk, len(docs))
	for i := range indexed {
		source := indexed[i].Metadata.Source
		byFile[source] = append(byFile[source], indexed[i])
	}
	for _, doc := range docs {
		chunks := byFile[doc.file.Name]
		if len(chunks) == 0 && survived[doc.file.Name] > 0 {
			continue
		}
		o.dedup.Register(doc.file, chunks)
	}
	o.update(id, func(j *Job) {
		j.Result = &Result{
			Documents: len(docs),
			Chunks:    j.Counters.ChunksCreated,
			Indexed:   len(indexed),
		}
	})
	kb.RecordIngestDuration(ctx, id.String(), o.now().Sub(start))
	o.markTerminal(ctx, id, StatusComplete, "ingestion complete")
}

func titleFromName(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func fileType(file kb.UploadedFile) string {
	if file.MediaType != "" {
		return file.MediaType
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(file.Name)), ".")
	return ext
}
