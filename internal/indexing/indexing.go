// Package indexing implements C14: a bounded worker pool that drains a
// priority FIFO queue of IndexingTasks through the
// parse → chunk → embed+upsert → token-count state machine, with
// per-step progress updates, exponential-delay retry, and an
// at-most-one-active-task-per-document invariant.
//
// Grounded on original_source/rag_service/services/indexing_service.py
// (ResilientIndexingService: worker threads pulling from a shared
// Queue, active_tasks map, threading.Timer-delayed retry re-enqueue,
// 2**retry_count backoff capped at 60s) and structurally on the
// internal/service/pipeline.go (sequential numbered pipeline
// steps, per-step slog lines, failDocument-style terminal failure
// handling) — re-expressed with goroutines/channels and a
// priority-ordered in-memory queue instead of Python's GIL threads and
// single FIFO Queue.
package indexing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/normex/ragbox-normex/internal/apperr"
	"github.com/normex/ragbox-normex/internal/metadata"
	"github.com/normex/ragbox-normex/internal/model"
	"github.com/normex/ragbox-normex/internal/parser"
)

// Chunker abstracts C4 for testability.
type Chunker interface {
	Chunk(text string, documentID int64, documentTitle string, doc metadata.DocumentRecord) ([]model.Chunk, error)
}

// Embedder abstracts C1 for testability.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorUpserter abstracts C2's write path.
type VectorUpserter interface {
	UpsertPoints(ctx context.Context, points []model.VectorPoint) error
}

// PointIDFunc derives a vector point id for (documentID, chunkID).
type PointIDFunc func(documentID int64, chunkID string) uint64

// DocumentStore abstracts the C13 operations the pipeline drives a
// Document's persisted lifecycle through.
type DocumentStore interface {
	UpdateStatus(ctx context.Context, documentID int64, status model.ProcessingStatus, processingErr string) error
	UpdateProgress(ctx context.Context, documentID int64, percent int) error
	MarkForRetry(ctx context.Context, documentID int64, cause string) error
	SetTokenCount(ctx context.Context, documentID int64, tokens int) error
}

// ChunkStore abstracts the C13 chunk table operations.
type ChunkStore interface {
	DeleteChunks(ctx context.Context, documentID int64) error
	SaveChunks(ctx context.Context, chunks []model.Chunk) error
}

// Config tunes worker count, retry schedule, and shutdown behavior, per
// the indexing config options.
type Config struct {
	MaxConcurrentTasks int
	MaxRetries         int
	ShutdownGrace      time.Duration
	TokensPerChar      float64
}

// Stats mirrors the ResilientIndexingService stats block.
type Stats struct {
	TotalProcessed int
	Successful     int
	Failed         int
	Retries        int
	QueueSize      int
	ActiveTasks    int
}

type active struct {
	task       model.IndexingTask
	lastAttempt time.Time
}

// Pipeline is C14's worker pool and queue.
type Pipeline struct {
	cfg Config

	docs    DocumentStore
	chunks  ChunkStore
	chunker Chunker
	embed   Embedder
	vectors VectorUpserter
	pointID PointIDFunc

	mu      sync.Mutex
	queue   [3][]model.IndexingTask // indexed by Priority (low=0..high=2)
	queued  map[int64]bool
	actives map[int64]*active
	stats   Stats

	notify chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Pipeline; call Start to launch its workers.
func New(cfg Config, docs DocumentStore, chunks ChunkStore, chunker Chunker, embed Embedder, vectors VectorUpserter, pointID PointIDFunc) *Pipeline {
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = 3
	}
	if cfg.TokensPerChar <= 0 {
		cfg.TokensPerChar = 0.25
	}
	return &Pipeline{
		cfg:     cfg,
		docs:    docs,
		chunks:  chunks,
		chunker: chunker,
		embed:   embed,
		vectors: vectors,
		pointID: pointID,
		queued:  make(map[int64]bool),
		actives: make(map[int64]*active),
		notify:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// Start launches cfg.MaxConcurrentTasks worker goroutines. Workers exit
// when ctx is cancelled or Stop is called.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.cfg.MaxConcurrentTasks; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx, i+1)
	}
	slog.Info("indexing pipeline started", "workers", p.cfg.MaxConcurrentTasks)
}

// Stop signals workers to stop dispatching new tasks and waits up to
// cfg.ShutdownGrace for in-flight tasks to drain. Tasks still active
// after the grace window are logged and abandoned; their document
// status is left as it is (indexing). The recovery loop requeues only
// documents whose status is pending, so it does not pick these up.
func (p *Pipeline) Stop() {
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	grace := p.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	select {
	case <-done:
		slog.Info("indexing pipeline stopped, all workers drained")
	case <-time.After(grace):
		p.mu.Lock()
		remaining := len(p.actives)
		p.mu.Unlock()
		slog.Warn("indexing pipeline shutdown grace expired, abandoning active tasks", "remaining", remaining)
	}
}

// Submit enqueues a task for processing. A document already active or
// already queued is rejected — only one in-flight attempt per document
// is ever allowed.
func (p *Pipeline) Submit(task model.IndexingTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.actives[task.DocumentID] != nil || p.queued[task.DocumentID] {
		return fmt.Errorf("indexing.Submit: document %d already queued or active", task.DocumentID)
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	task.LastAttempt = task.CreatedAt

	p.queue[task.Priority] = append(p.queue[task.Priority], task)
	p.queued[task.DocumentID] = true
	p.wake()
	return nil
}

func (p *Pipeline) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// dequeue pops the oldest task from the highest non-empty priority
// bucket (FIFO within a priority).
func (p *Pipeline) dequeue() (model.IndexingTask, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for pr := len(p.queue) - 1; pr >= 0; pr-- {
		if len(p.queue[pr]) == 0 {
			continue
		}
		task := p.queue[pr][0]
		p.queue[pr] = p.queue[pr][1:]
		delete(p.queued, task.DocumentID)
		p.actives[task.DocumentID] = &active{task: task, lastAttempt: time.Now()}
		return task, true
	}
	return model.IndexingTask{}, false
}

func (p *Pipeline) workerLoop(ctx context.Context, id int) {
	defer p.wg.Done()
	slog.Info("indexing worker started", "worker", id)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("indexing worker stopped (context cancelled)", "worker", id)
			return
		case <-p.stopCh:
			slog.Info("indexing worker stopped (shutdown)", "worker", id)
			return
		case <-p.notify:
		case <-ticker.C:
		}

		task, ok := p.dequeue()
		if !ok {
			continue
		}
		p.process(ctx, task)
	}
}

func (p *Pipeline) process(ctx context.Context, task model.IndexingTask) {
	const op = "indexing.process"
	docID := task.DocumentID

	defer func() {
		p.mu.Lock()
		delete(p.actives, docID)
		p.stats.TotalProcessed++
		p.mu.Unlock()
	}()

	slog.Info("indexing task starting", "document_id", docID, "attempt", task.RetryCount+1)

	if err := p.docs.UpdateStatus(ctx, docID, model.StatusIndexing, ""); err != nil {
		slog.Error("indexing failed to mark indexing", "document_id", docID, "error", err)
		return
	}
	_ = p.docs.UpdateProgress(ctx, docID, 10)

	_ = p.docs.UpdateProgress(ctx, docID, 20)
	parsed := parser.ParseDocument(task.ContentBytes, task.Filename)
	if !parsed.Success {
		p.fail(ctx, task, apperr.New(op, apperr.InputInvalid, fmt.Errorf("extract text: %s", parsed.Error)))
		return
	}

	_ = p.docs.UpdateProgress(ctx, docID, 40)
	docRecord := metadata.ExtractDocument(task.Filename, docID, task.ContentBytes)
	title := docRecord.DocTitle
	if title == "" {
		title = task.Filename
	}
	chunks, err := p.chunker.Chunk(parsed.Text, docID, title, docRecord)
	if err != nil {
		p.fail(ctx, task, apperr.New(op, apperr.Upstream, fmt.Errorf("chunk: %w", err)))
		return
	}

	_ = p.docs.UpdateProgress(ctx, docID, 60)
	if err := p.embedAndUpsert(ctx, docID, chunks); err != nil {
		p.fail(ctx, task, apperr.New(op, apperr.Upstream, fmt.Errorf("embed+index: %w", err)))
		return
	}
	_ = p.docs.UpdateProgress(ctx, docID, 90)

	if err := p.chunks.DeleteChunks(ctx, docID); err != nil {
		slog.Warn("indexing failed to clear prior chunk rows", "document_id", docID, "error", err)
	}
	if err := p.chunks.SaveChunks(ctx, chunks); err != nil {
		p.fail(ctx, task, apperr.New(op, apperr.Transient, fmt.Errorf("save chunks: %w", err)))
		return
	}

	tokenCount := estimateTokens(parsed.Text, p.cfg.TokensPerChar)
	if err := p.docs.SetTokenCount(ctx, docID, tokenCount); err != nil {
		slog.Warn("indexing failed to store token count", "document_id", docID, "error", err)
	}
	_ = p.docs.UpdateProgress(ctx, docID, 95)

	if err := p.docs.UpdateStatus(ctx, docID, model.StatusCompleted, ""); err != nil {
		slog.Error("indexing failed to mark completed", "document_id", docID, "error", err)
		return
	}
	_ = p.docs.UpdateProgress(ctx, docID, 100)

	p.mu.Lock()
	p.stats.Successful++
	p.mu.Unlock()
	slog.Info("indexing task completed", "document_id", docID, "chunks", len(chunks))
}

func (p *Pipeline) embedAndUpsert(ctx context.Context, documentID int64, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("no chunks produced")
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := p.embed.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: got %d want %d", len(vectors), len(chunks))
	}

	points := make([]model.VectorPoint, len(chunks))
	for i, c := range chunks {
		points[i] = model.VectorPoint{
			ID:           p.pointID(documentID, c.ChunkID),
			Vector:       vectors[i],
			DocumentID:   documentID,
			ChunkID:      c.ChunkID,
			Code:         c.Metadata.DocNumber,
			Title:        c.DocumentTitle,
			SectionTitle: c.SectionTitle,
			Content:      c.Content,
			ChunkType:    c.ChunkType,
			Page:         c.Page,
			Section:      c.Section,
			Metadata:     c.Metadata,
		}
	}
	return p.vectors.UpsertPoints(ctx, points)
}

// fail handles a terminal step error: retry with exponential delay if
// the task has attempts left, otherwise a terminal failed status.
func (p *Pipeline) fail(ctx context.Context, task model.IndexingTask, err error) {
	docID := task.DocumentID
	slog.Error("indexing task step failed", "document_id", docID, "error", err)

	maxRetries := task.MaxRetries
	if maxRetries <= 0 {
		maxRetries = p.cfg.MaxRetries
	}

	if task.RetryCount < maxRetries {
		task.RetryCount++
		task.LastAttempt = time.Now()

		if markErr := p.docs.MarkForRetry(ctx, docID, err.Error()); markErr != nil {
			slog.Error("indexing failed to mark document for retry", "document_id", docID, "error", markErr)
		}

		delay := retryDelay(task.RetryCount)
		slog.Info("indexing task scheduled for retry", "document_id", docID, "delay", delay, "attempt", task.RetryCount+1)

		p.mu.Lock()
		p.stats.Retries++
		p.mu.Unlock()

		time.AfterFunc(delay, func() {
			_ = p.Submit(task)
		})
		return
	}

	if updErr := p.docs.UpdateStatus(ctx, docID, model.StatusFailed, err.Error()); updErr != nil {
		slog.Error("indexing failed to mark document failed", "document_id", docID, "error", updErr)
	}
	p.mu.Lock()
	p.stats.Failed++
	p.mu.Unlock()
	slog.Error("indexing task failed permanently", "document_id", docID, "retries", task.RetryCount)
}

// retryDelay is min(2^retryCount, 60) seconds, per §4.14.
func retryDelay(retryCount int) time.Duration {
	seconds := 1 << uint(retryCount)
	if seconds > 60 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}

func estimateTokens(text string, tokensPerChar float64) int {
	chars := len([]rune(text))
	tokens := int(float64(chars)*tokensPerChar + 0.5)
	if tokens < 0 {
		tokens = 0
	}
	return tokens
}

// Stats returns a snapshot of queue/active/processing counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	for _, bucket := range p.queue {
		s.QueueSize += len(bucket)
	}
	s.ActiveTasks = len(p.actives)
	return s
}

// ActiveTasks returns a snapshot of currently in-flight tasks, keyed by
// the time their current attempt started — used by the recovery loop's
// stuck-task check.
func (p *Pipeline) ActiveTasks() map[int64]time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[int64]time.Time, len(p.actives))
	for id, a := range p.actives {
		out[id] = a.lastAttempt
	}
	return out
}

// IsQueuedOrActive reports whether documentID already has work in
// flight or waiting, so the recovery loop does not double-enqueue it.
func (p *Pipeline) IsQueuedOrActive(documentID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queued[documentID] || p.actives[documentID] != nil
}

// Abandon force-removes documentID from the active set without
// touching its persisted status — used by the recovery loop once it
// has independently marked the document failed.
func (p *Pipeline) Abandon(documentID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.actives, documentID)
}
