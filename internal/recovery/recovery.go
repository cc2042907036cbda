// Package recovery implements C15: a periodic loop that logs queue and
// active-task stats, marks stuck active tasks as failed, and requeues
// pending documents the indexing pipeline has lost track of. Grounded
// on indexing_service.py's _monitor_loop/_check_stuck_tasks/
// _recover_pending_tasks (30s interval, 10-minute stuck threshold,
// skip documents already active or already queued), exposed as
// Prometheus gauges the way go.mod pulls in
// client_golang for its own metrics surface.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/normex/ragbox-normex/internal/indexing"
	"github.com/normex/ragbox-normex/internal/model"
)

// Indexer is the subset of the C14 Pipeline the recovery loop drives.
type Indexer interface {
	ActiveTasks() map[int64]time.Time
	IsQueuedOrActive(documentID int64) bool
	Abandon(documentID int64)
	Submit(task model.IndexingTask) error
	Stats() indexing.Stats
}

// DocumentStore is the subset of C13 recovery needs: marking stuck
// documents failed and discovering pending work to requeue.
type DocumentStore interface {
	UpdateStatus(ctx context.Context, documentID int64, status model.ProcessingStatus, processingErr string) error
	GetPendingForIndexing(ctx context.Context) ([]model.Document, error)
}

// ContentLoader retrieves the original file bytes for a pending
// document so recovery can actually resubmit it for indexing, not just
// report it. The persisted uploaded_documents row (§6) keeps no raw
// content column, so a loader backed by separate blob storage is
// optional — nil disables active resubmission and recovery only logs
// and counts the documents it found pending but cannot resume, mirroring
// the gap left open in rag_service's _recover_pending_tasks ("здесь нужно
// будет загрузить контент документа из файловой системы").
type ContentLoader interface {
	Load(ctx context.Context, documentID int64) ([]byte, error)
}

// Config tunes the loop interval and the stuck-task threshold.
type Config struct {
	Interval       time.Duration
	StuckThreshold time.Duration
}

var (
	queueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ragbox_indexing_queue_depth",
		Help: "Number of indexing tasks currently queued.",
	})
	activeTasksGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ragbox_indexing_active_tasks",
		Help: "Number of indexing tasks currently in flight.",
	})
	stuckTasksCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ragbox_indexing_stuck_tasks_total",
		Help: "Number of active tasks the recovery loop has marked failed for exceeding the stuck threshold.",
	})
	requeuedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ragbox_indexing_requeued_total",
		Help: "Number of pending documents the recovery loop has re-enqueued.",
	})
	unresumableGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ragbox_indexing_unresumable_pending",
		Help: "Pending documents found idle with no content loader configured to resume them.",
	})
)

func init() {
	prometheus.MustRegister(queueDepthGauge, activeTasksGauge, stuckTasksCounter, requeuedCounter, unresumableGauge)
}

// Monitor runs the C15 periodic loop.
type Monitor struct {
	cfg     Config
	indexer Indexer
	docs    DocumentStore
	content ContentLoader
}

// New constructs a Monitor. content may be nil — see ContentLoader.
func New(cfg Config, indexer Indexer, docs DocumentStore, content ContentLoader) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = 10 * time.Minute
	}
	return &Monitor{cfg: cfg, indexer: indexer, docs: docs, content: content}
}

// Run blocks, ticking every cfg.Interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	slog.Info("recovery monitor started", "interval", m.cfg.Interval, "stuck_threshold", m.cfg.StuckThreshold)
	for {
		select {
		case <-ctx.Done():
			slog.Info("recovery monitor stopped")
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	stats := m.indexer.Stats()
	queueDepthGauge.Set(float64(stats.QueueSize))
	activeTasksGauge.Set(float64(stats.ActiveTasks))
	slog.Info("indexing stats", "queue_size", stats.QueueSize, "active_tasks", stats.ActiveTasks)

	m.checkStuckTasks(ctx)
	m.recoverPendingTasks(ctx)
}

func (m *Monitor) checkStuckTasks(ctx context.Context) {
	now := time.Now()
	for docID, lastAttempt := range m.indexer.ActiveTasks() {
		if now.Sub(lastAttempt) <= m.cfg.StuckThreshold {
			continue
		}
		slog.Warn("marking stuck task as failed", "document_id", docID, "stuck_for", now.Sub(lastAttempt))
		if err := m.docs.UpdateStatus(ctx, docID, model.StatusFailed, "Task stuck"); err != nil {
			slog.Error("recovery failed to mark stuck document failed", "document_id", docID, "error", err)
			continue
		}
		m.indexer.Abandon(docID)
		stuckTasksCounter.Inc()
	}
}

func (m *Monitor) recoverPendingTasks(ctx context.Context) {
	pending, err := m.docs.GetPendingForIndexing(ctx)
	if err != nil {
		slog.Error("recovery failed to list pending documents", "error", err)
		return
	}

	unresumable := 0
	for _, doc := range pending {
		if m.indexer.IsQueuedOrActive(doc.ID) {
			continue
		}
		if m.content == nil {
			slog.Info("pending document has no content loader configured, cannot resume", "document_id", doc.ID)
			unresumable++
			continue
		}

		content, err := m.content.Load(ctx, doc.ID)
		if err != nil {
			slog.Warn("recovery failed to load content for pending document", "document_id", doc.ID, "error", err)
			continue
		}

		slog.Info("recovering pending document", "document_id", doc.ID, "filename", doc.Filename)
		task := model.IndexingTask{
			DocumentID:   doc.ID,
			Filename:     doc.Filename,
			ContentBytes: content,
			Category:     doc.Category,
			RetryCount:   doc.RetryCount,
			Priority:     model.PriorityNormal,
		}
		if err := m.indexer.Submit(task); err != nil {
			slog.Warn("recovery could not requeue document", "document_id", doc.ID, "error", err)
			continue
		}
		requeuedCounter.Inc()
	}
	unresumableGauge.Set(float64(unresumable))
}
