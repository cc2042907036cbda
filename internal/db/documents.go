// Documents persistence for the uploaded_documents table (§6 persisted
// state layout), grounded on the same database_manager.py operations
// (upsert-by-hash, status/progress updates, pending/retry queries) this
// package's Manager wraps with pooled retry.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/normex/ragbox-normex/internal/apperr"
	"github.com/normex/ragbox-normex/internal/model"
)

// SaveDocument inserts a new document row. Fails with
// InputInvalid/Duplicate if document_hash already exists.
func (m *Manager) SaveDocument(ctx context.Context, doc model.Document) (int64, error) {
	const op = "db.SaveDocument"
	id, err := withRetry(ctx, m, true, func(pool *pgxpool.Pool) (int64, error) {
		var id int64
		err := pool.QueryRow(ctx, `
			INSERT INTO uploaded_documents
				(filename, original_filename, file_type, file_size, document_hash,
				 category, document_type, processing_status, indexing_progress,
				 retry_count, token_count, upload_date)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			RETURNING id`,
			doc.Filename, doc.OriginalFilename, doc.FileType, doc.FileSize, doc.DocumentHash,
			doc.Category, doc.DocumentType, model.StatusPending, 0, 0, doc.TokenCount, doc.UploadDate,
		).Scan(&id)
		return id, err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return 0, apperr.New(op, apperr.InputInvalid, apperr.Duplicate)
		}
		return 0, err
	}
	return id, nil
}

// UpdateStatus sets processing_status (and processing_error, if any)
// for one document.
func (m *Manager) UpdateStatus(ctx context.Context, documentID int64, status model.ProcessingStatus, processingErr string) error {
	_, err := withRetry(ctx, m, true, func(pool *pgxpool.Pool) (struct{}, error) {
		_, err := pool.Exec(ctx, `
			UPDATE uploaded_documents
			SET processing_status=$1, processing_error=$2, last_processing_update=now()
			WHERE id=$3`, status, processingErr, documentID)
		return struct{}{}, err
	})
	return err
}

// UpdateProgress sets indexing_progress for one document. Progress is
// expected (by the caller) to be monotonically non-decreasing within
// one indexing attempt.
func (m *Manager) UpdateProgress(ctx context.Context, documentID int64, percent int) error {
	_, err := withRetry(ctx, m, true, func(pool *pgxpool.Pool) (struct{}, error) {
		_, err := pool.Exec(ctx, `
			UPDATE uploaded_documents
			SET indexing_progress=$1, last_processing_update=now()
			WHERE id=$2`, percent, documentID)
		return struct{}{}, err
	})
	return err
}

// MarkForRetry increments retry_count, records the failure, and resets
// status to pending for a requeue attempt.
func (m *Manager) MarkForRetry(ctx context.Context, documentID int64, cause string) error {
	_, err := withRetry(ctx, m, true, func(pool *pgxpool.Pool) (struct{}, error) {
		_, err := pool.Exec(ctx, `
			UPDATE uploaded_documents
			SET processing_status=$1, processing_error=$2, retry_count=retry_count+1,
			    last_retry_attempt=now(), last_processing_update=now()
			WHERE id=$3`, model.StatusPending, cause, documentID)
		return struct{}{}, err
	})
	return err
}

// SetTokenCount stores the approximate token count for a document's
// full extracted text, set once indexing reaches the token-counted step.
func (m *Manager) SetTokenCount(ctx context.Context, documentID int64, tokens int) error {
	_, err := withRetry(ctx, m, true, func(pool *pgxpool.Pool) (struct{}, error) {
		_, err := pool.Exec(ctx, `UPDATE uploaded_documents SET token_count=$1 WHERE id=$2`, tokens, documentID)
		return struct{}{}, err
	})
	return err
}

// GetDocument fetches one document by id.
func (m *Manager) GetDocument(ctx context.Context, documentID int64) (model.Document, error) {
	row, err := withRetry(ctx, m, false, func(pool *pgxpool.Pool) (model.Document, error) {
		rows, err := pool.Query(ctx, documentSelect+` WHERE id=$1`, documentID)
		if err != nil {
			return model.Document{}, err
		}
		defer rows.Close()
		return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[model.Document])
	})
	if err != nil {
		return model.Document{}, apperr.New("db.GetDocument", apperr.NotFound, err)
	}
	return row, nil
}

// GetPendingForIndexing returns documents whose status is pending.
func (m *Manager) GetPendingForIndexing(ctx context.Context) ([]model.Document, error) {
	return withRetry(ctx, m, false, func(pool *pgxpool.Pool) ([]model.Document, error) {
		rows, err := pool.Query(ctx, documentSelect+` WHERE processing_status=$1 ORDER BY upload_date ASC`, model.StatusPending)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return pgx.CollectRows(rows, pgx.RowToStructByName[model.Document])
	})
}

// GetFailedForRetry returns failed documents still under maxRetries.
func (m *Manager) GetFailedForRetry(ctx context.Context, maxRetries int) ([]model.Document, error) {
	return withRetry(ctx, m, false, func(pool *pgxpool.Pool) ([]model.Document, error) {
		rows, err := pool.Query(ctx, documentSelect+` WHERE processing_status=$1 AND retry_count<$2 ORDER BY last_retry_attempt ASC`,
			model.StatusFailed, maxRetries)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return pgx.CollectRows(rows, pgx.RowToStructByName[model.Document])
	})
}

// GetDocuments lists documents, optionally filtered by category.
func (m *Manager) GetDocuments(ctx context.Context, category string, limit, offset int) ([]model.Document, error) {
	return withRetry(ctx, m, false, func(pool *pgxpool.Pool) ([]model.Document, error) {
		var rows pgx.Rows
		var err error
		if category != "" {
			rows, err = pool.Query(ctx, documentSelect+` WHERE category=$1 ORDER BY upload_date DESC LIMIT $2 OFFSET $3`, category, limit, offset)
		} else {
			rows, err = pool.Query(ctx, documentSelect+` ORDER BY upload_date DESC LIMIT $1 OFFSET $2`, limit, offset)
		}
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return pgx.CollectRows(rows, pgx.RowToStructByName[model.Document])
	})
}

const documentSelect = `
	SELECT id, filename, original_filename, file_type, file_size, document_hash,
	       category, document_type, processing_status, indexing_progress,
	       processing_error, retry_count, last_retry_attempt, last_processing_update,
	       token_count, upload_date
	FROM uploaded_documents`

func isUniqueViolation(err error) bool {
	return isPgCode(err, "23505")
}
