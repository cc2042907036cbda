// Chunks persistence for the normative_chunks table (§6 persisted state
// layout: chunk_id, document_id, document_title, chunk_type, content,
// page_number, chapter, section — metadata and section_title live only
// in the vector-store payload per §6, not in this table).
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/normex/ragbox-normex/internal/model"
)

// chunkRow mirrors the normative_chunks schema exactly.
type chunkRow struct {
	ChunkID       string `db:"chunk_id"`
	DocumentID    int64  `db:"document_id"`
	DocumentTitle string `db:"document_title"`
	ChunkType     string `db:"chunk_type"`
	Content       string `db:"content"`
	PageNumber    int    `db:"page_number"`
	Chapter       string `db:"chapter"`
	Section       string `db:"section"`
}

func toRow(c model.Chunk) chunkRow {
	return chunkRow{
		ChunkID:       c.ChunkID,
		DocumentID:    c.DocumentID,
		DocumentTitle: c.DocumentTitle,
		ChunkType:     string(c.ChunkType),
		Content:       c.Content,
		PageNumber:    c.Page,
		Chapter:       c.Chapter,
		Section:       c.Section,
	}
}

func fromRow(r chunkRow) model.Chunk {
	return model.Chunk{
		ChunkID:       r.ChunkID,
		DocumentID:    r.DocumentID,
		DocumentTitle: r.DocumentTitle,
		ChunkType:     model.ChunkType(r.ChunkType),
		Content:       r.Content,
		Page:          r.PageNumber,
		Chapter:       r.Chapter,
		Section:       r.Section,
	}
}

// SaveChunks bulk-inserts chunks for one document via a batch, used by
// the indexing pipeline's chunked step.
func (m *Manager) SaveChunks(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	_, err := withRetry(ctx, m, true, func(pool *pgxpool.Pool) (struct{}, error) {
		batch := &pgx.Batch{}
		for _, c := range chunks {
			row := toRow(c)
			batch.Queue(`
				INSERT INTO normative_chunks
					(chunk_id, document_id, document_title, chunk_type, content, page_number, chapter, section)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
				ON CONFLICT (chunk_id) DO UPDATE SET
					content=EXCLUDED.content, page_number=EXCLUDED.page_number,
					chapter=EXCLUDED.chapter, section=EXCLUDED.section`,
				row.ChunkID, row.DocumentID, row.DocumentTitle, row.ChunkType,
				row.Content, row.PageNumber, row.Chapter, row.Section)
		}
		results := pool.SendBatch(ctx, batch)
		defer results.Close()
		for range chunks {
			if _, err := results.Exec(); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	return err
}

// GetChunks returns all chunks belonging to documentID, ordered by page
// number; the order of chunks within one page is not defined.
func (m *Manager) GetChunks(ctx context.Context, documentID int64) ([]model.Chunk, error) {
	rows, err := withRetry(ctx, m, false, func(pool *pgxpool.Pool) ([]chunkRow, error) {
		rows, err := pool.Query(ctx, `
			SELECT chunk_id, document_id, document_title, chunk_type, content, page_number, chapter, section
			FROM normative_chunks WHERE document_id=$1 ORDER BY page_number ASC`, documentID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return pgx.CollectRows(rows, pgx.RowToStructByName[chunkRow])
	})
	if err != nil {
		return nil, err
	}
	out := make([]model.Chunk, len(rows))
	for i, r := range rows {
		out[i] = fromRow(r)
	}
	return out, nil
}

// GetAllChunks returns every chunk in the corpus, used to (re)train the
// BM25 corpus cache on first query or after an administrative flush.
func (m *Manager) GetAllChunks(ctx context.Context) ([]model.Chunk, error) {
	rows, err := withRetry(ctx, m, false, func(pool *pgxpool.Pool) ([]chunkRow, error) {
		rows, err := pool.Query(ctx, `
			SELECT chunk_id, document_id, document_title, chunk_type, content, page_number, chapter, section
			FROM normative_chunks ORDER BY document_id ASC, page_number ASC`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return pgx.CollectRows(rows, pgx.RowToStructByName[chunkRow])
	})
	if err != nil {
		return nil, err
	}
	out := make([]model.Chunk, len(rows))
	for i, r := range rows {
		out[i] = fromRow(r)
	}
	return out, nil
}

// DeleteChunks removes all chunks belonging to documentID, used before
// re-indexing (the database side of the cascade described in §9).
func (m *Manager) DeleteChunks(ctx context.Context, documentID int64) error {
	_, err := withRetry(ctx, m, true, func(pool *pgxpool.Pool) (struct{}, error) {
		_, err := pool.Exec(ctx, `DELETE FROM normative_chunks WHERE document_id=$1`, documentID)
		return struct{}{}, err
	})
	return err
}
