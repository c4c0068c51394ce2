package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/hybridkb/internal/models"
)

const chunkColumns = `id, kb_id, content, metadata, created_at`

// InsertChunks stores chunks in one transaction, replacing rows with the same id.
func (s *SQLiteStorage) InsertChunks(ctx context.Context, chunks []*models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO chunks (kb_id, id, document_id, filename, content_hash, chunk_index, content, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, c := range chunks {
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for %s: %w", c.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, c.KnowledgeBaseID, c.ID, c.Metadata.DocumentID, c.Metadata.Filename,
			c.Metadata.ContentHash, c.Metadata.ChunkIndex, c.Content, string(meta), c.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteDocumentChunks removes every chunk of filename (exact match) together with the
// chunks' embeddings, and returns the removed chunk IDs.
func (s *SQLiteStorage) DeleteDocumentChunks(ctx context.Context, kbID, filename string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE kb_id = ? AND filename = ?`, kbID, filename)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM embeddings WHERE kb_id = ? AND chunk_id IN (`+placeholders(len(ids))+`)`,
		stringArgs([]interface{}{kbID}, ids)...); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE kb_id = ? AND filename = ?`, kbID, filename); err != nil {
		return nil, err
	}
	return ids, tx.Commit()
}

// DeleteKnowledgeBaseChunks removes all chunks and embeddings of a knowledge base.
func (s *SQLiteStorage) DeleteKnowledgeBaseChunks(ctx context.Context, kbID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE kb_id = ?`, kbID); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE kb_id = ?`, kbID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}

// GetChunks returns the chunks with the given IDs keyed by ID. Unknown IDs are absent.
func (s *SQLiteStorage) GetChunks(ctx context.Context, kbID string, ids []string) (map[string]*models.Chunk, error) {
	out := make(map[string]*models.Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	chunks, err := s.queryChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE kb_id = ? AND id IN (`+placeholders(len(ids))+`)`,
		stringArgs([]interface{}{kbID}, ids)...)
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		out[c.ID] = c
	}
	return out, nil
}

// GetChunk returns a single chunk.
func (s *SQLiteStorage) GetChunk(ctx context.Context, kbID, id string) (*models.Chunk, error) {
	chunks, err := s.GetChunks(ctx, kbID, []string{id})
	if err != nil {
		return nil, err
	}
	c, ok := chunks[id]
	if !ok {
		return nil, fmt.Errorf("chunk %s: %w", id, ErrNotFound)
	}
	return c, nil
}

// ListChunks returns every chunk of a knowledge base ordered by filename and index.
func (s *SQLiteStorage) ListChunks(ctx context.Context, kbID string) ([]*models.Chunk, error) {
	return s.queryChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE kb_id = ? ORDER BY filename, chunk_index`, kbID)
}

// DocumentChunks returns the chunks of one document ordered by chunk index.
func (s *SQLiteStorage) DocumentChunks(ctx context.Context, kbID, filename string) ([]*models.Chunk, error) {
	return s.queryChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE kb_id = ? AND filename = ? ORDER BY chunk_index`, kbID, filename)
}

// ChunkTexts returns chunk IDs and contents for rebuilding a lexical index.
func (s *SQLiteStorage) ChunkTexts(ctx context.Context, kbID string) ([]string, []string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content FROM chunks WHERE kb_id = ? ORDER BY filename, chunk_index`, kbID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var ids, texts []string
	for rows.Next() {
		var id, content string
		if err := rows.Scan(&id, &content); err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		texts = append(texts, content)
	}
	return ids, texts, rows.Err()
}

// DocumentHash returns the content hash stored for filename.
func (s *SQLiteStorage) DocumentHash(ctx context.Context, kbID, filename string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT content_hash FROM chunks WHERE kb_id = ? AND filename = ? LIMIT 1`, kbID, filename,
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("document %s: %w", filename, ErrNotFound)
	}
	return hash, err
}

// ListDocuments summarises the documents of a knowledge base ordered by filename.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, kbID string) ([]*models.DocumentInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.filename, c.document_id, c.content_hash, COUNT(*),
			MIN(c.metadata),
			(SELECT COUNT(*) FROM embeddings e JOIN chunks c2 ON e.kb_id = c2.kb_id AND e.chunk_id = c2.id
				WHERE c2.kb_id = c.kb_id AND c2.filename = c.filename AND e.provider = ?),
			(SELECT COUNT(*) FROM embeddings e JOIN chunks c2 ON e.kb_id = c2.kb_id AND e.chunk_id = c2.id
				WHERE c2.kb_id = c.kb_id AND c2.filename = c.filename AND e.provider = ?)
		FROM chunks c WHERE c.kb_id = ?
		GROUP BY c.filename ORDER BY c.filename`,
		string(models.ProviderLocal), string(models.ProviderCloud), kbID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.DocumentInfo
	for rows.Next() {
		var info models.DocumentInfo
		var metaJSON string
		var local, cloud int
		if err := rows.Scan(&info.Filename, &info.DocumentID, &info.ContentHash, &info.ChunkCount,
			&metaJSON, &local, &cloud); err != nil {
			return nil, err
		}
		var meta models.ChunkMetadata
		if err := json.Unmarshal([]byte(metaJSON), &meta); err == nil {
			info.FileType = meta.FileType
			info.Uploader = meta.Uploader
			info.UploadDate = meta.UploadDate
		}
		info.HasLocal = local > 0
		info.HasCloud = cloud > 0
		out = append(out, &info)
	}
	return out, rows.Err()
}

// SearchContent returns up to limit chunks whose content contains substr, compared
// case-insensitively, across the given knowledge bases.
func (s *SQLiteStorage) SearchContent(ctx context.Context, kbIDs []string, substr string, limit int) ([]*models.Chunk, error) {
	if len(kbIDs) == 0 || strings.TrimSpace(substr) == "" {
		return nil, nil
	}
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(substr)
	args := stringArgs(nil, kbIDs)
	args = append(args, "%"+escaped+"%", limit)
	return s.queryChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE kb_id IN (`+placeholders(len(kbIDs))+`)
		 AND content LIKE ? ESCAPE '\' ORDER BY kb_id, filename, chunk_index LIMIT ?`, args...)
}

// CountChunks returns the number of chunks, for one knowledge base or all when kbID is empty.
func (s *SQLiteStorage) CountChunks(ctx context.Context, kbID string) (int, error) {
	var n int
	var err error
	if kbID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE kb_id = ?`, kbID).Scan(&n)
	}
	return n, err
}

func (s *SQLiteStorage) queryChunks(ctx context.Context, query string, args ...interface{}) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Chunk
	for rows.Next() {
		var c models.Chunk
		var metaJSON string
		if err := rows.Scan(&c.ID, &c.KnowledgeBaseID, &c.Content, &metaJSON, &c.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(metaJSON), &c.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", c.ID, err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
