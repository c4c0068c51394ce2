package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/hybridkb/internal/models"
	"github.com/hyperjump/hybridkb/internal/vector"
)

var _ vector.Store = (*SQLiteStorage)(nil)

// CreatePartition inserts a partition row. Creating an existing partition is a no-op.
func (s *SQLiteStorage) CreatePartition(ctx context.Context, part *models.Partition) error {
	if part.CreatedAt.IsZero() {
		part.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO partitions (kb_id, provider, name, dimensions, created_at)
		 VALUES (?, ?, ?, ?, ?) ON CONFLICT(kb_id, provider) DO NOTHING`,
		part.KnowledgeBaseID, string(part.Provider), part.Name, part.Dimensions, part.CreatedAt,
	)
	return err
}

// GetPartition returns the partition row or vector.ErrPartitionNotFound.
func (s *SQLiteStorage) GetPartition(ctx context.Context, kbID string, p models.Provider) (*models.Partition, error) {
	var part models.Partition
	var provider string
	err := s.db.QueryRowContext(ctx,
		`SELECT kb_id, provider, name, dimensions, created_at FROM partitions WHERE kb_id = ? AND provider = ?`,
		kbID, string(p),
	).Scan(&part.KnowledgeBaseID, &provider, &part.Name, &part.Dimensions, &part.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", kbID, p, vector.ErrPartitionNotFound)
	}
	if err != nil {
		return nil, err
	}
	part.Provider = models.Provider(provider)
	return &part, nil
}

// ListPartitions returns the partitions of a knowledge base.
func (s *SQLiteStorage) ListPartitions(ctx context.Context, kbID string) ([]*models.Partition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kb_id, provider, name, dimensions, created_at FROM partitions WHERE kb_id = ? ORDER BY provider`, kbID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Partition
	for rows.Next() {
		var part models.Partition
		var provider string
		if err := rows.Scan(&part.KnowledgeBaseID, &provider, &part.Name, &part.Dimensions, &part.CreatedAt); err != nil {
			return nil, err
		}
		part.Provider = models.Provider(provider)
		out = append(out, &part)
	}
	return out, rows.Err()
}

// DropPartition deletes the partition row and its embeddings in one transaction.
func (s *SQLiteStorage) DropPartition(ctx context.Context, kbID string, p models.Provider) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE kb_id = ? AND provider = ?`, kbID, string(p)); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM partitions WHERE kb_id = ? AND provider = ?`, kbID, string(p))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, tx.Commit()
}

// UpsertEmbeddings writes vectors for chunk IDs, replacing existing ones.
func (s *SQLiteStorage) UpsertEmbeddings(ctx context.Context, kbID string, p models.Provider, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO embeddings (kb_id, provider, chunk_id, dimensions, vector) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(kb_id, provider, chunk_id) DO UPDATE SET dimensions = excluded.dimensions, vector = excluded.vector`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, id := range ids {
		if _, err := stmt.ExecContext(ctx, kbID, string(p), id, len(vectors[i]), vector.EncodeVector(vectors[i])); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteEmbeddings removes vectors by chunk ID.
func (s *SQLiteStorage) DeleteEmbeddings(ctx context.Context, kbID string, p models.Provider, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM embeddings WHERE kb_id = ? AND provider = ? AND chunk_id IN (`+placeholders(len(ids))+`)`,
		stringArgs([]interface{}{kbID, string(p)}, ids)...)
	return err
}

// LoadEmbeddings returns every vector of a partition in insertion order.
func (s *SQLiteStorage) LoadEmbeddings(ctx context.Context, kbID string, p models.Provider) ([]string, [][]float32, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, vector FROM embeddings WHERE kb_id = ? AND provider = ? ORDER BY rowid`, kbID, string(p))
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var ids []string
	var vectors [][]float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, nil, err
		}
		vec, err := vector.DecodeVector(blob)
		if err != nil {
			return nil, nil, fmt.Errorf("chunk %s: %w", id, err)
		}
		ids = append(ids, id)
		vectors = append(vectors, vec)
	}
	return ids, vectors, rows.Err()
}

// CountEmbeddings counts the partition's vectors, restricted to ids when given.
func (s *SQLiteStorage) CountEmbeddings(ctx context.Context, kbID string, p models.Provider, ids []string) (int, error) {
	query := `SELECT COUNT(*) FROM embeddings WHERE kb_id = ? AND provider = ?`
	args := []interface{}{kbID, string(p)}
	if len(ids) > 0 {
		query += ` AND chunk_id IN (` + placeholders(len(ids)) + `)`
		args = stringArgs(args, ids)
	}
	var n int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}
