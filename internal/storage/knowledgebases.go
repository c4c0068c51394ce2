package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/hybridkb/internal/models"
)

const kbSelect = `
	SELECT kb.id, kb.name, kb.description, kb.icon, kb.created_at, kb.updated_at,
		(SELECT COUNT(*) FROM chunks c WHERE c.kb_id = kb.id),
		(SELECT COUNT(DISTINCT c.filename) FROM chunks c WHERE c.kb_id = kb.id)
	FROM knowledge_bases kb`

// UpsertKnowledgeBase inserts kb or updates its metadata, keeping the original created_at.
// kb's timestamps are set from the stored row.
func (s *SQLiteStorage) UpsertKnowledgeBase(ctx context.Context, kb *models.KnowledgeBase) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_bases (id, name, description, icon, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			icon = excluded.icon,
			updated_at = excluded.updated_at`,
		kb.ID, kb.Name, kb.Description, kb.Icon, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert knowledge base %s: %w", kb.ID, err)
	}
	stored, err := s.GetKnowledgeBase(ctx, kb.ID)
	if err != nil {
		return err
	}
	*kb = *stored
	return nil
}

// GetKnowledgeBase returns a knowledge base with derived counts.
func (s *SQLiteStorage) GetKnowledgeBase(ctx context.Context, id string) (*models.KnowledgeBase, error) {
	row := s.db.QueryRowContext(ctx, kbSelect+` WHERE kb.id = ?`, id)
	kb, err := scanKnowledgeBase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("knowledge base %s: %w", id, ErrNotFound)
	}
	return kb, err
}

// ListKnowledgeBases returns every knowledge base ordered by id.
func (s *SQLiteStorage) ListKnowledgeBases(ctx context.Context) ([]*models.KnowledgeBase, error) {
	rows, err := s.db.QueryContext(ctx, kbSelect+` ORDER BY kb.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.KnowledgeBase
	for rows.Next() {
		kb, err := scanKnowledgeBase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, kb)
	}
	return out, rows.Err()
}

// DeleteKnowledgeBase removes the metadata row and reports whether it existed.
func (s *SQLiteStorage) DeleteKnowledgeBase(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_bases WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanKnowledgeBase(row scanner) (*models.KnowledgeBase, error) {
	var kb models.KnowledgeBase
	if err := row.Scan(&kb.ID, &kb.Name, &kb.Description, &kb.Icon, &kb.CreatedAt, &kb.UpdatedAt,
		&kb.ChunkCount, &kb.DocumentCount); err != nil {
		return nil, err
	}
	return &kb, nil
}
