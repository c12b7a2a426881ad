package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nightreel/reelforge/internal/models"
)

type ArtifactRepository struct {
	db *sql.DB
}

func NewArtifactRepository(db *sql.DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

func (r *ArtifactRepository) Create(ctx context.Context, artifact *models.Artifact) error {
	const query = `
INSERT INTO artifacts (user_id, invoice_id, model_key, source_url, stored_key, stored_url)
VALUES (?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, artifact.UserID, artifact.InvoiceID, artifact.ModelKey, artifact.SourceURL, artifact.StoredKey, artifact.StoredURL)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("artifact last insert id: %w", err)
	}
	artifact.ID = id
	return nil
}

func (r *ArtifactRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.Artifact, error) {
	const query = `
SELECT id, user_id, invoice_id, model_key, source_url, stored_key, stored_url, created_at
FROM artifacts WHERE user_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []models.Artifact
	for rows.Next() {
		var a models.Artifact
		if err := rows.Scan(&a.ID, &a.UserID, &a.InvoiceID, &a.ModelKey, &a.SourceURL, &a.StoredKey, &a.StoredURL, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
