package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"strepadb/internal/model"
	"strepadb/internal/storage"
)

// CreateDocument inserts a queued user-guide document before processing.
func (r *Repository) CreateDocument(ctx context.Context, d *model.Document) error {
	now := time.Now().UTC()
	d.Status = model.DocumentQueued
	d.CreatedAt = now
	d.UpdatedAt = now
	_, err := r.pool.Exec(ctx, `
		INSERT INTO documents (id, title, file_name, object_key, status,
			content, error_message, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, d.ID, d.Title, d.FileName, d.ObjectKey, d.Status, "", nil, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetDocument returns a document by id.
func (r *Repository) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	var d model.Document
	row := r.pool.QueryRow(ctx, `
		SELECT id, title, file_name, object_key, processed_key, status,
			COALESCE(content,''), error_message, created_at, updated_at
		FROM documents WHERE id=$1
	`, id)
	if err := row.Scan(&d.ID, &d.Title, &d.FileName, &d.ObjectKey,
		&d.ProcessedKey, &d.Status, &d.Content, &d.ErrorMessage,
		&d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("select document: %w", err)
	}
	return &d, nil
}

// ListDocuments returns every hosted document, oldest first.
func (r *Repository) ListDocuments(ctx context.Context) ([]*model.Document, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, title, file_name, object_key, processed_key, status,
			COALESCE(content,''), error_message, created_at, updated_at
		FROM documents ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	var out []*model.Document
	for rows.Next() {
		var d model.Document
		if err := rows.Scan(&d.ID, &d.Title, &d.FileName, &d.ObjectKey,
			&d.ProcessedKey, &d.Status, &d.Content, &d.ErrorMessage,
			&d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// MarkDocumentProcessing sets the status to processing.
func (r *Repository) MarkDocumentProcessing(ctx context.Context, id string) error {
	return r.updateDocumentStatus(ctx, id, model.DocumentProcessing, nil, nil, nil)
}

// MarkDocumentFailed marks the processing attempt as failed.
func (r *Repository) MarkDocumentFailed(ctx context.Context, id, msg string) error {
	return r.updateDocumentStatus(ctx, id, model.DocumentFailed, nil, nil, &msg)
}

// MarkDocumentCompleted stores the processed artifact references.
func (r *Repository) MarkDocumentCompleted(ctx context.Context, id, processedKey, content string) error {
	return r.updateDocumentStatus(ctx, id, model.DocumentCompleted, &processedKey, &content, nil)
}

func (r *Repository) updateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus, processedKey, content, errMsg *string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE documents
		SET status=$1,
			processed_key = COALESCE($2, processed_key),
			content = COALESCE($3, content),
			error_message = $4,
			updated_at = now()
		WHERE id=$5
	`, status, processedKey, content, errMsg, id)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
