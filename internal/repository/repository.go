// Package repository wraps all SQL used throughout the API and worker.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"strepadb/internal/model"
	"strepadb/internal/storage"
)

// Repository is the Postgres implementation of storage.Store.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ storage.Store = (*Repository)(nil)

func (r *Repository) CreateDataset(ctx context.Context, d *model.Dataset) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO datasets (id, name, description, created_at)
		VALUES ($1,$2,$3,$4)
	`, d.ID, d.Name, d.Description, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert dataset: %w", err)
	}
	return nil
}

func (r *Repository) GetDataset(ctx context.Context, id string) (*model.Dataset, error) {
	var d model.Dataset
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, description, created_at FROM datasets WHERE id=$1
	`, id)
	if err := row.Scan(&d.ID, &d.Name, &d.Description, &d.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("select dataset: %w", err)
	}
	return &d, nil
}

func (r *Repository) ListDatasets(ctx context.Context) ([]*model.Dataset, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, description, created_at FROM datasets ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()
	var out []*model.Dataset
	for rows.Next() {
		var d model.Dataset
		if err := rows.Scan(&d.ID, &d.Name, &d.Description, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (r *Repository) CreateImport(ctx context.Context, imp *model.ImportRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO imports (id, dataset_id, file_name, object_key, uploaded_by,
			uploaded_at, committed_at, staged, deleted, last_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, imp.ID, imp.DatasetID, imp.FileName, imp.ObjectKey, imp.UploadedBy,
		imp.UploadedAt, imp.CommittedAt, imp.Staged, imp.Deleted, imp.LastStatus)
	if err != nil {
		return fmt.Errorf("insert import: %w", err)
	}
	return nil
}

func (r *Repository) GetImport(ctx context.Context, id string) (*model.ImportRecord, error) {
	var imp model.ImportRecord
	row := r.pool.QueryRow(ctx, `
		SELECT id, dataset_id, file_name, object_key, uploaded_by, uploaded_at,
			committed_at, staged, deleted, COALESCE(last_status,'')
		FROM imports WHERE id=$1
	`, id)
	if err := row.Scan(&imp.ID, &imp.DatasetID, &imp.FileName, &imp.ObjectKey,
		&imp.UploadedBy, &imp.UploadedAt, &imp.CommittedAt, &imp.Staged,
		&imp.Deleted, &imp.LastStatus); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("select import: %w", err)
	}
	return &imp, nil
}

func (r *Repository) ListImports(ctx context.Context, datasetID string) ([]*model.ImportRecord, error) {
	query := `
		SELECT id, dataset_id, file_name, object_key, uploaded_by, uploaded_at,
			committed_at, staged, deleted, COALESCE(last_status,'')
		FROM imports`
	args := []any{}
	if datasetID != "" {
		query += ` WHERE dataset_id=$1`
		args = append(args, datasetID)
	}
	query += ` ORDER BY uploaded_at`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list imports: %w", err)
	}
	defer rows.Close()
	var out []*model.ImportRecord
	for rows.Next() {
		var imp model.ImportRecord
		if err := rows.Scan(&imp.ID, &imp.DatasetID, &imp.FileName, &imp.ObjectKey,
			&imp.UploadedBy, &imp.UploadedAt, &imp.CommittedAt, &imp.Staged,
			&imp.Deleted, &imp.LastStatus); err != nil {
			return nil, fmt.Errorf("scan import: %w", err)
		}
		out = append(out, &imp)
	}
	return out, rows.Err()
}

func (r *Repository) SetImportStatus(ctx context.Context, id, status string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE imports SET last_status=$1 WHERE id=$2`, status, id)
	if err != nil {
		return fmt.Errorf("update import status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
