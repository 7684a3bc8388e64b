// Package storage defines the persistence interface shared by the Postgres
// repository and the in-memory store.
package storage

import (
	"context"
	"errors"
	"time"

	"strepadb/internal/model"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is everything the importer, API and worker need from persistence.
type Store interface {
	CreateDataset(ctx context.Context, d *model.Dataset) error
	GetDataset(ctx context.Context, id string) (*model.Dataset, error)
	ListDatasets(ctx context.Context) ([]*model.Dataset, error)

	CreateImport(ctx context.Context, imp *model.ImportRecord) error
	GetImport(ctx context.Context, id string) (*model.ImportRecord, error)
	ListImports(ctx context.Context, datasetID string) ([]*model.ImportRecord, error)
	SetImportStatus(ctx context.Context, id, status string) error

	// CommitImport atomically stamps the import's commit time and inserts
	// every study together with its nested results: either all writes
	// persist or none do.
	CommitImport(ctx context.Context, imp *model.ImportRecord, studies []*model.Study) error

	// CountImportRows counts persisted studies attributable to the import
	// whose last update is at or before cutoff, and the results belonging
	// to those attributable studies.
	CountImportRows(ctx context.Context, importID string, cutoff time.Time) (studies, results int, err error)

	// ClearImportRows deletes every study created by the import (results
	// cascade) and marks the import record deleted. The record and its
	// staged payload persist for audit.
	ClearImportRows(ctx context.Context, importID string) error

	ListStudiesByDataset(ctx context.Context, datasetID string) ([]*model.Study, error)
	UpdateStudy(ctx context.Context, s *model.Study) error

	CreateDocument(ctx context.Context, d *model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	ListDocuments(ctx context.Context) ([]*model.Document, error)
	MarkDocumentProcessing(ctx context.Context, id string) error
	MarkDocumentFailed(ctx context.Context, id, msg string) error
	MarkDocumentCompleted(ctx context.Context, id, processedKey, content string) error
}
