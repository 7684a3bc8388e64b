package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"strepadb/internal/model"
)

// MemoryStore is a mutex-guarded in-memory Store. It backs the importer
// tests and `serve --memory` for local runs without Postgres.
type MemoryStore struct {
	mu        sync.RWMutex
	datasets  map[string]*model.Dataset
	imports   map[string]*model.ImportRecord
	studies   map[string]*model.Study
	documents map[string]*model.Document

	// Now is the clock used for update stamps; tests override it to move
	// records past the consistency grace window.
	Now func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		datasets:  make(map[string]*model.Dataset),
		imports:   make(map[string]*model.ImportRecord),
		studies:   make(map[string]*model.Study),
		documents: make(map[string]*model.Document),
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) CreateDataset(_ context.Context, d *model.Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = m.Now()
	}
	cp := *d
	m.datasets[d.ID] = &cp
	return nil
}

func (m *MemoryStore) GetDataset(_ context.Context, id string) (*model.Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.datasets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) ListDatasets(_ context.Context) ([]*model.Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Dataset, 0, len(m.datasets))
	for _, d := range m.datasets {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) CreateImport(_ context.Context, imp *model.ImportRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *imp
	m.imports[imp.ID] = &cp
	return nil
}

func (m *MemoryStore) GetImport(_ context.Context, id string) (*model.ImportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	imp, ok := m.imports[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *imp
	return &cp, nil
}

func (m *MemoryStore) ListImports(_ context.Context, datasetID string) ([]*model.ImportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.ImportRecord
	for _, imp := range m.imports {
		if datasetID != "" && imp.DatasetID != datasetID {
			continue
		}
		cp := *imp
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.Before(out[j].UploadedAt) })
	return out, nil
}

func (m *MemoryStore) SetImportStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	imp, ok := m.imports[id]
	if !ok {
		return ErrNotFound
	}
	imp.LastStatus = status
	return nil
}

func (m *MemoryStore) CommitImport(_ context.Context, imp *model.ImportRecord, studies []*model.Study) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.imports[imp.ID]
	if !ok {
		return ErrNotFound
	}
	// Single-lock insert: in memory the batch is trivially all-or-nothing.
	stored.CommittedAt = imp.CommittedAt
	for _, s := range studies {
		cp := *s
		cp.Results = make([]*model.Result, len(s.Results))
		for i, r := range s.Results {
			rcp := *r
			cp.Results[i] = &rcp
		}
		m.studies[cp.ID] = &cp
	}
	return nil
}

func (m *MemoryStore) CountImportRows(_ context.Context, importID string, cutoff time.Time) (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var studies, results int
	for _, s := range m.studies {
		if s.ImportID == nil || *s.ImportID != importID {
			continue
		}
		if s.UpdatedAt.After(cutoff) {
			continue
		}
		studies++
		results += len(s.Results)
	}
	return studies, results, nil
}

func (m *MemoryStore) ClearImportRows(_ context.Context, importID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	imp, ok := m.imports[importID]
	if !ok {
		return ErrNotFound
	}
	for id, s := range m.studies {
		if s.ImportID != nil && *s.ImportID == importID {
			delete(m.studies, id)
		}
	}
	imp.Deleted = true
	return nil
}

func (m *MemoryStore) ListStudiesByDataset(_ context.Context, datasetID string) ([]*model.Study, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Study
	for _, s := range m.studies {
		if s.DatasetID != datasetID {
			continue
		}
		cp := *s
		cp.Results = append([]*model.Result(nil), s.Results...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StudyGroup != out[j].StudyGroup {
			return out[i].StudyGroup < out[j].StudyGroup
		}
		return out[i].ImportRowNumber < out[j].ImportRowNumber
	})
	return out, nil
}

func (m *MemoryStore) UpdateStudy(_ context.Context, s *model.Study) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.studies[s.ID]
	if !ok {
		return ErrNotFound
	}
	cp := *s
	cp.Results = stored.Results
	cp.UpdatedAt = m.Now()
	m.studies[s.ID] = &cp
	return nil
}

func (m *MemoryStore) CreateDocument(_ context.Context, d *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	d.Status = model.DocumentQueued
	d.CreatedAt = now
	d.UpdatedAt = now
	cp := *d
	m.documents[d.ID] = &cp
	return nil
}

func (m *MemoryStore) GetDocument(_ context.Context, id string) (*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) ListDocuments(_ context.Context) ([]*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Document, 0, len(m.documents))
	for _, d := range m.documents {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) MarkDocumentProcessing(_ context.Context, id string) error {
	return m.updateDocument(id, model.DocumentProcessing, nil, nil, nil)
}

func (m *MemoryStore) MarkDocumentFailed(_ context.Context, id, msg string) error {
	return m.updateDocument(id, model.DocumentFailed, nil, nil, &msg)
}

func (m *MemoryStore) MarkDocumentCompleted(_ context.Context, id, processedKey, content string) error {
	return m.updateDocument(id, model.DocumentCompleted, &processedKey, &content, nil)
}

func (m *MemoryStore) updateDocument(id string, status model.DocumentStatus, processedKey, content, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = status
	if processedKey != nil {
		d.ProcessedKey = processedKey
	}
	if content != nil {
		d.Content = *content
	}
	d.ErrorMessage = errMsg
	d.UpdatedAt = m.Now()
	return nil
}
