package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strepadb/internal/model"
)

func seedStudies(t *testing.T, m *MemoryStore, importID string, stamps ...time.Time) {
	t.Helper()
	ctx := context.Background()
	imp := &model.ImportRecord{ID: importID, DatasetID: "ds-1"}
	require.NoError(t, m.CreateImport(ctx, imp))
	committedAt := stamps[0]
	imp.CommittedAt = &committedAt

	studies := make([]*model.Study, 0, len(stamps))
	for i, stamp := range stamps {
		id := importID
		studies = append(studies, &model.Study{
			ID:              importID + "-s" + string(rune('a'+i)),
			DatasetID:       "ds-1",
			ImportID:        &id,
			UpdatedAt:       stamp,
			ImportRowNumber: i + 2,
			Results:         []*model.Result{{ID: importID + "-r" + string(rune('a'+i))}},
		})
	}
	require.NoError(t, m.CommitImport(ctx, imp, studies))
}

func TestCountImportRowsHonoursCutoff(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedStudies(t, m, "imp-1", base, base.Add(5*time.Second), base.Add(time.Hour))

	studies, results, err := m.CountImportRows(ctx, "imp-1", base.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, studies)
	assert.Equal(t, 2, results)

	studies, results, err = m.CountImportRows(ctx, "imp-1", base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, studies)
	assert.Equal(t, 3, results)

	// Other imports never contribute.
	studies, _, err = m.CountImportRows(ctx, "imp-other", base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, studies)
}

func TestClearImportRows(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	base := time.Now().UTC()
	seedStudies(t, m, "imp-1", base)
	seedStudies(t, m, "imp-2", base)

	require.NoError(t, m.ClearImportRows(ctx, "imp-1"))

	imp, err := m.GetImport(ctx, "imp-1")
	require.NoError(t, err)
	assert.True(t, imp.Deleted)

	studies, err := m.ListStudiesByDataset(ctx, "ds-1")
	require.NoError(t, err)
	require.Len(t, studies, 1)
	assert.Equal(t, "imp-2", *studies[0].ImportID)

	assert.ErrorIs(t, m.ClearImportRows(ctx, "imp-ghost"), ErrNotFound)
}

func TestUpdateStudyStampsAndPreservesResults(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedStudies(t, m, "imp-1", base)

	frozen := base.Add(time.Minute)
	m.Now = func() time.Time { return frozen }

	studies, err := m.ListStudiesByDataset(ctx, "ds-1")
	require.NoError(t, err)
	require.Len(t, studies, 1)

	edited := studies[0]
	edited.StudyGroup = "ARF"
	edited.Results = nil // callers may drop results; the store keeps them
	require.NoError(t, m.UpdateStudy(ctx, edited))

	after, err := m.ListStudiesByDataset(ctx, "ds-1")
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "ARF", after[0].StudyGroup)
	assert.Equal(t, frozen, after[0].UpdatedAt)
	assert.Len(t, after[0].Results, 1)

	assert.ErrorIs(t, m.UpdateStudy(ctx, &model.Study{ID: "ghost"}), ErrNotFound)
}

func TestImportRecordsAreCopied(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	imp := &model.ImportRecord{ID: "imp-1", DatasetID: "ds-1", FileName: "a.xlsx"}
	require.NoError(t, m.CreateImport(ctx, imp))

	// Mutating the caller's struct must not leak into the store.
	imp.FileName = "changed.xlsx"
	stored, err := m.GetImport(ctx, "imp-1")
	require.NoError(t, err)
	assert.Equal(t, "a.xlsx", stored.FileName)

	_, err = m.GetImport(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	doc := &model.Document{ID: "doc-1", Title: "User guide", FileName: "guide.pdf", ObjectKey: "documents/doc-1/guide.pdf"}
	require.NoError(t, m.CreateDocument(ctx, doc))
	assert.Equal(t, model.DocumentQueued, doc.Status)

	require.NoError(t, m.MarkDocumentProcessing(ctx, "doc-1"))
	got, err := m.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentProcessing, got.Status)

	require.NoError(t, m.MarkDocumentCompleted(ctx, "doc-1", "processed/doc-1.txt", "hello"))
	got, err = m.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentCompleted, got.Status)
	require.NotNil(t, got.ProcessedKey)
	assert.Equal(t, "processed/doc-1.txt", *got.ProcessedKey)
	assert.Equal(t, "hello", got.Content)
	assert.Nil(t, got.ErrorMessage)

	require.NoError(t, m.MarkDocumentFailed(ctx, "doc-1", "boom"))
	got, err = m.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "boom", *got.ErrorMessage)

	assert.ErrorIs(t, m.MarkDocumentProcessing(ctx, "ghost"), ErrNotFound)
}
