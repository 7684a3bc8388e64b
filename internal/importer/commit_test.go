package importer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"strepadb/internal/model"
	"strepadb/internal/storage"
)

func stageImport(t *testing.T, store storage.Store, id string) *model.ImportRecord {
	t.Helper()
	wb := buildWorkbook(t,
		[][]any{
			methodsRow(nil),
			methodsRow(map[string]string{FieldUniqueIdentifier: "S2", "Year": "n/a"}),
		},
		[][]any{
			resultsRow(nil),
			resultsRow(map[string]string{FieldStudyID: "S2", "Numerator": "7"}),
		},
	)
	doc, err := Load(wb)
	require.NoError(t, err)
	staged, err := doc.Encode()
	require.NoError(t, err)

	imp := &model.ImportRecord{
		ID:        id,
		DatasetID: "ds-1",
		FileName:  "studies.xlsx",
		Staged:    staged,
	}
	require.NoError(t, store.CreateImport(context.Background(), imp))
	return imp
}

func TestCommitPersistsStudiesAndResults(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	imp := stageImport(t, store, "imp-1")
	committer := NewCommitter(store, zap.NewNop())

	require.True(t, committer.Commit(ctx, imp, "alice"))
	require.NotNil(t, imp.CommittedAt)

	stored, err := store.GetImport(ctx, imp.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.CommittedAt)

	studies, err := store.ListStudiesByDataset(ctx, "ds-1")
	require.NoError(t, err)
	require.Len(t, studies, 2)

	byRowID := make(map[string]*model.Study, len(studies))
	for _, s := range studies {
		byRowID[s.ImportRowID] = s
	}
	first := byRowID["S1"]
	require.NotNil(t, first)
	assert.Equal(t, "ARF", first.StudyGroup)
	require.NotNil(t, first.Year)
	assert.Equal(t, int64(2005), *first.Year)
	assert.Equal(t, "alice", first.CreatedBy)
	require.NotNil(t, first.ApprovedBy)
	assert.Equal(t, "alice", *first.ApprovedBy)
	assert.False(t, first.Pending())
	assert.Equal(t, 2, first.ImportRowNumber)
	require.NotNil(t, first.ImportID)
	assert.Equal(t, imp.ID, *first.ImportID)

	require.Len(t, first.Results, 1)
	r := first.Results[0]
	assert.Equal(t, first.ID, r.StudyID)
	require.NotNil(t, r.PointEstimate)
	assert.Equal(t, "4.57", *r.PointEstimate)
	require.NotNil(t, r.Denominator)
	assert.Equal(t, int64(1000), *r.Denominator)
	require.NotNil(t, r.IndigenousStatus)
	assert.True(t, *r.IndigenousStatus)

	second := byRowID["S2"]
	require.NotNil(t, second)
	assert.Nil(t, second.Year)
	require.Len(t, second.Results, 1)
	require.NotNil(t, second.Results[0].Numerator)
	assert.Equal(t, int64(7), *second.Results[0].Numerator)
}

func TestCommitTaintedFieldFallsBackToNull(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	wb := buildWorkbook(t,
		[][]any{methodsRow(map[string]string{"Year": "circa 2000"})},
		nil,
	)
	doc, err := Load(wb)
	require.NoError(t, err)
	staged, err := doc.Encode()
	require.NoError(t, err)
	imp := &model.ImportRecord{ID: "imp-t", DatasetID: "ds-1", Staged: staged}
	require.NoError(t, store.CreateImport(ctx, imp))

	committer := NewCommitter(store, zap.NewNop())
	require.True(t, committer.Commit(ctx, imp, "alice"))

	studies, err := store.ListStudiesByDataset(ctx, "ds-1")
	require.NoError(t, err)
	require.Len(t, studies, 1)
	// The failure reason string cannot inhabit a numeric column.
	assert.Nil(t, studies[0].Year)
}

func TestCommitUnreadableStagedDocument(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	imp := &model.ImportRecord{ID: "imp-bad", DatasetID: "ds-1", Staged: json.RawMessage("{broken")}
	require.NoError(t, store.CreateImport(ctx, imp))

	committer := NewCommitter(store, zap.NewNop())
	assert.False(t, committer.Commit(ctx, imp, "alice"))
	assert.Nil(t, imp.CommittedAt)
}

func TestCommitStoreFailureLeavesImportUncommitted(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	// Import record never created in the store: the batch insert fails.
	wb := buildWorkbook(t, [][]any{methodsRow(nil)}, nil)
	doc, err := Load(wb)
	require.NoError(t, err)
	staged, err := doc.Encode()
	require.NoError(t, err)
	imp := &model.ImportRecord{ID: "imp-missing", DatasetID: "ds-1", Staged: staged}

	committer := NewCommitter(store, zap.NewNop())
	assert.False(t, committer.Commit(ctx, imp, "alice"))
	assert.Nil(t, imp.CommittedAt)

	studies, err := store.ListStudiesByDataset(ctx, "ds-1")
	require.NoError(t, err)
	assert.Empty(t, studies)
}

func TestDoubleCommitDuplicatesRows(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	imp := stageImport(t, store, "imp-2")
	committer := NewCommitter(store, zap.NewNop())

	require.True(t, committer.Commit(ctx, imp, "alice"))
	require.True(t, committer.Commit(ctx, imp, "alice"))

	studies, err := store.ListStudiesByDataset(ctx, "ds-1")
	require.NoError(t, err)
	assert.Len(t, studies, 4)
}
