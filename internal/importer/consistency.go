package importer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"strepadb/internal/model"
	"strepadb/internal/storage"
)

// State classifies whether an import's committed rows still match what was
// staged for it.
type State string

const (
	// StateNotCommitted: the import was staged but never committed.
	StateNotCommitted State = "not_committed"
	// StateConsistent: persisted row counts match the staged document.
	StateConsistent State = "consistent"
	// StateModified: committed rows have since been edited or deleted
	// independently of the import.
	StateModified State = "modified"
	// StateSuperseded: the import's rows were cleared to permit a
	// replacement import.
	StateSuperseded State = "superseded"
)

// Label is the user-facing badge text for a state.
func (s State) Label() string {
	switch s {
	case StateNotCommitted:
		return "failed"
	case StateConsistent:
		return "consistent"
	case StateModified:
		return "inconsistent"
	case StateSuperseded:
		return "overwritten"
	default:
		return string(s)
	}
}

// Tracker classifies committed imports and clears their rows for re-import.
type Tracker struct {
	store storage.Store
	grace time.Duration
	log   *zap.Logger
}

// NewTracker constructs a Tracker. grace tolerates clock and transaction
// skew between the commit stamp and the rows' update stamps.
func NewTracker(store storage.Store, grace time.Duration, log *zap.Logger) *Tracker {
	return &Tracker{store: store, grace: grace, log: log}
}

// Classify compares persisted row counts attributable to the import against
// the staged document's counts. It never fails: count errors on either side
// are logged and treated as zero, biasing the answer toward StateModified
// rather than crashing a status display.
func (t *Tracker) Classify(ctx context.Context, imp *model.ImportRecord) State {
	if imp.CommittedAt == nil {
		return StateNotCommitted
	}
	if imp.Deleted {
		return StateSuperseded
	}
	stagedStudies, stagedResults := t.stagedCounts(imp)
	cutoff := imp.CommittedAt.Add(t.grace)
	dbStudies, dbResults, err := t.store.CountImportRows(ctx, imp.ID, cutoff)
	if err != nil {
		t.log.Warn("import row count failed", zap.String("import", imp.ID), zap.Error(err))
		dbStudies, dbResults = 0, 0
	}
	if dbStudies == stagedStudies && dbResults == stagedResults {
		return StateConsistent
	}
	return StateModified
}

func (t *Tracker) stagedCounts(imp *model.ImportRecord) (int, int) {
	doc, err := DecodeStagedDocument(imp.Staged)
	if err != nil {
		t.log.Warn("staged document unreadable", zap.String("import", imp.ID), zap.Error(err))
		return 0, 0
	}
	return doc.Counts()
}

// ClearRows deletes every persisted study created by the import (results
// cascade) and marks the import deleted, freeing its identifier namespace
// for a replacement file. The import record and staged payload remain for
// audit.
func (t *Tracker) ClearRows(ctx context.Context, imp *model.ImportRecord) error {
	if err := t.store.ClearImportRows(ctx, imp.ID); err != nil {
		return err
	}
	imp.Deleted = true
	return nil
}
