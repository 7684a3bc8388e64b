package importer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"strepadb/internal/model"
	"strepadb/internal/storage"
)

// Committer turns staged documents into persistent Study and Result records.
type Committer struct {
	store storage.Store
	log   *zap.Logger
}

// NewCommitter constructs a Committer.
func NewCommitter(store storage.Store, log *zap.Logger) *Committer {
	return &Committer{store: store, log: log}
}

// Commit persists the import's staged document: one Study per Methods row,
// one Result per linked Results row, each tagged with import provenance and
// its 2-based row number, approved on the spot by the committing actor. The
// whole batch runs through one atomic store operation; on any failure the
// transaction rolls back, the error is logged (not surfaced) and the import
// record is left uncommitted so the user can retry.
//
// Committing the same staged document twice produces duplicate records by
// design; the overwrite workflow (Tracker.ClearRows) is what guards against
// that.
func (c *Committer) Commit(ctx context.Context, imp *model.ImportRecord, actor string) bool {
	doc, err := DecodeStagedDocument(imp.Staged)
	if err != nil {
		c.log.Error("commit aborted: staged document unreadable",
			zap.String("import", imp.ID), zap.Error(err))
		return false
	}

	now := time.Now().UTC()
	studies := make([]*model.Study, 0, len(doc.Methods))
	for _, row := range doc.Methods {
		studies = append(studies, buildStudy(imp, row, actor, now))
	}

	imp.CommittedAt = &now
	if err := c.store.CommitImport(ctx, imp, studies); err != nil {
		imp.CommittedAt = nil
		c.log.Error("import commit failed",
			zap.String("import", imp.ID), zap.Int("studies", len(studies)), zap.Error(err))
		return false
	}
	return true
}

func buildStudy(imp *model.ImportRecord, row *StagedRow, actor string, now time.Time) *model.Study {
	importID := imp.ID
	st := &model.Study{
		ID:              uuid.NewString(),
		DatasetID:       imp.DatasetID,
		ImportID:        &importID,
		CreatedBy:       actor,
		CreatedAt:       now,
		UpdatedAt:       now,
		ApprovedBy:      &actor,
		ApprovedAt:      &now,
		ImportRowNumber: row.RowNumber(),
	}
	for name, value := range row.Fields {
		applyStudyField(st, name, value)
	}
	for _, nested := range row.Results {
		st.Results = append(st.Results, buildResult(st, nested))
	}
	return st
}

func buildResult(parent *model.Study, row *StagedRow) *model.Result {
	res := &model.Result{
		ID:              uuid.NewString(),
		StudyID:         parent.ID,
		ImportRowNumber: row.RowNumber(),
	}
	for name, value := range row.Fields {
		// The Study_ID cross-reference is replaced by the real foreign key.
		if name == FieldStudyID {
			continue
		}
		applyResultField(res, name, value)
	}
	return res
}

// applyStudyField maps one staged value onto its Study column. Tainted
// values (a failure-reason string in a non-text field) fall back to null;
// the row's warning string keeps the diagnostic.
func applyStudyField(st *model.Study, name string, v any) {
	switch name {
	case FieldUniqueIdentifier:
		st.ImportRowID = asString(v)
	case "Study_group":
		st.StudyGroup = asString(v)
	case "Paper_title":
		st.PaperTitle = asString(v)
	case "Paper_link":
		st.PaperLink = asString(v)
	case "Year":
		st.Year = asInt64Ptr(v)
	case "Study_description":
		st.StudyDescription = asString(v)
	case "Disease":
		st.Disease = asString(v)
	case "Study_design":
		st.StudyDesign = asString(v)
	case "Diagnosis_method":
		st.DiagnosisMethod = asString(v)
	case "Data_source":
		st.DataSource = asString(v)
	case "Data_source_name":
		st.DataSourceName = asStringPtr(v)
	case "Surveillance_setting":
		st.SurveillanceSetting = asString(v)
	case "Clinical_definition_category":
		st.ClinicalDefinitionCategory = asString(v)
	case "Coverage":
		st.Coverage = asString(v)
	case "Climate":
		st.Climate = asString(v)
	case "Urban_rural_coverage":
		st.UrbanRuralCoverage = asString(v)
	case "Focus_of_study":
		st.FocusOfStudy = asString(v)
	case "Limitations_identified":
		st.LimitationsIdentified = asStringPtr(v)
	case "Other_points":
		st.OtherPoints = asStringPtr(v)
	}
}

func applyResultField(res *model.Result, name string, v any) {
	switch name {
	case "Age_general":
		res.AgeGeneral = asString(v)
	case "Age_min":
		res.AgeMin = asFloatPtr(v)
	case "Age_max":
		res.AgeMax = asFloatPtr(v)
	case "Age_specific":
		res.AgeSpecific = asString(v)
	case "Population_gender":
		res.PopulationGender = asString(v)
	case "Indigenous_status":
		res.IndigenousStatus = asBoolPtr(v)
	case "Indigenous_population":
		res.IndigenousPopulation = asString(v)
	case "Country":
		res.Country = asString(v)
	case "Jurisdiction":
		res.Jurisdiction = asString(v)
	case "Specific_location":
		res.SpecificLocation = asStringPtr(v)
	case "Year_start":
		res.YearStart = asInt64Ptr(v)
	case "Year_stop":
		res.YearStop = asInt64Ptr(v)
	case "Observation_time_years":
		res.ObservationTimeYears = asFloatPtr(v)
	case "Numerator":
		res.Numerator = asInt64Ptr(v)
	case "Denominator":
		res.Denominator = asInt64Ptr(v)
	case FieldPointEstimate:
		res.PointEstimate = asStringPtr(v)
	case "Measure":
		res.Measure = asString(v)
	case "Interpolated_from_graph":
		res.InterpolatedFromGraph = asBoolValue(v)
	case "Proportion":
		res.Proportion = asBoolValue(v)
	case "Mortality_flag":
		res.MortalityFlag = asBoolPtr(v)
	case "Recurrent_ARF_flag":
		res.RecurrentARFFlag = asBoolPtr(v)
	case "Schoolchildren_flag":
		res.SchoolchildrenFlag = asBoolPtr(v)
	case "Hospitalised_flag":
		res.HospitalisedFlag = asBoolPtr(v)
	case "StrepA_attributable_fraction":
		res.StrepAAttributableFraction = asBoolPtr(v)
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asStringPtr(v any) *string {
	if s, ok := v.(string); ok {
		return &s
	}
	return nil
}

// Staged values fresh from the loader are int64/float64; values that made a
// round trip through JSON come back as float64.
func asInt64Ptr(v any) *int64 {
	switch n := v.(type) {
	case int64:
		return &n
	case int:
		i := int64(n)
		return &i
	case float64:
		i := int64(n)
		return &i
	}
	return nil
}

func asFloatPtr(v any) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case int64:
		f := float64(n)
		return &f
	case int:
		f := float64(n)
		return &f
	}
	return nil
}

func asBoolPtr(v any) *bool {
	if b, ok := v.(bool); ok {
		return &b
	}
	return nil
}

func asBoolValue(v any) bool {
	b, _ := v.(bool)
	return b
}
