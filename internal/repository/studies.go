package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"strepadb/internal/model"
	"strepadb/internal/storage"
)

const insertStudySQL = `
	INSERT INTO studies (id, dataset_id, import_id, created_by, created_at,
		updated_at, approved_by, approved_at, import_row_id, import_row_number,
		study_group, paper_title, paper_link, year, study_description, disease,
		study_design, diagnosis_method, data_source, data_source_name,
		surveillance_setting, clinical_definition_category, coverage, climate,
		urban_rural_coverage, focus_of_study, limitations_identified, other_points)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,
		$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)`

const insertResultSQL = `
	INSERT INTO results (id, study_id, import_row_number, age_general, age_min,
		age_max, age_specific, population_gender, indigenous_status,
		indigenous_population, country, jurisdiction, specific_location,
		year_start, year_stop, observation_time_years, numerator, denominator,
		point_estimate, measure, interpolated_from_graph, proportion,
		mortality_flag, recurrent_arf_flag, schoolchildren_flag,
		hospitalised_flag, strepa_attributable_fraction)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,
		$19,$20,$21,$22,$23,$24,$25,$26,$27)`

// CommitImport stamps the commit time and inserts the whole batch inside one
// transaction. Any failure rolls everything back, including the stamp.
func (r *Repository) CommitImport(ctx context.Context, imp *model.ImportRecord, studies []*model.Study) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE imports SET committed_at=$1 WHERE id=$2`, imp.CommittedAt, imp.ID)
	if err != nil {
		return fmt.Errorf("stamp import commit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	for _, s := range studies {
		if err := insertStudy(ctx, tx, s); err != nil {
			return err
		}
		for _, res := range s.Results {
			if err := insertResult(ctx, tx, res); err != nil {
				return err
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit import tx: %w", err)
	}
	return nil
}

func insertStudy(ctx context.Context, tx pgx.Tx, s *model.Study) error {
	_, err := tx.Exec(ctx, insertStudySQL,
		s.ID, s.DatasetID, s.ImportID, s.CreatedBy, s.CreatedAt, s.UpdatedAt,
		s.ApprovedBy, s.ApprovedAt, s.ImportRowID, s.ImportRowNumber,
		s.StudyGroup, s.PaperTitle, s.PaperLink, s.Year, s.StudyDescription,
		s.Disease, s.StudyDesign, s.DiagnosisMethod, s.DataSource,
		s.DataSourceName, s.SurveillanceSetting, s.ClinicalDefinitionCategory,
		s.Coverage, s.Climate, s.UrbanRuralCoverage, s.FocusOfStudy,
		s.LimitationsIdentified, s.OtherPoints)
	if err != nil {
		return fmt.Errorf("insert study row %d: %w", s.ImportRowNumber, err)
	}
	return nil
}

func insertResult(ctx context.Context, tx pgx.Tx, res *model.Result) error {
	_, err := tx.Exec(ctx, insertResultSQL,
		res.ID, res.StudyID, res.ImportRowNumber, res.AgeGeneral, res.AgeMin,
		res.AgeMax, res.AgeSpecific, res.PopulationGender, res.IndigenousStatus,
		res.IndigenousPopulation, res.Country, res.Jurisdiction,
		res.SpecificLocation, res.YearStart, res.YearStop,
		res.ObservationTimeYears, res.Numerator, res.Denominator,
		res.PointEstimate, res.Measure, res.InterpolatedFromGraph,
		res.Proportion, res.MortalityFlag, res.RecurrentARFFlag,
		res.SchoolchildrenFlag, res.HospitalisedFlag,
		res.StrepAAttributableFraction)
	if err != nil {
		return fmt.Errorf("insert result row %d: %w", res.ImportRowNumber, err)
	}
	return nil
}

// CountImportRows counts the import's studies still updated within the
// cutoff, and the results belonging to those studies.
func (r *Repository) CountImportRows(ctx context.Context, importID string, cutoff time.Time) (int, int, error) {
	var studies, results int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM studies WHERE import_id=$1 AND updated_at <= $2
	`, importID, cutoff).Scan(&studies)
	if err != nil {
		return 0, 0, fmt.Errorf("count studies: %w", err)
	}
	err = r.pool.QueryRow(ctx, `
		SELECT count(*) FROM results res
		JOIN studies s ON res.study_id = s.id
		WHERE s.import_id=$1 AND s.updated_at <= $2
	`, importID, cutoff).Scan(&results)
	if err != nil {
		return 0, 0, fmt.Errorf("count results: %w", err)
	}
	return studies, results, nil
}

// ClearImportRows deletes the import's studies (results cascade via the
// foreign key) and marks the import deleted, in one transaction.
func (r *Repository) ClearImportRows(ctx context.Context, importID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `DELETE FROM studies WHERE import_id=$1`, importID); err != nil {
		return fmt.Errorf("delete import studies: %w", err)
	}
	tag, err := tx.Exec(ctx, `UPDATE imports SET deleted=true WHERE id=$1`, importID)
	if err != nil {
		return fmt.Errorf("mark import deleted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit clear tx: %w", err)
	}
	return nil
}

const selectStudySQL = `
	SELECT id, dataset_id, import_id, created_by, created_at, updated_at,
		approved_by, approved_at, COALESCE(import_row_id,''),
		COALESCE(import_row_number,0), study_group, paper_title, paper_link,
		year, study_description, disease, study_design, diagnosis_method,
		data_source, data_source_name, surveillance_setting,
		clinical_definition_category, coverage, climate, urban_rural_coverage,
		focus_of_study, limitations_identified, other_points
	FROM studies`

func scanStudy(row pgx.Row) (*model.Study, error) {
	var s model.Study
	err := row.Scan(&s.ID, &s.DatasetID, &s.ImportID, &s.CreatedBy, &s.CreatedAt,
		&s.UpdatedAt, &s.ApprovedBy, &s.ApprovedAt, &s.ImportRowID,
		&s.ImportRowNumber, &s.StudyGroup, &s.PaperTitle, &s.PaperLink,
		&s.Year, &s.StudyDescription, &s.Disease, &s.StudyDesign,
		&s.DiagnosisMethod, &s.DataSource, &s.DataSourceName,
		&s.SurveillanceSetting, &s.ClinicalDefinitionCategory, &s.Coverage,
		&s.Climate, &s.UrbanRuralCoverage, &s.FocusOfStudy,
		&s.LimitationsIdentified, &s.OtherPoints)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListStudiesByDataset returns the dataset's studies with their results
// attached, ordered for export.
func (r *Repository) ListStudiesByDataset(ctx context.Context, datasetID string) ([]*model.Study, error) {
	rows, err := r.pool.Query(ctx, selectStudySQL+`
		WHERE dataset_id=$1 ORDER BY study_group, import_row_number, id
	`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("list studies: %w", err)
	}
	defer rows.Close()
	var studies []*model.Study
	byID := make(map[string]*model.Study)
	for rows.Next() {
		s, err := scanStudy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan study: %w", err)
		}
		studies = append(studies, s)
		byID[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	resRows, err := r.pool.Query(ctx, `
		SELECT res.id, res.study_id, COALESCE(res.import_row_number,0),
			res.age_general, res.age_min, res.age_max, res.age_specific,
			res.population_gender, res.indigenous_status,
			res.indigenous_population, res.country, res.jurisdiction,
			res.specific_location, res.year_start, res.year_stop,
			res.observation_time_years, res.numerator, res.denominator,
			res.point_estimate, res.measure, res.interpolated_from_graph,
			res.proportion, res.mortality_flag, res.recurrent_arf_flag,
			res.schoolchildren_flag, res.hospitalised_flag,
			res.strepa_attributable_fraction
		FROM results res
		JOIN studies s ON res.study_id = s.id
		WHERE s.dataset_id=$1
		ORDER BY s.study_group, res.import_row_number, res.id
	`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer resRows.Close()
	for resRows.Next() {
		var res model.Result
		if err := resRows.Scan(&res.ID, &res.StudyID, &res.ImportRowNumber,
			&res.AgeGeneral, &res.AgeMin, &res.AgeMax, &res.AgeSpecific,
			&res.PopulationGender, &res.IndigenousStatus,
			&res.IndigenousPopulation, &res.Country, &res.Jurisdiction,
			&res.SpecificLocation, &res.YearStart, &res.YearStop,
			&res.ObservationTimeYears, &res.Numerator, &res.Denominator,
			&res.PointEstimate, &res.Measure, &res.InterpolatedFromGraph,
			&res.Proportion, &res.MortalityFlag, &res.RecurrentARFFlag,
			&res.SchoolchildrenFlag, &res.HospitalisedFlag,
			&res.StrepAAttributableFraction); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if parent, ok := byID[res.StudyID]; ok {
			parent.Results = append(parent.Results, &res)
		}
	}
	return studies, resRows.Err()
}

// UpdateStudy rewrites a study's domain fields and bumps updated_at, the
// stamp the consistency tracker keys on.
func (r *Repository) UpdateStudy(ctx context.Context, s *model.Study) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE studies SET updated_at=now(), study_group=$2, paper_title=$3,
			paper_link=$4, year=$5, study_description=$6, disease=$7,
			study_design=$8, diagnosis_method=$9, data_source=$10,
			data_source_name=$11, surveillance_setting=$12,
			clinical_definition_category=$13, coverage=$14, climate=$15,
			urban_rural_coverage=$16, focus_of_study=$17,
			limitations_identified=$18, other_points=$19
		WHERE id=$1
	`, s.ID, s.StudyGroup, s.PaperTitle, s.PaperLink, s.Year,
		s.StudyDescription, s.Disease, s.StudyDesign, s.DiagnosisMethod,
		s.DataSource, s.DataSourceName, s.SurveillanceSetting,
		s.ClinicalDefinitionCategory, s.Coverage, s.Climate,
		s.UrbanRuralCoverage, s.FocusOfStudy, s.LimitationsIdentified,
		s.OtherPoints)
	if err != nil {
		return fmt.Errorf("update study: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
