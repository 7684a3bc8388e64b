// Package model contains the persistent record structs shared across packages.
package model

import (
	"encoding/json"
	"time"
)

// Dataset is a logical collection of studies maintained by one contributor
// group. Every import and every study belongs to exactly one dataset.
type Dataset struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ImportRecord tracks one uploaded workbook from staging through commit.
// Staged holds the serialized staged document so a later commit or overwrite
// decision never has to re-parse the original file. A cleared import keeps
// its record and payload for audit; only Deleted flips.
type ImportRecord struct {
	ID          string          `json:"id"`
	DatasetID   string          `json:"datasetId"`
	FileName    string          `json:"fileName"`
	ObjectKey   string          `json:"-"`
	UploadedBy  string          `json:"uploadedBy"`
	UploadedAt  time.Time       `json:"uploadedAt"`
	CommittedAt *time.Time      `json:"committedAt,omitempty"`
	Staged      json.RawMessage `json:"-"`
	Deleted     bool            `json:"deleted"`
	LastStatus  string          `json:"lastStatus,omitempty"`
}

// Study is one epidemiological study's metadata row (the Methods sheet).
// JSON tags use the canonical column names so staged payloads, API responses
// and spreadsheet headers all speak the same vocabulary.
type Study struct {
	ID        string  `json:"id"`
	DatasetID string  `json:"datasetId"`
	ImportID  *string `json:"importId,omitempty"`

	CreatedBy  string     `json:"createdBy,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	ApprovedBy *string    `json:"approvedBy,omitempty"`
	ApprovedAt *time.Time `json:"approvedAt,omitempty"`

	// Set only when the record originated from a spreadsheet import.
	ImportRowID     string `json:"importRowId,omitempty"`
	ImportRowNumber int    `json:"importRowNumber,omitempty"`

	StudyGroup                 string  `json:"Study_group"`
	PaperTitle                 string  `json:"Paper_title"`
	PaperLink                  string  `json:"Paper_link"`
	Year                       *int64  `json:"Year"`
	StudyDescription           string  `json:"Study_description"`
	Disease                    string  `json:"Disease"`
	StudyDesign                string  `json:"Study_design"`
	DiagnosisMethod            string  `json:"Diagnosis_method"`
	DataSource                 string  `json:"Data_source"`
	DataSourceName             *string `json:"Data_source_name"`
	SurveillanceSetting        string  `json:"Surveillance_setting"`
	ClinicalDefinitionCategory string  `json:"Clinical_definition_category"`
	Coverage                   string  `json:"Coverage"`
	Climate                    string  `json:"Climate"`
	UrbanRuralCoverage         string  `json:"Urban_rural_coverage"`
	FocusOfStudy               string  `json:"Focus_of_study"`
	LimitationsIdentified      *string `json:"Limitations_identified"`
	OtherPoints                *string `json:"Other_points"`

	Results []*Result `json:"results,omitempty"`
}

// Pending reports whether the study still awaits approval. Approval has
// exactly two states: approved_by null (pending) or set (approved).
func (s *Study) Pending() bool {
	return s.ApprovedBy == nil
}

// Result is one burden-estimate row linked to exactly one Study. Results
// inherit their approval state from the parent study.
type Result struct {
	ID              string `json:"id"`
	StudyID         string `json:"studyId"`
	ImportRowNumber int    `json:"importRowNumber,omitempty"`

	AgeGeneral                 string   `json:"Age_general"`
	AgeMin                     *float64 `json:"Age_min"`
	AgeMax                     *float64 `json:"Age_max"`
	AgeSpecific                string   `json:"Age_specific"`
	PopulationGender           string   `json:"Population_gender"`
	IndigenousStatus           *bool    `json:"Indigenous_status"`
	IndigenousPopulation       string   `json:"Indigenous_population"`
	Country                    string   `json:"Country"`
	Jurisdiction               string   `json:"Jurisdiction"`
	SpecificLocation           *string  `json:"Specific_location"`
	YearStart                  *int64   `json:"Year_start"`
	YearStop                   *int64   `json:"Year_stop"`
	ObservationTimeYears       *float64 `json:"Observation_time_years"`
	Numerator                  *int64   `json:"Numerator"`
	Denominator                *int64   `json:"Denominator"`
	PointEstimate              *string  `json:"Point_estimate"`
	Measure                    string   `json:"Measure"`
	InterpolatedFromGraph      bool     `json:"Interpolated_from_graph"`
	Proportion                 bool     `json:"Proportion"`
	MortalityFlag              *bool    `json:"Mortality_flag"`
	RecurrentARFFlag           *bool    `json:"Recurrent_ARF_flag"`
	SchoolchildrenFlag         *bool    `json:"Schoolchildren_flag"`
	HospitalisedFlag           *bool    `json:"Hospitalised_flag"`
	StrepAAttributableFraction *bool    `json:"StrepA_attributable_fraction"`
}
