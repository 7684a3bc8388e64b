// Package importer implements the spreadsheet staging pipeline: field
// coercion, row parsing, workbook loading, committing staged documents into
// persistent records, and consistency classification of committed imports.
package importer

import (
	"fmt"
	"sync"
)

// FieldKind is the semantic type a spreadsheet cell is coerced into.
type FieldKind int

const (
	// KindText is a length-bounded string, optionally restricted to a
	// declared choice list.
	KindText FieldKind = iota
	// KindLongText is free text with no length or null-token handling.
	KindLongText
	// KindDecimal is a fixed-precision number.
	KindDecimal
	// KindUint is a non-negative whole number (thousands separators allowed).
	KindUint
	// KindBool is a tri-state yes/no/unknown flag.
	KindBool
	// KindRef is a cross-reference to another record type. The coercer
	// always rejects it; row linking resolves references instead.
	KindRef
)

// Choice is one allowed value of a choice field. Code is what gets stored,
// Label is what users see; the coercer accepts either.
type Choice struct {
	Code  string
	Label string
}

// FieldSpec declares the coercion rules for one spreadsheet column.
type FieldSpec struct {
	Name      string
	Kind      FieldKind
	MaxLength int      // KindText only
	Choices   []Choice // KindText only; empty means free text
	Places    int      // KindDecimal: declared decimal places
	MaxDigits int      // KindDecimal: total digits incl. decimal places
	Nullable  bool
}

// TypeDescription returns the human-readable type shown on the import form
// and in exported header comments.
func (f FieldSpec) TypeDescription() string {
	switch f.Kind {
	case KindText:
		if len(f.Choices) > 0 {
			return "Choice"
		}
		return fmt.Sprintf("Text (up to %d characters)", f.MaxLength)
	case KindLongText:
		return "Text"
	case KindDecimal:
		return "Decimal"
	case KindUint:
		return "Number"
	case KindBool:
		return "Yes/No/Unknown"
	default:
		return "Other"
	}
}

// Schema is the fixed, build-time declaration of one sheet's importable
// columns. The workbook's header set must equal the field name set exactly.
type Schema struct {
	Sheet  string
	Fields []FieldSpec

	indexOnce sync.Once
	byName    map[string]int
}

func (s *Schema) index() {
	s.byName = make(map[string]int, len(s.Fields))
	for i, f := range s.Fields {
		s.byName[f.Name] = i
	}
}

// Field looks a spec up by column name. Safe for concurrent use: uploads
// are parsed in parallel, so the name index is built exactly once.
func (s *Schema) Field(name string) (FieldSpec, bool) {
	s.indexOnce.Do(s.index)
	i, ok := s.byName[name]
	if !ok {
		return FieldSpec{}, false
	}
	return s.Fields[i], true
}

// FieldNames returns the declared column names in declaration order.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

func choices(values ...string) []Choice {
	out := make([]Choice, len(values))
	for i, v := range values {
		out[i] = Choice{Code: v, Label: v}
	}
	return out
}

// Column names with special meaning to the loader.
const (
	FieldUniqueIdentifier = "Unique_identifier"
	FieldStudyID          = "Study_ID"
	FieldPointEstimate    = "Point_estimate"
)

// provenanceFields are auto-managed and never user-supplied; the row parser
// skips them even if a workbook smuggles them in.
var provenanceFields = map[string]struct{}{
	"Approved_by":   {},
	"Created_by":    {},
	"Import_source": {},
	"Approved_time": {},
	"Created_time":  {},
	"Updated_time":  {},
}

// MethodsSchema describes the Methods sheet: one study per row.
var MethodsSchema = &Schema{
	Sheet: "Methods",
	Fields: []FieldSpec{
		{Name: FieldUniqueIdentifier, Kind: KindText, MaxLength: 20, Nullable: true},
		{Name: "Study_group", Kind: KindText, MaxLength: 50, Choices: choices(
			"Superficial skin and throat",
			"Invasive Strep A",
			"ARF",
			"APSGN",
		)},
		{Name: "Paper_title", Kind: KindText, MaxLength: 500},
		{Name: "Paper_link", Kind: KindText, MaxLength: 1000},
		{Name: "Year", Kind: KindUint, Nullable: true},
		{Name: "Study_description", Kind: KindText, MaxLength: 200},
		{Name: "Disease", Kind: KindText, MaxLength: 100, Choices: choices(
			"APSGN",
			"ARF",
			"iStrep A - NF",
			"iStrep A - Scarlet fever",
			"iStrep A - bacteraemia",
			"iStrep A - cellulitis",
			"iStrep A - pneumonia",
			"iStrep A - sepsis",
			"iStrep A - severe TSS",
			"iStrep A - all",
			"Superficial skin & throat infection",
			"Superficial throat infection",
			"Superficial skin infection",
			"Other",
		)},
		{Name: "Study_design", Kind: KindText, MaxLength: 50, Choices: choices(
			"Case series",
			"Cross-sectional",
			"Prospective",
			"Prospective and Retrospective",
			"Prospective cohort",
			"Report",
			"Retrospective",
			"Retrospective review",
			"Retrospective cohort",
			"Review article",
			"Other",
		)},
		{Name: "Diagnosis_method", Kind: KindText, MaxLength: 200, Choices: choices(
			"Clinical and laboratory diagnosis",
			"Clinical diagnosis only",
			"ICD codes",
			"Laboratory diagnosis",
			"Notifications",
			"Primary Health Care codes (SNOMED/ICPC)",
			"Self report (questionnaire/survey)",
			"Other",
		)},
		{Name: "Data_source", Kind: KindText, MaxLength: 50, Choices: choices(
			"ED presentations only",
			"Hospital admissions",
			"Hospital admissions & active surveillance",
			"ICU admissions",
			"Laboratory records only",
			"Medical records only",
			"Multiple sources",
			"Outbreak investigations",
			"PHC health service data",
			"Register or notification",
			"Screening programme",
			"Survey/Questionnaire",
			"Other",
		)},
		{Name: "Data_source_name", Kind: KindText, MaxLength: 200, Nullable: true},
		{Name: "Surveillance_setting", Kind: KindText, MaxLength: 25, Choices: choices(
			"Unknown",
			"Community",
			"Hospital",
			"Household",
			"Laboratory",
			"Multiple",
			"Primary health centre",
			"Schools",
			"Other",
		)},
		{Name: "Clinical_definition_category", Kind: KindText, MaxLength: 50, Choices: choices(
			"Undefined or unknown",
			"Both confirmed and probable cases",
			"Confirmed case",
			"Definite and probable ARF",
			"Suspected or probable case",
			"Other",
		)},
		{Name: "Coverage", Kind: KindText, MaxLength: 200, Choices: choices(
			"National/multi-jurisdictional",
			"Single Institution/service",
			"State",
			"Subnational/region",
		)},
		{Name: "Climate", Kind: KindText, MaxLength: 20, Choices: choices(
			"Arid",
			"Combination",
			"Temperate",
			"Tropical",
		)},
		{Name: "Urban_rural_coverage", Kind: KindText, MaxLength: 20, Choices: choices(
			"Combination",
			"Metropolitan",
			"Regional",
			"Remote",
		)},
		{Name: "Focus_of_study", Kind: KindText, MaxLength: 1000},
		{Name: "Limitations_identified", Kind: KindText, MaxLength: 1000, Nullable: true},
		{Name: "Other_points", Kind: KindLongText, Nullable: true},
	},
}

// ResultsSchema describes the Results sheet: one burden estimate per row,
// linked to a Methods row through Study_ID.
var ResultsSchema = &Schema{
	Sheet: "Results",
	Fields: []FieldSpec{
		{Name: FieldStudyID, Kind: KindRef},
		{Name: "Age_general", Kind: KindText, MaxLength: 50, Choices: choices(
			"Infants",
			"Children",
			"Children and adolescents",
			"Children, adolescents and young adults",
			"Adolescents and adults",
			"Adults",
			"Elderly adults",
			"All ages",
		)},
		{Name: "Age_min", Kind: KindDecimal, Places: 2, MaxDigits: 10, Nullable: true},
		{Name: "Age_max", Kind: KindDecimal, Places: 2, MaxDigits: 10, Nullable: true},
		{Name: "Age_specific", Kind: KindText, MaxLength: 50},
		{Name: "Population_gender", Kind: KindText, MaxLength: 30, Choices: choices(
			"Females",
			"Males",
			"Males and females",
		)},
		{Name: "Indigenous_status", Kind: KindBool, Nullable: true},
		{Name: "Indigenous_population", Kind: KindText, MaxLength: 50, Choices: choices(
			"Aboriginal population",
			"General - special population",
			"General population",
			"Non-Indigenous population",
			"Not Defined",
			"Torres Strait Islander",
		)},
		{Name: "Country", Kind: KindText, MaxLength: 30},
		{Name: "Jurisdiction", Kind: KindText, MaxLength: 30},
		{Name: "Specific_location", Kind: KindText, MaxLength: 100, Nullable: true},
		{Name: "Year_start", Kind: KindUint, Nullable: true},
		{Name: "Year_stop", Kind: KindUint, Nullable: true},
		{Name: "Observation_time_years", Kind: KindDecimal, Places: 2, MaxDigits: 10, Nullable: true},
		{Name: "Numerator", Kind: KindUint, Nullable: true},
		{Name: "Denominator", Kind: KindUint, Nullable: true},
		{Name: FieldPointEstimate, Kind: KindText, MaxLength: 100, Nullable: true},
		{Name: "Measure", Kind: KindLongText},
		{Name: "Interpolated_from_graph", Kind: KindBool},
		{Name: "Proportion", Kind: KindBool},
		{Name: "Mortality_flag", Kind: KindBool, Nullable: true},
		{Name: "Recurrent_ARF_flag", Kind: KindBool, Nullable: true},
		{Name: "Schoolchildren_flag", Kind: KindBool, Nullable: true},
		{Name: "Hospitalised_flag", Kind: KindBool, Nullable: true},
		{Name: "StrepA_attributable_fraction", Kind: KindBool, Nullable: true},
	},
}

// FieldDescription is the import-form help entry for one column.
type FieldDescription struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// DescribeFields lists a schema's columns with their human-readable types.
func DescribeFields(s *Schema) []FieldDescription {
	out := make([]FieldDescription, 0, len(s.Fields))
	for _, f := range s.Fields {
		out = append(out, FieldDescription{Name: f.Name, Type: f.TypeDescription()})
	}
	return out
}
