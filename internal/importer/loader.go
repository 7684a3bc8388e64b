package importer

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ValidationError carries every structural problem found in one workbook.
// Structural problems are fatal: no staged document is produced.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workbook validation failed: %s", strings.Join(e.Problems, "; "))
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Problems: []string{fmt.Sprintf(format, args...)}}
}

// Load parses an uploaded workbook into a staged document. The workbook must
// contain exactly the Methods and Results sheets, each with a column set
// equal to its schema's import field list. Methods rows are parsed first;
// duplicate Unique_identifier values are a hard reject. Results rows link to
// their Methods row by case-insensitive Study_ID lookup; unresolved links
// are collected across the whole sheet and raised together.
//
// Load is pure: it touches no storage and may run concurrently across
// independent uploads.
func Load(r io.Reader) (*StagedDocument, error) {
	wb, err := excelize.OpenReader(r)
	if err != nil {
		return nil, validationErrorf("cannot open workbook (%T): %v", err, err)
	}
	defer wb.Close()

	if verr := checkSheets(wb); verr != nil {
		return nil, verr
	}

	methodsRows, err := wb.GetRows(MethodsSchema.Sheet)
	if err != nil {
		return nil, validationErrorf("cannot read %s sheet: %v", MethodsSchema.Sheet, err)
	}
	resultsRows, err := wb.GetRows(ResultsSchema.Sheet)
	if err != nil {
		return nil, validationErrorf("cannot read %s sheet: %v", ResultsSchema.Sheet, err)
	}

	var problems []string
	problems = append(problems, checkHeader(MethodsSchema, headerOf(methodsRows))...)
	problems = append(problems, checkHeader(ResultsSchema, headerOf(resultsRows))...)
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	doc, lookup, verr := loadMethods(methodsRows)
	if verr != nil {
		return nil, verr
	}
	if verr := loadResults(resultsRows, lookup); verr != nil {
		return nil, verr
	}
	return doc, nil
}

func checkSheets(wb *excelize.File) *ValidationError {
	want := map[string]bool{MethodsSchema.Sheet: false, ResultsSchema.Sheet: false}
	var problems []string
	for _, name := range wb.GetSheetList() {
		if _, ok := want[name]; ok {
			want[name] = true
		} else {
			problems = append(problems, fmt.Sprintf("unexpected sheet %q", name))
		}
	}
	for _, name := range []string{MethodsSchema.Sheet, ResultsSchema.Sheet} {
		if !want[name] {
			problems = append(problems, fmt.Sprintf("missing sheet %q", name))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func headerOf(rows [][]string) []string {
	if len(rows) == 0 {
		return nil
	}
	return rows[0]
}

// checkHeader enforces set equality between the sheet's columns and the
// schema's import fields: every missing and every unexpected column is
// named.
func checkHeader(schema *Schema, header []string) []string {
	seen := make(map[string]bool, len(header))
	var problems []string
	declared := make(map[string]bool, len(schema.Fields))
	for _, name := range schema.FieldNames() {
		declared[name] = true
	}
	for _, col := range header {
		col = strings.TrimSpace(col)
		if col == "" {
			continue
		}
		seen[col] = true
		if !declared[col] {
			problems = append(problems, fmt.Sprintf("%s sheet: unexpected column %q", schema.Sheet, col))
		}
	}
	for _, name := range schema.FieldNames() {
		if !seen[name] {
			problems = append(problems, fmt.Sprintf("%s sheet: missing column %q", schema.Sheet, name))
		}
	}
	return problems
}

// rowMap pairs header names with one data row's cells, padding short rows
// with empty strings the way a spreadsheet displays them.
func rowMap(header, row []string) (map[string]any, bool) {
	raw := make(map[string]any, len(header))
	blank := true
	for i, col := range header {
		col = strings.TrimSpace(col)
		if col == "" {
			continue
		}
		var cell string
		if i < len(row) {
			cell = row[i]
		}
		if strings.TrimSpace(cell) != "" {
			blank = false
		}
		raw[col] = cell
	}
	return raw, blank
}

func loadMethods(rows [][]string) (*StagedDocument, map[string]*StagedRow, *ValidationError) {
	header := headerOf(rows)
	doc := &StagedDocument{}
	lookup := make(map[string]*StagedRow)
	rowNumbersByID := make(map[string][]int)
	var idOrder []string

	for i, row := range rows[1:] {
		raw, blank := rowMap(header, row)
		if blank {
			continue
		}
		fields, warning := ParseRow(MethodsSchema, raw)
		staged := &StagedRow{Index: i, Fields: fields, Warnings: warning}
		doc.Methods = append(doc.Methods, staged)

		id := stringify(raw[FieldUniqueIdentifier])
		if _, ok := rowNumbersByID[id]; !ok {
			idOrder = append(idOrder, id)
		}
		rowNumbersByID[id] = append(rowNumbersByID[id], staged.RowNumber())
		lookup[strings.ToLower(id)] = staged
	}

	var problems []string
	for _, id := range idOrder {
		nums := rowNumbersByID[id]
		if len(nums) > 1 {
			problems = append(problems, fmt.Sprintf(
				"Methods sheet: duplicate Unique_identifier %q in rows %s", id, joinRowNumbers(nums)))
		}
	}
	if len(problems) > 0 {
		return nil, nil, &ValidationError{Problems: problems}
	}
	return doc, lookup, nil
}

func loadResults(rows [][]string, lookup map[string]*StagedRow) *ValidationError {
	header := headerOf(rows)
	var problems []string
	for i, row := range rows[1:] {
		raw, blank := rowMap(header, row)
		if blank {
			continue
		}
		reformatPointEstimate(raw)

		// Study_ID is resolved by linking, not by field coercion; pull it
		// out before the row parser sees it and record the raw value so the
		// staged row stays auditable.
		studyID := stringify(raw[FieldStudyID])
		delete(raw, FieldStudyID)
		fields, warning := ParseRow(ResultsSchema, raw)
		fields[FieldStudyID] = studyID

		if strings.TrimSpace(studyID) == "" {
			problems = append(problems, fmt.Sprintf(
				"Results sheet row %d: Study_ID is missing or blank", i+2))
			continue
		}
		parent, ok := lookup[strings.ToLower(studyID)]
		if !ok {
			problems = append(problems, fmt.Sprintf(
				"Results sheet row %d: study not found (%s)", i+2, studyID))
			continue
		}
		parent.Results = append(parent.Results, &StagedRow{Index: i, Fields: fields, Warnings: warning})
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// reformatPointEstimate rewrites a numeric Point_estimate cell as a fixed
// 2-decimal string before general coercion. Best effort: anything that does
// not parse is left for the field's own rules to accept or reject.
func reformatPointEstimate(raw map[string]any) {
	v, ok := raw[FieldPointEstimate]
	if !ok {
		return
	}
	s := strings.TrimSpace(stringify(v))
	parsed, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(parsed) {
		return
	}
	raw[FieldPointEstimate] = strconv.FormatFloat(parsed, 'f', 2, 64)
}

func joinRowNumbers(nums []int) string {
	sorted := make([]int, len(nums))
	copy(sorted, nums)
	sort.Ints(sorted)
	parts := make([]string, len(sorted))
	for i, n := range sorted {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}
