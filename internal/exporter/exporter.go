// Package exporter renders a dataset's committed studies back into the
// two-sheet workbook layout the importer accepts, so a backup download can be
// edited and re-uploaded as-is.
package exporter

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/xuri/excelize/v2"

	"strepadb/internal/importer"
	"strepadb/internal/model"
)

// extraRows is how many blank rows below the data keep dropdown validation
// active for hand-added entries.
const extraRows = 10

// Workbook serializes the studies and their results into an xlsx file.
func Workbook(studies []*model.Study) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", importer.MethodsSchema.Sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(importer.ResultsSchema.Sheet); err != nil {
		return nil, fmt.Errorf("add sheet: %w", err)
	}

	methodRows := make([]map[string]any, 0, len(studies))
	resultRows := make([]map[string]any, 0)
	for _, study := range studies {
		row, err := fieldMap(study)
		if err != nil {
			return nil, err
		}
		row[importer.FieldUniqueIdentifier] = study.ImportRowID
		methodRows = append(methodRows, row)
		for _, result := range study.Results {
			rrow, err := fieldMap(result)
			if err != nil {
				return nil, err
			}
			rrow[importer.FieldStudyID] = study.ImportRowID
			resultRows = append(resultRows, rrow)
		}
	}

	if err := writeSheet(f, importer.MethodsSchema, methodRows); err != nil {
		return nil, err
	}
	if err := writeSheet(f, importer.ResultsSchema, resultRows); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// fieldMap flattens a record into column-name keyed values via its JSON tags,
// which deliberately match the canonical spreadsheet headers.
func fieldMap(record any) (map[string]any, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("flatten record: %w", err)
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("flatten record: %w", err)
	}
	return out, nil
}

func writeSheet(f *excelize.File, schema *importer.Schema, rows []map[string]any) error {
	sheet := schema.Sheet
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	for col, spec := range schema.Fields {
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("column %d: %w", col, err)
		}
		cell := name + "1"
		if err := f.SetCellStr(sheet, cell, spec.Name); err != nil {
			return fmt.Errorf("header %s: %w", spec.Name, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, bold); err != nil {
			return fmt.Errorf("header style %s: %w", spec.Name, err)
		}
		if err := f.SetColWidth(sheet, name, name, float64(len(spec.Name)+2)); err != nil {
			return fmt.Errorf("column width %s: %w", spec.Name, err)
		}
	}

	for i, row := range rows {
		for col, spec := range schema.Fields {
			value, ok := row[spec.Name]
			if !ok || value == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return fmt.Errorf("cell %d/%d: %w", col, i, err)
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return fmt.Errorf("cell %s: %w", cell, err)
			}
		}
	}

	for col, spec := range schema.Fields {
		options := dropOptions(spec)
		if options == nil {
			continue
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("column %d: %w", col, err)
		}
		dv := excelize.NewDataValidation(true)
		dv.Sqref = fmt.Sprintf("%s2:%s%d", name, name, len(rows)+1+extraRows)
		if err := dv.SetDropList(options); err != nil {
			// Long choice lists overflow Excel's inline list limit;
			// those columns just go without a dropdown.
			continue
		}
		if err := f.AddDataValidation(sheet, dv); err != nil {
			return fmt.Errorf("validation %s: %w", spec.Name, err)
		}
	}

	if len(rows) > 0 {
		last, err := excelize.CoordinatesToCellName(len(schema.Fields), len(rows)+1)
		if err != nil {
			return fmt.Errorf("autofilter range: %w", err)
		}
		if err := f.AutoFilter(sheet, "A1:"+last, nil); err != nil {
			return fmt.Errorf("autofilter: %w", err)
		}
	}
	return nil
}

// dropOptions returns the validation dropdown entries for choice and yes/no
// columns; nil means the column takes free input.
func dropOptions(spec importer.FieldSpec) []string {
	switch spec.Kind {
	case importer.KindText:
		if len(spec.Choices) == 0 {
			return nil
		}
		out := make([]string, 0, len(spec.Choices))
		for _, c := range spec.Choices {
			out = append(out, c.Label)
		}
		return out
	case importer.KindBool:
		if spec.Nullable {
			return []string{"Yes", "No", "N/A"}
		}
		return []string{"Yes", "No"}
	default:
		return nil
	}
}
