package importer

import (
	"encoding/json"
	"fmt"
)

// StagedRow is the parse output for exactly one spreadsheet row. Fields maps
// column name to coerced value; a field whose coercion failed holds the
// failure reason string and contributes to Warnings. Methods rows carry their
// linked Results rows in Results; for Results rows it is nil.
//
// Index is the zero-based data-row index. RowNumber() is what users see.
type StagedRow struct {
	Index    int            `json:"index"`
	Fields   map[string]any `json:"fields"`
	Warnings string         `json:"warnings,omitempty"`
	Results  []*StagedRow   `json:"results,omitempty"`
}

// RowNumber converts the zero-based index to the 2-based spreadsheet row
// number (header row plus 1-based display).
func (r *StagedRow) RowNumber() int {
	return r.Index + 2
}

// StagedDocument is the full output of one loader pass over a workbook,
// Methods rows in spreadsheet order. It is serialized onto the import record
// so commit and overwrite decisions never re-parse the original file.
type StagedDocument struct {
	Methods []*StagedRow `json:"methods"`
}

// Counts returns the number of staged Methods and Results rows.
func (d *StagedDocument) Counts() (studies, results int) {
	studies = len(d.Methods)
	for _, m := range d.Methods {
		results += len(m.Results)
	}
	return studies, results
}

// Encode serializes the document for storage on the import record.
func (d *StagedDocument) Encode() (json.RawMessage, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode staged document: %w", err)
	}
	return data, nil
}

// DecodeStagedDocument parses a stored staged payload.
func DecodeStagedDocument(payload json.RawMessage) (*StagedDocument, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty staged payload")
	}
	var doc StagedDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decode staged document: %w", err)
	}
	return &doc, nil
}

// RowIssue is one staged row's accumulated warnings, keyed by the 2-based
// row number for display.
type RowIssue struct {
	Sheet      string `json:"sheet"`
	RowNumber  int    `json:"rowNumber"`
	Identifier string `json:"identifier,omitempty"`
	Warnings   string `json:"warnings"`
}

// Issues collects every staged row carrying warnings, Methods rows first,
// in spreadsheet order. Callers sort by row number for display.
func (d *StagedDocument) Issues() []RowIssue {
	var out []RowIssue
	for _, m := range d.Methods {
		id, _ := m.Fields[FieldUniqueIdentifier].(string)
		if m.Warnings != "" {
			out = append(out, RowIssue{Sheet: "Methods", RowNumber: m.RowNumber(), Identifier: id, Warnings: m.Warnings})
		}
		for _, r := range m.Results {
			if r.Warnings != "" {
				out = append(out, RowIssue{Sheet: "Results", RowNumber: r.RowNumber(), Identifier: id, Warnings: r.Warnings})
			}
		}
	}
	return out
}
