package importer

import (
	"fmt"
	"strings"
)

// ParseRow coerces every supplied field of one raw spreadsheet row against
// the schema. Provenance fields are skipped. A failed field does not stop
// the rest of the row: its value is recorded as the literal failure reason
// (tainted placeholder) and every failure is collected into one
// comma-joined warning string. The warning is "" when the row is clean.
func ParseRow(schema *Schema, raw map[string]any) (map[string]any, string) {
	fields := make(map[string]any, len(raw))
	var errs []string
	// Walk in schema order so warnings come out deterministically.
	for _, spec := range schema.Fields {
		value, present := raw[spec.Name]
		if !present {
			continue
		}
		if _, skip := provenanceFields[spec.Name]; skip {
			continue
		}
		coerced, ok := Coerce(spec, value)
		fields[spec.Name] = coerced
		if !ok {
			errs = append(errs, fmt.Sprintf("%s: %v", spec.Name, coerced))
		}
	}
	for name, value := range raw {
		if _, known := schema.byNameLookup(name); known {
			continue
		}
		if _, skip := provenanceFields[name]; skip {
			continue
		}
		fields[name] = value
		errs = append(errs, fmt.Sprintf("%s: no such field exists", name))
	}
	return fields, strings.Join(errs, ", ")
}

// byNameLookup mirrors Field but avoids allocating the result spec.
func (s *Schema) byNameLookup(name string) (int, bool) {
	s.indexOnce.Do(s.index)
	i, ok := s.byName[name]
	return i, ok
}
