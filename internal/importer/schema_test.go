package importer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldLookup(t *testing.T) {
	spec, ok := MethodsSchema.Field("Climate")
	require.True(t, ok)
	assert.Equal(t, KindText, spec.Kind)
	assert.Len(t, spec.Choices, 4)

	_, ok = MethodsSchema.Field("Weather")
	assert.False(t, ok)

	names := MethodsSchema.FieldNames()
	assert.Equal(t, FieldUniqueIdentifier, names[0])
	names = ResultsSchema.FieldNames()
	assert.Equal(t, FieldStudyID, names[0])
}

func TestFieldLookupConcurrent(t *testing.T) {
	// Independent uploads parse rows in parallel against shared schemas, so
	// the first lookups often race. A fresh schema value forces every
	// goroutine through the index-building path.
	s := &Schema{Sheet: "Methods", Fields: MethodsSchema.Fields}
	raw := map[string]any{
		"Paper_title": "Skin sores in remote communities",
		"Year":        "2005",
		"Climate":     "tropical",
	}
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				fields, warning := ParseRow(s, raw)
				assert.Empty(t, warning)
				assert.Equal(t, "Skin sores in remote communities", fields["Paper_title"])
			}
		}()
	}
	wg.Wait()

	spec, ok := s.Field("Climate")
	require.True(t, ok)
	assert.Equal(t, "Climate", spec.Name)
}

func TestTypeDescriptions(t *testing.T) {
	desc := DescribeFields(MethodsSchema)
	byName := make(map[string]string, len(desc))
	for _, d := range desc {
		byName[d.Name] = d.Type
	}
	assert.Equal(t, "Text (up to 20 characters)", byName[FieldUniqueIdentifier])
	assert.Equal(t, "Choice", byName["Climate"])
	assert.Equal(t, "Number", byName["Year"])
	assert.Equal(t, "Text", byName["Other_points"])

	rdesc := DescribeFields(ResultsSchema)
	rByName := make(map[string]string, len(rdesc))
	for _, d := range rdesc {
		rByName[d.Name] = d.Type
	}
	assert.Equal(t, "Decimal", rByName["Age_min"])
	assert.Equal(t, "Yes/No/Unknown", rByName["Proportion"])
	assert.Equal(t, "Other", rByName[FieldStudyID])
}
