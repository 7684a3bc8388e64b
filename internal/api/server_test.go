package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"strepadb/internal/config"
	"strepadb/internal/importer"
	"strepadb/internal/storage"
)

func testServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	cfg := &config.Config{
		Address:          ":0",
		MaxFileSize:      5 << 20,
		SigningSecret:    []byte("test-secret"),
		SignedURLTTL:     time.Minute,
		ConsistencyGrace: config.DefaultConsistencyGrace,
	}
	srv := New(cfg, storage.NewMemoryStore(), nil, nil, zap.NewNop())
	return srv, srv.Handler()
}

var testMethodsCells = map[string]string{
	importer.FieldUniqueIdentifier: "S1",
	"Study_group":                  "ARF",
	"Paper_title":                  "ARF in the Top End",
	"Paper_link":                   "https://example.org/arf",
	"Year":                         "2005",
	"Study_description":            "Hospital cohort",
	"Disease":                      "ARF",
	"Study_design":                 "Retrospective",
	"Diagnosis_method":             "ICD codes",
	"Data_source":                  "Hospital admissions",
	"Surveillance_setting":         "Hospital",
	"Clinical_definition_category": "Confirmed case",
	"Coverage":                     "State",
	"Climate":                      "Tropical",
	"Urban_rural_coverage":         "Remote",
	"Focus_of_study":               "ARF incidence",
}

var testResultsCells = map[string]string{
	importer.FieldStudyID:       "S1",
	"Age_general":               "All ages",
	"Age_specific":              "0-100",
	"Population_gender":         "Males and females",
	"Indigenous_population":     "General population",
	"Country":                   "Australia",
	"Jurisdiction":              "NT",
	"Numerator":                 "42",
	"Denominator":               "1,000",
	importer.FieldPointEstimate: "4.567",
	"Measure":                   "incidence per 100,000",
	"Interpolated_from_graph":   "no",
	"Proportion":                "no",
}

func schemaRow(schema *importer.Schema, cells map[string]string) []any {
	row := make([]any, 0, len(schema.Fields))
	for _, name := range schema.FieldNames() {
		row = append(row, cells[name])
	}
	return row
}

func headerCells(schema *importer.Schema) []any {
	row := make([]any, 0, len(schema.Fields))
	for _, name := range schema.FieldNames() {
		row = append(row, name)
	}
	return row
}

func validWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetName("Sheet1", "Methods"))
	_, err := f.NewSheet("Results")
	require.NoError(t, err)
	methodsHeader := headerCells(importer.MethodsSchema)
	require.NoError(t, f.SetSheetRow("Methods", "A1", &methodsHeader))
	methodsData := schemaRow(importer.MethodsSchema, testMethodsCells)
	require.NoError(t, f.SetSheetRow("Methods", "A2", &methodsData))
	resultsHeader := headerCells(importer.ResultsSchema)
	require.NoError(t, f.SetSheetRow("Results", "A1", &resultsHeader))
	resultsData := schemaRow(importer.ResultsSchema, testResultsCells)
	require.NoError(t, f.SetSheetRow("Results", "A2", &resultsData))
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func multipartUpload(t *testing.T, workbook []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "studies.xlsx")
	require.NoError(t, err)
	_, err = part.Write(workbook)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body *bytes.Buffer, contentType string, out any) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-Actor", "alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func createDataset(t *testing.T, h http.Handler) string {
	t.Helper()
	body := bytes.NewBufferString(`{"name":"StrepA Australia"}`)
	var created struct {
		ID string `json:"id"`
	}
	rec := doJSON(t, h, http.MethodPost, "/datasets", body, "application/json", &created)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotEmpty(t, created.ID)
	return created.ID
}

type stageResponse struct {
	Import struct {
		ID    string `json:"id"`
		State string `json:"state"`
	} `json:"import"`
	Studies int `json:"studies"`
	Results int `json:"results"`
	Issues  int `json:"issues"`
}

func stageWorkbook(t *testing.T, h http.Handler, datasetID string, extra map[string]string) stageResponse {
	t.Helper()
	fields := map[string]string{"dataset_id": datasetID}
	for k, v := range extra {
		fields[k] = v
	}
	body, contentType := multipartUpload(t, validWorkbook(t), fields)
	var resp stageResponse
	rec := doJSON(t, h, http.MethodPost, "/imports", body, contentType, &resp)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return resp
}

func TestHealth(t *testing.T) {
	_, h := testServer(t)
	rec := doJSON(t, h, http.MethodGet, "/healthz", nil, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSchemaFields(t *testing.T) {
	_, h := testServer(t)
	var out map[string][]importer.FieldDescription
	rec := doJSON(t, h, http.MethodGet, "/schema/fields", nil, "", &out)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["methods"], len(importer.MethodsSchema.Fields))
	assert.Len(t, out["results"], len(importer.ResultsSchema.Fields))
	assert.Equal(t, "Choice", out["methods"][1].Type)
}

func TestStageImport(t *testing.T) {
	_, h := testServer(t)
	datasetID := createDataset(t, h)

	resp := stageWorkbook(t, h, datasetID, nil)
	assert.Equal(t, 1, resp.Studies)
	assert.Equal(t, 1, resp.Results)
	assert.Zero(t, resp.Issues)
	// Staged but not committed reports the failed badge.
	assert.Equal(t, "failed", resp.Import.State)

	var issues []importer.RowIssue
	rec := doJSON(t, h, http.MethodGet, "/imports/"+resp.Import.ID+"/issues", nil, "", &issues)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, issues)

	var list []struct {
		ID string `json:"id"`
	}
	rec = doJSON(t, h, http.MethodGet, "/imports?dataset_id="+datasetID, nil, "", &list)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, list, 1)
	assert.Equal(t, resp.Import.ID, list[0].ID)
}

func TestStageImportRejectsBadWorkbook(t *testing.T) {
	_, h := testServer(t)
	datasetID := createDataset(t, h)

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", "Procedures"))
	var wb bytes.Buffer
	require.NoError(t, f.Write(&wb))
	require.NoError(t, f.Close())

	body, contentType := multipartUpload(t, wb.Bytes(), map[string]string{"dataset_id": datasetID})
	rec := doJSON(t, h, http.MethodPost, "/imports", body, contentType, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var out struct {
		Problems []string `json:"problems"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Contains(t, out.Problems, `missing sheet "Methods"`)
	assert.Contains(t, out.Problems, `missing sheet "Results"`)
}

func TestStageImportUnknownDataset(t *testing.T) {
	_, h := testServer(t)
	body, contentType := multipartUpload(t, validWorkbook(t), map[string]string{"dataset_id": "nope"})
	rec := doJSON(t, h, http.MethodPost, "/imports", body, contentType, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCommitAndClear(t *testing.T) {
	_, h := testServer(t)
	datasetID := createDataset(t, h)
	resp := stageWorkbook(t, h, datasetID, nil)

	var committed struct {
		State string `json:"state"`
	}
	rec := doJSON(t, h, http.MethodPost, "/imports/"+resp.Import.ID+"/commit", nil, "", &committed)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "consistent", committed.State)

	var studies []struct {
		ImportRowID string `json:"importRowId"`
		CreatedBy   string `json:"createdBy"`
	}
	rec = doJSON(t, h, http.MethodGet, "/datasets/"+datasetID+"/studies", nil, "", &studies)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, studies, 1)
	assert.Equal(t, "S1", studies[0].ImportRowID)
	assert.Equal(t, "alice", studies[0].CreatedBy)

	var cleared struct {
		State string `json:"state"`
	}
	rec = doJSON(t, h, http.MethodPost, "/imports/"+resp.Import.ID+"/clear", nil, "", &cleared)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "overwritten", cleared.State)

	rec = doJSON(t, h, http.MethodGet, "/datasets/"+datasetID+"/studies", nil, "", &studies)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, studies)
}

func TestStageWithOverwrite(t *testing.T) {
	_, h := testServer(t)
	datasetID := createDataset(t, h)
	first := stageWorkbook(t, h, datasetID, nil)

	rec := doJSON(t, h, http.MethodPost, "/imports/"+first.Import.ID+"/commit", nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	second := stageWorkbook(t, h, datasetID, map[string]string{"overwrite": first.Import.ID})
	rec = doJSON(t, h, http.MethodPost, "/imports/"+second.Import.ID+"/commit", nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The first import's rows were cleared; only the replacement's remain.
	var studies []struct {
		ImportID string `json:"importId"`
	}
	rec = doJSON(t, h, http.MethodGet, "/datasets/"+datasetID+"/studies", nil, "", &studies)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, studies, 1)
	assert.Equal(t, second.Import.ID, studies[0].ImportID)

	var overwritten struct {
		State string `json:"state"`
	}
	rec = doJSON(t, h, http.MethodGet, "/imports/"+first.Import.ID, nil, "", &overwritten)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "overwritten", overwritten.State)
}

func TestDatasetBackup(t *testing.T) {
	_, h := testServer(t)
	datasetID := createDataset(t, h)
	resp := stageWorkbook(t, h, datasetID, nil)
	rec := doJSON(t, h, http.MethodPost, "/imports/"+resp.Import.ID+"/commit", nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, fmt.Sprintf("/datasets/%s/backup", datasetID), nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	assert.ElementsMatch(t, []string{"Methods", "Results"}, f.GetSheetList())
	id, err := f.GetCellValue("Methods", "A2")
	require.NoError(t, err)
	assert.Equal(t, "S1", id)
}
