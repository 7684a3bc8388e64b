// Package api exposes the HTTP surface: staging uploads, commits, import
// status, dataset backups and user-guide documents.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"strepadb/internal/config"
	"strepadb/internal/exporter"
	"strepadb/internal/importer"
	"strepadb/internal/model"
	"strepadb/internal/queue"
	"strepadb/internal/s3storage"
	"strepadb/internal/signing"
	"strepadb/internal/storage"
)

// Server exposes HTTP endpoints for imports, datasets and documents.
// The object store and queue client may be nil when running against the
// in-memory store; the related features then degrade gracefully.
type Server struct {
	cfg       *config.Config
	store     storage.Store
	objects   *s3storage.Storage
	queue     *asynq.Client
	committer *importer.Committer
	tracker   *importer.Tracker
	signer    *signing.Signer
	log       *zap.Logger
	server    *http.Server
	once      sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, store storage.Store, objects *s3storage.Storage, queueClient *asynq.Client, log *zap.Logger) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		objects:   objects,
		queue:     queueClient,
		committer: importer.NewCommitter(store, log),
		tracker:   importer.NewTracker(store, cfg.ConsistencyGrace, log),
		signer:    signing.NewSigner(cfg.SigningSecret),
		log:       log,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/schema/fields", s.handleSchemaFields)
	mux.HandleFunc("/imports", s.handleImports)
	mux.HandleFunc("/imports/", s.handleImportRoute)
	mux.HandleFunc("/datasets", s.handleDatasets)
	mux.HandleFunc("/datasets/", s.handleDatasetRoute)
	mux.HandleFunc("/documents", s.handleDocuments)
	mux.HandleFunc("/documents/", s.handleDocumentRoute)
	return corsMiddleware(s.loggingMiddleware(mux))
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: s.Handler(),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Info("api listening", zap.String("address", s.cfg.Address))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(s.log, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSchemaFields(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	respondJSON(s.log, w, http.StatusOK, map[string][]importer.FieldDescription{
		"methods": importer.DescribeFields(importer.MethodsSchema),
		"results": importer.DescribeFields(importer.ResultsSchema),
	})
}

// actor resolves the acting user from the request. Authentication happens
// upstream; the gateway forwards the identity in a header.
func actor(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-Actor")); v != "" {
		return v
	}
	return "anonymous"
}

func (s *Server) handleImports(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleStageImport(w, r)
	case http.MethodGet:
		s.handleListImports(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleImportRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/imports/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		s.handleImport(w, r, id)
		return
	}
	switch parts[1] {
	case "issues":
		s.handleImportIssues(w, r, id)
	case "commit":
		s.handleImportCommit(w, r, id)
	case "clear":
		s.handleImportClear(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

// importView decorates an import record with its consistency label.
type importView struct {
	*model.ImportRecord
	State string `json:"state"`
}

func (s *Server) importView(ctx context.Context, imp *model.ImportRecord) importView {
	return importView{ImportRecord: imp, State: s.tracker.Classify(ctx, imp).Label()}
}

// handleStageImport ingests a workbook upload: structural validation, staging
// and persistence. Structural problems come back all at once with status 422
// so the contributor can fix the file in a single pass.
func (s *Server) handleStageImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1024)
	if err := r.ParseMultipartForm(s.cfg.MaxFileSize); err != nil {
		http.Error(w, "expecting multipart form", http.StatusBadRequest)
		return
	}
	datasetID := r.FormValue("dataset_id")
	if datasetID == "" {
		http.Error(w, "dataset_id is required", http.StatusBadRequest)
		return
	}
	if _, err := s.store.GetDataset(ctx, datasetID); err != nil {
		http.Error(w, "dataset not found", http.StatusNotFound)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field missing", http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read upload", http.StatusBadRequest)
		return
	}

	doc, err := importer.Load(bytes.NewReader(data))
	if err != nil {
		var verr *importer.ValidationError
		if errors.As(err, &verr) {
			respondJSON(s.log, w, http.StatusUnprocessableEntity, map[string]any{
				"problems": verr.Problems,
			})
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Overwritten imports are cleared first so their identifiers are free
	// for the replacement file.
	for _, overwriteID := range r.MultipartForm.Value["overwrite"] {
		prior, err := s.store.GetImport(ctx, overwriteID)
		if err != nil {
			http.Error(w, fmt.Sprintf("overwrite target %s not found", overwriteID), http.StatusNotFound)
			return
		}
		if prior.DatasetID != datasetID {
			http.Error(w, fmt.Sprintf("overwrite target %s belongs to another dataset", overwriteID), http.StatusBadRequest)
			return
		}
		if err := s.tracker.ClearRows(ctx, prior); err != nil {
			s.log.Error("clear rows failed", zap.String("import", overwriteID), zap.Error(err))
			http.Error(w, "failed to clear overwritten import", http.StatusInternalServerError)
			return
		}
	}

	staged, err := doc.Encode()
	if err != nil {
		http.Error(w, "failed to stage workbook", http.StatusInternalServerError)
		return
	}
	importID := uuid.NewString()
	imp := &model.ImportRecord{
		ID:         importID,
		DatasetID:  datasetID,
		FileName:   header.Filename,
		ObjectKey:  fmt.Sprintf("imports/%s/%s", importID, filepath.Base(header.Filename)),
		UploadedBy: actor(r),
		UploadedAt: time.Now().UTC(),
		Staged:     staged,
	}
	if s.objects != nil {
		if err := s.objects.UploadWorkbook(ctx, imp.ObjectKey, data); err != nil {
			s.log.Error("workbook upload failed", zap.Error(err))
			http.Error(w, "failed to store file", http.StatusInternalServerError)
			return
		}
	}
	if err := s.store.CreateImport(ctx, imp); err != nil {
		http.Error(w, "failed to store metadata", http.StatusInternalServerError)
		return
	}
	studies, results := doc.Counts()
	respondJSON(s.log, w, http.StatusCreated, map[string]any{
		"import":  s.importView(ctx, imp),
		"studies": studies,
		"results": results,
		"issues":  len(doc.Issues()),
	})
}

func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	datasetID := r.URL.Query().Get("dataset_id")
	if datasetID == "" {
		http.Error(w, "dataset_id is required", http.StatusBadRequest)
		return
	}
	imports, err := s.store.ListImports(r.Context(), datasetID)
	if err != nil {
		http.Error(w, "failed to list imports", http.StatusInternalServerError)
		return
	}
	views := make([]importView, 0, len(imports))
	for _, imp := range imports {
		views = append(views, s.importView(r.Context(), imp))
	}
	respondJSON(s.log, w, http.StatusOK, views)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	imp, err := s.store.GetImport(r.Context(), id)
	if err != nil {
		http.Error(w, "import not found", http.StatusNotFound)
		return
	}
	respondJSON(s.log, w, http.StatusOK, s.importView(r.Context(), imp))
}

func (s *Server) handleImportIssues(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	imp, err := s.store.GetImport(r.Context(), id)
	if err != nil {
		http.Error(w, "import not found", http.StatusNotFound)
		return
	}
	doc, err := importer.DecodeStagedDocument(imp.Staged)
	if err != nil {
		http.Error(w, "staged document unreadable", http.StatusInternalServerError)
		return
	}
	issues := doc.Issues()
	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].RowNumber < issues[j].RowNumber
	})
	respondJSON(s.log, w, http.StatusOK, issues)
}

func (s *Server) handleImportCommit(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	imp, err := s.store.GetImport(ctx, id)
	if err != nil {
		http.Error(w, "import not found", http.StatusNotFound)
		return
	}
	if !s.committer.Commit(ctx, imp, actor(r)) {
		// The staged payload is the contributor's data; details of a
		// failed transaction stay in the logs.
		respondJSON(s.log, w, http.StatusInternalServerError, map[string]string{
			"error": "import not successful",
		})
		return
	}
	if s.queue != nil {
		if err := queue.EnqueueVerify(ctx, s.queue, queue.VerifyPayload{ImportID: imp.ID}); err != nil {
			s.log.Warn("verify enqueue failed", zap.String("import", imp.ID), zap.Error(err))
		}
	}
	respondJSON(s.log, w, http.StatusOK, s.importView(ctx, imp))
}

func (s *Server) handleImportClear(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	imp, err := s.store.GetImport(ctx, id)
	if err != nil {
		http.Error(w, "import not found", http.StatusNotFound)
		return
	}
	if err := s.tracker.ClearRows(ctx, imp); err != nil {
		s.log.Error("clear rows failed", zap.String("import", id), zap.Error(err))
		http.Error(w, "failed to clear import", http.StatusInternalServerError)
		return
	}
	respondJSON(s.log, w, http.StatusOK, s.importView(ctx, imp))
}

func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		datasets, err := s.store.ListDatasets(r.Context())
		if err != nil {
			http.Error(w, "failed to list datasets", http.StatusInternalServerError)
			return
		}
		respondJSON(s.log, w, http.StatusOK, datasets)
	case http.MethodPost:
		var req struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := decodeJSON(r, &req); err != nil || req.Name == "" {
			http.Error(w, "name is required", http.StatusBadRequest)
			return
		}
		d := &model.Dataset{
			ID:          uuid.NewString(),
			Name:        req.Name,
			Description: req.Description,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.store.CreateDataset(r.Context(), d); err != nil {
			http.Error(w, "failed to create dataset", http.StatusInternalServerError)
			return
		}
		respondJSON(s.log, w, http.StatusCreated, d)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDatasetRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/datasets/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		d, err := s.store.GetDataset(r.Context(), id)
		if err != nil {
			http.Error(w, "dataset not found", http.StatusNotFound)
			return
		}
		respondJSON(s.log, w, http.StatusOK, d)
		return
	}
	switch parts[1] {
	case "backup":
		s.handleDatasetBackup(w, r, id)
	case "studies":
		s.handleDatasetStudies(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleDatasetStudies(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	studies, err := s.store.ListStudiesByDataset(r.Context(), id)
	if err != nil {
		http.Error(w, "failed to list studies", http.StatusInternalServerError)
		return
	}
	respondJSON(s.log, w, http.StatusOK, studies)
}

// handleDatasetBackup streams every committed study and result as a workbook
// in the import layout, so the backup can be edited and re-imported.
func (s *Server) handleDatasetBackup(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.store.GetDataset(r.Context(), id); err != nil {
		http.Error(w, "dataset not found", http.StatusNotFound)
		return
	}
	studies, err := s.store.ListStudiesByDataset(r.Context(), id)
	if err != nil {
		http.Error(w, "failed to list studies", http.StatusInternalServerError)
		return
	}
	data, err := exporter.Workbook(studies)
	if err != nil {
		s.log.Error("backup export failed", zap.String("dataset", id), zap.Error(err))
		http.Error(w, "failed to build workbook", http.StatusInternalServerError)
		return
	}
	filename := fmt.Sprintf("StrepA-Studies_%s.xlsx", time.Now().Format("02-01-2006"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleDocumentUpload(w, r)
	case http.MethodGet:
		docs, err := s.store.ListDocuments(r.Context())
		if err != nil {
			http.Error(w, "failed to list documents", http.StatusInternalServerError)
			return
		}
		respondJSON(s.log, w, http.StatusOK, docs)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDocumentRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/documents/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		s.handleDocument(w, r, id)
		return
	}
	switch parts[1] {
	case "text":
		s.handleDocumentText(w, r, id)
	case "url":
		s.handleDocumentURL(w, r, id)
	case "download":
		s.handleDocumentDownload(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleDocumentUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.objects == nil {
		http.Error(w, "object storage unavailable", http.StatusServiceUnavailable)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1024)
	if err := r.ParseMultipartForm(s.cfg.MaxFileSize); err != nil {
		http.Error(w, "expecting multipart form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field missing", http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read upload", http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "empty file", http.StatusBadRequest)
		return
	}
	if http.DetectContentType(data) != "application/pdf" {
		http.Error(w, "only PDF files supported", http.StatusBadRequest)
		return
	}
	title := r.FormValue("title")
	if title == "" {
		title = header.Filename
	}
	docID := uuid.NewString()
	objectKey := fmt.Sprintf("documents/%s/%s", docID, filepath.Base(header.Filename))
	if err := s.objects.UploadDocument(ctx, objectKey, bytes.NewReader(data), int64(len(data)), "application/pdf"); err != nil {
		s.log.Error("document upload failed", zap.Error(err))
		http.Error(w, "failed to store file", http.StatusInternalServerError)
		return
	}
	doc := &model.Document{
		ID:        docID,
		Title:     title,
		FileName:  header.Filename,
		ObjectKey: objectKey,
		Status:    model.DocumentQueued,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		http.Error(w, "failed to store metadata", http.StatusInternalServerError)
		return
	}
	if s.queue != nil {
		payload := queue.ExtractPayload{
			DocumentID: docID,
			ObjectKey:  objectKey,
			FileName:   header.Filename,
		}
		if err := queue.EnqueueExtract(ctx, s.queue, payload); err != nil {
			http.Error(w, "failed to queue job", http.StatusInternalServerError)
			return
		}
	}
	respondJSON(s.log, w, http.StatusAccepted, doc)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	doc, err := s.store.GetDocument(r.Context(), id)
	if err != nil {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}
	respondJSON(s.log, w, http.StatusOK, doc)
}

func (s *Server) handleDocumentText(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	doc, err := s.store.GetDocument(r.Context(), id)
	if err != nil {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}
	if doc.Status != model.DocumentCompleted || doc.Content == "" {
		http.Error(w, "document not processed", http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, doc.Content)
}

// handleDocumentURL mints the document's access URLs: a presigned link for
// the processed text and an HMAC-signed path for the original PDF.
func (s *Server) handleDocumentURL(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	doc, err := s.store.GetDocument(r.Context(), id)
	if err != nil {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}
	expires := time.Now().Add(s.cfg.SignedURLTTL).Unix()
	out := map[string]string{
		"downloadUrl": fmt.Sprintf("/documents/%s/download?expires=%d&signature=%s",
			doc.ID, expires, s.signer.Sign(doc.ID, expires)),
	}
	if doc.ProcessedKey != nil && s.objects != nil {
		url, err := s.objects.PresignProcessedURL(r.Context(), *doc.ProcessedKey, int64(s.cfg.SignedURLTTL.Seconds()))
		if err != nil {
			http.Error(w, "failed to generate url", http.StatusInternalServerError)
			return
		}
		out["processedUrl"] = url
	}
	respondJSON(s.log, w, http.StatusOK, out)
}

// handleDocumentDownload streams the original PDF after validating the
// signed token minted by handleDocumentURL.
func (s *Server) handleDocumentDownload(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query()
	expires := query.Get("expires")
	sig := query.Get("signature")
	if !s.signer.Validate(id, expires, sig) {
		http.Error(w, "invalid or expired link", http.StatusForbidden)
		return
	}
	if exp, err := timeFromUnixString(expires); err != nil || time.Now().After(exp) {
		http.Error(w, "invalid or expired link", http.StatusForbidden)
		return
	}
	doc, err := s.store.GetDocument(r.Context(), id)
	if err != nil {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}
	if s.objects == nil {
		http.Error(w, "object storage unavailable", http.StatusServiceUnavailable)
		return
	}
	data, err := s.objects.DownloadDocument(r.Context(), doc.ObjectKey)
	if err != nil {
		s.log.Error("document download failed", zap.String("document", id), zap.Error(err))
		http.Error(w, "failed to fetch file", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filepath.Base(doc.FileName)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
