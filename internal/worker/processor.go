package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"strepadb/internal/importer"
	pdfutil "strepadb/internal/pdf"
	"strepadb/internal/queue"
	"strepadb/internal/s3storage"
	"strepadb/internal/storage"
)

// Processor is plugged into the asynq worker loop.
type Processor struct {
	store   storage.Store
	objects *s3storage.Storage
	tracker *importer.Tracker
	log     *zap.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(store storage.Store, objects *s3storage.Storage, tracker *importer.Tracker, log *zap.Logger) *Processor {
	return &Processor{store: store, objects: objects, tracker: tracker, log: log}
}

// Handler registers the task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ExtractDocumentTask, p.handleExtract)
	mux.HandleFunc(queue.VerifyImportTask, p.handleVerify)
	return mux
}

// handleVerify re-classifies a committed import and records the status label
// so list views can show it without recomputing row counts on every request.
func (p *Processor) handleVerify(ctx context.Context, task *asynq.Task) error {
	var payload queue.VerifyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	imp, err := p.store.GetImport(ctx, payload.ImportID)
	if err != nil {
		return fmt.Errorf("load import %s: %w", payload.ImportID, err)
	}
	state := p.tracker.Classify(ctx, imp)
	if err := p.store.SetImportStatus(ctx, imp.ID, state.Label()); err != nil {
		return fmt.Errorf("record status for %s: %w", imp.ID, err)
	}
	p.log.Info("import verified",
		zap.String("import_id", imp.ID),
		zap.String("status", state.Label()))
	return nil
}

func (p *Processor) handleExtract(ctx context.Context, task *asynq.Task) error {
	var payload queue.ExtractPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	failure := func(err error) error {
		p.log.Warn("extract failed",
			zap.String("document_id", payload.DocumentID),
			zap.Error(err))
		_ = p.store.MarkDocumentFailed(ctx, payload.DocumentID, err.Error())
		return err
	}
	if err := p.store.MarkDocumentProcessing(ctx, payload.DocumentID); err != nil {
		return failure(err)
	}
	data, err := p.objects.DownloadDocument(ctx, payload.ObjectKey)
	if err != nil {
		return failure(err)
	}
	text, err := pdfutil.ExtractText(data)
	if err != nil {
		return failure(err)
	}
	processedKey := processedObjectKey(payload.ObjectKey)
	if err := p.objects.UploadProcessed(ctx, processedKey, []byte(text)); err != nil {
		return failure(err)
	}
	if err := p.store.MarkDocumentCompleted(ctx, payload.DocumentID, processedKey, text); err != nil {
		return failure(err)
	}
	p.log.Info("document processed",
		zap.String("document_id", payload.DocumentID),
		zap.Int("bytes", len(text)))
	return nil
}

func processedObjectKey(objectKey string) string {
	base := strings.TrimSuffix(objectKey, filepath.Ext(objectKey))
	return fmt.Sprintf("%s.txt", base)
}
