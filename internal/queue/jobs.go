package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// ExtractDocumentTask is scheduled each time a PDF is uploaded.
	ExtractDocumentTask = "document:extract"
	// VerifyImportTask re-checks a committed import against its staged
	// document and records the resulting status label.
	VerifyImportTask = "import:verify"
)

// ExtractPayload is serialized into the task payload so the worker knows which
// object to download from MinIO.
type ExtractPayload struct {
	DocumentID string `json:"document_id"`
	ObjectKey  string `json:"object_key"`
	FileName   string `json:"file_name"`
}

// VerifyPayload identifies the import whose committed rows should be audited.
type VerifyPayload struct {
	ImportID string `json:"import_id"`
}

// EnqueueExtract enqueues a PDF extraction job.
func EnqueueExtract(ctx context.Context, client *asynq.Client, payload ExtractPayload) error {
	return enqueue(ctx, client, ExtractDocumentTask, payload)
}

// EnqueueVerify enqueues a post-commit consistency audit.
func EnqueueVerify(ctx context.Context, client *asynq.Client, payload VerifyPayload) error {
	return enqueue(ctx, client, VerifyImportTask, payload)
}

func enqueue(ctx context.Context, client *asynq.Client, kind string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(kind, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue %s task: %w", kind, err)
	}
	return nil
}
