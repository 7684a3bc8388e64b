package model

import "time"

// DocumentStatus describes the processing lifecycle of an uploaded
// user-guide document.
type DocumentStatus string

const (
	DocumentQueued     DocumentStatus = "queued"
	DocumentProcessing DocumentStatus = "processing"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
)

// Document is a hosted user-guide file. The worker extracts its text into a
// processed artifact so the UI can show it inline.
type Document struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	FileName     string         `json:"fileName"`
	ObjectKey    string         `json:"-"`
	ProcessedKey *string        `json:"processedKey,omitempty"`
	Status       DocumentStatus `json:"status"`
	Content      string         `json:"content,omitempty"`
	ErrorMessage *string        `json:"errorMessage,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}
