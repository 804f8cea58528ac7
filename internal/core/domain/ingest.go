package domain

import (
	"io"
	"time"
)

// Upload is one file of an ingestion batch.
type Upload struct {
	Filename string
	Body     io.Reader
}

// IngestOptions apply to every file of a batch.
type IngestOptions struct {
	// DeclaredType is the caller's label, used when the classifier is unavailable.
	DeclaredType DocumentType
	// TrainingMode forwards each processed text to the classifier as a training sample.
	TrainingMode bool
}

// ReprocessRequest is the job payload published for asynchronous reprocessing.
type ReprocessRequest struct {
	DocumentID  int64     `json:"document_id"`
	RequestID   string    `json:"request_id,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}
