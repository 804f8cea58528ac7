package ports

import (
	"context"
	"io"

	"github.com/crospyder/ocr-core/internal/core/domain"
)

// DocumentIngestor is the inbound contract for batch upload.
type DocumentIngestor interface {
	Ingest(ctx context.Context, files []domain.Upload, opts domain.IngestOptions) (*domain.BatchResult, error)
}

// DocumentReader is the inbound read model.
type DocumentReader interface {
	GetRecord(ctx context.Context, id int64) (*domain.Record, error)
}

// AnnotationEditor applies manual corrections.
type AnnotationEditor interface {
	UpdateAnnotation(ctx context.Context, id int64, fields domain.FieldSet) (*domain.Record, error)
	Delete(ctx context.Context, id int64) error
}

// DocumentReprocessor re-runs extraction over stored text.
type DocumentReprocessor interface {
	ReprocessAll(ctx context.Context) (domain.ReprocessSummary, error)
	ReprocessByID(ctx context.Context, id int64) error
}

// ReprocessScheduler queues asynchronous reprocessing.
type ReprocessScheduler interface {
	EnqueueReprocess(ctx context.Context, id int64) error
}

// DocumentExporter streams canonical documents as XLSX.
type DocumentExporter interface {
	ExportXLSX(ctx context.Context, w io.Writer) error
}
