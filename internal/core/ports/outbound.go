package ports

import (
	"context"
	"io"
	"time"

	"github.com/crospyder/ocr-core/internal/core/domain"
)

// DocumentRepository persists canonical documents and their annotation mirror.
// Writes that touch both always happen in one transaction.
type DocumentRepository interface {
	// Create inserts the document and its annotation and sets doc.ID. A
	// concurrent insert of the same content hash yields domain.ErrDuplicate.
	Create(ctx context.Context, doc *domain.Document, annotation domain.FieldSet) error
	GetByHash(ctx context.Context, contentHash string) (*domain.Document, error)
	GetByID(ctx context.Context, id int64) (*domain.Document, error)
	GetAnnotation(ctx context.Context, id int64) (domain.FieldSet, error)
	// SaveReconciled rewrites canonical columns and annotation together.
	SaveReconciled(ctx context.Context, doc *domain.Document, annotation domain.FieldSet) error
	UpdateStoredFilename(ctx context.Context, id int64, storedFilename string) error
	ListActiveIDs(ctx context.Context) ([]int64, error)
	ListActive(ctx context.Context) ([]domain.Document, error)
	SoftDelete(ctx context.Context, id int64) error
}

// CounterPartyRepository is the local counter-party cache.
type CounterPartyRepository interface {
	GetByIdentifier(ctx context.Context, identifier string) (*domain.CounterParty, error)
	GetByID(ctx context.Context, id int64) (*domain.CounterParty, error)
	// Upsert inserts or merges by identifier and returns the stored row.
	// Concurrent upserts of one identifier converge on a single row.
	Upsert(ctx context.Context, cp domain.CounterParty) (*domain.CounterParty, bool, error)
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Rename(ctx context.Context, from, to string) error
	Remove(ctx context.Context, key string) error
}

// MessageQueue publishes/consumes reprocess requests.
type MessageQueue interface {
	PublishReprocess(ctx context.Context, req domain.ReprocessRequest) error
	SubscribeReprocess(ctx context.Context, handler func(context.Context, domain.ReprocessRequest) error) error
}

// TextExtractor turns an uploaded file into raw text.
type TextExtractor interface {
	Extract(ctx context.Context, filename string, content []byte) (string, error)
}

// DocumentClassifier is the remote ML classifier.
type DocumentClassifier interface {
	Classify(ctx context.Context, req domain.ClassifyRequest) (domain.ClassifierResult, error)
}

// TrainingSink receives labelled texts while training mode is on.
type TrainingSink interface {
	SubmitTrainingSample(ctx context.Context, text, label string) error
}

// CompanyRegistry looks up domestic companies by tax-id. A miss is
// domain.ErrCounterPartyNotFound.
type CompanyRegistry interface {
	LookupByTaxID(ctx context.Context, taxID string) (*domain.RegistryCompany, error)
}

// VATValidator checks EU VAT numbers.
type VATValidator interface {
	CheckVAT(ctx context.Context, countryCode, number string) (domain.VATCheck, error)
}

// SearchIndexer makes documents searchable by their OCR text.
type SearchIndexer interface {
	IndexDocument(ctx context.Context, doc domain.Document) error
}

// SpreadsheetWriter renders canonical documents as a workbook.
type SpreadsheetWriter interface {
	WriteDocuments(ctx context.Context, w io.Writer, docs []domain.Document) error
}

// PipelineObserver records pipeline outcomes for monitoring.
type PipelineObserver interface {
	ObserveIngest(status domain.IngestStatus, duration time.Duration)
	ObserveStage(stage string, duration time.Duration)
	ObserveReprocess(summary domain.ReprocessSummary, duration time.Duration)
}
