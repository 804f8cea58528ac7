package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crospyder/ocr-core/internal/core/domain"
	"github.com/crospyder/ocr-core/internal/core/ports"
)

// ReprocessUseCase re-runs extraction over stored text. Each document is
// committed on its own so one failure never rolls back the others.
type ReprocessUseCase struct {
	repo     ports.DocumentRepository
	pipeline *DocumentPipeline
	indexer  ports.SearchIndexer
	observer ports.PipelineObserver
	logger   *slog.Logger
	now      func() time.Time
}

func NewReprocessUseCase(
	repo ports.DocumentRepository,
	pipeline *DocumentPipeline,
	indexer ports.SearchIndexer,
	observer ports.PipelineObserver,
	logger *slog.Logger,
) *ReprocessUseCase {
	return &ReprocessUseCase{
		repo:     repo,
		pipeline: pipeline,
		indexer:  indexer,
		observer: observerOrNoop(observer),
		logger:   loggerOrDiscard(logger),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (uc *ReprocessUseCase) ReprocessAll(ctx context.Context) (domain.ReprocessSummary, error) {
	started := time.Now()
	ids, err := uc.repo.ListActiveIDs(ctx)
	if err != nil {
		return domain.ReprocessSummary{}, fmt.Errorf("list documents: %w", err)
	}

	summary := domain.ReprocessSummary{Total: len(ids), Errors: []domain.ReprocessError{}}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := uc.ReprocessByID(ctx, id); err != nil {
			uc.logger.Warn("reprocess_document_failed", "document_id", id, "error", err)
			summary.Errors = append(summary.Errors, domain.ReprocessError{DocumentID: id, Error: err.Error()})
			continue
		}
		summary.Updated++
	}

	uc.observer.ObserveReprocess(summary, time.Since(started))
	uc.logger.Info("reprocess_completed", "updated", summary.Updated, "errors", len(summary.Errors), "total", summary.Total)
	return summary, nil
}

func (uc *ReprocessUseCase) ReprocessByID(ctx context.Context, id int64) error {
	doc, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch document by id: %w", err)
	}
	if doc.Type == domain.TypeDeleted {
		return domain.WrapError(domain.ErrDocumentNotFound, "reprocess", errors.New("document is deleted"))
	}
	annotation, err := uc.repo.GetAnnotation(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch annotation: %w", err)
	}

	out := uc.pipeline.ProcessStored(ctx, doc, annotation)
	updated := out.Document
	updated.ID = doc.ID
	updated.ContentHash = doc.ContentHash
	updated.Filename = doc.Filename
	updated.StoredFilename = doc.StoredFilename
	updated.UploadedAt = doc.UploadedAt
	updated.UpdatedAt = uc.now()
	if len(updated.RegistryPayload) == 0 {
		updated.RegistryPayload = doc.RegistryPayload
	}

	if err := uc.repo.SaveReconciled(ctx, updated, out.Annotation); err != nil {
		return fmt.Errorf("save reconciled document: %w", err)
	}
	if uc.indexer != nil {
		if err := uc.indexer.IndexDocument(ctx, *updated); err != nil {
			uc.logger.Warn("search_index_failed", "document_id", id, "error", err)
		}
	}
	return nil
}
