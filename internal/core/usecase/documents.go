package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/crospyder/ocr-core/internal/core/domain"
	"github.com/crospyder/ocr-core/internal/core/extract"
	"github.com/crospyder/ocr-core/internal/core/oib"
	"github.com/crospyder/ocr-core/internal/core/ports"
)

// DocumentService serves reads, manual corrections, soft deletes, exports
// and reprocess scheduling.
type DocumentService struct {
	repo         ports.DocumentRepository
	counterParty ports.CounterPartyRepository
	entities     *EntityResolver
	indexer      ports.SearchIndexer
	queue        ports.MessageQueue
	sheets       ports.SpreadsheetWriter
	operator     domain.Operator
	logger       *slog.Logger
	now          func() time.Time
}

func NewDocumentService(
	repo ports.DocumentRepository,
	counterParty ports.CounterPartyRepository,
	entities *EntityResolver,
	indexer ports.SearchIndexer,
	queue ports.MessageQueue,
	sheets ports.SpreadsheetWriter,
	operator domain.Operator,
	logger *slog.Logger,
) *DocumentService {
	return &DocumentService{
		repo:         repo,
		counterParty: counterParty,
		entities:     entities,
		indexer:      indexer,
		queue:        queue,
		sheets:       sheets,
		operator:     operator,
		logger:       loggerOrDiscard(logger),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *DocumentService) GetRecord(ctx context.Context, id int64) (*domain.Record, error) {
	doc, err := s.activeDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	annotation, err := s.repo.GetAnnotation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch annotation: %w", err)
	}

	record := &domain.Record{Document: doc, Annotation: annotation}
	if doc.CounterPartyID != nil && s.counterParty != nil {
		cp, err := s.counterParty.GetByID(ctx, *doc.CounterPartyID)
		switch {
		case err == nil:
			record.CounterParty = cp
		case !domain.IsKind(err, domain.ErrCounterPartyNotFound):
			return nil, fmt.Errorf("fetch counter-party: %w", err)
		}
	}
	return record, nil
}

// UpdateAnnotation merges fields over the stored annotation; a blank value
// removes the key. Canonical columns are re-synced in the same write and
// the counter-party is re-linked from the local store when the tax-id changes.
func (s *DocumentService) UpdateAnnotation(ctx context.Context, id int64, fields domain.FieldSet) (*domain.Record, error) {
	if len(fields) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "update annotation", errors.New("no fields"))
	}
	for f, v := range fields {
		if !domain.IsKnownField(f) {
			return nil, domain.WrapError(domain.ErrInvalidInput, "update annotation", fmt.Errorf("unknown field %q", f))
		}
		if err := s.checkIdentifier(f, v); err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "update annotation", err)
		}
	}

	doc, err := s.activeDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.GetAnnotation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch annotation: %w", err)
	}

	merged := existing.Clone()
	for f, v := range fields {
		if v == "" {
			delete(merged, f)
			continue
		}
		merged.Set(f, normalizeAnnotationValue(f, v))
	}

	if doc.Structured.Sources == nil {
		doc.Structured.Sources = make(map[domain.Field]domain.Source)
	}
	previousTaxID, previousVAT := doc.TaxID, doc.VATNumber
	ApplyColumns(doc, merged)
	if doc.TaxID != previousTaxID || doc.VATNumber != previousVAT {
		s.relink(ctx, doc, merged, fields)
	}

	for f := range fields {
		if merged.Has(f) {
			doc.Structured.Sources[f] = domain.SourceAnnotation
		} else {
			delete(doc.Structured.Sources, f)
		}
	}
	doc.Structured.Version = domain.StructuredFieldsVersion
	doc.UpdatedAt = s.now()

	if err := s.repo.SaveReconciled(ctx, doc, merged); err != nil {
		return nil, fmt.Errorf("save annotation: %w", err)
	}
	if s.indexer != nil {
		if err := s.indexer.IndexDocument(ctx, *doc); err != nil {
			s.logger.Warn("search_index_failed", "document_id", id, "error", err)
		}
	}
	return s.GetRecord(ctx, id)
}

// checkIdentifier rejects malformed identifiers and the operator's own,
// which can never name a counter-party.
func (s *DocumentService) checkIdentifier(f domain.Field, v string) error {
	if v == "" {
		return nil
	}
	switch f {
	case domain.FieldTaxID:
		if !oib.Valid(v) {
			return fmt.Errorf("invalid oib %q", v)
		}
		if v == s.operator.TaxID {
			return fmt.Errorf("oib %s belongs to the operator", v)
		}
	case domain.FieldVATNumber:
		if vat := extract.NormalizeVAT(v); vat != "" && vat == s.operator.VATNumber() {
			return fmt.Errorf("vat number %s belongs to the operator", vat)
		}
	}
	return nil
}

// relink points the document at the local counter-party for its new
// identifiers. Name and address follow the link unless the same edit set
// them; a miss clears them so the previous company does not linger.
func (s *DocumentService) relink(ctx context.Context, doc *domain.Document, annotation, edit domain.FieldSet) {
	doc.CounterPartyID = nil
	var cp *domain.CounterParty
	if s.entities != nil {
		found, err := s.entities.LinkLocal(ctx, doc.TaxID, doc.VATNumber)
		switch {
		case err == nil:
			cp = found
		case !domain.IsKind(err, domain.ErrCounterPartyNotFound):
			s.logger.Warn("counterparty_relink_failed", "document_id", doc.ID, "error", err)
		}
	}

	name, address := "", ""
	if cp != nil {
		id := cp.ID
		doc.CounterPartyID = &id
		name, address = cp.Name, cp.Address
	}
	for f, v := range map[domain.Field]string{
		domain.FieldSupplierName:    name,
		domain.FieldSupplierAddress: address,
	} {
		if _, edited := edit[f]; edited {
			continue
		}
		if strings.TrimSpace(v) == "" {
			delete(annotation, f)
			delete(doc.Structured.Sources, f)
		} else {
			annotation.Set(f, v)
			doc.Structured.Sources[f] = domain.SourceRegistry
		}
	}
	doc.CounterPartyName = annotation.Get(domain.FieldSupplierName)
}

func normalizeAnnotationValue(f domain.Field, v string) string {
	switch f {
	case domain.FieldIssueDate, domain.FieldDueDate:
		if t, ok := extract.ParseFieldDate(v); ok {
			return extract.FormatDate(t)
		}
	case domain.FieldVATNumber:
		return extract.NormalizeVAT(v)
	case domain.FieldDocumentType:
		if t := domain.ParseDocumentType(v); t != "" {
			return string(t)
		}
	}
	return v
}

// Delete marks the document with the deleted sentinel type.
func (s *DocumentService) Delete(ctx context.Context, id int64) error {
	if _, err := s.activeDocument(ctx, id); err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return fmt.Errorf("soft delete document: %w", err)
	}
	s.logger.Info("document_deleted", "document_id", id)
	return nil
}

func (s *DocumentService) EnqueueReprocess(ctx context.Context, id int64) error {
	if s.queue == nil {
		return domain.WrapError(domain.ErrTemporary, "enqueue reprocess", errors.New("queue not configured"))
	}
	if _, err := s.activeDocument(ctx, id); err != nil {
		return err
	}
	if err := s.queue.PublishReprocess(ctx, domain.ReprocessRequest{DocumentID: id}); err != nil {
		return fmt.Errorf("publish reprocess request: %w", err)
	}
	return nil
}

func (s *DocumentService) ExportXLSX(ctx context.Context, w io.Writer) error {
	if s.sheets == nil {
		return domain.WrapError(domain.ErrInvalidInput, "export", errors.New("spreadsheet export not configured"))
	}
	docs, err := s.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	if err := s.sheets.WriteDocuments(ctx, w, docs); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func (s *DocumentService) activeDocument(ctx context.Context, id int64) (*domain.Document, error) {
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}
	if doc.Type == domain.TypeDeleted {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "fetch document", fmt.Errorf("document %d is deleted", id))
	}
	return doc, nil
}
