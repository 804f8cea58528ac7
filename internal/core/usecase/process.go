package usecase

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crospyder/ocr-core/internal/core/domain"
	"github.com/crospyder/ocr-core/internal/core/extract"
	"github.com/crospyder/ocr-core/internal/core/ports"
)

// DocumentPipeline turns raw text into a reconciled document: classification
// and pattern extraction, entity resolution, then the field merge.
type DocumentPipeline struct {
	classifier *ClassificationResolver
	entities   *EntityResolver
	operator   domain.Operator
	observer   ports.PipelineObserver
	logger     *slog.Logger
}

func NewDocumentPipeline(
	classifier *ClassificationResolver,
	entities *EntityResolver,
	operator domain.Operator,
	observer ports.PipelineObserver,
	logger *slog.Logger,
) *DocumentPipeline {
	return &DocumentPipeline{
		classifier: classifier,
		entities:   entities,
		operator:   operator,
		observer:   observerOrNoop(observer),
		logger:     loggerOrDiscard(logger),
	}
}

// Outcome is a reconciled document ready to be persisted. Document carries
// the canonical columns and structured blob but no identity fields.
type Outcome struct {
	Document       *domain.Document
	Annotation     domain.FieldSet
	Classification domain.Classification
	Strategy       string
	Alerts         []string
}

// ProcessNew runs the full pipeline over freshly extracted text. The remote
// classifier and the declared-type parser run in parallel; the parser is
// re-run when the resolved type selects a different strategy.
func (p *DocumentPipeline) ProcessNew(ctx context.Context, text string, declared domain.DocumentType) Outcome {
	var (
		cls      domain.Classification
		result   *domain.ClassifierResult
		strategy = extract.Dispatch(declared)
		pattern  domain.ExtractionResult
	)

	started := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cls, result = p.classifier.Resolve(gctx, text, declared)
		return nil
	})
	g.Go(func() error {
		pattern = strategy.Parse(extract.Input{Text: text, Operator: p.operator})
		return nil
	})
	_ = g.Wait()
	p.observer.ObserveStage("classify_extract", time.Since(started))

	if resolved := extract.Dispatch(cls.Type); resolved.Name != strategy.Name {
		strategy = resolved
		pattern = strategy.Parse(extract.Input{Text: text, Operator: p.operator})
	}

	var parsed map[string]any
	if result != nil {
		parsed = result.ParsedFields
	}
	return p.reconcile(ctx, reconcileInput{
		text:           text,
		classification: cls,
		parsed:         parsed,
		pattern:        pattern,
		strategy:       strategy.Name,
	})
}

// ProcessStored re-runs dispatch, extraction, entity resolution and the
// merge over a stored document without calling the classifier again. The
// stored classifier output and annotation take part in the merge.
func (p *DocumentPipeline) ProcessStored(ctx context.Context, doc *domain.Document, annotation domain.FieldSet) Outcome {
	docType := domain.ParseDocumentType(annotation.Get(domain.FieldDocumentType))
	if docType == "" {
		docType = doc.Type
	}

	cls := doc.Structured.Classification
	cls.Type = docType

	strategy := extract.Dispatch(docType)
	pattern := strategy.Parse(extract.Input{Text: doc.RawText, Operator: p.operator})

	return p.reconcile(ctx, reconcileInput{
		text:           doc.RawText,
		classification: cls,
		parsed:         doc.Structured.Classifier,
		pattern:        pattern,
		annotation:     annotation,
		strategy:       strategy.Name,
	})
}

type reconcileInput struct {
	text           string
	classification domain.Classification
	parsed         map[string]any
	pattern        domain.ExtractionResult
	annotation     domain.FieldSet
	strategy       string
}

func (p *DocumentPipeline) reconcile(ctx context.Context, in reconcileInput) Outcome {
	classifierFields := ClassifierFields(in.parsed, p.operator)
	in.annotation = p.dropOperatorIdentifiers(in.annotation)

	query := EntityQuery{
		TaxID: firstNonEmpty(
			in.annotation.Get(domain.FieldTaxID),
			classifierFields.Get(domain.FieldTaxID),
			p.counterPartyTaxID(in.pattern.Fields.Get(domain.FieldTaxID)),
		),
		VATNumber: firstNonEmpty(
			in.annotation.Get(domain.FieldVATNumber),
			classifierFields.Get(domain.FieldVATNumber),
			p.counterPartyVAT(in.pattern.Fields.Get(domain.FieldVATNumber)),
		),
		FallbackName: firstNonEmpty(
			in.annotation.Get(domain.FieldSupplierName),
			classifierFields.Get(domain.FieldSupplierName),
		),
	}

	started := time.Now()
	entity := p.entities.Resolve(ctx, query)
	p.observer.ObserveStage("entity_resolution", time.Since(started))

	fields, sources := Merge(MergeInput{
		Annotation:     in.annotation,
		Classification: in.classification,
		Classifier:     classifierFields,
		Pattern:        in.pattern.Fields,
		Entity:         entity,
	})

	doc := &domain.Document{
		Type:            in.classification.Type,
		RawText:         in.text,
		RegistryPayload: entity.RegistryRaw,
		Excluded:        in.classification.Excluded,
		Structured: domain.StructuredFields{
			Version:        domain.StructuredFieldsVersion,
			Classification: in.classification,
			Classifier:     in.parsed,
			Pattern:        in.pattern.Fields,
			Extra:          in.pattern.Extra,
			Sources:        sources,
			Alerts:         entity.Alerts,
		},
	}
	if doc.Type == "" {
		doc.Type = domain.TypeOther
	}
	ApplyColumns(doc, fields)
	if entity.CounterParty != nil {
		id := entity.CounterParty.ID
		doc.CounterPartyID = &id
	}

	if in.classification.Degraded {
		p.logger.Info("classification_fallback", "type", string(doc.Type), "strategy", in.strategy)
	}

	return Outcome{
		Document:       doc,
		Annotation:     fields,
		Classification: in.classification,
		Strategy:       in.strategy,
		Alerts:         entity.Alerts,
	}
}

// dropOperatorIdentifiers removes annotated tax-ids and VAT numbers that
// cannot name a counter-party, so they neither drive resolution nor survive
// the merge.
func (p *DocumentPipeline) dropOperatorIdentifiers(annotation domain.FieldSet) domain.FieldSet {
	taxID, vat := annotation.Get(domain.FieldTaxID), annotation.Get(domain.FieldVATNumber)
	dropTaxID := taxID != "" && p.counterPartyTaxID(taxID) == ""
	dropVAT := vat != "" && p.counterPartyVAT(vat) == ""
	if !dropTaxID && !dropVAT {
		return annotation
	}
	out := annotation.Clone()
	if dropTaxID {
		delete(out, domain.FieldTaxID)
	}
	if dropVAT {
		delete(out, domain.FieldVATNumber)
	}
	p.logger.Warn("annotation_identifier_dropped", "oib", dropTaxID, "vat_number", dropVAT)
	return out
}

// counterPartyTaxID drops tax-ids that fail the checksum or are the operator's.
func (p *DocumentPipeline) counterPartyTaxID(v string) string {
	return extract.ValidCounterPartyTaxID(v, p.operator.TaxID)
}

func (p *DocumentPipeline) counterPartyVAT(v string) string {
	vat := extract.NormalizeVAT(v)
	if vat == "" || vat == p.operator.VATNumber() {
		return ""
	}
	return vat
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func loggerOrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}

type noopObserver struct{}

func (noopObserver) ObserveIngest(domain.IngestStatus, time.Duration)        {}
func (noopObserver) ObserveStage(string, time.Duration)                      {}
func (noopObserver) ObserveReprocess(domain.ReprocessSummary, time.Duration) {}

func observerOrNoop(o ports.PipelineObserver) ports.PipelineObserver {
	if o == nil {
		return noopObserver{}
	}
	return o
}
