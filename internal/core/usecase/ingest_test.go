package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/crospyder/ocr-core/internal/core/domain"
)

type ingestFixture struct {
	repo       *docRepoFake
	storage    *storageFake
	extractor  *extractorFake
	classifier *classifierFake
	registry   *registryFake
	indexer    *indexerFake
	training   *trainingFake
	uc         *IngestUseCase
}

func newIngestFixture(concurrency int, maxBytes int64) *ingestFixture {
	f := &ingestFixture{
		repo:      newDocRepoFake(),
		storage:   newStorageFake(),
		extractor: &extractorFake{texts: map[string]string{}, errFor: map[string]error{}},
		classifier: &classifierFake{result: domain.ClassifierResult{
			BestLabel: "0",
			BestScore: 0.9,
			Scores:    map[string]float64{"0": 0.9, "1": 0.1},
		}},
		registry: &registryFake{companies: map[string]domain.RegistryCompany{
			"49528128847": {TaxID: "49528128847", Name: "ACME d.o.o.", Address: "Ilica 10", RawResponse: json.RawMessage(`{}`)},
		}},
		indexer:  &indexerFake{},
		training: &trainingFake{},
	}
	vat := &vatFake{checks: map[string]domain.VATCheck{"HR49528128847": {Valid: true}}}
	entities := NewEntityResolver(newCounterPartyRepoFake(), f.registry, vat, nil)
	pipeline := NewDocumentPipeline(
		NewClassificationResolver(f.classifier, ClassificationPolicy{}, testOperator, nil),
		entities, testOperator, nil, nil,
	)
	f.uc = NewIngestUseCase(f.repo, f.storage, f.extractor, pipeline, f.indexer, f.training,
		IngestOptions{Concurrency: concurrency, MaxUploadBytes: maxBytes}, nil, nil)
	return f
}

func upload(name, body string) domain.Upload {
	return domain.Upload{Filename: name, Body: strings.NewReader(body)}
}

func TestIngestStoresIndexesAndRenames(t *testing.T) {
	f := newIngestFixture(2, 0)
	f.extractor.texts["Racun.PDF"] = tieInvoiceText

	batch, err := f.uc.Ingest(context.Background(), []domain.Upload{upload("Racun.PDF", "pdf-bytes-1")}, domain.IngestOptions{})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if batch.BatchID == "" || len(batch.Files) != 1 {
		t.Fatalf("unexpected batch %+v", batch)
	}
	res := batch.Files[0]
	if res.Status != domain.StatusOK || res.ID != 1 || res.Type != domain.TypeIncomingInvoice {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Fields.Get(domain.FieldTaxID) != "49528128847" || res.Fields.Get(domain.FieldSupplierName) != "ACME d.o.o." {
		t.Fatalf("unexpected fields %v", res.Fields)
	}
	if f.repo.renamed[1] != "1.pdf" {
		t.Fatalf("expected stored file renamed to 1.pdf, got %q", f.repo.renamed[1])
	}
	if _, ok := f.storage.objects["1.pdf"]; !ok || len(f.storage.objects) != 1 {
		t.Fatalf("unexpected storage contents %v", f.storage.objects)
	}
	if len(f.indexer.indexed) != 1 || f.indexer.indexed[0] != 1 {
		t.Fatalf("expected document indexed, got %v", f.indexer.indexed)
	}
	doc := f.repo.docs[1]
	if doc.ContentHash == "" || doc.CounterPartyID == nil || doc.Filename != "Racun.PDF" {
		t.Fatalf("unexpected stored document %+v", doc)
	}
	if len(f.training.labels) != 0 {
		t.Fatalf("training sample submitted without training mode")
	}
}

func TestIngestDetectsDuplicateBeforeProcessing(t *testing.T) {
	f := newIngestFixture(1, 0)
	f.extractor.texts["a.pdf"] = tieInvoiceText
	f.extractor.texts["a-copy.pdf"] = tieInvoiceText

	first, _ := f.uc.Ingest(context.Background(), []domain.Upload{upload("a.pdf", "same-bytes")}, domain.IngestOptions{})
	second, _ := f.uc.Ingest(context.Background(), []domain.Upload{upload("a-copy.pdf", "same-bytes")}, domain.IngestOptions{})

	res := second.Files[0]
	if res.Status != domain.StatusDuplicate || res.ExistingID != first.Files[0].ID {
		t.Fatalf("expected duplicate of %d, got %+v", first.Files[0].ID, res)
	}
	if f.extractor.calls != 1 || f.registry.calls != 1 || f.classifier.calls != 1 {
		t.Fatalf("duplicate reached processing: ocr=%d registry=%d classifier=%d",
			f.extractor.calls, f.registry.calls, f.classifier.calls)
	}
	if f.storage.saves != 1 {
		t.Fatalf("expected one storage write, got %d", f.storage.saves)
	}
}

func TestIngestRepeatedContentInOneBatchIsProcessedOnce(t *testing.T) {
	f := newIngestFixture(4, 0)
	f.extractor.texts["a.pdf"] = tieInvoiceText
	f.extractor.texts["b.pdf"] = tieInvoiceText
	f.extractor.texts["c.pdf"] = tieInvoiceText + "\nkopija"

	batch, err := f.uc.Ingest(context.Background(), []domain.Upload{
		upload("a.pdf", "same-bytes"), upload("b.pdf", "same-bytes"), upload("c.pdf", "other-bytes"),
	}, domain.IngestOptions{})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	first, repeat, other := batch.Files[0], batch.Files[1], batch.Files[2]
	if first.Status != domain.StatusOK || other.Status != domain.StatusOK {
		t.Fatalf("expected first occurrence and distinct file OK, got %+v / %+v", first, other)
	}
	if repeat.Filename != "b.pdf" || repeat.Status != domain.StatusDuplicate || repeat.ExistingID != first.ID {
		t.Fatalf("expected b.pdf duplicate of %d, got %+v", first.ID, repeat)
	}
	if f.extractor.calls != 2 || f.classifier.calls != 2 || f.storage.saves != 2 {
		t.Fatalf("repeated content reached processing: ocr=%d classifier=%d saves=%d",
			f.extractor.calls, f.classifier.calls, f.storage.saves)
	}
}

func TestIngestRepeatedContentSharesFailure(t *testing.T) {
	f := newIngestFixture(4, 0)
	f.extractor.errFor["a.pdf"] = errors.New("unreadable scan")

	batch, _ := f.uc.Ingest(context.Background(), []domain.Upload{
		upload("a.pdf", "same-bytes"), upload("b.pdf", "same-bytes"),
	}, domain.IngestOptions{})
	for _, res := range batch.Files {
		if res.Status != domain.StatusFailed || !strings.Contains(res.Error, "unreadable scan") {
			t.Fatalf("expected %s failed with the first file's error, got %+v", res.Filename, res)
		}
	}
	if f.extractor.calls != 1 {
		t.Fatalf("expected one OCR call, got %d", f.extractor.calls)
	}
}

func TestIngestOverlappingBatchesShareOneRun(t *testing.T) {
	f := newIngestFixture(1, 0)
	f.extractor.texts["a.pdf"] = tieInvoiceText
	f.extractor.texts["b.pdf"] = tieInvoiceText
	f.extractor.entered = make(chan struct{}, 2)
	f.extractor.release = make(chan struct{})

	results := make(chan *domain.BatchResult, 2)
	go func() {
		batch, _ := f.uc.Ingest(context.Background(), []domain.Upload{upload("a.pdf", "same-bytes")}, domain.IngestOptions{})
		results <- batch
	}()
	<-f.extractor.entered
	go func() {
		batch, _ := f.uc.Ingest(context.Background(), []domain.Upload{upload("b.pdf", "same-bytes")}, domain.IngestOptions{})
		results <- batch
	}()
	time.Sleep(20 * time.Millisecond)
	close(f.extractor.release)

	statuses := map[domain.IngestStatus]int{}
	for range 2 {
		batch := <-results
		statuses[batch.Files[0].Status]++
	}
	if statuses[domain.StatusOK] != 1 || statuses[domain.StatusDuplicate] != 1 {
		t.Fatalf("expected one OK and one duplicate, got %v", statuses)
	}
	if f.extractor.calls != 1 || f.storage.saves != 1 {
		t.Fatalf("expected a single run, ocr=%d saves=%d", f.extractor.calls, f.storage.saves)
	}
}

func TestIngestStorageFailureStopsBatch(t *testing.T) {
	f := newIngestFixture(1, 0)
	f.storage.saveErr = errors.New("disk full")

	batch, err := f.uc.Ingest(context.Background(), []domain.Upload{
		upload("a.pdf", "a"), upload("b.pdf", "b"), upload("c.pdf", "c"),
	}, domain.IngestOptions{})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if batch.Files[0].Status != domain.StatusFailed || !strings.Contains(batch.Files[0].Error, "disk full") {
		t.Fatalf("unexpected first result %+v", batch.Files[0])
	}
	for _, res := range batch.Files[1:] {
		if res.Status != domain.StatusFailed || res.Error != ErrNotProcessed.Error() {
			t.Fatalf("expected %s not processed, got %+v", res.Filename, res)
		}
	}
	if f.storage.saves != 1 {
		t.Fatalf("expected batch to stop after first write, got %d writes", f.storage.saves)
	}
}

func TestIngestDatabaseFailureOnlyFailsThatFile(t *testing.T) {
	f := newIngestFixture(2, 0)
	f.extractor.texts["a.pdf"] = tieInvoiceText
	f.extractor.texts["b.pdf"] = tieInvoiceText + "\nkopija"
	f.repo.createErrFor = map[string]error{"b.pdf": errors.New("connection reset")}

	batch, _ := f.uc.Ingest(context.Background(), []domain.Upload{upload("a.pdf", "a"), upload("b.pdf", "b")}, domain.IngestOptions{})
	if batch.Files[0].Status != domain.StatusOK {
		t.Fatalf("expected a.pdf OK, got %+v", batch.Files[0])
	}
	if batch.Files[1].Status != domain.StatusFailed || !strings.Contains(batch.Files[1].Error, "connection reset") {
		t.Fatalf("expected b.pdf failed, got %+v", batch.Files[1])
	}
	if len(f.storage.removed) != 1 || len(f.storage.objects) != 1 {
		t.Fatalf("expected failed file removed, removed=%v objects=%d", f.storage.removed, len(f.storage.objects))
	}
}

func TestIngestConcurrentDuplicateReportsWinner(t *testing.T) {
	f := newIngestFixture(1, 0)
	f.extractor.texts["a.pdf"] = tieInvoiceText
	f.repo.raceWinner = &domain.Document{ID: 42, Type: domain.TypeIncomingInvoice}

	batch, _ := f.uc.Ingest(context.Background(), []domain.Upload{upload("a.pdf", "a")}, domain.IngestOptions{})
	res := batch.Files[0]
	if res.Status != domain.StatusDuplicate || res.ExistingID != 42 {
		t.Fatalf("expected duplicate of 42, got %+v", res)
	}
	if len(f.storage.removed) != 1 {
		t.Fatalf("expected losing file removed")
	}
}

func TestIngestFallsBackToDeclaredTypeWhenClassifierDown(t *testing.T) {
	f := newIngestFixture(1, 0)
	f.classifier.err = domain.WrapError(domain.ErrTemporary, "classify", errors.New("connection refused"))
	f.extractor.texts["a.pdf"] = tieInvoiceText

	batch, _ := f.uc.Ingest(context.Background(), []domain.Upload{upload("a.pdf", "a")},
		domain.IngestOptions{DeclaredType: domain.TypeOutgoingInvoice, TrainingMode: true})
	res := batch.Files[0]
	if res.Status != domain.StatusOK || res.Type != domain.TypeOutgoingInvoice {
		t.Fatalf("expected IRA from declared type, got %+v", res)
	}
	if len(f.training.labels) != 1 || f.training.labels[0] != "IRA" {
		t.Fatalf("expected training sample labelled IRA, got %v", f.training.labels)
	}
}

func TestIngestOCRFailureRemovesStoredFile(t *testing.T) {
	f := newIngestFixture(1, 0)
	f.extractor.errFor["scan.png"] = errors.New("tesseract exited 1")

	batch, _ := f.uc.Ingest(context.Background(), []domain.Upload{upload("scan.png", "png")}, domain.IngestOptions{})
	if batch.Files[0].Status != domain.StatusFailed {
		t.Fatalf("expected failure, got %+v", batch.Files[0])
	}
	if len(f.storage.removed) != 1 || len(f.storage.objects) != 0 {
		t.Fatalf("expected stored file removed")
	}
	if len(f.repo.docs) != 0 {
		t.Fatalf("expected no record")
	}
}

func TestIngestRejectsEmptyAndOversizedInput(t *testing.T) {
	f := newIngestFixture(1, 4)
	if _, err := f.uc.Ingest(context.Background(), nil, domain.IngestOptions{}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty batch, got %v", err)
	}

	batch, _ := f.uc.Ingest(context.Background(), []domain.Upload{upload("big.pdf", "too large"), upload("empty.pdf", "")}, domain.IngestOptions{})
	for _, res := range batch.Files {
		if res.Status != domain.StatusFailed {
			t.Fatalf("expected %s failed, got %+v", res.Filename, res)
		}
	}
	if f.storage.saves != 0 {
		t.Fatalf("rejected uploads must not reach storage")
	}
}
