package httpadapter

import (
	"context"
	"io"
	"net/http"

	"github.com/crospyder/ocr-core/internal/config"
	"github.com/crospyder/ocr-core/internal/core/domain"
)

type ingestorFake struct {
	err      error
	gotOpts  domain.IngestOptions
	gotFiles map[string]string
}

func (f *ingestorFake) Ingest(_ context.Context, files []domain.Upload, opts domain.IngestOptions) (*domain.BatchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.gotOpts = opts
	f.gotFiles = make(map[string]string, len(files))
	result := &domain.BatchResult{BatchID: "batch-1"}
	for i, file := range files {
		raw, err := io.ReadAll(file.Body)
		if err != nil {
			return nil, err
		}
		f.gotFiles[file.Filename] = string(raw)
		result.Files = append(result.Files, domain.FileResult{
			Filename: file.Filename,
			Status:   domain.StatusOK,
			ID:       int64(i + 1),
		})
	}
	return result, nil
}

type documentsFake struct {
	err       error
	records   map[int64]*domain.Record
	deleted   []int64
	gotFields domain.FieldSet
}

func newDocumentsFake() *documentsFake {
	return &documentsFake{records: map[int64]*domain.Record{
		7: {
			Document:   &domain.Document{ID: 7, Filename: "racun.pdf", Type: domain.TypeIncomingInvoice},
			Annotation: domain.FieldSet{domain.FieldDocNumber: "R-1"},
		},
	}}
}

func (f *documentsFake) GetRecord(_ context.Context, id int64) (*domain.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	record, ok := f.records[id]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return record, nil
}

func (f *documentsFake) UpdateAnnotation(ctx context.Context, id int64, fields domain.FieldSet) (*domain.Record, error) {
	record, err := f.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	f.gotFields = fields
	for key, value := range fields {
		record.Annotation.Set(key, value)
	}
	return record, nil
}

func (f *documentsFake) Delete(ctx context.Context, id int64) error {
	if _, err := f.GetRecord(ctx, id); err != nil {
		return err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *documentsFake) ExportXLSX(_ context.Context, w io.Writer) error {
	if f.err != nil {
		return f.err
	}
	_, err := w.Write([]byte("PK\x03\x04"))
	return err
}

type reprocessFake struct {
	err      error
	enqueued []int64
}

func (f *reprocessFake) ReprocessAll(context.Context) (domain.ReprocessSummary, error) {
	if f.err != nil {
		return domain.ReprocessSummary{}, f.err
	}
	return domain.ReprocessSummary{Updated: 2, Total: 3, Errors: []domain.ReprocessError{}}, nil
}

func (f *reprocessFake) ReprocessByID(context.Context, int64) error { return f.err }

func (f *reprocessFake) EnqueueReprocess(_ context.Context, id int64) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, id)
	return nil
}

type testServices struct {
	ingestor  *ingestorFake
	documents *documentsFake
	reprocess *reprocessFake
}

func newTestServices() testServices {
	return testServices{
		ingestor:  &ingestorFake{},
		documents: newDocumentsFake(),
		reprocess: &reprocessFake{},
	}
}

func (s testServices) services() Services {
	return Services{
		Ingestor:    s.ingestor,
		Reader:      s.documents,
		Editor:      s.documents,
		Reprocessor: s.reprocess,
		Scheduler:   s.reprocess,
		Exporter:    s.documents,
	}
}

func newTestHandler(cfg config.Config) http.Handler {
	return NewRouter(cfg, newTestServices().services()).Handler()
}
