package usecase

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/crospyder/ocr-core/internal/core/domain"
	"github.com/crospyder/ocr-core/internal/core/ports"
)

// ErrNotProcessed is reported for files a batch never started because an
// earlier fatal storage failure stopped it.
var ErrNotProcessed = errors.New("not processed")

type IngestOptions struct {
	Concurrency    int
	MaxUploadBytes int64
	// TrainingMode turns training submission on for every batch.
	TrainingMode bool
}

// IngestUseCase is the ingestion gate and batch driver.
type IngestUseCase struct {
	repo      ports.DocumentRepository
	storage   ports.ObjectStorage
	extractor ports.TextExtractor
	pipeline  *DocumentPipeline
	indexer   ports.SearchIndexer
	training  ports.TrainingSink
	opts      IngestOptions
	observer  ports.PipelineObserver
	logger    *slog.Logger

	now     func() time.Time
	entropy io.Reader
	mu      sync.Mutex
	// inflight collapses concurrent ingests of the same content hash.
	inflight singleflight.Group
}

func NewIngestUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	extractor ports.TextExtractor,
	pipeline *DocumentPipeline,
	indexer ports.SearchIndexer,
	training ports.TrainingSink,
	opts IngestOptions,
	observer ports.PipelineObserver,
	logger *slog.Logger,
) *IngestUseCase {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &IngestUseCase{
		repo:      repo,
		storage:   storage,
		extractor: extractor,
		pipeline:  pipeline,
		indexer:   indexer,
		training:  training,
		opts:      opts,
		observer:  observerOrNoop(observer),
		logger:    loggerOrDiscard(logger),
		now:       func() time.Time { return time.Now().UTC() },
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}
}

// Ingest processes a batch with bounded concurrency. Every file gets a
// result. All files are hashed before any side effect, so repeated content
// within the batch is reported as a duplicate of its first occurrence. A
// storage write failure stops the batch: files not yet started are reported
// as not processed, files in flight finish normally.
func (uc *IngestUseCase) Ingest(ctx context.Context, files []domain.Upload, opts domain.IngestOptions) (*domain.BatchResult, error) {
	if len(files) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ingest", errors.New("no files"))
	}

	batch := &domain.BatchResult{BatchID: uc.newBatchID(), Files: make([]domain.FileResult, len(files))}
	for i, f := range files {
		batch.Files[i] = domain.FileResult{
			Filename: f.Filename,
			Status:   domain.StatusFailed,
			Error:    ErrNotProcessed.Error(),
		}
	}

	prepared := make([]hashedUpload, len(files))
	firstByHash := make(map[string]int, len(files))
	for i, f := range files {
		p := hashedUpload{upload: f, firstOf: -1, started: time.Now()}
		p.content, p.hash, p.err = readAndHash(f.Body, uc.opts.MaxUploadBytes)
		if p.err == nil {
			if j, seen := firstByHash[p.hash]; seen {
				p.firstOf = j
			} else {
				firstByHash[p.hash] = i
			}
		}
		prepared[i] = p
	}

	g, stop := errgroup.WithContext(ctx)
	g.SetLimit(uc.opts.Concurrency)
	for i := range prepared {
		if prepared[i].firstOf >= 0 {
			continue
		}
		if stop.Err() != nil {
			break
		}
		g.Go(func() error {
			if stop.Err() != nil {
				return nil
			}
			res, fatal := uc.ingestOne(ctx, prepared[i], opts)
			batch.Files[i] = res
			return fatal
		})
	}
	if err := g.Wait(); err != nil {
		uc.logger.Error("ingest_batch_aborted", "batch_id", batch.BatchID, "error", err)
	}

	for i, p := range prepared {
		if p.firstOf < 0 {
			continue
		}
		first := batch.Files[p.firstOf]
		if first.Error == ErrNotProcessed.Error() {
			continue
		}
		batch.Files[i] = duplicateOf(p.upload.Filename, first)
		uc.observer.ObserveIngest(batch.Files[i].Status, 0)
		if batch.Files[i].Status == domain.StatusDuplicate {
			uc.logger.Info("ingest_duplicate_in_batch", "filename", p.upload.Filename, "existing_id", batch.Files[i].ExistingID)
		}
	}
	return batch, nil
}

type hashedUpload struct {
	upload  domain.Upload
	content []byte
	hash    string
	err     error
	// firstOf is the index of an earlier file with the same hash, or -1.
	firstOf int
	started time.Time
}

// duplicateOf derives the result of a repeated upload from the result of
// the upload it repeats.
func duplicateOf(filename string, first domain.FileResult) domain.FileResult {
	res := domain.FileResult{Filename: filename, Type: first.Type}
	switch first.Status {
	case domain.StatusOK:
		res.Status = domain.StatusDuplicate
		res.ExistingID = first.ID
	case domain.StatusDuplicate:
		res.Status = domain.StatusDuplicate
		res.ExistingID = first.ExistingID
	default:
		res.Status = first.Status
		res.Error = first.Error
	}
	return res
}

func (uc *IngestUseCase) newBatchID() string {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(uc.now()), uc.entropy).String()
}

// ingestOne returns a non-nil error only for failures that must stop the batch.
// Concurrent calls for the same hash, from this batch or another one, share
// a single run; the callers that did not run it get a duplicate result.
func (uc *IngestUseCase) ingestOne(ctx context.Context, p hashedUpload, opts domain.IngestOptions) (domain.FileResult, error) {
	if p.err != nil {
		res := domain.FileResult{Filename: p.upload.Filename, Status: domain.StatusFailed, Error: p.err.Error()}
		uc.observer.ObserveIngest(res.Status, time.Since(p.started))
		return res, nil
	}

	ran := false
	v, fatal, _ := uc.inflight.Do(p.hash, func() (any, error) {
		ran = true
		return uc.ingestContent(ctx, p, opts)
	})
	res := v.(domain.FileResult)
	if ran {
		return res, fatal
	}
	res = duplicateOf(p.upload.Filename, res)
	uc.observer.ObserveIngest(res.Status, time.Since(p.started))
	return res, nil
}

func (uc *IngestUseCase) ingestContent(ctx context.Context, p hashedUpload, opts domain.IngestOptions) (domain.FileResult, error) {
	upload, content, hash := p.upload, p.content, p.hash
	res := domain.FileResult{Filename: upload.Filename}
	finish := func(status domain.IngestStatus, err error) domain.FileResult {
		res.Status = status
		if err != nil {
			res.Error = err.Error()
		}
		uc.observer.ObserveIngest(status, time.Since(p.started))
		return res
	}

	existing, err := uc.repo.GetByHash(ctx, hash)
	switch {
	case err == nil:
		uc.logger.Info("ingest_duplicate", "filename", upload.Filename, "existing_id", existing.ID)
		res.ExistingID = existing.ID
		res.Type = existing.Type
		return finish(domain.StatusDuplicate, nil), nil
	case !domain.IsKind(err, domain.ErrDocumentNotFound):
		return finish(domain.StatusFailed, fmt.Errorf("check content hash: %w", err)), nil
	}

	ext := strings.ToLower(filepath.Ext(upload.Filename))
	storedName := uuid.NewString() + ext
	if err := uc.storage.Save(ctx, storedName, bytes.NewReader(content)); err != nil {
		err = fmt.Errorf("save to object storage: %w", err)
		return finish(domain.StatusFailed, err), err
	}

	stageStarted := time.Now()
	text, err := uc.extractor.Extract(ctx, upload.Filename, content)
	uc.observer.ObserveStage("ocr", time.Since(stageStarted))
	if err != nil {
		uc.discard(ctx, storedName)
		return finish(domain.StatusFailed, fmt.Errorf("extract text: %w", err)), nil
	}

	out := uc.pipeline.ProcessNew(ctx, text, opts.DeclaredType)
	doc := out.Document
	doc.ContentHash = hash
	doc.Filename = upload.Filename
	doc.StoredFilename = storedName
	doc.UploadedAt = uc.now()
	doc.UpdatedAt = doc.UploadedAt

	if err := uc.repo.Create(ctx, doc, out.Annotation); err != nil {
		uc.discard(ctx, storedName)
		if domain.IsKind(err, domain.ErrDuplicate) {
			if winner, lookupErr := uc.repo.GetByHash(ctx, hash); lookupErr == nil {
				uc.logger.Info("ingest_duplicate_race", "filename", upload.Filename, "existing_id", winner.ID)
				res.ExistingID = winner.ID
				res.Type = winner.Type
				return finish(domain.StatusDuplicate, nil), nil
			}
		}
		return finish(domain.StatusFailed, fmt.Errorf("create document: %w", err)), nil
	}

	uc.finalizeStorage(ctx, doc, ext)
	uc.index(ctx, doc)
	if opts.TrainingMode || uc.opts.TrainingMode {
		uc.submitTraining(ctx, text, doc.Type)
	}

	res.ID = doc.ID
	res.Type = doc.Type
	res.Fields = out.Annotation
	res.Alerts = out.Alerts
	uc.logger.Info("ingest_completed",
		"document_id", doc.ID,
		"filename", upload.Filename,
		"document_type", string(doc.Type),
		"strategy", out.Strategy,
	)
	return finish(domain.StatusOK, nil), nil
}

// finalizeStorage renames the stored file to {id}{ext} once the record exists.
func (uc *IngestUseCase) finalizeStorage(ctx context.Context, doc *domain.Document, ext string) {
	final := fmt.Sprintf("%d%s", doc.ID, ext)
	if err := uc.storage.Rename(ctx, doc.StoredFilename, final); err != nil {
		uc.logger.Warn("storage_rename_failed", "document_id", doc.ID, "from", doc.StoredFilename, "error", err)
		return
	}
	if err := uc.repo.UpdateStoredFilename(ctx, doc.ID, final); err != nil {
		uc.logger.Warn("stored_filename_update_failed", "document_id", doc.ID, "error", err)
		return
	}
	doc.StoredFilename = final
}

func (uc *IngestUseCase) index(ctx context.Context, doc *domain.Document) {
	if uc.indexer == nil {
		return
	}
	if err := uc.indexer.IndexDocument(ctx, *doc); err != nil {
		uc.logger.Warn("search_index_failed", "document_id", doc.ID, "error", err)
	}
}

func (uc *IngestUseCase) submitTraining(ctx context.Context, text string, docType domain.DocumentType) {
	if uc.training == nil {
		return
	}
	if err := uc.training.SubmitTrainingSample(ctx, text, string(docType)); err != nil {
		uc.logger.Warn("training_sample_failed", "document_type", string(docType), "error", err)
	}
}

func (uc *IngestUseCase) discard(ctx context.Context, key string) {
	if err := uc.storage.Remove(ctx, key); err != nil {
		uc.logger.Warn("storage_cleanup_failed", "key", key, "error", err)
	}
}

// readAndHash buffers the upload while hashing it, so the digest is known
// before anything expensive runs.
func readAndHash(body io.Reader, maxBytes int64) ([]byte, string, error) {
	if body == nil {
		return nil, "", domain.WrapError(domain.ErrInvalidInput, "read upload", errors.New("empty body"))
	}
	h := sha256.New()
	src := io.TeeReader(body, h)
	if maxBytes > 0 {
		src = io.LimitReader(src, maxBytes+1)
	}
	content, err := io.ReadAll(src)
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	if maxBytes > 0 && int64(len(content)) > maxBytes {
		return nil, "", domain.WrapError(domain.ErrInvalidInput, "read upload", fmt.Errorf("file exceeds %d bytes", maxBytes))
	}
	if len(content) == 0 {
		return nil, "", domain.WrapError(domain.ErrInvalidInput, "read upload", errors.New("empty file"))
	}
	return content, hex.EncodeToString(h.Sum(nil)), nil
}
