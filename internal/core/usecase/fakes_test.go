package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/crospyder/ocr-core/internal/core/domain"
)

var testOperator = domain.Operator{Name: "Spine ICT d.o.o.", TaxID: "10238889600"}

type docRepoFake struct {
	mu          sync.Mutex
	nextID      int64
	docs        map[int64]*domain.Document
	annotations map[int64]domain.FieldSet
	byHash      map[string]int64

	createErrFor     map[string]error
	raceWinner       *domain.Document
	annotationErrFor map[int64]error
	saveErr          error
	listErr          error
	saved            []int64
	deleted          []int64
	renamed          map[int64]string
}

func newDocRepoFake() *docRepoFake {
	return &docRepoFake{
		nextID:      1,
		docs:        make(map[int64]*domain.Document),
		annotations: make(map[int64]domain.FieldSet),
		byHash:      make(map[string]int64),
		renamed:     make(map[int64]string),
	}
}

func (f *docRepoFake) put(doc domain.Document, annotation domain.FieldSet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copyDoc := doc
	f.docs[doc.ID] = &copyDoc
	f.annotations[doc.ID] = annotation.Clone()
	if doc.ContentHash != "" {
		f.byHash[doc.ContentHash] = doc.ID
	}
	if doc.ID >= f.nextID {
		f.nextID = doc.ID + 1
	}
}

func (f *docRepoFake) Create(_ context.Context, doc *domain.Document, annotation domain.FieldSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.createErrFor[doc.Filename]; err != nil {
		return err
	}
	if f.raceWinner != nil {
		winner := *f.raceWinner
		f.docs[winner.ID] = &winner
		f.byHash[doc.ContentHash] = winner.ID
		return domain.WrapError(domain.ErrDuplicate, "create document", errors.New("unique violation"))
	}
	if _, exists := f.byHash[doc.ContentHash]; exists {
		return domain.WrapError(domain.ErrDuplicate, "create document", errors.New("unique violation"))
	}
	doc.ID = f.nextID
	f.nextID++
	copyDoc := *doc
	f.docs[doc.ID] = &copyDoc
	f.annotations[doc.ID] = annotation.Clone()
	f.byHash[doc.ContentHash] = doc.ID
	return nil
}

func (f *docRepoFake) GetByHash(_ context.Context, hash string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byHash[hash]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get by hash", errors.New(hash))
	}
	copyDoc := *f.docs[id]
	return &copyDoc, nil
}

func (f *docRepoFake) GetByID(_ context.Context, id int64) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get by id", fmt.Errorf("id %d", id))
	}
	copyDoc := *doc
	return &copyDoc, nil
}

func (f *docRepoFake) GetAnnotation(_ context.Context, id int64) (domain.FieldSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.annotationErrFor[id]; err != nil {
		return nil, err
	}
	return f.annotations[id].Clone(), nil
}

func (f *docRepoFake) SaveReconciled(_ context.Context, doc *domain.Document, annotation domain.FieldSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	copyDoc := *doc
	f.docs[doc.ID] = &copyDoc
	f.annotations[doc.ID] = annotation.Clone()
	f.saved = append(f.saved, doc.ID)
	return nil
}

func (f *docRepoFake) UpdateStoredFilename(_ context.Context, id int64, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renamed[id] = name
	if doc, ok := f.docs[id]; ok {
		doc.StoredFilename = name
	}
	return nil
}

func (f *docRepoFake) ListActiveIDs(context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var ids []int64
	for id := int64(1); id < f.nextID; id++ {
		if doc, ok := f.docs[id]; ok && doc.Type != domain.TypeDeleted {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *docRepoFake) ListActive(ctx context.Context) ([]domain.Document, error) {
	ids, err := f.ListActiveIDs(ctx)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Document, 0, len(ids))
	for _, id := range ids {
		out = append(out, *f.docs[id])
	}
	return out, nil
}

func (f *docRepoFake) SoftDelete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	doc.Type = domain.TypeDeleted
	f.deleted = append(f.deleted, id)
	return nil
}

type counterPartyRepoFake struct {
	mu        sync.Mutex
	nextID    int64
	byKey     map[string]*domain.CounterParty
	lookupErr error
	upsertErr error
	upserts   int
}

func newCounterPartyRepoFake(seed ...domain.CounterParty) *counterPartyRepoFake {
	f := &counterPartyRepoFake{nextID: 100, byKey: make(map[string]*domain.CounterParty)}
	for _, cp := range seed {
		copyCP := cp
		f.byKey[cp.Identifier] = &copyCP
	}
	return f
}

func (f *counterPartyRepoFake) GetByIdentifier(_ context.Context, identifier string) (*domain.CounterParty, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	cp, ok := f.byKey[identifier]
	if !ok {
		return nil, domain.WrapError(domain.ErrCounterPartyNotFound, "get counter-party", errors.New(identifier))
	}
	copyCP := *cp
	return &copyCP, nil
}

func (f *counterPartyRepoFake) GetByID(_ context.Context, id int64) (*domain.CounterParty, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cp := range f.byKey {
		if cp.ID == id {
			copyCP := *cp
			return &copyCP, nil
		}
	}
	return nil, domain.ErrCounterPartyNotFound
}

func (f *counterPartyRepoFake) Upsert(_ context.Context, cp domain.CounterParty) (*domain.CounterParty, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return nil, false, f.upsertErr
	}
	f.upserts++
	if existing, ok := f.byKey[cp.Identifier]; ok {
		if cp.Name != "" {
			existing.Name = cp.Name
		}
		if cp.Address != "" {
			existing.Address = cp.Address
		}
		if len(cp.VATResponseRaw) > 0 {
			existing.VATResponseRaw = cp.VATResponseRaw
		}
		if len(cp.RegistryRaw) > 0 {
			existing.RegistryRaw = cp.RegistryRaw
		}
		copyCP := *existing
		return &copyCP, false, nil
	}
	cp.ID = f.nextID
	f.nextID++
	stored := cp
	f.byKey[cp.Identifier] = &stored
	copyCP := stored
	return &copyCP, true, nil
}

type storageFake struct {
	mu       sync.Mutex
	objects  map[string][]byte
	saveErr  error
	saves    int
	removed  []string
	renameTo map[string]string
}

func newStorageFake() *storageFake {
	return &storageFake{objects: make(map[string][]byte), renameTo: make(map[string]string)}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[key] = raw
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.objects[key]
	if !ok {
		return nil, errors.New("missing object")
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (f *storageFake) Rename(_ context.Context, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.objects[from]
	if !ok {
		return errors.New("missing object")
	}
	delete(f.objects, from)
	f.objects[to] = raw
	f.renameTo[from] = to
	return nil
}

func (f *storageFake) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.removed = append(f.removed, key)
	return nil
}

type extractorFake struct {
	mu     sync.Mutex
	texts  map[string]string
	errFor map[string]error
	calls  int

	// entered and release, when set, hold every call until release is closed.
	entered chan struct{}
	release chan struct{}
}

func (f *extractorFake) Extract(_ context.Context, filename string, _ []byte) (string, error) {
	if f.release != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errFor[filename]; err != nil {
		return "", err
	}
	return f.texts[filename], nil
}

type classifierFake struct {
	mu     sync.Mutex
	result domain.ClassifierResult
	err    error
	calls  int
	last   domain.ClassifyRequest
}

func (f *classifierFake) Classify(_ context.Context, req domain.ClassifyRequest) (domain.ClassifierResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return domain.ClassifierResult{}, f.err
	}
	return f.result, nil
}

type registryFake struct {
	mu        sync.Mutex
	companies map[string]domain.RegistryCompany
	err       error
	calls     int
}

func (f *registryFake) LookupByTaxID(_ context.Context, taxID string) (*domain.RegistryCompany, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.companies[taxID]
	if !ok {
		return nil, domain.WrapError(domain.ErrCounterPartyNotFound, "registry lookup", errors.New(taxID))
	}
	return &c, nil
}

type vatFake struct {
	mu     sync.Mutex
	checks map[string]domain.VATCheck
	err    error
	calls  int
}

func (f *vatFake) CheckVAT(_ context.Context, country, number string) (domain.VATCheck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.VATCheck{}, f.err
	}
	if c, ok := f.checks[country+number]; ok {
		return c, nil
	}
	return domain.VATCheck{CountryCode: country, Number: number, Valid: false}, nil
}

type indexerFake struct {
	mu      sync.Mutex
	indexed []int64
	err     error
}

func (f *indexerFake) IndexDocument(_ context.Context, doc domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, doc.ID)
	return f.err
}

type trainingFake struct {
	mu     sync.Mutex
	labels []string
}

func (f *trainingFake) SubmitTrainingSample(_ context.Context, _ string, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels = append(f.labels, label)
	return nil
}

type queueFake struct {
	published []domain.ReprocessRequest
	err       error
}

func (f *queueFake) PublishReprocess(_ context.Context, req domain.ReprocessRequest) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, req)
	return nil
}

func (f *queueFake) SubscribeReprocess(context.Context, func(context.Context, domain.ReprocessRequest) error) error {
	return errors.New("not implemented")
}

type sheetsFake struct {
	docs []domain.Document
}

func (f *sheetsFake) WriteDocuments(_ context.Context, w io.Writer, docs []domain.Document) error {
	f.docs = docs
	_, err := w.Write([]byte("xlsx"))
	return err
}
