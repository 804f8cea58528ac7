package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/crospyder/ocr-core/internal/core/domain"
	"github.com/crospyder/ocr-core/internal/infrastructure/resilience"
)

const serviceName = "search"

// Client writes documents to an Elasticsearch-compatible index so they can
// be found by their OCR text.
type Client struct {
	baseURL    string
	index      string
	httpClient *http.Client
	executor   *resilience.Executor
	logger     *slog.Logger

	ensureMu     sync.Mutex
	ensuredIndex bool
}

type Options struct {
	Timeout  time.Duration
	Executor *resilience.Executor
	Logger   *slog.Logger
}

func New(baseURL, index string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		index:      index,
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.Executor,
		logger:     logger,
	}
}

type indexedDocument struct {
	ID              int64     `json:"id"`
	Filename        string    `json:"filename"`
	OCRResult       string    `json:"ocrresult"`
	SupplierNameOCR string    `json:"supplier_name_ocr,omitempty"`
	DocumentType    string    `json:"document_type"`
	ArchivedAt      time.Time `json:"archived_at"`
}

func (c *Client) IndexDocument(ctx context.Context, doc domain.Document) error {
	if doc.ID <= 0 {
		return domain.WrapError(domain.ErrInvalidInput, "index document", fmt.Errorf("document id %d", doc.ID))
	}
	if err := c.ensureIndex(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(indexedDocument{
		ID:              doc.ID,
		Filename:        doc.Filename,
		OCRResult:       doc.RawText,
		SupplierNameOCR: doc.CounterPartyName,
		DocumentType:    string(doc.Type),
		ArchivedAt:      doc.UploadedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal index body: %w", err)
	}

	url := fmt.Sprintf("%s/%s/_doc/%s", c.baseURL, c.index, strconv.FormatInt(doc.ID, 10))
	err = c.execute(ctx, "search.index", func(ctx context.Context) error {
		return c.put(ctx, url, body, "index", false)
	})
	if err != nil {
		return resilience.WrapTemporary("index document", err, nil)
	}
	c.logger.Debug("search_document_indexed", "document_id", doc.ID, "index", c.index)
	return nil
}

func (c *Client) ensureIndex(ctx context.Context) error {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	if c.ensuredIndex {
		return nil
	}

	mapping := map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"id":                map[string]any{"type": "long"},
				"filename":          map[string]any{"type": "keyword"},
				"ocrresult":         map[string]any{"type": "text"},
				"supplier_name_ocr": map[string]any{"type": "text"},
				"document_type":     map[string]any{"type": "keyword"},
				"archived_at":       map[string]any{"type": "date"},
			},
		},
	}
	body, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("marshal index mapping: %w", err)
	}

	url := fmt.Sprintf("%s/%s", c.baseURL, c.index)
	err = c.execute(ctx, "search.ensure_index", func(ctx context.Context) error {
		return c.put(ctx, url, body, "ensure index", true)
	})
	if err != nil {
		return resilience.WrapTemporary("ensure search index", err, nil)
	}
	c.ensuredIndex = true
	return nil
}

// put treats resource_already_exists_exception as success when tolerateExists is set.
func (c *Client) put(ctx context.Context, url string, body []byte, operation string, tolerateExists bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("search %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	statusErr := resilience.NewHTTPStatusError(serviceName, operation, resp)
	if tolerateExists && resp.StatusCode == http.StatusBadRequest && strings.Contains(statusErr.Body, "resource_already_exists_exception") {
		return nil
	}
	return statusErr
}

func (c *Client) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.executor == nil {
		return fn(ctx)
	}
	return c.executor.Execute(ctx, operation, fn, resilience.ClassifyHTTPError)
}
