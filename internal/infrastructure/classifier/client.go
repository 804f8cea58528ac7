package classifier

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/crospyder/ocr-core/internal/core/domain"
	"github.com/crospyder/ocr-core/internal/infrastructure/resilience"
)

const (
	serviceName  = "classifier"
	maxTextBytes = 16000
)

// Client talks to the remote document classifier. It implements both the
// classification port and the training sink.
type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
	logger     *slog.Logger
}

type Options struct {
	Timeout  time.Duration
	Executor *resilience.Executor
	Logger   *slog.Logger
}

func New(baseURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.Executor,
		logger:     logger,
	}
}

func (c *Client) Classify(ctx context.Context, req domain.ClassifyRequest) (domain.ClassifierResult, error) {
	if c.baseURL == "" {
		return domain.ClassifierResult{}, domain.WrapError(domain.ErrTemporary, "classify", errors.New("classifier url not configured"))
	}
	req.Text = truncateText(req.Text, maxTextBytes)

	var raw json.RawMessage
	err := c.execute(ctx, "classifier.classify", func(ctx context.Context) error {
		return c.postJSON(ctx, "/classify", req, &raw, "classify")
	})
	if err != nil {
		return domain.ClassifierResult{}, resilience.WrapTemporary("classify", err, nil)
	}

	result, err := decodeResult(raw)
	if err != nil {
		return domain.ClassifierResult{}, err
	}
	c.logger.Debug("classifier_result", "best_label", result.BestLabel, "best_score", result.BestScore)
	return result, nil
}

// SubmitTrainingSample uploads one text,label row as a CSV file.
func (c *Client) SubmitTrainingSample(ctx context.Context, text, label string) error {
	if c.baseURL == "" {
		return domain.WrapError(domain.ErrTemporary, "training sample", errors.New("classifier url not configured"))
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll([][]string{{"text", "label"}, {text, label}}); err != nil {
		return fmt.Errorf("encode training csv: %w", err)
	}

	err := c.execute(ctx, "classifier.training", func(ctx context.Context) error {
		return c.postFile(ctx, "/api/new_training_data", "training_sample.csv", "text/csv", buf.Bytes(), "training")
	})
	if err != nil {
		return resilience.WrapTemporary("training sample", err, nil)
	}
	return nil
}

func (c *Client) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.executor == nil {
		return fn(ctx)
	}
	return c.executor.Execute(ctx, operation, fn, resilience.ClassifyHTTPError)
}

func truncateText(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
