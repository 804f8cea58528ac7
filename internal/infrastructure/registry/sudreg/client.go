package sudreg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/crospyder/ocr-core/internal/core/domain"
	"github.com/crospyder/ocr-core/internal/infrastructure/resilience"
)

const (
	serviceName = "sudreg"
	// tokenSkew renews the token shortly before the server expires it.
	tokenSkew = 30 * time.Second
)

// Client queries the Croatian court register for company details. Requests
// carry an OAuth2 client-credentials token.
type Client struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
	tokens     *tokenSource
	executor   *resilience.Executor
	logger     *slog.Logger
}

type Options struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	Executor     *resilience.Executor
	Logger       *slog.Logger
}

func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := &http.Client{Timeout: timeout}
	tokens := &tokenSource{
		credentials: clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     opts.TokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		ctx: context.WithValue(context.Background(), oauth2.HTTPClient, base),
	}
	tokens.reset()

	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		clientID: opts.ClientID,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &oauth2.Transport{Source: tokens, Base: base.Transport},
		},
		tokens:   tokens,
		executor: opts.Executor,
		logger:   logger,
	}
}

// tokenSource caches client-credentials tokens and can drop the cached one
// when the register rejects it before its expiry.
type tokenSource struct {
	credentials clientcredentials.Config
	ctx         context.Context

	mu  sync.Mutex
	src oauth2.TokenSource
}

func (t *tokenSource) Token() (*oauth2.Token, error) {
	t.mu.Lock()
	src := t.src
	t.mu.Unlock()
	return src.Token()
}

func (t *tokenSource) reset() {
	src := oauth2.ReuseTokenSourceWithExpiry(nil, t.credentials.TokenSource(t.ctx), tokenSkew)
	t.mu.Lock()
	t.src = src
	t.mu.Unlock()
}

// LookupByTaxID returns the registered company for an OIB. An unknown OIB is
// domain.ErrCounterPartyNotFound.
func (c *Client) LookupByTaxID(ctx context.Context, taxID string) (*domain.RegistryCompany, error) {
	taxID = strings.TrimSpace(taxID)
	if taxID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "sudreg lookup", errors.New("empty oib"))
	}
	if c.baseURL == "" || c.clientID == "" {
		return nil, domain.WrapError(domain.ErrTemporary, "sudreg lookup", errors.New("registry credentials not configured"))
	}

	var raw []byte
	err := c.execute(ctx, "sudreg.lookup", func(ctx context.Context) error {
		body, err := c.fetchSubject(ctx, taxID)
		if err != nil {
			return err
		}
		raw = body
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrCounterPartyNotFound) {
			return nil, err
		}
		return nil, resilience.WrapTemporary("sudreg lookup", err, nil)
	}

	company, err := decodeSubject(raw)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "decode sudreg subject", err)
	}
	if company.TaxID == "" {
		company.TaxID = taxID
	}
	c.logger.Debug("sudreg_lookup_hit", "oib", taxID, "name", company.DisplayName())
	return company, nil
}

func (c *Client) fetchSubject(ctx context.Context, taxID string) ([]byte, error) {
	q := url.Values{}
	q.Set("identifikator", taxID)
	q.Set("tipIdentifikatora", "oib")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/javni/v1/subjekt_detalji?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create sudreg request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, tokenError(retrieveErr)
		}
		return nil, fmt.Errorf("sudreg request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.WrapError(domain.ErrCounterPartyNotFound, "sudreg lookup", fmt.Errorf("oib %s", taxID))
	case resp.StatusCode == http.StatusUnauthorized:
		c.tokens.reset()
		return nil, resilience.NewHTTPStatusError(serviceName, "lookup", resp)
	case resp.StatusCode >= 300:
		return nil, resilience.NewHTTPStatusError(serviceName, "lookup", resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read sudreg response: %w", err)
	}
	return body, nil
}

// tokenError turns a rejected token request into a status error, so that bad
// credentials are not retried like a network failure.
func tokenError(err *oauth2.RetrieveError) error {
	statusErr := &resilience.HTTPStatusError{
		Service:    serviceName,
		Operation:  "token",
		StatusCode: http.StatusBadGateway,
		Status:     http.StatusText(http.StatusBadGateway),
		Body:       err.Error(),
	}
	if err.Response != nil {
		statusErr.StatusCode = err.Response.StatusCode
		statusErr.Status = err.Response.Status
		statusErr.Body = string(err.Body)
	}
	return statusErr
}

func (c *Client) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.executor == nil {
		return fn(ctx)
	}
	return c.executor.Execute(ctx, operation, fn, classifyLookupError)
}

// classifyLookupError keeps a registry miss out of the retry loop and retries
// once more after an expired token was dropped.
func classifyLookupError(err error) resilience.ErrorClassification {
	if errors.Is(err, domain.ErrCounterPartyNotFound) {
		return resilience.ErrorClassification{}
	}
	var statusErr *resilience.HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized && statusErr.Operation == "lookup" {
		return resilience.ErrorClassification{Retryable: true}
	}
	return resilience.ClassifyHTTPError(err)
}
