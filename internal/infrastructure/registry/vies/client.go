package vies

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/crospyder/ocr-core/internal/core/domain"
	"github.com/crospyder/ocr-core/internal/infrastructure/resilience"
)

const (
	serviceName = "vies"
	soapAction  = "urn:ec.europa.eu:taxud:vies:services:checkVat/checkVat"
	typesNS     = "urn:ec.europa.eu:taxud:vies:services:checkVat:types"
)

// Client calls the EU VIES checkVat SOAP service.
type Client struct {
	url        string
	httpClient *http.Client
	executor   *resilience.Executor
	logger     *slog.Logger
}

type Options struct {
	Timeout  time.Duration
	Executor *resilience.Executor
	Logger   *slog.Logger
}

func New(serviceURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:        serviceURL,
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.Executor,
		logger:     logger,
	}
}

type checkVatRequest struct {
	XMLName     xml.Name `xml:"urn:checkVat"`
	CountryCode string   `xml:"urn:countryCode"`
	VATNumber   string   `xml:"urn:vatNumber"`
}

type envelope struct {
	XMLName xml.Name `xml:"soapenv:Envelope"`
	SoapNS  string   `xml:"xmlns:soapenv,attr"`
	URNNS   string   `xml:"xmlns:urn,attr"`
	Header  struct{} `xml:"soapenv:Header"`
	Body    struct {
		Request checkVatRequest
	} `xml:"soapenv:Body"`
}

type responseEnvelope struct {
	Body struct {
		Response *checkVatResponse `xml:"checkVatResponse"`
		Fault    *soapFault        `xml:"Fault"`
	} `xml:"Body"`
}

type checkVatResponse struct {
	CountryCode string `xml:"countryCode"`
	VATNumber   string `xml:"vatNumber"`
	RequestDate string `xml:"requestDate"`
	Valid       bool   `xml:"valid"`
	Name        string `xml:"name"`
	Address     string `xml:"address"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

// CheckVAT validates countryCode+number. Service-side faults such as
// MS_UNAVAILABLE are reported as temporary failures.
func (c *Client) CheckVAT(ctx context.Context, countryCode, number string) (domain.VATCheck, error) {
	countryCode = strings.ToUpper(strings.TrimSpace(countryCode))
	number = strings.TrimSpace(number)
	if countryCode == "" || number == "" {
		return domain.VATCheck{}, domain.WrapError(domain.ErrInvalidInput, "vies check", errors.New("country code and number are required"))
	}
	if c.url == "" {
		return domain.VATCheck{}, domain.WrapError(domain.ErrTemporary, "vies check", errors.New("vies url not configured"))
	}

	payload, err := encodeRequest(countryCode, number)
	if err != nil {
		return domain.VATCheck{}, err
	}

	var raw []byte
	err = c.execute(ctx, "vies.check", func(ctx context.Context) error {
		body, err := c.post(ctx, payload)
		if err != nil {
			return err
		}
		raw = body
		return nil
	})
	if err != nil {
		return domain.VATCheck{}, resilience.WrapTemporary("vies check", err, nil)
	}

	check, err := decodeResponse(raw)
	if err != nil {
		return domain.VATCheck{}, err
	}
	c.logger.Debug("vies_check", "country", countryCode, "number", number, "valid", check.Valid)
	return check, nil
}

func (c *Client) post(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create vies request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", soapAction)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vies request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read vies response: %w", err)
	}
	// Faults arrive with HTTP 500 and still carry a readable envelope.
	if resp.StatusCode >= 300 && !bytes.Contains(body, []byte("Fault")) {
		return nil, &resilience.HTTPStatusError{
			Service:    serviceName,
			Operation:  "check",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       truncate(string(body), 2048),
		}
	}
	return body, nil
}

func encodeRequest(countryCode, number string) ([]byte, error) {
	env := envelope{
		SoapNS: "http://schemas.xmlsoap.org/soap/envelope/",
		URNNS:  typesNS,
	}
	env.Body.Request = checkVatRequest{CountryCode: countryCode, VATNumber: number}

	out, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode vies request: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func decodeResponse(raw []byte) (domain.VATCheck, error) {
	var env responseEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return domain.VATCheck{}, domain.WrapError(domain.ErrTemporary, "decode vies response", err)
	}
	if f := env.Body.Fault; f != nil {
		return domain.VATCheck{}, faultError(f)
	}
	r := env.Body.Response
	if r == nil {
		return domain.VATCheck{}, domain.WrapError(domain.ErrTemporary, "decode vies response", errors.New("no checkVatResponse in envelope"))
	}
	return domain.VATCheck{
		CountryCode: strings.TrimSpace(r.CountryCode),
		Number:      strings.TrimSpace(r.VATNumber),
		Valid:       r.Valid,
		Name:        strings.TrimSpace(r.Name),
		Address:     strings.TrimSpace(r.Address),
		RequestDate: strings.TrimSpace(r.RequestDate),
	}, nil
}

func faultError(f *soapFault) error {
	reason := strings.TrimSpace(f.String)
	err := fmt.Errorf("vies fault %s: %s", strings.TrimSpace(f.Code), reason)
	switch reason {
	case "INVALID_INPUT", "INVALID_REQUESTER_INFO":
		return domain.WrapError(domain.ErrInvalidInput, "vies check", err)
	default:
		// MS_UNAVAILABLE, TIMEOUT, SERVER_BUSY, MS_MAX_CONCURRENT_REQ and friends.
		return domain.WrapError(domain.ErrTemporary, "vies check", err)
	}
}

func (c *Client) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.executor == nil {
		return fn(ctx)
	}
	return c.executor.Execute(ctx, operation, fn, resilience.ClassifyHTTPError)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
