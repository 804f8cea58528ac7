package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// DocumentType is the closed set of document categories the pipeline knows.
type DocumentType string

const (
	TypeIncomingInvoice DocumentType = "URA"
	TypeOutgoingInvoice DocumentType = "IRA"
	TypeStatement       DocumentType = "IZVOD"
	TypeContract        DocumentType = "UGOVOR"
	TypeOther           DocumentType = "OSTALO"
	TypeUnknown         DocumentType = "NEPOZNATO"
	// TypeDeleted marks a soft-deleted record.
	TypeDeleted DocumentType = "OBRISANO"
)

// ParseDocumentType normalizes free-form labels. Unrecognized labels keep
// their upper-cased value so that callers can still route them through the
// default parser.
func ParseDocumentType(label string) DocumentType {
	v := strings.ToUpper(strings.TrimSpace(label))
	switch v {
	case "":
		return ""
	case "INCOMING", "INCOMING_INVOICE", "ULAZNI", "ULAZNI_RACUN":
		return TypeIncomingInvoice
	case "OUTGOING", "OUTGOING_INVOICE", "IZLAZNI", "IZLAZNI_RACUN":
		return TypeOutgoingInvoice
	case "STATEMENT", "BANK_STATEMENT":
		return TypeStatement
	case "CONTRACT":
		return TypeContract
	case "OTHER", "EMAIL-PRILOG":
		return TypeOther
	case "UNKNOWN", "UNSOLVED":
		return TypeUnknown
	}
	return DocumentType(v)
}

// IdentityBearing reports whether documents of this type must mention the operator.
func (t DocumentType) IdentityBearing() bool {
	switch t {
	case TypeIncomingInvoice, TypeOutgoingInvoice, TypeStatement:
		return true
	default:
		return false
	}
}

type IngestStatus string

const (
	StatusOK        IngestStatus = "OK"
	StatusFailed    IngestStatus = "FAILED"
	StatusDuplicate IngestStatus = "DUPLICATE"
)

// RawDocument is the immutable upload as seen before any extraction.
type RawDocument struct {
	ContentHash    string    `json:"content_hash"`
	Text           string    `json:"text"`
	Filename       string    `json:"filename"`
	StoredFilename string    `json:"stored_filename"`
	UploadedAt     time.Time `json:"uploaded_at"`
}

// Document is the canonical, durable record of a processed upload.
type Document struct {
	ID               int64            `json:"id"`
	ContentHash      string           `json:"content_hash"`
	Filename         string           `json:"filename"`
	StoredFilename   string           `json:"stored_filename"`
	Type             DocumentType     `json:"document_type"`
	CounterPartyID   *int64           `json:"counterparty_id,omitempty"`
	CounterPartyName string           `json:"counterparty_name,omitempty"`
	TaxID            string           `json:"oib,omitempty"`
	VATNumber        string           `json:"vat_number,omitempty"`
	DocNumber        string           `json:"doc_number,omitempty"`
	IssueDate        *time.Time       `json:"issue_date,omitempty"`
	DueDate          *time.Time       `json:"due_date,omitempty"`
	Amount           *float64         `json:"amount,omitempty"`
	RawText          string           `json:"raw_text"`
	RegistryPayload  json.RawMessage  `json:"registry_payload,omitempty"`
	Structured       StructuredFields `json:"structured"`
	Excluded         bool             `json:"excluded"`
	UploadedAt       time.Time        `json:"uploaded_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Record is the read model returned to callers.
type Record struct {
	Document     *Document     `json:"document"`
	Annotation   FieldSet      `json:"annotation"`
	CounterParty *CounterParty `json:"counterparty,omitempty"`
}

// FileResult is the per-file outcome of an ingestion batch.
type FileResult struct {
	Filename   string       `json:"filename"`
	Status     IngestStatus `json:"status"`
	ID         int64        `json:"id,omitempty"`
	ExistingID int64        `json:"existing_id,omitempty"`
	Type       DocumentType `json:"document_type,omitempty"`
	Fields     FieldSet     `json:"fields,omitempty"`
	Alerts     []string     `json:"alerts,omitempty"`
	Error      string       `json:"error,omitempty"`
}

type BatchResult struct {
	BatchID string       `json:"batch_id"`
	Files   []FileResult `json:"files"`
}

type ReprocessError struct {
	DocumentID int64  `json:"document_id"`
	Error      string `json:"error"`
}

type ReprocessSummary struct {
	Updated int              `json:"updated"`
	Errors  []ReprocessError `json:"errors"`
	Total   int              `json:"total"`
}
