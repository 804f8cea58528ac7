package domain

import "strings"

// Field is an annotation key. The string values are the keys persisted in
// the annotation mirror and must stay stable.
type Field string

const (
	FieldDocumentType    Field = "document_type"
	FieldTaxID           Field = "oib"
	FieldVATNumber       Field = "vat_number"
	FieldDocNumber       Field = "invoice_number"
	FieldIssueDate       Field = "date_invoice"
	FieldDueDate         Field = "date_valute"
	FieldAmount          Field = "amount_total"
	FieldSupplierName    Field = "supplier_name"
	FieldSupplierAddress Field = "supplier_address"
	FieldPartnerName     Field = "partner_name"
)

// KnownFields lists every reconciled field in a stable order.
var KnownFields = []Field{
	FieldDocumentType,
	FieldTaxID,
	FieldVATNumber,
	FieldDocNumber,
	FieldIssueDate,
	FieldDueDate,
	FieldAmount,
	FieldSupplierName,
	FieldSupplierAddress,
	FieldPartnerName,
}

func IsKnownField(f Field) bool {
	for _, known := range KnownFields {
		if known == f {
			return true
		}
	}
	return false
}

// FieldSet maps fields to their textual value. Dates use dd.mm.yyyy.
type FieldSet map[Field]string

// Get returns the trimmed value; an absent key and a blank value are equivalent.
func (fs FieldSet) Get(f Field) string {
	if fs == nil {
		return ""
	}
	return strings.TrimSpace(fs[f])
}

func (fs FieldSet) Has(f Field) bool {
	return fs.Get(f) != ""
}

// Set stores non-empty values only.
func (fs FieldSet) Set(f Field, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	fs[f] = value
}

func (fs FieldSet) Clone() FieldSet {
	out := make(FieldSet, len(fs))
	for k, v := range fs {
		out[k] = v
	}
	return out
}

// Source tags where an extracted value came from.
type Source string

const (
	SourceAnnotation Source = "annotation"
	SourceClassifier Source = "classifier"
	SourcePattern    Source = "pattern"
	SourceHeuristic  Source = "heuristic"
	SourceRegistry   Source = "registry"
)

// ExtractionResult is the transient output of one extraction source.
type ExtractionResult struct {
	Source Source       `json:"source"`
	Type   DocumentType `json:"document_type,omitempty"`
	Score  float64      `json:"score,omitempty"`
	Fields FieldSet     `json:"fields"`
	// Extra carries parser-specific values that have no canonical column.
	Extra map[string]string `json:"extra,omitempty"`
}

const StructuredFieldsVersion = 1

// StructuredFields is the versioned blob persisted next to the canonical
// columns. It is decoded once at the repository boundary.
type StructuredFields struct {
	Version        int               `json:"version"`
	Classification Classification    `json:"classification"`
	Classifier     map[string]any    `json:"classifier,omitempty"`
	Pattern        FieldSet          `json:"pattern,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
	Sources        map[Field]Source  `json:"sources,omitempty"`
	Alerts         []string          `json:"alerts,omitempty"`
}
