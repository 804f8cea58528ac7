package usecase

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/crospyder/ocr-core/internal/core/domain"
	"github.com/crospyder/ocr-core/internal/core/extract"
)

// classifierFieldKeys maps parsed_fields keys of the classifier to
// annotation fields. Earlier keys win when several map to one field.
var classifierFieldKeys = []struct {
	key   string
	field domain.Field
}{
	{"oib", domain.FieldTaxID},
	{"vat_number", domain.FieldVATNumber},
	{"invoice_number", domain.FieldDocNumber},
	{"date_issued", domain.FieldIssueDate},
	{"due_date", domain.FieldDueDate},
	{"amount", domain.FieldAmount},
	{"total", domain.FieldAmount},
	{"iznos", domain.FieldAmount},
	{"amount_total", domain.FieldAmount},
	{"supplier_name", domain.FieldSupplierName},
}

// columnMapping is the single table used to copy annotation fields into
// canonical columns, both on reconciliation and on manual edits.
var columnMapping = []struct {
	field domain.Field
	apply func(doc *domain.Document, value string)
}{
	{domain.FieldDocumentType, func(doc *domain.Document, v string) {
		if t := domain.ParseDocumentType(v); t != "" {
			doc.Type = t
		}
	}},
	{domain.FieldTaxID, func(doc *domain.Document, v string) { doc.TaxID = v }},
	{domain.FieldVATNumber, func(doc *domain.Document, v string) { doc.VATNumber = extract.NormalizeVAT(v) }},
	{domain.FieldDocNumber, func(doc *domain.Document, v string) { doc.DocNumber = v }},
	{domain.FieldIssueDate, func(doc *domain.Document, v string) { doc.IssueDate = parseDateColumn(v) }},
	{domain.FieldDueDate, func(doc *domain.Document, v string) { doc.DueDate = parseDateColumn(v) }},
	{domain.FieldAmount, func(doc *domain.Document, v string) { doc.Amount = parseAmountColumn(v) }},
	{domain.FieldSupplierName, func(doc *domain.Document, v string) { doc.CounterPartyName = v }},
}

// ApplyColumns syncs the canonical columns of doc with fields. Absent
// fields clear their column; the document type is kept when absent.
func ApplyColumns(doc *domain.Document, fields domain.FieldSet) {
	for _, m := range columnMapping {
		m.apply(doc, fields.Get(m.field))
	}
}

func parseDateColumn(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, ok := extract.ParseFieldDate(v)
	if !ok {
		return nil
	}
	return &t
}

func parseAmountColumn(v string) *float64 {
	if v == "" {
		return nil
	}
	f, ok := extract.AmountValue(v)
	if !ok {
		return nil
	}
	return &f
}

// MergeInput gathers every source the reconciler ranks.
type MergeInput struct {
	Annotation     domain.FieldSet
	Classification domain.Classification
	Classifier     domain.FieldSet
	Pattern        domain.FieldSet
	Entity         domain.EntityResolution
}

// Merge ranks sources per field: annotation, then the resolved
// counter-party for name and address, then classifier, then pattern.
// Placeholder names only fill an otherwise empty supplier name.
func Merge(in MergeInput) (domain.FieldSet, map[domain.Field]domain.Source) {
	out := domain.FieldSet{}
	sources := make(map[domain.Field]domain.Source)

	pick := func(f domain.Field, candidates ...sourced) {
		for _, c := range candidates {
			if v := strings.TrimSpace(c.value); v != "" {
				out[f] = v
				sources[f] = c.source
				return
			}
		}
	}

	docType := string(in.Classification.Type)
	pick(domain.FieldDocumentType,
		sourced{in.Annotation.Get(domain.FieldDocumentType), domain.SourceAnnotation},
		sourced{docType, classificationSource(in.Classification)},
	)

	entityName, entityAddress := "", ""
	if !in.Entity.Placeholder {
		entityName, entityAddress = in.Entity.Name, in.Entity.Address
	}
	for _, f := range domain.KnownFields {
		switch f {
		case domain.FieldDocumentType, domain.FieldPartnerName:
			continue
		case domain.FieldSupplierName:
			pick(f,
				sourced{in.Annotation.Get(f), domain.SourceAnnotation},
				sourced{entityName, domain.SourceRegistry},
				sourced{in.Classifier.Get(f), domain.SourceClassifier},
				sourced{in.Pattern.Get(f), domain.SourcePattern},
			)
			if !out.Has(f) && in.Entity.Placeholder {
				pick(f, sourced{in.Entity.Name, domain.SourceHeuristic})
			}
		case domain.FieldSupplierAddress:
			pick(f,
				sourced{in.Annotation.Get(f), domain.SourceAnnotation},
				sourced{entityAddress, domain.SourceRegistry},
				sourced{in.Classifier.Get(f), domain.SourceClassifier},
				sourced{in.Pattern.Get(f), domain.SourcePattern},
			)
		default:
			pick(f,
				sourced{in.Annotation.Get(f), domain.SourceAnnotation},
				sourced{in.Classifier.Get(f), domain.SourceClassifier},
				sourced{in.Pattern.Get(f), domain.SourcePattern},
			)
		}
	}

	if domain.ParseDocumentType(out.Get(domain.FieldDocumentType)) == domain.TypeOutgoingInvoice {
		pick(domain.FieldPartnerName,
			sourced{in.Annotation.Get(domain.FieldPartnerName), domain.SourceAnnotation},
			sourced{out.Get(domain.FieldSupplierName), sources[domain.FieldSupplierName]},
		)
	} else if v := in.Annotation.Get(domain.FieldPartnerName); v != "" {
		out[domain.FieldPartnerName] = v
		sources[domain.FieldPartnerName] = domain.SourceAnnotation
	}
	return out, sources
}

type sourced struct {
	value  string
	source domain.Source
}

func classificationSource(c domain.Classification) domain.Source {
	if c.Heuristic != "" || c.Degraded {
		return domain.SourceHeuristic
	}
	return domain.SourceClassifier
}

// ClassifierFields converts the classifier's parsed_fields into annotation
// fields. Identifiers that fail validation or belong to the operator are
// dropped, dates are normalized and unparsable dates dropped.
func ClassifierFields(parsed map[string]any, operator domain.Operator) domain.FieldSet {
	out := domain.FieldSet{}
	for _, m := range classifierFieldKeys {
		if out.Has(m.field) {
			continue
		}
		raw, ok := parsed[m.key]
		if !ok || raw == nil {
			continue
		}
		out.Set(m.field, stringifyParsed(raw))
	}

	if v := out.Get(domain.FieldTaxID); v != "" {
		if valid := extract.ValidCounterPartyTaxID(v, operator.TaxID); valid != "" {
			out[domain.FieldTaxID] = valid
		} else {
			delete(out, domain.FieldTaxID)
		}
	}
	if v := out.Get(domain.FieldVATNumber); v != "" {
		norm := extract.NormalizeVAT(v)
		if !extract.ValidVATFormat(norm) || norm == operator.VATNumber() {
			delete(out, domain.FieldVATNumber)
		} else {
			out[domain.FieldVATNumber] = norm
		}
	}
	for _, f := range []domain.Field{domain.FieldIssueDate, domain.FieldDueDate} {
		if v := out.Get(f); v != "" {
			if t, ok := extract.ParseFieldDate(v); ok {
				out[f] = extract.FormatDate(t)
			} else {
				delete(out, f)
			}
		}
	}
	if name := out.Get(domain.FieldSupplierName); name != "" && operator.Name != "" &&
		extract.FoldName(name) == extract.FoldName(operator.Name) {
		delete(out, domain.FieldSupplierName)
	}
	return out
}

func stringifyParsed(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
