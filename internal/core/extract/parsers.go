package extract

import (
	"regexp"
	"strings"

	"github.com/crospyder/ocr-core/internal/core/domain"
)

var (
	metaKeywords = []string{
		"račun", "faktura", "datum", "broj", "oib", "ukupno", "stranica", "fiskalizacija",
		"pdv", "osnivač", "temeljni kapital", "sud", "registar", "skladište", "napomena",
		"stranka", "ponuda", "ugovor", "izvod", "društvo je upisano", "uprava",
	}
	titleSkipWords      = []string{"račun", "faktura", "ponuda", "izvod", "ugovor"}
	titleDatePattern    = regexp.MustCompile(`\d{1,2}[./]\d{1,2}[./]\d{2,4}`)
	titleAmountPattern  = regexp.MustCompile(`\d{1,3}[.,]\d{2}`)
	statementNoPattern  = regexp.MustCompile(`(?i)\bizvod\s*(?:br\.?|broj)?\s*[:#]?\s*(\d{1,6}(?:/\d{2,4})?)`)
	closingBalance      = regexp.MustCompile(`(?i)(novo stanje|završno stanje|closing balance)[^\d\n-]{0,30}(-?\d{1,3}(?:[.\s]\d{3})*,\d{2}|-?\d+[.,]\d{2})`)
	ibanPattern         = regexp.MustCompile(`\b[A-Z]{2}\d{2}(?:\s?[A-Z0-9]{4}){3,7}(?:\s?[A-Z0-9]{1,3})?\b`)
	contractNoPattern   = regexp.MustCompile(`(?i)\bugovor[a-z]*\s+(?:br\.?|broj)\s*[:#]?\s*([A-Z0-9][A-Z0-9\-/.]*[A-Z0-9])`)
	contractSignPattern = regexp.MustCompile(`(?i)(sklopljen[a-z]*|potpisan[a-z]*|zaključen[a-z]*)(?:\s+dana)?`)
	contractEndPattern  = regexp.MustCompile(`(?i)(vrijedi do|na snazi do|traje do|istječe)`)
	invoiceNoPattern    = regexp.MustCompile(`(?i)(?:broj ra[čc]una|ra[čc]un broj|ra[čc]un br(?:\.|\b)|invoice (?:no\.?|number))\s*[:#]?\s*([A-Z0-9][A-Z0-9\-/]*)`)
)

// splitMetaContent separates boilerplate lines (headers, legal footers)
// from body lines.
func splitMetaContent(text string) (meta, content []string) {
	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(strings.TrimSpace(line))
		isMeta := false
		for _, kw := range metaKeywords {
			if strings.Contains(lower, kw) {
				isMeta = true
				break
			}
		}
		if isMeta {
			meta = append(meta, line)
		} else {
			content = append(content, line)
		}
	}
	return meta, content
}

func titleCandidate(content []string) string {
	for _, line := range content {
		lower := strings.ToLower(line)
		skip := false
		for _, w := range titleSkipWords {
			if strings.Contains(lower, w) {
				skip = true
				break
			}
		}
		if skip || titleDatePattern.MatchString(line) || titleAmountPattern.MatchString(line) {
			continue
		}
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return ""
}

func operatorExclusions(op domain.Operator) (taxIDs, vats, names []string) {
	if op.TaxID != "" {
		taxIDs = append(taxIDs, op.TaxID)
		vats = append(vats, op.VATNumber())
	}
	if op.Name != "" {
		names = append(names, op.Name)
	}
	return taxIDs, vats, names
}

// parseCommon fills the fields every document type shares.
func parseCommon(in Input, docType domain.DocumentType) domain.ExtractionResult {
	taxIDs, vats, names := operatorExclusions(in.Operator)
	res := domain.ExtractionResult{
		Source: domain.SourcePattern,
		Type:   docType,
		Fields: domain.FieldSet{},
		Extra:  map[string]string{},
	}

	res.Fields.Set(domain.FieldTaxID, TaxID(in.Text, taxIDs...))
	res.Fields.Set(domain.FieldVATNumber, VATNumber(in.Text, vats...))
	res.Fields.Set(domain.FieldDocNumber, DocNumber(in.Text))

	_, content := splitMetaContent(in.Text)
	amount := Amount(strings.Join(content, "\n"))
	if amount == "" {
		amount = Amount(in.Text)
	}
	res.Fields.Set(domain.FieldAmount, amount)

	issue, due := IssueAndDueDates(in.Text)
	if issue != nil {
		res.Fields.Set(domain.FieldIssueDate, FormatDate(*issue))
	}
	if due != nil {
		res.Fields.Set(domain.FieldDueDate, FormatDate(*due))
	}

	if party, ok := CounterParty(in.Text, names...); ok {
		res.Fields.Set(domain.FieldSupplierName, party.Name)
		res.Fields.Set(domain.FieldSupplierAddress, party.Address)
	}
	if title := titleCandidate(content); title != "" {
		res.Extra["title"] = title
	}
	return res
}

// ParseIncomingInvoice reads a supplier invoice.
func ParseIncomingInvoice(in Input) domain.ExtractionResult {
	return parseCommon(in, domain.TypeIncomingInvoice)
}

// ParseOutgoingInvoice reads an invoice issued by the operator. The
// counter-party is the customer, so the name also fills partner_name.
func ParseOutgoingInvoice(in Input) domain.ExtractionResult {
	res := parseCommon(in, domain.TypeOutgoingInvoice)
	if m := invoiceNoPattern.FindStringSubmatch(in.Text); m != nil {
		res.Fields[domain.FieldDocNumber] = strings.TrimSpace(m[1])
	}
	res.Fields.Set(domain.FieldPartnerName, res.Fields.Get(domain.FieldSupplierName))
	return res
}

// ParseStatement reads a bank statement: statement number, statement date,
// closing balance and account IBAN. Statements carry no due date.
func ParseStatement(in Input) domain.ExtractionResult {
	res := parseCommon(in, domain.TypeStatement)
	delete(res.Fields, domain.FieldDueDate)
	delete(res.Fields, domain.FieldAmount)

	if m := statementNoPattern.FindStringSubmatch(in.Text); m != nil {
		res.Fields[domain.FieldDocNumber] = strings.TrimSpace(m[0])
		res.Extra["statement_number"] = m[1]
	}
	if m := closingBalance.FindAllStringSubmatch(in.Text, -1); len(m) > 0 {
		res.Fields.Set(domain.FieldAmount, m[len(m)-1][2])
		res.Extra["closing_balance"] = m[len(m)-1][2]
	}
	if iban := ibanPattern.FindString(in.Text); iban != "" {
		res.Extra["iban"] = strings.ReplaceAll(iban, " ", "")
	}
	return res
}

// ParseContract reads a contract: contract number, signing date as the
// issue date and the expiry date as the due date when one is stated.
func ParseContract(in Input) domain.ExtractionResult {
	res := parseCommon(in, domain.TypeContract)
	delete(res.Fields, domain.FieldIssueDate)
	delete(res.Fields, domain.FieldDueDate)

	if m := contractNoPattern.FindStringSubmatch(in.Text); m != nil {
		res.Fields[domain.FieldDocNumber] = strings.TrimSpace(m[1])
	}
	if d, ok := dateAfterLabel(in.Text, contractSignPattern); ok {
		res.Fields.Set(domain.FieldIssueDate, d)
	} else if issue, _ := IssueAndDueDates(in.Text); issue != nil {
		res.Fields.Set(domain.FieldIssueDate, FormatDate(*issue))
	}
	if d, ok := dateAfterLabel(in.Text, contractEndPattern); ok {
		res.Fields.Set(domain.FieldDueDate, d)
	}
	return res
}

func dateAfterLabel(text string, label *regexp.Regexp) (string, bool) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		loc := label.FindStringIndex(line)
		if loc == nil {
			continue
		}
		next := ""
		if i+1 < len(lines) {
			next = lines[i+1]
		}
		if d, ok := dateAfter(line[loc[1]:], next); ok {
			return FormatDate(d), true
		}
	}
	return "", false
}
