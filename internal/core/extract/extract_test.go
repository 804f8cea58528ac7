package extract

import (
	"testing"
	"time"

	"github.com/crospyder/ocr-core/internal/core/domain"
)

const operatorOIB = "10238889600"

var testOperator = domain.Operator{Name: "Spine ICT d.o.o.", TaxID: operatorOIB}

const sampleInvoice = `ACME d.o.o.
Ilica 10, 10000 Zagreb
OIB: 49528128847
Kupac: Spine ICT d.o.o.
OIB: 10238889600
Račun broj: 123/P1/1
Datum računa: 05.03.2024
Valuta: 20.03.2024
Ukupno za platiti: 1.234,56 EUR`

func mustDate(t *testing.T, y int, m time.Month, d int) time.Time {
	t.Helper()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseDateLocales(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"Zagreb, 5. ožujka 2024.", mustDate(t, 2024, time.March, 5)},
		{"1 siječanj 2023", mustDate(t, 2023, time.January, 1)},
		{"Issued 21st January 2024", mustDate(t, 2024, time.January, 21)},
		{"3 Sept 2022", mustDate(t, 2022, time.September, 3)},
		{"rok 15/01/2024", mustDate(t, 2024, time.January, 15)},
		{"datum 7.4.2024", mustDate(t, 2024, time.April, 7)},
	}
	for _, tc := range cases {
		got, ok := ParseDate(tc.in)
		if !ok {
			t.Fatalf("ParseDate(%q) found nothing", tc.in)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("ParseDate(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestParseDateRejectsImpossibleDates(t *testing.T) {
	for _, in := range []string{"31.02.2024", "00.01.2024", "12.13.2024", "no date here", ""} {
		if d, ok := ParseDate(in); ok {
			t.Fatalf("ParseDate(%q) = %s, expected none", in, d)
		}
	}
}

func TestIssueAndDueDatesUsesLabels(t *testing.T) {
	issue, due := IssueAndDueDates(sampleInvoice)
	if issue == nil || FormatDate(*issue) != "05.03.2024" {
		t.Fatalf("unexpected issue date %v", issue)
	}
	if due == nil || FormatDate(*due) != "20.03.2024" {
		t.Fatalf("unexpected due date %v", due)
	}
}

func TestIssueAndDueDatesLabelOnPreviousLine(t *testing.T) {
	issue, _ := IssueAndDueDates("Datum izdavanja:\n07.04.2024\nhvala")
	if issue == nil || FormatDate(*issue) != "07.04.2024" {
		t.Fatalf("unexpected issue date %v", issue)
	}
}

func TestIssueAndDueDatesSameLine(t *testing.T) {
	issue, due := IssueAndDueDates("Datum: 01.02.2024 Valuta: 15.02.2024")
	if issue == nil || FormatDate(*issue) != "01.02.2024" {
		t.Fatalf("unexpected issue date %v", issue)
	}
	if due == nil || FormatDate(*due) != "15.02.2024" {
		t.Fatalf("unexpected due date %v", due)
	}
}

func TestIssueAndDueDatesFallsBackToEarliestAndLatest(t *testing.T) {
	issue, due := IssueAndDueDates("Something 10.02.2024\nother 15.03.2024\nand 01.02.2024")
	if issue == nil || FormatDate(*issue) != "01.02.2024" {
		t.Fatalf("unexpected issue date %v", issue)
	}
	if due == nil || FormatDate(*due) != "15.03.2024" {
		t.Fatalf("unexpected due date %v", due)
	}
}

func TestIssueAndDueDatesEmptyText(t *testing.T) {
	issue, due := IssueAndDueDates("")
	if issue != nil || due != nil {
		t.Fatalf("expected no dates, got %v %v", issue, due)
	}
}

func TestTaxIDsFiltersChecksumAndOperator(t *testing.T) {
	text := "OIB 10238889600, OIB 12345678901, PDV ID HR49528128847, OIB 66609700583, 49528128847"
	got := TaxIDs(text, operatorOIB)
	want := []string{"49528128847", "66609700583"}
	if len(got) != len(want) {
		t.Fatalf("TaxIDs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("TaxIDs() = %v, want %v", got, want)
		}
	}
	if TaxID("nothing here") != "" {
		t.Fatalf("expected empty tax id")
	}
}

func TestVATNumbersValidatesCountryFormats(t *testing.T) {
	text := "VAT ID: ATU12345678\nOur VAT HR10238889600\nPartner SI 12345678\nbad DE12345678\nNL123456789B01"
	got := VATNumbers(text, "HR"+operatorOIB)
	want := []string{"ATU12345678", "SI12345678", "NL123456789B01"}
	if len(got) != len(want) {
		t.Fatalf("VATNumbers() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("VATNumbers() = %v, want %v", got, want)
		}
	}
}

func TestVATIgnoresIBAN(t *testing.T) {
	if v := VATNumber("IBAN HR1210010051863000160"); v != "" {
		t.Fatalf("expected no vat, got %q", v)
	}
}

func TestDocNumberPatternsInOrder(t *testing.T) {
	cases := map[string]string{
		"Račun 98/4505-2 od danas":   "98/4505-2",
		"Dokument BR-7781":           "BR-7781",
		"Ugovor UG 15":               "UG 15",
		"Datum 01/02/2024, broj 445": "broj 445",
		"bez broja":                  "",
	}
	for in, want := range cases {
		if got := DocNumber(in); got != want {
			t.Fatalf("DocNumber(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeAmount(t *testing.T) {
	cases := map[string]float64{
		"1.234,56":     1234.56,
		"1,234.56":     1234.56,
		"1234,56":      1234.56,
		"1 234,56 EUR": 1234.56,
		"12.5":         12.5,
		"1.234":        1234,
		"-45,10":       -45.10,
	}
	for in, want := range cases {
		got, ok := AmountValue(in)
		if !ok {
			t.Fatalf("AmountValue(%q) failed", in)
		}
		if got != want {
			t.Fatalf("AmountValue(%q) = %v, want %v", in, got, want)
		}
	}
	for _, in := range []string{"", "-", "abc"} {
		if _, ok := AmountValue(in); ok {
			t.Fatalf("AmountValue(%q) expected failure", in)
		}
	}
}

func TestAmountPrefersPayableTotal(t *testing.T) {
	text := "Iznos stavke 100,00\nUkupno: 200,00\nZa platiti: 250,00"
	if got := Amount(text); got != "250,00" {
		t.Fatalf("Amount() = %q", got)
	}
}

func TestCounterPartySkipsOperator(t *testing.T) {
	party, ok := CounterParty(sampleInvoice, testOperator.Name)
	if !ok {
		t.Fatalf("expected counter-party")
	}
	if party.Name != "ACME d.o.o." {
		t.Fatalf("unexpected name %q", party.Name)
	}
	if party.Address != "Ilica 10, 10000 Zagreb" {
		t.Fatalf("unexpected address %q", party.Address)
	}
}

func TestFoldIgnoresDiacriticsAndPunctuation(t *testing.T) {
	if Fold("ŠPINE-ICT  Đakovo") != "spineictdakovo" {
		t.Fatalf("unexpected fold %q", Fold("ŠPINE-ICT  Đakovo"))
	}
	if !MentionsName("Kupac: SPINE ICT d.o.o., Zagreb", "Spine ICT d.o.o.") {
		t.Fatalf("expected name match")
	}
	if !MentionsTaxID("OIB: 102 388 896 00", operatorOIB) {
		t.Fatalf("expected tax id match across separators")
	}
}

func TestDispatchFallsBackToDefault(t *testing.T) {
	cases := map[domain.DocumentType]string{
		domain.TypeIncomingInvoice: StrategyIncomingInvoice,
		domain.TypeOutgoingInvoice: StrategyOutgoingInvoice,
		domain.TypeStatement:       StrategyStatement,
		domain.TypeContract:        StrategyContract,
		domain.TypeOther:           StrategyDefault,
		domain.TypeUnknown:         StrategyDefault,
		"":                         StrategyDefault,
		"UNSOLVED":                 StrategyDefault,
		"SOMETHING_NEW":            StrategyDefault,
	}
	for docType, want := range cases {
		s := Dispatch(docType)
		if s.Name != want {
			t.Fatalf("Dispatch(%q) = %s, want %s", docType, s.Name, want)
		}
		if s.Parse == nil {
			t.Fatalf("Dispatch(%q) returned nil parser", docType)
		}
	}
}

func TestParseIncomingInvoice(t *testing.T) {
	res := ParserFor(domain.TypeIncomingInvoice)(Input{Text: sampleInvoice, Operator: testOperator})
	want := domain.FieldSet{
		domain.FieldTaxID:           "49528128847",
		domain.FieldDocNumber:       "123/P1/1",
		domain.FieldIssueDate:       "05.03.2024",
		domain.FieldDueDate:         "20.03.2024",
		domain.FieldAmount:          "1.234,56",
		domain.FieldSupplierName:    "ACME d.o.o.",
		domain.FieldSupplierAddress: "Ilica 10, 10000 Zagreb",
	}
	for k, v := range want {
		if got := res.Fields.Get(k); got != v {
			t.Fatalf("field %s = %q, want %q", k, got, v)
		}
	}
	if res.Source != domain.SourcePattern {
		t.Fatalf("unexpected source %s", res.Source)
	}
}

func TestParseOutgoingInvoiceSetsPartner(t *testing.T) {
	res := ParseOutgoingInvoice(Input{Text: sampleInvoice, Operator: testOperator})
	if res.Fields.Get(domain.FieldPartnerName) != "ACME d.o.o." {
		t.Fatalf("unexpected partner %q", res.Fields.Get(domain.FieldPartnerName))
	}
	if res.Fields.Get(domain.FieldDocNumber) != "123/P1/1" {
		t.Fatalf("unexpected doc number %q", res.Fields.Get(domain.FieldDocNumber))
	}
}

func TestParseStatement(t *testing.T) {
	text := "ZAGREBAČKA BANKA d.d.\nIzvod br. 45\nIBAN: HR1210010051863000160\nDatum izvoda: 31.01.2024\nNovo stanje: 12.500,00"
	res := ParseStatement(Input{Text: text, Operator: testOperator})
	if res.Fields.Get(domain.FieldDocNumber) != "Izvod br. 45" {
		t.Fatalf("unexpected statement number %q", res.Fields.Get(domain.FieldDocNumber))
	}
	if res.Fields.Get(domain.FieldIssueDate) != "31.01.2024" {
		t.Fatalf("unexpected date %q", res.Fields.Get(domain.FieldIssueDate))
	}
	if res.Fields.Has(domain.FieldDueDate) {
		t.Fatalf("statement should not carry a due date")
	}
	if res.Extra["closing_balance"] != "12.500,00" {
		t.Fatalf("unexpected balance %q", res.Extra["closing_balance"])
	}
	if res.Extra["iban"] != "HR1210010051863000160" {
		t.Fatalf("unexpected iban %q", res.Extra["iban"])
	}
	if res.Fields.Get(domain.FieldSupplierName) != "ZAGREBAČKA BANKA d.d." {
		t.Fatalf("unexpected bank %q", res.Fields.Get(domain.FieldSupplierName))
	}
}

func TestParseContract(t *testing.T) {
	text := "UGOVOR O DJELU\nUgovor br. UG-2024/17\nsklopljen dana 10.01.2024. između\nSpine ICT d.o.o., OIB 10238889600\ni\nKovač d.o.o., OIB 49528128847\nUgovor vrijedi do 31.12.2024."
	res := ParseContract(Input{Text: text, Operator: testOperator})
	if res.Fields.Get(domain.FieldDocNumber) != "UG-2024/17" {
		t.Fatalf("unexpected contract number %q", res.Fields.Get(domain.FieldDocNumber))
	}
	if res.Fields.Get(domain.FieldIssueDate) != "10.01.2024" {
		t.Fatalf("unexpected signing date %q", res.Fields.Get(domain.FieldIssueDate))
	}
	if res.Fields.Get(domain.FieldDueDate) != "31.12.2024" {
		t.Fatalf("unexpected expiry %q", res.Fields.Get(domain.FieldDueDate))
	}
	if res.Fields.Get(domain.FieldSupplierName) != "Kovač d.o.o." {
		t.Fatalf("unexpected counter-party %q", res.Fields.Get(domain.FieldSupplierName))
	}
	if res.Fields.Get(domain.FieldTaxID) != "49528128847" {
		t.Fatalf("unexpected tax id %q", res.Fields.Get(domain.FieldTaxID))
	}
}
