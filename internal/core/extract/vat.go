package extract

import (
	"regexp"
	"strings"
)

// vatFormats holds the national VAT number layouts for EU member states,
// country prefix included.
var vatFormats = map[string]*regexp.Regexp{
	"AT": regexp.MustCompile(`^ATU\d{8}$`),
	"BE": regexp.MustCompile(`^BE[01]\d{9}$`),
	"BG": regexp.MustCompile(`^BG\d{9,10}$`),
	"CY": regexp.MustCompile(`^CY\d{8}[A-Z]$`),
	"CZ": regexp.MustCompile(`^CZ\d{8,10}$`),
	"DE": regexp.MustCompile(`^DE\d{9}$`),
	"DK": regexp.MustCompile(`^DK\d{8}$`),
	"EE": regexp.MustCompile(`^EE\d{9}$`),
	"EL": regexp.MustCompile(`^EL\d{9}$`),
	"ES": regexp.MustCompile(`^ES[A-Z0-9]\d{7}[A-Z0-9]$`),
	"FI": regexp.MustCompile(`^FI\d{8}$`),
	"FR": regexp.MustCompile(`^FR[A-HJ-NP-Z0-9]{2}\d{9}$`),
	"HR": regexp.MustCompile(`^HR\d{11}$`),
	"HU": regexp.MustCompile(`^HU\d{8}$`),
	"IE": regexp.MustCompile(`^IE(\d{7}[A-W][A-I]?|\d[A-Z+*]\d{5}[A-W])$`),
	"IT": regexp.MustCompile(`^IT\d{11}$`),
	"LT": regexp.MustCompile(`^LT(\d{9}|\d{12})$`),
	"LU": regexp.MustCompile(`^LU\d{8}$`),
	"LV": regexp.MustCompile(`^LV\d{11}$`),
	"MT": regexp.MustCompile(`^MT\d{8}$`),
	"NL": regexp.MustCompile(`^NL\d{9}B\d{2}$`),
	"PL": regexp.MustCompile(`^PL\d{10}$`),
	"PT": regexp.MustCompile(`^PT\d{9}$`),
	"RO": regexp.MustCompile(`^RO\d{2,10}$`),
	"SE": regexp.MustCompile(`^SE\d{12}$`),
	"SI": regexp.MustCompile(`^SI\d{8}$`),
	"SK": regexp.MustCompile(`^SK\d{10}$`),
}

var vatCandidatePattern = regexp.MustCompile(`(?i)\b(AT|BE|BG|CY|CZ|DE|DK|EE|EL|ES|FI|FR|HR|HU|IE|IT|LT|LU|LV|MT|NL|PL|PT|RO|SE|SI|SK)[ ]?([0-9A-Z+*]{7,12})\b`)

// NormalizeVAT upper-cases a VAT number and removes spaces, dots and dashes.
func NormalizeVAT(v string) string {
	v = strings.ToUpper(strings.TrimSpace(v))
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '.', '-':
			return -1
		}
		return r
	}, v)
}

// ValidVATFormat reports whether v matches its country's layout.
func ValidVATFormat(v string) bool {
	v = NormalizeVAT(v)
	if len(v) < 4 {
		return false
	}
	format, ok := vatFormats[v[:2]]
	return ok && format.MatchString(v)
}

// SplitVAT returns the country prefix and the national part.
func SplitVAT(v string) (country, number string) {
	v = NormalizeVAT(v)
	if len(v) < 3 {
		return "", v
	}
	return v[:2], v[2:]
}

// VATNumbers returns every well-formed EU VAT number in text, excluding the given values.
func VATNumbers(text string, exclude ...string) []string {
	skip := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		if e != "" {
			skip[NormalizeVAT(e)] = struct{}{}
		}
	}
	var out []string
	for _, m := range vatCandidatePattern.FindAllStringSubmatch(text, -1) {
		candidate := NormalizeVAT(m[1] + m[2])
		if !ValidVATFormat(candidate) {
			continue
		}
		if _, ok := skip[candidate]; ok {
			continue
		}
		skip[candidate] = struct{}{}
		out = append(out, candidate)
	}
	return out
}

// VATNumber returns the first counter-party VAT number, or "".
func VATNumber(text string, exclude ...string) string {
	all := VATNumbers(text, exclude...)
	if len(all) == 0 {
		return ""
	}
	return all[0]
}
