package extract

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	amountLabelPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(sveukupno|ukupno za platiti|za platiti|za uplatu|amount due|total due)[^\d\n-]{0,30}(-?\d{1,3}(?:[.\s]\d{3})*,\d{2}|-?\d{1,3}(?:,\d{3})*\.\d{2}|-?\d+[.,]\d{2})`),
		regexp.MustCompile(`(?i)(ukupno|iznos|total)[^\d\n-]{0,30}(-?\d{1,3}(?:[.\s]\d{3})*,\d{2}|-?\d{1,3}(?:,\d{3})*\.\d{2}|-?\d+[.,]\d{2})`),
	}
	amountNoisePattern = regexp.MustCompile(`[^0-9.,\-]`)
)

// Amount returns the labelled document total as written, or "". Within a
// label group the last occurrence wins since totals close the document.
func Amount(text string) string {
	for _, pattern := range amountLabelPatterns {
		matches := pattern.FindAllStringSubmatch(text, -1)
		if len(matches) == 0 {
			continue
		}
		return strings.TrimSpace(matches[len(matches)-1][2])
	}
	return ""
}

// NormalizeAmount turns "1.234,56", "1,234.56", "1234,56" or "1234.56 EUR"
// into a decimal value. Unparseable input yields false.
func NormalizeAmount(raw string) (decimal.Decimal, bool) {
	s := amountNoisePattern.ReplaceAllString(strings.TrimSpace(raw), "")
	if s == "" || s == "-" {
		return decimal.Decimal{}, false
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 || len(s)-lastDot-1 == 3 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// AmountValue is NormalizeAmount rounded to cents as a float.
func AmountValue(raw string) (float64, bool) {
	d, ok := NormalizeAmount(raw)
	if !ok {
		return 0, false
	}
	f, _ := d.Round(2).Float64()
	return f, true
}
