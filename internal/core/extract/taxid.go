package extract

import (
	"regexp"
	"sort"

	"github.com/crospyder/ocr-core/internal/core/oib"
)

var (
	taxIDPattern      = regexp.MustCompile(`\b\d{11}\b`)
	taxIDInVATPattern = regexp.MustCompile(`(?i)\bHR\s?(\d{11})\b`)
)

// TaxIDs returns every checksum-valid OIB in text, in order of appearance,
// without duplicates and without the excluded values.
func TaxIDs(text string, exclude ...string) []string {
	seen := make(map[string]struct{})
	for _, e := range exclude {
		if e != "" {
			seen[e] = struct{}{}
		}
	}

	type hit struct {
		pos   int
		value string
	}
	var hits []hit
	for _, loc := range taxIDPattern.FindAllStringIndex(text, -1) {
		hits = append(hits, hit{pos: loc[0], value: text[loc[0]:loc[1]]})
	}
	for _, loc := range taxIDInVATPattern.FindAllStringSubmatchIndex(text, -1) {
		hits = append(hits, hit{pos: loc[2], value: text[loc[2]:loc[3]]})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	out := make([]string, 0, len(hits))
	for _, h := range hits {
		if _, dup := seen[h.value]; dup {
			continue
		}
		if !oib.Valid(h.value) {
			continue
		}
		seen[h.value] = struct{}{}
		out = append(out, h.value)
	}
	return out
}

// TaxID returns the first counter-party OIB, or "".
func TaxID(text string, exclude ...string) string {
	ids := TaxIDs(text, exclude...)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// ValidCounterPartyTaxID keeps v only when it is a valid OIB distinct from the operator's.
func ValidCounterPartyTaxID(v string, exclude ...string) string {
	if !oib.Valid(v) {
		return ""
	}
	for _, e := range exclude {
		if e != "" && e == v {
			return ""
		}
	}
	return v
}
