package extract

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var legalSuffixes = []string{"j.d.o.o.", "d.o.o.", "d.d.", "j.t.d.", "k.d.", "obrt", "gmbh", "ltd", "llc"}

// Fold lower-cases s, strips diacritics and drops everything that is not a
// letter or digit, so "ŠPINE-ICT  d.o.o." and "spine ict doo" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		switch {
		case r == 'đ':
			b.WriteRune('d')
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FoldName folds a company name after removing its legal-form suffix.
func FoldName(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	for _, suffix := range legalSuffixes {
		if strings.HasSuffix(lower, suffix) {
			lower = strings.TrimSpace(strings.TrimSuffix(lower, suffix))
			break
		}
	}
	return Fold(lower)
}

// MentionsName reports whether the folded company name occurs in text.
func MentionsName(text, name string) bool {
	needle := FoldName(name)
	if len(needle) < 3 {
		return false
	}
	return strings.Contains(Fold(text), needle)
}

// MentionsTaxID reports whether the digits of id occur in text, ignoring separators.
func MentionsTaxID(text, id string) bool {
	id = Fold(id)
	if id == "" {
		return false
	}
	return strings.Contains(Fold(text), id)
}
