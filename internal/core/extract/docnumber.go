package extract

import (
	"regexp"
	"strings"
)

// docNumberPatterns are tried in order; the first match is returned as written.
var docNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b\d{1,5}[-/]\w+[-/]\d{1,5}\b`),
	regexp.MustCompile(`(?i)\bBR[-\s]?(\d{1,10})\b`),
	regexp.MustCompile(`(?i)\bUG[-\s]?(\d{1,10})\b`),
	regexp.MustCompile(`(?i)\bRAČUN[-\s]?(\d{1,10})\b`),
	regexp.MustCompile(`(?i)\bBROJ[-\s]?(\d{1,10})\b`),
}

// DocNumber returns the first document number found, or "".
func DocNumber(text string) string {
	for _, pattern := range docNumberPatterns {
		for _, m := range pattern.FindAllString(text, -1) {
			if _, isDate := parseNumericDate(m); isDate {
				continue
			}
			return strings.TrimSpace(m)
		}
	}
	return ""
}
