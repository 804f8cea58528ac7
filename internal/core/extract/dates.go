package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the textual date format used in annotations.
const DateLayout = "02.01.2006"

var hrMonths = map[string]time.Month{
	"siječnja": time.January, "veljače": time.February, "ožujka": time.March, "travnja": time.April,
	"svibnja": time.May, "lipnja": time.June, "srpnja": time.July, "kolovoza": time.August,
	"rujna": time.September, "listopada": time.October, "studenoga": time.November, "studenog": time.November,
	"prosinca": time.December,
	"siječanj": time.January, "veljača": time.February, "ožujak": time.March, "travanj": time.April,
	"svibanj": time.May, "lipanj": time.June, "srpanj": time.July, "kolovoz": time.August,
	"rujan": time.September, "listopad": time.October, "studeni": time.November, "prosinac": time.December,
}

var enMonths = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March, "april": time.April,
	"may": time.May, "june": time.June, "july": time.July, "august": time.August,
	"september": time.September, "october": time.October, "november": time.November, "december": time.December,
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"jun": time.June, "jul": time.July, "aug": time.August, "sep": time.September, "sept": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

var (
	hrDatePattern      = regexp.MustCompile(`(?i)(\d{1,2})\.?\s+(\p{L}+)\s+(\d{4})\.?`)
	enOrdinalPattern   = regexp.MustCompile(`(\d+)(st|nd|rd|th)\b`)
	enDatePattern      = regexp.MustCompile(`(\d{1,2})\s+([a-z]+)\.?,?\s+(\d{4})`)
	numericDatePattern = regexp.MustCompile(`\b(\d{1,2})[./](\d{1,2})[./](\d{4})\b`)
	isoDatePattern     = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	issueAnchorPattern = regexp.MustCompile(`(?i)vrijeme izdavanja:\s*(\d{2}\.\d{2}\.\d{4})`)
	issueLabelPattern  = regexp.MustCompile(`(?i)(datum[^\n\d]{0,15}?ra[čc]una|datum izdavanja|vrijeme izdavanja|datum isporuke|invoice date|date of issue|issued|izdan[oa]?|\bdatum\b|\bdate\b)`)
	dueLabelPattern    = regexp.MustCompile(`(?i)(datum dospije[ćc]a|dospije[ćc]e|valuta|rok[^\n\d]{0,10}?pla[ćc]anja|payment due|due date|\bdue\b)`)
)

// ParseDate returns the first date found in s, trying the Croatian month
// table, then the English one, then numeric DD.MM.YYYY / DD/MM/YYYY.
func ParseDate(s string) (time.Time, bool) {
	if d, ok := parseCroatianDate(s); ok {
		return d, true
	}
	if d, ok := parseEnglishDate(s); ok {
		return d, true
	}
	return parseNumericDate(s)
}

// ParseFieldDate accepts the annotation layout, ISO dates and anything ParseDate understands.
func ParseFieldDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if m := isoDatePattern.FindStringSubmatch(s); m != nil {
		return buildDate(m[3], m[2], m[1])
	}
	return ParseDate(s)
}

func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

func parseCroatianDate(s string) (time.Time, bool) {
	for _, m := range hrDatePattern.FindAllStringSubmatch(s, -1) {
		month, ok := hrMonths[strings.ToLower(m[2])]
		if !ok {
			continue
		}
		if d, ok := buildDate(m[1], strconv.Itoa(int(month)), m[3]); ok {
			return d, true
		}
	}
	return time.Time{}, false
}

func parseEnglishDate(s string) (time.Time, bool) {
	clean := enOrdinalPattern.ReplaceAllString(strings.ToLower(s), "$1")
	for _, m := range enDatePattern.FindAllStringSubmatch(clean, -1) {
		month, ok := enMonths[m[2]]
		if !ok {
			continue
		}
		if d, ok := buildDate(m[1], strconv.Itoa(int(month)), m[3]); ok {
			return d, true
		}
	}
	return time.Time{}, false
}

func parseNumericDate(s string) (time.Time, bool) {
	for _, m := range numericDatePattern.FindAllStringSubmatch(s, -1) {
		if d, ok := buildDate(m[1], m[2], m[3]); ok {
			return d, true
		}
	}
	return time.Time{}, false
}

func buildDate(day, month, year string) (time.Time, bool) {
	d, err1 := strconv.Atoi(day)
	m, err2 := strconv.Atoi(month)
	y, err3 := strconv.Atoi(year)
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}
	if m < 1 || m > 12 || d < 1 || d > 31 || y < 1900 || y > 2200 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d || int(t.Month()) != m {
		return time.Time{}, false
	}
	return t, true
}

// DatesInLine collects every date a single line yields.
func DatesInLine(line string) []time.Time {
	var out []time.Time
	if d, ok := parseCroatianDate(line); ok {
		out = append(out, d)
	}
	if d, ok := parseEnglishDate(line); ok {
		out = append(out, d)
	}
	for _, m := range numericDatePattern.FindAllStringSubmatch(line, -1) {
		if d, ok := buildDate(m[1], m[2], m[3]); ok {
			out = append(out, d)
		}
	}
	return out
}

// IssueAndDueDates looks for dates next to issue/due labels and falls back
// to the earliest and latest date in the whole text.
func IssueAndDueDates(text string) (issue, due *time.Time) {
	if m := issueAnchorPattern.FindStringSubmatch(text); m != nil {
		if d, ok := parseNumericDate(m[1]); ok {
			issue = &d
		}
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		next := ""
		if i+1 < len(lines) {
			next = lines[i+1]
		}

		dueSpans := dueLabelPattern.FindAllStringIndex(line, -1)
		if due == nil {
			for _, span := range dueSpans {
				if d, ok := dateAfter(line[span[1]:], next); ok {
					due = &d
					break
				}
			}
		}
		if issue == nil {
			for _, span := range issueLabelPattern.FindAllStringIndex(line, -1) {
				if overlaps(span, dueSpans) {
					continue
				}
				if d, ok := dateAfter(line[span[1]:], next); ok {
					issue = &d
					break
				}
			}
		}
		if issue != nil && due != nil {
			return issue, due
		}
	}

	if issue != nil && due != nil {
		return issue, due
	}
	all := make([]time.Time, 0)
	for _, line := range lines {
		all = append(all, DatesInLine(line)...)
	}
	if len(all) == 0 {
		return issue, due
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Before(all[j]) })
	if issue == nil {
		first := all[0]
		issue = &first
	}
	if due == nil {
		last := all[len(all)-1]
		due = &last
	}
	return issue, due
}

// dateAfter parses the remainder of a labelled line, or the following line
// when the label stands alone.
func dateAfter(rest, next string) (time.Time, bool) {
	if d, ok := ParseDate(cutAtNextLabel(rest)); ok {
		return d, true
	}
	if strings.Trim(rest, " \t\r:.-") == "" {
		return ParseDate(cutAtNextLabel(next))
	}
	return time.Time{}, false
}

// cutAtNextLabel keeps only the segment before the next issue or due label so
// that "Datum: - Valuta: 15.02.2024" does not hand the due date to the issue label.
func cutAtNextLabel(s string) string {
	end := len(s)
	if loc := dueLabelPattern.FindStringIndex(s); loc != nil && loc[0] > 0 && loc[0] < end {
		end = loc[0]
	}
	if loc := issueLabelPattern.FindStringIndex(s); loc != nil && loc[0] > 0 && loc[0] < end {
		end = loc[0]
	}
	return s[:end]
}

func overlaps(span []int, others [][]int) bool {
	for _, o := range others {
		if span[0] < o[1] && o[0] < span[1] {
			return true
		}
	}
	return false
}
