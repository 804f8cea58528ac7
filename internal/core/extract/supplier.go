package extract

import (
	"regexp"
	"strings"
)

var (
	firmPattern     = regexp.MustCompile(`([A-ZČĆŽŠĐ][A-ZČĆŽŠĐa-zčćžšđ0-9 &"'\-]+(?:j\.d\.o\.o\.|d\.o\.o\.|d\.d\.))`)
	craftPattern    = regexp.MustCompile(`(?i)(obrt\s+[A-ZČĆŽŠĐa-zčćžšđ0-9 \-]+)`)
	addressKeywords = []string{"ul.", "ulica", "bb", "trg", "avenija", "naselje", "put", "br.", "broj", "cesta"}
	postcodePattern = regexp.MustCompile(`\b\d{5}\s+\p{Lu}`)
)

// Party is a company named in the text together with the line after it
// when that line looks like an address.
type Party struct {
	Name    string
	Address string
}

// Parties lists company names in order of appearance, skipping any that
// belong to one of the excluded names.
func Parties(text string, excludeNames ...string) []Party {
	lines := strings.Split(text, "\n")
	var out []Party
	seen := make(map[string]struct{})
	for i, line := range lines {
		names := firmPattern.FindAllString(line, -1)
		if len(names) == 0 {
			if m := craftPattern.FindString(line); m != "" {
				names = []string{m}
			}
		}
		for _, raw := range names {
			name := cleanFirmName(raw)
			key := FoldName(name)
			if key == "" || isExcludedName(name, excludeNames) {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			party := Party{Name: name}
			if i+1 < len(lines) && looksLikeAddress(lines[i+1]) {
				party.Address = strings.TrimSpace(lines[i+1])
			}
			out = append(out, party)
		}
	}
	return out
}

// CounterParty returns the first non-operator company, if any.
func CounterParty(text string, excludeNames ...string) (Party, bool) {
	parties := Parties(text, excludeNames...)
	if len(parties) == 0 {
		return Party{}, false
	}
	return parties[0], true
}

func cleanFirmName(raw string) string {
	name := strings.TrimSpace(raw)
	if idx := strings.LastIndex(name, ":"); idx >= 0 && idx < len(name)-1 {
		name = strings.TrimSpace(name[idx+1:])
	}
	return strings.Trim(name, ",- ")
}

func isExcludedName(name string, excluded []string) bool {
	folded := FoldName(name)
	for _, ex := range excluded {
		exFolded := FoldName(ex)
		if exFolded == "" {
			continue
		}
		if strings.Contains(folded, exFolded) || strings.Contains(exFolded, folded) {
			return true
		}
	}
	return false
}

func looksLikeAddress(line string) bool {
	lower := strings.ToLower(strings.TrimSpace(line))
	if lower == "" {
		return false
	}
	for _, kw := range addressKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return postcodePattern.MatchString(line)
}
