package sudreg

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/crospyder/ocr-core/internal/core/domain"
)

// flexString decodes register values that arrive either as strings or as
// bare numbers (oib, kucni_broj, postanski_broj).
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	*f = flexString(string(data))
	return nil
}

type subjectName struct {
	Ime string `json:"ime"`
}

type subjectSeat struct {
	Ulica         string     `json:"ulica"`
	KucniBroj     flexString `json:"kucni_broj"`
	KucniPodbroj  string     `json:"kucni_podbroj"`
	PostanskiBroj flexString `json:"postanski_broj"`
	NazivNaselja  string     `json:"naziv_naselja"`
}

type subjectDetails struct {
	OIB            flexString    `json:"oib"`
	DatumOsnivanja string        `json:"datum_osnivanja"`
	Tvrtke         []subjectName `json:"tvrtke"`
	SkraceneTvrtke []subjectName `json:"skracene_tvrtke"`
	Sjedista       []subjectSeat `json:"sjedista"`
}

func decodeSubject(raw []byte) (*domain.RegistryCompany, error) {
	var details subjectDetails
	if err := json.Unmarshal(raw, &details); err != nil {
		return nil, err
	}

	company := &domain.RegistryCompany{
		TaxID:       padOIB(string(details.OIB)),
		FoundedAt:   strings.TrimSpace(details.DatumOsnivanja),
		RawResponse: json.RawMessage(raw),
	}
	if len(details.Tvrtke) > 0 {
		company.Name = strings.TrimSpace(details.Tvrtke[0].Ime)
	}
	if len(details.SkraceneTvrtke) > 0 {
		company.ShortName = strings.TrimSpace(details.SkraceneTvrtke[0].Ime)
	}
	if len(details.Sjedista) > 0 {
		company.Address = formatSeat(details.Sjedista[0])
	}
	return company, nil
}

// formatSeat renders "Ulica 12a, 10000 Zagreb".
func formatSeat(s subjectSeat) string {
	street := strings.TrimSpace(s.Ulica)
	if number := strings.TrimSpace(string(s.KucniBroj) + s.KucniPodbroj); number != "" {
		street = strings.TrimSpace(street + " " + number)
	}
	place := strings.TrimSpace(strings.TrimSpace(string(s.PostanskiBroj)) + " " + strings.TrimSpace(s.NazivNaselja))

	switch {
	case street == "":
		return place
	case place == "":
		return street
	}
	return street + ", " + place
}

// padOIB restores leading zeros lost when the register encodes the OIB as a number.
func padOIB(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	for len(v) < 11 {
		v = "0" + v
	}
	return v
}
