package domain

import (
	"encoding/json"
	"time"
)

const (
	PlaceholderUnknownSupplier = "Nepoznat dobavljač"
	PlaceholderForeignSupplier = "Strani dobavljač"
)

// CounterParty is a supplier or customer, unique by Identifier.
type CounterParty struct {
	ID             int64           `json:"id"`
	Identifier     string          `json:"identifier"`
	Name           string          `json:"name"`
	Address        string          `json:"address,omitempty"`
	TaxID          string          `json:"oib,omitempty"`
	VATNumber      string          `json:"vat_number,omitempty"`
	ContactEmail   string          `json:"contact_email,omitempty"`
	ContactPerson  string          `json:"contact_person,omitempty"`
	ContactPhone   string          `json:"contact_phone,omitempty"`
	RegistryRaw    json.RawMessage `json:"registry_response,omitempty"`
	VATResponseRaw json.RawMessage `json:"vat_response,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Operator is the domestic business running the pipeline.
type Operator struct {
	Name  string
	TaxID string
}

// VATNumber returns the operator's own HR VAT composite.
func (o Operator) VATNumber() string {
	if o.TaxID == "" {
		return ""
	}
	return "HR" + o.TaxID
}

// RegistryCompany is the subset of a company-registry record the pipeline uses.
type RegistryCompany struct {
	TaxID       string          `json:"oib"`
	Name        string          `json:"name"`
	ShortName   string          `json:"short_name,omitempty"`
	Address     string          `json:"address,omitempty"`
	FoundedAt   string          `json:"founded_at,omitempty"`
	RawResponse json.RawMessage `json:"-"`
}

// DisplayName prefers the registered short name.
func (c RegistryCompany) DisplayName() string {
	if c.ShortName != "" {
		return c.ShortName
	}
	return c.Name
}

// VATCheck is the result of a VAT validation call.
type VATCheck struct {
	CountryCode string `json:"country_code"`
	Number      string `json:"vat_number"`
	Valid       bool   `json:"valid"`
	Name        string `json:"name,omitempty"`
	Address     string `json:"address,omitempty"`
	RequestDate string `json:"request_date,omitempty"`
}

// EntityResolution is what the entity resolver hands to reconciliation.
type EntityResolution struct {
	CounterParty *CounterParty
	Name         string
	Address      string
	TaxID        string
	VATNumber    string
	RegistryRaw  json.RawMessage
	Alerts       []string
	// Placeholder marks Name as a fallback that ranks below every extracted name.
	Placeholder bool
}
