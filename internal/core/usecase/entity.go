package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/crospyder/ocr-core/internal/core/domain"
	"github.com/crospyder/ocr-core/internal/core/extract"
	"github.com/crospyder/ocr-core/internal/core/oib"
	"github.com/crospyder/ocr-core/internal/core/ports"
)

// EntityQuery is what the resolver is asked about. Identifiers are expected
// to be filtered against the operator already.
type EntityQuery struct {
	TaxID     string
	VATNumber string
	// FallbackName is the best extracted name, used when a foreign
	// counter-party cannot be validated.
	FallbackName string
}

// EntityResolver finds or creates the counter-party behind a document:
// local store first, then the company registry, then VAT validation.
// External failures become alerts and never fail the document.
type EntityResolver struct {
	repo     ports.CounterPartyRepository
	registry ports.CompanyRegistry
	vat      ports.VATValidator
	logger   *slog.Logger
}

func NewEntityResolver(
	repo ports.CounterPartyRepository,
	registry ports.CompanyRegistry,
	vat ports.VATValidator,
	logger *slog.Logger,
) *EntityResolver {
	return &EntityResolver{
		repo:     repo,
		registry: registry,
		vat:      vat,
		logger:   loggerOrDiscard(logger),
	}
}

func (r *EntityResolver) Resolve(ctx context.Context, q EntityQuery) domain.EntityResolution {
	taxID := strings.TrimSpace(q.TaxID)
	vat := extract.NormalizeVAT(q.VATNumber)
	if taxID == "" {
		taxID = domesticTaxID(vat)
	}

	switch {
	case taxID != "":
		return r.resolveDomestic(ctx, taxID, vat)
	case vat != "":
		return r.resolveForeign(ctx, vat, strings.TrimSpace(q.FallbackName))
	default:
		return domain.EntityResolution{Name: domain.PlaceholderUnknownSupplier, Placeholder: true}
	}
}

func (r *EntityResolver) resolveDomestic(ctx context.Context, taxID, vat string) domain.EntityResolution {
	res := domain.EntityResolution{TaxID: taxID, VATNumber: vat}

	cp, err := r.repo.GetByIdentifier(ctx, taxID)
	switch {
	case err == nil:
		if len(cp.VATResponseRaw) == 0 {
			cp = r.refreshVAT(ctx, cp, &res)
		}
		return withCounterParty(res, cp)
	case !domain.IsKind(err, domain.ErrCounterPartyNotFound):
		r.logger.Error("counterparty_lookup_failed", "identifier", taxID, "error", err)
		res.Alerts = append(res.Alerts, fmt.Sprintf("counter-party lookup failed: %v", err))
		return res
	}

	if r.registry == nil {
		res.Alerts = append(res.Alerts, "company registry not configured")
		return res
	}
	company, err := r.registry.LookupByTaxID(ctx, taxID)
	if err != nil {
		if domain.IsKind(err, domain.ErrCounterPartyNotFound) {
			r.logger.Info("registry_lookup_miss", "oib", taxID)
			res.Alerts = append(res.Alerts, fmt.Sprintf("tax-id %s not found in company registry", taxID))
		} else {
			r.logger.Warn("registry_lookup_failed", "oib", taxID, "error", err)
			res.Alerts = append(res.Alerts, fmt.Sprintf("company registry lookup failed: %v", err))
		}
		return res
	}

	record := domain.CounterParty{
		Identifier:  taxID,
		Name:        company.DisplayName(),
		Address:     company.Address,
		TaxID:       taxID,
		VATNumber:   "HR" + taxID,
		RegistryRaw: company.RawResponse,
	}
	if check, raw, ok := r.checkVAT(ctx, "HR", taxID, &res); ok {
		record.VATResponseRaw = raw
		if !check.Valid {
			res.Alerts = append(res.Alerts, fmt.Sprintf("VAT number HR%s is not valid", taxID))
		}
	}
	res.RegistryRaw = company.RawResponse

	stored, created, err := r.repo.Upsert(ctx, record)
	if err != nil {
		r.logger.Error("counterparty_upsert_failed", "identifier", taxID, "error", err)
		res.Alerts = append(res.Alerts, fmt.Sprintf("counter-party save failed: %v", err))
		res.Name, res.Address = record.Name, record.Address
		return res
	}
	if created {
		r.logger.Info("counterparty_created", "identifier", taxID, "counterparty_id", stored.ID)
	}
	return withCounterParty(res, stored)
}

func (r *EntityResolver) resolveForeign(ctx context.Context, vat, fallbackName string) domain.EntityResolution {
	res := domain.EntityResolution{VATNumber: vat}
	fallback := func() domain.EntityResolution {
		res.Placeholder = true
		res.Name = fallbackName
		if res.Name == "" {
			res.Name = domain.PlaceholderForeignSupplier
		}
		return res
	}

	cp, err := r.repo.GetByIdentifier(ctx, vat)
	switch {
	case err == nil:
		return withCounterParty(res, cp)
	case !domain.IsKind(err, domain.ErrCounterPartyNotFound):
		r.logger.Error("counterparty_lookup_failed", "identifier", vat, "error", err)
		res.Alerts = append(res.Alerts, fmt.Sprintf("counter-party lookup failed: %v", err))
		return fallback()
	}

	country, number := extract.SplitVAT(vat)
	check, raw, ok := r.checkVAT(ctx, country, number, &res)
	if !ok {
		return fallback()
	}
	if !check.Valid {
		res.Alerts = append(res.Alerts, fmt.Sprintf("VAT number %s is not valid", vat))
		return fallback()
	}

	name := cleanVIESValue(check.Name)
	if name == "" {
		name = fallbackName
	}
	if name == "" {
		name = domain.PlaceholderForeignSupplier
	}
	stored, _, err := r.repo.Upsert(ctx, domain.CounterParty{
		Identifier:     vat,
		Name:           name,
		Address:        cleanVIESValue(check.Address),
		VATNumber:      vat,
		VATResponseRaw: raw,
	})
	if err != nil {
		r.logger.Error("counterparty_upsert_failed", "identifier", vat, "error", err)
		res.Alerts = append(res.Alerts, fmt.Sprintf("counter-party save failed: %v", err))
		res.Name, res.Address = name, cleanVIESValue(check.Address)
		return res
	}
	return withCounterParty(res, stored)
}

// LinkLocal finds a counter-party in the local store only. Manual edits use
// it so that they never trigger external calls.
func (r *EntityResolver) LinkLocal(ctx context.Context, taxID, vat string) (*domain.CounterParty, error) {
	taxID = strings.TrimSpace(taxID)
	vat = extract.NormalizeVAT(vat)
	if taxID == "" {
		taxID = domesticTaxID(vat)
	}
	for _, id := range []string{taxID, vat} {
		if id == "" {
			continue
		}
		cp, err := r.repo.GetByIdentifier(ctx, id)
		if err == nil {
			return cp, nil
		}
		if !domain.IsKind(err, domain.ErrCounterPartyNotFound) {
			return nil, err
		}
	}
	return nil, domain.ErrCounterPartyNotFound
}

func (r *EntityResolver) refreshVAT(ctx context.Context, cp *domain.CounterParty, res *domain.EntityResolution) *domain.CounterParty {
	country, number := "HR", cp.TaxID
	if number == "" {
		country, number = extract.SplitVAT(cp.VATNumber)
	}
	if number == "" {
		return cp
	}
	_, raw, ok := r.checkVAT(ctx, country, number, res)
	if !ok {
		return cp
	}
	updated := *cp
	updated.VATResponseRaw = raw
	stored, _, err := r.repo.Upsert(ctx, updated)
	if err != nil {
		r.logger.Warn("counterparty_vat_cache_failed", "identifier", cp.Identifier, "error", err)
		return cp
	}
	return stored
}

func (r *EntityResolver) checkVAT(ctx context.Context, country, number string, res *domain.EntityResolution) (domain.VATCheck, json.RawMessage, bool) {
	if r.vat == nil {
		return domain.VATCheck{}, nil, false
	}
	check, err := r.vat.CheckVAT(ctx, country, number)
	if err != nil {
		r.logger.Warn("vat_check_failed", "country", country, "number", number, "error", err)
		res.Alerts = append(res.Alerts, fmt.Sprintf("VAT validation failed: %v", err))
		return domain.VATCheck{}, nil, false
	}
	raw, err := json.Marshal(check)
	if err != nil {
		return check, nil, true
	}
	return check, raw, true
}

// domesticTaxID returns the OIB inside an HR VAT number so that Croatian
// companies are always keyed by their bare OIB.
func domesticTaxID(vat string) string {
	country, number := extract.SplitVAT(vat)
	if country == "HR" && oib.Valid(number) {
		return number
	}
	return ""
}

func withCounterParty(res domain.EntityResolution, cp *domain.CounterParty) domain.EntityResolution {
	res.CounterParty = cp
	res.Name = cp.Name
	res.Address = cp.Address
	if res.TaxID == "" {
		res.TaxID = cp.TaxID
	}
	if res.VATNumber == "" {
		res.VATNumber = cp.VATNumber
	}
	if len(cp.RegistryRaw) > 0 {
		res.RegistryRaw = cp.RegistryRaw
	}
	return res
}

// cleanVIESValue drops the "---" VIES returns for undisclosed data.
func cleanVIESValue(v string) string {
	v = strings.TrimSpace(v)
	if v == "---" {
		return ""
	}
	return v
}
