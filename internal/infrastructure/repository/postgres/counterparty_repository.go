package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/crospyder/ocr-core/internal/core/domain"
)

type CounterPartyRepository struct {
	db *sql.DB
}

func NewCounterPartyRepository(db *sql.DB) *CounterPartyRepository {
	return &CounterPartyRepository{db: db}
}

const counterPartyColumns = `id, identifier, name, COALESCE(address, ''), COALESCE(oib, ''), COALESCE(vat_number, ''),
	COALESCE(contact_email, ''), COALESCE(contact_person, ''), COALESCE(contact_phone, ''),
	registry_response, vat_response, created_at, updated_at`

func (r *CounterPartyRepository) GetByIdentifier(ctx context.Context, identifier string) (*domain.CounterParty, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+counterPartyColumns+`
FROM counterparties
WHERE identifier = $1
`, identifier)
	cp, err := scanCounterParty(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrCounterPartyNotFound, "get counter-party", fmt.Errorf("identifier %s", identifier))
		}
		return nil, fmt.Errorf("scan counter-party: %w", err)
	}
	return cp, nil
}

func (r *CounterPartyRepository) GetByID(ctx context.Context, id int64) (*domain.CounterParty, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+counterPartyColumns+`
FROM counterparties
WHERE id = $1
`, id)
	cp, err := scanCounterParty(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrCounterPartyNotFound, "get counter-party", fmt.Errorf("id %d", id))
		}
		return nil, fmt.Errorf("scan counter-party: %w", err)
	}
	return cp, nil
}

// Upsert inserts a counter-party or merges non-empty values into the row
// with the same identifier. The flag reports whether a row was created.
func (r *CounterPartyRepository) Upsert(ctx context.Context, cp domain.CounterParty) (*domain.CounterParty, bool, error) {
	if cp.Identifier == "" {
		return nil, false, domain.WrapError(domain.ErrInvalidInput, "upsert counter-party", errors.New("empty identifier"))
	}
	now := time.Now().UTC()
	row := r.db.QueryRowContext(ctx, `
INSERT INTO counterparties (
	identifier, name, address, oib, vat_number, contact_email, contact_person, contact_phone,
	registry_response, vat_response, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
ON CONFLICT (identifier) DO UPDATE SET
	name = COALESCE(NULLIF(EXCLUDED.name, ''), counterparties.name),
	address = COALESCE(EXCLUDED.address, counterparties.address),
	oib = COALESCE(EXCLUDED.oib, counterparties.oib),
	vat_number = COALESCE(EXCLUDED.vat_number, counterparties.vat_number),
	contact_email = COALESCE(EXCLUDED.contact_email, counterparties.contact_email),
	contact_person = COALESCE(EXCLUDED.contact_person, counterparties.contact_person),
	contact_phone = COALESCE(EXCLUDED.contact_phone, counterparties.contact_phone),
	registry_response = COALESCE(EXCLUDED.registry_response, counterparties.registry_response),
	vat_response = COALESCE(EXCLUDED.vat_response, counterparties.vat_response),
	updated_at = EXCLUDED.updated_at
RETURNING `+counterPartyColumns+`, (xmax = 0)
`,
		cp.Identifier, cp.Name, nullableString(cp.Address), nullableString(cp.TaxID), nullableString(cp.VATNumber),
		nullableString(cp.ContactEmail), nullableString(cp.ContactPerson), nullableString(cp.ContactPhone),
		nullableJSON(cp.RegistryRaw), nullableJSON(cp.VATResponseRaw), now,
	)

	var (
		stored      domain.CounterParty
		registryRaw []byte
		vatRaw      []byte
		inserted    bool
	)
	if err := row.Scan(
		&stored.ID, &stored.Identifier, &stored.Name, &stored.Address, &stored.TaxID, &stored.VATNumber,
		&stored.ContactEmail, &stored.ContactPerson, &stored.ContactPhone,
		&registryRaw, &vatRaw, &stored.CreatedAt, &stored.UpdatedAt, &inserted,
	); err != nil {
		return nil, false, fmt.Errorf("upsert counter-party: %w", err)
	}
	stored.RegistryRaw = rawOrNil(registryRaw)
	stored.VATResponseRaw = rawOrNil(vatRaw)
	return &stored, inserted, nil
}

func scanCounterParty(row rowScanner) (*domain.CounterParty, error) {
	var (
		cp          domain.CounterParty
		registryRaw []byte
		vatRaw      []byte
	)
	if err := row.Scan(
		&cp.ID, &cp.Identifier, &cp.Name, &cp.Address, &cp.TaxID, &cp.VATNumber,
		&cp.ContactEmail, &cp.ContactPerson, &cp.ContactPhone,
		&registryRaw, &vatRaw, &cp.CreatedAt, &cp.UpdatedAt,
	); err != nil {
		return nil, err
	}
	cp.RegistryRaw = rawOrNil(registryRaw)
	cp.VATResponseRaw = rawOrNil(vatRaw)
	return &cp, nil
}

func rawOrNil(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
