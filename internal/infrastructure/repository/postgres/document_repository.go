package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/crospyder/ocr-core/internal/core/domain"
)

const uniqueViolation = "23505"

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2024030501)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS counterparties (
	id BIGSERIAL PRIMARY KEY,
	identifier TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	address TEXT,
	oib TEXT,
	vat_number TEXT,
	contact_email TEXT,
	contact_person TEXT,
	contact_phone TEXT,
	registry_response JSONB,
	vat_response JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id BIGSERIAL PRIMARY KEY,
	content_hash TEXT NOT NULL UNIQUE,
	filename TEXT NOT NULL,
	stored_filename TEXT NOT NULL,
	document_type TEXT NOT NULL,
	counterparty_id BIGINT REFERENCES counterparties(id),
	counterparty_name TEXT,
	oib TEXT,
	vat_number TEXT,
	doc_number TEXT,
	issue_date DATE,
	due_date DATE,
	amount NUMERIC(18, 2),
	raw_text TEXT NOT NULL DEFAULT '',
	registry_payload JSONB,
	structured JSONB NOT NULL DEFAULT '{}'::jsonb,
	excluded BOOLEAN NOT NULL DEFAULT FALSE,
	uploaded_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS annotations (
	document_id BIGINT PRIMARY KEY REFERENCES documents(id) ON DELETE CASCADE,
	fields JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(document_type);
CREATE INDEX IF NOT EXISTS idx_documents_oib ON documents(oib);
CREATE INDEX IF NOT EXISTS idx_documents_uploaded_at ON documents(uploaded_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Create inserts the document and its annotation mirror in one transaction.
// A concurrent insert of the same content hash surfaces as ErrDuplicate.
func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document, annotation domain.FieldSet) error {
	structured, err := json.Marshal(doc.Structured)
	if err != nil {
		return fmt.Errorf("marshal structured fields: %w", err)
	}
	fields, err := marshalFields(annotation)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `
INSERT INTO documents (
	content_hash, filename, stored_filename, document_type, counterparty_id, counterparty_name, oib, vat_number,
	doc_number, issue_date, due_date, amount, raw_text, registry_payload, structured, excluded, uploaded_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
RETURNING id
`,
		doc.ContentHash, doc.Filename, doc.StoredFilename, string(doc.Type), nullableInt64(doc.CounterPartyID),
		nullableString(doc.CounterPartyName), nullableString(doc.TaxID), nullableString(doc.VATNumber),
		nullableString(doc.DocNumber), nullableTime(doc.IssueDate), nullableTime(doc.DueDate), nullableFloat(doc.Amount),
		doc.RawText, nullableJSON(doc.RegistryPayload), structured, doc.Excluded, doc.UploadedAt, doc.UpdatedAt,
	)
	var id int64
	if err := row.Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return domain.WrapError(domain.ErrDuplicate, "insert document", err)
		}
		return fmt.Errorf("insert document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO annotations (document_id, fields, updated_at)
VALUES ($1, $2, $3)
`, id, fields, doc.UpdatedAt); err != nil {
		return fmt.Errorf("insert annotation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create tx: %w", err)
	}
	doc.ID = id
	return nil
}

const documentColumns = `id, content_hash, filename, stored_filename, document_type, counterparty_id,
	COALESCE(counterparty_name, ''), COALESCE(oib, ''), COALESCE(vat_number, ''), COALESCE(doc_number, ''),
	issue_date, due_date, amount::float8, raw_text, registry_payload, structured, excluded, uploaded_at, updated_at`

func (r *DocumentRepository) GetByHash(ctx context.Context, hash string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+`
FROM documents
WHERE content_hash = $1
`, hash)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document by hash", fmt.Errorf("hash %s", hash))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id int64) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+`
FROM documents
WHERE id = $1
`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id %d", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}

// GetAnnotation returns an empty set for documents without a mirror row.
func (r *DocumentRepository) GetAnnotation(ctx context.Context, id int64) (domain.FieldSet, error) {
	row := r.db.QueryRowContext(ctx, `SELECT fields FROM annotations WHERE document_id = $1`, id)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.FieldSet{}, nil
		}
		return nil, fmt.Errorf("scan annotation: %w", err)
	}
	fields := domain.FieldSet{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("unmarshal annotation: %w", err)
		}
	}
	return fields, nil
}

// SaveReconciled rewrites the canonical columns and the annotation mirror
// of an existing document in one transaction.
func (r *DocumentRepository) SaveReconciled(ctx context.Context, doc *domain.Document, annotation domain.FieldSet) error {
	structured, err := json.Marshal(doc.Structured)
	if err != nil {
		return fmt.Errorf("marshal structured fields: %w", err)
	}
	fields, err := marshalFields(annotation)
	if err != nil {
		return err
	}
	updatedAt := doc.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `
UPDATE documents
SET document_type = $2, counterparty_id = $3, counterparty_name = $4, oib = $5, vat_number = $6, doc_number = $7,
	issue_date = $8, due_date = $9, amount = $10, registry_payload = $11, structured = $12, excluded = $13, updated_at = $14
WHERE id = $1
`,
		doc.ID, string(doc.Type), nullableInt64(doc.CounterPartyID), nullableString(doc.CounterPartyName),
		nullableString(doc.TaxID), nullableString(doc.VATNumber), nullableString(doc.DocNumber),
		nullableTime(doc.IssueDate), nullableTime(doc.DueDate), nullableFloat(doc.Amount),
		nullableJSON(doc.RegistryPayload), structured, doc.Excluded, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if err := requireRow(res, "update document", doc.ID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO annotations (document_id, fields, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (document_id) DO UPDATE SET fields = EXCLUDED.fields, updated_at = EXCLUDED.updated_at
`, doc.ID, fields, updatedAt); err != nil {
		return fmt.Errorf("upsert annotation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save tx: %w", err)
	}
	return nil
}

func (r *DocumentRepository) UpdateStoredFilename(ctx context.Context, id int64, name string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET stored_filename = $2, updated_at = $3
WHERE id = $1
`, id, name, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update stored filename: %w", err)
	}
	return requireRow(res, "update stored filename", id)
}

func (r *DocumentRepository) ListActiveIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id
FROM documents
WHERE document_type <> $1
ORDER BY id ASC
`, string(domain.TypeDeleted))
	if err != nil {
		return nil, fmt.Errorf("list document ids: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document ids: %w", err)
	}
	return ids, nil
}

func (r *DocumentRepository) ListActive(ctx context.Context) ([]domain.Document, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+documentColumns+`
FROM documents
WHERE document_type <> $1
ORDER BY uploaded_at DESC, id DESC
`, string(domain.TypeDeleted))
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// SoftDelete switches the document to the deleted sentinel type and keeps
// the annotation mirror in step.
func (r *DocumentRepository) SoftDelete(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `
UPDATE documents
SET document_type = $2, updated_at = $3
WHERE id = $1 AND document_type <> $2
`, id, string(domain.TypeDeleted), now)
	if err != nil {
		return fmt.Errorf("soft delete document: %w", err)
	}
	if err := requireRow(res, "soft delete document", id); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE annotations
SET fields = fields || jsonb_build_object('document_type', $2::text), updated_at = $3
WHERE document_id = $1
`, id, string(domain.TypeDeleted), now); err != nil {
		return fmt.Errorf("soft delete annotation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var (
		doc           domain.Document
		docType       string
		counterParty  sql.NullInt64
		issue, due    sql.NullTime
		amount        sql.NullFloat64
		registryRaw   []byte
		structuredRaw []byte
	)
	if err := row.Scan(
		&doc.ID, &doc.ContentHash, &doc.Filename, &doc.StoredFilename, &docType, &counterParty,
		&doc.CounterPartyName, &doc.TaxID, &doc.VATNumber, &doc.DocNumber,
		&issue, &due, &amount, &doc.RawText, &registryRaw, &structuredRaw, &doc.Excluded, &doc.UploadedAt, &doc.UpdatedAt,
	); err != nil {
		return nil, err
	}

	doc.Type = domain.DocumentType(docType)
	if counterParty.Valid {
		id := counterParty.Int64
		doc.CounterPartyID = &id
	}
	if issue.Valid {
		t := issue.Time
		doc.IssueDate = &t
	}
	if due.Valid {
		t := due.Time
		doc.DueDate = &t
	}
	if amount.Valid {
		v := amount.Float64
		doc.Amount = &v
	}
	if len(registryRaw) > 0 {
		doc.RegistryPayload = json.RawMessage(registryRaw)
	}
	if len(structuredRaw) > 0 {
		if err := json.Unmarshal(structuredRaw, &doc.Structured); err != nil {
			return nil, fmt.Errorf("unmarshal structured fields: %w", err)
		}
	}
	return &doc, nil
}

func marshalFields(fields domain.FieldSet) ([]byte, error) {
	if fields == nil {
		fields = domain.FieldSet{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal annotation: %w", err)
	}
	return raw, nil
}

func requireRow(res sql.Result, operation string, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, operation, fmt.Errorf("id %d", id))
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableJSON(v json.RawMessage) any {
	if len(v) == 0 {
		return nil
	}
	return []byte(v)
}
