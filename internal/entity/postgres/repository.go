// Package postgres reads and enriches entity records stored in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JakeFAU/entity-enricher/internal/enrichment"
	pgstore "github.com/JakeFAU/entity-enricher/internal/storage/postgres"
)

// Config names the entity and associate tables.
type Config struct {
	Table          string
	AssociateTable string
}

// DB is the subset of pgxpool.Pool used by the repository.
type DB interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Repository implements enrichment.EntityRepository.
type Repository struct {
	db             DB
	table          string
	associateTable string
}

var _ enrichment.EntityRepository = (*Repository)(nil)

// New constructs a Repository over an existing pool.
func New(db DB, cfg Config) (*Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := pgstore.TableName(cfg.Table, "entities")
	if err != nil {
		return nil, err
	}
	associates, err := pgstore.TableName(cfg.AssociateTable, "associates")
	if err != nil {
		return nil, err
	}
	return &Repository{db: db, table: table, associateTable: associates}, nil
}

// GetEntity loads an entity with its current (non-resigned) associates.
func (r *Repository) GetEntity(ctx context.Context, entityID string) (enrichment.Entity, error) {
	query := fmt.Sprintf(`
SELECT e.id, e.legal_name, e.trading_names, e.registration_number,
	e.address_line_1, e.postal_code, e.country,
	e.website, e.email, e.phone,
	COALESCE(
		json_agg(json_build_object('name', a.name, 'role', a.role))
			FILTER (WHERE a.entity_id IS NOT NULL),
		'[]'
	) AS associates
FROM %[1]s e
LEFT JOIN %[2]s a ON a.entity_id = e.id AND a.resigned_at IS NULL
WHERE e.id = $1
GROUP BY e.id`, r.table, r.associateTable)

	var (
		entity                     enrichment.Entity
		tradingNames               []string
		regNumber, address, postal pgtype.Text
		country                    pgtype.Text
		website, email, phone      pgtype.Text
		associatesJSON             []byte
	)
	err := r.db.QueryRow(ctx, query, entityID).Scan(
		&entity.ID,
		&entity.LegalName,
		&tradingNames,
		&regNumber,
		&address,
		&postal,
		&country,
		&website,
		&email,
		&phone,
		&associatesJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return enrichment.Entity{}, fmt.Errorf("entity %s: %w", entityID, enrichment.ErrNotFound)
		}
		return enrichment.Entity{}, fmt.Errorf("get entity %s: %w", entityID, err)
	}
	entity.TradingNames = tradingNames
	entity.RegistrationNumber = regNumber.String
	entity.AddressLine = address.String
	entity.PostalCode = postal.String
	entity.Country = country.String
	entity.Website = website.String
	entity.Email = email.String
	entity.Phone = phone.String
	if len(associatesJSON) > 0 {
		if err := json.Unmarshal(associatesJSON, &entity.Associates); err != nil {
			return enrichment.Entity{}, fmt.Errorf("decode associates of %s: %w", entityID, err)
		}
	}
	return entity, nil
}

// UpdateEntityIfNull writes non-empty fields only where the stored value is NULL.
func (r *Repository) UpdateEntityIfNull(ctx context.Context, entityID string, fields enrichment.Fields) error {
	if fields.Empty() {
		return nil
	}
	query := fmt.Sprintf(`
UPDATE %s
SET website = COALESCE(website, $2),
	email = COALESCE(email, $3),
	phone = COALESCE(phone, $4),
	updated_at = NOW()
WHERE id = $1`, r.table)
	tag, err := r.db.Exec(ctx, query, entityID, nullable(fields.Website), nullable(fields.Email), nullable(fields.Phone))
	if err != nil {
		return fmt.Errorf("update entity %s: %w", entityID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity %s: %w", entityID, enrichment.ErrNotFound)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
