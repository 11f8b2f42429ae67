package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/entity-enricher/internal/enrichment"
)

var entityCols = []string{
	"id", "legal_name", "trading_names", "registration_number",
	"address_line_1", "postal_code", "country",
	"website", "email", "phone", "associates",
}

func strPtr(s string) *string { return &s }

func TestGetEntityDecodesAssociates(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo, err := New(mock, Config{})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT e.id, e.legal_name.*FROM entities e\s+LEFT JOIN associates a`).
		WithArgs("ent-1").
		WillReturnRows(pgxmock.NewRows(entityCols).AddRow(
			"ent-1", "Acme Tools Ltd", []string{"Acme"},
			pgtype.Text{String: "01234567", Valid: true},
			pgtype.Text{String: "1 High Street", Valid: true},
			pgtype.Text{String: "SW1A 1AA", Valid: true},
			pgtype.Text{String: "GB", Valid: true},
			pgtype.Text{},
			pgtype.Text{String: "sales@acme.co.uk", Valid: true},
			pgtype.Text{},
			[]byte(`[{"name":"Jane Whitfield","role":"director"}]`),
		))

	entity, err := repo.GetEntity(context.Background(), "ent-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Tools Ltd", entity.LegalName)
	assert.Equal(t, "01234567", entity.RegistrationNumber)
	assert.Equal(t, "SW1A 1AA", entity.PostalCode)
	assert.Empty(t, entity.Website)
	assert.Equal(t, "sales@acme.co.uk", entity.Email)
	assert.Equal(t, []enrichment.Associate{{Name: "Jane Whitfield", Role: "director"}}, entity.Associates)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEntityNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo, err := New(mock, Config{})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT e.id`).WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	_, err = repo.GetEntity(context.Background(), "missing")
	require.ErrorIs(t, err, enrichment.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateEntityIfNullUsesCoalesce(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo, err := New(mock, Config{Table: "companies"})
	require.NoError(t, err)

	mock.ExpectExec(`UPDATE companies\s+SET website = COALESCE\(website, \$2\)`).
		WithArgs("ent-1", strPtr("https://www.acmetools.co.uk"), (*string)(nil), strPtr("+44 20 7946 0000")).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE companies`).
		WithArgs("gone", strPtr("https://x.com"), (*string)(nil), (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ctx := context.Background()
	err = repo.UpdateEntityIfNull(ctx, "ent-1", enrichment.Fields{
		Website: "https://www.acmetools.co.uk",
		Phone:   "+44 20 7946 0000",
	})
	require.NoError(t, err)

	err = repo.UpdateEntityIfNull(ctx, "gone", enrichment.Fields{Website: "https://x.com"})
	require.ErrorIs(t, err, enrichment.ErrNotFound)

	// Nothing to write: no statement is issued.
	require.NoError(t, repo.UpdateEntityIfNull(ctx, "ent-1", enrichment.Fields{}))
	require.NoError(t, mock.ExpectationsWereMet())
}
