package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate_AppliesPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("pg_advisory_lock").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS org_match").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM org_match.schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	// Each pending migration: apply + record.
	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS pg_trgm").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO org_match.schema_migrations").
		WithArgs("0001_init.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE org_match.source_records").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("INSERT INTO org_match.schema_migrations").
		WithArgs("0002_backfill_normal_forms.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("ALTER TABLE org_match.canonical_orgs").WillReturnResult(pgxmock.NewResult("ALTER", 0))
	mock.ExpectExec("INSERT INTO org_match.schema_migrations").
		WithArgs("0003_add_preferred_flag.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("pg_advisory_unlock").WillReturnResult(pgxmock.NewResult("SELECT", 1))

	err = Migrate(context.Background(), mock)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_SkipsApplied(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("pg_advisory_lock").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS org_match").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM org_match.schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).
			AddRow("0001_init.sql").
			AddRow("0002_backfill_normal_forms.sql").
			AddRow("0003_add_preferred_flag.sql"))
	mock.ExpectExec("pg_advisory_unlock").WillReturnResult(pgxmock.NewResult("SELECT", 1))

	err = Migrate(context.Background(), mock)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The backfill must apply the same aggressive form the Go side computes, so
// it embeds the expression NormalizeAggressiveSQL generates, verbatim.
func TestBackfillMigrationUsesAggressiveSQL(t *testing.T) {
	data, err := migrationFS.ReadFile("migrations/0002_backfill_normal_forms.sql")
	require.NoError(t, err)

	sql := string(data)
	assert.Contains(t, sql, "SET name_aggressive = "+NormalizeAggressiveSQL("name"))
	assert.Contains(t, sql, "SET alias_aggressive = "+NormalizeAggressiveSQL("alias_name"))
}

func TestMigrate_LockError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("pg_advisory_lock").WillReturnError(fmt.Errorf("connection refused"))

	err = Migrate(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "advisory lock")
}

func TestMigrate_ApplyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("pg_advisory_lock").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS org_match").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM org_match.schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS pg_trgm").WillReturnError(fmt.Errorf("permission denied"))
	mock.ExpectExec("pg_advisory_unlock").WillReturnResult(pgxmock.NewResult("SELECT", 1))

	err = Migrate(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply migration 0001_init.sql")
}
