package engine

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/unionresearch/orgmatch/internal/db"
)

// CheckPreconditions verifies that the tables a run depends on exist and are
// non-empty before any write happens. A failure here is fatal: the run
// aborts with a non-zero exit, unlike every in-band "no match" condition.
func CheckPreconditions(ctx context.Context, pool db.Pool, sourceSystem string) error {
	var n int64
	err := pool.QueryRow(ctx,
		"SELECT count(*) FROM org_match.source_records WHERE source_system = $1",
		sourceSystem,
	).Scan(&n)
	if err != nil {
		return eris.Wrapf(err, "engine: precondition: probe source_records for %s", sourceSystem)
	}
	if n == 0 {
		return eris.Errorf("engine: precondition: no staged records for source system %q", sourceSystem)
	}

	err = pool.QueryRow(ctx, "SELECT count(*) FROM org_match.canonical_orgs").Scan(&n)
	if err != nil {
		return eris.Wrap(err, "engine: precondition: probe canonical_orgs")
	}
	if n == 0 {
		return eris.New("engine: precondition: canonical_orgs is empty (seed canonical identities first)")
	}

	// Column drift on the staging table is a schema mismatch, not a matching
	// failure; catch it before candidate SQL produces confusing errors.
	requiredCols := []string{"name_aggressive", "name_standard", "alias_aggressive", "jurisdiction", "city", "naics"}
	rows, err := pool.Query(ctx, `
SELECT column_name FROM information_schema.columns
WHERE table_schema = 'org_match' AND table_name = 'source_records'`)
	if err != nil {
		return eris.Wrap(err, "engine: precondition: probe source_records columns")
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return eris.Wrap(err, "engine: precondition: scan column name")
		}
		present[col] = true
	}
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "engine: precondition: read columns")
	}

	for _, col := range requiredCols {
		if !present[col] {
			return eris.Errorf("engine: precondition: source_records is missing column %q (run migrate)", col)
		}
	}

	return nil
}
