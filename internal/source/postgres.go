package source

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/unionresearch/orgmatch/internal/db"
	"github.com/unionresearch/orgmatch/internal/engine"
)

// PostgresAdapter is the SQL-backed adapter shared by every registered
// source system. Per-source ingestion pipelines upstream fill the staging
// table; this adapter covers the engine-facing contract.
type PostgresAdapter struct {
	pool db.Pool
	sys  System
	log  *zap.Logger
}

// NewAdapter builds the adapter for one registered source system.
func NewAdapter(pool db.Pool, systemName string) (*PostgresAdapter, error) {
	sys, err := Lookup(systemName)
	if err != nil {
		return nil, err
	}
	return &PostgresAdapter{
		pool: pool,
		sys:  sys,
		log:  zap.L().With(zap.String("component", "source"), zap.String("source_system", sys.Name)),
	}, nil
}

// System returns the registry entry this adapter serves.
func (a *PostgresAdapter) System() System {
	return a.sys
}

const sourceRecordColumns = `source_system, source_id, name, jurisdiction, city, zip, naics, ein, street_address, alias_name`

// LoadUnmatched returns staged records with no active HIGH/MEDIUM ledger
// entry for this source system.
func (a *PostgresAdapter) LoadUnmatched(ctx context.Context, limit int) ([]engine.SourceRecord, error) {
	query := `
SELECT ` + sourceRecordColumns + `
FROM org_match.source_records r
WHERE r.source_system = $1
  AND NOT EXISTS (
      SELECT 1 FROM org_match.unified_match_log l
      WHERE l.source_system = r.source_system
        AND l.source_id = r.source_id
        AND l.status = 'active'
        AND l.confidence_band IN ('HIGH', 'MEDIUM')
  )
ORDER BY r.source_id`
	return a.loadRecords(ctx, query, limit)
}

// LoadAll returns every staged record for full-rematch runs.
func (a *PostgresAdapter) LoadAll(ctx context.Context, limit int) ([]engine.SourceRecord, error) {
	query := `
SELECT ` + sourceRecordColumns + `
FROM org_match.source_records r
WHERE r.source_system = $1
ORDER BY r.source_id`
	return a.loadRecords(ctx, query, limit)
}

func (a *PostgresAdapter) loadRecords(ctx context.Context, query string, limit int) ([]engine.SourceRecord, error) {
	args := []any{a.sys.Name}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "source: load records for %s", a.sys.Name)
	}
	defer rows.Close()

	var records []engine.SourceRecord
	for rows.Next() {
		var rec engine.SourceRecord
		if err := rows.Scan(
			&rec.SourceSystem, &rec.SourceID, &rec.Name, &rec.Jurisdiction,
			&rec.City, &rec.Zip, &rec.NAICS, &rec.EIN, &rec.StreetAddress, &rec.AliasName,
		); err != nil {
			return nil, eris.Wrapf(err, "source: scan record for %s", a.sys.Name)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "source: iterate records for %s", a.sys.Name)
	}
	return records, nil
}

// Stage ingests records into the staging table, computing both normal forms
// up front so matchers never normalize at query time. Staging is append-only
// under the (source_system, source_id) key.
func (a *PostgresAdapter) Stage(ctx context.Context, records []engine.SourceRecord) (int64, error) {
	rows := make([][]any, 0, len(records))
	unblockable := 0
	for _, rec := range records {
		if rec.SourceSystem != a.sys.Name {
			return 0, eris.Errorf("source: record %s belongs to %s, adapter serves %s",
				rec.SourceID, rec.SourceSystem, a.sys.Name)
		}
		if len(engine.BlockKeys(rec)) == 0 {
			unblockable++
		}
		norm := engine.Normalize(rec.Name)
		alias := engine.Normalize(rec.AliasName)
		rows = append(rows, []any{
			rec.SourceSystem, rec.SourceID, rec.Name,
			norm.Standard, norm.Aggressive,
			rec.AliasName, alias.Aggressive,
			rec.Jurisdiction, rec.City, rec.Zip, rec.NAICS, rec.EIN, rec.StreetAddress,
		})
	}

	inserted, err := db.BulkAppend(ctx, a.pool, db.AppendConfig{
		Table: "org_match.source_records",
		Columns: []string{
			"source_system", "source_id", "name",
			"name_standard", "name_aggressive",
			"alias_name", "alias_aggressive",
			"jurisdiction", "city", "zip", "naics", "ein", "street_address",
		},
		ConflictKey: []string{"source_system", "source_id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "source: stage records for %s", a.sys.Name)
	}

	a.log.Info("records staged",
		zap.Int("submitted", len(records)),
		zap.Int64("inserted", inserted),
	)
	if unblockable > 0 {
		a.log.Warn("staged records carry no blocking keys; blocked matchers will skip them",
			zap.Int("count", unblockable))
	}
	return inserted, nil
}

// WriteLegacy projects decisions into the legacy table for sources that
// still have pre-ledger consumers. The table mirrors the latest decision, so
// a superseding run replaces the employer_id a record already carries.
func (a *PostgresAdapter) WriteLegacy(ctx context.Context, matches []LegacyMatch) (int64, error) {
	if a.sys.LegacyTable == "" || len(matches) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(matches))
	for _, m := range matches {
		rows = append(rows, []any{m.SourceSystem, m.SourceID, m.EmployerID, m.Method, m.Score})
	}

	written, err := db.BulkUpsert(ctx, a.pool, db.AppendConfig{
		Table:       a.sys.LegacyTable,
		Columns:     []string{"source_system", "source_id", "employer_id", "match_method", "confidence_score"},
		ConflictKey: []string{"source_system", "source_id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "source: write legacy projection for %s", a.sys.Name)
	}

	a.log.Info("legacy projection written",
		zap.Int("submitted", len(matches)),
		zap.Int64("written", written),
	)
	return written, nil
}
