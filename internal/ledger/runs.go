package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/unionresearch/orgmatch/internal/db"
)

// Run is one row of org_match.match_runs. A run records a single invocation
// of a matcher or the consolidator, so every ledger entry is traceable to the
// configuration that produced it.
type Run struct {
	ID           uuid.UUID  `json:"run_id" db:"run_id"`
	Kind         string     `json:"kind" db:"kind"`
	SourceSystem string     `json:"source_system" db:"source_system"`
	Status       string     `json:"status" db:"status"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	Error        string     `json:"error,omitempty" db:"error"`
	TotalSource  int64      `json:"total_source" db:"total_source"`
	TotalMatched int64      `json:"total_matched" db:"total_matched"`
	HighCount    int64      `json:"high_count" db:"high_count"`
	MediumCount  int64      `json:"medium_count" db:"medium_count"`
	LowCount     int64      `json:"low_count" db:"low_count"`
}

// RunCounts are the totals recorded when a run completes.
type RunCounts struct {
	TotalSource  int64
	TotalMatched int64
	High         int64
	Medium       int64
	Low          int64
}

// Runs tracks matcher and consolidator invocations in org_match.match_runs.
type Runs struct {
	pool db.Pool
}

// NewRuns creates a run tracker backed by the given connection pool.
func NewRuns(pool db.Pool) *Runs {
	return &Runs{pool: pool}
}

// Start registers a new run and returns its id. Kind is the operation name
// ("deterministic", "probabilistic", "consolidate", "dedupe", "repair").
func (r *Runs) Start(ctx context.Context, kind, sourceSystem string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := r.pool.Exec(ctx, `
INSERT INTO org_match.match_runs (run_id, kind, source_system, status, started_at)
VALUES ($1, $2, $3, 'running', now())`,
		id, kind, sourceSystem,
	)
	if err != nil {
		return uuid.Nil, eris.Wrapf(err, "ledger: start %s run", kind)
	}
	zap.L().Info("ledger: run started",
		zap.String("run_id", id.String()),
		zap.String("kind", kind),
		zap.String("source_system", sourceSystem),
	)
	return id, nil
}

// Complete marks a run finished and records its counts.
func (r *Runs) Complete(ctx context.Context, id uuid.UUID, counts RunCounts) error {
	_, err := r.pool.Exec(ctx, `
UPDATE org_match.match_runs
SET status = 'complete', completed_at = now(),
    total_source = $2, total_matched = $3,
    high_count = $4, medium_count = $5, low_count = $6
WHERE run_id = $1`,
		id, counts.TotalSource, counts.TotalMatched, counts.High, counts.Medium, counts.Low,
	)
	if err != nil {
		return eris.Wrapf(err, "ledger: complete run %s", id)
	}
	return nil
}

// Fail marks a run failed with the error message that stopped it. Partial
// ledger writes from a failed run stay in place; re-running with the same
// inputs converges because writes are idempotent.
func (r *Runs) Fail(ctx context.Context, id uuid.UUID, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	_, err := r.pool.Exec(ctx, `
UPDATE org_match.match_runs
SET status = 'failed', completed_at = now(), error = $2
WHERE run_id = $1`,
		id, msg,
	)
	if err != nil {
		return eris.Wrapf(err, "ledger: fail run %s", id)
	}
	return nil
}

// List returns the most recent runs, newest first.
func (r *Runs) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
SELECT run_id, kind, source_system, status, started_at, completed_at,
       COALESCE(error, ''), total_source, total_matched,
       high_count, medium_count, low_count
FROM org_match.match_runs
ORDER BY started_at DESC
LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(
			&run.ID, &run.Kind, &run.SourceSystem, &run.Status,
			&run.StartedAt, &run.CompletedAt, &run.Error,
			&run.TotalSource, &run.TotalMatched,
			&run.HighCount, &run.MediumCount, &run.LowCount,
		); err != nil {
			return nil, eris.Wrap(err, "ledger: scan run row")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "ledger: iterate run rows")
	}
	return runs, nil
}
