package linkage

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// ModelStore archives trained model parameters per run in a local SQLite
// file. Parameters are a run artifact for audit and reproduction; the
// matcher never reads them back to seed a later run.
type ModelStore struct {
	db *sql.DB
}

// OpenModelStore opens (creating if needed) the model archive under dir.
func OpenModelStore(dir string) (*ModelStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "linkage: create artifact dir %s", dir)
	}
	path := filepath.Join(dir, "models.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "linkage: open model store")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "linkage: exec %s", pragma)
		}
	}
	store := &ModelStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

const modelStoreMigration = `
CREATE TABLE IF NOT EXISTS model_runs (
	run_id     TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	seed       INTEGER NOT NULL,
	prior      REAL NOT NULL,
	params     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *ModelStore) migrate() error {
	_, err := s.db.Exec(modelStoreMigration)
	return eris.Wrap(err, "linkage: migrate model store")
}

// Close closes the underlying database.
func (s *ModelStore) Close() error {
	return s.db.Close()
}

// Save archives one run's trained parameters.
func (s *ModelStore) Save(ctx context.Context, runID uuid.UUID, kind string, seed int64, params Params) error {
	data, err := json.Marshal(params)
	if err != nil {
		return eris.Wrap(err, "linkage: marshal model params")
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO model_runs (run_id, kind, seed, prior, params, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (run_id) DO NOTHING`,
		runID.String(), kind, seed, params.Prior, string(data), time.Now().UTC(),
	)
	return eris.Wrap(err, "linkage: save model params")
}

// Load reads one archived model back, for inspection tooling.
func (s *ModelStore) Load(ctx context.Context, runID uuid.UUID) (Params, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT params FROM model_runs WHERE run_id = ?`, runID.String(),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return Params{}, eris.Errorf("linkage: no model archived for run %s", runID)
	}
	if err != nil {
		return Params{}, eris.Wrap(err, "linkage: load model params")
	}
	var params Params
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return Params{}, eris.Wrap(err, "linkage: decode model params")
	}
	return params, nil
}
