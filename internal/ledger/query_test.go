package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unionresearch/orgmatch/internal/engine"
)

var entryColumns = []string{
	"id", "run_id", "source_system", "source_id", "target_id",
	"match_method", "match_tier", "confidence_band", "confidence_score",
	"evidence", "status", "created_at", "status_changed_at",
}

func TestListEntriesFilters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runID := uuid.New()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .+ FROM org_match\.unified_match_log WHERE run_id = \$1 AND source_system = \$2 AND status = \$3 ORDER BY created_at DESC, id DESC LIMIT \$4`).
		WithArgs(runID, "osha", "active", 5).
		WillReturnRows(pgxmock.NewRows(entryColumns).
			AddRow(int64(1), runID, "osha", "A1", int64(10),
				"tier1_exact_aggressive", "deterministic", "HIGH", 0.95,
				[]byte(`{"tier":"tier1"}`), "active", created, nil))

	store := NewStore(mock)
	entries, err := store.ListEntries(context.Background(), Filter{
		RunID:        runID,
		SourceSystem: "osha",
		Status:       StatusActive,
		Limit:        5,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "A1", entries[0].SourceID)
	assert.Equal(t, engine.BandHigh, entries[0].Band)
	assert.Equal(t, "tier1", entries[0].Evidence["tier"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListEntriesDefaultLimit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT .+ FROM org_match\.unified_match_log ORDER BY created_at DESC, id DESC LIMIT \$1`).
		WithArgs(defaultListLimit).
		WillReturnRows(pgxmock.NewRows(entryColumns))

	store := NewStore(mock)
	entries, err := store.ListEntries(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveEntry(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runID := uuid.New()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .+ FROM org_match\.unified_match_log WHERE source_system = \$1 AND source_id = \$2 AND status = \$3`).
		WithArgs("osha", "A1", "active", 2).
		WillReturnRows(pgxmock.NewRows(entryColumns).
			AddRow(int64(1), runID, "osha", "A1", int64(10),
				"tier2_exact_standard", "deterministic", "MEDIUM", 0.90,
				[]byte(nil), "active", created, nil))

	store := NewStore(mock)
	entry, err := store.ActiveEntry(context.Background(), "osha", "A1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(10), entry.TargetID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveEntryUnmatched(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT .+ FROM org_match\.unified_match_log`).
		WithArgs("osha", "ZZZ", "active", 2).
		WillReturnRows(pgxmock.NewRows(entryColumns))

	store := NewStore(mock)
	entry, err := store.ActiveEntry(context.Background(), "osha", "ZZZ")
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.NoError(t, mock.ExpectationsWereMet())
}
