package linkage

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unionresearch/orgmatch/internal/config"
	"github.com/unionresearch/orgmatch/internal/engine"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testLinkageConfig() config.LinkageConfig {
	return config.LinkageConfig{
		Seed:           42,
		EMIterations:   10,
		USampleSize:    200,
		MinReviewScore: 0.5,
	}
}

var sourceRecordColumns = []string{
	"source_system", "source_id", "name", "jurisdiction", "city", "zip", "naics", "ein", "street_address", "alias_name",
}

var canonicalColumns = []string{
	"id", "display_name", "name_aggressive", "jurisdiction", "city", "naics", "size_metric",
}

func TestMatchScoresUnmatchedAgainstCanonical(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM org_match\.source_records`).
		WithArgs("osha_inspections").
		WillReturnRows(pgxmock.NewRows(sourceRecordColumns).
			AddRow("osha_inspections", "A1", "Acme Widgets Inc", "NC", "Durham", "27701", "332710", "", "", ""))
	mock.ExpectQuery(`FROM org_match\.canonical_orgs`).
		WillReturnRows(pgxmock.NewRows(canonicalColumns).
			AddRow(int64(10), "Acme Widgets", "ACME WIDGETS", "NC", "DURHAM", "332710", int64(5)).
			AddRow(int64(20), "Zenith Foundry", "ZENITH FOUNDRY", "NC", "RALEIGH", "541330", int64(3)))

	m := NewMatcher(mock, testLinkageConfig())
	candidates, params, err := m.Match(context.Background(), "osha_inspections", 0)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, candidates, 1, "only the agreeing pair clears the review floor")
	c := candidates[0]
	assert.Equal(t, "A1", c.SourceID)
	assert.Equal(t, int64(10), c.TargetID)
	assert.Equal(t, engine.TierProbabilistic, c.Tier)
	assert.Greater(t, c.Score, 0.5)
	assert.Equal(t, int64(42), params.Seed)
}

func TestMatchNoUnmatchedRecords(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM org_match\.source_records`).
		WithArgs("osha_inspections").
		WillReturnRows(pgxmock.NewRows(sourceRecordColumns))

	m := NewMatcher(mock, testLinkageConfig())
	candidates, _, err := m.Match(context.Background(), "osha_inspections", 0)
	require.NoError(t, err)
	assert.Empty(t, candidates)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMatchEmptyCanonicalSetIsFatal(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM org_match\.source_records`).
		WithArgs("osha_inspections").
		WillReturnRows(pgxmock.NewRows(sourceRecordColumns).
			AddRow("osha_inspections", "A1", "Acme Widgets Inc", "NC", "Durham", "27701", "332710", "", "", ""))
	mock.ExpectQuery(`FROM org_match\.canonical_orgs`).
		WillReturnRows(pgxmock.NewRows(canonicalColumns))

	m := NewMatcher(mock, testLinkageConfig())
	_, _, err = m.Match(context.Background(), "osha_inspections", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "canonical set is empty")
}

func TestMatchLimitBoundsInput(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM org_match\.source_records`).
		WithArgs("osha_inspections", 50).
		WillReturnRows(pgxmock.NewRows(sourceRecordColumns))

	m := NewMatcher(mock, testLinkageConfig())
	_, _, err = m.Match(context.Background(), "osha_inspections", 50)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Rematch loads every staged record, so its query carries no ledger
// exclusion clause.
func TestRematchLoadsAllStagedRecords(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM org_match\.source_records r\s+WHERE r\.source_system = \$1\s+ORDER BY r\.source_id`).
		WithArgs("osha_inspections").
		WillReturnRows(pgxmock.NewRows(sourceRecordColumns))

	m := NewMatcher(mock, testLinkageConfig())
	candidates, _, err := m.Rematch(context.Background(), "osha_inspections", 0)
	require.NoError(t, err)
	assert.Empty(t, candidates)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMatchUnknownSystem(t *testing.T) {
	m := NewMatcher(nil, testLinkageConfig())
	_, _, err := m.Match(context.Background(), "mystery_feed", 0)
	require.Error(t, err)
}

func TestSelfDedupeFindsDuplicateCanonicals(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM org_match\.canonical_orgs`).
		WillReturnRows(pgxmock.NewRows(canonicalColumns).
			AddRow(int64(30), "Acme Widgets Corp", "ACME WIDGETS", "NC", "DURHAM", "332710", int64(2)).
			AddRow(int64(10), "Acme Widgets", "ACME WIDGETS", "NC", "DURHAM", "332710", int64(5)).
			AddRow(int64(40), "Zenith Foundry", "ZENITH FOUNDRY", "NC", "RALEIGH", "541330", int64(3)))

	m := NewMatcher(mock, testLinkageConfig())
	pairs, _, err := m.SelfDedupe(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, pairs, 1)
	assert.Equal(t, int64(10), pairs[0].LeftID)
	assert.Equal(t, int64(30), pairs[0].RightID)
	assert.Greater(t, pairs[0].Score, 0.5)
}
