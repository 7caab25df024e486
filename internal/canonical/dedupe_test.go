package canonical

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unionresearch/orgmatch/internal/linkage"
)

func TestElectSurvivor(t *testing.T) {
	tests := []struct {
		name    string
		members []groupMember
		want    int64
	}{
		{
			name: "preferred flag wins over size",
			members: []groupMember{
				{id: 1, size: 100},
				{id: 2, preferred: true, size: 3},
			},
			want: 2,
		},
		{
			name: "largest size wins without flags",
			members: []groupMember{
				{id: 1, size: 5},
				{id: 2, size: 50},
			},
			want: 2,
		},
		{
			name: "lowest id breaks full ties",
			members: []groupMember{
				{id: 9, size: 5},
				{id: 3, size: 5},
			},
			want: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, electSurvivor(tt.members))
		})
	}
}

var dupGroupColumns = []string{"name_aggressive", "jurisdiction", "id", "is_preferred", "size_metric"}

func TestDedupeDryRunPlansWithoutWriting(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`HAVING count\(\*\) > 1`).
		WillReturnRows(pgxmock.NewRows(dupGroupColumns).
			AddRow("ACME WIDGETS", "NC", int64(10), false, int64(50)).
			AddRow("ACME WIDGETS", "NC", int64(30), false, int64(2)).
			AddRow("ZENITH FOUNDRY", "SC", int64(40), true, int64(1)).
			AddRow("ZENITH FOUNDRY", "SC", int64(41), false, int64(99)))

	c := NewConsolidator(mock)
	summary, plan, err := c.Dedupe(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Groups)
	assert.Zero(t, summary.Merged)

	require.Len(t, plan, 2)
	assert.Equal(t, MergePlan{DeletedID: 30, KeptID: 10, Score: 1.0}, plan[0])
	assert.Equal(t, MergePlan{DeletedID: 41, KeptID: 40, Score: 1.0}, plan[1], "preferred flag beats size")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectMergeTx(mock pgxmock.PgxPoolIface, deleted, kept int64) {
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE org_match\.canonical_orgs\s+SET merged_into = \$1`).
		WithArgs(kept, deleted).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO org_match\.canonical_merges`).
		WithArgs(deleted, kept, 1.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO org_match\.canonical_members`).
		WithArgs(kept, deleted).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM org_match\.canonical_members`).
		WithArgs(deleted).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM org_match\.corporate_identifier_crosswalk`).
		WithArgs(kept, deleted).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`SET is_representative = true`).
		WithArgs(kept).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectCommit()
}

func TestDedupeAppliesMerges(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`HAVING count\(\*\) > 1`).
		WillReturnRows(pgxmock.NewRows(dupGroupColumns).
			AddRow("ACME WIDGETS", "NC", int64(10), false, int64(50)).
			AddRow("ACME WIDGETS", "NC", int64(30), false, int64(2)))
	expectMergeTx(mock, 30, 10)

	c := NewConsolidator(mock)
	summary, _, err := c.Dedupe(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Merged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeRefusesNonLiveOrg(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE org_match\.canonical_orgs\s+SET merged_into = \$1`).
		WithArgs(int64(10), int64(30)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	c := NewConsolidator(mock)
	err = c.merge(context.Background(), MergePlan{DeletedID: 30, KeptID: 10, Score: 1.0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not live")
}

func TestMergePairsFiltersByFloor(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`WHERE merged_into IS NULL AND id = ANY\(\$1\)`).
		WithArgs([]int64{10, 30}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "is_preferred", "size_metric"}).
			AddRow(int64(10), false, int64(50)).
			AddRow(int64(30), false, int64(2)))

	c := NewConsolidator(mock)
	_, plan, err := c.MergePairs(context.Background(), []linkage.DedupeCandidate{
		{LeftID: 10, RightID: 30, Score: 0.97},
		{LeftID: 40, RightID: 41, Score: 0.60},
	}, 0.95, false)
	require.NoError(t, err)
	require.Len(t, plan, 1, "sub-floor pair never reaches election")
	assert.Equal(t, MergePlan{DeletedID: 30, KeptID: 10, Score: 0.97}, plan[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergePairsSkipsAbsorbedOrgs(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`WHERE merged_into IS NULL AND id = ANY\(\$1\)`).
		WithArgs([]int64{10, 30}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "is_preferred", "size_metric"}).
			AddRow(int64(10), false, int64(50)))

	c := NewConsolidator(mock)
	_, plan, err := c.MergePairs(context.Background(), []linkage.DedupeCandidate{
		{LeftID: 10, RightID: 30, Score: 0.97},
	}, 0.95, false)
	require.NoError(t, err)
	assert.Empty(t, plan)
	assert.NoError(t, mock.ExpectationsWereMet())
}
