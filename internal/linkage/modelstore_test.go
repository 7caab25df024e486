package linkage

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelStoreRoundTrip(t *testing.T) {
	store, err := OpenModelStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	runID := uuid.New()
	params := Params{
		Fields: []FieldParams{
			{Name: "name", M: []float64{0.05, 0.15, 0.80}, U: []float64{0.95, 0.04, 0.01}},
		},
		Prior: 0.02,
		Seed:  42,
	}

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, runID, "probabilistic", params.Seed, params))

	got, err := store.Load(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, params, got)
}

func TestModelStoreSaveIdempotent(t *testing.T) {
	store, err := OpenModelStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	runID := uuid.New()
	params := Params{Fields: []FieldParams{{Name: "name", M: []float64{1}, U: []float64{1}}}, Prior: 0.5}

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, runID, "probabilistic", 1, params))
	require.NoError(t, store.Save(ctx, runID, "probabilistic", 1, params))
}

func TestModelStoreLoadMissingRun(t *testing.T) {
	store, err := OpenModelStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Load(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no model archived")
}
