package linkage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultFieldSpecValid(t *testing.T) {
	spec := DefaultFieldSpec()
	require.NoError(t, spec.Validate())
	assert.Equal(t, "name", spec.Fields[0].Name)
	// Tightest block first, loosest last.
	assert.Equal(t, []string{"jurisdiction"}, spec.Blocking[len(spec.Blocking)-1].Keys)
}

func TestLoadFieldSpecEmptyPathUsesDefault(t *testing.T) {
	spec, err := LoadFieldSpec("")
	require.NoError(t, err)
	assert.Len(t, spec.Fields, len(DefaultFieldSpec().Fields))
}

func TestLoadFieldSpecFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldspec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
fields:
  - name: name
    comparator: trigram
    levels: 3
    partial_threshold: 0.6
  - name: jurisdiction
    comparator: exact
    levels: 2
blocking:
  - name: state
    keys: [jurisdiction]
`), 0o644))

	spec, err := LoadFieldSpec(path)
	require.NoError(t, err)
	require.Len(t, spec.Fields, 2)
	assert.Equal(t, CompareTrigram, spec.Fields[0].Comparator)
	assert.Equal(t, 0.6, spec.Fields[0].PartialThreshold)
}

func TestLoadFieldSpecMissingFile(t *testing.T) {
	_, err := LoadFieldSpec(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestFieldSpecValidate(t *testing.T) {
	tests := []struct {
		name string
		spec FieldSpec
		want string
	}{
		{
			name: "no fields",
			spec: FieldSpec{Blocking: []BlockingRule{{Name: "state", Keys: []string{"jurisdiction"}}}},
			want: "no fields",
		},
		{
			name: "no blocking",
			spec: FieldSpec{Fields: []Field{{Name: "jurisdiction", Comparator: CompareExact, Levels: 2}}},
			want: "no blocking rules",
		},
		{
			name: "duplicate field",
			spec: FieldSpec{
				Fields: []Field{
					{Name: "jurisdiction", Comparator: CompareExact, Levels: 2},
					{Name: "jurisdiction", Comparator: CompareExact, Levels: 2},
				},
				Blocking: []BlockingRule{{Name: "state", Keys: []string{"jurisdiction"}}},
			},
			want: "duplicate field",
		},
		{
			name: "exact needs two levels",
			spec: FieldSpec{
				Fields:   []Field{{Name: "jurisdiction", Comparator: CompareExact, Levels: 3}},
				Blocking: []BlockingRule{{Name: "state", Keys: []string{"jurisdiction"}}},
			},
			want: "must have 2 levels",
		},
		{
			name: "fuzzy needs threshold",
			spec: FieldSpec{
				Fields:   []Field{{Name: "name", Comparator: CompareTrigram, Levels: 3}},
				Blocking: []BlockingRule{{Name: "state", Keys: []string{"jurisdiction"}}},
			},
			want: "partial_threshold",
		},
		{
			name: "unknown blocking key",
			spec: FieldSpec{
				Fields:   []Field{{Name: "jurisdiction", Comparator: CompareExact, Levels: 2}},
				Blocking: []BlockingRule{{Name: "bad", Keys: []string{"phase_of_moon"}}},
			},
			want: "unknown key",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
