// Package linkage implements Fellegi-Sunter probabilistic record linkage:
// comparison vectors over a configurable field spec, EM-estimated model
// parameters, and pair scoring. Model parameters are an artifact of a single
// run, persisted per run id, never shared state between runs.
package linkage

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Comparator names the similarity function applied to one field.
type Comparator string

const (
	CompareExact       Comparator = "exact"
	CompareLevenshtein Comparator = "levenshtein"
	CompareTrigram     Comparator = "trigram"
	ComparePrefix      Comparator = "prefix"
)

// Field describes one compared attribute. Levels is the number of discrete
// agreement levels the comparator buckets into: level 0 is disagreement,
// Levels-1 is exact agreement.
type Field struct {
	Name       string     `yaml:"name"`
	Comparator Comparator `yaml:"comparator"`
	Levels     int        `yaml:"levels"`
	// PartialThreshold splits partial from full agreement for the fuzzy
	// comparators, as a similarity in [0,1].
	PartialThreshold float64 `yaml:"partial_threshold"`
	// PrefixLen bounds the prefix comparator.
	PrefixLen int `yaml:"prefix_len"`
}

// BlockingRule restricts which pairs are compared during one EM pass. Rules
// are applied in order; each pass sees a looser block than the one before,
// and the final rule also bounds the scoring pass.
type BlockingRule struct {
	Name string `yaml:"name"`
	// Keys are SourceRecord attributes that must agree for a pair to enter
	// the block: "jurisdiction", "name_prefix", "zip_prefix", "naics2".
	Keys []string `yaml:"keys"`
}

// FieldSpec is the complete linkage configuration for one matcher run.
type FieldSpec struct {
	Fields   []Field        `yaml:"fields"`
	Blocking []BlockingRule `yaml:"blocking"`
}

// DefaultFieldSpec is the spec used when no file is configured. Blocking
// tightest-first so early EM passes see match-rich mixtures.
func DefaultFieldSpec() FieldSpec {
	return FieldSpec{
		Fields: []Field{
			{Name: "name", Comparator: CompareTrigram, Levels: 3, PartialThreshold: 0.60},
			{Name: "jurisdiction", Comparator: CompareExact, Levels: 2},
			{Name: "city", Comparator: CompareLevenshtein, Levels: 3, PartialThreshold: 0.75},
			{Name: "zip", Comparator: ComparePrefix, Levels: 3, PrefixLen: 3},
			{Name: "naics", Comparator: ComparePrefix, Levels: 3, PrefixLen: 2},
			{Name: "street_address", Comparator: CompareLevenshtein, Levels: 3, PartialThreshold: 0.70},
		},
		Blocking: []BlockingRule{
			{Name: "state_name_prefix", Keys: []string{"jurisdiction", "name_prefix"}},
			{Name: "state_zip", Keys: []string{"jurisdiction", "zip_prefix"}},
			{Name: "state", Keys: []string{"jurisdiction"}},
		},
	}
}

// LoadFieldSpec reads a field spec from a YAML file. An empty path returns
// the default spec.
func LoadFieldSpec(path string) (FieldSpec, error) {
	if path == "" {
		return DefaultFieldSpec(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return FieldSpec{}, eris.Wrapf(err, "linkage: read field spec %s", path)
	}
	var spec FieldSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return FieldSpec{}, eris.Wrapf(err, "linkage: parse field spec %s", path)
	}
	if err := spec.Validate(); err != nil {
		return FieldSpec{}, err
	}
	return spec, nil
}

// Validate rejects specs the model cannot run on.
func (s FieldSpec) Validate() error {
	if len(s.Fields) == 0 {
		return eris.New("linkage: field spec has no fields")
	}
	if len(s.Blocking) == 0 {
		return eris.New("linkage: field spec has no blocking rules")
	}
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return eris.New("linkage: field with empty name")
		}
		if seen[f.Name] {
			return eris.Errorf("linkage: duplicate field %q", f.Name)
		}
		seen[f.Name] = true
		switch f.Comparator {
		case CompareExact:
			if f.Levels != 2 {
				return eris.Errorf("linkage: exact field %q must have 2 levels", f.Name)
			}
		case CompareLevenshtein, CompareTrigram:
			if f.Levels != 3 {
				return eris.Errorf("linkage: fuzzy field %q must have 3 levels", f.Name)
			}
			if f.PartialThreshold <= 0 || f.PartialThreshold >= 1 {
				return eris.Errorf("linkage: field %q needs partial_threshold in (0,1)", f.Name)
			}
		case ComparePrefix:
			if f.Levels != 3 {
				return eris.Errorf("linkage: prefix field %q must have 3 levels", f.Name)
			}
			if f.PrefixLen <= 0 {
				return eris.Errorf("linkage: field %q needs positive prefix_len", f.Name)
			}
		default:
			return eris.Errorf("linkage: field %q has unknown comparator %q", f.Name, f.Comparator)
		}
	}
	for _, b := range s.Blocking {
		if len(b.Keys) == 0 {
			return eris.Errorf("linkage: blocking rule %q has no keys", b.Name)
		}
		for _, k := range b.Keys {
			switch k {
			case "jurisdiction", "name_prefix", "zip_prefix", "naics2":
			default:
				return eris.Errorf("linkage: blocking rule %q has unknown key %q", b.Name, k)
			}
		}
	}
	return nil
}
