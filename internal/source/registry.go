// Package source defines the adapter contract for external data sources and
// the registry of known source systems.
package source

import (
	"sort"

	"github.com/rotisserie/eris"
)

// System describes one registered external source. Table and column names
// are a closed set baked into the binary; nothing here is ever interpolated
// from user input.
type System struct {
	// Name is the source_system key used in staging and the ledger.
	Name string
	// Description is the human-readable origin of the data.
	Description string
	// IdentifierColumn names the crosswalk column this source's native
	// identifier populates. Empty when the source carries no corporate
	// identifier beyond its own record id.
	IdentifierColumn string
	// IdentifierFromEIN is set when the identifier value comes from the
	// staged ein field rather than the source_id itself.
	IdentifierFromEIN bool
	// LegacyTable is the per-source projection target for write_legacy,
	// empty when the source has fully migrated to the ledger.
	LegacyTable string
}

// systems is the registry. Keep sorted by name.
var systems = map[string]System{
	"corp_registry_de": {
		Name:             "corp_registry_de",
		Description:      "Delaware corporate registry filings",
		IdentifierColumn: "corp_registry_id",
	},
	"dol_lm10": {
		Name:              "dol_lm10",
		Description:       "DOL LM-10 employer reports",
		IdentifierColumn:  "ein",
		IdentifierFromEIN: true,
	},
	"dol_lm20": {
		Name:        "dol_lm20",
		Description: "DOL LM-20 persuader agreements",
	},
	"dol_olms": {
		Name:              "dol_olms",
		Description:       "DOL OLMS union filings",
		IdentifierColumn:  "ein",
		IdentifierFromEIN: true,
	},
	"eeoc_charges": {
		Name:        "eeoc_charges",
		Description: "EEOC discrimination charge records",
	},
	"epa_echo": {
		Name:        "epa_echo",
		Description: "EPA enforcement and compliance history",
	},
	"fec_committees": {
		Name:        "fec_committees",
		Description: "FEC corporate committee sponsors",
	},
	"fmcs_notices": {
		Name:        "fmcs_notices",
		Description: "FMCS bargaining notices",
	},
	"irs_990": {
		Name:              "irs_990",
		Description:       "IRS Form 990 filer index",
		IdentifierColumn:  "ein",
		IdentifierFromEIN: true,
	},
	"nlrb_elections": {
		Name:        "nlrb_elections",
		Description: "NLRB representation election petitions",
		LegacyTable: "org_match.legacy_match_projection",
	},
	"nlrb_ulp": {
		Name:        "nlrb_ulp",
		Description: "NLRB unfair labor practice charges",
		LegacyTable: "org_match.legacy_match_projection",
	},
	"osha_inspections": {
		Name:        "osha_inspections",
		Description: "OSHA inspection establishments",
		LegacyTable: "org_match.legacy_match_projection",
	},
	"sam_contractors": {
		Name:             "sam_contractors",
		Description:      "SAM.gov federal contractor registrations",
		IdentifierColumn: "contractor_uei",
	},
	"sec_edgar": {
		Name:             "sec_edgar",
		Description:      "SEC EDGAR filer index",
		IdentifierColumn: "cik",
	},
	"usda_ownership": {
		Name:             "usda_ownership",
		Description:      "USDA packers and stockyards ownership records",
		IdentifierColumn: "ownership_id",
	},
	"wa_lni": {
		Name:        "wa_lni",
		Description: "Washington L&I workplace safety records",
	},
	"whd_violations": {
		Name:              "whd_violations",
		Description:       "DOL Wage and Hour Division violation cases",
		IdentifierColumn:  "ein",
		IdentifierFromEIN: true,
	},
}

// crosswalkColumns is the closed set of identifier columns a registry entry
// may target.
var crosswalkColumns = map[string]bool{
	"ein":              true,
	"corp_registry_id": true,
	"contractor_uei":   true,
	"ownership_id":     true,
	"duns":             true,
	"cik":              true,
}

// Lookup returns the registry entry for a source system.
func Lookup(name string) (System, error) {
	sys, ok := systems[name]
	if !ok {
		return System{}, eris.Errorf("source: unknown source system %q", name)
	}
	return sys, nil
}

// Names returns all registered source system names, sorted.
func Names() []string {
	names := make([]string, 0, len(systems))
	for name := range systems {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidIdentifierColumn reports whether col is a crosswalk identifier
// column.
func ValidIdentifierColumn(col string) bool {
	return crosswalkColumns[col]
}
