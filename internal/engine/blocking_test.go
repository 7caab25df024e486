package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlockKeys_All(t *testing.T) {
	rec := SourceRecord{
		Name:         "Acme Manufacturing, Inc.",
		Jurisdiction: "OH",
		NAICS:        "331110",
	}
	keys := BlockKeys(rec)
	assert.ElementsMatch(t, []BlockKey{"OH", "OH|33", "OH|ACME "}, keys)
}

func TestBlockKeys_NoJurisdiction(t *testing.T) {
	rec := SourceRecord{Name: "Acme Manufacturing"}
	assert.Empty(t, BlockKeys(rec))
}

func TestBlockKeys_NoNAICS(t *testing.T) {
	rec := SourceRecord{Name: "Acme Manufacturing", Jurisdiction: "oh"}
	keys := BlockKeys(rec)
	assert.ElementsMatch(t, []BlockKey{"OH", "OH|ACME "}, keys)
}

func TestNamePrefix_Short(t *testing.T) {
	assert.Equal(t, "ACME", NamePrefix("Acme LLC"))
}

func TestNamePrefix_Empty(t *testing.T) {
	assert.Equal(t, "", NamePrefix("   "))
}

func TestNAICSPrefix(t *testing.T) {
	assert.Equal(t, "33", NAICSPrefix("331110"))
	assert.Equal(t, "81", NAICSPrefix("81"))
	assert.Equal(t, "", NAICSPrefix("3"))
	assert.Equal(t, "", NAICSPrefix(""))
}
