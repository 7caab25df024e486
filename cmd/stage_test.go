package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRecords(t *testing.T) {
	in := strings.NewReader(`
{"source_id":"1","name":"Acme Widgets Inc.","jurisdiction":"NC"}

{"source_system":"dol_olms","source_id":"2","name":"Zenith Freight LLC","jurisdiction":"OH","ein":"12-3456789"}
`)

	records, err := readRecords(in, "corp_registry_de")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "corp_registry_de", records[0].SourceSystem, "missing source_system defaults to the flag")
	assert.Equal(t, "Acme Widgets Inc.", records[0].Name)
	assert.Equal(t, "dol_olms", records[1].SourceSystem, "explicit source_system is kept")
	assert.Equal(t, "12-3456789", records[1].EIN)
}

func TestReadRecords_BadLine(t *testing.T) {
	in := strings.NewReader(`{"source_id":"1","name":"ok"}
not json`)

	_, err := readRecords(in, "sam_contractors")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd", truncate("abcdef", 4))
}
