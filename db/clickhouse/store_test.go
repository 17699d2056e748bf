package clickhouse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaStatements(t *testing.T) {
	stmts := statements(schema)
	require.Len(t, stmts, 2)
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE TABLE IF NOT EXISTS load_series"))
	assert.True(t, strings.HasPrefix(stmts[1], "CREATE TABLE IF NOT EXISTS solar_reference"))
	for _, s := range stmts {
		assert.NotContains(t, s, "--")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "gridsim", cfg.Database)
	assert.Equal(t, 9000, cfg.Port)
	assert.Positive(t, cfg.BatchSize)
}
