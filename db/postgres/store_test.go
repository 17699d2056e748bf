package postgres

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"gridsim/decision/billing"
	"gridsim/decision/simulation"
	"gridsim/internal/energy"
	"gridsim/internal/pattern"
)

var (
	_ energy.Topology          = (*Store)(nil)
	_ energy.LoadProfileReader = (*Store)(nil)
	_ energy.PatternReader     = (*Store)(nil)
	_ energy.SolarReader       = (*Store)(nil)
	_ pattern.Store            = (*Store)(nil)
	_ billing.PolicyStore      = (*Store)(nil)
	_ billing.BillSink         = (*Store)(nil)
	_ simulation.RunStore      = (*Store)(nil)
)

func TestSchemaCoversEveryTable(t *testing.T) {
	for _, table := range []string{
		"topology_nodes",
		"simulation_runs",
		"simulation_selected_policies",
		"net_metering_policy_params",
		"gross_metering_policy_params",
		"tou_rate_policy_params",
		"house_bills",
		"consumption_templates",
		"consumption_pattern",
		"load_profiles",
		"solar_installations",
	} {
		assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS simulation_engine."+table+" (", table)
	}
	assert.True(t, strings.HasPrefix(schema, "CREATE SCHEMA IF NOT EXISTS simulation_engine;"))
	assert.Contains(t, schema, "UNIQUE (simulation_run_id, house_node_id)")
}

func TestNullHelpers(t *testing.T) {
	assert.False(t, nullUUID(nil).Valid)
	id := uuid.New()
	n := nullUUID(&id)
	assert.True(t, n.Valid)
	assert.Equal(t, id, n.UUID)

	assert.False(t, nullFloat(nil).Valid)
	kw := 4.5
	assert.Equal(t, 4.5, nullFloat(&kw).Float64)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Contains(t, cfg.DSN, "postgres://")
	assert.Equal(t, 25, cfg.MaxOpenConns)
}
