package factory_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MiltronBee/leave-engine/config"
	"github.com/MiltronBee/leave-engine/factory"
	"github.com/MiltronBee/leave-engine/generic"
	memstore "github.com/MiltronBee/leave-engine/generic/store"
	"github.com/MiltronBee/leave-engine/rotation"
)

func TestNewEngine_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Seed.File = ""

	engine, err := factory.NewEngine(context.Background(), cfg, memstore.NewMemory(), factory.EngineOptions{})
	require.NoError(t, err)

	assert.Len(t, engine.Catalog.Rules(), len(rotation.ProductionRules()))
	band, err := engine.Table.Lookup(8)
	require.NoError(t, err)
	assert.Equal(t, 22, band.TotalDays)
	assert.NotNil(t, engine.Programs)
	assert.NotNil(t, engine.Planner)
	assert.NotNil(t, engine.Scheduler)
}

func TestNewEngine_AppliesSeedFile(t *testing.T) {
	// GIVEN: A seed file with two rules and two groups
	// WHEN: Building the engine over an empty store
	// THEN: The catalog holds the seed rules and the directory is populated

	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(plantSeed), 0o600))

	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Seed.File = path

	mem := memstore.NewMemory()
	engine, err := factory.NewEngine(context.Background(), cfg, mem, factory.EngineOptions{})
	require.NoError(t, err)

	assert.Len(t, engine.Catalog.Rules(), 2)
	g, err := mem.GetGroup(context.Background(), "G1")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, generic.RuleID("R0144"), g.RuleID)

	days, err := engine.Resolver.Calendar(context.Background(), "", *g, generic.Period{
		Start: generic.MustDate("2026-01-01"), End: generic.MustDate("2026-01-01"),
	})
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, rotation.ActivityInadmissible, days[0].Activity)
}

func TestNewEngine_MissingSeedFile(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Seed.File = filepath.Join(t.TempDir(), "missing.yaml")

	_, err = factory.NewEngine(context.Background(), cfg, memstore.NewMemory(), factory.EngineOptions{})
	assert.Error(t, err)
}
