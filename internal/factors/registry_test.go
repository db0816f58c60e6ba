package factors

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-scribe/emissions-engine/internal/inventory"
)

func testEntries() []inventory.EmissionFactor {
	return []inventory.EmissionFactor{
		{
			Category: "stationary_combustion", Region: "DE-BW", Year: 2024,
			Tier: inventory.Tier1, Value: decimal.NewFromFloat(0.18100),
			Unit: "kgCO2e/m3", UncertaintyPct: 3, Source: "UBA 2024",
		},
		{
			Category: "stationary_combustion", Region: "DE", Year: 2024,
			Tier: inventory.Tier1, Value: decimal.NewFromFloat(0.18300),
			Unit: "kgCO2e/m3", UncertaintyPct: 4, Source: "UBA 2024",
		},
		{
			Category: "stationary_combustion", Region: "GLOBAL", Year: 2024,
			Tier: inventory.Tier2, Value: decimal.NewFromFloat(0.18454),
			Unit: "kgCO2e/m3", UncertaintyPct: 5, Source: "IPCC 2006",
		},
		{
			Category: "stationary_combustion", Region: "GLOBAL", Year: 2022,
			Tier: inventory.Tier2, Value: decimal.NewFromFloat(0.18600),
			Unit: "kgCO2e/m3", UncertaintyPct: 5, Source: "IPCC 2006",
		},
		{
			Category: "purchased_electricity", Region: "GLOBAL", Year: 2024,
			Tier: inventory.Tier2, Value: decimal.NewFromFloat(0.39278),
			Unit: "kgCO2e/kwh", UncertaintyPct: 10, Source: "CCF global average",
		},
	}
}

func newTestSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	snapshot, err := NewSnapshot("test-v1", testEntries())
	require.NoError(t, err)
	return snapshot
}

func TestResolveExactRegion(t *testing.T) {
	snapshot := newTestSnapshot(t)

	res, err := snapshot.Resolve("stationary_combustion", "DE-BW", 2024, 0)
	require.NoError(t, err)

	assert.Equal(t, "DE-BW", res.Factor.Region)
	assert.Equal(t, inventory.Tier1, res.EffectiveTier)
	assert.Empty(t, res.FallbackSteps)
	assert.True(t, res.Factor.Value.Equal(decimal.NewFromFloat(0.18100)))
}

func TestResolveCountryFallback(t *testing.T) {
	snapshot := newTestSnapshot(t)

	res, err := snapshot.Resolve("stationary_combustion", "DE-BY", 2024, 0)
	require.NoError(t, err)

	assert.Equal(t, "DE", res.Factor.Region)
	assert.Equal(t, inventory.Tier2, res.EffectiveTier, "country fallback downgrades one tier")
	assert.Len(t, res.FallbackSteps, 1)
}

func TestResolveGlobalFallback(t *testing.T) {
	snapshot := newTestSnapshot(t)

	res, err := snapshot.Resolve("stationary_combustion", "FR", 2024, 0)
	require.NoError(t, err)

	assert.Equal(t, GlobalRegion, res.Factor.Region)
	assert.Equal(t, 2024, res.Factor.Year)
	assert.NotEmpty(t, res.FallbackSteps)
}

func TestResolveGlobalLatestYearFallback(t *testing.T) {
	snapshot := newTestSnapshot(t)

	res, err := snapshot.Resolve("stationary_combustion", "FR", 2030, 0)
	require.NoError(t, err)

	assert.Equal(t, GlobalRegion, res.Factor.Region)
	assert.Equal(t, 2024, res.Factor.Year, "latest available year")
	assert.Equal(t, inventory.Tier3, res.EffectiveTier)
	assert.Len(t, res.FallbackSteps, 2)
}

func TestFallbackNeverImprovesTier(t *testing.T) {
	snapshot := newTestSnapshot(t)

	exact, err := snapshot.Resolve("stationary_combustion", "DE-BW", 2024, 0)
	require.NoError(t, err)

	fallback, err := snapshot.Resolve("stationary_combustion", "DE-XX", 2024, 0)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, int(fallback.EffectiveTier), int(exact.EffectiveTier))
}

func TestResolveUnknownCategory(t *testing.T) {
	snapshot := newTestSnapshot(t)

	_, err := snapshot.Resolve("volcano_emissions", "DE", 2024, 0)
	require.Error(t, err)

	var notFound *inventory.FactorNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestResolveReturnsCopy(t *testing.T) {
	snapshot := newTestSnapshot(t)

	first, err := snapshot.Resolve("stationary_combustion", "DE", 2024, 0)
	require.NoError(t, err)
	first.Factor.Source = "tampered"
	first.Factor.Value = decimal.NewFromInt(999)

	second, err := snapshot.Resolve("stationary_combustion", "DE", 2024, 0)
	require.NoError(t, err)
	assert.Equal(t, "UBA 2024", second.Factor.Source)
	assert.True(t, second.Factor.Value.Equal(decimal.NewFromFloat(0.18300)))
}

func TestNewSnapshotRejectsCorruptedTable(t *testing.T) {
	cases := []struct {
		name  string
		entry inventory.EmissionFactor
	}{
		{"empty category", inventory.EmissionFactor{Region: "DE", Year: 2024, Tier: inventory.Tier1, Unit: "kgCO2e/kg"}},
		{"empty unit", inventory.EmissionFactor{Category: "x", Region: "DE", Year: 2024, Tier: inventory.Tier1}},
		{"implausible year", inventory.EmissionFactor{Category: "x", Region: "DE", Year: 1742, Tier: inventory.Tier1, Unit: "kgCO2e/kg"}},
		{"negative value", inventory.EmissionFactor{Category: "x", Region: "DE", Year: 2024, Tier: inventory.Tier1, Unit: "kgCO2e/kg", Value: decimal.NewFromInt(-1)}},
		{"invalid tier", inventory.EmissionFactor{Category: "x", Region: "DE", Year: 2024, Tier: 7, Unit: "kgCO2e/kg"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSnapshot("bad", []inventory.EmissionFactor{tc.entry})
			assert.Error(t, err)
		})
	}
}

func TestNewSnapshotRejectsEmptyTable(t *testing.T) {
	_, err := NewSnapshot("empty", nil)
	assert.Error(t, err)
}

func TestResolvePreferredTier(t *testing.T) {
	entries := append(testEntries(), inventory.EmissionFactor{
		Category: "stationary_combustion", Region: "DE", Year: 2024,
		Tier: inventory.Tier3, Value: decimal.NewFromFloat(0.20000),
		Unit: "kgCO2e/m3", UncertaintyPct: 15, Source: "generic default",
	})
	snapshot, err := NewSnapshot("test-v2", entries)
	require.NoError(t, err)

	res, err := snapshot.Resolve("stationary_combustion", "DE", 2024, inventory.Tier3)
	require.NoError(t, err)
	assert.Equal(t, inventory.Tier3, res.Factor.Tier)

	res, err = snapshot.Resolve("stationary_combustion", "DE", 2024, 0)
	require.NoError(t, err)
	assert.Equal(t, inventory.Tier1, res.Factor.Tier, "best tier wins without a preference")
}
