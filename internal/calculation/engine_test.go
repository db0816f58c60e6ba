package calculation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbon-scribe/emissions-engine/internal/audit"
	"carbon-scribe/emissions-engine/internal/factors"
	"carbon-scribe/emissions-engine/internal/inventory"
)

func testPeriod() inventory.Period {
	return inventory.Period{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	}
}

func testSnapshot(t *testing.T) *factors.Snapshot {
	t.Helper()
	entries := []inventory.EmissionFactor{
		{Category: "stationary_combustion", Region: "DE", Year: 2024, Tier: inventory.Tier1,
			Value: decimal.NewFromFloat(0.18454), Unit: "kgCO2e/kWh", UncertaintyPct: 5, Source: "UBA 2024"},
		{Category: "stationary_combustion", Region: "GLOBAL", Year: 2024, Tier: inventory.Tier1,
			Value: decimal.NewFromFloat(0.2), Unit: "kgCO2e/kWh", UncertaintyPct: 15, Source: "IEA 2024"},
		{Category: "purchased_electricity", Region: "GLOBAL", Year: 2024, Tier: inventory.Tier2,
			Value: decimal.NewFromFloat(0.4), Unit: "kgCO2e/kWh", UncertaintyPct: 10, Source: "IEA 2024"},
	}
	for _, category := range inventory.Scope3Categories {
		unc := 20.0
		value := decimal.NewFromFloat(1.0)
		unit := "kgCO2e/kg"
		if category == inventory.CategoryFuelEnergyRelated {
			// Well-to-tank factor for energy activity.
			value = decimal.NewFromFloat(0.05)
			unit = "kgCO2e/kWh"
		}
		entries = append(entries, inventory.EmissionFactor{
			Category: string(category), Region: "GLOBAL", Year: 2024, Tier: inventory.Tier2,
			Value: value, Unit: unit, UncertaintyPct: unc, Source: "EXIOBASE",
		})
	}

	snapshot, err := factors.NewSnapshot("test-v1", entries)
	require.NoError(t, err)
	return snapshot
}

func testEngine(t *testing.T, ledger *audit.Ledger, mutate func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Seed = 7
	if mutate != nil {
		mutate(&cfg)
	}
	engine, err := NewEngine(testSnapshot(t), ledger, zap.NewNop(), cfg)
	require.NoError(t, err)
	return engine
}

func scope1Record(quantity float64) inventory.ActivityRecord {
	return inventory.ActivityRecord{
		ID:           uuid.New(),
		Scope:        inventory.Scope1,
		ActivityType: "stationary_combustion",
		Quantity:     decimal.NewFromFloat(quantity),
		Unit:         "kWh",
		Region:       "DE",
		Period:       testPeriod(),
		Quality:      inventory.QualityInputs{Completeness: 1, Temporal: 1, Geographic: 1, Technological: 1},
	}
}

func scope3Record(category inventory.Scope3Category, quantityKg float64) inventory.ActivityRecord {
	return inventory.ActivityRecord{
		ID:       uuid.New(),
		Scope:    inventory.Scope3,
		Category: category,
		Quantity: decimal.NewFromFloat(quantityKg),
		Unit:     "kg",
		Region:   "GLOBAL",
		Period:   testPeriod(),
		Quality:  inventory.QualityInputs{Completeness: 0.7, Temporal: 0.7, Geographic: 0.7, Technological: 0.7},
	}
}

func TestCalculateSingleRecord(t *testing.T) {
	ledger := audit.NewLedger(nil, zap.NewNop())
	engine := testEngine(t, ledger, nil)

	result, err := engine.Calculate(context.Background(), &Request{
		Records: []inventory.ActivityRecord{scope1Record(1000)},
		Sector:  "manufacturing",
		Actor:   "test",
	})
	require.NoError(t, err)

	assert.Equal(t, inventory.BatchComplete, result.Status)
	require.Len(t, result.Results, 1)
	assert.Empty(t, result.UnresolvedRecords)

	r := result.Results[0]
	assert.Equal(t, inventory.StatusResolved, r.Status)
	assert.True(t, r.CO2e.Equal(decimal.NewFromFloat(184.54)), "got %s", r.CO2e)

	require.NotNil(t, r.Uncertainty)
	assert.InDelta(t, 166.455, r.Uncertainty.Lower, 0.01)
	assert.InDelta(t, 202.625, r.Uncertainty.Upper, 0.01)
	assert.Equal(t, inventory.ModeClosedForm, r.Uncertainty.Mode)

	require.NotNil(t, r.Quality)
	assert.Equal(t, inventory.Tier1, r.Quality.Tier)
	require.NotNil(t, r.Factor)
	assert.Equal(t, "DE", r.Factor.Region)
	assert.Empty(t, r.FallbackNotes)

	assert.True(t, result.Total.CO2e.Equal(decimal.NewFromFloat(184.54)))
	assert.Equal(t, 1, result.Total.RecordCount)

	assert.Equal(t, inventory.ModeSeeded, result.Metadata.RNGMode)
	assert.Equal(t, "test-v1", result.Metadata.SnapshotVersion)
	assert.Len(t, ledger.Entries(), 1)
}

func TestCalculateTotalsAreAdditive(t *testing.T) {
	engine := testEngine(t, nil, nil)

	records := []inventory.ActivityRecord{
		scope1Record(1000),
		scope1Record(250.5),
		scope3Record(inventory.CategoryPurchasedGoods, 500),
		scope3Record(inventory.CategoryBusinessTravel, 73.25),
	}
	result, err := engine.Calculate(context.Background(), &Request{Records: records, Actor: "test"})
	require.NoError(t, err)

	recordSum := decimal.Zero
	for _, r := range result.Results {
		recordSum = recordSum.Add(r.CO2e)
	}
	categorySum := decimal.Zero
	for _, agg := range result.Categories {
		categorySum = categorySum.Add(agg.CO2e)
	}
	scopeSum := decimal.Zero
	for _, agg := range result.Scopes {
		scopeSum = scopeSum.Add(agg.CO2e)
	}

	assert.True(t, result.Total.CO2e.Equal(recordSum), "total %s vs record sum %s", result.Total.CO2e, recordSum)
	assert.True(t, result.Total.CO2e.Equal(categorySum))
	assert.True(t, result.Total.CO2e.Equal(scopeSum))
	assert.Equal(t, 4, result.Total.RecordCount)
}

func TestCalculateAllCategoriesMaterial(t *testing.T) {
	engine := testEngine(t, nil, nil)

	records := make([]inventory.ActivityRecord, 0, len(inventory.Scope3Categories))
	for _, category := range inventory.Scope3Categories {
		record := scope3Record(category, 1000)
		if category == inventory.CategoryFuelEnergyRelated {
			// Energy-denominated quantity tuned so the WTT plus T&D terms
			// stay close to the other categories.
			record.Quantity = decimal.NewFromFloat(14000)
			record.Unit = "kWh"
		}
		records = append(records, record)
	}

	result, err := engine.Calculate(context.Background(), &Request{Records: records, Sector: "manufacturing", Actor: "test"})
	require.NoError(t, err)

	require.Len(t, result.Materiality, 15)
	for _, assessment := range result.Materiality {
		assert.True(t, assessment.IsMaterial, "category %s", assessment.Category)
		assert.False(t, assessment.UnknownSector)
	}
	// Canonical category order, independent of input order.
	assert.Equal(t, inventory.CategoryPurchasedGoods, result.Materiality[0].Category)
	assert.Equal(t, inventory.CategoryInvestments, result.Materiality[14].Category)
}

func TestCalculateUnknownCategoryIsolated(t *testing.T) {
	engine := testEngine(t, nil, nil)

	bad := scope3Record("imaginary_category", 1000)
	records := []inventory.ActivityRecord{
		scope1Record(1000),
		bad,
		scope3Record(inventory.CategoryBusinessTravel, 500),
	}
	result, err := engine.Calculate(context.Background(), &Request{Records: records, Actor: "test"})
	require.NoError(t, err)

	assert.Equal(t, inventory.BatchComplete, result.Status)
	require.Len(t, result.Results, 3)
	require.Len(t, result.UnresolvedRecords, 1)

	unresolved := result.UnresolvedRecords[0]
	assert.Equal(t, bad.ID, unresolved.RecordID)
	assert.NotEmpty(t, unresolved.Error)
	assert.True(t, unresolved.CO2e.IsZero())

	// Totals cover resolved records only: 184.54 + 500.
	assert.True(t, result.Total.CO2e.Equal(decimal.NewFromFloat(684.54)), "got %s", result.Total.CO2e)
	assert.Equal(t, 2, result.Total.RecordCount)
}

func TestCalculateDeterministicAcrossRuns(t *testing.T) {
	calcID := uuid.New()
	record := scope3Record(inventory.CategoryWasteGenerated, 200)
	record.Distribution = inventory.DistributionTriangular
	record.Range = &inventory.UncertaintyRange{Min: 150, Max: 250}

	run := func() *inventory.InventoryResult {
		engine := testEngine(t, nil, nil)
		result, err := engine.Calculate(context.Background(), &Request{
			CalculationID: calcID,
			Records:       []inventory.ActivityRecord{record},
			Actor:         "test",
		})
		require.NoError(t, err)
		return result
	}

	first := run()
	second := run()

	u1 := first.Results[0].Uncertainty
	u2 := second.Results[0].Uncertainty
	require.NotNil(t, u1)
	require.NotNil(t, u2)

	assert.Equal(t, inventory.ModeSeeded, u1.Mode)
	assert.Equal(t, u1.Lower, u2.Lower, "bounds must be bit-identical across runs")
	assert.Equal(t, u1.Upper, u2.Upper)
	assert.Equal(t, u1.StdDev, u2.StdDev)
}

func TestCalculateSeedChangesBounds(t *testing.T) {
	record := scope3Record(inventory.CategoryWasteGenerated, 200)
	record.Distribution = inventory.DistributionTriangular
	record.Range = &inventory.UncertaintyRange{Min: 150, Max: 250}

	run := func(seed uint64) *inventory.UncertaintyResult {
		engine := testEngine(t, nil, func(cfg *Config) { cfg.Seed = seed })
		result, err := engine.Calculate(context.Background(), &Request{
			CalculationID: uuid.New(),
			Records:       []inventory.ActivityRecord{record},
			Actor:         "test",
		})
		require.NoError(t, err)
		return result.Results[0].Uncertainty
	}

	u1 := run(7)
	u2 := run(8)
	assert.Equal(t, u1.Point, u2.Point, "the point estimate never depends on the seed")
	assert.NotEqual(t, u1.Lower, u2.Lower)
}

func TestCalculateUnitConversion(t *testing.T) {
	engine := testEngine(t, nil, nil)

	record := scope1Record(1)
	record.Unit = "MWh"
	result, err := engine.Calculate(context.Background(), &Request{
		Records: []inventory.ActivityRecord{record},
		Actor:   "test",
	})
	require.NoError(t, err)

	// 1 MWh = 1000 kWh against a per-kWh factor.
	assert.True(t, result.Results[0].CO2e.Equal(decimal.NewFromFloat(184.54)), "got %s", result.Results[0].CO2e)
}

func TestCalculateUnitMismatchIsolated(t *testing.T) {
	engine := testEngine(t, nil, nil)

	record := scope1Record(1000)
	record.Unit = "kg"
	result, err := engine.Calculate(context.Background(), &Request{
		Records: []inventory.ActivityRecord{record},
		Actor:   "test",
	})
	require.NoError(t, err)

	require.Len(t, result.UnresolvedRecords, 1)
	assert.Contains(t, result.UnresolvedRecords[0].Error, "kg")
}

func TestCalculateFallbackDowngradesQuality(t *testing.T) {
	engine := testEngine(t, nil, nil)

	record := scope1Record(1000)
	record.Region = "FR" // only DE and GLOBAL exist
	result, err := engine.Calculate(context.Background(), &Request{
		Records: []inventory.ActivityRecord{record},
		Actor:   "test",
	})
	require.NoError(t, err)

	r := result.Results[0]
	assert.Equal(t, inventory.StatusResolved, r.Status)
	require.NotNil(t, r.Factor)
	assert.Equal(t, "GLOBAL", r.Factor.Region)
	assert.NotEmpty(t, r.FallbackNotes)
	assert.Equal(t, inventory.Tier3, r.Quality.Tier, "global fallback despite perfect quality inputs")

	require.Len(t, result.Categories, 1)
	assert.Equal(t, inventory.AvailabilityEstimated, result.Categories[0].Availability)

	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "fallback")
}

func TestCalculateCategory3IncludesTransmissionLosses(t *testing.T) {
	engine := testEngine(t, nil, nil)

	record := scope3Record(inventory.CategoryFuelEnergyRelated, 0)
	record.Quantity = decimal.NewFromFloat(1000)
	record.Unit = "kWh"
	result, err := engine.Calculate(context.Background(), &Request{
		Records: []inventory.ActivityRecord{record},
		Actor:   "test",
	})
	require.NoError(t, err)

	r := result.Results[0]
	require.Equal(t, inventory.StatusResolved, r.Status, r.Error)

	// WTT: 1000 kWh * 0.05. T&D: 1000 kWh * 0.4 * 0.05/0.95 losses of
	// generation.
	co2e, _ := r.CO2e.Float64()
	assert.InDelta(t, 50+21.052631578947, co2e, 1e-6)
}

func TestCalculateGasBreakdown(t *testing.T) {
	engine := testEngine(t, nil, nil)

	record := scope1Record(1000)
	record.GasMasses = map[inventory.Gas]float64{
		inventory.GasCO2: 100,
		inventory.GasCH4: 2,
	}
	result, err := engine.Calculate(context.Background(), &Request{
		Records: []inventory.ActivityRecord{record},
		Actor:   "test",
	})
	require.NoError(t, err)

	r := result.Results[0]
	require.NotNil(t, r.Breakdown)
	assert.Equal(t, inventory.GWPAR6, r.Breakdown.GWPVersion)
	assert.InDelta(t, 100+2*27.9, r.Breakdown.TotalCO2e, 1e-9)
}

func TestCalculateEmptyBatchRejected(t *testing.T) {
	engine := testEngine(t, nil, nil)

	_, err := engine.Calculate(context.Background(), &Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no activity records")
}

func TestCalculateCancelledContextPartial(t *testing.T) {
	engine := testEngine(t, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := engine.Calculate(ctx, &Request{
		Records: []inventory.ActivityRecord{scope1Record(1000), scope1Record(2000)},
		Actor:   "test",
	})
	require.NoError(t, err)

	assert.Equal(t, inventory.BatchPartial, result.Status)
	assert.Empty(t, result.Results)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[len(result.Warnings)-1], "cancelled")
}

func TestCalculateAssignsCalculationID(t *testing.T) {
	engine := testEngine(t, nil, nil)

	result, err := engine.Calculate(context.Background(), &Request{
		Records: []inventory.ActivityRecord{scope1Record(1000)},
		Actor:   "test",
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, result.CalculationID)

	preset := uuid.New()
	result, err = engine.Calculate(context.Background(), &Request{
		CalculationID: preset,
		Records:       []inventory.ActivityRecord{scope1Record(1000)},
		Actor:         "test",
	})
	require.NoError(t, err)
	assert.Equal(t, preset, result.CalculationID)
}

func TestIsPerRecordError(t *testing.T) {
	assert.True(t, IsPerRecordError(&inventory.FactorNotFoundError{Category: "x"}))
	assert.True(t, IsPerRecordError(&inventory.UnitMismatchError{ActivityUnit: "kg", FactorUnit: "kgCO2e/kWh"}))
	assert.True(t, IsPerRecordError(&inventory.UnknownCategoryError{Raw: "x"}))
	assert.False(t, IsPerRecordError(assert.AnError))
}
