// Package calculation orchestrates the per-record emission pipeline and
// aggregates record results into a scope-level inventory.
package calculation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"carbon-scribe/emissions-engine/internal/audit"
	"carbon-scribe/emissions-engine/internal/factors"
	"carbon-scribe/emissions-engine/internal/gwp"
	"carbon-scribe/emissions-engine/internal/inventory"
	"carbon-scribe/emissions-engine/internal/materiality"
	"carbon-scribe/emissions-engine/internal/quality"
	"carbon-scribe/emissions-engine/internal/uncertainty"
)

// DefaultTDLossShare is the share of generated electricity lost in
// transmission and distribution, used for the Scope-3 Category-3 T&D term
// when no regional loss factor is available. IEA world average.
const DefaultTDLossShare = 0.05

// Config is the engine configuration surface.
type Config struct {
	GWPVersion           inventory.GWPVersion
	Confidence           float64
	Iterations           int
	MaterialityThreshold float64
	EstimatedFloorKg     float64

	// Deterministic seeds every record's sampling from (Seed,
	// calculation_id, record_id); otherwise the process RNG is used. The
	// mode is recorded in the run metadata either way.
	Deterministic bool
	Seed          uint64

	Workers int
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{
		GWPVersion:           inventory.GWPAR6,
		Confidence:           uncertainty.DefaultConfidence,
		Iterations:           uncertainty.DefaultIterations,
		MaterialityThreshold: materiality.DefaultThreshold,
		EstimatedFloorKg:     materiality.DefaultEstimatedFloorKg,
		Deterministic:        true,
		Workers:              8,
	}
}

// Request is one calculation batch.
type Request struct {
	// CalculationID may be preset by the caller (e.g. the queue worker);
	// a zero value gets a fresh id.
	CalculationID uuid.UUID
	Records       []inventory.ActivityRecord
	Sector        string
	Actor         string
}

// Engine runs calculation batches against one immutable factor snapshot.
type Engine struct {
	snapshot *factors.Snapshot
	assessor *materiality.Assessor
	ledger   *audit.Ledger
	logger   *zap.Logger
	cfg      Config
}

// NewEngine creates an engine. ledger may be nil when audit recording is
// handled by the caller.
func NewEngine(snapshot *factors.Snapshot, ledger *audit.Ledger, logger *zap.Logger, cfg Config) (*Engine, error) {
	if snapshot == nil {
		return nil, fmt.Errorf("factor snapshot is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := gwp.ValidateVersion(cfg.GWPVersion); err != nil {
		return nil, err
	}
	if cfg.Confidence <= 0 {
		cfg.Confidence = uncertainty.DefaultConfidence
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = uncertainty.DefaultIterations
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	return &Engine{
		snapshot: snapshot,
		assessor: materiality.NewAssessor(materiality.Config{
			Threshold:        cfg.MaterialityThreshold,
			EstimatedFloorKg: cfg.EstimatedFloorKg,
		}),
		ledger: ledger,
		logger: logger,
		cfg:    cfg,
	}, nil
}

// Calculate processes a batch. Individual bad records are isolated into
// UnresolvedRecords and never abort the batch; an empty batch or a
// corrupted configuration aborts before any calculation. Cancellation of
// ctx stops dispatching new records and returns a partial result for the
// work already completed.
func (e *Engine) Calculate(ctx context.Context, req *Request) (*inventory.InventoryResult, error) {
	if req == nil || len(req.Records) == 0 {
		return nil, fmt.Errorf("calculation request has no activity records")
	}
	if err := gwp.ValidateVersion(e.cfg.GWPVersion); err != nil {
		return nil, err
	}

	calculationID := req.CalculationID
	if calculationID == uuid.Nil {
		calculationID = uuid.New()
	}

	startedAt := time.Now().UTC()
	e.logger.Info("starting calculation batch",
		zap.String("calculation_id", calculationID.String()),
		zap.Int("records", len(req.Records)),
		zap.String("gwp_version", string(e.cfg.GWPVersion)),
		zap.String("snapshot_version", e.snapshot.Version()),
		zap.Bool("deterministic", e.cfg.Deterministic))

	results := make([]inventory.EmissionResult, len(req.Records))
	dispatched := make([]bool, len(req.Records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	dispatchedCount := 0
	for i := range req.Records {
		// Batch-level cancellation: stop handing out work, keep what is
		// already in flight.
		if gctx.Err() != nil {
			break
		}
		i := i
		dispatched[i] = true
		dispatchedCount++
		g.Go(func() error {
			results[i] = e.processRecord(calculationID, &req.Records[i])
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; failures are annotations

	status := inventory.BatchComplete
	if dispatchedCount < len(req.Records) {
		status = inventory.BatchPartial
	}

	// Merge in original input order regardless of completion order.
	ordered := make([]inventory.EmissionResult, 0, dispatchedCount)
	unresolved := make([]inventory.EmissionResult, 0)
	for i := range results {
		if !dispatched[i] {
			continue
		}
		ordered = append(ordered, results[i])
		if results[i].Status == inventory.StatusUnresolved {
			unresolved = append(unresolved, results[i])
		}
	}

	result := &inventory.InventoryResult{
		CalculationID:     calculationID,
		Status:            status,
		Results:           ordered,
		UnresolvedRecords: unresolved,
	}

	e.aggregate(result)
	e.assessMateriality(result, req.Sector)
	e.collectWarnings(result)

	rngMode := inventory.ModeProcess
	if e.cfg.Deterministic {
		rngMode = inventory.ModeSeeded
	}
	result.Metadata = inventory.RunMetadata{
		GWPVersion:      e.cfg.GWPVersion,
		SnapshotVersion: e.snapshot.Version(),
		RNGMode:         rngMode,
		Iterations:      e.cfg.Iterations,
		Confidence:      e.cfg.Confidence,
		Workers:         e.cfg.Workers,
		StartedAt:       startedAt,
		CompletedAt:     time.Now().UTC(),
	}

	if e.ledger != nil {
		entry, err := e.ledger.Record(ctx, calculationID, auditInput(req, &result.Metadata), result, req.Actor)
		if err != nil {
			return nil, fmt.Errorf("failed to record audit entry: %w", err)
		}
		e.logger.Info("recorded audit entry",
			zap.String("calculation_id", calculationID.String()),
			zap.String("input_hash", entry.InputHash),
			zap.String("output_hash", entry.OutputHash))
	}

	e.logger.Info("calculation batch finished",
		zap.String("calculation_id", calculationID.String()),
		zap.String("status", string(status)),
		zap.Int("resolved", len(ordered)-len(unresolved)),
		zap.Int("unresolved", len(unresolved)),
		zap.Duration("elapsed", result.Metadata.CompletedAt.Sub(startedAt)))

	return result, nil
}

// auditInput is the canonical input payload hashed into the audit ledger.
func auditInput(req *Request, meta *inventory.RunMetadata) map[string]any {
	return map[string]any{
		"records":          req.Records,
		"sector":           req.Sector,
		"gwp_version":      meta.GWPVersion,
		"snapshot_version": meta.SnapshotVersion,
		"rng_mode":         meta.RNGMode,
		"iterations":       meta.Iterations,
		"confidence":       meta.Confidence,
	}
}

// processRecord runs the full per-record pipeline: factor resolution, unit
// compatibility, point estimate, gas harmonization, quality scoring and
// uncertainty propagation. Any per-record error becomes a status=unresolved
// annotation.
func (e *Engine) processRecord(calculationID uuid.UUID, record *inventory.ActivityRecord) inventory.EmissionResult {
	result := inventory.EmissionResult{
		RecordID: record.ID,
		Record:   record,
		Status:   inventory.StatusResolved,
	}

	if err := e.calculateRecord(calculationID, record, &result); err != nil {
		result.Status = inventory.StatusUnresolved
		result.Error = err.Error()
		result.CO2e = decimal.Zero
		e.logger.Warn("record isolated from batch",
			zap.String("calculation_id", calculationID.String()),
			zap.String("record_id", record.ID.String()),
			zap.Error(err))
	}
	return result
}

func (e *Engine) calculateRecord(calculationID uuid.UUID, record *inventory.ActivityRecord, result *inventory.EmissionResult) error {
	if !record.Scope.Valid() {
		return fmt.Errorf("invalid scope %d", record.Scope)
	}
	if record.Scope == inventory.Scope3 {
		if _, err := inventory.ParseScope3Category(string(record.Category)); err != nil {
			return err
		}
	}
	if record.FactorKey() == "" {
		return &inventory.UnknownCategoryError{Raw: record.FactorKey()}
	}
	if !record.Quantity.IsPositive() {
		return fmt.Errorf("quantity must be positive, got %s", record.Quantity)
	}

	resolution, err := e.snapshot.Resolve(record.FactorKey(), record.Region, record.Period.Start.Year(), 0)
	if err != nil {
		return err
	}
	factor := resolution.Factor // copy, frozen into the result
	result.Factor = &factor
	result.FallbackNotes = resolution.FallbackSteps

	conversion, err := conversionFactor(record.Unit, factor.Unit)
	if err != nil {
		return err
	}

	co2e := record.Quantity.Mul(conversion).Mul(factor.Value)

	// Scope-3 Category 3: well-to-tank plus transmission & distribution
	// losses, per the GHG Protocol methodology.
	if record.Scope == inventory.Scope3 && record.Category == inventory.CategoryFuelEnergyRelated {
		tdTerm, note := e.transmissionLossTerm(record, conversion)
		co2e = co2e.Add(tdTerm)
		if note != "" {
			result.FallbackNotes = append(result.FallbackNotes, note)
		}
	}

	result.CO2e = co2e

	// Multi-gas breakdown: from measured per-gas masses when supplied,
	// else from the factor's per-gas components.
	if len(record.GasMasses) > 0 {
		breakdown, err := gwp.Convert(record.GasMasses, e.cfg.GWPVersion)
		if err != nil {
			return err
		}
		result.Breakdown = breakdown
	} else if len(factor.GasComponents) > 0 {
		quantity, _ := record.Quantity.Mul(conversion).Float64()
		masses := make(map[inventory.Gas]float64, len(factor.GasComponents))
		for gas, rate := range factor.GasComponents {
			masses[gas] = quantity * rate
		}
		breakdown, err := gwp.Convert(masses, e.cfg.GWPVersion)
		if err != nil {
			return err
		}
		result.Breakdown = breakdown
	}

	indicator, err := quality.Score(record.Quality)
	if err != nil {
		return err
	}
	// A factor reached through fallback can never yield a better tier than
	// a more specific one.
	if resolution.EffectiveTier > indicator.Tier {
		indicator.Tier = resolution.EffectiveTier
	}
	result.Quality = indicator

	point, _ := co2e.Float64()
	propagation := uncertainty.Request{
		Point:                  point,
		FactorUncertaintyPct:   factor.UncertaintyPct,
		ActivityUncertaintyPct: record.ActivityUncertaintyPct,
		Distribution:           record.Distribution,
		Range:                  record.Range,
		Iterations:             e.cfg.Iterations,
		Confidence:             e.cfg.Confidence,
	}
	if e.cfg.Deterministic {
		seed := uncertainty.DeriveSeed(e.cfg.Seed, calculationID, record.ID)
		propagation.Seed = &seed
	}
	unc, err := uncertainty.Propagate(propagation)
	if err != nil {
		return err
	}
	result.Uncertainty = unc

	return nil
}

// transmissionLossTerm estimates the T&D loss component of Category 3 for
// energy-denominated activity, from the purchased-electricity grid factor.
// Missing grid factors downgrade to a WTT-only estimate with a notice.
func (e *Engine) transmissionLossTerm(record *inventory.ActivityRecord, conversion decimal.Decimal) (decimal.Decimal, string) {
	if !isEnergyUnit(record.Unit) {
		return decimal.Zero, ""
	}

	gridRes, err := e.snapshot.Resolve("purchased_electricity", record.Region, record.Period.Start.Year(), 0)
	if err != nil {
		return decimal.Zero, "no grid factor available; category 3 computed well-to-tank only"
	}

	gridConversion, err := conversionFactor(record.Unit, gridRes.Factor.Unit)
	if err != nil {
		return decimal.Zero, "grid factor unit incompatible; category 3 computed well-to-tank only"
	}

	// Losses are a share of generation: consumption * share / (1 - share).
	share := decimal.NewFromFloat(DefaultTDLossShare)
	grossUp := share.Div(decimal.NewFromInt(1).Sub(share))
	term := record.Quantity.Mul(gridConversion).Mul(gridRes.Factor.Value).Mul(grossUp)
	return term, ""
}

func isEnergyUnit(unit string) bool {
	switch normalizeUnit(unit) {
	case "kwh", "mwh", "gwh", "gj":
		return true
	}
	return false
}

// aggregate rolls resolved results up into category, scope and total
// aggregates. Uncertainties combine by quadrature on the assumption that
// record-level errors are independent.
func (e *Engine) aggregate(result *inventory.InventoryResult) {
	type key struct {
		scope inventory.Scope
		name  string
	}

	groups := make(map[key]*inventory.CategoryAggregate)
	varByKey := make(map[key]float64)
	bestTier := make(map[key]inventory.Tier)

	for i := range result.Results {
		r := &result.Results[i]
		if r.Status != inventory.StatusResolved {
			continue
		}
		k := key{scope: r.Record.Scope, name: r.Record.FactorKey()}
		agg, ok := groups[k]
		if !ok {
			agg = &inventory.CategoryAggregate{
				Scope:     k.scope,
				Key:       k.name,
				CO2e:      decimal.Zero,
				WorstTier: inventory.Tier1,
			}
			groups[k] = agg
			bestTier[k] = inventory.Tier3
		}
		agg.CO2e = agg.CO2e.Add(r.CO2e)
		agg.RecordCount++
		if r.Quality != nil {
			if r.Quality.Tier > agg.WorstTier {
				agg.WorstTier = r.Quality.Tier
			}
			if r.Quality.Tier < bestTier[k] {
				bestTier[k] = r.Quality.Tier
			}
		}
		if r.Uncertainty != nil {
			varByKey[k] += r.Uncertainty.StdDev * r.Uncertainty.StdDev
		}
	}

	z := uncertainty.ZScore(e.cfg.Confidence)

	keys := make([]key, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].scope != keys[j].scope {
			return keys[i].scope < keys[j].scope
		}
		return keys[i].name < keys[j].name
	})

	scopeCO2e := make(map[inventory.Scope]decimal.Decimal)
	scopeVar := make(map[inventory.Scope]float64)
	scopeCount := make(map[inventory.Scope]int)

	for _, k := range keys {
		agg := groups[k]
		agg.StdDev = sqrt(varByKey[k])
		co2e, _ := agg.CO2e.Float64()
		agg.Lower = clampNonNegative(co2e - z*agg.StdDev)
		agg.Upper = co2e + z*agg.StdDev
		// Estimated-only when every contributing record is Tier 3.
		agg.Availability = quality.Availability(bestTier[k])

		result.Categories = append(result.Categories, *agg)

		scopeCO2e[k.scope] = scopeCO2e[k.scope].Add(agg.CO2e)
		scopeVar[k.scope] += varByKey[k]
		scopeCount[k.scope] += agg.RecordCount
	}

	totalCO2e := decimal.Zero
	var totalVar float64
	totalCount := 0
	for _, scope := range []inventory.Scope{inventory.Scope1, inventory.Scope2, inventory.Scope3} {
		if _, ok := scopeCO2e[scope]; !ok {
			continue
		}
		co2e, _ := scopeCO2e[scope].Float64()
		sd := sqrt(scopeVar[scope])
		result.Scopes = append(result.Scopes, inventory.ScopeAggregate{
			Scope:       scope,
			CO2e:        scopeCO2e[scope],
			StdDev:      sd,
			Lower:       clampNonNegative(co2e - z*sd),
			Upper:       co2e + z*sd,
			RecordCount: scopeCount[scope],
		})
		totalCO2e = totalCO2e.Add(scopeCO2e[scope])
		totalVar += scopeVar[scope]
		totalCount += scopeCount[scope]
	}

	total, _ := totalCO2e.Float64()
	totalSD := sqrt(totalVar)
	result.Total = inventory.TotalInventory{
		CO2e:        totalCO2e,
		StdDev:      totalSD,
		Lower:       clampNonNegative(total - z*totalSD),
		Upper:       total + z*totalSD,
		RecordCount: totalCount,
	}
}

func (e *Engine) assessMateriality(result *inventory.InventoryResult, sector string) {
	scope3 := make([]inventory.CategoryAggregate, 0, len(result.Categories))
	for _, agg := range result.Categories {
		if agg.Scope == inventory.Scope3 {
			scope3 = append(scope3, agg)
		}
	}
	if len(scope3) == 0 {
		return
	}
	result.Materiality = e.assessor.Assess(scope3, sector, result.Total.CO2e)
}

// collectWarnings surfaces non-fatal advisories on the batch result.
func (e *Engine) collectWarnings(result *inventory.InventoryResult) {
	fallbacks := 0
	for i := range result.Results {
		if result.Results[i].Status == inventory.StatusResolved && len(result.Results[i].FallbackNotes) > 0 {
			fallbacks++
		}
	}
	if fallbacks > 0 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%d record(s) resolved through factor fallback with tier downgrade", fallbacks))
	}
	for _, assessment := range result.Materiality {
		if assessment.UnknownSector {
			result.Warnings = append(result.Warnings,
				"unknown sector: materiality screened on magnitude only")
			break
		}
	}
	if result.Status == inventory.BatchPartial {
		result.Warnings = append(result.Warnings,
			"batch cancelled before all records were dispatched; totals cover completed work only")
	}
}

// IsPerRecordError reports whether err is one of the isolating per-record
// failures rather than a batch-level fault.
func IsPerRecordError(err error) bool {
	var factorErr *inventory.FactorNotFoundError
	var gasErr *inventory.UnsupportedGasError
	var unitErr *inventory.UnitMismatchError
	var categoryErr *inventory.UnknownCategoryError
	return errors.As(err, &factorErr) ||
		errors.As(err, &gasErr) ||
		errors.As(err, &unitErr) ||
		errors.As(err, &categoryErr)
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func sqrt(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}
