// Package materiality decides, per Scope-3 category, whether disclosure is
// mandatory under the double-materiality screening rules.
package materiality

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"carbon-scribe/emissions-engine/internal/inventory"
)

// Canonical screening constants. The legacy scripts carried 5%, 10% and 20%
// thresholds in different places; 5% share-of-total is the single named
// value now.
const (
	// DefaultThreshold is the share-of-total above which a category is
	// always material.
	DefaultThreshold = 0.05

	// DefaultEstimatedFloorKg is the magnitude floor (kg CO2e) above which
	// an estimated-only category is material regardless of share, so poor
	// data cannot hide a large source.
	DefaultEstimatedFloorKg = 1_000_000
)

// sectorRules lists categories that are always material for a sector,
// independent of magnitude.
var sectorRules = map[string][]inventory.Scope3Category{
	"manufacturing": {
		inventory.CategoryPurchasedGoods,
		inventory.CategoryUpstreamTransport,
		inventory.CategoryUseOfSold,
	},
	"financial_services": {
		inventory.CategoryInvestments,
	},
	"energy": {
		inventory.CategoryFuelEnergyRelated,
		inventory.CategoryUseOfSold,
	},
	"retail": {
		inventory.CategoryPurchasedGoods,
		inventory.CategoryDownstreamTransport,
	},
	"transport_logistics": {
		inventory.CategoryFuelEnergyRelated,
		inventory.CategoryUpstreamTransport,
		inventory.CategoryDownstreamTransport,
	},
	"technology": {
		inventory.CategoryPurchasedGoods,
		inventory.CategoryCapitalGoods,
		inventory.CategoryUseOfSold,
	},
}

// Config tunes the screening rules.
type Config struct {
	Threshold        float64
	EstimatedFloorKg float64
}

// DefaultConfig returns the canonical screening configuration.
func DefaultConfig() Config {
	return Config{
		Threshold:        DefaultThreshold,
		EstimatedFloorKg: DefaultEstimatedFloorKg,
	}
}

// Assessor screens Scope-3 category totals for mandatory disclosure.
type Assessor struct {
	cfg Config
}

// NewAssessor creates an assessor; zero config fields fall back to the
// canonical defaults.
func NewAssessor(cfg Config) *Assessor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.EstimatedFloorKg <= 0 {
		cfg.EstimatedFloorKg = DefaultEstimatedFloorKg
	}
	return &Assessor{cfg: cfg}
}

// Assess screens every Scope-3 category present in categoryTotals against
// the grand total. A category is material when its share of total meets the
// threshold, a sector rule fires, or it is estimated-only above the
// magnitude floor; every firing rule lands in Reasons. An unknown sector
// falls back to magnitude-only screening and flags each assessment.
// Deterministic and regenerated fully each run; assessments are returned in
// canonical category order.
func (a *Assessor) Assess(categoryTotals []inventory.CategoryAggregate, sector string, grandTotal decimal.Decimal) []inventory.MaterialityAssessment {
	sector = strings.ToLower(strings.TrimSpace(sector))
	ruleCategories, sectorKnown := sectorRules[sector]

	byCategory := make(map[inventory.Scope3Category]inventory.CategoryAggregate, len(categoryTotals))
	for _, agg := range categoryTotals {
		if agg.Scope != inventory.Scope3 {
			continue
		}
		byCategory[inventory.Scope3Category(agg.Key)] = agg
	}

	total, _ := grandTotal.Float64()

	assessments := make([]inventory.MaterialityAssessment, 0, len(byCategory))
	for _, category := range inventory.Scope3Categories {
		agg, ok := byCategory[category]
		if !ok {
			continue
		}

		co2e, _ := agg.CO2e.Float64()
		var share float64
		if total > 0 {
			share = co2e / total
		}

		assessment := inventory.MaterialityAssessment{
			Category:         category,
			ShareOfTotal:     share,
			DataAvailability: agg.Availability,
			UnknownSector:    !sectorKnown && sector != "",
		}

		if share >= a.cfg.Threshold {
			assessment.Reasons = append(assessment.Reasons,
				fmt.Sprintf("share of total %.2f%% meets %.2f%% threshold", share*100, a.cfg.Threshold*100))
		}
		if sectorKnown && contains(ruleCategories, category) {
			assessment.Reasons = append(assessment.Reasons,
				fmt.Sprintf("sector rule: always material for %s", sector))
		}
		if agg.Availability == inventory.AvailabilityEstimated && co2e > a.cfg.EstimatedFloorKg {
			assessment.Reasons = append(assessment.Reasons,
				fmt.Sprintf("estimated-only data above %.0f kgCO2e floor", a.cfg.EstimatedFloorKg))
		}

		assessment.IsMaterial = len(assessment.Reasons) > 0
		assessments = append(assessments, assessment)
	}

	return assessments
}

func contains(categories []inventory.Scope3Category, c inventory.Scope3Category) bool {
	for _, candidate := range categories {
		if candidate == c {
			return true
		}
	}
	return false
}
