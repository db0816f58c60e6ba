package inventory

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Scope identifies the GHG Protocol scope of an activity.
type Scope int

const (
	Scope1 Scope = 1 // direct emissions
	Scope2 Scope = 2 // purchased energy
	Scope3 Scope = 3 // value chain
)

// Valid reports whether s is one of the three GHG Protocol scopes.
func (s Scope) Valid() bool {
	return s >= Scope1 && s <= Scope3
}

// Scope3Category is one of the 15 canonical GHG Protocol Scope-3 categories.
type Scope3Category string

const (
	CategoryPurchasedGoods       Scope3Category = "purchased_goods_services"
	CategoryCapitalGoods         Scope3Category = "capital_goods"
	CategoryFuelEnergyRelated    Scope3Category = "fuel_energy_related"
	CategoryUpstreamTransport    Scope3Category = "upstream_transport_distribution"
	CategoryWasteGenerated       Scope3Category = "waste_generated_in_operations"
	CategoryBusinessTravel       Scope3Category = "business_travel"
	CategoryEmployeeCommuting    Scope3Category = "employee_commuting"
	CategoryUpstreamLeased       Scope3Category = "upstream_leased_assets"
	CategoryDownstreamTransport  Scope3Category = "downstream_transport_distribution"
	CategoryProcessingSold       Scope3Category = "processing_of_sold_products"
	CategoryUseOfSold            Scope3Category = "use_of_sold_products"
	CategoryEndOfLife            Scope3Category = "end_of_life_treatment"
	CategoryDownstreamLeased     Scope3Category = "downstream_leased_assets"
	CategoryFranchises           Scope3Category = "franchises"
	CategoryInvestments          Scope3Category = "investments"
)

// Scope3Categories lists the 15 canonical categories in GHG Protocol order.
var Scope3Categories = []Scope3Category{
	CategoryPurchasedGoods,
	CategoryCapitalGoods,
	CategoryFuelEnergyRelated,
	CategoryUpstreamTransport,
	CategoryWasteGenerated,
	CategoryBusinessTravel,
	CategoryEmployeeCommuting,
	CategoryUpstreamLeased,
	CategoryDownstreamTransport,
	CategoryProcessingSold,
	CategoryUseOfSold,
	CategoryEndOfLife,
	CategoryDownstreamLeased,
	CategoryFranchises,
	CategoryInvestments,
}

// ParseScope3Category normalizes a raw category string once, at the intake
// boundary. Returns UnknownCategoryError for anything outside the 15
// canonical categories.
func ParseScope3Category(raw string) (Scope3Category, error) {
	normalized := Scope3Category(strings.ToLower(strings.TrimSpace(raw)))
	for _, c := range Scope3Categories {
		if c == normalized {
			return c, nil
		}
	}
	return "", &UnknownCategoryError{Raw: raw}
}

// Tier classifies data quality. Tier 1 is the best (specific, measured
// data), Tier 3 the worst (generic defaults). Factor fallback downgrades
// toward Tier 3.
type Tier int

const (
	Tier1 Tier = 1
	Tier2 Tier = 2
	Tier3 Tier = 3
)

// Downgrade returns the next worse tier, capped at Tier 3.
func (t Tier) Downgrade() Tier {
	if t >= Tier3 {
		return Tier3
	}
	return t + 1
}

// Gas identifies a greenhouse gas in a per-gas mass breakdown.
type Gas string

const (
	GasCO2    Gas = "co2"
	GasCH4    Gas = "ch4"
	GasN2O    Gas = "n2o"
	GasSF6    Gas = "sf6"
	GasNF3    Gas = "nf3"
	GasHFC134 Gas = "hfc-134a"
	GasPFC14  Gas = "pfc-14"
)

// GWPVersion selects an IPCC Assessment Report GWP table.
type GWPVersion string

const (
	GWPAR4 GWPVersion = "AR4"
	GWPAR5 GWPVersion = "AR5"
	GWPAR6 GWPVersion = "AR6"
)

// DataAvailability describes how a value was obtained.
type DataAvailability string

const (
	AvailabilityMeasured   DataAvailability = "measured"
	AvailabilityCalculated DataAvailability = "calculated"
	AvailabilityEstimated  DataAvailability = "estimated"
)

// Distribution names the probability distribution used for uncertainty
// propagation.
type Distribution string

const (
	DistributionNormal     Distribution = "normal"
	DistributionLognormal  Distribution = "lognormal"
	DistributionTriangular Distribution = "triangular"
	DistributionUniform    Distribution = "uniform"
)

// SamplingMode records how uncertainty bounds were produced.
type SamplingMode string

const (
	ModeClosedForm SamplingMode = "closed_form"
	ModeSeeded     SamplingMode = "seeded"
	ModeProcess    SamplingMode = "process"
	ModeNone       SamplingMode = "none" // zero uncertainty, no sampling
)

// Period is the reporting period an activity belongs to.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// QualityInputs are the raw 0-1 quality dimension scores supplied with an
// activity record.
type QualityInputs struct {
	Completeness  float64 `json:"completeness"`
	Temporal      float64 `json:"temporal"`
	Geographic    float64 `json:"geographic"`
	Technological float64 `json:"technological"`
}

// UncertaintyRange carries explicit min/max bounds for triangular and
// uniform distributions, which have no percentage parameterization.
type UncertaintyRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// ActivityRecord is one pre-validated activity data point submitted by the
// intake layer. Immutable; owned by the caller.
type ActivityRecord struct {
	ID       uuid.UUID       `json:"id"`
	Scope    Scope           `json:"scope"`
	Category Scope3Category  `json:"category,omitempty"` // Scope 3 only
	// ActivityType is the direct emission type for Scope 1/2 records,
	// e.g. "stationary_combustion" or "purchased_electricity".
	ActivityType string          `json:"activity_type,omitempty"`
	Quantity     decimal.Decimal `json:"quantity"`
	Unit         string          `json:"unit"`
	Region       string          `json:"region"`
	Period       Period          `json:"period"`
	Quality      QualityInputs   `json:"quality"`

	// GasMasses holds measured per-gas masses in kg, when the activity was
	// monitored per gas rather than as a single CO2e quantity.
	GasMasses map[Gas]float64 `json:"gas_masses,omitempty"`

	// ActivityUncertaintyPct is the relative uncertainty of the quantity
	// itself, in percent.
	ActivityUncertaintyPct float64 `json:"activity_uncertainty_pct,omitempty"`

	// Distribution overrides the default (normal) propagation distribution.
	Distribution Distribution      `json:"distribution,omitempty"`
	Range        *UncertaintyRange `json:"range,omitempty"`

	// Methodology optionally overrides the default calculation methodology.
	Methodology string `json:"methodology,omitempty"`
}

// FactorKey returns the registry lookup key for the record: the Scope-3
// category for scope 3, the direct activity type otherwise.
func (r *ActivityRecord) FactorKey() string {
	if r.Scope == Scope3 {
		return string(r.Category)
	}
	return r.ActivityType
}

// EmissionFactor is a registry entry. Resolution hands out copies so that
// later registry updates cannot retroactively alter historical results.
type EmissionFactor struct {
	Category       string          `json:"category"`
	Region         string          `json:"region"`
	Year           int             `json:"year"`
	Tier           Tier            `json:"tier"`
	Value          decimal.Decimal `json:"value"`
	Unit           string          `json:"unit"` // e.g. "kgCO2e/m3"
	UncertaintyPct float64         `json:"uncertainty_pct"`
	Source         string          `json:"source"`

	// GasComponents optionally splits the factor into per-gas emission
	// rates (kg gas per activity unit) for multi-gas breakdowns.
	GasComponents map[Gas]float64 `json:"gas_components,omitempty"`
}

// GHGBreakdown is the per-gas decomposition of a result.
// Invariant: sum(mass * gwp) equals TotalCO2e within rounding tolerance.
type GHGBreakdown struct {
	Masses     map[Gas]float64 `json:"masses"` // kg per gas
	GWPVersion GWPVersion      `json:"gwp_version"`
	TotalCO2e  float64         `json:"total_co2e"`
}

// DataQualityIndicator is the scored quality of a single record.
type DataQualityIndicator struct {
	Completeness  float64 `json:"completeness"`
	Temporal      float64 `json:"temporal"`
	Geographic    float64 `json:"geographic"`
	Technological float64 `json:"technological"`
	OverallScore  float64 `json:"overall_score"`
	Tier          Tier    `json:"tier"`
}

// UncertaintyResult carries the confidence interval for one point estimate.
// Invariant: Lower <= Point <= Upper.
type UncertaintyResult struct {
	Point        float64      `json:"point"`
	Distribution Distribution `json:"distribution"`
	Confidence   float64      `json:"confidence"` // e.g. 95
	Lower        float64      `json:"lower"`
	Upper        float64      `json:"upper"`
	StdDev       float64      `json:"std_dev"` // absolute, for quadrature aggregation
	Iterations   int          `json:"iterations"`
	Mode         SamplingMode `json:"mode"`
}

// ResultStatus marks whether a record was calculated or isolated as failed.
type ResultStatus string

const (
	StatusResolved   ResultStatus = "resolved"
	StatusUnresolved ResultStatus = "unresolved"
)

// EmissionResult is the calculated outcome for one activity record.
type EmissionResult struct {
	RecordID uuid.UUID    `json:"record_id"`
	Status   ResultStatus `json:"status"`

	// Record is a back-reference to the source record, not ownership.
	Record *ActivityRecord `json:"-"`

	CO2e        decimal.Decimal       `json:"co2e"` // kg CO2e
	Breakdown   *GHGBreakdown         `json:"breakdown,omitempty"`
	Uncertainty *UncertaintyResult    `json:"uncertainty,omitempty"`
	Quality     *DataQualityIndicator `json:"quality,omitempty"`

	// Factor is the frozen snapshot of the resolved factor.
	Factor *EmissionFactor `json:"factor,omitempty"`

	// FallbackNotes lists registry fallback steps taken during resolution.
	FallbackNotes []string `json:"fallback_notes,omitempty"`

	// Error annotates an unresolved record with the isolating failure.
	Error string `json:"error,omitempty"`
}

// CategoryAggregate sums all resolved results sharing one factor key.
type CategoryAggregate struct {
	Scope        Scope            `json:"scope"`
	Key          string           `json:"key"` // Scope-3 category or direct activity type
	CO2e         decimal.Decimal  `json:"co2e"`
	Lower        float64          `json:"lower"`
	Upper        float64          `json:"upper"`
	StdDev       float64          `json:"std_dev"`
	RecordCount  int              `json:"record_count"`
	WorstTier    Tier             `json:"worst_tier"`
	Availability DataAvailability `json:"availability"`
}

// ScopeAggregate sums all category aggregates within one scope.
type ScopeAggregate struct {
	Scope       Scope           `json:"scope"`
	CO2e        decimal.Decimal `json:"co2e"`
	Lower       float64         `json:"lower"`
	Upper       float64         `json:"upper"`
	StdDev      float64         `json:"std_dev"`
	RecordCount int             `json:"record_count"`
}

// TotalInventory is the grand total across all scopes.
type TotalInventory struct {
	CO2e        decimal.Decimal `json:"co2e"`
	Lower       float64         `json:"lower"`
	Upper       float64         `json:"upper"`
	StdDev      float64         `json:"std_dev"`
	RecordCount int             `json:"record_count"`
}

// MaterialityAssessment records the disclosure decision for one Scope-3
// category. Regenerated fully each run; materiality is period-relative.
type MaterialityAssessment struct {
	Category         Scope3Category   `json:"category"`
	IsMaterial       bool             `json:"is_material"`
	ShareOfTotal     float64          `json:"share_of_total"` // fraction, 0-1
	Reasons          []string         `json:"reasons"`
	DataAvailability DataAvailability `json:"data_availability"`
	UnknownSector    bool             `json:"unknown_sector,omitempty"`
}

// BatchStatus marks whether a run processed every dispatched record.
type BatchStatus string

const (
	BatchComplete BatchStatus = "complete"
	BatchPartial  BatchStatus = "partial"
)

// RunMetadata captures the configuration a batch ran under, for audit.
type RunMetadata struct {
	GWPVersion      GWPVersion   `json:"gwp_version"`
	SnapshotVersion string       `json:"snapshot_version"`
	RNGMode         SamplingMode `json:"rng_mode"`
	Iterations      int          `json:"iterations"`
	Confidence      float64      `json:"confidence"`
	Workers         int          `json:"workers"`
	StartedAt       time.Time    `json:"started_at"`
	CompletedAt     time.Time    `json:"completed_at"`
}

// InventoryResult is the full outcome of one calculation run. Results keep
// the original input order regardless of worker completion order.
type InventoryResult struct {
	CalculationID     uuid.UUID               `json:"calculation_id"`
	Status            BatchStatus             `json:"status"`
	Results           []EmissionResult        `json:"results"`
	UnresolvedRecords []EmissionResult        `json:"unresolved_records"`
	Categories        []CategoryAggregate     `json:"categories"`
	Scopes            []ScopeAggregate        `json:"scopes"`
	Total             TotalInventory          `json:"total"`
	Materiality       []MaterialityAssessment `json:"materiality"`
	Warnings          []string                `json:"warnings,omitempty"`
	Metadata          RunMetadata             `json:"metadata"`
}
