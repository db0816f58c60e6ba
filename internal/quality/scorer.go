// Package quality scores activity-data quality across four 0-1 dimensions
// and classifies the result into tiers.
package quality

import (
	"fmt"
	"math"

	"carbon-scribe/emissions-engine/internal/inventory"
)

// Dimension weights. Completeness dominates: a data point you are missing
// pieces of is worse than one measured at the wrong granularity. Canonical
// values; the legacy system carried several conflicting hardcoded sets.
const (
	WeightCompleteness  = 0.4
	WeightTemporal      = 0.2
	WeightGeographic    = 0.2
	WeightTechnological = 0.2
)

// Tier thresholds on the weighted overall score. A score exactly on a
// threshold ties to the worse tier.
const (
	Tier1Threshold = 0.8
	Tier2Threshold = 0.5
)

// Score aggregates the four dimensions into a weighted overall score and a
// tier. Monotonic: increasing any one dimension never worsens the score or
// the tier.
func Score(inputs inventory.QualityInputs) (*inventory.DataQualityIndicator, error) {
	for name, v := range map[string]float64{
		"completeness":  inputs.Completeness,
		"temporal":      inputs.Temporal,
		"geographic":    inputs.Geographic,
		"technological": inputs.Technological,
	} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return nil, fmt.Errorf("quality dimension %s out of range: %v", name, v)
		}
	}

	overall := inputs.Completeness*WeightCompleteness +
		inputs.Temporal*WeightTemporal +
		inputs.Geographic*WeightGeographic +
		inputs.Technological*WeightTechnological

	return &inventory.DataQualityIndicator{
		Completeness:  inputs.Completeness,
		Temporal:      inputs.Temporal,
		Geographic:    inputs.Geographic,
		Technological: inputs.Technological,
		OverallScore:  overall,
		Tier:          tierFor(overall),
	}, nil
}

func tierFor(overall float64) inventory.Tier {
	switch {
	case overall > Tier1Threshold:
		return inventory.Tier1
	case overall > Tier2Threshold:
		return inventory.Tier2
	default:
		return inventory.Tier3
	}
}

// Availability maps a tier to how its underlying data was obtained:
// measured for Tier 1, calculated for Tier 2, estimated for Tier 3.
func Availability(tier inventory.Tier) inventory.DataAvailability {
	switch tier {
	case inventory.Tier1:
		return inventory.AvailabilityMeasured
	case inventory.Tier2:
		return inventory.AvailabilityCalculated
	default:
		return inventory.AvailabilityEstimated
	}
}
