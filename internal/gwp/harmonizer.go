// Package gwp converts per-gas masses to CO2-equivalent using versioned
// IPCC Global-Warming-Potential tables.
package gwp

import (
	"fmt"
	"math"

	"carbon-scribe/emissions-engine/internal/inventory"
)

// tables maps each supported IPCC Assessment Report version to its 100-year
// GWP factors in kg CO2e per kg gas.
//
// Sources: IPCC AR4 Table 2.14, AR5 Table 8.A.1, AR6 Table 7.SM.7.
var tables = map[inventory.GWPVersion]map[inventory.Gas]float64{
	inventory.GWPAR4: {
		inventory.GasCO2:    1,
		inventory.GasCH4:    25,
		inventory.GasN2O:    298,
		inventory.GasSF6:    22800,
		inventory.GasNF3:    17200,
		inventory.GasHFC134: 1430,
		inventory.GasPFC14:  7390,
	},
	inventory.GWPAR5: {
		inventory.GasCO2:    1,
		inventory.GasCH4:    28,
		inventory.GasN2O:    265,
		inventory.GasSF6:    23500,
		inventory.GasNF3:    16100,
		inventory.GasHFC134: 1300,
		inventory.GasPFC14:  6630,
	},
	inventory.GWPAR6: {
		inventory.GasCO2:    1,
		inventory.GasCH4:    27.9,
		inventory.GasN2O:    273,
		inventory.GasSF6:    24300,
		inventory.GasNF3:    17400,
		inventory.GasHFC134: 1530,
		inventory.GasPFC14:  7380,
	},
}

// ValidateVersion rejects GWP versions outside the supported tables. An
// unknown version is batch-fatal, not per-record.
func ValidateVersion(version inventory.GWPVersion) error {
	if _, ok := tables[version]; !ok {
		return fmt.Errorf("unsupported GWP version %q", version)
	}
	return nil
}

// Factor returns the GWP factor for a single gas under the given version.
func Factor(gas inventory.Gas, version inventory.GWPVersion) (float64, error) {
	table, ok := tables[version]
	if !ok {
		return 0, fmt.Errorf("unsupported GWP version %q", version)
	}
	factor, ok := table[gas]
	if !ok {
		return 0, &inventory.UnsupportedGasError{Gas: gas, Version: version}
	}
	return factor, nil
}

// Convert applies the versioned GWP table to a per-gas mass map (kg per
// gas) and returns the breakdown with its CO2e total. Pure and
// deterministic; an unknown gas fails the whole conversion with
// UnsupportedGasError.
func Convert(masses map[inventory.Gas]float64, version inventory.GWPVersion) (*inventory.GHGBreakdown, error) {
	if err := ValidateVersion(version); err != nil {
		return nil, err
	}

	breakdown := &inventory.GHGBreakdown{
		Masses:     make(map[inventory.Gas]float64, len(masses)),
		GWPVersion: version,
	}

	var total float64
	for gas, mass := range masses {
		factor, err := Factor(gas, version)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(mass) || math.IsInf(mass, 0) || mass < 0 {
			return nil, fmt.Errorf("invalid mass %v for gas %q", mass, gas)
		}
		breakdown.Masses[gas] = mass
		total += mass * factor
	}

	breakdown.TotalCO2e = total
	return breakdown, nil
}
