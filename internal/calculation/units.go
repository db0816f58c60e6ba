package calculation

import (
	"strings"

	"github.com/shopspring/decimal"

	"carbon-scribe/emissions-engine/internal/inventory"
)

// unitAliases normalizes the unit spellings seen in activity data to one
// canonical symbol each. Normalization happens once, here, instead of ad
// hoc at every lookup.
var unitAliases = map[string]string{
	"kwh":    "kwh",
	"mwh":    "mwh",
	"gwh":    "gwh",
	"gj":     "gj",
	"kg":     "kg",
	"kgs":    "kg",
	"t":      "t",
	"tonne":  "t",
	"tonnes": "t",
	"ton":    "t",
	"l":      "l",
	"litre":  "l",
	"litres": "l",
	"liter":  "l",
	"liters": "l",
	"m3":     "m3",
	"m^3":    "m3",
	"m³":     "m3",
	"km":     "km",
	"mi":     "mi",
	"mile":   "mi",
	"miles":  "mi",
	"tkm":    "tkm",
	"pkm":    "pkm",
	"eur":    "eur",
	"usd":    "usd",
}

// conversions maps activity unit -> factor denominator unit -> multiplier.
// Units absent from a row are incompatible; there is no transitive closure.
var conversions = map[string]map[string]decimal.Decimal{
	"kwh": {
		"mwh": decimal.NewFromFloat(0.001),
		"gwh": decimal.NewFromFloat(0.000001),
		"gj":  decimal.NewFromFloat(0.0036),
	},
	"mwh": {
		"kwh": decimal.NewFromInt(1000),
		"gwh": decimal.NewFromFloat(0.001),
		"gj":  decimal.NewFromFloat(3.6),
	},
	"gwh": {
		"kwh": decimal.NewFromInt(1000000),
		"mwh": decimal.NewFromInt(1000),
		"gj":  decimal.NewFromInt(3600),
	},
	"gj": {
		"kwh": decimal.NewFromFloat(277.777778),
		"mwh": decimal.NewFromFloat(0.277777778),
	},
	"kg": {
		"t": decimal.NewFromFloat(0.001),
	},
	"t": {
		"kg": decimal.NewFromInt(1000),
	},
	"l": {
		"m3": decimal.NewFromFloat(0.001),
	},
	"m3": {
		"l": decimal.NewFromInt(1000),
	},
	"km": {
		"mi": decimal.NewFromFloat(0.621371192),
	},
	"mi": {
		"km": decimal.NewFromFloat(1.609344),
	},
}

// normalizeUnit lowers, trims and de-aliases a unit symbol. Unknown symbols
// pass through normalized, so novel factor units still match exact activity
// units.
func normalizeUnit(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	if canonical, ok := unitAliases[u]; ok {
		return canonical
	}
	return u
}

// factorDenominator extracts the per-activity unit from a factor unit such
// as "kgCO2e/m3".
func factorDenominator(factorUnit string) string {
	if i := strings.LastIndexByte(factorUnit, '/'); i >= 0 {
		return normalizeUnit(factorUnit[i+1:])
	}
	return normalizeUnit(factorUnit)
}

// conversionFactor returns the multiplier that expresses one activity unit
// in the factor's denominator unit. Identity when they already match;
// UnitMismatchError when no conversion entry exists.
func conversionFactor(activityUnit, factorUnit string) (decimal.Decimal, error) {
	from := normalizeUnit(activityUnit)
	to := factorDenominator(factorUnit)

	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if multiplier, ok := conversions[from][to]; ok {
		return multiplier, nil
	}
	return decimal.Decimal{}, &inventory.UnitMismatchError{ActivityUnit: activityUnit, FactorUnit: factorUnit}
}
