// Package factors resolves emission factors from an immutable, versioned
// registry snapshot with a documented region/year fallback chain.
package factors

import (
	"fmt"
	"sort"
	"strings"

	"carbon-scribe/emissions-engine/internal/inventory"
)

// GlobalRegion is the last-resort region in the fallback chain.
const GlobalRegion = "GLOBAL"

// Resolution is the outcome of a factor lookup. Factor is a copy of the
// registry entry: later registry updates can never retroactively alter a
// historical result.
type Resolution struct {
	Factor        inventory.EmissionFactor
	EffectiveTier inventory.Tier
	// FallbackSteps documents each downgrade taken, in order.
	FallbackSteps []string
}

// Snapshot is an immutable factor set loaded once per batch. All records in
// one run see the same factors even if the canonical registry is updated
// concurrently elsewhere.
type Snapshot struct {
	version string
	// category -> region -> year -> tier -> factor
	index map[string]map[string]map[int]map[inventory.Tier]inventory.EmissionFactor
}

// NewSnapshot validates and indexes a factor table. A corrupted table
// (non-finite or negative value, empty key fields, implausible year) is
// batch-fatal.
func NewSnapshot(version string, entries []inventory.EmissionFactor) (*Snapshot, error) {
	if version == "" {
		return nil, fmt.Errorf("snapshot version is required")
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("factor snapshot %q is empty", version)
	}

	s := &Snapshot{
		version: version,
		index:   make(map[string]map[string]map[int]map[inventory.Tier]inventory.EmissionFactor),
	}

	for i, f := range entries {
		if err := validateEntry(&f); err != nil {
			return nil, fmt.Errorf("corrupted factor snapshot %q: entry %d: %w", version, i, err)
		}
		f.Category = strings.ToLower(strings.TrimSpace(f.Category))
		f.Region = strings.ToUpper(strings.TrimSpace(f.Region))

		byRegion, ok := s.index[f.Category]
		if !ok {
			byRegion = make(map[string]map[int]map[inventory.Tier]inventory.EmissionFactor)
			s.index[f.Category] = byRegion
		}
		byYear, ok := byRegion[f.Region]
		if !ok {
			byYear = make(map[int]map[inventory.Tier]inventory.EmissionFactor)
			byRegion[f.Region] = byYear
		}
		byTier, ok := byYear[f.Year]
		if !ok {
			byTier = make(map[inventory.Tier]inventory.EmissionFactor)
			byYear[f.Year] = byTier
		}
		byTier[f.Tier] = f
	}

	return s, nil
}

func validateEntry(f *inventory.EmissionFactor) error {
	if strings.TrimSpace(f.Category) == "" {
		return fmt.Errorf("empty category")
	}
	if strings.TrimSpace(f.Region) == "" {
		return fmt.Errorf("empty region")
	}
	if strings.TrimSpace(f.Unit) == "" {
		return fmt.Errorf("empty unit")
	}
	if f.Year < 1990 || f.Year > 2100 {
		return fmt.Errorf("implausible year %d", f.Year)
	}
	if f.Value.IsNegative() {
		return fmt.Errorf("negative factor value %s", f.Value)
	}
	if f.Tier < inventory.Tier1 || f.Tier > inventory.Tier3 {
		return fmt.Errorf("invalid tier %d", f.Tier)
	}
	if f.UncertaintyPct < 0 {
		return fmt.Errorf("negative uncertainty %f", f.UncertaintyPct)
	}
	return nil
}

// Version returns the snapshot version label.
func (s *Snapshot) Version() string {
	return s.version
}

// Resolve looks up a factor for (category, region, year), preferring the
// given tier when several tiers exist for the same key. The fallback chain
// is: exact region, country default, GLOBAL at the requested year, GLOBAL
// at the latest available year. Each fallback step downgrades the effective
// tier by one, capped at Tier 3, and is recorded on the resolution. A
// category unknown at every level fails with FactorNotFoundError for that
// record only.
func (s *Snapshot) Resolve(category, region string, year int, preferredTier inventory.Tier) (*Resolution, error) {
	category = strings.ToLower(strings.TrimSpace(category))
	region = strings.ToUpper(strings.TrimSpace(region))

	byRegion, ok := s.index[category]
	if !ok {
		return nil, &inventory.FactorNotFoundError{Category: category, Region: region, Year: year}
	}

	res := &Resolution{}

	// Exact region at the requested year.
	if f, ok := lookup(byRegion, region, year, preferredTier); ok {
		res.Factor = f
		res.EffectiveTier = f.Tier
		return res, nil
	}

	// Country default: "DE-BW" falls back to "DE".
	if country := countryOf(region); country != "" && country != region {
		if f, ok := lookup(byRegion, country, year, preferredTier); ok {
			res.Factor = f
			res.EffectiveTier = f.Tier.Downgrade()
			res.FallbackSteps = append(res.FallbackSteps,
				fmt.Sprintf("region %s not found, used country default %s", region, country))
			return res, nil
		}
	}

	// GLOBAL at the requested year.
	if f, ok := lookup(byRegion, GlobalRegion, year, preferredTier); ok {
		res.Factor = f
		res.EffectiveTier = f.Tier.Downgrade().Downgrade()
		res.FallbackSteps = append(res.FallbackSteps,
			fmt.Sprintf("region %s not found, used %s at year %d", region, GlobalRegion, year))
		return res, nil
	}

	// GLOBAL at the latest available year.
	if latest, ok := latestYear(byRegion[GlobalRegion]); ok {
		if f, ok := lookup(byRegion, GlobalRegion, latest, preferredTier); ok {
			res.Factor = f
			res.EffectiveTier = inventory.Tier3
			res.FallbackSteps = append(res.FallbackSteps,
				fmt.Sprintf("region %s not found, used %s at year %d", region, GlobalRegion, year),
				fmt.Sprintf("year %d not found for %s, used latest available year %d", year, GlobalRegion, latest))
			return res, nil
		}
	}

	return nil, &inventory.FactorNotFoundError{Category: category, Region: region, Year: year}
}

func lookup(byRegion map[string]map[int]map[inventory.Tier]inventory.EmissionFactor, region string, year int, preferredTier inventory.Tier) (inventory.EmissionFactor, bool) {
	byTier, ok := byRegion[region][year]
	if !ok || len(byTier) == 0 {
		return inventory.EmissionFactor{}, false
	}
	if preferredTier != 0 {
		if f, ok := byTier[preferredTier]; ok {
			return f, true
		}
	}
	// Best (lowest-numbered) tier available.
	for _, tier := range []inventory.Tier{inventory.Tier1, inventory.Tier2, inventory.Tier3} {
		if f, ok := byTier[tier]; ok {
			return f, true
		}
	}
	return inventory.EmissionFactor{}, false
}

func latestYear(byYear map[int]map[inventory.Tier]inventory.EmissionFactor) (int, bool) {
	if len(byYear) == 0 {
		return 0, false
	}
	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)
	return years[len(years)-1], true
}

// countryOf strips a subdivision suffix from an ISO region code.
func countryOf(region string) string {
	if i := strings.IndexByte(region, '-'); i > 0 {
		return region[:i]
	}
	return region
}
