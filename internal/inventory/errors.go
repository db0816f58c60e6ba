package inventory

import "fmt"

// Per-record errors isolate a single bad record: the calculator converts
// them to a status=unresolved annotation and the rest of the batch proceeds.

// FactorNotFoundError means no emission factor could be resolved for a
// record, even after falling back to the global table.
type FactorNotFoundError struct {
	Category string
	Region   string
	Year     int
}

func (e *FactorNotFoundError) Error() string {
	return fmt.Sprintf("no emission factor for category %q, region %q, year %d (global fallback exhausted)",
		e.Category, e.Region, e.Year)
}

// UnsupportedGasError means a gas mass breakdown named a gas absent from
// the selected GWP table.
type UnsupportedGasError struct {
	Gas     Gas
	Version GWPVersion
}

func (e *UnsupportedGasError) Error() string {
	return fmt.Sprintf("gas %q has no GWP factor in table %s", e.Gas, e.Version)
}

// UnitMismatchError means the activity unit and factor denominator unit are
// incompatible and no conversion entry exists.
type UnitMismatchError struct {
	ActivityUnit string
	FactorUnit   string
}

func (e *UnitMismatchError) Error() string {
	return fmt.Sprintf("activity unit %q is not convertible to factor unit %q", e.ActivityUnit, e.FactorUnit)
}

// UnknownCategoryError means a Scope-3 record named a category outside the
// 15 canonical GHG Protocol categories.
type UnknownCategoryError struct {
	Raw string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("unknown scope-3 category %q", e.Raw)
}
