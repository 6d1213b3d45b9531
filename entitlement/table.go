/*
Package entitlement maps years of service to the annual vacation-day split.

PURPOSE:
  Seniority bands from the collective agreement: each band gives the total
  vacation days and how they divide into company-mandatory days, days the
  planner assigns automatically, and days the employee chooses in a
  reservation block.

INVARIANTS (checked by NewTable):
  - Mandatory + Auto + Choose == Total for every band
  - Bands ordered by YearsFrom, first band starts at 0
  - No gaps, no overlaps
  - The last band is open-ended (YearsTo == nil) and no other band is

FAILURES:
  Lookup outside the table is ErrNoMatchingBand wrapped in a
  ConfigurationError: the table is wrong, not the request.
*/
package entitlement

import (
	"sort"

	"github.com/MiltronBee/leave-engine/generic"
)

type Band struct {
	YearsFrom            int  `json:"yearsFrom" yaml:"yearsFrom"`
	YearsTo              *int `json:"yearsTo,omitempty" yaml:"yearsTo,omitempty"`
	TotalDays            int  `json:"totalDays" yaml:"totalDays"`
	CompanyMandatoryDays int  `json:"companyMandatoryDays" yaml:"companyMandatoryDays"`
	AutoAssignDays       int  `json:"autoAssignDays" yaml:"autoAssignDays"`
	EmployeeChooseDays   int  `json:"employeeChooseDays" yaml:"employeeChooseDays"`
}

// Contains reports whether years falls inside the band.
func (b Band) Contains(years int) bool {
	if years < b.YearsFrom {
		return false
	}
	return b.YearsTo == nil || years <= *b.YearsTo
}

// Snapshot freezes the band for an outcome.
func (b Band) Snapshot(years int) generic.Entitlement {
	return generic.Entitlement{
		YearsOfService:       years,
		TotalDays:            b.TotalDays,
		CompanyMandatoryDays: b.CompanyMandatoryDays,
		AutoAssignDays:       b.AutoAssignDays,
		EmployeeChooseDays:   b.EmployeeChooseDays,
	}
}

type Table struct {
	bands []Band
}

// NewTable validates and sorts bands.
func NewTable(bands []Band) (*Table, error) {
	if len(bands) == 0 {
		return nil, generic.Misconfigured("entitlement", "no bands")
	}
	sorted := append([]Band(nil), bands...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].YearsFrom < sorted[j].YearsFrom })

	next := 0
	for i, b := range sorted {
		if b.CompanyMandatoryDays+b.AutoAssignDays+b.EmployeeChooseDays != b.TotalDays {
			return nil, generic.Misconfigured("entitlement",
				"band from %d: %d mandatory + %d auto + %d choose != %d total",
				b.YearsFrom, b.CompanyMandatoryDays, b.AutoAssignDays, b.EmployeeChooseDays, b.TotalDays)
		}
		if b.CompanyMandatoryDays < 0 || b.AutoAssignDays < 0 || b.EmployeeChooseDays < 0 {
			return nil, generic.Misconfigured("entitlement", "band from %d has negative days", b.YearsFrom)
		}
		switch {
		case b.YearsFrom > next:
			return nil, generic.Misconfigured("entitlement", "gap: years %d..%d not covered", next, b.YearsFrom-1)
		case b.YearsFrom < next:
			return nil, generic.Misconfigured("entitlement", "band from %d overlaps the previous band", b.YearsFrom)
		}
		if b.YearsTo == nil {
			if i != len(sorted)-1 {
				return nil, generic.Misconfigured("entitlement", "open-ended band from %d is not the last band", b.YearsFrom)
			}
			break
		}
		if *b.YearsTo < b.YearsFrom {
			return nil, generic.Misconfigured("entitlement", "band %d..%d is inverted", b.YearsFrom, *b.YearsTo)
		}
		next = *b.YearsTo + 1
	}
	if last := sorted[len(sorted)-1]; last.YearsTo != nil {
		return nil, generic.Misconfigured("entitlement", "years from %d not covered: the last band must be open-ended", *last.YearsTo+1)
	}
	return &Table{bands: sorted}, nil
}

// MustTable panics on invalid bands. For static data only.
func MustTable(bands []Band) *Table {
	t, err := NewTable(bands)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the band containing years.
func (t *Table) Lookup(years int) (Band, error) {
	if years < 0 {
		return Band{}, generic.Invalid("yearsOfService", "must not be negative, got %d", years)
	}
	for _, b := range t.bands {
		if b.Contains(years) {
			return b, nil
		}
	}
	return Band{}, &generic.ConfigurationError{
		Component: "entitlement",
		Detail:    "no band covers the requested years",
		Err:       generic.ErrNoMatchingBand,
	}
}

// Bands returns a copy of the ordered bands.
func (t *Table) Bands() []Band { return append([]Band(nil), t.bands...) }

// YearsOfService returns whole elapsed years from hire to reference.
// Partial years round down; a hire after the reference yields 0.
func YearsOfService(hire, reference generic.TimePoint) int {
	if reference.Before(hire) {
		return 0
	}
	years := reference.Year() - hire.Year()
	if reference.Month() < hire.Month() ||
		(reference.Month() == hire.Month() && reference.Day() < hire.Day()) {
		years--
	}
	return years
}

func upTo(n int) *int { return &n }

// DefaultBands is the collective agreement table.
func DefaultBands() []Band {
	return []Band{
		{YearsFrom: 0, YearsTo: upTo(1), TotalDays: 12, CompanyMandatoryDays: 12},
		{YearsFrom: 2, YearsTo: upTo(2), TotalDays: 14, CompanyMandatoryDays: 12, EmployeeChooseDays: 2},
		{YearsFrom: 3, YearsTo: upTo(3), TotalDays: 16, CompanyMandatoryDays: 12, EmployeeChooseDays: 4},
		{YearsFrom: 4, YearsTo: upTo(4), TotalDays: 18, CompanyMandatoryDays: 12, AutoAssignDays: 3, EmployeeChooseDays: 3},
		{YearsFrom: 5, YearsTo: upTo(5), TotalDays: 20, CompanyMandatoryDays: 12, AutoAssignDays: 4, EmployeeChooseDays: 4},
		{YearsFrom: 6, YearsTo: upTo(10), TotalDays: 22, CompanyMandatoryDays: 12, AutoAssignDays: 4, EmployeeChooseDays: 6},
		{YearsFrom: 11, YearsTo: upTo(15), TotalDays: 24, CompanyMandatoryDays: 12, AutoAssignDays: 5, EmployeeChooseDays: 7},
		{YearsFrom: 16, YearsTo: upTo(20), TotalDays: 26, CompanyMandatoryDays: 12, AutoAssignDays: 5, EmployeeChooseDays: 9},
		{YearsFrom: 21, YearsTo: upTo(25), TotalDays: 28, CompanyMandatoryDays: 12, AutoAssignDays: 5, EmployeeChooseDays: 11},
		{YearsFrom: 26, YearsTo: upTo(30), TotalDays: 30, CompanyMandatoryDays: 12, AutoAssignDays: 5, EmployeeChooseDays: 13},
		{YearsFrom: 31, TotalDays: 32, CompanyMandatoryDays: 12, AutoAssignDays: 5, EmployeeChooseDays: 15},
	}
}

// DefaultTable wraps DefaultBands.
func DefaultTable() *Table { return MustTable(DefaultBands()) }
