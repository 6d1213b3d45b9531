package generic

import (
	"context"
	"time"
)

// =============================================================================
// TIME POINT - Calendar day (or hour) in UTC
// =============================================================================

type TimePoint struct {
	Time        time.Time
	Granularity Granularity
}

type Granularity int

const (
	GranularityDay Granularity = iota
	GranularityHour
	GranularityMinute
)

const DateLayout = "2006-01-02"

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), Granularity: GranularityDay}
}

// DayOf truncates any instant to its calendar day (in the instant's location).
func DayOf(t time.Time) TimePoint {
	return NewTimePoint(t.Year(), t.Month(), t.Day())
}

// ParseDate parses "2006-01-02".
func ParseDate(s string) (TimePoint, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return TimePoint{}, err
	}
	return DayOf(t), nil
}

func MustDate(s string) TimePoint {
	tp, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return tp
}

func Today() TimePoint { return DayOf(time.Now()) }

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.normalize().Before(other.normalize()) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.normalize().Equal(other.normalize()) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.normalize().After(other.normalize()) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return !tp.After(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return !tp.Before(other) }

func (tp TimePoint) normalize() time.Time {
	switch tp.Granularity {
	case GranularityDay:
		return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), 0, 0, 0, 0, time.UTC)
	case GranularityHour:
		return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), tp.Time.Hour(), 0, 0, 0, time.UTC)
	default:
		return tp.Time
	}
}

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint {
	return TimePoint{Time: tp.Time.AddDate(0, 0, n), Granularity: tp.Granularity}
}
func (tp TimePoint) AddYears(n int) TimePoint {
	return TimePoint{Time: tp.Time.AddDate(n, 0, 0), Granularity: tp.Granularity}
}

// At returns the instant at hour:00 UTC on this day.
func (tp TimePoint) At(hour int) time.Time {
	return time.Date(tp.Year(), tp.Month(), tp.Day(), hour, 0, 0, 0, time.UTC)
}

// Properties
func (tp TimePoint) Year() int             { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month     { return tp.Time.Month() }
func (tp TimePoint) Day() int              { return tp.Time.Day() }
func (tp TimePoint) Weekday() time.Weekday { return tp.Time.Weekday() }
func (tp TimePoint) IsZero() bool          { return tp.Time.IsZero() }

// ISOWeek returns the ISO 8601 week number.
func (tp TimePoint) ISOWeek() int {
	_, w := tp.Time.ISOWeek()
	return w
}

// Key is a comparable day key for maps.
func (tp TimePoint) Key() string { return tp.normalize().Format(DateLayout) }

func (tp TimePoint) String() string {
	switch tp.Granularity {
	case GranularityDay:
		return tp.Time.Format(DateLayout)
	case GranularityHour:
		return tp.Time.Format("2006-01-02 15:00")
	default:
		return tp.Time.Format(time.RFC3339)
	}
}

// MarshalText/UnmarshalText keep JSON and YAML payloads in "2006-01-02".
func (tp TimePoint) MarshalText() ([]byte, error) { return []byte(tp.Key()), nil }

func (tp *TimePoint) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*tp = parsed
	return nil
}

// =============================================================================
// INADMISSIBLE DAYS - Organization-wide non-working dates (DiasInhabiles)
// =============================================================================

// InadmissibleDay is a date on which nobody may take or be assigned leave.
type InadmissibleDay struct {
	ID          string
	Date        TimePoint
	Description string // e.g. "Semana Santa", "Año nuevo"
}

// InadmissibleCalendar provides organization-wide non-working dates.
type InadmissibleCalendar interface {
	// InadmissibleOn returns the record for date, if any.
	InadmissibleOn(ctx context.Context, date TimePoint) (*InadmissibleDay, error)

	// InadmissibleDays returns all records within period.
	InadmissibleDays(ctx context.Context, period Period) ([]InadmissibleDay, error)
}

// NoInadmissibleDays is the empty calendar.
type NoInadmissibleDays struct{}

func (NoInadmissibleDays) InadmissibleOn(context.Context, TimePoint) (*InadmissibleDay, error) {
	return nil, nil
}
func (NoInadmissibleDays) InadmissibleDays(context.Context, Period) ([]InadmissibleDay, error) {
	return nil, nil
}

// =============================================================================
// LEAVE RECORDS - Approved Incidencia/Permiso ranges per employee
// =============================================================================

// LeaveRecord is an approved absence (incidence or permit) for one employee.
type LeaveRecord struct {
	ID         string
	EmployeeID EmployeeID
	Period     Period
	Kind       string // "Incapacidad", "PermisoConGoce", ...
}

// LeaveSource reads approved leave. Read-only input to calendar overlays.
type LeaveSource interface {
	ApprovedLeave(ctx context.Context, employeeID EmployeeID, period Period) ([]LeaveRecord, error)
}

// NoLeave is the empty leave source.
type NoLeave struct{}

func (NoLeave) ApprovedLeave(context.Context, EmployeeID, Period) ([]LeaveRecord, error) {
	return nil, nil
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

// DaysBetween returns whole days from -> to (negative when to is earlier).
func DaysBetween(from, to TimePoint) int {
	return int(to.normalize().Sub(from.normalize()).Hours() / 24)
}
func StartOfYear(year int) TimePoint { return NewTimePoint(year, time.January, 1) }
func EndOfYear(year int) TimePoint   { return NewTimePoint(year, time.December, 31) }
