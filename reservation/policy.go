package reservation

import (
	"time"

	"github.com/MiltronBee/leave-engine/absence"
	"github.com/MiltronBee/leave-engine/generic"
)

// PositionPolicy reports whether a is served before b when employees are
// laid out across blocks.
type PositionPolicy func(a, b generic.Employee) bool

// Seniority serves the longest-serving employee first, then by payroll
// number, then by id.
func Seniority(a, b generic.Employee) bool {
	if !a.HireDate.Equal(b.HireDate) {
		return a.HireDate.Before(b.HireDate)
	}
	if a.PayrollNumber != b.PayrollNumber {
		return a.PayrollNumber < b.PayrollNumber
	}
	return a.ID < b.ID
}

// PayrollOrder serves employees by payroll number.
func PayrollOrder(a, b generic.Employee) bool {
	if a.PayrollNumber != b.PayrollNumber {
		return a.PayrollNumber < b.PayrollNumber
	}
	return a.ID < b.ID
}

// Config holds the block layout parameters.
type Config struct {
	// Capacity is the number of employees per ordinary block.
	Capacity int
	// BlockDuration is the length of every ordinary window.
	BlockDuration time.Duration
	// OverflowDuration is the length of the overflow window. Zero means
	// BlockDuration.
	OverflowDuration time.Duration
	// OpenHour is the hour windows open at, and resume at after the weekend pause.
	OpenHour int
	// Absence optionally limits how many group members may take the same day.
	Absence absence.Policy
	// Positions orders the roster. Nil means Seniority.
	Positions PositionPolicy
}

func DefaultConfig() Config {
	return Config{
		Capacity:      5,
		BlockDuration: 24 * time.Hour,
		OpenHour:      9,
		Positions:     Seniority,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Capacity < 1 {
		c.Capacity = d.Capacity
	}
	if c.BlockDuration <= 0 {
		c.BlockDuration = d.BlockDuration
	}
	if c.OverflowDuration <= 0 {
		c.OverflowDuration = c.BlockDuration
	}
	if c.OpenHour < 0 || c.OpenHour > 23 {
		c.OpenHour = d.OpenHour
	}
	if c.Positions == nil {
		c.Positions = d.Positions
	}
	return c
}
