/*
catalog.go - Rotation rules, weekly variants and day assignments

PURPOSE:
  A Rule is a named N-week shift rotation. Each of its N WeeklyVariants
  states, for every weekday, whether the crew works (and on which shift)
  or rests. The Catalog compiles rules once into fixed 7-slot grids so
  resolution never re-derives anything from raw rows.

KEY CONCEPTS:
  Rule:           "R0144" - 4 weekly variants, period 28 days
  WeeklyVariant:  week 1..N of the cycle
  DayAssignment:  {Workday, Morning} / {WeeklyRest, Rest} for one weekday

INTEGRITY:
  A rule is usable only when it owns exactly WeeklyVariantCount variants,
  each covering Monday..Sunday exactly once. Invalid rules stay in the
  catalog so the groups bound to them fail loudly with a ConfigurationError
  instead of disappearing.

SEE ALSO:
  - seed.go: production rules
  - resolver.go: date -> DayAssignment
*/
package rotation

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/MiltronBee/leave-engine/generic"
)

// =============================================================================
// KINDS
// =============================================================================

type ActivityKind string

const (
	ActivityWorkday      ActivityKind = "Workday"
	ActivityWeeklyRest   ActivityKind = "WeeklyRest"
	ActivityInadmissible ActivityKind = "Inadmissible" // overlay only
	ActivityLeave        ActivityKind = "Leave"        // overlay only
)

type ShiftKind string

const (
	ShiftMorning   ShiftKind = "Morning"
	ShiftAfternoon ShiftKind = "Afternoon"
	ShiftNight     ShiftKind = "Night"
	ShiftRest      ShiftKind = "Rest"
)

// =============================================================================
// MODEL
// =============================================================================

type DayAssignment struct {
	Weekday       time.Weekday `json:"weekday" yaml:"weekday"`
	Activity      ActivityKind `json:"activity" yaml:"activity"`
	Shift         ShiftKind    `json:"shift" yaml:"shift"`
	SequenceIndex int          `json:"sequenceIndex" yaml:"sequenceIndex"`
}

type WeeklyVariant struct {
	ID        string          `json:"id"`
	RuleID    generic.RuleID  `json:"ruleId"`
	WeekIndex int             `json:"weekIndex"`
	Label     string          `json:"label"`
	Days      []DayAssignment `json:"days"`
}

type Rule struct {
	ID                 generic.RuleID  `json:"id"`
	Name               string          `json:"name"`
	Number             int             `json:"number"`
	Description        string          `json:"description"`
	WeeklyVariantCount int             `json:"weeklyVariantCount"`
	Priority           int             `json:"priority"`
	Variants           []WeeklyVariant `json:"variants"`
}

// Period returns the cycle length in days.
func (r Rule) Period() int { return 7 * len(r.Variants) }

// weekdaySlot maps Monday..Sunday to 0..6.
func weekdaySlot(wd time.Weekday) int { return (int(wd) + 6) % 7 }

// Validate checks the structural invariants of a rule.
func (r Rule) Validate() error {
	fail := func(format string, args ...any) error {
		return generic.Misconfigured("rotation", "rule %s: %s", r.ID, fmt.Sprintf(format, args...))
	}

	n := len(r.Variants)
	if n == 0 {
		return fail("has no weekly variants")
	}
	if r.WeeklyVariantCount != n {
		return fail("declares %d weekly variants but owns %d", r.WeeklyVariantCount, n)
	}

	seenWeek := make(map[int]bool, n)
	seenSeq := make(map[int]bool, 7*n)
	for _, v := range r.Variants {
		if v.RuleID != "" && v.RuleID != r.ID {
			return fail("variant %s belongs to rule %s", v.Label, v.RuleID)
		}
		if v.WeekIndex < 1 || v.WeekIndex > n {
			return fail("variant %s has week index %d outside 1..%d", v.Label, v.WeekIndex, n)
		}
		if seenWeek[v.WeekIndex] {
			return fail("week index %d is duplicated", v.WeekIndex)
		}
		seenWeek[v.WeekIndex] = true

		if len(v.Days) != 7 {
			return fail("week %d has %d day assignments, want 7", v.WeekIndex, len(v.Days))
		}
		var seenDay [7]bool
		for _, d := range v.Days {
			slot := weekdaySlot(d.Weekday)
			if seenDay[slot] {
				return fail("week %d assigns %s twice", v.WeekIndex, d.Weekday)
			}
			seenDay[slot] = true

			switch {
			case d.Activity == ActivityWorkday && d.Shift == ShiftRest,
				d.Activity == ActivityWeeklyRest && d.Shift != ShiftRest,
				d.Activity != ActivityWorkday && d.Activity != ActivityWeeklyRest:
				return fail("week %d %s has inconsistent %s/%s", v.WeekIndex, d.Weekday, d.Activity, d.Shift)
			}

			if d.SequenceIndex < 0 || d.SequenceIndex >= 7*n || seenSeq[d.SequenceIndex] {
				return fail("week %d %s has bad sequence index %d", v.WeekIndex, d.Weekday, d.SequenceIndex)
			}
			seenSeq[d.SequenceIndex] = true
		}
	}
	return nil
}

// =============================================================================
// CATALOG - Compiled, immutable after construction
// =============================================================================

type compiledRule struct {
	rule Rule
	grid [][7]DayAssignment // grid[weekIndex-1][weekdaySlot]
	err  error
}

// Catalog is safe for concurrent use; it is never mutated after NewCatalog.
type Catalog struct {
	rules map[generic.RuleID]*compiledRule
}

// NewCatalog compiles rules. Duplicate ids are a configuration error.
// Structurally invalid rules are kept and reported by Validate and at
// resolution time.
func NewCatalog(rules ...Rule) (*Catalog, error) {
	c := &Catalog{rules: make(map[generic.RuleID]*compiledRule, len(rules))}
	for _, r := range rules {
		if _, dup := c.rules[r.ID]; dup {
			return nil, generic.Misconfigured("rotation", "rule %s defined twice", r.ID)
		}
		cr := &compiledRule{rule: r, err: r.Validate()}
		if cr.err == nil {
			cr.grid = make([][7]DayAssignment, len(r.Variants))
			for _, v := range r.Variants {
				for _, d := range v.Days {
					cr.grid[v.WeekIndex-1][weekdaySlot(d.Weekday)] = d
				}
			}
		}
		c.rules[r.ID] = cr
	}
	return c, nil
}

// Validate returns every rule integrity problem, joined.
func (c *Catalog) Validate() error {
	var errs []error
	for _, id := range c.ids() {
		if err := c.rules[id].err; err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Rule returns the rule definition.
func (c *Catalog) Rule(id generic.RuleID) (Rule, bool) {
	cr, ok := c.rules[id]
	if !ok {
		return Rule{}, false
	}
	return cr.rule, true
}

// Rules returns all rules ordered by priority, then id.
func (c *Catalog) Rules() []Rule {
	out := make([]Rule, 0, len(c.rules))
	for _, id := range c.ids() {
		out = append(out, c.rules[id].rule)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

func (c *Catalog) ids() []generic.RuleID {
	ids := make([]generic.RuleID, 0, len(c.rules))
	for id := range c.rules {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// compiled returns a usable rule or a ConfigurationError.
func (c *Catalog) compiled(id generic.RuleID) (*compiledRule, error) {
	cr, ok := c.rules[id]
	if !ok {
		return nil, generic.Misconfigured("rotation", "rule %s is not in the catalog", id)
	}
	if cr.err != nil {
		return nil, cr.err
	}
	return cr, nil
}
