package rotation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MiltronBee/leave-engine/generic"
)

// Shift codes used by the plant's rotation sheets, Monday..Sunday.
//
//	1 = Morning, 2 = Afternoon, 3 = Night, D = weekly rest
var productionPatterns = []struct {
	id    generic.RuleID
	weeks []string
}{
	{"R0144", []string{"11111DD", "D33333D", "22DD223", "3D22D11"}},
	{"R0229", []string{"D11111D", "11DD111", "1D11D11", "22222DD"}},
	{"R0130", []string{"11111DD", "D33D222", "22D3333", "3D22D11"}},
	{"R0228", []string{"11111DD", "22222DD", "D11111D", "22222DD"}},
	{"R0267", []string{"22D222D", "11111DD", "D333D11"}},
	{"R0135", []string{"11111DD", "D11111D"}},
	{"R0154", []string{"22222DD", "D11111D"}},
	{"R0133", []string{"11111DD", "22222DD"}},
	{"N0439", []string{"11111DD"}},
	{"N0440", []string{"22222DD"}},
	{"N0A01", []string{"111D11D"}},
}

// ProductionRules returns the eleven rotation rules in use at the plant.
func ProductionRules() []Rule {
	rules := make([]Rule, 0, len(productionPatterns))
	for i, p := range productionPatterns {
		r, err := FromPattern(p.id, i+1, p.weeks...)
		if err != nil {
			panic(err) // static data
		}
		rules = append(rules, r)
	}
	return rules
}

// FromPattern builds a rule from one 7-character code string per week.
func FromPattern(id generic.RuleID, number int, weeks ...string) (Rule, error) {
	r := Rule{
		ID:                 id,
		Name:               string(id),
		Number:             number,
		Description:        fmt.Sprintf("%d-week rotation", len(weeks)),
		WeeklyVariantCount: len(weeks),
		Priority:           1,
	}
	for w, code := range weeks {
		days, err := ParseWeek(code, 7*w)
		if err != nil {
			return Rule{}, generic.Misconfigured("rotation", "rule %s week %d: %v", id, w+1, err)
		}
		r.Variants = append(r.Variants, WeeklyVariant{
			ID:        fmt.Sprintf("%s-W%d", id, w+1),
			RuleID:    id,
			WeekIndex: w + 1,
			Label:     fmt.Sprintf("%s_%02d", id, w+1),
			Days:      days,
		})
	}
	return r, nil
}

var weekOrder = [7]time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

// ParseWeek decodes "11111DD" into Monday..Sunday assignments whose
// sequence indexes start at firstSeq.
func ParseWeek(code string, firstSeq int) ([]DayAssignment, error) {
	if len(code) != 7 {
		return nil, fmt.Errorf("pattern %q must have 7 codes", code)
	}
	days := make([]DayAssignment, 7)
	for i, c := range strings.ToUpper(code) {
		d := DayAssignment{Weekday: weekOrder[i], SequenceIndex: firstSeq + i}
		switch c {
		case '1':
			d.Activity, d.Shift = ActivityWorkday, ShiftMorning
		case '2':
			d.Activity, d.Shift = ActivityWorkday, ShiftAfternoon
		case '3':
			d.Activity, d.Shift = ActivityWorkday, ShiftNight
		case 'D', '-', '0':
			d.Activity, d.Shift = ActivityWeeklyRest, ShiftRest
		default:
			return nil, fmt.Errorf("unknown shift code %q", c)
		}
		days[i] = d
	}
	return days, nil
}

// ParseBinding converts a legacy group label ("R0144_04", "R0144") into a
// typed rule id and starting variant. Only used while loading seed data.
func ParseBinding(label string) (generic.RuleID, int, error) {
	parts := strings.Split(strings.TrimSpace(label), "_")
	switch len(parts) {
	case 1:
		if parts[0] == "" {
			return "", 0, generic.Invalid("rol", "empty group label")
		}
		return generic.RuleID(parts[0]), 1, nil
	case 2:
		n, err := strconv.Atoi(parts[1])
		if err != nil || n < 1 {
			return "", 0, generic.Invalid("rol", "bad group number in %q", label)
		}
		return generic.RuleID(parts[0]), n, nil
	default:
		return "", 0, generic.Invalid("rol", "malformed group label %q", label)
	}
}
