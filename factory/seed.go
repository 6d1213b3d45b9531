/*
Package factory provides YAML to Go conversion for rotation rules,
entitlement bands and directory records.

PURPOSE:
  Converts a seed document into a rotation.Catalog, an entitlement.Table and
  the employees, groups, areas, inadmissible days and approved leave the
  engine reads. HR maintains the document; the factory validates it and
  writes the directory records into a store.

YAML SCHEMA:
  rules:
    - id: R0144
      weeks: ["11111DD", "D33333D", "22DD223", "3D22D11"]
  bands:
    - {yearsFrom: 0, yearsTo: 5, totalDays: 20, companyMandatoryDays: 12,
       autoAssignDays: 4, employeeChooseDays: 4}
    - {yearsFrom: 6, totalDays: 22, companyMandatoryDays: 12,
       autoAssignDays: 4, employeeChooseDays: 6}
  areas:
    - {id: A1, name: Ensamble, managerId: M1}
  groups:
    - {id: G1, area: A1, name: Grupo 1, rol: R0144_04, anchor: 2025-09-15}
  employees:
    - {id: E1, payroll: "1001", name: Ana, hireDate: 2015-03-01, group: G1}
  inadmissibleDays:
    - {date: 2026-01-01, description: Año nuevo}
  leave:
    - {employee: E1, start: 2026-02-02, end: 2026-02-06, kind: Incapacidad}

DEFAULTS:
  - No rules section: the plant's production rules
  - No bands section: the statutory default table
  - Employees are active unless "active: false"
  - An employee's area defaults to the area of its group

USAGE:
  seed, err := factory.Load("seed.yaml")
  catalog, err := seed.Catalog()
  table, err := seed.Table()
  err = seed.Apply(ctx, store)

SEE ALSO:
  - rotation/seed.go: week code format
  - entitlement/table.go: band validation
*/
package factory

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/MiltronBee/leave-engine/entitlement"
	"github.com/MiltronBee/leave-engine/generic"
	"github.com/MiltronBee/leave-engine/rotation"
)

// =============================================================================
// YAML SCHEMA TYPES
// =============================================================================

// Document is the YAML representation of a seed file.
type Document struct {
	Rules            []RuleYAML         `yaml:"rules,omitempty"`
	Bands            []entitlement.Band `yaml:"bands,omitempty"`
	Areas            []AreaYAML         `yaml:"areas,omitempty"`
	Groups           []GroupYAML        `yaml:"groups,omitempty"`
	Employees        []EmployeeYAML     `yaml:"employees,omitempty"`
	InadmissibleDays []InadmissibleYAML `yaml:"inadmissibleDays,omitempty"`
	Leave            []LeaveYAML        `yaml:"leave,omitempty"`
}

// RuleYAML is one rotation rule as week codes, Monday..Sunday.
type RuleYAML struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description,omitempty"`
	Weeks       []string `yaml:"weeks"`
}

type AreaYAML struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	ManagerID string `yaml:"managerId,omitempty"`
	Manning   int    `yaml:"manning,omitempty"`
}

// GroupYAML binds a group either through the legacy "rol" label
// (R0144_04) or through rule + startVariant.
type GroupYAML struct {
	ID           string `yaml:"id"`
	Area         string `yaml:"area"`
	Name         string `yaml:"name,omitempty"`
	Rol          string `yaml:"rol,omitempty"`
	Rule         string `yaml:"rule,omitempty"`
	StartVariant int    `yaml:"startVariant,omitempty"`
	Anchor       string `yaml:"anchor"`
}

type EmployeeYAML struct {
	ID       string `yaml:"id"`
	Payroll  string `yaml:"payroll"`
	Name     string `yaml:"name"`
	Email    string `yaml:"email,omitempty"`
	HireDate string `yaml:"hireDate"`
	Area     string `yaml:"area,omitempty"`
	Group    string `yaml:"group,omitempty"`
	Active   *bool  `yaml:"active,omitempty"`
}

type InadmissibleYAML struct {
	ID          string `yaml:"id,omitempty"`
	Date        string `yaml:"date"`
	Description string `yaml:"description,omitempty"`
}

type LeaveYAML struct {
	ID       string `yaml:"id,omitempty"`
	Employee string `yaml:"employee"`
	Start    string `yaml:"start"`
	End      string `yaml:"end"`
	Kind     string `yaml:"kind,omitempty"`
}

// =============================================================================
// SEED
// =============================================================================

// Seed is a validated document converted to engine types.
type Seed struct {
	Rules            []rotation.Rule
	Bands            []entitlement.Band
	Areas            []generic.Area
	Groups           []generic.Group
	Employees        []generic.Employee
	InadmissibleDays []generic.InadmissibleDay
	Leave            []generic.LeaveRecord
}

// DirectoryWriter receives the directory records of a seed.
// *sqlite.Store and *store.Memory implement it.
type DirectoryWriter interface {
	SaveArea(ctx context.Context, a generic.Area) error
	SaveGroup(ctx context.Context, g generic.Group) error
	SaveEmployee(ctx context.Context, e generic.Employee) error
	SaveInadmissibleDay(ctx context.Context, d generic.InadmissibleDay) error
	SaveLeave(ctx context.Context, l generic.LeaveRecord) error
}

// Load reads and parses a seed file.
func Load(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document into a Seed.
func Parse(data []byte) (*Seed, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, generic.Misconfigured("seed", "failed to parse YAML: %v", err)
	}
	return FromDocument(doc)
}

// FromDocument converts and cross-checks a Document.
func FromDocument(doc Document) (*Seed, error) {
	seed := &Seed{Bands: doc.Bands}

	if len(doc.Rules) == 0 {
		seed.Rules = rotation.ProductionRules()
	}
	for i, rj := range doc.Rules {
		r, err := rotation.FromPattern(generic.RuleID(rj.ID), i+1, rj.Weeks...)
		if err != nil {
			return nil, err
		}
		if rj.Description != "" {
			r.Description = rj.Description
		}
		seed.Rules = append(seed.Rules, r)
	}
	if len(seed.Bands) == 0 {
		seed.Bands = entitlement.DefaultBands()
	}

	rules := make(map[generic.RuleID]bool, len(seed.Rules))
	for _, r := range seed.Rules {
		rules[r.ID] = true
	}

	areas := make(map[generic.AreaID]bool, len(doc.Areas))
	for _, aj := range doc.Areas {
		if aj.ID == "" {
			return nil, generic.Misconfigured("seed", "area without id")
		}
		a := generic.Area{
			ID:        generic.AreaID(aj.ID),
			Name:      aj.Name,
			ManagerID: generic.EmployeeID(aj.ManagerID),
			Manning:   aj.Manning,
		}
		areas[a.ID] = true
		seed.Areas = append(seed.Areas, a)
	}

	groups := make(map[generic.GroupID]generic.Group, len(doc.Groups))
	for _, gj := range doc.Groups {
		g, err := parseGroup(gj)
		if err != nil {
			return nil, err
		}
		if !areas[g.AreaID] {
			return nil, generic.Misconfigured("seed", "group %s references unknown area %s", g.ID, g.AreaID)
		}
		if !rules[g.RuleID] {
			return nil, generic.Misconfigured("seed", "group %s references unknown rule %s", g.ID, g.RuleID)
		}
		groups[g.ID] = g
		seed.Groups = append(seed.Groups, g)
	}

	employees := make(map[generic.EmployeeID]bool, len(doc.Employees))
	for _, ej := range doc.Employees {
		e, err := parseEmployee(ej)
		if err != nil {
			return nil, err
		}
		if e.GroupID != "" {
			g, ok := groups[e.GroupID]
			if !ok {
				return nil, generic.Misconfigured("seed", "employee %s references unknown group %s", e.ID, e.GroupID)
			}
			if e.AreaID == "" {
				e.AreaID = g.AreaID
			}
		}
		employees[e.ID] = true
		seed.Employees = append(seed.Employees, e)
	}

	for _, dj := range doc.InadmissibleDays {
		date, err := parseDate("inadmissible day", dj.Date)
		if err != nil {
			return nil, err
		}
		id := dj.ID
		if id == "" {
			id = "INH-" + date.Key()
		}
		seed.InadmissibleDays = append(seed.InadmissibleDays, generic.InadmissibleDay{
			ID: id, Date: date, Description: dj.Description,
		})
	}

	for _, lj := range doc.Leave {
		l, err := parseLeave(lj)
		if err != nil {
			return nil, err
		}
		if !employees[l.EmployeeID] {
			return nil, generic.Misconfigured("seed", "leave %s references unknown employee %s", l.ID, l.EmployeeID)
		}
		seed.Leave = append(seed.Leave, l)
	}

	return seed, nil
}

// Catalog builds and validates the rotation catalog.
func (s *Seed) Catalog() (*rotation.Catalog, error) {
	return rotation.NewCatalog(s.Rules...)
}

// Table builds and validates the entitlement table.
func (s *Seed) Table() (*entitlement.Table, error) {
	return entitlement.NewTable(s.Bands)
}

// Apply writes the directory records. Re-applying a seed updates in place.
func (s *Seed) Apply(ctx context.Context, w DirectoryWriter) error {
	for _, a := range s.Areas {
		if err := w.SaveArea(ctx, a); err != nil {
			return err
		}
	}
	for _, g := range s.Groups {
		if err := w.SaveGroup(ctx, g); err != nil {
			return err
		}
	}
	for _, e := range s.Employees {
		if err := w.SaveEmployee(ctx, e); err != nil {
			return err
		}
	}
	for _, d := range s.InadmissibleDays {
		if err := w.SaveInadmissibleDay(ctx, d); err != nil {
			return err
		}
	}
	for _, l := range s.Leave {
		if err := w.SaveLeave(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseDate(what, s string) (generic.TimePoint, error) {
	d, err := generic.ParseDate(s)
	if err != nil {
		return generic.TimePoint{}, generic.Misconfigured("seed", "%s: invalid date %q", what, s)
	}
	return d, nil
}

func parseGroup(gj GroupYAML) (generic.Group, error) {
	if gj.ID == "" {
		return generic.Group{}, generic.Misconfigured("seed", "group without id")
	}
	g := generic.Group{
		ID:           generic.GroupID(gj.ID),
		AreaID:       generic.AreaID(gj.Area),
		Name:         gj.Name,
		RuleID:       generic.RuleID(gj.Rule),
		StartVariant: gj.StartVariant,
	}
	if g.Name == "" {
		g.Name = gj.ID
	}
	if gj.Rol != "" {
		rule, variant, err := rotation.ParseBinding(gj.Rol)
		if err != nil {
			return generic.Group{}, generic.Misconfigured("seed", "group %s: %v", gj.ID, err)
		}
		g.RuleID, g.StartVariant = rule, variant
	}
	if g.RuleID == "" {
		return generic.Group{}, generic.Misconfigured("seed", "group %s has no rule", gj.ID)
	}
	if g.StartVariant == 0 {
		g.StartVariant = 1
	}
	anchor, err := parseDate("group "+gj.ID+" anchor", gj.Anchor)
	if err != nil {
		return generic.Group{}, err
	}
	g.Anchor = anchor
	return g, nil
}

func parseEmployee(ej EmployeeYAML) (generic.Employee, error) {
	if ej.ID == "" {
		return generic.Employee{}, generic.Misconfigured("seed", "employee without id")
	}
	hire, err := parseDate("employee "+ej.ID+" hire date", ej.HireDate)
	if err != nil {
		return generic.Employee{}, err
	}
	active := true
	if ej.Active != nil {
		active = *ej.Active
	}
	payroll := ej.Payroll
	if payroll == "" {
		payroll = ej.ID
	}
	return generic.Employee{
		ID:            generic.EmployeeID(ej.ID),
		PayrollNumber: payroll,
		Name:          ej.Name,
		Email:         ej.Email,
		HireDate:      hire,
		AreaID:        generic.AreaID(ej.Area),
		GroupID:       generic.GroupID(ej.Group),
		Active:        active,
	}, nil
}

func parseLeave(lj LeaveYAML) (generic.LeaveRecord, error) {
	start, err := parseDate("leave start", lj.Start)
	if err != nil {
		return generic.LeaveRecord{}, err
	}
	end, err := parseDate("leave end", lj.End)
	if err != nil {
		return generic.LeaveRecord{}, err
	}
	period, err := generic.NewPeriod(start, end)
	if err != nil {
		return generic.LeaveRecord{}, generic.Misconfigured("seed", "leave of %s: %v", lj.Employee, err)
	}
	id := lj.ID
	if id == "" {
		id = uuid.NewString()
	}
	return generic.LeaveRecord{
		ID:         id,
		EmployeeID: generic.EmployeeID(lj.Employee),
		Period:     period,
		Kind:       lj.Kind,
	}, nil
}
