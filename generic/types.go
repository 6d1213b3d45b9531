/*
Package generic holds the shared vocabulary of the leave-allocation engine.

PURPOSE:
  Types every component agrees on: identifiers, the annual program, blocks,
  reservations, allocation outcomes and the collaborator records (employees,
  groups, areas) the engine reads but does not own.

KEY CONCEPTS IN THIS FILE (types.go):
  - AnnualProgram: one year's allocation cycle and its lifecycle state
  - Block / Reservation: capacity-limited reservation windows and their slots
  - AllocationOutcome: per employee per program result of the whole process
  - Employee / Group / Area: directory records consumed from collaborators

DESIGN PRINCIPLES:
  1. Type Safety: distinct ID types so a BlockID never passes as a ProgramID
  2. Snapshots: an outcome stores the entitlement it was computed with
  3. Logical deletion: programs are never physically removed

SEE ALSO:
  - store.go: persistence interfaces over these types
  - errors.go: error taxonomy
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	EmployeeID    string
	AreaID        string
	GroupID       string
	RuleID        string
	ProgramID     string
	BlockID       string
	ReservationID string
)

// =============================================================================
// DIRECTORY - Employees, groups and areas (consumed, not owned)
// =============================================================================

type Employee struct {
	ID            EmployeeID `json:"id"`
	PayrollNumber string     `json:"payrollNumber"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	HireDate      TimePoint  `json:"hireDate"`
	AreaID        AreaID     `json:"areaId"`
	GroupID       GroupID    `json:"groupId"`
	Active        bool       `json:"active"`
}

// Group binds a crew to a rotation Rule.
// StartVariant is the WeeklyVariant (1-based) the group follows on the anchor
// week; Anchor is phase 0 of the rotation.
type Group struct {
	ID           GroupID   `json:"id"`
	AreaID       AreaID    `json:"areaId"`
	Name         string    `json:"name"`
	RuleID       RuleID    `json:"ruleId"`
	StartVariant int       `json:"startVariant"`
	Anchor       TimePoint `json:"anchor"`
}

type Area struct {
	ID        AreaID     `json:"id"`
	Name      string     `json:"name"`
	ManagerID EmployeeID `json:"managerId"`
	Manning   int        `json:"manning"` // required headcount; 0 = group size
}

// Directory is the read side of the employee/group/area administration.
type Directory interface {
	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)
	ListEmployeesByGroup(ctx context.Context, groupID GroupID) ([]Employee, error)
	ListActiveEmployees(ctx context.Context) ([]Employee, error)
	GetGroup(ctx context.Context, id GroupID) (*Group, error)
	ListGroups(ctx context.Context) ([]Group, error)
	GetArea(ctx context.Context, id AreaID) (*Area, error)
}

// =============================================================================
// ANNUAL PROGRAM
// =============================================================================

type ProgramState string

const (
	ProgramPending     ProgramState = "Pending"
	ProgramInProgress  ProgramState = "InProgress"
	ProgramRescheduled ProgramState = "Rescheduled"
	ProgramClosed      ProgramState = "Closed"
)

type AnnualProgram struct {
	ID        ProgramID    `json:"id"`
	Year      int          `json:"year"`
	State     ProgramState `json:"state"`
	Deleted   bool         `json:"deleted"`
	Period    Period       `json:"period"`
	OwnerID   string       `json:"ownerId"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// Active reports whether allocation work (planning, blocks) may run.
func (p AnnualProgram) Active() bool {
	return !p.Deleted && (p.State == ProgramInProgress || p.State == ProgramRescheduled)
}

// =============================================================================
// ENTITLEMENT SNAPSHOT
// =============================================================================

// Entitlement is the day split an employee receives for one program year.
type Entitlement struct {
	YearsOfService       int `json:"yearsOfService"`
	TotalDays            int `json:"totalDays"`
	CompanyMandatoryDays int `json:"companyMandatoryDays"`
	AutoAssignDays       int `json:"autoAssignDays"`
	EmployeeChooseDays   int `json:"employeeChooseDays"`
}

// =============================================================================
// ALLOCATION OUTCOME
// =============================================================================

type UnassignedReason string

const (
	ReasonNone              UnassignedReason = ""
	ReasonNoAvailableShifts UnassignedReason = "NoAvailableShifts"
	ReasonInsufficientDays  UnassignedReason = "InsufficientDays"
	ReasonProcessingError   UnassignedReason = "ProcessingError"
	ReasonOther             UnassignedReason = "Other"

	// ReasonReverted marks automatic days removed by an operator.
	ReasonReverted UnassignedReason = "Reverted"
)

type AllocationOutcome struct {
	ProgramID        ProgramID        `json:"programId"`
	EmployeeID       EmployeeID       `json:"employeeId"`
	Entitlement      Entitlement      `json:"entitlement"`
	AutoAssigned     []TimePoint      `json:"autoAssigned"`
	Chosen           []TimePoint      `json:"chosen"`
	UnassignedReason UnassignedReason `json:"unassignedReason,omitempty"`
	Detail           string           `json:"detail,omitempty"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// Placed reports whether automatic assignment fully succeeded.
func (o AllocationOutcome) Placed() bool { return o.UnassignedReason == ReasonNone }

// RemainingChoose is how many days the employee may still reserve.
func (o AllocationOutcome) RemainingChoose() int {
	return o.Entitlement.EmployeeChooseDays - len(o.Chosen)
}

// Holds reports whether day is already an auto-assigned or chosen day.
func (o AllocationOutcome) Holds(day TimePoint) bool {
	for _, d := range o.AutoAssigned {
		if d.Equal(day) {
			return true
		}
	}
	for _, d := range o.Chosen {
		if d.Equal(day) {
			return true
		}
	}
	return false
}

// =============================================================================
// RESERVATION BLOCKS
// =============================================================================

type BlockState string

const (
	BlockOpen   BlockState = "Open"
	BlockClosed BlockState = "Closed"
)

type Block struct {
	ID          BlockID    `json:"id"`
	ProgramID   ProgramID  `json:"programId"`
	AreaID      AreaID     `json:"areaId"`
	GroupID     GroupID    `json:"groupId"`
	Number      int        `json:"blockNumber"`
	WindowStart time.Time  `json:"windowStart"`
	WindowEnd   time.Time  `json:"windowEnd"`
	Capacity    int        `json:"capacity"`
	Overflow    bool       `json:"isOverflow"`
	State       BlockState `json:"state"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type ReservationStatus string

const (
	ReservationPending  ReservationStatus = "Pending"
	ReservationAssigned ReservationStatus = "Assigned"
	ReservationExpired  ReservationStatus = "Expired"

	// ReservationTransferred marks a slot left behind by a move to another block.
	ReservationTransferred ReservationStatus = "Transferred"
)

type Reservation struct {
	ID                   ReservationID     `json:"id"`
	BlockID              BlockID           `json:"blockId"`
	EmployeeID           EmployeeID        `json:"employeeId"`
	Position             int               `json:"positionInBlock"`
	Dates                []TimePoint       `json:"dates"`
	Status               ReservationStatus `json:"status"`
	RequiresUrgentAction bool              `json:"requiresUrgentAction"`
	CreatedAt            time.Time         `json:"createdAt"`
	UpdatedAt            time.Time         `json:"updatedAt"`
}

// Holding reports whether the reservation occupies block capacity.
func (r Reservation) Holding() bool {
	return r.Status == ReservationPending || r.Status == ReservationAssigned
}
