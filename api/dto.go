/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain records that
  already carry JSON tags (programs, blocks, reservations, outcomes,
  resolutions) are returned as they are; only request bodies and composite
  responses live here.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO:     Composite response types

VALIDATION:
  Request types carry go-playground/validator tags; handlers call
  h.validate.Struct and translate the first failure to English.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/MiltronBee/leave-engine/entitlement"
	"github.com/MiltronBee/leave-engine/generic"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateProgramRequest opens a Pending program for a year.
type CreateProgramRequest struct {
	Year int `json:"year" validate:"required,gte=1900,lte=9999"`
}

// AutoAssignRequest restricts a planning run to some employees.
// An empty list plans every active employee.
type AutoAssignRequest struct {
	EmployeeIDs []string `json:"employeeIds" validate:"omitempty,dive,required"`
}

// OpenBlocksRequest opens the reservation blocks of a program. With both
// AreaID and GroupID set only that group is laid out.
type OpenBlocksRequest struct {
	Start   string `json:"start" validate:"required,datetime=2006-01-02"`
	AreaID  string `json:"areaId" validate:"required_with=GroupID"`
	GroupID string `json:"groupId" validate:"required_with=AreaID"`
}

// ReserveRequest books choose days inside a block.
type ReserveRequest struct {
	EmployeeID string   `json:"employeeId" validate:"required"`
	Dates      []string `json:"dates" validate:"required,min=1,dive,datetime=2006-01-02"`
}

// RevertRequest limits a revert to some groups; empty means all.
type RevertRequest struct {
	GroupIDs []string `json:"groupIds" validate:"omitempty,dive,required"`
}

// ManualAssignRequest records days chosen by an operator.
type ManualAssignRequest struct {
	EmployeeID   string   `json:"employeeId" validate:"required"`
	Dates        []string `json:"dates" validate:"required,min=1,dive,datetime=2006-01-02"`
	Note         string   `json:"note" validate:"max=500"`
	IgnoreLimits bool     `json:"ignoreLimits"`
}

// MoveRequest transfers an employee to another block.
type MoveRequest struct {
	EmployeeID string `json:"employeeId" validate:"required"`
	ToBlockID  string `json:"toBlockId" validate:"required"`
	Reason     string `json:"reason" validate:"max=500"`
}

// EscalateRequest runs escalation as of Now (default: the server clock).
type EscalateRequest struct {
	Now *time.Time `json:"now"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// EntitlementDTO is the band matching a seniority and its day split.
type EntitlementDTO struct {
	Band        entitlement.Band    `json:"band"`
	Entitlement generic.Entitlement `json:"entitlement"`
}

// BlockDTO is a block together with its reservations.
type BlockDTO struct {
	generic.Block
	Reservations []generic.Reservation `json:"reservations"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func parseDates(raw []string) ([]generic.TimePoint, error) {
	out := make([]generic.TimePoint, 0, len(raw))
	for _, s := range raw {
		d, err := generic.ParseDate(s)
		if err != nil {
			return nil, generic.Invalid("dates", "invalid date %q", s)
		}
		out = append(out, d)
	}
	return out, nil
}

func employeeIDs(raw []string) []generic.EmployeeID {
	if len(raw) == 0 {
		return nil
	}
	out := make([]generic.EmployeeID, len(raw))
	for i, id := range raw {
		out[i] = generic.EmployeeID(id)
	}
	return out
}
