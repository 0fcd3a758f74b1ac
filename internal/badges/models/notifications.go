package models

import "github.com/google/uuid"

// Cascade notifications cross the engine boundary when fulfillment or
// progress state crosses an edge. They are collected while an event's
// mutations run and dispatched only after the transaction commits, so
// consumers never observe uncommitted state.

// Notification is the closed set of cascade notification variants.
type Notification interface {
	notification()
}

// RequirementFulfilled: a single requirement was newly satisfied.
type RequirementFulfilled struct {
	Username      string
	TemplateID    uuid.UUID
	FulfillmentID int64
}

// RequirementRegressed: a penalty or reset removed an existing fulfillment.
type RequirementRegressed struct {
	Username   string
	TemplateID uuid.UUID
}

// ProgressComplete: all requirement groups are now satisfied. External
// issuers award the derived credential on this edge.
type ProgressComplete struct {
	Username   string
	TemplateID uuid.UUID
}

// ProgressIncomplete: a previously complete template regressed. External
// issuers revoke the derived credential on this edge.
type ProgressIncomplete struct {
	Username   string
	TemplateID uuid.UUID
}

func (RequirementFulfilled) notification() {}
func (RequirementRegressed) notification() {}
func (ProgressComplete) notification()     {}
func (ProgressIncomplete) notification()   {}
