// Package models defines the badge progression engine's entities: templates,
// requirements, data rules, penalties, progress, and fulfillments.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	derrors "insignia/pkg/domain-errors"
)

// Origin tags who defines a badge template and which issuer awards it.
const (
	OriginInternal   = "internal"
	OriginCredly     = "credly"
	OriginAccredible = "accredible"
)

// BadgeTemplate is a configured, awardable credential definition. Progression
// is driven by the Requirements and Penalties attached to it.
type BadgeTemplate struct {
	ID          uuid.UUID
	Name        string
	Description string
	Origin      string
	IsActive    bool
	CreatedAt   time.Time
}

// NewBadgeTemplate validates and builds a template. Templates start inactive;
// they must be configured (requirements, optional penalties) before
// activation.
func NewBadgeTemplate(name, description, origin string, now time.Time) (*BadgeTemplate, error) {
	if name == "" {
		return nil, derrors.New(derrors.CodeInvalidInput, "template name is required")
	}
	switch origin {
	case OriginInternal, OriginCredly, OriginAccredible:
	default:
		return nil, derrors.Newf(derrors.CodeInvalidInput, "unknown template origin %q", origin)
	}
	return &BadgeTemplate{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		Origin:      origin,
		IsActive:    false,
		CreatedAt:   now,
	}, nil
}

// Operator is a rule comparison operator.
type Operator string

const (
	OperatorEq Operator = "eq"
	OperatorNe Operator = "ne"
)

// DataRule is a single comparison against the event payload: the value at
// Path must relate to Value under Operator. Rules attached to one requirement
// or penalty combine with logical AND.
type DataRule struct {
	ID       int64
	Path     string
	Operator Operator
	Value    string
}

// BadgeRequirement describes what must happen for a badge template to
// progress: which event it listens to and what the payload must carry.
//
// All requirements attached to a template must be fulfilled by default; to
// get OR processing for a set of requirements, give them the same Blend tag.
type BadgeRequirement struct {
	ID          int64
	TemplateID  uuid.UUID
	EventType   string
	Description string
	Blend       string // empty means ungrouped
	Rules       []DataRule
}

// GroupKey returns the completion group this requirement belongs to.
// Requirements without a blend form their own singleton group, so ungrouped
// requirements never merge with each other.
func (r *BadgeRequirement) GroupKey() string {
	if r.Blend != "" {
		return r.Blend
	}
	return fmt.Sprintf("req:%d", r.ID)
}

// BadgePenalty describes regression: when its rules match an event, the
// listed requirements are reset for the user. Targets must belong to the
// penalty's template (validated at configuration time).
type BadgePenalty struct {
	ID             int64
	TemplateID     uuid.UUID
	EventType      string
	Rules          []DataRule
	RequirementIDs []int64
}

// BadgeProgress keys a user's progress on one template. The completion state
// is derived from the fulfillment ledger on read, never stored.
type BadgeProgress struct {
	ID         int64
	Username   string
	TemplateID uuid.UUID
}

// Fulfillment records that a requirement is currently satisfied for a user.
// Creation and deletion are idempotent at the store boundary.
type Fulfillment struct {
	ID            int64
	ProgressID    int64
	RequirementID int64
	Blend         string
}

// User is the minimal local user record provisioned from event payloads.
type User struct {
	Username   string
	Email      string
	FullName   string
	ExternalID int64
	IsActive   bool
}
