package models

import (
	"time"

	"github.com/google/uuid"
)

// UserBadge statuses mirror the credential lifecycle: awarded on completion,
// revoked on regression. The external state tracks the third-party provider's
// view for templates issued through Credly or Accredible.
const (
	BadgeStatusAwarded = "awarded"
	BadgeStatusRevoked = "revoked"
)

// External issuing states in which a provider-side badge actually exists.
var issuingStates = map[string]bool{
	"pending":  true,
	"accepted": true,
	"rejected": true,
}

// UserBadge is an earned badge credential for a user. One row per
// (username, template); awards are idempotent upserts.
type UserBadge struct {
	ID            uuid.UUID
	Username      string
	TemplateID    uuid.UUID
	Status        string
	ExternalID    string
	ExternalState string
	UpdatedAt     time.Time
}

// Propagated reports whether an external provider badge was already issued
// for this credential. Revocation only calls the provider when true.
func (b *UserBadge) Propagated() bool {
	return b.ExternalID != "" && issuingStates[b.ExternalState]
}
