package service

import (
	"context"

	"github.com/google/uuid"

	"insignia/internal/badges/models"
)

// Store is the engine's persistence boundary. Implementations live in
// internal/badges/store (in-memory for unit tests, PostgreSQL for real).
//
// CreateFulfillment and DeleteFulfillment must be atomic at the storage
// boundary (get-or-create / find-and-delete), never check-then-act, so
// duplicate delivery of the same event stays safe under concurrency.
type Store interface {
	// Template configuration.
	CreateTemplate(ctx context.Context, template *models.BadgeTemplate) error
	GetTemplate(ctx context.Context, id uuid.UUID) (*models.BadgeTemplate, error)
	ListTemplates(ctx context.Context) ([]*models.BadgeTemplate, error)
	SetTemplateActive(ctx context.Context, id uuid.UUID, active bool) error

	// Requirements and rules. Readers return rules preloaded; ByEvent
	// selectors only cover requirements of active templates.
	AddRequirement(ctx context.Context, requirement *models.BadgeRequirement) error
	GetRequirement(ctx context.Context, id int64) (*models.BadgeRequirement, error)
	AddRequirementRule(ctx context.Context, requirementID int64, rule *models.DataRule) error
	RequirementsByTemplate(ctx context.Context, templateID uuid.UUID) ([]*models.BadgeRequirement, error)
	RequirementsByEvent(ctx context.Context, eventType string) ([]*models.BadgeRequirement, error)

	// Penalties. ByEvent only covers penalties of active templates.
	AddPenalty(ctx context.Context, penalty *models.BadgePenalty) error
	PenaltiesByEvent(ctx context.Context, eventType string) ([]*models.BadgePenalty, error)

	// Users.
	GetOrCreateUser(ctx context.Context, identity models.UserIdentity) (*models.User, error)

	// Progress and the fulfillment ledger.
	GetOrCreateProgress(ctx context.Context, username string, templateID uuid.UUID) (*models.BadgeProgress, error)
	ListProgress(ctx context.Context, username string) ([]*models.BadgeProgress, error)
	CreateFulfillment(ctx context.Context, progressID, requirementID int64, blend string) (*models.Fulfillment, bool, error)
	DeleteFulfillment(ctx context.Context, username string, requirementID int64) (bool, error)
	IsFulfilled(ctx context.Context, username string, requirementID int64) (bool, error)
	FulfilledRequirementIDs(ctx context.Context, username string, templateID uuid.UUID) (map[int64]bool, error)
	ResetProgress(ctx context.Context, username string, templateID uuid.UUID) error
}

// TxRunner executes fn against a transactional Store view. All fulfillment
// mutations for one inbound event run inside a single transaction; cascade
// notifications are dispatched only after it commits.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(Store) error) error
}
