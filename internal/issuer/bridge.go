package issuer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"insignia/internal/badges/models"
	derrors "insignia/pkg/domain-errors"
	"insignia/pkg/platform/sentinel"
)

// BadgeStore is the slice of persistence the bridge needs: template and user
// lookups plus the earned-credential ledger.
type BadgeStore interface {
	GetTemplate(ctx context.Context, id uuid.UUID) (*models.BadgeTemplate, error)
	GetUser(ctx context.Context, username string) (*models.User, error)
	UpsertUserBadge(ctx context.Context, username string, templateID uuid.UUID, status string) (*models.UserBadge, error)
	GetUserBadge(ctx context.Context, username string, templateID uuid.UUID) (*models.UserBadge, error)
	SetUserBadgeExternal(ctx context.Context, badgeID uuid.UUID, externalID, state string) error
}

// Bridge turns engine cascade notifications into credential lifecycle
// actions: ProgressComplete awards, ProgressIncomplete revokes. Requirement
// level notifications are ignored here.
type Bridge struct {
	store    BadgeStore
	registry *Registry
	logger   *slog.Logger
}

func NewBridge(store BadgeStore, registry *Registry, logger *slog.Logger) (*Bridge, error) {
	if store == nil {
		return nil, derrors.New(derrors.CodeInvalidInput, "badge store is required")
	}
	if registry == nil {
		return nil, derrors.New(derrors.CodeInvalidInput, "issuer registry is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{store: store, registry: registry, logger: logger}, nil
}

// HandleNotification implements service.NotificationHandler.
func (b *Bridge) HandleNotification(ctx context.Context, notification models.Notification) error {
	switch n := notification.(type) {
	case models.ProgressComplete:
		return b.award(ctx, n.Username, n.TemplateID)
	case models.ProgressIncomplete:
		return b.revoke(ctx, n.Username, n.TemplateID)
	default:
		return nil
	}
}

func (b *Bridge) award(ctx context.Context, username string, templateID uuid.UUID) error {
	template, err := b.store.GetTemplate(ctx, templateID)
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "load template for award")
	}
	badge, err := b.store.UpsertUserBadge(ctx, username, templateID, models.BadgeStatusAwarded)
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "record award")
	}

	backend, err := b.registry.Resolve(Kind(template.Origin))
	if err != nil {
		return err
	}
	user, err := b.store.GetUser(ctx, username)
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "load award recipient")
	}

	issuance, err := backend.Award(ctx, Request{Badge: badge, Template: template, User: user})
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "issue external credential")
	}
	if issuance.ExternalID == "" {
		return nil
	}
	if err := b.store.SetUserBadgeExternal(ctx, badge.ID, issuance.ExternalID, issuance.State); err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "record external issuance")
	}

	b.logger.InfoContext(ctx, "badge awarded",
		"username", username,
		"template_id", templateID.String(),
		"origin", template.Origin,
		"external_id", issuance.ExternalID,
	)
	return nil
}

func (b *Bridge) revoke(ctx context.Context, username string, templateID uuid.UUID) error {
	badge, err := b.store.GetUserBadge(ctx, username, templateID)
	if errors.Is(err, sentinel.ErrNotFound) {
		// Progress regressed before anything was ever awarded.
		return nil
	}
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "load badge for revocation")
	}

	template, err := b.store.GetTemplate(ctx, templateID)
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "load template for revocation")
	}

	// The provider only learns about the revocation when it issued the
	// badge in the first place.
	if badge.Propagated() {
		backend, err := b.registry.Resolve(Kind(template.Origin))
		if err != nil {
			return err
		}
		user, err := b.store.GetUser(ctx, username)
		if err != nil {
			return derrors.Wrap(err, derrors.CodeInternal, "load revocation subject")
		}
		if err := backend.Revoke(ctx, Request{Badge: badge, Template: template, User: user}); err != nil {
			return derrors.Wrap(err, derrors.CodeInternal, "revoke external credential")
		}
		if err := b.store.SetUserBadgeExternal(ctx, badge.ID, badge.ExternalID, "revoked"); err != nil {
			return derrors.Wrap(err, derrors.CodeInternal, "record external revocation")
		}
	}

	if _, err := b.store.UpsertUserBadge(ctx, username, templateID, models.BadgeStatusRevoked); err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "record revocation")
	}

	b.logger.InfoContext(ctx, "badge revoked",
		"username", username,
		"template_id", templateID.String(),
		"origin", template.Origin,
	)
	return nil
}
