package issuer_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"insignia/internal/badges/models"
	"insignia/internal/badges/store"
	"insignia/internal/issuer"
	"insignia/pkg/platform/sentinel"
)

// fakeBackend records award and revoke calls.
type fakeBackend struct {
	awards   int
	revokes  int
	issuance issuer.Issuance
	err      error
}

func (f *fakeBackend) Award(context.Context, issuer.Request) (issuer.Issuance, error) {
	f.awards++
	return f.issuance, f.err
}

func (f *fakeBackend) Revoke(context.Context, issuer.Request) error {
	f.revokes++
	return f.err
}

type BridgeSuite struct {
	suite.Suite
	ctx     context.Context
	store   *store.InMemoryStore
	backend *fakeBackend
	bridge  *issuer.Bridge
}

func (s *BridgeSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewInMemory()
	s.backend = &fakeBackend{issuance: issuer.Issuance{ExternalID: "ext-1", State: "pending"}}

	registry := issuer.NewRegistry()
	registry.Register(issuer.KindInternal, issuer.NewInternal())
	registry.Register(issuer.KindCredly, s.backend)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bridge, err := issuer.NewBridge(s.store, registry, logger)
	s.Require().NoError(err)
	s.bridge = bridge
}

func TestBridgeSuite(t *testing.T) {
	suite.Run(t, new(BridgeSuite))
}

func (s *BridgeSuite) seedTemplate(origin string) *models.BadgeTemplate {
	template, err := models.NewBadgeTemplate("Badge", "", origin, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateTemplate(s.ctx, template))

	_, err = s.store.GetOrCreateUser(s.ctx, models.UserIdentity{
		Username: "alice", Email: "alice@example.com", FullName: "Alice Liddell", IsActive: true,
	})
	s.Require().NoError(err)
	return template
}

func (s *BridgeSuite) TestInternalAwardStaysLocal() {
	template := s.seedTemplate(models.OriginInternal)

	err := s.bridge.HandleNotification(s.ctx,
		models.ProgressComplete{Username: "alice", TemplateID: template.ID})
	s.Require().NoError(err)

	badge, err := s.store.GetUserBadge(s.ctx, "alice", template.ID)
	s.Require().NoError(err)
	s.Equal(models.BadgeStatusAwarded, badge.Status)
	s.Empty(badge.ExternalID)
	s.Zero(s.backend.awards)
}

func (s *BridgeSuite) TestExternalAwardRecordsIssuance() {
	template := s.seedTemplate(models.OriginCredly)

	err := s.bridge.HandleNotification(s.ctx,
		models.ProgressComplete{Username: "alice", TemplateID: template.ID})
	s.Require().NoError(err)

	s.Equal(1, s.backend.awards)

	badge, err := s.store.GetUserBadge(s.ctx, "alice", template.ID)
	s.Require().NoError(err)
	s.Equal("ext-1", badge.ExternalID)
	s.Equal("pending", badge.ExternalState)
	s.True(badge.Propagated())
}

func (s *BridgeSuite) TestRevocationOnlyCallsPropagatedProviders() {
	template := s.seedTemplate(models.OriginCredly)

	s.Run("never awarded: nothing to revoke", func() {
		err := s.bridge.HandleNotification(s.ctx,
			models.ProgressIncomplete{Username: "alice", TemplateID: template.ID})
		s.Require().NoError(err)
		s.Zero(s.backend.revokes)

		_, err = s.store.GetUserBadge(s.ctx, "alice", template.ID)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("awarded but not propagated: local revoke only", func() {
		_, err := s.store.UpsertUserBadge(s.ctx, "alice", template.ID, models.BadgeStatusAwarded)
		s.Require().NoError(err)

		err = s.bridge.HandleNotification(s.ctx,
			models.ProgressIncomplete{Username: "alice", TemplateID: template.ID})
		s.Require().NoError(err)
		s.Zero(s.backend.revokes)

		badge, err := s.store.GetUserBadge(s.ctx, "alice", template.ID)
		s.Require().NoError(err)
		s.Equal(models.BadgeStatusRevoked, badge.Status)
	})

	s.Run("propagated: provider revoke plus local record", func() {
		badge, err := s.store.UpsertUserBadge(s.ctx, "alice", template.ID, models.BadgeStatusAwarded)
		s.Require().NoError(err)
		s.Require().NoError(s.store.SetUserBadgeExternal(s.ctx, badge.ID, "ext-1", "accepted"))

		err = s.bridge.HandleNotification(s.ctx,
			models.ProgressIncomplete{Username: "alice", TemplateID: template.ID})
		s.Require().NoError(err)
		s.Equal(1, s.backend.revokes)

		loaded, err := s.store.GetUserBadge(s.ctx, "alice", template.ID)
		s.Require().NoError(err)
		s.Equal(models.BadgeStatusRevoked, loaded.Status)
		s.Equal("revoked", loaded.ExternalState)
	})
}

func (s *BridgeSuite) TestRequirementNotificationsIgnored() {
	template := s.seedTemplate(models.OriginCredly)

	err := s.bridge.HandleNotification(s.ctx,
		models.RequirementFulfilled{Username: "alice", TemplateID: template.ID})
	s.Require().NoError(err)
	s.Zero(s.backend.awards)
}

func (s *BridgeSuite) TestUnregisteredOriginFails() {
	template := s.seedTemplate(models.OriginAccredible)

	err := s.bridge.HandleNotification(s.ctx,
		models.ProgressComplete{Username: "alice", TemplateID: template.ID})
	s.Require().Error(err)
}
