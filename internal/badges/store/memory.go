package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"insignia/internal/badges/models"
	"insignia/internal/badges/service"
	"insignia/pkg/platform/sentinel"
)

type progressKey struct {
	username   string
	templateID uuid.UUID
}

type fulfillKey struct {
	progressID    int64
	requirementID int64
}

type badgeKey struct {
	username   string
	templateID uuid.UUID
}

// InMemoryStore backs unit tests and local development. Individual
// operations are safe under the mutex; RunInTx provides no rollback. The
// transactional guarantees are exercised against PostgreSQL.
type InMemoryStore struct {
	mu sync.RWMutex

	templates    map[uuid.UUID]*models.BadgeTemplate
	requirements map[int64]*models.BadgeRequirement
	penalties    map[int64]*models.BadgePenalty
	users        map[string]*models.User
	progress     map[progressKey]*models.BadgeProgress
	progressByID map[int64]*models.BadgeProgress
	fulfillments map[fulfillKey]*models.Fulfillment
	userBadges   map[badgeKey]*models.UserBadge

	nextRequirementID int64
	nextRuleID        int64
	nextPenaltyID     int64
	nextProgressID    int64
	nextFulfillmentID int64
}

// NewInMemory constructs an empty in-memory store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		templates:    make(map[uuid.UUID]*models.BadgeTemplate),
		requirements: make(map[int64]*models.BadgeRequirement),
		penalties:    make(map[int64]*models.BadgePenalty),
		users:        make(map[string]*models.User),
		progress:     make(map[progressKey]*models.BadgeProgress),
		progressByID: make(map[int64]*models.BadgeProgress),
		fulfillments: make(map[fulfillKey]*models.Fulfillment),
		userBadges:   make(map[badgeKey]*models.UserBadge),
	}
}

// RunInTx executes fn directly against the store. No atomicity in memory.
func (s *InMemoryStore) RunInTx(_ context.Context, fn func(service.Store) error) error {
	return fn(s)
}

func (s *InMemoryStore) CreateTemplate(_ context.Context, template *models.BadgeTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.templates[template.ID]; exists {
		return sentinel.ErrConflict
	}
	s.templates[template.ID] = template
	return nil
}

func (s *InMemoryStore) GetTemplate(_ context.Context, id uuid.UUID) (*models.BadgeTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	template, exists := s.templates[id]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	return template, nil
}

func (s *InMemoryStore) ListTemplates(_ context.Context) ([]*models.BadgeTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	templates := make([]*models.BadgeTemplate, 0, len(s.templates))
	for _, template := range s.templates {
		templates = append(templates, template)
	}
	sort.Slice(templates, func(i, j int) bool {
		return templates[i].CreatedAt.Before(templates[j].CreatedAt)
	})
	return templates, nil
}

func (s *InMemoryStore) SetTemplateActive(_ context.Context, id uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	template, exists := s.templates[id]
	if !exists {
		return sentinel.ErrNotFound
	}
	template.IsActive = active
	return nil
}

func (s *InMemoryStore) AddRequirement(_ context.Context, requirement *models.BadgeRequirement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.templates[requirement.TemplateID]; !exists {
		return sentinel.ErrNotFound
	}
	s.nextRequirementID++
	requirement.ID = s.nextRequirementID
	s.requirements[requirement.ID] = requirement
	return nil
}

func (s *InMemoryStore) GetRequirement(_ context.Context, id int64) (*models.BadgeRequirement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	requirement, exists := s.requirements[id]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	return requirement, nil
}

func (s *InMemoryStore) AddRequirementRule(_ context.Context, requirementID int64, rule *models.DataRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	requirement, exists := s.requirements[requirementID]
	if !exists {
		return sentinel.ErrNotFound
	}
	s.nextRuleID++
	rule.ID = s.nextRuleID
	requirement.Rules = append(requirement.Rules, *rule)
	return nil
}

func (s *InMemoryStore) RequirementsByTemplate(_ context.Context, templateID uuid.UUID) ([]*models.BadgeRequirement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.BadgeRequirement
	for _, requirement := range s.requirements {
		if requirement.TemplateID == templateID {
			out = append(out, requirement)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) RequirementsByEvent(_ context.Context, eventType string) ([]*models.BadgeRequirement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.BadgeRequirement
	for _, requirement := range s.requirements {
		template, exists := s.templates[requirement.TemplateID]
		if !exists || !template.IsActive {
			continue
		}
		if requirement.EventType == eventType {
			out = append(out, requirement)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) AddPenalty(_ context.Context, penalty *models.BadgePenalty) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.templates[penalty.TemplateID]; !exists {
		return sentinel.ErrNotFound
	}
	s.nextPenaltyID++
	penalty.ID = s.nextPenaltyID
	for i := range penalty.Rules {
		s.nextRuleID++
		penalty.Rules[i].ID = s.nextRuleID
	}
	s.penalties[penalty.ID] = penalty
	return nil
}

func (s *InMemoryStore) PenaltiesByEvent(_ context.Context, eventType string) ([]*models.BadgePenalty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.BadgePenalty
	for _, penalty := range s.penalties {
		template, exists := s.templates[penalty.TemplateID]
		if !exists || !template.IsActive {
			continue
		}
		if penalty.EventType == eventType {
			out = append(out, penalty)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) GetOrCreateUser(_ context.Context, identity models.UserIdentity) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user, exists := s.users[identity.Username]; exists {
		return user, nil
	}
	user := &models.User{
		Username:   identity.Username,
		Email:      identity.Email,
		FullName:   identity.FullName,
		ExternalID: identity.ExternalID,
		IsActive:   identity.IsActive,
	}
	s.users[identity.Username] = user
	return user, nil
}

func (s *InMemoryStore) GetUser(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[username]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	return user, nil
}

func (s *InMemoryStore) GetOrCreateProgress(_ context.Context, username string, templateID uuid.UUID) (*models.BadgeProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := progressKey{username: username, templateID: templateID}
	if progress, exists := s.progress[key]; exists {
		return progress, nil
	}
	s.nextProgressID++
	progress := &models.BadgeProgress{
		ID:         s.nextProgressID,
		Username:   username,
		TemplateID: templateID,
	}
	s.progress[key] = progress
	s.progressByID[progress.ID] = progress
	return progress, nil
}

func (s *InMemoryStore) ListProgress(_ context.Context, username string) ([]*models.BadgeProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.BadgeProgress
	for _, progress := range s.progress {
		if progress.Username == username {
			out = append(out, progress)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) CreateFulfillment(_ context.Context, progressID, requirementID int64, blend string) (*models.Fulfillment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.progressByID[progressID]; !exists {
		return nil, false, sentinel.ErrNotFound
	}
	key := fulfillKey{progressID: progressID, requirementID: requirementID}
	if existing, exists := s.fulfillments[key]; exists {
		return existing, false, nil
	}
	s.nextFulfillmentID++
	fulfillment := &models.Fulfillment{
		ID:            s.nextFulfillmentID,
		ProgressID:    progressID,
		RequirementID: requirementID,
		Blend:         blend,
	}
	s.fulfillments[key] = fulfillment
	return fulfillment, true, nil
}

func (s *InMemoryStore) DeleteFulfillment(_ context.Context, username string, requirementID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, fulfillment := range s.fulfillments {
		if fulfillment.RequirementID != requirementID {
			continue
		}
		progress := s.progressByID[fulfillment.ProgressID]
		if progress != nil && progress.Username == username {
			delete(s.fulfillments, key)
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) IsFulfilled(_ context.Context, username string, requirementID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, fulfillment := range s.fulfillments {
		if fulfillment.RequirementID != requirementID {
			continue
		}
		progress := s.progressByID[fulfillment.ProgressID]
		if progress != nil && progress.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) FulfilledRequirementIDs(_ context.Context, username string, templateID uuid.UUID) (map[int64]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := progressKey{username: username, templateID: templateID}
	progress, exists := s.progress[key]
	if !exists {
		return map[int64]bool{}, nil
	}
	fulfilled := make(map[int64]bool)
	for _, fulfillment := range s.fulfillments {
		if fulfillment.ProgressID == progress.ID {
			fulfilled[fulfillment.RequirementID] = true
		}
	}
	return fulfilled, nil
}

func (s *InMemoryStore) ResetProgress(_ context.Context, username string, templateID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := progressKey{username: username, templateID: templateID}
	progress, exists := s.progress[key]
	if !exists {
		return nil
	}
	for fulfillKey, fulfillment := range s.fulfillments {
		if fulfillment.ProgressID == progress.ID {
			delete(s.fulfillments, fulfillKey)
		}
	}
	return nil
}

func (s *InMemoryStore) UpsertUserBadge(_ context.Context, username string, templateID uuid.UUID, status string) (*models.UserBadge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := badgeKey{username: username, templateID: templateID}
	if badge, exists := s.userBadges[key]; exists {
		badge.Status = status
		badge.UpdatedAt = time.Now()
		return badge, nil
	}
	badge := &models.UserBadge{
		ID:         uuid.New(),
		Username:   username,
		TemplateID: templateID,
		Status:     status,
		UpdatedAt:  time.Now(),
	}
	s.userBadges[key] = badge
	return badge, nil
}

func (s *InMemoryStore) GetUserBadge(_ context.Context, username string, templateID uuid.UUID) (*models.UserBadge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	badge, exists := s.userBadges[badgeKey{username: username, templateID: templateID}]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	return badge, nil
}

func (s *InMemoryStore) SetUserBadgeExternal(_ context.Context, badgeID uuid.UUID, externalID, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, badge := range s.userBadges {
		if badge.ID == badgeID {
			badge.ExternalID = externalID
			badge.ExternalState = state
			badge.UpdatedAt = time.Now()
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func (s *InMemoryStore) UpdateUserBadgeStateByExternalID(_ context.Context, externalID, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, badge := range s.userBadges {
		if badge.ExternalID == externalID {
			badge.ExternalState = state
			badge.UpdatedAt = time.Now()
			return nil
		}
	}
	return sentinel.ErrNotFound
}
