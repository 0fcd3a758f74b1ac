package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"insignia/internal/badges/models"
	"insignia/internal/events"
	derrors "insignia/pkg/domain-errors"
	"insignia/pkg/keypath"
	"insignia/pkg/platform/sentinel"
)

// Service owns badge template configuration and progress reads. Rule shape
// is validated here, against the event registry, at configuration time;
// evaluation never re-validates.
type Service struct {
	store    Store
	registry *events.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures optional Service collaborators.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides wall-clock time, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store Store, registry *events.Registry, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, derrors.New(derrors.CodeInvalidInput, "badge store is required")
	}
	if registry == nil {
		return nil, derrors.New(derrors.CodeInvalidInput, "event registry is required")
	}
	svc := &Service{
		store:    store,
		registry: registry,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// RuleSpec is the transport-level shape of one data rule.
type RuleSpec struct {
	Path     string
	Operator string
	Value    string
}

// CreateTemplate registers a new inactive badge template.
func (s *Service) CreateTemplate(ctx context.Context, name, description, origin string) (*models.BadgeTemplate, error) {
	template, err := models.NewBadgeTemplate(name, description, origin, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateTemplate(ctx, template); err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "create template")
	}
	return template, nil
}

// GetTemplate loads one template.
func (s *Service) GetTemplate(ctx context.Context, id uuid.UUID) (*models.BadgeTemplate, error) {
	template, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, derrors.Newf(derrors.CodeNotFound, "template %s not found", id)
		}
		return nil, derrors.Wrap(err, derrors.CodeInternal, "load template")
	}
	return template, nil
}

// ListTemplates returns every configured template.
func (s *Service) ListTemplates(ctx context.Context) ([]*models.BadgeTemplate, error) {
	templates, err := s.store.ListTemplates(ctx)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "list templates")
	}
	return templates, nil
}

// ActivateTemplate switches a template live. A template must carry at least
// one requirement first: an unconfigured template can never complete, only
// confuse.
func (s *Service) ActivateTemplate(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetTemplate(ctx, id); err != nil {
		return err
	}
	requirements, err := s.store.RequirementsByTemplate(ctx, id)
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "load template requirements")
	}
	if len(requirements) == 0 {
		return derrors.New(derrors.CodeInvalidState, "template has no requirements; configure it before activation")
	}
	if err := s.store.SetTemplateActive(ctx, id, true); err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "activate template")
	}
	return nil
}

// DeactivateTemplate takes a template out of evaluation.
func (s *Service) DeactivateTemplate(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetTemplate(ctx, id); err != nil {
		return err
	}
	if err := s.store.SetTemplateActive(ctx, id, false); err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "deactivate template")
	}
	return nil
}

// AddRequirement attaches a requirement to a template. The event type must
// belong to the configured vocabulary.
func (s *Service) AddRequirement(ctx context.Context, templateID uuid.UUID, eventType, blend, description string) (*models.BadgeRequirement, error) {
	if !s.registry.Known(eventType) {
		return nil, derrors.Newf(derrors.CodeInvalidInput, "unknown event type %q", eventType)
	}
	if _, err := s.GetTemplate(ctx, templateID); err != nil {
		return nil, err
	}
	requirement := &models.BadgeRequirement{
		TemplateID:  templateID,
		EventType:   eventType,
		Blend:       blend,
		Description: description,
	}
	if err := s.store.AddRequirement(ctx, requirement); err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "add requirement")
	}
	return requirement, nil
}

// AddRequirementRule attaches one data rule to a requirement. Path syntax
// and registry compatibility are checked now so evaluation can trust them.
func (s *Service) AddRequirementRule(ctx context.Context, requirementID int64, spec RuleSpec) (*models.DataRule, error) {
	requirement, err := s.store.GetRequirement(ctx, requirementID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, derrors.Newf(derrors.CodeNotFound, "requirement %d not found", requirementID)
		}
		return nil, derrors.Wrap(err, derrors.CodeInternal, "load requirement")
	}
	rule, err := s.buildRule(requirement.EventType, spec)
	if err != nil {
		return nil, err
	}
	if err := s.store.AddRequirementRule(ctx, requirementID, rule); err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "add rule")
	}
	return rule, nil
}

// AddPenalty attaches a penalty to a template. Every target requirement must
// belong to the same template as the penalty; this is the configuration-time
// guarantee evaluation relies on.
func (s *Service) AddPenalty(ctx context.Context, templateID uuid.UUID, eventType string, specs []RuleSpec, requirementIDs []int64) (*models.BadgePenalty, error) {
	if !s.registry.Known(eventType) {
		return nil, derrors.Newf(derrors.CodeInvalidInput, "unknown event type %q", eventType)
	}
	if len(requirementIDs) == 0 {
		return nil, derrors.New(derrors.CodeInvalidInput, "penalty needs at least one target requirement")
	}
	if _, err := s.GetTemplate(ctx, templateID); err != nil {
		return nil, err
	}

	for _, requirementID := range requirementIDs {
		requirement, err := s.store.GetRequirement(ctx, requirementID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, derrors.Newf(derrors.CodeNotFound, "target requirement %d not found", requirementID)
			}
			return nil, derrors.Wrap(err, derrors.CodeInternal, "load target requirement")
		}
		if requirement.TemplateID != templateID {
			return nil, derrors.Newf(derrors.CodeInvalidInput,
				"requirement %d belongs to template %s, not %s", requirementID, requirement.TemplateID, templateID)
		}
	}

	rules := make([]models.DataRule, 0, len(specs))
	for _, spec := range specs {
		rule, err := s.buildRule(eventType, spec)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}

	penalty := &models.BadgePenalty{
		TemplateID:     templateID,
		EventType:      eventType,
		Rules:          rules,
		RequirementIDs: requirementIDs,
	}
	if err := s.store.AddPenalty(ctx, penalty); err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "add penalty")
	}
	return penalty, nil
}

func (s *Service) buildRule(eventType string, spec RuleSpec) (*models.DataRule, error) {
	if !keypath.ValidPath(spec.Path) {
		return nil, derrors.Newf(derrors.CodeInvalidInput, "malformed keypath %q", spec.Path)
	}
	if !s.registry.ValidKeypath(eventType, spec.Path) {
		return nil, derrors.Newf(derrors.CodeInvalidInput,
			"keypath %q is not declared for event %s", spec.Path, eventType)
	}
	operator := models.Operator(spec.Operator)
	if operator != models.OperatorEq && operator != models.OperatorNe {
		return nil, derrors.Newf(derrors.CodeInvalidInput, "unsupported operator %q", spec.Operator)
	}
	if spec.Value == "" {
		return nil, derrors.New(derrors.CodeInvalidInput, "expected value is required")
	}
	return &models.DataRule{Path: spec.Path, Operator: operator, Value: spec.Value}, nil
}

// ProgressView is the read model for one (user, template) pair.
type ProgressView struct {
	TemplateID uuid.UUID
	Ratio      float64
	Completed  bool
}

// Ratio computes the completion ratio for a (user, template) pair.
func (s *Service) Ratio(ctx context.Context, username string, templateID uuid.UUID) (float64, error) {
	return ratioOn(ctx, s.store, username, templateID)
}

// Completed reports whether the user finished the template.
func (s *Service) Completed(ctx context.Context, username string, templateID uuid.UUID) (bool, error) {
	return completedOn(ctx, s.store, username, templateID)
}

// GroupStatus exposes per-group satisfaction for a (user, template) pair.
func (s *Service) GroupStatus(ctx context.Context, username string, templateID uuid.UUID) (map[string]bool, error) {
	requirements, err := s.store.RequirementsByTemplate(ctx, templateID)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "load template requirements")
	}
	fulfilled, err := s.store.FulfilledRequirementIDs(ctx, username, templateID)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "load fulfillments")
	}
	return groupStatus(requirements, fulfilled), nil
}

// Progress lists the user's progress across all templates they touched.
func (s *Service) Progress(ctx context.Context, username string) ([]ProgressView, error) {
	records, err := s.store.ListProgress(ctx, username)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "list progress")
	}
	views := make([]ProgressView, 0, len(records))
	for _, record := range records {
		ratio, err := ratioOn(ctx, s.store, username, record.TemplateID)
		if err != nil {
			return nil, err
		}
		views = append(views, ProgressView{
			TemplateID: record.TemplateID,
			Ratio:      ratio,
			Completed:  ratio == 1.00,
		})
	}
	return views, nil
}

// ResetProgress wipes all fulfillments for a (user, template) pair. The
// progress record itself survives: partial-completion history is retained.
func (s *Service) ResetProgress(ctx context.Context, username string, templateID uuid.UUID) error {
	if username == "" {
		return derrors.New(derrors.CodeInvalidInput, "username is required")
	}
	if err := s.store.ResetProgress(ctx, username, templateID); err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "reset progress")
	}
	return nil
}
