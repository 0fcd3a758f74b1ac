// Package handler exposes badge configuration and progress over HTTP. It
// delegates to the badges service without embedding business logic so
// transport concerns remain isolated.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"insignia/internal/badges/models"
	"insignia/internal/badges/service"
	"insignia/internal/platform/middleware"
	derrors "insignia/pkg/domain-errors"
)

// Service defines the badge operations the transport needs.
type Service interface {
	CreateTemplate(ctx context.Context, name, description, origin string) (*models.BadgeTemplate, error)
	GetTemplate(ctx context.Context, id uuid.UUID) (*models.BadgeTemplate, error)
	ListTemplates(ctx context.Context) ([]*models.BadgeTemplate, error)
	ActivateTemplate(ctx context.Context, id uuid.UUID) error
	DeactivateTemplate(ctx context.Context, id uuid.UUID) error
	AddRequirement(ctx context.Context, templateID uuid.UUID, eventType, blend, description string) (*models.BadgeRequirement, error)
	AddRequirementRule(ctx context.Context, requirementID int64, spec service.RuleSpec) (*models.DataRule, error)
	AddPenalty(ctx context.Context, templateID uuid.UUID, eventType string, specs []service.RuleSpec, requirementIDs []int64) (*models.BadgePenalty, error)
	Progress(ctx context.Context, username string) ([]service.ProgressView, error)
	Ratio(ctx context.Context, username string, templateID uuid.UUID) (float64, error)
	GroupStatus(ctx context.Context, username string, templateID uuid.UUID) (map[string]bool, error)
	ResetProgress(ctx context.Context, username string, templateID uuid.UUID) error
}

// Handler handles badge-related endpoints.
type Handler struct {
	badges          Service
	logger          *slog.Logger
	adminSigningKey []byte
}

// New creates a new badges Handler.
func New(badges Service, logger *slog.Logger, adminSigningKey []byte) *Handler {
	return &Handler{
		badges:          badges,
		logger:          logger,
		adminSigningKey: adminSigningKey,
	}
}

// Register registers the badge routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(h.logger))

	router.Route("/admin", func(admin chi.Router) {
		admin.Use(middleware.RequireAdmin(h.adminSigningKey, h.logger))
		admin.Post("/templates", h.handleCreateTemplate)
		admin.Get("/templates", h.handleListTemplates)
		admin.Get("/templates/{templateID}", h.handleGetTemplate)
		admin.Post("/templates/{templateID}/requirements", h.handleAddRequirement)
		admin.Post("/templates/{templateID}/penalties", h.handleAddPenalty)
		admin.Post("/templates/{templateID}/activate", h.handleActivate)
		admin.Post("/templates/{templateID}/deactivate", h.handleDeactivate)
		admin.Post("/requirements/{requirementID}/rules", h.handleAddRule)
		admin.Delete("/users/{username}/progress/{templateID}", h.handleResetProgress)
	})

	router.Get("/users/{username}/progress", h.handleListProgress)
	router.Get("/users/{username}/progress/{templateID}", h.handleGetProgress)

	r.Mount("/", router)
}

type templateView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Origin      string `json:"origin"`
	IsActive    bool   `json:"is_active"`
	CreatedAt   string `json:"created_at"`
}

func toTemplateView(t *models.BadgeTemplate) templateView {
	return templateView{
		ID:          t.ID.String(),
		Name:        t.Name,
		Description: t.Description,
		Origin:      t.Origin,
		IsActive:    t.IsActive,
		CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Origin      string `json:"origin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, derrors.New(derrors.CodeInvalidInput, "invalid request body"))
		return
	}
	template, err := h.badges.CreateTemplate(r.Context(), req.Name, req.Description, req.Origin)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTemplateView(template))
}

func (h *Handler) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.badges.ListTemplates(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views := make([]templateView, 0, len(templates))
	for _, template := range templates {
		views = append(views, toTemplateView(template))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	templateID, ok := h.templateID(w, r)
	if !ok {
		return
	}
	template, err := h.badges.GetTemplate(r.Context(), templateID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateView(template))
}

func (h *Handler) handleAddRequirement(w http.ResponseWriter, r *http.Request) {
	templateID, ok := h.templateID(w, r)
	if !ok {
		return
	}
	var req struct {
		EventType   string `json:"event_type"`
		Blend       string `json:"blend"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, derrors.New(derrors.CodeInvalidInput, "invalid request body"))
		return
	}
	requirement, err := h.badges.AddRequirement(r.Context(), templateID, req.EventType, req.Blend, req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         requirement.ID,
		"event_type": requirement.EventType,
		"blend":      requirement.Blend,
	})
}

type ruleSpecRequest struct {
	Path     string `json:"path"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

func (h *Handler) handleAddRule(w http.ResponseWriter, r *http.Request) {
	requirementID, err := requirementIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req ruleSpecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, derrors.New(derrors.CodeInvalidInput, "invalid request body"))
		return
	}
	rule, err := h.badges.AddRequirementRule(r.Context(), requirementID, service.RuleSpec{
		Path:     req.Path,
		Operator: req.Operator,
		Value:    req.Value,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       rule.ID,
		"path":     rule.Path,
		"operator": rule.Operator,
		"value":    rule.Value,
	})
}

func (h *Handler) handleAddPenalty(w http.ResponseWriter, r *http.Request) {
	templateID, ok := h.templateID(w, r)
	if !ok {
		return
	}
	var req struct {
		EventType      string            `json:"event_type"`
		Rules          []ruleSpecRequest `json:"rules"`
		RequirementIDs []int64           `json:"requirement_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, derrors.New(derrors.CodeInvalidInput, "invalid request body"))
		return
	}
	specs := make([]service.RuleSpec, 0, len(req.Rules))
	for _, rule := range req.Rules {
		specs = append(specs, service.RuleSpec{Path: rule.Path, Operator: rule.Operator, Value: rule.Value})
	}
	penalty, err := h.badges.AddPenalty(r.Context(), templateID, req.EventType, specs, req.RequirementIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":              penalty.ID,
		"event_type":      penalty.EventType,
		"requirement_ids": penalty.RequirementIDs,
	})
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	templateID, ok := h.templateID(w, r)
	if !ok {
		return
	}
	if err := h.badges.ActivateTemplate(r.Context(), templateID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	templateID, ok := h.templateID(w, r)
	if !ok {
		return
	}
	if err := h.badges.DeactivateTemplate(r.Context(), templateID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListProgress(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	views, err := h.badges.Progress(r.Context(), username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	type progressView struct {
		TemplateID string  `json:"template_id"`
		Ratio      float64 `json:"ratio"`
		Completed  bool    `json:"completed"`
	}
	out := make([]progressView, 0, len(views))
	for _, view := range views {
		out = append(out, progressView{
			TemplateID: view.TemplateID.String(),
			Ratio:      view.Ratio,
			Completed:  view.Completed,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	templateID, ok := h.templateID(w, r)
	if !ok {
		return
	}
	ratio, err := h.badges.Ratio(r.Context(), username, templateID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	groups, err := h.badges.GroupStatus(r.Context(), username, templateID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"template_id": templateID.String(),
		"ratio":       ratio,
		"completed":   ratio == 1.00,
		"groups":      groups,
	})
}

func (h *Handler) handleResetProgress(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	templateID, ok := h.templateID(w, r)
	if !ok {
		return
	}
	if err := h.badges.ResetProgress(r.Context(), username, templateID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) templateID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	templateID, err := uuid.Parse(chi.URLParam(r, "templateID"))
	if err != nil {
		h.writeError(w, r, derrors.New(derrors.CodeInvalidInput, "malformed template id"))
		return uuid.Nil, false
	}
	return templateID, true
}

func requirementIDParam(r *http.Request) (int64, error) {
	requirementID, err := strconv.ParseInt(chi.URLParam(r, "requirementID"), 10, 64)
	if err != nil {
		return 0, derrors.New(derrors.CodeInvalidInput, "malformed requirement id")
	}
	return requirementID, nil
}

// writeError centralizes domain error translation to HTTP responses so every
// handler returns the same JSON error envelope.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := derrors.CodeOf(err)
	status := derrors.ToHTTPStatus(code)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"path", r.URL.Path,
			"error", err.Error(),
		)
	}
	message := "internal error"
	var de *derrors.Error
	if errors.As(err, &de) && status < http.StatusInternalServerError {
		message = de.Message
	}
	writeJSON(w, status, map[string]string{
		"error":   string(code),
		"message": message,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
