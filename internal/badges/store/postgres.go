package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"insignia/internal/badges/models"
	"insignia/pkg/platform/sentinel"
)

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx, so the
// same store runs both standalone and inside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore persists the badge engine state in PostgreSQL.
type PostgresStore struct {
	db dbtx
}

// NewPostgres creates a store over a database handle.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresTx creates a store view bound to an open transaction.
func NewPostgresTx(tx *sql.Tx) *PostgresStore {
	return &PostgresStore{db: tx}
}

func (s *PostgresStore) CreateTemplate(ctx context.Context, template *models.BadgeTemplate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO badge_templates (id, name, description, origin, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		template.ID, template.Name, template.Description, template.Origin, template.IsActive, template.CreatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTemplate(ctx context.Context, id uuid.UUID) (*models.BadgeTemplate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, origin, is_active, created_at
		FROM badge_templates WHERE id = $1`, id)
	return scanTemplate(row)
}

func (s *PostgresStore) ListTemplates(ctx context.Context) ([]*models.BadgeTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, origin, is_active, created_at
		FROM badge_templates ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []*models.BadgeTemplate
	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, template)
	}
	return templates, rows.Err()
}

func (s *PostgresStore) SetTemplateActive(ctx context.Context, id uuid.UUID, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE badge_templates SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AddRequirement(ctx context.Context, requirement *models.BadgeRequirement) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO badge_requirements (template_id, event_type, description, blend)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		requirement.TemplateID, requirement.EventType, requirement.Description, requirement.Blend,
	).Scan(&requirement.ID)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("insert requirement: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRequirement(ctx context.Context, id int64) (*models.BadgeRequirement, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, template_id, event_type, description, blend
		FROM badge_requirements WHERE id = $1`, id)

	requirement := &models.BadgeRequirement{}
	err := row.Scan(&requirement.ID, &requirement.TemplateID, &requirement.EventType,
		&requirement.Description, &requirement.Blend)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan requirement: %w", err)
	}
	if err := s.loadRequirementRules(ctx, []*models.BadgeRequirement{requirement}); err != nil {
		return nil, err
	}
	return requirement, nil
}

func (s *PostgresStore) AddRequirementRule(ctx context.Context, requirementID int64, rule *models.DataRule) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO requirement_rules (requirement_id, data_path, operator, value)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		requirementID, rule.Path, rule.Operator, rule.Value,
	).Scan(&rule.ID)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

func (s *PostgresStore) RequirementsByTemplate(ctx context.Context, templateID uuid.UUID) ([]*models.BadgeRequirement, error) {
	return s.queryRequirements(ctx, `
		SELECT id, template_id, event_type, description, blend
		FROM badge_requirements
		WHERE template_id = $1
		ORDER BY id`, templateID)
}

func (s *PostgresStore) RequirementsByEvent(ctx context.Context, eventType string) ([]*models.BadgeRequirement, error) {
	return s.queryRequirements(ctx, `
		SELECT r.id, r.template_id, r.event_type, r.description, r.blend
		FROM badge_requirements r
		JOIN badge_templates t ON t.id = r.template_id
		WHERE r.event_type = $1 AND t.is_active
		ORDER BY r.id`, eventType)
}

func (s *PostgresStore) queryRequirements(ctx context.Context, query string, args ...any) ([]*models.BadgeRequirement, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query requirements: %w", err)
	}
	defer rows.Close()

	var requirements []*models.BadgeRequirement
	for rows.Next() {
		requirement := &models.BadgeRequirement{}
		if err := rows.Scan(&requirement.ID, &requirement.TemplateID, &requirement.EventType,
			&requirement.Description, &requirement.Blend); err != nil {
			return nil, fmt.Errorf("scan requirement: %w", err)
		}
		requirements = append(requirements, requirement)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadRequirementRules(ctx, requirements); err != nil {
		return nil, err
	}
	return requirements, nil
}

func (s *PostgresStore) loadRequirementRules(ctx context.Context, requirements []*models.BadgeRequirement) error {
	if len(requirements) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(requirements))
	byID := make(map[int64]*models.BadgeRequirement, len(requirements))
	for _, requirement := range requirements {
		ids = append(ids, requirement.ID)
		byID[requirement.ID] = requirement
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, requirement_id, data_path, operator, value
		FROM requirement_rules
		WHERE requirement_id = ANY($1)
		ORDER BY id`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var requirementID int64
		rule := models.DataRule{}
		if err := rows.Scan(&rule.ID, &requirementID, &rule.Path, &rule.Operator, &rule.Value); err != nil {
			return fmt.Errorf("scan rule: %w", err)
		}
		if requirement, ok := byID[requirementID]; ok {
			requirement.Rules = append(requirement.Rules, rule)
		}
	}
	return rows.Err()
}

func (s *PostgresStore) AddPenalty(ctx context.Context, penalty *models.BadgePenalty) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO badge_penalties (template_id, event_type, requirement_ids)
		VALUES ($1, $2, $3)
		RETURNING id`,
		penalty.TemplateID, penalty.EventType, pq.Array(penalty.RequirementIDs),
	).Scan(&penalty.ID)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("insert penalty: %w", err)
	}

	for i := range penalty.Rules {
		rule := &penalty.Rules[i]
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO penalty_rules (penalty_id, data_path, operator, value)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			penalty.ID, rule.Path, rule.Operator, rule.Value,
		).Scan(&rule.ID)
		if err != nil {
			return fmt.Errorf("insert penalty rule: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) PenaltiesByEvent(ctx context.Context, eventType string) ([]*models.BadgePenalty, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.template_id, p.event_type, p.requirement_ids
		FROM badge_penalties p
		JOIN badge_templates t ON t.id = p.template_id
		WHERE p.event_type = $1 AND t.is_active
		ORDER BY p.id`, eventType)
	if err != nil {
		return nil, fmt.Errorf("query penalties: %w", err)
	}
	defer rows.Close()

	var penalties []*models.BadgePenalty
	byID := make(map[int64]*models.BadgePenalty)
	for rows.Next() {
		penalty := &models.BadgePenalty{}
		var targets pq.Int64Array
		if err := rows.Scan(&penalty.ID, &penalty.TemplateID, &penalty.EventType, &targets); err != nil {
			return nil, fmt.Errorf("scan penalty: %w", err)
		}
		penalty.RequirementIDs = targets
		penalties = append(penalties, penalty)
		byID[penalty.ID] = penalty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(penalties) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(penalties))
	for _, penalty := range penalties {
		ids = append(ids, penalty.ID)
	}
	ruleRows, err := s.db.QueryContext(ctx, `
		SELECT id, penalty_id, data_path, operator, value
		FROM penalty_rules
		WHERE penalty_id = ANY($1)
		ORDER BY id`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query penalty rules: %w", err)
	}
	defer ruleRows.Close()

	for ruleRows.Next() {
		var penaltyID int64
		rule := models.DataRule{}
		if err := ruleRows.Scan(&rule.ID, &penaltyID, &rule.Path, &rule.Operator, &rule.Value); err != nil {
			return nil, fmt.Errorf("scan penalty rule: %w", err)
		}
		if penalty, ok := byID[penaltyID]; ok {
			penalty.Rules = append(penalty.Rules, rule)
		}
	}
	return penalties, ruleRows.Err()
}

func (s *PostgresStore) GetOrCreateUser(ctx context.Context, identity models.UserIdentity) (*models.User, error) {
	user := &models.User{}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, full_name, external_id, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (username) DO UPDATE SET username = EXCLUDED.username
		RETURNING username, email, full_name, external_id, is_active`,
		identity.Username, identity.Email, identity.FullName, identity.ExternalID, identity.IsActive,
	).Scan(&user.Username, &user.Email, &user.FullName, &user.ExternalID, &user.IsActive)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT username, email, full_name, external_id, is_active
		FROM users WHERE username = $1`, username,
	).Scan(&user.Username, &user.Email, &user.FullName, &user.ExternalID, &user.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetOrCreateProgress(ctx context.Context, username string, templateID uuid.UUID) (*models.BadgeProgress, error) {
	progress := &models.BadgeProgress{}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO badge_progress (username, template_id)
		VALUES ($1, $2)
		ON CONFLICT (username, template_id) DO UPDATE SET username = EXCLUDED.username
		RETURNING id, username, template_id`,
		username, templateID,
	).Scan(&progress.ID, &progress.Username, &progress.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("upsert progress: %w", err)
	}
	return progress, nil
}

func (s *PostgresStore) ListProgress(ctx context.Context, username string) ([]*models.BadgeProgress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, template_id
		FROM badge_progress WHERE username = $1 ORDER BY id`, username)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	defer rows.Close()

	var records []*models.BadgeProgress
	for rows.Next() {
		progress := &models.BadgeProgress{}
		if err := rows.Scan(&progress.ID, &progress.Username, &progress.TemplateID); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		records = append(records, progress)
	}
	return records, rows.Err()
}

// CreateFulfillment is idempotent: the unique index on
// (progress_id, requirement_id) turns a duplicate into a no-op and the
// existing row is returned with created=false.
func (s *PostgresStore) CreateFulfillment(ctx context.Context, progressID, requirementID int64, blend string) (*models.Fulfillment, bool, error) {
	fulfillment := &models.Fulfillment{}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO fulfillments (progress_id, requirement_id, blend)
		VALUES ($1, $2, $3)
		ON CONFLICT (progress_id, requirement_id) DO NOTHING
		RETURNING id, progress_id, requirement_id, blend`,
		progressID, requirementID, blend,
	).Scan(&fulfillment.ID, &fulfillment.ProgressID, &fulfillment.RequirementID, &fulfillment.Blend)
	if err == nil {
		return fulfillment, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("insert fulfillment: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT id, progress_id, requirement_id, blend
		FROM fulfillments WHERE progress_id = $1 AND requirement_id = $2`,
		progressID, requirementID,
	).Scan(&fulfillment.ID, &fulfillment.ProgressID, &fulfillment.RequirementID, &fulfillment.Blend)
	if err != nil {
		return nil, false, fmt.Errorf("load fulfillment: %w", err)
	}
	return fulfillment, false, nil
}

// DeleteFulfillment removes the user's fulfillment of one requirement.
// Deleting an absent fulfillment reports false with no error.
func (s *PostgresStore) DeleteFulfillment(ctx context.Context, username string, requirementID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM fulfillments f
		USING badge_progress p
		WHERE f.progress_id = p.id AND p.username = $1 AND f.requirement_id = $2`,
		username, requirementID)
	if err != nil {
		return false, fmt.Errorf("delete fulfillment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete fulfillment: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) IsFulfilled(ctx context.Context, username string, requirementID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM fulfillments f
			JOIN badge_progress p ON p.id = f.progress_id
			WHERE p.username = $1 AND f.requirement_id = $2
		)`, username, requirementID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check fulfillment: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) FulfilledRequirementIDs(ctx context.Context, username string, templateID uuid.UUID) (map[int64]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.requirement_id
		FROM fulfillments f
		JOIN badge_progress p ON p.id = f.progress_id
		WHERE p.username = $1 AND p.template_id = $2`,
		username, templateID)
	if err != nil {
		return nil, fmt.Errorf("query fulfillments: %w", err)
	}
	defer rows.Close()

	fulfilled := make(map[int64]bool)
	for rows.Next() {
		var requirementID int64
		if err := rows.Scan(&requirementID); err != nil {
			return nil, fmt.Errorf("scan fulfillment: %w", err)
		}
		fulfilled[requirementID] = true
	}
	return fulfilled, rows.Err()
}

func (s *PostgresStore) ResetProgress(ctx context.Context, username string, templateID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM fulfillments f
		USING badge_progress p
		WHERE f.progress_id = p.id AND p.username = $1 AND p.template_id = $2`,
		username, templateID)
	if err != nil {
		return fmt.Errorf("reset progress: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertUserBadge(ctx context.Context, username string, templateID uuid.UUID, status string) (*models.UserBadge, error) {
	badge := &models.UserBadge{}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO user_badges (id, username, template_id, status, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (username, template_id)
		DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
		RETURNING id, username, template_id, status, external_id, external_state, updated_at`,
		uuid.New(), username, templateID, status, time.Now().UTC(),
	).Scan(&badge.ID, &badge.Username, &badge.TemplateID, &badge.Status,
		&badge.ExternalID, &badge.ExternalState, &badge.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert user badge: %w", err)
	}
	return badge, nil
}

func (s *PostgresStore) GetUserBadge(ctx context.Context, username string, templateID uuid.UUID) (*models.UserBadge, error) {
	badge := &models.UserBadge{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, template_id, status, external_id, external_state, updated_at
		FROM user_badges WHERE username = $1 AND template_id = $2`,
		username, templateID,
	).Scan(&badge.ID, &badge.Username, &badge.TemplateID, &badge.Status,
		&badge.ExternalID, &badge.ExternalState, &badge.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user badge: %w", err)
	}
	return badge, nil
}

func (s *PostgresStore) SetUserBadgeExternal(ctx context.Context, badgeID uuid.UUID, externalID, state string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE user_badges
		SET external_id = $2, external_state = $3, updated_at = $4
		WHERE id = $1`,
		badgeID, externalID, state, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update user badge: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user badge: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateUserBadgeStateByExternalID(ctx context.Context, externalID, state string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE user_badges
		SET external_state = $2, updated_at = $3
		WHERE external_id = $1`,
		externalID, state, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update user badge state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user badge state: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*models.BadgeTemplate, error) {
	template := &models.BadgeTemplate{}
	err := row.Scan(&template.ID, &template.Name, &template.Description,
		&template.Origin, &template.IsActive, &template.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan template: %w", err)
	}
	return template, nil
}
