package service

import (
	"context"
	"log/slog"
	"time"

	"insignia/internal/badges/metrics"
	"insignia/internal/badges/models"
	derrors "insignia/pkg/domain-errors"
	"insignia/pkg/keypath"
)

// Processor is the engine's entry point: it interprets the badge template
// configuration against one inbound event.
//
// Responsibilities:
//   - identifies the target user from the event's payload ("whose action");
//   - runs the progressive pipeline (requirements processing);
//   - runs the regressive pipeline (penalties processing);
//
// Both pipelines run for every event, requirements first, so a penalty can
// undo within the same event what the requirement pass just granted. All
// mutations happen inside one transaction; cascade notifications are
// dispatched strictly after commit.
type Processor struct {
	tx         TxRunner
	dispatcher *Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// ProcessorOption configures optional Processor collaborators.
type ProcessorOption func(*Processor)

func WithProcessorMetrics(m *metrics.Metrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

// NewProcessor wires the engine entry point.
func NewProcessor(tx TxRunner, dispatcher *Dispatcher, logger *slog.Logger, opts ...ProcessorOption) (*Processor, error) {
	if tx == nil {
		return nil, derrors.New(derrors.CodeInvalidInput, "transaction runner is required")
	}
	if dispatcher == nil {
		return nil, derrors.New(derrors.CodeInvalidInput, "dispatcher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{tx: tx, dispatcher: dispatcher, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// ProcessEvent resolves the acting user and runs both evaluation passes.
//
// Errors with CodeUnresolvedUser mean the payload carries no identity: the
// event is undeliverable and must be dropped, not retried. Any other error
// aborted the transaction before commit, so redelivery is safe.
func (p *Processor) ProcessEvent(ctx context.Context, eventType string, payload keypath.Value) error {
	start := time.Now()

	identity, ok := models.ExtractIdentity(payload)
	if !ok {
		p.metrics.ObserveEvent(eventType, "unresolved_user", time.Since(start).Seconds())
		return derrors.Newf(derrors.CodeUnresolvedUser,
			"user data cannot be found in event %s payload", eventType)
	}

	var pending []models.Notification
	err := p.tx.RunInTx(ctx, func(store Store) error {
		user, err := store.GetOrCreateUser(ctx, identity)
		if err != nil {
			return derrors.Wrap(err, derrors.CodeInternal, "provision event user")
		}

		tracker := newEdgeTracker(store)

		fulfillNotes, err := p.processRequirements(ctx, store, tracker, eventType, user.Username, payload)
		if err != nil {
			return err
		}
		regressNotes, err := p.processPenalties(ctx, store, tracker, eventType, user.Username, payload)
		if err != nil {
			return err
		}
		edgeNotes, err := tracker.edges(ctx, user.Username)
		if err != nil {
			return err
		}

		pending = append(pending, fulfillNotes...)
		pending = append(pending, regressNotes...)
		pending = append(pending, edgeNotes...)
		return nil
	})
	if err != nil {
		p.metrics.ObserveEvent(eventType, "error", time.Since(start).Seconds())
		return err
	}

	p.countEdges(pending)
	p.dispatcher.Dispatch(ctx, pending)
	p.metrics.ObserveEvent(eventType, "ok", time.Since(start).Seconds())
	return nil
}

// processRequirements finds all requirements listening on the event type,
// tests them one by one, and marks satisfied ones as fulfilled.
//
// A per-call set of already-complete templates short-circuits the pass.
// Completion is re-read for every template not yet in the set, so a template
// that completes mid-pass masks its own remaining requirements for the rest
// of the pass and never collects surplus fulfillments.
func (p *Processor) processRequirements(
	ctx context.Context,
	store Store,
	tracker *edgeTracker,
	eventType, username string,
	payload keypath.Value,
) ([]models.Notification, error) {
	requirements, err := store.RequirementsByEvent(ctx, eventType)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "discover requirements")
	}

	p.logger.DebugContext(ctx, "requirements discovered",
		"event_type", eventType,
		"count", len(requirements),
	)

	completedTemplates := make(map[string]bool)
	var notes []models.Notification

	for _, requirement := range requirements {
		templateKey := requirement.TemplateID.String()

		if !completedTemplates[templateKey] {
			// Capture the pre-event state first; edge detection needs it.
			if _, err := tracker.completedBefore(ctx, username, requirement.TemplateID); err != nil {
				return nil, err
			}
			done, err := completedOn(ctx, store, username, requirement.TemplateID)
			if err != nil {
				return nil, derrors.Wrap(err, derrors.CodeInternal, "check template completion")
			}
			if done {
				completedTemplates[templateKey] = true
			}
		}
		// Drop early: the badge template is already done.
		if completedTemplates[templateKey] {
			continue
		}

		// Drop early: this requirement is already done.
		fulfilled, err := store.IsFulfilled(ctx, username, requirement.ID)
		if err != nil {
			return nil, derrors.Wrap(err, derrors.CodeInternal, "check fulfillment")
		}
		if fulfilled {
			continue
		}

		satisfied, err := satisfiedBy(requirement.Rules, payload)
		if err != nil {
			// Malformed rule: isolated to this requirement, siblings proceed.
			p.logger.WarnContext(ctx, "requirement evaluation failed",
				"requirement_id", requirement.ID,
				"template_id", templateKey,
				"error", err.Error(),
			)
			continue
		}
		if !satisfied {
			continue
		}

		progress, err := store.GetOrCreateProgress(ctx, username, requirement.TemplateID)
		if err != nil {
			return nil, derrors.Wrap(err, derrors.CodeInternal, "open progress record")
		}
		fulfillment, created, err := store.CreateFulfillment(ctx, progress.ID, requirement.ID, requirement.Blend)
		if err != nil {
			return nil, derrors.Wrap(err, derrors.CodeInternal, "create fulfillment")
		}
		if created {
			tracker.markDirty(requirement.TemplateID)
			notes = append(notes, models.RequirementFulfilled{
				Username:      username,
				TemplateID:    requirement.TemplateID,
				FulfillmentID: fulfillment.ID,
			})
		}
	}
	return notes, nil
}

// processPenalties finds all penalties listening on the event type and, for
// each triggered one, resets every target requirement. All targets are
// attempted even when a reset turns out to be a no-op.
func (p *Processor) processPenalties(
	ctx context.Context,
	store Store,
	tracker *edgeTracker,
	eventType, username string,
	payload keypath.Value,
) ([]models.Notification, error) {
	penalties, err := store.PenaltiesByEvent(ctx, eventType)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "discover penalties")
	}

	p.logger.DebugContext(ctx, "penalties discovered",
		"event_type", eventType,
		"count", len(penalties),
	)

	var notes []models.Notification

	for _, penalty := range penalties {
		triggered, err := satisfiedBy(penalty.Rules, payload)
		if err != nil {
			p.logger.WarnContext(ctx, "penalty evaluation failed",
				"penalty_id", penalty.ID,
				"template_id", penalty.TemplateID.String(),
				"error", err.Error(),
			)
			continue
		}
		if !triggered {
			continue
		}

		// Capture the template's pre-mutation completion state before
		// the first reset lands.
		if _, err := tracker.completedBefore(ctx, username, penalty.TemplateID); err != nil {
			return nil, err
		}

		for _, requirementID := range penalty.RequirementIDs {
			deleted, err := store.DeleteFulfillment(ctx, username, requirementID)
			if err != nil {
				return nil, derrors.Wrap(err, derrors.CodeInternal, "delete fulfillment")
			}
			if deleted {
				tracker.markDirty(penalty.TemplateID)
				notes = append(notes, models.RequirementRegressed{
					Username:   username,
					TemplateID: penalty.TemplateID,
				})
			}
		}
	}
	return notes, nil
}

func (p *Processor) countEdges(notifications []models.Notification) {
	for _, notification := range notifications {
		switch notification.(type) {
		case models.RequirementFulfilled:
			p.metrics.CountFulfilled()
		case models.RequirementRegressed:
			p.metrics.CountRegressed()
		case models.ProgressComplete:
			p.metrics.CountCompleted()
		case models.ProgressIncomplete:
			p.metrics.CountIncomplete()
		}
	}
}
