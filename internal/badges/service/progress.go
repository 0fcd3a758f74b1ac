package service

import (
	"context"
	"math"

	"github.com/google/uuid"

	"insignia/internal/badges/models"
	derrors "insignia/pkg/domain-errors"
)

// groupStatus folds the fulfillment ledger into per-group satisfaction.
// A group is satisfied when at least one of its requirements is fulfilled;
// ungrouped requirements each form a singleton group keyed by their own id.
func groupStatus(requirements []*models.BadgeRequirement, fulfilled map[int64]bool) map[string]bool {
	groups := make(map[string]bool, len(requirements))
	for _, requirement := range requirements {
		key := requirement.GroupKey()
		groups[key] = groups[key] || fulfilled[requirement.ID]
	}
	return groups
}

// ratioOf computes the completion ratio: satisfied groups over total groups,
// rounded to two decimals. A template with no requirements has ratio 0.00:
// it never divides by zero and never reports complete.
func ratioOf(groups map[string]bool) float64 {
	if len(groups) == 0 {
		return 0.00
	}
	satisfied := 0
	for _, ok := range groups {
		if ok {
			satisfied++
		}
	}
	return math.Round(float64(satisfied)/float64(len(groups))*100) / 100
}

func completedOn(ctx context.Context, store Store, username string, templateID uuid.UUID) (bool, error) {
	ratio, err := ratioOn(ctx, store, username, templateID)
	if err != nil {
		return false, err
	}
	return ratio == 1.00, nil
}

func ratioOn(ctx context.Context, store Store, username string, templateID uuid.UUID) (float64, error) {
	requirements, err := store.RequirementsByTemplate(ctx, templateID)
	if err != nil {
		return 0, derrors.Wrap(err, derrors.CodeInternal, "load template requirements")
	}
	fulfilled, err := store.FulfilledRequirementIDs(ctx, username, templateID)
	if err != nil {
		return 0, derrors.Wrap(err, derrors.CodeInternal, "load fulfillments")
	}
	return ratioOf(groupStatus(requirements, fulfilled)), nil
}

// edgeTracker watches per-template completion across one inbound event. The
// state before the first touch is memoized; after all mutations, edges()
// reports only templates whose derived completion actually flipped, which is
// what keeps a requirement granted and immediately penalized in the same
// event from leaking a ProgressComplete notification.
type edgeTracker struct {
	store  Store
	before map[uuid.UUID]bool
	dirty  map[uuid.UUID]bool
	order  []uuid.UUID
}

func newEdgeTracker(store Store) *edgeTracker {
	return &edgeTracker{
		store:  store,
		before: make(map[uuid.UUID]bool),
		dirty:  make(map[uuid.UUID]bool),
	}
}

// completedBefore returns the template's completion state as of the first
// time it is consulted within this event. Must be called before the first
// mutation touching the template.
func (t *edgeTracker) completedBefore(ctx context.Context, username string, templateID uuid.UUID) (bool, error) {
	if state, seen := t.before[templateID]; seen {
		return state, nil
	}
	state, err := completedOn(ctx, t.store, username, templateID)
	if err != nil {
		return false, err
	}
	t.before[templateID] = state
	return state, nil
}

// markDirty records that a fulfillment mutation touched the template.
func (t *edgeTracker) markDirty(templateID uuid.UUID) {
	if !t.dirty[templateID] {
		t.dirty[templateID] = true
		t.order = append(t.order, templateID)
	}
}

// edges recomputes completion for every touched template and emits a
// notification per state flip, in first-touch order.
func (t *edgeTracker) edges(ctx context.Context, username string) ([]models.Notification, error) {
	var notes []models.Notification
	for _, templateID := range t.order {
		now, err := completedOn(ctx, t.store, username, templateID)
		if err != nil {
			return nil, err
		}
		was := t.before[templateID]
		switch {
		case !was && now:
			notes = append(notes, models.ProgressComplete{Username: username, TemplateID: templateID})
		case was && !now:
			notes = append(notes, models.ProgressIncomplete{Username: username, TemplateID: templateID})
		}
	}
	return notes, nil
}
