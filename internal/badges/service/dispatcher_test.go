package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"insignia/internal/badges/models"
)

func TestDispatcherIsolatesHandlerFailures(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := NewDispatcher(logger)

	var firstCalls, secondCalls int
	dispatcher.Register(NotificationHandlerFunc(func(context.Context, models.Notification) error {
		firstCalls++
		return errors.New("downstream unavailable")
	}))
	dispatcher.Register(NotificationHandlerFunc(func(context.Context, models.Notification) error {
		secondCalls++
		return nil
	}))

	dispatcher.Dispatch(context.Background(), []models.Notification{
		models.ProgressComplete{Username: "alice"},
		models.ProgressIncomplete{Username: "alice"},
	})

	assert.Equal(t, 2, firstCalls)
	assert.Equal(t, 2, secondCalls, "a failing handler must not starve the next one")
}

func TestDispatcherPreservesOrder(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := NewDispatcher(logger)

	var seen []string
	dispatcher.Register(NotificationHandlerFunc(func(_ context.Context, n models.Notification) error {
		switch n.(type) {
		case models.RequirementFulfilled:
			seen = append(seen, "fulfilled")
		case models.ProgressComplete:
			seen = append(seen, "complete")
		}
		return nil
	}))

	dispatcher.Dispatch(context.Background(), []models.Notification{
		models.RequirementFulfilled{Username: "alice"},
		models.ProgressComplete{Username: "alice"},
	})

	assert.Equal(t, []string{"fulfilled", "complete"}, seen)
}
