package service_test

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"insignia/internal/badges/service"
	"insignia/internal/badges/store"
	"insignia/internal/events"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTime() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

const registryYAML = `
events:
  - type: org.openedx.learning.course.passing.status.updated.v1
    keypaths: []
  - type: org.openedx.learning.course.enrollment.created.v1
    keypaths: []
`

func mustRegistry() *events.Registry {
	registry, err := events.Parse([]byte(registryYAML))
	if err != nil {
		panic(err)
	}
	return registry
}

func ratioFor(ctx context.Context, st *store.InMemoryStore, username string, templateID uuid.UUID) (float64, error) {
	svc, err := service.New(st, mustRegistry(), service.WithLogger(discardLogger()))
	if err != nil {
		return 0, err
	}
	return svc.Ratio(ctx, username, templateID)
}
