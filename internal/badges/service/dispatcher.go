package service

import (
	"context"
	"fmt"
	"log/slog"

	"insignia/internal/badges/models"
)

// NotificationHandler consumes cascade notifications. Handlers are registered
// explicitly at startup; there is no ambient global signal bus, so ordering
// and failure isolation stay visible in the wiring.
type NotificationHandler interface {
	HandleNotification(ctx context.Context, notification models.Notification) error
}

// NotificationHandlerFunc adapts a closure to NotificationHandler.
type NotificationHandlerFunc func(ctx context.Context, notification models.Notification) error

func (f NotificationHandlerFunc) HandleNotification(ctx context.Context, notification models.Notification) error {
	return f(ctx, notification)
}

// Dispatcher fans cascade notifications out to registered handlers in
// registration order. A handler failure is logged and never propagates:
// the engine's transaction has already committed by the time notifications
// are dispatched, and one misbehaving consumer must not starve the rest.
type Dispatcher struct {
	handlers []NotificationHandler
	logger   *slog.Logger
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{logger: logger}
}

// Register appends a handler. Not safe for concurrent use; call during
// startup wiring only.
func (d *Dispatcher) Register(handler NotificationHandler) {
	d.handlers = append(d.handlers, handler)
}

// Dispatch delivers each notification to every handler.
func (d *Dispatcher) Dispatch(ctx context.Context, notifications []models.Notification) {
	for _, notification := range notifications {
		for _, handler := range d.handlers {
			if err := handler.HandleNotification(ctx, notification); err != nil {
				d.logger.ErrorContext(ctx, "notification handler failed",
					"notification", fmt.Sprintf("%T", notification),
					"error", err.Error(),
				)
			}
		}
	}
}
