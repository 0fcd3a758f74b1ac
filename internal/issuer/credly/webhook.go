package credly

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"insignia/pkg/platform/sentinel"
)

// signatureHeader carries the hex HMAC-SHA256 of the raw request body.
const signatureHeader = "Credly-Signature"

// BadgeStateStore updates the local mirror of provider-side badge state.
type BadgeStateStore interface {
	UpdateUserBadgeStateByExternalID(ctx context.Context, externalID, state string) error
}

// Webhook receives Credly badge state change callbacks and keeps the local
// credential ledger in sync with the provider's view.
type Webhook struct {
	store  BadgeStateStore
	secret []byte
	logger *slog.Logger
}

func NewWebhook(store BadgeStateStore, secret string, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{store: store, secret: []byte(secret), logger: logger}
}

// Register mounts the webhook endpoint.
func (w *Webhook) Register(r chi.Router) {
	r.Post("/webhooks/credly", w.handle)
}

type webhookEvent struct {
	EventType string `json:"event_type"`
	Data      struct {
		Badge struct {
			ID    string `json:"id"`
			State string `json:"state"`
		} `json:"badge"`
	} `json:"data"`
}

func (w *Webhook) handle(rw http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
	if err != nil {
		http.Error(rw, "read body", http.StatusBadRequest)
		return
	}
	if !w.verify(req.Header.Get(signatureHeader), body) {
		w.logger.WarnContext(req.Context(), "credly webhook signature mismatch")
		http.Error(rw, "invalid signature", http.StatusUnauthorized)
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(rw, "malformed payload", http.StatusBadRequest)
		return
	}

	switch event.EventType {
	case "badges.state_changed", "badges.revoked":
		err := w.store.UpdateUserBadgeStateByExternalID(req.Context(), event.Data.Badge.ID, event.Data.Badge.State)
		if errors.Is(err, sentinel.ErrNotFound) {
			// Credly can notify about badges this deployment never issued.
			w.logger.WarnContext(req.Context(), "credly webhook for unknown badge",
				"external_id", event.Data.Badge.ID,
			)
		} else if err != nil {
			w.logger.ErrorContext(req.Context(), "credly webhook state update failed",
				"external_id", event.Data.Badge.ID,
				"error", err.Error(),
			)
			http.Error(rw, "state update failed", http.StatusInternalServerError)
			return
		}
	default:
		w.logger.WarnContext(req.Context(), "unhandled credly webhook event",
			"event_type", event.EventType,
		)
	}

	rw.WriteHeader(http.StatusNoContent)
}

func (w *Webhook) verify(signature string, body []byte) bool {
	if len(w.secret) == 0 || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, w.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
