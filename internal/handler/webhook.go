package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/repoguard/internal/apperror"
	"github.com/sakif/repoguard/internal/webhook"
)

// maxWebhookBody matches GitHub's own payload cap.
const maxWebhookBody = 25 << 20

// WebhookDispatcher is satisfied by *webhook.Dispatcher.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, d webhook.Delivery) (webhook.Result, error)
}

// WebhookHandler receives GitHub webhook deliveries.
//
// The raw body is read once, verified against X-Hub-Signature-256, and only
// then parsed. A delivery that fails verification is rejected with 401 and
// logged at ERROR with its delivery id.
type WebhookHandler struct {
	verifier   *webhook.Verifier
	dispatcher WebhookDispatcher
	logger     *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(verifier *webhook.Verifier, dispatcher WebhookDispatcher, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, dispatcher: dispatcher, logger: logger}
}

// HandleGitHub processes one delivery.
//
// HTTP: POST /webhooks/github
func (h *WebhookHandler) HandleGitHub(w http.ResponseWriter, r *http.Request) {
	delivery := webhook.Delivery{
		ID:    r.Header.Get(webhook.DeliveryHeader),
		Event: r.Header.Get(webhook.EventHeader),
	}
	log := h.logger.With(
		slog.String("delivery", delivery.ID),
		slog.String("event", delivery.Event),
	)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
				Error:   "too_large",
				Message: "webhook payload too large",
			})
			return
		}
		log.Warn("webhook: reading body failed", slog.String("error", err.Error()))
		writeError(w, apperror.ValidationFailed("body", "unreadable request body"))
		return
	}
	delivery.Body = body

	if err := h.verifier.Verify(body, r.Header.Get(webhook.SignatureHeader)); err != nil {
		log.Error("webhook: signature verification failed",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		writeError(w, apperror.Unauthorized("invalid webhook signature"))
		return
	}

	if delivery.Event == "" {
		writeError(w, apperror.ValidationFailed(webhook.EventHeader, "missing event header"))
		return
	}

	res, err := h.dispatcher.Dispatch(r.Context(), delivery)
	if err != nil {
		log.Error("webhook: dispatch failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}
