package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/repoguard/internal/apperror"
)

// Delivery is one verified webhook request.
type Delivery struct {
	ID    string // X-GitHub-Delivery
	Event string // X-GitHub-Event
	Body  []byte
}

// Result tells the handler what happened, for the response body and logs.
type Result struct {
	Event   string `json:"event"`
	Action  string `json:"action,omitempty"`
	Handled bool   `json:"handled"`
}

// InstallationRecorder persists an account's installation status.
// Implemented by the user repository.
type InstallationRecorder interface {
	SetInstallation(ctx context.Context, githubID, installationID int64, installed bool) error
}

// TokenInvalidator drops cached installation tokens.
// Implemented by githubapp.TokenBroker.
type TokenInvalidator interface {
	Invalidate(installationID int64)
}

// installationPayload is the part of installation / installation_repositories
// payloads we read.
type installationPayload struct {
	Action       string `json:"action"`
	Installation struct {
		ID      int64 `json:"id"`
		Account struct {
			ID    int64  `json:"id"`
			Login string `json:"login"`
		} `json:"account"`
	} `json:"installation"`
}

// Dispatcher routes verified deliveries to their effects.
//
// EVENTS:
//
//	ping                          → ack
//	installation created          → account marked installed
//	installation unsuspend        → account marked installed
//	installation deleted/suspend  → account marked not installed, cached token dropped
//	installation_repositories     → account marked installed (repo set changed)
//	anything else                 → acknowledged, logged, ignored
type Dispatcher struct {
	users  InstallationRecorder
	tokens TokenInvalidator
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher. tokens may be nil in OAuth-only mode.
func NewDispatcher(users InstallationRecorder, tokens TokenInvalidator, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{users: users, tokens: tokens, logger: logger}
}

// Dispatch applies d. Malformed payloads for events we act on are a
// validation error; everything else is acknowledged.
func (d *Dispatcher) Dispatch(ctx context.Context, delivery Delivery) (Result, error) {
	log := d.logger.With(
		slog.String("event", delivery.Event),
		slog.String("delivery", delivery.ID),
	)

	switch delivery.Event {
	case "ping":
		log.Info("webhook ping received")
		return Result{Event: "ping", Handled: true}, nil

	case "installation", "installation_repositories":
		var p installationPayload
		if err := json.Unmarshal(delivery.Body, &p); err != nil {
			return Result{}, apperror.ValidationFailed("body", "invalid webhook payload")
		}
		if p.Installation.ID == 0 || p.Installation.Account.ID == 0 {
			return Result{}, apperror.ValidationFailed("installation", "payload has no installation account")
		}
		return d.installation(ctx, log, delivery.Event, p)

	default:
		log.Debug("webhook event ignored")
		return Result{Event: delivery.Event}, nil
	}
}

func (d *Dispatcher) installation(ctx context.Context, log *slog.Logger, event string, p installationPayload) (Result, error) {
	res := Result{Event: event, Action: p.Action}
	instID := p.Installation.ID

	var installed bool
	switch {
	case event == "installation_repositories":
		installed = true
	case p.Action == "created", p.Action == "unsuspend", p.Action == "new_permissions_accepted":
		installed = true
	case p.Action == "deleted", p.Action == "suspend":
		installed = false
		if d.tokens != nil {
			d.tokens.Invalidate(instID)
		}
	default:
		log.Debug("installation action ignored", slog.String("action", p.Action))
		return res, nil
	}

	err := d.users.SetInstallation(ctx, p.Installation.Account.ID, instID, installed)
	if errors.Is(err, apperror.ErrNotFound) {
		// The account has never logged in here; nothing to record.
		log.Info("installation event for unknown account",
			slog.String("account", p.Installation.Account.Login),
			slog.String("action", p.Action),
		)
		res.Handled = true
		return res, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("webhook: recording installation %d: %w", instID, err)
	}

	log.Info("installation status updated",
		slog.String("account", p.Installation.Account.Login),
		slog.Int64("installationID", instID),
		slog.Bool("installed", installed),
	)
	res.Handled = true
	return res, nil
}
