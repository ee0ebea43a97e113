package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/artisanhub/internal/email"
	"github.com/example/artisanhub/internal/migration"
	"github.com/example/artisanhub/internal/notify"
	"github.com/rs/zerolog"
)

// event mirrors notify.Event with the payload left raw until the type is known
type event struct {
	Type    notify.Type     `json:"type"`
	Kind    notify.Kind     `json:"kind"`
	Origin  string          `json:"origin"`
	UserID  string          `json:"userId"`
	Email   string          `json:"email"`
	Payload json.RawMessage `json:"payload"`
}

// Handler turns client events from Kafka into emails. Only a login whose
// migration carried guest lines into the account produces one.
type Handler struct {
	sender email.Sender
	logger zerolog.Logger
}

func NewHandler(sender email.Sender, logger zerolog.Logger) *Handler {
	return &Handler{
		sender: sender,
		logger: logger.With().Str("component", "notifier").Logger(),
	}
}

// HandleEvent processes an event from Kafka
func (h *Handler) HandleEvent(ctx context.Context, key, value []byte) error {
	var ev event
	if err := json.Unmarshal(value, &ev); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if ev.Type != notify.AuthChanged || ev.Kind != notify.KindLogin || len(ev.Payload) == 0 {
		return nil
	}
	return h.handleLogin(ctx, ev)
}

func (h *Handler) handleLogin(ctx context.Context, ev event) error {
	var report migration.Report
	if err := json.Unmarshal(ev.Payload, &report); err != nil {
		return fmt.Errorf("failed to unmarshal migration report: %w", err)
	}
	if report.GuestLines == 0 {
		return nil
	}
	if ev.Email == "" {
		h.logger.Warn().Str("user_id", ev.UserID).Msg("login event has no email, skipping")
		return nil
	}

	msg, err := email.BuildCartKept(email.CartKept{
		Email:       ev.Email,
		GuestLines:  report.GuestLines,
		MergedLines: report.MergedLines,
		CartLines:   report.CartLines,
	})
	if err != nil {
		return err
	}
	if err := h.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send cart-kept email to %s: %w", ev.Email, err)
	}

	h.logger.Info().
		Str("user_id", ev.UserID).
		Str("origin", ev.Origin).
		Int("guest_lines", report.GuestLines).
		Msg("cart-kept email sent")
	return nil
}
