package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/Yoseph-M/Soultalk-sub000/pkg/kafka"
	"github.com/Yoseph-M/Soultalk-sub000/services/sessiond/internal/domain"
)

// TypeVerificationChanged is published by the accounts backend when a
// provider's verification status changes.
const TypeVerificationChanged = "accounts.verification_changed"

// VerificationChangedData is the payload of an accounts.verification_changed
// event. UserID falls back to the envelope subject when empty.
type VerificationChangedData struct {
	UserID             string                    `json:"user_id"`
	Verified           bool                      `json:"verified"`
	VerificationStatus domain.VerificationStatus `json:"verification_status"`
}

// UserRefresher is the part of the session manager a verification change
// acts on.
type UserRefresher interface {
	CurrentUser() *domain.User
	RefreshUser(ctx context.Context)
}

// NewVerificationHandler returns a handler that re-reads the signed-in
// user's profile when the backend reports a verification change for them.
// The profile is authoritative, so the payload only selects the user; a
// revoked verification signs the session out through RefreshUser.
func NewVerificationHandler(sessions UserRefresher, logger *slog.Logger) pkgkafka.Handler {
	return func(ctx context.Context, e *pkgkafka.Event) error {
		if e.Type != TypeVerificationChanged {
			return nil
		}

		var data VerificationChangedData
		if len(e.Data) > 0 {
			if err := e.DecodeData(&data); err != nil {
				return fmt.Errorf("decode %s payload: %w", e.Type, err)
			}
		}
		userID := data.UserID
		if userID == "" {
			userID = e.Subject
		}
		if userID == "" {
			return fmt.Errorf("%s event %s names no user", e.Type, e.ID)
		}

		current := sessions.CurrentUser()
		if current == nil || current.ID != userID {
			return nil
		}

		logger.InfoContext(ctx, "verification changed, refreshing profile",
			slog.String("user_id", userID),
			slog.String("verification_status", string(data.VerificationStatus)),
			slog.String("event_id", e.ID),
		)
		sessions.RefreshUser(ctx)
		return nil
	}
}
