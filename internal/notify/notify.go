package notify

import (
	"context"
	"log/slog"
)

// Notifier delivers a message to an owner, best-effort. The token, when
// non-empty, is an opaque handle the recipient can redeem to start a review
// session over the exact batch the message announces.
//
// Implementations wrap whatever transport the deployment uses (a chat bot
// DM, a webhook); delivery failures are for the caller to log, never to
// propagate.
type Notifier interface {
	Deliver(ctx context.Context, ownerID, text, token string) error
}

// LogNotifier writes notifications to the log instead of a real transport.
// Useful as a default and in tests.
type LogNotifier struct{}

func (LogNotifier) Deliver(_ context.Context, ownerID, text, token string) error {
	slog.Info("Notification", "owner", ownerID, "text", text, "token", token)
	return nil
}
