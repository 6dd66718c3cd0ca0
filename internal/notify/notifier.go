// Package notify is the boundary to the external email notifier. The engine
// decides that and when a notification is due, never how it is rendered or
// delivered.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Notifier dispatches a templated notification. Fire-and-forget: errors are
// reported but the caller does not retry at this layer.
type Notifier interface {
	Notify(ctx context.Context, recipientEmail, templateID string, payload map[string]string) error
}

// LogNotifier records would-be notifications in the log stream. Used in
// development and as the default when no delivery backend is wired.
type LogNotifier struct {
	Log *zap.Logger
}

func (n *LogNotifier) Notify(ctx context.Context, recipientEmail, templateID string, payload map[string]string) error {
	n.Log.Info("notification dispatched",
		zap.String("recipient", recipientEmail),
		zap.String("template", templateID),
		zap.Any("payload", payload))
	return nil
}
