// Package notify delivers gateway events to the chat layer. The gateway only
// depends on the Notifier interface; transports live behind it.
package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Event names emitted by the gateway
const (
	EventAIResponse = "ai_response"
)

// Notifier pushes an event to a target such as a chat channel or room
type Notifier interface {
	Notify(ctx context.Context, targetID, event string, payload interface{}) error
}

// Nop discards every event
type Nop struct{}

func (Nop) Notify(ctx context.Context, targetID, event string, payload interface{}) error {
	return nil
}

// LogNotifier writes events to the log
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates a notifier that only logs
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, targetID, event string, payload interface{}) error {
	n.logger.WithFields(logrus.Fields{
		"target": targetID,
		"event":  event,
	}).Info("Notification emitted")
	return nil
}
