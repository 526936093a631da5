package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/superdesk/legalarchive/common/logger"
)

// Publisher sends a message to an external channel
type Publisher interface {
	PublishEvent(ctx context.Context, channel string, message string) error
}

// Notifier forwards events to an external channel (Redis pub/sub in
// production) so operators hear about failed runs
type Notifier struct {
	publisher Publisher
	channel   string
	service   string
}

// NewNotifier creates a notifier publishing on channel
func NewNotifier(publisher Publisher, channel, service string) *Notifier {
	return &Notifier{publisher: publisher, channel: channel, service: service}
}

// Handle implements Handler
func (n *Notifier) Handle(ctx context.Context, evt Event) error {
	msg, err := json.Marshal(map[string]any{
		"service": n.service,
		"topic":   evt.Topic,
		"at":      evt.At.UTC().Format(time.RFC3339),
		"payload": evt.Payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	return n.publisher.PublishEvent(ctx, n.channel, string(msg))
}

// LogHandler writes events to the structured log
func LogHandler(log *logger.Logger) Handler {
	return func(ctx context.Context, evt Event) error {
		args := make([]any, 0, len(evt.Payload)*2+2)
		args = append(args, "topic", evt.Topic)
		for k, v := range evt.Payload {
			args = append(args, k, v)
		}
		log.WithContext(ctx).Info("legal archive event", args...)
		return nil
	}
}
