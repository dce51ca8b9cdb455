package services

import (
	"context"

	"github.com/yeremiapane/dinein/utils"
)

// EventPublisher pushes an event to the subscribers of a table session.
// Publish must not block on slow subscribers.
type EventPublisher interface {
	Publish(tableSessionID uint, event string, payload interface{})
}

// Notifier delivers outbound mail without blocking the caller.
type Notifier interface {
	Notify(ctx context.Context, venueID *uint, recipient, title, message string)
}

type nopPublisher struct{}

func (nopPublisher) Publish(uint, string, interface{}) {}

// LogNotifier only logs the mail; used when no delivery backend is wired.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, _ *uint, recipient, title, _ string) {
	utils.InfoLogger.Printf("mail to %s: %s", recipient, title)
}

func publisherOrNop(p EventPublisher) EventPublisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}

func notifierOrLog(n Notifier) Notifier {
	if n == nil {
		return LogNotifier{}
	}
	return n
}
