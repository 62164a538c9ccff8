package domain

import "context"

// Notifier delivers human-facing alerts. Implementations filter by event
// type and must never block the caller on delivery failures.
type Notifier interface {
	Notify(ctx context.Context, event, message string)
}
