// Package notify delivers operator alerts over one or more channels
// (Telegram, Discord). Events are filtered by type so operators receive only
// the alerts they care about, and delivery never blocks trading paths.
package notify

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/piaqi001/funding-rate-bot/internal/domain"
)

// sendTimeout bounds one delivery attempt across all senders.
const sendTimeout = 15 * time.Second

// Sender is one notification channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier implements domain.Notifier over a set of Senders. Delivery runs
// on a background goroutine; failures are logged, never surfaced to the
// caller, so a down webhook cannot stall an order.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types; empty allows all
	logger  *slog.Logger
}

var _ domain.Notifier = (*Notifier)(nil)

// New creates a Notifier delivering to the given senders. Only events whose
// type appears in events are forwarded; an empty list allows everything.
func New(logger *slog.Logger, senders []Sender, events []string) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With("component", "notifier"),
	}
}

// Notify forwards the message to every sender when the event type passes the
// filter. It returns immediately; delivery happens in the background.
func (n *Notifier) Notify(ctx context.Context, event, message string) {
	if len(n.senders) == 0 {
		return
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.Debug("event filtered out", "event", event)
		return
	}

	title := eventTitle(event)

	// Detach from the caller's context so an order finishing (and cancelling
	// its context) does not abort an in-flight alert.
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		n.dispatch(sendCtx, event, title, message)
	}()
}

func (n *Notifier) dispatch(ctx context.Context, event, title, message string) {
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.Error("sender failed",
				"sender", s.Name(),
				"event", event,
				"error", err,
			)
			continue
		}
		n.logger.Debug("notification sent", "sender", s.Name(), "event", event)
	}
}

// eventTitle maps an event type to a short human-readable headline.
func eventTitle(event string) string {
	switch event {
	case domain.EventOpportunity:
		return "Funding opportunity"
	case domain.EventOrderOpened:
		return "Order opened"
	case domain.EventOrderClosed:
		return "Order closed"
	case domain.EventOrderFailed:
		return "Order failed"
	case domain.EventRiskAlert:
		return "Risk alert"
	case domain.EventLowBalance:
		return "Low balance"
	default:
		return event
	}
}
