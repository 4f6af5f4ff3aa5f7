package notify

import (
	"context"
	"log/slog"
)

// Templates used by the booking engine. The rendering and delivery channel
// belong to the external notification system; this engine only names them.
const (
	TemplateReservationReceived  = "reservation_received"
	TemplateReservationConfirmed = "reservation_confirmed"
	TemplateReservationCancelled = "reservation_cancelled"
	TemplateWaitlistSlotOpen     = "waitlist_slot_open"
)

// Notifier is the fire-and-forget outbound dispatch collaborator. Failures
// are the caller's to log and swallow; they never roll back committed
// state.
type Notifier interface {
	Send(ctx context.Context, recipient, template string, payload map[string]string) error
}

// LogNotifier records dispatches to the structured log. It stands in for
// the real email/in-app channel in development and tests.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log.With(slog.String("component", "notify"))}
}

func (n *LogNotifier) Send(ctx context.Context, recipient, template string, payload map[string]string) error {
	args := make([]any, 0, 2+len(payload))
	args = append(args, slog.String("recipient", recipient), slog.String("template", template))
	for k, v := range payload {
		args = append(args, slog.String(k, v))
	}
	n.log.InfoContext(ctx, "notification dispatched", args...)
	return nil
}
