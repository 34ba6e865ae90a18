// Package notify publishes live updates to observers. Publishing is fire-and-forget:
// nothing here waits for a subscriber or retries a failed publish.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"wagate/internal/domain"
	"wagate/internal/observability"
	"wagate/internal/util"
)

const (
	EventMessageStatusUpdate = "message_status_update"
	EventNewMessage          = "new_message"
)

// Broadcaster is a publish-only live update channel.
type Broadcaster interface {
	Broadcast(ctx context.Context, event string, payload any) error
}

// Envelope is what every sink puts on the wire.
type Envelope struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

func NewEnvelope(event string, payload any) Envelope {
	return Envelope{ID: util.NewEventID(), Event: event, Data: payload, Timestamp: util.NowUTC()}
}

// Fanout publishes to every sink and joins their errors.
type Fanout []Broadcaster

func (f Fanout) Broadcast(ctx context.Context, event string, payload any) error {
	var errs []error
	for _, b := range f {
		if err := b.Broadcast(ctx, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type StatusUpdate struct {
	SentMessageID      int64  `json:"sentMessageId"`
	MessageID          string `json:"messageId"`
	DeliveryStatus     string `json:"deliveryStatus"`
	DeliveryStatusCode int    `json:"deliveryStatusCode"`
}

// DeliveryNotifier turns reconciled status changes into message_status_update events.
type DeliveryNotifier struct {
	B   Broadcaster
	Log *slog.Logger
}

func NewDeliveryNotifier(b Broadcaster, log *slog.Logger) *DeliveryNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &DeliveryNotifier{B: b, Log: log}
}

// Notify never fails: publish errors are logged and dropped.
func (n *DeliveryNotifier) Notify(ctx context.Context, outboundID int64, transportID string, status domain.LifecycleStatus, level domain.AckLevel) {
	if n == nil || n.B == nil {
		return
	}
	err := n.B.Broadcast(ctx, EventMessageStatusUpdate, StatusUpdate{
		SentMessageID:      outboundID,
		MessageID:          transportID,
		DeliveryStatus:     string(status),
		DeliveryStatusCode: int(level),
	})
	if err != nil {
		observability.Broadcasts.WithLabelValues("delivery", "error").Inc()
		n.Log.WarnContext(ctx, "status broadcast failed",
			"outbound_id", outboundID, "transport_id", transportID, "status", status, "err", err)
		return
	}
	observability.Broadcasts.WithLabelValues("delivery", "ok").Inc()
}

// Discard drops every event. Used when no live sink is configured.
type Discard struct{}

func (Discard) Broadcast(context.Context, string, any) error { return nil }
