package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wagate/internal/domain"
)

type recorder struct {
	mu     sync.Mutex
	events []string
	data   []any
	err    error
}

func (r *recorder) Broadcast(_ context.Context, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.data = append(r.data, payload)
	return r.err
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestDeliveryNotifierPayload(t *testing.T) {
	rec := &recorder{}
	n := NewDeliveryNotifier(rec, quietLogger())

	n.Notify(context.Background(), 10, "wamid-1", domain.StatusRead, 4)

	require.Len(t, rec.events, 1)
	assert.Equal(t, EventMessageStatusUpdate, rec.events[0])
	assert.Equal(t, StatusUpdate{SentMessageID: 10, MessageID: "wamid-1", DeliveryStatus: "READ", DeliveryStatusCode: 4}, rec.data[0])
}

func TestDeliveryNotifierSwallowsErrors(t *testing.T) {
	rec := &recorder{err: errors.New("sink down")}
	n := NewDeliveryNotifier(rec, quietLogger())

	assert.NotPanics(t, func() {
		n.Notify(context.Background(), 1, "t", domain.StatusServerAck, 1)
	})
	assert.Len(t, rec.events, 1)

	var nilNotifier *DeliveryNotifier
	assert.NotPanics(t, func() { nilNotifier.Notify(context.Background(), 1, "t", domain.StatusPending, 0) })
}

func TestFanoutReachesEverySinkAndJoinsErrors(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("nats down")}
	f := Fanout{bad, ok, Discard{}}

	err := f.Broadcast(context.Background(), EventNewMessage, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats down")
	assert.Len(t, ok.events, 1)
	assert.Len(t, bad.events, 1)
}
