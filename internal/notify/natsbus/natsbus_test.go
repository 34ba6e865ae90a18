package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"wagate/internal/notify"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(subject string, data []byte) error {
	args := m.Called(subject, data)
	return args.Error(0)
}

func TestBroadcastPublishesEnvelope(t *testing.T) {
	pub := new(mockPublisher)
	var captured []byte
	pub.On("Publish", "wagate.events.message_status_update", mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).([]byte) }).
		Return(nil).Once()

	b := New(pub, "")
	err := b.Broadcast(context.Background(), notify.EventMessageStatusUpdate, notify.StatusUpdate{SentMessageID: 3, DeliveryStatusCode: 1})
	require.NoError(t, err)
	pub.AssertExpectations(t)

	var env struct {
		Event string              `json:"event"`
		Data  notify.StatusUpdate `json:"data"`
	}
	require.NoError(t, json.Unmarshal(captured, &env))
	assert.Equal(t, notify.EventMessageStatusUpdate, env.Event)
	assert.Equal(t, int64(3), env.Data.SentMessageID)
}

func TestBroadcastReturnsPublishError(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("Publish", "ops.new_message", mock.Anything).Return(errors.New("nats: connection closed"))

	err := New(pub, "ops").Broadcast(context.Background(), notify.EventNewMessage, map[string]any{})
	assert.EqualError(t, err, "nats: connection closed")
}
