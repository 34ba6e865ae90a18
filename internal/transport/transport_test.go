package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wagate/internal/domain"
)

func TestBaseTransitions(t *testing.T) {
	var b Base
	var seen []State
	b.Subscribe(Handler{OnState: func(s State) { seen = append(seen, s) }})

	assert.Equal(t, StateDisconnected, b.State())
	require.NoError(t, b.Transition(StatePairing))
	b.SetQR("2@abc")
	assert.Equal(t, "2@abc", b.LatestQR())

	require.NoError(t, b.Transition(StateConnected))
	assert.Empty(t, b.LatestQR())
	require.NoError(t, b.Transition(StateConnected))

	assert.Error(t, b.Transition(StatePairing))
	require.NoError(t, b.Transition(StateDisconnected))

	assert.Equal(t, []State{StatePairing, StateConnected, StateDisconnected}, seen)
}

func TestBaseNotReady(t *testing.T) {
	var b Base
	err := b.NotReady()
	var nr *domain.NotReadyError
	require.ErrorAs(t, err, &nr)
	assert.False(t, nr.HasQR)
	assert.ErrorIs(t, err, domain.ErrNotReady)

	require.NoError(t, b.Transition(StatePairing))
	b.SetQR("qr")
	require.ErrorAs(t, b.NotReady(), &nr)
	assert.True(t, nr.HasQR)
	assert.Equal(t, "pairing", nr.State)

	require.NoError(t, b.Transition(StateConnected))
	assert.NoError(t, b.NotReady())
}

func TestBaseEmitsToEveryHandler(t *testing.T) {
	var b Base
	var acks, inbound int
	b.Subscribe(Handler{OnAck: func(domain.AckEvent) { acks++ }})
	b.Subscribe(Handler{OnAck: func(domain.AckEvent) { acks++ }, OnInbound: func(domain.InboundMessage) { inbound++ }})

	b.EmitAck(domain.AckEvent{TransportMessageID: "t"})
	b.EmitInbound(domain.InboundMessage{Body: "hola"})

	assert.Equal(t, 2, acks)
	assert.Equal(t, 1, inbound)
}
