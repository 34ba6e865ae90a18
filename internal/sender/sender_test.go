package sender

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"wagate/internal/domain"
)

type fakeTransport struct {
	calls int
	id    string
	err   error
}

func (f *fakeTransport) Send(_ context.Context, _, _ string) (string, error) {
	f.calls++
	return f.id, f.err
}

func TestSendPassesThrough(t *testing.T) {
	tr := &fakeTransport{id: "3EB0A1"}
	s := &Sender{Transport: tr, Breaker: NewBreaker("test", 3, time.Minute)}

	id, err := s.Send(context.Background(), "5491112345678", "hola")
	require.NoError(t, err)
	assert.Equal(t, "3EB0A1", id)
	assert.Equal(t, 1, tr.calls)
}

func TestSendWrapsTransportError(t *testing.T) {
	boom := errors.New("socket closed")
	s := &Sender{Transport: &fakeTransport{err: boom}}

	_, err := s.Send(context.Background(), "5491112345678", "hola")
	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "5491112345678", ce.Destination)
	assert.ErrorIs(t, err, boom)
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	tr := &fakeTransport{err: errors.New("socket closed")}
	s := &Sender{Transport: tr, Breaker: NewBreaker("test", 2, time.Minute)}

	for i := 0; i < 2; i++ {
		_, err := s.Send(context.Background(), "1", "x")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, s.Breaker.State())

	_, err := s.Send(context.Background(), "1", "x")
	var nr *domain.NotReadyError
	require.ErrorAs(t, err, &nr)
	assert.Equal(t, "circuit_open", nr.State)
	assert.Equal(t, 2, tr.calls)
}

func TestNotReadyDoesNotTripBreaker(t *testing.T) {
	tr := &fakeTransport{err: &domain.NotReadyError{State: "disconnected"}}
	s := &Sender{Transport: tr, Breaker: NewBreaker("test", 1, time.Minute)}

	for i := 0; i < 3; i++ {
		_, err := s.Send(context.Background(), "1", "x")
		assert.ErrorIs(t, err, domain.ErrNotReady)
	}
	assert.Equal(t, gobreaker.StateClosed, s.Breaker.State())
	assert.Equal(t, 3, tr.calls)
}

func TestThrottledSendIsNotReady(t *testing.T) {
	tr := &fakeTransport{id: "x"}
	s := &Sender{
		Transport: tr,
		Limiter:   rate.NewLimiter(rate.Every(time.Hour), 1),
		LimitWait: 10 * time.Millisecond,
	}

	_, err := s.Send(context.Background(), "1", "x")
	require.NoError(t, err)

	_, err = s.Send(context.Background(), "1", "x")
	var nr *domain.NotReadyError
	require.ErrorAs(t, err, &nr)
	assert.Equal(t, "throttled", nr.State)
	assert.Equal(t, 1, tr.calls)
}
