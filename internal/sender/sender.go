// Package sender guards transport sends with a local rate limit and a circuit breaker.
package sender

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"wagate/internal/domain"
	"wagate/internal/observability"
)

// Transport is the part of transport.Session the sender drives.
type Transport interface {
	Send(ctx context.Context, destination, body string) (string, error)
}

type Sender struct {
	Transport Transport
	Limiter   *rate.Limiter
	Breaker   *gobreaker.CircuitBreaker
	// Timeout bounds a single transport call. Zero means no extra bound.
	Timeout time.Duration
	// LimitWait bounds how long a send waits for a rate token.
	LimitWait time.Duration
}

// NewBreaker trips after consecutive transport failures. Not-ready and caller
// cancellations don't count against the transport.
func NewBreaker(name string, maxFailures uint32, openFor time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Timeout:     openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= maxFailures },
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNotReady) || errors.Is(err, context.Canceled)
		},
	})
}

// Send makes exactly one transport attempt. A throttled or open-circuit send fails
// with a *domain.NotReadyError without reaching the transport.
func (s *Sender) Send(ctx context.Context, destination, body string) (string, error) {
	if s.Limiter != nil {
		wait := s.LimitWait
		if wait <= 0 {
			wait = 2 * time.Second
		}
		waitCtx, cancel := context.WithTimeout(ctx, wait)
		err := s.Limiter.Wait(waitCtx)
		cancel()
		if err != nil {
			observability.Sends.WithLabelValues("rate_limited_local").Inc()
			return "", &domain.NotReadyError{State: "throttled"}
		}
	}

	start := time.Now()
	res, err := s.execute(ctx, destination, body)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		observability.Sends.WithLabelValues("cb_open").Inc()
		return "", &domain.NotReadyError{State: "circuit_open"}
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotReady) {
			observability.Sends.WithLabelValues("not_ready").Inc()
		} else {
			observability.Sends.WithLabelValues("error").Inc()
		}
		return "", err
	}
	observability.Sends.WithLabelValues("ok").Inc()
	observability.SendLatency.Observe(time.Since(start).Seconds())
	return res, nil
}

func (s *Sender) execute(ctx context.Context, destination, body string) (string, error) {
	call := func() (any, error) {
		callCtx := ctx
		if s.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.Timeout)
			defer cancel()
		}
		id, err := s.Transport.Send(callCtx, destination, body)
		if err != nil {
			return nil, &CallError{Destination: destination, Err: err}
		}
		return id, nil
	}

	if s.Breaker == nil {
		res, err := call()
		if err != nil {
			return "", err
		}
		return res.(string), nil
	}
	res, err := s.Breaker.Execute(call)
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// CallError is a failed transport call.
type CallError struct {
	Destination string
	Err         error
}

func (e *CallError) Error() string { return "send to " + e.Destination + ": " + e.Err.Error() }
func (e *CallError) Unwrap() error { return e.Err }
