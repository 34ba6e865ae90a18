// Package transport defines the capability the gateway needs from a chat transport:
// send a text, and report acks, inbound messages and session state.
package transport

import (
	"context"
	"fmt"
	"sync"

	"wagate/internal/domain"
	"wagate/internal/observability"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StatePairing      State = "pairing"
	StateConnected    State = "connected"
)

// Handler receives session events. Nil callbacks are skipped.
type Handler struct {
	OnAck     func(domain.AckEvent)
	OnInbound func(domain.InboundMessage)
	OnState   func(State)
}

type Session interface {
	// Send delivers body to destination and returns the transport message id. It
	// fails with a *domain.NotReadyError when the session is not connected.
	Send(ctx context.Context, destination, body string) (string, error)
	Subscribe(h Handler)
	State() State
	// LatestQR is the pairing code currently on offer, or "".
	LatestQR() string
}

var transitions = map[State][]State{
	StateDisconnected: {StatePairing, StateConnected},
	StatePairing:      {StateConnected, StateDisconnected},
	StateConnected:    {StateDisconnected},
}

// Base carries the state machine and subscriber list shared by session implementations.
type Base struct {
	mu       sync.RWMutex
	state    State
	qr       string
	handlers []Handler
}

func (b *Base) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

func (b *Base) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state == "" {
		return StateDisconnected
	}
	return b.state
}

func (b *Base) LatestQR() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.qr
}

func (b *Base) SetQR(code string) {
	b.mu.Lock()
	b.qr = code
	b.mu.Unlock()
}

// Transition moves the session to next. Moving to the current state is a no-op.
func (b *Base) Transition(next State) error {
	b.mu.Lock()
	cur := b.state
	if cur == "" {
		cur = StateDisconnected
	}
	if cur == next {
		b.mu.Unlock()
		return nil
	}
	allowed := false
	for _, s := range transitions[cur] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		b.mu.Unlock()
		return fmt.Errorf("transport: invalid transition %s -> %s", cur, next)
	}
	b.state = next
	if next == StateConnected {
		b.qr = ""
	}
	handlers := append([]Handler(nil), b.handlers...)
	b.mu.Unlock()

	if next == StateConnected {
		observability.TransportConnected.Set(1)
	} else {
		observability.TransportConnected.Set(0)
	}
	for _, h := range handlers {
		if h.OnState != nil {
			h.OnState(next)
		}
	}
	return nil
}

// NotReady returns a *domain.NotReadyError unless the session is connected.
func (b *Base) NotReady() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state == StateConnected {
		return nil
	}
	st := b.state
	if st == "" {
		st = StateDisconnected
	}
	return &domain.NotReadyError{State: string(st), HasQR: b.qr != ""}
}

func (b *Base) EmitAck(ev domain.AckEvent) {
	for _, h := range b.snapshot() {
		if h.OnAck != nil {
			h.OnAck(ev)
		}
	}
}

func (b *Base) EmitInbound(m domain.InboundMessage) {
	for _, h := range b.snapshot() {
		if h.OnInbound != nil {
			h.OnInbound(m)
		}
	}
}

func (b *Base) snapshot() []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Handler(nil), b.handlers...)
}
