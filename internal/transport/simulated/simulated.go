// Package simulated is an in-process transport for local runs and tests. Sends always
// succeed once connected, and acks arrive later in random order, sometimes twice.
package simulated

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"wagate/internal/address"
	"wagate/internal/domain"
	"wagate/internal/transport"
)

type Config struct {
	// Delay range for each ack after the server ack. Both zero emits synchronously.
	AckDelayMin time.Duration
	AckDelayMax time.Duration
	// DuplicateRate is the chance each ack is emitted a second time.
	DuplicateRate float64
	// Levels emitted after the immediate server ack.
	Levels []domain.AckLevel
	// PairingDelay > 0 starts the session in pairing with a fake QR.
	PairingDelay time.Duration
	Seed         int64
}

func DefaultConfig() Config {
	return Config{
		AckDelayMin:   200 * time.Millisecond,
		AckDelayMax:   2 * time.Second,
		DuplicateRate: 0.1,
		Levels:        []domain.AckLevel{3, 4},
	}
}

type Session struct {
	transport.Base

	cfg  Config
	seq  atomic.Uint64
	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(cfg Config) *Session {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if cfg.AckDelayMax < cfg.AckDelayMin {
		cfg.AckDelayMin, cfg.AckDelayMax = cfg.AckDelayMax, cfg.AckDelayMin
	}
	return &Session{
		cfg:  cfg,
		stop: make(chan struct{}),
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// Start connects right away, or after PairingDelay with a QR on offer in between.
func (s *Session) Start(ctx context.Context) error {
	if s.cfg.PairingDelay <= 0 {
		return s.Transition(transport.StateConnected)
	}
	if err := s.Transition(transport.StatePairing); err != nil {
		return err
	}
	s.SetQR(fmt.Sprintf("2@simulated,%d", time.Now().Unix()))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-ctx.Done():
		case <-s.stop:
		case <-time.After(s.cfg.PairingDelay):
			_ = s.Transition(transport.StateConnected)
		}
	}()
	return nil
}

// Close stops pending acks and waits for in-flight emitters.
func (s *Session) Close() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
	_ = s.Transition(transport.StateDisconnected)
}

func (s *Session) Send(_ context.Context, destination, body string) (string, error) {
	if err := s.NotReady(); err != nil {
		return "", err
	}
	if address.Normalize(destination) == "" {
		return "", fmt.Errorf("simulated: empty destination")
	}
	id := fmt.Sprintf("SIM%012d", s.seq.Add(1))
	src := address.WithPrimarySuffix(address.Normalize(destination))

	s.EmitAck(s.ack(id, src, 1))
	for _, lvl := range s.cfg.Levels {
		s.schedule(s.ack(id, src, lvl))
		if s.chance(s.cfg.DuplicateRate) {
			s.schedule(s.ack(id, src, lvl))
		}
	}
	return id, nil
}

// Receive injects an inbound text as if a contact had sent it.
func (s *Session) Receive(from, body string) {
	n := s.seq.Add(1)
	s.EmitInbound(domain.InboundMessage{
		TransportMessageID: fmt.Sprintf("SIMIN%012d", n),
		FromAddress:        address.WithPrimarySuffix(address.Normalize(from)),
		Body:               body,
		Timestamp:          time.Now().Unix(),
	})
}

// Wait blocks until every scheduled ack has been emitted.
func (s *Session) Wait() { s.wg.Wait() }

func (s *Session) ack(id, src string, level domain.AckLevel) domain.AckEvent {
	source := src
	ts := time.Now().Unix()
	return domain.AckEvent{
		TransportMessageID: id,
		AckLevel:           level,
		SourceAddress:      &source,
		EventTimestamp:     &ts,
	}
}

func (s *Session) schedule(ev domain.AckEvent) {
	d := s.delay()
	if d <= 0 {
		s.EmitAck(ev)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-s.stop:
		case <-t.C:
			s.EmitAck(ev)
		}
	}()
}

func (s *Session) delay() time.Duration {
	lo, hi := s.cfg.AckDelayMin, s.cfg.AckDelayMax
	if hi <= 0 {
		return 0
	}
	if hi == lo {
		return lo
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return lo + time.Duration(s.rng.Int63n(int64(hi-lo)+1))
}

func (s *Session) chance(p float64) bool {
	if p <= 0 {
		return false
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64() < p
}

var _ transport.Session = (*Session)(nil)
