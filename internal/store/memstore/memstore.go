// Package memstore is an in-process implementation of the store interfaces, used for
// local runs without Postgres and by tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"wagate/internal/address"
	"wagate/internal/domain"
	"wagate/internal/store"
)

type Option func(*Store)

// WithOutboundIDStart sets the id assigned to the first outbound message.
func WithOutboundIDStart(id int64) Option {
	return func(s *Store) { s.nextOutbound = id }
}

// WithClock overrides the time source for createdAt and recordedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	mu sync.Mutex

	outbound     []domain.OutboundMessage
	acks         []domain.AckEvent
	inbound      []domain.InboundMessage
	nextOutbound int64
	nextAck      int64
	nextInbound  int64
	now          func() time.Time
}

func New(opts ...Option) *Store {
	s := &Store{nextOutbound: 1, nextAck: 1, nextInbound: 1, now: func() time.Time { return time.Now().UTC() }}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) RecordSend(_ context.Context, ownerUserID *int64, destination, body string, outcome domain.SendOutcome) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := domain.OutboundMessage{
		ID:                 s.nextOutbound,
		DestinationAddress: destination,
		BodyText:           body,
		CreatedAt:          s.now(),
	}
	if ownerUserID != nil {
		owner := *ownerUserID
		m.OwnerUserID = &owner
	}
	if outcome.Succeeded() {
		tid := outcome.TransportMessageID()
		// a row the address fallback bound to tid goes back to ERROR
		for i := range s.outbound {
			if held := s.outbound[i].TransportMessageID; held != nil && *held == tid {
				s.outbound[i].TransportMessageID = nil
				s.outbound[i].LifecycleStatus = domain.StatusError
			}
		}
		m.TransportMessageID = &tid
		m.LifecycleStatus = domain.StatusPending
		maxLevel := domain.AckLevel(-1)
		for _, ev := range s.acks {
			if ev.TransportMessageID == tid && ev.AckLevel > maxLevel {
				maxLevel = ev.AckLevel
			}
		}
		if maxLevel.Valid() {
			m.LifecycleStatus = maxLevel.Text()
		}
	} else {
		m.LifecycleStatus = domain.StatusError
		if d := outcome.ErrorDetail(); d != "" {
			m.ErrorDetail = &d
		}
	}
	s.nextOutbound++
	s.outbound = append(s.outbound, m)
	return m.ID, nil
}

func (s *Store) GetByID(_ context.Context, id int64) (domain.OutboundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.outboundIndex(id); i >= 0 {
		return s.outbound[i], nil
	}
	return domain.OutboundMessage{}, store.ErrNotFound
}

func (s *Store) ListByAddress(_ context.Context, addr string) ([]domain.OutboundMessage, error) {
	bare := address.Normalize(addr)
	if bare == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.OutboundMessage
	for _, m := range s.outbound {
		if address.Normalize(m.DestinationAddress) == bare {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) LatestForTransportID(_ context.Context, transportID string) (domain.AckEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestAck(transportID)
}

// AllForOutboundMessageID follows the message's transport id, so acks stored before
// the send was recorded are part of its history.
func (s *Store) AllForOutboundMessageID(_ context.Context, id int64) ([]domain.AckEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.outboundIndex(id)
	if i < 0 || s.outbound[i].TransportMessageID == nil {
		return nil, nil
	}
	tid := *s.outbound[i].TransportMessageID
	return s.acksNewestFirst(func(ev domain.AckEvent) bool { return ev.TransportMessageID == tid }), nil
}

func (s *Store) AllForTransportID(_ context.Context, transportID string) ([]domain.AckEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acksNewestFirst(func(ev domain.AckEvent) bool { return ev.TransportMessageID == transportID }), nil
}

// WithinAckTx holds the store lock for the whole of fn and undoes every write fn made
// when it returns an error.
func (s *Store) WithinAckTx(ctx context.Context, _ string, fn func(tx store.AckTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &ackTx{s: s, ackLen: len(s.acks), nextAck: s.nextAck, saved: map[int]domain.OutboundMessage{}}
	if err := fn(tx); err != nil {
		tx.undo()
		return err
	}
	return nil
}

func (s *Store) InsertInbound(_ context.Context, m domain.InboundMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.TransportMessageID != "" {
		for _, existing := range s.inbound {
			if existing.TransportMessageID == m.TransportMessageID {
				return existing.ID, nil
			}
		}
	}
	m.ID = s.nextInbound
	m.IsRead = false
	m.CreatedAt = s.now()
	s.nextInbound++
	s.inbound = append(s.inbound, m)
	return m.ID, nil
}

func (s *Store) ListInboundByAddress(_ context.Context, addr string) ([]domain.InboundMessage, error) {
	bare := address.Normalize(addr)
	if bare == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.InboundMessage
	for _, m := range s.inbound {
		if address.Normalize(m.FromAddress) == bare {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) MarkReadByAddress(_ context.Context, addr string) (int64, error) {
	bare := address.Normalize(addr)
	if bare == "" {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.inbound {
		if !s.inbound[i].IsRead && address.Normalize(s.inbound[i].FromAddress) == bare {
			s.inbound[i].IsRead = true
			n++
		}
	}
	return n, nil
}

func (s *Store) outboundIndex(id int64) int {
	for i := range s.outbound {
		if s.outbound[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) latestAck(transportID string) (domain.AckEvent, error) {
	// acks are appended in id order, so the last match has the highest id
	var (
		best  domain.AckEvent
		found bool
	)
	for _, ev := range s.acks {
		if ev.TransportMessageID != transportID {
			continue
		}
		if !found || !ev.RecordedAt.Before(best.RecordedAt) {
			best, found = ev, true
		}
	}
	if !found {
		return domain.AckEvent{}, store.ErrNotFound
	}
	return best, nil
}

func (s *Store) acksNewestFirst(match func(domain.AckEvent) bool) []domain.AckEvent {
	var out []domain.AckEvent
	for _, ev := range s.acks {
		if match(ev) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].RecordedAt.After(out[j].RecordedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

var (
	_ store.OutboundStore = (*Store)(nil)
	_ store.AckLedger     = (*Store)(nil)
	_ store.AckUnitOfWork = (*Store)(nil)
	_ store.InboundStore  = (*Store)(nil)
)
