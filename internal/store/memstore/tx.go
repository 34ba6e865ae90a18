package memstore

import (
	"context"

	"wagate/internal/address"
	"wagate/internal/domain"
	"wagate/internal/store"
)

// ackTx runs with Store.mu held.
type ackTx struct {
	s       *Store
	ackLen  int
	nextAck int64
	saved   map[int]domain.OutboundMessage
}

func (t *ackTx) LatestForTransportID(_ context.Context, transportID string) (domain.AckEvent, error) {
	return t.s.latestAck(transportID)
}

func (t *ackTx) HighestLevelForTransportID(_ context.Context, transportID string) (domain.AckLevel, bool, error) {
	var (
		best  domain.AckLevel
		found bool
	)
	for _, ev := range t.s.acks {
		if ev.TransportMessageID == transportID && (!found || ev.AckLevel > best) {
			best, found = ev.AckLevel, true
		}
	}
	return best, found, nil
}

func (t *ackTx) OutboundByTransportID(_ context.Context, transportID string) (domain.OutboundMessage, error) {
	for _, m := range t.s.outbound {
		if m.TransportMessageID != nil && *m.TransportMessageID == transportID {
			return m, nil
		}
	}
	return domain.OutboundMessage{}, store.ErrNotFound
}

func (t *ackTx) LatestUnboundByAddress(_ context.Context, variants []string) (domain.OutboundMessage, error) {
	if len(variants) == 0 {
		return domain.OutboundMessage{}, store.ErrNotFound
	}
	bare := address.Normalize(variants[0])
	var (
		best  domain.OutboundMessage
		found bool
	)
	for _, m := range t.s.outbound {
		if m.TransportMessageID != nil || address.Normalize(m.DestinationAddress) != bare {
			continue
		}
		if !found || !m.CreatedAt.Before(best.CreatedAt) {
			best, found = m, true
		}
	}
	if !found {
		return domain.OutboundMessage{}, store.ErrNotFound
	}
	return best, nil
}

func (t *ackTx) BindTransportID(_ context.Context, id int64, transportID string, status domain.LifecycleStatus) (bool, error) {
	i := t.s.outboundIndex(id)
	if i < 0 || t.s.outbound[i].TransportMessageID != nil {
		return false, nil
	}
	t.save(i)
	tid := transportID
	t.s.outbound[i].TransportMessageID = &tid
	t.s.outbound[i].LifecycleStatus = status
	return true, nil
}

func (t *ackTx) Append(_ context.Context, ev domain.AckEvent) (int64, error) {
	ev.ID = t.s.nextAck
	ev.RecordedAt = t.s.now()
	t.s.nextAck++
	t.s.acks = append(t.s.acks, ev)
	return ev.ID, nil
}

func (t *ackTx) SetLifecycleStatus(_ context.Context, id int64, status domain.LifecycleStatus) error {
	i := t.s.outboundIndex(id)
	if i < 0 {
		return store.ErrNotFound
	}
	t.save(i)
	t.s.outbound[i].LifecycleStatus = status
	return nil
}

func (t *ackTx) save(i int) {
	if _, ok := t.saved[i]; !ok {
		t.saved[i] = t.s.outbound[i]
	}
}

func (t *ackTx) undo() {
	t.s.acks = t.s.acks[:t.ackLen]
	t.s.nextAck = t.nextAck
	for i, m := range t.saved {
		t.s.outbound[i] = m
	}
}
