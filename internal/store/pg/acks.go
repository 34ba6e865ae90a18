package pg

import (
	"context"

	"github.com/jackc/pgx/v5"

	"wagate/internal/domain"
	"wagate/internal/store"
)

const ackColumns = `id, transport_message_id, correlated_outbound_message_id, ack_level, ack_level_text,
	source_address, event_timestamp, recorded_at`

const joinedAckColumns = `a.id, a.transport_message_id, a.correlated_outbound_message_id, a.ack_level, a.ack_level_text,
	a.source_address, a.event_timestamp, a.recorded_at`

func (s *Store) LatestForTransportID(ctx context.Context, transportID string) (domain.AckEvent, error) {
	return latestForTransportID(ctx, s.DB, transportID)
}

// AllForOutboundMessageID returns the ack history of one outbound message, most recent
// first. History follows the message's transport id, so acks stored before the send
// was recorded are included.
func (s *Store) AllForOutboundMessageID(ctx context.Context, id int64) ([]domain.AckEvent, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+joinedAckColumns+`
		FROM ack_events a
		JOIN outbound_messages o ON o.transport_message_id = a.transport_message_id
		WHERE o.id=$1
		ORDER BY a.recorded_at DESC, a.id DESC
	`, id)
	if err != nil {
		return nil, err
	}
	return collectAcks(rows)
}

func (s *Store) AllForTransportID(ctx context.Context, transportID string) ([]domain.AckEvent, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+ackColumns+`
		FROM ack_events
		WHERE transport_message_id=$1
		ORDER BY recorded_at DESC, id DESC
	`, transportID)
	if err != nil {
		return nil, err
	}
	return collectAcks(rows)
}

func latestForTransportID(ctx context.Context, q querier, transportID string) (domain.AckEvent, error) {
	row := q.QueryRow(ctx, `
		SELECT `+ackColumns+`
		FROM ack_events
		WHERE transport_message_id=$1
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1
	`, transportID)
	ev, err := scanAck(row)
	if err != nil {
		return domain.AckEvent{}, notFound(err)
	}
	return ev, nil
}

func collectAcks(rows pgx.Rows) ([]domain.AckEvent, error) {
	defer rows.Close()
	var out []domain.AckEvent
	for rows.Next() {
		ev, err := scanAck(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanAck(row pgx.Row) (domain.AckEvent, error) {
	var (
		ev    domain.AckEvent
		level int
		text  string
	)
	err := row.Scan(&ev.ID, &ev.TransportMessageID, &ev.CorrelatedOutboundMessageID, &level, &text,
		&ev.SourceAddress, &ev.EventTimestamp, &ev.RecordedAt)
	if err != nil {
		return domain.AckEvent{}, err
	}
	ev.AckLevel = domain.AckLevel(level)
	ev.AckLevelText = domain.LifecycleStatus(text)
	return ev, nil
}

// ackTx implements store.AckTx on top of an open transaction.
type ackTx struct {
	q querier
}

func (t *ackTx) LatestForTransportID(ctx context.Context, transportID string) (domain.AckEvent, error) {
	return latestForTransportID(ctx, t.q, transportID)
}

func (t *ackTx) HighestLevelForTransportID(ctx context.Context, transportID string) (domain.AckLevel, bool, error) {
	var level int
	err := t.q.QueryRow(ctx, `
		SELECT COALESCE(MAX(ack_level), -1) FROM ack_events WHERE transport_message_id=$1
	`, transportID).Scan(&level)
	if err != nil {
		return 0, false, err
	}
	if level < 0 {
		return 0, false, nil
	}
	return domain.AckLevel(level), true, nil
}

func (t *ackTx) OutboundByTransportID(ctx context.Context, transportID string) (domain.OutboundMessage, error) {
	row := t.q.QueryRow(ctx, `SELECT `+outboundColumns+` FROM outbound_messages WHERE transport_message_id=$1`, transportID)
	m, err := scanOutbound(row)
	if err != nil {
		return domain.OutboundMessage{}, notFound(err)
	}
	return m, nil
}

func (t *ackTx) LatestUnboundByAddress(ctx context.Context, variants []string) (domain.OutboundMessage, error) {
	if len(variants) == 0 {
		return domain.OutboundMessage{}, store.ErrNotFound
	}
	row := t.q.QueryRow(ctx, `
		SELECT `+outboundColumns+`
		FROM outbound_messages
		WHERE btrim(destination_address) = ANY($1) AND transport_message_id IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT 1
		FOR UPDATE
	`, variants)
	m, err := scanOutbound(row)
	if err != nil {
		return domain.OutboundMessage{}, notFound(err)
	}
	return m, nil
}

func (t *ackTx) BindTransportID(ctx context.Context, id int64, transportID string, status domain.LifecycleStatus) (bool, error) {
	ct, err := t.q.Exec(ctx, `
		UPDATE outbound_messages
		SET transport_message_id=$2, lifecycle_status=$3
		WHERE id=$1 AND transport_message_id IS NULL
	`, id, transportID, string(status))
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (t *ackTx) Append(ctx context.Context, ev domain.AckEvent) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `
		INSERT INTO ack_events (transport_message_id, correlated_outbound_message_id, ack_level, ack_level_text, source_address, event_timestamp)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, ev.TransportMessageID, ev.CorrelatedOutboundMessageID, int(ev.AckLevel), string(ev.AckLevelText),
		ev.SourceAddress, ev.EventTimestamp).Scan(&id)
	return id, err
}

func (t *ackTx) SetLifecycleStatus(ctx context.Context, id int64, status domain.LifecycleStatus) error {
	_, err := t.q.Exec(ctx, `UPDATE outbound_messages SET lifecycle_status=$2 WHERE id=$1`, id, string(status))
	return err
}

var (
	_ store.AckLedger     = (*Store)(nil)
	_ store.AckUnitOfWork = (*Store)(nil)
	_ store.AckTx         = (*ackTx)(nil)
)
