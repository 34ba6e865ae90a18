package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"wagate/internal/address"
	"wagate/internal/domain"
	"wagate/internal/store"
)

// InsertInbound stores a received message. A redelivered transport id is a no-op
// that returns the existing row id.
func (s *Store) InsertInbound(ctx context.Context, m domain.InboundMessage) (int64, error) {
	var payload any
	if len(m.Payload) > 0 {
		payload = m.Payload
	}
	var id int64
	err := s.DB.QueryRow(ctx, `
		INSERT INTO received_messages (transport_message_id, from_address, body, event_timestamp, payload)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (transport_message_id) WHERE transport_message_id IS NOT NULL DO NOTHING
		RETURNING id
	`, nullIfEmpty(m.TransportMessageID), m.FromAddress, m.Body, m.Timestamp, payload).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		err = s.DB.QueryRow(ctx, `SELECT id FROM received_messages WHERE transport_message_id=$1`, m.TransportMessageID).Scan(&id)
	}
	return id, err
}

func (s *Store) ListInboundByAddress(ctx context.Context, addr string) ([]domain.InboundMessage, error) {
	variants := address.Variants(addr)
	if len(variants) == 0 {
		return nil, nil
	}
	rows, err := s.DB.Query(ctx, `
		SELECT id, COALESCE(transport_message_id,''), from_address, body, event_timestamp, is_read, created_at
		FROM received_messages
		WHERE from_address = ANY($1)
		ORDER BY event_timestamp ASC, id ASC
	`, variants)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.InboundMessage
	for rows.Next() {
		var m domain.InboundMessage
		if err := rows.Scan(&m.ID, &m.TransportMessageID, &m.FromAddress, &m.Body, &m.Timestamp, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkReadByAddress flags every unread message from addr as read and returns how many changed.
func (s *Store) MarkReadByAddress(ctx context.Context, addr string) (int64, error) {
	variants := address.Variants(addr)
	if len(variants) == 0 {
		return 0, nil
	}
	ct, err := s.DB.Exec(ctx, `
		UPDATE received_messages SET is_read=true
		WHERE from_address = ANY($1) AND is_read=false
	`, variants)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

var _ store.InboundStore = (*Store)(nil)
