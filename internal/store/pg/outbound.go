package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"wagate/internal/address"
	"wagate/internal/domain"
	"wagate/internal/store"
)

const outboundColumns = `id, owner_user_id, destination_address, body_text, lifecycle_status,
	error_detail, transport_message_id, created_at`

// RecordSend inserts one row per send attempt. A successful send is inserted under
// the transport id lock; any acks already in the ledger for that id set the
// initial status instead of PENDING. An errored row the address fallback bound to
// the same id is released back to ERROR first.
func (s *Store) RecordSend(ctx context.Context, ownerUserID *int64, destination, body string, outcome domain.SendOutcome) (int64, error) {
	if !outcome.Succeeded() {
		var id int64
		err := s.DB.QueryRow(ctx, `
			INSERT INTO outbound_messages (owner_user_id, destination_address, body_text, lifecycle_status, error_detail)
			VALUES ($1,$2,$3,$4,$5)
			RETURNING id
		`, ownerUserID, destination, body, string(domain.StatusError), nullIfEmpty(outcome.ErrorDetail())).Scan(&id)
		return id, err
	}

	transportID := outcome.TransportMessageID()
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockTransportID(ctx, tx, transportID); err != nil {
		return 0, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE outbound_messages
		SET transport_message_id=NULL, lifecycle_status=$2
		WHERE transport_message_id=$1
	`, transportID, string(domain.StatusError)); err != nil {
		return 0, err
	}

	status := domain.StatusPending
	var maxLevel int
	err = tx.QueryRow(ctx, `
		SELECT ack_level FROM ack_events
		WHERE transport_message_id=$1
		ORDER BY ack_level DESC
		LIMIT 1
	`, transportID).Scan(&maxLevel)
	switch {
	case err == nil:
		status = domain.AckLevel(maxLevel).Text()
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return 0, err
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO outbound_messages (owner_user_id, destination_address, body_text, lifecycle_status, transport_message_id)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, ownerUserID, destination, body, string(status), transportID).Scan(&id)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (domain.OutboundMessage, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+outboundColumns+` FROM outbound_messages WHERE id=$1`, id)
	m, err := scanOutbound(row)
	if err != nil {
		return domain.OutboundMessage{}, notFound(err)
	}
	return m, nil
}

// ListByAddress matches every stored form of addr, oldest first.
func (s *Store) ListByAddress(ctx context.Context, addr string) ([]domain.OutboundMessage, error) {
	variants := address.Variants(addr)
	if len(variants) == 0 {
		return nil, nil
	}
	rows, err := s.DB.Query(ctx, `
		SELECT `+outboundColumns+`
		FROM outbound_messages
		WHERE btrim(destination_address) = ANY($1)
		ORDER BY created_at ASC, id ASC
	`, variants)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.OutboundMessage
	for rows.Next() {
		m, err := scanOutbound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanOutbound(row pgx.Row) (domain.OutboundMessage, error) {
	var (
		m      domain.OutboundMessage
		status string
	)
	err := row.Scan(&m.ID, &m.OwnerUserID, &m.DestinationAddress, &m.BodyText, &status,
		&m.ErrorDetail, &m.TransportMessageID, &m.CreatedAt)
	if err != nil {
		return domain.OutboundMessage{}, err
	}
	m.LifecycleStatus = domain.LifecycleStatus(status)
	return m, nil
}

var _ store.OutboundStore = (*Store)(nil)
