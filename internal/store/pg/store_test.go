package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wagate/internal/domain"
	"wagate/internal/store"
)

func setupStoreTest(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)
	return New(mockPool), mockPool
}

func outboundCols() []string {
	return []string{"id", "owner_user_id", "destination_address", "body_text", "lifecycle_status",
		"error_detail", "transport_message_id", "created_at"}
}

func ackCols() []string {
	return []string{"id", "transport_message_id", "correlated_outbound_message_id", "ack_level", "ack_level_text",
		"source_address", "event_timestamp", "recorded_at"}
}

func strPtr(s string) *string { return &s }
func i64Ptr(v int64) *int64   { return &v }

func TestRecordSend(t *testing.T) {
	ctx := context.Background()
	uid := int64(1)

	t.Run("FailureInsertsErrorRow", func(t *testing.T) {
		s, mock := setupStoreTest(t)
		mock.ExpectQuery(`INSERT INTO outbound_messages`).
			WithArgs(&uid, "595111", "hi", "ERROR", "transport not ready").
			WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(7)))

		id, err := s.RecordSend(ctx, &uid, "595111", "hi", domain.Failure("transport not ready"))
		require.NoError(t, err)
		assert.Equal(t, int64(7), id)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("SuccessWithoutPriorAcksIsPending", func(t *testing.T) {
		s, mock := setupStoreTest(t)
		mock.ExpectBegin()
		mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs("wamid-1").
			WillReturnResult(pgxmock.NewResult("SELECT", 1))
		mock.ExpectExec(`SET transport_message_id=NULL`).WithArgs("wamid-1", "ERROR").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(`SELECT ack_level FROM ack_events`).WithArgs("wamid-1").
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery(`INSERT INTO outbound_messages`).
			WithArgs(&uid, "595111", "hi", "PENDING", "wamid-1").
			WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(10)))
		mock.ExpectCommit()

		id, err := s.RecordSend(ctx, &uid, "595111", "hi", domain.Success("wamid-1"))
		require.NoError(t, err)
		assert.Equal(t, int64(10), id)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("SuccessBackfillsFromEarlierAck", func(t *testing.T) {
		s, mock := setupStoreTest(t)
		mock.ExpectBegin()
		mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs("wamid-2").
			WillReturnResult(pgxmock.NewResult("SELECT", 1))
		mock.ExpectExec(`SET transport_message_id=NULL`).WithArgs("wamid-2", "ERROR").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(`SELECT ack_level FROM ack_events`).WithArgs("wamid-2").
			WillReturnRows(mock.NewRows([]string{"ack_level"}).AddRow(3))
		mock.ExpectQuery(`INSERT INTO outbound_messages`).
			WithArgs(&uid, "595111", "hi", "DELIVERY_ACK", "wamid-2").
			WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(11)))
		mock.ExpectCommit()

		id, err := s.RecordSend(ctx, &uid, "595111", "hi", domain.Success("wamid-2"))
		require.NoError(t, err)
		assert.Equal(t, int64(11), id)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("SuccessReleasesRowBoundByAddressFallback", func(t *testing.T) {
		s, mock := setupStoreTest(t)
		mock.ExpectBegin()
		mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs("wamid-4").
			WillReturnResult(pgxmock.NewResult("SELECT", 1))
		mock.ExpectExec(`SET transport_message_id=NULL`).WithArgs("wamid-4", "ERROR").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectQuery(`SELECT ack_level FROM ack_events`).WithArgs("wamid-4").
			WillReturnRows(mock.NewRows([]string{"ack_level"}).AddRow(3))
		mock.ExpectQuery(`INSERT INTO outbound_messages`).
			WithArgs(&uid, "595111", "hi", "DELIVERY_ACK", "wamid-4").
			WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(12)))
		mock.ExpectCommit()

		id, err := s.RecordSend(ctx, &uid, "595111", "hi", domain.Success("wamid-4"))
		require.NoError(t, err)
		assert.Equal(t, int64(12), id)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("InsertErrorRollsBack", func(t *testing.T) {
		s, mock := setupStoreTest(t)
		dbErr := errors.New("unique violation")
		mock.ExpectBegin()
		mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs("wamid-3").
			WillReturnResult(pgxmock.NewResult("SELECT", 1))
		mock.ExpectExec(`SET transport_message_id=NULL`).WithArgs("wamid-3", "ERROR").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(`SELECT ack_level FROM ack_events`).WithArgs("wamid-3").
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery(`INSERT INTO outbound_messages`).
			WillReturnError(dbErr)
		mock.ExpectRollback()

		_, err := s.RecordSend(ctx, &uid, "595111", "hi", domain.Success("wamid-3"))
		require.ErrorIs(t, err, dbErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetByID(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("Found", func(t *testing.T) {
		s, mock := setupStoreTest(t)
		mock.ExpectQuery(`FROM outbound_messages WHERE id=\$1`).WithArgs(int64(10)).
			WillReturnRows(mock.NewRows(outboundCols()).
				AddRow(int64(10), i64Ptr(1), "595111", "hi", "SERVER_ACK", (*string)(nil), strPtr("wamid-1"), created))

		m, err := s.GetByID(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusServerAck, m.LifecycleStatus)
		assert.Equal(t, "wamid-1", *m.TransportMessageID)
		assert.Nil(t, m.ErrorDetail)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		s, mock := setupStoreTest(t)
		mock.ExpectQuery(`FROM outbound_messages WHERE id=\$1`).WithArgs(int64(99)).
			WillReturnError(pgx.ErrNoRows)

		_, err := s.GetByID(ctx, 99)
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestListByAddressMatchesAllStoredForms(t *testing.T) {
	s, mock := setupStoreTest(t)
	created := time.Now().UTC()
	variants := []string{"595111", "595111@s.whatsapp.net", "595111@g.us", "595111@c.us"}

	// stored destinations are compared trimmed, so " 595111" is found too
	mock.ExpectQuery(`WHERE btrim\(destination_address\) = ANY\(\$1\)`).WithArgs(variants).
		WillReturnRows(mock.NewRows(outboundCols()).
			AddRow(int64(1), (*int64)(nil), "595111", "a", "READ", (*string)(nil), strPtr("t1"), created).
			AddRow(int64(2), (*int64)(nil), "595111@s.whatsapp.net", "b", "ERROR", strPtr("boom"), (*string)(nil), created).
			AddRow(int64(3), (*int64)(nil), " 595111", "c", "PENDING", (*string)(nil), strPtr("t3"), created))

	msgs, err := s.ListByAddress(context.Background(), " 595111@s.whatsapp.net")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, int64(1), msgs[0].ID)
	assert.Equal(t, domain.StatusError, msgs[1].LifecycleStatus)
	assert.Equal(t, " 595111", msgs[2].DestinationAddress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinAckTx(t *testing.T) {
	ctx := context.Background()

	t.Run("CommitsAppendAndStatus", func(t *testing.T) {
		s, mock := setupStoreTest(t)
		mock.ExpectBegin()
		mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs("wamid-1").
			WillReturnResult(pgxmock.NewResult("SELECT", 1))
		mock.ExpectQuery(`INSERT INTO ack_events`).
			WithArgs("wamid-1", i64Ptr(10), 1, "SERVER_ACK", strPtr("595111"), i64Ptr(1000)).
			WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(1)))
		mock.ExpectExec(`UPDATE outbound_messages SET lifecycle_status`).WithArgs(int64(10), "SERVER_ACK").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		err := s.WithinAckTx(ctx, "wamid-1", func(tx store.AckTx) error {
			id, err := tx.Append(ctx, domain.AckEvent{
				TransportMessageID:          "wamid-1",
				CorrelatedOutboundMessageID: i64Ptr(10),
				AckLevel:                    1,
				AckLevelText:                domain.StatusServerAck,
				SourceAddress:               strPtr("595111"),
				EventTimestamp:              i64Ptr(1000),
			})
			if err != nil {
				return err
			}
			assert.Equal(t, int64(1), id)
			return tx.SetLifecycleStatus(ctx, 10, domain.StatusServerAck)
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RollsBackOnError", func(t *testing.T) {
		s, mock := setupStoreTest(t)
		boom := errors.New("boom")
		mock.ExpectBegin()
		mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs("wamid-9").
			WillReturnResult(pgxmock.NewResult("SELECT", 1))
		mock.ExpectRollback()

		err := s.WithinAckTx(ctx, "wamid-9", func(tx store.AckTx) error { return boom })
		require.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAckTxLookups(t *testing.T) {
	ctx := context.Background()
	recorded := time.Now().UTC()
	s, mock := setupStoreTest(t)
	variants := []string{"595111", "595111@s.whatsapp.net", "595111@g.us", "595111@c.us"}

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs("wamid-5").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`FROM ack_events`).WithArgs("wamid-5").
		WillReturnRows(mock.NewRows(ackCols()).
			AddRow(int64(4), "wamid-5", (*int64)(nil), 3, "DELIVERY_ACK", strPtr("595111"), (*int64)(nil), recorded))
	mock.ExpectQuery(`COALESCE\(MAX\(ack_level\), -1\)`).WithArgs("wamid-5").
		WillReturnRows(mock.NewRows([]string{"max"}).AddRow(3))
	mock.ExpectQuery(`WHERE transport_message_id=\$1`).WithArgs("wamid-5").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`btrim\(destination_address\) = ANY\(\$1\) AND transport_message_id IS NULL`).WithArgs(variants).
		WillReturnRows(mock.NewRows(outboundCols()).
			AddRow(int64(12), (*int64)(nil), "595111", "x", "ERROR", strPtr("timeout"), (*string)(nil), recorded))
	mock.ExpectExec(`SET transport_message_id=\$2`).WithArgs(int64(12), "wamid-5", "DELIVERY_ACK").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := s.WithinAckTx(ctx, "wamid-5", func(tx store.AckTx) error {
		prior, err := tx.LatestForTransportID(ctx, "wamid-5")
		require.NoError(t, err)
		assert.Equal(t, domain.AckLevel(3), prior.AckLevel)
		assert.Nil(t, prior.CorrelatedOutboundMessageID)

		highest, ok, err := tx.HighestLevelForTransportID(ctx, "wamid-5")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, domain.AckLevel(3), highest)

		_, err = tx.OutboundByTransportID(ctx, "wamid-5")
		assert.ErrorIs(t, err, store.ErrNotFound)

		cand, err := tx.LatestUnboundByAddress(ctx, variants)
		require.NoError(t, err)
		assert.Equal(t, int64(12), cand.ID)

		ok, err := tx.BindTransportID(ctx, cand.ID, "wamid-5", domain.StatusDeliveryAck)
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllForOutboundMessageID(t *testing.T) {
	s, mock := setupStoreTest(t)
	now := time.Now().UTC()

	// the first ack was stored before the send was recorded and has no correlation
	mock.ExpectQuery(`JOIN outbound_messages o ON o.transport_message_id = a.transport_message_id\s+WHERE o.id=\$1`).
		WithArgs(int64(10)).
		WillReturnRows(mock.NewRows(ackCols()).
			AddRow(int64(3), "wamid-1", i64Ptr(10), 4, "READ", strPtr("595111"), i64Ptr(1002), now).
			AddRow(int64(2), "wamid-1", i64Ptr(10), 0, "PENDING", strPtr("595111"), i64Ptr(1001), now).
			AddRow(int64(1), "wamid-1", (*int64)(nil), 1, "SERVER_ACK", strPtr("595111"), i64Ptr(1000), now))

	acks, err := s.AllForOutboundMessageID(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, acks, 3)
	assert.Equal(t, domain.StatusRead, acks[0].AckLevelText)
	assert.Equal(t, int64(1), acks[2].ID)
	assert.Nil(t, acks[2].CorrelatedOutboundMessageID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkReadByAddress(t *testing.T) {
	s, mock := setupStoreTest(t)
	mock.ExpectExec(`UPDATE received_messages SET is_read=true`).
		WithArgs([]string{"595111", "595111@s.whatsapp.net", "595111@g.us", "595111@c.us"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := s.MarkReadByAddress(context.Background(), "595111")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
