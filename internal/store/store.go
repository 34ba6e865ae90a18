package store

import (
	"context"
	"errors"

	"wagate/internal/domain"
)

var ErrNotFound = errors.New("not found")

// OutboundStore is the durable record of every send attempt.
type OutboundStore interface {
	RecordSend(ctx context.Context, ownerUserID *int64, destination, body string, outcome domain.SendOutcome) (int64, error)
	GetByID(ctx context.Context, id int64) (domain.OutboundMessage, error)
	ListByAddress(ctx context.Context, addr string) ([]domain.OutboundMessage, error)
}

// AckLedger exposes the read paths of the acknowledgment history.
type AckLedger interface {
	LatestForTransportID(ctx context.Context, transportID string) (domain.AckEvent, error)
	AllForOutboundMessageID(ctx context.Context, id int64) ([]domain.AckEvent, error)
	AllForTransportID(ctx context.Context, transportID string) ([]domain.AckEvent, error)
}

// AckTx is the set of reads and writes one ack event needs. Every call made through
// a single AckTx commits or rolls back together.
type AckTx interface {
	LatestForTransportID(ctx context.Context, transportID string) (domain.AckEvent, error)
	// HighestLevelForTransportID reports the highest level recorded for transportID;
	// ok is false when nothing is recorded yet.
	HighestLevelForTransportID(ctx context.Context, transportID string) (level domain.AckLevel, ok bool, err error)
	OutboundByTransportID(ctx context.Context, transportID string) (domain.OutboundMessage, error)
	// LatestUnboundByAddress returns the newest outbound row stored under any of the
	// given address forms that has no transport id yet.
	LatestUnboundByAddress(ctx context.Context, variants []string) (domain.OutboundMessage, error)
	// BindTransportID assigns transportID and status to a row that has no transport id.
	// It reports false when another writer bound the row first.
	BindTransportID(ctx context.Context, id int64, transportID string, status domain.LifecycleStatus) (bool, error)
	Append(ctx context.Context, ev domain.AckEvent) (int64, error)
	SetLifecycleStatus(ctx context.Context, id int64, status domain.LifecycleStatus) error
}

// AckUnitOfWork runs fn with exclusive access to the ledger entries of transportID.
type AckUnitOfWork interface {
	WithinAckTx(ctx context.Context, transportID string, fn func(tx AckTx) error) error
}

type InboundStore interface {
	InsertInbound(ctx context.Context, m domain.InboundMessage) (int64, error)
	ListInboundByAddress(ctx context.Context, addr string) ([]domain.InboundMessage, error)
	MarkReadByAddress(ctx context.Context, addr string) (int64, error)
}
