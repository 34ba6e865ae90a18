// Package reconciler matches transport acknowledgments to outbound messages and moves
// their delivery status forward.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/moby/locker"

	"wagate/internal/address"
	"wagate/internal/domain"
	"wagate/internal/observability"
	"wagate/internal/store"
)

// Notifier receives every status change the reconciler commits.
type Notifier interface {
	Notify(ctx context.Context, outboundID int64, transportID string, status domain.LifecycleStatus, level domain.AckLevel)
}

// Result describes what ProcessAck did with one event. An uncorrelated event is a
// normal outcome, not an error.
type Result struct {
	Discarded         bool
	EventID           int64
	OutboundMessageID int64
	Correlated        bool
	// Blocked is set when a later level was already recorded for the transport id.
	Blocked    bool
	Propagated bool
	Status     domain.LifecycleStatus
}

type Reconciler struct {
	Store    store.AckUnitOfWork
	Notifier Notifier
	Log      *slog.Logger

	locks *locker.Locker
}

func New(st store.AckUnitOfWork, n Notifier, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{Store: st, Notifier: n, Log: log, locks: locker.New()}
}

// ProcessAck records ev in the ledger and, when it can be matched to an outbound
// message without moving that message's status backwards, propagates the new status.
//
// Events for the same transport id are serialized. A storage failure leaves nothing
// committed and is returned as *domain.StorageError so the caller can redeliver.
func (r *Reconciler) ProcessAck(ctx context.Context, ev domain.AckEvent) (Result, error) {
	start := time.Now()
	defer func() { observability.ReconcileLatency.Observe(time.Since(start).Seconds()) }()

	tid := strings.TrimSpace(ev.TransportMessageID)
	if tid == "" {
		return Result{}, &domain.ValidationError{Field: "transportMessageId", Msg: "required"}
	}
	if !ev.AckLevel.Valid() {
		observability.Acks.WithLabelValues("discarded").Inc()
		r.Log.InfoContext(ctx, "ack discarded: level out of range", "transport_id", tid, "level", int(ev.AckLevel))
		return Result{Discarded: true}, nil
	}

	in := domain.AckEvent{
		TransportMessageID: tid,
		AckLevel:           ev.AckLevel,
		AckLevelText:       ev.AckLevel.Text(),
		SourceAddress:      ev.SourceAddress,
		EventTimestamp:     ev.EventTimestamp,
	}

	r.locks.Lock(tid)
	defer func() { _ = r.locks.Unlock(tid) }()

	var res Result
	err := r.Store.WithinAckTx(ctx, tid, func(tx store.AckTx) error {
		var err error
		res, err = reconcile(ctx, tx, in)
		return err
	})
	if err != nil {
		observability.Acks.WithLabelValues("error").Inc()
		r.Log.ErrorContext(ctx, "ack not processed", "transport_id", tid, "level", int(in.AckLevel), "err", err)
		return Result{}, domain.Storage("process ack", err)
	}

	switch {
	case !res.Correlated:
		observability.Acks.WithLabelValues("uncorrelated").Inc()
		r.Log.InfoContext(ctx, "ack stored uncorrelated", "transport_id", tid, "level", int(in.AckLevel), "event_id", res.EventID)
	case !res.Propagated:
		observability.Acks.WithLabelValues("blocked").Inc()
		r.Log.InfoContext(ctx, "ack stored without status change",
			"transport_id", tid, "level", int(in.AckLevel), "outbound_id", res.OutboundMessageID)
	default:
		observability.Acks.WithLabelValues("propagated").Inc()
		r.Log.DebugContext(ctx, "ack propagated",
			"transport_id", tid, "outbound_id", res.OutboundMessageID, "status", res.Status)
		if r.Notifier != nil {
			r.Notifier.Notify(ctx, res.OutboundMessageID, tid, res.Status, notifyLevel(res.Status, in.AckLevel))
		}
	}
	return res, nil
}

func reconcile(ctx context.Context, tx store.AckTx, in domain.AckEvent) (Result, error) {
	prior, err := tx.LatestForTransportID(ctx, in.TransportMessageID)
	hasPrior := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Result{}, err
	}

	// Comparing against the highest recorded level rather than only the latest one
	// keeps a late low ack from reopening the guard for a mid-level ack after it.
	ceiling, seen, err := tx.HighestLevelForTransportID(ctx, in.TransportMessageID)
	if err != nil {
		return Result{}, err
	}
	blocked := (hasPrior && prior.AckLevel > in.AckLevel) || (seen && ceiling > in.AckLevel)

	var (
		outboundID int64
		bound      bool
		status     = in.AckLevelText
	)
	// The row holding the transport id wins over an earlier correlation: a recorded send
	// takes the id back from a row the address fallback bound too early.
	m, err := tx.OutboundByTransportID(ctx, in.TransportMessageID)
	switch {
	case err == nil:
		outboundID = m.ID
	case !errors.Is(err, store.ErrNotFound):
		return Result{}, err
	case hasPrior && prior.CorrelatedOutboundMessageID != nil:
		outboundID = *prior.CorrelatedOutboundMessageID
	case in.SourceAddress != nil && in.AckLevelText.Rank() > domain.StatusServerAck.Rank():
		// Server acks come from our own send, which records its row right after.
		if blocked {
			status = ceiling.Text()
		}
		outboundID, bound, err = bindByAddress(ctx, tx, in, status)
		if err != nil {
			return Result{}, err
		}
	}

	if outboundID != 0 {
		in.CorrelatedOutboundMessageID = &outboundID
	}
	eventID, err := tx.Append(ctx, in)
	if err != nil {
		return Result{}, err
	}

	res := Result{EventID: eventID, OutboundMessageID: outboundID, Correlated: outboundID != 0, Blocked: blocked}
	switch {
	case !res.Correlated:
	case bound:
		res.Propagated, res.Status = true, status
	case !blocked:
		if err := tx.SetLifecycleStatus(ctx, outboundID, in.AckLevelText); err != nil {
			return Result{}, err
		}
		res.Propagated, res.Status = true, in.AckLevelText
	}
	return res, nil
}

// bindByAddress adopts the newest outbound row to the same address that never got a
// transport id. The row's status is set in the same statement so it never carries a
// transport id while still marked ERROR.
func bindByAddress(ctx context.Context, tx store.AckTx, in domain.AckEvent, status domain.LifecycleStatus) (int64, bool, error) {
	cand, err := tx.LatestUnboundByAddress(ctx, address.Variants(*in.SourceAddress))
	if errors.Is(err, store.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	ok, err := tx.BindTransportID(ctx, cand.ID, in.TransportMessageID, status)
	if err != nil || !ok {
		return 0, false, err
	}
	return cand.ID, true, nil
}

// notifyLevel reports the level behind status. It differs from the incoming level
// only when a bind adopted a higher level recorded earlier.
func notifyLevel(status domain.LifecycleStatus, incoming domain.AckLevel) domain.AckLevel {
	if incoming.Text() == status {
		return incoming
	}
	return domain.AckLevel(status.Rank())
}
