package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"wagate/internal/address"
	"wagate/internal/domain"
	"wagate/internal/notify"
	"wagate/internal/store"
	"wagate/internal/transport"
)

type Store interface {
	store.OutboundStore
	store.AckLedger
	store.InboundStore
}

type Sender interface {
	Send(ctx context.Context, destination, body string) (string, error)
}

// Session reports whether the transport can take a send right now.
type Session interface {
	State() transport.State
	LatestQR() string
}

type MessagingService struct {
	Store       Store
	Sender      Sender
	Session     Session
	Broadcaster notify.Broadcaster
	Log         *slog.Logger
}

// NewMessage is the new_message broadcast payload for both directions.
type NewMessage struct {
	ID                 int64  `json:"id"`
	Numero             string `json:"numero"`
	NumeroCompleto     string `json:"numeroCompleto"`
	Body               string `json:"body"`
	Timestamp          int64  `json:"timestamp"`
	Type               string `json:"type"`
	Status             string `json:"status,omitempty"`
	DeliveryStatus     string `json:"delivery_status,omitempty"`
	DeliveryStatusCode *int   `json:"delivery_status_code,omitempty"`
	CreatedAt          string `json:"created_at"`
}

// Send makes one transport attempt and records it. Every attempt that passes
// validation leaves exactly one outbound row behind.
func (s *MessagingService) Send(ctx context.Context, req domain.SendRequest) (domain.SendResponse, error) {
	if err := req.Validate(); err != nil {
		return domain.SendResponse{}, err
	}

	if st := s.Session.State(); st != transport.StateConnected {
		nr := &domain.NotReadyError{State: string(st), HasQR: s.Session.LatestQR() != ""}
		if _, err := s.Store.RecordSend(ctx, req.UserID, req.NumeroDestino, req.Mensaje, domain.Failure(nr.Error())); err != nil {
			s.log().ErrorContext(ctx, "record failed send", "err", err)
		}
		return domain.SendResponse{}, nr
	}

	tid, sendErr := s.Sender.Send(ctx, req.NumeroDestino, req.Mensaje)
	if sendErr != nil {
		if _, err := s.Store.RecordSend(ctx, req.UserID, req.NumeroDestino, req.Mensaje, domain.Failure(sendErr.Error())); err != nil {
			s.log().ErrorContext(ctx, "record failed send", "err", err)
		}
		s.log().WarnContext(ctx, "transport send failed", "destination", req.NumeroDestino, "err", sendErr)
		if errors.Is(sendErr, domain.ErrNotReady) {
			return domain.SendResponse{}, sendErr
		}
		return domain.SendResponse{}, fmt.Errorf("send message: %w", sendErr)
	}

	id, err := s.Store.RecordSend(ctx, req.UserID, req.NumeroDestino, req.Mensaje, domain.Success(tid))
	if err != nil {
		// The message is out; acks for it will be stored uncorrelated.
		s.log().ErrorContext(ctx, "record sent message", "transport_id", tid, "err", err)
		return domain.SendResponse{}, domain.Storage("record send", err)
	}

	status := domain.StatusPending
	createdAt := time.Now().UTC()
	if row, err := s.Store.GetByID(ctx, id); err == nil {
		status = row.LifecycleStatus
		createdAt = row.CreatedAt
	}

	code := status.Rank()
	s.broadcast(ctx, NewMessage{
		ID:                 id,
		Numero:             address.Normalize(req.NumeroDestino),
		NumeroCompleto:     req.NumeroDestino,
		Body:               req.Mensaje,
		Timestamp:          createdAt.UnixMilli(),
		Type:               "sent",
		Status:             "SUCCESS",
		DeliveryStatus:     string(status),
		DeliveryStatusCode: &code,
		CreatedAt:          createdAt.Format(time.RFC3339),
	})

	s.log().InfoContext(ctx, "message sent", "outbound_id", id, "transport_id", tid, "status", status)
	return domain.SendResponse{
		Message:            "message sent",
		ID:                 id,
		TransportMessageID: tid,
		Status:             status,
	}, nil
}

// ConversationEntry is one line of the merged sent/received view.
type ConversationEntry struct {
	ID                 int64   `json:"id"`
	Type               string  `json:"type"`
	Numero             string  `json:"numero"`
	Body               string  `json:"body"`
	Timestamp          int64   `json:"timestamp"`
	Status             string  `json:"status,omitempty"`
	DeliveryStatus     string  `json:"delivery_status,omitempty"`
	DeliveryStatusCode *int    `json:"delivery_status_code,omitempty"`
	TransportMessageID *string `json:"messageId,omitempty"`
	ErrorMessage       *string `json:"errorMessage,omitempty"`
	IsRead             *bool   `json:"isRead,omitempty"`
}

// Conversation merges what we sent to numero with what it sent us, oldest first.
// Timestamps are milliseconds.
func (s *MessagingService) Conversation(ctx context.Context, numero string) ([]ConversationEntry, error) {
	if address.Normalize(numero) == "" {
		return nil, &domain.ValidationError{Field: "numero", Msg: "numero is required"}
	}
	sent, err := s.Store.ListByAddress(ctx, numero)
	if err != nil {
		return nil, domain.Storage("list outbound", err)
	}
	received, err := s.Store.ListInboundByAddress(ctx, numero)
	if err != nil {
		return nil, domain.Storage("list inbound", err)
	}

	out := make([]ConversationEntry, 0, len(sent)+len(received))
	for _, m := range sent {
		code := m.LifecycleStatus.Rank()
		status := "SUCCESS"
		if m.LifecycleStatus == domain.StatusError {
			status = "ERROR"
		}
		out = append(out, ConversationEntry{
			ID:                 m.ID,
			Type:               "sent",
			Numero:             address.Normalize(m.DestinationAddress),
			Body:               m.BodyText,
			Timestamp:          m.CreatedAt.UnixMilli(),
			Status:             status,
			DeliveryStatus:     string(m.LifecycleStatus),
			DeliveryStatusCode: &code,
			TransportMessageID: m.TransportMessageID,
			ErrorMessage:       m.ErrorDetail,
		})
	}
	for _, m := range received {
		read := m.IsRead
		tid := m.TransportMessageID
		out = append(out, ConversationEntry{
			ID:                 m.ID,
			Type:               "received",
			Numero:             address.Normalize(m.FromAddress),
			Body:               m.Body,
			Timestamp:          m.Timestamp * 1000,
			TransportMessageID: &tid,
			IsRead:             &read,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MessagingService) MarkRead(ctx context.Context, numero string) (int64, error) {
	if address.Normalize(numero) == "" {
		return 0, &domain.ValidationError{Field: "numero", Msg: "numero is required"}
	}
	n, err := s.Store.MarkReadByAddress(ctx, numero)
	if err != nil {
		return 0, domain.Storage("mark read", err)
	}
	return n, nil
}

type StatusView struct {
	SentMessageID   int64             `json:"sentMessageId"`
	Acks            []domain.AckEvent `json:"acks"`
	LatestStatus    string            `json:"latestStatus"`
	LatestAckStatus *int              `json:"latestAckStatus"`
	HasAcks         bool              `json:"hasAcks"`
}

// MessageStatus returns store.ErrNotFound for an unknown id. A known message with
// no acks yet is not an error.
func (s *MessagingService) MessageStatus(ctx context.Context, id int64) (StatusView, error) {
	row, err := s.Store.GetByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return StatusView{}, err
	}
	if err != nil {
		return StatusView{}, domain.Storage("get outbound", err)
	}
	acks, err := s.Store.AllForOutboundMessageID(ctx, id)
	if err != nil {
		return StatusView{}, domain.Storage("list acks", err)
	}
	view := StatusView{
		SentMessageID: id,
		Acks:          acks,
		LatestStatus:  string(row.LifecycleStatus),
		HasAcks:       len(acks) > 0,
	}
	if view.Acks == nil {
		view.Acks = []domain.AckEvent{}
	}
	if len(acks) > 0 {
		lvl := int(acks[0].AckLevel)
		view.LatestAckStatus = &lvl
	}
	return view, nil
}

func (s *MessagingService) AcksForTransportID(ctx context.Context, transportID string) ([]domain.AckEvent, error) {
	if transportID == "" {
		return nil, &domain.ValidationError{Field: "transportId", Msg: "transport id is required"}
	}
	acks, err := s.Store.AllForTransportID(ctx, transportID)
	if err != nil {
		return nil, domain.Storage("list acks", err)
	}
	return acks, nil
}

// HandleInbound stores a received message and announces it. Redelivered messages
// are stored once.
func (s *MessagingService) HandleInbound(ctx context.Context, m domain.InboundMessage) error {
	id, err := s.Store.InsertInbound(ctx, m)
	if err != nil {
		return domain.Storage("insert inbound", err)
	}
	ts := time.Unix(m.Timestamp, 0).UTC()
	s.broadcast(ctx, NewMessage{
		ID:             id,
		Numero:         address.Normalize(m.FromAddress),
		NumeroCompleto: m.FromAddress,
		Body:           m.Body,
		Timestamp:      ts.UnixMilli(),
		Type:           "received",
		CreatedAt:      ts.Format(time.RFC3339),
	})
	return nil
}

func (s *MessagingService) broadcast(ctx context.Context, msg NewMessage) {
	if s.Broadcaster == nil {
		return
	}
	if err := s.Broadcaster.Broadcast(ctx, notify.EventNewMessage, msg); err != nil {
		s.log().WarnContext(ctx, "new_message broadcast failed", "id", msg.ID, "type", msg.Type, "err", err)
	}
}

func (s *MessagingService) log() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}
