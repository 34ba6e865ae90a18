package whatsapp

import (
	"encoding/json"

	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"wagate/internal/domain"
)

// Levels reported for the receipts whatsmeow delivers. Played voice notes count as read.
const (
	levelServerAck domain.AckLevel = 1
	levelDelivered domain.AckLevel = 3
	levelRead      domain.AckLevel = 4
)

func receiptLevel(t types.ReceiptType) (domain.AckLevel, bool) {
	switch t {
	case types.ReceiptTypeDelivered:
		return levelDelivered, true
	case types.ReceiptTypeRead, types.ReceiptTypePlayed:
		return levelRead, true
	default:
		return 0, false
	}
}

// acksFromReceipt expands one receipt into an ack per message id it covers.
func acksFromReceipt(r *events.Receipt) []domain.AckEvent {
	level, ok := receiptLevel(r.Type)
	if !ok || r.IsFromMe {
		return nil
	}
	src := sourceAddress(r.Chat)
	ts := r.Timestamp.Unix()
	out := make([]domain.AckEvent, 0, len(r.MessageIDs))
	for _, id := range r.MessageIDs {
		source := src
		stamp := ts
		out = append(out, domain.AckEvent{
			TransportMessageID: id,
			AckLevel:           level,
			SourceAddress:      &source,
			EventTimestamp:     &stamp,
		})
	}
	return out
}

type inboundPayload struct {
	PushName string `json:"pushName,omitempty"`
	Sender   string `json:"sender"`
	IsGroup  bool   `json:"isGroup"`
}

// inboundFromMessage extracts a text message sent to us. Media and our own messages
// are skipped.
func inboundFromMessage(m *events.Message) (domain.InboundMessage, bool) {
	if m.Info.IsFromMe || m.Message == nil {
		return domain.InboundMessage{}, false
	}
	body := m.Message.GetConversation()
	if body == "" {
		body = m.Message.GetExtendedTextMessage().GetText()
	}
	if body == "" {
		return domain.InboundMessage{}, false
	}
	payload, _ := json.Marshal(inboundPayload{
		PushName: m.Info.PushName,
		Sender:   m.Info.Sender.ToNonAD().String(),
		IsGroup:  m.Info.IsGroup,
	})
	return domain.InboundMessage{
		TransportMessageID: m.Info.ID,
		FromAddress:        sourceAddress(m.Info.Chat),
		Body:               body,
		Timestamp:          m.Info.Timestamp.Unix(),
		Payload:            payload,
	}, true
}
