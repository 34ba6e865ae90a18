package domain

import (
	"strings"
	"time"
)

// LifecycleStatus is the denormalized delivery state of an outbound message.
type LifecycleStatus string

const (
	StatusError       LifecycleStatus = "ERROR"
	StatusPending     LifecycleStatus = "PENDING"
	StatusServerAck   LifecycleStatus = "SERVER_ACK"
	StatusDeliveryAck LifecycleStatus = "DELIVERY_ACK"
	StatusRead        LifecycleStatus = "READ"
)

// Rank orders statuses for the monotonic guard. ERROR sits below every ack state.
func (s LifecycleStatus) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusServerAck:
		return 1
	case StatusDeliveryAck:
		return 2
	case StatusRead:
		return 4
	default:
		return -1
	}
}

// AckLevel is the transport's numeric acknowledgment level.
type AckLevel int

const (
	MinAckLevel AckLevel = 0
	MaxAckLevel AckLevel = 4
)

// Fixed lookup: 2 and 3 both mean delivered, only 4 means read.
var ackLevelText = [...]LifecycleStatus{
	0: StatusPending,
	1: StatusServerAck,
	2: StatusDeliveryAck,
	3: StatusDeliveryAck,
	4: StatusRead,
}

func (l AckLevel) Valid() bool { return l >= MinAckLevel && l <= MaxAckLevel }

// Text maps a valid level to its status. Callers must check Valid first.
func (l AckLevel) Text() LifecycleStatus {
	if !l.Valid() {
		return ""
	}
	return ackLevelText[l]
}

type OutboundMessage struct {
	ID                 int64           `json:"id"`
	OwnerUserID        *int64          `json:"userId,omitempty"`
	DestinationAddress string          `json:"numeroDestino"`
	BodyText           string          `json:"mensaje"`
	LifecycleStatus    LifecycleStatus `json:"status"`
	ErrorDetail        *string         `json:"errorMessage,omitempty"`
	TransportMessageID *string         `json:"transportMessageId,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
}

type AckEvent struct {
	ID                          int64           `json:"id"`
	TransportMessageID          string          `json:"messageId"`
	CorrelatedOutboundMessageID *int64          `json:"sentMessageId"`
	AckLevel                    AckLevel        `json:"ackStatus"`
	AckLevelText                LifecycleStatus `json:"ackStatusText"`
	SourceAddress               *string         `json:"fromNumber"`
	EventTimestamp              *int64          `json:"timestamp"`
	RecordedAt                  time.Time       `json:"createdAt"`
}

// InboundMessage is a message received from a contact.
type InboundMessage struct {
	ID                 int64     `json:"id"`
	TransportMessageID string    `json:"messageId"`
	FromAddress        string    `json:"fromNumber"`
	Body               string    `json:"body"`
	Timestamp          int64     `json:"timestamp"`
	Payload            []byte    `json:"-"`
	IsRead             bool      `json:"isRead"`
	CreatedAt          time.Time `json:"createdAt"`
}

// SendOutcome is the result of one transport send attempt.
type SendOutcome struct {
	transportID string
	errorDetail string
	ok          bool
}

func Success(transportMessageID string) SendOutcome {
	return SendOutcome{transportID: transportMessageID, ok: true}
}

func Failure(errorDetail string) SendOutcome {
	return SendOutcome{errorDetail: errorDetail}
}

func (o SendOutcome) Succeeded() bool            { return o.ok }
func (o SendOutcome) TransportMessageID() string { return o.transportID }
func (o SendOutcome) ErrorDetail() string        { return o.errorDetail }

type SendRequest struct {
	NumeroDestino string `json:"numeroDestino"`
	Mensaje       string `json:"mensaje"`
	UserID        *int64 `json:"userId"`
}

func (r SendRequest) Validate() error {
	if strings.TrimSpace(r.NumeroDestino) == "" || r.Mensaje == "" {
		return &ValidationError{Field: "numeroDestino,mensaje", Msg: "destination and message are required"}
	}
	if r.UserID == nil || *r.UserID == 0 {
		return &ValidationError{Field: "userId", Msg: "userId is required"}
	}
	return nil
}

type SendResponse struct {
	Message            string          `json:"message"`
	ID                 int64           `json:"id"`
	TransportMessageID string          `json:"transportMessageId"`
	Status             LifecycleStatus `json:"status"`
}
