package sqsqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"wagate/internal/domain"
)

// API is the subset of *sqs.Client the relay uses.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// AckJob is one transport ack on the relay queue.
type AckJob struct {
	TransportMessageID string    `json:"messageId"`
	AckLevel           int       `json:"ack"`
	SourceAddress      *string   `json:"from,omitempty"`
	EventTimestamp     *int64    `json:"timestamp,omitempty"`
	ReceivedAt         time.Time `json:"receivedAt"`
}

func (j AckJob) Event() domain.AckEvent {
	return domain.AckEvent{
		TransportMessageID: j.TransportMessageID,
		AckLevel:           domain.AckLevel(j.AckLevel),
		SourceAddress:      j.SourceAddress,
		EventTimestamp:     j.EventTimestamp,
	}
}

// AckProducer relays acks to a FIFO queue, one message group per transport id.
type AckProducer struct {
	SQS      API
	QueueURL string
}

func (p *AckProducer) Enqueue(ctx context.Context, ev domain.AckEvent) error {
	body, err := json.Marshal(AckJob{
		TransportMessageID: ev.TransportMessageID,
		AckLevel:           int(ev.AckLevel),
		SourceAddress:      ev.SourceAddress,
		EventTimestamp:     ev.EventTimestamp,
		ReceivedAt:         time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	// Each transport delivery is its own event, duplicates included.
	_, err = p.SQS.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:               &p.QueueURL,
		MessageBody:            str(string(body)),
		MessageGroupId:         str(ev.TransportMessageID),
		MessageDeduplicationId: str(uuid.NewString()),
	})
	return err
}

func str(s string) *string { return &s }
