package sqsqueue

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/cespare/xxhash/v2"
)

type AckConsumer struct {
	SQS      API
	QueueURL string

	WaitTimeSeconds   int32
	MaxMessages       int32
	VisibilityTimeout int32
}

type AckHandler func(ctx context.Context, job AckJob) error

type received struct {
	msg types.Message
	job AckJob
}

// PollConcurrent processes acks with a worker pool. Jobs for one transport id always
// land on the same worker, so they run in queue order. Messages are deleted only
// after the handler succeeds; failures are left for SQS to redeliver.
func (c *AckConsumer) PollConcurrent(ctx context.Context, workers int, handler AckHandler) error {
	if workers <= 0 {
		workers = 1
	}

	queues := make([]chan received, workers)
	for i := range queues {
		queues[i] = make(chan received, 4)
	}
	errCh := make(chan error, 1)

	sendErr := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(in <-chan received) {
			defer wg.Done()
			for r := range in {
				if err := handler(ctx, r.job); err != nil {
					slog.Error("sqs ack handler error", "err", err, "transport_id", r.job.TransportMessageID, "ack", r.job.AckLevel)
					continue
				}
				c.delete(ctx, r.msg)
			}
		}(queues[i])
	}

	go func() {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()

		for {
			if ctx.Err() != nil {
				sendErr(ctx.Err())
				return
			}

			out, err := c.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
				QueueUrl:            &c.QueueURL,
				MaxNumberOfMessages: c.MaxMessages,
				WaitTimeSeconds:     c.WaitTimeSeconds,
				VisibilityTimeout:   c.VisibilityTimeout,
			})
			if err != nil {
				if ctx.Err() != nil {
					sendErr(ctx.Err())
					return
				}
				slog.Error("sqs receive ack message failed", "err", err)
				time.Sleep(500 * time.Millisecond)
				continue
			}

			for _, m := range out.Messages {
				job, ok := decode(m)
				if !ok {
					// poison message; redelivery would never succeed
					c.delete(ctx, m)
					continue
				}
				shard := int(xxhash.Sum64String(strings.TrimSpace(job.TransportMessageID)) % uint64(workers))
				select {
				case queues[shard] <- received{msg: m, job: job}:
				case <-ctx.Done():
					sendErr(ctx.Err())
					return
				}
			}
		}
	}()

	err := <-errCh
	wg.Wait()
	return err
}

func decode(m types.Message) (AckJob, bool) {
	if m.Body == nil {
		return AckJob{}, false
	}
	var job AckJob
	if err := json.Unmarshal([]byte(*m.Body), &job); err != nil || job.TransportMessageID == "" {
		return AckJob{}, false
	}
	return job, true
}

func (c *AckConsumer) delete(ctx context.Context, m types.Message) {
	if _, err := c.SQS.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.QueueURL,
		ReceiptHandle: m.ReceiptHandle,
	}); err != nil {
		slog.Warn("sqs delete ack message failed", "err", err)
	}
}
