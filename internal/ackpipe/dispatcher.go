// Package ackpipe feeds transport ack events to the reconciler. Events are sharded by
// transport id so each id is handled by one worker in arrival order while different
// ids proceed in parallel.
package ackpipe

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"wagate/internal/domain"
	"wagate/internal/reconciler"
)

var ErrClosed = errors.New("ackpipe: dispatcher closed")

type Processor interface {
	ProcessAck(ctx context.Context, ev domain.AckEvent) (reconciler.Result, error)
}

type Dispatcher struct {
	proc Processor
	log  *slog.Logger

	mu     sync.RWMutex
	closed bool
	shards []chan domain.AckEvent
	wg     sync.WaitGroup
}

func New(proc Processor, workers, buffer int, log *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{proc: proc, log: log, shards: make([]chan domain.AckEvent, workers)}
	for i := range d.shards {
		d.shards[i] = make(chan domain.AckEvent, buffer)
	}
	return d
}

// Start launches one worker per shard. Workers exit once Stop has been called and
// their queue is drained.
func (d *Dispatcher) Start(ctx context.Context) {
	for i, ch := range d.shards {
		d.wg.Add(1)
		go func(shard int, ch <-chan domain.AckEvent) {
			defer d.wg.Done()
			for ev := range ch {
				d.handle(ctx, shard, ev)
			}
		}(i, ch)
	}
}

// Submit queues ev on its shard, blocking while that shard is full.
func (d *Dispatcher) Submit(ctx context.Context, ev domain.AckEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.shards[d.shardFor(ev.TransportMessageID)] <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects new events and waits for queued ones to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, ch := range d.shards {
			close(ch)
		}
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// shardFor hashes the id the reconciler keys on, so padded duplicates share a worker.
func (d *Dispatcher) shardFor(transportID string) int {
	return int(xxhash.Sum64String(strings.TrimSpace(transportID)) % uint64(len(d.shards)))
}

func (d *Dispatcher) handle(ctx context.Context, shard int, ev domain.AckEvent) {
	_, err := d.proc.ProcessAck(ctx, ev)
	if err == nil {
		return
	}
	// the in-process transport does not redeliver, so a failed event is only logged
	d.log.ErrorContext(ctx, "ack dropped after processing error",
		"shard", shard, "transport_id", ev.TransportMessageID, "level", int(ev.AckLevel), "err", err)
}
