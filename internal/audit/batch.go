// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
)

const (
	defaultBatchSize   = 100
	defaultFlushPeriod = time.Second
	batchWriteTimeout  = 5 * time.Second
)

// ErrQueueFull is returned by WriteAsync when the batch queue is full.
var ErrQueueFull = oops.Code("AUDIT_QUEUE_FULL").Errorf("audit batch queue full")

// batcher collects async entries and flushes them through write when the
// batch fills or the flush period elapses.
type batcher struct {
	entries     chan Entry
	stop        chan struct{}
	wg          sync.WaitGroup
	stopOnce    sync.Once
	batchSize   int
	flushPeriod time.Duration
	write       func(ctx context.Context, batch []Entry) error
}

func newBatcher(write func(ctx context.Context, batch []Entry) error, size int, period time.Duration) *batcher {
	b := &batcher{
		entries:     make(chan Entry, asyncQueueSize),
		stop:        make(chan struct{}),
		batchSize:   size,
		flushPeriod: period,
		write:       write,
	}
	b.wg.Add(1)
	go b.run()
	return b
}

func (b *batcher) enqueue(entry Entry) error {
	select {
	case b.entries <- entry:
		return nil
	default:
		return ErrQueueFull
	}
}

func (b *batcher) run() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.flushPeriod)
	defer ticker.Stop()

	var batch []Entry
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), batchWriteTimeout)
		defer cancel()

		if err := b.write(ctx, batch); err != nil {
			slog.Error("failed to write audit batch", "error", err, "count", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-b.entries:
			batch = append(batch, entry)
			if len(batch) >= b.batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-b.stop:
			for {
				select {
				case entry := <-b.entries:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// close flushes pending entries and stops the consumer.
func (b *batcher) close() {
	b.stopOnce.Do(func() { close(b.stop) })
	b.wg.Wait()
}
