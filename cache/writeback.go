package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelio/hdf5chunk/coord"
)

// DefaultFlushInterval is how often the background writer sweeps for dirty
// chunks when none was given to Start (spec §4.G periodic flush).
const DefaultFlushInterval = 2 * time.Second

// writer drives the cache's write-back policy (spec component G): a
// background goroutine that periodically pushes dirty chunks to the
// store, plus synchronous flush helpers used by WriteThrough and Close.
type writer struct {
	cache *Cache
	log   *zap.SugaredLogger

	mu       sync.Mutex
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func newWriter(c *Cache, log *zap.SugaredLogger) *writer {
	return &writer{cache: c, log: log, interval: DefaultFlushInterval}
}

// Start launches the periodic flush loop. Calling Start twice without an
// intervening Stop is a no-op on the second call.
func (c *Cache) Start(interval time.Duration) {
	w := c.writer
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	w.interval = interval

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(ctx)
}

func (w *writer) run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.cache.FlushAll(); err != nil {
				w.log.Warnw("periodic flush failed", "error", err)
			}
		}
	}
}

// Stop halts the background writer, if running, and drains every dirty
// entry to the store before returning (spec §4.G: closing the cache
// implicitly calls stop() and guarantees no buffered write is lost).
func (c *Cache) Stop() error {
	w := c.writer
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return c.FlushAll()
}

// flushOne writes a single chunk's current cached bytes to the store, if
// it is still dirty by the time the write lands.
func (c *Cache) flushOne(key coord.Key) error {
	k := key.String()
	e, ok := c.peek(k)
	if !ok || !e.dirty || e.loading != nil {
		return nil
	}
	data := append([]byte(nil), e.data...)
	if err := c.store.WriteChunk(key, data); err != nil {
		return fmt.Errorf("flushing chunk %s: %w", key, err)
	}
	c.markClean(k, data)
	c.metrics.RecordFlush()
	return nil
}

// FlushAll writes back every dirty entry currently in the cache. It is
// called by Stop, by the periodic writer, and can be invoked directly to
// force a checkpoint. Every dirty entry is attempted even if an earlier one
// fails; failures are logged and the first error encountered is returned.
func (c *Cache) FlushAll() error {
	var firstErr error
	for _, k := range c.dirtyKeys() {
		key := coord.ParseKey(k)
		if err := c.flushOne(key); err != nil {
			c.log.Warnw("flushing chunk failed", "key", k, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
