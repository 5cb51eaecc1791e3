// Buffered delivery of usage events to the ingestion collaborator.
//
// DESIGN: At-most-once. Flush swaps the slice out under the lock before the
// network call begins, so a failed POST never re-queues; events are dropped
// rather than retried. The buffer auto-flushes when full and on a timer, and
// Shutdown performs one final synchronous flush.
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trailguard/agent-gateway/internal/config"
	"github.com/trailguard/agent-gateway/internal/utils"
)

// EventBuffer accumulates usage events and flushes them in batches.
type EventBuffer struct {
	endpoint string
	maxSize  int
	client   *http.Client

	mu     sync.Mutex
	events []UsageEvent

	ticker   *time.Ticker
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewEventBuffer creates the buffer and starts its flush timer. An empty
// endpoint disables delivery; events are still accepted and silently dropped
// on flush so the proxy path never branches on configuration.
func NewEventBuffer(endpoint string, flushInterval time.Duration, maxSize int) *EventBuffer {
	if flushInterval <= 0 {
		flushInterval = config.DefaultFlushInterval
	}
	if maxSize <= 0 {
		maxSize = config.DefaultMaxBufferSize
	}
	b := &EventBuffer{
		endpoint: endpoint,
		maxSize:  maxSize,
		client:   &http.Client{Timeout: config.DefaultIngestTimeout},
		ticker:   time.NewTicker(flushInterval),
		stop:     make(chan struct{}),
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-b.ticker.C:
				b.Flush(context.Background())
			case <-b.stop:
				return
			}
		}
	}()
	return b
}

// Add appends one event, flushing early when the buffer is full.
func (b *EventBuffer) Add(event UsageEvent) {
	b.mu.Lock()
	b.events = append(b.events, event)
	full := len(b.events) >= b.maxSize
	b.mu.Unlock()

	if full {
		b.Flush(context.Background())
	}
}

// Len reports the number of buffered events.
func (b *EventBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Flush sends every buffered event in one POST. The buffer is emptied before
// the request is made; a failed delivery loses the batch by design.
func (b *EventBuffer) Flush(ctx context.Context) {
	b.mu.Lock()
	batch := b.events
	b.events = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if b.endpoint == "" {
		log.Debug().Int("events", len(batch)).Msg("buffer: no ingestion endpoint, dropping batch")
		return
	}

	if err := b.post(ctx, batch); err != nil {
		log.Warn().Err(err).Int("events", len(batch)).Msg("buffer: flush failed, events dropped")
		return
	}
	log.Debug().Int("events", len(batch)).Msg("buffer: flushed")
}

func (b *EventBuffer) post(ctx context.Context, batch []UsageEvent) error {
	payload, err := utils.MarshalNoEscape(map[string]any{"events": batch})
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("post events: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ingestion returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Shutdown stops the timer and performs one final synchronous flush.
// Idempotent; later calls return immediately.
func (b *EventBuffer) Shutdown(ctx context.Context) {
	b.stopOnce.Do(func() {
		b.ticker.Stop()
		close(b.stop)
		b.wg.Wait()
		b.Flush(ctx)
	})
}
