// Webhook delivery under circuit-breaker supervision.
//
// DESIGN: If the circuit denies the destination the delivery is skipped
// outright — no network call, no queueing. Otherwise up to four attempts are
// made with a fixed 1s/4s/16s backoff schedule; every attempt outcome feeds
// the breaker. Exhausting the schedule is terminal for that delivery.
package alerts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// retrySchedule is the wait before each retry (4 attempts total).
var retrySchedule = []time.Duration{time.Second, 4 * time.Second, 16 * time.Second}

// ErrCircuitOpen is returned when the breaker denied the destination.
var ErrCircuitOpen = fmt.Errorf("circuit open, delivery skipped")

// Deliverer posts JSON payloads to webhook destinations.
type Deliverer struct {
	breaker *Breaker
	client  *http.Client
	sleep   func(ctx context.Context, d time.Duration) error // injectable for tests
}

// NewDeliverer wires a breaker-guarded webhook sender.
func NewDeliverer(breaker *Breaker, client *http.Client) *Deliverer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Deliverer{
		breaker: breaker,
		client:  client,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Deliver posts payload to url with bounded retries. Returns nil on the
// first 2xx; ErrCircuitOpen when skipped; the last attempt error otherwise.
func (d *Deliverer) Deliver(ctx context.Context, url string, payload []byte) error {
	if !d.breaker.IsAllowed(url) {
		log.Debug().Str("url", url).Msg("alerts: delivery skipped, circuit open")
		return ErrCircuitOpen
	}

	var lastErr error
	for attempt := 0; attempt <= len(retrySchedule); attempt++ {
		if attempt > 0 {
			if err := d.sleep(ctx, retrySchedule[attempt-1]); err != nil {
				return err
			}
		}

		err := d.post(ctx, url, payload)
		if err == nil {
			d.breaker.RecordSuccess(url)
			return nil
		}
		lastErr = err
		d.breaker.RecordFailure(url)
		log.Warn().
			Err(err).
			Str("url", url).
			Int("attempt", attempt+1).
			Msg("alerts: delivery attempt failed")
	}

	return fmt.Errorf("delivery to %s failed after %d attempts: %w", url, len(retrySchedule)+1, lastErr)
}

func (d *Deliverer) post(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	// Drain so the connection is reusable.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
