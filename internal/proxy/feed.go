// Live usage-event feed over websocket.
//
// Dashboards subscribe to GET /events/ws and receive every UsageEvent as it
// is emitted, independent of the batched ingestion path. Slow subscribers
// drop events rather than backpressuring the request path.
package proxy

import (
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/trailguard/agent-gateway/internal/utils"
)

const subscriberQueue = 64

// Feed fans usage events out to connected websocket subscribers.
type Feed struct {
	mu     sync.Mutex
	subs   map[chan []byte]struct{}
	closed bool
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[chan []byte]struct{})}
}

// Publish broadcasts one event to every subscriber. Never blocks: a
// subscriber whose queue is full loses the event.
func (f *Feed) Publish(event UsageEvent) {
	f.mu.Lock()
	if f.closed || len(f.subs) == 0 {
		f.mu.Unlock()
		return
	}
	payload, err := utils.MarshalNoEscape(event)
	if err != nil {
		f.mu.Unlock()
		log.Error().Err(err).Msg("feed: marshal failed")
		return
	}
	for ch := range f.subs {
		select {
		case ch <- payload:
		default:
		}
	}
	f.mu.Unlock()
}

func (f *Feed) subscribe() (chan []byte, func()) {
	ch := make(chan []byte, subscriberQueue)
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	return ch, func() {
		f.mu.Lock()
		delete(f.subs, ch)
		f.mu.Unlock()
	}
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("feed: websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ch, cancel := f.subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				log.Debug().Err(err).Msg("feed: subscriber write failed")
				return
			}
		}
	}
}

// Close detaches every subscriber. Subsequent publishes are no-ops.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for ch := range f.subs {
		close(ch)
		delete(f.subs, ch)
	}
}
