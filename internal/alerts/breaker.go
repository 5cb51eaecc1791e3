// Package alerts - circuit-breaker-guarded outbound notification delivery.
//
// DESIGN: One failure/backoff state machine per destination URL:
//
//	closed --(failures >= threshold)--> open
//	open   --(cooldown elapsed, next IsAllowed)--> half_open (one probe)
//	half_open --success--> closed   half_open --failure--> open (tripCount++)
//
// Cooldown grows exponentially with the trip count and is capped. State is
// process-lifetime only; nothing is persisted.
package alerts

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// CircuitState is the lifecycle position of one destination's circuit.
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half_open"
)

// BreakerConfig tunes the state machine.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	BaseCooldown     time.Duration // first-trip cooldown
	MaxCooldown      time.Duration // cap for exponential growth
}

// DefaultBreakerConfig mirrors the usual webhook-guard settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		BaseCooldown:     30 * time.Second,
		MaxCooldown:      30 * time.Minute,
	}
}

// circuit is the per-URL state.
type circuit struct {
	state               CircuitState
	consecutiveFailures int
	tripCount           int
	cooldown            time.Duration
	openedAt            time.Time
}

// Breaker guards all destinations behind one mutex.
type Breaker struct {
	mu       sync.Mutex
	config   BreakerConfig
	circuits map[string]*circuit
	now      func() time.Time // injectable for tests
}

// NewBreaker creates a breaker with the given config.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.BaseCooldown <= 0 {
		config.BaseCooldown = 30 * time.Second
	}
	if config.MaxCooldown <= 0 {
		config.MaxCooldown = 30 * time.Minute
	}
	return &Breaker{
		config:   config,
		circuits: make(map[string]*circuit),
		now:      time.Now,
	}
}

func (b *Breaker) circuitLocked(url string) *circuit {
	c, ok := b.circuits[url]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[url] = c
	}
	return c
}

// IsAllowed reports whether a delivery to the URL may proceed. When an open
// circuit's cooldown has elapsed, this call transitions it to half_open and
// permits exactly one probe.
func (b *Breaker) IsAllowed(url string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitLocked(url)
	switch c.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if b.now().Sub(c.openedAt) >= c.cooldown {
			c.state = StateHalfOpen
			log.Debug().Str("url", url).Msg("circuit: half-open, probing")
			return true
		}
		return false
	}
	return false
}

// RecordSuccess resets the failure counter; a half-open success closes the
// circuit and clears the trip count.
func (b *Breaker) RecordSuccess(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitLocked(url)
	if c.state == StateHalfOpen {
		log.Info().Str("url", url).Msg("circuit: probe succeeded, closing")
	}
	c.state = StateClosed
	c.consecutiveFailures = 0
	c.tripCount = 0
	c.cooldown = 0
}

// RecordFailure increments the failure counter and opens the circuit when
// the threshold is reached. A half-open failure reopens immediately. Failures
// recorded while already open are counted but never re-trip: one open
// transition per trip, so the cooldown stays base*2^(tripCount-1) and the
// cooldown clock is not pushed forward by pile-on failures.
func (b *Breaker) RecordFailure(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitLocked(url)
	c.consecutiveFailures++

	switch c.state {
	case StateHalfOpen:
		b.tripLocked(url, c)
	case StateClosed:
		if c.consecutiveFailures >= b.config.FailureThreshold {
			b.tripLocked(url, c)
		}
	}
}

// tripLocked opens the circuit and recomputes the cooldown:
// base * 2^(tripCount-1), capped.
func (b *Breaker) tripLocked(url string, c *circuit) {
	c.tripCount++
	cooldown := b.config.BaseCooldown
	for i := 1; i < c.tripCount; i++ {
		cooldown *= 2
		if cooldown >= b.config.MaxCooldown {
			cooldown = b.config.MaxCooldown
			break
		}
	}
	c.cooldown = cooldown
	c.state = StateOpen
	c.openedAt = b.now()
	log.Warn().
		Str("url", url).
		Int("trip_count", c.tripCount).
		Dur("cooldown", cooldown).
		Msg("circuit: opened")
}

// ResetCircuit forces a destination back to closed with all counters zeroed.
func (b *Breaker) ResetCircuit(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.circuits[url] = &circuit{state: StateClosed}
}

// Snapshot describes one circuit for diagnostics.
type Snapshot struct {
	State               CircuitState  `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	TripCount           int           `json:"trip_count"`
	Cooldown            time.Duration `json:"cooldown_ms"`
}

// State returns a snapshot of the circuit for a URL.
func (b *Breaker) State(url string) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuitLocked(url)
	return Snapshot{
		State:               c.state,
		ConsecutiveFailures: c.consecutiveFailures,
		TripCount:           c.tripCount,
		Cooldown:            c.cooldown,
	}
}
