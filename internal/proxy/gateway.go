// Gateway wiring - construction, routing, lifecycle.
//
// DESIGN: The Gateway owns every mutable collaborator (buffer, limiter,
// metrics, feed) and receives the rest constructed by the entry point. No
// package-level singletons; everything flows through the struct.
package proxy

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trailguard/agent-gateway/internal/alerts"
	"github.com/trailguard/agent-gateway/internal/config"
	"github.com/trailguard/agent-gateway/internal/loopdetect"
	"github.com/trailguard/agent-gateway/internal/monitoring"
	"github.com/trailguard/agent-gateway/internal/providers"
	"github.com/trailguard/agent-gateway/internal/security"
)

// Gateway is the HTTP-facing orchestrator for proxied LLM traffic.
type Gateway struct {
	config   *config.Config
	filter   *security.Filter
	detector *loopdetect.Detector
	notifier *alerts.Notifier
	signer   *providers.BedrockSigner
	tracker  *monitoring.Tracker

	buffer  *EventBuffer
	limiter *RateLimiter
	metrics *monitoring.Metrics
	feed    *Feed
	client  *http.Client

	startTime time.Time
	server    *http.Server
}

// NewGateway assembles the gateway from its collaborators.
func NewGateway(cfg *config.Config, filter *security.Filter, detector *loopdetect.Detector,
	notifier *alerts.Notifier, signer *providers.BedrockSigner, tracker *monitoring.Tracker) *Gateway {

	limits := make(map[string]config.RateLimitConfig)
	for name, pc := range cfg.Providers {
		if pc.RateLimit != nil {
			limits[name] = *pc.RateLimit
		}
	}

	g := &Gateway{
		config:    cfg,
		filter:    filter,
		detector:  detector,
		notifier:  notifier,
		signer:    signer,
		tracker:   tracker,
		buffer:    NewEventBuffer(cfg.Ingest.Endpoint, cfg.Ingest.FlushInterval, cfg.Ingest.MaxBufferSize),
		limiter:   NewRateLimiter(limits),
		metrics:   monitoring.NewMetrics(),
		feed:      NewFeed(),
		client:    &http.Client{}, // no client timeout: streams run for minutes
		startTime: time.Now(),
	}
	return g
}

// Buffer exposes the event buffer for lifecycle control and tests.
func (g *Gateway) Buffer() *EventBuffer {
	return g.buffer
}

// Routes builds the HTTP handler: the three service endpoints plus the
// catch-all proxy.
func (g *Gateway) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.Handle("/metrics", g.metrics.Handler())
	mux.Handle("/events/ws", g.feed)
	mux.HandleFunc("/", g.handleProxy)
	return mux
}

// Run starts the HTTP server and blocks until it stops.
func (g *Gateway) Run() error {
	addr := fmt.Sprintf(":%d", g.config.Server.Port)
	g.server = &http.Server{
		Addr:         addr,
		Handler:      g.Routes(),
		ReadTimeout:  g.config.Server.ReadTimeout,
		WriteTimeout: g.config.Server.WriteTimeout,
	}

	log.Info().
		Str("addr", addr).
		Str("agent_id", g.config.AgentID).
		Msg("gateway: listening")

	if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// Shutdown drains the server and flushes telemetry. Idempotent.
func (g *Gateway) Shutdown(ctx context.Context) {
	if g.server != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("gateway: server shutdown")
		}
	}
	g.feed.Close()
	g.detector.Stop()
	g.buffer.Shutdown(ctx)
	if err := g.tracker.Close(); err != nil {
		log.Warn().Err(err).Msg("gateway: tracker close")
	}
	log.Info().Msg("gateway: stopped")
}
