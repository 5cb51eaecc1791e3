// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: Any default that appears in more than one place belongs here.
package config

import "time"

// =============================================================================
// SERVER
// =============================================================================

// DefaultPort is the gateway listen port.
const DefaultPort = 4000

// DefaultServerReadTimeout for the HTTP server.
const DefaultServerReadTimeout = 2 * time.Minute

// DefaultServerWriteTimeout must stay long enough for slow SSE streams.
const DefaultServerWriteTimeout = 10 * time.Minute

// MaxRequestBodySize is the maximum allowed request body (50MB).
const MaxRequestBodySize = 50 * 1024 * 1024

// DefaultBufferSize is the standard I/O buffer size for stream copies.
const DefaultBufferSize = 4096

// =============================================================================
// TELEMETRY BUFFER
// =============================================================================

// DefaultFlushInterval is how often the event buffer flushes on the timer.
const DefaultFlushInterval = 10 * time.Second

// DefaultMaxBufferSize triggers an early flush when the buffer fills.
const DefaultMaxBufferSize = 100

// DefaultIngestTimeout bounds one ingestion POST.
const DefaultIngestTimeout = 15 * time.Second

// MaxEventErrorLen caps the error text carried on a usage event; upstream
// error bodies can be arbitrarily large.
const MaxEventErrorLen = 500

// =============================================================================
// RATE LIMITING
// =============================================================================

// DefaultRateWindowSeconds is the fixed-window length when a provider limit
// omits one.
const DefaultRateWindowSeconds = 60

// =============================================================================
// SECURITY
// =============================================================================

// DefaultSecurityCacheTTL bounds per-agent policy staleness.
const DefaultSecurityCacheTTL = 5 * time.Second

// DefaultStorePath is the local sqlite store location.
const DefaultStorePath = "agent-gateway.db"

// =============================================================================
// LOOP DETECTION
// =============================================================================

// DefaultSweepInterval is how often idle loop windows are collected.
const DefaultSweepInterval = 1 * time.Hour

// DefaultLoopIdleTTL evicts agents idle longer than this.
const DefaultLoopIdleTTL = 24 * time.Hour
