// Usage event model - the telemetry unit emitted once per upstream call.
package proxy

import (
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	EventLLMCall    = "llm_call"
	EventCompletion = "completion"
	EventHeartbeat  = "heartbeat"
	EventError      = "error"
	EventCustom     = "custom"
)

// Event sources.
const (
	SourceSDK   = "sdk"
	SourceProxy = "proxy"
)

// UsageEvent is created once per completed upstream call (or finished
// stream), immutable after creation, and owned by the buffer until flushed.
// Token and cost fields are pointers so "not reported" survives JSON as null
// instead of a misleading zero.
type UsageEvent struct {
	ID          string            `json:"id"`
	AgentID     string            `json:"agent_id"`
	EventType   string            `json:"event_type"`
	Source      string            `json:"source"`
	Provider    string            `json:"provider,omitempty"`
	Model       string            `json:"model,omitempty"`
	TokensIn    *int              `json:"tokens_in"`
	TokensOut   *int              `json:"tokens_out"`
	TokensTotal *int              `json:"tokens_total"`
	Cost        *float64          `json:"cost"`
	LatencyMS   int64             `json:"latency_ms"`
	Status      int               `json:"status"`
	Error       string            `json:"error,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	Timestamp   string            `json:"timestamp"`
}

// newUsageEvent stamps identity and timestamp; callers fill the rest.
func newUsageEvent(agentID string) UsageEvent {
	return UsageEvent{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		EventType: EventLLMCall,
		Source:    SourceProxy,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}
