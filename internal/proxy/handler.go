// HTTP request handling for the agent gateway.
//
// DESIGN: Main request flow:
//   - handleProxy():     entry point for all proxied LLM traffic
//   - handleBuffered():  non-streaming responses with post-check
//   - handleStreaming(): SSE pass-through with in-flight usage parsing
//
// Also includes the health endpoint and usage-event emission.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/trailguard/agent-gateway/internal/alerts"
	"github.com/trailguard/agent-gateway/internal/config"
	"github.com/trailguard/agent-gateway/internal/parsers"
	"github.com/trailguard/agent-gateway/internal/providers"
	"github.com/trailguard/agent-gateway/internal/security"
	"github.com/trailguard/agent-gateway/internal/tokencount"
	"github.com/trailguard/agent-gateway/internal/utils"
)

// writeError writes a structured JSON error envelope.
func (g *Gateway) writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": msg, "type": "gateway_error"},
	})
}

// handleHealth returns gateway liveness plus identity.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"agent_id":  g.config.AgentID,
		"uptime_ms": time.Since(g.startTime).Milliseconds(),
	})
}

// resolveAgentID applies the per-request override header over the default.
func (g *Gateway) resolveAgentID(r *http.Request) string {
	if id := r.Header.Get(HeaderAgentID); id != "" {
		return id
	}
	return g.config.AgentID
}

// handleProxy runs the full per-request pipeline: target resolution, rate
// limiting, loop recording, security pre-check, credential injection,
// forwarding, response handling, and usage-event emission.
func (g *Gateway) handleProxy(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	agentID := g.resolveAgentID(r)

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		g.writeError(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	// Target resolution: override header verbatim, else path auto-detection.
	target, err := g.resolveTarget(r)
	if err != nil {
		g.writeError(w, "no provider detected for request", http.StatusBadRequest)
		return
	}

	// Hostname match gates credential injection; the path match only names
	// the provider for metering when the host is unrecognized.
	hostProvider := targetProvider(target)
	providerName := providers.Unknown
	wireFormat := providers.OpenAI
	if hostProvider != nil {
		providerName = hostProvider.Name
		wireFormat = hostProvider.WireFormat()
	} else if pathProvider := providers.DetectByPath(r.URL.Path); pathProvider != nil {
		providerName = pathProvider.Name
		wireFormat = pathProvider.WireFormat()
	}

	// Rate limit before any upstream work.
	if allowed, retryAfter := g.limiter.Allow(providerName.String()); !allowed {
		g.metrics.RateLimitedTotal.WithLabelValues(providerName.String()).Inc()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":               map[string]string{"message": fmt.Sprintf("rate limit exceeded for provider %s", providerName)},
			"retry_after_seconds": retryAfter,
		})
		return
	}

	// Loop detection observes traffic but never blocks it; a detected loop
	// fires the kill-switch alert for the agent-management layer to act on.
	record := g.detector.RecordRequest(agentID, body)
	if check := g.detector.CheckLoop(agentID, record.PromptHash, record.ToolCalls); check.IsLoop {
		log.Warn().
			Str("agent_id", agentID).
			Float64("score", check.Score).
			Msg("proxy: loop detected")
		go g.notifier.FireKillSwitchAlert(context.Background(), alerts.KillSwitchAlert{
			AgentID:    agentID,
			Score:      check.Score,
			WindowSize: g.config.Loop.Defaults.WindowSize,
			Threshold:  g.config.Loop.Defaults.Threshold,
			Details:    check.Details,
		})
	}

	// Security pre-check: block short-circuits, mask substitutes the body.
	verdict := g.filter.CheckRequest(r.Context(), agentID, body)
	g.fireSecurityAlerts(agentID, verdict.Events)
	if !verdict.Allowed {
		g.writeBlocked(w, r, agentID, providerName, wireFormat, body, verdict.BlockReason, "request", startTime)
		return
	}
	forwardBody := body
	if verdict.ModifiedContent != nil {
		forwardBody = verdict.ModifiedContent
	}

	req, err := g.buildUpstreamRequest(r.Context(), r, target, forwardBody)
	if err != nil {
		g.writeError(w, "invalid target URL", http.StatusBadRequest)
		return
	}
	g.injectCredential(r.Context(), req, hostProvider, forwardBody)

	resp, err := g.forward(req)
	if err != nil {
		g.metrics.UpstreamErrors.WithLabelValues(providerName.String()).Inc()
		log.Warn().Err(err).Str("target", target).Msg("proxy: upstream unreachable")

		ev := newUsageEvent(agentID)
		ev.EventType = EventError
		ev.Provider = providerName.String()
		ev.Model = gjson.GetBytes(body, "model").String()
		ev.LatencyMS = time.Since(startTime).Milliseconds()
		ev.Status = http.StatusBadGateway
		ev.Error = utils.Truncate(err.Error(), config.MaxEventErrorLen)
		g.emit(ev)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error": "Upstream request failed: " + err.Error(),
		})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if isEventStream(resp) {
		g.handleStreaming(w, r, resp, agentID, providerName, wireFormat, startTime)
	} else {
		g.handleBuffered(w, r, resp, agentID, providerName, wireFormat, startTime)
	}
}

// isEventStream reports whether the upstream chose SSE.
func isEventStream(resp *http.Response) bool {
	return strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream")
}

// copyHeaders forwards upstream headers, letting net/http recompute framing.
func copyHeaders(w http.ResponseWriter, src http.Header) {
	for name, values := range src {
		lower := strings.ToLower(name)
		if lower == "content-length" || lower == "transfer-encoding" || lower == "connection" {
			continue
		}
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
}

// handleBuffered reads the full upstream body, extracts usage, runs the
// security post-check, and forwards status/headers/body to the caller.
func (g *Gateway) handleBuffered(w http.ResponseWriter, r *http.Request, resp *http.Response,
	agentID string, providerName providers.Name, wireFormat providers.Name, startTime time.Time) {

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		g.metrics.UpstreamErrors.WithLabelValues(providerName.String()).Inc()
		g.writeError(w, "failed to read upstream response", http.StatusBadGateway)
		return
	}

	result := parsers.ParseResponse(wireFormat, respBody, resp.StatusCode)

	// Post-check scans assistant text; a block replaces the body with the
	// synthesized shape while preserving the upstream status.
	if resp.StatusCode < 400 {
		verdict := g.filter.CheckResponse(r.Context(), agentID, respBody)
		g.fireSecurityAlerts(agentID, verdict.Events)
		if !verdict.Allowed {
			g.metrics.BlockedTotal.WithLabelValues("response").Inc()
			respBody = synthesizeBlockedResponse(wireFormat, result.Model, verdict.BlockReason)
		}
	}

	if text := extractAssistantText(respBody); text != "" {
		g.detector.RecordResponse(agentID, text)
	}

	copyHeaders(w, resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)

	g.emitUsage(agentID, providerName, result, time.Since(startTime), nil)
}

// handleStreaming re-streams upstream bytes as they arrive while feeding the
// same bytes to the usage parser. Exactly one UsageEvent is emitted per
// stream, including when the client disconnects mid-stream.
func (g *Gateway) handleStreaming(w http.ResponseWriter, r *http.Request, resp *http.Response,
	agentID string, providerName providers.Name, wireFormat providers.Name, startTime time.Time) {

	copyHeaders(w, resp.Header)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(resp.StatusCode)

	flusher, canFlush := w.(http.Flusher)
	parser := parsers.NewStreamParser(wireFormat)

	buf := make([]byte, config.DefaultBufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			parser.Feed(chunk)
			if _, writeErr := w.Write(chunk); writeErr != nil {
				// Client gone; r.Context() cancellation tears down the
				// upstream connection, partial usage still counts.
				log.Debug().Err(writeErr).Msg("proxy: client disconnected mid-stream")
				break
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				log.Debug().Err(readErr).Msg("proxy: upstream stream ended with error")
			}
			break
		}
	}

	result := parser.Result(resp.StatusCode)
	g.emitUsage(agentID, providerName, result, time.Since(startTime), map[string]string{"streaming": "true"})
}

// writeBlocked answers a security-blocked request with a provider-shaped
// completion and emits the usage event carrying the block diagnostics.
func (g *Gateway) writeBlocked(w http.ResponseWriter, r *http.Request, agentID string,
	providerName providers.Name, wireFormat providers.Name, body []byte, reason, direction string, startTime time.Time) {

	g.metrics.BlockedTotal.WithLabelValues(direction).Inc()
	model := gjson.GetBytes(body, "model").String()
	blocked := synthesizeBlockedResponse(wireFormat, model, reason)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blocked)

	// No upstream call happened, so no real token counts exist; tag a local
	// estimate for diagnostics instead of inventing usage numbers.
	tags := map[string]string{
		"blocked":      "true",
		"block_reason": reason,
	}
	if prompt := gjson.GetBytes(body, "messages").Raw; prompt != "" {
		tags["tokens_est"] = strconv.Itoa(tokencount.Estimate(prompt))
	}

	ev := newUsageEvent(agentID)
	ev.Provider = providerName.String()
	ev.Model = model
	ev.LatencyMS = time.Since(startTime).Milliseconds()
	ev.Status = http.StatusOK
	ev.Tags = tags
	g.emit(ev)
}

// extractAssistantText pulls the primary assistant text out of a buffered
// response in either wire format, for loop-detector response hashing.
func extractAssistantText(body []byte) string {
	if text := gjson.GetBytes(body, "choices.0.message.content"); text.Type == gjson.String {
		return text.String()
	}
	var sb strings.Builder
	gjson.GetBytes(body, "content").ForEach(func(_, block gjson.Result) bool {
		if text := block.Get("text"); text.Type == gjson.String {
			sb.WriteString(text.String())
		}
		return true
	})
	return sb.String()
}

// emitUsage converts a parse result into the UsageEvent for one call.
func (g *Gateway) emitUsage(agentID string, providerName providers.Name, result parsers.Result,
	latency time.Duration, tags map[string]string) {

	ev := newUsageEvent(agentID)
	ev.Provider = providerName.String()
	ev.Model = result.Model
	ev.TokensIn = result.TokensIn
	ev.TokensOut = result.TokensOut
	ev.TokensTotal = result.TokensTotal
	ev.LatencyMS = latency.Milliseconds()
	ev.Status = result.StatusCode
	ev.Error = utils.Truncate(result.ErrorMessage, config.MaxEventErrorLen)
	ev.Tags = tags

	if result.Model != "" && (result.TokensIn != nil || result.TokensOut != nil) {
		in, out := 0, 0
		if result.TokensIn != nil {
			in = *result.TokensIn
		}
		if result.TokensOut != nil {
			out = *result.TokensOut
		}
		ev.Cost = providers.CalculateCost(result.Model, in, out, result.CacheUsage, providerName)
	}

	if result.TokensIn != nil {
		g.metrics.TokensTotal.WithLabelValues(providerName.String(), "in").Add(float64(*result.TokensIn))
	}
	if result.TokensOut != nil {
		g.metrics.TokensTotal.WithLabelValues(providerName.String(), "out").Add(float64(*result.TokensOut))
	}
	g.metrics.LatencySeconds.WithLabelValues(providerName.String()).Observe(latency.Seconds())

	g.emit(ev)
}

// emit fans one event out to the buffer, the local tracker, the live feed,
// and the request counter.
func (g *Gateway) emit(ev UsageEvent) {
	g.metrics.RequestsTotal.WithLabelValues(ev.Provider, statusClass(ev.Status)).Inc()
	g.buffer.Add(ev)
	g.tracker.Record(ev)
	g.feed.Publish(ev)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}

// fireSecurityAlerts forwards every filter event to the notifier off the
// request path. Rule config (event types, min severity) decides what actually
// goes out; filtering here would shadow it.
func (g *Gateway) fireSecurityAlerts(agentID string, events []security.Event) {
	for _, ev := range events {
		alert := alerts.SecurityAlert{
			AgentID:        agentID,
			EventType:      string(ev.Type),
			Severity:       string(ev.Severity),
			ActionTaken:    string(ev.ActionTaken),
			RuleName:       ev.RuleName,
			MatchedPattern: ev.MatchedPattern,
		}
		go g.notifier.FireSecurityAlert(context.Background(), alert)
	}
}
