// Package loopdetect - similarity scoring over a per-agent sliding window.
//
// DESIGN: Each agent gets a fixed-capacity ring of recent
// {promptHash, toolCallSet, responseHash} entries. The loop score is a
// weighted sum of window entries matching the current prompt hash, the most
// recent response hash, and the current tool-call set. Windows are created
// lazily, cleared on demand, and garbage-collected by a periodic sweep once
// an agent has been idle past the TTL.
package loopdetect

import (
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// Scoring weights. Identical prompts and identical responses are the strong
// signals; tool-set overlap alone is common in healthy agents.
const (
	promptWeight   = 1.0
	responseWeight = 1.0
	toolWeight     = 0.5
)

// Config controls detection for one agent.
type Config struct {
	Enabled    bool    `json:"enabled" yaml:"enabled"`
	WindowSize int     `json:"window_size" yaml:"window_size"`
	Threshold  float64 `json:"threshold" yaml:"threshold"`
}

// Defaults for agents without explicit config. Detection is off by default;
// enabling it is an explicit per-agent (or global) decision.
const (
	DefaultWindowSize = 20
	DefaultThreshold  = 10.0
	DefaultIdleTTL    = 24 * time.Hour
)

// entry is one observed request/response pair in the window.
type entry struct {
	promptHash   uint64
	toolCallSet  map[string]bool
	responseHash uint64
}

// agentWindow is the per-agent ring plus bookkeeping.
type agentWindow struct {
	config       Config
	entries      []entry
	lastResponse uint64
	lastActive   time.Time
}

// RequestRecord is what RecordRequest extracted from the body.
type RequestRecord struct {
	PromptHash uint64
	ToolCalls  []string
}

// LoopCheck is the result of CheckLoop.
type LoopCheck struct {
	IsLoop  bool        `json:"is_loop"`
	Score   float64     `json:"score"`
	Details LoopDetails `json:"details"`
}

// LoopDetails breaks the score into its components.
type LoopDetails struct {
	SimilarPrompts   int `json:"similarPrompts"`
	SimilarResponses int `json:"similarResponses"`
	ToolOverlap      int `json:"toolOverlap"`
}

// Detector holds every agent window behind one mutex.
type Detector struct {
	mu       sync.Mutex
	agents   map[string]*agentWindow
	defaults Config
	idleTTL  time.Duration

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// NewDetector creates a detector with the given default per-agent config.
func NewDetector(defaults Config, idleTTL time.Duration) *Detector {
	if defaults.WindowSize <= 0 {
		defaults.WindowSize = DefaultWindowSize
	}
	if defaults.Threshold <= 0 {
		defaults.Threshold = DefaultThreshold
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Detector{
		agents:   make(map[string]*agentWindow),
		defaults: defaults,
		idleTTL:  idleTTL,
	}
}

// SetAgentConfig overrides detection config for one agent.
func (d *Detector) SetAgentConfig(agentID string, cfg Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w := d.windowLocked(agentID)
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = d.defaults.WindowSize
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = d.defaults.Threshold
	}
	w.config = cfg
}

// windowLocked returns the agent window, creating it lazily.
func (d *Detector) windowLocked(agentID string) *agentWindow {
	w, ok := d.agents[agentID]
	if !ok {
		w = &agentWindow{config: d.defaults, lastActive: time.Now()}
		d.agents[agentID] = w
	}
	return w
}

// HashPrompt produces the deterministic 64-bit hash of normalized prompt text.
func HashPrompt(text string) uint64 {
	return xxhash.Sum64String(strings.ToLower(strings.TrimSpace(text)))
}

// ExtractPromptText pulls the latest user-authored text out of a request
// body, tolerating both string content and content-block arrays.
func ExtractPromptText(body []byte) string {
	var latest string
	gjson.GetBytes(body, "messages").ForEach(func(_, msg gjson.Result) bool {
		if msg.Get("role").String() != "user" {
			return true
		}
		content := msg.Get("content")
		switch {
		case content.Type == gjson.String:
			latest = content.String()
		case content.IsArray():
			var sb strings.Builder
			content.ForEach(func(_, block gjson.Result) bool {
				if text := block.Get("text"); text.Type == gjson.String {
					sb.WriteString(text.String())
				}
				return true
			})
			if sb.Len() > 0 {
				latest = sb.String()
			}
		}
		return true
	})
	return latest
}

// ExtractToolCalls lists the tool names the request exposes, namespaced so
// different definition sources never collide.
func ExtractToolCalls(body []byte) []string {
	var calls []string
	seen := make(map[string]bool)
	gjson.GetBytes(body, "tools").ForEach(func(_, tool gjson.Result) bool {
		name := tool.Get("function.name").String()
		if name == "" {
			name = tool.Get("name").String()
		}
		if name != "" {
			key := "fn:" + name
			if !seen[key] {
				seen[key] = true
				calls = append(calls, key)
			}
		}
		return true
	})
	return calls
}

// RecordRequest appends a window entry for the agent and returns what was
// extracted. Touching an agent resets its idle clock.
func (d *Detector) RecordRequest(agentID string, body []byte) RequestRecord {
	rec := RequestRecord{
		PromptHash: HashPrompt(ExtractPromptText(body)),
		ToolCalls:  ExtractToolCalls(body),
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	w := d.windowLocked(agentID)
	w.lastActive = time.Now()
	if !w.config.Enabled {
		return rec
	}

	toolSet := make(map[string]bool, len(rec.ToolCalls))
	for _, call := range rec.ToolCalls {
		toolSet[call] = true
	}
	w.entries = append(w.entries, entry{
		promptHash:   rec.PromptHash,
		toolCallSet:  toolSet,
		responseHash: w.lastResponse,
	})
	if len(w.entries) > w.config.WindowSize {
		w.entries = w.entries[len(w.entries)-w.config.WindowSize:]
	}
	return rec
}

// RecordResponse stores the hash of the latest response text for the agent.
func (d *Detector) RecordResponse(agentID string, text string) {
	hash := HashPrompt(text)

	d.mu.Lock()
	defer d.mu.Unlock()

	w := d.windowLocked(agentID)
	w.lastActive = time.Now()
	w.lastResponse = hash
	if w.config.Enabled && len(w.entries) > 0 {
		w.entries[len(w.entries)-1].responseHash = hash
	}
}

// CheckLoop scores the current prompt/tool-call pair against the agent's
// window. Disabled agents always report no loop without consulting history.
func (d *Detector) CheckLoop(agentID string, promptHash uint64, toolCalls []string) LoopCheck {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.agents[agentID]
	if !ok || !w.config.Enabled {
		return LoopCheck{}
	}

	toolSet := make(map[string]bool, len(toolCalls))
	for _, call := range toolCalls {
		toolSet[call] = true
	}

	var details LoopDetails
	// The newest entry is the current request itself; score prior entries.
	prior := w.entries
	if len(prior) > 0 {
		prior = prior[:len(prior)-1]
	}
	for _, e := range prior {
		if e.promptHash == promptHash {
			details.SimilarPrompts++
		}
		if w.lastResponse != 0 && e.responseHash == w.lastResponse {
			details.SimilarResponses++
		}
		if len(toolSet) > 0 && intersects(e.toolCallSet, toolSet) {
			details.ToolOverlap++
		}
	}

	score := float64(details.SimilarPrompts)*promptWeight +
		float64(details.SimilarResponses)*responseWeight +
		float64(details.ToolOverlap)*toolWeight

	return LoopCheck{
		IsLoop:  score > w.config.Threshold,
		Score:   score,
		Details: details,
	}
}

func intersects(a, b map[string]bool) bool {
	for k := range a {
		if b[k] {
			return true
		}
	}
	return false
}

// ClearAgent drops one agent's window.
func (d *Detector) ClearAgent(agentID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.agents, agentID)
}

// ClearAll drops every window.
func (d *Detector) ClearAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents = make(map[string]*agentWindow)
}

// CleanupInactiveAgents removes agents idle longer than the TTL and returns
// how many were removed.
func (d *Detector) CleanupInactiveAgents() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := time.Now().Add(-d.idleTTL)
	removed := 0
	for id, w := range d.agents {
		if w.lastActive.Before(cutoff) {
			delete(d.agents, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs CleanupInactiveAgents on the given interval until Stop.
func (d *Detector) StartSweeper(interval time.Duration) {
	d.sweepStop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := d.CleanupInactiveAgents(); n > 0 {
					log.Debug().Int("removed", n).Msg("loopdetect: swept inactive agents")
				}
			case <-d.sweepStop:
				return
			}
		}
	}()
}

// Stop halts the sweeper. Safe to call more than once or without a start.
func (d *Detector) Stop() {
	if d.sweepStop == nil {
		return
	}
	d.sweepOnce.Do(func() { close(d.sweepStop) })
}
