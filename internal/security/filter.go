// Package security - inline inspection and mutation of LLM traffic.
//
// DESIGN: Two public operations mirror the proxy's two directions:
//   - CheckRequest():  masks sensitive data in message content and enforces
//     tool restrictions (count cap, block/allowlist, category bans)
//   - CheckResponse(): scans assistant-authored text for prompt-injection
//     patterns
//
// Both degrade to a pass-through no-op on non-JSON bodies or when no policy
// resolves. Masking is intentionally not applied to responses: a leak there
// is either already disclosed or fictional, redaction prevents nothing.
package security

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Verdict is the outcome of one filter pass.
type Verdict struct {
	Allowed         bool
	Events          []Event
	ModifiedContent []byte // non-nil when masking changed the body
	BlockReason     string
}

func passThrough() Verdict {
	return Verdict{Allowed: true}
}

// Filter inspects and mutates request/response bodies per agent policy.
type Filter struct {
	loader   ConfigLoader
	recorder EventRecorder
	cache    *configCache
}

// NewFilter wires the policy loader and event recorder collaborators.
// recorder may be nil.
func NewFilter(loader ConfigLoader, recorder EventRecorder, cacheTTL time.Duration) *Filter {
	return &Filter{
		loader:   loader,
		recorder: recorder,
		cache:    newConfigCache(cacheTTL),
	}
}

// InvalidateConfig drops the cached policy for one agent key.
func (f *Filter) InvalidateConfig(agentID string) {
	f.cache.invalidate(agentID)
}

// InvalidateAll drops every cached policy.
func (f *Filter) InvalidateAll() {
	f.cache.invalidateAll()
}

// configFor resolves the agent policy through the cache. Returns nil when no
// policy is resolvable, which callers treat as pass-through.
func (f *Filter) configFor(ctx context.Context, agentID string) *Config {
	if f.loader == nil {
		return nil
	}
	if cfg, ok := f.cache.get(agentID); ok {
		return cfg
	}
	cfg, err := f.loader.GetSecurityConfig(ctx, agentID)
	if err != nil {
		log.Warn().Err(err).Str("agent_id", agentID).Msg("security: config lookup failed")
		return nil
	}
	// Negative results are cached too: an agent without policy should not
	// trigger a lookup per request.
	f.cache.set(agentID, cfg)
	return cfg
}

// record hands events to the external recorder, fire-and-forget.
func (f *Filter) record(ctx context.Context, events []Event) {
	if f.recorder == nil {
		return
	}
	for _, ev := range events {
		if err := f.recorder.InsertSecurityEvent(ctx, ev); err != nil {
			log.Warn().Err(err).Str("rule", ev.RuleName).Msg("security: failed to record event")
		}
	}
}

// =============================================================================
// REQUEST PATH
// =============================================================================

// CheckRequest masks sensitive data and enforces tool restrictions on an
// outbound request body.
func (f *Filter) CheckRequest(ctx context.Context, agentID string, body []byte) Verdict {
	if !gjson.ValidBytes(body) {
		return passThrough()
	}
	cfg := f.configFor(ctx, agentID)
	if cfg == nil {
		return passThrough()
	}

	verdict := Verdict{Allowed: true}
	working := body
	modified := false

	if cfg.DataMasking.Enabled {
		masked, events, changed := f.maskBody(working, agentID, &cfg.DataMasking)
		verdict.Events = append(verdict.Events, events...)
		if changed {
			working = masked
			modified = true
		}
	}

	if cfg.ToolRestriction.Enabled {
		events, blockReason := f.checkTools(working, agentID, &cfg.ToolRestriction)
		verdict.Events = append(verdict.Events, events...)
		if blockReason != "" {
			verdict.Allowed = false
			verdict.BlockReason = blockReason
		}
	}

	if modified && verdict.Allowed {
		verdict.ModifiedContent = working
	}

	f.record(ctx, verdict.Events)
	return verdict
}

// maskMatch is one sensitive span found in a text value.
type maskMatch struct {
	start, end int
	rule       string
	pattern    string
}

// activeMaskRules assembles the rule set for the enabled categories plus
// custom patterns.
func activeMaskRules(policy *MaskingPolicy) []maskRule {
	var rules []maskRule
	if policy.Categories.APIKeys {
		rules = append(rules, maskAPIKeyRules...)
	}
	if policy.Categories.Credentials {
		rules = append(rules, maskCredentialRules...)
	}
	if policy.Categories.Emails {
		rules = append(rules, maskEmailRules...)
	}
	if policy.Categories.CreditCards {
		rules = append(rules, maskCreditCardRules...)
	}
	for i, re := range compileCustom(policy.CustomPatterns) {
		rules = append(rules, maskRule{Name: fmt.Sprintf("custom_%d", i), Pattern: re})
	}
	return rules
}

// maskText replaces every match in text with the replacement string.
// Matches are deduplicated by keeping the longest match at each overlapping
// start offset, then replaced right-to-left so earlier offsets stay valid.
func maskText(text, replacement string, rules []maskRule) (string, []maskMatch) {
	var matches []maskMatch
	for _, rule := range rules {
		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			matches = append(matches, maskMatch{
				start:   loc[0],
				end:     loc[1],
				rule:    rule.Name,
				pattern: rule.Pattern.String(),
			})
		}
	}
	if len(matches) == 0 {
		return text, nil
	}

	// Longest match first at equal starts, then drop anything covered by an
	// earlier kept span.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].start != matches[j].start {
			return matches[i].start < matches[j].start
		}
		return matches[i].end > matches[j].end
	})
	kept := matches[:0]
	lastEnd := -1
	for _, m := range matches {
		if m.start < lastEnd {
			continue
		}
		kept = append(kept, m)
		lastEnd = m.end
	}

	masked := text
	for i := len(kept) - 1; i >= 0; i-- {
		masked = masked[:kept[i].start] + replacement + masked[kept[i].end:]
	}
	return masked, kept
}

// maskBody walks every message's string content and text content-block.
func (f *Filter) maskBody(body []byte, agentID string, policy *MaskingPolicy) ([]byte, []Event, bool) {
	rules := activeMaskRules(policy)
	if len(rules) == 0 {
		return body, nil, false
	}
	replacement := policy.Replacement
	if replacement == "" {
		replacement = DefaultReplacement
	}

	var events []Event
	working := body
	changed := false

	maskAt := func(path, text string) {
		masked, found := maskText(text, replacement, rules)
		if len(found) == 0 {
			return
		}
		updated, err := sjson.SetBytes(working, path, masked)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("security: failed to apply mask")
			return
		}
		working = updated
		changed = true
		for _, m := range found {
			events = append(events, Event{
				AgentID:        agentID,
				Type:           EventDataMasked,
				Severity:       SeverityWarning,
				ActionTaken:    TakenMasked,
				RuleName:       m.rule,
				MatchedPattern: m.pattern,
				Snippet:        truncateSnippet(text[m.start:m.end]),
				Timestamp:      time.Now().UTC(),
			})
		}
	}

	gjson.GetBytes(body, "messages").ForEach(func(mi, msg gjson.Result) bool {
		content := msg.Get("content")
		switch {
		case content.Type == gjson.String:
			maskAt(fmt.Sprintf("messages.%d.content", mi.Int()), content.String())
		case content.IsArray():
			content.ForEach(func(bi, block gjson.Result) bool {
				if text := block.Get("text"); text.Type == gjson.String {
					maskAt(fmt.Sprintf("messages.%d.content.%d.text", mi.Int(), bi.Int()), text.String())
				}
				return true
			})
		}
		return true
	})

	// System prompt, both string (OpenAI legacy) and block (Anthropic) forms.
	system := gjson.GetBytes(body, "system")
	switch {
	case system.Type == gjson.String:
		maskAt("system", system.String())
	case system.IsArray():
		system.ForEach(func(bi, block gjson.Result) bool {
			if text := block.Get("text"); text.Type == gjson.String {
				maskAt(fmt.Sprintf("system.%d.text", bi.Int()), text.String())
			}
			return true
		})
	}

	return working, events, changed
}

// extractToolNames collects every tool name referenced anywhere in the body:
// the request's own tools array, assistant tool_calls (OpenAI) and tool_use
// content blocks (Anthropic). Order is preserved, duplicates removed.
func extractToolNames(body []byte) []string {
	var names []string
	seen := make(map[string]bool)
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	gjson.GetBytes(body, "tools").ForEach(func(_, tool gjson.Result) bool {
		if name := tool.Get("function.name"); name.Exists() {
			add(name.String())
		} else if name := tool.Get("name"); name.Exists() {
			add(name.String())
		}
		return true
	})

	gjson.GetBytes(body, "messages").ForEach(func(_, msg gjson.Result) bool {
		msg.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
			add(call.Get("function.name").String())
			return true
		})
		content := msg.Get("content")
		if content.IsArray() {
			content.ForEach(func(_, block gjson.Result) bool {
				if block.Get("type").String() == "tool_use" {
					add(block.Get("name").String())
				}
				return true
			})
		}
		return true
	})

	return names
}

// checkTools evaluates the tool policy. Returns the recorded events and a
// non-empty block reason (naming the first blocking rule) when the request
// must be denied.
func (f *Filter) checkTools(body []byte, agentID string, policy *ToolPolicy) ([]Event, string) {
	names := extractToolNames(body)
	if len(names) == 0 {
		return nil, ""
	}

	action := policy.Action
	if action == "" {
		action = ActionBlock
	}
	taken := takenFor(action)

	var events []Event
	blockReason := ""
	violation := func(rule, name string) {
		events = append(events, Event{
			AgentID:     agentID,
			Type:        EventToolBlocked,
			Severity:    SeverityWarning,
			ActionTaken: taken,
			RuleName:    rule,
			Snippet:     truncateSnippet(name),
			Timestamp:   time.Now().UTC(),
		})
		if action == ActionBlock && blockReason == "" {
			blockReason = rule
		}
	}

	if policy.MaxToolCalls > 0 && len(names) > policy.MaxToolCalls {
		violation("max_tool_calls", fmt.Sprintf("%d tools referenced, limit %d", len(names), policy.MaxToolCalls))
	}

	blocked := make(map[string]bool, len(policy.Blocklist))
	for _, name := range policy.Blocklist {
		blocked[strings.ToLower(name)] = true
	}
	allowed := make(map[string]bool, len(policy.Allowlist))
	for _, name := range policy.Allowlist {
		allowed[strings.ToLower(name)] = true
	}

	for _, name := range names {
		lower := strings.ToLower(name)
		switch {
		case blocked[lower]:
			violation("tool_blocklist", name)
		case len(allowed) > 0 && !allowed[lower]:
			// A non-empty allowlist implicitly denies everything else.
			violation("tool_allowlist", name)
		default:
			if category := toolCategory(name); category != "" && policy.Categories.banned(category) {
				violation("tool_category_"+category, name)
			}
		}
	}

	return events, blockReason
}

// =============================================================================
// RESPONSE PATH
// =============================================================================

// CheckResponse scans assistant-authored text against the prompt-injection
// pattern set. Data masking is deliberately not applied here.
func (f *Filter) CheckResponse(ctx context.Context, agentID string, body []byte) Verdict {
	if !gjson.ValidBytes(body) {
		return passThrough()
	}
	cfg := f.configFor(ctx, agentID)
	if cfg == nil || !cfg.PromptInjection.Enabled {
		return passThrough()
	}
	policy := &cfg.PromptInjection

	action := policy.Action
	if action == "" {
		action = ActionLog
	}
	taken := takenFor(action)
	custom := compileCustom(policy.CustomPatterns)

	verdict := Verdict{Allowed: true}
	scan := func(text string) {
		for _, rule := range injectionRules {
			if !policy.Categories.enabled(rule.Category) {
				continue
			}
			if loc := rule.Pattern.FindStringIndex(text); loc != nil {
				verdict.Events = append(verdict.Events, Event{
					AgentID:        agentID,
					Type:           EventPromptInjection,
					Severity:       rule.Severity,
					ActionTaken:    taken,
					RuleName:       rule.Name,
					MatchedPattern: rule.Pattern.String(),
					Snippet:        truncateSnippet(text[loc[0]:loc[1]]),
					Timestamp:      time.Now().UTC(),
				})
				if action == ActionBlock && verdict.BlockReason == "" {
					verdict.Allowed = false
					verdict.BlockReason = rule.Name
				}
			}
		}
		for i, re := range custom {
			if loc := re.FindStringIndex(text); loc != nil {
				ruleName := fmt.Sprintf("custom_%d", i)
				// Caller-supplied patterns are always jailbreak-grade.
				verdict.Events = append(verdict.Events, Event{
					AgentID:        agentID,
					Type:           EventPromptInjection,
					Severity:       SeverityCritical,
					ActionTaken:    taken,
					RuleName:       ruleName,
					MatchedPattern: re.String(),
					Snippet:        truncateSnippet(text[loc[0]:loc[1]]),
					Timestamp:      time.Now().UTC(),
				})
				if action == ActionBlock && verdict.BlockReason == "" {
					verdict.Allowed = false
					verdict.BlockReason = ruleName
				}
			}
		}
	}

	forEachAssistantText(body, scan)

	f.record(ctx, verdict.Events)
	return verdict
}

// forEachAssistantText visits assistant text in both wire formats:
// OpenAI choices[].message.content and Anthropic content[].text.
func forEachAssistantText(body []byte, visit func(text string)) {
	gjson.GetBytes(body, "choices").ForEach(func(_, choice gjson.Result) bool {
		if content := choice.Get("message.content"); content.Type == gjson.String {
			visit(content.String())
		}
		return true
	})
	gjson.GetBytes(body, "content").ForEach(func(_, block gjson.Result) bool {
		if text := block.Get("text"); text.Type == gjson.String {
			visit(text.String())
		}
		return true
	})
}

func takenFor(action Action) ActionTaken {
	switch action {
	case ActionBlock:
		return TakenBlocked
	case ActionAlert:
		return TakenAlerted
	default:
		return TakenLogged
	}
}
