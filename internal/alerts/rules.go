// Alert rules and the notifier that fans events out to channels.
//
// DESIGN: Each rule filters by event type and minimum severity, then
// delivers through its channel. Webhooks go through the breaker-guarded
// deliverer; email and telegram share the interface but are logged until a
// sender is configured. Repeat-interval suppression and recovery
// notifications are tracked per (rule, agent).
package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trailguard/agent-gateway/internal/utils"
)

// Channel is the delivery mechanism for a rule.
type Channel string

const (
	ChannelWebhook  Channel = "webhook"
	ChannelEmail    Channel = "email"
	ChannelTelegram Channel = "telegram"
)

// Rule is one configured alert destination with its filters.
type Rule struct {
	Name           string        `json:"name" yaml:"name"`
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	Channel        Channel       `json:"channel" yaml:"channel"`
	URL            string        `json:"url" yaml:"url"`
	EventTypes     []string      `json:"event_types" yaml:"event_types"` // empty = all
	MinSeverity    string        `json:"min_severity" yaml:"min_severity"`
	RepeatInterval time.Duration `json:"repeat_interval" yaml:"repeat_interval"`
	NotifyRecovery bool          `json:"notify_recovery" yaml:"notify_recovery"`
}

var severityRank = map[string]int{
	"info":     0,
	"warning":  1,
	"critical": 2,
}

func (r *Rule) matches(eventType, severity string) bool {
	if !r.Enabled {
		return false
	}
	if len(r.EventTypes) > 0 {
		found := false
		for _, t := range r.EventTypes {
			if t == eventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if r.MinSeverity != "" && severityRank[severity] < severityRank[r.MinSeverity] {
		return false
	}
	return true
}

// KillSwitchAlert is fired when the loop detector flags a runaway agent.
type KillSwitchAlert struct {
	AgentID    string  `json:"agent_id"`
	Score      float64 `json:"score"`
	WindowSize int     `json:"window_size"`
	Threshold  float64 `json:"threshold"`
	Details    any     `json:"details,omitempty"`
}

// SecurityAlert is fired for notable security filter events.
type SecurityAlert struct {
	AgentID        string `json:"agent_id"`
	EventType      string `json:"event_type"`
	Severity       string `json:"severity"`
	ActionTaken    string `json:"action_taken"`
	RuleName       string `json:"rule_name"`
	MatchedPattern string `json:"matched_pattern,omitempty"`
}

// Notifier evaluates rules and delivers alerts.
type Notifier struct {
	rules     []Rule
	deliverer *Deliverer

	mu        sync.Mutex
	lastFired map[string]time.Time // rule name + agent -> last delivery
	active    map[string]bool      // rule name + agent -> kill switch active
}

// NewNotifier creates a notifier over the given rules.
func NewNotifier(rules []Rule, deliverer *Deliverer) *Notifier {
	return &Notifier{
		rules:     rules,
		deliverer: deliverer,
		lastFired: make(map[string]time.Time),
		active:    make(map[string]bool),
	}
}

func firingKey(rule, agentID string) string {
	return rule + "|" + agentID
}

// suppressed applies the per-rule repeat interval.
func (n *Notifier) suppressed(rule *Rule, agentID string) bool {
	if rule.RepeatInterval <= 0 {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	key := firingKey(rule.Name, agentID)
	if last, ok := n.lastFired[key]; ok && time.Since(last) < rule.RepeatInterval {
		return true
	}
	n.lastFired[key] = time.Now()
	return false
}

// deliver sends one payload through the rule's channel.
func (n *Notifier) deliver(ctx context.Context, rule *Rule, kind string, payload any) {
	body, err := utils.MarshalNoEscape(map[string]any{
		"alert_type": kind,
		"rule":       rule.Name,
		"payload":    payload,
		"fired_at":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Error().Err(err).Str("rule", rule.Name).Msg("alerts: marshal failed")
		return
	}

	switch rule.Channel {
	case ChannelWebhook:
		if err := n.deliverer.Deliver(ctx, rule.URL, body); err != nil {
			log.Warn().Err(err).Str("rule", rule.Name).Msg("alerts: webhook delivery failed")
		}
	case ChannelEmail, ChannelTelegram:
		// No sender configured for these channels yet; the rule still
		// participates in filtering/suppression so configs stay portable.
		log.Info().
			Str("rule", rule.Name).
			Str("channel", string(rule.Channel)).
			RawJSON("alert", body).
			Msg("alerts: channel has no sender, logging only")
	default:
		log.Warn().Str("rule", rule.Name).Str("channel", string(rule.Channel)).Msg("alerts: unknown channel")
	}
}

// FireKillSwitchAlert notifies every matching rule that an agent looks stuck
// in a loop.
func (n *Notifier) FireKillSwitchAlert(ctx context.Context, alert KillSwitchAlert) {
	for i := range n.rules {
		rule := &n.rules[i]
		if !rule.matches("kill_switch", "critical") || n.suppressed(rule, alert.AgentID) {
			continue
		}
		n.mu.Lock()
		n.active[firingKey(rule.Name, alert.AgentID)] = true
		n.mu.Unlock()
		n.deliver(ctx, rule, "kill_switch", alert)
	}
}

// FireSecurityAlert notifies matching rules of a security filter event.
func (n *Notifier) FireSecurityAlert(ctx context.Context, alert SecurityAlert) {
	for i := range n.rules {
		rule := &n.rules[i]
		if !rule.matches(alert.EventType, alert.Severity) || n.suppressed(rule, alert.AgentID) {
			continue
		}
		n.deliver(ctx, rule, "security", alert)
	}
}

// ResolveKillSwitch sends recovery notices for an agent that resumed normal
// behavior, to rules that previously fired and opted into recovery notices.
func (n *Notifier) ResolveKillSwitch(ctx context.Context, agentID string) {
	for i := range n.rules {
		rule := &n.rules[i]
		key := firingKey(rule.Name, agentID)

		n.mu.Lock()
		wasActive := n.active[key]
		delete(n.active, key)
		n.mu.Unlock()

		if !wasActive || !rule.NotifyRecovery {
			continue
		}
		n.deliver(ctx, rule, "kill_switch_recovered", map[string]string{"agent_id": agentID})
	}
}
