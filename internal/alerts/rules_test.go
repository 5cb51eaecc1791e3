package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// webhookCapture records delivered alert payloads.
type webhookCapture struct {
	mu       sync.Mutex
	payloads []map[string]any
}

func (c *webhookCapture) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		c.mu.Lock()
		c.payloads = append(c.payloads, payload)
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

func (c *webhookCapture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func (c *webhookCapture) last() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.payloads) == 0 {
		return nil
	}
	return c.payloads[len(c.payloads)-1]
}

func newTestNotifier(t *testing.T, rules []Rule) (*Notifier, *webhookCapture, string) {
	t.Helper()
	capture := &webhookCapture{}
	srv := httptest.NewServer(capture.handler())
	t.Cleanup(srv.Close)

	for i := range rules {
		if rules[i].URL == "" {
			rules[i].URL = srv.URL
		}
	}
	d := NewDeliverer(NewBreaker(DefaultBreakerConfig()), srv.Client())
	d.sleep = noSleep
	return NewNotifier(rules, d), capture, srv.URL
}

func TestFireKillSwitchAlert_Delivers(t *testing.T) {
	n, capture, _ := newTestNotifier(t, []Rule{
		{Name: "ops", Enabled: true, Channel: ChannelWebhook},
	})

	n.FireKillSwitchAlert(context.Background(), KillSwitchAlert{
		AgentID: "agent-1", Score: 12.5, WindowSize: 20, Threshold: 10,
	})

	require.Equal(t, 1, capture.count())
	payload := capture.last()
	assert.Equal(t, "kill_switch", payload["alert_type"])
	assert.Equal(t, "ops", payload["rule"])
}

func TestFireKillSwitchAlert_DisabledRuleSkipped(t *testing.T) {
	n, capture, _ := newTestNotifier(t, []Rule{
		{Name: "ops", Enabled: false, Channel: ChannelWebhook},
	})

	n.FireKillSwitchAlert(context.Background(), KillSwitchAlert{AgentID: "agent-1"})
	assert.Zero(t, capture.count())
}

func TestFireSecurityAlert_SeverityFilter(t *testing.T) {
	n, capture, _ := newTestNotifier(t, []Rule{
		{Name: "critical-only", Enabled: true, Channel: ChannelWebhook, MinSeverity: "critical"},
	})

	n.FireSecurityAlert(context.Background(), SecurityAlert{
		AgentID: "agent-1", EventType: "data_masked", Severity: "warning",
	})
	assert.Zero(t, capture.count())

	n.FireSecurityAlert(context.Background(), SecurityAlert{
		AgentID: "agent-1", EventType: "prompt_injection", Severity: "critical",
	})
	assert.Equal(t, 1, capture.count())
}

func TestFireSecurityAlert_EventTypeFilter(t *testing.T) {
	n, capture, _ := newTestNotifier(t, []Rule{
		{Name: "injections", Enabled: true, Channel: ChannelWebhook, EventTypes: []string{"prompt_injection"}},
	})

	n.FireSecurityAlert(context.Background(), SecurityAlert{
		AgentID: "agent-1", EventType: "tool_blocked", Severity: "critical",
	})
	assert.Zero(t, capture.count())
}

func TestRepeatIntervalSuppression(t *testing.T) {
	n, capture, _ := newTestNotifier(t, []Rule{
		{Name: "ops", Enabled: true, Channel: ChannelWebhook, RepeatInterval: time.Hour},
	})

	alert := KillSwitchAlert{AgentID: "agent-1", Score: 11}
	n.FireKillSwitchAlert(context.Background(), alert)
	n.FireKillSwitchAlert(context.Background(), alert)
	assert.Equal(t, 1, capture.count(), "second firing inside the interval is suppressed")

	// A different agent is tracked independently.
	n.FireKillSwitchAlert(context.Background(), KillSwitchAlert{AgentID: "agent-2", Score: 11})
	assert.Equal(t, 2, capture.count())
}

func TestResolveKillSwitch_RecoveryNotice(t *testing.T) {
	n, capture, _ := newTestNotifier(t, []Rule{
		{Name: "ops", Enabled: true, Channel: ChannelWebhook, NotifyRecovery: true},
	})

	n.FireKillSwitchAlert(context.Background(), KillSwitchAlert{AgentID: "agent-1", Score: 11})
	require.Equal(t, 1, capture.count())

	n.ResolveKillSwitch(context.Background(), "agent-1")
	require.Equal(t, 2, capture.count())
	assert.Equal(t, "kill_switch_recovered", capture.last()["alert_type"])

	// Resolving again without a new firing sends nothing.
	n.ResolveKillSwitch(context.Background(), "agent-1")
	assert.Equal(t, 2, capture.count())
}

func TestResolveKillSwitch_OptOut(t *testing.T) {
	n, capture, _ := newTestNotifier(t, []Rule{
		{Name: "ops", Enabled: true, Channel: ChannelWebhook, NotifyRecovery: false},
	})

	n.FireKillSwitchAlert(context.Background(), KillSwitchAlert{AgentID: "agent-1", Score: 11})
	n.ResolveKillSwitch(context.Background(), "agent-1")
	assert.Equal(t, 1, capture.count())
}
