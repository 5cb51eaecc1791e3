// Per-agent security policy and its TTL cache.
//
// DESIGN: Policy is pulled through the ConfigLoader collaborator and cached
// per agent key for a short TTL (5s) — bounded staleness in exchange for not
// hitting the config store on every request. Entries are stored as
// (value, expiry) pairs under one mutex with explicit invalidation; nothing
// relies on implicit expiry.
package security

import (
	"context"
	"sync"
	"time"
)

// Action is what the filter does when a rule matches.
type Action string

const (
	ActionLog   Action = "log"
	ActionAlert Action = "alert"
	ActionBlock Action = "block"
)

// Severity of a security event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// InjectionCategories toggles the prompt-injection pattern groups.
type InjectionCategories struct {
	IgnoreInstructions bool `json:"ignore_instructions" yaml:"ignore_instructions"`
	SystemOverride     bool `json:"system_override" yaml:"system_override"`
	RoleHijacking      bool `json:"role_hijacking" yaml:"role_hijacking"`
	Jailbreak          bool `json:"jailbreak" yaml:"jailbreak"`
}

func (c InjectionCategories) enabled(category string) bool {
	switch category {
	case CategoryIgnoreInstructions:
		return c.IgnoreInstructions
	case CategorySystemOverride:
		return c.SystemOverride
	case CategoryRoleHijacking:
		return c.RoleHijacking
	case CategoryJailbreak:
		return c.Jailbreak
	}
	return false
}

// MaskingCategories toggles the sensitive-data pattern groups.
type MaskingCategories struct {
	APIKeys     bool `json:"api_keys" yaml:"api_keys"`
	Credentials bool `json:"credentials" yaml:"credentials"`
	Emails      bool `json:"emails" yaml:"emails"`
	CreditCards bool `json:"credit_cards" yaml:"credit_cards"`
}

// ToolCategories marks tool categories as banned.
type ToolCategories struct {
	Filesystem    bool `json:"filesystem" yaml:"filesystem"`
	Network       bool `json:"network" yaml:"network"`
	CodeExecution bool `json:"code_execution" yaml:"code_execution"`
}

func (c ToolCategories) banned(category string) bool {
	switch category {
	case ToolCategoryFilesystem:
		return c.Filesystem
	case ToolCategoryNetwork:
		return c.Network
	case ToolCategoryCodeExecution:
		return c.CodeExecution
	}
	return false
}

// InjectionPolicy configures prompt-injection detection on responses.
type InjectionPolicy struct {
	Enabled        bool                `json:"enabled" yaml:"enabled"`
	Action         Action              `json:"action" yaml:"action"`
	Categories     InjectionCategories `json:"categories" yaml:"categories"`
	CustomPatterns []string            `json:"custom_patterns" yaml:"custom_patterns"`
}

// MaskingPolicy configures sensitive-data masking on requests.
type MaskingPolicy struct {
	Enabled        bool              `json:"enabled" yaml:"enabled"`
	Replacement    string            `json:"replacement" yaml:"replacement"`
	Categories     MaskingCategories `json:"categories" yaml:"categories"`
	CustomPatterns []string          `json:"custom_patterns" yaml:"custom_patterns"`
}

// ToolPolicy configures tool-call restriction on requests.
type ToolPolicy struct {
	Enabled      bool           `json:"enabled" yaml:"enabled"`
	Action       Action         `json:"action" yaml:"action"`
	MaxToolCalls int            `json:"max_tool_calls" yaml:"max_tool_calls"`
	Blocklist    []string       `json:"blocklist" yaml:"blocklist"`
	Allowlist    []string       `json:"allowlist" yaml:"allowlist"`
	Categories   ToolCategories `json:"categories" yaml:"categories"`
}

// Config is the per-agent policy record (or the global fallback when the
// agent id is unset).
type Config struct {
	PromptInjection InjectionPolicy `json:"prompt_injection" yaml:"prompt_injection"`
	DataMasking     MaskingPolicy   `json:"data_masking" yaml:"data_masking"`
	ToolRestriction ToolPolicy      `json:"tool_restriction" yaml:"tool_restriction"`
}

// DefaultReplacement is used when a masking policy omits one.
const DefaultReplacement = "[REDACTED]"

// ConfigLoader is the pull-based policy collaborator.
// agentID may be empty, meaning the global fallback policy.
type ConfigLoader interface {
	GetSecurityConfig(ctx context.Context, agentID string) (*Config, error)
}

// EventRecorder is the push-based event collaborator. Fire-and-forget:
// failures are logged by the caller, never propagated.
type EventRecorder interface {
	InsertSecurityEvent(ctx context.Context, event Event) error
}

// DefaultCacheTTL bounds policy staleness.
const DefaultCacheTTL = 5 * time.Second

// globalKey is the cache key for the agent-less fallback policy.
const globalKey = "_global_"

type cacheEntry struct {
	config *Config
	expiry time.Time
}

// configCache is the (value, expiry) map behind one mutex.
type configCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
}

func newConfigCache(ttl time.Duration) *configCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &configCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

func cacheKey(agentID string) string {
	if agentID == "" {
		return globalKey
	}
	return agentID
}

func (c *configCache) get(agentID string) (*Config, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[cacheKey(agentID)]
	if !ok || time.Now().After(entry.expiry) {
		return nil, false
	}
	return entry.config, true
}

func (c *configCache) set(agentID string, cfg *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(agentID)] = cacheEntry{config: cfg, expiry: time.Now().Add(c.ttl)}
}

func (c *configCache) invalidate(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(agentID))
}

func (c *configCache) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
