package security

import (
	"time"
	"unicode/utf8"
)

// EventType classifies what the filter found.
type EventType string

const (
	EventPromptInjection EventType = "prompt_injection"
	EventDataMasked      EventType = "data_masked"
	EventToolBlocked     EventType = "tool_blocked"
)

// ActionTaken is what the filter actually did, which can differ from the
// configured action (e.g. action "log" still records the match).
type ActionTaken string

const (
	TakenLogged  ActionTaken = "logged"
	TakenAlerted ActionTaken = "alerted"
	TakenBlocked ActionTaken = "blocked"
	TakenMasked  ActionTaken = "masked"
)

// snippetMaxLen caps the recorded excerpt of matched content.
const snippetMaxLen = 100

// Event is one filter finding. The filter never persists these itself; they
// are handed to the external recorder and returned to the caller.
type Event struct {
	AgentID        string      `json:"agent_id"`
	Type           EventType   `json:"event_type"`
	Severity       Severity    `json:"severity"`
	ActionTaken    ActionTaken `json:"action_taken"`
	RuleName       string      `json:"rule_name"`
	MatchedPattern string      `json:"matched_pattern,omitempty"`
	Snippet        string      `json:"snippet,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

func truncateSnippet(s string) string {
	if len(s) <= snippetMaxLen {
		return s
	}
	// Back up to a rune boundary so the cut never splits a multi-byte rune.
	cut := snippetMaxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
