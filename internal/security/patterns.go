// Pattern tables - compiled once at startup into an immutable registry.
//
// DESIGN: Categories are toggled through explicit enable-flag structs on the
// per-agent policy; the tables themselves never change after init. Custom
// per-agent regexes are compiled lazily and invalid ones are skipped
// per-pattern rather than failing the whole policy.
package security

import (
	"regexp"

	"github.com/rs/zerolog/log"
)

// maskRule is one sensitive-data pattern within a masking category.
type maskRule struct {
	Name    string
	Pattern *regexp.Regexp
}

// Masking categories. Provider API keys and cloud credentials are the
// high-signal ones; emails and card numbers follow the usual PII shapes.
var (
	maskAPIKeyRules = []maskRule{
		{"openai_api_key", regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{32,}\b`)},
		{"aws_access_key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
		{"github_token", regexp.MustCompile(`\bghp_[A-Za-z0-9]{36}\b`)},
		{"google_api_key", regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}\b`)},
	}
	maskCredentialRules = []maskRule{
		{"password_assignment", regexp.MustCompile(`(?i)\bpassword\s*[:=]\s*\S{6,}`)},
		{"bearer_token", regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]{20,}`)},
		{"private_key_block", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)},
	}
	maskEmailRules = []maskRule{
		{"email_address", regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`)},
	}
	maskCreditCardRules = []maskRule{
		{"credit_card", regexp.MustCompile(`\b(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13}|6(?:011|5[0-9]{2})[0-9]{12})\b`)},
	}
)

// injectionRule is one prompt-injection pattern within a category.
type injectionRule struct {
	Name     string
	Category string
	Severity Severity
	Pattern  *regexp.Regexp
}

const (
	CategoryIgnoreInstructions = "ignore_instructions"
	CategorySystemOverride     = "system_override"
	CategoryRoleHijacking      = "role_hijacking"
	CategoryJailbreak          = "jailbreak"
)

var injectionRules = []injectionRule{
	{
		Name:     "ignore_previous_instructions",
		Category: CategoryIgnoreInstructions,
		Severity: SeverityWarning,
		Pattern:  regexp.MustCompile(`(?i)\b(ignore|disregard|forget)\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions|directions|prompts|rules)\b`),
	},
	{
		Name:     "new_system_prompt",
		Category: CategorySystemOverride,
		Severity: SeverityCritical,
		Pattern:  regexp.MustCompile(`(?i)\b(new|override|replace)\s+(the\s+)?system\s+(prompt|message|instructions)\b`),
	},
	{
		Name:     "system_tag_injection",
		Category: CategorySystemOverride,
		Severity: SeverityCritical,
		Pattern:  regexp.MustCompile(`(?i)</?system>|\[system\]`),
	},
	{
		Name:     "role_reassignment",
		Category: CategoryRoleHijacking,
		Severity: SeverityWarning,
		Pattern:  regexp.MustCompile(`(?i)\byou\s+are\s+(now|no\s+longer)\s+(a|an|the)?\b`),
	},
	{
		Name:     "pretend_role",
		Category: CategoryRoleHijacking,
		Severity: SeverityWarning,
		Pattern:  regexp.MustCompile(`(?i)\b(pretend|act\s+as\s+if|roleplay\s+as)\b.{0,40}\b(unrestricted|no\s+rules|without\s+(any\s+)?restrictions)\b`),
	},
	{
		Name:     "dan_mode",
		Category: CategoryJailbreak,
		Severity: SeverityCritical,
		Pattern:  regexp.MustCompile(`(?i)\b(DAN|do\s+anything\s+now|developer\s+mode|jailbreak)\b`),
	},
}

// Tool categories matched by name pattern.
var (
	toolFilesystemRe = regexp.MustCompile(`(?i)(^|[._:-])(read|write|edit|delete|remove|create|list|move|copy)[._-]?(file|files|dir|directory|path)s?\b|(^|[._:-])(fs|filesystem)([._:-]|$)`)
	toolNetworkRe    = regexp.MustCompile(`(?i)(^|[._:-])(http|fetch|curl|wget|download|upload|web[._-]?(search|browse|request))([._:-]|$)?`)
	toolCodeExecRe   = regexp.MustCompile(`(?i)(^|[._:-])(exec|execute|shell|bash|sh|terminal|run[._-]?(command|code|script)|python|eval|interpreter)([._:-]|$)?`)
)

const (
	ToolCategoryFilesystem    = "filesystem"
	ToolCategoryNetwork       = "network"
	ToolCategoryCodeExecution = "code_execution"
)

// toolCategory classifies a tool name, or returns "".
func toolCategory(name string) string {
	switch {
	case toolFilesystemRe.MatchString(name):
		return ToolCategoryFilesystem
	case toolNetworkRe.MatchString(name):
		return ToolCategoryNetwork
	case toolCodeExecRe.MatchString(name):
		return ToolCategoryCodeExecution
	default:
		return ""
	}
}

// compileCustom compiles user-supplied regexes, skipping invalid ones.
func compileCustom(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			log.Warn().Str("pattern", p).Err(err).Msg("security: skipping invalid custom pattern")
			continue
		}
		out = append(out, re)
	}
	return out
}
