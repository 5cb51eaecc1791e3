// Synthesized provider-shaped completions for blocked requests.
//
// Blocked calls still return a well-formed completion so agent SDKs that
// expect the provider's schema keep working; the refusal rides in the
// assistant text instead of an error envelope the SDK would crash on.
package proxy

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trailguard/agent-gateway/internal/providers"
	"github.com/trailguard/agent-gateway/internal/utils"
)

const blockedMessageFmt = "This request was blocked by your gateway security policy (rule: %s). " +
	"Adjust the agent's security configuration if this was unintended."

// synthesizeBlockedResponse builds a completion body in the wire format the
// caller expects. Unknown formats get the OpenAI shape.
func synthesizeBlockedResponse(format providers.Name, model, reason string) []byte {
	text := fmt.Sprintf(blockedMessageFmt, reason)
	if model == "" {
		model = "unknown"
	}

	var payload map[string]any
	switch format {
	case providers.Anthropic:
		payload = map[string]any{
			"id":    "msg_blocked_" + uuid.New().String()[:8],
			"type":  "message",
			"role":  "assistant",
			"model": model,
			"content": []map[string]any{
				{"type": "text", "text": text},
			},
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"usage":         map[string]int{"input_tokens": 0, "output_tokens": 0},
		}
	default:
		payload = map[string]any{
			"id":      "chatcmpl-blocked-" + uuid.New().String()[:8],
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   model,
			"choices": []map[string]any{
				{
					"index": 0,
					"message": map[string]any{
						"role":    "assistant",
						"content": text,
					},
					"finish_reason": "content_filter",
				},
			},
			"usage": map[string]int{"prompt_tokens": 0, "completion_tokens": 0, "total_tokens": 0},
		}
	}

	body, err := utils.MarshalNoEscape(payload)
	if err != nil {
		// Static shape; marshal cannot realistically fail.
		return []byte(`{"error":{"message":"request blocked"}}`)
	}
	return body
}
