// Package utils provides small helpers shared across the gateway.
package utils

import (
	"bytes"
	"encoding/json"
)

// MarshalNoEscape marshals JSON without HTML escaping, so characters like
// '<' are not inflated into < in webhook payloads and logs.
func MarshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encoder adds a trailing newline; strip it for parity with json.Marshal.
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// MaskKey masks a credential for safe logging (first 8 and last 4 chars).
func MaskKey(key string) string {
	if key == "" {
		return "(empty)"
	}
	if len(key) < 16 {
		return "****"
	}
	return key[:8] + "..." + key[len(key)-4:]
}

// Truncate caps a string at maxLen bytes, appending an ellipsis when cut.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
