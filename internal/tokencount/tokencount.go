// Package tokencount estimates prompt sizes when no upstream usage exists.
//
// Used for diagnostics only (blocked requests never reach the upstream, so
// no real count is available); estimates never populate UsageEvent token
// fields.
package tokencount

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// charsPerToken is the rough fallback when no encoder is available.
const charsPerToken = 4

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// loadEncoder fetches the cl100k_base encoding once. Failure (e.g. offline
// first run with no cache) degrades to the chars/4 estimate.
func loadEncoder() *tiktoken.Tiktoken {
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Debug().Err(err).Msg("tokencount: encoder unavailable, using chars/4 estimate")
			return
		}
		encoder = enc
	})
	return encoder
}

// Estimate returns an approximate token count for text.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	if enc := loadEncoder(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (len(strings.TrimSpace(text)) + charsPerToken - 1) / charsPerToken
}
