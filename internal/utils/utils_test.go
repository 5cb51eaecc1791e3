package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalNoEscape(t *testing.T) {
	out, err := MarshalNoEscape(map[string]string{"html": "<script>&</script>"})
	require.NoError(t, err)

	assert.Equal(t, `{"html":"<script>&</script>"}`, string(out))
	assert.False(t, strings.HasSuffix(string(out), "\n"))
}

func TestMaskKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string
	}{
		{"empty", "", "(empty)"},
		{"short key fully hidden", "sk-short", "****"},
		{"long key keeps edges", "sk-abcdefghijklmnopqrstuvwxyz", "sk-abcde...wxyz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskKey(tt.key))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abc...", Truncate("abcdef", 3))
	assert.Equal(t, "abcdef", Truncate("abcdef", 0), "non-positive limit disables truncation")
}
