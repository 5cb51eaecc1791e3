package monitoring

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_DisabledWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	tr, err := NewTracker(TrackerConfig{Enabled: false, LogPath: path})
	require.NoError(t, err)

	tr.Record(map[string]string{"event": "x"})
	require.NoError(t, tr.Close())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestTracker_AppendsOneLinePerEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.jsonl")
	tr, err := NewTracker(TrackerConfig{Enabled: true, LogPath: path})
	require.NoError(t, err)

	tr.Record(map[string]any{"provider": "openai", "status": 200})
	tr.Record(map[string]any{"provider": "anthropic", "status": 200})
	require.NoError(t, tr.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var obj map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &obj), "each line must be standalone JSON")
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, 2, lines)
}
