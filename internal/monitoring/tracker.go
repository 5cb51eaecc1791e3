// Local JSONL telemetry log.
//
// Events are appended one JSON object per line, immediately after each
// event, so a tail on the file shows live traffic even when the ingestion
// backend is unreachable.
package monitoring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// TrackerConfig controls the local telemetry log.
type TrackerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	LogPath     string `yaml:"log_path"`
	LogToStdout bool   `yaml:"log_to_stdout"`
}

// Tracker appends usage events to a JSONL file.
type Tracker struct {
	mu      sync.Mutex
	config  TrackerConfig
	logPath string
	count   int
}

// NewTracker creates the tracker, ensuring the log directory exists.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	t := &Tracker{config: cfg}
	if !cfg.Enabled || cfg.LogPath == "" {
		return t, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0750); err != nil {
		return nil, err
	}
	t.logPath = cfg.LogPath
	return t, nil
}

// Record appends one event. Failures are logged, never propagated; losing a
// local debug line must not affect the request path.
func (t *Tracker) Record(event any) {
	if !t.config.Enabled || t.logPath == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := appendJSONL(t.logPath, event); err != nil {
		log.Error().Err(err).Str("path", t.logPath).Msg("telemetry: failed to write event")
		return
	}
	t.count++
}

// Close logs a session summary.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.logPath != "" && t.count > 0 {
		log.Info().Str("path", t.logPath).Int("events", t.count).Msg("telemetry: session complete")
	}
	return nil
}

// appendJSONL appends a single JSON object as a line to the file.
func appendJSONL(path string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = f.Write(data)
	return err
}
