// Package store - sqlite-backed security config and event persistence.
//
// DESIGN: This is the default implementation of the security collaborator
// interfaces so the gateway runs standalone. The schema is an internal
// detail, not a contract; hosted deployments swap in their own loader and
// recorder over the same interfaces.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/trailguard/agent-gateway/internal/security"
)

// Store persists per-agent security configs and filter events.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS security_configs (
	agent_id   TEXT PRIMARY KEY,
	config     TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS security_events (
	id              TEXT PRIMARY KEY,
	agent_id        TEXT NOT NULL,
	event_type      TEXT NOT NULL,
	severity        TEXT NOT NULL,
	action_taken    TEXT NOT NULL,
	rule_name       TEXT NOT NULL,
	matched_pattern TEXT,
	snippet         TEXT,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_security_events_agent ON security_events(agent_id, created_at);
`

// Open opens (creating if necessary) the store at path. Use ":memory:" for
// an ephemeral store in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// modernc sqlite is single-writer; serialize access at the pool level.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetSecurityConfig returns the policy for an agent, falling back to the
// global row (empty agent id) and to nil when neither exists.
func (s *Store) GetSecurityConfig(ctx context.Context, agentID string) (*security.Config, error) {
	for _, key := range []string{agentID, ""} {
		cfg, err := s.lookupConfig(ctx, key)
		if err != nil {
			return nil, err
		}
		if cfg != nil {
			return cfg, nil
		}
		if key == "" {
			break
		}
	}
	return nil, nil
}

func (s *Store) lookupConfig(ctx context.Context, agentID string) (*security.Config, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT config FROM security_configs WHERE agent_id = ?`, agentID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query security config: %w", err)
	}

	var cfg security.Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("decode security config for %q: %w", agentID, err)
	}
	return &cfg, nil
}

// SetSecurityConfig upserts the policy for an agent (empty id = global).
func (s *Store) SetSecurityConfig(ctx context.Context, agentID string, cfg *security.Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode security config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO security_configs (agent_id, config, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at`,
		agentID, string(raw), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert security config: %w", err)
	}
	return nil
}

// InsertSecurityEvent appends one filter event. Fire-and-forget semantics
// live with the caller; this just reports the error.
func (s *Store) InsertSecurityEvent(ctx context.Context, event security.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO security_events
			(id, agent_id, event_type, severity, action_taken, rule_name, matched_pattern, snippet, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(),
		event.AgentID,
		string(event.Type),
		string(event.Severity),
		string(event.ActionTaken),
		event.RuleName,
		event.MatchedPattern,
		event.Snippet,
		event.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

// CountEvents returns how many events are stored for an agent.
// Used by diagnostics and tests.
func (s *Store) CountEvents(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM security_events WHERE agent_id = ?`, agentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count security events: %w", err)
	}
	return n, nil
}

// PruneEvents deletes events older than the retention window.
func (s *Store) PruneEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM security_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune security events: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Debug().Int64("removed", n).Msg("store: pruned security events")
	}
	return n, nil
}
