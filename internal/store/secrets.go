package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
)

// Secret storage for agent credentials, keyed (agent_name, field). The agent
// registry file deliberately carries no passwords; they live here instead.

// GetSecret returns the stored value, or ok=false when absent.
func (s *SQLiteStore) GetSecret(ctx context.Context, agentName, field string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM credentials WHERE agent_name = ? AND field = ?`,
		agentName, field,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrap(err, "sqlite: get secret")
	}
	return value, true, nil
}

// SetSecret stores or replaces a secret value.
func (s *SQLiteStore) SetSecret(ctx context.Context, agentName, field, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (agent_name, field, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(agent_name, field) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		agentName, field, value, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: set secret")
}

// DeleteSecret removes all secrets for an agent. Removing a missing agent is
// not an error.
func (s *SQLiteStore) DeleteSecret(ctx context.Context, agentName string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE agent_name = ?`,
		agentName,
	)
	return eris.Wrap(err, "sqlite: delete secret")
}
