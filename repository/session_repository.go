package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"lawsim-backend/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRepository persists case-simulation sessions as JSON blobs.
type SessionRepository struct {
	db *pgxpool.Pool
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{db: db}
}

// Get loads a session by id. Returns (nil, nil) when the session does not
// exist or its stored state cannot be decoded.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*models.CaseSession, error) {
	var stateJSON []byte
	err := r.db.QueryRow(
		ctx,
		`SELECT state_json FROM case_sessions WHERE session_id = $1`,
		sessionID,
	).Scan(&stateJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	session := &models.CaseSession{}
	if err := json.Unmarshal(stateJSON, session); err != nil {
		return nil, nil
	}
	return session, nil
}

// Save upserts the full session state.
func (r *SessionRepository) Save(ctx context.Context, session *models.CaseSession) error {
	stateJSON, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	query := `
		INSERT INTO case_sessions (session_id, case_id, state_json, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (session_id) DO UPDATE SET
			case_id = EXCLUDED.case_id,
			state_json = EXCLUDED.state_json,
			updated_at = NOW()`

	_, err = r.db.Exec(ctx, query, session.SessionID, session.CaseID, stateJSON)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Delete removes a session. Deleting an unknown session is not an error.
func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM case_sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
