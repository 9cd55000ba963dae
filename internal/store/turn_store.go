package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vbonduro/siteoptic/internal/domain"
)

// TurnStore persists session transcripts.
type TurnStore struct {
	db *sql.DB
}

func NewTurnStore(db *sql.DB) *TurnStore {
	return &TurnStore{db: db}
}

func (s *TurnStore) Append(ctx context.Context, sessionID string, role domain.Role, content string) (*domain.Turn, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (session_id, role, content) VALUES (?, ?, ?)
	`, sessionID, string(role), content)
	if err != nil {
		return nil, fmt.Errorf("failed to append turn: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	turn := &domain.Turn{}
	var r string
	err = s.db.QueryRowContext(ctx, `
		SELECT id, session_id, role, content, created_at FROM turns WHERE id = ?
	`, id).Scan(&turn.ID, &turn.SessionID, &r, &turn.Content, &turn.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read appended turn: %w", err)
	}
	turn.Role = domain.Role(r)
	return turn, nil
}

// List returns the session's turns in the order they were appended.
func (s *TurnStore) List(ctx context.Context, sessionID string) ([]*domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, created_at FROM turns
		WHERE session_id = ? ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer rows.Close()

	turns := make([]*domain.Turn, 0)
	for rows.Next() {
		turn := &domain.Turn{}
		var r string
		if err := rows.Scan(&turn.ID, &turn.SessionID, &r, &turn.Content, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turn.Role = domain.Role(r)
		turns = append(turns, turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}
	return turns, nil
}

func (s *TurnStore) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to clear turns: %w", err)
	}
	return nil
}
