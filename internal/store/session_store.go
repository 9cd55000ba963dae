package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vbonduro/siteoptic/internal/domain"
)

// ErrNotFound is returned by mutating calls that target a missing row.
var ErrNotFound = errors.New("not found")

type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Create(ctx context.Context, opts domain.AnalysisOptions) (*domain.Session, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, language, focus, custom_request) VALUES (?, ?, ?, ?)
	`, id, string(opts.Language), string(opts.Focus), opts.CustomRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID returns nil, nil when no session has id.
func (s *SessionStore) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	var (
		sess                       = &domain.Session{}
		storageKey, mime, filename sql.NullString
		language, focus            string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, storage_key, mime_type, filename, language, focus, custom_request, created_at, updated_at
		FROM sessions WHERE id = ?
	`, id).Scan(&sess.ID, &storageKey, &mime, &filename, &language, &focus,
		&sess.Options.CustomRequest, &sess.CreatedAt, &sess.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	sess.Options.Language = domain.Language(language)
	sess.Options.Focus = domain.Focus(focus)
	if storageKey.Valid {
		sess.Photo = &domain.Photo{
			StorageKey: storageKey.String,
			MimeType:   mime.String,
			Filename:   filename.String,
		}
	}
	return sess, nil
}

// SetAnalysis records the photo and options of the session's latest analysis.
func (s *SessionStore) SetAnalysis(ctx context.Context, id string, photo domain.Photo, opts domain.AnalysisOptions) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET storage_key = ?, mime_type = ?, filename = ?, language = ?, focus = ?, custom_request = ?,
		    updated_at = datetime('now')
		WHERE id = ?
	`, photo.StorageKey, photo.MimeType, photo.Filename,
		string(opts.Language), string(opts.Focus), opts.CustomRequest, id)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return requireRow(result, "session")
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return requireRow(result, "session")
}

// DeleteExpired removes sessions with no activity since cutoff, along with
// their transcripts, and returns the storage keys of their photos.
func (s *SessionStore) DeleteExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	before := cutoff.UTC().Format(sqliteTime)
	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM sessions
		WHERE updated_at < ?
		  AND NOT EXISTS (
		      SELECT 1 FROM turns WHERE turns.session_id = sessions.id AND turns.created_at >= ?
		  )
		RETURNING storage_key
	`, before, before)
	if err != nil {
		return nil, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key sql.NullString
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan expired session: %w", err)
		}
		if key.Valid && key.String != "" {
			keys = append(keys, key.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read expired sessions: %w", err)
	}
	return keys, nil
}

// sqliteTime matches the text written by datetime('now').
const sqliteTime = "2006-01-02 15:04:05"

func requireRow(result sql.Result, what string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %w", what, ErrNotFound)
	}
	return nil
}
