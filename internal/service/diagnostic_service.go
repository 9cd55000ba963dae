package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/vbonduro/siteoptic/internal/domain"
	"github.com/vbonduro/siteoptic/internal/photostore"
	"github.com/vbonduro/siteoptic/internal/prompt"
	"github.com/vbonduro/siteoptic/internal/report"
	"github.com/vbonduro/siteoptic/internal/vision"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrNoAnalysis        = errors.New("no photo has been analyzed yet")
	ErrEmptyMessage      = errors.New("message is empty")
	ErrEmptyImage        = errors.New("image is empty")
	ErrModelsUnsupported = errors.New("vision backend cannot list models")
	// ErrGeneration wraps every failure returned by the hosted model.
	ErrGeneration = errors.New("generation failed")
)

// sessionRepository is the subset of store.SessionStore that DiagnosticService requires.
type sessionRepository interface {
	Create(ctx context.Context, opts domain.AnalysisOptions) (*domain.Session, error)
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	SetAnalysis(ctx context.Context, id string, photo domain.Photo, opts domain.AnalysisOptions) error
	Delete(ctx context.Context, id string) error
}

// expiringRepository is implemented by session stores that can hand back the
// photos of sessions idle since cutoff.
type expiringRepository interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) ([]string, error)
}

// transcriptRepository is the subset of store.TurnStore that DiagnosticService requires.
type transcriptRepository interface {
	Append(ctx context.Context, sessionID string, role domain.Role, content string) (*domain.Turn, error)
	List(ctx context.Context, sessionID string) ([]*domain.Turn, error)
	Clear(ctx context.Context, sessionID string) error
}

type DiagnosticService struct {
	sessions    sessionRepository
	transcripts transcriptRepository
	visionAPI   vision.Analyzer
	photoStg    photostore.PhotoStore
	defaultLang domain.Language
	sessionTTL  time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

func NewDiagnosticService(
	sessions sessionRepository,
	transcripts transcriptRepository,
	visionAPI vision.Analyzer,
	photoStg photostore.PhotoStore,
	defaultLang domain.Language,
	sessionTTL time.Duration,
	logger *slog.Logger,
) *DiagnosticService {
	return &DiagnosticService{
		sessions:    sessions,
		transcripts: transcripts,
		visionAPI:   visionAPI,
		photoStg:    photoStg,
		defaultLang: domain.ParseLanguage(string(defaultLang), domain.LanguageEnglish),
		sessionTTL:  sessionTTL,
		logger:      logger,
		now:         time.Now,
	}
}

// DefaultOptions are the options a new session starts with.
func (s *DiagnosticService) DefaultOptions() domain.AnalysisOptions {
	return domain.AnalysisOptions{Language: s.defaultLang, Focus: domain.FocusGeneral}
}

// StartSession creates a new session. Sessions idle for longer than the
// session TTL are purged first, together with their photos.
func (s *DiagnosticService) StartSession(ctx context.Context) (*domain.Session, error) {
	s.purgeExpired(ctx)

	sess, err := s.sessions.Create(ctx, s.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	s.logger.Debug("session started", "session_id", sess.ID)
	return sess, nil
}

// GetSession returns the session and its transcript in order.
func (s *DiagnosticService) GetSession(ctx context.Context, id string) (*domain.Session, []*domain.Turn, error) {
	sess, err := s.getSession(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	turns, err := s.transcripts.List(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list transcript: %w", err)
	}
	return sess, turns, nil
}

// Analyze sends a new photo to the model. The photo and the fresh analysis
// replace the session's previous photo and transcript only when the model
// call succeeds.
func (s *DiagnosticService) Analyze(ctx context.Context, id string, image []byte, mimeType, filename string, opts domain.AnalysisOptions) (string, error) {
	if len(image) == 0 {
		return "", ErrEmptyImage
	}
	sess, err := s.getSession(ctx, id)
	if err != nil {
		return "", err
	}

	opts = s.normalise(opts)
	s.logger.Info("analysis started", "session_id", id, "mime_type", mimeType, "bytes", len(image),
		"focus", opts.Focus, "language", opts.Language)

	text, err := s.generate(ctx, image, mimeType, opts, nil)
	if err != nil {
		s.logger.Error("analysis failed", "session_id", id, "error", err)
		return "", err
	}

	storageKey, err := s.photoStg.Save(ctx, "site", mimeType, bytes.NewReader(image))
	if err != nil {
		return "", fmt.Errorf("failed to save photo: %w", err)
	}
	s.logger.Debug("photo saved", "session_id", id, "storage_key", storageKey)

	photo := domain.Photo{StorageKey: storageKey, MimeType: mimeType, Filename: filename}
	if err := s.sessions.SetAnalysis(ctx, id, photo, opts); err != nil {
		if stgErr := s.photoStg.Delete(ctx, storageKey); stgErr != nil {
			s.logger.Error("failed to roll back photo file", "storage_key", storageKey, "error", stgErr)
		}
		return "", fmt.Errorf("failed to record analysis: %w", err)
	}

	if err := s.transcripts.Clear(ctx, id); err != nil {
		s.rollbackAnalysis(ctx, sess, storageKey)
		return "", fmt.Errorf("failed to clear transcript: %w", err)
	}
	if _, err := s.transcripts.Append(ctx, id, domain.RoleAssistant, text); err != nil {
		s.rollbackAnalysis(ctx, sess, storageKey)
		return "", fmt.Errorf("failed to store analysis: %w", err)
	}

	if sess.Photo != nil && sess.Photo.StorageKey != storageKey {
		if err := s.photoStg.Delete(ctx, sess.Photo.StorageKey); err != nil && !errors.Is(err, photostore.ErrNotFound) {
			s.logger.Error("failed to delete previous photo", "storage_key", sess.Photo.StorageKey, "error", err)
		}
	}

	s.logger.Info("analysis complete", "session_id", id, "chars", len(text))
	return text, nil
}

// Ask sends a follow-up question about the session's current photo. The
// question and answer are appended together, only after the model answers.
func (s *DiagnosticService) Ask(ctx context.Context, id, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", ErrEmptyMessage
	}
	sess, err := s.getSession(ctx, id)
	if err != nil {
		return "", err
	}
	if !sess.Analyzed() {
		return "", ErrNoAnalysis
	}

	image, err := s.readPhoto(ctx, sess.Photo.StorageKey)
	if err != nil {
		return "", err
	}
	turns, err := s.transcripts.List(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to list transcript: %w", err)
	}
	if len(turns) == 0 {
		return "", ErrNoAnalysis
	}

	history := make([]domain.Turn, 0, len(turns)+1)
	for _, t := range turns {
		history = append(history, *t)
	}
	history = append(history, domain.Turn{SessionID: id, Role: domain.RoleUser, Content: message})

	s.logger.Info("follow-up started", "session_id", id, "turns", len(history))
	text, err := s.generate(ctx, image, sess.Photo.MimeType, sess.Options, history)
	if err != nil {
		s.logger.Error("follow-up failed", "session_id", id, "error", err)
		return "", err
	}

	if _, err := s.transcripts.Append(ctx, id, domain.RoleUser, message); err != nil {
		return "", fmt.Errorf("failed to store question: %w", err)
	}
	if _, err := s.transcripts.Append(ctx, id, domain.RoleAssistant, text); err != nil {
		return "", fmt.Errorf("failed to store answer: %w", err)
	}
	return text, nil
}

// ExportReport writes the session's PDF report to w.
func (s *DiagnosticService) ExportReport(ctx context.Context, id string, w io.Writer) error {
	sess, turns, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if !sess.Analyzed() || len(turns) == 0 {
		return ErrNoAnalysis
	}
	image, err := s.readPhoto(ctx, sess.Photo.StorageKey)
	if err != nil {
		return err
	}

	err = report.Write(w, report.Document{
		Image:       image,
		MimeType:    sess.Photo.MimeType,
		Options:     sess.Options,
		Turns:       turns,
		GeneratedAt: s.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Photo opens the session's current photo. The caller closes the reader.
func (s *DiagnosticService) Photo(ctx context.Context, id string) (io.ReadCloser, string, error) {
	sess, err := s.getSession(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if !sess.Analyzed() {
		return nil, "", ErrNoAnalysis
	}
	rc, mimeType, err := s.photoStg.Get(ctx, sess.Photo.StorageKey)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open photo: %w", err)
	}
	return rc, mimeType, nil
}

// ListModels returns the backend's models that can generate content.
func (s *DiagnosticService) ListModels(ctx context.Context) ([]vision.ModelInfo, error) {
	lister, ok := s.visionAPI.(vision.ModelLister)
	if !ok {
		return nil, ErrModelsUnsupported
	}
	models, err := lister.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	out := make([]vision.ModelInfo, 0, len(models))
	for _, m := range models {
		if vision.SupportsGeneration(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

// Reset removes the session, its transcript and its photo. Resetting an
// unknown session is not an error.
func (s *DiagnosticService) Reset(ctx context.Context, id string) error {
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	if sess == nil {
		return nil
	}
	if err := s.transcripts.Clear(ctx, id); err != nil {
		return fmt.Errorf("failed to clear transcript: %w", err)
	}
	if err := s.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if sess.Photo != nil {
		if err := s.photoStg.Delete(ctx, sess.Photo.StorageKey); err != nil && !errors.Is(err, photostore.ErrNotFound) {
			s.logger.Error("failed to delete photo file", "storage_key", sess.Photo.StorageKey, "error", err)
		}
	}
	s.logger.Info("session reset", "session_id", id)
	return nil
}

// rollbackAnalysis points the session back at its previous photo after the
// transcript could not be replaced, and removes the newly saved file. A
// session that had no previous photo keeps the new one; with an empty
// transcript it still counts as not analyzed.
func (s *DiagnosticService) rollbackAnalysis(ctx context.Context, prev *domain.Session, newKey string) {
	if prev.Photo == nil {
		return
	}
	if err := s.sessions.SetAnalysis(ctx, prev.ID, *prev.Photo, prev.Options); err != nil {
		s.logger.Error("failed to restore previous photo", "session_id", prev.ID, "error", err)
		return
	}
	if err := s.photoStg.Delete(ctx, newKey); err != nil {
		s.logger.Error("failed to roll back photo file", "storage_key", newKey, "error", err)
	}
}

func (s *DiagnosticService) purgeExpired(ctx context.Context) {
	repo, ok := s.sessions.(expiringRepository)
	if !ok || s.sessionTTL <= 0 {
		return
	}
	keys, err := repo.DeleteExpired(ctx, s.now().Add(-s.sessionTTL))
	if err != nil {
		s.logger.Error("failed to purge expired sessions", "error", err)
		return
	}
	for _, key := range keys {
		if err := s.photoStg.Delete(ctx, key); err != nil && !errors.Is(err, photostore.ErrNotFound) {
			s.logger.Error("failed to delete expired photo", "storage_key", key, "error", err)
		}
	}
	if len(keys) > 0 {
		s.logger.Info("purged expired sessions", "photos", len(keys))
	}
}

func (s *DiagnosticService) generate(ctx context.Context, image []byte, mimeType string, opts domain.AnalysisOptions, turns []domain.Turn) (string, error) {
	p, err := prompt.Build(opts)
	if err != nil {
		return "", err
	}
	text, err := s.visionAPI.Generate(ctx, vision.Request{
		Image:    image,
		MimeType: mimeType,
		Prompt:   p,
		Turns:    turns,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	return text, nil
}

func (s *DiagnosticService) getSession(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (s *DiagnosticService) readPhoto(ctx context.Context, key string) ([]byte, error) {
	rc, _, err := s.photoStg.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to open photo: %w", err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read photo: %w", err)
	}
	return data, nil
}

func (s *DiagnosticService) normalise(opts domain.AnalysisOptions) domain.AnalysisOptions {
	return domain.AnalysisOptions{
		Language:      domain.ParseLanguage(string(opts.Language), s.defaultLang),
		Focus:         domain.ParseFocus(string(opts.Focus)),
		CustomRequest: prompt.CleanRequest(opts.CustomRequest),
	}
}
