// Package kv keeps sessions and transcripts in Redis. Keys expire after the
// configured TTL, which is refreshed on every write. Photo storage keys are
// tracked in a sorted set scored by last activity so that DeleteExpired can
// hand them back for removal once their session has gone.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vbonduro/siteoptic/internal/domain"
	"github.com/vbonduro/siteoptic/internal/store"
)

type sessionInternal struct {
	ID        string                 `json:"id"`
	Photo     *domain.Photo          `json:"photo,omitempty"`
	Options   domain.AnalysisOptions `json:"options"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

type turnInternal struct {
	Role      domain.Role `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// Connect parses redisURL and verifies the server answers.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return rdb, nil
}

func (s *Store) Create(ctx context.Context, opts domain.AnalysisOptions) (*domain.Session, error) {
	now := time.Now().UTC()
	sess := sessionInternal{
		ID:        uuid.NewString(),
		Options:   opts,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.setSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess.toDomain(), nil
}

// GetByID returns nil, nil when the session does not exist or has expired.
func (s *Store) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := s.getSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sess.toDomain(), nil
}

func (s *Store) SetAnalysis(ctx context.Context, id string, photo domain.Photo, opts domain.AnalysisOptions) error {
	sess, err := s.getSession(ctx, id)
	if err != nil {
		return err
	}
	previous := sess.Photo
	sess.Photo = &photo
	sess.Options = opts
	sess.UpdatedAt = time.Now().UTC()
	if err := s.setSession(ctx, sess); err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, photosKey, redis.Z{Score: float64(sess.UpdatedAt.Unix()), Member: photo.StorageKey})
		if previous != nil && previous.StorageKey != photo.StorageKey {
			pipe.ZRem(ctx, photosKey, previous.StorageKey)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to track photo for %s: %w", id, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	sess, err := s.getSession(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	var del *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, sessionKey(id))
		pipe.Del(ctx, transcriptKey(id))
		if sess.Photo != nil {
			pipe.ZRem(ctx, photosKey, sess.Photo.StorageKey)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("session %w", store.ErrNotFound)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, sessionID string, role domain.Role, content string) (*domain.Turn, error) {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	t := turnInternal{Role: role, Content: content, CreatedAt: time.Now().UTC()}
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal turn: %w", err)
	}

	var push *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		push = pipe.RPush(ctx, transcriptKey(sessionID), raw)
		pipe.Expire(ctx, transcriptKey(sessionID), s.ttl)
		pipe.Expire(ctx, sessionKey(sessionID), s.ttl)
		if sess.Photo != nil {
			pipe.ZAdd(ctx, photosKey, redis.Z{Score: float64(t.CreatedAt.Unix()), Member: sess.Photo.StorageKey})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append turn to %s: %w", sessionID, err)
	}

	// The list length after RPUSH is the turn's 1-based position.
	return t.toDomain(sessionID, push.Val()), nil
}

func (s *Store) List(ctx context.Context, sessionID string) ([]*domain.Turn, error) {
	raws, err := s.rdb.LRange(ctx, transcriptKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list turns for %s: %w", sessionID, err)
	}

	turns := make([]*domain.Turn, 0, len(raws))
	for i, raw := range raws {
		var t turnInternal
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal turn %d of %s: %w", i, sessionID, err)
		}
		turns = append(turns, t.toDomain(sessionID, int64(i+1)))
	}
	return turns, nil
}

func (s *Store) Clear(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, transcriptKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear turns for %s: %w", sessionID, err)
	}
	return nil
}

// DeleteExpired returns the storage keys of photos whose session has had no
// activity since cutoff and stops tracking them. The session keys themselves
// are removed by Redis expiry.
func (s *Store) DeleteExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	keys, err := s.rdb.ZRangeByScore(ctx, photosKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list expired photos: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	members := make([]any, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	if err := s.rdb.ZRem(ctx, photosKey, members...).Err(); err != nil {
		return nil, fmt.Errorf("failed to untrack expired photos: %w", err)
	}
	return keys, nil
}

func (s *Store) getSession(ctx context.Context, id string) (sessionInternal, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return sessionInternal{}, fmt.Errorf("session %w", store.ErrNotFound)
		}
		return sessionInternal{}, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	var sess sessionInternal
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return sessionInternal{}, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	return sess, nil
}

func (s *Store) setSession(ctx context.Context, sess sessionInternal) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKey(sess.ID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	return nil
}

func (s sessionInternal) toDomain() *domain.Session {
	return &domain.Session{
		ID:        s.ID,
		Photo:     s.Photo,
		Options:   s.Options,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func (t turnInternal) toDomain(sessionID string, id int64) *domain.Turn {
	return &domain.Turn{
		ID:        id,
		SessionID: sessionID,
		Role:      t.Role,
		Content:   t.Content,
		CreatedAt: t.CreatedAt,
	}
}

func sessionKey(id string) string {
	return "siteoptic:session:" + id
}

const photosKey = "siteoptic:photos"

func transcriptKey(id string) string {
	return "siteoptic:transcript:" + id
}
