package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/CrowderSoup/kanban-studio/database"
)

// Session is an issued login. Its ID is the jti claim of the token.
type Session struct {
	ID        string
	UserID    int64
	ExpiresAt time.Time
}

// SessionStore records issued sessions so tokens can be revoked before they
// expire.
type SessionStore interface {
	Create(ctx context.Context, s Session) error
	// Active reports whether the session exists, is unrevoked and unexpired.
	Active(ctx context.Context, id string) (bool, error)
	Revoke(ctx context.Context, id string) error
	// PurgeExpired deletes expired and revoked sessions and returns how many
	// were removed.
	PurgeExpired(ctx context.Context) (int64, error)
}

// DBSessionStore keeps sessions in the sessions table.
type DBSessionStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDBSessionStore(db *gorm.DB) *DBSessionStore {
	return &DBSessionStore{db: db, now: time.Now}
}

func (s *DBSessionStore) Create(ctx context.Context, sess Session) error {
	row := database.Session{ID: sess.ID, UserID: sess.UserID, ExpiresAt: sess.ExpiresAt.UTC()}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *DBSessionStore) Active(ctx context.Context, id string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&database.Session{}).
		Where("id = ? AND revoked_at IS NULL AND expires_at > ?", id, s.now().UTC()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to look up session: %w", err)
	}
	return count > 0, nil
}

func (s *DBSessionStore) Revoke(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Model(&database.Session{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", s.now().UTC()).Error
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

func (s *DBSessionStore) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at <= ? OR revoked_at IS NOT NULL", s.now().UTC()).
		Delete(&database.Session{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// RedisSessionStore keeps one key per session with a TTL matching its
// expiry. Revoking deletes the key.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
}

// NewRedisSessionStore connects to the server at redisURL.
func NewRedisSessionStore(ctx context.Context, redisURL string) (*RedisSessionStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisSessionStoreWithClient(client), nil
}

func NewRedisSessionStoreWithClient(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client, prefix: "session:"}
}

func (s *RedisSessionStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisSessionStore) Create(ctx context.Context, sess Session) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.key(sess.ID), strconv.FormatInt(sess.UserID, 10), ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Active(ctx context.Context, id string) (bool, error) {
	err := s.client.Get(ctx, s.key(id)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup session: %w", err)
	}
	return true, nil
}

func (s *RedisSessionStore) Revoke(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// PurgeExpired is a no-op: Redis expires the keys itself.
func (s *RedisSessionStore) PurgeExpired(context.Context) (int64, error) {
	return 0, nil
}

func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}

// SessionCleanupJob purges expired sessions on a cron schedule.
type SessionCleanupJob struct {
	store  SessionStore
	logger *zap.Logger
	cron   *cron.Cron
}

func NewSessionCleanupJob(store SessionStore, logger *zap.Logger) *SessionCleanupJob {
	return &SessionCleanupJob{store: store, logger: logger}
}

// Start schedules the job. schedule is a standard cron expression or a
// descriptor such as "@hourly".
func (j *SessionCleanupJob) Start(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { j.Run(context.Background()) }); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	j.cron = c
	c.Start()
	j.logger.Info("session cleanup scheduled", zap.String("schedule", schedule))
	return nil
}

// Run purges once.
func (j *SessionCleanupJob) Run(ctx context.Context) {
	n, err := j.store.PurgeExpired(ctx)
	if err != nil {
		j.logger.Error("session cleanup failed", zap.Error(err))
		return
	}
	if n > 0 {
		j.logger.Info("purged sessions", zap.Int64("count", n))
	}
}

// Stop waits for a running purge to finish.
func (j *SessionCleanupJob) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
}
