// Package sessionstore keeps sessions in Redis for deployments that run several API instances.
package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	apierr "github.com/victorgomez09/suivi/internal/auth"
	"github.com/victorgomez09/suivi/internal/auth/models"
)

const (
	sessionPrefix  = "suivi:session:"
	identityPrefix = "suivi:identity-sessions:"
)

// Connect initializes a Redis client from a redis:// URL or a host:port address.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisStore stores one JSON document per session. A key lives for the renewal window counted
// from the last renewal, so Redis drops sessions that can no longer be renewed.
// Revocation deletes the key.
type RedisStore struct {
	client *redis.Client
	window time.Duration
}

func NewRedisStore(client *redis.Client, renewalWindow time.Duration) *RedisStore {
	return &RedisStore{client: client, window: renewalWindow}
}

func sessionKey(id string) string {
	return sessionPrefix + id
}

func identityKey(identityID int64) string {
	return identityPrefix + strconv.FormatInt(identityID, 10)
}

func (s *RedisStore) CreateSession(ctx context.Context, sess *models.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return apierr.Store(err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(sess.ID), payload, s.window)
		pipe.SAdd(ctx, identityKey(sess.IdentityID), sess.ID)
		pipe.Expire(ctx, identityKey(sess.IdentityID), s.window)
		return nil
	})
	return apierr.Store(err)
}

func (s *RedisStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apierr.New(apierr.KindNotFound, "session not found")
	}
	if err != nil {
		return nil, apierr.Store(err)
	}
	var sess models.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, apierr.Store(err)
	}
	sess.ID = id
	return &sess, nil
}

// update applies fn to the stored session under WATCH so concurrent writers do not lose updates.
func (s *RedisStore) update(ctx context.Context, id string, ttl time.Duration, fn func(*models.Session)) error {
	key := sessionKey(id)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		var sess models.Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			return err
		}
		fn(&sess)
		payload, err := json.Marshal(&sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			if ttl > 0 {
				pipe.Expire(ctx, identityKey(sess.IdentityID), ttl)
			}
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.Nil) {
		return apierr.New(apierr.KindNotFound, "session not found")
	}
	return apierr.Store(err)
}

func (s *RedisStore) RenewSession(ctx context.Context, id string, renewedAt, expiresAt time.Time) error {
	return s.update(ctx, id, s.window, func(sess *models.Session) {
		sess.RenewedAt = renewedAt
		sess.ExpiresAt = expiresAt
		sess.LastUsedAt = renewedAt
	})
}

func (s *RedisStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	err := s.update(ctx, id, redis.KeepTTL, func(sess *models.Session) {
		sess.LastUsedAt = at
	})
	if errors.Is(err, apierr.ErrNotFound) {
		return nil
	}
	return err
}

func (s *RedisStore) RevokeSession(ctx context.Context, id string, _ time.Time) error {
	return apierr.Store(s.client.Del(ctx, sessionKey(id)).Err())
}

func (s *RedisStore) RevokeIdentitySessions(ctx context.Context, identityID int64, _ time.Time) error {
	ids, err := s.client.SMembers(ctx, identityKey(identityID)).Result()
	if err != nil {
		return apierr.Store(err)
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKey(id))
	}
	keys = append(keys, identityKey(identityID))
	return apierr.Store(s.client.Del(ctx, keys...).Err())
}

// DeleteExpiredSessions is a no-op: key expiry does the work.
func (s *RedisStore) DeleteExpiredSessions(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// Ping reports whether Redis answers.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
