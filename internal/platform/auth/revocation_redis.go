package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisRevocationStore shares revocations between server instances. Each
// key lives only as long as the token it refers to could still be valid.
type RedisRevocationStore struct {
	client *redis.Client
	prefix string
}

func NewRedisRevocationStore(client *redis.Client, prefix string) *RedisRevocationStore {
	if prefix == "" {
		prefix = "emr:revoked:"
	}
	return &RedisRevocationStore{client: client, prefix: prefix}
}

func (s *RedisRevocationStore) jtiKey(jti string) string  { return s.prefix + "jti:" + jti }
func (s *RedisRevocationStore) userKey(uid string) string { return s.prefix + "user:" + uid }

func (s *RedisRevocationStore) Revoke(ctx context.Context, jti, userID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.jtiKey(jti), userID, ttl).Err(); err != nil {
		return fmt.Errorf("revoke token %s: %w", jti, err)
	}
	return nil
}

func (s *RedisRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, s.jtiKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("check token %s: %w", jti, err)
	}
	return n > 0, nil
}

func (s *RedisRevocationStore) RevokeAllForUser(ctx context.Context, userID string, cutoff time.Time, ttl time.Duration) error {
	err := s.client.Set(ctx, s.userKey(userID), strconv.FormatInt(cutoff.Unix(), 10), ttl).Err()
	if err != nil {
		return fmt.Errorf("revoke tokens for %s: %w", userID, err)
	}
	return nil
}

func (s *RedisRevocationStore) IsUserRevoked(ctx context.Context, userID string, issuedAt time.Time) (bool, error) {
	raw, err := s.client.Get(ctx, s.userKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check user cutoff %s: %w", userID, err)
	}
	cutoff, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, fmt.Errorf("parse user cutoff %s: %w", userID, err)
	}
	return issuedAt.Unix() <= cutoff, nil
}
