package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedPrefix = "revoked_token:"

type Store struct {
	client *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (s *Store) Close() error {
	return s.client.Close()
}

// RevokeToken records a signed-out token until it would have expired anyway.
// A non-positive ttl means the expiry is unknown; fall back to a day.
func (s *Store) RevokeToken(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return s.client.Set(ctx, revokedPrefix+token, "1", ttl).Err()
}

func (s *Store) IsRevoked(ctx context.Context, token string) (bool, error) {
	_, err := s.client.Get(ctx, revokedPrefix+token).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
