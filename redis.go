package haul

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a ProgressStore backed by redis, for deployments where the
// engine runs server-side and already has redis available.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client. Keys are namespaced under
// "haul:progress:".
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "haul:progress:",
	}
}

func (s *RedisStore) Get(id string) (Record, bool, error) {
	data, err := s.client.Get(context.Background(), s.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("reading progress record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decoding progress record: %w", err)
	}
	return rec, true, nil
}

func (s *RedisStore) Put(id string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding progress record: %w", err)
	}
	if err := s.client.Set(context.Background(), s.prefix+id, data, 0).Err(); err != nil {
		return fmt.Errorf("writing progress record: %w", err)
	}
	return nil
}

func (s *RedisStore) Remove(id string) error {
	if err := s.client.Del(context.Background(), s.prefix+id).Err(); err != nil {
		return fmt.Errorf("removing progress record: %w", err)
	}
	return nil
}
