package otp

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Put(_ context.Context, subject string, entry Entry, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[subject] = entry
	return nil
}

func (s *MemoryStore) Get(_ context.Context, subject string) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[subject]
	if !ok {
		return nil, false, nil
	}
	return &entry, true, nil
}

func (s *MemoryStore) IncrementAttempts(_ context.Context, subject string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[subject]
	if !ok {
		return 0, nil
	}
	entry.Attempts++
	s.entries[subject] = entry
	return entry.Attempts, nil
}

func (s *MemoryStore) Delete(_ context.Context, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, subject)
	return nil
}

// incrementIfPresent bumps the attempt counter only while the entry's
// counter key is alive, so a consumed code never gets a fresh budget.
var incrementIfPresent = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
return redis.call("INCR", KEYS[1])
`)

// RedisStore keeps entries as JSON under a prefixed key with the remaining
// lifetime as the key TTL. Attempts live in a sibling counter key.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "pharmaflow:otp:"}
}

func (s *RedisStore) entryKey(subject string) string {
	return s.prefix + subject
}

func (s *RedisStore) attemptsKey(subject string) string {
	return s.prefix + subject + ":attempts"
}

func (s *RedisStore) Put(ctx context.Context, subject string, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return s.Delete(ctx, subject)
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.entryKey(subject), payload, ttl)
		pipe.Set(ctx, s.attemptsKey(subject), entry.Attempts, ttl)
		return nil
	})
	return err
}

func (s *RedisStore) Get(ctx context.Context, subject string) (*Entry, bool, error) {
	vals, err := s.client.MGet(ctx, s.entryKey(subject), s.attemptsKey(subject)).Result()
	if err != nil {
		return nil, false, err
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, false, nil
	}
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, false, err
	}
	if counter, ok := vals[1].(string); ok {
		if attempts, err := strconv.Atoi(counter); err == nil {
			entry.Attempts = attempts
		}
	}
	return &entry, true, nil
}

func (s *RedisStore) IncrementAttempts(ctx context.Context, subject string) (int, error) {
	n, err := incrementIfPresent.Run(ctx, s.client, []string{s.attemptsKey(subject)}).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (s *RedisStore) Delete(ctx context.Context, subject string) error {
	return s.client.Del(ctx, s.entryKey(subject), s.attemptsKey(subject)).Err()
}
