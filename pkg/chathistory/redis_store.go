package chathistory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "pdfchat:history"

// RedisStore keeps every session of an owner as a field of one hash.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client. An empty prefix selects
// "pdfchat:history".
func NewRedisStore(client redis.UniversalClient, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("chat history requires a redis client")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) key(owner string) string {
	return s.prefix + ":" + owner
}

func (s *RedisStore) List(ctx context.Context, owner string) ([]string, error) {
	if err := validKey(owner); err != nil {
		return nil, err
	}
	titles, err := s.client.HKeys(ctx, s.key(owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("list chat history: %w", err)
	}
	sort.Strings(titles)
	return titles, nil
}

func (s *RedisStore) Load(ctx context.Context, owner, title string) (json.RawMessage, error) {
	if err := validKey(owner, title); err != nil {
		return nil, err
	}
	val, err := s.client.HGet(ctx, s.key(owner), title).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}
	return val, nil
}

func (s *RedisStore) Save(ctx context.Context, owner, title string, data json.RawMessage) error {
	if err := validKey(owner, title); err != nil {
		return err
	}
	if err := validData(data); err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.key(owner), title, []byte(data)).Err(); err != nil {
		return fmt.Errorf("save chat history: %w", err)
	}
	return nil
}

// Clear overwrites an existing field only.
func (s *RedisStore) Clear(ctx context.Context, owner, title string) error {
	if err := validKey(owner, title); err != nil {
		return err
	}
	ok, err := s.client.HExists(ctx, s.key(owner), title).Result()
	if err != nil {
		return fmt.Errorf("clear chat history: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	if err := s.client.HSet(ctx, s.key(owner), title, []byte(cleared)).Err(); err != nil {
		return fmt.Errorf("clear chat history: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, owner, title string) error {
	if err := validKey(owner, title); err != nil {
		return err
	}
	n, err := s.client.HDel(ctx, s.key(owner), title).Result()
	if err != nil {
		return fmt.Errorf("delete chat history: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
