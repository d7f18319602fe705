package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rahul/toolflow/internal/history"
	"github.com/rahul/toolflow/internal/resolver"
	"github.com/redis/go-redis/v9"
)

const (
	redisPrefix = "toolflow:"
	// maxMessagesPerChat bounds each chat's message list.
	maxMessagesPerChat = 500
)

// RedisStore keeps messages in one list per chat and each snapshot as a
// single JSON value.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}
	return NewRedisStoreFromClient(redis.NewClient(opts)), nil
}

func NewRedisStoreFromClient(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func messagesKey(chatID string) string { return redisPrefix + "messages:" + chatID }

func (s *RedisStore) AddMessage(ctx context.Context, chatID, role, content string) error {
	data, err := json.Marshal(Message{Role: role, Content: content, Timestamp: time.Now().UTC()})
	if err != nil {
		return err
	}
	key := messagesKey(chatID)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -maxMessagesPerChat, -1)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetHistory(ctx context.Context, chatID string, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	raw, err := s.rdb.LRange(ctx, messagesKey(chatID), int64(-limit), -1).Result()
	if err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(raw))
	for _, r := range raw {
		var m Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (s *RedisStore) SaveExecutions(ctx context.Context, records []history.Record) error {
	return s.saveJSON(ctx, redisPrefix+"executions", records)
}

func (s *RedisStore) LoadExecutions(ctx context.Context) ([]history.Record, error) {
	var out []history.Record
	err := s.loadJSON(ctx, redisPrefix+"executions", &out)
	return out, err
}

func (s *RedisStore) SaveMappings(ctx context.Context, mappings []resolver.Mapping) error {
	return s.saveJSON(ctx, redisPrefix+"mappings", mappings)
}

func (s *RedisStore) LoadMappings(ctx context.Context) ([]resolver.Mapping, error) {
	var out []resolver.Mapping
	err := s.loadJSON(ctx, redisPrefix+"mappings", &out)
	return out, err
}

func (s *RedisStore) saveJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, data, 0).Err()
}

// loadJSON leaves out untouched when the key does not exist.
func (s *RedisStore) loadJSON(ctx context.Context, key string, out any) error {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
