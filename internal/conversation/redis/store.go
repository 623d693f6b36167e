// Package redis stores conversation records in Redis so clarification
// state survives restarts and is shared between API instances.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/querypilot/querypilot/internal/conversation"
)

const keyPrefix = "querypilot:conversation:"

type Store struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl, now: time.Now}
}

// Open connects using a redis:// URL and pings the server.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func key(tenantID, conversationID string) string {
	return keyPrefix + tenantID + ":" + conversationID
}

func (s *Store) Get(ctx context.Context, tenantID, conversationID string) (conversation.Record, error) {
	if err := conversation.ValidateKey(tenantID, conversationID); err != nil {
		return conversation.Record{}, err
	}
	data, err := s.client.Get(ctx, key(tenantID, conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return conversation.Record{}, conversation.ErrNotFound
	}
	if err != nil {
		return conversation.Record{}, fmt.Errorf("redis get conversation: %w", err)
	}
	var record conversation.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return conversation.Record{}, fmt.Errorf("decode conversation: %w", err)
	}
	return record, nil
}

func (s *Store) Save(ctx context.Context, record conversation.Record) error {
	if err := conversation.ValidateKey(record.TenantID, record.ConversationID); err != nil {
		return err
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = s.now().UTC()
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	if err := s.client.Set(ctx, key(record.TenantID, record.ConversationID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set conversation: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, tenantID, conversationID string) error {
	if err := conversation.ValidateKey(tenantID, conversationID); err != nil {
		return err
	}
	deleted, err := s.client.Del(ctx, key(tenantID, conversationID)).Result()
	if err != nil {
		return fmt.Errorf("redis delete conversation: %w", err)
	}
	if deleted == 0 {
		return conversation.ErrNotFound
	}
	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
