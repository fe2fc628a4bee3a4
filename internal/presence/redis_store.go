package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore mirrors connection and presence state into Redis so any
// instance can answer presence queries for users connected elsewhere.
// Keys:
// - <prefix>:conn:<userID>: set of connection ids
// - <prefix>:presence:<userID> -> json {online,last_seen}
type RedisStore struct {
	client *redis.Client
	prefix string
}

type presenceDoc struct {
	Online   bool  `json:"online"`
	LastSeen int64 `json:"last_seen"`
}

func NewRedisStore(r *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: r, prefix: prefix}
}

func (s *RedisStore) connKey(userID string) string {
	return fmt.Sprintf("%s:conn:%s", s.prefix, userID)
}

func (s *RedisStore) presenceKey(userID string) string {
	return fmt.Sprintf("%s:presence:%s", s.prefix, userID)
}

func (s *RedisStore) AddConnection(ctx context.Context, userID, connID string, ttl time.Duration) error {
	if err := s.client.SAdd(ctx, s.connKey(userID), connID).Err(); err != nil {
		return err
	}
	_ = s.client.Expire(ctx, s.connKey(userID), ttl).Err()
	b, _ := json.Marshal(presenceDoc{Online: true, LastSeen: time.Now().Unix()})
	return s.client.Set(ctx, s.presenceKey(userID), b, ttl).Err()
}

func (s *RedisStore) RemoveConnection(ctx context.Context, userID, connID string, lastSeen time.Time) error {
	key := s.connKey(userID)
	if err := s.client.SRem(ctx, key, connID).Err(); err != nil {
		return err
	}
	cnt, _ := s.client.SCard(ctx, key).Result()
	if cnt == 0 {
		b, _ := json.Marshal(presenceDoc{Online: false, LastSeen: lastSeen.Unix()})
		return s.client.Set(ctx, s.presenceKey(userID), b, 0).Err()
	}
	return nil
}

func (s *RedisStore) GetPresence(ctx context.Context, userID string) (online bool, lastSeen time.Time, err error) {
	b, err := s.client.Get(ctx, s.presenceKey(userID)).Bytes()
	if err != nil {
		return false, time.Time{}, err
	}
	var doc presenceDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return false, time.Time{}, err
	}
	return doc.Online, time.Unix(doc.LastSeen, 0).UTC(), nil
}
