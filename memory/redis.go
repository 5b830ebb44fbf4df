package memory

import (
	"context"
	"time"

	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/bigf625oot/Tiga-sub000/utils/json"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "tiga:session:"

// Redis keeps each session as a list of JSON encoded messages.
type Redis struct {
	client *redis.Client
	window int64
	ttl    time.Duration
}

var _ rag.MessageStore = (*Redis)(nil)

type RedisOption func(*Redis)

// WithRedisWindow trims each session list to its last n messages.
func WithRedisWindow(n int) RedisOption {
	return func(r *Redis) {
		r.window = int64(n)
	}
}

func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		r.ttl = ttl
	}
}

func NewRedis(ctx context.Context, addr, password string, db int, opts ...RedisOption) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, rag.NewError(rag.ErrStorageUnavailable, err, "redis ping")
	}
	r := &Redis{client: client}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Redis) Append(ctx context.Context, msg *rag.ChatMessage) error {
	m := *msg
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().Unix()
	}
	raw, err := json.Marshal(&m)
	if err != nil {
		return errors.Wrap(err, "encode message")
	}
	key := sessionKeyPrefix + m.SessionId
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, raw)
	if r.window > 0 {
		pipe.LTrim(ctx, key, -r.window, -1)
	}
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return rag.NewError(rag.ErrStorageUnavailable, err, "redis append")
	}
	return nil
}

func (r *Redis) History(ctx context.Context, sessionId string, limit int) ([]*rag.ChatMessage, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raws, err := r.client.LRange(ctx, sessionKeyPrefix+sessionId, start, -1).Result()
	if err != nil {
		return nil, rag.NewError(rag.ErrStorageUnavailable, err, "redis history")
	}
	out := make([]*rag.ChatMessage, 0, len(raws))
	for _, raw := range raws {
		var m rag.ChatMessage
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			continue
		}
		out = append(out, &m)
	}
	return out, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
